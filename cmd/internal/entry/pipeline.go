package entry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/OctopusSolutionsEngineering/OctopusFleet/cmd/internal/args"
	"github.com/OctopusSolutionsEngineering/OctopusFleet/cmd/internal/client"
	"github.com/OctopusSolutionsEngineering/OctopusFleet/cmd/internal/cloud"
	"github.com/OctopusSolutionsEngineering/OctopusFleet/cmd/internal/config"
	"github.com/OctopusSolutionsEngineering/OctopusFleet/cmd/internal/credentials"
	"github.com/OctopusSolutionsEngineering/OctopusFleet/cmd/internal/environment"
	"github.com/OctopusSolutionsEngineering/OctopusFleet/cmd/internal/executor"
	"github.com/OctopusSolutionsEngineering/OctopusFleet/cmd/internal/faults"
	"github.com/OctopusSolutionsEngineering/OctopusFleet/cmd/internal/forks"
	"github.com/OctopusSolutionsEngineering/OctopusFleet/cmd/internal/hcl"
	"github.com/OctopusSolutionsEngineering/OctopusFleet/cmd/internal/keys"
	"github.com/OctopusSolutionsEngineering/OctopusFleet/cmd/internal/kvstore"
	"github.com/OctopusSolutionsEngineering/OctopusFleet/cmd/internal/output"
	"github.com/OctopusSolutionsEngineering/OctopusFleet/cmd/internal/prompt"
	"github.com/OctopusSolutionsEngineering/OctopusFleet/cmd/internal/repos"
	"github.com/OctopusSolutionsEngineering/OctopusFleet/cmd/internal/retrier"
	"github.com/OctopusSolutionsEngineering/OctopusFleet/cmd/internal/steps"
	"github.com/OctopusSolutionsEngineering/OctopusFleet/cmd/internal/strutil"
	"go.uber.org/zap"
	"time"
)

// CloudConnector is the cloud API plus the login session it runs under.
type CloudConnector interface {
	cloud.Api
	Connect(ctx context.Context) (cloud.Account, error)
}

type featureFlags struct {
	CloudShell bool
	Hub        bool
	BasicAuth  bool
}

// Pipeline holds everything the steps of a command share. Fields set by a step are only
// read by the steps after it.
type Pipeline struct {
	Arguments     args.Arguments
	Configuration config.Configuration
	Environment   environment.Environment
	Sets          repos.Sets
	Prompter      prompt.Prompter
	GitHubFactory func(ctx context.Context) (client.GitHubClient, error)
	Cloud         CloudConnector
	// Reconciler is built from Cloud when it is nil.
	Reconciler *cloud.Reconciler
	KeyStore   keys.KeyStore
	IpLookup   credentials.IpLookup
	Executor   executor.Executor
	// Policy overrides the retry policy of every GitHub call when Attempts is not zero.
	Policy retrier.Policy

	github   client.GitHubClient
	fleet    kvstore.Fleet
	trigger  *steps.Trigger
	account  cloud.Account
	identity cloud.ServiceIdentity
	flags    featureFlags
}

func NewPipeline(arguments args.Arguments, configuration config.Configuration, env environment.Environment, prompter prompt.Prompter) *Pipeline {
	return &Pipeline{
		Arguments:     arguments,
		Configuration: configuration,
		Environment:   env,
		Sets:          repos.Classify(configuration),
		Prompter:      prompter,
		Executor:      executor.New(arguments.Parallelism),
		trigger:       steps.NewTrigger(nil, prompter, env.Organization, configuration.InfrastructureRepo),
		flags: featureFlags{
			CloudShell: configuration.EnableCloudShell,
			Hub:        true,
			BasicAuth:  true,
		},
	}
}

// Run executes the steps of the selected action.
func (p *Pipeline) Run(ctx context.Context) error {
	action := p.Arguments.Action

	if action == args.ActionDestroy {
		confirmed, err := p.Prompter.Confirm("Delete the resource group "+p.Environment.ResourceGroupName+
			" and the app registrations of "+p.Environment.ProjectName+"? This can not be undone", false)
		if err != nil {
			return err
		}

		if !confirmed {
			zap.L().Info("Nothing was deleted")
			return nil
		}
	}

	sequencer := steps.Sequencer{}
	if triggersDeployment(action) {
		sequencer.Trigger = p.trigger
	}

	outcome, err := sequencer.Run(ctx, p.Steps(action))

	zap.L().Info("Finished "+string(action),
		zap.Strings("completed", outcome.Completed),
		zap.Int("failed", len(outcome.Failures)),
		zap.Bool("changed", outcome.Changed),
		zap.Bool("triggered", outcome.Triggered))

	return err
}

func triggersDeployment(action args.Action) bool {
	switch action {
	case args.ActionDestroy, args.ActionSyncForks, args.ActionCreateAzureResources:
		return false
	default:
		return true
	}
}

// Steps returns the ordered steps of an action.
func (p *Pipeline) Steps(action args.Action) []steps.Step {
	github := steps.Step{Name: "authenticate with GitHub", Prerequisite: true, Run: p.authenticateGitHub}
	azure := steps.Step{Name: "authenticate with Azure", Prerequisite: true, Run: p.authenticateAzure}
	resources := steps.Step{Name: "create Azure resources", Prerequisite: true, Run: p.createAzureResources}
	backendFiles := steps.Step{Name: "write Terraform backend files", Run: p.writeBackendFiles}
	enabled := true

	switch action {
	case args.ActionDestroy:
		return []steps.Step{
			github,
			azure,
			{Name: "back up deploy keys", Prerequisite: true, Run: p.backupKeys},
			{Name: "delete Azure resources", Prerequisite: true, Run: p.teardown},
			{Name: "delete Azure credentials", Run: p.deleteAzureCredentials},
			{Name: "delete local deploy keys", Run: p.removeKeys},
		}
	case args.ActionCreateAzureResources:
		return []steps.Step{azure, resources, backendFiles}
	case args.ActionSyncForks:
		return []steps.Step{github, {Name: "sync forks", Run: p.syncForks}}
	case args.ActionDeployKeys:
		return []steps.Step{github, {Name: "distribute deploy keys", Run: p.deployKeys(false)}}
	case args.ActionHtpasswd:
		return []steps.Step{github, {Name: "set basic auth credentials", Run: p.htpasswd(&enabled)}}
	case args.ActionManagementIp:
		return []steps.Step{github, {Name: "set management IP", Run: p.managementIp}}
	case args.ActionHubPassword:
		return []steps.Step{github, {Name: "set hub password", Run: p.hubPassword(&enabled)}}
	case args.ActionCloudShellSecrets:
		return []steps.Step{github, {Name: "set cloud shell secrets", Run: p.cloudShellSecrets(&enabled)}}
	default:
		return []steps.Step{
			github,
			azure,
			resources,
			{Name: "create service principal", Prerequisite: true, Run: p.ensureServiceIdentity},
			{Name: "distribute Azure credentials", Run: p.distributeAzureCredentials},
			{Name: "distribute deploy keys", Run: p.deployKeys(true)},
			{Name: "set variables", Run: p.setVariables},
			backendFiles,
			{Name: "set feature flags", Run: p.setFeatureFlags},
			{Name: "set production flag", Run: p.setProductionFlag},
			{Name: "set basic auth credentials", Run: p.htpasswd(&p.flags.BasicAuth)},
			{Name: "set management IP", Run: p.managementIp},
			{Name: "set hub password", Run: p.hubPassword(&p.flags.Hub)},
			{Name: "set cloud shell secrets", Run: p.cloudShellSecrets(&p.flags.CloudShell)},
			{Name: "create hub login application", Run: p.hubLoginApp(&p.flags.Hub)},
		}
	}
}

func (p *Pipeline) githubPolicy(policy retrier.Policy) retrier.Policy {
	if p.Policy.Attempts != 0 {
		policy = p.Policy
	}
	policy.Retryable = client.IsRetryable
	return policy
}

func (p *Pipeline) executor() executor.Executor {
	if p.Executor == nil {
		return executor.Sequential{}
	}
	return p.Executor
}

func (p *Pipeline) authenticateGitHub(ctx context.Context) (bool, error) {
	githubClient, err := p.GitHubFactory(ctx)
	if err != nil {
		return false, err
	}

	login, err := retrier.DoWithData(ctx, p.githubPolicy(retrier.ExistencePolicy), "read the authenticated GitHub user", func() (string, error) {
		return githubClient.AuthenticatedLogin(ctx)
	})
	if err != nil {
		if client.IsUnauthorized(err) {
			return false, &faults.AuthenticationError{Platform: "GitHub", Err: err}
		}
		return false, err
	}

	zap.L().Info("Authenticated with GitHub as " + login)

	p.github = githubClient
	p.fleet = kvstore.NewFleet(githubClient, p.Environment.Organization, p.executor())
	p.fleet.Policy = p.Policy
	p.trigger.Client = githubClient
	if p.Policy.Attempts != 0 {
		p.trigger.Policy = p.Policy
	}

	return false, nil
}

func (p *Pipeline) authenticateAzure(ctx context.Context) (bool, error) {
	account, err := p.Cloud.Connect(ctx)
	if err != nil {
		return false, err
	}

	useAccount, err := p.Prompter.Confirm(fmt.Sprintf("Use the Azure subscription %s (%s)?", account.Name, account.SubscriptionId), true)
	if err != nil {
		return false, err
	}

	if !useAccount {
		if account, err = p.chooseSubscription(ctx, account); err != nil {
			return false, err
		}
	}

	zap.L().Info("Using Azure subscription "+account.Name,
		zap.String("subscriptionId", account.SubscriptionId),
		zap.String("user", account.User))

	p.account = account
	if p.Reconciler == nil {
		p.Reconciler = cloud.NewReconciler(p.Cloud)
	}

	return false, nil
}

func (p *Pipeline) chooseSubscription(ctx context.Context, rejected cloud.Account) (cloud.Account, error) {
	accounts, err := p.Cloud.ListAccounts(ctx)
	if err != nil {
		return cloud.Account{}, err
	}

	for _, account := range accounts {
		if account.SubscriptionId == rejected.SubscriptionId {
			continue
		}

		useAccount, err := p.Prompter.Confirm(fmt.Sprintf("Use the Azure subscription %s (%s)?", account.Name, account.SubscriptionId), false)
		if err != nil {
			return cloud.Account{}, err
		}

		if !useAccount {
			continue
		}

		if err := p.Cloud.SetActiveAccount(ctx, account.SubscriptionId); err != nil {
			return cloud.Account{}, err
		}

		return p.Cloud.Connect(ctx)
	}

	return cloud.Account{}, &faults.AuthenticationError{Platform: "Azure", Err: errors.New("no subscription was selected")}
}

func (p *Pipeline) tags() map[string]string {
	return map[string]string{
		"project":    p.Environment.ProjectName,
		"owner":      p.Environment.Organization,
		"managed-by": "octofleet",
	}
}

func (p *Pipeline) createAzureResources(ctx context.Context) (bool, error) {
	env := p.Environment
	tags := p.tags()

	groupChanged, err := p.Reconciler.EnsureResourceGroup(ctx, env.ResourceGroupName, p.Configuration.Location, tags)
	if err != nil {
		return groupChanged, err
	}

	accountChanged, err := p.Reconciler.EnsureStorageAccount(ctx, env.ResourceGroupName, env.StorageAccountName, p.Configuration.Location, tags)
	if err != nil {
		return groupChanged || accountChanged, err
	}

	containerChanged, err := p.Reconciler.EnsureStorageContainer(ctx, env.ResourceGroupName, env.StorageAccountName, env.StorageContainerName,
		map[string]string{"project": env.ProjectName})

	return groupChanged || accountChanged || containerChanged, err
}

func (p *Pipeline) writeBackendFiles(ctx context.Context) (bool, error) {
	if p.Arguments.Destination == "" && !p.Arguments.Console {
		return false, nil
	}

	return false, output.WriteFiles(hcl.BackendFiles(p.Environment), p.Arguments.Destination, p.Arguments.Console)
}

// ensureServiceIdentity creates the service principal and its role assignments. When every
// credential target already holds the credentials and the principal still exists, only the
// role assignments are checked.
func (p *Pipeline) ensureServiceIdentity(ctx context.Context) (bool, error) {
	env := p.Environment

	distributed, err := p.fleet.SecretExistsAll(ctx, p.Sets.CredentialTargets, AzureCredentialsSecret)
	if err != nil {
		return false, err
	}

	if distributed {
		existing, found, err := p.Reconciler.FindServiceIdentity(ctx, env.ServicePrincipalName)
		if err != nil {
			return false, err
		}

		if found {
			zap.L().Info("Every repository holds " + AzureCredentialsSecret + ", reusing the existing service principal")
			return p.ensureRoleBindings(ctx, existing.ObjectId)
		}

		zap.L().Warn("Every repository holds "+AzureCredentialsSecret+" but the service principal no longer exists, recreating it",
			zap.String("servicePrincipal", env.ServicePrincipalName))
	}

	identity, err := p.Reconciler.EnsureServiceIdentity(ctx, env.ServicePrincipalName)
	if err != nil {
		return false, err
	}

	p.identity = identity

	_, err = p.ensureRoleBindings(ctx, identity.ObjectId)
	return true, err
}

func (p *Pipeline) ensureRoleBindings(ctx context.Context, objectId string) (bool, error) {
	env := p.Environment
	bindings := []struct {
		role  string
		scope string
	}{
		{ContributorRole, cloud.SubscriptionScope(p.account.SubscriptionId)},
		{StorageBlobDataContributorRole, cloud.StorageAccountScope(p.account.SubscriptionId, env.ResourceGroupName, env.StorageAccountName)},
	}

	changed := false
	for _, binding := range bindings {
		created, err := p.Reconciler.EnsureRoleBinding(ctx, objectId, binding.role, binding.scope)
		changed = changed || created
		if err != nil {
			return changed, err
		}
	}

	return changed, nil
}

// distributeAzureCredentials writes the credentials of the new service principal. AZURE_CREDENTIALS
// is written last, because its presence on every target means the credentials are complete.
func (p *Pipeline) distributeAzureCredentials(ctx context.Context) (bool, error) {
	if p.identity.ClientId == "" {
		return false, nil
	}

	credentialsJson, err := json.Marshal(azureCredentials{
		ClientId:       p.identity.ClientId,
		ClientSecret:   p.identity.ClientSecret,
		SubscriptionId: p.account.SubscriptionId,
		TenantId:       p.identity.TenantId,
	})
	if err != nil {
		return false, err
	}

	secrets := []namedValue{
		{AzureClientIdSecret, p.identity.ClientId},
		{AzureClientSecretSecret, p.identity.ClientSecret},
		{AzureTenantIdSecret, p.identity.TenantId},
		{AzureSubscriptionIdSecret, p.account.SubscriptionId},
		{AzureCredentialsSecret, string(credentialsJson)},
	}

	changed := false
	var errs error

	for _, secret := range secrets {
		result, err := p.fleet.SetSecretAll(ctx, p.Sets.CredentialTargets, secret.Name, secret.Value)
		changed = changed || result.Succeeded > 0
		errs = errors.Join(errs, err)
	}

	return changed, errs
}

func (p *Pipeline) deployKeys(gated bool) func(ctx context.Context) (bool, error) {
	return func(ctx context.Context) (bool, error) {
		targets := p.Sets.DeployKeyTargets

		if gated {
			confirmed, err := p.Prompter.Confirm(fmt.Sprintf("Rotate the deploy keys of %v and save the private keys in %s?",
				targets, p.Configuration.InfrastructureRepo), true)
			if err != nil {
				return false, err
			}

			if !confirmed {
				zap.L().Info("Skipping the deploy keys")
				return false, nil
			}
		}

		manager := keys.NewManager(p.github, p.Environment.Organization, p.KeyStore, p.Configuration.InfrastructureRepo, p.executor())
		if p.Arguments.FingerprintKeys {
			manager.Strategy = keys.FingerprintReplacement{}
		}
		if p.Policy.Attempts != 0 {
			manager.Policy = p.Policy
		}

		result, err := manager.EnsureDeployKeys(ctx, targets, keys.DefaultLabel)
		return result.Changed > 0, err
	}
}

func (p *Pipeline) setVariables(ctx context.Context) (bool, error) {
	changed := false
	var errs error

	for _, variable := range sharedVariables(p.Configuration, p.Environment) {
		result, err := p.fleet.SetVariableAll(ctx, p.Sets.CredentialTargets, variable.Name, variable.Value)
		changed = changed || result.Changed > 0
		errs = errors.Join(errs, err)
	}

	backendChanged, err := p.fleet.Store(p.Configuration.InfrastructureRepo).SetVariable(ctx, BackendConfigVariable, hcl.BackendConfig(p.Environment))

	return changed || backendChanged, errors.Join(errs, err)
}

// setFeatureFlags asks for each flag, defaulting to the value saved by the previous run.
func (p *Pipeline) setFeatureFlags(ctx context.Context) (bool, error) {
	saved := p.fleet.Store(p.Configuration.InfrastructureRepo)

	flags := []struct {
		name     string
		question string
		value    *bool
	}{
		{EnableCloudShellVariable, "Enable the cloud shell?", &p.flags.CloudShell},
		{EnableHubVariable, "Enable the hub?", &p.flags.Hub},
		{EnableBasicAuthVariable, "Protect the sites with basic auth?", &p.flags.BasicAuth},
	}

	changed := false
	var errs error

	for _, flag := range flags {
		current, _ := saved.GetVariable(ctx, flag.name)

		enabled, err := p.Prompter.Confirm(flag.question, strutil.ParseBool(current, *flag.value))
		if err != nil {
			return changed, errors.Join(errs, err)
		}
		*flag.value = enabled

		result, err := p.fleet.SetVariableAll(ctx, p.Sets.CredentialTargets, flag.name, strutil.FormatBool(enabled))
		changed = changed || result.Changed > 0
		errs = errors.Join(errs, err)
	}

	return changed, errs
}

// setProductionFlag keeps the two repositories that pick the certificate issuer in agreement.
func (p *Pipeline) setProductionFlag(ctx context.Context) (bool, error) {
	targets := []string{p.Configuration.InfrastructureRepo, p.Configuration.ManifestsInfrastructureRepo}

	result, err := p.fleet.SetVariableAll(ctx, targets, ProductionVariable, strutil.FormatBool(p.Environment.IsProduction()))
	return result.Changed > 0, err
}

func (p *Pipeline) credentials() credentials.Credentials {
	return credentials.Credentials{
		Applications:   p.fleet.Store(p.Configuration.ManifestsApplicationsRepo),
		Infrastructure: p.fleet.Store(p.Configuration.InfrastructureRepo),
		Prompter:       p.Prompter,
		Environment:    p.Environment,
		Reconciler:     p.Reconciler,
		IpLookup:       p.IpLookup,
		ManagementIp:   p.Arguments.ManagementIpAddress,
	}
}

// whenEnabled skips the step when the feature it configures is disabled.
func whenEnabled(feature string, enabled *bool, run func(ctx context.Context) (bool, error)) func(ctx context.Context) (bool, error) {
	return func(ctx context.Context) (bool, error) {
		if !*enabled {
			zap.L().Info(feature + " is disabled, skipping")
			return false, nil
		}
		return run(ctx)
	}
}

func (p *Pipeline) htpasswd(enabled *bool) func(ctx context.Context) (bool, error) {
	return whenEnabled("Basic auth", enabled, func(ctx context.Context) (bool, error) {
		return p.credentials().Htpasswd(ctx)
	})
}

func (p *Pipeline) managementIp(ctx context.Context) (bool, error) {
	return p.credentials().ManagementIpAddress(ctx)
}

func (p *Pipeline) hubPassword(enabled *bool) func(ctx context.Context) (bool, error) {
	return whenEnabled("The hub", enabled, func(ctx context.Context) (bool, error) {
		return p.credentials().HubPassword(ctx)
	})
}

func (p *Pipeline) cloudShellSecrets(enabled *bool) func(ctx context.Context) (bool, error) {
	return func(ctx context.Context) (bool, error) {
		return p.credentials().CloudShellSecrets(ctx, *enabled)
	}
}

func (p *Pipeline) hubLoginApp(enabled *bool) func(ctx context.Context) (bool, error) {
	return whenEnabled("The hub", enabled, func(ctx context.Context) (bool, error) {
		return p.credentials().HubLoginApp(ctx)
	})
}

func (p *Pipeline) syncForks(ctx context.Context) (bool, error) {
	syncer := forks.NewSyncer(p.github, p.Configuration.ProjectName, p.Environment.Organization)
	syncer.Executor = p.executor()
	if p.Policy.Attempts != 0 {
		syncer.Policy = p.Policy
	}

	result, err := syncer.Sync(ctx, p.Sets.All)
	return result.Changed > 0, err
}

func (p *Pipeline) backupDirectory() string {
	if p.Arguments.BackupDirectory != "" {
		return p.Arguments.BackupDirectory
	}
	return p.KeyStore.Dir + "-backup-" + time.Now().Format("20060102150405")
}

func (p *Pipeline) backupKeys(ctx context.Context) (bool, error) {
	dest := p.backupDirectory()
	if err := p.KeyStore.Backup(dest); err != nil {
		return false, fmt.Errorf("failed to back up the deploy keys to %s: %w", dest, err)
	}

	zap.L().Info("Backed up the deploy keys to " + dest)
	return false, nil
}

func (p *Pipeline) teardown(ctx context.Context) (bool, error) {
	env := p.Environment
	if err := p.Reconciler.Teardown(ctx, env.ResourceGroupName, env.ServicePrincipalName, env.HubApplicationName); err != nil {
		return false, err
	}
	return true, nil
}

// deleteAzureCredentials removes the credentials of the deleted service principal, so the next
// initialize creates a new one.
func (p *Pipeline) deleteAzureCredentials(ctx context.Context) (bool, error) {
	changed := false
	var errs error

	for _, name := range azureCredentialSecrets {
		result, err := p.fleet.DeleteSecretAll(ctx, p.Sets.CredentialTargets, name)
		changed = changed || result.Succeeded > 0
		errs = errors.Join(errs, err)
	}

	return changed, errs
}

func (p *Pipeline) removeKeys(ctx context.Context) (bool, error) {
	return false, p.KeyStore.Remove()
}
