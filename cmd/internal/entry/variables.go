package entry

import (
	"github.com/OctopusSolutionsEngineering/OctopusFleet/cmd/internal/config"
	"github.com/OctopusSolutionsEngineering/OctopusFleet/cmd/internal/environment"
	"github.com/OctopusSolutionsEngineering/OctopusFleet/cmd/internal/strutil"
)

const (
	AzureCredentialsSecret    = "AZURE_CREDENTIALS"
	AzureClientIdSecret       = "AZURE_CLIENT_ID"
	AzureClientSecretSecret   = "AZURE_CLIENT_SECRET"
	AzureTenantIdSecret       = "AZURE_TENANT_ID"
	AzureSubscriptionIdSecret = "AZURE_SUBSCRIPTION_ID"

	EnableCloudShellVariable = "ENABLE_CLOUDSHELL"
	EnableHubVariable        = "ENABLE_HUB"
	EnableBasicAuthVariable  = "ENABLE_BASIC_AUTH"
	ProductionVariable       = "PRODUCTION"
	BackendConfigVariable    = "TF_BACKEND_CONFIG"

	ContributorRole                = "Contributor"
	StorageBlobDataContributorRole = "Storage Blob Data Contributor"
)

// azureCredentialSecrets lists AZURE_CREDENTIALS first, because its presence marks the
// credentials as complete.
var azureCredentialSecrets = []string{
	AzureCredentialsSecret,
	AzureClientIdSecret,
	AzureClientSecretSecret,
	AzureTenantIdSecret,
	AzureSubscriptionIdSecret,
}

// azureCredentials is the JSON read by the creds input of the azure/login action.
type azureCredentials struct {
	ClientId       string `json:"clientId"`
	ClientSecret   string `json:"clientSecret"`
	SubscriptionId string `json:"subscriptionId"`
	TenantId       string `json:"tenantId"`
}

type namedValue struct {
	Name  string
	Value string
}

// sharedVariables are written to every repository that receives the cloud credentials.
func sharedVariables(configuration config.Configuration, env environment.Environment) []namedValue {
	return []namedValue{
		{"PROJECT_NAME", env.ProjectName},
		{"DNS_ZONE", env.DnsZone},
		{"LOCATION", configuration.Location},
		{"RESOURCE_GROUP", env.ResourceGroupName},
		{"STORAGE_ACCOUNT", env.StorageAccountName},
		{"STORAGE_CONTAINER", env.StorageContainerName},
		{"LANDING_PAGE_FQDN", env.Fqdns.LandingPage},
		{"DOCS_FQDN", env.Fqdns.Docs},
		{"HUB_FQDN", env.Fqdns.Hub},
		{"CLOUDSHELL_FQDN", env.Fqdns.CloudShell},
		{"DASHBOARD_FQDN", env.Fqdns.Dashboard},
		{"CERTIFICATE_ENDPOINT", string(env.CertificateEndpoint)},
		{"DOCS_BUILDER_IMAGE", env.DocsBuilderImage},
		{config.DeployedKey, strutil.FormatBool(configuration.Deployed)},
	}
}
