package cloud

import (
	"context"
	"fmt"
	"github.com/OctopusSolutionsEngineering/OctopusFleet/cmd/internal/faults"
	"github.com/OctopusSolutionsEngineering/OctopusFleet/cmd/internal/retrier"
	"go.uber.org/zap"
	"golang.org/x/exp/maps"
	"time"
)

// DefaultSettleDelay is the time a new storage account is given before anything depends on it.
const DefaultSettleDelay = 30 * time.Second

// Reconciler moves each cloud resource from absent to existing and tagged. Nothing is
// deleted except by Teardown.
type Reconciler struct {
	Api             Api
	SettleDelay     time.Duration
	ContainerPolicy retrier.Policy
	ExistencePolicy retrier.Policy
	// RoleAssignmentPolicy only retries ErrPrincipalNotReady.
	RoleAssignmentPolicy retrier.Policy
	// Sleep waits for the settle delay. It returns early with an error if the context is done.
	Sleep func(ctx context.Context, duration time.Duration) error
}

func NewReconciler(api Api) *Reconciler {
	return &Reconciler{
		Api:                  api,
		SettleDelay:          DefaultSettleDelay,
		ContainerPolicy:      retrier.ContainerPolicy,
		ExistencePolicy:      retrier.ExistencePolicy,
		RoleAssignmentPolicy: retrier.RoleAssignmentPolicy,
		Sleep:                sleep,
	}
}

func sleep(ctx context.Context, duration time.Duration) error {
	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// MergeTags returns the union of the existing and new tags, with the new values winning.
// The returned bool is true when the result differs from the existing tags.
func MergeTags(existing map[string]string, tags map[string]string) (map[string]string, bool) {
	merged := maps.Clone(existing)
	if merged == nil {
		merged = map[string]string{}
	}

	changed := false
	for key, value := range tags {
		if current, ok := merged[key]; !ok || current != value {
			merged[key] = value
			changed = true
		}
	}

	return merged, changed
}

func (r *Reconciler) exists(ctx context.Context, resource string, check func() (bool, error)) (bool, error) {
	exists, err := retrier.DoWithData(ctx, r.ExistencePolicy, "check "+resource, check)
	if err != nil {
		return false, fmt.Errorf("failed to check if %s exists: %w", resource, err)
	}
	return exists, nil
}

func (r *Reconciler) mergeTags(ctx context.Context, resource string, tags map[string]string,
	get func() (map[string]string, error), set func(map[string]string) error) (bool, error) {

	existing, err := retrier.DoWithData(ctx, r.ExistencePolicy, "get tags of "+resource, get)
	if err != nil {
		return false, fmt.Errorf("failed to read the tags of %s: %w", resource, err)
	}

	merged, changed := MergeTags(existing, tags)
	if !changed {
		zap.L().Debug("Tags are unchanged", zap.String("resource", resource))
		return false, nil
	}

	if err := set(merged); err != nil {
		return false, fmt.Errorf("failed to update the tags of %s: %w", resource, err)
	}

	zap.L().Info("Merged tags", zap.String("resource", resource))
	return true, nil
}

// EnsureResourceGroup creates the group if it is missing and merges the tags into it.
func (r *Reconciler) EnsureResourceGroup(ctx context.Context, name string, region string, tags map[string]string) (bool, error) {
	resource := "resource group " + name

	exists, err := r.exists(ctx, resource, func() (bool, error) {
		return r.Api.GroupExists(ctx, name)
	})
	if err != nil {
		return false, err
	}

	if !exists {
		if err := r.Api.CreateGroup(ctx, name, region, tags); err != nil {
			return false, fmt.Errorf("failed to create %s: %w", resource, err)
		}
		zap.L().Info("Created resource group", zap.String("name", name), zap.String("region", region))
		return true, nil
	}

	return r.mergeTags(ctx, resource, tags,
		func() (map[string]string, error) { return r.Api.GetGroupTags(ctx, name) },
		func(merged map[string]string) error { return r.Api.SetGroupTags(ctx, name, merged) })
}

// EnsureStorageAccount creates the account if it is missing and merges the tags into it.
// A new account is given the settle delay before this function returns.
func (r *Reconciler) EnsureStorageAccount(ctx context.Context, group string, name string, region string, tags map[string]string) (bool, error) {
	resource := "storage account " + name

	exists, err := r.exists(ctx, resource, func() (bool, error) {
		return r.Api.StorageAccountExists(ctx, group, name)
	})
	if err != nil {
		return false, err
	}

	if !exists {
		if err := r.Api.CreateStorageAccount(ctx, group, name, region, tags); err != nil {
			return false, fmt.Errorf("failed to create %s: %w", resource, err)
		}

		zap.L().Info("Created storage account, waiting for it to become available",
			zap.String("name", name),
			zap.Duration("delay", r.SettleDelay))

		if err := r.Sleep(ctx, r.SettleDelay); err != nil {
			return true, err
		}

		return true, nil
	}

	return r.mergeTags(ctx, resource, tags,
		func() (map[string]string, error) { return r.Api.GetStorageAccountTags(ctx, group, name) },
		func(merged map[string]string) error { return r.Api.SetStorageAccountTags(ctx, group, name, merged) })
}

// EnsureStorageContainer creates the container if it is missing. Creation is retried
// because a freshly created account often rejects the first attempts.
func (r *Reconciler) EnsureStorageContainer(ctx context.Context, group string, account string, name string, metadata map[string]string) (bool, error) {
	resource := "storage container " + name

	exists, err := r.exists(ctx, resource, func() (bool, error) {
		return r.Api.ContainerExists(ctx, group, account, name)
	})
	if err != nil {
		return false, err
	}

	if exists {
		return false, nil
	}

	err = r.ContainerPolicy.Do(ctx, "create "+resource, func() error {
		return r.Api.CreateContainer(ctx, group, account, name, metadata)
	})
	if err != nil {
		return false, fmt.Errorf("failed to create %s: %w", resource, err)
	}

	zap.L().Info("Created storage container", zap.String("account", account), zap.String("name", name))
	return true, nil
}

// EnsureServiceIdentity creates the named service principal, or resets the credential of
// an existing one. The secret in the result can not be read again and must be stored by the caller.
func (r *Reconciler) EnsureServiceIdentity(ctx context.Context, name string) (ServiceIdentity, error) {
	identity, err := r.Api.CreateServicePrincipal(ctx, name)
	if err != nil {
		return ServiceIdentity{}, fmt.Errorf("failed to create the service principal %s: %w", name, err)
	}

	if identity.ClientId == "" || identity.ClientSecret == "" {
		return ServiceIdentity{}, &faults.ResourceStateError{
			Resource: "service principal " + name,
			Reason:   "no client id or secret was returned",
		}
	}

	if identity.ObjectId == "" {
		objectId, err := retrier.DoWithData(ctx, r.ExistencePolicy, "find the object id of "+name, func() (string, error) {
			return r.Api.ServicePrincipalObjectId(ctx, identity.ClientId)
		})
		if err != nil {
			return ServiceIdentity{}, fmt.Errorf("failed to find the object id of the service principal %s: %w", name, err)
		}
		identity.ObjectId = objectId
	}

	zap.L().Info("Service principal is ready", zap.String("name", name), zap.String("clientId", identity.ClientId))
	return identity, nil
}

// FindServiceIdentity returns the named service principal without its secret.
func (r *Reconciler) FindServiceIdentity(ctx context.Context, name string) (ServiceIdentity, bool, error) {
	found, err := retrier.DoWithData(ctx, r.ExistencePolicy, "find service principal "+name, func() (identityResult, error) {
		identity, exists, err := r.Api.FindServicePrincipal(ctx, name)
		return identityResult{identity: identity, exists: exists}, err
	})
	if err != nil {
		return ServiceIdentity{}, false, fmt.Errorf("failed to check if the service principal %s exists: %w", name, err)
	}

	return found.identity, found.exists, nil
}

type identityResult struct {
	identity ServiceIdentity
	exists   bool
}

// EnsureRoleBinding grants the role to the principal at the scope, unless that exact
// assignment already exists.
func (r *Reconciler) EnsureRoleBinding(ctx context.Context, principalId string, roleName string, scope string) (bool, error) {
	resource := "role assignment " + roleName + " at " + scope

	exists, err := r.exists(ctx, resource, func() (bool, error) {
		return r.Api.RoleAssignmentExists(ctx, principalId, roleName, scope)
	})
	if err != nil {
		return false, err
	}

	if exists {
		return false, nil
	}

	policy := r.RoleAssignmentPolicy
	policy.Retryable = IsPrincipalNotReady

	err = policy.Do(ctx, "create "+resource, func() error {
		return r.Api.CreateRoleAssignment(ctx, principalId, roleName, scope)
	})
	if err != nil {
		return false, fmt.Errorf("failed to create %s: %w", resource, err)
	}

	zap.L().Info("Created role assignment", zap.String("role", roleName), zap.String("scope", scope))
	return true, nil
}

// EnsureLoginApplication creates or updates the named app registration so it accepts
// the redirect URIs, and grants admin consent to its permissions.
func (r *Reconciler) EnsureLoginApplication(ctx context.Context, name string, redirectUris []string) (Application, bool, error) {
	found, err := retrier.DoWithData(ctx, r.ExistencePolicy, "find application "+name, func() (findResult, error) {
		app, exists, err := r.Api.FindApp(ctx, name)
		return findResult{app: app, exists: exists}, err
	})
	if err != nil {
		return Application{}, false, fmt.Errorf("failed to check if the application %s exists: %w", name, err)
	}

	app := found.app
	created := false
	if !found.exists {
		app, err = r.Api.CreateApp(ctx, name, redirectUris)
		if err != nil {
			return Application{}, false, fmt.Errorf("failed to create the application %s: %w", name, err)
		}
		created = true
		zap.L().Info("Created application", zap.String("name", name), zap.String("appId", app.AppId))
	} else if err := r.Api.UpdateApp(ctx, app.AppId, redirectUris); err != nil {
		return Application{}, false, fmt.Errorf("failed to update the application %s: %w", name, err)
	}

	if err := r.Api.GrantConsent(ctx, app.AppId); err != nil {
		return Application{}, created, fmt.Errorf("failed to grant consent to the application %s: %w", name, err)
	}

	return app, created, nil
}

type findResult struct {
	app    Application
	exists bool
}

// Teardown deletes the resource group and the named app registrations along with their
// service principals. Missing resources are skipped.
func (r *Reconciler) Teardown(ctx context.Context, group string, applicationNames ...string) error {
	exists, err := r.exists(ctx, "resource group "+group, func() (bool, error) {
		return r.Api.GroupExists(ctx, group)
	})
	if err != nil {
		return err
	}

	if exists {
		if err := r.Api.DeleteGroup(ctx, group); err != nil {
			return fmt.Errorf("failed to delete the resource group %s: %w", group, err)
		}
		zap.L().Info("Deleted resource group", zap.String("name", group))
	} else {
		zap.L().Info("Resource group does not exist", zap.String("name", group))
	}

	for _, name := range applicationNames {
		if err := r.Api.DeleteServicePrincipal(ctx, name); err != nil {
			return fmt.Errorf("failed to delete the application %s: %w", name, err)
		}
		zap.L().Info("Deleted application", zap.String("name", name))
	}

	return nil
}
