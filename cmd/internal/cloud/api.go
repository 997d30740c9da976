package cloud

import (
	"context"
	"errors"
)

// ErrPrincipalNotReady is returned while a new principal is not yet visible to role assignments.
var ErrPrincipalNotReady = errors.New("the principal is not visible to the resource manager yet")

func IsPrincipalNotReady(err error) bool {
	return errors.Is(err, ErrPrincipalNotReady)
}

// Account is a subscription the logged in user has access to.
type Account struct {
	SubscriptionId string
	Name           string
	TenantId       string
	IsDefault      bool
	User           string
}

// ServiceIdentity is the credential material of a service principal. The secret is only
// returned when the credential is created or reset.
type ServiceIdentity struct {
	ClientId     string
	ClientSecret string
	TenantId     string
	// ObjectId identifies the service principal in role assignments.
	ObjectId    string
	DisplayName string
}

// Application is an app registration used as an OAuth login provider.
type Application struct {
	AppId    string
	ObjectId string
}

type AccountApi interface {
	GetAccount(ctx context.Context) (Account, error)
	ListAccounts(ctx context.Context) ([]Account, error)
	SetActiveAccount(ctx context.Context, subscriptionId string) error
}

type ResourceApi interface {
	GroupExists(ctx context.Context, name string) (bool, error)
	CreateGroup(ctx context.Context, name string, region string, tags map[string]string) error
	GetGroupTags(ctx context.Context, name string) (map[string]string, error)
	SetGroupTags(ctx context.Context, name string, tags map[string]string) error
	DeleteGroup(ctx context.Context, name string) error

	StorageAccountExists(ctx context.Context, group string, name string) (bool, error)
	CreateStorageAccount(ctx context.Context, group string, name string, region string, tags map[string]string) error
	GetStorageAccountTags(ctx context.Context, group string, name string) (map[string]string, error)
	SetStorageAccountTags(ctx context.Context, group string, name string, tags map[string]string) error

	ContainerExists(ctx context.Context, group string, account string, name string) (bool, error)
	CreateContainer(ctx context.Context, group string, account string, name string, metadata map[string]string) error
}

type IdentityApi interface {
	// CreateServicePrincipal creates the named service principal, or resets the credential of an existing one.
	CreateServicePrincipal(ctx context.Context, name string) (ServiceIdentity, error)
	ServicePrincipalObjectId(ctx context.Context, clientId string) (string, error)
	// FindServicePrincipal looks up a service principal by display name. The secret is never returned.
	FindServicePrincipal(ctx context.Context, name string) (ServiceIdentity, bool, error)
	DeleteServicePrincipal(ctx context.Context, name string) error

	RoleAssignmentExists(ctx context.Context, principalId string, roleName string, scope string) (bool, error)
	CreateRoleAssignment(ctx context.Context, principalId string, roleName string, scope string) error

	FindApp(ctx context.Context, name string) (Application, bool, error)
	CreateApp(ctx context.Context, name string, redirectUris []string) (Application, error)
	UpdateApp(ctx context.Context, appId string, redirectUris []string) error
	ResetAppCredential(ctx context.Context, appId string) (string, error)
	GrantConsent(ctx context.Context, appId string) error
}

// Api is everything the reconciler needs from the cloud provider.
type Api interface {
	AccountApi
	ResourceApi
	IdentityApi
}

func SubscriptionScope(subscriptionId string) string {
	return "/subscriptions/" + subscriptionId
}

func ResourceGroupScope(subscriptionId string, group string) string {
	return SubscriptionScope(subscriptionId) + "/resourceGroups/" + group
}

func StorageAccountScope(subscriptionId string, group string, account string) string {
	return ResourceGroupScope(subscriptionId, group) + "/providers/Microsoft.Storage/storageAccounts/" + account
}
