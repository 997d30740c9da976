package azure

import (
	"context"
	"errors"
	"fmt"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/authorization/armauthorization/v2"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armresources"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/storage/armstorage"
	"github.com/OctopusSolutionsEngineering/OctopusFleet/cmd/internal/cloud"
	"github.com/OctopusSolutionsEngineering/OctopusFleet/cmd/internal/faults"
	"github.com/OctopusSolutionsEngineering/OctopusFleet/cmd/internal/hash"
	"github.com/OctopusSolutionsEngineering/OctopusFleet/cmd/internal/retrier"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"k8s.io/utils/ptr"
	"net/http"
	"strings"
	"time"
)

const principalNotFoundCode = "PrincipalNotFound"

// DefaultLookupTimeout bounds identity lookups against the management API.
const DefaultLookupTimeout = 30 * time.Second

// Client implements cloud.Api. Accounts, service principals and applications go through
// the Azure CLI, everything else through the resource manager SDK authenticated with the
// CLI session.
type Client struct {
	cli           CommandRunner
	LookupTimeout time.Duration

	subscriptionId  string
	credential      azcore.TokenCredential
	groups          *armresources.ResourceGroupsClient
	accounts        *armstorage.AccountsClient
	containers      *armstorage.BlobContainersClient
	roleAssignments *armauthorization.RoleAssignmentsClient
	roleDefinitions *armauthorization.RoleDefinitionsClient
}

var _ cloud.Api = (*Client)(nil)

func NewClient(cli CommandRunner) *Client {
	return &Client{
		cli:           cli,
		LookupTimeout: DefaultLookupTimeout,
	}
}

// Connect reads the active account and builds the resource manager clients for its subscription.
func (c *Client) Connect(ctx context.Context) (cloud.Account, error) {
	account, err := c.GetAccount(ctx)
	if err != nil {
		return cloud.Account{}, err
	}

	if err := c.useSubscription(account.SubscriptionId); err != nil {
		return cloud.Account{}, err
	}

	return account, nil
}

func (c *Client) useSubscription(subscriptionId string) error {
	credential, err := azidentity.NewAzureCLICredential(nil)
	if err != nil {
		return &faults.AuthenticationError{Platform: "Azure", Err: err}
	}

	groups, err := armresources.NewResourceGroupsClient(subscriptionId, credential, nil)
	if err != nil {
		return fmt.Errorf("failed to create new resource groups client: %w", err)
	}

	accounts, err := armstorage.NewAccountsClient(subscriptionId, credential, nil)
	if err != nil {
		return fmt.Errorf("failed to create new accounts client for storage: %w", err)
	}

	containers, err := armstorage.NewBlobContainersClient(subscriptionId, credential, nil)
	if err != nil {
		return fmt.Errorf("failed to create blob containers client: %w", err)
	}

	roleAssignments, err := armauthorization.NewRoleAssignmentsClient(subscriptionId, credential, nil)
	if err != nil {
		return fmt.Errorf("failed to create role assignments client: %w", err)
	}

	roleDefinitions, err := armauthorization.NewRoleDefinitionsClient(credential, nil)
	if err != nil {
		return fmt.Errorf("failed to create role definitions client: %w", err)
	}

	c.subscriptionId = subscriptionId
	c.credential = credential
	c.groups = groups
	c.accounts = accounts
	c.containers = containers
	c.roleAssignments = roleAssignments
	c.roleDefinitions = roleDefinitions

	return nil
}

func (c *Client) SubscriptionId() string {
	return c.subscriptionId
}

func (c *Client) connected() error {
	if c.groups == nil {
		return errors.New("the Azure client is not connected to a subscription")
	}
	return nil
}

// IsNotFound is true for a 404 response from the resource manager.
func IsNotFound(err error) bool {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode == http.StatusNotFound
	}
	return false
}

func toPointers(tags map[string]string) map[string]*string {
	result := map[string]*string{}
	for key, value := range tags {
		result[key] = ptr.To(value)
	}
	return result
}

func fromPointers(tags map[string]*string) map[string]string {
	result := map[string]string{}
	for key, value := range tags {
		result[key] = ptr.Deref(value, "")
	}
	return result
}

type cliAccount struct {
	Id        string `json:"id"`
	Name      string `json:"name"`
	TenantId  string `json:"tenantId"`
	IsDefault bool   `json:"isDefault"`
	User      struct {
		Name string `json:"name"`
	} `json:"user"`
}

func (a cliAccount) toAccount() cloud.Account {
	return cloud.Account{
		SubscriptionId: a.Id,
		Name:           a.Name,
		TenantId:       a.TenantId,
		IsDefault:      a.IsDefault,
		User:           a.User.Name,
	}
}

func (c *Client) GetAccount(ctx context.Context) (cloud.Account, error) {
	account, err := runJson[cliAccount](ctx, c.cli, "account", "show")
	if err != nil {
		if IsNotLoggedIn(err) {
			return cloud.Account{}, &faults.AuthenticationError{Platform: "Azure", Err: err}
		}
		return cloud.Account{}, err
	}

	if account.Id == "" {
		return cloud.Account{}, &faults.AuthenticationError{Platform: "Azure", Err: errors.New("no active subscription")}
	}

	return account.toAccount(), nil
}

func (c *Client) ListAccounts(ctx context.Context) ([]cloud.Account, error) {
	accounts, err := runJson[[]cliAccount](ctx, c.cli, "account", "list")
	if err != nil {
		return nil, err
	}

	return lo.Map(accounts, func(item cliAccount, index int) cloud.Account {
		return item.toAccount()
	}), nil
}

func (c *Client) SetActiveAccount(ctx context.Context, subscriptionId string) error {
	if _, err := c.cli.Run(ctx, "account", "set", "--subscription", subscriptionId); err != nil {
		return err
	}
	return c.useSubscription(subscriptionId)
}

func (c *Client) GroupExists(ctx context.Context, name string) (bool, error) {
	if err := c.connected(); err != nil {
		return false, err
	}

	response, err := c.groups.CheckExistence(ctx, name, nil)
	if err != nil {
		return false, err
	}

	return response.Success, nil
}

func (c *Client) CreateGroup(ctx context.Context, name string, region string, tags map[string]string) error {
	if err := c.connected(); err != nil {
		return err
	}

	_, err := c.groups.CreateOrUpdate(ctx, name, armresources.ResourceGroup{
		Location: ptr.To(region),
		Tags:     toPointers(tags),
	}, nil)
	return err
}

func (c *Client) GetGroupTags(ctx context.Context, name string) (map[string]string, error) {
	if err := c.connected(); err != nil {
		return nil, err
	}

	response, err := c.groups.Get(ctx, name, nil)
	if err != nil {
		return nil, err
	}

	return fromPointers(response.Tags), nil
}

func (c *Client) SetGroupTags(ctx context.Context, name string, tags map[string]string) error {
	if err := c.connected(); err != nil {
		return err
	}

	_, err := c.groups.Update(ctx, name, armresources.ResourceGroupPatchable{
		Tags: toPointers(tags),
	}, nil)
	return err
}

func (c *Client) DeleteGroup(ctx context.Context, name string) error {
	if err := c.connected(); err != nil {
		return err
	}

	poller, err := c.groups.BeginDelete(ctx, name, nil)
	if err != nil {
		return err
	}

	_, err = poller.PollUntilDone(ctx, nil)
	return err
}

func (c *Client) StorageAccountExists(ctx context.Context, group string, name string) (bool, error) {
	if err := c.connected(); err != nil {
		return false, err
	}

	_, err := c.accounts.GetProperties(ctx, group, name, nil)
	if IsNotFound(err) {
		return false, nil
	}

	if err != nil {
		return false, err
	}

	return true, nil
}

func (c *Client) CreateStorageAccount(ctx context.Context, group string, name string, region string, tags map[string]string) error {
	if err := c.connected(); err != nil {
		return err
	}

	poller, err := c.accounts.BeginCreate(ctx, group, name, armstorage.AccountCreateParameters{
		Kind:     ptr.To(armstorage.KindStorageV2),
		Location: ptr.To(region),
		SKU: &armstorage.SKU{
			Name: ptr.To(armstorage.SKUNameStandardLRS),
		},
		Tags: toPointers(tags),
		Properties: &armstorage.AccountPropertiesCreateParameters{
			AllowBlobPublicAccess: ptr.To(false),
			MinimumTLSVersion:     ptr.To(armstorage.MinimumTLSVersionTLS12),
		},
	}, nil)
	if err != nil {
		return err
	}

	_, err = poller.PollUntilDone(ctx, nil)
	return err
}

func (c *Client) GetStorageAccountTags(ctx context.Context, group string, name string) (map[string]string, error) {
	if err := c.connected(); err != nil {
		return nil, err
	}

	response, err := c.accounts.GetProperties(ctx, group, name, nil)
	if err != nil {
		return nil, err
	}

	return fromPointers(response.Tags), nil
}

func (c *Client) SetStorageAccountTags(ctx context.Context, group string, name string, tags map[string]string) error {
	if err := c.connected(); err != nil {
		return err
	}

	_, err := c.accounts.Update(ctx, group, name, armstorage.AccountUpdateParameters{
		Tags: toPointers(tags),
	}, nil)
	return err
}

func (c *Client) ContainerExists(ctx context.Context, group string, account string, name string) (bool, error) {
	if err := c.connected(); err != nil {
		return false, err
	}

	_, err := c.containers.Get(ctx, group, account, name, nil)
	if IsNotFound(err) {
		return false, nil
	}

	if err != nil {
		return false, err
	}

	return true, nil
}

func (c *Client) CreateContainer(ctx context.Context, group string, account string, name string, metadata map[string]string) error {
	if err := c.connected(); err != nil {
		return err
	}

	_, err := c.containers.Create(ctx, group, account, name, armstorage.BlobContainer{
		ContainerProperties: &armstorage.ContainerProperties{
			Metadata:     toPointers(metadata),
			PublicAccess: ptr.To(armstorage.PublicAccessNone),
		},
	}, nil)
	return classifyContainerError(err)
}

// classifyContainerError stops the retries for a request the storage account will never accept.
// Other failures are expected while a new account is still being provisioned.
func classifyContainerError(err error) error {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) && respErr.StatusCode == http.StatusBadRequest {
		return retrier.Permanent(err)
	}
	return err
}

func (c *Client) RoleAssignmentExists(ctx context.Context, principalId string, roleName string, scope string) (bool, error) {
	if err := c.connected(); err != nil {
		return false, err
	}

	roleDefinitionId, err := c.roleDefinitionId(ctx, roleName, scope)
	if err != nil {
		return false, err
	}

	lookupCtx, cancel := context.WithTimeout(ctx, c.LookupTimeout)
	defer cancel()

	pager := c.roleAssignments.NewListForScopePager(scope, &armauthorization.RoleAssignmentsClientListForScopeOptions{
		Filter: ptr.To("principalId eq '" + principalId + "'"),
	})

	for pager.More() {
		page, err := pager.NextPage(lookupCtx)
		if err != nil {
			return false, err
		}

		for _, assignment := range page.Value {
			if assignment.Properties == nil {
				continue
			}

			// Resource ids are case insensitive
			if strings.EqualFold(ptr.Deref(assignment.Properties.PrincipalID, ""), principalId) &&
				strings.EqualFold(ptr.Deref(assignment.Properties.RoleDefinitionID, ""), roleDefinitionId) &&
				strings.EqualFold(ptr.Deref(assignment.Properties.Scope, ""), scope) {
				return true, nil
			}
		}
	}

	return false, nil
}

func (c *Client) CreateRoleAssignment(ctx context.Context, principalId string, roleName string, scope string) error {
	if err := c.connected(); err != nil {
		return err
	}

	roleDefinitionId, err := c.roleDefinitionId(ctx, roleName, scope)
	if err != nil {
		return err
	}

	// The name is derived from the assignment, so a repeated create conflicts rather than duplicates
	name := hash.DeterministicGuid(principalId, roleDefinitionId, scope)

	_, err = c.roleAssignments.Create(ctx, scope, name, armauthorization.RoleAssignmentCreateParameters{
		Properties: &armauthorization.RoleAssignmentProperties{
			PrincipalID:      ptr.To(principalId),
			RoleDefinitionID: ptr.To(roleDefinitionId),
			PrincipalType:    ptr.To(armauthorization.PrincipalTypeServicePrincipal),
		},
	}, nil)

	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) && respErr.StatusCode == http.StatusConflict {
		zap.L().Info("Role assignment already exists", zap.String("role", roleName), zap.String("scope", scope))
		return nil
	}

	return classifyRoleAssignmentError(err)
}

// classifyRoleAssignmentError marks the rejection of a principal that was created moments ago.
func classifyRoleAssignmentError(err error) error {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) && respErr.ErrorCode == principalNotFoundCode {
		return fmt.Errorf("%w: %w", cloud.ErrPrincipalNotReady, err)
	}
	return err
}

func (c *Client) roleDefinitionId(ctx context.Context, roleName string, scope string) (string, error) {
	lookupCtx, cancel := context.WithTimeout(ctx, c.LookupTimeout)
	defer cancel()

	pager := c.roleDefinitions.NewListPager(scope, &armauthorization.RoleDefinitionsClientListOptions{
		Filter: ptr.To("roleName eq '" + roleName + "'"),
	})

	for pager.More() {
		page, err := pager.NextPage(lookupCtx)
		if err != nil {
			return "", err
		}

		for _, definition := range page.Value {
			if definition.ID != nil {
				return *definition.ID, nil
			}
		}
	}

	return "", &faults.ResourceStateError{Resource: "role " + roleName, Reason: "no role definition was found at " + scope}
}
