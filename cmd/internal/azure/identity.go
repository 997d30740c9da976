package azure

import (
	"context"
	"errors"
	"github.com/OctopusSolutionsEngineering/OctopusFleet/cmd/internal/cloud"
	"go.uber.org/zap"
)

type servicePrincipalCredentials struct {
	AppId       string `json:"appId"`
	DisplayName string `json:"displayName"`
	Password    string `json:"password"`
	Tenant      string `json:"tenant"`
}

type directoryObject struct {
	Id    string `json:"id"`
	AppId string `json:"appId"`
}

// CreateServicePrincipal runs create-for-rbac, which creates the app registration and the
// service principal, or resets the credential of the existing ones. Role assignments are
// made separately.
func (c *Client) CreateServicePrincipal(ctx context.Context, name string) (cloud.ServiceIdentity, error) {
	credentials, err := runJson[servicePrincipalCredentials](ctx, c.cli, "ad", "sp", "create-for-rbac", "--name", name)
	if err != nil {
		return cloud.ServiceIdentity{}, err
	}

	return cloud.ServiceIdentity{
		ClientId:     credentials.AppId,
		ClientSecret: credentials.Password,
		TenantId:     credentials.Tenant,
		DisplayName:  credentials.DisplayName,
	}, nil
}

func (c *Client) ServicePrincipalObjectId(ctx context.Context, clientId string) (string, error) {
	lookupCtx, cancel := context.WithTimeout(ctx, c.LookupTimeout)
	defer cancel()

	servicePrincipal, err := runJson[directoryObject](lookupCtx, c.cli, "ad", "sp", "show", "--id", clientId)
	if err != nil {
		return "", err
	}

	if servicePrincipal.Id == "" {
		return "", errors.New("the service principal " + clientId + " has no object id")
	}

	return servicePrincipal.Id, nil
}

func (c *Client) FindServicePrincipal(ctx context.Context, name string) (cloud.ServiceIdentity, bool, error) {
	lookupCtx, cancel := context.WithTimeout(ctx, c.LookupTimeout)
	defer cancel()

	servicePrincipals, err := runJson[[]directoryObject](lookupCtx, c.cli, "ad", "sp", "list", "--display-name", name)
	if err != nil {
		return cloud.ServiceIdentity{}, false, err
	}

	if len(servicePrincipals) == 0 {
		return cloud.ServiceIdentity{}, false, nil
	}

	return cloud.ServiceIdentity{
		ClientId:    servicePrincipals[0].AppId,
		ObjectId:    servicePrincipals[0].Id,
		DisplayName: name,
	}, true, nil
}

// DeleteServicePrincipal deletes the app registrations with the display name. Deleting the
// app registration also deletes its service principal.
func (c *Client) DeleteServicePrincipal(ctx context.Context, name string) error {
	apps, err := c.listApps(ctx, name)
	if err != nil {
		return err
	}

	if len(apps) == 0 {
		zap.L().Info("Application does not exist", zap.String("name", name))
	}

	for _, app := range apps {
		if _, err := c.cli.Run(ctx, "ad", "app", "delete", "--id", app.AppId); err != nil && !IsCliNotFound(err) {
			return err
		}
	}

	return nil
}

func (c *Client) listApps(ctx context.Context, name string) ([]directoryObject, error) {
	lookupCtx, cancel := context.WithTimeout(ctx, c.LookupTimeout)
	defer cancel()

	return runJson[[]directoryObject](lookupCtx, c.cli, "ad", "app", "list", "--display-name", name)
}

func (c *Client) FindApp(ctx context.Context, name string) (cloud.Application, bool, error) {
	apps, err := c.listApps(ctx, name)
	if err != nil {
		return cloud.Application{}, false, err
	}

	if len(apps) == 0 {
		return cloud.Application{}, false, nil
	}

	if len(apps) > 1 {
		zap.L().Warn("More than one application has the same name, using the first", zap.String("name", name))
	}

	return cloud.Application{AppId: apps[0].AppId, ObjectId: apps[0].Id}, true, nil
}

func (c *Client) CreateApp(ctx context.Context, name string, redirectUris []string) (cloud.Application, error) {
	args := append([]string{"ad", "app", "create", "--display-name", name, "--web-redirect-uris"}, redirectUris...)

	app, err := runJson[directoryObject](ctx, c.cli, args...)
	if err != nil {
		return cloud.Application{}, err
	}

	return cloud.Application{AppId: app.AppId, ObjectId: app.Id}, nil
}

func (c *Client) UpdateApp(ctx context.Context, appId string, redirectUris []string) error {
	args := append([]string{"ad", "app", "update", "--id", appId, "--web-redirect-uris"}, redirectUris...)
	_, err := c.cli.Run(ctx, args...)
	return err
}

func (c *Client) ResetAppCredential(ctx context.Context, appId string) (string, error) {
	credentials, err := runJson[servicePrincipalCredentials](ctx, c.cli, "ad", "app", "credential", "reset", "--id", appId, "--append")
	if err != nil {
		return "", err
	}

	if credentials.Password == "" {
		return "", errors.New("no secret was returned for the application " + appId)
	}

	return credentials.Password, nil
}

func (c *Client) GrantConsent(ctx context.Context, appId string) error {
	lookupCtx, cancel := context.WithTimeout(ctx, c.LookupTimeout)
	defer cancel()

	_, err := c.cli.Run(lookupCtx, "ad", "app", "permission", "admin-consent", "--id", appId)
	return err
}
