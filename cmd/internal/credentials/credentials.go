package credentials

import (
	"context"
	"errors"
	"fmt"
	"github.com/OctopusSolutionsEngineering/OctopusFleet/cmd/internal/cloud"
	"github.com/OctopusSolutionsEngineering/OctopusFleet/cmd/internal/environment"
	"github.com/OctopusSolutionsEngineering/OctopusFleet/cmd/internal/kvstore"
	"github.com/OctopusSolutionsEngineering/OctopusFleet/cmd/internal/prompt"
	"go.uber.org/zap"
	"net"
)

const (
	HtpasswdSecret           = "HTPASSWD"
	HtpasswdUser             = "admin"
	ManagementIpVariable     = "MANAGEMENT_IP"
	HubPasswordSecret        = "HUB_PASSWORD"
	CloudShellPasswordSecret = "CLOUDSHELL_PASSWORD"
	CloudShellSessionSecret  = "CLOUDSHELL_SESSION_SECRET"
	HubClientIdVariable      = "HUB_CLIENT_ID"
	HubClientSecretSecret    = "HUB_CLIENT_SECRET"
	sessionSecretLength      = 64
	hubOAuthCallbackPath     = "/hub/oauth_callback"
	minimumPasswordLength    = 8
)

// Credentials reconciles the secrets and variables that hold operator supplied or
// generated credentials.
type Credentials struct {
	// Applications is the store of the repository deploying the applications.
	Applications *kvstore.Store
	// Infrastructure is the store of the repository deploying the infrastructure.
	Infrastructure *kvstore.Store
	Prompter       prompt.Prompter
	Environment    environment.Environment
	Reconciler     *cloud.Reconciler
	IpLookup       IpLookup
	// ManagementIp skips the IP lookup when it is set.
	ManagementIp string
}

// operatorSecret asks for a new value when the secret is missing, or when the operator
// chooses to replace the existing value. An empty string means the secret is kept.
func (c Credentials) operatorSecret(ctx context.Context, name string, description string) (string, error) {
	exists, err := c.Applications.SecretExists(ctx, name)
	if err != nil {
		return "", err
	}

	if exists {
		replace, err := c.Prompter.Confirm(description+" is already set. Replace it?", false)
		if err != nil {
			return "", err
		}

		if !replace {
			zap.L().Info("Keeping the existing secret", zap.String("secret", name))
			return "", nil
		}
	}

	for {
		value, err := c.Prompter.Secret("Enter the " + description)
		if err != nil {
			return "", fmt.Errorf("failed to read the %s: %w", description, err)
		}

		if len(value) >= minimumPasswordLength {
			return value, nil
		}

		if !c.Prompter.Interactive() {
			return "", fmt.Errorf("the %s must be at least %d characters", description, minimumPasswordLength)
		}

		zap.L().Warn(fmt.Sprintf("The %s must be at least %d characters", description, minimumPasswordLength))
	}
}

// Htpasswd writes the basic auth credentials of the admin user.
func (c Credentials) Htpasswd(ctx context.Context) (bool, error) {
	password, err := c.operatorSecret(ctx, HtpasswdSecret, "basic auth password")
	if err != nil || password == "" {
		return false, err
	}

	entry, err := HtpasswdEntry(HtpasswdUser, password)
	if err != nil {
		return false, err
	}

	if err := c.Applications.SetSecret(ctx, HtpasswdSecret, entry); err != nil {
		return false, err
	}

	return true, nil
}

// HubPassword writes the password of the hub.
func (c Credentials) HubPassword(ctx context.Context) (bool, error) {
	password, err := c.operatorSecret(ctx, HubPasswordSecret, "hub password")
	if err != nil || password == "" {
		return false, err
	}

	if err := c.Applications.SetSecret(ctx, HubPasswordSecret, password); err != nil {
		return false, err
	}

	return true, nil
}

// CloudShellSecrets writes the cloud shell password and a generated session secret. The
// session secret is only generated when it is missing.
func (c Credentials) CloudShellSecrets(ctx context.Context, enabled bool) (bool, error) {
	if !enabled {
		zap.L().Info("Cloud shell is disabled, skipping its secrets")
		return false, nil
	}

	changed := false

	password, err := c.operatorSecret(ctx, CloudShellPasswordSecret, "cloud shell password")
	if err != nil {
		return false, err
	}

	if password != "" {
		if err := c.Applications.SetSecret(ctx, CloudShellPasswordSecret, password); err != nil {
			return false, err
		}
		changed = true
	}

	exists, err := c.Applications.SecretExists(ctx, CloudShellSessionSecret)
	if err != nil {
		return changed, err
	}

	if !exists {
		sessionSecret, err := RandomString(sessionSecretLength)
		if err != nil {
			return changed, err
		}

		if err := c.Applications.SetSecret(ctx, CloudShellSessionSecret, sessionSecret); err != nil {
			return changed, err
		}
		changed = true
	}

	return changed, nil
}

// ManagementIpAddress writes the public IP of the operator, which is allowed through the
// management firewall rules.
func (c Credentials) ManagementIpAddress(ctx context.Context) (bool, error) {
	ip := c.ManagementIp

	if ip == "" {
		lookedUp, err := c.IpLookup.PublicIp(ctx)
		if err != nil {
			return false, err
		}
		ip = lookedUp
	} else if net.ParseIP(ip) == nil {
		return false, fmt.Errorf("%q is not an IP address", ip)
	}

	zap.L().Info("Using management IP " + ip)
	return c.Infrastructure.SetVariable(ctx, ManagementIpVariable, ip)
}

// HubRedirectUri is the OAuth callback of the hub.
func HubRedirectUri(env environment.Environment) string {
	return "https://" + env.Fqdns.Hub + hubOAuthCallbackPath
}

// HubLoginApp ensures the app registration the hub logs in with, and writes its client id
// and secret. The client secret is only reset when the repository does not hold it yet.
func (c Credentials) HubLoginApp(ctx context.Context) (bool, error) {
	if c.Reconciler == nil {
		return false, errors.New("the hub login application requires a cloud connection")
	}

	app, created, err := c.Reconciler.EnsureLoginApplication(ctx, c.Environment.HubApplicationName, []string{HubRedirectUri(c.Environment)})
	if err != nil {
		return false, err
	}

	changed, err := c.Applications.SetVariable(ctx, HubClientIdVariable, app.AppId)
	if err != nil {
		return created, err
	}
	changed = changed || created

	exists, err := c.Applications.SecretExists(ctx, HubClientSecretSecret)
	if err != nil {
		return changed, err
	}

	if exists && !created {
		return changed, nil
	}

	secret, err := c.Reconciler.Api.ResetAppCredential(ctx, app.AppId)
	if err != nil {
		return changed, fmt.Errorf("failed to create a secret for the application %s: %w", c.Environment.HubApplicationName, err)
	}

	if err := c.Applications.SetSecret(ctx, HubClientSecretSecret, secret); err != nil {
		return true, err
	}

	return true, nil
}
