package azure

import (
	"context"
	"errors"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/OctopusSolutionsEngineering/OctopusFleet/cmd/internal/cloud"
	"github.com/OctopusSolutionsEngineering/OctopusFleet/cmd/internal/faults"
	"github.com/avast/retry-go/v4"
	"net/http"
	"os/exec"
	"strings"
	"testing"
	"time"
)

// fakeCli returns canned output keyed by the space separated arguments.
type fakeCli struct {
	outputs   map[string]string
	errors    map[string]error
	calls     []string
	deadlines []bool
}

func (f *fakeCli) Run(ctx context.Context, args ...string) ([]byte, error) {
	key := strings.Join(args, " ")
	f.calls = append(f.calls, key)
	_, hasDeadline := ctx.Deadline()
	f.deadlines = append(f.deadlines, hasDeadline)

	if err, ok := f.errors[key]; ok {
		return nil, err
	}
	return []byte(f.outputs[key]), nil
}

func newFakeCli() *fakeCli {
	return &fakeCli{outputs: map[string]string{}, errors: map[string]error{}}
}

func TestGetAccount(t *testing.T) {
	cli := newFakeCli()
	cli.outputs["account show"] = `{"id":"sub","name":"Pay as you go","tenantId":"tenant","isDefault":true,"user":{"name":"someone@example.com","type":"user"}}`

	account, err := NewClient(cli).GetAccount(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if account.SubscriptionId != "sub" || account.TenantId != "tenant" || account.User != "someone@example.com" || !account.IsDefault {
		t.Fatalf("Unexpected account %+v", account)
	}
}

func TestGetAccountNotLoggedIn(t *testing.T) {
	cli := newFakeCli()
	cli.errors["account show"] = &CliError{Args: "account show", Stderr: "ERROR: Please run 'az login' to setup account.", Err: errors.New("exit status 1")}

	_, err := NewClient(cli).GetAccount(context.Background())

	if faults.ExitCode(err) != faults.ExitAuthentication {
		t.Fatalf("A missing session should be an authentication error, got %v", err)
	}
}

func TestListAccounts(t *testing.T) {
	cli := newFakeCli()
	cli.outputs["account list"] = `[{"id":"one","name":"First"},{"id":"two","name":"Second","isDefault":true}]`

	accounts, err := NewClient(cli).ListAccounts(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if len(accounts) != 2 || accounts[1].SubscriptionId != "two" || !accounts[1].IsDefault {
		t.Fatalf("Unexpected accounts %+v", accounts)
	}
}

func TestCreateServicePrincipal(t *testing.T) {
	cli := newFakeCli()
	cli.outputs["ad sp create-for-rbac --name fleet-automation"] = `{"appId":"client","displayName":"fleet-automation","password":"secret","tenant":"tenant"}`
	cli.outputs["ad sp show --id client"] = `{"id":"object","appId":"client"}`
	client := NewClient(cli)

	identity, err := client.CreateServicePrincipal(context.Background(), "fleet-automation")
	if err != nil {
		t.Fatal(err)
	}

	if identity.ClientId != "client" || identity.ClientSecret != "secret" || identity.TenantId != "tenant" {
		t.Fatalf("Unexpected identity %+v", identity)
	}

	objectId, err := client.ServicePrincipalObjectId(context.Background(), "client")
	if err != nil || objectId != "object" {
		t.Fatalf("Expected the object id, got %s %v", objectId, err)
	}

	if !cli.deadlines[len(cli.deadlines)-1] {
		t.Fatalf("Object id lookups must have a timeout")
	}
}

func TestLookupsUseTimeout(t *testing.T) {
	cli := newFakeCli()
	cli.outputs["ad app list --display-name fleet-hub"] = `[]`
	client := NewClient(cli)
	client.LookupTimeout = time.Second

	_, exists, err := client.FindApp(context.Background(), "fleet-hub")
	if err != nil || exists {
		t.Fatalf("The app should not exist, got %v %v", exists, err)
	}

	if !cli.deadlines[0] {
		t.Fatalf("Application lookups must have a timeout")
	}
}

func TestLoginApplicationCommands(t *testing.T) {
	cli := newFakeCli()
	cli.outputs["ad app create --display-name fleet-hub --web-redirect-uris https://hub.example.com/callback"] = `{"appId":"app","id":"object"}`
	cli.outputs["ad app credential reset --id app --append"] = `{"appId":"app","password":"app-secret","tenant":"tenant"}`
	client := NewClient(cli)

	app, err := client.CreateApp(context.Background(), "fleet-hub", []string{"https://hub.example.com/callback"})
	if err != nil || app.AppId != "app" || app.ObjectId != "object" {
		t.Fatalf("Unexpected application %+v %v", app, err)
	}

	secret, err := client.ResetAppCredential(context.Background(), "app")
	if err != nil || secret != "app-secret" {
		t.Fatalf("Unexpected secret %v", err)
	}

	if err := client.GrantConsent(context.Background(), "app"); err != nil {
		t.Fatal(err)
	}

	if cli.calls[len(cli.calls)-1] != "ad app permission admin-consent --id app" {
		t.Fatalf("Unexpected consent command %s", cli.calls[len(cli.calls)-1])
	}
}

func TestDeleteServicePrincipal(t *testing.T) {
	cli := newFakeCli()
	cli.outputs["ad app list --display-name fleet-automation"] = `[{"appId":"one","id":"a"},{"appId":"two","id":"b"}]`

	if err := NewClient(cli).DeleteServicePrincipal(context.Background(), "fleet-automation"); err != nil {
		t.Fatal(err)
	}

	deletes := 0
	for _, call := range cli.calls {
		if strings.HasPrefix(call, "ad app delete") {
			deletes++
		}
	}

	if deletes != 2 {
		t.Fatalf("Both applications should have been deleted, got %d", deletes)
	}
}

func TestFindServicePrincipal(t *testing.T) {
	cli := newFakeCli()
	cli.outputs["ad sp list --display-name fleet-automation"] = `[{"appId":"client","id":"object"}]`
	cli.outputs["ad sp list --display-name removed"] = `[]`
	client := NewClient(cli)

	identity, found, err := client.FindServicePrincipal(context.Background(), "fleet-automation")
	if err != nil || !found {
		t.Fatalf("Expected the service principal to be found, got %v %v", found, err)
	}

	if identity.ClientId != "client" || identity.ObjectId != "object" || identity.DisplayName != "fleet-automation" {
		t.Fatalf("Unexpected identity %+v", identity)
	}

	if _, found, err := client.FindServicePrincipal(context.Background(), "removed"); err != nil || found {
		t.Fatalf("A deleted service principal should not be found, got %v %v", found, err)
	}

	if !cli.deadlines[len(cli.deadlines)-1] {
		t.Fatalf("Service principal lookups must have a timeout")
	}
}

func TestRoleAssignmentErrorClassification(t *testing.T) {
	notFound := &azcore.ResponseError{StatusCode: http.StatusBadRequest, ErrorCode: "PrincipalNotFound"}
	if !cloud.IsPrincipalNotReady(classifyRoleAssignmentError(notFound)) {
		t.Fatalf("PrincipalNotFound should mark the principal as not ready")
	}

	var respErr *azcore.ResponseError
	if !errors.As(classifyRoleAssignmentError(notFound), &respErr) {
		t.Fatalf("The response error should still be reachable")
	}

	forbidden := &azcore.ResponseError{StatusCode: http.StatusForbidden, ErrorCode: "AuthorizationFailed"}
	if cloud.IsPrincipalNotReady(classifyRoleAssignmentError(forbidden)) {
		t.Fatalf("Only PrincipalNotFound should mark the principal as not ready")
	}
}

func TestContainerErrorClassification(t *testing.T) {
	if retry.IsRecoverable(classifyContainerError(&azcore.ResponseError{StatusCode: http.StatusBadRequest})) {
		t.Fatalf("A rejected request should not be retried")
	}

	if !retry.IsRecoverable(classifyContainerError(&azcore.ResponseError{StatusCode: http.StatusNotFound})) {
		t.Fatalf("A storage account that is still provisioning should be retried")
	}

	if classifyContainerError(nil) != nil {
		t.Fatalf("Success should stay nil")
	}
}

func TestResourceCallsRequireConnection(t *testing.T) {
	if _, err := NewClient(newFakeCli()).GroupExists(context.Background(), "fleet-rg"); err == nil {
		t.Fatalf("An unconnected client should return an error")
	}
}

func TestIsNotFound(t *testing.T) {
	if !IsNotFound(&azcore.ResponseError{StatusCode: http.StatusNotFound}) {
		t.Fatalf("404 should be not found")
	}

	if IsNotFound(&azcore.ResponseError{StatusCode: http.StatusForbidden}) || IsNotFound(errors.New("other")) {
		t.Fatalf("Only 404 should be not found")
	}
}

func TestTagConversion(t *testing.T) {
	tags := fromPointers(toPointers(map[string]string{"owner": "me"}))
	if len(tags) != 1 || tags["owner"] != "me" {
		t.Fatalf("Unexpected tags %v", tags)
	}
}

func TestRedact(t *testing.T) {
	if redact([]string{"login", "--password", "hunter2"}) != "login --password *****" {
		t.Fatalf("Passwords should be redacted")
	}
}

func TestCliErrorWrapsExitError(t *testing.T) {
	_, err := AzCli{Executable: "false"}.Run(context.Background())

	var exitErr *exec.ExitError
	var cliErr *CliError
	if !errors.As(err, &cliErr) || !errors.As(err, &exitErr) {
		t.Fatalf("A failing command should be a CliError wrapping the exit error, got %v", err)
	}
}
