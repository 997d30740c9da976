package keys

import (
	"context"
	"errors"
	"github.com/OctopusSolutionsEngineering/OctopusFleet/cmd/internal/client"
	"github.com/OctopusSolutionsEngineering/OctopusFleet/cmd/internal/faults"
	"github.com/OctopusSolutionsEngineering/OctopusFleet/cmd/internal/retrier"
	"golang.org/x/crypto/ssh"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func testManager(t *testing.T, memory *client.MemoryClient) Manager {
	manager := NewManager(memory, "acme", KeyStore{Dir: filepath.Join(t.TempDir(), "keys")}, "infrastructure", nil)
	manager.Policy = retrier.Policy{Attempts: 3, Delay: time.Millisecond}
	return manager
}

func TestEnsureGeneratesKeyWithRestrictedPermissions(t *testing.T) {
	store := KeyStore{Dir: filepath.Join(t.TempDir(), "keys")}

	keyPair, created, err := store.Ensure("manifests-applications")
	if err != nil || !created {
		t.Fatalf("The key pair should have been generated, got %v %v", created, err)
	}

	checks := map[string]os.FileMode{
		store.Dir:              DirMode,
		keyPair.PrivateKeyPath: PrivateKeyMode,
		keyPair.PublicKeyPath:  PublicKeyMode,
	}

	for path, mode := range checks {
		info, err := os.Stat(path)
		if err != nil {
			t.Fatal(err)
		}

		if info.Mode().Perm() != mode {
			t.Errorf("%s should have mode %o, got %o", path, mode, info.Mode().Perm())
		}
	}

	if !strings.HasPrefix(keyPair.PublicKey, "ssh-ed25519 ") {
		t.Fatalf("The public key should be an ed25519 authorized key, got %s", keyPair.PublicKey)
	}

	if _, err := ssh.ParseRawPrivateKey(keyPair.PrivateKey); err != nil {
		t.Fatalf("The private key should be a valid OpenSSH key: %v", err)
	}
}

func TestEnsureReusesExistingKey(t *testing.T) {
	store := KeyStore{Dir: filepath.Join(t.TempDir(), "keys")}

	first, _, err := store.Ensure("site")
	if err != nil {
		t.Fatal(err)
	}

	second, created, err := store.Ensure("site")
	if err != nil {
		t.Fatal(err)
	}

	if created {
		t.Fatalf("An existing key pair should not be regenerated")
	}

	if first.PublicKey != second.PublicKey || string(first.PrivateKey) != string(second.PrivateKey) {
		t.Fatalf("The existing key pair should have been reused")
	}
}

func TestEnsureRestoresMissingPublicKey(t *testing.T) {
	store := KeyStore{Dir: filepath.Join(t.TempDir(), "keys")}

	first, _, err := store.Ensure("manifests")
	if err != nil {
		t.Fatal(err)
	}

	if err := os.Remove(first.PublicKeyPath); err != nil {
		t.Fatal(err)
	}

	second, created, err := store.Ensure("manifests")
	if err != nil {
		t.Fatal(err)
	}

	if created {
		t.Fatalf("A key pair with a private key should not be regenerated")
	}

	if string(first.PrivateKey) != string(second.PrivateKey) {
		t.Fatalf("The private key should not have been overwritten")
	}

	if first.PublicKey != second.PublicKey {
		t.Fatalf("The public key should have been rebuilt from the private key, got %s", second.PublicKey)
	}

	if info, err := os.Stat(first.PublicKeyPath); err != nil || info.Mode().Perm() != PublicKeyMode {
		t.Fatalf("The public key should have been written with mode %o: %v", PublicKeyMode, err)
	}
}

func TestEnsureRejectsOrphanedPublicKey(t *testing.T) {
	store := KeyStore{Dir: filepath.Join(t.TempDir(), "keys")}

	first, _, err := store.Ensure("manifests")
	if err != nil {
		t.Fatal(err)
	}

	if err := os.Remove(first.PrivateKeyPath); err != nil {
		t.Fatal(err)
	}

	_, _, err = store.Ensure("manifests")
	var stateErr *faults.ResourceStateError
	if !errors.As(err, &stateErr) {
		t.Fatalf("A public key without its private key should be a resource state error, got %v", err)
	}

	public, err := os.ReadFile(first.PublicKeyPath)
	if err != nil || strings.TrimSpace(string(public)) != first.PublicKey {
		t.Fatalf("The existing public key should not have been touched")
	}
}

func TestWriteFileNeverOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key")

	if err := writeFile(path, []byte("original"), PrivateKeyMode); err != nil {
		t.Fatal(err)
	}

	if err := writeFile(path, []byte("replacement"), PrivateKeyMode); err == nil {
		t.Fatalf("Writing over an existing key file should fail")
	}

	if content, _ := os.ReadFile(path); string(content) != "original" {
		t.Fatalf("The existing file should be unchanged, got %q", content)
	}
}

func TestBackupCopiesKeys(t *testing.T) {
	store := KeyStore{Dir: filepath.Join(t.TempDir(), "keys")}
	keyPair, _, err := store.Ensure("site")
	if err != nil {
		t.Fatal(err)
	}

	dest := filepath.Join(t.TempDir(), "backup")
	if err := store.Backup(dest); err != nil {
		t.Fatalf("Backup should have succeeded: %v", err)
	}

	copied, err := os.ReadFile(filepath.Join(dest, "site"))
	if err != nil || string(copied) != string(keyPair.PrivateKey) {
		t.Fatalf("The private key should have been copied, got %v", err)
	}

	if err := (KeyStore{Dir: filepath.Join(t.TempDir(), "missing")}).Backup(dest); err != nil {
		t.Fatalf("Backing up a missing directory should be a no-op: %v", err)
	}
}

func TestSecretName(t *testing.T) {
	if name := SecretName("manifests-applications"); name != "MANIFESTS_APPLICATIONS_SSH_PRIVATE_KEY" {
		t.Fatalf("Unexpected secret name %s", name)
	}
}

func TestEnsureDeployKeyReplacesLabelledKey(t *testing.T) {
	memory := client.NewMemoryClient("acme")
	memory.DeployKeys["acme/manifests"] = []client.DeployKey{
		{Id: 41, Title: DefaultLabel, Key: "ssh-ed25519 AAAAold"},
		{Id: 42, Title: "other", Key: "ssh-ed25519 AAAAother"},
	}
	manager := testManager(t, memory)

	changed, err := manager.EnsureDeployKey(context.Background(), "manifests", DefaultLabel)
	if err != nil || !changed {
		t.Fatalf("The key should have been replaced, got %v %v", changed, err)
	}

	deletes := memory.CallsTo("DeleteDeployKey")
	adds := memory.CallsTo("AddDeployKey")
	if len(deletes) != 1 || deletes[0].Name != "41" || len(adds) != 1 {
		t.Fatalf("Expected one delete of key 41 and one add, got %v and %v", deletes, adds)
	}

	// The delete must happen before the add
	var order []string
	for _, call := range memory.Calls {
		if call.Method == "DeleteDeployKey" || call.Method == "AddDeployKey" {
			order = append(order, call.Method)
		}
	}
	if strings.Join(order, ",") != "DeleteDeployKey,AddDeployKey" {
		t.Fatalf("Expected a delete followed by an add, got %v", order)
	}

	labelled := 0
	for _, key := range memory.DeployKeys["acme/manifests"] {
		if key.Title == DefaultLabel {
			labelled++
			if !key.ReadOnly {
				t.Errorf("The deploy key should be read only")
			}
		}
	}
	if labelled != 1 {
		t.Fatalf("Expected exactly one key under the label, got %d", labelled)
	}

	secret := memory.Secrets["acme/infrastructure"]["MANIFESTS_SSH_PRIVATE_KEY"]
	if !strings.Contains(secret, "OPENSSH PRIVATE KEY") {
		t.Fatalf("The private key should have been written to the consumer repository")
	}
}

func TestLabelReplacementAlwaysRotates(t *testing.T) {
	memory := client.NewMemoryClient("acme")
	manager := testManager(t, memory)

	for i := 0; i < 2; i++ {
		if _, err := manager.EnsureDeployKey(context.Background(), "manifests", DefaultLabel); err != nil {
			t.Fatal(err)
		}
	}

	if len(memory.CallsTo("AddDeployKey")) != 2 || len(memory.CallsTo("DeleteDeployKey")) != 1 {
		t.Fatalf("The second run should have rotated the key")
	}
}

func TestFingerprintReplacementSkipsMatchingKey(t *testing.T) {
	memory := client.NewMemoryClient("acme")
	manager := testManager(t, memory)
	manager.Strategy = FingerprintReplacement{}

	if _, err := manager.EnsureDeployKey(context.Background(), "manifests", DefaultLabel); err != nil {
		t.Fatal(err)
	}

	if _, err := manager.EnsureDeployKey(context.Background(), "manifests", DefaultLabel); err != nil {
		t.Fatal(err)
	}

	if len(memory.CallsTo("AddDeployKey")) != 1 || len(memory.CallsTo("DeleteDeployKey")) != 0 {
		t.Fatalf("A matching key should have been left alone")
	}

	if len(memory.CallsTo("SetSecret")) != 1 {
		t.Fatalf("The private key should only be written once, got %d writes", len(memory.CallsTo("SetSecret")))
	}
}

func TestRegistrationFailureDoesNotStopOtherTargets(t *testing.T) {
	memory := client.NewMemoryClient("acme")
	memory.Fail("AddDeployKey", "acme", "first", errors.New("service unavailable"))
	manager := testManager(t, memory)

	result, err := manager.EnsureDeployKeys(context.Background(), []string{"first", "second"}, DefaultLabel)

	var batchErr *faults.PartialBatchFailure
	if !errors.As(err, &batchErr) {
		t.Fatalf("Expected a PartialBatchFailure, got %v", err)
	}

	var registrationErr *KeyRegistrationError
	if !errors.As(result.Failures["first"], &registrationErr) {
		t.Fatalf("first should have failed registration, got %v", result.Failures["first"])
	}

	if result.Succeeded != 1 {
		t.Fatalf("second should have succeeded, got %+v", result)
	}

	if _, ok := memory.Secrets["acme/infrastructure"]["FIRST_SSH_PRIVATE_KEY"]; ok {
		t.Fatalf("No secret should be written for a key that was not registered")
	}

	if _, ok := memory.Secrets["acme/infrastructure"]["SECOND_SSH_PRIVATE_KEY"]; !ok {
		t.Fatalf("second should have received its secret")
	}
}

func TestSecretFailureIsReportedAsDistributionError(t *testing.T) {
	memory := client.NewMemoryClient("acme")
	memory.Fail("SetSecret", "acme", "infrastructure", errors.New("service unavailable"))
	manager := testManager(t, memory)

	changed, err := manager.EnsureDeployKey(context.Background(), "manifests", DefaultLabel)

	var distributionErr *KeyDistributionError
	if !errors.As(err, &distributionErr) {
		t.Fatalf("Expected a KeyDistributionError, got %v", err)
	}

	if !changed {
		t.Fatalf("The deploy key was rotated, so state changed")
	}

	if faults.ExitCode(err) != faults.ExitRemote {
		t.Fatalf("Exhausted secret writes should exit with the remote error code")
	}
}
