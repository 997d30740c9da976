package keys

import (
	"context"
	"fmt"
	"github.com/OctopusSolutionsEngineering/OctopusFleet/cmd/internal/client"
	"github.com/OctopusSolutionsEngineering/OctopusFleet/cmd/internal/executor"
	"github.com/OctopusSolutionsEngineering/OctopusFleet/cmd/internal/kvstore"
	"github.com/OctopusSolutionsEngineering/OctopusFleet/cmd/internal/retrier"
	"github.com/OctopusSolutionsEngineering/OctopusFleet/cmd/internal/sanitizer"
	"go.uber.org/zap"
	"sync/atomic"
)

const (
	DefaultLabel           = "DEPLOY-KEY"
	PrivateKeySecretSuffix = "_SSH_PRIVATE_KEY"
)

// SecretName is the name of the secret holding the private key of a target repository.
func SecretName(targetRepo string) string {
	return sanitizer.SanitizeSecretName(targetRepo) + PrivateKeySecretSuffix
}

// Manager registers deploy keys on target repositories and hands the private keys to the
// consumer repository.
type Manager struct {
	Client   client.GitHubClient
	Owner    string
	Keys     KeyStore
	Strategy ReplacementStrategy
	// Consumer is the repository that receives the private keys as secrets.
	Consumer string
	Executor executor.Executor
	Policy   retrier.Policy
}

func NewManager(githubClient client.GitHubClient, owner string, keyStore KeyStore, consumer string, exec executor.Executor) Manager {
	return Manager{
		Client:   githubClient,
		Owner:    owner,
		Keys:     keyStore,
		Strategy: LabelReplacement{},
		Consumer: consumer,
		Executor: exec,
		Policy:   retrier.WritePolicy,
	}
}

func (m Manager) policy() retrier.Policy {
	policy := m.Policy
	policy.Retryable = client.IsRetryable
	return policy
}

// KeyRegistrationError means the public key could not be registered on the target. The
// consumer secret was not touched.
type KeyRegistrationError struct {
	Repo string
	Err  error
}

func (e *KeyRegistrationError) Error() string {
	return fmt.Sprintf("failed to register the deploy key on %s: %v", e.Repo, e.Err)
}

func (e *KeyRegistrationError) Unwrap() error {
	return e.Err
}

// KeyDistributionError means the public key was rotated on the target but the consumer did not
// receive the matching private key. The consumer can not use the target until this is fixed.
type KeyDistributionError struct {
	Repo     string
	Consumer string
	Secret   string
	Err      error
}

func (e *KeyDistributionError) Error() string {
	return fmt.Sprintf("the deploy key of %s was rotated but %s could not be written to %s: %v", e.Repo, e.Secret, e.Consumer, e.Err)
}

func (e *KeyDistributionError) Unwrap() error {
	return e.Err
}

// EnsureDeployKey registers the local key pair of targetRepo as a deploy key under label,
// then writes the private key to the consumer repository. The returned bool is true when
// remote state changed.
func (m Manager) EnsureDeployKey(ctx context.Context, targetRepo string, label string) (bool, error) {
	keyPair, _, err := m.Keys.Ensure(targetRepo)
	if err != nil {
		return false, err
	}

	changed, err := m.register(ctx, targetRepo, label, keyPair)
	if err != nil {
		zap.L().Error("Failed to register deploy key", zap.String("repo", targetRepo), zap.Error(err))
		return changed, &KeyRegistrationError{Repo: targetRepo, Err: err}
	}

	secretName := SecretName(targetRepo)
	store := kvstore.NewStore(m.Client, m.Owner, m.Consumer)
	store.WritePolicy = m.policy()
	store.ExistencePolicy = m.policy()

	// An unchanged deploy key only needs the secret when the consumer lost it
	if !changed {
		exists, err := store.SecretExists(ctx, secretName)
		if err == nil && exists {
			return false, nil
		}
	}

	if err := store.SetSecret(ctx, secretName, string(keyPair.PrivateKey)); err != nil {
		distributionErr := &KeyDistributionError{Repo: targetRepo, Consumer: m.Consumer, Secret: secretName, Err: err}
		zap.L().Error(distributionErr.Error())
		return true, distributionErr
	}

	return true, nil
}

func (m Manager) register(ctx context.Context, targetRepo string, label string, keyPair KeyPair) (bool, error) {
	policy := m.policy()

	existing, err := retrier.DoWithData(ctx, policy, "list deploy keys of "+targetRepo, func() ([]client.DeployKey, error) {
		return m.Client.ListDeployKeys(ctx, m.Owner, targetRepo)
	})
	if err != nil {
		return false, err
	}

	strategy := m.Strategy
	if strategy == nil {
		strategy = LabelReplacement{}
	}

	deleteIds, add := strategy.Plan(existing, label, keyPair.PublicKey)
	changed := false

	for _, id := range deleteIds {
		id := id
		err := policy.Do(ctx, "delete deploy key "+label+" of "+targetRepo, func() error {
			return m.Client.DeleteDeployKey(ctx, m.Owner, targetRepo, id)
		})
		if err != nil {
			return changed, err
		}
		changed = true
		zap.L().Info("Deleted deploy key", zap.String("repo", targetRepo), zap.String("label", label), zap.Int64("id", id))
	}

	if !add {
		zap.L().Info("Deploy key is unchanged", zap.String("repo", targetRepo), zap.String("label", label))
		return changed, nil
	}

	err = policy.Do(ctx, "add deploy key "+label+" to "+targetRepo, func() error {
		return m.Client.AddDeployKey(ctx, m.Owner, targetRepo, label, keyPair.PublicKey, true)
	})
	if err != nil {
		return changed, err
	}

	zap.L().Info("Added deploy key", zap.String("repo", targetRepo), zap.String("label", label))
	return true, nil
}

// EnsureDeployKeys runs EnsureDeployKey for every target. A failing target does not stop
// the others, and every failure is reported in the returned error.
func (m Manager) EnsureDeployKeys(ctx context.Context, targets []string, label string) (kvstore.BatchResult, error) {
	exec := m.Executor
	if exec == nil {
		exec = executor.Sequential{}
	}

	var succeeded atomic.Int32
	var changed atomic.Int32

	failures := exec.Each(ctx, targets, func(ctx context.Context, target string) error {
		targetChanged, err := m.EnsureDeployKey(ctx, target, label)
		if targetChanged {
			changed.Add(1)
		}
		if err != nil {
			return err
		}
		succeeded.Add(1)
		return nil
	})

	result := kvstore.BatchResult{
		Total:     len(targets),
		Succeeded: int(succeeded.Load()),
		Changed:   int(changed.Load()),
		Failures:  failures,
	}

	return result, result.Err("distribute deploy keys")
}
