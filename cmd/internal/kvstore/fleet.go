package kvstore

import (
	"context"
	"github.com/OctopusSolutionsEngineering/OctopusFleet/cmd/internal/client"
	"github.com/OctopusSolutionsEngineering/OctopusFleet/cmd/internal/executor"
	"github.com/OctopusSolutionsEngineering/OctopusFleet/cmd/internal/faults"
	"github.com/OctopusSolutionsEngineering/OctopusFleet/cmd/internal/retrier"
	"go.uber.org/zap"
	"sync/atomic"
)

// BatchResult summarises one name/value pair applied across many repositories.
type BatchResult struct {
	Total     int
	Succeeded int
	// Changed counts the targets that received a remote write.
	Changed  int
	Failures map[string]error
}

// Err returns a faults.PartialBatchFailure when any target failed.
func (b BatchResult) Err(operation string) error {
	if len(b.Failures) == 0 {
		return nil
	}

	return &faults.PartialBatchFailure{
		Operation: operation,
		Total:     b.Total,
		Succeeded: b.Succeeded,
		Failures:  b.Failures,
	}
}

// Fleet applies secrets and variables to every repository of an owner.
type Fleet struct {
	Client   client.GitHubClient
	Owner    string
	Executor executor.Executor
	// Policy overrides the write policy of every store when Attempts is not zero.
	Policy retrier.Policy
}

func NewFleet(githubClient client.GitHubClient, owner string, exec executor.Executor) Fleet {
	return Fleet{
		Client:   githubClient,
		Owner:    owner,
		Executor: exec,
	}
}

// Store returns the store of a single repository.
func (f Fleet) Store(repo string) *Store {
	store := NewStore(f.Client, f.Owner, repo)
	if f.Policy.Attempts != 0 {
		store.WritePolicy = withGitHubClassification(f.Policy)
		store.ExistencePolicy = withGitHubClassification(f.Policy)
	}
	return store
}

func (f Fleet) executor() executor.Executor {
	if f.Executor == nil {
		return executor.Sequential{}
	}
	return f.Executor
}

// SetSecretAll writes the secret to every repository. A failing repository does not stop the others.
func (f Fleet) SetSecretAll(ctx context.Context, repos []string, name string, value string) (BatchResult, error) {
	var succeeded atomic.Int32

	failures := f.executor().Each(ctx, repos, func(ctx context.Context, repo string) error {
		if err := f.Store(repo).SetSecret(ctx, name, value); err != nil {
			zap.L().Error("Failed to set secret", zap.String("repo", repo), zap.String("secret", name), zap.Error(err))
			return err
		}
		succeeded.Add(1)
		return nil
	})

	result := BatchResult{
		Total:     len(repos),
		Succeeded: int(succeeded.Load()),
		Changed:   int(succeeded.Load()),
		Failures:  failures,
	}

	return result, result.Err("set secret " + name)
}

// DeleteSecretAll removes the secret from every repository. A failing repository does not stop the others.
func (f Fleet) DeleteSecretAll(ctx context.Context, repos []string, name string) (BatchResult, error) {
	var succeeded atomic.Int32

	failures := f.executor().Each(ctx, repos, func(ctx context.Context, repo string) error {
		if err := f.Store(repo).DeleteSecret(ctx, name); err != nil {
			zap.L().Error("Failed to delete secret", zap.String("repo", repo), zap.String("secret", name), zap.Error(err))
			return err
		}
		succeeded.Add(1)
		return nil
	})

	result := BatchResult{
		Total:     len(repos),
		Succeeded: int(succeeded.Load()),
		Changed:   int(succeeded.Load()),
		Failures:  failures,
	}

	return result, result.Err("delete secret " + name)
}

// SetVariableAll writes the variable to every repository where it differs.
func (f Fleet) SetVariableAll(ctx context.Context, repos []string, name string, value string) (BatchResult, error) {
	var succeeded atomic.Int32
	var changed atomic.Int32

	failures := f.executor().Each(ctx, repos, func(ctx context.Context, repo string) error {
		written, err := f.Store(repo).SetVariable(ctx, name, value)
		if err != nil {
			zap.L().Error("Failed to set variable", zap.String("repo", repo), zap.String("variable", name), zap.Error(err))
			return err
		}
		succeeded.Add(1)
		if written {
			changed.Add(1)
		}
		return nil
	})

	result := BatchResult{
		Total:     len(repos),
		Succeeded: int(succeeded.Load()),
		Changed:   int(changed.Load()),
		Failures:  failures,
	}

	return result, result.Err("set variable " + name)
}

// SecretExistsAll is true when every repository holds the secret.
func (f Fleet) SecretExistsAll(ctx context.Context, repos []string, name string) (bool, error) {
	for _, repo := range repos {
		exists, err := f.Store(repo).SecretExists(ctx, name)
		if err != nil {
			return false, err
		}

		if !exists {
			return false, nil
		}
	}

	return true, nil
}
