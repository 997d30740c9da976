package forks

import (
	"context"
	"github.com/OctopusSolutionsEngineering/OctopusFleet/cmd/internal/client"
	"github.com/OctopusSolutionsEngineering/OctopusFleet/cmd/internal/executor"
	"github.com/OctopusSolutionsEngineering/OctopusFleet/cmd/internal/kvstore"
	"github.com/OctopusSolutionsEngineering/OctopusFleet/cmd/internal/retrier"
	"go.uber.org/zap"
	"sync/atomic"
)

// DefaultBranch is synced when GitHub has not reported the default branch of a new fork yet.
const DefaultBranch = "main"

// Syncer forks the repositories of the canonical owner into another owner and keeps the
// forks up to date with their upstream.
type Syncer struct {
	Client client.GitHubClient
	// Canonical is the owner of the upstream repositories.
	Canonical string
	// Owner receives the forks.
	Owner    string
	Executor executor.Executor
	Policy   retrier.Policy
}

func NewSyncer(githubClient client.GitHubClient, canonical string, owner string) Syncer {
	return Syncer{
		Client:    githubClient,
		Canonical: canonical,
		Owner:     owner,
		Executor:  executor.Sequential{},
		Policy:    retrier.WritePolicy,
	}
}

func (s Syncer) readPolicy() retrier.Policy {
	policy := s.Policy
	policy.Retryable = client.IsRetryable
	return policy
}

// syncPolicy also retries a 404, which GitHub returns while a new fork is still being created.
func (s Syncer) syncPolicy() retrier.Policy {
	policy := s.Policy
	policy.Retryable = func(err error) bool {
		return client.IsNotFound(err) || client.IsRetryable(err)
	}
	return policy
}

// Sync forks or syncs every repository. Repositories that exist and are not forks are left alone.
func (s Syncer) Sync(ctx context.Context, repos []string) (kvstore.BatchResult, error) {
	if s.Owner == s.Canonical {
		zap.L().Info("The owner " + s.Owner + " is the canonical owner, there are no forks to sync")
		return kvstore.BatchResult{}, nil
	}

	exec := s.Executor
	if exec == nil {
		exec = executor.Sequential{}
	}

	var succeeded atomic.Int32
	var changed atomic.Int32

	failures := exec.Each(ctx, repos, func(ctx context.Context, repo string) error {
		repoChanged, err := s.SyncRepo(ctx, repo)
		if repoChanged {
			changed.Add(1)
		}
		if err != nil {
			zap.L().Error("Failed to sync fork", zap.String("repo", repo), zap.Error(err))
			return err
		}
		succeeded.Add(1)
		return nil
	})

	result := kvstore.BatchResult{
		Total:     len(repos),
		Succeeded: int(succeeded.Load()),
		Changed:   int(changed.Load()),
		Failures:  failures,
	}

	return result, result.Err("sync forks")
}

// SyncRepo forks the repository when the owner does not have it, and syncs it when it is a fork.
func (s Syncer) SyncRepo(ctx context.Context, repo string) (bool, error) {
	info, err := retrier.DoWithData(ctx, s.readPolicy(), "get repository "+s.Owner+"/"+repo, func() (client.RepoInfo, error) {
		return s.Client.GetRepo(ctx, s.Owner, repo)
	})
	if err != nil {
		return false, err
	}

	if info.Exists && !info.Fork {
		zap.L().Info("Repository is not a fork, leaving it alone", zap.String("repo", repo))
		return false, nil
	}

	changed := false
	branch := info.DefaultBranch

	if !info.Exists {
		err := s.readPolicy().Do(ctx, "fork "+s.Canonical+"/"+repo, func() error {
			return s.Client.ForkRepo(ctx, s.Canonical, repo, s.Owner)
		})
		if err != nil {
			return false, err
		}
		zap.L().Info("Forked repository", zap.String("repo", repo), zap.String("upstream", s.Canonical))
		changed = true

		// A new fork starts on the default branch of its upstream
		upstream, err := retrier.DoWithData(ctx, s.readPolicy(), "get repository "+s.Canonical+"/"+repo, func() (client.RepoInfo, error) {
			return s.Client.GetRepo(ctx, s.Canonical, repo)
		})
		if err != nil {
			return changed, err
		}
		branch = upstream.DefaultBranch
	}

	if branch == "" {
		branch = DefaultBranch
	}

	err = s.syncPolicy().Do(ctx, "sync fork "+s.Owner+"/"+repo, func() error {
		return s.Client.SyncFork(ctx, s.Owner, repo, branch)
	})
	if err != nil {
		return changed, err
	}

	zap.L().Info("Synced fork", zap.String("repo", repo), zap.String("branch", branch))
	return true, nil
}
