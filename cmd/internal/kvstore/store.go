package kvstore

import (
	"context"
	"github.com/OctopusSolutionsEngineering/OctopusFleet/cmd/internal/client"
	"github.com/OctopusSolutionsEngineering/OctopusFleet/cmd/internal/retrier"
	"go.uber.org/zap"
)

// Store reads and writes the Actions secrets and variables of a single repository.
// Secrets can only be checked for existence, their values are never read back.
type Store struct {
	client client.GitHubClient
	owner  string
	repo   string
	// WritePolicy is applied to every mutation.
	WritePolicy retrier.Policy
	// ExistencePolicy is applied to existence checks. A failed check is an error, never absence.
	ExistencePolicy retrier.Policy
}

func NewStore(githubClient client.GitHubClient, owner string, repo string) *Store {
	return &Store{
		client:          githubClient,
		owner:           owner,
		repo:            repo,
		WritePolicy:     withGitHubClassification(retrier.WritePolicy),
		ExistencePolicy: withGitHubClassification(retrier.ExistencePolicy),
	}
}

func withGitHubClassification(policy retrier.Policy) retrier.Policy {
	policy.Retryable = client.IsRetryable
	return policy
}

func (s *Store) Repo() string {
	return s.repo
}

func (s *Store) SecretExists(ctx context.Context, name string) (bool, error) {
	return retrier.DoWithData(ctx, s.ExistencePolicy, "check secret "+name+" on "+s.repo, func() (bool, error) {
		return s.client.SecretExists(ctx, s.owner, s.repo, name)
	})
}

func (s *Store) SetSecret(ctx context.Context, name string, value string) error {
	err := s.WritePolicy.Do(ctx, "set secret "+name+" on "+s.repo, func() error {
		return s.client.SetSecret(ctx, s.owner, s.repo, name, value)
	})

	if err != nil {
		return err
	}

	zap.L().Info("Set secret", zap.String("repo", s.repo), zap.String("secret", name))
	return nil
}

// DeleteSecret removes the secret. A secret that does not exist is not an error.
func (s *Store) DeleteSecret(ctx context.Context, name string) error {
	policy := s.WritePolicy
	policy.Retryable = func(err error) bool {
		return !client.IsNotFound(err) && client.IsRetryable(err)
	}

	err := policy.Do(ctx, "delete secret "+name+" on "+s.repo, func() error {
		return s.client.DeleteSecret(ctx, s.owner, s.repo, name)
	})

	if client.IsNotFound(err) {
		zap.L().Debug("Secret does not exist", zap.String("repo", s.repo), zap.String("secret", name))
		return nil
	}

	if err != nil {
		return err
	}

	zap.L().Info("Deleted secret", zap.String("repo", s.repo), zap.String("secret", name))
	return nil
}

// GetVariable returns the current value of a variable. Any failure to read the variable
// is reported as absence.
func (s *Store) GetVariable(ctx context.Context, name string) (string, bool) {
	value, exists, err := s.client.GetVariable(ctx, s.owner, s.repo, name)
	if err != nil {
		zap.L().Debug("Failed to read variable, treating it as absent",
			zap.String("repo", s.repo),
			zap.String("variable", name),
			zap.Error(err))
		return "", false
	}

	return value, exists
}

// SetVariable writes the variable unless it already holds the value. The returned bool
// is true when a remote write happened.
func (s *Store) SetVariable(ctx context.Context, name string, value string) (bool, error) {
	if current, exists := s.GetVariable(ctx, name); exists && current == value {
		zap.L().Debug("Variable is unchanged", zap.String("repo", s.repo), zap.String("variable", name))
		return false, nil
	}

	err := s.WritePolicy.Do(ctx, "set variable "+name+" on "+s.repo, func() error {
		return s.client.SetVariable(ctx, s.owner, s.repo, name, value)
	})

	if err != nil {
		return false, err
	}

	zap.L().Info("Set variable", zap.String("repo", s.repo), zap.String("variable", name))
	return true, nil
}
