package client

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"github.com/google/go-github/v66/github"
	"go.uber.org/zap"
	"golang.org/x/crypto/nacl/box"
	"golang.org/x/oauth2"
	"net/http"
	"sync"
)

// DeployKey is a public key registered against a single repository.
type DeployKey struct {
	Id       int64
	Title    string
	Key      string
	ReadOnly bool
}

// RepoInfo describes a repository as seen by the authenticated user.
type RepoInfo struct {
	Exists        bool
	Fork          bool
	DefaultBranch string
}

// GitHubClient is the subset of the GitHub API used to reconcile repositories. Calls are
// single attempts, retries are applied by the callers.
type GitHubClient interface {
	AuthenticatedLogin(ctx context.Context) (string, error)
	SecretExists(ctx context.Context, owner string, repo string, name string) (bool, error)
	SetSecret(ctx context.Context, owner string, repo string, name string, value string) error
	DeleteSecret(ctx context.Context, owner string, repo string, name string) error
	GetVariable(ctx context.Context, owner string, repo string, name string) (value string, exists bool, funcErr error)
	SetVariable(ctx context.Context, owner string, repo string, name string, value string) error
	ListDeployKeys(ctx context.Context, owner string, repo string) ([]DeployKey, error)
	AddDeployKey(ctx context.Context, owner string, repo string, title string, key string, readOnly bool) error
	DeleteDeployKey(ctx context.Context, owner string, repo string, id int64) error
	GetRepo(ctx context.Context, owner string, repo string) (RepoInfo, error)
	ForkRepo(ctx context.Context, upstreamOwner string, repo string, targetOwner string) error
	SyncFork(ctx context.Context, owner string, repo string, branch string) error
	TriggerWorkflow(ctx context.Context, owner string, repo string, workflow string, ref string, inputs map[string]any) error
}

type GitHubApiClient struct {
	client *github.Client
	// login is the authenticated user. We cache the result to save on future lookups.
	login   string
	loginMu sync.Mutex
	// publicKeys maps owner/repo to the key used to seal secrets for that repo
	publicKeys   map[string]*github.PublicKey
	publicKeysMu sync.Mutex
}

var _ GitHubClient = (*GitHubApiClient)(nil)

// NewGitHubApiClient builds a client that authenticates every request with the token.
func NewGitHubApiClient(ctx context.Context, token string) *GitHubApiClient {
	httpClient := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
	return NewGitHubApiClientFromGitHub(github.NewClient(httpClient))
}

// NewGitHubApiClientFromGitHub wraps an existing go-github client, which allows tests to point the client at a fake server.
func NewGitHubApiClientFromGitHub(client *github.Client) *GitHubApiClient {
	return &GitHubApiClient{
		client:     client,
		publicKeys: map[string]*github.PublicKey{},
	}
}

func (c *GitHubApiClient) AuthenticatedLogin(ctx context.Context) (string, error) {
	c.loginMu.Lock()
	defer c.loginMu.Unlock()

	if c.login != "" {
		return c.login, nil
	}

	user, _, err := c.client.Users.Get(ctx, "")
	if err != nil {
		return "", err
	}

	c.login = user.GetLogin()
	return c.login, nil
}

func (c *GitHubApiClient) SecretExists(ctx context.Context, owner string, repo string, name string) (bool, error) {
	_, _, err := c.client.Actions.GetRepoSecret(ctx, owner, repo, name)
	if IsNotFound(err) {
		return false, nil
	}

	if err != nil {
		return false, err
	}

	return true, nil
}

func (c *GitHubApiClient) SetSecret(ctx context.Context, owner string, repo string, name string, value string) error {
	publicKey, err := c.getPublicKey(ctx, owner, repo)
	if err != nil {
		return err
	}

	encrypted, err := SealSecret(publicKey.GetKey(), value)
	if err != nil {
		return err
	}

	_, err = c.client.Actions.CreateOrUpdateRepoSecret(ctx, owner, repo, &github.EncryptedSecret{
		Name:           name,
		KeyID:          publicKey.GetKeyID(),
		EncryptedValue: encrypted,
	})

	return err
}

func (c *GitHubApiClient) DeleteSecret(ctx context.Context, owner string, repo string, name string) error {
	_, err := c.client.Actions.DeleteRepoSecret(ctx, owner, repo, name)
	if IsNotFound(err) {
		return nil
	}
	return err
}

func (c *GitHubApiClient) getPublicKey(ctx context.Context, owner string, repo string) (*github.PublicKey, error) {
	c.publicKeysMu.Lock()
	defer c.publicKeysMu.Unlock()

	cacheKey := owner + "/" + repo
	if key, ok := c.publicKeys[cacheKey]; ok {
		return key, nil
	}

	key, _, err := c.client.Actions.GetRepoPublicKey(ctx, owner, repo)
	if err != nil {
		return nil, fmt.Errorf("failed to get the public key of %s: %w", cacheKey, err)
	}

	c.publicKeys[cacheKey] = key
	return key, nil
}

// SealSecret encrypts the value with the base64 encoded repository public key, as required
// by the GitHub secrets API.
func SealSecret(publicKey string, value string) (string, error) {
	decoded, err := base64.StdEncoding.DecodeString(publicKey)
	if err != nil {
		return "", fmt.Errorf("failed to decode the repository public key: %w", err)
	}

	if len(decoded) != 32 {
		return "", fmt.Errorf("the repository public key should be 32 bytes, got %d", len(decoded))
	}

	var recipient [32]byte
	copy(recipient[:], decoded)

	sealed, err := box.SealAnonymous(nil, []byte(value), &recipient, rand.Reader)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt the secret: %w", err)
	}

	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (c *GitHubApiClient) GetVariable(ctx context.Context, owner string, repo string, name string) (value string, exists bool, funcErr error) {
	variable, _, err := c.client.Actions.GetRepoVariable(ctx, owner, repo, name)
	if IsNotFound(err) {
		return "", false, nil
	}

	if err != nil {
		return "", false, err
	}

	return variable.Value, true, nil
}

func (c *GitHubApiClient) SetVariable(ctx context.Context, owner string, repo string, name string, value string) error {
	variable := &github.ActionsVariable{Name: name, Value: value}

	_, err := c.client.Actions.UpdateRepoVariable(ctx, owner, repo, variable)
	if IsNotFound(err) {
		_, err = c.client.Actions.CreateRepoVariable(ctx, owner, repo, variable)
	}

	return err
}

func (c *GitHubApiClient) ListDeployKeys(ctx context.Context, owner string, repo string) ([]DeployKey, error) {
	keys := []DeployKey{}
	opts := &github.ListOptions{PerPage: 100}

	for {
		page, resp, err := c.client.Repositories.ListKeys(ctx, owner, repo, opts)
		if err != nil {
			return nil, err
		}

		for _, key := range page {
			keys = append(keys, DeployKey{
				Id:       key.GetID(),
				Title:    key.GetTitle(),
				Key:      key.GetKey(),
				ReadOnly: key.GetReadOnly(),
			})
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return keys, nil
}

func (c *GitHubApiClient) AddDeployKey(ctx context.Context, owner string, repo string, title string, key string, readOnly bool) error {
	_, _, err := c.client.Repositories.CreateKey(ctx, owner, repo, &github.Key{
		Title:    github.String(title),
		Key:      github.String(key),
		ReadOnly: github.Bool(readOnly),
	})
	return err
}

func (c *GitHubApiClient) DeleteDeployKey(ctx context.Context, owner string, repo string, id int64) error {
	_, err := c.client.Repositories.DeleteKey(ctx, owner, repo, id)
	if IsNotFound(err) {
		return nil
	}
	return err
}

func (c *GitHubApiClient) GetRepo(ctx context.Context, owner string, repo string) (RepoInfo, error) {
	repository, _, err := c.client.Repositories.Get(ctx, owner, repo)
	if IsNotFound(err) {
		return RepoInfo{Exists: false}, nil
	}

	if err != nil {
		return RepoInfo{}, err
	}

	return RepoInfo{
		Exists:        true,
		Fork:          repository.GetFork(),
		DefaultBranch: repository.GetDefaultBranch(),
	}, nil
}

func (c *GitHubApiClient) ForkRepo(ctx context.Context, upstreamOwner string, repo string, targetOwner string) error {
	login, err := c.AuthenticatedLogin(ctx)
	if err != nil {
		return err
	}

	opts := &github.RepositoryCreateForkOptions{}
	if targetOwner != login {
		opts.Organization = targetOwner
	}

	_, _, err = c.client.Repositories.CreateFork(ctx, upstreamOwner, repo, opts)

	// Forks are created asynchronously, and GitHub responds with a 202
	var accepted *github.AcceptedError
	if errors.As(err, &accepted) {
		zap.L().Info("Fork of " + upstreamOwner + "/" + repo + " was accepted and is being created")
		return nil
	}

	return err
}

func (c *GitHubApiClient) SyncFork(ctx context.Context, owner string, repo string, branch string) error {
	_, _, err := c.client.Repositories.MergeUpstream(ctx, owner, repo, &github.RepoMergeUpstreamRequest{
		Branch: github.String(branch),
	})
	return err
}

func (c *GitHubApiClient) TriggerWorkflow(ctx context.Context, owner string, repo string, workflow string, ref string, inputs map[string]any) error {
	_, err := c.client.Actions.CreateWorkflowDispatchEventByFileName(ctx, owner, repo, workflow, github.CreateWorkflowDispatchEventRequest{
		Ref:    ref,
		Inputs: inputs,
	})
	return err
}

// IsNotFound returns true if the error is a 404 response from GitHub.
func IsNotFound(err error) bool {
	return statusCode(err) == http.StatusNotFound
}

// IsUnauthorized returns true if GitHub rejected the credentials.
func IsUnauthorized(err error) bool {
	return statusCode(err) == http.StatusUnauthorized
}

// IsRetryable returns false for client errors that will fail the same way on every attempt.
// Rate limits, server errors and network errors are retried.
func IsRetryable(err error) bool {
	var rateLimitErr *github.RateLimitError
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &rateLimitErr) || errors.As(err, &abuseErr) {
		return true
	}

	code := statusCode(err)
	if code == 0 {
		return true
	}

	return code == http.StatusTooManyRequests || code == http.StatusConflict || code >= 500
}

func statusCode(err error) int {
	if err == nil {
		return 0
	}

	var responseErr *github.ErrorResponse
	if errors.As(err, &responseErr) && responseErr.Response != nil {
		return responseErr.Response.StatusCode
	}

	return 0
}
