package client

import (
	"context"
	"fmt"
	"github.com/google/go-github/v66/github"
	"github.com/samber/lo"
	"net/http"
	"sync"
)

// Call records a single request made against a MemoryClient.
type Call struct {
	Method string
	Owner  string
	Repo   string
	Name   string
}

// MemoryClient is a GitHubClient that keeps all state in memory. It records every call,
// and can be told to fail individual methods for individual repositories.
type MemoryClient struct {
	mu sync.Mutex

	Login      string
	Secrets    map[string]map[string]string
	Variables  map[string]map[string]string
	DeployKeys map[string][]DeployKey
	Repos      map[string]RepoInfo
	// Failures maps "Method owner/repo" to the error returned by that call.
	Failures map[string]error
	Calls    []Call

	nextKeyId int64
}

var _ GitHubClient = (*MemoryClient)(nil)

func NewMemoryClient(login string) *MemoryClient {
	return &MemoryClient{
		Login:      login,
		Secrets:    map[string]map[string]string{},
		Variables:  map[string]map[string]string{},
		DeployKeys: map[string][]DeployKey{},
		Repos:      map[string]RepoInfo{},
		Failures:   map[string]error{},
	}
}

// NotFound builds the error GitHub returns for a missing resource.
func NotFound() error {
	return &github.ErrorResponse{Response: &http.Response{StatusCode: http.StatusNotFound}, Message: "Not Found"}
}

// Fail makes every call of method against owner/repo return err.
func (m *MemoryClient) Fail(method string, owner string, repo string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Failures[method+" "+owner+"/"+repo] = err
}

// CallsTo returns the recorded calls of a method, in order.
func (m *MemoryClient) CallsTo(method string) []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return lo.Filter(m.Calls, func(item Call, index int) bool {
		return item.Method == method
	})
}

func (m *MemoryClient) record(method string, owner string, repo string, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, Call{Method: method, Owner: owner, Repo: repo, Name: name})
	return m.Failures[method+" "+owner+"/"+repo]
}

func (m *MemoryClient) AuthenticatedLogin(ctx context.Context) (string, error) {
	if err := m.record("AuthenticatedLogin", "", "", ""); err != nil {
		return "", err
	}
	return m.Login, nil
}

func (m *MemoryClient) SecretExists(ctx context.Context, owner string, repo string, name string) (bool, error) {
	if err := m.record("SecretExists", owner, repo, name); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.Secrets[owner+"/"+repo][name]
	return ok, nil
}

func (m *MemoryClient) SetSecret(ctx context.Context, owner string, repo string, name string, value string) error {
	if err := m.record("SetSecret", owner, repo, name); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.Secrets[owner+"/"+repo]; !ok {
		m.Secrets[owner+"/"+repo] = map[string]string{}
	}
	m.Secrets[owner+"/"+repo][name] = value
	return nil
}

func (m *MemoryClient) DeleteSecret(ctx context.Context, owner string, repo string, name string) error {
	if err := m.record("DeleteSecret", owner, repo, name); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Secrets[owner+"/"+repo], name)
	return nil
}

func (m *MemoryClient) GetVariable(ctx context.Context, owner string, repo string, name string) (string, bool, error) {
	if err := m.record("GetVariable", owner, repo, name); err != nil {
		return "", false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.Variables[owner+"/"+repo][name]
	return value, ok, nil
}

func (m *MemoryClient) SetVariable(ctx context.Context, owner string, repo string, name string, value string) error {
	if err := m.record("SetVariable", owner, repo, name); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.Variables[owner+"/"+repo]; !ok {
		m.Variables[owner+"/"+repo] = map[string]string{}
	}
	m.Variables[owner+"/"+repo][name] = value
	return nil
}

func (m *MemoryClient) ListDeployKeys(ctx context.Context, owner string, repo string) ([]DeployKey, error) {
	if err := m.record("ListDeployKeys", owner, repo, ""); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]DeployKey{}, m.DeployKeys[owner+"/"+repo]...), nil
}

func (m *MemoryClient) AddDeployKey(ctx context.Context, owner string, repo string, title string, key string, readOnly bool) error {
	if err := m.record("AddDeployKey", owner, repo, title); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.DeployKeys[owner+"/"+repo] {
		if existing.Title == title {
			return fmt.Errorf("a deploy key titled %s already exists on %s/%s", title, owner, repo)
		}
	}

	m.nextKeyId++
	m.DeployKeys[owner+"/"+repo] = append(m.DeployKeys[owner+"/"+repo], DeployKey{
		Id:       m.nextKeyId,
		Title:    title,
		Key:      key,
		ReadOnly: readOnly,
	})
	return nil
}

func (m *MemoryClient) DeleteDeployKey(ctx context.Context, owner string, repo string, id int64) error {
	if err := m.record("DeleteDeployKey", owner, repo, fmt.Sprint(id)); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.DeployKeys[owner+"/"+repo] = lo.Filter(m.DeployKeys[owner+"/"+repo], func(item DeployKey, index int) bool {
		return item.Id != id
	})
	return nil
}

func (m *MemoryClient) GetRepo(ctx context.Context, owner string, repo string) (RepoInfo, error) {
	if err := m.record("GetRepo", owner, repo, ""); err != nil {
		return RepoInfo{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Repos[owner+"/"+repo], nil
}

func (m *MemoryClient) ForkRepo(ctx context.Context, upstreamOwner string, repo string, targetOwner string) error {
	if err := m.record("ForkRepo", upstreamOwner, repo, targetOwner); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.Repos[targetOwner+"/"+repo] = RepoInfo{Exists: true, Fork: true, DefaultBranch: "main"}
	return nil
}

func (m *MemoryClient) SyncFork(ctx context.Context, owner string, repo string, branch string) error {
	return m.record("SyncFork", owner, repo, branch)
}

func (m *MemoryClient) TriggerWorkflow(ctx context.Context, owner string, repo string, workflow string, ref string, inputs map[string]any) error {
	return m.record("TriggerWorkflow", owner, repo, workflow)
}
