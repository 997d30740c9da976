package steps

import (
	"context"
	"github.com/OctopusSolutionsEngineering/OctopusFleet/cmd/internal/client"
	"github.com/OctopusSolutionsEngineering/OctopusFleet/cmd/internal/prompt"
	"github.com/OctopusSolutionsEngineering/OctopusFleet/cmd/internal/retrier"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DeployWorkflow = "deploy.yml"
	RunIdInput     = "run_id"
)

// Trigger dispatches the deployment workflow of the infrastructure repository.
type Trigger struct {
	Client   client.GitHubClient
	Prompter prompt.Prompter
	Owner    string
	Repo     string
	Workflow string
	Policy   retrier.Policy
}

func NewTrigger(githubClient client.GitHubClient, prompter prompt.Prompter, owner string, repo string) *Trigger {
	return &Trigger{
		Client:   githubClient,
		Prompter: prompter,
		Owner:    owner,
		Repo:     repo,
		Workflow: DeployWorkflow,
		Policy:   retrier.WritePolicy,
	}
}

// Fire asks the operator for confirmation and then dispatches the workflow on the default
// branch. It returns false when the operator declined.
func (t *Trigger) Fire(ctx context.Context) (bool, error) {
	confirmed, err := t.Prompter.Confirm("Configuration changed. Run the "+t.Workflow+" workflow in "+t.Repo+" now?", true)
	if err != nil {
		return false, err
	}

	if !confirmed {
		zap.L().Info("Skipping the deployment, run the " + t.Workflow + " workflow in " + t.Repo + " to apply the changes")
		return false, nil
	}

	policy := t.Policy
	policy.Retryable = client.IsRetryable

	repo, err := retrier.DoWithData(ctx, policy, "get repository "+t.Owner+"/"+t.Repo, func() (client.RepoInfo, error) {
		return t.Client.GetRepo(ctx, t.Owner, t.Repo)
	})
	if err != nil {
		return false, err
	}

	branch := repo.DefaultBranch
	if branch == "" {
		branch = "main"
	}

	runId := uuid.NewString()

	err = policy.Do(ctx, "trigger "+t.Workflow+" in "+t.Owner+"/"+t.Repo, func() error {
		return t.Client.TriggerWorkflow(ctx, t.Owner, t.Repo, t.Workflow, branch, map[string]any{RunIdInput: runId})
	})
	if err != nil {
		return false, err
	}

	zap.L().Info("Triggered deployment",
		zap.String("repo", t.Repo),
		zap.String("workflow", t.Workflow),
		zap.String("branch", branch),
		zap.String("runId", runId))
	return true, nil
}
