package entry

import (
	"context"
	"errors"
	"github.com/OctopusSolutionsEngineering/OctopusFleet/cmd/internal/client"
	"github.com/OctopusSolutionsEngineering/OctopusFleet/cmd/internal/faults"
	"github.com/OctopusSolutionsEngineering/OctopusFleet/cmd/internal/prompt"
	"os"
	"strings"
)

var tokenVariables = []string{"GITHUB_TOKEN", "GH_TOKEN"}

// GitHubToken reads the token from the environment, or asks for it when a terminal is attached.
func GitHubToken(prompter prompt.Prompter) (string, error) {
	for _, name := range tokenVariables {
		if token := strings.TrimSpace(os.Getenv(name)); token != "" {
			return token, nil
		}
	}

	if !prompter.Interactive() {
		return "", &faults.AuthenticationError{
			Platform: "GitHub",
			Err:      errors.New("set the GITHUB_TOKEN or GH_TOKEN environment variable"),
		}
	}

	token, err := prompter.Secret("GitHub token")
	if err != nil {
		return "", &faults.AuthenticationError{Platform: "GitHub", Err: err}
	}

	if strings.TrimSpace(token) == "" {
		return "", &faults.AuthenticationError{Platform: "GitHub", Err: errors.New("no token was entered")}
	}

	return strings.TrimSpace(token), nil
}

// NewGitHubFactory builds the API client from the token returned by GitHubToken.
func NewGitHubFactory(prompter prompt.Prompter) func(ctx context.Context) (client.GitHubClient, error) {
	return func(ctx context.Context) (client.GitHubClient, error) {
		token, err := GitHubToken(prompter)
		if err != nil {
			return nil, err
		}

		return client.NewGitHubApiClient(ctx, token), nil
	}
}
