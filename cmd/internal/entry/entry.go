package entry

import (
	"context"
	"github.com/OctopusSolutionsEngineering/OctopusFleet/cmd/internal/args"
	"github.com/OctopusSolutionsEngineering/OctopusFleet/cmd/internal/azure"
	"github.com/OctopusSolutionsEngineering/OctopusFleet/cmd/internal/config"
	"github.com/OctopusSolutionsEngineering/OctopusFleet/cmd/internal/credentials"
	"github.com/OctopusSolutionsEngineering/OctopusFleet/cmd/internal/environment"
	"github.com/OctopusSolutionsEngineering/OctopusFleet/cmd/internal/faults"
	"github.com/OctopusSolutionsEngineering/OctopusFleet/cmd/internal/keys"
	"github.com/OctopusSolutionsEngineering/OctopusFleet/cmd/internal/prompt"
	"go.uber.org/zap"
)

// Entry loads the configuration, derives the environment and runs the selected action.
// Configuration problems are reported before anything remote is touched.
func Entry(ctx context.Context, arguments args.Arguments) error {
	configuration, err := config.Load(arguments.ConfigFile)
	if err != nil {
		return err
	}

	owner := arguments.Owner
	if owner == "" {
		owner, err = environment.DetectOwner(".")
		if err != nil {
			return &faults.ConfigurationError{Problems: []string{"the repository owner could not be detected, pass -owner: " + err.Error()}}
		}
	}

	env, err := environment.Derive(configuration, owner)
	if err != nil {
		return err
	}

	if env.Forked {
		zap.L().Info("Running as the fork " + env.ProjectName + ", certificates come from the staging issuer")
	}

	keyStore := keys.KeyStore{Dir: arguments.KeyDirectory}
	if keyStore.Dir == "" {
		keyStore, err = keys.DefaultKeyStore()
		if err != nil {
			return err
		}
	}

	prompter := prompt.NewTerminal(arguments.AssumeYes)

	pipeline := NewPipeline(arguments, configuration, env, prompter)
	pipeline.GitHubFactory = NewGitHubFactory(prompter)
	pipeline.Cloud = azure.NewClient(azure.AzCli{})
	pipeline.KeyStore = keyStore
	pipeline.IpLookup = credentials.NewIpLookup(credentials.DefaultIpServiceUrl)

	return pipeline.Run(ctx)
}
