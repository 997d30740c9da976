package repos

import (
	"github.com/OctopusSolutionsEngineering/OctopusFleet/cmd/internal/config"
	"github.com/samber/lo"
)

// Sets are the named groups of repositories that steps operate on. The groups overlap.
type Sets struct {
	// Content holds the repositories whose content is published: the content repos, theme and landing page.
	Content []string
	// DeployKeyTargets receive a read only deploy key.
	DeployKeyTargets []string
	// CredentialTargets receive the cloud credentials and shared variables.
	CredentialTargets []string
	// All holds every managed repository exactly once.
	All []string
}

// Classify computes the repository sets. It does no I/O and preserves the order of the configuration.
func Classify(configuration config.Configuration) Sets {
	content := append(append([]string{}, configuration.ContentRepos...),
		configuration.ThemeRepo,
		configuration.LandingPageRepo)

	deployKeyTargets := []string{
		configuration.ManifestsInfrastructureRepo,
		configuration.ManifestsApplicationsRepo,
	}

	credentialTargets := append(append([]string{}, content...),
		configuration.InfrastructureRepo,
		configuration.ManifestsInfrastructureRepo,
		configuration.ManifestsApplicationsRepo,
		configuration.DocsBuilderRepo)

	all := lo.Uniq(append(configuration.FixedRepos(), configuration.ContentRepos...))

	return Sets{
		Content:           lo.Uniq(content),
		DeployKeyTargets:  deployKeyTargets,
		CredentialTargets: lo.Uniq(credentialTargets),
		All:               all,
	}
}
