package repos

import (
	"github.com/OctopusSolutionsEngineering/OctopusFleet/cmd/internal/config"
	"github.com/samber/lo"
	"reflect"
	"testing"
)

func testConfiguration(content ...string) config.Configuration {
	return config.Configuration{
		ProjectName:                 "docs",
		ContentRepos:                content,
		ThemeRepo:                   "t",
		LandingPageRepo:             "l",
		DocsBuilderRepo:             "builder",
		InfrastructureRepo:          "infra",
		ManifestsInfrastructureRepo: "manifests-infra",
		ManifestsApplicationsRepo:   "manifests-apps",
		ImageRepo:                   "image",
		ChartRepo:                   "chart",
	}
}

func TestContentSet(t *testing.T) {
	sets := Classify(testConfiguration("a", "b"))

	expected := []string{"a", "b", "t", "l"}
	if !reflect.DeepEqual(sets.Content, expected) {
		t.Fatalf("expected %v, got %v", expected, sets.Content)
	}
}

func TestDeployKeyTargets(t *testing.T) {
	sets := Classify(testConfiguration("a"))

	expected := []string{"manifests-infra", "manifests-apps"}
	if !reflect.DeepEqual(sets.DeployKeyTargets, expected) {
		t.Fatalf("expected %v, got %v", expected, sets.DeployKeyTargets)
	}
}

func TestCredentialTargets(t *testing.T) {
	sets := Classify(testConfiguration("a", "b"))

	expected := []string{"a", "b", "t", "l", "infra", "manifests-infra", "manifests-apps", "builder"}
	if !reflect.DeepEqual(sets.CredentialTargets, expected) {
		t.Fatalf("expected %v, got %v", expected, sets.CredentialTargets)
	}
}

func TestAllContainsEveryRepoOnce(t *testing.T) {
	configuration := testConfiguration("a", "b")
	sets := Classify(configuration)

	for _, repo := range append(configuration.FixedRepos(), "a", "b") {
		if lo.Count(sets.All, repo) != 1 {
			t.Errorf("%s should appear exactly once in %v", repo, sets.All)
		}
	}

	if len(sets.All) != 10 {
		t.Fatalf("expected 10 repos, got %d", len(sets.All))
	}
}

func TestEmptyContentRepos(t *testing.T) {
	sets := Classify(testConfiguration())

	if !reflect.DeepEqual(sets.Content, []string{"t", "l"}) {
		t.Fatalf("content should only hold the theme and landing page, got %v", sets.Content)
	}
}

func TestClassifyIsStable(t *testing.T) {
	configuration := testConfiguration("a", "b")

	if !reflect.DeepEqual(Classify(configuration), Classify(configuration)) {
		t.Fatalf("classification should be deterministic")
	}
}
