package environment

import (
	"errors"
	"github.com/OctopusSolutionsEngineering/OctopusFleet/cmd/internal/config"
	"github.com/OctopusSolutionsEngineering/OctopusFleet/cmd/internal/faults"
	"regexp"
	"testing"
)

func testConfiguration() config.Configuration {
	return config.Configuration{
		Deployed:                    true,
		ProjectName:                 "P",
		Location:                    "westeurope",
		DnsZone:                     "d.com",
		ThemeRepo:                   "theme",
		LandingPageRepo:             "landing",
		DocsBuilderRepo:             "docs-builder",
		InfrastructureRepo:          "infrastructure",
		ManifestsInfrastructureRepo: "manifests-infrastructure",
		ManifestsApplicationsRepo:   "manifests-applications",
		ImageRepo:                   "docs-image",
		ChartRepo:                   "docs-chart",
	}
}

func TestDeriveCanonicalOwner(t *testing.T) {
	env, err := Derive(testConfiguration(), "P")

	if err != nil {
		t.Fatalf("Should not have returned an error: %v", err)
	}

	if env.ProjectName != "P" {
		t.Fatalf("ProjectName should have been P, got %s", env.ProjectName)
	}

	if env.DnsZone != "d.com" {
		t.Fatalf("DnsZone should have been d.com, got %s", env.DnsZone)
	}

	if env.CertificateEndpoint != ProductionEndpoint || !env.IsProduction() {
		t.Fatalf("The production certificate endpoint should have been selected")
	}

	if env.Forked {
		t.Fatalf("The canonical owner is not a fork")
	}
}

func TestDeriveForkedOwner(t *testing.T) {
	env, err := Derive(testConfiguration(), "Q")

	if err != nil {
		t.Fatalf("Should not have returned an error: %v", err)
	}

	if env.ProjectName != "Q-P" {
		t.Fatalf("ProjectName should have been Q-P, got %s", env.ProjectName)
	}

	if env.DnsZone != "Q.d.com" {
		t.Fatalf("DnsZone should have been Q.d.com, got %s", env.DnsZone)
	}

	if env.CertificateEndpoint != StagingEndpoint {
		t.Fatalf("The staging certificate endpoint should have been selected")
	}

	if env.Fqdns.Docs != "docs.Q.d.com" || env.Fqdns.Hub != "hub.Q.d.com" {
		t.Fatalf("FQDNs should use the prefixed zone, got %+v", env.Fqdns)
	}

	if env.Organization != "Q" {
		t.Fatalf("Organization should have been Q")
	}
}

func TestDeriveIsDeterministic(t *testing.T) {
	first, _ := Derive(testConfiguration(), "Q")
	second, _ := Derive(testConfiguration(), "Q")

	if first != second {
		t.Fatalf("Identical inputs should produce identical environments")
	}
}

func TestDeriveRequiresOwner(t *testing.T) {
	_, err := Derive(testConfiguration(), " ")

	if faults.ExitCode(err) != faults.ExitConfiguration {
		t.Fatalf("A missing owner should be a configuration error, got %v", err)
	}
}

func TestStorageAccountName(t *testing.T) {
	name := StorageAccountName("rmmuap", "My_Project!!", "account")

	if name != "rmmuapmyprojectaccount" {
		t.Fatalf("expected rmmuapmyprojectaccount, got %s", name)
	}

	if !regexp.MustCompile(`^[a-z0-9]{3,24}$`).MatchString(name) {
		t.Fatalf("%s is not a valid storage account name", name)
	}
}

func TestStorageAccountNameTruncated(t *testing.T) {
	name := StorageAccountName("tfstate", "a-very-long-organization-docs", "account")

	if len(name) != 24 {
		t.Fatalf("expected 24 characters, got %d (%s)", len(name), name)
	}

	if name != "tfstateaverylongorganiza" {
		t.Fatalf("unexpected name %s", name)
	}
}

func TestValidateStorageAccountName(t *testing.T) {
	var stateErr *faults.ResourceStateError

	if err := ValidateStorageAccountName("ab"); !errors.As(err, &stateErr) {
		t.Fatalf("a two character name should be rejected")
	}

	if err := ValidateStorageAccountName("Upper123"); !errors.As(err, &stateErr) {
		t.Fatalf("uppercase characters should be rejected")
	}

	if err := ValidateStorageAccountName("tfstatedocsaccount"); err != nil {
		t.Fatalf("a valid name was rejected: %v", err)
	}
}

func TestNormalizeImage(t *testing.T) {
	tests := []struct {
		name     string
		image    string
		expected string
	}{
		{"default", "", "ghcr.io/octo/docs-image:latest"},
		{"docker hub style", "library/nginx", "ghcr.io/library/nginx:latest"},
		{"bare name", "nginx", "ghcr.io/nginx:latest"},
		{"registry and tag", "myregistry.azurecr.io/docs:1.2.3", "myregistry.azurecr.io/docs:1.2.3"},
		{"registry with port", "localhost:5000/docs", "localhost:5000/docs:latest"},
		{"digest", "ghcr.io/octo/docs@sha256:abc", "ghcr.io/octo/docs@sha256:abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := NormalizeImage(tt.image, "Octo", "Docs-Image"); result != tt.expected {
				t.Errorf("expected %s, got %s", tt.expected, result)
			}
		})
	}
}
