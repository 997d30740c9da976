package environment

import (
	"fmt"
	"github.com/OctopusSolutionsEngineering/OctopusFleet/cmd/internal/config"
	"github.com/OctopusSolutionsEngineering/OctopusFleet/cmd/internal/faults"
	"github.com/OctopusSolutionsEngineering/OctopusFleet/cmd/internal/sanitizer"
	"strings"
)

const (
	StorageAccountPrefix = "tfstate"
	StorageAccountSuffix = "account"
	StorageContainerName = "tfstate"
	DefaultRegistry      = "ghcr.io"
	DefaultImageTag      = "latest"
)

type CertificateEndpoint string

const (
	ProductionEndpoint CertificateEndpoint = "https://acme-v02.api.letsencrypt.org/directory"
	StagingEndpoint    CertificateEndpoint = "https://acme-staging-v02.api.letsencrypt.org/directory"
)

// Fqdns are the host names of the applications served from the DNS zone.
type Fqdns struct {
	LandingPage string
	Docs        string
	Hub         string
	CloudShell  string
	Dashboard   string
}

// Environment holds every name derived from the configuration and the detected owner.
// It is computed once and then only read.
type Environment struct {
	Organization         string
	ProjectName          string
	DnsZone              string
	Forked               bool
	CertificateEndpoint  CertificateEndpoint
	Fqdns                Fqdns
	ResourceGroupName    string
	StorageAccountName   string
	StorageContainerName string
	ServicePrincipalName string
	HubApplicationName   string
	DocsBuilderImage     string
}

// IsProduction is true when certificates come from the production issuer.
func (e Environment) IsProduction() bool {
	return e.CertificateEndpoint == ProductionEndpoint
}

// Derive computes the Environment. When the detected owner is not the configured project,
// the run is a fork and both the project name and the DNS zone are prefixed with the owner.
func Derive(configuration config.Configuration, detectedOwner string) (Environment, error) {
	if strings.TrimSpace(detectedOwner) == "" {
		return Environment{}, &faults.ConfigurationError{Problems: []string{"the repository owner could not be determined, pass -owner"}}
	}

	projectName := configuration.ProjectName
	dnsZone := configuration.DnsZone
	endpoint := ProductionEndpoint
	forked := false

	if detectedOwner != configuration.ProjectName {
		projectName = detectedOwner + "-" + projectName
		dnsZone = detectedOwner + "." + dnsZone
		endpoint = StagingEndpoint
		forked = true
	}

	storageAccountName := StorageAccountName(StorageAccountPrefix, projectName, StorageAccountSuffix)
	if err := ValidateStorageAccountName(storageAccountName); err != nil {
		return Environment{}, err
	}

	return Environment{
		Organization:        detectedOwner,
		ProjectName:         projectName,
		DnsZone:             dnsZone,
		Forked:              forked,
		CertificateEndpoint: endpoint,
		Fqdns: Fqdns{
			LandingPage: "www." + dnsZone,
			Docs:        "docs." + dnsZone,
			Hub:         "hub." + dnsZone,
			CloudShell:  "shell." + dnsZone,
			Dashboard:   "argocd." + dnsZone,
		},
		ResourceGroupName:    projectName + "-rg",
		StorageAccountName:   storageAccountName,
		StorageContainerName: StorageContainerName,
		ServicePrincipalName: projectName + "-automation",
		HubApplicationName:   projectName + "-hub",
		DocsBuilderImage:     NormalizeImage(configuration.DocsBuilderImage, detectedOwner, configuration.ImageRepo),
	}, nil
}

// StorageAccountName joins the parts, lowercases them, drops everything outside [a-z0-9]
// and truncates the result to 24 characters.
func StorageAccountName(prefix string, projectName string, suffix string) string {
	name := sanitizer.SanitizeStorageName(prefix + projectName + suffix)
	if len(name) > 24 {
		return name[:24]
	}
	return name
}

// ValidateStorageAccountName enforces the Azure storage account naming rules.
func ValidateStorageAccountName(name string) error {
	if len(name) < 3 || len(name) > 24 {
		return &faults.ResourceStateError{
			Resource: "storage account name " + name,
			Reason:   fmt.Sprintf("must be between 3 and 24 characters, got %d", len(name)),
		}
	}

	if sanitizer.SanitizeStorageName(name) != name {
		return &faults.ResourceStateError{
			Resource: "storage account name " + name,
			Reason:   "must contain only lowercase letters and digits",
		}
	}

	return nil
}

// NormalizeImage fills in the registry and tag of an image reference. An empty image
// defaults to the image repository of the owner.
func NormalizeImage(image string, owner string, imageRepo string) string {
	if strings.TrimSpace(image) == "" {
		image = DefaultRegistry + "/" + strings.ToLower(owner) + "/" + strings.ToLower(imageRepo)
	}

	firstSegment, _, hasPath := strings.Cut(image, "/")
	if !hasPath || !(strings.ContainsAny(firstSegment, ".:") || firstSegment == "localhost") {
		image = DefaultRegistry + "/" + image
	}

	if strings.Contains(image, "@") {
		return image
	}

	lastSegment := image[strings.LastIndex(image, "/")+1:]
	if !strings.Contains(lastSegment, ":") {
		image += ":" + DefaultImageTag
	}

	return image
}
