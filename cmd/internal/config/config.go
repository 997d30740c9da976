package config

import (
	"fmt"
	"github.com/OctopusSolutionsEngineering/OctopusFleet/cmd/internal/faults"
	"github.com/samber/lo"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
	"io"
	"regexp"
	"strings"
)

const (
	DeployedKey                    = "DEPLOYED"
	ProjectNameKey                 = "PROJECT_NAME"
	LocationKey                    = "LOCATION"
	DnsZoneKey                     = "DNS_ZONE"
	EnableCloudShellKey            = "ENABLE_CLOUDSHELL"
	ContentReposKey                = "CONTENT_REPOS"
	ThemeRepoKey                   = "THEME_REPO"
	LandingPageRepoKey             = "LANDING_PAGE_REPO"
	DocsBuilderRepoKey             = "DOCS_BUILDER_REPO"
	InfrastructureRepoKey          = "INFRASTRUCTURE_REPO"
	ManifestsInfrastructureRepoKey = "MANIFESTS_INFRASTRUCTURE_REPO"
	ManifestsApplicationsRepoKey   = "MANIFESTS_APPLICATIONS_REPO"
	ImageRepoKey                   = "IMAGE_REPO"
	ChartRepoKey                   = "CHART_REPO"
	DocsBuilderImageKey            = "DOCS_BUILDER_IMAGE"
)

var repoNameRegex = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)
var projectNameRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9-]*$`)

// Configuration is the validated content of the configuration file. It is not modified after Load returns.
type Configuration struct {
	Deployed         bool
	ProjectName      string
	Location         string
	DnsZone          string
	EnableCloudShell bool
	ContentRepos     []string

	ThemeRepo                   string
	LandingPageRepo             string
	DocsBuilderRepo             string
	InfrastructureRepo          string
	ManifestsInfrastructureRepo string
	ManifestsApplicationsRepo   string
	ImageRepo                   string
	ChartRepo                   string

	// DocsBuilderImage is optional, the environment supplies a default when it is empty.
	DocsBuilderImage string
}

// FixedRepos returns the infrastructure and build repositories in a stable order.
func (c Configuration) FixedRepos() []string {
	return []string{
		c.ThemeRepo,
		c.LandingPageRepo,
		c.DocsBuilderRepo,
		c.InfrastructureRepo,
		c.ManifestsInfrastructureRepo,
		c.ManifestsApplicationsRepo,
		c.ImageRepo,
		c.ChartRepo,
	}
}

// Load reads and validates the configuration file at path. Every validation problem is
// reported in a single faults.ConfigurationError.
func Load(path string) (Configuration, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return Configuration{}, &faults.ConfigurationError{Problems: []string{fmt.Sprintf("could not read %s: %v", path, err)}}
	}

	return fromViper(v)
}

// LoadFromReader parses configuration of the given type (e.g. "yaml") from a reader.
func LoadFromReader(reader io.Reader, configType string) (Configuration, error) {
	v := viper.New()
	v.SetConfigType(configType)

	if err := v.ReadConfig(reader); err != nil {
		return Configuration{}, &faults.ConfigurationError{Problems: []string{fmt.Sprintf("could not parse configuration: %v", err)}}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (Configuration, error) {
	val := validator{v: v}

	configuration := Configuration{
		Deployed:                    val.requiredBool(DeployedKey),
		ProjectName:                 val.requiredString(ProjectNameKey),
		Location:                    val.requiredString(LocationKey),
		DnsZone:                     val.requiredString(DnsZoneKey),
		EnableCloudShell:            val.optionalBool(EnableCloudShellKey, false),
		ContentRepos:                val.repoList(ContentReposKey),
		ThemeRepo:                   val.repo(ThemeRepoKey),
		LandingPageRepo:             val.repo(LandingPageRepoKey),
		DocsBuilderRepo:             val.repo(DocsBuilderRepoKey),
		InfrastructureRepo:          val.repo(InfrastructureRepoKey),
		ManifestsInfrastructureRepo: val.repo(ManifestsInfrastructureRepoKey),
		ManifestsApplicationsRepo:   val.repo(ManifestsApplicationsRepoKey),
		ImageRepo:                   val.repo(ImageRepoKey),
		ChartRepo:                   val.repo(ChartRepoKey),
		DocsBuilderImage:            strings.TrimSpace(cast.ToString(v.Get(DocsBuilderImageKey))),
	}

	if configuration.ProjectName != "" && !projectNameRegex.MatchString(configuration.ProjectName) {
		val.problem("%s must contain only letters, digits and dashes, got %q", ProjectNameKey, configuration.ProjectName)
	}

	if configuration.DnsZone != "" && (strings.HasPrefix(configuration.DnsZone, ".") || !strings.Contains(configuration.DnsZone, ".")) {
		val.problem("%s must be a domain name such as example.com, got %q", DnsZoneKey, configuration.DnsZone)
	}

	all := append(configuration.FixedRepos(), configuration.ContentRepos...)
	for _, duplicate := range lo.FindDuplicates(lo.Filter(all, func(item string, index int) bool { return item != "" })) {
		val.problem("repository %q is listed more than once", duplicate)
	}

	if len(val.problems) != 0 {
		return Configuration{}, &faults.ConfigurationError{Problems: val.problems}
	}

	return configuration, nil
}

type validator struct {
	v        *viper.Viper
	problems []string
}

func (val *validator) problem(format string, args ...any) {
	val.problems = append(val.problems, fmt.Sprintf(format, args...))
}

func (val *validator) requiredString(key string) string {
	if !val.v.IsSet(key) {
		val.problem("%s is required", key)
		return ""
	}

	value, err := cast.ToStringE(val.v.Get(key))
	if err != nil {
		val.problem("%s must be a string: %v", key, err)
		return ""
	}

	value = strings.TrimSpace(value)
	if value == "" {
		val.problem("%s must not be empty", key)
	}

	return value
}

func (val *validator) requiredBool(key string) bool {
	if !val.v.IsSet(key) {
		val.problem("%s is required", key)
		return false
	}

	return val.toBool(key)
}

func (val *validator) optionalBool(key string, defaultValue bool) bool {
	if !val.v.IsSet(key) {
		return defaultValue
	}

	return val.toBool(key)
}

func (val *validator) toBool(key string) bool {
	value, err := cast.ToBoolE(val.v.Get(key))
	if err != nil {
		val.problem("%s must be true or false: %v", key, err)
		return false
	}

	return value
}

func (val *validator) repo(key string) string {
	value := val.requiredString(key)
	if value != "" && !repoNameRegex.MatchString(value) {
		val.problem("%s is not a valid repository name: %q", key, value)
	}
	return value
}

// repoList allows the key to be missing, which means no content repositories.
func (val *validator) repoList(key string) []string {
	if !val.v.IsSet(key) {
		return []string{}
	}

	values, err := cast.ToStringSliceE(val.v.Get(key))
	if err != nil {
		val.problem("%s must be a list of repository names: %v", key, err)
		return []string{}
	}

	repos := []string{}
	for index, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			val.problem("%s[%d] must not be empty", key, index)
			continue
		}

		if !repoNameRegex.MatchString(value) {
			val.problem("%s[%d] is not a valid repository name: %q", key, index, value)
			continue
		}

		repos = append(repos, value)
	}

	return repos
}
