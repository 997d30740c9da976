package args

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"github.com/OctopusSolutionsEngineering/OctopusFleet/cmd/internal/faults"
	"github.com/samber/lo"
	"github.com/spf13/viper"
	"strings"
)

type Action string

const (
	ActionInitialize           Action = "initialize"
	ActionDestroy              Action = "destroy"
	ActionCreateAzureResources Action = "create-azure-resources"
	ActionSyncForks            Action = "sync-forks"
	ActionDeployKeys           Action = "deploy-keys"
	ActionHtpasswd             Action = "htpasswd"
	ActionManagementIp         Action = "management-ip"
	ActionHubPassword          Action = "hub-passwd"
	ActionCloudShellSecrets    Action = "cloudshell-secrets"
)

// Actions lists every action in the order they are described in the usage.
var Actions = []Action{
	ActionInitialize,
	ActionDestroy,
	ActionCreateAzureResources,
	ActionSyncForks,
	ActionDeployKeys,
	ActionHtpasswd,
	ActionManagementIp,
	ActionHubPassword,
	ActionCloudShellSecrets,
}

type Arguments struct {
	ArgsFile string
	ArgsPath string
	Version  bool

	// Action is the single action selected on the command line.
	Action  Action
	actions map[Action]*bool

	ConfigFile          string
	Owner               string
	Parallelism         int
	Verbose             bool
	AssumeYes           bool
	Destination         string
	Console             bool
	ManagementIpAddress string
	KeyDirectory        string
	FingerprintKeys     bool
	BackupDirectory     string
}

var actionDescriptions = map[Action]string{
	ActionInitialize:           "Run every step: Azure resources, credentials, deploy keys, variables and secrets. This is the default.",
	ActionDestroy:              "Back up the local deploy keys, then delete the resource group and the app registrations.",
	ActionCreateAzureResources: "Create the resource group, the state storage account and the state container.",
	ActionSyncForks:            "Fork every managed repository into the owner, or sync the existing forks with their upstream.",
	ActionDeployKeys:           "Generate deploy keys, register them on the manifests repositories, and save the private keys as secrets.",
	ActionHtpasswd:             "Set the basic auth credentials.",
	ActionManagementIp:         "Save the public IP address of this machine as the management IP.",
	ActionHubPassword:          "Set the hub password.",
	ActionCloudShellSecrets:    "Set the cloud shell password and session secret.",
}

func ParseArgs(args []string) (Arguments, string, error) {
	flags := flag.NewFlagSet("octofleet", flag.ContinueOnError)
	var buf bytes.Buffer
	flags.SetOutput(&buf)

	arguments := Arguments{
		actions: map[Action]*bool{},
	}

	flags.StringVar(&arguments.ArgsFile, "argsFile", "octofleet", "The name of a file supplying default arguments. Do not include the extension. Defaults to octofleet")
	flags.StringVar(&arguments.ArgsPath, "argsPath", ".", "The path of the file supplying default arguments. Defaults to the current directory")
	flags.BoolVar(&arguments.Version, "version", false, "Print the version")

	for _, action := range Actions {
		arguments.actions[action] = flags.Bool(string(action), false, actionDescriptions[action])
	}

	flags.StringVar(&arguments.ConfigFile, "config", "config.yaml", "The YAML file describing the fleet")
	flags.StringVar(&arguments.Owner, "owner", "", "The GitHub owner of the repositories. Defaults to the owner of the origin remote of the current git repository")
	flags.IntVar(&arguments.Parallelism, "parallelism", 1, "The number of repositories updated at the same time. Repositories are updated one at a time by default")
	flags.BoolVar(&arguments.Verbose, "verbose", false, "Print debug messages")
	flags.BoolVar(&arguments.AssumeYes, "yes", false, "Answer yes to every confirmation")
	flags.StringVar(&arguments.Destination, "dest", "", "The directory to save the generated Terraform backend files in")
	flags.BoolVar(&arguments.Console, "console", false, "Print the generated Terraform backend files to the console")
	flags.StringVar(&arguments.ManagementIpAddress, "managementIp", "", "The management IP address. Defaults to the public IP address of this machine")
	flags.StringVar(&arguments.KeyDirectory, "keyDir", "", "The directory holding the deploy keys. Defaults to ~/.octofleet/keys")
	flags.BoolVar(&arguments.FingerprintKeys, "fingerprintKeys", false, "Only replace a deploy key when its fingerprint changed, instead of rotating it on every run")
	flags.StringVar(&arguments.BackupDirectory, "backupDir", "", "The directory the deploy keys are copied to before -destroy removes them. Defaults to a timestamped directory next to the keys")

	err := flags.Parse(args)

	if err != nil {
		return Arguments{}, buf.String(), err
	}

	err = overrideArgs(flags, arguments.ArgsPath, arguments.ArgsFile)

	if err != nil {
		return Arguments{}, buf.String(), err
	}

	if err := arguments.selectAction(); err != nil {
		return Arguments{}, buf.String(), err
	}

	if arguments.Parallelism < 1 {
		return Arguments{}, buf.String(), &faults.ConfigurationError{Problems: []string{fmt.Sprintf("-parallelism must be at least 1, got %d", arguments.Parallelism)}}
	}

	return arguments, buf.String(), nil
}

// Usage returns the flag descriptions.
func Usage() string {
	_, usage, _ := ParseArgs([]string{"-help"})
	return usage
}

func (arguments *Arguments) selectAction() error {
	selected := lo.Filter(Actions, func(action Action, index int) bool {
		return *arguments.actions[action]
	})

	switch len(selected) {
	case 0:
		arguments.Action = ActionInitialize
	case 1:
		arguments.Action = selected[0]
	default:
		names := lo.Map(selected, func(action Action, index int) string {
			return "-" + string(action)
		})
		return &faults.ConfigurationError{Problems: []string{"only one action can be run at a time, got " + strings.Join(names, ", ")}}
	}

	return nil
}

// Inspired by https://github.com/carolynvs/stingoftheviper
// Viper needs manual handling to implement reading settings from env vars, config files, and from the command line
func overrideArgs(flags *flag.FlagSet, argsPath string, argsFile string) error {
	v := viper.New()

	// Set the base name of the args file, without the file extension.
	v.SetConfigName(argsFile)

	v.AddConfigPath(argsPath)

	// It's okay if there isn't an args file, but an args file that can't be parsed is an error.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
	}

	// A flag like -sync-forks binds to the environment variable OCTOFLEET_SYNC_FORKS
	v.SetEnvPrefix("octofleet")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	return bindFlags(flags, v)
}

// Bind each flag to its associated viper configuration (args file and environment variable).
// Flags passed on the command line win.
func bindFlags(flags *flag.FlagSet, v *viper.Viper) error {
	var funcError error = nil

	flags.VisitAll(func(allFlags *flag.Flag) {
		defined := false
		flags.Visit(func(definedFlag *flag.Flag) {
			if definedFlag.Name == allFlags.Name {
				defined = true
			}
		})

		if defined || allFlags.Name == "argsFile" || allFlags.Name == "argsPath" {
			return
		}

		if v.IsSet(allFlags.Name) {
			err := flags.Set(allFlags.Name, v.GetString(allFlags.Name))
			funcError = errors.Join(funcError, err)
		}
	})

	return funcError
}
