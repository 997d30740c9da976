package terraform

const AzureRmBackendType = "azurerm"

type TerraformConfig struct {
	Backend *Backend `hcl:"backend,block"`
}

type Backend struct {
	Type string `hcl:"type,label"`
}

// AzureRmBackendConfig is the partial configuration passed to terraform init with -backend-config.
type AzureRmBackendConfig struct {
	ResourceGroupName  string `hcl:"resource_group_name"`
	StorageAccountName string `hcl:"storage_account_name"`
	ContainerName      string `hcl:"container_name"`
	Key                string `hcl:"key"`
}

func (c TerraformConfig) CreateTerraformConfig(backend string) TerraformConfig {
	config := TerraformConfig{}

	if backend != "" {
		config.Backend = &Backend{Type: backend}
	}

	return config
}
