package hcl

import (
	"github.com/OctopusSolutionsEngineering/OctopusFleet/cmd/internal/environment"
	"github.com/OctopusSolutionsEngineering/OctopusFleet/cmd/internal/model/terraform"
	"github.com/hashicorp/hcl2/gohcl"
	"github.com/hashicorp/hcl2/hclwrite"
)

const (
	BackendConfigFile = "backend.tfbackend"
	BackendBlockFile  = "backend.tf"
	StateKey          = "terraform.tfstate"
)

// BackendConfig renders the azurerm backend settings pointing at the state container of the environment.
func BackendConfig(env environment.Environment) string {
	file := hclwrite.NewEmptyFile()
	gohcl.EncodeIntoBody(terraform.AzureRmBackendConfig{
		ResourceGroupName:  env.ResourceGroupName,
		StorageAccountName: env.StorageAccountName,
		ContainerName:      env.StorageContainerName,
		Key:                StateKey,
	}, file.Body())

	// EncodeIntoBody rebuilds the body, so the comment is added to the rendered bytes
	content := append(hclwrite.Tokens(WriteGeneratedComments("-initialize")).Bytes(), file.Bytes()...)

	return string(hclwrite.Format(content))
}

// BackendBlock renders the terraform block that declares the azurerm backend. The settings come from BackendConfig.
func BackendBlock() string {
	file := hclwrite.NewEmptyFile()
	config := terraform.TerraformConfig{}.CreateTerraformConfig(terraform.AzureRmBackendType)
	file.Body().AppendBlock(gohcl.EncodeAsBlock(config, "terraform"))

	return string(hclwrite.Format(file.Bytes()))
}

// BackendFiles maps the generated file names to their contents.
func BackendFiles(env environment.Environment) map[string]string {
	return map[string]string{
		BackendConfigFile: BackendConfig(env),
		BackendBlockFile:  BackendBlock(),
	}
}
