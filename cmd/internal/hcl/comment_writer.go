package hcl

import (
	"github.com/hashicorp/hcl2/hcl/hclsyntax"
	"github.com/hashicorp/hcl2/hclwrite"
)

func WriteGeneratedComments(command string) []*hclwrite.Token {
	return []*hclwrite.Token{{
		Type: hclsyntax.TokenComment,
		Bytes: []byte("# Generated by octofleet. Changes are overwritten the next time this command runs:\n" +
			"# octofleet " + command + "\n"),
		SpacesBefore: 0,
	}}
}
