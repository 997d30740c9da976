package keys

import (
	"github.com/OctopusSolutionsEngineering/OctopusFleet/cmd/internal/client"
	"github.com/samber/lo"
)

// ReplacementStrategy decides what happens to the deploy keys already registered under a label.
type ReplacementStrategy interface {
	// Plan returns the ids of the existing keys to delete, and whether the local public key must be added.
	Plan(existing []client.DeployKey, label string, publicKey string) (deleteIds []int64, add bool)
}

// LabelReplacement deletes every key with the label and adds the local key. Every run
// rotates the remote key to the local key, even when they are the same.
type LabelReplacement struct {
}

func (LabelReplacement) Plan(existing []client.DeployKey, label string, publicKey string) ([]int64, bool) {
	return idsWithTitle(existing, label), true
}

// FingerprintReplacement leaves the remote key alone when the only key under the label
// already has the fingerprint of the local key.
type FingerprintReplacement struct {
}

func (FingerprintReplacement) Plan(existing []client.DeployKey, label string, publicKey string) ([]int64, bool) {
	labelled := lo.Filter(existing, func(item client.DeployKey, index int) bool {
		return item.Title == label
	})

	if len(labelled) == 1 {
		remote, remoteErr := Fingerprint(labelled[0].Key)
		local, localErr := Fingerprint(publicKey)
		if remoteErr == nil && localErr == nil && remote == local {
			return []int64{}, false
		}
	}

	return idsWithTitle(existing, label), true
}

func idsWithTitle(existing []client.DeployKey, label string) []int64 {
	return lo.FilterMap(existing, func(item client.DeployKey, index int) (int64, bool) {
		return item.Id, item.Title == label
	})
}
