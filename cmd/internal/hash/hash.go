package hash

import (
	"github.com/google/uuid"
	"github.com/zeebo/xxh3"
	"strings"
)

// DeterministicGuid returns a GUID derived from the parts. The same parts always return the same GUID.
func DeterministicGuid(parts ...string) string {
	h := xxh3.HashString128(strings.Join(parts, "|")).Bytes()
	guid, _ := uuid.FromBytes(h[:])
	return guid.String()
}
