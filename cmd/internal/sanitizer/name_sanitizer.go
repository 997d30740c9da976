package sanitizer

import (
	"regexp"
	"strings"
)

var nonAlphanumeric = regexp.MustCompile(`[^A-Za-z0-9]`)
var nonLowerAlphanumeric = regexp.MustCompile(`[^a-z0-9]`)

// SanitizeSecretName creates a string that can be used as a GitHub secret or variable name
func SanitizeSecretName(name string) string {
	return strings.ToUpper(nonAlphanumeric.ReplaceAllString(name, "_"))
}

// SanitizeStorageName lowercases the name and removes any character that Azure does not
// allow in a storage account name
func SanitizeStorageName(name string) string {
	return nonLowerAlphanumeric.ReplaceAllString(strings.ToLower(name), "")
}
