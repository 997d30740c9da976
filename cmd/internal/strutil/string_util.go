package strutil

import (
	"strconv"
	"strings"
)

func DefaultIfEmpty(input string, defaultValue string) string {
	if strings.TrimSpace(input) == "" {
		return defaultValue
	}

	return input
}

// ParseBool reads a flag saved as a variable. Empty or unparsable values return defaultValue.
func ParseBool(input string, defaultValue bool) bool {
	value, err := strconv.ParseBool(strings.TrimSpace(input))

	if err != nil {
		return defaultValue
	}

	return value
}

// FormatBool is the form flags are saved in, which workflows compare against "true".
func FormatBool(input bool) string {
	return strconv.FormatBool(input)
}
