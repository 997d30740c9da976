package strutil

import "testing"

func TestDefaultIfEmpty(t *testing.T) {
	if DefaultIfEmpty("", "main") != "main" {
		t.Fatalf("result should have been the default")
	}

	if DefaultIfEmpty("  ", "main") != "main" {
		t.Fatalf("whitespace should be treated as empty")
	}

	if DefaultIfEmpty("trunk", "main") != "trunk" {
		t.Fatalf("result should have been the input")
	}
}

func TestParseBool(t *testing.T) {
	tests := []struct {
		input        string
		defaultValue bool
		expected     bool
	}{
		{"true", false, true},
		{"TRUE", false, true},
		{" false\n", true, false},
		{"", true, true},
		{"", false, false},
		{"yes please", true, true},
	}

	for _, test := range tests {
		t.Run(test.input, func(t *testing.T) {
			if ParseBool(test.input, test.defaultValue) != test.expected {
				t.Errorf("Expected %v for %q", test.expected, test.input)
			}
		})
	}
}

func TestFormatBool(t *testing.T) {
	if FormatBool(true) != "true" || FormatBool(false) != "false" {
		t.Fatalf("flags should be saved as true or false")
	}
}
