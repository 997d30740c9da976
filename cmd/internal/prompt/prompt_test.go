package prompt

import (
	"testing"
)

func TestParseAnswer(t *testing.T) {
	tests := []struct {
		answer       string
		defaultValue bool
		value        bool
		understood   bool
	}{
		{"", true, true, true},
		{"\n", false, false, true},
		{"Y\n", false, true, true},
		{" yes ", false, true, true},
		{"n", true, false, true},
		{"NO", true, false, true},
		{"maybe", true, false, false},
	}

	for _, test := range tests {
		t.Run(test.answer, func(t *testing.T) {
			value, understood := ParseAnswer(test.answer, test.defaultValue)
			if value != test.value || understood != test.understood {
				t.Errorf("Expected %v %v, got %v %v", test.value, test.understood, value, understood)
			}
		})
	}
}

func TestAssumeYes(t *testing.T) {
	terminal := NewTerminal(true)

	answer, err := terminal.Confirm("Continue?", false)
	if err != nil || !answer {
		t.Fatalf("AssumeYes should answer yes")
	}
}

func TestScripted(t *testing.T) {
	scripted := &Scripted{Confirmations: []bool{false}, Secrets: []string{"hunter2"}}

	if answer, _ := scripted.Confirm("first", true); answer {
		t.Fatalf("The scripted answer should have been used")
	}

	if answer, _ := scripted.Confirm("second", true); !answer {
		t.Fatalf("The default should be used once the answers run out")
	}

	if secret, err := scripted.Secret("password"); err != nil || secret != "hunter2" {
		t.Fatalf("Unexpected secret %v", err)
	}

	if _, err := scripted.Secret("password"); err == nil {
		t.Fatalf("Expected an error once the secrets run out")
	}

	if len(scripted.Questions) != 4 {
		t.Fatalf("Every question should be recorded")
	}
}
