package faults

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"nil", nil, ExitSuccess},
		{"generic", errors.New("boom"), ExitFailure},
		{"configuration", &ConfigurationError{Problems: []string{"a"}}, ExitConfiguration},
		{"authentication", &AuthenticationError{Platform: "GitHub", Err: errors.New("no token")}, ExitAuthentication},
		{"remote write", &RemoteWriteFailure{Action: "set secret", Attempts: 3, Err: errors.New("503")}, ExitRemote},
		{"wrapped remote write", fmt.Errorf("step failed: %w", &RemoteWriteFailure{Action: "x", Attempts: 3, Err: errors.New("503")}), ExitRemote},
		{"resource state", &ResourceStateError{Resource: "storage account", Reason: "too short"}, ExitFailure},
		{"partial batch", &PartialBatchFailure{Operation: "set", Total: 3, Succeeded: 2, Failures: map[string]error{"b": errors.New("x")}}, ExitRemote},
		{"joined configuration wins", errors.Join(errors.New("x"), &ConfigurationError{Problems: []string{"a"}}), ExitConfiguration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code := ExitCode(tt.err); code != tt.expected {
				t.Errorf("expected %d, got %d", tt.expected, code)
			}
		})
	}
}

func TestPartialBatchFailureMessage(t *testing.T) {
	err := &PartialBatchFailure{
		Operation: "set secret TOKEN",
		Total:     3,
		Succeeded: 1,
		Failures: map[string]error{
			"zeta":  errors.New("timeout"),
			"alpha": errors.New("503"),
		},
	}

	message := err.Error()

	if !strings.HasPrefix(message, "set secret TOKEN succeeded for 1/3 targets") {
		t.Fatalf("unexpected message %q", message)
	}

	if strings.Index(message, "alpha") > strings.Index(message, "zeta") {
		t.Fatalf("targets should be listed in sorted order: %q", message)
	}
}

func TestConfigurationErrorListsEveryProblem(t *testing.T) {
	err := &ConfigurationError{Problems: []string{"PROJECT_NAME is required", "LOCATION is required"}}

	if !strings.Contains(err.Error(), "PROJECT_NAME is required") || !strings.Contains(err.Error(), "LOCATION is required") {
		t.Fatalf("all problems should be reported: %q", err.Error())
	}
}

func TestDescribe(t *testing.T) {
	if !strings.Contains(Describe(&RemoteWriteFailure{Action: "x", Attempts: 3, Err: errors.New("y")}), "re-run the command") {
		t.Fatal("remote failures should suggest a re-run")
	}

	if !strings.Contains(Describe(&ConfigurationError{Problems: []string{"a"}}), "Fix the configuration file") {
		t.Fatal("configuration failures should suggest fixing the file")
	}

}

func TestIsStructural(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		structural bool
	}{
		{"configuration", &ConfigurationError{}, true},
		{"authentication", &AuthenticationError{Platform: "GitHub", Err: errors.New("bad token")}, true},
		{"resource state", fmt.Errorf("lookup: %w", &ResourceStateError{Resource: "role", Reason: "unknown"}), true},
		{"remote", &RemoteWriteFailure{Action: "x", Attempts: 3, Err: errors.New("y")}, false},
		{"plain", errors.New("connection reset"), false},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if IsStructural(c.err) != c.structural {
				t.Fatalf("expected IsStructural to be %v for %v", c.structural, c.err)
			}
		})
	}
}
