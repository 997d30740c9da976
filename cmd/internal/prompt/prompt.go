package prompt

import (
	"bufio"
	"errors"
	"fmt"
	"golang.org/x/term"
	"io"
	"os"
	"strings"
)

// ErrNotInteractive is returned when input is required but no terminal is attached.
var ErrNotInteractive = errors.New("input is required but the terminal is not interactive")

// Prompter asks the operator questions.
type Prompter interface {
	// Confirm asks a yes/no question, returning defaultValue on an empty answer.
	Confirm(question string, defaultValue bool) (bool, error)
	// Secret reads a value without echoing it.
	Secret(question string) (string, error)
	Interactive() bool
}

// Terminal prompts on stderr and reads from stdin.
type Terminal struct {
	in  *bufio.Reader
	out io.Writer
	fd  int
	// AssumeYes answers every confirmation with yes.
	AssumeYes bool
}

func NewTerminal(assumeYes bool) *Terminal {
	return &Terminal{
		in:        bufio.NewReader(os.Stdin),
		out:       os.Stderr,
		fd:        int(os.Stdin.Fd()),
		AssumeYes: assumeYes,
	}
}

func (t *Terminal) Interactive() bool {
	return term.IsTerminal(t.fd)
}

func (t *Terminal) Confirm(question string, defaultValue bool) (bool, error) {
	if t.AssumeYes {
		return true, nil
	}

	if !t.Interactive() {
		return defaultValue, nil
	}

	options := "y/N"
	if defaultValue {
		options = "Y/n"
	}

	for {
		fmt.Fprintf(t.out, "%s [%s]: ", question, options)

		answer, err := t.in.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return false, err
		}

		if value, ok := ParseAnswer(answer, defaultValue); ok {
			return value, nil
		}

		if errors.Is(err, io.EOF) {
			return defaultValue, nil
		}

		fmt.Fprintln(t.out, "Please answer y or n.")
	}
}

func (t *Terminal) Secret(question string) (string, error) {
	if !t.Interactive() {
		return "", ErrNotInteractive
	}

	fmt.Fprintf(t.out, "%s: ", question)
	value, err := term.ReadPassword(t.fd)
	fmt.Fprintln(t.out)
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(string(value)), nil
}

// ParseAnswer interprets a yes/no answer. The returned bool is false when the answer is not understood.
func ParseAnswer(answer string, defaultValue bool) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "":
		return defaultValue, true
	case "y", "yes", "true":
		return true, true
	case "n", "no", "false":
		return false, true
	default:
		return false, false
	}
}

// Scripted answers questions from fixed lists, in order.
type Scripted struct {
	Confirmations []bool
	Secrets       []string
	Questions     []string
}

func (s *Scripted) Interactive() bool {
	return true
}

func (s *Scripted) Confirm(question string, defaultValue bool) (bool, error) {
	s.Questions = append(s.Questions, question)
	if len(s.Confirmations) == 0 {
		return defaultValue, nil
	}
	answer := s.Confirmations[0]
	s.Confirmations = s.Confirmations[1:]
	return answer, nil
}

func (s *Scripted) Secret(question string) (string, error) {
	s.Questions = append(s.Questions, question)
	if len(s.Secrets) == 0 {
		return "", ErrNotInteractive
	}
	answer := s.Secrets[0]
	s.Secrets = s.Secrets[1:]
	return answer, nil
}
