package output

import (
	"github.com/OctopusSolutionsEngineering/OctopusFleet/cmd/internal/writers"
)

// WriteFiles saves the files to dest when it is set, and prints them when console is set.
func WriteFiles(files map[string]string, dest string, console bool) error {
	var targets []writers.Writer

	if dest != "" {
		targets = append(targets, writers.NewFileWriter(dest))
	}

	if console {
		targets = append(targets, writers.ConsoleWriter{})
	}

	for _, writer := range targets {
		if _, err := writer.Write(files); err != nil {
			return err
		}
	}

	return nil
}
