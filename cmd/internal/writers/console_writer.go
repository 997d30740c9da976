package writers

import (
	"fmt"
	"io"
	"os"
	"sort"
)

type ConsoleWriter struct {
	Out io.Writer
}

func (c ConsoleWriter) Write(files map[string]string) (string, error) {
	out := c.Out
	if out == nil {
		out = os.Stdout
	}

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if _, err := fmt.Fprintln(out, "# "+name); err != nil {
			return "", err
		}
		if _, err := fmt.Fprintln(out, files[name]); err != nil {
			return "", err
		}
	}

	return "", nil
}
