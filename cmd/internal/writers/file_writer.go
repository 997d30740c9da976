package writers

import (
	"os"
	"path/filepath"
)

type FileWriter struct {
	dest string
}

func NewFileWriter(dest string) *FileWriter {
	return &FileWriter{
		dest: dest,
	}
}

func (c FileWriter) Write(files map[string]string) (string, error) {
	for k, v := range files {
		if err := c.write(k, v); err != nil {
			return "", err
		}
	}
	return c.dest, nil
}

func (c FileWriter) write(filename string, contents string) error {
	path := filepath.Join(c.dest, filename)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	return os.WriteFile(path, []byte(contents), 0644)
}
