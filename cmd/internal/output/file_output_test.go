package output

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteFilesToDest(t *testing.T) {
	dest := t.TempDir()

	if err := WriteFiles(map[string]string{"backend.tfbackend": "key = \"a\"\n"}, dest, false); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(dest, "backend.tfbackend")); err != nil {
		t.Fatalf("The file should have been written: %v", err)
	}
}

func TestWriteFilesNowhere(t *testing.T) {
	if err := WriteFiles(map[string]string{"a": "b"}, "", false); err != nil {
		t.Fatal(err)
	}
}
