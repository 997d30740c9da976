package writers

// Writer saves a set of generated files, keyed by their relative path.
type Writer interface {
	Write(files map[string]string) (string, error)
}
