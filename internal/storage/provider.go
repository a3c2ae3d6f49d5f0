// Package storage defines the export directory abstraction.
package storage

// Provider stores board exports under a root directory.
type Provider interface {
	// Read returns the raw bytes of the file at path (relative to root).
	Read(path string) ([]byte, error)
	// Write atomically writes content to path (relative to root).
	Write(path string, content []byte) error
	// Root returns the absolute export directory.
	Root() string
}
