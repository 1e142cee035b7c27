package box

import "io"

// Spool holds temporary files: uploads in progress and the intermediate
// results of patch combination.
type Spool interface {
	// Create makes a new file. It fails if name already exists.
	Create(name string) (SpoolFile, error)

	// Open reopens an existing file for reading and appending.
	// Returns nil, nil if it does not exist.
	Open(name string) (SpoolFile, error)

	// Remove deletes a file. Removing a missing file is not an error.
	Remove(name string) error
}

// SpoolFile is a temporary file. Writes always append.
type SpoolFile interface {
	io.Writer
	io.ReaderAt
	io.Closer
	Name() string
	Size() (int64, error)
}
