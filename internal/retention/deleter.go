package retention

import (
	"errors"
	"io/fs"
	"os"
)

// Deleter removes one bundle file.
type Deleter interface {
	Delete(path string) error
}

// DeleterFunc adapts a function to Deleter.
type DeleterFunc func(path string) error

func (f DeleterFunc) Delete(path string) error { return f(path) }

// OSDeleter removes files from the local filesystem. A file that is already
// gone counts as deleted.
type OSDeleter struct{}

func (OSDeleter) Delete(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
