package bundle

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidAttachmentPath rejects attachment paths that are not clean,
// relative, forward-slash paths.
var ErrInvalidAttachmentPath = errors.New("invalid attachment path")

// Attachment is one extra file placed in a bundle.
type Attachment struct {
	path string
	data []byte
}

// NewAttachment validates path and copies data. Paths must be relative,
// use forward slashes and contain no empty, "." or ".." segments.
func NewAttachment(path string, data []byte) (Attachment, error) {
	if err := validatePath(path); err != nil {
		return Attachment{}, err
	}
	return Attachment{path: path, data: append([]byte(nil), data...)}, nil
}

// TextAttachment is NewAttachment for UTF-8 text.
func TextAttachment(path, text string) (Attachment, error) {
	return NewAttachment(path, []byte(text))
}

// Path is the entry name inside the archive.
func (a Attachment) Path() string { return a.path }

// Data returns the attachment content. Callers must not modify it.
func (a Attachment) Data() []byte { return a.data }

func validatePath(path string) error {
	switch {
	case strings.TrimSpace(path) == "":
		return fmt.Errorf("%w: blank", ErrInvalidAttachmentPath)
	case strings.HasPrefix(path, "/"):
		return fmt.Errorf("%w: %q is absolute", ErrInvalidAttachmentPath, path)
	case strings.Contains(path, `\`):
		return fmt.Errorf("%w: %q contains a backslash", ErrInvalidAttachmentPath, path)
	}
	for _, seg := range strings.Split(path, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return fmt.Errorf("%w: %q has an empty, '.' or '..' segment", ErrInvalidAttachmentPath, path)
		}
	}
	return nil
}
