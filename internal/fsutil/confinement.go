package fsutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideRoot reports a path that resolves outside its root directory.
var ErrOutsideRoot = errors.New("path escapes root")

// ConfineRelPath joins root and rel and verifies that the result, after
// resolving symlinks, is still underneath root. rel must be relative and
// must not contain backslashes.
func ConfineRelPath(root, rel string) (string, error) {
	if strings.Contains(rel, `\`) {
		return "", fmt.Errorf("%w: backslash in %q", ErrOutsideRoot, rel)
	}
	clean := filepath.Clean(rel)
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrOutsideRoot, rel)
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("invalid root path: %w", err)
	}
	realRoot, err := filepath.EvalSymlinks(absRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return "", err
		}
		realRoot = absRoot
	}

	full := filepath.Join(realRoot, clean)
	realPath := full
	if _, err := os.Lstat(full); err == nil {
		if realPath, err = filepath.EvalSymlinks(full); err != nil {
			return "", fmt.Errorf("failed to resolve path: %w", err)
		}
	} else if rp, err := filepath.EvalSymlinks(filepath.Dir(full)); err == nil {
		realPath = filepath.Join(rp, filepath.Base(full))
	}

	r, err := filepath.Rel(realRoot, realPath)
	if err != nil {
		return "", fmt.Errorf("rel computation failed: %w", err)
	}
	if r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, realPath)
	}
	return realPath, nil
}

// IsRegularFile returns an error unless path exists and is a regular file.
func IsRegularFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("not a regular file: %s", path)
	}
	return nil
}
