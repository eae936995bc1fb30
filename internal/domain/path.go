package domain

import (
	"path"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// ValidatePath accepts clean, relative, slash separated paths that stay inside
// the directory they are resolved against.
func ValidatePath(p string) error {
	if p == "" || strings.Contains(p, "\\") || path.Clean(p) != p {
		return errors.WithMessagef(ErrInvalidPath, "'%s'", p)
	}
	if !filepath.IsLocal(filepath.FromSlash(p)) {
		return errors.WithMessagef(ErrInvalidPath, "'%s' escapes the directory", p)
	}
	return nil
}

// ValidateDir rejects manifests with duplicate or non-local paths.
func ValidateDir(dir DirContent) error {
	seen := make(map[string]struct{}, len(dir))
	for _, f := range dir {
		if err := ValidatePath(f.Path); err != nil {
			return err
		}
		if _, ok := seen[f.Path]; ok {
			return errors.WithMessagef(ErrInvalidPath, "duplicate path '%s'", f.Path)
		}
		seen[f.Path] = struct{}{}
	}
	return nil
}
