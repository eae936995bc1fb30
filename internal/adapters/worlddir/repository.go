package worlddir

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/kiryu-dev/worldhost/internal/domain"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type repository struct {
	hashers int
	logger  *zap.Logger
}

func New(logger *zap.Logger) repository {
	return repository{
		hashers: runtime.GOMAXPROCS(0),
		logger:  logger,
	}
}

// Scan hashes every regular file under dir. Paths are relative, slash
// separated and in lexical order. Symlinks and other special files are
// skipped.
func (r repository) Scan(ctx context.Context, dir string) (domain.DirContent, error) {
	paths := make([]string, 0)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, domain.TransientIO(errors.WithMessagef(err, "walk '%s'", dir))
	}

	content := make(domain.DirContent, len(paths))
	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(r.hashers)
	for i, p := range paths {
		group.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			hash, err := HashFile(filepath.Join(dir, filepath.FromSlash(p)))
			if err != nil {
				return err
			}
			content[i] = domain.FileStatus{Path: p, Hash: hash}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	r.logger.Debug("scanned directory", zap.String("dir", dir), zap.Int("files", len(content)))
	return content, nil
}

func HashFile(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", domain.TransientIO(errors.WithMessage(err, "open file"))
	}
	defer func() {
		_ = file.Close()
	}()
	h := sha256.New()
	if _, err := io.Copy(h, file); err != nil {
		return "", domain.TransientIO(errors.WithMessagef(err, "hash '%s'", path))
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func resolve(dir string, path string) (string, error) {
	if err := domain.ValidatePath(path); err != nil {
		return "", err
	}
	return filepath.Join(dir, filepath.FromSlash(path)), nil
}

func (r repository) ReadFile(dir string, path string) ([]byte, error) {
	full, err := resolve(dir, path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, domain.TransientIO(errors.WithMessage(err, "read file"))
	}
	return data, nil
}

// makeParents creates the parent directories of path under dir. A file
// sitting where one of them has to go is removed first.
func makeParents(dir string, path string) error {
	cur := dir
	parts := strings.Split(path, "/")
	for _, part := range parts[:len(parts)-1] {
		cur = filepath.Join(cur, part)
		info, err := os.Lstat(cur)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return domain.TransientIO(errors.WithMessage(err, "stat parent directory"))
		case !info.IsDir():
			if err := os.Remove(cur); err != nil {
				return domain.TransientIO(errors.WithMessage(err, "remove file in place of a directory"))
			}
		}
	}
	if err := os.MkdirAll(cur, 0o755); err != nil {
		return domain.TransientIO(errors.WithMessage(err, "create parent directory"))
	}
	return nil
}

// WriteFile replaces dir/path through a temporary file and a rename, so a
// reader never sees a partially written file. A directory at dir/path is
// removed with its content.
func (r repository) WriteFile(dir string, path string, data []byte) error {
	full, err := resolve(dir, path)
	if err != nil {
		return err
	}
	if err := makeParents(dir, path); err != nil {
		return err
	}
	if info, err := os.Lstat(full); err == nil && info.IsDir() {
		if err := os.RemoveAll(full); err != nil {
			return domain.TransientIO(errors.WithMessagef(err, "remove directory in place of '%s'", path))
		}
	}
	tmp, err := os.CreateTemp(filepath.Dir(full), ".worldhost-*")
	if err != nil {
		return domain.TransientIO(errors.WithMessage(err, "create temporary file"))
	}
	defer func() {
		_ = os.Remove(tmp.Name())
	}()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return domain.TransientIO(errors.WithMessage(err, "write temporary file"))
	}
	if err := tmp.Close(); err != nil {
		return domain.TransientIO(errors.WithMessage(err, "close temporary file"))
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		return domain.TransientIO(errors.WithMessagef(err, "move file to '%s'", path))
	}
	return nil
}

// RemoveFile deletes dir/path and then every parent directory it left empty,
// stopping at dir.
func (r repository) RemoveFile(dir string, path string) error {
	full, err := resolve(dir, path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return domain.TransientIO(errors.WithMessagef(err, "remove '%s'", path))
	}
	for i := strings.LastIndex(path, "/"); i > 0; i = strings.LastIndex(path, "/") {
		path = path[:i]
		if err := os.Remove(filepath.Join(dir, filepath.FromSlash(path))); err != nil {
			break
		}
	}
	return nil
}

// EnsureEmpty creates dir when it is missing and fails with ErrNotEmpty when
// it already has entries.
func (r repository) EnsureEmpty(dir string) error {
	entries, err := os.ReadDir(dir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return domain.TransientIO(errors.WithMessage(err, "create directory"))
		}
		return nil
	case err != nil:
		return domain.TransientIO(errors.WithMessage(err, "read directory"))
	case len(entries) > 0:
		return errors.WithMessagef(domain.ErrNotEmpty, "'%s' has %d entries", dir, len(entries))
	}
	return nil
}

type FetchFunc func(ctx context.Context, id domain.ObjectId) ([]byte, error)

// Apply reconciles dir with a DirUpdate received from the coordinator. Every
// removal runs before any write, so a path can turn from a file into a
// directory or back within one update.
func (r repository) Apply(ctx context.Context, dir string, update domain.DirUpdate, fetch FetchFunc) error {
	writes := make([]domain.SyncAction, 0, len(update))
	for _, action := range update {
		switch action.Type {
		case domain.RemoveAction:
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := r.RemoveFile(dir, action.Path); err != nil {
				return err
			}
			r.logger.Debug("applied sync action", zap.String("type", string(action.Type)), zap.String("path", action.Path))
		case domain.AddAction, domain.ReplaceAction:
			writes = append(writes, action)
		default:
			return errors.Errorf("unknown sync action '%s'", action.Type)
		}
	}
	for _, action := range writes {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := fetch(ctx, action.Id)
		if err != nil {
			return errors.WithMessagef(err, "fetch object %d", action.Id)
		}
		if err := r.WriteFile(dir, action.Path, data); err != nil {
			return err
		}
		r.logger.Debug("applied sync action", zap.String("type", string(action.Type)), zap.String("path", action.Path))
	}
	return nil
}
