package remotestore

import (
	"context"
	"net/url"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// FileBackend is the `file://` remote backend named in spec.md §4.7's
// config grammar — a plain directory tree, keyed by the cache digest's
// path form, reusing the same atomic-rename-publish discipline as
// internal/localstore.
type FileBackend struct {
	root string
}

// NewFileBackend constructs a FileBackend rooted at the path component of
// rawURL (e.g. "file:///var/cache/ccache-remote").
func NewFileBackend(rawURL string) (Backend, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Wrapf(err, "parse file backend url %q", rawURL)
	}
	root := u.Path
	if root == "" {
		return nil, errors.Errorf("file backend url %q has empty path", rawURL)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create file backend root %q", root)
	}
	return &FileBackend{root: root}, nil
}

func (b *FileBackend) path(key string) string {
	return filepath.Join(b.root, key)
}

func (b *FileBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	data, err := os.ReadFile(b.path(key))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "file backend get %q", key)
	}
	return data, true, nil
}

func (b *FileBackend) Put(_ context.Context, key string, value []byte, overwrite bool) (bool, error) {
	path := b.path(key)
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return false, nil
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, errors.Wrapf(err, "create file backend parent dir for %q", key)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "*.tmp")
	if err != nil {
		return false, errors.Wrap(err, "create temp file backend entry")
	}
	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return false, errors.Wrap(err, "write temp file backend entry")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return false, errors.Wrap(err, "close temp file backend entry")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return false, errors.Wrap(err, "publish file backend entry")
	}
	return true, nil
}

func (b *FileBackend) Remove(_ context.Context, key string) (bool, error) {
	if err := os.Remove(b.path(key)); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errors.Wrapf(err, "file backend remove %q", key)
	}
	return true, nil
}

func (b *FileBackend) Stop() {}
