package storage

import (
	"context"
	stderrors "errors"
	"io/fs"
	"os"
	"path"
	"sort"

	"github.com/viewkit/viewkit/pkg/errors"
	"github.com/viewkit/viewkit/pkg/types"
)

// DirStore reads resources from a file tree. Each non-default scope is a top-level directory.
type DirStore struct {
	fsys fs.FS
	root string
}

// NewDirStore serves resources from the directory root.
func NewDirStore(root string) (*DirStore, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfig, "store root is not accessible", err).
			WithComponent("dir-store").
			WithDetail("root", root)
	}
	if !info.IsDir() {
		return nil, errors.Newf(errors.ErrCodeInvalidConfig, "store root %s is not a directory", root).
			WithComponent("dir-store")
	}
	return &DirStore{fsys: os.DirFS(root), root: root}, nil
}

// NewFSStore serves resources from fsys, such as an embed.FS.
func NewFSStore(fsys fs.FS) *DirStore {
	return &DirStore{fsys: fsys, root: "."}
}

// Fetch implements types.Store.
func (d *DirStore) Fetch(ctx context.Context, scope types.ScopeID, p string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeOperationCanceled, "fetch canceled", err)
	}

	name, err := d.resolve(scope, p)
	if err != nil {
		return nil, err
	}

	data, err := fs.ReadFile(d.fsys, name)
	if err != nil {
		return nil, d.translateError(err, "fetch", scope, p)
	}
	return data, nil
}

// List implements types.Store.
func (d *DirStore) List(ctx context.Context, scope types.ScopeID, dir string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeOperationCanceled, "list canceled", err)
	}

	name, err := d.resolve(scope, dir)
	if err != nil {
		return nil, err
	}

	entries, err := fs.ReadDir(d.fsys, name)
	if err != nil {
		return nil, d.translateError(err, "list", scope, dir)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (d *DirStore) resolve(scope types.ScopeID, p string) (string, error) {
	name := path.Join(string(scope), cleanPath(p))
	if name == "" {
		name = "."
	}
	if !fs.ValidPath(name) {
		return "", errors.Newf(errors.ErrCodeAccessDenied, "invalid resource path %q", p).
			WithComponent("dir-store")
	}

	if scope != types.DefaultScope {
		info, err := fs.Stat(d.fsys, string(scope))
		if err != nil || !info.IsDir() {
			return "", scopeNotFound(scope)
		}
	}
	return name, nil
}

func (d *DirStore) translateError(err error, operation string, scope types.ScopeID, p string) error {
	switch {
	case stderrors.Is(err, fs.ErrNotExist):
		return notFound(scope, p)
	case stderrors.Is(err, fs.ErrPermission):
		return errors.Wrap(errors.ErrCodeAccessDenied, "permission denied", err).
			WithComponent("dir-store").
			WithOperation(operation).
			WithDetail("path", p)
	default:
		return errors.Wrap(errors.ErrCodeStorageRead, "read failed", err).
			WithComponent("dir-store").
			WithOperation(operation).
			WithDetail("path", p)
	}
}
