package target

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/erimkaur/siteprovision/internal/cmdutils"
	"github.com/erimkaur/siteprovision/internal/fileutils"
)

// Local is the machine running siteprovision.
//
// All paths are resolved under root, which is "/" outside of tests. Absolute symlink
// destinations are rebased under root as well, so that links keep resolving inside it.
// Commands are run as is.
type Local struct {
	root string
}

// NewLocal returns a Local target rooted at root. An empty root means "/".
func NewLocal(root string) (*Local, error) {
	if root == "" {
		root = string(filepath.Separator)
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("invalid root %q: %v", root, err)
	}
	return &Local{root: root}, nil
}

// path maps p under root. p is cleaned as an absolute path first, so it cannot escape root.
func (l Local) path(p string) string {
	return filepath.Join(l.root, filepath.Clean(string(filepath.Separator)+filepath.FromSlash(p)))
}

// MkdirAll implements Target.
func (l Local) MkdirAll(path string, perm fs.FileMode) error {
	return os.MkdirAll(l.path(path), perm)
}

// ReadFile implements Target.
func (l Local) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(l.path(path))
}

// WriteFile implements Target.
func (l Local) WriteFile(path string, data []byte, perm fs.FileMode) error {
	return fileutils.AtomicWrite(l.path(path), data, perm)
}

// Symlink implements Target.
func (l Local) Symlink(oldname, newname string) error {
	if filepath.IsAbs(oldname) {
		oldname = l.path(oldname)
	}
	return os.Symlink(oldname, l.path(newname))
}

// Readlink implements Target.
func (l Local) Readlink(name string) (string, error) {
	dest, err := os.Readlink(l.path(name))
	if err != nil {
		return "", err
	}
	if l.root == string(filepath.Separator) || !filepath.IsAbs(dest) {
		return dest, nil
	}

	rel, err := filepath.Rel(l.root, dest)
	if err != nil || strings.HasPrefix(rel, "..") {
		// Points outside of root: report it as is.
		return dest, nil
	}
	return "/" + filepath.ToSlash(rel), nil
}

// Lstat implements Target.
func (l Local) Lstat(name string) (fs.FileInfo, error) {
	return os.Lstat(l.path(name))
}

// Remove implements Target.
func (l Local) Remove(name string) error {
	return os.Remove(l.path(name))
}

// Run implements Target.
func (l Local) Run(ctx context.Context, timeout time.Duration, argv []string) (stdout, stderr *bytes.Buffer, err error) {
	return cmdutils.RunArgv(ctx, timeout, argv)
}

// String implements Target.
func (l Local) String() string {
	if l.root == string(filepath.Separator) {
		return "localhost"
	}
	return "localhost:" + l.root
}

// Close implements Target.
func (l Local) Close() error {
	return nil
}
