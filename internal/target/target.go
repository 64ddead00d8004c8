// Package target abstracts the host being provisioned.
//
// A Target exposes the few filesystem operations a site needs (directories, files, symlinks)
// and runs commands, either on the machine running siteprovision (Local) or on a remote
// VPS over SSH (Remote).
package target

import (
	"bytes"
	"context"
	"io/fs"
	"time"
)

// Target is the host being provisioned. Paths are always absolute paths on that host.
type Target interface {
	// MkdirAll creates path and any missing parent.
	MkdirAll(path string, perm fs.FileMode) error
	// ReadFile returns the content of path. Missing files return an error wrapping fs.ErrNotExist.
	ReadFile(path string) ([]byte, error)
	// WriteFile replaces the content of path atomically.
	WriteFile(path string, data []byte, perm fs.FileMode) error
	// Symlink creates newname as a symbolic link to oldname.
	Symlink(oldname, newname string) error
	// Readlink returns the destination of the symbolic link name.
	Readlink(name string) (string, error)
	// Lstat returns the file info of name without following symbolic links.
	Lstat(name string) (fs.FileInfo, error)
	// Remove removes a file, an empty directory or a symlink.
	Remove(name string) error
	// Run runs argv on the host and returns its outputs. A timeout <= 0 means no timeout.
	Run(ctx context.Context, timeout time.Duration, argv []string) (stdout, stderr *bytes.Buffer, err error)
	// String describes the host for logs.
	String() string
	// Close releases any connection held to the host.
	Close() error
}
