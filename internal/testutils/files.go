// TiCS: disabled // Test helpers.

package testutils

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// Tree returns a description of every entry under root, keyed by slash separated relative paths.
// Directories are "dir", symlinks are "link -> <target relative to root>" and files are
// "file <mode> <content>".
func Tree(t *testing.T, root string) map[string]string {
	t.Helper()

	tree := make(map[string]string)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		info, err := d.Info()
		if err != nil {
			return err
		}

		switch {
		case info.Mode()&fs.ModeSymlink != 0:
			target, err := os.Readlink(path)
			if err != nil {
				return err
			}
			if r, err := filepath.Rel(root, target); err == nil && filepath.IsAbs(target) {
				target = "/" + filepath.ToSlash(r)
			}
			tree[rel] = "link -> " + target
		case d.IsDir():
			tree[rel] = "dir"
		default:
			content, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			tree[rel] = "file " + info.Mode().Perm().String() + " " + string(content)
		}
		return nil
	})
	require.NoError(t, err, "Setup: could not walk directory tree")

	return tree
}

// WriteFiles creates each file of files under root, creating parent directories as needed.
func WriteFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()

	for p, content := range files {
		path := filepath.Join(root, filepath.FromSlash(p))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0750), "Setup: could not create parent directory")
		require.NoError(t, os.WriteFile(path, []byte(content), 0600), "Setup: could not write file")
	}
}

// SHA256 returns the hex encoded SHA-256 of s.
func SHA256(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// MakeReadOnly removes write permissions from dir, and restores its mode on cleanup.
// Tests relying on it are skipped when running as root, which ignores permissions.
func MakeReadOnly(t *testing.T, dir string) {
	t.Helper()

	if os.Geteuid() == 0 {
		t.Skip("Skipping test: permissions are not enforced for root")
	}

	fi, err := os.Stat(dir)
	require.NoError(t, err, "Setup: cannot stat %s", dir)
	require.NoError(t, os.Chmod(dir, 0555), "Setup: cannot make %s read only", dir)

	t.Cleanup(func() {
		if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
			return
		}
		require.NoError(t, os.Chmod(dir, fi.Mode().Perm()), "Teardown: cannot restore permissions of %s", dir)
	})
}
