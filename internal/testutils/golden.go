// TiCS: disabled // Test helpers.

// Package testutils provides helper functions for testing.
package testutils

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const updateGoldenEnv = "TESTS_UPDATE_GOLDEN"

// UpdateEnabled returns true if golden files should be refreshed instead of compared.
func UpdateEnabled() bool {
	return os.Getenv(updateGoldenEnv) != ""
}

// GoldenPath returns the golden path for the current test: testdata/golden/<TestName>/<SubTest>.
func GoldenPath(t *testing.T) string {
	t.Helper()

	name := strings.ReplaceAll(t.Name(), " ", "_")
	return filepath.Join("testdata", "golden", name)
}

// LoadWithUpdateFromGolden loads the golden file of the current test and returns its content.
// If the update environment variable is set, the golden file is first written with got.
func LoadWithUpdateFromGolden(t *testing.T, got string) string {
	t.Helper()

	p := GoldenPath(t)
	if UpdateEnabled() {
		t.Logf("updating golden file %s", p)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0750), "Cannot create directory for updating golden files")
		require.NoError(t, os.WriteFile(p, []byte(got), 0600), "Cannot write golden file")
	}

	want, err := os.ReadFile(p)
	require.NoError(t, err, "Cannot load golden file")

	return string(want)
}

// LoadWithUpdateFromGoldenYAML is LoadWithUpdateFromGolden for a value serialized as YAML.
// The golden value is deserialized into the type of got.
func LoadWithUpdateFromGoldenYAML[T any](t *testing.T, got T) T {
	t.Helper()

	data, err := yaml.Marshal(got)
	require.NoError(t, err, "Cannot serialize provided object")
	want := LoadWithUpdateFromGolden(t, string(data))

	var wantDeserialized T
	err = yaml.Unmarshal([]byte(want), &wantDeserialized)
	require.NoError(t, err, "Cannot create expanded policy objects from golden file")

	return wantDeserialized
}
