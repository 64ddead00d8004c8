// Package hostinfo identifies the distribution running on a target.
package hostinfo

import (
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"strings"

	"gopkg.in/ini.v1"
)

// osReleasePaths are tried in order, as described in os-release(5).
var osReleasePaths = []string{"/etc/os-release", "/usr/lib/os-release"}

// OSRelease is the identification of a distribution.
type OSRelease struct {
	ID         string
	IDLike     []string
	VersionID  string
	PrettyName string
}

type fileReader interface {
	ReadFile(path string) ([]byte, error)
}

// Read returns the os-release of the host behind r.
// If the host has no os-release file, the error wraps fs.ErrNotExist.
func Read(r fileReader) (OSRelease, error) {
	for _, p := range osReleasePaths {
		data, err := r.ReadFile(p)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		} else if err != nil {
			return OSRelease{}, fmt.Errorf("could not read %s: %w", p, err)
		}
		return Parse(data)
	}
	return OSRelease{}, fmt.Errorf("no os-release file: %w", fs.ErrNotExist)
}

// Parse parses the content of an os-release file.
func Parse(data []byte) (OSRelease, error) {
	cfg, err := ini.LoadSources(ini.LoadOptions{
		IgnoreInlineComment:     true,
		SkipUnrecognizableLines: true,
		KeyValueDelimiters:      "=",
	}, data)
	if err != nil {
		return OSRelease{}, fmt.Errorf("invalid os-release file: %v", err)
	}

	sec := cfg.Section(ini.DefaultSection)
	return OSRelease{
		ID:         sec.Key("ID").String(),
		IDLike:     strings.Fields(sec.Key("ID_LIKE").String()),
		VersionID:  sec.Key("VERSION_ID").String(),
		PrettyName: sec.Key("PRETTY_NAME").String(),
	}, nil
}

// DebianFamily returns true if the distribution is Debian or derives from it.
// Those package nginx with the sites-available and sites-enabled directories.
func (o OSRelease) DebianFamily() bool {
	for _, id := range append([]string{o.ID}, o.IDLike...) {
		if slices.Contains([]string{"debian", "ubuntu"}, id) {
			return true
		}
	}
	return false
}

// String returns a human readable name of the distribution.
func (o OSRelease) String() string {
	if o.PrettyName != "" {
		return o.PrettyName
	}
	if o.ID == "" {
		return "unknown distribution"
	}
	return strings.TrimSpace(o.ID + " " + o.VersionID)
}
