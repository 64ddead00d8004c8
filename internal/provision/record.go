package provision

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/erimkaur/siteprovision/internal/constants"
	"github.com/erimkaur/siteprovision/internal/target"
)

// Record is the state file written after each successful run.
type Record struct {
	RunID      string     `toml:"run_id"`
	AppliedAt  time.Time  `toml:"applied_at"`
	SourceURL  string     `toml:"source_url"`
	Page       FileRecord `toml:"page"`
	SiteConfig FileRecord `toml:"site_config"`
}

// FileRecord describes one installed file.
type FileRecord struct {
	Path   string `toml:"path"`
	URL    string `toml:"url"`
	SHA256 string `toml:"sha256"`
	Size   int64  `toml:"size"`
}

// readRecord reads the record at p on t. found is false if there is no record yet.
func readRecord(t target.Target, p string) (r Record, found bool, err error) {
	data, err := t.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return Record{}, false, nil
	} else if err != nil {
		return Record{}, false, fmt.Errorf("could not read state file: %v", err)
	}

	if _, err := toml.Decode(string(data), &r); err != nil {
		return Record{}, false, fmt.Errorf("could not decode state file %s: %v", p, err)
	}
	return r, true, nil
}

// sameFiles returns true if r and other record the same source and installed files.
func (r Record) sameFiles(other Record) bool {
	return r.SourceURL == other.SourceURL && r.Page == other.Page && r.SiteConfig == other.SiteConfig
}

// write stores the record at p on t, replacing any previous one.
func (r Record) write(t target.Target, p string) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(r); err != nil {
		return fmt.Errorf("could not encode state file: %v", err)
	}

	if err := t.MkdirAll(path.Dir(p), constants.DirMode); err != nil {
		return fmt.Errorf("could not create state directory: %v", err)
	}
	if err := t.WriteFile(p, buf.Bytes(), constants.FileMode); err != nil {
		return fmt.Errorf("could not write state file: %v", err)
	}
	return nil
}
