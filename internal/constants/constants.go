// Package constants is responsible for defining the constants used in the application.
// It also provides utility functions to get default paths that depend on the running user.
package constants

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

var (
	// Version is the version of the application.
	Version = "Dev"
)

const (
	// CmdName is the name of the command line tool.
	CmdName = "siteprovision"

	// DefaultLogLevel is the default log level selected without any verbosity flags.
	DefaultLogLevel = slog.LevelWarn

	// DefaultSite is the name of the provisioned site, used for its web directory and its nginx config.
	DefaultSite = "erimkaur"

	// DefaultSourceURL is the base URL the static files are downloaded from.
	DefaultSourceURL = "https://raw.githubusercontent.com/erimkaur/erimkaur-site/main"

	// DefaultPageFile is the name of the landing page, both at the source and on disk.
	DefaultPageFile = "index.html"

	// DefaultSiteConfigFile is the name of the nginx site configuration at the source.
	DefaultSiteConfigFile = "nginx.conf"

	// DefaultWebRoot is the directory holding one folder per served site.
	DefaultWebRoot = "/var/www"

	// DefaultSitesAvailable is the nginx directory storing all site configurations.
	DefaultSitesAvailable = "/etc/nginx/sites-available"

	// DefaultSitesEnabled is the nginx directory holding symlinks to the active site configurations.
	DefaultSitesEnabled = "/etc/nginx/sites-enabled"

	// DefaultNginxSite is the name of the site shipped by the nginx package.
	DefaultNginxSite = "default"

	// DefaultStateDir is where the record of the last successful run is kept.
	DefaultStateDir = "/var/lib/siteprovision"

	// StateFileExt is the extension of the state record.
	StateFileExt = ".toml"

	// DefaultCommandTimeout bounds each external command run on the target.
	DefaultCommandTimeout = 30 * time.Second

	// DefaultFetchTimeout bounds each HTTP request.
	DefaultFetchTimeout = 30 * time.Second

	// DefaultMaxAttempts is the number of retries for a failed download when retrying is enabled.
	DefaultMaxAttempts = 5

	// MaxDocumentSize is the largest static file accepted from the source, in bytes.
	MaxDocumentSize = 10 << 20

	// DefaultSSHPort is used when the host does not carry a port.
	DefaultSSHPort = "22"

	// DefaultSSHUser is used when the host does not carry a user.
	DefaultSSHUser = "root"

	// DirMode is the mode of created directories.
	DirMode fs.FileMode = 0755

	// FileMode is the mode of written files.
	FileMode fs.FileMode = 0644
)

var (
	// DefaultConfigTestCmd validates the nginx configuration.
	DefaultConfigTestCmd = []string{"nginx", "-t"}

	// DefaultReloadCmd asks the init system to reload nginx.
	DefaultReloadCmd = []string{"systemctl", "reload", "nginx"}
)

type options struct {
	baseDir func() (string, error)
}

type option func(*options)

// GetDefaultKnownHostsPath is the default path to the OpenSSH known_hosts file of the current user.
func GetDefaultKnownHostsPath(opts ...option) string {
	o := options{baseDir: os.UserHomeDir}
	for _, opt := range opts {
		opt(&o)
	}

	dir := getBaseDir(o.baseDir)
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, ".ssh", "known_hosts")
}

// getBaseDir is a helper function to handle the case where the baseDir function returns an error, and instead return an empty string.
func getBaseDir(baseDirFunc func() (string, error)) string {
	dir, err := baseDirFunc()
	if err != nil {
		return ""
	}
	return dir
}
