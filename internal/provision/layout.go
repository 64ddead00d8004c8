package provision

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/erimkaur/siteprovision/internal/constants"
	"github.com/erimkaur/siteprovision/internal/fetcher"
)

// Layout locates the provisioned files on the target. All directories are absolute.
type Layout struct {
	Site           string
	PageFile       string
	WebRoot        string
	SitesAvailable string
	SitesEnabled   string
	DefaultSite    string
	StateDir       string
}

// PageDir is the directory served by the site.
func (l Layout) PageDir() string { return path.Join(l.WebRoot, l.Site) }

// PagePath is the landing page.
func (l Layout) PagePath() string { return path.Join(l.PageDir(), l.PageFile) }

// ConfigPath is the site configuration in sites-available.
func (l Layout) ConfigPath() string { return path.Join(l.SitesAvailable, l.Site) }

// LinkPath is the symlink activating the site.
func (l Layout) LinkPath() string { return path.Join(l.SitesEnabled, l.Site) }

// DefaultLinkPath is the entry of the nginx default site in sites-enabled.
func (l Layout) DefaultLinkPath() string { return path.Join(l.SitesEnabled, l.DefaultSite) }

// StatePath is the record of the last successful run.
func (l Layout) StatePath() string {
	return path.Join(l.StateDir, l.Site+constants.StateFileExt)
}

// Validate checks that names are plain file names and directories are absolute.
func (l Layout) Validate() error {
	var errs []error
	for name, v := range map[string]string{"site": l.Site, "page file": l.PageFile, "default site": l.DefaultSite} {
		if v == "" || strings.ContainsAny(v, `/\`) || v == "." || v == ".." {
			errs = append(errs, fmt.Errorf("invalid %s name %q", name, v))
		}
	}
	for name, v := range map[string]string{"web root": l.WebRoot, "sites-available": l.SitesAvailable, "sites-enabled": l.SitesEnabled, "state dir": l.StateDir} {
		if !path.IsAbs(v) {
			errs = append(errs, fmt.Errorf("%s must be an absolute path, got %q", name, v))
		}
	}
	if l.Site != "" && l.Site == l.DefaultSite {
		errs = append(errs, fmt.Errorf("site %q cannot be the default site it replaces", l.Site))
	}
	return errors.Join(errs...)
}

// Sources locates the static files to download.
type Sources struct {
	BaseURL        string
	PageFile       string
	SiteConfigFile string
}

// list returns the page and the site config sources, in this order.
func (s Sources) list() ([]fetcher.Source, error) {
	u, err := url.Parse(s.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid source URL %q: %v", s.BaseURL, err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return nil, fmt.Errorf("invalid source URL %q: scheme must be http or https", s.BaseURL)
	}

	var srcs []fetcher.Source
	for _, f := range []struct{ name, file string }{{"page", s.PageFile}, {"site-config", s.SiteConfigFile}} {
		if f.file == "" {
			return nil, fmt.Errorf("no source file configured for %s", f.name)
		}
		src, err := url.JoinPath(s.BaseURL, f.file)
		if err != nil {
			return nil, fmt.Errorf("invalid source URL for %s: %v", f.name, err)
		}
		srcs = append(srcs, fetcher.Source{Name: f.name, URL: src})
	}
	return srcs, nil
}
