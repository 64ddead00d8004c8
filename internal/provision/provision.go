// Package provision installs a static site in nginx on a target host.
//
// Apply downloads the page and its nginx site configuration, installs both, enables the site
// in place of the nginx default one, validates the configuration and reloads nginx.
// Every step leaves an already provisioned host untouched.
package provision

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"time"

	"github.com/erimkaur/siteprovision/internal/constants"
	"github.com/erimkaur/siteprovision/internal/fetcher"
	"github.com/erimkaur/siteprovision/internal/hostinfo"
	"github.com/erimkaur/siteprovision/internal/nginx"
	"github.com/erimkaur/siteprovision/internal/target"
	"github.com/google/uuid"
	"github.com/ubuntu/decorate"
)

// ErrVerifyFailed is returned when a provisioned host does not match the expected state.
var ErrVerifyFailed = errors.New("site verification failed")

// Step names, in execution order.
const (
	StepHost           = "host"
	StepFetch          = "fetch"
	StepPageDir        = "page-dir"
	StepPage           = "page"
	StepSiteConfig     = "site-config"
	StepEnableSite     = "enable-site"
	StepDisableDefault = "disable-default"
	StepConfigTest     = "config-test"
	StepReload         = "reload"
	StepRecord         = "record"
)

type fetchClient interface {
	FetchAll(ctx context.Context, sources []fetcher.Source, retry bool) ([]fetcher.Document, error)
}

type nginxController interface {
	Test(ctx context.Context) (nginx.TestResult, error)
	Reload(ctx context.Context) error
}

// Config is the site to provision and how.
type Config struct {
	Layout  Layout
	Sources Sources

	// Retry retries downloads failing on network or server errors.
	Retry bool
	// DryRun reports the changes without making them.
	DryRun bool
	// NoRollback keeps the changes in place when the nginx configuration test fails.
	NoRollback bool
}

// Provisioner applies and verifies a site on a target.
type Provisioner struct {
	target  target.Target
	fetcher fetchClient
	nginx   nginxController
	cfg     Config

	log      *slog.Logger
	newRunID func() string
	now      func() time.Time
}

type options struct {
	log      *slog.Logger
	newRunID func() string
	now      func() time.Time
}

// Options represents an optional function to override Provisioner default values.
type Options func(*options)

// WithLogger sets the logger used by the Provisioner.
func WithLogger(l *slog.Logger) Options {
	return func(o *options) {
		o.log = l
	}
}

// New returns a Provisioner for the site described by cfg on t.
func New(t target.Target, f fetchClient, n nginxController, cfg Config, args ...Options) (Provisioner, error) {
	if err := cfg.Layout.Validate(); err != nil {
		return Provisioner{}, fmt.Errorf("invalid site layout: %w", err)
	}
	if _, err := cfg.Sources.list(); err != nil {
		return Provisioner{}, err
	}

	opts := options{
		log:      slog.Default(),
		newRunID: uuid.NewString,
		now:      time.Now,
	}
	for _, opt := range args {
		opt(&opts)
	}

	return Provisioner{
		target:   t,
		fetcher:  f,
		nginx:    n,
		cfg:      cfg,
		log:      opts.log.With("host", t.String(), "site", cfg.Layout.Site),
		newRunID: opts.newRunID,
		now:      opts.now,
	}, nil
}

// Apply provisions the site and returns the outcome of each step.
//
// Both files are downloaded before the target is touched. If the nginx configuration test fails,
// the changes of this run are reverted unless rollback is disabled. The report is returned even on error.
func (p Provisioner) Apply(ctx context.Context) (rep Report, err error) {
	defer decorate.OnError(&err, "could not provision site %s on %s", p.cfg.Layout.Site, p.target)

	rep = Report{Host: p.target.String(), RunID: p.newRunID(), DryRun: p.cfg.DryRun}
	l := p.cfg.Layout

	if err := p.inspectHost(&rep); err != nil {
		return rep, err
	}

	srcs, err := p.cfg.Sources.list()
	if err != nil {
		return rep, err
	}
	docs, err := p.fetcher.FetchAll(ctx, srcs, p.cfg.Retry)
	if err != nil {
		rep.add(StepFetch, StatusFailed, "", err.Error())
		return rep, err
	}
	page, conf := docs[0], docs[1]
	rep.add(StepFetch, StatusOK, "", fmt.Sprintf("%s (%d bytes), %s (%d bytes)", page.URL, page.Size, conf.URL, conf.Size))
	p.log.Info("Downloaded site files", "page", page.URL, "config", conf.URL)

	var j journal
	committed := false
	defer func() {
		if err == nil || committed || p.cfg.DryRun {
			return
		}
		if p.cfg.NoRollback {
			p.log.Warn("Rollback disabled, leaving changes in place")
			return
		}
		j.rollback(p.log, &rep)
	}()

	for _, step := range []func() error{
		func() error { return p.ensurePageDir(&rep) },
		func() error { return p.installFile(&rep, &j, StepPage, l.PagePath(), page.Content) },
		func() error { return p.installFile(&rep, &j, StepSiteConfig, l.ConfigPath(), conf.Content) },
		func() error { return p.enableSite(&rep, &j) },
		func() error { return p.disableDefault(&rep, &j) },
	} {
		// A cancelled run stops before its next change.
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		if err := step(); err != nil {
			return rep, err
		}
	}

	if p.cfg.DryRun {
		rep.add(StepConfigTest, StatusPlanned, "", "")
		rep.add(StepReload, StatusPlanned, "", "")
		rep.add(StepRecord, StatusPlanned, l.StatePath(), "")
		return rep, nil
	}

	res, err := p.nginx.Test(ctx)
	if err != nil {
		rep.add(StepConfigTest, StatusFailed, "", err.Error())
		return rep, err
	}
	rep.add(StepConfigTest, StatusOK, "", warningsDetail(res))
	committed = true

	if err := p.nginx.Reload(ctx); err != nil {
		rep.add(StepReload, StatusFailed, "", err.Error())
		return rep, err
	}
	rep.add(StepReload, StatusOK, "", "")
	p.log.Info("Reloaded nginx")

	rec := Record{
		RunID:      rep.RunID,
		AppliedAt:  p.now().UTC().Truncate(time.Second),
		SourceURL:  p.cfg.Sources.BaseURL,
		Page:       FileRecord{Path: l.PagePath(), URL: page.URL, SHA256: page.SHA256, Size: page.Size},
		SiteConfig: FileRecord{Path: l.ConfigPath(), URL: conf.URL, SHA256: conf.SHA256, Size: conf.Size},
	}
	return rep, p.saveRecord(&rep, rec)
}

// saveRecord writes rec, unless the current record already describes the same files.
// The record of the run which installed them is then kept, so that a rerun leaves the host untouched.
func (p Provisioner) saveRecord(rep *Report, rec Record) error {
	statePath := p.cfg.Layout.StatePath()

	prev, found, err := readRecord(p.target, statePath)
	if err != nil {
		p.log.Warn("Replacing unreadable state file", "path", statePath, "error", err)
	}
	if found && prev.sameFiles(rec) {
		rep.add(StepRecord, StatusUnchanged, statePath, "applied at "+prev.AppliedAt.Format(time.RFC3339))
		return nil
	}

	if err := rec.write(p.target, statePath); err != nil {
		rep.add(StepRecord, StatusFailed, statePath, err.Error())
		return err
	}
	rep.add(StepRecord, StatusChanged, statePath, "")
	return nil
}

// inspectHost reports the distribution of the target.
// Hosts outside of the Debian family are only warned about: their nginx may not use sites-enabled.
func (p Provisioner) inspectHost(rep *Report) error {
	osr, err := hostinfo.Read(p.target)
	if errors.Is(err, fs.ErrNotExist) {
		p.log.Warn("Could not identify the distribution of the host", "error", err)
		rep.add(StepHost, StatusOK, "", osr.String())
		return nil
	} else if err != nil {
		rep.add(StepHost, StatusFailed, "", err.Error())
		return err
	}

	if !osr.DebianFamily() {
		p.log.Warn("Host is not Debian based, nginx may not read sites-enabled", "distribution", osr)
		rep.add(StepHost, StatusOK, "", osr.String()+", not Debian based")
		return nil
	}
	rep.add(StepHost, StatusOK, "", osr.String())
	return nil
}

func (p Provisioner) ensurePageDir(rep *Report) error {
	dir := p.cfg.Layout.PageDir()

	fi, err := p.target.Lstat(dir)
	switch {
	case err == nil && fi.IsDir():
		rep.add(StepPageDir, StatusUnchanged, dir, "")
		return nil
	case err == nil:
		rep.add(StepPageDir, StatusFailed, dir, "exists and is not a directory")
		return fmt.Errorf("%s exists and is not a directory", dir)
	case !errors.Is(err, fs.ErrNotExist):
		rep.add(StepPageDir, StatusFailed, dir, err.Error())
		return fmt.Errorf("could not stat %s: %v", dir, err)
	}

	if p.cfg.DryRun {
		rep.add(StepPageDir, StatusPlanned, dir, "create")
		return nil
	}
	if err := p.target.MkdirAll(dir, constants.DirMode); err != nil {
		rep.add(StepPageDir, StatusFailed, dir, err.Error())
		return fmt.Errorf("could not create %s: %v", dir, err)
	}
	// The directory is kept on rollback, as mkdir -p would.
	rep.add(StepPageDir, StatusChanged, dir, "created")
	p.log.Info("Created page directory", "path", dir)
	return nil
}

// installFile writes content to dst, unless dst already has this exact content.
func (p Provisioner) installFile(rep *Report, j *journal, step, dst string, content []byte) error {
	cur, err := p.target.ReadFile(dst)
	if err == nil && bytes.Equal(cur, content) {
		rep.add(step, StatusUnchanged, dst, "")
		return nil
	} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
		rep.add(step, StatusFailed, dst, err.Error())
		return fmt.Errorf("could not read %s: %v", dst, err)
	}

	prev, err := p.snapshot(dst)
	if err != nil {
		rep.add(step, StatusFailed, dst, err.Error())
		return fmt.Errorf("could not inspect %s: %v", dst, err)
	}

	action := "create"
	if prev.exists {
		action = "update"
	}
	if p.cfg.DryRun {
		rep.add(step, StatusPlanned, dst, action)
		return nil
	}

	if err := p.target.WriteFile(dst, content, constants.FileMode); err != nil {
		rep.add(step, StatusFailed, dst, err.Error())
		return fmt.Errorf("could not write %s: %v", dst, err)
	}
	j.push(step, func() error { return p.restore(dst, prev) })
	rep.add(step, StatusChanged, dst, action+"d")
	p.log.Info("Installed file", "path", dst, "sha256", checksum(content))
	return nil
}

// entry is what was found at a path before it was changed, to restore it.
type entry struct {
	exists  bool
	link    string
	content []byte
	perm    fs.FileMode
}

func (p Provisioner) snapshot(name string) (e entry, err error) {
	fi, err := p.target.Lstat(name)
	if errors.Is(err, fs.ErrNotExist) {
		return entry{}, nil
	} else if err != nil {
		return entry{}, err
	}

	e = entry{exists: true, perm: fi.Mode().Perm()}
	switch {
	case fi.Mode()&fs.ModeSymlink != 0:
		if e.link, err = p.target.Readlink(name); err != nil {
			return entry{}, err
		}
	case fi.IsDir():
		return entry{}, fmt.Errorf("%s is a directory", name)
	default:
		if e.content, err = p.target.ReadFile(name); err != nil {
			return entry{}, err
		}
	}
	return e, nil
}

func (p Provisioner) restore(name string, e entry) error {
	if err := p.target.Remove(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if !e.exists {
		return nil
	}
	if e.link != "" {
		return p.target.Symlink(e.link, name)
	}
	return p.target.WriteFile(name, e.content, e.perm)
}

// resolve returns the absolute destination of a link found at name.
func resolve(name, dest string) string {
	if path.IsAbs(dest) {
		return path.Clean(dest)
	}
	return path.Join(path.Dir(name), dest)
}

func (p Provisioner) enableSite(rep *Report, j *journal) error {
	link, dest := p.cfg.Layout.LinkPath(), p.cfg.Layout.ConfigPath()

	prev, err := p.snapshot(link)
	if err != nil {
		rep.add(StepEnableSite, StatusFailed, link, err.Error())
		return fmt.Errorf("could not inspect %s: %v", link, err)
	}
	if prev.link != "" && resolve(link, prev.link) == dest {
		rep.add(StepEnableSite, StatusUnchanged, link, "-> "+dest)
		return nil
	}

	action := "create link"
	switch {
	case prev.link != "":
		action = "replace link to " + prev.link
	case prev.exists:
		action = "replace regular file"
	}
	if p.cfg.DryRun {
		rep.add(StepEnableSite, StatusPlanned, link, action)
		return nil
	}

	if prev.exists {
		if err := p.target.Remove(link); err != nil {
			rep.add(StepEnableSite, StatusFailed, link, err.Error())
			return fmt.Errorf("could not remove %s: %v", link, err)
		}
	}
	if err := p.target.Symlink(dest, link); err != nil {
		rep.add(StepEnableSite, StatusFailed, link, err.Error())
		if prev.exists {
			if rerr := p.restore(link, prev); rerr != nil {
				p.log.Error("Failed to restore previous entry", "path", link, "error", rerr)
			}
		}
		return fmt.Errorf("could not link %s to %s: %v", link, dest, err)
	}
	j.push(StepEnableSite, func() error { return p.restore(link, prev) })
	rep.add(StepEnableSite, StatusChanged, link, "-> "+dest)
	p.log.Info("Enabled site", "link", link, "config", dest)
	return nil
}

func (p Provisioner) disableDefault(rep *Report, j *journal) error {
	name := p.cfg.Layout.DefaultLinkPath()

	prev, err := p.snapshot(name)
	if err != nil {
		rep.add(StepDisableDefault, StatusFailed, name, err.Error())
		return fmt.Errorf("could not inspect %s: %v", name, err)
	}
	if !prev.exists {
		rep.add(StepDisableDefault, StatusUnchanged, name, "absent")
		return nil
	}
	if p.cfg.DryRun {
		rep.add(StepDisableDefault, StatusPlanned, name, "remove")
		return nil
	}

	if err := p.target.Remove(name); err != nil {
		rep.add(StepDisableDefault, StatusFailed, name, err.Error())
		return fmt.Errorf("could not remove %s: %v", name, err)
	}
	j.push(StepDisableDefault, func() error { return p.restore(name, prev) })
	rep.add(StepDisableDefault, StatusChanged, name, "removed")
	p.log.Info("Disabled default site", "path", name)
	return nil
}

// Verify checks the site is provisioned on the target without changing it.
//
// Every check runs, and the failures are joined under ErrVerifyFailed.
func (p Provisioner) Verify(ctx context.Context) (rep Report, err error) {
	rep = Report{Host: p.target.String()}
	l := p.cfg.Layout

	var errs []error
	fail := func(step, path string, err error) {
		rep.add(step, StatusFailed, path, err.Error())
		errs = append(errs, fmt.Errorf("%s: %w", step, err))
	}

	rec, found, err := readRecord(p.target, l.StatePath())
	switch {
	case err != nil:
		fail(StepRecord, l.StatePath(), err)
	case found:
		rep.RunID = rec.RunID
		rep.add(StepRecord, StatusOK, l.StatePath(), "applied at "+rec.AppliedAt.Format(time.RFC3339))
	default:
		rep.add(StepRecord, StatusOK, l.StatePath(), "no state file, checksums are not verified")
	}

	for _, f := range []struct {
		step string
		path string
		want string
	}{
		{StepPage, l.PagePath(), rec.Page.SHA256},
		{StepSiteConfig, l.ConfigPath(), rec.SiteConfig.SHA256},
	} {
		content, err := p.target.ReadFile(f.path)
		if err != nil {
			fail(f.step, f.path, err)
			continue
		}
		got := checksum(content)
		if f.want != "" && got != f.want {
			fail(f.step, f.path, fmt.Errorf("checksum %s does not match recorded %s", got, f.want))
			continue
		}
		rep.add(f.step, StatusOK, f.path, "sha256 "+got)
	}

	link, dest := l.LinkPath(), l.ConfigPath()
	if got, err := p.target.Readlink(link); err != nil {
		fail(StepEnableSite, link, err)
	} else if resolve(link, got) != dest {
		fail(StepEnableSite, link, fmt.Errorf("links to %s instead of %s", got, dest))
	} else if _, err := p.target.Lstat(dest); err != nil {
		fail(StepEnableSite, link, fmt.Errorf("dangling link: %v", err))
	} else {
		rep.add(StepEnableSite, StatusOK, link, "-> "+dest)
	}

	if _, err := p.target.Lstat(l.DefaultLinkPath()); err == nil {
		fail(StepDisableDefault, l.DefaultLinkPath(), errors.New("default site is still enabled"))
	} else if !errors.Is(err, fs.ErrNotExist) {
		fail(StepDisableDefault, l.DefaultLinkPath(), err)
	} else {
		rep.add(StepDisableDefault, StatusOK, l.DefaultLinkPath(), "absent")
	}

	if res, err := p.nginx.Test(ctx); err != nil {
		fail(StepConfigTest, "", err)
	} else {
		rep.add(StepConfigTest, StatusOK, "", warningsDetail(res))
	}

	if len(errs) > 0 {
		return rep, errors.Join(append([]error{ErrVerifyFailed}, errs...)...)
	}
	return rep, nil
}

func warningsDetail(res nginx.TestResult) string {
	if len(res.Warnings) == 0 {
		return ""
	}
	return fmt.Sprintf("%d warning(s): %s", len(res.Warnings), res.Warnings[0])
}

func checksum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
