package target

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/erimkaur/siteprovision/internal/cmdutils"
	"github.com/erimkaur/siteprovision/internal/constants"
	"github.com/pkg/sftp"
	"github.com/ubuntu/decorate"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

var (
	// ErrUnknownHost is returned when the remote host key is not in the known hosts file.
	ErrUnknownHost = errors.New("unknown host key")
	// ErrHostKeyMismatch is returned when the remote host presents a key different from the known one.
	ErrHostKeyMismatch = errors.New("host key mismatch")
	// ErrNoAuthMethod is returned when neither an identity file nor an ssh agent is available.
	ErrNoAuthMethod = errors.New("no ssh authentication method available")
)

// RemoteConfig describes how to reach a remote host.
type RemoteConfig struct {
	// Host is [user@]host[:port].
	Host string
	// IdentityFile is a private key file. When empty, the ssh agent is used.
	IdentityFile string
	// KnownHostsFile is the OpenSSH known_hosts file the host key is checked against.
	KnownHostsFile string
	// Timeout bounds the TCP connection and the SSH handshake.
	Timeout time.Duration
}

// Remote is a host reached over SSH. Files are handled over SFTP.
type Remote struct {
	host   string
	client *ssh.Client
	sftp   *sftp.Client

	// agentConn is the connection to the ssh agent, when it is used.
	agentConn io.Closer
}

// ParseHost splits [user@]host[:port] into a user and a dialable address.
func ParseHost(s string) (user, addr string, err error) {
	user = constants.DefaultSSHUser
	host := s
	if i := strings.LastIndex(s, "@"); i >= 0 {
		user, host = s[:i], s[i+1:]
	}
	if user == "" || host == "" {
		return "", "", fmt.Errorf("invalid host %q, expected [user@]host[:port]", s)
	}

	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(strings.Trim(host, "[]"), constants.DefaultSSHPort)
	}
	return user, host, nil
}

// Dial connects to the remote host described by cfg.
func Dial(cfg RemoteConfig) (r *Remote, err error) {
	defer decorate.OnError(&err, "could not connect to %s", cfg.Host)

	user, addr, err := ParseHost(cfg.Host)
	if err != nil {
		return nil, err
	}

	hostKeyCallback, err := hostKeyChecker(cfg.KnownHostsFile)
	if err != nil {
		return nil, err
	}

	auth, agentConn, err := authMethods(cfg.IdentityFile)
	if err != nil {
		return nil, err
	}
	closeAgent := func() {
		if agentConn == nil {
			return
		}
		if err := agentConn.Close(); err != nil {
			slog.Debug("Failed to close ssh agent connection", "error", err)
		}
	}

	client, err := ssh.Dial("tcp", addr, &ssh.ClientConfig{
		User:            user,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         cfg.Timeout,
	})
	if err != nil {
		closeAgent()
		return nil, err
	}

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		client.Close()
		closeAgent()
		return nil, fmt.Errorf("failed to create sftp client: %w", err)
	}

	slog.Debug("Connected to remote host", "host", cfg.Host, "address", addr)
	r = newRemote(cfg.Host, client, sftpClient)
	r.agentConn = agentConn
	return r, nil
}

func newRemote(host string, client *ssh.Client, sftpClient *sftp.Client) *Remote {
	return &Remote{host: host, client: client, sftp: sftpClient}
}

// hostKeyChecker rejects hosts missing from the known hosts file, as well as mismatching keys.
func hostKeyChecker(knownHostsFile string) (ssh.HostKeyCallback, error) {
	if knownHostsFile == "" {
		return nil, errors.New("no known hosts file configured")
	}
	cb, err := knownhosts.New(knownHostsFile)
	if err != nil {
		return nil, fmt.Errorf("could not load known hosts: %w", err)
	}

	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		err := cb(hostname, remote, key)
		var keyErr *knownhosts.KeyError
		if !errors.As(err, &keyErr) {
			return err
		}
		if len(keyErr.Want) == 0 {
			return fmt.Errorf("%w for %s: add it to %s first, for instance with ssh-keyscan", ErrUnknownHost, hostname, knownHostsFile)
		}
		return fmt.Errorf("%w for %s: remote key presented is %s", ErrHostKeyMismatch, hostname, strings.TrimSpace(string(ssh.MarshalAuthorizedKey(key))))
	}, nil
}

// authMethods uses the identity file when given, and the ssh agent otherwise.
// When the agent is used, its connection is returned so that it can be closed with the session.
func authMethods(identityFile string) ([]ssh.AuthMethod, io.Closer, error) {
	if identityFile != "" {
		key, err := os.ReadFile(identityFile)
		if err != nil {
			return nil, nil, fmt.Errorf("could not read identity file: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		var passErr *ssh.PassphraseMissingError
		if errors.As(err, &passErr) {
			return nil, nil, fmt.Errorf("identity file %s is passphrase protected, load it into your ssh agent instead", identityFile)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("unable to parse private key: %w", err)
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil, nil
	}

	agentClient, agentConn := getSSHAgent()
	if agentClient == nil {
		return nil, nil, ErrNoAuthMethod
	}
	return []ssh.AuthMethod{ssh.PublicKeysCallback(agentClient.Signers)}, agentConn, nil
}

// MkdirAll implements Target.
//
// Created directories get their mode from the remote umask, perm is ignored.
func (r *Remote) MkdirAll(p string, _ fs.FileMode) error {
	return r.sftp.MkdirAll(p)
}

// ReadFile implements Target.
func (r *Remote) ReadFile(p string) ([]byte, error) {
	f, err := r.sftp.Open(p)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return io.ReadAll(f)
}

// WriteFile implements Target.
//
// The content is uploaded to a temporary file next to p, which is then renamed over p.
func (r *Remote) WriteFile(p string, data []byte, perm fs.FileMode) (err error) {
	defer decorate.OnError(&err, "could not write %s on %s", p, r.host)

	tmp := path.Join(path.Dir(p), fmt.Sprintf(".%s.siteprovision.%d", path.Base(p), time.Now().UnixNano()))
	f, err := r.sftp.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	defer func() {
		if err == nil {
			return
		}
		if err := r.sftp.Remove(tmp); err != nil && !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("Failed to remove temporary file", "host", r.host, "file", tmp, "error", err)
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("failed to write temporary file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close temporary file: %w", err)
	}
	if err := r.sftp.Chmod(tmp, perm); err != nil {
		return fmt.Errorf("failed to chmod temporary file: %w", err)
	}

	renameErr := r.sftp.PosixRename(tmp, p)
	if renameErr == nil {
		return nil
	}
	slog.Debug("posix-rename failed, falling back to remove and rename", "host", r.host, "error", renameErr)

	// Plain SFTP rename refuses to overwrite an existing file.
	if err := r.sftp.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove previous file: %w", err)
	}
	if err := r.sftp.Rename(tmp, p); err != nil {
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}
	return nil
}

// Symlink implements Target.
func (r *Remote) Symlink(oldname, newname string) error {
	return r.sftp.Symlink(oldname, newname)
}

// Readlink implements Target.
func (r *Remote) Readlink(name string) (string, error) {
	return r.sftp.ReadLink(name)
}

// Lstat implements Target.
func (r *Remote) Lstat(name string) (fs.FileInfo, error) {
	return r.sftp.Lstat(name)
}

// Remove implements Target.
func (r *Remote) Remove(name string) error {
	return r.sftp.Remove(name)
}

// Run implements Target.
//
// The command line is quoted for the remote shell and run in the C locale.
// When the context is done before the command returns, the remote process is killed.
func (r *Remote) Run(ctx context.Context, timeout time.Duration, argv []string) (stdout, stderr *bytes.Buffer, err error) {
	stdout = &bytes.Buffer{}
	stderr = &bytes.Buffer{}
	if len(argv) == 0 || argv[0] == "" {
		return stdout, stderr, cmdutils.ErrEmptyCommand
	}

	session, err := r.client.NewSession()
	if err != nil {
		return stdout, stderr, fmt.Errorf("failed to open ssh session: %w", err)
	}
	defer session.Close()
	session.Stdout = stdout
	session.Stderr = stderr

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		done <- session.Run("LANG=C LC_ALL=C " + ShellJoin(argv))
	}()

	select {
	case err = <-done:
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		_ = session.Close()
		<-done
		err = ctx.Err()
	}
	return stdout, stderr, err
}

// String implements Target.
func (r *Remote) String() string {
	return r.host
}

// Close implements Target.
func (r *Remote) Close() error {
	var err error
	if r.sftp != nil {
		err = r.sftp.Close()
	}
	if r.client != nil {
		err = errors.Join(err, r.client.Close())
	}
	if r.agentConn != nil {
		err = errors.Join(err, r.agentConn.Close())
	}
	return err
}

var shellSafe = regexp.MustCompile(`^[A-Za-z0-9_@%+=:,./-]+$`)

// ShellJoin quotes each argument for a POSIX shell and joins them with spaces.
func ShellJoin(argv []string) string {
	quoted := make([]string, 0, len(argv))
	for _, a := range argv {
		if shellSafe.MatchString(a) {
			quoted = append(quoted, a)
			continue
		}
		quoted = append(quoted, "'"+strings.ReplaceAll(a, "'", `'\''`)+"'")
	}
	return strings.Join(quoted, " ")
}
