package target

import (
	"io"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

var (
	HostKeyChecker = hostKeyChecker
	AuthMethods    = authMethods
)

// NewRemoteForTests returns a Remote only able to handle files through the given sftp client.
func NewRemoteForTests(host string, sftpClient *sftp.Client) *Remote {
	return newRemote(host, (*ssh.Client)(nil), sftpClient)
}

// SetAgentConn sets the ssh agent connection closed with r.
func (r *Remote) SetAgentConn(c io.Closer) {
	r.agentConn = c
}
