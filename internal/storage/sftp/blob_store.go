// Package sftp provides a BlobStore that uploads previews to a remote share over SFTP.
package sftp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const dialTimeout = 30 * time.Second

// Config captures the SSH endpoint and remote root for previews.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	// KnownHostsFile verifies the server key. Empty disables host key checking.
	KnownHostsFile string
	// RootDir is the remote directory under which {source}_{id} directories are created.
	RootDir string
}

// BlobStore writes previews through an SFTP session.
type BlobStore struct {
	client *sftp.Client
	root   string
}

// New wraps an established SFTP client.
func New(client *sftp.Client, rootDir string) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("sftp client is required")
	}
	root := path.Clean(strings.TrimSpace(rootDir))
	if root == "" || root == "." {
		return nil, fmt.Errorf("root directory is required")
	}
	return &BlobStore{client: client, root: root}, nil
}

// Dial opens an SSH connection, starts an SFTP session and returns the store
// together with a closer for both.
func Dial(ctx context.Context, cfg Config) (*BlobStore, func() error, error) {
	if cfg.Host == "" || cfg.User == "" {
		return nil, nil, fmt.Errorf("sftp host and user are required")
	}
	hostKey := ssh.InsecureIgnoreHostKey() //nolint:gosec // opt-in via empty known_hosts
	if cfg.KnownHostsFile != "" {
		cb, err := knownhosts.New(cfg.KnownHostsFile)
		if err != nil {
			return nil, nil, fmt.Errorf("load known hosts: %w", err)
		}
		hostKey = cb
	}
	port := cfg.Port
	if port == 0 {
		port = 22
	}
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(port))

	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            []ssh.AuthMethod{ssh.Password(cfg.Password)},
		HostKeyCallback: hostKey,
		Timeout:         dialTimeout,
	})
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	sshClient := ssh.NewClient(sshConn, chans, reqs)

	client, err := sftp.NewClient(sshClient)
	if err != nil {
		_ = sshClient.Close()
		return nil, nil, fmt.Errorf("start sftp session: %w", err)
	}
	store, err := New(client, cfg.RootDir)
	if err != nil {
		_ = client.Close()
		_ = sshClient.Close()
		return nil, nil, err
	}
	closeFn := func() error {
		return errors.Join(client.Close(), sshClient.Close())
	}
	return store, closeFn, nil
}

// PutObject uploads data to {root}/{rel} and returns the remote path.
func (s *BlobStore) PutObject(ctx context.Context, rel string, _ string, data io.Reader) (string, error) {
	if strings.TrimSpace(rel) == "" {
		return "", fmt.Errorf("path is required")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	full := path.Join(s.root, rel)
	if !strings.HasPrefix(full, s.root+"/") {
		return "", fmt.Errorf("path traversal detected")
	}
	if err := s.client.MkdirAll(path.Dir(full)); err != nil {
		return "", fmt.Errorf("create remote directory: %w", err)
	}

	f, err := s.client.Create(full)
	if err != nil {
		return "", fmt.Errorf("create remote file: %w", err)
	}
	if _, err := io.Copy(f, data); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("upload %s: %w", full, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close remote file: %w", err)
	}
	return full, nil
}
