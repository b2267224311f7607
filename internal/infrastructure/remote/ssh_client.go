package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fleecy/participant/internal/domain"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

var (
	ErrSSHConnection     = errors.New("ssh: connection failed")
	ErrSSHAuthentication = errors.New("ssh: authentication failed")
	ErrSSHTimeout        = errors.New("ssh: connection timeout")
	ErrSSHSession        = errors.New("ssh: session failed")
	ErrSSHTransfer       = errors.New("ssh: file transfer failed")
)

type SSHConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	PrivateKey   []byte
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration

	// CommandTimeout bounds Run calls whose context has no deadline.
	CommandTimeout time.Duration
}

type SSHClient struct {
	config SSHConfig
}

func NewSSHClient(cfg SSHConfig) *SSHClient {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = 3 * time.Second
	}
	return &SSHClient{config: cfg}
}

func (c *SSHClient) getAuthMethods() ([]ssh.AuthMethod, error) {
	var authMethods []ssh.AuthMethod

	if len(c.config.PrivateKey) > 0 {
		signer, err := ssh.ParsePrivateKey(c.config.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid private key", ErrSSHAuthentication)
		}
		authMethods = append(authMethods, ssh.PublicKeys(signer))
	}

	if c.config.Password != "" {
		authMethods = append(authMethods, ssh.Password(c.config.Password))
	}

	if len(authMethods) == 0 {
		return nil, fmt.Errorf("%w: no credentials provided", ErrSSHAuthentication)
	}

	return authMethods, nil
}

// Connect dials the host and performs the SSH handshake. Attempts are
// bounded by MaxRetries; the backoff between attempts honours ctx.
func (c *SSHClient) Connect(ctx context.Context) (*Session, error) {
	authMethods, err := c.getAuthMethods()
	if err != nil {
		return nil, err
	}

	sshConfig := &ssh.ClientConfig{
		User: c.config.User,
		Auth: authMethods,
		// Unknown hosts are trusted; VMs are recreated with fresh host keys.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         c.config.Timeout,
	}

	addr := net.JoinHostPort(c.config.Host, strconv.Itoa(c.config.Port))
	var connectErr error

	for attempt := 1; attempt <= c.config.MaxRetries; attempt++ {
		client, err := c.dial(ctx, addr, sshConfig)
		if err == nil {
			return &Session{client: client, host: addr, commandTimeout: c.config.CommandTimeout}, nil
		}
		connectErr = err

		if isAuthError(err) || ctx.Err() != nil {
			break
		}
		if attempt < c.config.MaxRetries {
			select {
			case <-ctx.Done():
			case <-time.After(time.Duration(attempt) * c.config.RetryBackoff):
			}
		}
	}

	switch {
	case isAuthError(connectErr):
		return nil, fmt.Errorf("%w: %s: %v", ErrSSHAuthentication, addr, connectErr)
	case isTimeout(connectErr) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return nil, fmt.Errorf("%w: %s: %v", ErrSSHTimeout, addr, connectErr)
	default:
		return nil, fmt.Errorf("%w: %s: %v", ErrSSHConnection, addr, connectErr)
	}
}

func (c *SSHClient) dial(ctx context.Context, addr string, sshConfig *ssh.ClientConfig) (*ssh.Client, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	dialer := net.Dialer{KeepAlive: 60 * time.Second}
	conn, err := dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	// The handshake itself must not outlive the connect timeout.
	_ = conn.SetDeadline(time.Now().Add(c.config.Timeout))
	sc, chans, reqs, err := ssh.NewClientConn(conn, addr, sshConfig)
	if err != nil {
		conn.Close()
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})

	return ssh.NewClient(sc, chans, reqs), nil
}

func isAuthError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "unable to authenticate")
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline")
}

// Session is one authenticated connection to one host. It is owned by a
// single caller and must be closed on every exit path.
type Session struct {
	client         *ssh.Client
	host           string
	commandTimeout time.Duration

	mu   sync.Mutex
	sftp *sftp.Client
}

func (s *Session) Host() string {
	return s.host
}

// Run executes cmd and waits for it to return. A non-zero exit status is
// reported in the result; the error is reserved for transport failures and
// ctx expiry, in which case the remote command is signalled.
func (s *Session) Run(ctx context.Context, cmd string) (domain.CommandResult, error) {
	if _, ok := ctx.Deadline(); !ok && s.commandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.commandTimeout)
		defer cancel()
	}

	session, err := s.client.NewSession()
	if err != nil {
		return domain.CommandResult{}, fmt.Errorf("%w: failed to create session: %v", ErrSSHSession, err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() {
		done <- session.Run(cmd)
	}()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		_ = session.Close()
		return domain.CommandResult{ExitStatus: -1}, fmt.Errorf("%w: command timed out or cancelled", ctx.Err())
	case err := <-done:
		result := domain.CommandResult{Stdout: stdout.String(), Stderr: stderr.String()}
		if err == nil {
			return result, nil
		}
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			result.ExitStatus = exitErr.ExitStatus()
			return result, nil
		}
		result.ExitStatus = -1
		return result, fmt.Errorf("%w: %v", ErrSSHSession, err)
	}
}

func (s *Session) sftpClient() (*sftp.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sftp != nil {
		return s.sftp, nil
	}
	client, err := sftp.NewClient(s.client)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create sftp client: %v", ErrSSHTransfer, err)
	}
	s.sftp = client
	return client, nil
}

// withContext runs a blocking sftp operation and tears the sftp channel down
// if ctx ends first.
func (s *Session) withContext(ctx context.Context, op func(*sftp.Client) error) error {
	client, err := s.sftpClient()
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- op(client)
	}()

	select {
	case <-ctx.Done():
		s.mu.Lock()
		if s.sftp == client {
			s.sftp = nil
		}
		s.mu.Unlock()
		client.Close()
		return fmt.Errorf("%w: %v", ErrSSHTransfer, ctx.Err())
	case err := <-done:
		return err
	}
}

// WriteFile creates or truncates remotePath and writes content to it. The
// parent directory must already exist.
func (s *Session) WriteFile(ctx context.Context, remotePath string, content []byte) error {
	return s.withContext(ctx, func(client *sftp.Client) error {
		f, err := client.OpenFile(remotePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
		if err != nil {
			return fmt.Errorf("%w: create %s: %v", ErrSSHTransfer, remotePath, err)
		}
		written, err := f.Write(content)
		if err != nil {
			f.Close()
			return fmt.Errorf("%w: write %s: %v", ErrSSHTransfer, remotePath, err)
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("%w: close %s: %v", ErrSSHTransfer, remotePath, err)
		}
		if written != len(content) {
			return fmt.Errorf("%w: upload incomplete: expected %d bytes, got %d", ErrSSHTransfer, len(content), written)
		}
		return nil
	})
}

func (s *Session) ReadFile(ctx context.Context, remotePath string) ([]byte, error) {
	var data []byte
	err := s.withContext(ctx, func(client *sftp.Client) error {
		f, err := client.Open(remotePath)
		if err != nil {
			return fmt.Errorf("%w: open %s: %v", ErrSSHTransfer, remotePath, err)
		}
		defer f.Close()
		data, err = io.ReadAll(f)
		if err != nil {
			return fmt.Errorf("%w: read %s: %v", ErrSSHTransfer, remotePath, err)
		}
		return nil
	})
	return data, err
}

func (s *Session) Close() error {
	s.mu.Lock()
	if s.sftp != nil {
		s.sftp.Close()
		s.sftp = nil
	}
	s.mu.Unlock()
	return s.client.Close()
}
