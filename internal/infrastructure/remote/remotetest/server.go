// Package remotetest runs an in-process SSH server with exec and sftp
// support. Commands are executed by the local sh, so tests observe real
// process and filesystem behaviour.
package remotetest

import (
	"bytes"
	"errors"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/pkg/sftp"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/fleecy/participant/pkg/utils/sshkeygen"
)

type Server struct {
	// KeyPath is a private key file accepted by the server.
	KeyPath string
	// PrivateKey holds the PEM bytes stored at KeyPath.
	PrivateKey []byte

	listener   net.Listener
	config     *ssh.ServerConfig
	authorized ssh.PublicKey
	wg         sync.WaitGroup

	mu       sync.Mutex
	commands []string
}

// NewServer starts a server on 127.0.0.1 and stops it when the test ends.
func NewServer(t testing.TB) *Server {
	t.Helper()

	hostKey := GeneratePrivateKey(t)
	hostSigner, err := ssh.ParsePrivateKey(hostKey)
	require.NoError(t, err)

	clientKey := GeneratePrivateKey(t)
	clientSigner, err := ssh.ParsePrivateKey(clientKey)
	require.NoError(t, err)

	keyPath := filepath.Join(t.TempDir(), "id_ed25519")
	require.NoError(t, os.WriteFile(keyPath, clientKey, 0o600))

	s := &Server{
		KeyPath:    keyPath,
		PrivateKey: clientKey,
		authorized: clientSigner.PublicKey(),
	}
	s.config = &ssh.ServerConfig{
		PublicKeyCallback: func(_ ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if bytes.Equal(key.Marshal(), s.authorized.Marshal()) {
				return nil, nil
			}
			return nil, errors.New("unknown public key")
		},
	}
	s.config.AddHostKey(hostSigner)

	s.listener, err = net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s.wg.Add(1)
	go s.serve()
	t.Cleanup(s.Close)

	return s
}

// GeneratePrivateKey returns a fresh PEM encoded ed25519 private key.
func GeneratePrivateKey(t testing.TB) []byte {
	t.Helper()

	key, _, err := sshkeygen.GenerateEd25519()
	require.NoError(t, err)
	return key
}

func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.listener.Addr().String())
	return host
}

func (s *Server) Port() int {
	_, port, _ := net.SplitHostPort(s.listener.Addr().String())
	p, _ := strconv.Atoi(port)
	return p
}

// Commands returns every exec request received so far, in order.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

func (s *Server) Close() {
	s.listener.Close()
	s.wg.Wait()
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(netConn net.Conn) {
	sshConn, chans, reqs, err := ssh.NewServerConn(netConn, s.config)
	if err != nil {
		return
	}
	defer sshConn.Close()

	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			_ = newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		go s.handleSession(newChannel)
	}
}

func (s *Server) handleSession(newChannel ssh.NewChannel) {
	channel, requests, err := newChannel.Accept()
	if err != nil {
		return
	}
	defer channel.Close()

	for req := range requests {
		var payload struct{ Value string }
		switch req.Type {
		case "exec":
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
				_ = req.Reply(false, nil)
				continue
			}
			_ = req.Reply(true, nil)

			s.mu.Lock()
			s.commands = append(s.commands, payload.Value)
			s.mu.Unlock()

			code := runCommand(payload.Value, channel)
			status := struct{ Status uint32 }{uint32(code)}
			_, _ = channel.SendRequest("exit-status", false, ssh.Marshal(&status))
			return

		case "subsystem":
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil || payload.Value != "sftp" {
				_ = req.Reply(false, nil)
				continue
			}
			_ = req.Reply(true, nil)

			server, err := sftp.NewServer(channel)
			if err != nil {
				return
			}
			_ = server.Serve()
			return

		default:
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
		}
	}
}

func runCommand(command string, channel ssh.Channel) int {
	cmd := exec.Command("sh", "-c", command)
	cmd.Stdout = channel
	cmd.Stderr = channel.Stderr()

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() >= 0 {
			return exitErr.ExitCode()
		}
		return 1
	}
	return 0
}
