package remote

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fleecy/participant/internal/config"
	"github.com/fleecy/participant/internal/core/ports"
)

// Dialer opens key-authenticated sessions to inventory addresses. The key is
// read on every dial so a rotated key is picked up without a restart.
type Dialer struct {
	cfg config.SSHConfig
}

func NewDialer(cfg config.SSHConfig) *Dialer {
	return &Dialer{cfg: cfg}
}

func (d *Dialer) Dial(ctx context.Context, address string) (ports.RemoteSession, error) {
	keyPath, err := ExpandHome(d.cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSSHAuthentication, err)
	}
	key, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("%w: read key %s: %v", ErrSSHAuthentication, keyPath, err)
	}

	client := NewSSHClient(SSHConfig{
		Host:         address,
		Port:         d.cfg.Port,
		User:         d.cfg.User,
		PrivateKey:   key,
		Timeout:      d.cfg.ConnectTimeout,
		MaxRetries:   d.cfg.ConnectAttempts,
		RetryBackoff: 2 * time.Second,

		CommandTimeout: d.cfg.CommandTimeout,
	})
	session, err := client.Connect(ctx)
	if err != nil {
		return nil, err
	}
	return session, nil
}

// ExpandHome resolves a leading "~" against the current user's home.
func ExpandHome(p string) (string, error) {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~")), nil
}
