package sshkeygen

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"
)

// GenerateEd25519 returns an OpenSSH PEM private key and the matching
// authorized_keys line.
func GenerateEd25519() (privatePEM, authorizedKey []byte, err error) {
	pubKey, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate key pair: %w", err)
	}

	block, err := ssh.MarshalPrivateKey(privKey, "")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal private key: %w", err)
	}

	sshPubKey, err := ssh.NewPublicKey(pubKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create public key: %w", err)
	}

	return pem.EncodeToMemory(block), ssh.MarshalAuthorizedKey(sshPubKey), nil
}

// AuthorizedKey derives the authorized_keys line of an existing private key.
func AuthorizedKey(privatePEM []byte) ([]byte, error) {
	signer, err := ssh.ParsePrivateKey(privatePEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return ssh.MarshalAuthorizedKey(signer.PublicKey()), nil
}

// WriteKeyPair writes the private key to privateKeyPath and the public key
// next to it with a .pub suffix. An existing key is kept unless overwrite is
// set; the returned bool reports whether new files were written.
func WriteKeyPair(privateKeyPath string, overwrite bool) (bool, error) {
	if _, err := os.Stat(privateKeyPath); err == nil && !overwrite {
		return false, nil
	}

	if err := os.MkdirAll(filepath.Dir(privateKeyPath), 0700); err != nil {
		return false, fmt.Errorf("failed to create key directory: %w", err)
	}

	privatePEM, authorizedKey, err := GenerateEd25519()
	if err != nil {
		return false, err
	}

	if err := os.WriteFile(privateKeyPath, privatePEM, 0600); err != nil {
		return false, fmt.Errorf("failed to write private key: %w", err)
	}
	if err := os.WriteFile(privateKeyPath+".pub", authorizedKey, 0644); err != nil {
		return false, fmt.Errorf("failed to write public key: %w", err)
	}

	return true, nil
}
