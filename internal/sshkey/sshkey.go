// Package sshkey generates the transient keypair for a session. The
// public half is registered with the provider; the private half exists
// only in a local file with owner-only permissions and is deleted on
// teardown.
package sshkey

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"
)

// KeyPair holds one generated transient keypair.
type KeyPair struct {
	// PrivatePEM is the OpenSSH-encoded private key.
	PrivatePEM []byte
	// AuthorizedKey is the public key in authorized_keys format,
	// suitable for provider-side registration.
	AuthorizedKey []byte
}

// Generate creates a new ed25519 keypair. The comment is embedded in
// both encodings to make stray key material attributable.
func Generate(comment string) (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate keypair: %w", err)
	}

	block, err := ssh.MarshalPrivateKey(priv, comment)
	if err != nil {
		return nil, fmt.Errorf("failed to encode private key: %w", err)
	}

	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("failed to encode public key: %w", err)
	}

	authorized := ssh.MarshalAuthorizedKey(sshPub)
	if comment != "" {
		// MarshalAuthorizedKey ends with a newline; splice the comment in.
		authorized = append(authorized[:len(authorized)-1], []byte(" "+comment+"\n")...)
	}

	return &KeyPair{
		PrivatePEM:    pem.EncodeToMemory(block),
		AuthorizedKey: authorized,
	}, nil
}

// WritePrivate writes the private key to dir/<name>.pem with owner-only
// permissions and returns the path.
func (k *KeyPair) WritePrivate(dir, name string) (string, error) {
	path := filepath.Join(dir, name+".pem")
	if err := os.WriteFile(path, k.PrivatePEM, 0600); err != nil {
		return "", fmt.Errorf("failed to write private key: %w", err)
	}
	return path, nil
}

// RemovePrivate deletes a private key file. A missing file is success:
// teardown must be safe to re-run.
func RemovePrivate(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove private key: %w", err)
	}
	return nil
}
