package sshctl

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"
)

// DefaultKeyBits is the RSA size used when a host key has to be generated.
const DefaultKeyBits = 4096

// NewRSAPrivateKey generates and validates an RSA key of bitSize bits.
func NewRSAPrivateKey(bitSize int) (*rsa.PrivateKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, bitSize)
	if err != nil {
		return nil, err
	}
	if err := key.Validate(); err != nil {
		return nil, err
	}
	return key, nil
}

// RSAPrivateKeyPEM encodes key as a PKCS#1 "RSA PRIVATE KEY" PEM block.
func RSAPrivateKeyPEM(key *rsa.PrivateKey) []byte {
	return pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
}

// LoadOrCreateHostKey reads the PEM host key at path. If the file does not
// exist, a new RSA key of bits size is generated and saved there with mode
// 0600, creating parent directories as needed.
//
// Parameters:
//   - path: Location of the PEM-encoded private key.
//   - bits: RSA size for a generated key; DefaultKeyBits when zero.
//
// Returns:
//   - ssh.Signer: The host key, ready for ssh.ServerConfig.AddHostKey.
//   - error: If the key cannot be read, generated, saved or parsed.
func LoadOrCreateHostKey(path string, bits int) (ssh.Signer, error) {
	if bits <= 0 {
		bits = DefaultKeyBits
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		key, genErr := NewRSAPrivateKey(bits)
		if genErr != nil {
			return nil, fmt.Errorf("failed to generate host key: %w", genErr)
		}
		data = RSAPrivateKeyPEM(key)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create host key directory: %w", err)
		}
		if err := os.WriteFile(path, data, 0o600); err != nil {
			return nil, fmt.Errorf("failed to save generated host key: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to read host key: %w", err)
	}

	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse host key %s: %w", path, err)
	}
	return signer, nil
}
