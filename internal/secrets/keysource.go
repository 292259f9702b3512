package secrets

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// EnvPassphrase overrides the machine identity as key material.
const EnvPassphrase = "MEDIAGATE_SECRETS_PASSPHRASE"

const (
	keySalt = "mediagate-secrets-v1"
	keyInfo = "file-store"
)

// Hooks for tests.
var (
	keySourceReadFile      = os.ReadFile
	keySourceUserConfigDir = os.UserConfigDir
	keySourceMkdirAll      = os.MkdirAll
)

// DefaultKeySource returns a 32-byte key derived from MEDIAGATE_SECRETS_PASSPHRASE
// or, failing that, /etc/machine-id.
func DefaultKeySource() ([]byte, error) {
	if s := os.Getenv(EnvPassphrase); s != "" {
		return DeriveKey(s)
	}
	const machineIDPath = "/etc/machine-id"
	b, err := keySourceReadFile(machineIDPath)
	if err != nil {
		return nil, fmt.Errorf("secrets: set %s or ensure %s exists: %w", EnvPassphrase, machineIDPath, err)
	}
	id := strings.TrimSpace(strings.SplitN(string(b), "\n", 2)[0])
	if id == "" {
		return nil, errors.New("secrets: machine-id is empty")
	}
	return DeriveKey(id)
}

// DeriveKey expands material into a 32-byte AES key with HKDF-SHA256.
func DeriveKey(material string) ([]byte, error) {
	if material == "" {
		return nil, errors.New("secrets: empty key material")
	}
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, []byte(material), []byte(keySalt), []byte(keyInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("secrets: derive key: %w", err)
	}
	return key, nil
}

// DefaultPath returns UserConfigDir/mediagate/secrets.enc, creating the directory.
func DefaultPath() (string, error) {
	base, err := keySourceUserConfigDir()
	if err != nil {
		return "", fmt.Errorf("secrets dir: %w", err)
	}
	dir := filepath.Join(base, "mediagate")
	if err := keySourceMkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("secrets dir mkdir: %w", err)
	}
	return filepath.Join(dir, "secrets.enc"), nil
}
