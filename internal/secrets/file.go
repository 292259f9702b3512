package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

const nonceSizeGCM = 12

// defaultKeySource is used by Open; tests may replace to force errors.
var defaultKeySource = DefaultKeySource

// fileWriteFile is used by writeMap; tests may replace to force errors.
var fileWriteFile = os.WriteFile

// fileRandReader is used by writeMap for nonce; tests may replace to force errors.
var fileRandReader io.Reader = rand.Reader

// Open returns a Store at path keyed by DefaultKeySource. An empty path uses
// DefaultPath.
func Open(path string) (*FileStore, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	key, err := defaultKeySource()
	if err != nil {
		return nil, err
	}
	return NewFileStore(path, key)
}

// NewFileStore returns a Store backed by one AES-GCM encrypted JSON object
// at path.
func NewFileStore(path string, key []byte) (*FileStore, error) {
	if len(key) != 32 {
		return nil, errors.New("secrets: key must be 32 bytes")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &FileStore{path: path, gcm: gcm}, nil
}

// FileStore is safe for concurrent use within one process.
type FileStore struct {
	mu   sync.Mutex
	path string
	gcm  cipher.AEAD
}

// Path returns the backing file.
func (f *FileStore) Path() string { return f.path }

func (f *FileStore) Get(key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, err := f.readMap()
	if err != nil {
		return "", err
	}
	v, ok := m[key]
	if !ok || v == "" {
		return "", ErrNotFound
	}
	return v, nil
}

// Set refuses to write when the existing file cannot be decrypted, so a
// wrong passphrase never wipes stored secrets.
func (f *FileStore) Set(key, value string) error {
	if key == "" {
		return errors.New("secrets: key must not be empty")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	m, err := f.readMap()
	if err != nil {
		return err
	}
	m[key] = value
	return f.writeMap(m)
}

func (f *FileStore) Delete(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, err := f.readMap()
	if err != nil {
		return err
	}
	if _, ok := m[key]; !ok {
		return nil
	}
	delete(m, key)
	return f.writeMap(m)
}

func (f *FileStore) Keys() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, err := f.readMap()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// readMap returns an empty map when the file does not exist yet.
func (f *FileStore) readMap() (map[string]string, error) {
	m := make(map[string]string)
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return m, nil
		}
		return nil, fmt.Errorf("secrets read: %w", err)
	}
	if len(data) < nonceSizeGCM {
		return nil, fmt.Errorf("%w: file truncated", ErrCorrupt)
	}
	nonce, ciphertext := data[:nonceSizeGCM], data[nonceSizeGCM:]
	plain, err := f.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrCorrupt
	}
	if err := json.Unmarshal(plain, &m); err != nil {
		return nil, fmt.Errorf("secrets parse: %w", err)
	}
	return m, nil
}

func (f *FileStore) writeMap(m map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("secrets mkdir: %w", err)
	}
	plain, err := json.Marshal(m)
	if err != nil {
		return err
	}
	nonce := make([]byte, nonceSizeGCM)
	if _, err := io.ReadFull(fileRandReader, nonce); err != nil {
		return fmt.Errorf("secrets nonce: %w", err)
	}
	ciphertext := f.gcm.Seal(nonce, nonce, plain, nil)
	if err := fileWriteFile(f.path, ciphertext, 0o600); err != nil {
		return fmt.Errorf("secrets write: %w", err)
	}
	return nil
}

var _ Store = (*FileStore)(nil)
