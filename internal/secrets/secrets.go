package secrets

import "errors"

// KeyAPISecret holds the media API admin secret when it is kept out of the
// config file.
const KeyAPISecret = "api_secret"

// Store keeps secrets (e.g. the API secret) out of plain-text config.
type Store interface {
	// Get returns the secret for key. Returns ErrNotFound if missing.
	Get(key string) (string, error)
	// Set stores the secret for key, overwriting any previous value.
	Set(key, value string) error
	// Delete removes key. No error if the key did not exist.
	Delete(key string) error
	// Keys lists stored keys, sorted. Values are never listed.
	Keys() ([]string, error)
}

// ErrNotFound is returned when a secret is not found.
var ErrNotFound = errors.New("secret not found")

// ErrCorrupt is returned when the store exists but cannot be decrypted with
// the current key.
var ErrCorrupt = errors.New("secrets file cannot be decrypted with the current key")
