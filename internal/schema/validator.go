package schema

import (
	"encoding/json"
	"sync"

	"mediagate/internal/domain"
)

// Validator compiles contract schemas once and caches them by contract name.
// It is safe for concurrent use.
type Validator struct {
	mu    sync.RWMutex
	cache map[string]*Schema
}

// NewValidator returns an empty Validator.
func NewValidator() *Validator {
	return &Validator{cache: make(map[string]*Schema)}
}

// Compile compiles raw for the named contract and caches the result,
// replacing any previous entry under that name.
func (v *Validator) Compile(name string, raw json.RawMessage) (*Schema, error) {
	s, err := Compile(name, raw)
	if err != nil {
		return nil, err
	}
	v.mu.Lock()
	v.cache[name] = s
	v.mu.Unlock()
	return s, nil
}

// Lookup returns the cached schema for name.
func (v *Validator) Lookup(name string) (*Schema, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	s, ok := v.cache[name]
	return s, ok
}

// Validate validates args for the named contract, compiling raw on a cache miss.
func (v *Validator) Validate(name string, raw json.RawMessage, args map[string]any) (domain.Args, error) {
	s, ok := v.Lookup(name)
	if !ok {
		var err error
		if s, err = v.Compile(name, raw); err != nil {
			return nil, err
		}
	}
	return s.Validate(args)
}
