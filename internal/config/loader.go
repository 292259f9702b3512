package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

const (
	// EnvPrefix prefixes every environment override, e.g. MEDIAGATE_API_SECRET.
	EnvPrefix = "MEDIAGATE_"
	// EnvConfigPath names the config file when --config is not given.
	EnvConfigPath = EnvPrefix + "CONFIG"
)

// marshalYAML and writeFile are used by WriteDefault; tests may replace them to force errors.
var (
	marshalYAML = yamlv3.Marshal
	writeFile   = os.WriteFile
)

// ErrConfigExists is returned by WriteDefault when it would overwrite a file.
var ErrConfigExists = errors.New("config file already exists")

// mapProvider feeds an in-memory map to koanf.
type mapProvider map[string]any

func (m mapProvider) ReadBytes() ([]byte, error) {
	return nil, errors.New("map provider does not support ReadBytes")
}

func (m mapProvider) Read() (map[string]any, error) { return m, nil }

// Load layers defaults, the YAML file at path (skipped when path is empty)
// and MEDIAGATE_* environment variables, later layers winning, then
// validates the result.
func Load(path string) (*Config, error) {
	cfg, err := load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func load(path string) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(mapProvider(defaults()), nil); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	if path != "" {
		if err := k.Load(file.Provider(filepath.Clean(path)), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config load %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("config env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("config parse: %w", err)
	}
	return &cfg, nil
}

// envKey maps MEDIAGATE_SESSION_MINTTIMEOUT to session.minttimeout.
func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	if s == "CONFIG" {
		return ""
	}
	return strings.ReplaceAll(strings.ToLower(s), "_", ".")
}

// ResolvePath returns flagPath if set, else $MEDIAGATE_CONFIG, else "".
func ResolvePath(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	return os.Getenv(EnvConfigPath)
}

// WriteDefault writes the default configuration as YAML to path. It refuses
// to overwrite an existing file unless force is set.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s", ErrConfigExists, path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config save mkdir: %w", err)
	}
	data, err := marshalYAML(defaults())
	if err != nil {
		return fmt.Errorf("config save marshal: %w", err)
	}
	// The file may end up holding api.secret.
	if err := writeFile(path, data, 0o600); err != nil {
		return fmt.Errorf("config save write: %w", err)
	}
	return nil
}
