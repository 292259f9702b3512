package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"

	"mediagate/internal/domain"
)

const minimalYAML = `
api:
  url: https://media.example.com
  partner: 2024
  secret: 0123456789abcdef
  user: ops@example.com
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mediagate.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

// =============================================================================
// Load
// =============================================================================

func TestLoad_WhenFileMinimal_ShouldFillDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.API.Partner != 2024 || cfg.API.URL != "https://media.example.com" {
		t.Errorf("file values not applied: %+v", cfg.API)
	}
	if cfg.Session.Buffer != 5*time.Minute || cfg.Session.Lifetime != 24*time.Hour {
		t.Errorf("unexpected session defaults %+v", cfg.Session)
	}
	if cfg.Dispatch.Timeout != 30*time.Second || cfg.Retry.MaxRetries != 2 || cfg.Retry.InitialBackoff != 250*time.Millisecond {
		t.Errorf("unexpected defaults dispatch=%+v retry=%+v", cfg.Dispatch, cfg.Retry)
	}
	if cfg.Cache.Driver != CacheMemory || cfg.MCP.Transport != TransportStdio || cfg.Log.Format != "text" {
		t.Errorf("unexpected defaults %+v %+v %+v", cfg.Cache, cfg.MCP, cfg.Log)
	}
	if cfg.Gateway.CallLimit != 16 {
		t.Errorf("want gateway.calllimit 16, got %d", cfg.Gateway.CallLimit)
	}
}

func TestLoad_WhenEnvSet_ShouldOverrideFile(t *testing.T) {
	path := writeConfig(t, minimalYAML+"log:\n  level: warn\n")
	t.Setenv("MEDIAGATE_LOG_LEVEL", "debug")
	t.Setenv("MEDIAGATE_API_SECRET", "from-env-secret-value")
	t.Setenv("MEDIAGATE_SESSION_MINTTIMEOUT", "3s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("env should win over file, got %q", cfg.Log.Level)
	}
	if cfg.API.Secret != "from-env-secret-value" {
		t.Errorf("env secret not applied")
	}
	if cfg.Session.MintTimeout != 3*time.Second {
		t.Errorf("want 3s mint timeout, got %v", cfg.Session.MintTimeout)
	}
}

func TestLoad_WhenNoFile_ShouldUseEnvOnly(t *testing.T) {
	t.Setenv("MEDIAGATE_API_URL", "https://env.example.com")
	t.Setenv("MEDIAGATE_API_PARTNER", "7")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.API.Partner != 7 || cfg.API.URL != "https://env.example.com" {
		t.Errorf("unexpected api %+v", cfg.API)
	}
}

func TestLoad_WhenFileMissing_ShouldReturnError(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_WhenFileInvalidYAML_ShouldReturnError(t *testing.T) {
	if _, err := Load(writeConfig(t, "api: [unclosed")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoad_WhenInvalid_ShouldReportEveryProblem(t *testing.T) {
	body := minimalYAML + "cache:\n  driver: redis\nlog:\n  format: xml\nmcp:\n  transport: carrier-pigeon\n"
	_, err := Load(writeConfig(t, body))
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"cache.driver", "log.format", "mcp.transport"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %s: %v", want, err)
		}
	}
}

// =============================================================================
// Validate / Credentials
// =============================================================================

func TestValidate_WhenSQLiteWithoutDSN_ShouldFail(t *testing.T) {
	cfg, err := load(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatal(err)
	}
	cfg.Cache.Driver = CacheSQLite
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "cache.dsn") {
		t.Errorf("want cache.dsn error, got %v", err)
	}
}

func TestValidate_WhenHTTPTransportWithoutGateway_ShouldFail(t *testing.T) {
	cfg, _ := load(writeConfig(t, minimalYAML))
	cfg.MCP.Transport = TransportHTTP
	cfg.Gateway.Addr = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error")
	}
}

func TestValidate_WhenCallLimitNegative_ShouldFail(t *testing.T) {
	cfg, _ := load(writeConfig(t, minimalYAML))
	cfg.Gateway.CallLimit = -1
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "gateway.calllimit") {
		t.Errorf("want gateway.calllimit error, got %v", err)
	}
}

func TestParseSessionType(t *testing.T) {
	tests := []struct {
		in      string
		want    domain.SessionType
		wantErr bool
	}{
		{"admin", domain.SessionTypeAdmin, false},
		{" USER ", domain.SessionTypeUser, false},
		{"root", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseSessionType(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseSessionType(%q) = %v, %v", tt.in, got, err)
		}
	}
}

func TestCredentials_WhenSecretOverride_ShouldPreferIt(t *testing.T) {
	cfg, _ := load(writeConfig(t, minimalYAML))
	creds, err := cfg.Credentials("store-secret-0123456")
	if err != nil {
		t.Fatalf("Credentials: %v", err)
	}
	if creds.Secret() != "store-secret-0123456" || creds.PartnerID() != 2024 || creds.SessionType() != domain.SessionTypeAdmin {
		t.Errorf("unexpected credentials %v", creds)
	}
}

func TestCredentials_WhenSecretMissing_ShouldFail(t *testing.T) {
	cfg, _ := load(writeConfig(t, "api:\n  url: https://media.example.com\n  partner: 1\n"))
	if _, err := cfg.Credentials(""); err == nil {
		t.Error("expected error for empty secret")
	}
}

// =============================================================================
// ResolvePath / WriteDefault
// =============================================================================

func TestResolvePath_ShouldPreferFlagThenEnv(t *testing.T) {
	t.Setenv(EnvConfigPath, "/etc/mediagate.yaml")
	if got := ResolvePath("./local.yaml"); got != "./local.yaml" {
		t.Errorf("flag should win, got %q", got)
	}
	if got := ResolvePath(""); got != "/etc/mediagate.yaml" {
		t.Errorf("env fallback, got %q", got)
	}
}

func TestWriteDefault_ShouldProduceLoadableFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "mediagate.yaml")
	if err := WriteDefault(path, false); err != nil {
		t.Fatalf("WriteDefault: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("want 0600, got %v", info.Mode().Perm())
	}
	cfg, err := load(path)
	if err != nil {
		t.Fatalf("load written default: %v", err)
	}
	if cfg.Gateway.Addr != "127.0.0.1:8090" || cfg.Cache.TTL != 5*time.Minute {
		t.Errorf("defaults not round-tripped: %+v %+v", cfg.Gateway, cfg.Cache)
	}
}

func TestWriteDefault_WhenExists_ShouldRefuseUnlessForced(t *testing.T) {
	path := writeConfig(t, minimalYAML)
	if err := WriteDefault(path, false); !errors.Is(err, ErrConfigExists) {
		t.Errorf("want ErrConfigExists, got %v", err)
	}
	if err := WriteDefault(path, true); err != nil {
		t.Errorf("forced overwrite: %v", err)
	}
}

func TestWriteDefault_WhenMarshalFails_ShouldReturnError(t *testing.T) {
	orig := marshalYAML
	marshalYAML = func(any) ([]byte, error) { return nil, errors.New("forced") }
	defer func() { marshalYAML = orig }()
	if err := WriteDefault(filepath.Join(t.TempDir(), "c.yaml"), false); err == nil {
		t.Error("expected error")
	}
}

func TestWriteDefault_WhenWriteFails_ShouldReturnError(t *testing.T) {
	orig := writeFile
	writeFile = func(string, []byte, os.FileMode) error { return errors.New("disk full") }
	defer func() { writeFile = orig }()
	if err := WriteDefault(filepath.Join(t.TempDir(), "c.yaml"), false); err == nil {
		t.Error("expected error")
	}
}

// =============================================================================
// Watcher
// =============================================================================

func TestWatcher_Run_WhenFileRewritten_ShouldDeliverNewConfig(t *testing.T) {
	orig := debounceDelay
	debounceDelay = 10 * time.Millisecond
	defer func() { debounceDelay = orig }()

	path := writeConfig(t, minimalYAML)
	var mu sync.Mutex
	got := make(chan string, 4)
	w := NewWatcher(path, func(c *Config) {
		mu.Lock()
		defer mu.Unlock()
		got <- c.Log.Level
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	// Give the watcher time to register the directory.
	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(path, []byte(minimalYAML+"log:\n  level: debug\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case level := <-got:
		if level != "debug" {
			t.Errorf("want debug, got %q", level)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no reload observed")
	}
}

func TestWatcher_Run_WhenEditInvalid_ShouldKeepSilent(t *testing.T) {
	orig := debounceDelay
	debounceDelay = 10 * time.Millisecond
	defer func() { debounceDelay = orig }()

	path := writeConfig(t, minimalYAML)
	got := make(chan *Config, 1)
	w := NewWatcher(path, func(c *Config) { got <- c })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	time.Sleep(50 * time.Millisecond)
	_ = os.WriteFile(path, []byte("log:\n  format: xml\n"), 0o600)

	select {
	case c := <-got:
		t.Fatalf("invalid config must not be delivered, got %+v", c)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcher_Run_WhenWatcherCannotStart_ShouldReturnError(t *testing.T) {
	w := NewWatcher("/tmp/x.yaml", func(*Config) {})
	w.newWatcherFn = func() (*fsnotify.Watcher, error) { return nil, errors.New("too many open files") }
	if err := w.Run(context.Background()); err == nil {
		t.Error("expected error")
	}
}

func TestWatcher_Run_WhenMisconfigured_ShouldReturnError(t *testing.T) {
	if err := NewWatcher("", func(*Config) {}).Run(context.Background()); err == nil {
		t.Error("empty path: expected error")
	}
	if err := NewWatcher("/tmp/x.yaml", nil).Run(context.Background()); err == nil {
		t.Error("nil callback: expected error")
	}
}
