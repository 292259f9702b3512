package telemetry

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
)

// =============================================================================
// Logging
// =============================================================================

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"", slog.LevelInfo, false},
		{"INFO", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr || got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, %v", tt.in, got, err)
			}
		})
	}
}

func TestNewLogger_ShouldFollowLevelVar(t *testing.T) {
	var buf bytes.Buffer
	level := new(slog.LevelVar)
	level.Set(slog.LevelWarn)
	logger := NewLogger(&buf, "json", level)

	logger.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at warn level, got %s", buf.String())
	}
	level.Set(slog.LevelDebug)
	logger.Debug("shown", "k", "v")
	if !strings.Contains(buf.String(), `"msg":"shown"`) {
		t.Errorf("want JSON debug line after lowering level, got %s", buf.String())
	}
}

func TestNewLogger_WhenTextFormat_ShouldWriteKeyValues(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(&buf, "text", new(slog.LevelVar)).Info("hello", "tool", "get_media_entry")
	if !strings.Contains(buf.String(), "tool=get_media_entry") {
		t.Errorf("unexpected text output: %s", buf.String())
	}
}

// =============================================================================
// Metrics
// =============================================================================

// counterValue sums the counter samples of family name whose labels include want.
func counterValue(t *testing.T, m *Metrics, name string, want map[string]string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var total float64
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, metric := range f.GetMetric() {
			if labelsMatch(metric.GetLabel(), want) {
				total += metric.GetCounter().GetValue()
			}
		}
	}
	return total
}

func labelsMatch(pairs []*dto.LabelPair, want map[string]string) bool {
	matched := 0
	for _, p := range pairs {
		if v, ok := want[p.GetName()]; ok {
			if v != p.GetValue() {
				return false
			}
			matched++
		}
	}
	return matched == len(want)
}

func TestMetrics_Observe_ShouldIncrementCollectors(t *testing.T) {
	m := NewMetrics()
	m.ObserveCall("get_media_entry", "ok", 20*time.Millisecond)
	m.ObserveCall("get_media_entry", "validation_error", time.Millisecond)
	m.ObserveMint(time.Second, nil)
	m.ObserveMint(time.Second, errors.New("boom"))
	m.ObserveAPIRequest("media", "get", "ok")
	m.ObserveCache(true)
	m.ObserveCache(false)
	m.ObserveReload()
	m.ObserveJob("session-keepalive", errors.New("mint failed"))

	if got := counterValue(t, m, "mediagate_scheduler_job_runs_total", map[string]string{"job": "session-keepalive", "result": "error"}); got != 1 {
		t.Errorf("want 1 failed job run, got %v", got)
	}
	if got := counterValue(t, m, "mediagate_tool_calls_total", map[string]string{"tool": "get_media_entry", "outcome": "ok"}); got != 1 {
		t.Errorf("want 1 ok call, got %v", got)
	}
	if got := counterValue(t, m, "mediagate_session_mints_total", map[string]string{"result": "error"}); got != 1 {
		t.Errorf("want 1 failed mint, got %v", got)
	}
	if got := counterValue(t, m, "mediagate_cache_lookups_total", map[string]string{"result": "hit"}); got != 1 {
		t.Errorf("want 1 cache hit, got %v", got)
	}
	if got := counterValue(t, m, "mediagate_config_reloads_total", nil); got != 1 {
		t.Errorf("want 1 reload, got %v", got)
	}
}

func TestMetrics_Gather_ShouldExposeNamespacedFamilies(t *testing.T) {
	m := NewMetrics()
	m.ObserveCall("list_categories", "ok", time.Millisecond)

	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	byName := map[string]*dto.MetricFamily{}
	for _, f := range families {
		byName[f.GetName()] = f
	}
	for _, want := range []string{"mediagate_tool_calls_total", "mediagate_tool_call_duration_seconds"} {
		if _, ok := byName[want]; !ok {
			t.Errorf("missing metric family %s", want)
		}
	}
}

func TestMetrics_Handler_ShouldServeExposition(t *testing.T) {
	m := NewMetrics()
	m.ObserveAPIRequest("session", "start", "ok")
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `mediagate_api_requests_total{action="start",outcome="ok",service="session"} 1`) {
		t.Errorf("exposition missing api counter:\n%s", body)
	}
}

func TestMetrics_WhenNil_ShouldNotPanic(t *testing.T) {
	var m *Metrics
	m.ObserveCall("x", "ok", 0)
	m.ObserveMint(0, nil)
	m.ObserveAPIRequest("a", "b", "c")
	m.ObserveCache(true)
	m.ObserveReload()
	m.ObserveJob("x", nil)
}

// =============================================================================
// Tracing
// =============================================================================

func TestSetupTracing_WhenEndpointEmpty_ShouldReturnNoop(t *testing.T) {
	shutdown, err := SetupTracing(context.Background(), "", "mediagate", "test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestSetupTracing_WhenEndpointSet_ShouldShutDownCleanly(t *testing.T) {
	// Non-routable address: nothing is exported before shutdown.
	shutdown, err := SetupTracing(context.Background(), "http://192.0.2.1:4318", "mediagate", "test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}
