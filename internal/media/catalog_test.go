package media

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"

	"mediagate/internal/dispatch"
	"mediagate/internal/domain"
	"mediagate/internal/registry"
)

// =============================================================================
// Test doubles
// =============================================================================

type apiCall struct {
	KS      string
	Service string
	Action  string
	Params  map[string]any
}

// fakeAPI answers by "service.action" key and records every call.
type fakeAPI struct {
	mu        sync.Mutex
	responses map[string]string
	errs      map[string]error
	calls     []apiCall
}

func (f *fakeAPI) Call(_ context.Context, ks, service, action string, params map[string]any) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, apiCall{KS: ks, Service: service, Action: action, Params: params})
	key := service + "." + action
	if err := f.errs[key]; err != nil {
		return nil, err
	}
	if body, ok := f.responses[key]; ok {
		return json.RawMessage(body), nil
	}
	return json.RawMessage(`{}`), nil
}

type mapCache struct {
	mu      sync.Mutex
	data    map[string][]byte
	failGet bool
}

func newMapCache() *mapCache { return &mapCache{data: map[string][]byte{}} }

func (c *mapCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failGet {
		return nil, false, errors.New("cache down")
	}
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *mapCache) Set(_ context.Context, key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

type hitCounter struct{ hits, misses int }

func (h *hitCounter) ObserveCache(hit bool) {
	if hit {
		h.hits++
	} else {
		h.misses++
	}
}

var testSession = domain.Session{Token: "ks-1"}

// run dispatches name through a real registry and dispatcher so argument
// defaults and validation apply exactly as in production.
func run(t *testing.T, cat *Catalog, name string, args map[string]any) (any, *domain.ErrorEnvelope) {
	t.Helper()
	reg := registry.New()
	if n := reg.Discover(cat.Entries()); n != 6 {
		t.Fatalf("want 6 tools registered, got %d", n)
	}
	d := dispatch.New(reg, staticSessions{})
	return d.Execute(context.Background(), name, args)
}

type staticSessions struct{}

func (staticSessions) Get(context.Context) (domain.Session, error) { return testSession, nil }

// =============================================================================
// Entries
// =============================================================================

func TestCatalog_Entries_ShouldRegisterEveryToolWithCategory(t *testing.T) {
	reg := registry.New()
	cat := NewCatalog(&fakeAPI{}, "https://media.example.com", 2024)
	if n := reg.Discover(cat.Entries()); n != 6 {
		t.Fatalf("want 6 tools, got %d", n)
	}
	want := map[string][]string{
		CategoryMedia:      {"get_media_entry", "list_media_entries"},
		CategoryAssets:     {"get_download_url", "get_thumbnail_url"},
		CategoryAnalytics:  {"get_entry_analytics"},
		CategoryCategories: {"list_categories"},
	}
	for category, names := range want {
		got := reg.ByCategory(category)
		if strings.Join(got, ",") != strings.Join(names, ",") {
			t.Errorf("category %s: want %v, got %v", category, names, got)
		}
	}
}

// =============================================================================
// Handlers
// =============================================================================

func TestCatalog_GetMediaEntry_ShouldUseCacheOnSecondCall(t *testing.T) {
	api := &fakeAPI{responses: map[string]string{"media.get": `{"id":"0_abc","name":"Intro"}`}}
	cache := newMapCache()
	hits := &hitCounter{}
	cat := NewCatalog(api, "https://media.example.com", 2024, WithCache(cache), WithCacheObserver(hits))

	for i := 0; i < 2; i++ {
		got, env := run(t, cat, "get_media_entry", map[string]any{"entry_id": "0_abc"})
		if env != nil {
			t.Fatalf("call %d: %+v", i, env)
		}
		if got.(map[string]any)["name"] != "Intro" {
			t.Errorf("call %d: unexpected payload %v", i, got)
		}
	}
	if len(api.calls) != 1 {
		t.Errorf("want one remote call, got %d", len(api.calls))
	}
	if api.calls[0].KS != "ks-1" || api.calls[0].Params["entryId"] != "0_abc" {
		t.Errorf("unexpected call %+v", api.calls[0])
	}
	if hits.hits != 1 || hits.misses != 1 {
		t.Errorf("want 1 hit and 1 miss, got %+v", hits)
	}
}

func TestCatalog_GetMediaEntry_WhenCacheFails_ShouldFallBackToRemote(t *testing.T) {
	api := &fakeAPI{responses: map[string]string{"media.get": `{"id":"0_abc"}`}}
	cache := newMapCache()
	cache.failGet = true
	cat := NewCatalog(api, "https://media.example.com", 2024, WithCache(cache))

	if _, env := run(t, cat, "get_media_entry", map[string]any{"entry_id": "0_abc"}); env != nil {
		t.Fatalf("cache failure should not fail the call: %+v", env)
	}
	if len(api.calls) != 1 {
		t.Errorf("want remote call, got %d", len(api.calls))
	}
}

func TestCatalog_GetMediaEntry_WhenNotFound_ShouldReturnExecutionErrorWithContext(t *testing.T) {
	api := &fakeAPI{errs: map[string]error{"media.get": &APIError{Service: "media", Action: "get", Code: "ENTRY_ID_NOT_FOUND", Class: ErrNotFound}}}
	cat := NewCatalog(api, "https://media.example.com", 2024)

	_, env := run(t, cat, "get_media_entry", map[string]any{"entry_id": "0_missing"})
	if env == nil || env.Kind != domain.KindExecution {
		t.Fatalf("want execution_error, got %+v", env)
	}
	if env.Context["api_code"] != "ENTRY_ID_NOT_FOUND" || env.Context["command"] != "get_media_entry" {
		t.Errorf("unexpected context %v", env.Context)
	}
}

func TestCatalog_GetMediaEntry_WhenTraversalID_ShouldNeverReachRemote(t *testing.T) {
	api := &fakeAPI{}
	cat := NewCatalog(api, "https://media.example.com", 2024)
	_, env := run(t, cat, "get_media_entry", map[string]any{"entry_id": "../0_abc"})
	if env == nil || env.Kind != domain.KindValidation {
		t.Fatalf("want validation_error, got %+v", env)
	}
	if len(api.calls) != 0 {
		t.Error("invalid identifiers must not reach the API")
	}
}

func TestCatalog_ListMediaEntries_ShouldApplyDefaultsAndFilters(t *testing.T) {
	api := &fakeAPI{responses: map[string]string{"media.list": `{"objects":[],"totalCount":0}`}}
	cat := NewCatalog(api, "https://media.example.com", 2024)

	_, env := run(t, cat, "list_media_entries", map[string]any{"search_text": "launch", "media_type": "audio", "category_id": "12"})
	if env != nil {
		t.Fatalf("unexpected envelope %+v", env)
	}
	params := api.calls[0].Params
	filter := params["filter"].(map[string]any)
	pager := params["pager"].(map[string]any)
	if filter["freeText"] != "launch" || filter["mediaTypeEqual"] != 5 || filter["categoriesIdsMatchOr"] != "12" {
		t.Errorf("unexpected filter %v", filter)
	}
	if pager["pageSize"] != 30 || pager["pageIndex"] != 1 {
		t.Errorf("want default pager 30/1, got %v", pager)
	}
}

func TestCatalog_ListMediaEntries_ShouldRejectOutOfRangePaging(t *testing.T) {
	cat := NewCatalog(&fakeAPI{}, "https://media.example.com", 2024)
	_, env := run(t, cat, "list_media_entries", map[string]any{"page_size": 501, "page_index": 0, "media_type": "hologram"})
	if env == nil || env.Kind != domain.KindValidation {
		t.Fatalf("want validation_error, got %+v", env)
	}
	violations := env.Context["violations"].([]domain.Violation)
	if len(violations) != 3 {
		t.Errorf("want 3 violations, got %+v", violations)
	}
}

func TestCatalog_GetThumbnailURL_ShouldBuildURLWithoutRemoteCall(t *testing.T) {
	api := &fakeAPI{}
	cat := NewCatalog(api, "https://media.example.com", 2024)
	got, env := run(t, cat, "get_thumbnail_url", map[string]any{"entry_id": "0_abc", "width": 320})
	if env != nil {
		t.Fatalf("unexpected envelope %+v", env)
	}
	want := "https://media.example.com/p/2024/thumbnail/entry_id/0_abc/width/320"
	if got.(map[string]any)["url"] != want {
		t.Errorf("want %s, got %v", want, got)
	}
	if len(api.calls) != 0 {
		t.Error("thumbnail URLs need no remote call")
	}
}

func TestCatalog_GetDownloadURL_ShouldPreferOriginalFlavor(t *testing.T) {
	api := &fakeAPI{responses: map[string]string{
		"flavorAsset.list":   `{"objects":[{"id":"0_low","isOriginal":false},{"id":"0_src","isOriginal":true}]}`,
		"flavorAsset.getUrl": `"https://cdn.example.com/0_src.mp4"`,
	}}
	cat := NewCatalog(api, "https://media.example.com", 2024)

	got, env := run(t, cat, "get_download_url", map[string]any{"entry_id": "0_abc"})
	if env != nil {
		t.Fatalf("unexpected envelope %+v", env)
	}
	out := got.(map[string]any)
	if out["flavor_id"] != "0_src" || out["url"] != "https://cdn.example.com/0_src.mp4" {
		t.Errorf("unexpected result %v", out)
	}
}

func TestCatalog_GetDownloadURL_WhenNoFlavors_ShouldReturnNotFound(t *testing.T) {
	api := &fakeAPI{responses: map[string]string{"flavorAsset.list": `{"objects":[]}`}}
	cat := NewCatalog(api, "https://media.example.com", 2024)
	_, env := run(t, cat, "get_download_url", map[string]any{"entry_id": "0_abc"})
	if env == nil || env.Kind != domain.KindExecution || env.Context["entry_id"] != "0_abc" {
		t.Errorf("want execution_error naming the entry, got %+v", env)
	}
}

func TestCatalog_GetDownloadURL_WhenFlavorGiven_ShouldSkipListing(t *testing.T) {
	api := &fakeAPI{responses: map[string]string{"flavorAsset.getUrl": `"https://cdn.example.com/x"`}}
	cat := NewCatalog(api, "https://media.example.com", 2024)
	if _, env := run(t, cat, "get_download_url", map[string]any{"entry_id": "0_abc", "flavor_id": "0_hd"}); env != nil {
		t.Fatalf("unexpected envelope %+v", env)
	}
	if len(api.calls) != 1 || api.calls[0].Params["id"] != "0_hd" {
		t.Errorf("unexpected calls %+v", api.calls)
	}
}

func TestCatalog_GetEntryAnalytics_ShouldSendCompactDays(t *testing.T) {
	api := &fakeAPI{responses: map[string]string{"report.getTotal": `{"header":"plays","data":"42"}`}}
	cat := NewCatalog(api, "https://media.example.com", 2024)
	got, env := run(t, cat, "get_entry_analytics", map[string]any{"entry_id": "0_abc", "from_date": "2026-01-01", "to_date": "2026-01-31"})
	if env != nil {
		t.Fatalf("unexpected envelope %+v", env)
	}
	filter := api.calls[0].Params["reportInputFilter"].(map[string]any)
	if filter["fromDay"] != "20260101" || filter["toDay"] != "20260131" {
		t.Errorf("unexpected filter %v", filter)
	}
	if got.(map[string]any)["totals"] == nil {
		t.Error("totals missing")
	}
}

func TestCatalog_GetEntryAnalytics_ShouldRejectBadRanges(t *testing.T) {
	tests := []struct {
		name       string
		from, to   string
		wantFields []string
	}{
		{"reversed range", "2026-02-01", "2026-01-01", []string{"to_date"}},
		{"impossible from date", "2026-13-45", "2026-12-01", []string{"from_date"}},
		{"both impossible", "2026-02-30", "2026-00-10", []string{"from_date", "to_date"}},
		{"wrong shape", "01/02/2026", "2026-12-01", []string{"from_date"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeAPI{}
			cat := NewCatalog(api, "https://media.example.com", 2024)
			_, env := run(t, cat, "get_entry_analytics", map[string]any{"entry_id": "0_abc", "from_date": tt.from, "to_date": tt.to})
			if env == nil || env.Kind != domain.KindValidation {
				t.Fatalf("want validation_error, got %+v", env)
			}
			var fields []string
			for _, v := range env.Context["violations"].([]domain.Violation) {
				fields = append(fields, v.Field)
			}
			sort.Strings(fields)
			if strings.Join(fields, ",") != strings.Join(tt.wantFields, ",") {
				t.Errorf("want fields %v, got %v", tt.wantFields, fields)
			}
			if len(api.calls) != 0 {
				t.Error("no remote call should be made for bad arguments")
			}
		})
	}
}

func TestCatalog_Entries_WhenRediscovered_ShouldBeIdempotentPerCatalog(t *testing.T) {
	cat := NewCatalog(&fakeAPI{}, "https://media.example.com", 2024)
	reg := registry.New()
	if n := reg.Discover(cat.Entries()); n != 6 {
		t.Fatalf("want 6 tools, got %d", n)
	}
	for _, e := range cat.Entries() {
		if err := reg.Register(e.Contract, e.Handler, e.Category); err != nil {
			t.Errorf("rebinding %s from the same catalog: %v", e.Contract.Name, err)
		}
	}

	other := NewCatalog(&fakeAPI{}, "https://other.example.com", 7)
	for _, e := range other.Entries() {
		if err := reg.Register(e.Contract, e.Handler, e.Category); !errors.Is(err, registry.ErrConflict) {
			t.Errorf("%s from another catalog: want ErrConflict, got %v", e.Contract.Name, err)
		}
	}
}

func TestCatalog_ListCategories_ShouldCacheByParentAndPageSize(t *testing.T) {
	api := &fakeAPI{responses: map[string]string{"category.list": `{"objects":[{"id":1}]}`}}
	cache := newMapCache()
	cat := NewCatalog(api, "https://media.example.com", 2024, WithCache(cache))

	_, _ = run(t, cat, "list_categories", map[string]any{"parent_id": 3})
	_, _ = run(t, cat, "list_categories", map[string]any{"parent_id": 3})
	_, _ = run(t, cat, "list_categories", map[string]any{})

	if len(api.calls) != 2 {
		t.Errorf("want 2 remote calls (one per distinct key), got %d", len(api.calls))
	}
	if _, ok := cache.data["media:categories:3:100"]; !ok {
		t.Errorf("expected cache key for parent 3, have %v", cache.data)
	}
	if api.calls[0].Params["filter"].(map[string]any)["parentIdEqual"] != int64(3) {
		t.Errorf("unexpected filter %v", api.calls[0].Params["filter"])
	}
}
