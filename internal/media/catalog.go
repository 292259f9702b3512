package media

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"mediagate/internal/dispatch"
	"mediagate/internal/domain"
	"mediagate/internal/registry"
	"mediagate/internal/schema"
)

// Tool categories.
const (
	CategoryMedia      = "media"
	CategoryAssets     = "assets"
	CategoryAnalytics  = "analytics"
	CategoryCategories = "categories"
)

const dateLayout = "2006-01-02"

// API is the part of Client the catalog handlers need.
type API interface {
	Call(ctx context.Context, ks, service, action string, params map[string]any) (json.RawMessage, error)
}

// CacheObserver records read-through cache hits and misses.
type CacheObserver interface {
	ObserveCache(hit bool)
}

// =============================================================================
// Inputs
// =============================================================================

type GetMediaEntryInput struct {
	EntryID string `json:"entry_id" jsonschema:"format=resource-id,maxLength=64,description=Media entry identifier such as 0_ab12cd34"`
}

type ListMediaEntriesInput struct {
	SearchText string `json:"search_text,omitempty" jsonschema:"maxLength=256,description=Free text matched against name and tags"`
	CategoryID int64  `json:"category_id,omitempty" jsonschema:"minimum=1,description=Only entries in this category"`
	MediaType  string `json:"media_type,omitempty" jsonschema:"enum=video,enum=audio,enum=image"`
	PageSize   int    `json:"page_size,omitempty" jsonschema:"minimum=1,maximum=500,default=30"`
	PageIndex  int    `json:"page_index,omitempty" jsonschema:"minimum=1,default=1"`
}

type GetThumbnailURLInput struct {
	EntryID string `json:"entry_id" jsonschema:"format=resource-id,maxLength=64"`
	Width   int    `json:"width,omitempty" jsonschema:"minimum=1,maximum=4096"`
	Height  int    `json:"height,omitempty" jsonschema:"minimum=1,maximum=4096"`
}

type GetDownloadURLInput struct {
	EntryID  string `json:"entry_id" jsonschema:"format=resource-id,maxLength=64"`
	FlavorID string `json:"flavor_id,omitempty" jsonschema:"format=resource-id,maxLength=64,description=Specific rendition; the original is used when omitted"`
}

type GetEntryAnalyticsInput struct {
	EntryID  string `json:"entry_id" jsonschema:"format=resource-id,maxLength=64"`
	FromDate string `json:"from_date" jsonschema:"pattern=^[0-9]{4}-[0-9]{2}-[0-9]{2}$,description=First day (YYYY-MM-DD)"`
	ToDate   string `json:"to_date" jsonschema:"pattern=^[0-9]{4}-[0-9]{2}-[0-9]{2}$,description=Last day inclusive (YYYY-MM-DD)"`
}

type ListCategoriesInput struct {
	ParentID int64 `json:"parent_id,omitempty" jsonschema:"minimum=0,description=Only direct children of this category"`
	PageSize int   `json:"page_size,omitempty" jsonschema:"minimum=1,maximum=500,default=100"`
}

var mediaTypeCodes = map[string]int{"video": 1, "image": 2, "audio": 5}

// =============================================================================
// Catalog
// =============================================================================

// CatalogOption is a functional option for configuring Catalog.
type CatalogOption func(*Catalog)

// WithCache enables read-through caching for the cacheable tools.
func WithCache(c domain.Cache) CatalogOption {
	return func(cat *Catalog) { cat.cache = c }
}

// WithCacheObserver records cache hits and misses.
func WithCacheObserver(o CacheObserver) CatalogOption {
	return func(cat *Catalog) { cat.cacheObserver = o }
}

// WithCatalogLogger sets a structured logger. If l is nil the default slog logger is used.
func WithCatalogLogger(l *slog.Logger) CatalogOption {
	return func(cat *Catalog) {
		if l != nil {
			cat.logger = l
		}
	}
}

// Catalog is the set of media tools exposed to hosts.
type Catalog struct {
	api       API
	endpoint  string
	partnerID int64

	cache         domain.Cache
	cacheObserver CacheObserver
	logger        *slog.Logger

	entries []registry.Entry
}

// tool is a catalog handler. Handlers are pointers so the registry can tell
// the tools of two catalogs apart while one catalog's entries rebind cleanly.
type tool struct {
	name string
	run  func(ctx context.Context, sess domain.Session, args domain.Args) (any, error)
}

func (t *tool) Run(ctx context.Context, sess domain.Session, args domain.Args) (any, error) {
	return t.run(ctx, sess, args)
}

// NewCatalog returns the media tool catalog. endpoint and partnerID are used
// to build asset URLs without a remote call.
func NewCatalog(api API, endpoint string, partnerID int64, opts ...CatalogOption) *Catalog {
	c := &Catalog{api: api, endpoint: endpoint, partnerID: partnerID}
	for _, opt := range opts {
		opt(c)
	}
	c.entries = c.buildEntries()
	return c
}

func (c *Catalog) log() *slog.Logger {
	if c.logger != nil {
		return c.logger
	}
	return slog.Default()
}

// Entries returns the static registration list for every media tool. Every
// call returns the same handlers.
func (c *Catalog) Entries() []registry.Entry {
	return append([]registry.Entry(nil), c.entries...)
}

func (c *Catalog) buildEntries() []registry.Entry {
	entry := func(name, description string, input any, category string, run func(context.Context, domain.Session, domain.Args) (any, error)) registry.Entry {
		return registry.Entry{
			Contract: contract(name, description, input),
			Handler:  &tool{name: name, run: run},
			Category: category,
		}
	}
	return []registry.Entry{
		entry("get_media_entry", "Fetch the metadata of one media entry.", GetMediaEntryInput{}, CategoryMedia, c.getMediaEntry),
		entry("list_media_entries", "Search media entries with optional text, category and type filters.", ListMediaEntriesInput{}, CategoryMedia, c.listMediaEntries),
		entry("get_thumbnail_url", "Build the thumbnail URL of a media entry.", GetThumbnailURLInput{}, CategoryAssets, c.getThumbnailURL),
		entry("get_download_url", "Resolve a download URL for a media entry rendition.", GetDownloadURLInput{}, CategoryAssets, c.getDownloadURL),
		entry("get_entry_analytics", "Summarise plays and views of a media entry over a date range.", GetEntryAnalyticsInput{}, CategoryAnalytics, c.getEntryAnalytics),
		entry("list_categories", "List content categories.", ListCategoriesInput{}, CategoryCategories, c.listCategories),
	}
}

func contract(name, description string, input any) registry.Contract {
	return registry.Contract{Name: name, Description: description, InputSchema: schema.MustGenerate(input)}
}

// =============================================================================
// Handlers
// =============================================================================

func (c *Catalog) getMediaEntry(ctx context.Context, sess domain.Session, args domain.Args) (any, error) {
	var in GetMediaEntryInput
	if err := args.Decode(&in); err != nil {
		return nil, err
	}
	return c.cached(ctx, "media:entry:"+in.EntryID, func() (json.RawMessage, error) {
		return c.api.Call(ctx, sess.Token, "media", "get", map[string]any{"entryId": in.EntryID})
	})
}

func (c *Catalog) listMediaEntries(ctx context.Context, sess domain.Session, args domain.Args) (any, error) {
	var in ListMediaEntriesInput
	if err := args.Decode(&in); err != nil {
		return nil, err
	}
	filter := map[string]any{}
	if in.SearchText != "" {
		filter["freeText"] = in.SearchText
	}
	if in.CategoryID > 0 {
		filter["categoriesIdsMatchOr"] = fmt.Sprint(in.CategoryID)
	}
	if code, ok := mediaTypeCodes[in.MediaType]; ok {
		filter["mediaTypeEqual"] = code
	}
	raw, err := c.api.Call(ctx, sess.Token, "media", "list", map[string]any{
		"filter": filter,
		"pager":  map[string]any{"pageSize": in.PageSize, "pageIndex": in.PageIndex},
	})
	if err != nil {
		return nil, err
	}
	return decode(raw)
}

func (c *Catalog) getThumbnailURL(_ context.Context, _ domain.Session, args domain.Args) (any, error) {
	var in GetThumbnailURLInput
	if err := args.Decode(&in); err != nil {
		return nil, err
	}
	u := fmt.Sprintf("%s/p/%d/thumbnail/entry_id/%s", c.endpoint, c.partnerID, in.EntryID)
	if in.Width > 0 {
		u += fmt.Sprintf("/width/%d", in.Width)
	}
	if in.Height > 0 {
		u += fmt.Sprintf("/height/%d", in.Height)
	}
	return map[string]any{"entry_id": in.EntryID, "url": u}, nil
}

type flavorList struct {
	Objects []struct {
		ID         string `json:"id"`
		IsOriginal bool   `json:"isOriginal"`
	} `json:"objects"`
}

func (c *Catalog) getDownloadURL(ctx context.Context, sess domain.Session, args domain.Args) (any, error) {
	var in GetDownloadURLInput
	if err := args.Decode(&in); err != nil {
		return nil, err
	}

	flavorID := in.FlavorID
	if flavorID == "" {
		raw, err := c.api.Call(ctx, sess.Token, "flavorAsset", "list", map[string]any{
			"filter": map[string]any{"entryIdEqual": in.EntryID},
		})
		if err != nil {
			return nil, err
		}
		var flavors flavorList
		if err := json.Unmarshal(raw, &flavors); err != nil {
			return nil, fmt.Errorf("decode flavor list: %w", err)
		}
		for _, f := range flavors.Objects {
			if flavorID == "" || f.IsOriginal {
				flavorID = f.ID
			}
			if f.IsOriginal {
				break
			}
		}
		if flavorID == "" {
			return nil, dispatch.NewExecError("entry has no downloadable renditions", ErrNotFound).With("entry_id", in.EntryID)
		}
	}

	raw, err := c.api.Call(ctx, sess.Token, "flavorAsset", "getUrl", map[string]any{"id": flavorID})
	if err != nil {
		return nil, err
	}
	var u string
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, fmt.Errorf("decode download url: %w", err)
	}
	return map[string]any{"entry_id": in.EntryID, "flavor_id": flavorID, "url": u}, nil
}

func (c *Catalog) getEntryAnalytics(ctx context.Context, sess domain.Session, args domain.Args) (any, error) {
	var in GetEntryAnalyticsInput
	if err := args.Decode(&in); err != nil {
		return nil, err
	}
	from, to, err := dateRange(in.FromDate, in.ToDate)
	if err != nil {
		return nil, err
	}

	raw, err := c.api.Call(ctx, sess.Token, "report", "getTotal", map[string]any{
		"reportType": 1,
		"reportInputFilter": map[string]any{
			"fromDay": from.Format("20060102"),
			"toDay":   to.Format("20060102"),
		},
		"objectIds": in.EntryID,
	})
	if err != nil {
		return nil, err
	}
	total, err := decode(raw)
	if err != nil {
		return nil, err
	}
	return map[string]any{"entry_id": in.EntryID, "from_date": in.FromDate, "to_date": in.ToDate, "totals": total}, nil
}

// dateRange parses an inclusive day range. Impossible dates and reversed
// ranges are argument errors, reported together as a *schema.ValidationError.
func dateRange(fromDate, toDate string) (time.Time, time.Time, error) {
	var violations []domain.Violation
	from, ferr := time.Parse(dateLayout, fromDate)
	if ferr != nil {
		violations = append(violations, domain.Violation{Field: "from_date", Message: "not a calendar date"})
	}
	to, terr := time.Parse(dateLayout, toDate)
	if terr != nil {
		violations = append(violations, domain.Violation{Field: "to_date", Message: "not a calendar date"})
	}
	if ferr == nil && terr == nil && to.Before(from) {
		violations = append(violations, domain.Violation{Field: "to_date", Message: "is before from_date"})
	}
	if len(violations) > 0 {
		return time.Time{}, time.Time{}, &schema.ValidationError{Violations: violations}
	}
	return from, to, nil
}

func (c *Catalog) listCategories(ctx context.Context, sess domain.Session, args domain.Args) (any, error) {
	var in ListCategoriesInput
	if err := args.Decode(&in); err != nil {
		return nil, err
	}
	filter := map[string]any{}
	if in.ParentID > 0 {
		filter["parentIdEqual"] = in.ParentID
	}
	key := fmt.Sprintf("media:categories:%d:%d", in.ParentID, in.PageSize)
	return c.cached(ctx, key, func() (json.RawMessage, error) {
		return c.api.Call(ctx, sess.Token, "category", "list", map[string]any{
			"filter": filter,
			"pager":  map[string]any{"pageSize": in.PageSize, "pageIndex": 1},
		})
	})
}

// cached serves key from the cache when present, otherwise calls fetch and
// stores its result. Cache failures are logged and never fail the call.
func (c *Catalog) cached(ctx context.Context, key string, fetch func() (json.RawMessage, error)) (any, error) {
	if c.cache != nil {
		data, ok, err := c.cache.Get(ctx, key)
		if err != nil {
			c.log().Warn("cache read failed", "key", key, "error", err)
		}
		if c.cacheObserver != nil && err == nil {
			c.cacheObserver.ObserveCache(ok)
		}
		if ok {
			return decode(data)
		}
	}

	raw, err := fetch()
	if err != nil {
		return nil, err
	}
	if c.cache != nil {
		if err := c.cache.Set(ctx, key, raw); err != nil {
			c.log().Warn("cache write failed", "key", key, "error", err)
		}
	}
	return decode(raw)
}

func decode(raw json.RawMessage) (any, error) {
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return out, nil
}
