package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"sync"

	"mediagate/internal/domain"
	"mediagate/internal/schema"
)

var namePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Sentinel errors wrapped by RegistryError.
var (
	ErrConflict           = errors.New("name already bound to a different handler")
	ErrInvalidName        = errors.New("name must match ^[a-z][a-z0-9_]*$")
	ErrEmptyDescription   = errors.New("description must not be empty")
	ErrNilHandler         = errors.New("handler must not be nil")
	ErrInvalidInputSchema = errors.New("input schema does not compile")
)

// RegistryError reports a registration that was refused.
type RegistryError struct {
	Command string
	Err     error
}

func (e *RegistryError) Error() string {
	return fmt.Sprintf("registry: %q: %v", e.Command, e.Err)
}

func (e *RegistryError) Unwrap() error { return e.Err }

// Contract is the declared name, description and input schema of a command.
type Contract struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// Registration binds a contract to its handler.
type Registration struct {
	Contract   Contract
	Handler    domain.Handler
	Categories []string
	Schema     *schema.Schema
}

// Definition returns the protocol-facing description of the command.
func (r Registration) Definition() domain.ToolDefinition {
	def := domain.ToolDefinition{
		Name:        r.Contract.Name,
		Description: r.Contract.Description,
		InputSchema: r.Contract.InputSchema,
	}
	if len(r.Categories) > 0 {
		def.Category = r.Categories[0]
	}
	return def
}

// Entry is one item of a static discovery list.
type Entry struct {
	Contract Contract
	Handler  domain.Handler
	Category string
}

// Option is a functional option for configuring Registry.
type Option func(*Registry)

// WithLogger sets a structured logger. If l is nil the default slog logger is used.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithValidator shares a schema cache with other components.
func WithValidator(v *schema.Validator) Option {
	return func(r *Registry) {
		if v != nil {
			r.validator = v
		}
	}
}

// Registry is the process catalog of commands. Lookups only take a read lock;
// writes are expected at startup.
type Registry struct {
	mu         sync.RWMutex
	entries    map[string]Registration
	categories map[string]map[string]struct{}
	discovered bool

	validator *schema.Validator
	logger    *slog.Logger
}

// New returns an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		entries:    make(map[string]Registration),
		categories: make(map[string]map[string]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.validator == nil {
		r.validator = schema.NewValidator()
	}
	return r
}

func (r *Registry) log() *slog.Logger {
	if r.logger != nil {
		return r.logger
	}
	return slog.Default()
}

// Register binds contract to handler, optionally tagging it with categories.
// Rebinding the identical handler under the same name is a no-op; a different
// handler, or a function handler that cannot be compared, is a *RegistryError.
func (r *Registry) Register(contract Contract, handler domain.Handler, category ...string) error {
	_, err := r.register(contract, handler, category)
	return err
}

func (r *Registry) register(contract Contract, handler domain.Handler, categories []string) (bool, error) {
	if err := checkContract(contract, handler); err != nil {
		return false, &RegistryError{Command: contract.Name, Err: err}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.entries[contract.Name]; ok {
		if sameHandler(existing.Handler, handler) {
			return false, nil
		}
		return false, &RegistryError{Command: contract.Name, Err: ErrConflict}
	}

	compiled, err := r.validator.Compile(contract.Name, contract.InputSchema)
	if err != nil {
		return false, &RegistryError{Command: contract.Name, Err: fmt.Errorf("%w: %v", ErrInvalidInputSchema, err)}
	}

	var cats []string
	for _, c := range categories {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		cats = append(cats, c)
		set, ok := r.categories[c]
		if !ok {
			set = make(map[string]struct{})
			r.categories[c] = set
		}
		set[contract.Name] = struct{}{}
	}
	r.entries[contract.Name] = Registration{
		Contract:   contract,
		Handler:    handler,
		Categories: cats,
		Schema:     compiled,
	}
	return true, nil
}

func checkContract(c Contract, h domain.Handler) error {
	var errs []error
	if !namePattern.MatchString(c.Name) {
		errs = append(errs, ErrInvalidName)
	}
	if strings.TrimSpace(c.Description) == "" {
		errs = append(errs, ErrEmptyDescription)
	}
	if h == nil {
		errs = append(errs, ErrNilHandler)
	}
	return errors.Join(errs...)
}

// sameHandler reports whether a and b are provably the same handler: equal
// dynamic types that are comparable and compare ==. Function handlers are not
// comparable, so rebinding one always conflicts; register a pointer handler
// when a name may be bound twice.
func sameHandler(a, b domain.Handler) bool {
	ta := reflect.TypeOf(a)
	if ta != reflect.TypeOf(b) || !ta.Comparable() {
		return false
	}
	return a == b
}

// Lookup returns the registration bound to name.
func (r *Registry) Lookup(name string) (Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.entries[name]
	return reg, ok
}

// Names returns every registered name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.entries))
	for name := range r.entries {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ByCategory returns the names tagged with category, sorted.
func (r *Registry) ByCategory(category string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.categories[category]
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Categories returns every category in use, sorted.
func (r *Registry) Categories() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.categories))
	for c := range r.categories {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of registered commands.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Definitions returns the protocol-facing descriptions of every command, by name.
func (r *Registry) Definitions() []domain.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ToolDefinition, 0, len(r.entries))
	for _, reg := range r.entries {
		out = append(out, reg.Definition())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Discover registers every entry once. Entries that fail are logged and
// skipped. It returns how many commands were newly registered; calls after
// the first return 0.
func (r *Registry) Discover(entries []Entry) int {
	r.mu.Lock()
	if r.discovered {
		r.mu.Unlock()
		return 0
	}
	r.discovered = true
	r.mu.Unlock()

	added := 0
	for _, e := range entries {
		var cats []string
		if e.Category != "" {
			cats = []string{e.Category}
		}
		ok, err := r.register(e.Contract, e.Handler, cats)
		if err != nil {
			r.log().Warn("skipping command", "command", e.Contract.Name, "error", err)
			continue
		}
		if ok {
			added++
		}
	}
	r.log().Info("commands discovered", "added", added, "total", r.Len())
	return added
}
