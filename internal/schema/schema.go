package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"mediagate/internal/domain"
	"mediagate/internal/security"
)

// ValidationError lists every field that failed validation, one entry per field.
type ValidationError struct {
	Violations []domain.Violation
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, v.Field+": "+v.Message)
	}
	return fmt.Sprintf("%d invalid field(s): %s", len(e.Violations), strings.Join(parts, "; "))
}

// Fields returns the names of the violated fields.
func (e *ValidationError) Fields() []string {
	out := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		out = append(out, v.Field)
	}
	return out
}

// property is the subset of a property schema the validator interprets itself.
// Everything else is left to the compiled schema.
type property struct {
	Type    json.RawMessage `json:"type"`
	Default any             `json:"default"`
	Format  string          `json:"format"`
}

func (p property) types() []string {
	if len(p.Type) == 0 {
		return nil
	}
	var one string
	if err := json.Unmarshal(p.Type, &one); err == nil {
		return []string{one}
	}
	var many []string
	_ = json.Unmarshal(p.Type, &many)
	return many
}

func (p property) accepts(t string) bool {
	for _, have := range p.types() {
		if have == t {
			return true
		}
	}
	return false
}

type document struct {
	Type                 string              `json:"type"`
	Properties           map[string]property `json:"properties"`
	Required             []string            `json:"required"`
	AdditionalProperties json.RawMessage     `json:"additionalProperties"`
}

// Schema is a compiled object schema ready to validate argument maps.
type Schema struct {
	name     string
	compiled *jsonschema.Schema
	props    map[string]property
	order    []string
	required map[string]bool
	open     bool
}

// Compile parses and compiles raw as the input schema of the named contract.
// The schema must describe an object.
func Compile(name string, raw json.RawMessage) (*Schema, error) {
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("schema %s: parse: %w", name, err)
	}
	if doc.Type != "object" {
		return nil, fmt.Errorf("schema %s: top-level type must be \"object\", got %q", name, doc.Type)
	}

	url := name + ".json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("schema %s: %w", name, err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("schema %s: compile: %w", name, err)
	}

	s := &Schema{
		name:     name,
		compiled: compiled,
		props:    doc.Properties,
		required: make(map[string]bool, len(doc.Required)),
		open:     allowsAdditional(doc.AdditionalProperties),
	}
	if s.props == nil {
		s.props = map[string]property{}
	}
	for _, r := range doc.Required {
		s.required[r] = true
	}
	for k := range s.props {
		s.order = append(s.order, k)
	}
	sort.Strings(s.order)
	return s, nil
}

// allowsAdditional treats a missing additionalProperties as closed; only an
// explicit true or a sub-schema opens the contract.
func allowsAdditional(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("false")) || bytes.Equal(trimmed, []byte("null")) {
		return false
	}
	return true
}

// Name returns the contract name the schema was compiled for.
func (s *Schema) Name() string { return s.name }

// Validate checks args against the schema and returns a normalized copy with
// defaults applied and scalar types coerced. On failure the error is a
// *ValidationError naming every violated field.
func (s *Schema) Validate(args map[string]any) (domain.Args, error) {
	v := newViolations()

	in, err := normalize(args)
	if err != nil {
		v.add("", "arguments are not JSON-encodable: "+err.Error())
		return nil, v.err()
	}

	out := make(domain.Args, len(in))
	for key, val := range in {
		if _, declared := s.props[key]; declared {
			continue
		}
		if !s.open {
			v.add(key, "unknown field")
			continue
		}
		out[key] = val
	}

	for _, name := range s.order {
		p := s.props[name]
		val, present := in[name]
		if !present || val == nil {
			if s.required[name] {
				v.add(name, "missing required field")
			} else if p.Default != nil {
				out[name] = p.Default
			}
			continue
		}
		out[name] = coerce(val, p)
	}

	if err := s.compiled.Validate(map[string]any(out)); err != nil {
		var ve *jsonschema.ValidationError
		if !errors.As(err, &ve) {
			v.add("", err.Error())
		}
		for _, leaf := range leaves(ve) {
			field := fieldOf(leaf.InstanceLocation)
			if field == "" {
				// Root-level findings (required, additionalProperties) are
				// already reported above with friendlier messages.
				continue
			}
			v.add(field, leaf.Message)
		}
	}

	for _, name := range s.order {
		if s.props[name].Format != FormatResourceID {
			continue
		}
		str, ok := out[name].(string)
		if !ok {
			continue
		}
		if err := security.CheckIdentifier(str); err != nil {
			v.add(name, err.Error())
		}
	}

	if !v.empty() {
		return nil, v.err()
	}
	for _, name := range s.order {
		if s.props[name].accepts("integer") {
			if f, ok := out[name].(float64); ok && f == math.Trunc(f) {
				out[name] = int64(f)
			}
		}
	}
	return out, nil
}

// normalize round-trips args through JSON so the compiled schema only ever
// sees the value shapes encoding/json produces.
func normalize(args map[string]any) (map[string]any, error) {
	if len(args) == 0 {
		return map[string]any{}, nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// coerce converts string-encoded scalars to the declared type. Values that
// cannot be converted are returned unchanged for the type check to reject.
func coerce(val any, p property) any {
	str, ok := val.(string)
	if !ok || p.accepts("string") {
		return val
	}
	str = strings.TrimSpace(str)
	if p.accepts("integer") || p.accepts("number") {
		if f, err := strconv.ParseFloat(str, 64); err == nil {
			return f
		}
	}
	if p.accepts("boolean") {
		if b, err := strconv.ParseBool(str); err == nil {
			return b
		}
	}
	return val
}

func leaves(ve *jsonschema.ValidationError) []*jsonschema.ValidationError {
	if ve == nil {
		return nil
	}
	if len(ve.Causes) == 0 {
		return []*jsonschema.ValidationError{ve}
	}
	var out []*jsonschema.ValidationError
	for _, c := range ve.Causes {
		out = append(out, leaves(c)...)
	}
	return out
}

// fieldOf maps a JSON pointer such as "/entry_id/0" to its top-level field.
func fieldOf(pointer string) string {
	pointer = strings.TrimPrefix(pointer, "/")
	if i := strings.IndexByte(pointer, '/'); i >= 0 {
		pointer = pointer[:i]
	}
	pointer = strings.ReplaceAll(pointer, "~1", "/")
	return strings.ReplaceAll(pointer, "~0", "~")
}

// violations accumulates messages per field.
type violations struct {
	byField map[string][]string
}

func newViolations() *violations {
	return &violations{byField: map[string][]string{}}
}

func (v *violations) add(field, msg string) {
	for _, have := range v.byField[field] {
		if have == msg {
			return
		}
	}
	v.byField[field] = append(v.byField[field], msg)
}

func (v *violations) empty() bool { return len(v.byField) == 0 }

func (v *violations) err() *ValidationError {
	fields := make([]string, 0, len(v.byField))
	for f := range v.byField {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	out := &ValidationError{Violations: make([]domain.Violation, 0, len(fields))}
	for _, f := range fields {
		out.Violations = append(out.Violations, domain.Violation{Field: f, Message: strings.Join(v.byField[f], "; ")})
	}
	return out
}
