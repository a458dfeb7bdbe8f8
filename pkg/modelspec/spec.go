// Package modelspec compiles a declared entity schema into the validators,
// codecs, and projection mask the rest of the pipeline runs on. A Spec is
// built once at startup and treated as immutable.
package modelspec

import (
	"fmt"
	"regexp"

	"github.com/iancoleman/strcase"
	"github.com/jinzhu/inflection"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// fieldNamePattern keeps declared names safe to quote as SQL identifiers
// after snake_case conversion.
var fieldNamePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9]*$`)

// Config declares an entity model.
type Config struct {
	// Name is the singular camelCase entity name, e.g. "refreshToken".
	Name string
	// StorageName overrides the derived table/collection name. Default is the
	// plural snake_case of Name, e.g. "refresh_tokens".
	StorageName string
	// Slug overrides the derived REST path segment. Default is the plural
	// kebab-case of Name, e.g. "refresh-tokens".
	Slug string
	Fields []Field
	// Auditable turns on maintenance of the audit sextet: _created/_createdBy,
	// _updated/_updatedBy, _deleted/_deletedBy.
	Auditable bool
	// TenantScoped gives the model an _orgId column in multi-tenant mode and
	// fences its rows to one organization. Tenancy infrastructure itself
	// (organizations) and user-keyed rows (refresh tokens) stay unscoped.
	TenantScoped bool
	// Projection lists the declared fields visible in external responses.
	// System fields always pass. Nil means no projection (everything passes).
	Projection []string
}

// Spec is a compiled model specification.
type Spec struct {
	name         string
	storageName  string
	slug         string
	fields       []Field
	fieldIndex   map[string]Field
	auditable    bool
	tenantScoped bool
	projection   map[string]bool

	fullSchema    *jsonschema.Schema
	partialSchema *jsonschema.Schema
}

// New compiles a Config. Construction fails on invalid field names, duplicate
// fields, or a projection that is not a subset of the declared fields.
func New(cfg Config) (*Spec, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("model name is required")
	}
	if !fieldNamePattern.MatchString(cfg.Name) {
		return nil, fmt.Errorf("model name %q must be a camelCase identifier", cfg.Name)
	}

	index := make(map[string]Field, len(cfg.Fields))
	for _, f := range cfg.Fields {
		if !fieldNamePattern.MatchString(f.Name) {
			return nil, fmt.Errorf("field name %q must be a camelCase identifier", f.Name)
		}
		if _, dup := index[f.Name]; dup {
			return nil, fmt.Errorf("duplicate field %q", f.Name)
		}
		index[f.Name] = f
	}

	var projection map[string]bool
	if cfg.Projection != nil {
		projection = make(map[string]bool, len(cfg.Projection))
		for _, name := range cfg.Projection {
			if _, ok := index[name]; !ok {
				return nil, fmt.Errorf("projection field %q is not declared", name)
			}
			projection[name] = true
		}
	}

	storageName := cfg.StorageName
	if storageName == "" {
		storageName = inflection.Plural(strcase.ToSnake(cfg.Name))
	}
	slug := cfg.Slug
	if slug == "" {
		slug = inflection.Plural(strcase.ToKebab(cfg.Name))
	}

	s := &Spec{
		name:         cfg.Name,
		storageName:  storageName,
		slug:         slug,
		fields:       cfg.Fields,
		fieldIndex:   index,
		auditable:    cfg.Auditable,
		tenantScoped: cfg.TenantScoped,
		projection:   projection,
	}

	var err error
	if s.fullSchema, err = compileSchema(s, false); err != nil {
		return nil, fmt.Errorf("compile full schema for %s: %w", cfg.Name, err)
	}
	if s.partialSchema, err = compileSchema(s, true); err != nil {
		return nil, fmt.Errorf("compile partial schema for %s: %w", cfg.Name, err)
	}
	return s, nil
}

// MustNew is New for package-level spec construction; it panics on error.
// Spec definitions are static, so a failure here is a programming error.
func MustNew(cfg Config) *Spec {
	s, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Spec) Name() string        { return s.name }
func (s *Spec) StorageName() string { return s.storageName }
func (s *Spec) Slug() string        { return s.slug }
func (s *Spec) IsAuditable() bool   { return s.auditable }
func (s *Spec) TenantScoped() bool  { return s.tenantScoped }

// Fields returns the declared fields in declaration order.
func (s *Spec) Fields() []Field { return s.fields }

// Field looks up a declared field by name.
func (s *Spec) Field(name string) (Field, bool) {
	f, ok := s.fieldIndex[name]
	return f, ok
}

// HasField reports whether name is declared (system fields are not).
func (s *Spec) HasField(name string) bool {
	_, ok := s.fieldIndex[name]
	return ok
}

// HasProjection reports whether a projection mask is configured.
func (s *Spec) HasProjection() bool { return s.projection != nil }

// Project strips keys absent from the projection schema. System fields always
// pass, as do the given aliases (join results attached by the caller, which
// are not declared fields). Without a projection the value is returned as-is.
// The input must already be in wire form (Encode output).
func (s *Spec) Project(value map[string]any, aliases ...string) map[string]any {
	if s.projection == nil || value == nil {
		return value
	}
	out := make(map[string]any, len(value))
	for k, v := range value {
		if IsSystemField(k) || s.projection[k] {
			out[k] = v
		}
	}
	for _, alias := range aliases {
		if v, ok := value[alias]; ok {
			out[alias] = v
		}
	}
	return out
}
