package modelspec

import "fmt"

// Registry resolves compiled specs by the three names the system sees them
// under: entity name (services), storage name (join planner, migrations),
// and slug (routing). Built once at startup.
type Registry struct {
	byName    map[string]*Spec
	byStorage map[string]*Spec
	bySlug    map[string]*Spec
	ordered   []*Spec
}

// NewRegistry indexes the given specs. Construction fails on a name,
// storage-name, or slug collision.
func NewRegistry(specs ...*Spec) (*Registry, error) {
	r := &Registry{
		byName:    make(map[string]*Spec, len(specs)),
		byStorage: make(map[string]*Spec, len(specs)),
		bySlug:    make(map[string]*Spec, len(specs)),
		ordered:   make([]*Spec, 0, len(specs)),
	}
	for _, s := range specs {
		if _, dup := r.byName[s.Name()]; dup {
			return nil, fmt.Errorf("duplicate model name %q", s.Name())
		}
		if _, dup := r.byStorage[s.StorageName()]; dup {
			return nil, fmt.Errorf("duplicate storage name %q", s.StorageName())
		}
		if _, dup := r.bySlug[s.Slug()]; dup {
			return nil, fmt.Errorf("duplicate slug %q", s.Slug())
		}
		r.byName[s.Name()] = s
		r.byStorage[s.StorageName()] = s
		r.bySlug[s.Slug()] = s
		r.ordered = append(r.ordered, s)
	}
	return r, nil
}

// MustNewRegistry is NewRegistry for static model sets; it panics on error.
func MustNewRegistry(specs ...*Spec) *Registry {
	r, err := NewRegistry(specs...)
	if err != nil {
		panic(err)
	}
	return r
}

// ByName resolves a spec by entity name.
func (r *Registry) ByName(name string) (*Spec, bool) {
	s, ok := r.byName[name]
	return s, ok
}

// ByStorageName resolves a spec by table/collection name.
func (r *Registry) ByStorageName(name string) (*Spec, bool) {
	s, ok := r.byStorage[name]
	return s, ok
}

// BySlug resolves a spec by REST path segment.
func (r *Registry) BySlug(slug string) (*Spec, bool) {
	s, ok := r.bySlug[slug]
	return s, ok
}

// All returns the specs in registration order.
func (r *Registry) All() []*Spec {
	return r.ordered
}
