// Package storage defines the backend-agnostic persistence contract: CRUD,
// filtered paginated reads, and declarative joins. Adapters live in
// subpackages and register themselves at init time.
package storage

import (
	"context"

	"github.com/stratumhq/stratum-engine/pkg/modelspec"
)

// Backend kinds.
const (
	KindDocument   = "document"
	KindRelational = "relational"
)

// Store is the per-model persistence surface. Every adapter must keep these
// operations semantically identical; the service pipeline depends on it.
type Store interface {
	// Spec returns the model this store is bound to.
	Spec() *modelspec.Spec
	// IDSchema converts between wire and native ids for this backend.
	IDSchema() modelspec.IDSchema
	// Kind is KindDocument or KindRelational.
	Kind() string

	GetAll(ctx context.Context) ([]Entity, error)
	// Get runs the declarative join plan with filters, sort, and pagination.
	Get(ctx context.Context, ops []Operation, opts QueryOptions) (PagedResult, error)
	GetByID(ctx context.Context, id any) (Entity, error)
	GetCount(ctx context.Context, opts QueryOptions) (int, error)

	Create(ctx context.Context, entity Entity) (Entity, error)
	// CreateMany is all-or-nothing on duplicate key.
	CreateMany(ctx context.Context, entities []Entity) ([]Entity, error)
	// BatchUpdate applies one change set per entity, keyed by _id, in a single
	// storage call.
	BatchUpdate(ctx context.Context, changes []Entity) ([]Entity, error)
	FullUpdateByID(ctx context.Context, id any, entity Entity) (Entity, error)
	PartialUpdateByID(ctx context.Context, id any, entity Entity) (Entity, error)
	// Update applies one change set to every entity matching the options.
	Update(ctx context.Context, opts QueryOptions, changes Entity) (int, error)

	DeleteByID(ctx context.Context, id any) (DeleteResult, error)
	DeleteMany(ctx context.Context, opts QueryOptions) (DeleteResult, error)

	Find(ctx context.Context, opts QueryOptions) ([]Entity, error)
	FindOne(ctx context.Context, opts QueryOptions) (Entity, error)

	// PreprocessEntity rewrites schema-typed fields on the ingress boundary
	// (drop nulls, coerce native ids). Adapters call it on every write.
	PreprocessEntity(entity Entity) Entity
	// PostprocessEntity rewrites fields on the egress boundary (driver types
	// to domain types). Adapters call it on every read.
	PostprocessEntity(entity Entity) Entity
}

// Provider owns one backend connection and mints Stores per model.
type Provider interface {
	Kind() string
	Store(spec *modelspec.Spec) Store
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}
