// Package services implements the operation pipeline between the REST
// controller and storage: validation, tampering protection, audit stamping,
// wire/domain codecs, tenant scoping, and per-model hooks.
package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/stratumhq/stratum-engine/pkg/modelspec"
	"github.com/stratumhq/stratum-engine/pkg/storage"
)

// Service is the per-model operation surface. Ids cross this boundary in wire
// form (strings); entities cross in wire form and are returned in wire form.
// The acting user travels in the context (identity.UserContext).
type Service interface {
	Spec() *modelspec.Spec
	// IDSchema exposes the backend id codec so the controller can coerce
	// id-typed filter values.
	IDSchema() modelspec.IDSchema
	// Joins returns the join operations applied to reads, so the controller
	// can let their aliases through the response projection.
	Joins() []storage.Operation

	GetAll(ctx context.Context) ([]storage.Entity, error)
	Get(ctx context.Context, opts storage.QueryOptions) (storage.PagedResult, error)
	GetByID(ctx context.Context, id string) (storage.Entity, error)
	GetCount(ctx context.Context, opts storage.QueryOptions) (int, error)

	Create(ctx context.Context, entity storage.Entity) (storage.Entity, error)
	CreateMany(ctx context.Context, entities []storage.Entity) ([]storage.Entity, error)
	BatchUpdate(ctx context.Context, changes []storage.Entity) ([]storage.Entity, error)
	FullUpdateByID(ctx context.Context, id string, entity storage.Entity) (storage.Entity, error)
	PartialUpdateByID(ctx context.Context, id string, entity storage.Entity) (storage.Entity, error)

	DeleteByID(ctx context.Context, id string) (storage.DeleteResult, error)
	DeleteMany(ctx context.Context, opts storage.QueryOptions) (storage.DeleteResult, error)

	Find(ctx context.Context, opts storage.QueryOptions) ([]storage.Entity, error)
	FindOne(ctx context.Context, opts storage.QueryOptions) (storage.Entity, error)
}

// Hooks customize the pipeline per model. Write hooks receive the whole
// operation batch after preprocessing (single-entity operations pass a
// one-element slice) and may return modified values; an error aborts the
// operation before anything is persisted. Delete hooks see the scoped
// selector and the outcome.
type Hooks struct {
	BeforeCreate func(ctx context.Context, entities []storage.Entity) ([]storage.Entity, error)
	AfterCreate  func(ctx context.Context, entities []storage.Entity) ([]storage.Entity, error)
	BeforeUpdate func(ctx context.Context, changes []storage.Entity) ([]storage.Entity, error)
	AfterUpdate  func(ctx context.Context, entities []storage.Entity) ([]storage.Entity, error)
	BeforeDelete func(ctx context.Context, opts storage.QueryOptions) error
	AfterDelete  func(ctx context.Context, result storage.DeleteResult) error
}

// Options configure a generic service instance.
type Options struct {
	// AllowClientID lets create payloads carry an explicit _id. Off by
	// default: backends assign ids.
	AllowClientID bool
	// Joins are applied to Get and GetByID reads.
	Joins []storage.Operation
	Hooks Hooks
	// Scope defaults to Passthrough.
	Scope ScopePolicy
	// Clock defaults to time.Now. Audit stamps for one operation share a
	// single reading, so _created == _updated on create.
	Clock  func() time.Time
	Logger *zap.Logger
}
