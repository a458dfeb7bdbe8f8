package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/stratumhq/stratum-engine/pkg/apperrors"
	"github.com/stratumhq/stratum-engine/pkg/identity"
	"github.com/stratumhq/stratum-engine/pkg/modelspec"
	"github.com/stratumhq/stratum-engine/pkg/storage"
)

type genericService struct {
	spec          *modelspec.Spec
	store         storage.Store
	scope         ScopePolicy
	hooks         Hooks
	joins         []storage.Operation
	allowClientID bool
	clock         func() time.Time
	logger        *zap.Logger
}

var _ Service = (*genericService)(nil)

// NewGenericService builds the standard pipeline over one model's store.
func NewGenericService(store storage.Store, opts Options) Service {
	scope := opts.Scope
	if scope == nil {
		scope = Passthrough()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &genericService{
		spec:          store.Spec(),
		store:         store,
		scope:         scope,
		hooks:         opts.Hooks,
		joins:         opts.Joins,
		allowClientID: opts.AllowClientID,
		clock:         clock,
		logger:        logger.Named("service").With(zap.String("model", store.Spec().Name())),
	}
}

func (g *genericService) Spec() *modelspec.Spec        { return g.spec }
func (g *genericService) IDSchema() modelspec.IDSchema { return g.store.IDSchema() }
func (g *genericService) Joins() []storage.Operation   { return g.joins }

func (g *genericService) GetAll(ctx context.Context) ([]storage.Entity, error) {
	opts, err := g.scope.PrepareQuery(ctx, g.store, storage.QueryOptions{})
	if err != nil {
		return nil, err
	}

	var entities []storage.Entity
	if len(opts.Filters) == 0 {
		entities, err = g.store.GetAll(ctx)
	} else {
		entities, err = g.store.Find(ctx, opts)
	}
	if err != nil {
		return nil, err
	}
	return g.encodeAll(entities), nil
}

func (g *genericService) Get(ctx context.Context, opts storage.QueryOptions) (storage.PagedResult, error) {
	opts, err := g.scope.PrepareQuery(ctx, g.store, opts)
	if err != nil {
		return storage.PagedResult{}, err
	}
	result, err := g.store.Get(ctx, g.joins, opts)
	if err != nil {
		return storage.PagedResult{}, err
	}
	result.Entities = g.encodeAll(result.Entities)
	return result, nil
}

func (g *genericService) GetByID(ctx context.Context, id string) (storage.Entity, error) {
	native, err := g.parseID(id)
	if err != nil {
		return nil, err
	}

	opts, err := g.scope.PrepareQuery(ctx, g.store, storage.QueryOptions{
		Filters: map[string]storage.Predicate{modelspec.FieldID: storage.Eq(native)},
	})
	if err != nil {
		return nil, err
	}

	// By-id reads run through the join plan so a single GET carries the same
	// nested shape as a listing.
	result, err := g.store.Get(ctx, g.joins, opts)
	if err != nil {
		return nil, err
	}
	if len(result.Entities) == 0 {
		return nil, apperrors.NotFound(g.spec.Name())
	}
	return g.encode(result.Entities[0]), nil
}

func (g *genericService) GetCount(ctx context.Context, opts storage.QueryOptions) (int, error) {
	opts, err := g.scope.PrepareQuery(ctx, g.store, opts)
	if err != nil {
		return 0, err
	}
	return g.store.GetCount(ctx, opts)
}

func (g *genericService) Create(ctx context.Context, entity storage.Entity) (storage.Entity, error) {
	if errs := g.spec.Validate(entity, false); errs != nil {
		return nil, apperrors.Validation("validation failed", errs...)
	}

	prepared, err := g.preprocess(ctx, []storage.Entity{entity}, true, g.allowClientID)
	if err != nil {
		return nil, err
	}
	if g.hooks.BeforeCreate != nil {
		if prepared, err = g.hooks.BeforeCreate(ctx, prepared); err != nil {
			return nil, err
		}
	}

	created, err := g.store.Create(ctx, prepared[0])
	if err != nil {
		return nil, err
	}

	out := []storage.Entity{created}
	if g.hooks.AfterCreate != nil {
		if out, err = g.hooks.AfterCreate(ctx, out); err != nil {
			return nil, err
		}
	}
	return g.encode(out[0]), nil
}

func (g *genericService) CreateMany(ctx context.Context, entities []storage.Entity) ([]storage.Entity, error) {
	if len(entities) == 0 {
		return []storage.Entity{}, nil
	}
	for _, entity := range entities {
		if errs := g.spec.Validate(entity, false); errs != nil {
			return nil, apperrors.Validation("validation failed", errs...)
		}
	}

	prepared, err := g.preprocess(ctx, entities, true, g.allowClientID)
	if err != nil {
		return nil, err
	}
	if g.hooks.BeforeCreate != nil {
		if prepared, err = g.hooks.BeforeCreate(ctx, prepared); err != nil {
			return nil, err
		}
	}

	created, err := g.store.CreateMany(ctx, prepared)
	if err != nil {
		return nil, err
	}
	g.logger.Debug("batch create", zap.Int("count", len(created)))
	if g.hooks.AfterCreate != nil {
		if created, err = g.hooks.AfterCreate(ctx, created); err != nil {
			return nil, err
		}
	}
	return g.encodeAll(created), nil
}

func (g *genericService) BatchUpdate(ctx context.Context, changes []storage.Entity) ([]storage.Entity, error) {
	if len(changes) == 0 {
		return []storage.Entity{}, nil
	}
	for _, change := range changes {
		if errs := g.spec.Validate(change, true); errs != nil {
			return nil, apperrors.Validation("validation failed", errs...)
		}
		if id, ok := change[modelspec.FieldID]; !ok || id == nil {
			return nil, apperrors.BadRequest("batch update requires _id on every entity")
		}
	}

	// Batch changes keep their _id through tampering protection; it routes
	// each change set.
	prepared, err := g.preprocess(ctx, changes, false, true)
	if err != nil {
		return nil, err
	}

	if err := g.verifyBatchScope(ctx, prepared); err != nil {
		return nil, err
	}

	if g.hooks.BeforeUpdate != nil {
		if prepared, err = g.hooks.BeforeUpdate(ctx, prepared); err != nil {
			return nil, err
		}
	}

	updated, err := g.store.BatchUpdate(ctx, prepared)
	if err != nil {
		return nil, err
	}
	g.logger.Debug("batch update", zap.Int("count", len(updated)))
	if g.hooks.AfterUpdate != nil {
		if updated, err = g.hooks.AfterUpdate(ctx, updated); err != nil {
			return nil, err
		}
	}
	return g.encodeAll(updated), nil
}

func (g *genericService) FullUpdateByID(ctx context.Context, id string, entity storage.Entity) (storage.Entity, error) {
	if errs := g.spec.Validate(entity, false); errs != nil {
		return nil, apperrors.Validation("validation failed", errs...)
	}
	return g.updateByID(ctx, id, entity, g.store.FullUpdateByID)
}

func (g *genericService) PartialUpdateByID(ctx context.Context, id string, entity storage.Entity) (storage.Entity, error) {
	if errs := g.spec.Validate(entity, true); errs != nil {
		return nil, apperrors.Validation("validation failed", errs...)
	}
	return g.updateByID(ctx, id, entity, g.store.PartialUpdateByID)
}

func (g *genericService) updateByID(ctx context.Context, id string, entity storage.Entity,
	write func(ctx context.Context, id any, entity storage.Entity) (storage.Entity, error),
) (storage.Entity, error) {
	native, err := g.parseID(id)
	if err != nil {
		return nil, err
	}
	if err := g.verifyScopedAccess(ctx, native); err != nil {
		return nil, err
	}

	prepared, err := g.preprocess(ctx, []storage.Entity{entity}, false, false)
	if err != nil {
		return nil, err
	}
	if g.hooks.BeforeUpdate != nil {
		if prepared, err = g.hooks.BeforeUpdate(ctx, prepared); err != nil {
			return nil, err
		}
	}

	updated, err := write(ctx, native, prepared[0])
	if err != nil {
		return nil, err
	}

	out := []storage.Entity{updated}
	if g.hooks.AfterUpdate != nil {
		if out, err = g.hooks.AfterUpdate(ctx, out); err != nil {
			return nil, err
		}
	}
	return g.encode(out[0]), nil
}

func (g *genericService) DeleteByID(ctx context.Context, id string) (storage.DeleteResult, error) {
	native, err := g.parseID(id)
	if err != nil {
		return storage.DeleteResult{}, err
	}
	if err := g.verifyScopedAccess(ctx, native); err != nil {
		return storage.DeleteResult{}, err
	}

	if g.hooks.BeforeDelete != nil {
		opts := storage.QueryOptions{
			Filters: map[string]storage.Predicate{modelspec.FieldID: storage.Eq(native)},
		}
		if err := g.hooks.BeforeDelete(ctx, opts); err != nil {
			return storage.DeleteResult{}, err
		}
	}

	result, err := g.store.DeleteByID(ctx, native)
	if err != nil {
		return storage.DeleteResult{}, err
	}
	if g.hooks.AfterDelete != nil {
		if err := g.hooks.AfterDelete(ctx, result); err != nil {
			return storage.DeleteResult{}, err
		}
	}
	return result, nil
}

func (g *genericService) DeleteMany(ctx context.Context, opts storage.QueryOptions) (storage.DeleteResult, error) {
	opts, err := g.scope.PrepareQuery(ctx, g.store, opts)
	if err != nil {
		return storage.DeleteResult{}, err
	}

	if g.hooks.BeforeDelete != nil {
		if err := g.hooks.BeforeDelete(ctx, opts); err != nil {
			return storage.DeleteResult{}, err
		}
	}

	result, err := g.store.DeleteMany(ctx, opts)
	if err != nil {
		return storage.DeleteResult{}, err
	}
	if g.hooks.AfterDelete != nil {
		if err := g.hooks.AfterDelete(ctx, result); err != nil {
			return storage.DeleteResult{}, err
		}
	}
	return result, nil
}

func (g *genericService) Find(ctx context.Context, opts storage.QueryOptions) ([]storage.Entity, error) {
	opts, err := g.scope.PrepareQuery(ctx, g.store, opts)
	if err != nil {
		return nil, err
	}
	entities, err := g.store.Find(ctx, opts)
	if err != nil {
		return nil, err
	}
	return g.encodeAll(entities), nil
}

func (g *genericService) FindOne(ctx context.Context, opts storage.QueryOptions) (storage.Entity, error) {
	opts, err := g.scope.PrepareQuery(ctx, g.store, opts)
	if err != nil {
		return nil, err
	}
	entity, err := g.store.FindOne(ctx, opts)
	if err != nil || entity == nil {
		return nil, err
	}
	return g.encode(entity), nil
}

// preprocess runs the ingress pipeline on a batch: clone, tampering
// protection, scope fields, audit stamps, decode. One clock reading serves the
// whole batch, so created stamps within it are identical.
func (g *genericService) preprocess(ctx context.Context, entities []storage.Entity, create, keepID bool) ([]storage.Entity, error) {
	uc, _ := identity.GetUserContext(ctx)
	now := g.clock().UTC()
	uid := uc.UserID()

	out := make([]storage.Entity, len(entities))
	for i, entity := range entities {
		e := cloneEntity(entity)
		if !uc.IsSystem {
			e = stripSystemFields(e, keepID)
		}

		e, err := g.scope.PrepareEntity(ctx, g.store, e)
		if err != nil {
			return nil, err
		}

		if g.spec.IsAuditable() {
			stampAudit(e, create, now, uid)
		}

		decoded, err := modelspec.Decode(g.spec, e, g.store.IDSchema())
		if err != nil {
			return nil, err
		}
		out[i] = decoded
	}
	return out, nil
}

// stampAudit sets the audit fields that are still absent. Tampering
// protection leaves them absent for external callers, so external writes are
// always stamped; the system context may supply its own values and keeps
// them.
func stampAudit(e storage.Entity, create bool, now time.Time, uid string) {
	setAbsent := func(key string, v any) {
		if _, ok := e[key]; !ok {
			e[key] = v
		}
	}
	if create {
		setAbsent(modelspec.FieldCreated, now)
		if uid != "" {
			setAbsent(modelspec.FieldCreatedBy, uid)
		}
	}
	setAbsent(modelspec.FieldUpdated, now)
	if uid != "" {
		setAbsent(modelspec.FieldUpdatedBy, uid)
	}
}

// stripSystemFields is the tampering protection step: underscore-prefixed
// fields are pipeline-owned and dropped from external payloads. _orgId stays
// (the scope policy verifies it); _id stays only where the operation needs it
// for routing.
func stripSystemFields(e storage.Entity, keepID bool) storage.Entity {
	out := make(storage.Entity, len(e))
	for k, v := range e {
		if modelspec.IsSystemField(k) {
			if k != modelspec.FieldOrgID && !(k == modelspec.FieldID && keepID) {
				continue
			}
		}
		out[k] = v
	}
	return out
}

func cloneEntity(e storage.Entity) storage.Entity {
	out := make(storage.Entity, len(e))
	for k, v := range e {
		out[k] = v
	}
	return out
}

// verifyScopedAccess confirms a by-id target is visible under the current
// scope before writing or deleting it. Rows outside the tenant read as
// absent, so the caller sees NotFound, not Forbidden.
func (g *genericService) verifyScopedAccess(ctx context.Context, nativeID any) error {
	if !g.scope.Scoped() {
		return nil
	}
	opts, err := g.scope.PrepareQuery(ctx, g.store, storage.QueryOptions{
		Filters: map[string]storage.Predicate{modelspec.FieldID: storage.Eq(nativeID)},
	})
	if err != nil {
		return err
	}
	found, err := g.store.FindOne(ctx, opts)
	if err != nil {
		return err
	}
	if found == nil {
		return apperrors.NotFound(g.spec.Name())
	}
	return nil
}

// verifyBatchScope confirms every batch target is visible under the current
// scope. The ids are already decoded to native form.
func (g *genericService) verifyBatchScope(ctx context.Context, changes []storage.Entity) error {
	if !g.scope.Scoped() {
		return nil
	}

	distinct := make(map[any]bool, len(changes))
	ids := make([]any, 0, len(changes))
	for _, change := range changes {
		id := change[modelspec.FieldID]
		if !distinct[id] {
			distinct[id] = true
			ids = append(ids, id)
		}
	}

	opts, err := g.scope.PrepareQuery(ctx, g.store, storage.QueryOptions{
		Filters: map[string]storage.Predicate{modelspec.FieldID: storage.In(ids...)},
	})
	if err != nil {
		return err
	}
	count, err := g.store.GetCount(ctx, opts)
	if err != nil {
		return err
	}
	if count != len(ids) {
		return apperrors.NotFound(g.spec.Name())
	}
	return nil
}

func (g *genericService) parseID(id string) (any, error) {
	native, err := g.store.IDSchema().Parse(id)
	if err != nil {
		return nil, apperrors.BadRequest("%s", err.Error())
	}
	return native, nil
}

func (g *genericService) encode(e storage.Entity) storage.Entity {
	return modelspec.Encode(g.spec, e, g.store.IDSchema())
}

func (g *genericService) encodeAll(entities []storage.Entity) []storage.Entity {
	out := make([]storage.Entity, len(entities))
	for i, e := range entities {
		out[i] = g.encode(e)
	}
	return out
}
