package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/stratumhq/stratum-engine/pkg/apperrors"
	"github.com/stratumhq/stratum-engine/pkg/modelspec"
	"github.com/stratumhq/stratum-engine/pkg/storage"
)

type store struct {
	provider   *provider
	spec       *modelspec.Spec
	collection *mongo.Collection
	logger     *zap.Logger
}

var _ storage.Store = (*store)(nil)

func (s *store) Spec() *modelspec.Spec        { return s.spec }
func (s *store) IDSchema() modelspec.IDSchema { return objectIDSchema{} }
func (s *store) Kind() string                 { return storage.KindDocument }

func (s *store) GetAll(ctx context.Context) ([]storage.Entity, error) {
	cursor, err := s.collection.Find(ctx, bson.D{})
	if err != nil {
		return nil, classify(err)
	}
	entities, err := s.decodeCursor(ctx, cursor)
	if err != nil {
		return nil, classify(err)
	}
	return entities, nil
}

// pagedFacet is the single document a paginated aggregation produces.
type pagedFacet struct {
	Entities []bson.M `bson:"entities"`
	Total    int      `bson:"total"`
}

func (s *store) Get(ctx context.Context, ops []storage.Operation, opts storage.QueryOptions) (storage.PagedResult, error) {
	pipeline, err := s.buildPipeline(ops, opts)
	if err != nil {
		return storage.PagedResult{}, classify(err)
	}

	cursor, err := s.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return storage.PagedResult{}, classify(err)
	}

	if !opts.Paginated() {
		entities, err := s.decodeCursor(ctx, cursor)
		if err != nil {
			return storage.PagedResult{}, classify(err)
		}
		return storage.NewPagedResult(entities, len(entities), opts), nil
	}

	var pages []pagedFacet
	if err := cursor.All(ctx, &pages); err != nil {
		return storage.PagedResult{}, classify(err)
	}
	if len(pages) == 0 {
		return storage.NewPagedResult(nil, 0, opts), nil
	}

	entities := make([]storage.Entity, len(pages[0].Entities))
	for i, doc := range pages[0].Entities {
		entities[i] = s.PostprocessEntity(storage.Entity(doc))
	}
	return storage.NewPagedResult(entities, pages[0].Total, opts), nil
}

func (s *store) GetByID(ctx context.Context, id any) (storage.Entity, error) {
	entity, err := s.FindOne(ctx, storage.QueryOptions{
		Filters: map[string]storage.Predicate{modelspec.FieldID: storage.Eq(id)},
	})
	if err != nil {
		return nil, err
	}
	if entity == nil {
		return nil, apperrors.NotFound(s.spec.Name())
	}
	return entity, nil
}

func (s *store) GetCount(ctx context.Context, opts storage.QueryOptions) (int, error) {
	filter, err := s.buildFilter(opts.Filters)
	if err != nil {
		return 0, classify(err)
	}
	count, err := s.collection.CountDocuments(ctx, filter)
	if err != nil {
		return 0, classify(err)
	}
	return int(count), nil
}

func (s *store) Create(ctx context.Context, entity storage.Entity) (storage.Entity, error) {
	entity = s.PreprocessEntity(entity)
	if err := s.checkFields(entity); err != nil {
		return nil, classify(err)
	}

	res, err := s.collection.InsertOne(ctx, entity)
	if err != nil {
		return nil, classify(err)
	}
	// Read back so the caller sees the stored form (millisecond timestamps).
	return s.GetByID(ctx, res.InsertedID)
}

func (s *store) CreateMany(ctx context.Context, entities []storage.Entity) ([]storage.Entity, error) {
	if len(entities) == 0 {
		return []storage.Entity{}, nil
	}

	docs := make([]any, len(entities))
	ids := make([]any, len(entities))
	for i, e := range entities {
		e = s.PreprocessEntity(e)
		if err := s.checkFields(e); err != nil {
			return nil, classify(err)
		}
		if _, ok := e[modelspec.FieldID]; !ok {
			e[modelspec.FieldID] = objectIDSchema{}.Allocate()
		}
		ids[i] = e[modelspec.FieldID]
		docs[i] = e
	}

	if _, err := s.collection.InsertMany(ctx, docs, options.InsertMany().SetOrdered(true)); err != nil {
		s.compensateInsert(ctx, ids, err)
		return nil, classify(err)
	}

	return s.readBackOrdered(ctx, ids)
}

// compensateInsert removes the prefix an ordered InsertMany wrote before the
// failing document, so a failed batch leaves nothing behind. Documents that
// predate the batch keep their ids out of the prefix and are never touched.
func (s *store) compensateInsert(ctx context.Context, ids []any, err error) {
	var bwe mongo.BulkWriteException
	if !errors.As(err, &bwe) || len(bwe.WriteErrors) == 0 {
		return
	}
	failedAt := bwe.WriteErrors[0].Index
	if failedAt <= 0 || failedAt > len(ids) {
		return
	}
	if _, derr := s.collection.DeleteMany(ctx, bson.M{modelspec.FieldID: bson.M{"$in": ids[:failedAt]}}); derr != nil {
		s.logger.Error("failed to roll back partial batch insert", zap.Error(derr))
	}
}

func (s *store) BatchUpdate(ctx context.Context, changes []storage.Entity) ([]storage.Entity, error) {
	if len(changes) == 0 {
		return []storage.Entity{}, nil
	}

	ids := make([]any, len(changes))
	models := make([]mongo.WriteModel, len(changes))
	distinct := make(map[any]bool, len(changes))
	for i, change := range changes {
		id, ok := change[modelspec.FieldID]
		if !ok || id == nil {
			return nil, classify(apperrors.BadRequest("batch update requires _id on every entity"))
		}
		update, err := s.buildUpdate(change)
		if err != nil {
			return nil, classify(err)
		}
		ids[i] = id
		distinct[id] = true
		models[i] = mongo.NewUpdateOneModel().
			SetFilter(bson.M{modelspec.FieldID: id}).
			SetUpdate(update)
	}

	// Verify every target exists before writing anything, since a document
	// bulk write cannot roll back.
	distinctIDs := make([]any, 0, len(distinct))
	for id := range distinct {
		distinctIDs = append(distinctIDs, id)
	}
	count, err := s.collection.CountDocuments(ctx, bson.M{modelspec.FieldID: bson.M{"$in": distinctIDs}})
	if err != nil {
		return nil, classify(err)
	}
	if int(count) != len(distinctIDs) {
		return nil, apperrors.NotFound(s.spec.Name())
	}

	if _, err := s.collection.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(true)); err != nil {
		return nil, classify(err)
	}

	return s.readBackOrdered(ctx, ids)
}

func (s *store) FullUpdateByID(ctx context.Context, id any, entity storage.Entity) (storage.Entity, error) {
	// Replacement semantics: declared fields absent from the payload clear.
	full := make(storage.Entity, len(s.spec.Fields())+len(entity))
	for _, f := range s.spec.Fields() {
		full[f.Name] = nil
	}
	for k, v := range entity {
		if k == modelspec.FieldCreated || k == modelspec.FieldCreatedBy {
			continue // immutable once stamped
		}
		full[k] = v
	}
	return s.updateByID(ctx, id, full)
}

func (s *store) PartialUpdateByID(ctx context.Context, id any, entity storage.Entity) (storage.Entity, error) {
	return s.updateByID(ctx, id, entity)
}

func (s *store) updateByID(ctx context.Context, id any, changes storage.Entity) (storage.Entity, error) {
	update, err := s.buildUpdate(changes)
	if err != nil {
		return nil, classify(err)
	}

	res := s.collection.FindOneAndUpdate(ctx,
		bson.M{modelspec.FieldID: id},
		update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	)

	var doc bson.M
	if err := res.Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperrors.NotFound(s.spec.Name())
		}
		return nil, classify(err)
	}
	return s.PostprocessEntity(storage.Entity(doc)), nil
}

func (s *store) Update(ctx context.Context, opts storage.QueryOptions, changes storage.Entity) (int, error) {
	update, err := s.buildUpdate(changes)
	if err != nil {
		return 0, classify(err)
	}
	filter, err := s.buildFilter(opts.Filters)
	if err != nil {
		return 0, classify(err)
	}

	res, err := s.collection.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, classify(err)
	}
	return int(res.MatchedCount), nil
}

func (s *store) DeleteByID(ctx context.Context, id any) (storage.DeleteResult, error) {
	res, err := s.collection.DeleteOne(ctx, bson.M{modelspec.FieldID: id})
	if err != nil {
		return storage.DeleteResult{}, classify(err)
	}
	if res.DeletedCount == 0 {
		return storage.DeleteResult{}, apperrors.NotFound(s.spec.Name())
	}
	return storage.DeleteResult{Acked: true, Count: int(res.DeletedCount)}, nil
}

func (s *store) DeleteMany(ctx context.Context, opts storage.QueryOptions) (storage.DeleteResult, error) {
	filter, err := s.buildFilter(opts.Filters)
	if err != nil {
		return storage.DeleteResult{}, classify(err)
	}
	res, err := s.collection.DeleteMany(ctx, filter)
	if err != nil {
		return storage.DeleteResult{}, classify(err)
	}
	return storage.DeleteResult{Acked: true, Count: int(res.DeletedCount)}, nil
}

func (s *store) Find(ctx context.Context, opts storage.QueryOptions) ([]storage.Entity, error) {
	filter, err := s.buildFilter(opts.Filters)
	if err != nil {
		return nil, classify(err)
	}
	sortDoc, err := s.buildSort(opts)
	if err != nil {
		return nil, classify(err)
	}

	findOpts := options.Find()
	if sortDoc != nil {
		findOpts.SetSort(sortDoc)
	}
	cursor, err := s.collection.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, classify(err)
	}
	entities, err := s.decodeCursor(ctx, cursor)
	if err != nil {
		return nil, classify(err)
	}
	return entities, nil
}

func (s *store) FindOne(ctx context.Context, opts storage.QueryOptions) (storage.Entity, error) {
	filter, err := s.buildFilter(opts.Filters)
	if err != nil {
		return nil, classify(err)
	}
	sortDoc, err := s.buildSort(opts)
	if err != nil {
		return nil, classify(err)
	}

	findOpts := options.FindOne()
	if sortDoc != nil {
		findOpts.SetSort(sortDoc)
	}

	var doc bson.M
	if err := s.collection.FindOne(ctx, filter, findOpts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, classify(err)
	}
	return s.PostprocessEntity(storage.Entity(doc)), nil
}

// checkFields gates every write key against the model, mirroring the
// relational column whitelist.
func (s *store) checkFields(entity storage.Entity) error {
	for k := range entity {
		if k == modelspec.FieldID {
			continue
		}
		if !s.allowedField(s.spec, k) {
			return apperrors.BadRequest("unknown field %q", k)
		}
	}
	return nil
}

// buildUpdate renders a change set: non-nil values $set, nil values $unset,
// which is how updates clear optional fields.
func (s *store) buildUpdate(changes storage.Entity) (bson.M, error) {
	set := bson.M{}
	unset := bson.M{}
	for k, v := range changes {
		if k == modelspec.FieldID {
			continue
		}
		if !s.allowedField(s.spec, k) {
			return nil, apperrors.BadRequest("unknown field %q", k)
		}
		if v == nil {
			unset[k] = ""
		} else {
			set[k] = v
		}
	}
	if len(set) == 0 && len(unset) == 0 {
		return nil, apperrors.BadRequest("no fields to update")
	}

	update := bson.M{}
	if len(set) > 0 {
		update["$set"] = set
	}
	if len(unset) > 0 {
		update["$unset"] = unset
	}
	return update, nil
}

func (s *store) decodeCursor(ctx context.Context, cursor *mongo.Cursor) ([]storage.Entity, error) {
	defer cursor.Close(ctx)

	entities := []storage.Entity{}
	for cursor.Next(ctx) {
		var doc bson.M
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		entities = append(entities, s.PostprocessEntity(storage.Entity(doc)))
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}
	return entities, nil
}

// readBackOrdered fetches the given ids and returns them in input order, so
// batch responses line up with batch requests.
func (s *store) readBackOrdered(ctx context.Context, ids []any) ([]storage.Entity, error) {
	cursor, err := s.collection.Find(ctx, bson.M{modelspec.FieldID: bson.M{"$in": ids}})
	if err != nil {
		return nil, classify(err)
	}
	entities, err := s.decodeCursor(ctx, cursor)
	if err != nil {
		return nil, classify(err)
	}

	byID := make(map[any]storage.Entity, len(entities))
	for _, e := range entities {
		byID[e[modelspec.FieldID]] = e
	}

	ordered := make([]storage.Entity, len(ids))
	for i, id := range ids {
		e, ok := byID[id]
		if !ok {
			return nil, classify(fmt.Errorf("document %v missing on batch read-back", id))
		}
		ordered[i] = e
	}
	return ordered, nil
}
