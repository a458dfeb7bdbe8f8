// Package mongo implements the document storage adapter. Entities live in
// collections under their wire field names; declarative joins compile to an
// aggregation pipeline.
package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"github.com/stratumhq/stratum-engine/pkg/database"
	"github.com/stratumhq/stratum-engine/pkg/modelspec"
	"github.com/stratumhq/stratum-engine/pkg/storage"
)

func init() {
	storage.Register(storage.KindDocument, func(deps storage.Deps) (storage.Provider, error) {
		return NewProvider(deps)
	})
}

type provider struct {
	db          *database.MongoDB
	logger      *zap.Logger
	multiTenant bool
}

var _ storage.Provider = (*provider)(nil)

// NewProvider builds the document provider over a connected client.
func NewProvider(deps storage.Deps) (storage.Provider, error) {
	if deps.Mongo == nil {
		return nil, fmt.Errorf("document storage requires a mongo connection")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &provider{
		db:          deps.Mongo,
		logger:      logger.Named("storage_mongo"),
		multiTenant: deps.MultiTenant,
	}, nil
}

func (p *provider) Kind() string { return storage.KindDocument }

func (p *provider) Store(spec *modelspec.Spec) storage.Store {
	return &store{
		provider:   p,
		spec:       spec,
		collection: p.db.Database.Collection(spec.StorageName()),
		logger:     p.logger.With(zap.String("model", spec.Name())),
	}
}

func (p *provider) Ping(ctx context.Context) error {
	return p.db.Client.Ping(ctx, readpref.Primary())
}

func (p *provider) Close(ctx context.Context) error {
	return p.db.Close(ctx)
}
