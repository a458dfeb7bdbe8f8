// Package postgres implements the relational storage adapter. Entities map to
// tables with snake_case columns, declarative joins compile to a single SQL
// statement, and every value reaches the database as a bind parameter.
package postgres

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/stratumhq/stratum-engine/pkg/audit"
	"github.com/stratumhq/stratum-engine/pkg/database"
	"github.com/stratumhq/stratum-engine/pkg/modelspec"
	"github.com/stratumhq/stratum-engine/pkg/storage"
)

func init() {
	storage.Register(storage.KindRelational, func(deps storage.Deps) (storage.Provider, error) {
		return NewProvider(deps)
	})
}

type provider struct {
	db          *database.DB
	logger      *zap.Logger
	auditor     *audit.SecurityAuditor
	specs       *modelspec.Registry
	multiTenant bool
}

var _ storage.Provider = (*provider)(nil)

// NewProvider builds the relational provider over an open pgx pool.
func NewProvider(deps storage.Deps) (storage.Provider, error) {
	if deps.Postgres == nil {
		return nil, fmt.Errorf("relational storage requires a postgres connection")
	}
	if deps.Specs == nil {
		return nil, fmt.Errorf("relational storage requires a model registry")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &provider{
		db:          deps.Postgres,
		logger:      logger.Named("storage_postgres"),
		auditor:     deps.Auditor,
		specs:       deps.Specs,
		multiTenant: deps.MultiTenant,
	}, nil
}

func (p *provider) Kind() string { return storage.KindRelational }

func (p *provider) Store(spec *modelspec.Spec) storage.Store {
	return &store{
		provider: p,
		spec:     spec,
		logger:   p.logger.With(zap.String("model", spec.Name())),
	}
}

func (p *provider) Ping(ctx context.Context) error {
	return p.db.Ping(ctx)
}

func (p *provider) Close(ctx context.Context) error {
	p.db.Close()
	return nil
}
