package storage

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/stratumhq/stratum-engine/pkg/audit"
	"github.com/stratumhq/stratum-engine/pkg/database"
	"github.com/stratumhq/stratum-engine/pkg/modelspec"
)

// Deps carries the shared handles a provider factory may need. Only the
// handle matching the backend kind is set.
type Deps struct {
	Postgres *database.DB
	Mongo    *database.MongoDB
	Logger   *zap.Logger
	Auditor  *audit.SecurityAuditor
	// Specs lets the join planner resolve the tables named by operations.
	Specs *modelspec.Registry
	// MultiTenant controls whether tenant-scoped models carry an _orgId
	// column.
	MultiTenant bool
}

// Factory builds a Provider from shared dependencies.
type Factory func(deps Deps) (Provider, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register is called by each adapter's init function.
// Thread-safe for concurrent init calls.
func Register(kind string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[kind] = factory
}

// Open builds the provider registered for kind. The caller must blank-import
// the adapter packages it wants available.
func Open(kind string, deps Deps) (Provider, error) {
	registryMu.RLock()
	factory, ok := registry[kind]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("storage kind %q is not registered (available: %v)", kind, RegisteredKinds())
	}
	return factory(deps)
}

// RegisteredKinds lists the adapters compiled into this binary.
func RegisteredKinds() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	kinds := make([]string, 0, len(registry))
	for kind := range registry {
		kinds = append(kinds, kind)
	}
	return kinds
}
