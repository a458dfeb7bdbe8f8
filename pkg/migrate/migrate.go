// Package migrate orders and runs schema migrations. Declared migrations come
// from sources (the built-in synthetic set and .sql files); executed names are
// recorded in a ledger on the storage backend, one row per name. The pending
// set is declared minus executed, run in lexicographic name order, so a second
// invocation over the same declarations is a no-op.
package migrate

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"time"

	"go.uber.org/zap"
)

// namePattern is the shape every migration name must have: a 14-digit
// timestamp, an underscore, and a slug. Lexicographic order on names is
// execution order.
var namePattern = regexp.MustCompile(`^\d{14}_[a-z0-9_]+$`)

// ValidName reports whether name can be declared.
func ValidName(name string) bool { return namePattern.MatchString(name) }

// Migration is one schema step. Up and Down close over whatever backend
// handles they need; Down is nil when the step is irreversible.
type Migration struct {
	Name string
	Up   func(ctx context.Context) error
	Down func(ctx context.Context) error
}

// Source yields declared migrations. The engine merges all sources, so names
// must be unique across them.
type Source interface {
	Migrations(ctx context.Context) ([]Migration, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context) ([]Migration, error)

func (f SourceFunc) Migrations(ctx context.Context) ([]Migration, error) { return f(ctx) }

// Static wraps literal migrations as a source. The document backend declares
// its custom migrations this way, as in-code up/down pairs.
func Static(migrations ...Migration) Source {
	return SourceFunc(func(context.Context) ([]Migration, error) {
		return migrations, nil
	})
}

// Record is one executed ledger row.
type Record struct {
	Name       string
	ExecutedAt time.Time
}

// Ledger is the executed-name bookkeeping on a backend: the migrations table
// on the relational store, the migrations collection on the document store.
type Ledger interface {
	// Ensure creates the ledger when it does not exist yet.
	Ensure(ctx context.Context) error
	// Executed returns the recorded rows sorted by name.
	Executed(ctx context.Context) ([]Record, error)
	// Record appends one executed name.
	Record(ctx context.Context, name string, at time.Time) error
	// Remove deletes one executed name after its Down ran.
	Remove(ctx context.Context, name string) error
}

// Target is the backend surface the engine runs against: the ledger plus the
// destructive full reset.
type Target interface {
	Ledger
	// Wipe drops everything the engine ever created, the ledger included:
	// the schema on the relational store, the database on the document store.
	Wipe(ctx context.Context) error
}

// Status describes one migration for reporting: declared, executed, or both.
type Status struct {
	Name       string
	Executed   bool
	ExecutedAt time.Time
	// Declared is false for ledger rows whose migration is no longer declared
	// by any source.
	Declared bool
}

// Engine runs migrations against one target.
type Engine struct {
	target     Target
	migrations []Migration
	logger     *zap.Logger
	clock      func() time.Time
}

// NewEngine collects all sources, validates names, and returns an engine
// ready to run. Construction fails on a malformed or duplicate name.
func NewEngine(ctx context.Context, target Target, logger *zap.Logger, sources ...Source) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var declared []Migration
	seen := make(map[string]bool)
	for _, src := range sources {
		migs, err := src.Migrations(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to collect migrations: %w", err)
		}
		for _, m := range migs {
			if !ValidName(m.Name) {
				return nil, fmt.Errorf("migration name %q must match <14-digit-timestamp>_<slug>", m.Name)
			}
			if seen[m.Name] {
				return nil, fmt.Errorf("migration %q is declared twice", m.Name)
			}
			if m.Up == nil {
				return nil, fmt.Errorf("migration %q has no up function", m.Name)
			}
			seen[m.Name] = true
			declared = append(declared, m)
		}
	}
	sort.Slice(declared, func(i, j int) bool { return declared[i].Name < declared[j].Name })

	return &Engine{
		target:     target,
		migrations: declared,
		logger:     logger.Named("migrate"),
		clock:      time.Now,
	}, nil
}

// Up runs every pending migration in order.
func (e *Engine) Up(ctx context.Context) error { return e.UpTo(ctx, "") }

// UpTo runs pending migrations in order up to and including toName. An
// unknown toName is an error before anything runs.
func (e *Engine) UpTo(ctx context.Context, toName string) error {
	if toName != "" && !e.isDeclared(toName) {
		return fmt.Errorf("migration %q is not declared", toName)
	}
	if err := e.target.Ensure(ctx); err != nil {
		return fmt.Errorf("failed to ensure migration ledger: %w", err)
	}
	executed, err := e.executedSet(ctx)
	if err != nil {
		return err
	}

	applied := 0
	for _, m := range e.migrations {
		if toName != "" && m.Name > toName {
			break
		}
		if executed[m.Name] {
			continue
		}
		if err := m.Up(ctx); err != nil {
			return fmt.Errorf("migration %s failed: %w", m.Name, err)
		}
		if err := e.target.Record(ctx, m.Name, e.clock().UTC()); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", m.Name, err)
		}
		e.logger.Info("Applied migration", zap.String("name", m.Name))
		applied++
	}

	if applied == 0 {
		e.logger.Info("No migrations to apply (database up-to-date)")
		return nil
	}
	e.logger.Info("Applied migrations successfully", zap.Int("count", applied))
	return nil
}

// Down reverts the most recently executed migration.
func (e *Engine) Down(ctx context.Context) error {
	if err := e.target.Ensure(ctx); err != nil {
		return fmt.Errorf("failed to ensure migration ledger: %w", err)
	}
	executed, err := e.target.Executed(ctx)
	if err != nil {
		return fmt.Errorf("failed to read migration ledger: %w", err)
	}
	if len(executed) == 0 {
		e.logger.Info("No migrations to revert")
		return nil
	}
	return e.revert(ctx, executed[len(executed)-1].Name)
}

// DownTo reverts executed migrations newest-first until only names up to and
// including toName remain. An empty toName reverts everything.
func (e *Engine) DownTo(ctx context.Context, toName string) error {
	if toName != "" && !e.isDeclared(toName) {
		return fmt.Errorf("migration %q is not declared", toName)
	}
	if err := e.target.Ensure(ctx); err != nil {
		return fmt.Errorf("failed to ensure migration ledger: %w", err)
	}
	executed, err := e.target.Executed(ctx)
	if err != nil {
		return fmt.Errorf("failed to read migration ledger: %w", err)
	}

	reverted := 0
	for i := len(executed) - 1; i >= 0; i-- {
		if executed[i].Name <= toName {
			break
		}
		if err := e.revert(ctx, executed[i].Name); err != nil {
			return err
		}
		reverted++
	}
	if reverted == 0 {
		e.logger.Info("No migrations to revert")
	}
	return nil
}

// revert runs one migration's Down and removes its ledger row. A ledger row
// with no declared migration, or a declared migration without a Down, cannot
// be reverted.
func (e *Engine) revert(ctx context.Context, name string) error {
	m, ok := e.declared(name)
	if !ok {
		return fmt.Errorf("migration %s is recorded as executed but no longer declared; cannot revert", name)
	}
	if m.Down == nil {
		return fmt.Errorf("migration %s has no down function", name)
	}
	if err := m.Down(ctx); err != nil {
		return fmt.Errorf("migration %s down failed: %w", name, err)
	}
	if err := e.target.Remove(ctx, name); err != nil {
		return fmt.Errorf("failed to remove migration %s from ledger: %w", name, err)
	}
	e.logger.Info("Reverted migration", zap.String("name", name))
	return nil
}

// Reset wipes the backend and runs every migration up to toName ("" for all)
// against the empty state.
func (e *Engine) Reset(ctx context.Context, toName string) error {
	if toName != "" && !e.isDeclared(toName) {
		return fmt.Errorf("migration %q is not declared", toName)
	}
	if err := e.target.Wipe(ctx); err != nil {
		return fmt.Errorf("failed to wipe storage: %w", err)
	}
	e.logger.Warn("Storage wiped for reset")
	return e.UpTo(ctx, toName)
}

// Status merges declared migrations with the ledger, sorted by name. Ledger
// rows whose migration is gone from the sources are included with Declared
// false.
func (e *Engine) Status(ctx context.Context) ([]Status, error) {
	if err := e.target.Ensure(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure migration ledger: %w", err)
	}
	executed, err := e.target.Executed(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read migration ledger: %w", err)
	}

	byName := make(map[string]Record, len(executed))
	for _, rec := range executed {
		byName[rec.Name] = rec
	}

	statuses := make([]Status, 0, len(e.migrations)+len(executed))
	for _, m := range e.migrations {
		st := Status{Name: m.Name, Declared: true}
		if rec, ok := byName[m.Name]; ok {
			st.Executed = true
			st.ExecutedAt = rec.ExecutedAt
			delete(byName, m.Name)
		}
		statuses = append(statuses, st)
	}
	for name, rec := range byName {
		statuses = append(statuses, Status{Name: name, Executed: true, ExecutedAt: rec.ExecutedAt})
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Name < statuses[j].Name })
	return statuses, nil
}

func (e *Engine) executedSet(ctx context.Context) (map[string]bool, error) {
	records, err := e.target.Executed(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read migration ledger: %w", err)
	}
	set := make(map[string]bool, len(records))
	for _, rec := range records {
		set[rec.Name] = true
	}
	return set, nil
}

func (e *Engine) declared(name string) (Migration, bool) {
	for _, m := range e.migrations {
		if m.Name == name {
			return m, true
		}
	}
	return Migration{}, false
}

func (e *Engine) isDeclared(name string) bool {
	_, ok := e.declared(name)
	return ok
}
