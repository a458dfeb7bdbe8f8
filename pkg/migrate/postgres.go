package migrate

import (
	"context"
	"strings"
	"time"

	"github.com/stratumhq/stratum-engine/pkg/database"
	"github.com/stratumhq/stratum-engine/pkg/models"
)

// PostgresTarget keeps the ledger in a migrations table and materializes
// system models as tables.
type PostgresTarget struct {
	db          *database.DB
	multiTenant bool
}

var (
	_ Target      = (*PostgresTarget)(nil)
	_ ModelTarget = (*PostgresTarget)(nil)
)

// NewPostgresTarget wires the relational target. multiTenant controls whether
// tenant-scoped models get an _orgId column and widened unique indexes.
func NewPostgresTarget(db *database.DB, multiTenant bool) *PostgresTarget {
	return &PostgresTarget{db: db, multiTenant: multiTenant}
}

func (t *PostgresTarget) Ensure(ctx context.Context) error {
	_, err := t.db.Exec(ctx, `CREATE TABLE IF NOT EXISTS "migrations" (
	"name" TEXT PRIMARY KEY,
	"executed_at" TIMESTAMPTZ NOT NULL
)`)
	return err
}

func (t *PostgresTarget) Executed(ctx context.Context) ([]Record, error) {
	rows, err := t.db.Query(ctx, `SELECT "name", "executed_at" FROM "migrations" ORDER BY "name"`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.Name, &rec.ExecutedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (t *PostgresTarget) Record(ctx context.Context, name string, at time.Time) error {
	_, err := t.db.Exec(ctx, `INSERT INTO "migrations" ("name", "executed_at") VALUES ($1, $2)`, name, at)
	return err
}

func (t *PostgresTarget) Remove(ctx context.Context, name string) error {
	_, err := t.db.Exec(ctx, `DELETE FROM "migrations" WHERE "name" = $1`, name)
	return err
}

// Wipe drops the public schema and recreates it empty. Everything the engine
// ever created goes, the ledger included.
func (t *PostgresTarget) Wipe(ctx context.Context) error {
	if _, err := t.db.Exec(ctx, `DROP SCHEMA public CASCADE`); err != nil {
		return err
	}
	_, err := t.db.Exec(ctx, `CREATE SCHEMA public`)
	return err
}

func (t *PostgresTarget) CreateModel(ctx context.Context, m models.SystemModel) error {
	statements := append([]string{createTableSQL(m, t.multiTenant)}, uniqueIndexSQL(m, t.multiTenant)...)
	return t.exec(ctx, strings.Join(statements, ";\n"))
}

func (t *PostgresTarget) DropModel(ctx context.Context, m models.SystemModel) error {
	return t.exec(ctx, dropTableSQL(m.Spec))
}

// exec runs one migration's statements inside a transaction. Statements that
// postgres refuses to run in one (CREATE INDEX CONCURRENTLY) go through a
// plain connection instead.
func (t *PostgresTarget) exec(ctx context.Context, sql string) error {
	if strings.Contains(strings.ToUpper(sql), "CONCURRENTLY") {
		_, err := t.db.Exec(ctx, sql)
		return err
	}

	tx, err := t.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, sql); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// SQLMigration exposes the transactional executor to the file source, whose
// migrations are raw SQL text.
func (t *PostgresTarget) SQLMigration(name, up, down string) Migration {
	m := Migration{
		Name: name,
		Up: func(ctx context.Context) error {
			return t.exec(ctx, up)
		},
	}
	if strings.TrimSpace(down) != "" {
		m.Down = func(ctx context.Context) error {
			return t.exec(ctx, down)
		}
	}
	return m
}
