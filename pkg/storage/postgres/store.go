package postgres

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/stratumhq/stratum-engine/pkg/apperrors"
	"github.com/stratumhq/stratum-engine/pkg/audit"
	"github.com/stratumhq/stratum-engine/pkg/logging"
	"github.com/stratumhq/stratum-engine/pkg/modelspec"
	"github.com/stratumhq/stratum-engine/pkg/sqlguard"
	"github.com/stratumhq/stratum-engine/pkg/storage"
)

type store struct {
	provider *provider
	spec     *modelspec.Spec
	logger   *zap.Logger
}

var _ storage.Store = (*store)(nil)

// querier abstracts the pool and a transaction for row-returning statements.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (s *store) Spec() *modelspec.Spec        { return s.spec }
func (s *store) IDSchema() modelspec.IDSchema { return serialIDSchema{} }
func (s *store) Kind() string                 { return storage.KindRelational }

func (s *store) table() string { return quoteIdent(s.spec.StorageName()) }

// selectColumns renders the unqualified column list for single-table reads.
func (s *store) selectColumns() string {
	cols := s.tableColumns(s.spec)
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quoteIdent(c)
	}
	return strings.Join(quoted, ", ")
}

func (s *store) GetAll(ctx context.Context) ([]storage.Entity, error) {
	sql := "SELECT " + s.selectColumns() + " FROM " + s.table()
	entities, err := s.queryEntities(ctx, s.provider.db, sql, nil, nil)
	if err != nil {
		return nil, classify(err)
	}
	return entities, nil
}

func (s *store) Get(ctx context.Context, ops []storage.Operation, opts storage.QueryOptions) (storage.PagedResult, error) {
	s.reportInjectionFindings(ctx, opts.Filters)

	p, err := s.buildPlan(ops, opts)
	if err != nil {
		return storage.PagedResult{}, classify(err)
	}

	var entities []storage.Entity
	var total int

	if opts.Paginated() {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			entities, err = s.queryEntities(gctx, s.provider.db, p.querySQL, p.queryArgs, ops)
			return err
		})
		g.Go(func() error {
			return s.provider.db.QueryRow(gctx, p.countSQL, p.countArgs...).Scan(&total)
		})
		if err := g.Wait(); err != nil {
			return storage.PagedResult{}, classify(err)
		}
	} else {
		entities, err = s.queryEntities(ctx, s.provider.db, p.querySQL, p.queryArgs, ops)
		if err != nil {
			return storage.PagedResult{}, classify(err)
		}
		total = len(entities)
	}

	return storage.NewPagedResult(entities, total, opts), nil
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
	s.reportInjectionFindings(ctx, opts.Filters)

	conds, args, err := s.buildWhere(s.spec, opts.Filters, "", nil)
	if err != nil {
		return 0, classify(err)
	}
	sql := "SELECT COUNT(*) FROM " + s.table()
	if len(conds) > 0 {
		sql += " WHERE " + strings.Join(conds, " AND ")
	}

	var count int
	if err := s.provider.db.QueryRow(ctx, sql, args...).Scan(&count); err != nil {
		return 0, classify(err)
	}
	return count, nil
}

func (s *store) Create(ctx context.Context, entity storage.Entity) (storage.Entity, error) {
	entity = s.PreprocessEntity(entity)

	cols, args, err := s.writeColumns(entity, true)
	if err != nil {
		return nil, classify(err)
	}
	if len(cols) == 0 {
		return nil, apperrors.BadRequest("entity has no fields to insert")
	}

	placeholders := make([]string, len(cols))
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quoteIdent(c)
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING *",
		s.table(), strings.Join(quoted, ", "), strings.Join(placeholders, ", "))

	created, err := s.queryOne(ctx, s.provider.db, sql, args)
	if err != nil {
		return nil, classify(err)
	}
	return created, nil
}

func (s *store) CreateMany(ctx context.Context, entities []storage.Entity) ([]storage.Entity, error) {
	if len(entities) == 0 {
		return []storage.Entity{}, nil
	}

	processed := make([]storage.Entity, len(entities))
	colSet := make(map[string]bool)
	for i, e := range entities {
		processed[i] = s.PreprocessEntity(e)
		for k := range processed[i] {
			if !s.allowedField(s.spec, k) {
				return nil, classify(apperrors.BadRequest("unknown field %q", k))
			}
			colSet[k] = true
		}
	}

	fields := make([]string, 0, len(colSet))
	for f := range colSet {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	quoted := make([]string, len(fields))
	for i, f := range fields {
		quoted[i] = quoteIdent(columnName(f))
	}

	var args []any
	tuples := make([]string, len(processed))
	for i, e := range processed {
		holders := make([]string, len(fields))
		for j, f := range fields {
			args = append(args, e[f]) // absent fields insert NULL
			holders[j] = fmt.Sprintf("$%d", len(args))
		}
		tuples[i] = "(" + strings.Join(holders, ", ") + ")"
	}

	// One statement: the batch inserts atomically or not at all.
	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s RETURNING *",
		s.table(), strings.Join(quoted, ", "), strings.Join(tuples, ", "))

	created, err := s.queryEntities(ctx, s.provider.db, sql, args, nil)
	if err != nil {
		return nil, classify(err)
	}
	return created, nil
}

func (s *store) BatchUpdate(ctx context.Context, changes []storage.Entity) ([]storage.Entity, error) {
	if len(changes) == 0 {
		return []storage.Entity{}, nil
	}

	tx, err := s.provider.db.Begin(ctx)
	if err != nil {
		return nil, classify(err)
	}
	defer tx.Rollback(ctx)

	updated := make([]storage.Entity, 0, len(changes))
	for _, change := range changes {
		id, ok := change[modelspec.FieldID]
		if !ok || id == nil {
			return nil, classify(apperrors.BadRequest("batch update requires _id on every entity"))
		}
		entity, err := s.updateByIDIn(ctx, tx, id, change)
		if err != nil {
			return nil, classify(err)
		}
		updated = append(updated, entity)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, classify(err)
	}
	return updated, nil
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

	updated, err := s.updateByIDIn(ctx, s.provider.db, id, full)
	if err != nil {
		return nil, classify(err)
	}
	return updated, nil
}

func (s *store) PartialUpdateByID(ctx context.Context, id any, entity storage.Entity) (storage.Entity, error) {
	updated, err := s.updateByIDIn(ctx, s.provider.db, id, entity)
	if err != nil {
		return nil, classify(err)
	}
	return updated, nil
}

// updateByIDIn applies one change set to one row and returns the updated row.
// A nil change value writes NULL.
func (s *store) updateByIDIn(ctx context.Context, q querier, id any, changes storage.Entity) (storage.Entity, error) {
	set, args, err := s.buildSet(changes)
	if err != nil {
		return nil, err
	}
	if len(set) == 0 {
		return nil, apperrors.BadRequest("no fields to update")
	}

	args = append(args, id)
	sql := fmt.Sprintf("UPDATE %s SET %s WHERE %s = $%d RETURNING *",
		s.table(), strings.Join(set, ", "), quoteIdent(modelspec.FieldID), len(args))

	updated, err := s.queryOne(ctx, q, sql, args)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, apperrors.NotFound(s.spec.Name())
	}
	return updated, nil
}

func (s *store) Update(ctx context.Context, opts storage.QueryOptions, changes storage.Entity) (int, error) {
	s.reportInjectionFindings(ctx, opts.Filters)

	set, args, err := s.buildSet(changes)
	if err != nil {
		return 0, classify(err)
	}
	if len(set) == 0 {
		return 0, classify(apperrors.BadRequest("no fields to update"))
	}

	conds, args, err := s.buildWhere(s.spec, opts.Filters, "", args)
	if err != nil {
		return 0, classify(err)
	}

	sql := fmt.Sprintf("UPDATE %s SET %s", s.table(), strings.Join(set, ", "))
	if len(conds) > 0 {
		sql += " WHERE " + strings.Join(conds, " AND ")
	}

	tag, err := s.provider.db.Exec(ctx, sql, args...)
	if err != nil {
		return 0, classify(err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *store) DeleteByID(ctx context.Context, id any) (storage.DeleteResult, error) {
	sql := fmt.Sprintf("DELETE FROM %s WHERE %s = $1", s.table(), quoteIdent(modelspec.FieldID))
	tag, err := s.provider.db.Exec(ctx, sql, id)
	if err != nil {
		return storage.DeleteResult{}, classify(err)
	}
	if tag.RowsAffected() == 0 {
		return storage.DeleteResult{}, apperrors.NotFound(s.spec.Name())
	}
	return storage.DeleteResult{Acked: true, Count: int(tag.RowsAffected())}, nil
}

func (s *store) DeleteMany(ctx context.Context, opts storage.QueryOptions) (storage.DeleteResult, error) {
	s.reportInjectionFindings(ctx, opts.Filters)

	conds, args, err := s.buildWhere(s.spec, opts.Filters, "", nil)
	if err != nil {
		return storage.DeleteResult{}, classify(err)
	}
	sql := "DELETE FROM " + s.table()
	if len(conds) > 0 {
		sql += " WHERE " + strings.Join(conds, " AND ")
	}

	tag, err := s.provider.db.Exec(ctx, sql, args...)
	if err != nil {
		return storage.DeleteResult{}, classify(err)
	}
	return storage.DeleteResult{Acked: true, Count: int(tag.RowsAffected())}, nil
}

func (s *store) Find(ctx context.Context, opts storage.QueryOptions) ([]storage.Entity, error) {
	s.reportInjectionFindings(ctx, opts.Filters)

	sql, args, err := s.findSQL(opts, false)
	if err != nil {
		return nil, classify(err)
	}
	entities, err := s.queryEntities(ctx, s.provider.db, sql, args, nil)
	if err != nil {
		return nil, classify(err)
	}
	return entities, nil
}

func (s *store) FindOne(ctx context.Context, opts storage.QueryOptions) (storage.Entity, error) {
	s.reportInjectionFindings(ctx, opts.Filters)

	sql, args, err := s.findSQL(opts, true)
	if err != nil {
		return nil, classify(err)
	}
	entity, err := s.queryOne(ctx, s.provider.db, sql, args)
	if err != nil {
		return nil, classify(err)
	}
	return entity, nil
}

// findSQL renders an unjoined filtered read. Find ignores pagination by
// contract; limitOne serves FindOne.
func (s *store) findSQL(opts storage.QueryOptions, limitOne bool) (string, []any, error) {
	conds, args, err := s.buildWhere(s.spec, opts.Filters, "", nil)
	if err != nil {
		return "", nil, err
	}

	sql := "SELECT " + s.selectColumns() + " FROM " + s.table()
	if len(conds) > 0 {
		sql += " WHERE " + strings.Join(conds, " AND ")
	}
	if opts.OrderBy != "" {
		orderCol, err := s.orderColumn(opts.OrderBy, "")
		if err != nil {
			return "", nil, err
		}
		dir := "ASC"
		if opts.SortDirection == storage.SortDesc {
			dir = "DESC"
		}
		sql += " ORDER BY " + orderCol + " " + dir
	}
	if limitOne {
		sql += " LIMIT 1"
	}
	return sql, args, nil
}

// writeColumns renders an entity into sorted, whitelisted column/args pairs
// for INSERT. allowID permits an explicit _id (system paths replaying rows).
func (s *store) writeColumns(entity storage.Entity, allowID bool) ([]string, []any, error) {
	fields := make([]string, 0, len(entity))
	for k := range entity {
		if k == modelspec.FieldID && !allowID {
			continue
		}
		if !s.allowedField(s.spec, k) {
			return nil, nil, apperrors.BadRequest("unknown field %q", k)
		}
		fields = append(fields, k)
	}
	sort.Strings(fields)

	cols := make([]string, len(fields))
	args := make([]any, len(fields))
	for i, f := range fields {
		cols[i] = columnName(f)
		args[i] = entity[f]
	}
	return cols, args, nil
}

// buildSet renders a change set into SET clauses. _id never moves; nil values
// write NULL, which is how full updates clear absent optional fields.
func (s *store) buildSet(changes storage.Entity) ([]string, []any, error) {
	fields := make([]string, 0, len(changes))
	for k := range changes {
		if k == modelspec.FieldID {
			continue
		}
		if !s.allowedField(s.spec, k) {
			return nil, nil, apperrors.BadRequest("unknown field %q", k)
		}
		fields = append(fields, k)
	}
	sort.Strings(fields)

	set := make([]string, len(fields))
	args := make([]any, len(fields))
	for i, f := range fields {
		set[i] = fmt.Sprintf("%s = $%d", quoteIdent(columnName(f)), i+1)
		args[i] = changes[f]
	}
	return set, args, nil
}

// queryEntities runs a row query and transforms every row.
func (s *store) queryEntities(ctx context.Context, q querier, sql string, args []any, ops []storage.Operation) ([]storage.Entity, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		s.logger.Debug("query failed", zap.String("sql", logging.SanitizeQuery(sql)))
		return nil, err
	}
	defer rows.Close()

	fds := rows.FieldDescriptions()
	cols := make([]string, len(fds))
	for i, fd := range fds {
		cols[i] = string(fd.Name)
	}

	entities := []storage.Entity{}
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, err
		}
		entity, err := rowToEntity(cols, vals, ops)
		if err != nil {
			return nil, err
		}
		entities = append(entities, s.PostprocessEntity(entity))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entities, nil
}

// queryOne runs a row query expected to return at most one row; nil when none.
func (s *store) queryOne(ctx context.Context, q querier, sql string, args []any) (storage.Entity, error) {
	entities, err := s.queryEntities(ctx, q, sql, args, nil)
	if err != nil {
		return nil, err
	}
	if len(entities) == 0 {
		return nil, nil
	}
	return entities[0], nil
}

// reportInjectionFindings scans string filter values with libinjection and
// reports matches to the security audit log. Report-only: the query still
// runs, parameterized.
func (s *store) reportInjectionFindings(ctx context.Context, filters map[string]storage.Predicate) {
	if s.provider.auditor == nil || len(filters) == 0 {
		return
	}
	values := make(map[string]any, len(filters))
	for field, p := range filters {
		values[field] = p.Value
	}
	for _, finding := range sqlguard.ScanValues(values) {
		s.provider.auditor.LogInjectionAttempt(ctx, s.spec.Name(), audit.InjectionDetails{
			Field: finding.Field,
			// The value is attacker-controlled; bound before it reaches the log.
			Value:       logging.TruncateString(finding.Value, logging.MaxQueryLogLength),
			Fingerprint: finding.Fingerprint,
		})
	}
}
