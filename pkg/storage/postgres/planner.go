package postgres

import (
	"fmt"
	"sort"
	"strings"

	"github.com/stratumhq/stratum-engine/pkg/apperrors"
	"github.com/stratumhq/stratum-engine/pkg/modelspec"
	"github.com/stratumhq/stratum-engine/pkg/storage"
)

// plan is the compiled SQL for one joined read: the row query plus its
// COUNT(*) twin sharing the same joins and filters.
type plan struct {
	querySQL  string
	queryArgs []any
	countSQL  string
	countArgs []any
}

// planBuilder compiles an ordered operation list against a root spec. Aliases
// may only reference operations declared before them.
type planBuilder struct {
	store   *store
	root    *modelspec.Spec
	rootT   string // quoted root table
	ops     []storage.Operation
	joined  map[string]*modelspec.Spec // alias -> joined table spec
	byAlias map[string]storage.Operation
	aliasAt map[string]int // alias -> position in ops
}

func (s *store) newPlanBuilder(ops []storage.Operation) (*planBuilder, error) {
	b := &planBuilder{
		store:   s,
		root:    s.spec,
		rootT:   quoteIdent(s.spec.StorageName()),
		ops:     ops,
		joined:  make(map[string]*modelspec.Spec, len(ops)),
		byAlias: make(map[string]storage.Operation, len(ops)),
		aliasAt: make(map[string]int, len(ops)),
	}
	for i, op := range ops {
		if op.As == "" {
			return nil, fmt.Errorf("join %d on %q has no alias", i, op.From)
		}
		if _, dup := b.byAlias[op.As]; dup {
			return nil, fmt.Errorf("duplicate join alias %q", op.As)
		}
		if s.allowedField(s.spec, op.As) {
			return nil, fmt.Errorf("join alias %q collides with a root field", op.As)
		}
		joinedSpec, ok := s.provider.specs.ByStorageName(op.From)
		if !ok {
			return nil, fmt.Errorf("join table %q is not a registered model", op.From)
		}
		if op.ForeignField == "" || !s.allowedField(joinedSpec, op.ForeignField) {
			return nil, fmt.Errorf("join alias %q: unknown foreign field %q on %q", op.As, op.ForeignField, op.From)
		}
		b.joined[op.As] = joinedSpec
		b.byAlias[op.As] = op
		b.aliasAt[op.As] = i
	}
	return b, nil
}

// buildPlan renders the full statement:
//
//	SELECT <root cols>, <one-to-one blocks>, <many subqueries>
//	FROM root LEFT/INNER JOIN ... WHERE ... ORDER BY ... LIMIT/OFFSET
//
// plus the COUNT(*) twin without select list, ordering, or paging.
func (s *store) buildPlan(ops []storage.Operation, opts storage.QueryOptions) (*plan, error) {
	b, err := s.newPlanBuilder(ops)
	if err != nil {
		return nil, err
	}

	selectList, err := b.selectList()
	if err != nil {
		return nil, err
	}
	joins, err := b.joinClauses()
	if err != nil {
		return nil, err
	}

	qualifier := ""
	if len(ops) > 0 {
		qualifier = b.rootT
	}
	conds, args, err := s.buildWhere(s.spec, opts.Filters, qualifier, nil)
	if err != nil {
		return nil, err
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	from := " FROM " + b.rootT
	countArgs := make([]any, len(args))
	copy(countArgs, args)
	countSQL := "SELECT COUNT(*)" + from + joins + where

	querySQL := "SELECT " + selectList + from + joins + where

	if opts.OrderBy != "" {
		orderCol, err := s.orderColumn(opts.OrderBy, qualifier)
		if err != nil {
			return nil, err
		}
		dir := "ASC"
		if opts.SortDirection == storage.SortDesc {
			dir = "DESC"
		}
		querySQL += " ORDER BY " + orderCol + " " + dir
	}

	if opts.Paginated() {
		page, size := opts.PageWindow()
		querySQL += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
		args = append(args, size, (page-1)*size)
	}

	return &plan{
		querySQL:  querySQL,
		queryArgs: args,
		countSQL:  countSQL,
		countArgs: countArgs,
	}, nil
}

// selectList renders root columns as "R"."col" AS "col", one-to-one blocks as
// A."col" AS "A__col", and each LeftJoinMany as a correlated jsonb_agg subquery.
func (b *planBuilder) selectList() (string, error) {
	var parts []string

	for _, pair := range b.store.columnPairs(b.root) {
		parts = append(parts, fmt.Sprintf("%s.%s AS %s", b.rootT, quoteIdent(pair.column), quoteIdent(pair.column)))
	}

	for _, op := range b.ops {
		switch op.Kind {
		case storage.JoinLeft, storage.JoinInner:
			alias := quoteIdent(op.As)
			for _, pair := range b.store.columnPairs(b.joined[op.As]) {
				parts = append(parts, fmt.Sprintf("%s.%s AS %s",
					alias, quoteIdent(pair.column), quoteIdent(op.As+"__"+pair.column)))
			}
		case storage.JoinLeftMany:
			sub, err := b.manySubquery(op)
			if err != nil {
				return "", err
			}
			parts = append(parts, sub+" AS "+quoteIdent(op.As))
		default:
			return "", fmt.Errorf("join alias %q: unknown kind %q", op.As, op.Kind)
		}
	}

	return strings.Join(parts, ", "), nil
}

// joinClauses renders the one-to-one LEFT/INNER JOIN chain in declaration
// order. Many-joins contribute no FROM clause; they live in the select list.
func (b *planBuilder) joinClauses() (string, error) {
	var sb strings.Builder
	for i, op := range b.ops {
		if op.Kind == storage.JoinLeftMany {
			continue
		}

		foreign := fmt.Sprintf("%s.%s", quoteIdent(op.As), quoteIdent(columnName(op.ForeignField)))
		local, err := b.tableLocalRef(op, i)
		if err != nil {
			return "", err
		}

		keyword := "LEFT JOIN"
		if op.Kind == storage.JoinInner {
			keyword = "INNER JOIN"
		}
		fmt.Fprintf(&sb, " %s %s AS %s ON %s = %s",
			keyword, quoteIdent(op.From), quoteIdent(op.As), foreign, local)
	}
	return sb.String(), nil
}

// tableLocalRef resolves a one-to-one join's local side: a root column or a
// column of an earlier table join. Many-join results are not addressable from
// an ON clause.
func (b *planBuilder) tableLocalRef(op storage.Operation, at int) (string, error) {
	alias, field := op.LocalRef()
	if alias == "" {
		if !b.store.allowedField(b.root, field) {
			return "", fmt.Errorf("join alias %q: unknown local field %q", op.As, field)
		}
		return fmt.Sprintf("%s.%s", b.rootT, quoteIdent(columnName(field))), nil
	}

	prior, ok := b.byAlias[alias]
	if !ok || b.aliasAt[alias] >= at {
		return "", fmt.Errorf("join alias %q references %q before it is joined", op.As, alias)
	}
	if prior.Kind == storage.JoinLeftMany {
		return "", fmt.Errorf("join alias %q: one-to-one joins cannot reference many-join %q", op.As, alias)
	}
	if !b.store.allowedField(b.joined[alias], field) {
		return "", fmt.Errorf("join alias %q: unknown field %q on %q", op.As, field, alias)
	}
	return fmt.Sprintf("%s.%s", quoteIdent(alias), quoteIdent(columnName(field))), nil
}

// manySubquery renders one LeftJoinMany as a correlated scalar subquery:
//
//	(SELECT COALESCE(jsonb_agg(jsonb_build_object('col', "_sub_A"."col", ...)
//	    ORDER BY "_sub_A"."_id"), '[]'::jsonb)
//	 FROM "T" AS "_sub_A" WHERE "_sub_A"."fk" = <local-ref>)
//
// so a row with no matches yields [] rather than null.
func (b *planBuilder) manySubquery(op storage.Operation) (string, error) {
	joinedSpec := b.joined[op.As]
	subAlias := quoteIdent("_sub_" + op.As)

	var kv []string
	for _, pair := range b.store.columnPairs(joinedSpec) {
		kv = append(kv, fmt.Sprintf("'%s', %s.%s", pair.wire, subAlias, quoteIdent(pair.column)))
	}

	cond, err := b.manyCondition(op, subAlias)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf(
		"(SELECT COALESCE(jsonb_agg(jsonb_build_object(%s) ORDER BY %s.%s), '[]'::jsonb) FROM %s AS %s WHERE %s)",
		strings.Join(kv, ", "), subAlias, quoteIdent(modelspec.FieldID),
		quoteIdent(op.From), subAlias, cond,
	), nil
}

// manyCondition correlates a many-join subquery with its local reference. A
// reference into an earlier many-join flattens into nested IN subqueries that
// walk the chain back to the root table.
func (b *planBuilder) manyCondition(op storage.Operation, subAlias string) (string, error) {
	fk := fmt.Sprintf("%s.%s", subAlias, quoteIdent(columnName(op.ForeignField)))

	alias, field := op.LocalRef()
	if alias == "" {
		if !b.store.allowedField(b.root, field) {
			return "", fmt.Errorf("join alias %q: unknown local field %q", op.As, field)
		}
		return fmt.Sprintf("%s = %s.%s", fk, b.rootT, quoteIdent(columnName(field))), nil
	}

	prior, ok := b.byAlias[alias]
	if !ok || b.aliasAt[alias] >= b.aliasAt[op.As] {
		return "", fmt.Errorf("join alias %q references %q before it is joined", op.As, alias)
	}
	if !b.store.allowedField(b.joined[alias], field) {
		return "", fmt.Errorf("join alias %q: unknown field %q on %q", op.As, field, alias)
	}

	switch prior.Kind {
	case storage.JoinLeft, storage.JoinInner:
		return fmt.Sprintf("%s = %s.%s", fk, quoteIdent(alias), quoteIdent(columnName(field))), nil
	case storage.JoinLeftMany:
		inner, err := b.manyChainSubquery(prior, field)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s IN %s", fk, inner), nil
	default:
		return "", fmt.Errorf("join alias %q: unknown kind %q", alias, prior.Kind)
	}
}

// manyChainSubquery renders (SELECT "_sub_A"."field" FROM "T" AS "_sub_A"
// WHERE <correlate A>), recursing through however many many-joins the chain
// crosses until it anchors on the root table.
func (b *planBuilder) manyChainSubquery(op storage.Operation, selectField string) (string, error) {
	subAlias := quoteIdent("_sub_" + op.As)
	cond, err := b.manyCondition(op, subAlias)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("(SELECT %s.%s FROM %s AS %s WHERE %s)",
		subAlias, quoteIdent(columnName(selectField)),
		quoteIdent(op.From), subAlias, cond), nil
}

// buildWhere renders filters into AND-ed conditions with bind parameters,
// appending to args. Fields iterate in sorted order so generated SQL is
// deterministic. qualifier is the quoted root table, empty for single-table reads.
func (s *store) buildWhere(spec *modelspec.Spec, filters map[string]storage.Predicate, qualifier string, args []any) ([]string, []any, error) {
	if len(filters) == 0 {
		return nil, args, nil
	}

	fields := make([]string, 0, len(filters))
	for f := range filters {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	conds := make([]string, 0, len(fields))
	for _, field := range fields {
		if !s.allowedField(spec, field) {
			return nil, nil, apperrors.BadRequest("unknown filter field %q", field)
		}
		col := quoteIdent(columnName(field))
		if qualifier != "" {
			col = qualifier + "." + col
		}

		cond, newArgs, err := renderPredicate(col, field, filters[field], args)
		if err != nil {
			return nil, nil, err
		}
		conds = append(conds, cond)
		args = newArgs
	}
	return conds, args, nil
}

func renderPredicate(col, field string, p storage.Predicate, args []any) (string, []any, error) {
	switch p.Op {
	case storage.OpEq:
		if p.Value == nil {
			return col + " IS NULL", args, nil
		}
		args = append(args, p.Value)
		return fmt.Sprintf("%s = $%d", col, len(args)), args, nil
	case storage.OpNe:
		if p.Value == nil {
			return col + " IS NOT NULL", args, nil
		}
		args = append(args, p.Value)
		return fmt.Sprintf("%s <> $%d", col, len(args)), args, nil
	case storage.OpIn:
		values, ok := p.Value.([]any)
		if !ok {
			return "", nil, apperrors.BadRequest("filter %q: in requires a value list", field)
		}
		if len(values) == 0 {
			// An empty list matches nothing on either backend.
			return "FALSE", args, nil
		}
		placeholders := make([]string, len(values))
		for i, v := range values {
			args = append(args, v)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		return fmt.Sprintf("%s IN (%s)", col, strings.Join(placeholders, ", ")), args, nil
	case storage.OpGt, storage.OpGte, storage.OpLt, storage.OpLte:
		if p.Value == nil {
			return "", nil, apperrors.BadRequest("filter %q: %s requires a value", field, p.Op)
		}
		sym := map[storage.Op]string{
			storage.OpGt: ">", storage.OpGte: ">=",
			storage.OpLt: "<", storage.OpLte: "<=",
		}[p.Op]
		args = append(args, p.Value)
		return fmt.Sprintf("%s %s $%d", col, sym, len(args)), args, nil
	case storage.OpContains:
		str, ok := p.Value.(string)
		if !ok {
			return "", nil, apperrors.BadRequest("filter %q: contains requires a string", field)
		}
		args = append(args, "%"+escapeLike(str)+"%")
		return fmt.Sprintf("%s ILIKE $%d", col, len(args)), args, nil
	default:
		return "", nil, apperrors.BadRequest("filter %q: unknown operator %q", field, p.Op)
	}
}

// escapeLike neutralizes LIKE metacharacters so contains matches literally.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

// orderColumn validates and renders the ORDER BY target.
func (s *store) orderColumn(field, qualifier string) (string, error) {
	if !s.allowedField(s.spec, field) {
		return "", apperrors.BadRequest("unknown sort field %q", field)
	}
	col := quoteIdent(columnName(field))
	if qualifier != "" {
		col = qualifier + "." + col
	}
	return col, nil
}
