package storage

// Op enumerates filter predicate operators.
type Op string

const (
	OpEq  Op = "eq"
	OpNe  Op = "ne"
	OpIn  Op = "in"
	OpGt  Op = "gt"
	OpGte Op = "gte"
	OpLt  Op = "lt"
	OpLte Op = "lte"
	// OpContains is a case-insensitive substring match.
	OpContains Op = "contains"
)

// Predicate is one filter condition. Value is a slice for OpIn.
type Predicate struct {
	Op    Op
	Value any
}

func Eq(v any) Predicate       { return Predicate{Op: OpEq, Value: v} }
func Ne(v any) Predicate       { return Predicate{Op: OpNe, Value: v} }
func In(v ...any) Predicate    { return Predicate{Op: OpIn, Value: v} }
func Gt(v any) Predicate       { return Predicate{Op: OpGt, Value: v} }
func Gte(v any) Predicate      { return Predicate{Op: OpGte, Value: v} }
func Lt(v any) Predicate       { return Predicate{Op: OpLt, Value: v} }
func Lte(v any) Predicate      { return Predicate{Op: OpLte, Value: v} }
func Contains(v any) Predicate { return Predicate{Op: OpContains, Value: v} }

// SortDirection orders query results.
type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// QueryOptions carries filters, ordering, and pagination for read and bulk
// operations. A nil PageSize disables pagination.
type QueryOptions struct {
	Filters       map[string]Predicate
	OrderBy       string
	SortDirection SortDirection
	Page          *int
	PageSize      *int
}

// Paginated reports whether a page window applies.
func (o QueryOptions) Paginated() bool { return o.PageSize != nil }

// PageWindow resolves the effective page and size. Page defaults to 1.
func (o QueryOptions) PageWindow() (page, size int) {
	if o.PageSize == nil {
		return 1, 0
	}
	page = 1
	if o.Page != nil && *o.Page > 0 {
		page = *o.Page
	}
	return page, *o.PageSize
}

// WithFilter returns a copy of the options with one more filter set. The
// filter map is copied so scoping never mutates caller state.
func (o QueryOptions) WithFilter(field string, p Predicate) QueryOptions {
	filters := make(map[string]Predicate, len(o.Filters)+1)
	for k, v := range o.Filters {
		filters[k] = v
	}
	filters[field] = p
	o.Filters = filters
	return o
}
