package storage

// Entity is the unit every adapter reads and writes. Field names are wire
// names (camelCase plus underscore-prefixed system fields); value types are
// backend-native between Decode and Encode.
type Entity = map[string]any

// PagedResult is the uniform shape of a paginated read.
type PagedResult struct {
	Entities   []Entity `json:"entities"`
	Total      int      `json:"total"`
	Page       int      `json:"page"`
	PageSize   int      `json:"pageSize"`
	TotalPages int      `json:"totalPages"`
}

// NewPagedResult computes the pagination metadata for a result window. With
// pagination disabled total equals the entity count and everything fits one
// page.
func NewPagedResult(entities []Entity, total int, opts QueryOptions) PagedResult {
	if entities == nil {
		entities = []Entity{}
	}
	if !opts.Paginated() {
		return PagedResult{
			Entities:   entities,
			Total:      len(entities),
			Page:       1,
			PageSize:   len(entities),
			TotalPages: 1,
		}
	}

	page, size := opts.PageWindow()
	totalPages := 0
	if size > 0 {
		totalPages = (total + size - 1) / size
	}
	return PagedResult{
		Entities:   entities,
		Total:      total,
		Page:       page,
		PageSize:   size,
		TotalPages: totalPages,
	}
}

// DeleteResult reports the outcome of a delete operation.
type DeleteResult struct {
	Acked bool `json:"acked"`
	Count int  `json:"count"`
}
