package types

type PaginationResult[T any] struct {
	Items           []T  `json:"items"`
	TotalItems      int  `json:"total_items"`
	Page            int  `json:"page"`
	PageSize        int  `json:"page_size"`
	TotalPages      int  `json:"total_pages"`
	HasNextPage     bool `json:"has_next_page"`
	HasPreviousPage bool `json:"has_previous_page"`
}

// Paginate slices items into the requested page. Pages start at 1.
func Paginate[T any](items []T, page, pageSize int) PaginationResult[T] {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = len(items)
		if pageSize == 0 {
			pageSize = 1
		}
	}
	total := len(items)
	totalPages := (total + pageSize - 1) / pageSize

	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}

	return PaginationResult[T]{
		Items:           items[start:end],
		TotalItems:      total,
		Page:            page,
		PageSize:        pageSize,
		TotalPages:      totalPages,
		HasNextPage:     page < totalPages,
		HasPreviousPage: page > 1,
	}
}
