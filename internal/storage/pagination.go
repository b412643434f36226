package storage

const (
	UserPageSize  = 8
	AdminPageSize = 10
	MaxPageSize   = 100
)

type PaginatedList[T any] struct {
	Items           []T  `json:"items"`
	PageIndex       int  `json:"page_index"`
	PageSize        int  `json:"page_size"`
	TotalItems      int  `json:"total_items"`
	TotalPages      int  `json:"total_pages"`
	HasPreviousPage bool `json:"has_previous_page"`
	HasNextPage     bool `json:"has_next_page"`
}

func NewPaginatedList[T any](items []T, total, pageIndex, pageSize int) PaginatedList[T] {
	if items == nil {
		items = []T{}
	}
	totalPages := 0
	if pageSize > 0 {
		totalPages = (total + pageSize - 1) / pageSize
	}
	return PaginatedList[T]{
		Items:           items,
		PageIndex:       pageIndex,
		PageSize:        pageSize,
		TotalItems:      total,
		TotalPages:      totalPages,
		HasPreviousPage: pageIndex > 1,
		HasNextPage:     pageIndex < totalPages,
	}
}
