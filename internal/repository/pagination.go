package repository

const (
	DefaultPage     = 1
	DefaultPageSize = 20
	MaxPageSize     = 100
)

type PageRequest struct {
	Page     int
	PageSize int
}

type PageResult[T any] struct {
	Items      []T   `json:"items"`
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}

func normalizePageRequest(req PageRequest) PageRequest {
	if req.Page < 1 {
		req.Page = DefaultPage
	}
	if req.PageSize < 1 {
		req.PageSize = DefaultPageSize
	}
	if req.PageSize > MaxPageSize {
		req.PageSize = MaxPageSize
	}
	return req
}

func calcTotalPages(total int64, pageSize int) int {
	if total <= 0 || pageSize <= 0 {
		return 0
	}
	return int((total + int64(pageSize) - 1) / int64(pageSize))
}

func (req PageRequest) offset() int {
	return (req.Page - 1) * req.PageSize
}

// MapPage converts the items of a page and keeps its position. Items is never
// nil, so an empty page encodes as [].
func MapPage[T, U any](page PageResult[T], fn func(T) (U, error)) (PageResult[U], error) {
	out := PageResult[U]{
		Items:      make([]U, 0, len(page.Items)),
		Page:       page.Page,
		PageSize:   page.PageSize,
		Total:      page.Total,
		TotalPages: page.TotalPages,
	}
	for _, item := range page.Items {
		v, err := fn(item)
		if err != nil {
			return PageResult[U]{}, err
		}
		out.Items = append(out.Items, v)
	}
	return out, nil
}
