package shared

// PagingInfo describes a look-ahead paged result.
type PagingInfo struct {
	Page     int  `json:"page"`
	PageSize int  `json:"page_size"`
	HasNext  bool `json:"has_next"`
	PrevPage int  `json:"prev_page,omitempty"`
	NextPage int  `json:"next_page,omitempty"`
}

// NormalizePage clamps page and size to sane bounds and returns the row offset.
func NormalizePage(page, size, defaultSize, maxSize int) (int, int, int) {
	if size <= 0 {
		size = defaultSize
	}
	if size > maxSize {
		size = maxSize
	}
	if page <= 0 {
		page = 1
	}
	return page, size, (page - 1) * size
}

// NewPagingInfo builds paging metadata once the extra look-ahead row has been trimmed.
func NewPagingInfo(page, size int, hasNext bool) PagingInfo {
	info := PagingInfo{Page: page, PageSize: size, HasNext: hasNext}
	if page > 1 {
		info.PrevPage = page - 1
	}
	if hasNext {
		info.NextPage = page + 1
	}
	return info
}
