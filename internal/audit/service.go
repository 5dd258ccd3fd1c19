package audit

import (
	"context"
	"fmt"
	"strings"

	"github.com/odyssey-erp/stockroom/internal/shared"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Repository reads persisted audit entries.
type Repository interface {
	Search(ctx context.Context, filters Filters, offset, limit int) ([]Entry, error)
}

// Service answers audit log queries.
type Service struct {
	repo Repository
}

// NewService builds Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Search returns one page of entries, fetching one extra row to detect a next page.
func (s *Service) Search(ctx context.Context, filters Filters) (Result, error) {
	if s.repo == nil {
		return Result{}, fmt.Errorf("audit: repository not configured")
	}
	filters = normalizeFilters(filters)
	if !filters.From.IsZero() && !filters.To.IsZero() && filters.From.After(filters.To) {
		return Result{}, shared.NewValidationError("date_from", "must not be after date_to")
	}
	page, size, offset := shared.NormalizePage(filters.Page, filters.PageSize, defaultPageSize, maxPageSize)
	rows, err := s.repo.Search(ctx, filters, offset, size+1)
	if err != nil {
		return Result{}, err
	}
	hasNext := len(rows) > size
	if hasNext {
		rows = rows[:size]
	}
	return Result{Rows: rows, Paging: shared.NewPagingInfo(page, size, hasNext)}, nil
}

// Export returns every matching entry without paging.
func (s *Service) Export(ctx context.Context, filters Filters) ([]Entry, error) {
	if s.repo == nil {
		return nil, fmt.Errorf("audit: repository not configured")
	}
	return s.repo.Search(ctx, normalizeFilters(filters), 0, 0)
}

func normalizeFilters(f Filters) Filters {
	f.EntityType = strings.TrimSpace(f.EntityType)
	f.EntityID = strings.TrimSpace(f.EntityID)
	f.Action = strings.ToUpper(strings.TrimSpace(f.Action))
	f.Search = strings.TrimSpace(f.Search)
	return f
}
