package audit

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockroom/internal/shared"
)

type stubRepo struct {
	rows       []Entry
	lastFilter Filters
	lastOffset int
	lastLimit  int
}

func (s *stubRepo) Search(ctx context.Context, filters Filters, offset, limit int) ([]Entry, error) {
	s.lastFilter = filters
	s.lastOffset = offset
	s.lastLimit = limit
	if limit > 0 && len(s.rows) > limit {
		return s.rows[:limit], nil
	}
	return s.rows, nil
}

func sampleEntries(n int) []Entry {
	rows := make([]Entry, 0, n)
	for i := 0; i < n; i++ {
		rows = append(rows, Entry{ID: int64(i + 1), Action: ActionAdjust, EntityType: "inventory_record", EntityID: "1"})
	}
	return rows
}

func TestSearchPaging(t *testing.T) {
	repo := &stubRepo{rows: sampleEntries(3)}
	svc := NewService(repo)

	result, err := svc.Search(context.Background(), Filters{Page: 1, PageSize: 2, Action: " adjust "})
	require.NoError(t, err)
	require.Len(t, result.Rows, 2)
	require.True(t, result.Paging.HasNext)
	require.Equal(t, 2, result.Paging.NextPage)
	require.Equal(t, 3, repo.lastLimit)
	require.Equal(t, 0, repo.lastOffset)
	require.Equal(t, "ADJUST", repo.lastFilter.Action)
}

func TestSearchClampsPageSize(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo)

	_, err := svc.Search(context.Background(), Filters{Page: 2, PageSize: 1000})
	require.NoError(t, err)
	require.Equal(t, maxPageSize+1, repo.lastLimit)
	require.Equal(t, maxPageSize, repo.lastOffset)
}

func TestSearchRejectsInvertedRange(t *testing.T) {
	svc := NewService(&stubRepo{})
	_, err := svc.Search(context.Background(), Filters{
		From: time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	})
	v, ok := shared.AsValidation(err)
	require.True(t, ok)
	require.Equal(t, "date_from", v.Field)
}

func TestExportReturnsAllRows(t *testing.T) {
	repo := &stubRepo{rows: sampleEntries(5)}
	rows, err := NewService(repo).Export(context.Background(), Filters{})
	require.NoError(t, err)
	require.Len(t, rows, 5)
	require.Equal(t, 0, repo.lastLimit)
}

func TestChangesSkipUnchangedFields(t *testing.T) {
	changes := Changes{}.
		Add("quantity", decimal.RequireFromString("100"), decimal.RequireFromString("90")).
		Add("unit_cost", decimal.RequireFromString("15000"), decimal.RequireFromString("15000")).
		Set("reference", "TRF-7")

	require.Equal(t, Changes{
		{Field: "quantity", Old: "100", New: "90"},
		{Field: "reference", New: "TRF-7"},
	}, changes)
}

func TestEntryValidate(t *testing.T) {
	require.Error(t, Entry{Action: "NUKE", EntityType: "x", EntityID: "1"}.Validate())
	require.Error(t, Entry{Action: ActionCreate}.Validate())
	require.NoError(t, Entry{Action: ActionCreate, EntityType: "stock_opname", EntityID: "9"}.Validate())
}

func TestWriteCSV(t *testing.T) {
	out, err := WriteCSV([]Entry{{
		ID:          4,
		Action:      ActionTransfer,
		EntityType:  "inventory_record",
		EntityID:    "12",
		EntityLabel: "Flour (BULK)",
		ActorID:     7,
		Changes:     Changes{{Field: "quantity", Old: "100", New: "90"}},
		CreatedAt:   time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC),
	}})
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	require.Len(t, lines, 2)
	require.Contains(t, lines[1], "quantity: 100 -> 90")
	require.Contains(t, lines[1], "2024-03-10T10:00:00Z")
}
