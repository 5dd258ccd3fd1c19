package shared

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidationErrorMatchesSentinelAfterWrapping(t *testing.T) {
	sentinel := NewValidationError("quantity", "insufficient stock")
	err := fmt.Errorf("transfer: %w", Detailed(sentinel, "short by %s", "50"))

	require.ErrorIs(t, err, sentinel)
	require.False(t, errors.Is(err, NewValidationError("unit", "insufficient stock")))

	v, ok := AsValidation(err)
	require.True(t, ok)
	require.Equal(t, "quantity", v.Field)
	require.Contains(t, err.Error(), "short by 50")
}

func TestTaxonomyHelpers(t *testing.T) {
	require.True(t, IsConflict(fmt.Errorf("wrap: %w", NewConflictError("bad status"))))
	require.False(t, IsConflict(errors.New("plain")))
	require.True(t, IsInvariant(Invariantf("value drift %d", 3)))
	require.Equal(t, "invariant violated: value drift 3", Invariantf("value drift %d", 3).Error())
}

func TestParseActor(t *testing.T) {
	id, ok := ParseActor(" 42 ")
	require.True(t, ok)
	require.Equal(t, int64(42), id)

	_, ok = ParseActor("abc")
	require.False(t, ok)
	_, ok = ParseActor("-3")
	require.False(t, ok)
}

func TestNormalizePage(t *testing.T) {
	page, size, offset := NormalizePage(0, 500, 20, 100)
	require.Equal(t, 1, page)
	require.Equal(t, 100, size)
	require.Equal(t, 0, offset)

	page, size, offset = NormalizePage(3, 0, 20, 100)
	require.Equal(t, 3, page)
	require.Equal(t, 20, size)
	require.Equal(t, 40, offset)

	info := NewPagingInfo(2, 20, true)
	require.Equal(t, 1, info.PrevPage)
	require.Equal(t, 3, info.NextPage)
}
