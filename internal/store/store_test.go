package store

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retailpos/backend/internal/domain"
)

func TestMergeLinesSumsAndSorts(t *testing.T) {
	merged, err := MergeLines([]domain.StockLine{
		{ProductID: "p2", Quantity: 1},
		{ProductID: "p1", Quantity: 2},
		{ProductID: "p2", Quantity: 4},
	})
	require.NoError(t, err)
	assert.Equal(t, []domain.StockLine{
		{ProductID: "p1", Quantity: 2},
		{ProductID: "p2", Quantity: 5},
	}, merged)
}

func TestMergeLinesRejectsOutOfRangeQuantities(t *testing.T) {
	cases := map[string][]domain.StockLine{
		"zero":      {{ProductID: "p1", Quantity: 0}},
		"negative":  {{ProductID: "p1", Quantity: -4}},
		"too large": {{ProductID: "p1", Quantity: math.MaxInt}},
		"wrapping sum": {
			{ProductID: "p1", Quantity: math.MaxInt},
			{ProductID: "p1", Quantity: math.MaxInt},
			{ProductID: "p1", Quantity: 3},
		},
		"sum past column limit": {
			{ProductID: "p1", Quantity: MaxStockQuantity},
			{ProductID: "p1", Quantity: 1},
		},
	}
	for name, lines := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := MergeLines(lines)
			require.ErrorIs(t, err, ErrInvalidTransaction)
		})
	}

	merged, err := MergeLines([]domain.StockLine{
		{ProductID: "p1", Quantity: MaxStockQuantity - 1},
		{ProductID: "p1", Quantity: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, MaxStockQuantity, merged[0].Quantity)
}
