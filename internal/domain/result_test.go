package domain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/opticut/internal/domain"
)

func TestFinalize(t *testing.T) {
	sheets := []domain.SheetLayout{
		{
			StockID: "s1", Width: 100, Height: 100,
			Placements: []domain.Placement{
				{PieceID: "a#0", X: 0, Y: 0, Width: 50, Height: 50},
				{PieceID: "b#0", X: 50, Y: 0, Width: 40, Height: 40},
			},
		},
	}

	res := domain.Finalize(sheets, map[string]int{"c": 2}, []string{"a", "b", "c"})

	// Conservación: stock = usado + desperdicio.
	assert.Equal(t, 10000.0, res.Statistics.TotalStockArea)
	assert.Equal(t, 4100.0, res.Statistics.TotalUsedArea)
	assert.Equal(t, 5900.0, res.TotalWasteArea)
	assert.InDelta(t, 41.0, res.Statistics.Efficiency, 1e-9)
	assert.InDelta(t, 59.0, res.TotalWastePercentage, 1e-9)

	assert.Equal(t, 1, res.StockUsedCount)
	assert.Equal(t, 2, res.Statistics.TotalPieces)

	require.Len(t, res.UnplacedPieces, 1)
	assert.Equal(t, domain.UnplacedPiece{ID: "c", Quantity: 2}, res.UnplacedPieces[0])
	assert.False(t, res.Success)
}

func TestFinalizeSuccess(t *testing.T) {
	sheets := []domain.SheetLayout{
		{StockID: "s", Width: 100, Height: 100,
			Placements: []domain.Placement{{PieceID: "a#0", Width: 100, Height: 100}}},
	}
	res := domain.Finalize(sheets, nil, []string{"a"})
	assert.True(t, res.Success)
	assert.InDelta(t, 100.0, res.Statistics.Efficiency, 1e-9)
	assert.Empty(t, res.UnplacedPieces)
}

func TestFinalize1DUsesLength(t *testing.T) {
	// En 1D Height es la sección de la barra; el área usada es la longitud.
	sheets := []domain.SheetLayout{
		{StockID: "b", Width: 1000, Height: 0,
			Placements: []domain.Placement{
				{PieceID: "p#0", X: 0, Width: 300},
				{PieceID: "p#1", X: 310, Width: 300},
			}},
	}
	res := domain.Finalize(sheets, nil, []string{"p"})
	assert.Equal(t, 1000.0, res.Statistics.TotalStockArea)
	assert.Equal(t, 600.0, res.Statistics.TotalUsedArea)
	assert.Equal(t, 400.0, res.TotalWasteArea)
}

func TestEmptyResult(t *testing.T) {
	res := domain.EmptyResult()
	assert.False(t, res.Success)
	assert.Empty(t, res.Sheets)
	assert.Zero(t, res.TotalWasteArea)
	assert.Zero(t, res.Statistics.Efficiency)
}
