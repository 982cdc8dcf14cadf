package notify_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/opticut/internal/adapters/notify"
	"github.com/alejandrodnm/opticut/internal/domain"
)

func samplePlan() *domain.CuttingPlan {
	return &domain.CuttingPlan{
		ID:         "0f9a3b2c-dead-beef-0000-000000000000",
		ScenarioID: "scn-1",
		Algorithm:  "2D_GUILLOTINE",
		Result: &domain.OptimizationResult{
			Success:        true,
			StockUsedCount: 1,
			Sheets: []domain.SheetLayout{{
				StockID: "S",
				Width:   100,
				Height:  100,
				Placements: []domain.Placement{
					{PieceID: "a#0", X: 0, Y: 0, Width: 60, Height: 40},
					{PieceID: "b#0", X: 0, Y: 42, Width: 40, Height: 40, Rotated: true},
				},
			}},
			TotalWasteArea:       6000,
			TotalWastePercentage: 60,
			Statistics: domain.Statistics{
				TotalPieces:    2,
				TotalStockArea: 10000,
				TotalUsedArea:  4000,
				Efficiency:     40,
			},
		},
	}
}

func TestConsoleCompact(t *testing.T) {
	var buf bytes.Buffer
	c := notify.NewConsoleWriter(&buf, false)

	require.NoError(t, c.NotifyPlan(context.Background(), samplePlan()))

	out := buf.String()
	assert.Contains(t, out, "plan 0f9a3b2c")
	assert.Contains(t, out, "2D_GUILLOTINE")
	assert.Contains(t, out, "1 sheets")
	assert.Contains(t, out, "2 pieces")
	assert.Contains(t, out, "eff 40.0%")
	assert.Contains(t, out, "waste 60.0%")
	assert.NotContains(t, out, "UNPLACED")
}

func TestConsoleCompactUnplaced(t *testing.T) {
	plan := samplePlan()
	plan.Result.Success = false
	plan.Result.UnplacedPieces = []domain.UnplacedPiece{{ID: "c", Quantity: 3}}

	var buf bytes.Buffer
	c := notify.NewConsoleWriter(&buf, false)
	require.NoError(t, c.NotifyPlan(context.Background(), plan))

	assert.Contains(t, buf.String(), "UNPLACED: 3")
}

func TestConsoleFullTable(t *testing.T) {
	var buf bytes.Buffer
	c := notify.NewConsoleWriter(&buf, true)

	require.NoError(t, c.NotifyPlan(context.Background(), samplePlan()))

	out := buf.String()
	assert.Contains(t, out, "CUTTING PLAN 0f9a3b2c")
	assert.Contains(t, out, "Sheet 1 — stock S (100×100)")
	assert.Contains(t, out, "a#0")
	assert.Contains(t, out, "b#0")
	assert.Contains(t, out, "SUMMARY")
	assert.Contains(t, out, "Efficiency:    40.0%")
	assert.Contains(t, out, "Waste:         6000.0 (60.0%)")
}

func TestConsoleFullUnplacedSection(t *testing.T) {
	plan := samplePlan()
	plan.Result.UnplacedPieces = []domain.UnplacedPiece{{ID: "c", Quantity: 2}}

	var buf bytes.Buffer
	c := notify.NewConsoleWriter(&buf, true)
	require.NoError(t, c.NotifyPlan(context.Background(), plan))

	out := buf.String()
	assert.Contains(t, out, "UNPLACED PIECES")
	assert.Contains(t, out, "c × 2")
}

func TestConsoleNilPlan(t *testing.T) {
	var buf bytes.Buffer
	c := notify.NewConsoleWriter(&buf, true)

	require.NoError(t, c.NotifyPlan(context.Background(), nil))
	assert.Contains(t, buf.String(), "empty plan")
}
