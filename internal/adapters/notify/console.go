package notify

// console.go — salida del plan de corte por consola.
//
// Dos modos: compacto (una línea de resumen por plan) y tabla completa
// (una tabla por hoja con sus colocaciones más el resumen de desperdicio).

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/opticut/internal/domain"
	"github.com/alejandrodnm/opticut/internal/ports"
)

// Console implementa ports.Notifier escribiendo el plan a un io.Writer.
type Console struct {
	out   io.Writer
	table bool
}

var _ ports.Notifier = (*Console)(nil)

// NewConsole crea un notificador sobre stdout.
func NewConsole(table bool) *Console {
	return &Console{out: os.Stdout, table: table}
}

// NewConsoleWriter crea un notificador sobre un writer arbitrario (tests).
func NewConsoleWriter(w io.Writer, table bool) *Console {
	return &Console{out: w, table: table}
}

// NotifyPlan imprime el plan en el modo configurado.
func (c *Console) NotifyPlan(_ context.Context, plan *domain.CuttingPlan) error {
	if plan == nil || plan.Result == nil {
		fmt.Fprintf(c.out, "[%s] empty plan\n", time.Now().Format("15:04:05"))
		return nil
	}
	if c.table {
		c.printFull(plan)
	} else {
		c.printCompact(plan)
	}
	return nil
}

// printCompact imprime lo esencial en una línea.
func (c *Console) printCompact(plan *domain.CuttingPlan) {
	res := plan.Result
	now := time.Now().Format("15:04:05")

	unplaced := 0
	for _, up := range res.UnplacedPieces {
		unplaced += up.Quantity
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] plan %s (%s) → %d sheets | %d pieces | eff %.1f%% | waste %.1f%%",
		now, shortID(plan.ID), plan.Algorithm,
		res.StockUsedCount, res.Statistics.TotalPieces,
		res.Statistics.Efficiency, res.TotalWastePercentage)
	if unplaced > 0 {
		fmt.Fprintf(&sb, " | UNPLACED: %d", unplaced)
	}
	fmt.Fprintln(c.out, sb.String())
}

// printFull imprime una tabla por hoja más el resumen agregado.
func (c *Console) printFull(plan *domain.CuttingPlan) {
	res := plan.Result
	fmt.Fprintf(c.out, "\n=== CUTTING PLAN %s — %s ===\n", shortID(plan.ID), plan.Algorithm)

	for i, sheet := range res.Sheets {
		usedPct := 0.0
		if sheet.StockArea() > 0 {
			usedPct = sheet.UsedArea() / sheet.StockArea() * 100
		}
		fmt.Fprintf(c.out, "\nSheet %d — stock %s (%s) — used %.1f%%\n",
			i+1, sheet.StockID, dims(sheet.Width, sheet.Height), usedPct)

		table := tablewriter.NewWriter(c.out)
		table.Header("#", "Piece", "X", "Y", "W", "H", "Rot")
		for j, p := range sheet.Placements {
			rot := ""
			if p.Rotated {
				rot = "R"
			}
			table.Append(
				fmt.Sprintf("%d", j+1),
				p.PieceID,
				fmt.Sprintf("%.1f", p.X),
				fmt.Sprintf("%.1f", p.Y),
				fmt.Sprintf("%.1f", p.Width),
				fmt.Sprintf("%.1f", p.Height),
				rot,
			)
		}
		table.Render()
	}

	fmt.Fprintf(c.out, "\n  --- SUMMARY ---\n")
	fmt.Fprintf(c.out, "  Sheets used:   %d\n", res.StockUsedCount)
	fmt.Fprintf(c.out, "  Pieces placed: %d\n", res.Statistics.TotalPieces)
	fmt.Fprintf(c.out, "  Stock area:    %.1f\n", res.Statistics.TotalStockArea)
	fmt.Fprintf(c.out, "  Used area:     %.1f\n", res.Statistics.TotalUsedArea)
	fmt.Fprintf(c.out, "  Waste:         %.1f (%.1f%%)\n", res.TotalWasteArea, res.TotalWastePercentage)
	fmt.Fprintf(c.out, "  Efficiency:    %.1f%%\n", res.Statistics.Efficiency)

	if len(res.UnplacedPieces) > 0 {
		fmt.Fprintf(c.out, "\n  !! UNPLACED PIECES:\n")
		for _, up := range res.UnplacedPieces {
			fmt.Fprintf(c.out, "     %s × %d\n", up.ID, up.Quantity)
		}
	}
	fmt.Fprintln(c.out)
}

// dims formatea las dimensiones del stock (longitud a secas en 1D).
func dims(w, h float64) string {
	if h <= 0 {
		return fmt.Sprintf("%.0f", w)
	}
	return fmt.Sprintf("%.0f×%.0f", w, h)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
