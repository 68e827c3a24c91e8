package losslog

import (
	"fmt"
	"io"
	"sort"

	"perishable-ledger/core/registry"

	"github.com/xuri/excelize/v2"
)

const (
	// SheetLosses holds one row per loss entry.
	SheetLosses = "Losses"
	// SheetSummary holds per-commodity totals.
	SheetSummary = "Summary"
	// ContentType is the MIME type of the workbook.
	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var lossHeader = []any{"Date", "Commodity", "Amount", "Value", "Location", "Object", "Entity Type", "Farm"}

// CommodityTotal is one Summary row.
type CommodityTotal struct {
	Commodity string
	Entries   int
	Amount    float64
	Value     float64
}

// Summarize totals entries per commodity, largest value first.
func Summarize(entries []registry.LossEntry) []CommodityTotal {
	byName := make(map[string]*CommodityTotal)
	for _, e := range entries {
		t, ok := byName[e.CommodityName]
		if !ok {
			t = &CommodityTotal{Commodity: e.CommodityName}
			byName[e.CommodityName] = t
		}
		t.Entries++
		t.Amount += e.Amount
		t.Value += e.Value
	}
	out := make([]CommodityTotal, 0, len(byName))
	for _, t := range byName {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Value != out[j].Value {
			return out[i].Value > out[j].Value
		}
		return out[i].Commodity < out[j].Commodity
	})
	return out
}

// FormatDate renders a game time the way the loss log shows it.
func FormatDate(t registry.GameTime) string {
	return fmt.Sprintf("Y%d P%02d D%02d %02d:00", t.Year, t.Period, t.DayInPeriod, t.Hour)
}

// Write renders entries as an xlsx workbook.
func Write(w io.Writer, entries []registry.LossEntry) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetLosses); err != nil {
		return err
	}
	if _, err := f.NewSheet(SheetSummary); err != nil {
		return err
	}
	header, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
	})
	if err != nil {
		return err
	}

	if err := writeRows(f, SheetLosses, header, lossHeader, lossRows(entries)); err != nil {
		return err
	}
	if err := writeRows(f, SheetSummary, header,
		[]any{"Commodity", "Entries", "Amount", "Value"}, summaryRows(Summarize(entries))); err != nil {
		return err
	}
	if err := f.SetColWidth(SheetLosses, "A", "H", 16); err != nil {
		return err
	}
	if err := f.SetColWidth(SheetSummary, "A", "D", 16); err != nil {
		return err
	}
	if err := f.SetPanes(SheetLosses, &excelize.Panes{
		Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft",
	}); err != nil {
		return err
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func lossRows(entries []registry.LossEntry) [][]any {
	rows := make([][]any, len(entries))
	for i, e := range entries {
		rows[i] = []any{
			FormatDate(e.When), e.CommodityName, e.Amount, e.Value,
			e.Location, e.ObjectUniqueID, e.EntityType, int(e.FarmID),
		}
	}
	return rows
}

func summaryRows(totals []CommodityTotal) [][]any {
	rows := make([][]any, 0, len(totals)+1)
	var amount, value float64
	entries := 0
	for _, t := range totals {
		rows = append(rows, []any{t.Commodity, t.Entries, t.Amount, t.Value})
		amount += t.Amount
		value += t.Value
		entries += t.Entries
	}
	return append(rows, []any{"Total", entries, amount, value})
}

func writeRows(f *excelize.File, sheet string, style int, header []any, rows [][]any) error {
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(len(header), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", last, style); err != nil {
		return err
	}
	for i := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &rows[i]); err != nil {
			return err
		}
	}
	return nil
}
