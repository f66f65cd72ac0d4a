// Package export renders price history as an xlsx workbook.
package export

import (
	"context"
	"fmt"
	"io"
	"strings"

	"agri-price/internal/apierr"
	"agri-price/internal/store"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
)

const (
	ContentType   = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	pricesSheet   = "Prices"
	forecastSheet = "Predictions"
	historySize   = 500
)

var (
	priceHeader    = []interface{}{"Recorded At", "Mandi", "Location", "State", "Price (₹/kg)", "Source"}
	forecastHeader = []interface{}{"Date", "Predicted Price (₹/kg)", "Confidence", "Model", "Horizon"}
)

type Exporter struct {
	store *store.Store
}

func New(st *store.Store) *Exporter {
	return &Exporter{store: st}
}

// Filename is the suggested download name for a commodity workbook.
func Filename(commodity string) string {
	name := strings.ToLower(strings.Join(strings.Fields(commodity), "_"))
	return fmt.Sprintf("%s_prices.xlsx", name)
}

// Workbook builds a two-sheet workbook with the commodity's price history
// (oldest first) and its current forecast. The caller closes the file.
func (e *Exporter) Workbook(ctx context.Context, commodityID uuid.UUID) (*excelize.File, string, error) {
	c, err := e.store.GetCommodity(ctx, commodityID)
	if err != nil {
		return nil, "", err
	}
	if c == nil {
		return nil, "", apierr.NotFound("commodity not found")
	}
	history, err := e.store.PriceHistory(ctx, commodityID, historySize)
	if err != nil {
		return nil, "", err
	}
	preds, err := e.store.ListPredictions(ctx, &commodityID)
	if err != nil {
		return nil, "", err
	}

	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", pricesSheet); err != nil {
		f.Close()
		return nil, "", err
	}
	if _, err := f.NewSheet(forecastSheet); err != nil {
		f.Close()
		return nil, "", err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		f.Close()
		return nil, "", err
	}

	rows := [][]interface{}{priceHeader}
	for _, p := range history {
		rows = append(rows, []interface{}{
			p.RecordedAt.UTC().Format("2006-01-02 15:04"),
			p.MandiName,
			deref(p.MandiLocation),
			deref(p.State),
			p.Price,
			deref(p.Source),
		})
	}
	if err := writeSheet(f, pricesSheet, rows, bold); err != nil {
		f.Close()
		return nil, "", err
	}

	rows = [][]interface{}{forecastHeader}
	for _, p := range preds {
		var conf interface{} = ""
		if p.ConfidenceScore != nil {
			conf = *p.ConfidenceScore
		}
		rows = append(rows, []interface{}{
			p.PredictionDate.Format("2006-01-02"),
			p.PredictedPrice,
			conf,
			deref(p.ModelVersion),
			deref(p.PredictionHorizon),
		})
	}
	if err := writeSheet(f, forecastSheet, rows, bold); err != nil {
		f.Close()
		return nil, "", err
	}
	return f, Filename(c.Name), nil
}

// Write streams the commodity workbook to w.
func (e *Exporter) Write(ctx context.Context, commodityID uuid.UUID, w io.Writer) (string, error) {
	f, name, err := e.Workbook(ctx, commodityID)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if err := f.Write(w); err != nil {
		return "", fmt.Errorf("failed to write workbook: %w", err)
	}
	return name, nil
}

func writeSheet(f *excelize.File, sheet string, rows [][]interface{}, headerStyle int) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		r := row
		if err := f.SetSheetRow(sheet, cell, &r); err != nil {
			return err
		}
	}
	last, err := excelize.ColumnNumberToName(len(rows[0]))
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", last+"1", headerStyle); err != nil {
		return err
	}
	return f.SetColWidth(sheet, "A", last, 20)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
