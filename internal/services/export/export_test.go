package export

import (
	"bytes"
	"context"
	"testing"
	"time"

	"agri-price/internal/apierr"
	"agri-price/internal/database"
	"agri-price/internal/logger"
	"agri-price/internal/models"
	"agri-price/internal/store"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
)

func TestFilename(t *testing.T) {
	if got := Filename("Green Chilli"); got != "green_chilli_prices.xlsx" {
		t.Fatalf("filename: %s", got)
	}
}

func TestWriteWorkbook(t *testing.T) {
	db, err := database.Initialize("sqlite::memory:")
	if err != nil {
		t.Fatalf("db: %v", err)
	}
	st := store.New(db, nil, logger.Nop())
	ctx := context.Background()
	c := models.Commodity{Name: "Tomato", Unit: "kg", Category: "vegetable"}
	db.Create(&c)
	t0 := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	st.InsertPricePoints(ctx, []models.PricePoint{
		{CommodityID: c.ID, Price: 42, MandiName: "Azadpur Mandi", RecordedAt: t0},
		{CommodityID: c.ID, Price: 45.5, MandiName: "Azadpur Mandi", RecordedAt: t0.Add(time.Hour)},
	})
	st.ReplacePredictions(ctx, c.ID, []models.Prediction{{PredictedPrice: 47, PredictionDate: t0.AddDate(0, 0, 1)}})

	var buf bytes.Buffer
	name, err := New(st).Write(ctx, c.ID, &buf)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if name != "tomato_prices.xlsx" {
		t.Fatalf("name: %s", name)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	rows, err := f.GetRows("Prices")
	if err != nil {
		t.Fatalf("rows: %v", err)
	}
	if len(rows) != 3 || rows[0][0] != "Recorded At" || rows[1][4] != "42" || rows[2][4] != "45.5" {
		t.Fatalf("prices sheet: %v", rows)
	}
	preds, _ := f.GetRows("Predictions")
	if len(preds) != 2 || preds[1][0] != "2026-03-02" {
		t.Fatalf("predictions sheet: %v", preds)
	}
}

func TestWorkbookUnknownCommodity(t *testing.T) {
	db, err := database.Initialize("sqlite::memory:")
	if err != nil {
		t.Fatalf("db: %v", err)
	}
	_, _, err = New(store.New(db, nil, logger.Nop())).Workbook(context.Background(), uuid.New())
	if !apierr.Is(err, apierr.CodeNotFound) {
		t.Fatalf("expected not_found, got %v", err)
	}
}
