package arbitrage

import (
	"context"
	"testing"
	"time"

	"agri-price/internal/cache"
	"agri-price/internal/database"
	"agri-price/internal/logger"
	"agri-price/internal/models"
	"agri-price/internal/realtime"
	"agri-price/internal/store"

	"github.com/google/uuid"
)

func str(s string) *string { return &s }

func TestDistanceKm(t *testing.T) {
	km, ok := DistanceKm("Delhi", "chennai")
	if !ok || km < 1700 || km > 1800 {
		t.Fatalf("delhi-chennai: %v %v", km, ok)
	}
	if _, ok := DistanceKm("Delhi", "Atlantis"); ok {
		t.Fatalf("unknown city should not resolve")
	}
}

func TestComputePicksWidestGap(t *testing.T) {
	s := NewService(nil, nil, 1.5, logger.Nop())
	t0 := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	tomato, onion, garlic := uuid.New(), uuid.New(), uuid.New()

	rows := s.Compute([]models.PricePoint{
		{CommodityID: tomato, MandiName: "Azadpur Mandi", MandiLocation: str("Delhi"), Price: 20, RecordedAt: t0},
		{CommodityID: tomato, MandiName: "Azadpur Mandi", MandiLocation: str("Delhi"), Price: 30, RecordedAt: t0.Add(-time.Hour)},
		{CommodityID: tomato, MandiName: "Koyambedu Market", MandiLocation: str("Chennai"), Price: 35, RecordedAt: t0},
		{CommodityID: tomato, MandiName: "Vashi Market", MandiLocation: str("Navi Mumbai"), Price: 28, RecordedAt: t0},
		{CommodityID: onion, MandiName: "X", Price: 30, RecordedAt: t0},
		{CommodityID: onion, MandiName: "Y", Price: 34, RecordedAt: t0},
		{CommodityID: garlic, MandiName: "X", Price: 90, RecordedAt: t0},
	})

	if len(rows) != 2 {
		t.Fatalf("rows: %d", len(rows))
	}
	var tom *models.MandiArbitrage
	for i := range rows {
		if rows[i].CommodityID == tomato {
			tom = &rows[i]
		}
	}
	if tom == nil {
		t.Fatalf("tomato missing")
	}
	if tom.SourceMandi != "Azadpur Mandi" || tom.DestinationMandi != "Koyambedu Market" || tom.PriceDifference != 15 {
		t.Fatalf("tomato pair: %+v", tom)
	}
	if tom.DistanceKm == nil || *tom.TransportCostEstimate <= 0 || *tom.ProfitPotential >= 15 {
		t.Fatalf("tomato costs: %+v", tom)
	}
	if *rows[0].ProfitPotential < *rows[1].ProfitPotential {
		t.Fatalf("rows should be sorted by profit")
	}
	for _, r := range rows {
		if r.CommodityID == onion && (*r.TransportCostEstimate != 1.5 || r.DistanceKm != nil) {
			t.Fatalf("unknown distance should use flat cost: %+v", r)
		}
	}
}

func TestRefreshStoresAndInvalidates(t *testing.T) {
	db, err := database.Initialize("sqlite::memory:")
	if err != nil {
		t.Fatalf("db: %v", err)
	}
	st := store.New(db, nil, logger.Nop())
	c := models.Commodity{Name: "Onion", Unit: "kg", Category: "vegetable"}
	db.Create(&c)
	t0 := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	st.InsertPricePoints(context.Background(), []models.PricePoint{
		{CommodityID: c.ID, MandiName: "A", Price: 20, RecordedAt: t0},
		{CommodityID: c.ID, MandiName: "B", Price: 26, RecordedAt: t0},
	})

	qc := cache.New()
	cache.Fetch(context.Background(), qc, cache.K(realtime.KeyArbitrage), st.ListArbitrage)

	s := NewService(st, qc, 1.5, logger.Nop())
	rows, err := s.Refresh(context.Background())
	if err != nil || len(rows) != 1 {
		t.Fatalf("refresh: %v %v", rows, err)
	}
	if !qc.Stale(cache.K(realtime.KeyArbitrage)) {
		t.Fatalf("arbitrage cache should be invalidated")
	}
	stored, _ := st.ListArbitrage(context.Background())
	if len(stored) != 1 || stored[0].Commodity == nil || *stored[0].ProfitPotential != 4.5 {
		t.Fatalf("stored: %+v", stored)
	}
}
