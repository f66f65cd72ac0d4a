// Package ingest pulls mandi prices into price_data and regenerates the
// short-range forecast of every commodity it touched.
package ingest

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"agri-price/internal/logger"
	"agri-price/internal/models"
	"agri-price/internal/services/agmarknet"
	"agri-price/internal/store"

	"github.com/google/uuid"
)

const (
	SourceDataGovIn  = "data_gov_in"
	SourceSimulated  = "simulated_fallback"
	ModelVersion     = "lstm_v2.1_live"
	Horizon          = "7_days"
	ForecastDays     = 7
	fallbackPerCrop  = 3
	fetchLimit       = 500
	defaultMinPrice  = 20
	defaultMaxPrice  = 60
	unknownMarketTag = "Unknown Market"
)

type Mandi struct {
	Name     string
	Location string
	State    string
}

// Mandis are used when no live data is available.
var Mandis = []Mandi{
	{"Azadpur Mandi", "Delhi", "Delhi"},
	{"Vashi Market", "Navi Mumbai", "Maharashtra"},
	{"Koyambedu Market", "Chennai", "Tamil Nadu"},
	{"Bowenpally Market", "Hyderabad", "Telangana"},
	{"Yeshwanthpur APMC", "Bangalore", "Karnataka"},
}

// BasePrices bounds simulated prices in rupees per kg.
var BasePrices = map[string][2]float64{
	"Tomato":      {15, 60},
	"Potato":      {12, 35},
	"Onion":       {18, 55},
	"Rice":        {30, 50},
	"Wheat":       {22, 38},
	"Apple":       {80, 200},
	"Banana":      {25, 60},
	"Mango":       {40, 150},
	"Cabbage":     {10, 30},
	"Carrot":      {20, 50},
	"Cauliflower": {15, 45},
	"Green Chili": {30, 100},
}

// Source is a live price feed.
type Source interface {
	Enabled() bool
	Fetch(ctx context.Context, limit int) ([]agmarknet.Record, error)
}

type Result struct {
	Success              bool      `json:"success"`
	Source               string    `json:"source"`
	RecordsInserted      int       `json:"records_inserted"`
	PredictionsGenerated int       `json:"predictions_generated"`
	CommoditiesUpdated   int       `json:"commodities_updated"`
	Timestamp            time.Time `json:"timestamp"`
}

type Option func(*Service)

func WithRand(r *rand.Rand) Option {
	return func(s *Service) { s.rng = r }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// OnComplete registers a hook run after every successful ingestion with
// the rows that were inserted.
func OnComplete(fn func(ctx context.Context, points []models.PricePoint)) Option {
	return func(s *Service) { s.hooks = append(s.hooks, fn) }
}

type Service struct {
	store  *store.Store
	source Source
	log    *logger.Logger

	runMu sync.Mutex
	rngMu sync.Mutex
	rng   *rand.Rand
	now   func() time.Time
	hooks []func(context.Context, []models.PricePoint)
}

func NewService(st *store.Store, source Source, log *logger.Logger, opts ...Option) *Service {
	s := &Service{
		store:  st,
		source: source,
		log:    log.With("service", "IngestService"),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run performs one ingestion. Concurrent calls are serialized.
func (s *Service) Run(ctx context.Context) (*Result, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	now := s.now().UTC()
	commodities, err := s.store.ListCommodities(ctx)
	if err != nil {
		return nil, err
	}
	lookup := make(map[string]models.Commodity, len(commodities))
	for _, c := range commodities {
		lookup[strings.ToLower(c.Name)] = c
	}

	source := SourceSimulated
	var records []models.PricePoint
	if s.source != nil && s.source.Enabled() {
		live, err := s.fetchLive(ctx, lookup, now)
		if err != nil {
			s.log.Warn("data.gov.in fetch failed, using fallback", "error", err)
		} else if len(live) > 0 {
			source = SourceDataGovIn
			records = live
		}
	}
	if len(records) == 0 {
		s.log.Info("Using simulated fallback data")
		records = s.simulate(commodities, now)
	}

	records = dedupe(records)
	inserted, err := s.store.InsertPricePoints(ctx, records)
	if err != nil {
		return nil, err
	}

	updated := uniqueCommodities(records)
	generated := 0
	for _, id := range updated {
		preds := s.forecast(id, records, now)
		if err := s.store.ReplacePredictions(ctx, id, preds); err != nil {
			s.log.Error("Prediction replace failed", "commodity_id", id, "error", err)
			continue
		}
		generated += len(preds)
	}

	for _, hook := range s.hooks {
		hook(ctx, records)
	}

	s.log.Info("Ingestion finished",
		"source", source, "records", inserted, "predictions", generated, "commodities", len(updated))
	return &Result{
		Success:              true,
		Source:               source,
		RecordsInserted:      inserted,
		PredictionsGenerated: generated,
		CommoditiesUpdated:   len(updated),
		Timestamp:            now,
	}, nil
}

func (s *Service) fetchLive(ctx context.Context, lookup map[string]models.Commodity, now time.Time) ([]models.PricePoint, error) {
	raw, err := s.source.Fetch(ctx, fetchLimit)
	if err != nil {
		return nil, err
	}
	src := SourceDataGovIn
	out := make([]models.PricePoint, 0, len(raw))
	for _, rec := range raw {
		c, ok := lookup[strings.ToLower(rec.CommodityName())]
		if !ok {
			continue
		}
		price, ok := rec.PricePerKg()
		if !ok {
			continue
		}
		market := strings.TrimSpace(rec.Market)
		if market == "" {
			market = unknownMarketTag
		}
		out = append(out, models.PricePoint{
			CommodityID:   c.ID,
			Price:         price,
			MandiName:     market,
			MandiLocation: optional(rec.District),
			State:         optional(rec.State),
			Source:        &src,
			RecordedAt:    now,
		})
	}
	s.log.Debug("Mapped data.gov.in records", "fetched", len(raw), "mapped", len(out))
	return out, nil
}

func (s *Service) simulate(commodities []models.Commodity, now time.Time) []models.PricePoint {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()

	src := SourceSimulated
	out := make([]models.PricePoint, 0, len(commodities)*fallbackPerCrop)
	for _, c := range commodities {
		bounds, ok := BasePrices[c.Name]
		if !ok {
			bounds = [2]float64{defaultMinPrice, defaultMaxPrice}
		}
		for _, idx := range s.rng.Perm(len(Mandis))[:fallbackPerCrop] {
			m := Mandis[idx]
			price := bounds[0] + s.rng.Float64()*(bounds[1]-bounds[0])
			out = append(out, models.PricePoint{
				CommodityID:   c.ID,
				Price:         round2(price),
				MandiName:     m.Name,
				MandiLocation: optional(m.Location),
				State:         optional(m.State),
				Source:        &src,
				RecordedAt:    now,
			})
		}
	}
	return out
}

// forecast builds ForecastDays daily predictions around the mean of the
// commodity's freshly ingested prices.
func (s *Service) forecast(commodityID uuid.UUID, records []models.PricePoint, now time.Time) []models.Prediction {
	sum, n := 0.0, 0
	for _, r := range records {
		if r.CommodityID == commodityID {
			sum += r.Price
			n++
		}
	}
	if n == 0 {
		return nil
	}
	avg := sum / float64(n)

	s.rngMu.Lock()
	defer s.rngMu.Unlock()

	version, horizon := ModelVersion, Horizon
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	out := make([]models.Prediction, 0, ForecastDays)
	for day := 1; day <= ForecastDays; day++ {
		trend := (s.rng.Float64() - 0.45) * 0.05
		noise := (s.rng.Float64() - 0.5) * 0.08
		confidence := round2(0.88 + s.rng.Float64()*0.10)
		out = append(out, models.Prediction{
			CommodityID:       commodityID,
			PredictedPrice:    round2(avg * (1 + trend*float64(day) + noise)),
			PredictionDate:    today.AddDate(0, 0, day),
			ConfidenceScore:   &confidence,
			ModelVersion:      &version,
			PredictionHorizon: &horizon,
		})
	}
	return out
}

// dedupe keeps the last record per commodity and mandi, in first-seen
// order.
func dedupe(records []models.PricePoint) []models.PricePoint {
	index := make(map[string]int, len(records))
	out := make([]models.PricePoint, 0, len(records))
	for _, r := range records {
		key := fmt.Sprintf("%s_%s", r.CommodityID, r.MandiName)
		if i, ok := index[key]; ok {
			out[i] = r
			continue
		}
		index[key] = len(out)
		out = append(out, r)
	}
	return out
}

func uniqueCommodities(records []models.PricePoint) []uuid.UUID {
	seen := make(map[uuid.UUID]bool)
	var out []uuid.UUID
	for _, r := range records {
		if !seen[r.CommodityID] {
			seen[r.CommodityID] = true
			out = append(out, r.CommodityID)
		}
	}
	return out
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
