// Package arbitrage finds the widest cross-mandi price gap per commodity.
package arbitrage

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"agri-price/internal/cache"
	"agri-price/internal/logger"
	"agri-price/internal/models"
	"agri-price/internal/realtime"
	"agri-price/internal/store"

	"github.com/google/uuid"
)

type coord struct{ lat, lon float64 }

// cities holds coordinates of the known mandi locations.
var cities = map[string]coord{
	"delhi":       {28.7041, 77.1025},
	"navi mumbai": {19.0330, 73.0297},
	"mumbai":      {19.0760, 72.8777},
	"chennai":     {13.0827, 80.2707},
	"hyderabad":   {17.3850, 78.4867},
	"bangalore":   {12.9716, 77.5946},
	"bengaluru":   {12.9716, 77.5946},
	"kolkata":     {22.5726, 88.3639},
	"pune":        {18.5204, 73.8567},
	"nashik":      {19.9975, 73.7898},
}

// DistanceKm is the great-circle distance between two known locations.
func DistanceKm(from, to string) (float64, bool) {
	a, ok1 := cities[strings.ToLower(strings.TrimSpace(from))]
	b, ok2 := cities[strings.ToLower(strings.TrimSpace(to))]
	if !ok1 || !ok2 {
		return 0, false
	}
	const r = 6371.0
	rad := math.Pi / 180
	dLat := (b.lat - a.lat) * rad
	dLon := (b.lon - a.lon) * rad
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(a.lat*rad)*math.Cos(b.lat*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * r * math.Asin(math.Sqrt(h)), true
}

type Service struct {
	store   *store.Store
	inv     cache.Invalidator
	log     *logger.Logger
	costKg  float64
	now     func() time.Time
	history int
}

// NewService prices transport at costKg rupees per kg per 1000 km, or a
// flat costKg per kg when the distance is unknown.
func NewService(st *store.Store, inv cache.Invalidator, costKg float64, log *logger.Logger) *Service {
	return &Service{
		store:   st,
		inv:     inv,
		log:     log.With("service", "ArbitrageService"),
		costKg:  costKg,
		now:     time.Now,
		history: store.PageSize,
	}
}

type quote struct {
	mandi    string
	location string
	price    float64
	at       time.Time
}

// Compute returns the cheapest-to-dearest mandi pair for every commodity
// with at least two mandis and a positive gap, most profitable first.
func (s *Service) Compute(points []models.PricePoint) []models.MandiArbitrage {
	latest := make(map[uuid.UUID]map[string]quote)
	for _, p := range points {
		if p.Price <= 0 {
			continue
		}
		byMandi, ok := latest[p.CommodityID]
		if !ok {
			byMandi = make(map[string]quote)
			latest[p.CommodityID] = byMandi
		}
		if q, ok := byMandi[p.MandiName]; ok && q.at.After(p.RecordedAt) {
			continue
		}
		loc := ""
		if p.MandiLocation != nil {
			loc = *p.MandiLocation
		}
		byMandi[p.MandiName] = quote{mandi: p.MandiName, location: loc, price: p.Price, at: p.RecordedAt}
	}

	now := s.now().UTC()
	var out []models.MandiArbitrage
	for commodityID, byMandi := range latest {
		if len(byMandi) < 2 {
			continue
		}
		quotes := make([]quote, 0, len(byMandi))
		for _, q := range byMandi {
			quotes = append(quotes, q)
		}
		sort.Slice(quotes, func(i, j int) bool {
			if quotes[i].price == quotes[j].price {
				return quotes[i].mandi < quotes[j].mandi
			}
			return quotes[i].price < quotes[j].price
		})
		lo, hi := quotes[0], quotes[len(quotes)-1]
		diff := round2(hi.price - lo.price)
		if diff <= 0 {
			continue
		}

		row := models.MandiArbitrage{
			CommodityID:      commodityID,
			SourceMandi:      lo.mandi,
			DestinationMandi: hi.mandi,
			SourcePrice:      lo.price,
			DestinationPrice: hi.price,
			PriceDifference:  diff,
			CalculatedAt:     now,
		}
		cost := s.costKg
		if km, ok := DistanceKm(lo.location, hi.location); ok {
			km = math.Round(km)
			row.DistanceKm = &km
			cost = s.costKg * km / 1000
		}
		cost = round2(cost)
		profit := round2(diff - cost)
		row.TransportCostEstimate = &cost
		row.ProfitPotential = &profit
		out = append(out, row)
	}

	sort.Slice(out, func(i, j int) bool { return *out[i].ProfitPotential > *out[j].ProfitPotential })
	return out
}

// Refresh recomputes from each commodity's recent history and stores the
// result.
func (s *Service) Refresh(ctx context.Context) ([]models.MandiArbitrage, error) {
	commodities, err := s.store.ListCommodities(ctx)
	if err != nil {
		return nil, err
	}
	var points []models.PricePoint
	for _, c := range commodities {
		h, err := s.store.PriceHistory(ctx, c.ID, s.history)
		if err != nil {
			return nil, err
		}
		points = append(points, h...)
	}
	return s.Save(ctx, s.Compute(points))
}

func (s *Service) Save(ctx context.Context, rows []models.MandiArbitrage) ([]models.MandiArbitrage, error) {
	if err := s.store.ReplaceArbitrage(ctx, rows); err != nil {
		return nil, err
	}
	if s.inv != nil {
		s.inv.Invalidate(cache.K(realtime.KeyArbitrage))
	}
	s.log.Info("Arbitrage refreshed", "opportunities", len(rows))
	return rows, nil
}

// AfterIngest is an ingestion hook.
func (s *Service) AfterIngest(ctx context.Context, _ []models.PricePoint) {
	if _, err := s.Refresh(ctx); err != nil {
		s.log.Error("Arbitrage refresh failed", "error", err)
	}
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
