package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"agri-price/internal/logger"
	"agri-price/internal/models"
	"agri-price/internal/realtime"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// PageSize caps every price and news listing.
const PageSize = 100

const latestFanout = 8

// Store is the typed data access layer. Writes to watched tables publish a
// change event once their transaction commits.
type Store struct {
	db  *gorm.DB
	pub realtime.Publisher
	log *logger.Logger
}

func New(db *gorm.DB, pub realtime.Publisher, log *logger.Logger) *Store {
	if pub == nil {
		pub = realtime.NopPublisher{}
	}
	return &Store{db: db, pub: pub, log: log.With("component", "Store")}
}

// DB exposes the handle for health checks.
func (s *Store) DB() *gorm.DB { return s.db }

// LatestPrice is a commodity with its two most recent observations folded
// into a price change.
type LatestPrice struct {
	Commodity     models.Commodity `json:"commodity"`
	CurrentPrice  float64          `json:"currentPrice"`
	PreviousPrice float64          `json:"previousPrice"`
	Change        float64          `json:"change"`
	ChangePercent float64          `json:"changePercent"`
	Market        string           `json:"market"`
	RecordedAt    *time.Time       `json:"recordedAt"`
}

func (s *Store) ListCommodities(ctx context.Context) ([]models.Commodity, error) {
	var out []models.Commodity
	if err := s.db.WithContext(ctx).Order("name asc").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to load commodities: %w", err)
	}
	return out, nil
}

func (s *Store) GetCommodity(ctx context.Context, id uuid.UUID) (*models.Commodity, error) {
	var c models.Commodity
	err := s.db.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&c).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load commodity: %w", err)
	}
	if c.ID == uuid.Nil {
		return nil, nil
	}
	return &c, nil
}

// ListPricePoints returns the newest points first. A nil commodityID lists
// every commodity.
func (s *Store) ListPricePoints(ctx context.Context, commodityID *uuid.UUID) ([]models.PricePoint, error) {
	q := s.db.WithContext(ctx).Preload("Commodity").Order("recorded_at desc").Limit(PageSize)
	if commodityID != nil {
		q = q.Where("commodity_id = ?", *commodityID)
	}
	var out []models.PricePoint
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to load prices: %w", err)
	}
	return out, nil
}

// PriceHistory returns up to limit of a commodity's most recent points,
// oldest first.
func (s *Store) PriceHistory(ctx context.Context, commodityID uuid.UUID, limit int) ([]models.PricePoint, error) {
	if limit <= 0 || limit > PageSize {
		limit = PageSize
	}
	var out []models.PricePoint
	err := s.db.WithContext(ctx).
		Where("commodity_id = ?", commodityID).
		Order("recorded_at desc").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load price history: %w", err)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *Store) ListPredictions(ctx context.Context, commodityID *uuid.UUID) ([]models.Prediction, error) {
	q := s.db.WithContext(ctx).Preload("Commodity").Order("prediction_date asc")
	if commodityID != nil {
		q = q.Where("commodity_id = ?", *commodityID)
	}
	var out []models.Prediction
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to load predictions: %w", err)
	}
	return out, nil
}

// LatestPricesWithDelta reports every commodity, including ones without any
// observation, ordered by commodity name.
func (s *Store) LatestPricesWithDelta(ctx context.Context) ([]LatestPrice, error) {
	commodities, err := s.ListCommodities(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]LatestPrice, len(commodities))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(latestFanout)
	for i := range commodities {
		i := i
		g.Go(func() error {
			var points []models.PricePoint
			err := s.db.WithContext(gctx).
				Where("commodity_id = ?", commodities[i].ID).
				Order("recorded_at desc").
				Limit(2).
				Find(&points).Error
			if err != nil {
				return fmt.Errorf("failed to load prices for %s: %w", commodities[i].Name, err)
			}
			out[i] = foldLatest(commodities[i], points)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Commodity.Name < out[b].Commodity.Name })
	return out, nil
}

// foldLatest expects points newest first.
func foldLatest(c models.Commodity, points []models.PricePoint) LatestPrice {
	lp := LatestPrice{Commodity: c, Market: "N/A"}
	if len(points) == 0 {
		return lp
	}
	lp.CurrentPrice = points[0].Price
	lp.PreviousPrice = lp.CurrentPrice
	lp.Market = points[0].MandiName
	at := points[0].RecordedAt
	lp.RecordedAt = &at
	if len(points) > 1 {
		lp.PreviousPrice = points[1].Price
	}
	lp.Change = lp.CurrentPrice - lp.PreviousPrice
	if lp.PreviousPrice > 0 {
		lp.ChangePercent = lp.Change / lp.PreviousPrice * 100
	}
	return lp
}

func (s *Store) publish(ctx context.Context, ev realtime.ChangeEvent) {
	if ev.CommitTime.IsZero() {
		ev.CommitTime = time.Now().UTC()
	}
	if err := s.pub.Publish(ctx, ev); err != nil {
		s.log.Warn("Failed to publish change event", "table", ev.Table, "error", err)
	}
}
