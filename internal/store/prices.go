package store

import (
	"context"
	"fmt"
	"time"

	"agri-price/internal/models"
	"agri-price/internal/realtime"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// InsertPricePoints appends points and announces one change per commodity.
func (s *Store) InsertPricePoints(ctx context.Context, points []models.PricePoint) (int, error) {
	if len(points) == 0 {
		return 0, nil
	}
	for i := range points {
		if points[i].CommodityID == uuid.Nil {
			return 0, fmt.Errorf("price point %d has no commodity", i)
		}
		points[i].RecordedAt = points[i].RecordedAt.UTC()
	}
	if err := s.db.WithContext(ctx).CreateInBatches(&points, 100).Error; err != nil {
		return 0, fmt.Errorf("failed to insert prices: %w", err)
	}

	counts := make(map[uuid.UUID]int)
	order := make([]uuid.UUID, 0)
	for _, p := range points {
		if counts[p.CommodityID] == 0 {
			order = append(order, p.CommodityID)
		}
		counts[p.CommodityID]++
	}
	now := time.Now().UTC()
	for _, id := range order {
		s.publish(ctx, realtime.ChangeEvent{
			Table:       realtime.TablePriceData,
			Type:        realtime.EventInsert,
			CommodityID: id.String(),
			Count:       counts[id],
			CommitTime:  now,
		})
	}
	return len(points), nil
}

// ReplacePredictions swaps a commodity's whole forecast inside one
// transaction so readers see either the old set or the new one.
func (s *Store) ReplacePredictions(ctx context.Context, commodityID uuid.UUID, preds []models.Prediction) error {
	for i := range preds {
		preds[i].CommodityID = commodityID
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("commodity_id = ?", commodityID).Delete(&models.Prediction{}).Error; err != nil {
			return err
		}
		if len(preds) == 0 {
			return nil
		}
		return tx.Create(&preds).Error
	})
	if err != nil {
		return fmt.Errorf("failed to replace predictions: %w", err)
	}
	s.publish(ctx, realtime.ChangeEvent{
		Table:       realtime.TablePredictions,
		Type:        realtime.EventInsert,
		CommodityID: commodityID.String(),
		Count:       len(preds),
	})
	return nil
}

// ReplaceArbitrage stores a fresh set of opportunities.
func (s *Store) ReplaceArbitrage(ctx context.Context, rows []models.MandiArbitrage) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.MandiArbitrage{}).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.Create(&rows).Error
	})
	if err != nil {
		return fmt.Errorf("failed to replace arbitrage: %w", err)
	}
	return nil
}

func (s *Store) ListArbitrage(ctx context.Context) ([]models.MandiArbitrage, error) {
	var out []models.MandiArbitrage
	err := s.db.WithContext(ctx).
		Preload("Commodity").
		Order("profit_potential desc").
		Limit(PageSize).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load arbitrage: %w", err)
	}
	return out, nil
}
