package store

import (
	"context"
	"fmt"
	"time"

	"agri-price/internal/apierr"
	"agri-price/internal/models"

	"github.com/google/uuid"
)

func (s *Store) CreateAlert(ctx context.Context, userID uuid.UUID, a *models.PriceAlert) error {
	if userID == uuid.Nil {
		return apierr.Unauthorized("sign in to create price alerts")
	}
	if a.AlertType != models.AlertAbove && a.AlertType != models.AlertBelow {
		return apierr.Invalid("alert_type must be above or below")
	}
	if a.ThresholdPrice <= 0 {
		return apierr.Invalid("threshold_price must be positive")
	}
	c, err := s.GetCommodity(ctx, a.CommodityID)
	if err != nil {
		return err
	}
	if c == nil {
		return apierr.NotFound("commodity not found")
	}

	a.ID = uuid.Nil
	a.UserID = userID
	a.IsActive = true
	a.TriggeredAt = nil
	if err := s.db.WithContext(ctx).Create(a).Error; err != nil {
		return fmt.Errorf("failed to create alert: %w", err)
	}
	a.Commodity = c
	return nil
}

func (s *Store) ListAlerts(ctx context.Context, userID uuid.UUID) ([]models.PriceAlert, error) {
	if userID == uuid.Nil {
		return nil, apierr.Unauthorized("sign in to view price alerts")
	}
	var out []models.PriceAlert
	err := s.db.WithContext(ctx).
		Preload("Commodity").
		Where("user_id = ?", userID).
		Order("created_at desc").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load alerts: %w", err)
	}
	return out, nil
}

func (s *Store) ownAlert(ctx context.Context, userID, alertID uuid.UUID) (*models.PriceAlert, error) {
	if userID == uuid.Nil {
		return nil, apierr.Unauthorized("sign in to manage price alerts")
	}
	var a models.PriceAlert
	if err := s.db.WithContext(ctx).Where("id = ?", alertID).Limit(1).Find(&a).Error; err != nil {
		return nil, fmt.Errorf("failed to load alert: %w", err)
	}
	if a.ID == uuid.Nil {
		return nil, apierr.NotFound("alert not found")
	}
	if a.UserID != userID {
		return nil, apierr.Forbidden("alert belongs to another user")
	}
	return &a, nil
}

// SetAlertActive toggles an alert. Re-activating clears triggered_at so the
// alert can fire again.
func (s *Store) SetAlertActive(ctx context.Context, userID, alertID uuid.UUID, active bool) (*models.PriceAlert, error) {
	a, err := s.ownAlert(ctx, userID, alertID)
	if err != nil {
		return nil, err
	}
	updates := map[string]interface{}{"is_active": active}
	if active {
		updates["triggered_at"] = nil
	}
	if err := s.db.WithContext(ctx).Model(a).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("failed to update alert: %w", err)
	}
	a.IsActive = active
	if active {
		a.TriggeredAt = nil
	}
	return a, nil
}

func (s *Store) DeleteAlert(ctx context.Context, userID, alertID uuid.UUID) error {
	a, err := s.ownAlert(ctx, userID, alertID)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Delete(a).Error; err != nil {
		return fmt.Errorf("failed to delete alert: %w", err)
	}
	return nil
}

// PendingAlerts lists active alerts that have not fired yet. A nil
// commodityID covers every commodity.
func (s *Store) PendingAlerts(ctx context.Context, commodityID *uuid.UUID) ([]models.PriceAlert, error) {
	q := s.db.WithContext(ctx).Where("is_active = ? AND triggered_at IS NULL", true)
	if commodityID != nil {
		q = q.Where("commodity_id = ?", *commodityID)
	}
	var out []models.PriceAlert
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to load pending alerts: %w", err)
	}
	return out, nil
}

// MarkTriggered stamps triggered_at on alerts that have not fired yet and
// returns the ids this call stamped. An alert already claimed by a
// concurrent evaluation is left out.
func (s *Store) MarkTriggered(ctx context.Context, ids []uuid.UUID, at time.Time) ([]uuid.UUID, error) {
	var stamped []uuid.UUID
	for _, id := range ids {
		res := s.db.WithContext(ctx).
			Model(&models.PriceAlert{}).
			Where("id = ? AND triggered_at IS NULL", id).
			Update("triggered_at", at.UTC())
		if res.Error != nil {
			return stamped, fmt.Errorf("failed to mark alerts: %w", res.Error)
		}
		if res.RowsAffected == 1 {
			stamped = append(stamped, id)
		}
	}
	return stamped, nil
}

// LatestPrice returns the newest point of a commodity, or nil.
func (s *Store) LatestPrice(ctx context.Context, commodityID uuid.UUID) (*models.PricePoint, error) {
	var p models.PricePoint
	err := s.db.WithContext(ctx).
		Where("commodity_id = ?", commodityID).
		Order("recorded_at desc").
		Limit(1).
		Find(&p).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load latest price: %w", err)
	}
	if p.ID == uuid.Nil {
		return nil, nil
	}
	return &p, nil
}
