// Package alerts fires price alerts when new prices land.
package alerts

import (
	"context"
	"time"

	"agri-price/internal/cache"
	"agri-price/internal/logger"
	"agri-price/internal/models"
	"agri-price/internal/realtime"
	"agri-price/internal/store"

	"github.com/google/uuid"
)

// Fired describes one alert that crossed its threshold.
type Fired struct {
	Alert models.PriceAlert
	Price float64
	At    time.Time
}

type Evaluator struct {
	store *store.Store
	inv   cache.Invalidator
	log   *logger.Logger
	now   func() time.Time

	notify func(Fired)
}

func NewEvaluator(st *store.Store, inv cache.Invalidator, log *logger.Logger) *Evaluator {
	return &Evaluator{store: st, inv: inv, log: log.With("service", "AlertEvaluator"), now: time.Now}
}

// OnFire sets a callback for every alert that fires.
func (e *Evaluator) OnFire(fn func(Fired)) { e.notify = fn }

// Evaluate checks pending alerts of one commodity, or of every commodity
// when commodityID is nil.
func (e *Evaluator) Evaluate(ctx context.Context, commodityID *uuid.UUID) ([]Fired, error) {
	pending, err := e.store.PendingAlerts(ctx, commodityID)
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		return nil, nil
	}
	return e.fire(ctx, pending)
}

// fire stamps the crossed alerts of pending and reports only the ones this
// call stamped, so overlapping evaluations never notify twice.
func (e *Evaluator) fire(ctx context.Context, pending []models.PriceAlert) ([]Fired, error) {
	prices := make(map[uuid.UUID]*models.PricePoint)
	crossed := make(map[uuid.UUID]Fired)
	var ids []uuid.UUID
	at := e.now().UTC()
	for _, a := range pending {
		p, seen := prices[a.CommodityID]
		if !seen {
			var err error
			p, err = e.store.LatestPrice(ctx, a.CommodityID)
			if err != nil {
				return nil, err
			}
			prices[a.CommodityID] = p
		}
		if p == nil || !a.Crossed(p.Price) {
			continue
		}
		crossed[a.ID] = Fired{Alert: a, Price: p.Price, At: at}
		ids = append(ids, a.ID)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	stamped, err := e.store.MarkTriggered(ctx, ids, at)
	if len(stamped) > 0 && e.inv != nil {
		e.inv.Invalidate(cache.K(realtime.KeyAlerts))
	}
	var fired []Fired
	for _, id := range stamped {
		f := crossed[id]
		f.Alert.TriggeredAt = &at
		fired = append(fired, f)
		e.log.Info("Price alert fired",
			"alert_id", f.Alert.ID, "user_id", f.Alert.UserID, "type", f.Alert.AlertType,
			"threshold", f.Alert.ThresholdPrice, "price", f.Price)
		if e.notify != nil {
			e.notify(f)
		}
	}
	return fired, err
}

// HandleChange is a price_data change callback. It runs the evaluation
// off the feed's delivery goroutine.
func (e *Evaluator) HandleChange(ctx context.Context) func(realtime.ChangeEvent, time.Time) {
	return func(ev realtime.ChangeEvent, _ time.Time) {
		if ev.Table != realtime.TablePriceData {
			return
		}
		var scope *uuid.UUID
		if id, err := uuid.Parse(ev.CommodityID); err == nil {
			scope = &id
		}
		go func() {
			if _, err := e.Evaluate(ctx, scope); err != nil && ctx.Err() == nil {
				e.log.Error("Alert evaluation failed", "error", err)
			}
		}()
	}
}
