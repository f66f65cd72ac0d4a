// Package market is the cached read/write facade over the store. Reads go
// through the process-wide query cache; writes invalidate what they touch.
package market

import (
	"context"

	"agri-price/internal/apierr"
	"agri-price/internal/cache"
	"agri-price/internal/models"
	"agri-price/internal/realtime"
	"agri-price/internal/store"

	"github.com/google/uuid"
)

type Service struct {
	store *store.Store
	cache *cache.QueryCache
}

func NewService(st *store.Store, qc *cache.QueryCache) *Service {
	return &Service{store: st, cache: qc}
}

func (s *Service) Store() *store.Store      { return s.store }
func (s *Service) Cache() *cache.QueryCache { return s.cache }

func idParam(id *uuid.UUID) []string {
	if id == nil {
		return nil
	}
	return []string{id.String()}
}

func (s *Service) Commodities(ctx context.Context) ([]models.Commodity, error) {
	return cache.Fetch(ctx, s.cache, cache.K(realtime.KeyCommodities), s.store.ListCommodities)
}

func (s *Service) Prices(ctx context.Context, commodityID *uuid.UUID) ([]models.PricePoint, error) {
	key := cache.K(realtime.KeyPriceData, idParam(commodityID)...)
	return cache.Fetch(ctx, s.cache, key, func(ctx context.Context) ([]models.PricePoint, error) {
		return s.store.ListPricePoints(ctx, commodityID)
	})
}

func (s *Service) LatestPrices(ctx context.Context) ([]store.LatestPrice, error) {
	return cache.Fetch(ctx, s.cache, cache.K(realtime.KeyLatestPrices), s.store.LatestPricesWithDelta)
}

func (s *Service) Predictions(ctx context.Context, commodityID *uuid.UUID) ([]models.Prediction, error) {
	key := cache.K(realtime.KeyPredictions, idParam(commodityID)...)
	return cache.Fetch(ctx, s.cache, key, func(ctx context.Context) ([]models.Prediction, error) {
		return s.store.ListPredictions(ctx, commodityID)
	})
}

func (s *Service) News(ctx context.Context) ([]models.MarketNews, error) {
	return cache.Fetch(ctx, s.cache, cache.K(realtime.KeyMarketNews), func(ctx context.Context) ([]models.MarketNews, error) {
		return s.store.ListNews(ctx, store.PageSize)
	})
}

// PublishNews relies on the change feed to invalidate market_news.
func (s *Service) PublishNews(ctx context.Context, n *models.MarketNews) error {
	return s.store.PublishNews(ctx, n)
}

func (s *Service) Arbitrage(ctx context.Context) ([]models.MandiArbitrage, error) {
	return cache.Fetch(ctx, s.cache, cache.K(realtime.KeyArbitrage), s.store.ListArbitrage)
}

func (s *Service) Listings(ctx context.Context, commodityID *uuid.UUID) ([]models.MarketplaceListing, error) {
	key := cache.K(realtime.KeyListings, idParam(commodityID)...)
	return cache.Fetch(ctx, s.cache, key, func(ctx context.Context) ([]models.MarketplaceListing, error) {
		return s.store.ListListings(ctx, commodityID)
	})
}

// CreateListing rejects anonymous callers before touching the store or
// the cache.
func (s *Service) CreateListing(ctx context.Context, sellerID uuid.UUID, l *models.MarketplaceListing) error {
	if sellerID == uuid.Nil {
		return apierr.Unauthorized("sign in to create a listing")
	}
	if err := s.store.CreateListing(ctx, sellerID, l); err != nil {
		return err
	}
	s.cache.Invalidate(cache.K(realtime.KeyListings))
	return nil
}

func (s *Service) SetListingAvailability(ctx context.Context, userID, listingID uuid.UUID, available bool) (*models.MarketplaceListing, error) {
	l, err := s.store.SetListingAvailability(ctx, userID, listingID, available)
	if err != nil {
		return nil, err
	}
	s.cache.Invalidate(cache.K(realtime.KeyListings))
	return l, nil
}

func (s *Service) Alerts(ctx context.Context, userID uuid.UUID) ([]models.PriceAlert, error) {
	if userID == uuid.Nil {
		return nil, apierr.Unauthorized("sign in to view price alerts")
	}
	key := cache.K(realtime.KeyAlerts, userID.String())
	return cache.Fetch(ctx, s.cache, key, func(ctx context.Context) ([]models.PriceAlert, error) {
		return s.store.ListAlerts(ctx, userID)
	})
}

func (s *Service) CreateAlert(ctx context.Context, userID uuid.UUID, a *models.PriceAlert) error {
	if err := s.store.CreateAlert(ctx, userID, a); err != nil {
		return err
	}
	s.cache.Invalidate(cache.K(realtime.KeyAlerts, userID.String()))
	return nil
}

func (s *Service) SetAlertActive(ctx context.Context, userID, alertID uuid.UUID, active bool) (*models.PriceAlert, error) {
	a, err := s.store.SetAlertActive(ctx, userID, alertID, active)
	if err != nil {
		return nil, err
	}
	s.cache.Invalidate(cache.K(realtime.KeyAlerts, userID.String()))
	return a, nil
}

func (s *Service) DeleteAlert(ctx context.Context, userID, alertID uuid.UUID) error {
	if err := s.store.DeleteAlert(ctx, userID, alertID); err != nil {
		return err
	}
	s.cache.Invalidate(cache.K(realtime.KeyAlerts, userID.String()))
	return nil
}
