package store

import (
	"context"
	"fmt"
	"strings"

	"agri-price/internal/apierr"
	"agri-price/internal/models"

	"github.com/google/uuid"
)

// CreateListing stores a new available listing owned by sellerID.
func (s *Store) CreateListing(ctx context.Context, sellerID uuid.UUID, l *models.MarketplaceListing) error {
	if sellerID == uuid.Nil {
		return apierr.Unauthorized("sign in to create a listing")
	}
	if l.CommodityID == uuid.Nil {
		return apierr.Invalid("commodity_id is required")
	}
	if l.Quantity <= 0 || l.PricePerUnit <= 0 {
		return apierr.Invalid("quantity and price_per_unit must be positive")
	}
	l.Location = strings.TrimSpace(l.Location)
	if l.Location == "" {
		return apierr.Invalid("location is required")
	}
	c, err := s.GetCommodity(ctx, l.CommodityID)
	if err != nil {
		return err
	}
	if c == nil {
		return apierr.NotFound("commodity not found")
	}

	l.ID = uuid.Nil
	l.SellerID = sellerID
	l.IsAvailable = true
	if err := s.db.WithContext(ctx).Create(l).Error; err != nil {
		return fmt.Errorf("failed to create listing: %w", err)
	}
	l.Commodity = c
	return nil
}

// ListListings returns available listings, newest first.
func (s *Store) ListListings(ctx context.Context, commodityID *uuid.UUID) ([]models.MarketplaceListing, error) {
	q := s.db.WithContext(ctx).
		Preload("Commodity").
		Where("is_available = ?", true).
		Order("created_at desc").
		Limit(PageSize)
	if commodityID != nil {
		q = q.Where("commodity_id = ?", *commodityID)
	}
	var out []models.MarketplaceListing
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to load listings: %w", err)
	}
	return out, nil
}

// SetListingAvailability flips is_available. Only the seller may do this.
func (s *Store) SetListingAvailability(ctx context.Context, userID, listingID uuid.UUID, available bool) (*models.MarketplaceListing, error) {
	if userID == uuid.Nil {
		return nil, apierr.Unauthorized("sign in to manage listings")
	}
	var l models.MarketplaceListing
	if err := s.db.WithContext(ctx).Where("id = ?", listingID).Limit(1).Find(&l).Error; err != nil {
		return nil, fmt.Errorf("failed to load listing: %w", err)
	}
	if l.ID == uuid.Nil {
		return nil, apierr.NotFound("listing not found")
	}
	if l.SellerID != userID {
		return nil, apierr.Forbidden("only the seller can change this listing")
	}
	if err := s.db.WithContext(ctx).Model(&l).Update("is_available", available).Error; err != nil {
		return nil, fmt.Errorf("failed to update listing: %w", err)
	}
	l.IsAvailable = available
	return &l, nil
}
