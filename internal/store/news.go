package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"agri-price/internal/apierr"
	"agri-price/internal/models"
	"agri-price/internal/realtime"

	"github.com/google/uuid"
)

func (s *Store) ListNews(ctx context.Context, limit int) ([]models.MarketNews, error) {
	if limit <= 0 || limit > PageSize {
		limit = PageSize
	}
	var out []models.MarketNews
	err := s.db.WithContext(ctx).Order("published_at desc").Limit(limit).Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load news: %w", err)
	}
	return out, nil
}

func (s *Store) PublishNews(ctx context.Context, n *models.MarketNews) error {
	n.Title = strings.TrimSpace(n.Title)
	if n.Title == "" || strings.TrimSpace(n.Content) == "" {
		return apierr.Invalid("title and content are required")
	}
	if n.PublishedAt.IsZero() {
		n.PublishedAt = time.Now()
	}
	n.PublishedAt = n.PublishedAt.UTC()
	n.ID = uuid.Nil
	if err := s.db.WithContext(ctx).Create(n).Error; err != nil {
		return fmt.Errorf("failed to publish news: %w", err)
	}
	s.publish(ctx, realtime.ChangeEvent{
		Table:    realtime.TableMarketNews,
		Type:     realtime.EventInsert,
		RecordID: n.ID.String(),
	})
	return nil
}
