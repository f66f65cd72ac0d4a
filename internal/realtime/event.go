package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"agri-price/internal/cache"
)

// Table is a table whose row changes are pushed over the feed.
type Table string

const (
	TablePriceData   Table = "price_data"
	TablePredictions Table = "predictions"
	TableMarketNews  Table = "market_news"
)

// Tables lists every watchable table.
var Tables = []Table{TablePriceData, TablePredictions, TableMarketNews}

func (t Table) Valid() bool {
	switch t {
	case TablePriceData, TablePredictions, TableMarketNews:
		return true
	}
	return false
}

// Query keys
const (
	KeyCommodities  = "commodities"
	KeyPriceData    = "price_data"
	KeyLatestPrices = "latest_prices"
	KeyPredictions  = "predictions"
	KeyMarketNews   = "market_news"
	KeyListings     = "marketplace_listings"
	KeyAlerts       = "price_alerts"
	KeyArbitrage    = "mandi_arbitrage"
)

// InvalidationKeys returns the cached queries that a change on table makes
// stale.
func InvalidationKeys(table Table) []cache.Key {
	switch table {
	case TablePriceData:
		return []cache.Key{cache.K(KeyPriceData), cache.K(KeyLatestPrices)}
	case TablePredictions:
		return []cache.Key{cache.K(KeyPredictions)}
	case TableMarketNews:
		return []cache.Key{cache.K(KeyMarketNews)}
	}
	return nil
}

type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// ChangeEvent is one row-level change. Insert, update and delete are
// handled the same way by subscribers.
type ChangeEvent struct {
	Table       Table     `json:"table"`
	Type        EventType `json:"type"`
	RecordID    string    `json:"record_id,omitempty"`
	CommodityID string    `json:"commodity_id,omitempty"`
	Count       int       `json:"count,omitempty"`
	CommitTime  time.Time `json:"commit_time"`
}

func Encode(ev ChangeEvent) ([]byte, error) {
	if !ev.Table.Valid() {
		return nil, fmt.Errorf("realtime: unknown table %q", ev.Table)
	}
	return json.Marshal(ev)
}

func Decode(raw []byte) (ChangeEvent, error) {
	var ev ChangeEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return ChangeEvent{}, fmt.Errorf("realtime: bad payload: %w", err)
	}
	if !ev.Table.Valid() {
		return ChangeEvent{}, fmt.Errorf("realtime: unknown table %q", ev.Table)
	}
	return ev, nil
}

// Publisher emits change events after a write commits.
type Publisher interface {
	Publish(ctx context.Context, ev ChangeEvent) error
}

// Bus is a change-feed transport.
type Bus interface {
	Publisher
	// Listen blocks until ctx is done (returning nil) or the connection is
	// lost (returning an error). ready is called once the subscription is
	// live; onEvent is called for every event in transport order.
	Listen(ctx context.Context, ready func(), onEvent func(ChangeEvent)) error
	Close() error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, ChangeEvent) error { return nil }
