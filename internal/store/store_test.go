package store

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"agri-price/internal/apierr"
	"agri-price/internal/database"
	"agri-price/internal/logger"
	"agri-price/internal/models"
	"agri-price/internal/realtime"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []realtime.ChangeEvent
}

func (p *recordingPublisher) Publish(_ context.Context, ev realtime.ChangeEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) count(table realtime.Table) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, ev := range p.events {
		if ev.Table == table {
			n++
		}
	}
	return n
}

func newTestStore(t *testing.T) (*Store, *recordingPublisher) {
	t.Helper()
	db, err := database.Initialize("sqlite::memory:")
	if err != nil {
		t.Fatalf("init db: %v", err)
	}
	pub := &recordingPublisher{}
	return New(db, pub, logger.Nop()), pub
}

func addCommodity(t *testing.T, s *Store, name string) models.Commodity {
	t.Helper()
	c := models.Commodity{Name: name, Unit: "kg", Category: "vegetables"}
	if err := s.db.Create(&c).Error; err != nil {
		t.Fatalf("create commodity: %v", err)
	}
	return c
}

func point(c models.Commodity, price float64, mandi string, at time.Time) models.PricePoint {
	return models.PricePoint{CommodityID: c.ID, Price: price, MandiName: mandi, RecordedAt: at}
}

var t0 = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func TestLatestPricesWithDelta(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	tomato := addCommodity(t, s, "Tomato")
	onion := addCommodity(t, s, "Onion")
	addCommodity(t, s, "Garlic")

	_, err := s.InsertPricePoints(ctx, []models.PricePoint{
		point(tomato, 40, "Vashi", t0),
		point(tomato, 42, "Vashi", t0.Add(time.Hour)),
		point(tomato, 45.50, "Azadpur", t0.Add(2*time.Hour)),
		point(onion, 32, "Koyambedu", t0),
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := s.LatestPricesWithDelta(ctx)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d rows want 3", len(got))
	}
	byName := map[string]LatestPrice{}
	for _, lp := range got {
		byName[lp.Commodity.Name] = lp
	}

	tom := byName["Tomato"]
	if tom.CurrentPrice != 45.50 || tom.PreviousPrice != 42 {
		t.Fatalf("tomato prices: %+v", tom)
	}
	if math.Abs(tom.Change-3.5) > 1e-9 {
		t.Fatalf("tomato change: %v", tom.Change)
	}
	if math.Abs(tom.ChangePercent-8.3333) > 0.001 {
		t.Fatalf("tomato change percent: %v", tom.ChangePercent)
	}
	if tom.Market != "Azadpur" || tom.RecordedAt == nil {
		t.Fatalf("tomato market: %+v", tom)
	}

	on := byName["Onion"]
	if on.CurrentPrice != 32 || on.Change != 0 || on.ChangePercent != 0 {
		t.Fatalf("single point commodity: %+v", on)
	}

	garlic, ok := byName["Garlic"]
	if !ok {
		t.Fatalf("commodity without prices missing")
	}
	if garlic.CurrentPrice != 0 || garlic.Market != "N/A" || garlic.RecordedAt != nil {
		t.Fatalf("empty commodity: %+v", garlic)
	}

	if got[0].Commodity.Name != "Garlic" || got[2].Commodity.Name != "Tomato" {
		t.Fatalf("rows should be ordered by name")
	}
}

func TestFoldLatestZeroPrevious(t *testing.T) {
	c := models.Commodity{Name: "Okra"}
	lp := foldLatest(c, []models.PricePoint{{Price: 10}, {Price: 0}})
	if lp.Change != 10 || lp.ChangePercent != 0 {
		t.Fatalf("got %+v", lp)
	}
}

func TestListPricePointsOrderAndCap(t *testing.T) {
	s, pub := newTestStore(t)
	ctx := context.Background()
	tomato := addCommodity(t, s, "Tomato")
	onion := addCommodity(t, s, "Onion")

	var batch []models.PricePoint
	for i := 0; i < PageSize+20; i++ {
		batch = append(batch, point(tomato, float64(20+i), "Vashi", t0.Add(time.Duration(i)*time.Minute)))
	}
	batch = append(batch, point(onion, 30, "Vashi", t0))
	if _, err := s.InsertPricePoints(ctx, batch); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if n := pub.count(realtime.TablePriceData); n != 2 {
		t.Fatalf("one event per commodity expected, got %d", n)
	}

	all, err := s.ListPricePoints(ctx, nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != PageSize {
		t.Fatalf("unfiltered cap: got %d", len(all))
	}
	filtered, _ := s.ListPricePoints(ctx, &tomato.ID)
	if len(filtered) != PageSize {
		t.Fatalf("filtered cap: got %d", len(filtered))
	}
	if filtered[0].Price != float64(20+PageSize+19) {
		t.Fatalf("newest first: got %v", filtered[0].Price)
	}
	if filtered[0].Commodity == nil || filtered[0].Commodity.Name != "Tomato" {
		t.Fatalf("commodity should be joined")
	}

	history, _ := s.PriceHistory(ctx, tomato.ID, 5)
	if len(history) != 5 || history[0].Price > history[4].Price {
		t.Fatalf("history should be the newest points, oldest first: %+v", history)
	}
}

func TestInsertPricePointsRequiresCommodity(t *testing.T) {
	s, pub := newTestStore(t)
	_, err := s.InsertPricePoints(context.Background(), []models.PricePoint{{Price: 1, MandiName: "x", RecordedAt: t0}})
	if err == nil {
		t.Fatalf("expected error")
	}
	if len(pub.events) != 0 {
		t.Fatalf("no event expected on failed insert")
	}
}

func TestReplacePredictions(t *testing.T) {
	s, pub := newTestStore(t)
	ctx := context.Background()
	tomato := addCommodity(t, s, "Tomato")
	onion := addCommodity(t, s, "Onion")

	mk := func(days int, price float64) models.Prediction {
		return models.Prediction{PredictedPrice: price, PredictionDate: t0.AddDate(0, 0, days)}
	}
	if err := s.ReplacePredictions(ctx, tomato.ID, []models.Prediction{mk(2, 46), mk(1, 45)}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if err := s.ReplacePredictions(ctx, onion.ID, []models.Prediction{mk(1, 30)}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if err := s.ReplacePredictions(ctx, tomato.ID, []models.Prediction{mk(3, 47), mk(1, 44), mk(2, 45)}); err != nil {
		t.Fatalf("replace: %v", err)
	}

	got, err := s.ListPredictions(ctx, &tomato.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("old set should be gone, got %d rows", len(got))
	}
	if got[0].PredictedPrice != 44 || got[2].PredictedPrice != 47 {
		t.Fatalf("predictions should be ordered by date: %+v", got)
	}
	all, _ := s.ListPredictions(ctx, nil)
	if len(all) != 4 {
		t.Fatalf("other commodity untouched: got %d rows", len(all))
	}
	if n := pub.count(realtime.TablePredictions); n != 3 {
		t.Fatalf("prediction events: got %d", n)
	}
}

func TestCreateListingRequiresAuth(t *testing.T) {
	s, pub := newTestStore(t)
	ctx := context.Background()
	tomato := addCommodity(t, s, "Tomato")

	l := &models.MarketplaceListing{CommodityID: tomato.ID, Quantity: 100, PricePerUnit: 40, Location: "Nashik"}
	err := s.CreateListing(ctx, uuid.Nil, l)
	if !apierr.Is(err, apierr.CodeUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	var n int64
	s.db.Model(&models.MarketplaceListing{}).Count(&n)
	if n != 0 || len(pub.events) != 0 {
		t.Fatalf("nothing should be written: rows=%d events=%d", n, len(pub.events))
	}
}

func TestListingLifecycle(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	tomato := addCommodity(t, s, "Tomato")
	seller, other := uuid.New(), uuid.New()

	l := &models.MarketplaceListing{CommodityID: tomato.ID, Quantity: 100, PricePerUnit: 40, Location: " Nashik ", Images: []string{"a.jpg"}}
	if err := s.CreateListing(ctx, seller, l); err != nil {
		t.Fatalf("create: %v", err)
	}
	if l.Location != "Nashik" || !l.IsAvailable || l.SellerID != seller {
		t.Fatalf("unexpected listing %+v", l)
	}

	listed, _ := s.ListListings(ctx, nil)
	if len(listed) != 1 || len(listed[0].Images) != 1 {
		t.Fatalf("listed: %+v", listed)
	}

	if _, err := s.SetListingAvailability(ctx, other, l.ID, false); !apierr.Is(err, apierr.CodeForbidden) {
		t.Fatalf("non-owner should be forbidden, got %v", err)
	}
	if _, err := s.SetListingAvailability(ctx, seller, uuid.New(), false); !apierr.Is(err, apierr.CodeNotFound) {
		t.Fatalf("unknown listing should be not found, got %v", err)
	}
	if _, err := s.SetListingAvailability(ctx, seller, l.ID, false); err != nil {
		t.Fatalf("owner update: %v", err)
	}
	listed, _ = s.ListListings(ctx, nil)
	if len(listed) != 0 {
		t.Fatalf("removed listing still listed")
	}
}

func TestAlertLifecycle(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	onion := addCommodity(t, s, "Onion")
	user := uuid.New()

	if err := s.CreateAlert(ctx, user, &models.PriceAlert{CommodityID: onion.ID, AlertType: "sideways", ThresholdPrice: 10}); !apierr.Is(err, apierr.CodeInvalidRequest) {
		t.Fatalf("bad direction should be invalid, got %v", err)
	}

	a := &models.PriceAlert{CommodityID: onion.ID, AlertType: models.AlertAbove, ThresholdPrice: 35}
	if err := s.CreateAlert(ctx, user, a); err != nil {
		t.Fatalf("create: %v", err)
	}

	pending, _ := s.PendingAlerts(ctx, &onion.ID)
	if len(pending) != 1 {
		t.Fatalf("pending: %d", len(pending))
	}
	stamped, err := s.MarkTriggered(ctx, []uuid.UUID{a.ID, uuid.New()}, t0)
	if err != nil || len(stamped) != 1 || stamped[0] != a.ID {
		t.Fatalf("mark: %v %v", stamped, err)
	}
	if again, _ := s.MarkTriggered(ctx, []uuid.UUID{a.ID}, t0); len(again) != 0 {
		t.Fatalf("alert should only fire once")
	}
	pending, _ = s.PendingAlerts(ctx, nil)
	if len(pending) != 0 {
		t.Fatalf("triggered alert still pending")
	}

	re, err := s.SetAlertActive(ctx, user, a.ID, true)
	if err != nil || re.TriggeredAt != nil {
		t.Fatalf("re-activate: %+v %v", re, err)
	}
	if err := s.DeleteAlert(ctx, uuid.New(), a.ID); !apierr.Is(err, apierr.CodeForbidden) {
		t.Fatalf("foreign delete: %v", err)
	}
	if err := s.DeleteAlert(ctx, user, a.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	mine, _ := s.ListAlerts(ctx, user)
	if len(mine) != 0 {
		t.Fatalf("alerts after delete: %d", len(mine))
	}
}

func TestChatAndProfile(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	user := uuid.New()

	conv, err := s.CreateConversation(ctx, &user, "Onion prices", "hi")
	if err != nil {
		t.Fatalf("conversation: %v", err)
	}
	if _, err := s.AppendMessage(ctx, conv.ID, models.RoleUser, "What is the onion price?"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := s.AppendMessage(ctx, conv.ID, "system", "x"); !apierr.Is(err, apierr.CodeInvalidRequest) {
		t.Fatalf("bad role: %v", err)
	}
	msgs, _ := s.ListMessages(ctx, conv.ID)
	if len(msgs) != 1 {
		t.Fatalf("messages: %d", len(msgs))
	}
	if _, err := s.Conversation(ctx, nil, conv.ID); !apierr.Is(err, apierr.CodeForbidden) {
		t.Fatalf("anonymous access to owned conversation: %v", err)
	}

	name, role := "Ravi", "farmer"
	p, err := s.UpdateProfile(ctx, user, ProfileUpdate{FullName: &name, Role: &role})
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if p.FullName == nil || *p.FullName != "Ravi" {
		t.Fatalf("profile not updated: %+v", p)
	}
	bad := "landlord"
	if _, err := s.UpdateProfile(ctx, user, ProfileUpdate{Role: &bad}); !apierr.Is(err, apierr.CodeInvalidRequest) {
		t.Fatalf("bad role: %v", err)
	}
}

func TestNewsPublishesEvent(t *testing.T) {
	s, pub := newTestStore(t)
	ctx := context.Background()

	if err := s.PublishNews(ctx, &models.MarketNews{Title: " ", Content: "x"}); !apierr.Is(err, apierr.CodeInvalidRequest) {
		t.Fatalf("empty title: %v", err)
	}
	if err := s.PublishNews(ctx, &models.MarketNews{Title: "Onion exports eased", Content: "..."}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	news, _ := s.ListNews(ctx, 10)
	if len(news) != 1 || pub.count(realtime.TableMarketNews) != 1 {
		t.Fatalf("news=%d events=%d", len(news), pub.count(realtime.TableMarketNews))
	}
}

func TestAppendMessageReportsConversationTouchFailure(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, nil, "Tomato", "en")
	if err != nil {
		t.Fatalf("conversation: %v", err)
	}
	err = s.db.Callback().Update().Before("gorm:update").Register("test:fail_conversation_touch", func(tx *gorm.DB) {
		if tx.Statement.Table == "chat_conversations" {
			tx.AddError(errors.New("disk full"))
		}
	})
	if err != nil {
		t.Fatalf("register callback: %v", err)
	}

	msg, err := s.AppendMessage(ctx, conv.ID, models.RoleUser, "Tomato price in Kolar?")
	if err == nil {
		t.Fatalf("touch failure should be reported")
	}
	if msg == nil || msg.ID == uuid.Nil {
		t.Fatalf("the saved message should still be returned")
	}
}
