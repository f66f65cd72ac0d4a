package chat

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"agri-price/internal/apierr"
	"agri-price/internal/database"
	"agri-price/internal/logger"
	"agri-price/internal/models"
	"agri-price/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := database.Initialize("sqlite::memory:")
	if err != nil {
		t.Fatalf("db: %v", err)
	}
	return store.New(db, nil, logger.Nop())
}

func chunk(content string) string {
	return fmt.Sprintf(`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{"content":%q}}]}`, content)
}

func gateway(t *testing.T, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		if status != http.StatusOK {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			w.Write([]byte(`{"error":{"message":"nope"}}`))
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, part := range []string{"Namaste", " farmer"} {
			fmt.Fprintf(w, "data: %s\n\n", chunk(part))
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestBuildPromptFallbacks(t *testing.T) {
	p := buildPrompt(nil, nil)
	if !strings.Contains(p, "No price data available") || !strings.Contains(p, "No predictions available") {
		t.Fatalf("fallbacks missing:\n%s", p)
	}
	if !strings.HasPrefix(p, "You are AgriPrice AI") {
		t.Fatalf("prompt should open with the assistant persona")
	}
}

func TestSystemPromptIncludesMarketData(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	onion := models.Commodity{Name: "Onion", Unit: "kg", Category: "vegetable"}
	st.DB().Create(&onion)
	st.InsertPricePoints(ctx, []models.PricePoint{
		{CommodityID: onion.ID, Price: 42, MandiName: "Lasalgaon", RecordedAt: time.Now().UTC()},
	})
	conf := 0.91
	st.ReplacePredictions(ctx, onion.ID, []models.Prediction{{
		PredictedPrice:  44.5,
		PredictionDate:  time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC),
		ConfidenceScore: &conf,
	}})

	svc := NewService(Config{Model: "m"}, st, logger.Nop())
	p, err := svc.SystemPrompt(ctx)
	if err != nil {
		t.Fatalf("prompt: %v", err)
	}
	for _, want := range []string{"Onion: ₹42.00 at Lasalgaon", "Onion: ₹44.50 predicted for 2026-05-02 (91% confidence)"} {
		if !strings.Contains(p, want) {
			t.Fatalf("prompt missing %q:\n%s", want, p)
		}
	}
}

func TestOpenStreamsAndPersists(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	conv, err := st.CreateConversation(ctx, nil, "Onion prices", "en")
	if err != nil {
		t.Fatalf("conversation: %v", err)
	}

	srv := gateway(t, http.StatusOK)
	svc := NewService(Config{BaseURL: srv.URL, APIKey: "k", Model: "m"}, st, logger.Nop())
	reply, err := svc.Open(ctx, nil, Request{
		Messages:       []Message{{Role: models.RoleUser, Content: "Onion price today?"}},
		ConversationID: &conv.ID,
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	var raws int
	for reply.Next() {
		if !strings.Contains(reply.Raw(), "chat.completion.chunk") {
			t.Fatalf("raw chunk: %s", reply.Raw())
		}
		raws++
	}
	if err := reply.Err(); err != nil {
		t.Fatalf("stream: %v", err)
	}
	if err := reply.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if raws != 2 || reply.Content() != "Namaste farmer" {
		t.Fatalf("got %d chunks, %q", raws, reply.Content())
	}

	msgs, _ := st.ListMessages(ctx, conv.ID)
	if len(msgs) != 2 || msgs[0].Role != models.RoleUser || msgs[1].Content != "Namaste farmer" {
		t.Fatalf("messages: %+v", msgs)
	}
}

func TestOpenMapsGatewayErrors(t *testing.T) {
	cases := []struct {
		status int
		code   string
	}{
		{http.StatusTooManyRequests, apierr.CodeRateLimited},
		{http.StatusPaymentRequired, apierr.CodeQuotaExhausted},
		{http.StatusInternalServerError, apierr.CodeUpstream},
	}
	st := newTestStore(t)
	for _, tc := range cases {
		srv := gateway(t, tc.status)
		svc := NewService(Config{BaseURL: srv.URL, APIKey: "k", Model: "m"}, st, logger.Nop())
		_, err := svc.Open(context.Background(), nil, Request{Messages: []Message{{Role: models.RoleUser, Content: "hi"}}})
		if !apierr.Is(err, tc.code) {
			t.Fatalf("status %d: got %v", tc.status, err)
		}
	}
}

func TestOpenValidatesMessages(t *testing.T) {
	svc := NewService(Config{Model: "m"}, newTestStore(t), logger.Nop())
	if _, err := svc.Open(context.Background(), nil, Request{}); !apierr.Is(err, apierr.CodeInvalidRequest) {
		t.Fatalf("empty: %v", err)
	}
	bad := Request{Messages: []Message{{Role: "system", Content: "x"}}}
	if _, err := svc.Open(context.Background(), nil, bad); !apierr.Is(err, apierr.CodeInvalidRequest) {
		t.Fatalf("role: %v", err)
	}
}
