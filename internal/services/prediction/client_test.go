package prediction

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"agri-price/internal/apierr"
	"agri-price/internal/models"
)

func TestClientRoundTrips(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			json.NewEncoder(w).Encode(HealthResponse{Status: "healthy", ModelLoaded: true, Version: "1.0.0"})
		case "/predict-price":
			var req PredictRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("decode: %v", err)
			}
			last := req.Sequence[len(req.Sequence)-1][0]
			json.NewEncoder(w).Encode(PredictResponse{Commodity: req.Commodity, PredictedPrice: last + 1})
		case "/model-metrics":
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"detail":"Model not loaded"}`))
		case "/train-model":
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`not json`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	ctx := context.Background()

	h, err := c.Health(ctx)
	if err != nil || !h.ModelLoaded {
		t.Fatalf("health: %+v %v", h, err)
	}

	p, err := c.PredictPrice(ctx, PredictRequest{Sequence: [][]float64{{30, 1, 2}, {31, 2, 2}}, Commodity: "Onion"})
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if p.Commodity != "Onion" || p.PredictedPrice != 32 {
		t.Fatalf("predict: %+v", p)
	}

	_, err = c.ModelMetrics(ctx)
	if err == nil || err.Error() != "Model not loaded" {
		t.Fatalf("detail should be surfaced, got %v", err)
	}

	_, err = c.TrainModel(ctx, TrainRequest{Epochs: 5})
	if !apierr.Is(err, apierr.CodeRateLimited) {
		t.Fatalf("429 should map to rate_limited, got %v", err)
	}

	if _, err := c.PredictPrice(ctx, PredictRequest{}); !apierr.Is(err, apierr.CodeInvalidRequest) {
		t.Fatalf("empty sequence: %v", err)
	}
}

func TestBuildSequence(t *testing.T) {
	if _, err := BuildSequence(nil); err != ErrNoHistory {
		t.Fatalf("empty history: %v", err)
	}

	day := func(d int, price float64) models.PricePoint {
		return models.PricePoint{Price: price, RecordedAt: time.Date(2026, 7, d, 10, 0, 0, 0, time.UTC)}
	}
	points := []models.PricePoint{day(1, 20), day(3, 30), day(3, 40), day(5, 50)}

	seq, err := BuildSequence(points)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(seq) != SequenceLength {
		t.Fatalf("length: %d", len(seq))
	}
	lastRow := seq[SequenceLength-1]
	if lastRow[0] != 50 || lastRow[1] != 1 || lastRow[2] != SeasonKharif {
		t.Fatalf("last row: %v", lastRow)
	}
	// July 4th carries July 3rd's mean forward
	if gap := seq[SequenceLength-2]; gap[0] != 35 || gap[1] != 0 {
		t.Fatalf("gap row: %v", gap)
	}
	if first := seq[0]; first[0] != 20 {
		t.Fatalf("padding should repeat the first row: %v", first)
	}
}

func TestSeason(t *testing.T) {
	cases := map[time.Month]float64{
		time.January: SeasonRabi, time.April: SeasonZaid, time.July: SeasonKharif, time.November: SeasonRabi,
	}
	for m, want := range cases {
		if got := Season(time.Date(2026, m, 1, 0, 0, 0, 0, time.UTC)); got != want {
			t.Fatalf("%s: got %v want %v", m, got, want)
		}
	}
}
