package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"agri-price/internal/database"
	"agri-price/internal/logger"
	"agri-price/internal/store"

	"github.com/google/uuid"
)

func TestModelHealthCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"detail":"Not found"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy","model_loaded":true,"version":"1.0.0-cloud"}`))
	}))
	defer srv.Close()

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"--env", "", "model", "health", "--url", srv.URL})
	defer func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		modelURL = ""
	}()

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out.String(), `"status": "healthy"`) {
		t.Errorf("unexpected output: %s", out.String())
	}
}

func TestModelTrainCommand(t *testing.T) {
	epochs := make(chan int, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/train-model" || r.Method != http.MethodPost {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"detail":"Not found"}`))
			return
		}
		var body struct {
			Epochs int `json:"epochs"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		epochs <- body.Epochs
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"message":"Model trained successfully","metrics":{"mae":2.1,"rmse":3.2,"mape":4.3,"r2_score":0.9},"epochs_run":12}`))
	}))
	defer srv.Close()

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"--env", "", "--no-color", "model", "train", "--epochs", "12", "--url", srv.URL})
	defer func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		modelURL = ""
	}()

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got := <-epochs; got != 12 {
		t.Errorf("epochs sent: got %d", got)
	}
	if !strings.Contains(out.String(), `"epochs_run": 12`) {
		t.Errorf("unexpected output: %s", out.String())
	}
}

func TestResolveCommodity(t *testing.T) {
	db, err := database.Initialize("sqlite::memory:")
	if err != nil {
		t.Fatalf("db: %v", err)
	}
	if _, err := database.SeedCommodities(db); err != nil {
		t.Fatalf("seed: %v", err)
	}
	st := store.New(db, nil, logger.Nop())
	ctx := context.Background()

	c, err := resolveCommodity(ctx, st, "tomato")
	if err != nil || c.Name != "Tomato" {
		t.Fatalf("by name: %v %v", c, err)
	}
	byID, err := resolveCommodity(ctx, st, c.ID.String())
	if err != nil || byID.ID != c.ID {
		t.Fatalf("by id: %v %v", byID, err)
	}
	if _, err := resolveCommodity(ctx, st, "Dragonfruit"); err == nil {
		t.Errorf("unknown name should fail")
	}
	if _, err := resolveCommodity(ctx, st, uuid.NewString()); err == nil {
		t.Errorf("unknown id should fail")
	}
	if _, err := resolveCommodity(ctx, st, " "); err == nil {
		t.Errorf("empty should fail")
	}
}

func TestColorize(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	if got := colorize(colorRed, "x"); got != "x" {
		t.Errorf("colorize with noColor=true should not contain ANSI codes, got %q", got)
	}
	noColor = false
	if got := colorize(colorRed, "x"); !strings.Contains(got, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", got)
	}
}
