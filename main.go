package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"agri-price/internal/api"
	"agri-price/internal/cache"
	"agri-price/internal/config"
	"agri-price/internal/database"
	"agri-price/internal/logger"
	"agri-price/internal/middleware"
	"agri-price/internal/realtime"
	"agri-price/internal/realtime/bus"
	"agri-price/internal/services/agmarknet"
	"agri-price/internal/services/alerts"
	"agri-price/internal/services/arbitrage"
	"agri-price/internal/services/chat"
	"agri-price/internal/services/export"
	"agri-price/internal/services/ingest"
	"agri-price/internal/services/market"
	"agri-price/internal/services/prediction"
	"agri-price/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

const webDir = "./web/dist"

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	cfg := config.Load()

	logMode := "development"
	if cfg.IsProduction() {
		logMode = "production"
		gin.SetMode(gin.ReleaseMode)
	}
	lg, err := logger.New(logMode)
	if err != nil {
		log.Fatal("Failed to build logger:", err)
	}
	defer lg.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database
	db, err := database.Initialize(cfg.DatabaseURL)
	if err != nil {
		lg.Fatal("Failed to connect to database", "error", err)
	}
	if n, err := database.SeedCommodities(db); err != nil {
		lg.Fatal("Failed to seed commodities", "error", err)
	} else if n > 0 {
		lg.Info("Seeded commodities", "count", n)
	}

	// Change feed
	changeBus, err := bus.New(bus.Options{
		Transport:   cfg.RealtimeTransport,
		Channel:     cfg.RealtimeChannel,
		DatabaseURL: cfg.DatabaseURL,
		RedisURL:    cfg.RedisURL,
	}, db, lg)
	if err != nil {
		lg.Fatal("Failed to set up realtime transport", "transport", cfg.RealtimeTransport, "error", err)
	}
	defer changeBus.Close()

	feed := realtime.NewFeed(changeBus, lg, realtime.WithMaxAttempts(cfg.RealtimeMaxAttempts))
	feed.OnStateChange(func(s realtime.ConnState) {
		lg.Info("Realtime feed state", "state", s)
	})
	feed.Start(ctx)
	defer feed.Stop()

	var cacheOpts []cache.Option
	if cfg.CacheTTL > 0 {
		cacheOpts = append(cacheOpts, cache.WithTTL(cfg.CacheTTL))
	}
	queryCache := cache.New(cacheOpts...)

	// The server region keeps the shared cache in step with every table.
	serverRegion, err := realtime.Mount(ctx, feed, queryCache, realtime.Tables)
	if err != nil {
		lg.Fatal("Failed to mount server region", "error", err)
	}
	defer serverRegion.Unmount()

	st := store.New(db, changeBus, lg)
	marketSvc := market.NewService(st, queryCache)

	evaluator := alerts.NewEvaluator(st, queryCache, lg)
	alertWatch, err := realtime.Watch(feed, queryCache, realtime.TablePriceData,
		realtime.OnChange(evaluator.HandleChange(ctx)))
	if err != nil {
		lg.Fatal("Failed to watch prices for alerts", "error", err)
	}
	defer alertWatch.Close()

	arbitrageSvc := arbitrage.NewService(st, queryCache, cfg.TransportCostKg, lg)
	ingestSvc := ingest.NewService(st, agmarknet.NewClient(cfg.DataGovAPIKey, ""), lg,
		ingest.OnComplete(arbitrageSvc.AfterIngest))

	if cfg.IngestSchedule != "" && cfg.IngestSchedule != "off" {
		scheduler, err := ingest.NewScheduler(ingestSvc, cfg.IngestSchedule, lg)
		if err != nil {
			lg.Fatal("Invalid ingest schedule", "schedule", cfg.IngestSchedule, "error", err)
		}
		scheduler.Start()
		defer scheduler.Stop()
	}

	var chatSvc *chat.Service
	if cfg.AIGatewayKey != "" {
		chatSvc = chat.NewService(chat.Config{
			BaseURL: cfg.AIGatewayURL,
			APIKey:  cfg.AIGatewayKey,
			Model:   cfg.AIModel,
		}, st, lg)
	} else {
		lg.Warn("AI_GATEWAY_KEY not set, /agri-chat disabled")
	}

	// Initialize Gin router
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(lg), middleware.CORS(cfg.CORSOrigins))

	api.SetupRoutes(r, api.Deps{
		Market:     marketSvc,
		Feed:       feed,
		Region:     serverRegion,
		Prediction: prediction.NewClient(cfg.PredictionAPIURL),
		Chat:       chatSvc,
		Ingest:     ingestSvc,
		Export:     export.New(st),
		Auth:       middleware.NewAuthMiddleware(lg, cfg.JWTSecret),
		ServiceKey: cfg.ServiceKey,
		TrainDelay: cfg.ModelTrainDelay,
		Log:        lg,
	})

	// Serve the dashboard build when present
	if _, err := os.Stat(webDir); err == nil {
		r.Static("/assets", webDir+"/assets")
		r.NoRoute(func(c *gin.Context) {
			p := c.Request.URL.Path
			if strings.HasPrefix(p, "/api/") || strings.HasPrefix(p, "/agri-") || strings.HasPrefix(p, "/assets/") {
				c.Status(http.StatusNotFound)
				return
			}
			c.File(webDir + "/index.html")
		})
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		lg.Info("Server starting", "port", cfg.Port, "transport", cfg.RealtimeTransport)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Fatal("Server failed", "error", err)
		}
	}()

	<-ctx.Done()
	lg.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		lg.Error("Graceful shutdown failed", "error", err)
	}
}
