package api

import (
	"errors"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"agri-price/internal/apierr"
	"agri-price/internal/logger"
	"agri-price/internal/middleware"
	"agri-price/internal/realtime"
	"agri-price/internal/services/chat"
	"agri-price/internal/services/export"
	"agri-price/internal/services/ingest"
	"agri-price/internal/services/market"
	"agri-price/internal/services/prediction"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Deps are the services the HTTP layer is wired to. Nil optional services
// turn their routes into 503s.
type Deps struct {
	Market     *market.Service
	Feed       *realtime.Feed
	Region     *realtime.Region
	Prediction *prediction.Client
	Chat       *chat.Service
	Ingest     *ingest.Service
	Export     *export.Exporter
	Auth       *middleware.AuthMiddleware
	ServiceKey string
	TrainDelay time.Duration
	Log        *logger.Logger
}

type APIHandler struct {
	market     *market.Service
	feed       *realtime.Feed
	region     *realtime.Region
	prediction *prediction.Client
	chat       *chat.Service
	ingest     *ingest.Service
	export     *export.Exporter
	trainDelay time.Duration
	log        *logger.Logger

	// mock model randomness
	randMu sync.Mutex
	rand   *rand.Rand
}

func SetupRoutes(r *gin.Engine, d Deps) *APIHandler {
	handler := &APIHandler{
		market:     d.Market,
		feed:       d.Feed,
		region:     d.Region,
		prediction: d.Prediction,
		chat:       d.Chat,
		ingest:     d.Ingest,
		export:     d.Export,
		trainDelay: d.TrainDelay,
		log:        d.Log.With("component", "APIHandler"),
		rand:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	auth := d.Auth
	serviceKey := middleware.ServiceKey(d.ServiceKey)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
	})

	v1 := r.Group("/api/v1")
	v1.Use(auth.OptionalAuth())

	// Market data
	v1.GET("/commodities", handler.ListCommodities)
	prices := v1.Group("/prices")
	{
		prices.GET("", handler.ListPrices)
		prices.GET("/latest", handler.LatestPrices)
		prices.GET("/indicators", handler.PriceIndicators)
		prices.GET("/export", handler.ExportPrices)
	}
	v1.GET("/predictions", handler.ListPredictions)
	v1.GET("/news", handler.ListNews)
	v1.POST("/news", serviceKey, handler.PublishNews)
	v1.GET("/arbitrage", handler.ListArbitrage)

	// Marketplace
	listings := v1.Group("/listings")
	{
		listings.GET("", handler.ListListings)
		listings.POST("", handler.CreateListing)
		listings.PATCH("/:id", auth.RequireAuth(), handler.UpdateListing)
	}

	alerts := v1.Group("/alerts", auth.RequireAuth())
	{
		alerts.GET("", handler.ListAlerts)
		alerts.POST("", handler.CreateAlert)
		alerts.PATCH("/:id", handler.UpdateAlert)
		alerts.DELETE("/:id", handler.DeleteAlert)
	}

	conversations := v1.Group("/chat/conversations")
	{
		conversations.GET("", auth.RequireAuth(), handler.ListConversations)
		conversations.POST("", handler.CreateConversation)
		conversations.GET("/:id/messages", handler.ListMessages)
	}

	profile := v1.Group("/profile", auth.RequireAuth())
	{
		profile.GET("", handler.GetProfile)
		profile.PUT("", handler.UpdateProfile)
	}

	// Proxy to the configured prediction service
	model := v1.Group("/model")
	{
		model.GET("/health", handler.ModelHealth)
		model.POST("/train", handler.TrainModel)
		model.POST("/predict", handler.PredictPrice)
		model.GET("/metrics", handler.ModelMetrics)
	}

	rt := v1.Group("/realtime")
	{
		rt.GET("/ws", handler.ServeWS)
		rt.GET("/status", handler.RealtimeStatus)
	}

	// Function endpoints
	agri := r.Group("/agri-api")
	{
		agri.GET("/health", handler.MockHealth)
		agri.POST("/train-model", handler.MockTrain)
		agri.POST("/predict-price", handler.MockPredict)
		agri.GET("/model-metrics", handler.MockMetrics)
	}
	r.POST("/agri-chat", auth.OptionalAuth(), handler.AgriChat)
	r.POST("/ingest-prices", serviceKey, handler.IngestPrices)

	return handler
}

func respondError(c *gin.Context, err error) {
	middleware.Abort(c, err)
}

func unavailable(what string) error {
	return apierr.New(http.StatusServiceUnavailable, apierr.CodeUpstream, errors.New(what+" is not configured"))
}

// optionalUUID reads an optional id query parameter.
func optionalUUID(c *gin.Context, name string) (*uuid.UUID, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, apierr.Invalid("invalid " + name)
	}
	return &id, nil
}

func requiredUUID(c *gin.Context, name string) (uuid.UUID, error) {
	id, err := optionalUUID(c, name)
	if err != nil {
		return uuid.Nil, err
	}
	if id == nil {
		return uuid.Nil, apierr.Invalid("missing " + name)
	}
	return *id, nil
}

func pathUUID(c *gin.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apierr.Invalid("invalid id")
	}
	return id, nil
}

// callerID is the authenticated user or uuid.Nil for guests.
func callerID(c *gin.Context) uuid.UUID {
	if id := middleware.UserID(c); id != nil {
		return *id
	}
	return uuid.Nil
}

func bindJSON(c *gin.Context, out interface{}) error {
	if err := c.ShouldBindJSON(out); err != nil {
		return apierr.Invalid("invalid request body: " + err.Error())
	}
	return nil
}
