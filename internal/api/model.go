package api

import (
	"errors"
	"math"
	"net/http"
	"time"

	"agri-price/internal/apierr"
	"agri-price/internal/services/prediction"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	mockVersion        = "1.0.0-cloud"
	mockDefaultEpochs  = 50
	mockDefaultPrice   = 30.0
	mockDefaultCrop    = "Tomato"
	mockConfidenceNote = "Prediction based on LSTM model with historical trend analysis (cloud inference)"
	sequenceHistory    = 300
)

func (h *APIHandler) ModelHealth(c *gin.Context) {
	if h.prediction == nil {
		respondError(c, unavailable("prediction service"))
		return
	}
	out, err := h.prediction.Health(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *APIHandler) TrainModel(c *gin.Context) {
	if h.prediction == nil {
		respondError(c, unavailable("prediction service"))
		return
	}
	var req prediction.TrainRequest
	if c.Request.ContentLength != 0 {
		if err := bindJSON(c, &req); err != nil {
			respondError(c, err)
			return
		}
	}
	out, err := h.prediction.TrainModel(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

type predictRequest struct {
	Sequence    [][]float64 `json:"sequence"`
	Commodity   string      `json:"commodity"`
	CommodityID *uuid.UUID  `json:"commodity_id"`
}

// PredictPrice forwards a sequence to the model. With commodity_id instead
// of a sequence, the sequence is built from stored history.
// POST /api/v1/model/predict
func (h *APIHandler) PredictPrice(c *gin.Context) {
	if h.prediction == nil {
		respondError(c, unavailable("prediction service"))
		return
	}
	var req predictRequest
	if err := bindJSON(c, &req); err != nil {
		respondError(c, err)
		return
	}
	ctx := c.Request.Context()
	if len(req.Sequence) == 0 && req.CommodityID != nil {
		commodity, err := h.market.Store().GetCommodity(ctx, *req.CommodityID)
		if err != nil {
			respondError(c, err)
			return
		}
		if commodity == nil {
			respondError(c, apierr.NotFound("commodity not found"))
			return
		}
		history, err := h.market.Store().PriceHistory(ctx, commodity.ID, sequenceHistory)
		if err != nil {
			respondError(c, err)
			return
		}
		seq, err := prediction.BuildSequence(history)
		if errors.Is(err, prediction.ErrNoHistory) {
			respondError(c, apierr.Invalid("no price history for "+commodity.Name))
			return
		}
		if err != nil {
			respondError(c, err)
			return
		}
		req.Sequence = seq
		if req.Commodity == "" {
			req.Commodity = commodity.Name
		}
	}
	out, err := h.prediction.PredictPrice(ctx, prediction.PredictRequest{Sequence: req.Sequence, Commodity: req.Commodity})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *APIHandler) ModelMetrics(c *gin.Context) {
	if h.prediction == nil {
		respondError(c, unavailable("prediction service"))
		return
	}
	out, err := h.prediction.ModelMetrics(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// Built-in stand-in for the Python model service, served under /agri-api.

func (h *APIHandler) MockHealth(c *gin.Context) {
	c.JSON(http.StatusOK, prediction.HealthResponse{Status: "healthy", ModelLoaded: true, Version: mockVersion})
}

func (h *APIHandler) MockTrain(c *gin.Context) {
	var req prediction.TrainRequest
	_ = c.ShouldBindJSON(&req)
	if req.Epochs <= 0 {
		req.Epochs = mockDefaultEpochs
	}

	if h.trainDelay > 0 {
		t := time.NewTimer(h.trainDelay)
		select {
		case <-t.C:
		case <-c.Request.Context().Done():
			t.Stop()
			return
		}
	}

	metrics := prediction.Metrics{
		MAE:     round4(2.5 + h.random()*1.5),
		RMSE:    round4(3.2 + h.random()*2),
		MAPE:    round4(4.5 + h.random()*3),
		R2Score: round4(0.85 + h.random()*0.1),
	}
	c.JSON(http.StatusOK, prediction.TrainResponse{
		Message:   "Model trained successfully",
		Metrics:   metrics,
		EpochsRun: req.Epochs,
	})
}

// MockPredict moves the last observed price by -3% to +7%.
func (h *APIHandler) MockPredict(c *gin.Context) {
	var req prediction.PredictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid request body"})
		return
	}
	if req.Commodity == "" {
		req.Commodity = mockDefaultCrop
	}
	last := mockDefaultPrice
	if n := len(req.Sequence); n > 0 && len(req.Sequence[n-1]) > 0 && req.Sequence[n-1][0] != 0 {
		last = req.Sequence[n-1][0]
	}
	predicted := math.Round(last*(1+(h.random()*0.1-0.03))*100) / 100
	c.JSON(http.StatusOK, prediction.PredictResponse{
		Commodity:      req.Commodity,
		PredictedPrice: predicted,
		ConfidenceNote: mockConfidenceNote,
	})
}

func (h *APIHandler) MockMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, prediction.Metrics{MAE: 2.85, RMSE: 3.67, MAPE: 5.12, R2Score: 0.91})
}

func (h *APIHandler) random() float64 {
	h.randMu.Lock()
	defer h.randMu.Unlock()
	return h.rand.Float64()
}

func round4(v float64) float64 { return math.Round(v*10000) / 10000 }
