package api

import (
	"fmt"
	"net/http"

	"agri-price/internal/apierr"
	"agri-price/internal/models"
	"agri-price/internal/realtime"
	"agri-price/internal/services/export"
	"agri-price/internal/services/indicators"

	"github.com/gin-gonic/gin"
)

const indicatorHistory = 500

func (h *APIHandler) ListCommodities(c *gin.Context) {
	out, err := h.market.Commodities(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": out})
}

// ListPrices returns the newest price points, optionally for one commodity.
// GET /api/v1/prices?commodity_id=
func (h *APIHandler) ListPrices(c *gin.Context) {
	id, err := optionalUUID(c, "commodity_id")
	if err != nil {
		respondError(c, err)
		return
	}
	out, err := h.market.Prices(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": out, "lastUpdate": h.lastUpdate(realtime.TablePriceData)})
}

func (h *APIHandler) LatestPrices(c *gin.Context) {
	out, err := h.market.LatestPrices(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": out, "lastUpdate": h.lastUpdate(realtime.TablePriceData)})
}

// PriceIndicators computes daily technical indicators over a commodity's
// recent history.
// GET /api/v1/prices/indicators?commodity_id=
func (h *APIHandler) PriceIndicators(c *gin.Context) {
	id, err := requiredUUID(c, "commodity_id")
	if err != nil {
		respondError(c, err)
		return
	}
	ctx := c.Request.Context()
	commodity, err := h.market.Store().GetCommodity(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	if commodity == nil {
		respondError(c, apierr.NotFound("commodity not found"))
		return
	}
	history, err := h.market.Store().PriceHistory(ctx, id, indicatorHistory)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"commodity": commodity,
		"data":      indicators.Compute(indicators.Daily(history)),
	})
}

// ExportPrices downloads a commodity's history as xlsx.
// GET /api/v1/prices/export?commodity_id=
func (h *APIHandler) ExportPrices(c *gin.Context) {
	if h.export == nil {
		respondError(c, unavailable("export"))
		return
	}
	id, err := requiredUUID(c, "commodity_id")
	if err != nil {
		respondError(c, err)
		return
	}
	f, name, err := h.export.Workbook(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	defer f.Close()

	c.Header("Content-Type", export.ContentType)
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
	c.Status(http.StatusOK)
	if err := f.Write(c.Writer); err != nil {
		h.log.Error("Failed to write workbook", "commodity_id", id, "error", err)
	}
}

func (h *APIHandler) ListPredictions(c *gin.Context) {
	id, err := optionalUUID(c, "commodity_id")
	if err != nil {
		respondError(c, err)
		return
	}
	out, err := h.market.Predictions(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": out, "lastUpdate": h.lastUpdate(realtime.TablePredictions)})
}

func (h *APIHandler) ListNews(c *gin.Context) {
	out, err := h.market.News(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": out, "lastUpdate": h.lastUpdate(realtime.TableMarketNews)})
}

func (h *APIHandler) PublishNews(c *gin.Context) {
	var n models.MarketNews
	if err := bindJSON(c, &n); err != nil {
		respondError(c, err)
		return
	}
	if err := h.market.PublishNews(c.Request.Context(), &n); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": n})
}

func (h *APIHandler) ListArbitrage(c *gin.Context) {
	out, err := h.market.Arbitrage(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": out})
}

func (h *APIHandler) lastUpdate(table realtime.Table) interface{} {
	if h.region == nil {
		return nil
	}
	if t := h.region.LastUpdate(table); t != nil {
		return t
	}
	return nil
}
