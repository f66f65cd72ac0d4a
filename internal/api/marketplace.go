package api

import (
	"net/http"

	"agri-price/internal/models"
	"agri-price/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func (h *APIHandler) ListListings(c *gin.Context) {
	id, err := optionalUUID(c, "commodity_id")
	if err != nil {
		respondError(c, err)
		return
	}
	out, err := h.market.Listings(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": out})
}

// CreateListing is reachable by guests so that the auth check happens in
// the service, before any write.
func (h *APIHandler) CreateListing(c *gin.Context) {
	var l models.MarketplaceListing
	if err := bindJSON(c, &l); err != nil {
		respondError(c, err)
		return
	}
	if err := h.market.CreateListing(c.Request.Context(), callerID(c), &l); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": l})
}

type availabilityRequest struct {
	IsAvailable *bool `json:"is_available" binding:"required"`
}

func (h *APIHandler) UpdateListing(c *gin.Context) {
	id, err := pathUUID(c)
	if err != nil {
		respondError(c, err)
		return
	}
	var req availabilityRequest
	if err := bindJSON(c, &req); err != nil {
		respondError(c, err)
		return
	}
	l, err := h.market.SetListingAvailability(c.Request.Context(), callerID(c), id, *req.IsAvailable)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": l})
}

func (h *APIHandler) ListAlerts(c *gin.Context) {
	out, err := h.market.Alerts(c.Request.Context(), callerID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": out})
}

func (h *APIHandler) CreateAlert(c *gin.Context) {
	var a models.PriceAlert
	if err := bindJSON(c, &a); err != nil {
		respondError(c, err)
		return
	}
	if err := h.market.CreateAlert(c.Request.Context(), callerID(c), &a); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": a})
}

type activeRequest struct {
	IsActive *bool `json:"is_active" binding:"required"`
}

func (h *APIHandler) UpdateAlert(c *gin.Context) {
	id, err := pathUUID(c)
	if err != nil {
		respondError(c, err)
		return
	}
	var req activeRequest
	if err := bindJSON(c, &req); err != nil {
		respondError(c, err)
		return
	}
	a, err := h.market.SetAlertActive(c.Request.Context(), callerID(c), id, *req.IsActive)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": a})
}

func (h *APIHandler) DeleteAlert(c *gin.Context) {
	id, err := pathUUID(c)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := h.market.DeleteAlert(c.Request.Context(), callerID(c), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *APIHandler) ListConversations(c *gin.Context) {
	out, err := h.market.Store().ListConversations(c.Request.Context(), callerID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": out})
}

type conversationRequest struct {
	Title    string `json:"title"`
	Language string `json:"language"`
}

func (h *APIHandler) CreateConversation(c *gin.Context) {
	var req conversationRequest
	if c.Request.ContentLength != 0 {
		if err := bindJSON(c, &req); err != nil {
			respondError(c, err)
			return
		}
	}
	var owner *uuid.UUID
	if id := callerID(c); id != uuid.Nil {
		owner = &id
	}
	conv, err := h.market.Store().CreateConversation(c.Request.Context(), owner, req.Title, req.Language)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": conv})
}

func (h *APIHandler) ListMessages(c *gin.Context) {
	id, err := pathUUID(c)
	if err != nil {
		respondError(c, err)
		return
	}
	ctx := c.Request.Context()
	var caller *uuid.UUID
	if uid := callerID(c); uid != uuid.Nil {
		caller = &uid
	}
	if _, err := h.market.Store().Conversation(ctx, caller, id); err != nil {
		respondError(c, err)
		return
	}
	out, err := h.market.Store().ListMessages(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": out})
}

func (h *APIHandler) GetProfile(c *gin.Context) {
	p, err := h.market.Store().GetProfile(c.Request.Context(), callerID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": p})
}

func (h *APIHandler) UpdateProfile(c *gin.Context) {
	var in store.ProfileUpdate
	if err := bindJSON(c, &in); err != nil {
		respondError(c, err)
		return
	}
	p, err := h.market.Store().UpdateProfile(c.Request.Context(), callerID(c), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": p})
}
