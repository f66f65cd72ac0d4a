package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"agri-price/internal/apierr"
	"agri-price/internal/middleware"
	"agri-price/internal/services/chat"

	"github.com/gin-gonic/gin"
)

// AgriChat streams the assistant's answer as server-sent events. Each event
// carries a raw chat.completion.chunk and the stream ends with [DONE].
// POST /agri-chat
func (h *APIHandler) AgriChat(c *gin.Context) {
	if h.chat == nil {
		respondError(c, unavailable("AI chat"))
		return
	}
	var req chat.Request
	if err := bindJSON(c, &req); err != nil {
		respondError(c, err)
		return
	}
	ctx := c.Request.Context()
	reply, err := h.chat.Open(ctx, middleware.UserID(c), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)

	w := c.Writer
	for reply.Next() {
		if _, err := fmt.Fprintf(w, "data: %s\n\n", reply.Raw()); err != nil {
			break
		}
		w.Flush()
	}
	if err := reply.Err(); err != nil && ctx.Err() == nil {
		h.log.Warn("Chat stream interrupted", "error", err)
		e := apierr.As(err)
		body, _ := json.Marshal(gin.H{"error": gin.H{"message": err.Error(), "code": e.Code}})
		fmt.Fprintf(w, "data: %s\n\n", body)
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	w.Flush()

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := reply.Close(saveCtx); err != nil {
		h.log.Error("Failed to store assistant reply", "error", err)
	}
}

// IngestPrices runs one ingestion pass.
// POST /ingest-prices
func (h *APIHandler) IngestPrices(c *gin.Context) {
	if h.ingest == nil {
		respondError(c, unavailable("ingestion"))
		return
	}
	res, err := h.ingest.Run(c.Request.Context())
	if err != nil {
		h.log.Error("Ingestion failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}
