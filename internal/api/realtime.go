package api

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"agri-price/internal/apierr"
	"agri-price/internal/realtime"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	wsOutboxSize  = 64
	wsPingPeriod  = 30 * time.Second
	wsReadTimeout = 75 * time.Second
	wsWriteWait   = 10 * time.Second
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// origins are enforced by the CORS policy on the REST side
	CheckOrigin: func(*http.Request) bool { return true },
}

type wsMessage struct {
	Type        string                `json:"type"` // hello, change, state
	State       realtime.ConnState    `json:"state,omitempty"`
	Tables      []realtime.Table      `json:"tables,omitempty"`
	Table       realtime.Table        `json:"table,omitempty"`
	Event       *realtime.ChangeEvent `json:"event,omitempty"`
	Invalidated []string              `json:"invalidated,omitempty"`
	LastUpdate  *time.Time            `json:"lastUpdate,omitempty"`
	LastUpdates *realtime.LastUpdates `json:"lastUpdates,omitempty"`
}

func parseTables(raw string) ([]realtime.Table, error) {
	if strings.TrimSpace(raw) == "" {
		return realtime.Tables, nil
	}
	var out []realtime.Table
	for _, part := range strings.Split(raw, ",") {
		t := realtime.Table(strings.TrimSpace(part))
		if !t.Valid() {
			return nil, apierr.Invalid("unknown table " + string(t))
		}
		out = append(out, t)
	}
	return out, nil
}

// ServeWS mounts a region for the connection and pushes change and
// connection-state notices until the client goes away.
// GET /api/v1/realtime/ws?tables=price_data,predictions
func (h *APIHandler) ServeWS(c *gin.Context) {
	if h.feed == nil {
		respondError(c, unavailable("realtime feed"))
		return
	}
	tables, err := parseTables(c.Query("tables"))
	if err != nil {
		respondError(c, err)
		return
	}

	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("Websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	out := make(chan wsMessage, wsOutboxSize)
	var mu sync.Mutex
	open := true
	enqueue := func(m wsMessage) {
		mu.Lock()
		defer mu.Unlock()
		if !open {
			return
		}
		select {
		case out <- m:
		default:
			h.log.Warn("Websocket outbox full, dropping message", "type", m.Type, "table", m.Table)
		}
	}
	defer func() {
		mu.Lock()
		open = false
		mu.Unlock()
	}()

	region, err := realtime.Mount(c.Request.Context(), h.feed, h.market.Cache(), tables,
		realtime.OnChange(func(ev realtime.ChangeEvent, at time.Time) {
			keys := realtime.InvalidationKeys(ev.Table)
			names := make([]string, len(keys))
			for i, k := range keys {
				names[i] = k.String()
			}
			e := ev
			enqueue(wsMessage{Type: "change", Table: ev.Table, Event: &e, Invalidated: names, LastUpdate: &at})
		}))
	if err != nil {
		h.log.Error("Failed to mount realtime region", "error", err)
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "subscribe failed"))
		return
	}
	defer region.Unmount()

	stopState := h.feed.OnStateChange(func(s realtime.ConnState) {
		enqueue(wsMessage{Type: "state", State: s})
	})
	defer stopState()

	lu := region.LastUpdates()
	enqueue(wsMessage{Type: "hello", State: h.feed.State(), Tables: tables, LastUpdates: &lu})

	// writer
	ctx := region.Context()
	go func() {
		ping := time.NewTicker(wsPingPeriod)
		defer ping.Stop()
		for {
			select {
			case m := <-out:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteJSON(m); err != nil {
					conn.Close()
					return
				}
			case <-ping.C:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					conn.Close()
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	// reader; inbound messages are ignored
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

// RealtimeStatus reports feed health, listeners per table and the
// server-side freshness of each table.
// GET /api/v1/realtime/status
func (h *APIHandler) RealtimeStatus(c *gin.Context) {
	if h.feed == nil {
		respondError(c, unavailable("realtime feed"))
		return
	}
	listeners := make(map[realtime.Table]int, len(realtime.Tables))
	for _, t := range realtime.Tables {
		listeners[t] = h.feed.Listeners(t)
	}
	resp := gin.H{"state": h.feed.State(), "listeners": listeners}
	if h.region != nil {
		resp["lastUpdates"] = h.region.LastUpdates()
	}
	c.JSON(http.StatusOK, resp)
}
