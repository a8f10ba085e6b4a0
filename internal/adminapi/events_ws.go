package adminapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	gorillaws "github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// eventsUpgrader keeps modest buffers since only JSON event frames flow
// here, never raw PTY bytes.
var eventsUpgrader = gorillaws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     checkWebSocketOrigin,
}

// checkWebSocketOrigin allows same-origin and localhost connections.
func checkWebSocketOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if strings.HasPrefix(origin, "http://localhost") ||
		strings.HasPrefix(origin, "http://127.0.0.1") ||
		strings.HasPrefix(origin, "https://localhost") ||
		strings.HasPrefix(origin, "https://127.0.0.1") {
		return true
	}
	return strings.Contains(origin, r.Host)
}

// eventsWS streams the Manager's unified event channel, one JSON text
// message per event, until the client disconnects or the request context
// ends.
func (h *handlers) eventsWS(c *gin.Context) {
	conn, err := eventsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("events websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx := c.Request.Context()
	pingTicker := time.NewTicker(30 * time.Second)
	defer pingTicker.Stop()

	sinkID, events := h.broadcast.subscribe()
	defer h.broadcast.unsubscribe(sinkID)

	for {
		select {
		case <-ctx.Done():
			return
		case <-pingTicker.C:
			if err := conn.WriteMessage(gorillaws.PingMessage, nil); err != nil {
				return
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				h.log.Warn("events websocket marshal failed", zap.Error(err))
				continue
			}
			if err := conn.WriteMessage(gorillaws.TextMessage, payload); err != nil {
				return
			}
		}
	}
}
