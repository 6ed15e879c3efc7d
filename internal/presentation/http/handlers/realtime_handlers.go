package handlers

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/messaging"
	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/observability/logging"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// RealtimeHandlers streams store changes over websockets and logs over SSE.
type RealtimeHandlers struct {
	hub          *messaging.Hub
	feed         *logging.LogFeed
	storeName    string
	upgrader     websocket.Upgrader
	pingInterval time.Duration
	writeTimeout time.Duration
	logger       *logging.ChanneledLogger
}

// NewRealtimeHandlers creates realtime handlers. allowedOrigins empty allows
// every origin.
func NewRealtimeHandlers(hub *messaging.Hub, feed *logging.LogFeed, storeName string, allowedOrigins []string, pingInterval, writeTimeout time.Duration, logger *logging.ChanneledLogger) *RealtimeHandlers {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &RealtimeHandlers{
		hub:       hub,
		feed:      feed,
		storeName: storeName,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(allowed) == 0 || allowed["*"] || origin == "" || allowed[origin]
			},
		},
		pingInterval: pingInterval,
		writeTimeout: writeTimeout,
		logger:       logger,
	}
}

// Changes upgrades to a websocket and streams change events. The optional
// models query is a comma separated filter.
func (h *RealtimeHandlers) Changes(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Realtime().Warn("Websocket upgrade failed", "error", err.Error(), "remote", c.ClientIP())
		return
	}
	var models []string
	if raw := c.Query("models"); raw != "" {
		for _, m := range strings.Split(raw, ",") {
			if m = strings.TrimSpace(m); m != "" {
				models = append(models, m)
			}
		}
	}
	client := messaging.NewClient(conn, h.storeName, models)
	h.hub.Register(client)

	go messaging.WritePump(client, h.pingInterval, h.writeTimeout)
	messaging.ReadPump(h.hub, client, h.pingInterval*2)
}

// StreamLogs streams log entries as server-sent events. Query parameters
// channel and level filter the feed.
func (h *RealtimeHandlers) StreamLogs(c *gin.Context) {
	if h.feed == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "log feed not available"})
		return
	}
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	client := h.feed.Subscribe(logging.FeedFilter{
		Channel: logging.ParseChannel(c.DefaultQuery("channel", "all")),
		Level:   logging.ParseLevel(c.DefaultQuery("level", "info")),
	})
	defer h.feed.Unsubscribe(client)

	fmt.Fprintf(c.Writer, ": connection established\n\n")
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case entry, ok := <-client.C:
			if !ok {
				return false
			}
			c.SSEvent("log", entry)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
