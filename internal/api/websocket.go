package api

import (
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/rawblock/dao-analytics/internal/runner"
)

const writeWait = 5 * time.Second

// Hub maintains the set of active websocket clients and broadcasts run events.
type Hub struct {
	clients   map[*websocket.Conn]bool
	broadcast chan []byte
	mutex     sync.Mutex
	upgrader  websocket.Upgrader
	logger    *zerolog.Logger
}

// NewHub accepts websocket upgrades from allowedOrigins. An empty list or
// "*" allows every origin.
func NewHub(allowedOrigins []string, logger *zerolog.Logger) *Hub {
	h := &Hub{
		broadcast: make(chan []byte, 256),
		clients:   make(map[*websocket.Conn]bool),
		logger:    logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return originAllowed(allowedOrigins, r.Header.Get("Origin")) != ""
		},
	}
	return h
}

func (h *Hub) Run() {
	for message := range h.broadcast {
		h.mutex.Lock()
		for client := range h.clients {
			_ = client.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
				h.logger.Debug().Err(err).Msg("websocket write failed, dropping client")
				client.Close()
				delete(h.clients, client)
			}
		}
		h.mutex.Unlock()
	}
}

// Subscribe handles incoming websocket connections
func (h *Hub) Subscribe(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	h.mutex.Lock()
	h.clients[conn] = true
	total := len(h.clients)
	h.mutex.Unlock()
	h.logger.Info().Int("clients", total).Msg("websocket client connected")

	// Only pushes go down the socket, but reads are needed to notice disconnects.
	go func() {
		defer func() {
			h.mutex.Lock()
			delete(h.clients, conn)
			total := len(h.clients)
			h.mutex.Unlock()
			conn.Close()
			h.logger.Info().Int("clients", total).Msg("websocket client disconnected")
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					h.logger.Warn().Err(err).Msg("websocket read failed")
				}
				return
			}
		}
	}()
}

// Broadcast queues raw data for every client. Slow hubs drop the message
// rather than block the run that produced it.
func (h *Hub) Broadcast(data []byte) {
	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn().Msg("websocket broadcast queue full, dropping message")
	}
}

// PublishRunEvent is wired as the runner's event callback.
func (h *Hub) PublishRunEvent(ev runner.Event) {
	payload, err := json.Marshal(gin.H{"type": "run_event", "event": ev})
	if err != nil {
		h.logger.Error().Err(err).Str("run_id", ev.RunID).Msg("encode run event")
		return
	}
	h.Broadcast(payload)
}

// originAllowed returns the value for Access-Control-Allow-Origin, or "" when
// origin is not allowed.
func originAllowed(allowed []string, origin string) string {
	if len(allowed) == 0 || slices.Contains(allowed, "*") {
		return "*"
	}
	if origin == "" {
		return ""
	}
	for _, a := range allowed {
		if a == origin {
			return origin
		}
	}
	return ""
}
