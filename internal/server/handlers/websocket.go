package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	gws "github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/EM-ade/realmkin-sub000/internal/server/websocket"
	"github.com/EM-ade/realmkin-sub000/pkg/config"
)

// WebSocketHandler upgrades authenticated connections and attaches them to
// the settlement event hub.
type WebSocketHandler struct {
	hub      *websocket.WsHub
	upgrader gws.Upgrader
	logger   zerolog.Logger
}

func NewWebSocketHandler(hub *websocket.WsHub, cfg config.WebSocketConfig, logger zerolog.Logger) *WebSocketHandler {
	readBuf, writeBuf := cfg.ReadBufferSize, cfg.WriteBufferSize
	if readBuf == 0 {
		readBuf = 1024
	}
	if writeBuf == 0 {
		writeBuf = 1024
	}
	return &WebSocketHandler{
		hub:      hub,
		logger:   logger,
		upgrader: gws.Upgrader{
			ReadBufferSize:  readBuf,
			WriteBufferSize: writeBuf,
			CheckOrigin: func(r *http.Request) bool {
				return !cfg.CheckOrigin || r.Header.Get("Origin") == ""
			},
		},
	}
}

func (h *WebSocketHandler) HandleConnection(c *gin.Context) {
	userID := c.GetString("user_id")

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Bad Request",
			"message": "Failed to upgrade to WebSocket",
		})
		return
	}

	client := &websocket.WsClient{UserID: userID, Conn: conn}
	h.hub.Register <- client

	// The stream is push-only; the read loop exists to notice disconnects.
	go func() {
		defer func() {
			h.hub.Unregister <- client
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
