package websocket

import (
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/EM-ade/realmkin-sub000/internal/domain"
)

// WsHub fans settlement events out to each owner's open connections. It
// implements domain.EventPublisher so the application services never touch
// connection state.
type WsHub struct {
	Clients    map[string]map[*websocket.Conn]bool
	Broadcast  chan domain.SettlementEvent
	Register   chan *WsClient
	Unregister chan *WsClient
	Logger     zerolog.Logger
}

type WsClient struct {
	UserID string
	Conn   *websocket.Conn
}

func NewWsHub(logger zerolog.Logger) *WsHub {
	return &WsHub{
		Clients:    make(map[string]map[*websocket.Conn]bool),
		Broadcast:  make(chan domain.SettlementEvent, 100),
		Register:   make(chan *WsClient, 100),
		Unregister: make(chan *WsClient, 100),
		Logger:     logger,
	}
}

// Publish queues an event for delivery. Drops the event when the hub is
// backed up; the ledger stays the source of truth either way.
func (h *WsHub) Publish(event domain.SettlementEvent) {
	select {
	case h.Broadcast <- event:
	default:
		h.Logger.Warn().
			Str("type", string(event.Type)).
			Str("owner_id", event.OwnerID).
			Msg("Event hub full, dropping settlement event")
	}
}

func (h *WsHub) Run() {
	for {
		select {
		case client := <-h.Register:
			if h.Clients[client.UserID] == nil {
				h.Clients[client.UserID] = make(map[*websocket.Conn]bool)
			}
			h.Clients[client.UserID][client.Conn] = true
			h.Logger.Info().
				Str("user_id", client.UserID).
				Int("connection_count", len(h.Clients[client.UserID])).
				Msg("WebSocket client registered")

		case client := <-h.Unregister:
			if clients, ok := h.Clients[client.UserID]; ok {
				delete(clients, client.Conn)
				if len(clients) == 0 {
					delete(h.Clients, client.UserID)
				}
				client.Conn.Close()
				h.Logger.Info().
					Str("user_id", client.UserID).
					Int("connection_count", len(clients)).
					Msg("WebSocket client unregistered")
			}

		case event := <-h.Broadcast:
			clients, ok := h.Clients[event.OwnerID]
			if !ok || event.OwnerID == "" {
				continue
			}
			for conn := range clients {
				if err := conn.WriteJSON(event); err != nil {
					h.Logger.Err(err).
						Str("user_id", event.OwnerID).
						Str("type", string(event.Type)).
						Msg("Failed to send WebSocket message")
					conn.Close()
					delete(clients, conn)
				}
			}
			if len(clients) == 0 {
				delete(h.Clients, event.OwnerID)
			}
		}
	}
}
