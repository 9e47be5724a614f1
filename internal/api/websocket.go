package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/zh/minimal-xec-wallet/pkg/wallet"
)

// EventType enumerates the kinds of events the Hub pushes to subscribed
// dashboard clients over /api/v1/stream.
type EventType string

const (
	EventAlert       EventType = "alert"
	EventTxBroadcast EventType = "tx_broadcast"
)

// WalletEvent is the typed envelope the Hub marshals onto the websocket
// stream. Centralizing it here (instead of each caller hand-building its
// own JSON, as the health-monitor callback and the send/sweep handlers
// used to) keeps the wire format consistent across every event source.
type WalletEvent struct {
	Type  EventType     `json:"type"`
	Alert *wallet.Alert `json:"alert,omitempty"`
	Txid  string        `json:"txid,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all for local dashboard
	},
}

// Hub maintains the set of active websocket clients and broadcasts messages.
type Hub struct {
	clients   map[*websocket.Conn]bool
	broadcast chan []byte
	mutex     sync.Mutex
}

func NewHub() *Hub {
	return &Hub{
		broadcast: make(chan []byte, 256),
		clients:   make(map[*websocket.Conn]bool),
	}
}

func (h *Hub) Run() {
	for message := range h.broadcast {
		h.mutex.Lock()
		for client := range h.clients {
			// Set write deadline to prevent blocked clients from hanging the hub
			_ = client.SetWriteDeadline(time.Now().Add(5 * time.Second))
			err := client.WriteMessage(websocket.TextMessage, message)
			if err != nil {
				log.Printf("Websocket write error: %v", err)
				client.Close()
				delete(h.clients, client)
			}
		}
		h.mutex.Unlock()
	}
}

// Subscribe handles incoming websocket connections
func (h *Hub) Subscribe(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("Failed to upgrade websocket: %v", err)
		return
	}

	h.mutex.Lock()
	h.clients[conn] = true
	h.mutex.Unlock()

	log.Printf("New WebSocket client connected. Total clients: %d", len(h.clients))

	// Keep alive loop (we only care about pushing down, but we must read to handle disconnects)
	go func() {
		defer func() {
			h.mutex.Lock()
			delete(h.clients, conn)
			h.mutex.Unlock()
			conn.Close()
			log.Printf("WebSocket client disconnected. Total clients: %d", len(h.clients))
		}()
		for {
			_, _, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("WebSocket error: %v", err)
				}
				break
			}
		}
	}()
}

// Broadcast marshals a WalletEvent and sends it to all connected clients.
// A marshal failure (not expected, since every WalletEvent field is a
// string or a JSON-tagged struct) is logged and dropped rather than
// panicking the caller.
func (h *Hub) Broadcast(event WalletEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("Websocket broadcast: failed to marshal %s event: %v", event.Type, err)
		return
	}
	h.broadcast <- data
}
