// Package ws pushes discussion events (score changes, new replies) to
// connected clients so they can reconcile optimistic UI state with server
// truth without polling.
package ws

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/websocket"
)

// Event is the envelope every broadcast uses.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Hub fans broadcast messages out to every connected client.
type Hub struct {
	Broadcast  chan []byte
	register   chan *client
	unregister chan *client
	clients    map[*client]bool
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func NewHub() *Hub {
	return &Hub{
		Broadcast:  make(chan []byte, 64),
		register:   make(chan *client),
		unregister: make(chan *client),
		clients:    make(map[*client]bool),
	}
}

// Run owns the client set; all membership changes and sends go through its
// channels, so no lock is needed.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.clients[c] = true
		case c := <-h.unregister:
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
			}
		case msg := <-h.Broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// Slow client: drop it rather than stall the hub.
					delete(h.clients, c)
					close(c.send)
				}
			}
		}
	}
}

// Send marshals an event and queues it for every client. Marshal failures
// are a programming error on the payload type; they are logged and dropped.
func (h *Hub) Send(eventType string, data interface{}) {
	b, err := json.Marshal(Event{Type: eventType, Data: data})
	if err != nil {
		log.Printf("ws: marshal %s event: %v", eventType, err)
		return
	}
	h.Broadcast <- b
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWs upgrades the request and attaches the connection to the hub.
func ServeWs(h *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws: upgrade: %v", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, 16)}
	h.register <- c

	go c.writeLoop()
	go c.readLoop(h)
}

func (c *client) writeLoop() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// readLoop only watches for the peer going away; clients send nothing.
func (c *client) readLoop(h *Hub) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
