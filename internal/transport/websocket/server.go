package websocket

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is delegated to the CORS layer in main.
		return true
	},
}

// Hub fans messages out to subscribers of a topic. Payment clients
// subscribe to their intent's order code and receive exactly one
// terminal message before the topic is torn down; staff subscribe to a
// per-user topic for report notifications.
type Hub struct {
	topics map[string]map[*Connection]bool

	register   chan *Connection
	unregister chan *Connection
	publish    chan publishReq

	mu sync.RWMutex
}

type publishReq struct {
	message *Message
	// closeAfter tears the topic down once the message is queued. The
	// per-connection send buffer is drained before close is observed, so
	// the terminal message still reaches clients.
	closeAfter bool
}

type Connection struct {
	ws    *websocket.Conn
	topic string
	send  chan *Message
	hub   *Hub
}

type Message struct {
	Type    string      `json:"type"`
	Channel string      `json:"channel,omitempty"`
	Data    interface{} `json:"data"`
}

func NewHub() *Hub {
	return &Hub{
		topics:     make(map[string]map[*Connection]bool),
		register:   make(chan *Connection),
		unregister: make(chan *Connection),
		publish:    make(chan publishReq, 256),
	}
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			// Close underlying sockets so the pumps error out and
			// unregister themselves.
			h.mu.RLock()
			var conns []*Connection
			for _, m := range h.topics {
				for c := range m {
					conns = append(conns, c)
				}
			}
			h.mu.RUnlock()

			for _, c := range conns {
				_ = c.ws.Close()
			}
			return

		case conn := <-h.register:
			h.mu.Lock()
			if h.topics[conn.topic] == nil {
				h.topics[conn.topic] = make(map[*Connection]bool)
			}
			h.topics[conn.topic][conn] = true
			h.mu.Unlock()

		case conn := <-h.unregister:
			h.mu.Lock()
			if subs, ok := h.topics[conn.topic]; ok {
				if _, exists := subs[conn]; exists {
					delete(subs, conn)
					close(conn.send)
					if len(subs) == 0 {
						delete(h.topics, conn.topic)
					}
				}
			}
			h.mu.Unlock()

		case req := <-h.publish:
			topic := req.message.Channel

			h.mu.Lock()
			subs := h.topics[topic]
			for conn := range subs {
				select {
				case conn.send <- req.message:
				default:
					close(conn.send)
					delete(subs, conn)
				}
			}
			if req.closeAfter {
				delete(h.topics, topic)
			} else if subs != nil && len(subs) == 0 {
				delete(h.topics, topic)
			}
			h.mu.Unlock()

			if req.closeAfter {
				for conn := range subs {
					close(conn.send)
				}
			}
		}
	}
}

// Broadcast queues a message for every subscriber of the topic. Never
// blocks; a full hub drops the message with a log line.
func (h *Hub) Broadcast(topic string, message *Message) {
	h.enqueue(topic, message, false)
}

// BroadcastAndClose delivers the topic's final message and tears the
// subscription down: at most one terminal message per topic reaches any
// subscriber.
func (h *Hub) BroadcastAndClose(topic string, message *Message) {
	h.enqueue(topic, message, true)
}

func (h *Hub) enqueue(topic string, message *Message, closeAfter bool) {
	message.Channel = topic
	select {
	case h.publish <- publishReq{message: message, closeAfter: closeAfter}:
	default:
		log.Printf("hub publish channel full, dropping message for topic %s", topic)
	}
}

// Subscribers reports the current subscriber count of a topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request, topic string) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v", err)
		return
	}

	conn := &Connection{
		ws:    ws,
		topic: topic,
		send:  make(chan *Message, 16),
		hub:   h,
	}

	h.register <- conn

	go conn.writePump()
	go conn.readPump()
}

const (
	writeWait = 10 * time.Second

	pongWait = 60 * time.Second

	pingPeriod = (pongWait * 9) / 10
)

func (c *Connection) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.ws.Close()
	}()

	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, _, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("websocket error: %v", err)
			}
			break
		}
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.ws.WriteJSON(message); err != nil {
				log.Printf("websocket write error: %v", err)
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
