package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	sendBuffer   = 256
	writeTimeout = 10 * time.Second
	readLimit    = 4096
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// client owns one websocket. All writes go through send so the connection
// has a single writer; a client that falls a full buffer behind is dropped.
type client struct {
	conn *websocket.Conn

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func newClient(conn *websocket.Conn) *client {
	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	go c.writePump()
	return c
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (c *client) push(msg []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- msg:
	default:
		c.closed = true
		close(c.send)
	}
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// stream upgrades the request and keeps the socket open until the peer
// goes away. attach starts feeding messages and returns its undo; onMessage,
// if set, handles client frames and may return a reply.
func stream(w http.ResponseWriter, r *http.Request, log zerolog.Logger,
	attach func(send func([]byte)) (detach func()),
	onMessage func(ctx context.Context, msg []byte) []byte,
) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(readLimit)

	c := newClient(conn)
	detach := attach(c.push)
	defer c.close()
	defer detach()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if onMessage == nil {
			continue
		}
		if reply := onMessage(r.Context(), msg); reply != nil {
			c.push(reply)
		}
	}
}
