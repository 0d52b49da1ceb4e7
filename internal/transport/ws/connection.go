package ws

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// connection is one client socket. Frames are queued on send and written
// by a single writer.
type connection struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	done      chan struct{}
	closeOnce sync.Once
	mu        sync.Mutex
}

func newConnection(id string, conn *websocket.Conn, buffer int) *connection {
	return &connection{
		id:   id,
		conn: conn,
		send: make(chan []byte, buffer),
		done: make(chan struct{}),
	}
}

// enqueue queues a frame. It reports false once the connection or ctx is
// done.
func (c *connection) enqueue(ctx context.Context, data []byte) bool {
	select {
	case c.send <- data:
		return true
	case <-c.done:
		return false
	case <-ctx.Done():
		return false
	}
}

func (c *connection) write(messageType int, data []byte, timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}

// close stops the writer. The writer sends the close frame and releases
// the socket.
func (c *connection) close() {
	c.closeOnce.Do(func() { close(c.done) })
}
