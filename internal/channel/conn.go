package channel

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mbeoliero/kit/log"
)

// conn wraps a dialed websocket with a single writer goroutine that also
// keeps the link alive with pings
type conn struct {
	ws         *websocket.Conn
	writeChan  chan []byte
	writeMu    sync.Mutex
	closeOnce  sync.Once
	closed     bool
	pingPeriod time.Duration
	pongWait   time.Duration
	writeWait  time.Duration
}

func newConn(ws *websocket.Conn, maxMsgSize int64, writeChanSize int, writeWait, pongWait, pingPeriod time.Duration) *conn {
	c := &conn{
		ws:         ws,
		writeChan:  make(chan []byte, writeChanSize),
		pingPeriod: pingPeriod,
		pongWait:   pongWait,
		writeWait:  writeWait,
	}

	ws.SetReadLimit(maxMsgSize)
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.writeLoop()

	return c
}

// writeLoop handles all writes to the connection (single writer pattern)
func (c *conn) writeLoop() {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case message, ok := <-c.writeChan:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := c.ws.WriteMessage(websocket.BinaryMessage, message); err != nil {
				log.Warn("channel write error: %v", err)
				return
			}

		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug("channel ping error: %v", err)
				return
			}
		}
	}
}

// ReadMessage blocks until the next frame or a read failure
func (c *conn) ReadMessage() ([]byte, error) {
	_ = c.ws.SetReadDeadline(time.Now().Add(c.pongWait))
	_, message, err := c.ws.ReadMessage()
	return message, err
}

// WriteMessage queues a frame for the writer
func (c *conn) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed {
		return ErrConnClosed
	}

	select {
	case c.writeChan <- data:
		return nil
	default:
		return ErrWriteChannelFull
	}
}

// Close stops the writer. The socket is closed once the writer exits, which
// unblocks a pending ReadMessage.
func (c *conn) Close() {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		c.closed = true
		close(c.writeChan)
		c.writeMu.Unlock()
	})
}

// IsClosed reports whether Close was called
func (c *conn) IsClosed() bool {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.closed
}
