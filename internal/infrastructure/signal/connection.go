package signal

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"roomrelay/internal/core/domain"
	"roomrelay/internal/core/ports"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrBackpressure     = errors.New("send buffer full")
)

// WSConnection is the live handle for one websocket. Send only enqueues;
// a single write pump owns all writes to the socket.
type WSConnection struct {
	id       domain.ConnectionID
	identity domain.Identity
	ws       *websocket.Conn

	send chan []byte
	done chan struct{}

	mu     sync.RWMutex
	closed bool

	pingInterval time.Duration
	writeTimeout time.Duration
	logger       *zap.SugaredLogger
}

var _ ports.Connection = (*WSConnection)(nil)

func newWSConnection(ws *websocket.Conn, id domain.ConnectionID, identity domain.Identity, opts Options, logger *zap.SugaredLogger) *WSConnection {
	return &WSConnection{
		id:           id,
		identity:     identity,
		ws:           ws,
		send:         make(chan []byte, opts.SendBuffer),
		done:         make(chan struct{}),
		pingInterval: opts.PingInterval,
		writeTimeout: opts.WriteTimeout,
		logger:       logger.With("connection_id", id, "user_id", identity.UserID),
	}
}

func (c *WSConnection) ID() domain.ConnectionID { return c.id }
func (c *WSConnection) UserID() domain.UserID   { return c.identity.UserID }
func (c *WSConnection) Username() string        { return c.identity.Username }

func (c *WSConnection) Send(event domain.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event.Name, err)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnectionClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrBackpressure
	}
}

// Close stops the write pump. Events already queued are flushed before the
// socket is closed.
func (c *WSConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)
	return nil
}

func (c *WSConnection) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

func (c *WSConnection) writePump() {
	ticker := time.NewTicker(c.pingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case data := <-c.send:
			if err := c.write(websocket.TextMessage, data); err != nil {
				c.logger.Debugw("websocket write failed", "error", err)
				_ = c.Close()
				return
			}

		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.logger.Debugw("websocket ping failed", "error", err)
				_ = c.Close()
				return
			}

		case <-c.done:
			c.flush()
			_ = c.write(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// flush drains whatever is still queued without waiting for more.
func (c *WSConnection) flush() {
	for {
		select {
		case data := <-c.send:
			if err := c.write(websocket.TextMessage, data); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *WSConnection) write(messageType int, data []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(messageType, data)
}
