package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"athsync/internal/model"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WSClient publishes events as JSON frames over a websocket connection,
// dialing lazily and reconnecting after write or read failures.
type WSClient struct {
	url          string
	writeTimeout time.Duration
	dialer       *websocket.Dialer
	logger       *zap.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	handler func([]byte)
	closed  bool
}

func NewWSClient(url string, writeTimeout time.Duration, logger *zap.Logger) *WSClient {
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	return &WSClient{
		url:          url,
		writeTimeout: writeTimeout,
		dialer:       websocket.DefaultDialer,
		logger:       logger.With(zap.String("component", "notify")),
	}
}

// SetMessageHandler sets the function to handle frames sent back by the consumer.
func (c *WSClient) SetMessageHandler(h func([]byte)) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

// Connect establishes the connection and starts the reader. Publish calls it
// on demand, so calling it up front is optional.
func (c *WSClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *WSClient) connectLocked(ctx context.Context) error {
	if c.closed {
		return errors.New("websocket publisher closed")
	}
	if c.conn != nil {
		return nil
	}

	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		c.logger.Error("failed to connect to websocket", zap.String("url", c.url), zap.Error(err))
		return err
	}
	c.conn = conn
	c.logger.Info("websocket connected", zap.String("url", c.url))

	go c.listen(conn)
	return nil
}

// listen drains frames so control messages are processed, and drops the
// connection on read failure so the next Publish redials.
func (c *WSClient) listen(conn *websocket.Conn) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if c.conn == conn {
				c.conn = nil
				if !c.closed {
					c.logger.Warn("websocket read error", zap.Error(err))
				}
			}
			c.mu.Unlock()
			_ = conn.Close()
			return
		}

		c.mu.Lock()
		h := c.handler
		c.mu.Unlock()
		if h != nil {
			h(msg)
		}
	}
}

// Publish writes e, redialing once if the connection was lost.
func (c *WSClient) Publish(ctx context.Context, e model.Event) error {
	frame := Message{Op: "event", Type: string(e.Type), Data: e, Ts: time.Now().UnixMilli()}

	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	for attempt := 0; attempt < 2; attempt++ {
		if err = c.connectLocked(ctx); err != nil {
			continue
		}
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
		if err = c.conn.WriteJSON(frame); err == nil {
			return nil
		}
		c.logger.Warn("websocket write failed, reconnecting", zap.Error(err))
		_ = c.conn.Close()
		c.conn = nil
	}
	return fmt.Errorf("publish %s for call %d: %w", e.Type, e.CallID, err)
}

func (c *WSClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.conn == nil {
		return nil
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	err := c.conn.Close()
	c.conn = nil
	return err
}

// LogAcks returns a handler that logs consumer acknowledgements.
func LogAcks(logger *zap.Logger) func([]byte) {
	return func(msg []byte) {
		var ack Ack
		if err := json.Unmarshal(msg, &ack); err != nil {
			logger.Debug("unparsed frame from consumer", zap.Int("bytes", len(msg)))
			return
		}
		if !ack.Success {
			logger.Warn("consumer rejected event", zap.String("ret_msg", ack.RetMsg))
		}
	}
}
