// Package transport speaks the stream protocol over a WebSocket: one JSON
// codec offer from the client, JSON control messages and binary
// timestamped chunks from the server.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/robertklofgren/andmon/codec"
)

const (
	writeWait        = 10 * time.Second
	handshakeTimeout = 10 * time.Second
	maxMessageSize   = 16 << 20
)

// ErrTransportFailure wraps every error that ends a ReadLoop other than
// context cancellation. The session treats it as terminal.
var ErrTransportFailure = errors.New("transport: channel failed")

// Handler receives decoded server messages in arrival order. Calls come
// from the ReadLoop goroutine.
type Handler interface {
	OnConfig(d codec.Descriptor)
	OnChunk(c Chunk)
}

// Channel is a client connection to a stream server.
type Channel struct {
	conn      *websocket.Conn
	log       *zap.Logger
	writeMu   sync.Mutex
	closeOnce sync.Once
}

// Dial opens the WebSocket at url.
func Dial(ctx context.Context, url string, logger *zap.Logger) (*Channel, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrTransportFailure, url, err)
	}
	conn.SetReadLimit(maxMessageSize)

	log := logger.Named("transport")
	log.Info("connected", zap.String("server", url))
	return &Channel{conn: conn, log: log}, nil
}

// SendOffer sends the codec offer. It must be the first message.
func (c *Channel) SendOffer(o codec.Offer) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(NewOfferMessage(o)); err != nil {
		return fmt.Errorf("%w: send offer: %w", ErrTransportFailure, err)
	}
	c.log.Debug("offer sent", zap.Strings("codecs", o.Strings()))
	return nil
}

// ReadLoop dispatches server messages to h until the connection fails or
// ctx is cancelled. Malformed messages are logged and dropped. It never
// reconnects.
func (c *Channel) ReadLoop(ctx context.Context, h Handler) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			c.Close()
		case <-done:
		}
	}()

	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Info("server closed the stream")
			} else {
				c.log.Error("read failed", zap.Error(err))
			}
			return fmt.Errorf("%w: %w", ErrTransportFailure, err)
		}

		switch mt {
		case websocket.BinaryMessage:
			chunk, err := ParseChunk(data)
			if err != nil {
				c.log.Warn("dropping binary frame", zap.Error(err))
				continue
			}
			h.OnChunk(chunk)
		case websocket.TextMessage:
			c.handleControl(data, h)
		default:
			c.log.Debug("unsupported message type", zap.Int("type", mt))
		}
	}
}

func (c *Channel) handleControl(data []byte, h Handler) {
	msg, err := ParseControl(data)
	if err != nil {
		c.log.Warn("dropping malformed control message", zap.Error(err), zap.ByteString("message", truncate(data, 128)))
		return
	}

	switch msg.Type {
	case TypeConfig:
		if msg.Codec == "" {
			c.log.Warn("config message without codec")
			return
		}
		c.log.Info("server selected codec", zap.String("codec", msg.Codec))
		h.OnConfig(codec.Descriptor(msg.Codec))
	default:
		c.log.Debug("ignoring control message", zap.String("type", msg.Type), zap.String("codec", msg.Codec))
	}
}

// Close sends a close frame and releases the socket. It is safe to call
// more than once.
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
