package carrier

import (
	"context"
	"errors"
	"time"

	"github.com/gorilla/websocket"
)

// ErrConnClosed is returned when writing to a closed connection.
var ErrConnClosed = errors.New("carrier: connection closed")

type wsConn interface {
	ReadMessage() (int, []byte, error)
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// ConnConfig tunes the write pump.
type ConnConfig struct {
	WriteTimeout time.Duration
	PingInterval time.Duration
	// MediaQueue bounds buffered outbound media frames. A full queue drops
	// the oldest frame rather than blocking: blocking would desynchronize
	// the real-time path.
	MediaQueue int
}

// Conn wraps the carrier websocket with a single writer pump. Control
// frames (clear, transfer, marks) ride a priority queue that preempts
// media, so a barge-in flush is never stuck behind buffered audio.
type Conn struct {
	ws     wsConn
	cfg    ConnConfig
	ctx    context.Context
	cancel context.CancelFunc

	priority chan []byte
	media    chan []byte
	done     chan struct{}
	writeErr error
}

// NewConn wraps an accepted carrier websocket and starts its write pump.
func NewConn(ctx context.Context, ws *websocket.Conn, cfg ConnConfig) *Conn {
	return newConn(ctx, ws, cfg)
}

func newConn(ctx context.Context, ws wsConn, cfg ConnConfig) *Conn {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 20 * time.Second
	}
	if cfg.MediaQueue <= 0 {
		cfg.MediaQueue = 64
	}
	cctx, cancel := context.WithCancel(ctx)
	c := &Conn{
		ws:       ws,
		cfg:      cfg,
		ctx:      cctx,
		cancel:   cancel,
		priority: make(chan []byte, 16),
		media:    make(chan []byte, cfg.MediaQueue),
		done:     make(chan struct{}),
	}
	go c.writePump()
	return c
}

// Read returns the next decoded inbound message.
func (c *Conn) Read() (any, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return nil, err
	}
	return Decode(data)
}

// SendMedia queues one outbound audio frame, dropping the oldest queued
// frame on overflow.
func (c *Conn) SendMedia(payloadB64 string) error {
	frame, err := EncodeMedia(payloadB64)
	if err != nil {
		return err
	}
	for {
		select {
		case <-c.ctx.Done():
			return ErrConnClosed
		case c.media <- frame:
			return nil
		default:
		}
		select {
		case <-c.media: // drop oldest
		default:
		}
	}
}

// SendClear queues the flush control frame at priority.
func (c *Conn) SendClear() error {
	frame, err := EncodeClear()
	if err != nil {
		return err
	}
	return c.sendPriority(frame)
}

// SendMark queues a playback marker at priority.
func (c *Conn) SendMark(name string) error {
	frame, err := EncodeMark(name)
	if err != nil {
		return err
	}
	return c.sendPriority(frame)
}

// SendTransfer queues the human-fallback transfer request at priority.
func (c *Conn) SendTransfer(target string) error {
	frame, err := EncodeTransfer(target)
	if err != nil {
		return err
	}
	return c.sendPriority(frame)
}

// DropPendingMedia discards all queued outbound media without touching the
// priority queue. Called on barge-in before the clear frame is queued so no
// stale audio can slip out first.
func (c *Conn) DropPendingMedia() {
	for {
		select {
		case <-c.media:
		default:
			return
		}
	}
}

func (c *Conn) sendPriority(frame []byte) error {
	select {
	case <-c.ctx.Done():
		return ErrConnClosed
	case c.priority <- frame:
		return nil
	}
}

// Close stops the pump and closes the websocket.
func (c *Conn) Close() error {
	c.cancel()
	<-c.done
	return nil
}

func (c *Conn) writePump() {
	defer close(c.done)
	pingTicker := time.NewTicker(c.cfg.PingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			deadline := time.Now().Add(c.cfg.WriteTimeout)
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			_ = c.ws.Close()
			return
		default:
		}

		// Hard priority: drain control frames before any media.
		select {
		case frame := <-c.priority:
			if err := c.write(frame); err != nil {
				c.fail(err)
				return
			}
			continue
		default:
		}

		select {
		case <-c.ctx.Done():
			continue
		case <-pingTicker.C:
			deadline := time.Now().Add(c.cfg.WriteTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, []byte("ping"), deadline); err != nil {
				c.fail(err)
				return
			}
		case frame := <-c.priority:
			if err := c.write(frame); err != nil {
				c.fail(err)
				return
			}
		case frame := <-c.media:
			if err := c.write(frame); err != nil {
				c.fail(err)
				return
			}
		}
	}
}

func (c *Conn) write(frame []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, frame)
}

func (c *Conn) fail(err error) {
	c.writeErr = err
	c.cancel()
	_ = c.ws.Close()
}
