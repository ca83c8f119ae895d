package gameclient

import (
	"errors"
	"time"

	"github.com/EgorLis/tickclient/internal/protocol"
	"github.com/gorilla/websocket"
)

// ========================= high-level API  =========================

// Send кодирует payload в JSON и пишет одним текстовым кадром.
// Вне Connected или сверх лимита сообщение отбрасывается с предупреждением.
func (c *Client) Send(payload any) {
	err := c.send(payload)
	switch {
	case err == nil:
	case errors.Is(err, ErrNotConnected):
		c.metrics.sendDropped.WithLabelValues("not_connected").Inc()
		c.log.Warn("send_dropped_not_connected")
	case errors.Is(err, ErrRateLimited):
		c.metrics.sendDropped.WithLabelValues("rate_limited").Inc()
		c.log.Warn("send_dropped_rate_limited")
	default:
		var terr *TransportError
		if errors.As(err, &terr) {
			c.metrics.sendDropped.WithLabelValues("transport").Inc()
			c.log.Error("send_failed", "error", err)
			return
		}
		c.metrics.sendDropped.WithLabelValues("encode").Inc()
		c.log.Error("send_encode_failed", "error", err)
	}
}

// SendTest отправляет {"type":"test"} с отметкой времени в секундах от
// создания клиента.
func (c *Client) SendTest(text string) {
	c.Send(protocol.NewTestMessage(text, c.elapsed()))
}

func (c *Client) elapsed() float64 {
	return time.Since(c.started).Seconds()
}

func (c *Client) send(payload any) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.state == Connected
	c.mu.Unlock()
	if !connected || conn == nil {
		return ErrNotConnected
	}

	data, err := protocol.Encode(payload)
	if err != nil {
		return err
	}
	if c.limiter != nil && !c.limiter.Allow() {
		return ErrRateLimited
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.metrics.transportErrors.Inc()
		return &TransportError{Op: "write", Err: err}
	}
	c.metrics.framesSent.Inc()
	return nil
}
