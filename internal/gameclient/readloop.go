package gameclient

import (
	"context"
	"errors"

	"github.com/EgorLis/tickclient/internal/protocol"
	"github.com/gorilla/websocket"
)

// readLoop — единственный читатель соединения. На выходе ровно один раз
// ставит в очередь OnDisconnected и закрывает done.
func (c *Client) readLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, done chan struct{}) {
	// отмена (Disconnect или родительский ctx) → close-кадр, ReadMessage вернёт ошибку
	stopClose := context.AfterFunc(ctx, func() { c.closeGracefully(conn) })

	defer func() {
		stopClose()
		cancel()
		_ = conn.Close()

		c.mu.Lock()
		if c.conn == conn {
			c.setState(Disconnected)
			c.conn = nil
			c.cancel = nil
			c.done = nil
			c.queue.Enqueue(c.handleDisconnected)
		}
		c.mu.Unlock()

		c.metrics.disconnects.Inc()
		close(done)
	}()

	for {
		if ctx.Err() != nil {
			return
		}
		mt, data, err := conn.ReadMessage()
		if err != nil {
			c.logReadError(ctx, err)
			return
		}
		c.touchActivity()

		if mt != websocket.TextMessage {
			c.log.Debug("non_text_frame_ignored", "message_type", mt)
			continue
		}
		c.metrics.framesReceived.Inc()

		msg, derr := protocol.Decode(data)
		if derr != nil {
			c.metrics.decodeErrors.Inc()
			c.log.Warn("frame_dropped", "error", derr, "size", len(data))
			continue
		}
		if ctx.Err() != nil {
			// после отмены ничего не доставляем
			return
		}
		c.queue.Enqueue(func() { c.handleMessage(msg) })
	}
}

func (c *Client) logReadError(ctx context.Context, err error) {
	switch {
	case ctx.Err() != nil:
		// штатное закрытие по нашей инициативе
		c.log.Debug("read_loop_stopped", "reason", ctx.Err())
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		c.log.Info("server_closed_connection", "error", err)
	default:
		c.metrics.transportErrors.Inc()
		terr := &TransportError{Op: "read", Err: err}
		var ce *websocket.CloseError
		if errors.As(err, &ce) {
			c.log.Warn("connection_closed_abnormally", "code", ce.Code, "error", terr)
			return
		}
		c.log.Error("read_failed", "error", terr)
	}
}
