package gameclient

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ========================= low-level =========================

// dial открывает websocket; рукопожатие оборачиваем в span
func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	ctx, span := c.tracer.Start(ctx, "gameclient.dial",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("server.url", c.cfg.ServerURL),
			attribute.String("client.id", c.id),
		))
	defer span.End()

	d, release := c.cancellableDialer(ctx)
	conn, resp, err := d.DialContext(ctx, c.cfg.ServerURL, c.cfg.Header)
	release()
	if resp != nil {
		span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "dial failed")
		return nil, err
	}
	return conn, nil
}

// cancellableDialer: DialContext берёт из ctx только дедлайн, поэтому
// сокет перехватываем и при отмене ctx закрываем его. Дедлайн тут не
// годится: gorilla сама выставляет его сразу после net-дозвона.
// release снимает AfterFunc после рукопожатия.
func (c *Client) cancellableDialer(ctx context.Context) (*websocket.Dialer, func()) {
	d := *c.dialer
	base := d.NetDialContext
	switch {
	case base != nil:
	case d.NetDial != nil:
		netDial := d.NetDial
		base = func(_ context.Context, network, addr string) (net.Conn, error) {
			return netDial(network, addr)
		}
	default:
		var nd net.Dialer
		base = nd.DialContext
	}

	var (
		mu    sync.Mutex
		stops []func() bool
	)
	d.NetDialContext = func(dctx context.Context, network, addr string) (net.Conn, error) {
		nc, err := base(dctx, network, addr)
		if err != nil {
			return nil, err
		}
		stop := context.AfterFunc(ctx, func() { _ = nc.Close() })
		mu.Lock()
		stops = append(stops, stop)
		mu.Unlock()
		return nc, nil
	}
	return &d, func() {
		mu.Lock()
		defer mu.Unlock()
		for _, stop := range stops {
			stop()
		}
	}
}

// лимит чтения, pong‑handler с дедлайном и пинги; вызывается под c.mu
func (c *Client) setupConn(ctx context.Context, conn *websocket.Conn) {
	conn.SetReadLimit(c.cfg.ReadLimit)
	c.touchActivity()

	if c.cfg.PingInterval <= 0 {
		return
	}
	_ = conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		c.touchActivity()
		if ctx.Err() != nil {
			// идёт закрытие: дедлайн уже выставлен closeGracefully
			return nil
		}
		return conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})
	go c.pingLoop(ctx, conn)
}

func (c *Client) pingLoop(ctx context.Context, conn *websocket.Conn) {
	t := time.NewTicker(c.cfg.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(c.cfg.WriteTimeout))
			if err != nil && ctx.Err() == nil {
				c.log.Debug("ping_failed", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// closeGracefully отправляет close-кадр и даёт серверу CloseTimeout на ответ;
// readLoop выйдет по ответному close или по дедлайну.
func (c *Client) closeGracefully(conn *websocket.Conn) {
	err := conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "closing"),
		time.Now().Add(c.cfg.WriteTimeout))
	if err != nil {
		// писать уже некуда, ждать ответа бессмысленно
		_ = conn.Close()
		return
	}
	_ = conn.SetReadDeadline(time.Now().Add(c.cfg.CloseTimeout))
}

func (c *Client) touchActivity() {
	c.lastActivity.Store(time.Now().UnixNano())
}

// LastActivity — время последнего принятого кадра или pong; нулевое, если
// соединений ещё не было.
func (c *Client) LastActivity() time.Time {
	n := c.lastActivity.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
