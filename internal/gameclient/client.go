package gameclient

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/EgorLis/tickclient/internal/dispatch"
	"github.com/EgorLis/tickclient/internal/protocol"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

const DefaultServerURL = "ws://localhost:8080/ws"

const tracerName = "github.com/EgorLis/tickclient/internal/gameclient"

type Config struct {
	ServerURL   string `json:"server_url"`
	AutoConnect bool   `json:"auto_connect"`

	HandshakeTimeout time.Duration `json:"-"`
	CloseTimeout     time.Duration `json:"-"` // сколько ждём ответный close при отключении
	WriteTimeout     time.Duration `json:"-"`

	// keep-alive: 0 выключает пинги и дедлайн чтения
	PingInterval time.Duration `json:"-"`
	PongWait     time.Duration `json:"-"`

	ReadLimit int64 `json:"-"`

	// лимит исходящих сообщений в секунду, 0 без лимита
	SendRate  float64 `json:"-"`
	SendBurst int     `json:"-"`

	Header http.Header `json:"-"`
}

func DefaultConfig() Config {
	return Config{
		ServerURL:        DefaultServerURL,
		AutoConnect:      true,
		HandshakeTimeout: 10 * time.Second,
		CloseTimeout:     2 * time.Second,
		WriteTimeout:     5 * time.Second,
		PingInterval:     10 * time.Second,
		PongWait:         30 * time.Second,
		ReadLimit:        64 << 20,
		SendRate:         10,
		SendBurst:        20,
	}
}

// нулевые поля берём из DefaultConfig (кроме PingInterval и SendRate:
// там ноль значит «выключено»)
func (cfg Config) withDefaults() Config {
	def := DefaultConfig()
	if cfg.ServerURL == "" {
		cfg.ServerURL = def.ServerURL
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = def.CloseTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.PingInterval > 0 && cfg.PongWait <= cfg.PingInterval {
		cfg.PongWait = 3 * cfg.PingInterval
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = def.ReadLimit
	}
	if cfg.SendRate > 0 && cfg.SendBurst <= 0 {
		cfg.SendBurst = 1
	}
	return cfg
}

type Client struct {
	cfg     Config
	id      string
	log     *slog.Logger
	queue   *dispatch.Queue
	dialer  *websocket.Dialer
	tracer  trace.Tracer
	reg     prometheus.Registerer
	metrics *metrics
	limiter *rate.Limiter
	started time.Time

	mu     sync.Mutex // state, conn, cancel, done
	state  State
	conn   *websocket.Conn
	cancel context.CancelFunc
	done   chan struct{} // закрывается, когда readLoop текущего соединения вышел

	wmu          sync.Mutex   // сериализует запись в websocket
	lastActivity atomic.Int64 // unix nanos последнего принятого кадра/pong

	// статус для подписчиков: пишется только действиями из очереди
	connected atomic.Bool
	tick      atomic.Int64
	clients   atomic.Int64

	onConnected    observers[struct{}]
	onDisconnected observers[struct{}]
	onMessage      observers[*protocol.ServerMessage]
}

type Option func(*Client)

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithQueue задаёт очередь потребителя. По умолчанию dispatch.Default().
func WithQueue(q *dispatch.Queue) Option {
	return func(c *Client) { c.queue = q }
}

func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

func WithRegisterer(r prometheus.Registerer) Option {
	return func(c *Client) { c.reg = r }
}

func WithTracer(t trace.Tracer) Option {
	return func(c *Client) { c.tracer = t }
}

func New(cfg Config, opts ...Option) *Client {
	c := &Client{
		cfg:     cfg.withDefaults(),
		id:      uuid.NewString(),
		log:     slog.Default(),
		started: time.Now(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.queue == nil {
		c.queue = dispatch.Default()
	}
	if c.dialer == nil {
		d := *websocket.DefaultDialer
		d.HandshakeTimeout = c.cfg.HandshakeTimeout
		c.dialer = &d
	}
	if c.tracer == nil {
		c.tracer = otel.Tracer(tracerName)
	}
	if c.cfg.SendRate > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(c.cfg.SendRate), c.cfg.SendBurst)
	}
	c.log = c.log.With("client_id", c.id)
	c.metrics = newMetrics(c.reg, c.id)
	return c
}

// Connect — асинхронное подключение «выстрелил и забыл»: ошибки только в лог,
// результат видно по событиям и статусу.
func (c *Client) Connect() {
	go func() { _ = c.ConnectContext(context.Background()) }()
}

// Disconnect — асинхронное отключение, повторный вызов ничего не делает.
func (c *Client) Disconnect() {
	go func() { _ = c.DisconnectContext(context.Background()) }()
}

// ConnectContext устанавливает WebSocket и запускает readLoop.
// ctx ограничивает рукопожатие и живёт вместе с соединением: его отмена
// мягко завершает readLoop так же, как Disconnect.
// Повторный вызов во время Connecting/Connected пишет в лог и возвращает nil.
func (c *Client) ConnectContext(ctx context.Context) error {
	c.mu.Lock()
	switch st := c.state; st {
	case Connecting, Connected:
		c.mu.Unlock()
		c.log.Warn("already_connected_or_connecting", "state", st.String())
		return nil
	case Disconnecting:
		c.mu.Unlock()
		c.log.Warn("disconnect_in_progress")
		return nil
	}
	connCtx, cancel := context.WithCancel(ctx)
	c.setState(Connecting)
	c.cancel = cancel
	c.mu.Unlock()

	conn, err := c.dial(connCtx)

	c.mu.Lock()
	if err == nil && connCtx.Err() != nil {
		// Disconnect пришёл, пока шло рукопожатие
		_ = conn.Close()
		err = connCtx.Err()
	}
	if err != nil {
		cancelled := connCtx.Err() != nil
		c.setState(Disconnected)
		c.cancel = nil
		c.mu.Unlock()
		cancel()

		cerr := &ConnectError{URL: c.cfg.ServerURL, Err: err}
		if cancelled {
			c.metrics.connects.WithLabelValues("cancelled").Inc()
			c.log.Info("connect_cancelled", "server_url", c.cfg.ServerURL)
			if !errors.Is(err, context.Canceled) {
				cerr.Err = context.Canceled
			}
		} else {
			c.metrics.connects.WithLabelValues("error").Inc()
			c.log.Error("connect_failed", "server_url", c.cfg.ServerURL, "error", err)
		}
		return cerr
	}

	done := make(chan struct{})
	c.setState(Connected)
	c.conn = conn
	c.done = done
	c.setupConn(connCtx, conn)
	// под c.mu: OnConnected не обгонит OnDisconnected прошлого соединения
	c.queue.Enqueue(c.handleConnected)
	c.mu.Unlock()

	c.metrics.connects.WithLabelValues("ok").Inc()
	c.log.Info("connected_to_server", "server_url", c.cfg.ServerURL)

	go c.readLoop(connCtx, cancel, conn, done)
	return nil
}

// DisconnectContext отменяет readLoop, отправляет close и ждёт закрытия
// не дольше CloseTimeout+WriteTimeout (или до отмены ctx).
func (c *Client) DisconnectContext(ctx context.Context) error {
	c.mu.Lock()
	st := c.state
	conn, cancel, done := c.conn, c.cancel, c.done
	switch st {
	case Disconnected:
		c.mu.Unlock()
		return nil
	case Connecting:
		c.mu.Unlock()
		c.log.Info("connect_aborted")
		cancel()
		return nil
	case Connected:
		c.setState(Disconnecting)
	}
	c.mu.Unlock()

	if st == Connected {
		c.log.Info("disconnecting", "server_url", c.cfg.ServerURL)
		cancel()
	}

	t := time.NewTimer(c.CloseBudget())
	defer t.Stop()
	select {
	case <-done:
		return nil
	case <-t.C:
		c.log.Warn("close_timeout")
		_ = conn.Close()
		<-done
		return nil
	case <-ctx.Done():
		_ = conn.Close()
		return ctx.Err()
	}
}

// вызывать под c.mu
func (c *Client) setState(s State) {
	c.state = s
	c.metrics.state.Set(float64(s))
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CloseBudget — сколько DisconnectContext ждёт ответный close, прежде чем
// закрыть сокет сам.
func (c *Client) CloseBudget() time.Duration {
	return c.cfg.CloseTimeout + c.cfg.WriteTimeout
}

func (c *Client) ID() string { return c.id }
func (c *Client) Config() Config { return c.cfg }
func (c *Client) Queue() *dispatch.Queue { return c.queue }

// IsConnected, CurrentTick и ConnectedClients обновляются только на
// горутине потребителя, после Drain.
func (c *Client) IsConnected() bool { return c.connected.Load() }
func (c *Client) CurrentTick() int64 { return c.tick.Load() }
func (c *Client) ConnectedClients() int { return int(c.clients.Load()) }

func (c *Client) OnConnected(fn func()) Unsubscribe {
	if fn == nil {
		return func() {}
	}
	return c.onConnected.add(func(struct{}) { fn() })
}

func (c *Client) OnDisconnected(fn func()) Unsubscribe {
	if fn == nil {
		return func() {}
	}
	return c.onDisconnected.add(func(struct{}) { fn() })
}

func (c *Client) OnMessageReceived(fn func(*protocol.ServerMessage)) Unsubscribe {
	if fn == nil {
		return func() {}
	}
	return c.onMessage.add(fn)
}

// ========================= действия на горутине потребителя =========================

func (c *Client) handleConnected() {
	c.connected.Store(true)
	c.onConnected.emit(struct{}{})
}

func (c *Client) handleDisconnected() {
	c.connected.Store(false)
	c.log.Info("disconnected_from_server")
	c.onDisconnected.emit(struct{}{})
}

func (c *Client) handleMessage(msg *protocol.ServerMessage) {
	switch msg.Type {
	case protocol.TypeTick:
		c.tick.Store(msg.Tick)
		c.clients.Store(int64(msg.ClientsCount))
		c.metrics.lastTick.Set(float64(msg.Tick))
		c.log.Debug("game_tick", "tick", msg.Tick, "clients", msg.ClientsCount, "timestamp", msg.Timestamp)
	case protocol.TypeWelcome:
		c.log.Info("welcome", "message", msg.Message, "tick", msg.Tick)
	case protocol.TypeEcho:
		c.log.Info("echo", "tick", msg.Tick)
	default:
		c.log.Debug("unrecognized_message", "type", string(msg.Type))
	}
	c.onMessage.emit(msg)
}
