package gameclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/EgorLis/tickclient/internal/dispatch"
	"github.com/EgorLis/tickclient/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	welcomeFrame = `{"type":"welcome","message":"Connected to game server!","tick":0,"timestamp":0,"clients_count":1}`
	tickFrame    = `{"type":"tick","tick":3,"timestamp":1.2,"clients_count":2,"unit_location":{"x":1.5,"y":-2},"position_updated":true}`
)

// ========================= тестовый сервер =========================

type wsServer struct {
	*httptest.Server
	accepted atomic.Int32
	received chan []byte
}

// script выполняется сразу после upgrade, потом сервер просто читает
// кадры клиента (close-кадр получает ответ от gorilla автоматически).
func newWSServer(t *testing.T, script func(conn *websocket.Conn)) *wsServer {
	t.Helper()
	s := &wsServer{received: make(chan []byte, 64)}
	up := websocket.Upgrader{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		s.accepted.Add(1)
		if script != nil {
			script(conn)
		}
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if mt == websocket.TextMessage {
				select {
				case s.received <- data:
				default:
				}
			}
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *wsServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + "/ws"
}

func writeText(conn *websocket.Conn, frames ...string) {
	for _, f := range frames {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(f))
	}
}

// ========================= хелперы =========================

type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(e string) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) count(e string) int {
	n := 0
	for _, got := range r.snapshot() {
		if got == e {
			n++
		}
	}
	return n
}

type harness struct {
	c    *Client
	q    *dispatch.Queue
	rec  *recorder
	logs *logBuffer
	reg  *prometheus.Registry
}

func newHarness(t *testing.T, url string) *harness {
	t.Helper()
	logs := &logBuffer{}
	logger := slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	q := dispatch.New(logger)
	reg := prometheus.NewRegistry()

	cfg := DefaultConfig()
	cfg.ServerURL = url
	cfg.PingInterval = 0
	cfg.CloseTimeout = 500 * time.Millisecond
	cfg.WriteTimeout = time.Second
	cfg.SendRate = 0

	c := New(cfg, WithLogger(logger), WithQueue(q), WithRegisterer(reg))
	rec := &recorder{}
	c.OnConnected(func() { rec.add("connected") })
	c.OnDisconnected(func() { rec.add("disconnected") })
	c.OnMessageReceived(func(m *protocol.ServerMessage) { rec.add("msg:" + string(m.Type)) })

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = c.DisconnectContext(ctx)
	})
	return &harness{c: c, q: q, rec: rec, logs: logs, reg: reg}
}

// drainUntil крутит цикл потребителя, пока cond не станет true
func (h *harness) drainUntil(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		h.q.Drain()
		return cond()
	}, 3*time.Second, 5*time.Millisecond)
}

func (h *harness) counter(t *testing.T, name string) float64 {
	t.Helper()
	families, err := h.reg.Gather()
	require.NoError(t, err)
	var fam *dto.MetricFamily
	for _, f := range families {
		if f.GetName() == name {
			fam = f
		}
	}
	if fam == nil {
		return 0
	}
	total := 0.0
	for _, m := range fam.GetMetric() {
		total += m.GetCounter().GetValue()
	}
	return total
}

// ========================= тесты =========================

func TestClient_ConnectReceiveDisconnect(t *testing.T) {
	srv := newWSServer(t, func(conn *websocket.Conn) {
		writeText(conn, welcomeFrame, tickFrame)
	})
	h := newHarness(t, srv.wsURL())

	require.NoError(t, h.c.ConnectContext(context.Background()))
	assert.Equal(t, Connected, h.c.State())

	h.drainUntil(t, func() bool { return h.c.CurrentTick() == 3 })
	assert.True(t, h.c.IsConnected())
	assert.Equal(t, 2, h.c.ConnectedClients())

	require.NoError(t, h.c.DisconnectContext(context.Background()))
	assert.Equal(t, Disconnected, h.c.State())
	h.drainUntil(t, func() bool { return !h.c.IsConnected() })

	assert.Equal(t, []string{"connected", "msg:welcome", "msg:tick", "disconnected"}, h.rec.snapshot())
	assert.Contains(t, h.logs.String(), "connected_to_server")
	assert.Contains(t, h.logs.String(), "disconnected_from_server")
}

func TestClient_ConnectWhileConnectedIsNoop(t *testing.T) {
	srv := newWSServer(t, nil)
	h := newHarness(t, srv.wsURL())

	require.NoError(t, h.c.ConnectContext(context.Background()))
	require.NoError(t, h.c.ConnectContext(context.Background()))

	h.drainUntil(t, func() bool { return h.c.IsConnected() })
	h.q.Drain()

	assert.EqualValues(t, 1, srv.accepted.Load())
	assert.Equal(t, 1, h.rec.count("connected"))
	assert.Contains(t, h.logs.String(), "already_connected_or_connecting")
}

func TestClient_DisconnectTwiceFiresOnce(t *testing.T) {
	srv := newWSServer(t, nil)
	h := newHarness(t, srv.wsURL())

	require.NoError(t, h.c.ConnectContext(context.Background()))
	require.NoError(t, h.c.DisconnectContext(context.Background()))
	require.NoError(t, h.c.DisconnectContext(context.Background()))

	h.drainUntil(t, func() bool { return h.rec.count("disconnected") > 0 })
	h.q.Drain()
	assert.Equal(t, 1, h.rec.count("disconnected"))
	assert.Equal(t, 1.0, h.counter(t, "tickclient_client_disconnects_total"))
}

func TestClient_UnknownTypeDeliveredOnce(t *testing.T) {
	srv := newWSServer(t, func(conn *websocket.Conn) {
		writeText(conn, `{"type":"weather","rain":true}`)
	})
	h := newHarness(t, srv.wsURL())

	require.NoError(t, h.c.ConnectContext(context.Background()))
	h.drainUntil(t, func() bool { return h.rec.count("msg:weather") > 0 })
	h.q.Drain()

	assert.Equal(t, 1, h.rec.count("msg:weather"))
	assert.Zero(t, h.c.CurrentTick())
}

func TestClient_MalformedFrameIsDroppedAndNextDelivered(t *testing.T) {
	srv := newWSServer(t, func(conn *websocket.Conn) {
		writeText(conn, `{not json`, `{"type":"tick","tick":5,"timestamp":2,"clients_count":1}`)
	})
	h := newHarness(t, srv.wsURL())

	require.NoError(t, h.c.ConnectContext(context.Background()))
	h.drainUntil(t, func() bool { return h.c.CurrentTick() == 5 })

	assert.Equal(t, []string{"connected", "msg:tick"}, h.rec.snapshot())
	assert.Contains(t, h.logs.String(), "frame_dropped")
	assert.Equal(t, 1.0, h.counter(t, "tickclient_client_decode_errors_total"))
	assert.Equal(t, 2.0, h.counter(t, "tickclient_client_frames_received_total"))
	assert.Equal(t, Connected, h.c.State())
}

func TestClient_SendWhileDisconnectedWarns(t *testing.T) {
	h := newHarness(t, "ws://127.0.0.1:1/ws")

	h.c.SendTest("hello")
	assert.ErrorIs(t, h.c.send(map[string]string{"type": "test"}), ErrNotConnected)

	assert.Contains(t, h.logs.String(), "send_dropped_not_connected")
	assert.Equal(t, 1.0, h.counter(t, "tickclient_client_send_dropped_total"))
}

func TestClient_SendTestReachesServer(t *testing.T) {
	srv := newWSServer(t, nil)
	h := newHarness(t, srv.wsURL())
	require.NoError(t, h.c.ConnectContext(context.Background()))

	h.c.SendTest("ping from test")

	select {
	case data := <-srv.received:
		var got protocol.TestMessage
		require.NoError(t, json.Unmarshal(data, &got))
		assert.Equal(t, protocol.TypeTest, got.Type)
		assert.Equal(t, "ping from test", got.Message)
		assert.GreaterOrEqual(t, got.Timestamp, 0.0)
		assert.True(t, strings.HasPrefix(string(data), `{"type":"test","message":`))
	case <-time.After(3 * time.Second):
		t.Fatal("server did not receive the test message")
	}
	assert.Equal(t, 1.0, h.counter(t, "tickclient_client_frames_sent_total"))
}

func TestClient_SendRateLimited(t *testing.T) {
	srv := newWSServer(t, nil)
	logs := &logBuffer{}
	logger := slog.New(slog.NewTextHandler(logs, nil))
	cfg := DefaultConfig()
	cfg.ServerURL = srv.wsURL()
	cfg.PingInterval = 0
	cfg.SendRate = 0.001
	cfg.SendBurst = 1
	c := New(cfg, WithLogger(logger), WithQueue(dispatch.New(logger)))
	t.Cleanup(func() { _ = c.DisconnectContext(context.Background()) })

	require.NoError(t, c.ConnectContext(context.Background()))
	require.NoError(t, c.send(protocol.NewTestMessage("a", 0)))
	assert.ErrorIs(t, c.send(protocol.NewTestMessage("b", 0)), ErrRateLimited)

	c.SendTest("c")
	assert.Contains(t, logs.String(), "send_dropped_rate_limited")
}

func TestClient_ConnectFailureReturnsConnectError(t *testing.T) {
	srv := newWSServer(t, nil)
	url := srv.wsURL()
	srv.Close()

	h := newHarness(t, url)
	err := h.c.ConnectContext(context.Background())

	var cerr *ConnectError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, url, cerr.URL)
	assert.Equal(t, Disconnected, h.c.State())

	h.q.Drain()
	assert.Empty(t, h.rec.snapshot())
	assert.Contains(t, h.logs.String(), "connect_failed")
}

func TestClient_DisconnectDuringHandshakeCancelsDial(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	h := newHarness(t, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws")
	errCh := make(chan error, 1)
	go func() { errCh <- h.c.ConnectContext(context.Background()) }()

	require.Eventually(t, func() bool { return h.c.State() == Connecting }, 3*time.Second, time.Millisecond)
	require.NoError(t, h.c.DisconnectContext(context.Background()))

	select {
	case err := <-errCh:
		var cerr *ConnectError
		require.ErrorAs(t, err, &cerr)
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("ConnectContext did not return after Disconnect")
	}
	assert.Equal(t, Disconnected, h.c.State())
	h.q.Drain()
	assert.Empty(t, h.rec.snapshot())
}

// сервер держит рукопожатие дольше HandshakeTimeout; отмена ctx обязана
// оборвать его сразу
func TestClient_CancelledContextAbortsHandshake(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	h := newHarness(t, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws")
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- h.c.ConnectContext(ctx) }()

	require.Eventually(t, func() bool { return h.c.State() == Connecting }, 3*time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond) // TCP уже открыт, ждём ответ на upgrade
	start := time.Now()
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
		assert.Less(t, time.Since(start), time.Second)
	case <-time.After(time.Second):
		t.Fatal("ConnectContext ignored cancellation during handshake")
	}
	assert.Equal(t, Disconnected, h.c.State())
	assert.Contains(t, h.logs.String(), "connect_cancelled")
}

func TestClient_ContextCancelEndsReadLoopQuietly(t *testing.T) {
	srv := newWSServer(t, func(conn *websocket.Conn) {
		writeText(conn, welcomeFrame)
	})
	h := newHarness(t, srv.wsURL())

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, h.c.ConnectContext(ctx))
	h.drainUntil(t, func() bool { return h.rec.count("msg:welcome") == 1 })

	cancel()
	h.drainUntil(t, func() bool { return h.rec.count("disconnected") == 1 })

	assert.Equal(t, Disconnected, h.c.State())
	assert.NotContains(t, h.logs.String(), "read_failed")
	assert.Zero(t, h.counter(t, "tickclient_client_transport_errors_total"))
}

func TestClient_ServerCloseFiresDisconnected(t *testing.T) {
	srv := newWSServer(t, func(conn *websocket.Conn) {
		writeText(conn, welcomeFrame)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"),
			time.Now().Add(time.Second))
	})
	h := newHarness(t, srv.wsURL())

	require.NoError(t, h.c.ConnectContext(context.Background()))
	h.drainUntil(t, func() bool { return h.rec.count("disconnected") == 1 })

	assert.Equal(t, []string{"connected", "msg:welcome", "disconnected"}, h.rec.snapshot())
	assert.Contains(t, h.logs.String(), "server_closed_connection")
	assert.False(t, h.c.IsConnected())
}

func TestClient_AbruptDropIsTransportError(t *testing.T) {
	srv := newWSServer(t, func(conn *websocket.Conn) {
		_ = conn.UnderlyingConn().Close()
	})
	h := newHarness(t, srv.wsURL())

	require.NoError(t, h.c.ConnectContext(context.Background()))
	h.drainUntil(t, func() bool { return h.rec.count("disconnected") == 1 })

	assert.Equal(t, 1.0, h.counter(t, "tickclient_client_transport_errors_total"))
}

func TestClient_NothingDeliveredAfterDisconnected(t *testing.T) {
	srv := newWSServer(t, func(conn *websocket.Conn) {
		go func() {
			for i := 1; ; i++ {
				frame := `{"type":"tick","tick":` + strconv.Itoa(i) + `,"timestamp":0,"clients_count":1}`
				if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
					return
				}
				time.Sleep(2 * time.Millisecond)
			}
		}()
	})
	h := newHarness(t, srv.wsURL())
	var ticks []int64
	h.c.OnMessageReceived(func(m *protocol.ServerMessage) {
		if m.Type == protocol.TypeTick {
			ticks = append(ticks, m.Tick)
		}
	})

	require.NoError(t, h.c.ConnectContext(context.Background()))
	h.drainUntil(t, func() bool { return h.rec.count("msg:tick") >= 5 })

	require.NoError(t, h.c.DisconnectContext(context.Background()))
	h.drainUntil(t, func() bool { return h.rec.count("disconnected") == 1 })
	time.Sleep(20 * time.Millisecond)
	h.q.Drain()

	events := h.rec.snapshot()
	assert.Equal(t, "disconnected", events[len(events)-1])

	// кадры доходят в порядке отправки, без пропусков и повторов
	require.GreaterOrEqual(t, len(ticks), 5)
	for i, tick := range ticks {
		assert.EqualValues(t, i+1, tick, "tick #%d", i)
	}
}

func TestClient_ReconnectAfterDisconnect(t *testing.T) {
	srv := newWSServer(t, nil)
	h := newHarness(t, srv.wsURL())

	require.NoError(t, h.c.ConnectContext(context.Background()))
	require.NoError(t, h.c.DisconnectContext(context.Background()))
	require.NoError(t, h.c.ConnectContext(context.Background()))
	h.drainUntil(t, func() bool { return h.rec.count("connected") == 2 })

	assert.Equal(t, []string{"connected", "disconnected", "connected"}, h.rec.snapshot())
	assert.EqualValues(t, 2, srv.accepted.Load())
	assert.True(t, h.c.IsConnected())
}

func TestClient_UnsubscribeStopsDelivery(t *testing.T) {
	srv := newWSServer(t, func(conn *websocket.Conn) {
		writeText(conn, welcomeFrame)
	})
	h := newHarness(t, srv.wsURL())

	var extra atomic.Int32
	unsub := h.c.OnConnected(func() { extra.Add(1) })
	unsub()
	unsub()

	require.NoError(t, h.c.ConnectContext(context.Background()))
	h.drainUntil(t, func() bool { return h.rec.count("msg:welcome") == 1 })
	assert.Zero(t, extra.Load())
	assert.Equal(t, 1, h.rec.count("connected"))
}

func TestClient_EchoCarriesOriginal(t *testing.T) {
	srv := newWSServer(t, func(conn *websocket.Conn) {
		writeText(conn, `{"type":"echo","original":{"type":"test","message":"hi","timestamp":1},"tick":7}`)
	})
	h := newHarness(t, srv.wsURL())

	var got atomic.Pointer[protocol.ServerMessage]
	h.c.OnMessageReceived(func(m *protocol.ServerMessage) {
		if m.Type == protocol.TypeEcho {
			got.Store(m)
		}
	})
	require.NoError(t, h.c.ConnectContext(context.Background()))
	h.drainUntil(t, func() bool { return got.Load() != nil })

	orig, err := got.Load().OriginalStruct()
	require.NoError(t, err)
	assert.Equal(t, "hi", orig.GetFields()["message"].GetStringValue())
	// echo не меняет текущий тик
	assert.Zero(t, h.c.CurrentTick())
}

func TestClient_PingKeepsConnectionAlive(t *testing.T) {
	var pings atomic.Int32
	srv := newWSServer(t, func(conn *websocket.Conn) {
		conn.SetPingHandler(func(data string) error {
			pings.Add(1)
			return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
		})
	})
	h := newHarness(t, srv.wsURL())
	h.c.cfg.PingInterval = 20 * time.Millisecond
	h.c.cfg.PongWait = 200 * time.Millisecond

	before := time.Now()
	require.NoError(t, h.c.ConnectContext(context.Background()))
	require.Eventually(t, func() bool { return pings.Load() >= 3 }, 3*time.Second, 5*time.Millisecond)

	assert.Equal(t, Connected, h.c.State())
	assert.True(t, h.c.LastActivity().After(before))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "disconnected", Disconnected.String())
	assert.Equal(t, "connecting", Connecting.String())
	assert.Equal(t, "connected", Connected.String())
	assert.Equal(t, "disconnecting", Disconnecting.String())
}

func TestErrors_Unwrap(t *testing.T) {
	base := errors.New("boom")
	assert.ErrorIs(t, &ConnectError{URL: "ws://x", Err: base}, base)
	assert.ErrorIs(t, &TransportError{Op: "read", Err: base}, base)
	assert.Contains(t, (&ConnectError{URL: "ws://x", Err: base}).Error(), "ws://x")
}
