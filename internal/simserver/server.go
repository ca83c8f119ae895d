package simserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/EgorLis/tickclient/internal/protocol"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const WelcomeText = "Connected to game server!"

type Config struct {
	TickInterval time.Duration
	MoveEvery    int64   // юнит перемещается каждые N тиков
	Bound        float64 // координаты в [-Bound, Bound]
	IdleTimeout  time.Duration
}

func DefaultConfig() Config {
	return Config{
		TickInterval: 400 * time.Millisecond,
		MoveEvery:    4,
		Bound:        9.99,
		IdleTimeout:  60 * time.Second,
	}
}

// Server — эталонный игровой сервер: рассылает тики всем подключённым,
// отвечает echo на любые JSON-сообщения.
type Server struct {
	cfg     Config
	log     *slog.Logger
	started time.Time

	upgrader websocket.Upgrader

	mu       sync.Mutex
	rng      *rand.Rand
	peers    map[string]*peer
	tick     int64
	unit     protocol.UnitLocation
	lastMove int64
}

func New(cfg Config, logger *slog.Logger) *Server {
	def := DefaultConfig()
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	if cfg.MoveEvery <= 0 {
		cfg.MoveEvery = def.MoveEvery
	}
	if cfg.Bound <= 0 {
		cfg.Bound = def.Bound
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:     cfg,
		log:     logger,
		started: time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		rng:   rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15)),
		peers: make(map[string]*peer),
	}
	s.unit = s.randomLocation()
	return s
}

// Handler — маршруты /ws, /health, /unit.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/ws", s.handleWS)
	r.Get("/health", s.handleHealth)
	r.Get("/unit", s.handleUnit)
	return r
}

// Run двигает тики с интервалом TickInterval до отмены ctx, затем
// закрывает все соединения.
func (s *Server) Run(ctx context.Context) {
	s.log.Info("game_loop_started", "tick_interval", s.cfg.TickInterval)
	t := time.NewTicker(s.cfg.TickInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			s.Step()
		case <-ctx.Done():
			s.Close()
			s.log.Info("game_loop_stopped", "tick", s.Tick())
			return
		}
	}
}

// Step — один тик: каждые MoveEvery тиков новая позиция юнита, затем
// рассылка всем клиентам.
func (s *Server) Step() {
	s.mu.Lock()
	s.tick++
	moved := s.tick%s.cfg.MoveEvery == 0
	if moved {
		s.unit = s.randomLocation()
		s.lastMove = s.tick
	}
	loc := s.unit
	frame := tickFrame{
		Type:            protocol.TypeTick,
		Tick:            s.tick,
		Timestamp:       unixSeconds(time.Now()),
		ClientsCount:    len(s.peers),
		UnitLocation:    &loc,
		PositionUpdated: moved,
	}
	data, err := protocol.Encode(frame)
	if err == nil {
		for _, p := range s.peers {
			p.enqueue(data)
		}
	}
	tick, clients := s.tick, len(s.peers)
	s.mu.Unlock()

	if err != nil {
		s.log.Error("tick_encode_failed", "error", err)
		return
	}
	if moved {
		s.log.Debug("unit_moved", "x", loc.X, "y", loc.Y, "tick", tick)
	}
	s.log.Debug("tick", "tick", tick, "clients", clients)
}

func (s *Server) Tick() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tick
}

func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

func (s *Server) Unit() protocol.UnitLocation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unit
}

// Close отключает всех клиентов.
func (s *Server) Close() {
	s.mu.Lock()
	peers := make([]*peer, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.Unlock()
	for _, p := range peers {
		p.close()
	}
}

// вызывать под s.mu
func (s *Server) randomLocation() protocol.UnitLocation {
	b := s.cfg.Bound
	return protocol.UnitLocation{
		X: -b + s.rng.Float64()*2*b,
		Y: -b + s.rng.Float64()*2*b,
	}
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// ========================= HTTP =========================

type healthResponse struct {
	Status  string  `json:"status"`
	Tick    int64   `json:"tick"`
	Clients int     `json:"clients"`
	Uptime  float64 `json:"uptime"`
}

type unitResponse struct {
	UnitLocation            protocol.UnitLocation `json:"unit_location"`
	Tick                    int64                 `json:"tick"`
	LastPositionUpdateTick  int64                 `json:"last_position_update_tick"`
	PositionUpdatedThisTick bool                  `json:"position_updated_this_tick"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	resp := healthResponse{
		Status:  "healthy",
		Tick:    s.tick,
		Clients: len(s.peers),
		Uptime:  time.Since(s.started).Seconds(),
	}
	s.mu.Unlock()
	writeJSON(w, resp)
}

func (s *Server) handleUnit(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	resp := unitResponse{
		UnitLocation:            s.unit,
		Tick:                    s.tick,
		LastPositionUpdateTick:  s.lastMove,
		PositionUpdatedThisTick: s.tick > 0 && s.tick%s.cfg.MoveEvery == 0,
	}
	s.mu.Unlock()
	writeJSON(w, resp)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("upgrade_failed", "error", err)
		return
	}
	p := newPeer(uuid.NewString(), conn, s.cfg.IdleTimeout, s.log)

	// welcome кладём в очередь до регистрации: он всегда первый
	s.mu.Lock()
	welcome, _ := protocol.Encode(welcomeFrame{Type: protocol.TypeWelcome, Message: WelcomeText, Tick: s.tick})
	p.enqueue(welcome)
	s.peers[p.id] = p
	total := len(s.peers)
	s.mu.Unlock()

	s.log.Info("client_connected", "peer_id", p.id, "clients", total)

	go p.writePump()
	p.readPump(s.handleFrame)

	s.mu.Lock()
	delete(s.peers, p.id)
	total = len(s.peers)
	s.mu.Unlock()
	s.log.Info("client_disconnected", "peer_id", p.id, "clients", total)
}

// любое JSON-сообщение возвращается отправителю как echo
func (s *Server) handleFrame(p *peer, data []byte) {
	if !json.Valid(data) {
		s.log.Error("invalid_json_received", "peer_id", p.id, "data", string(data))
		return
	}
	s.log.Info("received_from_client", "peer_id", p.id, "data", string(data))

	s.mu.Lock()
	tick := s.tick
	s.mu.Unlock()

	reply, err := protocol.Encode(echoFrame{Type: protocol.TypeEcho, Original: data, Tick: tick})
	if err != nil {
		s.log.Error("echo_encode_failed", "peer_id", p.id, "error", err)
		return
	}
	p.enqueue(reply)
}
