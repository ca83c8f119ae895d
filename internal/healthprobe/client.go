package healthprobe

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/EgorLis/tickclient/internal/protocol"
)

// Client опрашивает HTTP-эндпоинты игрового сервера (/health, /unit).
type Client struct {
	http *http.Client
	base string
	log  *slog.Logger

	mu      sync.RWMutex
	last    *Health // последний успешный ответ /health
	healthy bool
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

type Health struct {
	Status  string  `json:"status"`
	Tick    int64   `json:"tick"`
	Clients int     `json:"clients"`
	Uptime  float64 `json:"uptime"`
}

type Unit struct {
	UnitLocation            protocol.UnitLocation `json:"unit_location"`
	Tick                    int64                 `json:"tick"`
	LastPositionUpdateTick  int64                 `json:"last_position_update_tick"`
	PositionUpdatedThisTick bool                  `json:"position_updated_this_tick"`
}

// StatusError — сервер ответил не 2xx.
type StatusError struct {
	Path string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("healthprobe: %s: unexpected status %d", e.Path, e.Code)
}

// New принимает базовый http(s) адрес сервера, например http://localhost:8080.
func New(base string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		http: &http.Client{Timeout: 10 * time.Second},
		base: strings.TrimRight(base, "/"),
		log:  logger,
	}
}

// BaseFromWS выводит http-адрес из адреса websocket:
// ws://host:8080/ws → http://host:8080.
func BaseFromWS(wsURL string) (string, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return "", fmt.Errorf("healthprobe: parse %q: %w", wsURL, err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	default:
		return "", fmt.Errorf("healthprobe: unsupported scheme %q", u.Scheme)
	}
	u.Path, u.RawQuery, u.Fragment = "", "", ""
	return u.String(), nil
}

func (c *Client) Health(ctx context.Context) (*Health, error) {
	var h Health
	if err := c.get(ctx, "/health", &h); err != nil {
		return nil, err
	}
	return &h, nil
}

func (c *Client) Unit(ctx context.Context) (*Unit, error) {
	var u Unit
	if err := c.get(ctx, "/unit", &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// Last — последний успешный /health (nil, если ещё не было).
func (c *Client) Last() *Health {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.last == nil {
		return nil
	}
	cp := *c.last
	return &cp
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return fmt.Errorf("healthprobe: %s: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("healthprobe: %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return &StatusError{Path: path, Code: resp.StatusCode}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("healthprobe: %s: decode: %w", path, err)
	}
	return nil
}
