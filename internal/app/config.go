package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/EgorLis/tickclient/internal/follow"
	"github.com/EgorLis/tickclient/internal/gameclient"
	"github.com/joho/godotenv"
)

const envPrefix = "TICKCLIENT_"

// Duration в JSON хранится строкой ("10s").
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"10s\": %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	ServerURL   string `json:"server_url"`
	AutoConnect bool   `json:"auto_connect"`
	// частота цикла потребителя (Drain + Update), Гц
	TickRateHz   int      `json:"tick_rate_hz"`
	PingInterval Duration `json:"ping_interval"`

	// пустой health_url выводится из server_url; health_interval 0 выключает опрос
	HealthURL      string   `json:"health_url"`
	HealthInterval Duration `json:"health_interval"`

	MetricsAddr string `json:"metrics_addr"`
	LogLevel    string `json:"log_level"`
	LogFormat   string `json:"log_format"`

	Follow follow.Settings `json:"follow"`
}

func DefaultConfig() Config {
	return Config{
		ServerURL:      gameclient.DefaultServerURL,
		AutoConnect:    true,
		TickRateHz:     60,
		PingInterval:   Duration(10 * time.Second),
		HealthInterval: Duration(30 * time.Second),
		LogLevel:       "info",
		LogFormat:      "text",
		Follow:         follow.DefaultSettings(),
	}
}

// LoadConfig читает JSON (создаёт файл с умолчаниями, если его нет),
// затем .env и переменные окружения TICKCLIENT_*, затем Validate.
func LoadConfig(path, envFile string) (*Config, error) {
	cs := newConfigStore(path)
	if err := cs.Load(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	if envFile != "" {
		// .env необязателен
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("env file %s: %w", envFile, err)
		}
	}
	cfg := cs.Data()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	loadEnvString(&c.ServerURL, "SERVER_URL")
	if err := loadEnvBool(&c.AutoConnect, "AUTO_CONNECT"); err != nil {
		return err
	}
	loadEnvString(&c.LogLevel, "LOG_LEVEL")
	loadEnvString(&c.MetricsAddr, "METRICS_ADDR")
	loadEnvString(&c.HealthURL, "HEALTH_URL")
	return nil
}

// переменная окружения перекрывает файл только если задана
func loadEnvString(target *string, key string) {
	if v, ok := os.LookupEnv(envPrefix + key); ok && v != "" {
		*target = v
	}
}

func loadEnvBool(target *bool, key string) error {
	v, ok := os.LookupEnv(envPrefix + key)
	if !ok || v == "" {
		return nil
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("invalid boolean value for %s%s: %v", envPrefix, key, err)
	}
	*target = parsed
	return nil
}

// Validate собирает все ошибки конфигурации сразу.
func (c *Config) Validate() error {
	var problems []string

	if u, err := url.Parse(c.ServerURL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		problems = append(problems, "server_url must be a ws:// or wss:// URL")
	}
	if c.HealthURL != "" {
		if u, err := url.Parse(c.HealthURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			problems = append(problems, "health_url must be an http:// or https:// URL")
		}
	}
	if c.TickRateHz < 1 || c.TickRateHz > 1000 {
		problems = append(problems, "tick_rate_hz must be between 1 and 1000")
	}
	if c.PingInterval < 0 {
		problems = append(problems, "ping_interval must not be negative")
	}
	if c.HealthInterval < 0 {
		problems = append(problems, "health_interval must not be negative")
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLogLevels, strings.ToLower(c.LogLevel)) {
		problems = append(problems, fmt.Sprintf("log_level must be one of: %s", strings.Join(validLogLevels, ", ")))
	}
	validLogFormats := []string{"text", "json"}
	if !slices.Contains(validLogFormats, strings.ToLower(c.LogFormat)) {
		problems = append(problems, fmt.Sprintf("log_format must be one of: %s", strings.Join(validLogFormats, ", ")))
	}

	if c.Follow.MovementSpeed <= 0 {
		problems = append(problems, "follow.movement_speed must be positive")
	}
	if c.Follow.PositionScale == 0 {
		problems = append(problems, "follow.position_scale must not be zero")
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(problems, "; "))
	}
	return nil
}

// ClientConfig — настройки gameclient из файла.
func (c *Config) ClientConfig() gameclient.Config {
	cc := gameclient.DefaultConfig()
	cc.ServerURL = c.ServerURL
	cc.AutoConnect = c.AutoConnect
	cc.PingInterval = c.PingInterval.Std()
	return cc
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func (c *Config) FrameInterval() time.Duration {
	if c.TickRateHz <= 0 {
		return time.Second / 60
	}
	return time.Second / time.Duration(c.TickRateHz)
}

// ========================= файл =========================

type configStore struct {
	mu   sync.Mutex
	path string
	data Config
}

func newConfigStore(path string) *configStore {
	return &configStore{path: path, data: DefaultConfig()}
}

func (cs *configStore) Load() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	_ = os.MkdirAll(filepath.Dir(cs.path), 0755)
	b, err := os.ReadFile(cs.path)
	if err != nil {
		if os.IsNotExist(err) {
			return cs.save() // создаём с умолчаниями
		}
		return err
	}
	return json.Unmarshal(b, &cs.data)
}

// вызывать под cs.mu
func (cs *configStore) save() error {
	b, err := json.MarshalIndent(&cs.data, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(cs.path, b, 0644)
}

func (cs *configStore) Data() Config {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.data
}
