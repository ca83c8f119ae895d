package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/EgorLis/tickclient/internal/dispatch"
	"github.com/EgorLis/tickclient/internal/follow"
	"github.com/EgorLis/tickclient/internal/gameclient"
	"github.com/EgorLis/tickclient/internal/healthprobe"
	"github.com/EgorLis/tickclient/internal/lifecycle"
	"github.com/EgorLis/tickclient/internal/status"
	"github.com/prometheus/client_golang/prometheus"
)

type App struct {
	cfg Config
	log *slog.Logger
	out io.Writer
	reg prometheus.Registerer

	queue    *dispatch.Queue
	client   *gameclient.Client
	trigger  *lifecycle.Trigger
	follower *follow.Follower
	display  *status.Display
	probe    *healthprobe.Client

	watchOS bool

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
	unsubs []gameclient.Unsubscribe
}

type Option func(*App)

func WithLogger(l *slog.Logger) Option {
	return func(a *App) {
		if l != nil {
			a.log = l
		}
	}
}

// WithOutput — куда печатать ответы команд и строку статуса (по умолчанию stdout).
func WithOutput(w io.Writer) Option {
	return func(a *App) { a.out = w }
}

func WithRegisterer(r prometheus.Registerer) Option {
	return func(a *App) { a.reg = r }
}

// WithQueue заменяет общую очередь процесса (удобно в тестах).
func WithQueue(q *dispatch.Queue) Option {
	return func(a *App) { a.queue = q }
}

// WithoutOSSignals отключает SIGUSR1/SIGUSR2/SIGCONT.
func WithoutOSSignals() Option {
	return func(a *App) { a.watchOS = false }
}

func New(cfg Config, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &App{
		cfg:     cfg,
		log:     slog.Default(),
		out:     os.Stdout,
		watchOS: true,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.queue == nil {
		a.queue = dispatch.Default()
	}

	a.client = gameclient.New(cfg.ClientConfig(),
		gameclient.WithLogger(a.log),
		gameclient.WithQueue(a.queue),
		gameclient.WithRegisterer(a.reg),
	)
	a.trigger = lifecycle.New(a.client, cfg.AutoConnect, a.log)
	a.follower = follow.New(cfg.Follow, a.log)
	a.display = status.New(a.out)

	base := cfg.HealthURL
	if base == "" {
		b, err := healthprobe.BaseFromWS(cfg.ServerURL)
		if err != nil {
			return nil, err
		}
		base = b
	}
	a.probe = healthprobe.New(base, a.log)
	return a, nil
}

func (a *App) Client() *gameclient.Client { return a.client }
func (a *App) Trigger() *lifecycle.Trigger { return a.trigger }
func (a *App) Follower() *follow.Follower { return a.follower }
func (a *App) Display() *status.Display { return a.display }
func (a *App) Queue() *dispatch.Queue { return a.queue }

// Start подписывает потребителей, запускает цикл потребителя и Trigger
// (который подключится сам при auto_connect).
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.cancel != nil {
		a.mu.Unlock()
		return errors.New("app: already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.unsubs = append(a.unsubs,
		a.client.OnConnected(a.display.OnConnected),
		a.client.OnDisconnected(a.display.OnDisconnected),
		a.client.OnConnected(func() { a.log.Info("connected_to_game_server") }),
		a.client.OnDisconnected(func() { a.log.Info("disconnected_from_game_server") }),
		a.client.OnMessageReceived(a.logMessage),
		a.client.OnMessageReceived(a.follower.HandleMessage),
	)
	a.mu.Unlock()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.queue.Run(runCtx, a.cfg.FrameInterval(), func(dt time.Duration) {
			a.follower.Update(float32(dt.Seconds()))
		})
	}()

	if err := a.trigger.Start(); err != nil {
		cancel()
		a.wg.Wait()
		return err
	}
	if a.watchOS {
		lifecycle.WatchOS(runCtx, a.trigger)
	}

	if a.cfg.HealthInterval > 0 {
		notify := func(s string) {
			a.queue.Enqueue(func() { a.say("[health] " + s) })
		}
		if err := a.probe.StartScan(a.cfg.HealthInterval.Std(), notify); err != nil {
			a.log.Warn("health_scan_not_started", "error", err)
		}
	}

	a.log.Info("app_started", "server_url", a.cfg.ServerURL, "auto_connect", a.cfg.AutoConnect, "client_id", a.client.ID())
	return nil
}

// Stop отключает клиента и останавливает цикл потребителя. Повторный вызов ничего не делает.
func (a *App) Stop() {
	a.mu.Lock()
	cancel := a.cancel
	a.cancel = nil
	unsubs := a.unsubs
	a.unsubs = nil
	a.mu.Unlock()
	if cancel == nil {
		return
	}

	a.probe.Stop()
	a.trigger.Stop()
	// trigger.Stop ждёт дольше CloseBudget клиента, поэтому OnDisconnected
	// уже в очереди: Run выполнит его финальным Drain
	cancel()
	a.wg.Wait()

	for _, u := range unsubs {
		u()
	}
	a.log.Info("app_stopped")
}

func (a *App) say(s string) {
	_, _ = fmt.Fprintln(a.out, s)
}
