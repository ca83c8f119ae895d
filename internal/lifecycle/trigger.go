package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Signal — событие хост-окружения.
type Signal int

const (
	Pause Signal = iota + 1
	Resume
	FocusLost
	FocusGained

	// внутренний: первое подключение при Start
	startup
)

func (s Signal) String() string {
	switch s {
	case Pause:
		return "pause"
	case Resume:
		return "resume"
	case FocusLost:
		return "focus_lost"
	case FocusGained:
		return "focus_gained"
	case startup:
		return "startup"
	}
	return "unknown"
}

// Connector — то, чем управляет Trigger (gameclient.Client).
type Connector interface {
	ConnectContext(ctx context.Context) error
	DisconnectContext(ctx context.Context) error
}

// closeBudgeter: коннектор сообщает, сколько максимум длится его отключение
// (gameclient.Client). Stop ждёт на stopMargin дольше.
type closeBudgeter interface {
	CloseBudget() time.Duration
}

const (
	signalBuffer       = 32
	defaultStopTimeout = 5 * time.Second
	stopMargin         = time.Second
)

var ErrAlreadyStarted = errors.New("lifecycle: already started")

// Trigger переводит сигналы хоста в Connect/Disconnect. Сигналы
// обрабатывает одна горутина в порядке поступления, каждый не больше
// одной попытки подключения. Повторов и backoff нет.
type Trigger struct {
	c           Connector
	autoConnect bool
	log         *slog.Logger

	// сколько ждём отключения в Stop; по умолчанию CloseBudget коннектора
	// плюс stopMargin
	StopTimeout time.Duration

	signals chan Signal
	started atomic.Bool
	handled atomic.Int64

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(c Connector, autoConnect bool, logger *slog.Logger) *Trigger {
	if logger == nil {
		logger = slog.Default()
	}
	stopTimeout := defaultStopTimeout
	if b, ok := c.(closeBudgeter); ok {
		stopTimeout = b.CloseBudget() + stopMargin
	}
	return &Trigger{
		c:           c,
		autoConnect: autoConnect,
		log:         logger,
		StopTimeout: stopTimeout,
		signals:     make(chan Signal, signalBuffer),
	}
}

// Start запускает обработчик; при autoConnect сразу подключается.
func (t *Trigger) Start() error {
	if t.started.Swap(true) {
		return ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()

	t.wg.Add(1)
	go t.run(ctx)

	if t.autoConnect {
		t.Notify(startup)
	}
	return nil
}

// Notify ставит сигнал в очередь и сразу возвращается. Если очередь
// переполнена, сигнал отбрасывается.
func (t *Trigger) Notify(s Signal) {
	if !t.started.Load() {
		t.log.Warn("lifecycle_not_started", "signal", s.String())
		return
	}
	select {
	case t.signals <- s:
	default:
		t.log.Warn("lifecycle_signal_dropped", "signal", s.String())
	}
}

// Stop останавливает обработчик и отключает клиента.
func (t *Trigger) Stop() {
	if !t.started.Swap(false) {
		return
	}
	t.mu.Lock()
	cancel := t.cancel
	t.cancel = nil
	t.mu.Unlock()

	cancel()
	t.wg.Wait()

	ctx, done := context.WithTimeout(context.Background(), t.StopTimeout)
	defer done()
	if err := t.c.DisconnectContext(ctx); err != nil {
		t.log.Warn("lifecycle_disconnect_failed", "error", err)
	}
}

// Handled — сколько сигналов уже обработано.
func (t *Trigger) Handled() int64 { return t.handled.Load() }

func (t *Trigger) run(ctx context.Context) {
	defer t.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-t.signals:
			t.handle(ctx, s)
			t.handled.Add(1)
		}
	}
}

func (t *Trigger) handle(ctx context.Context, s Signal) {
	switch s {
	case Pause, FocusLost:
		t.log.Info("lifecycle_disconnect", "signal", s.String())
		if err := t.c.DisconnectContext(ctx); err != nil && !errors.Is(err, context.Canceled) {
			t.log.Warn("lifecycle_disconnect_failed", "signal", s.String(), "error", err)
		}
	case Resume, FocusGained, startup:
		if !t.autoConnect {
			t.log.Debug("lifecycle_autoconnect_off", "signal", s.String())
			return
		}
		t.log.Info("lifecycle_connect", "signal", s.String())
		// ctx живёт до Stop, соединение переживает этот вызов
		if err := t.c.ConnectContext(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			t.log.Warn("lifecycle_connect_failed", "signal", s.String(), "error", err)
		}
	default:
		t.log.Warn("lifecycle_unknown_signal", "signal", int(s))
	}
}
