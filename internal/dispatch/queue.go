package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Queue — очередь отложенных действий: писать может кто угодно,
// выполняет только одна горутина-потребитель (Drain / Run).
type Queue struct {
	mu      sync.Mutex
	pending []func()

	wake     chan struct{}
	draining atomic.Bool
	panics   atomic.Int64

	log *slog.Logger
}

func New(logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		wake: make(chan struct{}, 1),
		log:  logger,
	}
}

// один на процесс, создаётся при первом обращении
var (
	defaultOnce  sync.Once
	defaultQueue *Queue
)

// Default — общая очередь процесса.
func Default() *Queue {
	defaultOnce.Do(func() {
		defaultQueue = New(nil)
	})
	return defaultQueue
}

// Enqueue добавляет действие в хвост и сразу возвращается.
// Можно вызывать из самого действия: оно выполнится на следующем Drain.
func (q *Queue) Enqueue(fn func()) {
	if fn == nil {
		return
	}
	q.mu.Lock()
	q.pending = append(q.pending, fn)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Drain забирает всё накопленное одним обменом под мьютексом и выполняет
// по порядку на вызывающей горутине. Паника в действии не прерывает
// остальные. Возвращает число выполненных действий.
func (q *Queue) Drain() int {
	if !q.draining.CompareAndSwap(false, true) {
		q.log.Error("dispatch_reentrant_drain")
		return 0
	}
	defer q.draining.Store(false)

	q.mu.Lock()
	batch := q.pending
	q.pending = nil
	q.mu.Unlock()

	for i, fn := range batch {
		q.run(fn)
		batch[i] = nil
	}
	return len(batch)
}

func (q *Queue) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			q.panics.Add(1)
			q.log.Error("dispatch_action_panicked", "error", fmt.Sprint(r))
		}
	}()
	fn()
}

// Len — сколько действий ждёт следующего Drain.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Panics — сколько действий упало с паникой за всё время.
func (q *Queue) Panics() int64 { return q.panics.Load() }

// Wake сигналит, что в очереди что-то появилось (сигналы схлопываются).
func (q *Queue) Wake() <-chan struct{} { return q.wake }

// Run — цикл потребителя: раз в interval выполняет Drain, затем frame(dt);
// между кадрами действия выполняются сразу, как только пришёл Wake.
// Выходит по ctx с финальным Drain.
func (q *Queue) Run(ctx context.Context, interval time.Duration, frame func(dt time.Duration)) {
	t := time.NewTicker(interval)
	defer t.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			q.Drain()
			return
		case <-q.Wake():
			q.Drain()
		case now := <-t.C:
			q.Drain()
			if frame != nil {
				frame(now.Sub(last))
			}
			last = now
		}
	}
}
