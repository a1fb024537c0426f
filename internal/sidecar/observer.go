package sidecar

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/crossbridge-dev/crossbridge/internal/domain"
	"github.com/crossbridge-dev/crossbridge/internal/logger"
)

// Handler processes a single observed event. Handlers must be
// non-blocking and idempotent (spec §4.4); a panic or error is counted
// and logged but never stops the worker pool.
type Handler func(ctx context.Context, event domain.ObservedEvent) error

// Observer is the bounded drop-oldest event queue described in spec
// §4.4: new code grounded on core/async_task.go's TaskQueue/TaskWorker
// vocabulary, repurposed from a durable Redis-backed async task queue to
// an in-memory ring of ObservedEvent. Enqueue never blocks and is
// amortized O(1). A single list.List is both the drop-oldest buffer and
// the worker feed, so events_received = events_persisted +
// events_dropped + events_in_queue always holds: nothing is counted or
// stored twice.
type Observer struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   *list.List
	maxSize int
	closed  bool

	sequence atomic.Uint64
	dropped  atomic.Uint64
	enqueued atomic.Uint64

	handlers      map[string][]Handler
	handlerHealth map[string]*handlerStats

	workers  int
	workerWG sync.WaitGroup
	stop     chan struct{}
	log      logger.Logger
}

type handlerStats struct {
	mu          sync.Mutex
	window      []bool // true = error, rolling 60s bucket simplified as last N calls
	windowStart time.Time
}

// NewObserver builds an Observer with the given bounded size and worker
// pool size (spec §4.4 defaults: max_queue_size 10000, workers 2). A
// negative maxSize falls back to the default; an explicit 0 is
// preserved as a valid "drop every enqueue" configuration (spec §4.4's
// boundary case).
func NewObserver(maxSize, workers int, log logger.Logger) *Observer {
	if maxSize < 0 {
		maxSize = 10000
	}
	if workers <= 0 {
		workers = 2
	}
	if log == nil {
		log = logger.NoOp{}
	}
	o := &Observer{
		queue:         list.New(),
		maxSize:       maxSize,
		handlers:      map[string][]Handler{},
		handlerHealth: map[string]*handlerStats{},
		workers:       workers,
		stop:          make(chan struct{}),
		log:           log.WithComponent("sidecar.observer"),
	}
	o.cond = sync.NewCond(&o.mu)
	return o
}

// RegisterHandler attaches a handler for the given event_type.
func (o *Observer) RegisterHandler(eventType string, h Handler) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.handlers[eventType] = append(o.handlers[eventType], h)
	if _, ok := o.handlerHealth[eventType]; !ok {
		o.handlerHealth[eventType] = &handlerStats{windowStart: time.Now()}
	}
}

// Enqueue appends event, assigning it the next receive_sequence. If the
// queue is at capacity the oldest element is dropped (drop_on_full=true,
// spec §4.4's only supported mode) and events_dropped is incremented. A
// max_queue_size of 0 drops every event. Enqueue never blocks the HTTP
// handler.
func (o *Observer) Enqueue(event domain.ObservedEvent) {
	event.ReceiveSequence = o.sequence.Add(1)
	o.enqueued.Add(1)

	if o.maxSize == 0 {
		o.dropped.Add(1)
		return
	}

	o.mu.Lock()
	if o.queue.Len() >= o.maxSize {
		front := o.queue.Front()
		if front != nil {
			o.queue.Remove(front)
			o.dropped.Add(1)
		}
	}
	o.queue.PushBack(event)
	o.mu.Unlock()
	o.cond.Signal()
}

// Start launches the worker pool, which drains the queue and dispatches
// to registered handlers by event_type.
func (o *Observer) Start(ctx context.Context) {
	for i := 0; i < o.workers; i++ {
		o.workerWG.Add(1)
		go o.runWorker(ctx)
	}
	go o.watchForStop(ctx)
}

// watchForStop unblocks every worker parked in cond.Wait once Drain is
// called or ctx is cancelled, regardless of whether new work ever
// arrives again.
func (o *Observer) watchForStop(ctx context.Context) {
	select {
	case <-o.stop:
	case <-ctx.Done():
	}
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.cond.Broadcast()
}

func (o *Observer) runWorker(ctx context.Context) {
	defer o.workerWG.Done()
	for {
		event, ok := o.waitAndPop()
		if !ok {
			return
		}
		o.dispatch(ctx, event)
	}
}

// waitAndPop blocks until an event is available or the observer is
// closed, then removes and returns the oldest queued event.
func (o *Observer) waitAndPop() (domain.ObservedEvent, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for o.queue.Len() == 0 && !o.closed {
		o.cond.Wait()
	}
	front := o.queue.Front()
	if front == nil {
		return domain.ObservedEvent{}, false
	}
	o.queue.Remove(front)
	return front.Value.(domain.ObservedEvent), true
}

func (o *Observer) dispatch(ctx context.Context, event domain.ObservedEvent) {
	o.mu.Lock()
	handlers := append([]Handler(nil), o.handlers[event.EventType]...)
	o.mu.Unlock()

	for _, h := range handlers {
		o.invokeHandler(ctx, event, h)
	}
}

// invokeHandler runs h with panic recovery; a handler error or panic is
// logged and counted against that event type's error-rate window but
// never stops the worker (spec §4.4).
func (o *Observer) invokeHandler(ctx context.Context, event domain.ObservedEvent, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			o.log.Error("handler panicked", map[string]interface{}{"event_type": event.EventType, "panic": r})
			o.recordHandlerResult(event.EventType, true)
		}
	}()

	err := h(ctx, event)
	o.recordHandlerResult(event.EventType, err != nil)
	if err != nil {
		o.log.Error("handler returned error", map[string]interface{}{"event_type": event.EventType, "error": err.Error()})
	}
}

func (o *Observer) recordHandlerResult(eventType string, failed bool) {
	o.mu.Lock()
	stats, ok := o.handlerHealth[eventType]
	o.mu.Unlock()
	if !ok {
		return
	}

	stats.mu.Lock()
	defer stats.mu.Unlock()
	if time.Since(stats.windowStart) > 60*time.Second {
		stats.window = nil
		stats.windowStart = time.Now()
	}
	stats.window = append(stats.window, failed)
	if len(stats.window) > 1000 {
		stats.window = stats.window[len(stats.window)-1000:]
	}
}

// HandlerDegraded reports whether eventType's handler error rate exceeds
// 10% over the current 60s window (spec §4.4).
func (o *Observer) HandlerDegraded(eventType string) bool {
	o.mu.Lock()
	stats, ok := o.handlerHealth[eventType]
	o.mu.Unlock()
	if !ok {
		return false
	}
	stats.mu.Lock()
	defer stats.mu.Unlock()
	if len(stats.window) == 0 {
		return false
	}
	errors := 0
	for _, failed := range stats.window {
		if failed {
			errors++
		}
	}
	return float64(errors)/float64(len(stats.window)) > 0.10
}

// Stats returns the queue's current length, drop count, and total
// enqueued count, feeding /metrics and /health.
func (o *Observer) Stats() (length int, dropped, enqueued uint64) {
	o.mu.Lock()
	length = o.queue.Len()
	o.mu.Unlock()
	return length, o.dropped.Load(), o.enqueued.Load()
}

// DropRate returns the fraction of enqueued events dropped since the
// Observer was created, used by the sidecar-observer health rule. It is
// a lifetime ratio, not a sliding window over recent minutes.
func (o *Observer) DropRate() float64 {
	enq := o.enqueued.Load()
	if enq == 0 {
		return 0
	}
	return float64(o.dropped.Load()) / float64(enq)
}

// Resize changes max_queue_size, used by the profiler's memory-budget
// hysteresis (halving the queue under sustained memory pressure).
func (o *Observer) Resize(newSize int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.maxSize = newSize
	for o.queue.Len() > o.maxSize {
		front := o.queue.Front()
		if front == nil {
			break
		}
		o.queue.Remove(front)
		o.dropped.Add(1)
	}
}

// Drain stops accepting new work and waits for in-flight handlers to
// finish, up to grace, implementing the draining->stopped transition of
// the sidecar's state machine (spec §4.4).
func (o *Observer) Drain(grace time.Duration) {
	close(o.stop)
	done := make(chan struct{})
	go func() {
		o.workerWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
	}
}
