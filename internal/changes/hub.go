package changes

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

const (
	defaultSubscriberBuffer = 64
	defaultSinkBacklog      = 10000
	defaultRetryInitial     = 250 * time.Millisecond
	defaultRetryMax         = 30 * time.Second
	sinkWriteTimeout        = 5 * time.Second
)

// Sink receives every published event after in-process fan-out.
type Sink interface {
	Name() string
	Write(ctx context.Context, event ChangeEvent) error
	Close() error
}

// Recorder counts sink outcomes and lost deliveries.
type Recorder interface {
	ChangeSink(sink, outcome string)
	ChangeDropped()
}

// HubOptions configures a Hub.
type HubOptions struct {
	SubscriberBuffer int
	// SinkBacklog caps the events waiting per sink while it is failing.
	SinkBacklog  int
	RetryInitial time.Duration
	RetryMax     time.Duration
	Sinks        []Sink
	Logger       *zap.Logger
	Recorder     Recorder
}

type queued struct {
	event ChangeEvent
	trace propagation.MapCarrier
}

// sinkQueue holds the events a single sink has not acknowledged yet, oldest first.
type sinkQueue struct {
	sink Sink

	mu      sync.Mutex
	backlog []queued
	wake    chan struct{}
}

func (q *sinkQueue) push(item queued, limit int) bool {
	q.mu.Lock()
	if len(q.backlog) >= limit {
		q.mu.Unlock()
		return false
	}
	q.backlog = append(q.backlog, item)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

func (q *sinkQueue) peek() (queued, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.backlog) == 0 {
		return queued{}, false
	}
	return q.backlog[0], true
}

func (q *sinkQueue) pop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.backlog) == 0 {
		return
	}
	q.backlog[0] = queued{}
	q.backlog = q.backlog[1:]
}

func (q *sinkQueue) takeAll() []queued {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.backlog
	q.backlog = nil
	return items
}

// Hub delivers events to subscribers without blocking publishers. A subscriber whose buffer
// overflows is evicted: its channel closes so the observer reconnects and re-derives state from
// the store. Every sink gets its own ordered backlog, retried with backoff until written.
type Hub struct {
	mu     sync.RWMutex
	subs   map[uint64]chan ChangeEvent
	nextID uint64
	closed bool

	buffer       int
	backlogLimit int
	retryInitial time.Duration
	retryMax     time.Duration
	sinks        []*sinkQueue
	logger       *zap.Logger
	recorder     Recorder
}

// NewHub builds a hub. Call Run to start sink delivery.
func NewHub(opts HubOptions) *Hub {
	buffer := opts.SubscriberBuffer
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	backlog := opts.SinkBacklog
	if backlog <= 0 {
		backlog = defaultSinkBacklog
	}
	retryInitial := opts.RetryInitial
	if retryInitial <= 0 {
		retryInitial = defaultRetryInitial
	}
	retryMax := opts.RetryMax
	if retryMax < retryInitial {
		retryMax = defaultRetryMax
		if retryMax < retryInitial {
			retryMax = retryInitial
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sinks := make([]*sinkQueue, 0, len(opts.Sinks))
	for _, sink := range opts.Sinks {
		if sink == nil {
			continue
		}
		sinks = append(sinks, &sinkQueue{sink: sink, wake: make(chan struct{}, 1)})
	}
	return &Hub{
		subs:         make(map[uint64]chan ChangeEvent),
		buffer:       buffer,
		backlogLimit: backlog,
		retryInitial: retryInitial,
		retryMax:     retryMax,
		sinks:        sinks,
		logger:       logger,
		recorder:     opts.Recorder,
	}
}

// Subscribe registers an observer. The returned cancel func must be called to release it. The
// channel is closed when the hub shuts down or evicts the subscriber for falling behind.
func (h *Hub) Subscribe() (<-chan ChangeEvent, func()) {
	ch := make(chan ChangeEvent, h.buffer)
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() { h.remove(id) })
	}
}

// Subscribers returns the number of live observers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Publish fans event out to subscribers and appends it to every sink backlog. It never blocks.
func (h *Hub) Publish(ctx context.Context, event ChangeEvent) {
	if h == nil {
		return
	}
	var lagging []uint64
	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return
	}
	for id, ch := range h.subs {
		select {
		case ch <- event:
		default:
			lagging = append(lagging, id)
		}
	}
	h.mu.RUnlock()

	for _, id := range lagging {
		if h.remove(id) {
			h.dropped()
			h.logger.Info("change subscriber evicted", zap.Uint64("subscriber", id), zap.String("eventId", event.ID))
		}
	}

	if len(h.sinks) == 0 {
		return
	}
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	item := queued{event: event, trace: carrier}
	for _, q := range h.sinks {
		if !q.push(item, h.backlogLimit) {
			h.dropped()
			h.logger.Error("change sink backlog full",
				zap.String("sink", q.sink.Name()),
				zap.String("eventId", event.ID),
				zap.String("orderId", event.OrderID),
			)
		}
	}
}

// Run writes backlogged events to every sink until ctx is cancelled, then makes one last attempt
// at whatever is left, closes subscribers and closes the sinks.
func (h *Hub) Run(ctx context.Context) {
	defer h.shutdown()
	var wg sync.WaitGroup
	for _, q := range h.sinks {
		wg.Add(1)
		go func(q *sinkQueue) {
			defer wg.Done()
			h.runSink(ctx, q)
		}(q)
	}
	wg.Wait()
}

func (h *Hub) runSink(ctx context.Context, q *sinkQueue) {
	attempt := 0
	for {
		if ctx.Err() != nil {
			h.flush(ctx, q)
			return
		}
		item, ok := q.peek()
		if !ok {
			select {
			case <-ctx.Done():
			case <-q.wake:
			}
			continue
		}
		if err := h.write(ctx, q.sink, item); err != nil {
			attempt++
			timer := time.NewTimer(h.backoff(attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
			case <-timer.C:
			}
			continue
		}
		attempt = 0
		q.pop()
	}
}

func (h *Hub) flush(ctx context.Context, q *sinkQueue) {
	flushCtx := context.WithoutCancel(ctx)
	lost := 0
	for _, item := range q.takeAll() {
		if err := h.write(flushCtx, q.sink, item); err != nil {
			lost++
			h.dropped()
		}
	}
	if lost > 0 {
		h.logger.Error("change sink events lost on shutdown", zap.String("sink", q.sink.Name()), zap.Int("events", lost))
	}
}

func (h *Hub) write(ctx context.Context, sink Sink, item queued) error {
	ctx = otel.GetTextMapPropagator().Extract(ctx, item.trace)
	writeCtx, cancel := context.WithTimeout(ctx, sinkWriteTimeout)
	err := sink.Write(writeCtx, item.event)
	cancel()
	outcome := "ok"
	if err != nil {
		outcome = "failed"
		h.logger.Warn("change sink write failed",
			zap.String("sink", sink.Name()),
			zap.String("eventId", item.event.ID),
			zap.String("orderId", item.event.OrderID),
			zap.Error(err),
		)
	}
	if h.recorder != nil {
		h.recorder.ChangeSink(sink.Name(), outcome)
	}
	return err
}

func (h *Hub) backoff(attempt int) time.Duration {
	delay := h.retryInitial
	for i := 1; i < attempt && delay < h.retryMax; i++ {
		delay *= 2
	}
	if delay > h.retryMax {
		delay = h.retryMax
	}
	return delay
}

func (h *Hub) remove(id uint64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch, ok := h.subs[id]
	if !ok {
		return false
	}
	delete(h.subs, id)
	close(ch)
	return true
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	h.closed = true
	for id, ch := range h.subs {
		close(ch)
		delete(h.subs, id)
	}
	h.mu.Unlock()
	for _, q := range h.sinks {
		if err := q.sink.Close(); err != nil {
			h.logger.Warn("change sink close failed", zap.String("sink", q.sink.Name()), zap.Error(err))
		}
	}
}

func (h *Hub) dropped() {
	if h.recorder != nil {
		h.recorder.ChangeDropped()
	}
}
