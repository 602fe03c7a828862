package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// HubConfig controls buffering and batching for the Hub.
//   - BufferSize: capacity of the intake channel (default 1024).
//   - MaxBatch: flush once this many changes are pending (default 256).
//   - MaxWait: flush a partial batch after this long (default 250ms).
//   - SinkTimeout: per-sink deadline for one Consume call (default 5s).
//   - BaseContext: parent of every sink context (default context.Background()).
//   - Logger: optional structured logger.
type HubConfig struct {
	BufferSize  int
	MaxBatch    int
	MaxWait     time.Duration
	SinkTimeout time.Duration
	BaseContext context.Context
	Logger      *zap.Logger
}

const (
	defaultBufferSize  = 1024
	defaultMaxBatch    = 256
	defaultMaxWait     = 250 * time.Millisecond
	defaultSinkTimeout = 5 * time.Second
	dropLogInterval    = 5 * time.Second
)

func (c HubConfig) withDefaults() HubConfig {
	if c.BufferSize <= 0 {
		c.BufferSize = defaultBufferSize
	}
	if c.MaxBatch <= 0 {
		c.MaxBatch = defaultMaxBatch
	}
	if c.MaxWait <= 0 {
		c.MaxWait = defaultMaxWait
	}
	if c.SinkTimeout <= 0 {
		c.SinkTimeout = defaultSinkTimeout
	}
	if c.BaseContext == nil {
		c.BaseContext = context.Background()
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Hub batches Changes on a background goroutine and fans them out to sinks.
// Emit never blocks: when the buffer is full the change is dropped and a
// rate-limited warning is logged. Sinks see changes in emission order.
type Hub struct {
	cfg     HubConfig
	sinks   []Sink
	intake  chan Change
	stop    chan struct{}
	done    chan struct{}
	logger  *zap.Logger
	drops   dropCounter
	closed  atomic.Bool
	once    sync.Once
	stopCtx context.Context
}

// NewHub starts a Hub delivering to sinks. Nil sinks are ignored.
func NewHub(cfg HubConfig, sinks ...Sink) *Hub {
	cfg = cfg.withDefaults()
	h := &Hub{
		cfg:    cfg,
		intake: make(chan Change, cfg.BufferSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: cfg.Logger,
		drops:  dropCounter{interval: dropLogInterval},
	}
	for _, s := range sinks {
		if s != nil {
			h.sinks = append(h.sinks, s)
		}
	}
	go h.loop()
	return h
}

// Emit enqueues a Change for delivery.
func (h *Hub) Emit(c Change) {
	if h == nil || h.closed.Load() {
		return
	}
	if err := c.Validate(); err != nil {
		h.logger.Debug("discarding invalid progress change", zap.Error(err))
		return
	}
	select {
	case h.intake <- c:
	default:
		if n, report := h.drops.add(time.Now()); report {
			h.logger.Warn("progress changes dropped due to backpressure", zap.Int64("dropped", n))
		}
	}
}

// Close stops intake, flushes everything already queued, closes the sinks,
// and waits for the background goroutine. Repeated calls only wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.once.Do(func() {
		h.closed.Store(true)
		h.stopCtx = ctx
		close(h.stop)
	})
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close wait: %w", ctx.Err())
	}
}

func (h *Hub) loop() {
	defer close(h.done)
	batch := make([]Change, 0, h.cfg.MaxBatch)
	deadline := newFlushTimer()
	for {
		select {
		case c := <-h.intake:
			batch = append(batch, c)
			if len(batch) >= h.cfg.MaxBatch {
				batch = h.flush(batch)
				deadline.disarm()
			} else {
				deadline.arm(h.cfg.MaxWait)
			}
		case <-deadline.C():
			deadline.fired()
			batch = h.flush(batch)
		case <-h.stop:
			deadline.disarm()
			h.drain(batch)
			return
		}
	}
}

func (h *Hub) drain(batch []Change) {
	for {
		select {
		case c := <-h.intake:
			batch = append(batch, c)
			if len(batch) >= h.cfg.MaxBatch {
				batch = h.flush(batch)
			}
		default:
			h.flush(batch)
			h.closeSinks()
			return
		}
	}
}

// flush hands a copy of batch to every sink and returns batch truncated for reuse.
func (h *Hub) flush(batch []Change) []Change {
	if len(batch) == 0 {
		return batch
	}
	out := append([]Change(nil), batch...)
	for _, sink := range h.sinks {
		ctx, cancel := context.WithTimeout(h.cfg.BaseContext, h.cfg.SinkTimeout)
		if err := sink.Consume(ctx, out); err != nil {
			h.logger.Warn("progress sink consume failed", zap.Error(err), zap.Int("batch", len(out)))
		}
		cancel()
	}
	return batch[:0]
}

func (h *Hub) closeSinks() {
	ctx := h.stopCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("progress sink close failed", zap.Error(err))
		}
	}
}

// flushTimer wraps a time.Timer that is armed only while a partial batch waits.
type flushTimer struct {
	t      *time.Timer
	active bool
}

func newFlushTimer() *flushTimer {
	t := time.NewTimer(time.Hour)
	t.Stop()
	return &flushTimer{t: t}
}

func (f *flushTimer) C() <-chan time.Time { return f.t.C }

func (f *flushTimer) arm(d time.Duration) {
	if f.active {
		return
	}
	f.t.Reset(d)
	f.active = true
}

func (f *flushTimer) fired() { f.active = false }

func (f *flushTimer) disarm() {
	if !f.active {
		return
	}
	if !f.t.Stop() {
		select {
		case <-f.t.C:
		default:
		}
	}
	f.active = false
}

// dropCounter accumulates dropped changes and reports at most once per interval.
type dropCounter struct {
	interval time.Duration
	count    atomic.Int64
	last     atomic.Int64
}

func (d *dropCounter) add(now time.Time) (int64, bool) {
	d.count.Add(1)
	nano := now.UnixNano()
	last := d.last.Load()
	if nano-last < d.interval.Nanoseconds() || !d.last.CompareAndSwap(last, nano) {
		return 0, false
	}
	return d.count.Swap(0), true
}
