package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/reddit-leadgen/internal/metrics"
)

// Config controls buffering and batching for the Hub. Zero values take the
// defaults below.
type Config struct {
	BufferSize     int
	MaxBatchEvents int
	MaxBatchWait   time.Duration
	SinkTimeout    time.Duration
	BaseContext    context.Context
	Logger         *zap.Logger
}

const (
	defaultBufferSize     = 1024
	defaultMaxBatchEvents = 100
	defaultMaxBatchWait   = 250 * time.Millisecond
	defaultSinkTimeout    = 5 * time.Second
	dropLogInterval       = 5 * time.Second
)

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = defaultBufferSize
	}
	if c.MaxBatchEvents <= 0 {
		c.MaxBatchEvents = defaultMaxBatchEvents
	}
	if c.MaxBatchWait <= 0 {
		c.MaxBatchWait = defaultMaxBatchWait
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

// Hub collects workflow run events and delivers them to sinks in batches.
// Emit never blocks a run: when the buffer is full the event is dropped.
// Terminal run events (done, error, stopped) are delivered without waiting
// for the batch window so run status readers see the outcome promptly.
type Hub struct {
	cfg    Config
	sinks  []Sink
	events chan Event
	stopCh chan struct{}
	doneCh chan struct{}
	logger *zap.Logger

	dropped  atomic.Int64
	dropWarn rate.Sometimes
	closed   atomic.Bool

	closeOnce sync.Once
	closeCtx  context.Context
}

// NewHub starts a Hub delivering to sinks. Nil sinks are skipped.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	cfg = cfg.withDefaults()
	live := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			live = append(live, s)
		}
	}
	h := &Hub{
		cfg:      cfg,
		sinks:    live,
		events:   make(chan Event, cfg.BufferSize),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		logger:   cfg.Logger,
		dropWarn: rate.Sometimes{Interval: dropLogInterval},
	}
	go h.loop()
	return h
}

// Emit queues evt for delivery. Invalid events and events emitted after Close
// are discarded.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closed.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid progress event", zap.String("run_id", evt.RunID), zap.Error(err))
		return
	}
	select {
	case h.events <- evt:
	default:
		h.dropped.Add(1)
		metrics.ObserveProgressDropped(string(evt.Kind))
		h.dropWarn.Do(func() {
			h.logger.Warn("progress events dropped",
				zap.Int64("dropped", h.dropped.Swap(0)),
				zap.String("run_id", evt.RunID),
			)
		})
	}
}

// Close stops intake, delivers what is buffered, closes every sink and waits
// for the delivery goroutine. Later calls only wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.closeCtx = ctx
		close(h.stopCh)
	})
	select {
	case <-h.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close wait: %w", ctx.Err())
	}
}

// pending is the batch being assembled plus its flush deadline.
type pending struct {
	events []Event
	timer  *time.Timer
	armed  bool
}

func (p *pending) disarm() {
	if !p.armed {
		return
	}
	if !p.timer.Stop() {
		select {
		case <-p.timer.C:
		default:
		}
	}
	p.armed = false
}

// arm starts the flush deadline for the first event of a batch. Later events
// do not extend it, so a steady trickle still flushes every wait interval.
func (p *pending) arm(wait time.Duration) {
	if p.armed {
		return
	}
	p.timer.Reset(wait)
	p.armed = true
}

func (h *Hub) loop() {
	defer close(h.doneCh)
	p := &pending{
		events: make([]Event, 0, h.cfg.MaxBatchEvents),
		timer:  time.NewTimer(time.Hour),
	}
	p.timer.Stop()
	for {
		select {
		case evt := <-h.events:
			h.add(p, evt)
		case <-p.timer.C:
			p.armed = false
			h.deliver(p)
		case <-h.stopCh:
			p.disarm()
			h.drain(p)
			return
		}
	}
}

func (h *Hub) add(p *pending, evt Event) {
	p.events = append(p.events, evt)
	if evt.Terminal() || len(p.events) >= h.cfg.MaxBatchEvents {
		p.disarm()
		h.deliver(p)
		return
	}
	p.arm(h.cfg.MaxBatchWait)
}

func (h *Hub) drain(p *pending) {
	for {
		select {
		case evt := <-h.events:
			p.events = append(p.events, evt)
			if len(p.events) >= h.cfg.MaxBatchEvents {
				h.deliver(p)
			}
		default:
			h.deliver(p)
			h.closeSinks()
			return
		}
	}
}

// deliver hands a copy of the pending batch to every sink and resets it.
func (h *Hub) deliver(p *pending) {
	if len(p.events) == 0 {
		return
	}
	batch := append([]Event(nil), p.events...)
	p.events = p.events[:0]
	for _, sink := range h.sinks {
		ctx, cancel := context.WithTimeout(h.cfg.BaseContext, h.cfg.SinkTimeout)
		if err := sink.Consume(ctx, batch); err != nil {
			h.logger.Warn("progress sink consume failed",
				zap.String("run_id", batch[0].RunID),
				zap.Int("events", len(batch)),
				zap.Error(err),
			)
		}
		cancel()
	}
}

func (h *Hub) closeSinks() {
	ctx := h.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("progress sink close failed", zap.Error(err))
		}
	}
}
