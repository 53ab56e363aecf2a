// Package audit records principal actions without ever blocking or failing the caller.
package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/lms-auth/internal/model"
	"github.com/and161185/lms-auth/internal/repository"
)

// Sink persists a single audit event.
type Sink interface {
	Write(ctx context.Context, e *model.AuditEvent) error
}

// RepositorySink writes events to an AuditRepository.
type RepositorySink struct {
	Repo repository.AuditRepository
}

func (s RepositorySink) Write(ctx context.Context, e *model.AuditEvent) error {
	return s.Repo.Append(ctx, e)
}

// Config controls dispatcher buffering.
type Config struct {
	BufferSize   int
	WriteTimeout time.Duration
}

// Dispatcher queues events on a buffered channel and writes them from one goroutine.
// Record drops the event when the buffer is full.
type Dispatcher struct {
	sink    Sink
	log     *zap.Logger
	timeout time.Duration

	ch      chan model.AuditEvent
	done    chan struct{}
	wg      sync.WaitGroup
	dropped atomic.Uint64
	failed  atomic.Uint64

	// mu orders Record sends before the close of done, so the drain sees every accepted event.
	mu     sync.RWMutex
	closed bool
}

// NewDispatcher starts the writer goroutine. Call Close to drain and stop it.
func NewDispatcher(cfg Config, sink Sink, log *zap.Logger) *Dispatcher {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 2 * time.Second
	}
	d := &Dispatcher{
		sink:    sink,
		log:     log,
		timeout: cfg.WriteTimeout,
		ch:      make(chan model.AuditEvent, cfg.BufferSize),
		done:    make(chan struct{}),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// Record enqueues an event. It never blocks and never reports failure.
// Events recorded after Close count as dropped.
func (d *Dispatcher) Record(actorID uuid.UUID, action, details string) {
	if d == nil {
		return
	}
	id, err := uuid.NewV4()
	if err != nil {
		d.dropped.Add(1)
		return
	}
	e := model.AuditEvent{
		ID:       id,
		ActorID:  actorID,
		Action:   action,
		Details:  details,
		LoggedAt: time.Now().UTC(),
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.dropped.Add(1)
		return
	}
	select {
	case d.ch <- e:
	default:
		d.dropped.Add(1)
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case e := <-d.ch:
			d.write(e)
		case <-d.done:
			for {
				select {
				case e := <-d.ch:
					d.write(e)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) write(e model.AuditEvent) {
	defer func() {
		if r := recover(); r != nil {
			d.failed.Add(1)
			d.log.Error("audit sink panic", zap.Any("reason", r), zap.String("action", e.Action))
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	if err := d.sink.Write(ctx, &e); err != nil {
		d.failed.Add(1)
		d.log.Warn("audit write failed",
			zap.String("action", e.Action),
			zap.String("actor", e.ActorID.String()),
			zap.Error(err),
		)
	}
}

// Close stops accepting events, flushes what is buffered and waits for the writer.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.wg.Wait()
		return
	}
	d.closed = true
	close(d.done)
	d.mu.Unlock()
	d.wg.Wait()
}

// Dropped reports events discarded because the buffer was full or the dispatcher was closed.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// Failed reports events the sink rejected.
func (d *Dispatcher) Failed() uint64 {
	if d == nil {
		return 0
	}
	return d.failed.Load()
}
