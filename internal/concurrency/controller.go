package concurrency

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vk/tradegrid/internal/clients"
	"github.com/vk/tradegrid/internal/metrics"
	"github.com/vk/tradegrid/internal/state"
	"golang.org/x/sync/semaphore"
)

var (
	// ErrResourceExhausted means a run could not be admitted in time, or the
	// waiting queue is full. Callers should retry later.
	ErrResourceExhausted = errors.New("resource exhausted")
	ErrReservationUsed   = errors.New("reservation already used")
	ErrUnknownPool       = errors.New("no client pool for kind")
	ErrLeaseClosed       = errors.New("lease already released")
)

// PoolConfig describes one client pool.
type PoolConfig struct {
	Kind    clients.Kind
	Size    int
	Factory clients.Factory
}

// Config configures a Controller.
type Config struct {
	MaxRuns int
	// AdmissionWait bounds how long Acquire blocks. Zero waits until the
	// caller's context ends.
	AdmissionWait time.Duration
	// MaxQueued bounds the number of runs waiting for a slot. Zero means
	// unbounded.
	MaxQueued int
	Pools     []PoolConfig
	Metrics   *metrics.Metrics
}

// Stats is a point-in-time view of controller activity.
type Stats struct {
	Submitted uint64                     `json:"submitted"`
	Completed uint64                     `json:"completed"`
	Failed    uint64                     `json:"failed"`
	Cancelled uint64                     `json:"cancelled"`
	Active    int                        `json:"active"`
	Queued    int                        `json:"queued"`
	Peak      int                        `json:"peak"`
	MaxRuns   int                        `json:"max_runs"`
	Pools     map[clients.Kind]PoolStats `json:"pools"`
}

// Controller enforces the admission limit and owns the client pools.
type Controller struct {
	cfg   Config
	sem   *semaphore.Weighted
	pools map[clients.Kind]*Pool

	active    atomic.Int64
	queued    atomic.Int64
	peak      atomic.Int64
	submitted atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
	cancelled atomic.Uint64
}

// New validates cfg and builds the controller and its pools.
func New(cfg Config) (*Controller, error) {
	if cfg.MaxRuns < 1 {
		return nil, fmt.Errorf("max concurrent runs must be at least 1, got %d", cfg.MaxRuns)
	}
	if cfg.MaxQueued < 0 {
		return nil, fmt.Errorf("max queued runs must not be negative, got %d", cfg.MaxQueued)
	}
	c := &Controller{
		cfg:   cfg,
		sem:   semaphore.NewWeighted(int64(cfg.MaxRuns)),
		pools: make(map[clients.Kind]*Pool, len(cfg.Pools)),
	}
	for _, pc := range cfg.Pools {
		if _, dup := c.pools[pc.Kind]; dup {
			return nil, fmt.Errorf("duplicate pool for client kind %q", pc.Kind)
		}
		p, err := NewPool(pc.Kind, pc.Size, pc.Factory)
		if err != nil {
			return nil, err
		}
		c.pools[pc.Kind] = p
	}
	return c, nil
}

// Reserve places a run in the waiting queue. It fails fast with
// ErrResourceExhausted when the queue is full.
func (c *Controller) Reserve() (*Reservation, error) {
	for {
		q := c.queued.Load()
		if c.cfg.MaxQueued > 0 && q >= int64(c.cfg.MaxQueued) {
			return nil, fmt.Errorf("%w: %d runs already waiting for admission", ErrResourceExhausted, q)
		}
		if c.queued.CompareAndSwap(q, q+1) {
			break
		}
	}
	c.submitted.Add(1)
	c.publish()
	return &Reservation{c: c}, nil
}

// AcquireSlot reserves and acquires in one call.
func (c *Controller) AcquireSlot(ctx context.Context) (*Slot, error) {
	r, err := c.Reserve()
	if err != nil {
		return nil, err
	}
	return r.Acquire(ctx)
}

// RecordOutcome counts a run that reached a terminal status.
func (c *Controller) RecordOutcome(st state.Status) {
	switch st {
	case state.StatusCompleted:
		c.completed.Add(1)
	case state.StatusFailed:
		c.failed.Add(1)
	case state.StatusCancelled:
		c.cancelled.Add(1)
	}
}

// Stats returns current counters.
func (c *Controller) Stats() Stats {
	s := Stats{
		Submitted: c.submitted.Load(),
		Completed: c.completed.Load(),
		Failed:    c.failed.Load(),
		Cancelled: c.cancelled.Load(),
		Active:    int(c.active.Load()),
		Queued:    int(c.queued.Load()),
		Peak:      int(c.peak.Load()),
		MaxRuns:   c.cfg.MaxRuns,
		Pools:     make(map[clients.Kind]PoolStats, len(c.pools)),
	}
	for k, p := range c.pools {
		s.Pools[k] = p.Stats()
	}
	return s
}

// Pool returns the pool for kind.
func (c *Controller) Pool(kind clients.Kind) (*Pool, bool) {
	p, ok := c.pools[kind]
	return p, ok
}

// Checkout borrows a client of the given kind. The loan must be handed back
// with Return.
func (c *Controller) Checkout(ctx context.Context, kind clients.Kind) (*Loan, error) {
	p, ok := c.pools[kind]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownPool, kind)
	}
	start := time.Now()
	loan, err := p.Checkout(ctx)
	if err != nil {
		return nil, err
	}
	c.cfg.Metrics.ObserveCheckout(string(kind), time.Since(start))
	return loan, nil
}

// Return hands a loan back to its pool.
func (c *Controller) Return(l *Loan) {
	if l != nil {
		l.pool.Return(l)
	}
}

// NewLease starts tracking the loans of one run.
func (c *Controller) NewLease() *Lease {
	return &Lease{c: c, loans: make(map[*Loan]struct{})}
}

func (c *Controller) publish() {
	c.cfg.Metrics.SetLoad(int(c.active.Load()), int(c.queued.Load()), int(c.peak.Load()))
}

func (c *Controller) admitted() {
	n := c.active.Add(1)
	for {
		p := c.peak.Load()
		if n <= p || c.peak.CompareAndSwap(p, n) {
			break
		}
	}
	c.publish()
}

// Reservation is a place in the admission queue.
type Reservation struct {
	c    *Controller
	used atomic.Bool
}

// Acquire waits for a free slot. It returns ErrResourceExhausted when the
// admission wait elapses, or the cause of ctx when the caller gives up first.
func (r *Reservation) Acquire(ctx context.Context) (*Slot, error) {
	if !r.used.CompareAndSwap(false, true) {
		return nil, ErrReservationUsed
	}
	defer r.c.dequeue()

	wait := r.c.cfg.AdmissionWait
	wctx := ctx
	if wait > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeoutCause(ctx, wait, ErrResourceExhausted)
		defer cancel()
	}

	start := time.Now()
	if err := r.c.sem.Acquire(wctx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, context.Cause(ctx)
		}
		return nil, fmt.Errorf("%w: no admission slot within %s", ErrResourceExhausted, wait)
	}
	r.c.cfg.Metrics.ObserveSlotWait(time.Since(start))
	r.c.admitted()
	return &Slot{c: r.c}, nil
}

// Cancel withdraws an unused reservation from the queue.
func (r *Reservation) Cancel() {
	if r.used.CompareAndSwap(false, true) {
		r.c.dequeue()
	}
}

func (c *Controller) dequeue() {
	c.queued.Add(-1)
	c.publish()
}

// Slot is a held admission slot.
type Slot struct {
	c    *Controller
	once sync.Once
}

// Release frees the slot. Calling it more than once has no effect.
func (s *Slot) Release() {
	s.once.Do(func() {
		s.c.sem.Release(1)
		s.c.active.Add(-1)
		s.c.publish()
	})
}
