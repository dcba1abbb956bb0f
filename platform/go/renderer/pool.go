// Package renderer provides the bounded pool of HTML to PDF renderer processes.
package renderer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/puddle/v2"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-reports/platform/go/metrics"
)

const (
	DefaultMaxSize       = 5
	DefaultMinSize       = 1
	DefaultIdleTimeout   = 30 * time.Second
	DefaultEvictInterval = 10 * time.Second
)

// ErrPoolClosed is returned by Acquire after Close.
var ErrPoolClosed = errors.New("renderer pool closed")

// PoolConfig describes how instances are built and retired.
type PoolConfig[T any] struct {
	// Factory launches a new instance.
	Factory func(ctx context.Context) (T, error)
	// Destroy terminates an instance.
	Destroy func(T)
	// Healthy is consulted on release; unhealthy instances are destroyed instead of idled.
	Healthy func(T) bool

	MaxSize       int32
	MinSize       int32
	IdleTimeout   time.Duration
	EvictInterval time.Duration
}

// Pool is a bounded set of expensive instances with idle eviction down to MinSize.
type Pool[T any] struct {
	cfg    PoolConfig[T]
	pool   *puddle.Pool[T]
	logger *zap.Logger

	closeOnce sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// NewPool warms MinSize instances and starts the eviction loop.
func NewPool[T any](ctx context.Context, cfg PoolConfig[T], logger *zap.Logger) (*Pool[T], error) {
	if cfg.Factory == nil || cfg.Destroy == nil {
		return nil, errors.New("renderer pool: factory and destroy are required")
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultMaxSize
	}
	if cfg.MinSize < 0 {
		cfg.MinSize = 0
	}
	if cfg.MinSize > cfg.MaxSize {
		return nil, fmt.Errorf("renderer pool: min size %d exceeds max size %d", cfg.MinSize, cfg.MaxSize)
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.EvictInterval <= 0 {
		cfg.EvictInterval = DefaultEvictInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	inner, err := puddle.NewPool(&puddle.Config[T]{
		Constructor: cfg.Factory,
		Destructor:  cfg.Destroy,
		MaxSize:     cfg.MaxSize,
	})
	if err != nil {
		return nil, fmt.Errorf("renderer pool: %w", err)
	}

	p := &Pool[T]{
		cfg:    cfg,
		pool:   inner,
		logger: logger,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	if err := p.topUp(ctx); err != nil {
		inner.Close()
		return nil, fmt.Errorf("renderer pool: warm up: %w", err)
	}

	go p.evictLoop()
	return p, nil
}

// Lease is exclusive use of one instance until Release or Destroy.
type Lease[T any] struct {
	pool *Pool[T]
	res  *puddle.Resource[T]
	once sync.Once
}

// Value returns the leased instance.
func (l *Lease[T]) Value() T {
	return l.res.Value()
}

// Release returns the instance to the idle set, or destroys it when unhealthy. Safe to call more than once.
func (l *Lease[T]) Release() {
	l.once.Do(func() {
		if l.pool.cfg.Healthy != nil && !l.pool.cfg.Healthy(l.res.Value()) {
			l.pool.logger.Warn("destroying unhealthy renderer instance")
			l.res.Destroy()
		} else {
			l.res.Release()
		}
		l.pool.publish()
	})
}

// Destroy retires the instance instead of returning it. Safe to call more than once.
func (l *Lease[T]) Destroy() {
	l.once.Do(func() {
		l.res.Destroy()
		l.pool.publish()
	})
}

// Acquire blocks until an idle instance is available or a new one can be created under MaxSize.
func (p *Pool[T]) Acquire(ctx context.Context) (*Lease[T], error) {
	res, err := p.pool.Acquire(ctx)
	if err != nil {
		if errors.Is(err, puddle.ErrClosedPool) {
			return nil, ErrPoolClosed
		}
		return nil, err
	}
	p.publish()
	return &Lease[T]{pool: p, res: res}, nil
}

// Stat is a point-in-time view of pool occupancy.
type Stat struct {
	Total    int32
	Idle     int32
	Acquired int32
	Max      int32
}

// Stat reports current occupancy.
func (p *Pool[T]) Stat() Stat {
	s := p.pool.Stat()
	return Stat{
		Total:    s.TotalResources(),
		Idle:     s.IdleResources(),
		Acquired: s.AcquiredResources(),
		Max:      s.MaxResources(),
	}
}

// Evict destroys instances idle longer than IdleTimeout while more than MinSize
// exist, then tops the pool back up to MinSize. It returns the number destroyed.
func (p *Pool[T]) Evict(ctx context.Context) int {
	idle := p.pool.AcquireAllIdle()
	total := p.pool.Stat().TotalResources()

	destroyed := 0
	for _, res := range idle {
		if total > p.cfg.MinSize && res.IdleDuration() > p.cfg.IdleTimeout {
			res.Destroy()
			total--
			destroyed++
			continue
		}
		res.ReleaseUnused()
	}

	if destroyed > 0 {
		metrics.RendererEvictions.Add(float64(destroyed))
		p.logger.Debug("evicted idle renderer instances", zap.Int("destroyed", destroyed))
	}

	if err := p.topUp(ctx); err != nil {
		p.logger.Warn("renderer pool top-up failed", zap.Error(err))
	}
	p.publish()
	return destroyed
}

func (p *Pool[T]) topUp(ctx context.Context) error {
	for p.pool.Stat().TotalResources() < p.cfg.MinSize {
		if err := p.pool.CreateResource(ctx); err != nil {
			return err
		}
	}
	p.publish()
	return nil
}

func (p *Pool[T]) evictLoop() {
	defer close(p.done)

	ticker := time.NewTicker(p.cfg.EvictInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), p.cfg.EvictInterval)
			p.Evict(ctx)
			cancel()
		}
	}
}

func (p *Pool[T]) publish() {
	s := p.Stat()
	metrics.RendererInstances.WithLabelValues("total").Set(float64(s.Total))
	metrics.RendererInstances.WithLabelValues("idle").Set(float64(s.Idle))
	metrics.RendererInstances.WithLabelValues("acquired").Set(float64(s.Acquired))
}

// Close stops eviction and destroys all instances, waiting for leased ones to be returned.
func (p *Pool[T]) Close() {
	p.closeOnce.Do(func() {
		close(p.stop)
		<-p.done
		p.pool.Close()
		p.publish()
	})
}
