package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/aluiziolira/openbox-deals/config"
)

// ErrPoolClosed is returned by Acquire after Close.
var ErrPoolClosed = errors.New("client pool closed")

// PoolOptions configures a ClientPool.
type PoolOptions struct {
	MaxConns        int
	MaxConnsPerHost int
	ConnectTimeout  time.Duration
	MaxAge          time.Duration
	// RequestsPerSecond paces outbound requests when positive.
	RequestsPerSecond float64

	// NewTransport builds the transport for each client generation.
	NewTransport func() http.RoundTripper
	Now          func() time.Time
	Metrics      *Metrics
}

type generation struct {
	id       int
	client   *http.Client
	created  time.Time
	inflight int
	retired  bool
}

// ClientPool hands out a shared HTTP client for backend requests. Concurrent
// requests are bounded by MaxConns. A client older than MaxAge is replaced on
// the next Acquire; the retired client's idle connections are closed once its
// last in-flight request releases it.
type ClientPool struct {
	opts    PoolOptions
	sem     *semaphore.Weighted
	limiter *rate.Limiter

	mu      sync.Mutex
	current *generation
	closed  bool
}

// NewClientPool validates opts and creates the first client generation.
func NewClientPool(opts PoolOptions) (*ClientPool, error) {
	if opts.MaxConns <= 0 {
		return nil, fmt.Errorf("max conns must be positive")
	}
	if opts.MaxConnsPerHost <= 0 || opts.MaxConnsPerHost > opts.MaxConns {
		return nil, fmt.Errorf("max conns per host must be between 1 and %d", opts.MaxConns)
	}
	if opts.MaxAge <= 0 {
		return nil, fmt.Errorf("max age must be positive")
	}
	if opts.RequestsPerSecond < 0 {
		return nil, fmt.Errorf("requests per second cannot be negative")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewTransport == nil {
		opts.NewTransport = func() http.RoundTripper {
			return newTransport(opts.MaxConns, opts.MaxConnsPerHost, opts.ConnectTimeout)
		}
	}

	p := &ClientPool{
		opts: opts,
		sem:  semaphore.NewWeighted(int64(opts.MaxConns)),
	}
	if opts.RequestsPerSecond > 0 {
		burst := int(opts.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	p.current = p.newGeneration(1)
	return p, nil
}

// NewPoolFromConfig builds the process-wide pool from cfg.
func NewPoolFromConfig(cfg *config.Config, metrics *Metrics) (*ClientPool, error) {
	return NewClientPool(PoolOptions{
		MaxConns:          cfg.MaxConns,
		MaxConnsPerHost:   cfg.MaxConnsPerHost,
		ConnectTimeout:    cfg.ConnectTimeout,
		MaxAge:            cfg.ClientMaxAge,
		RequestsPerSecond: cfg.OutboundRPS,
		Metrics:           metrics,
	})
}

func newTransport(maxConns, perHost int, connectTimeout time.Duration) *http.Transport {
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        maxConns,
		MaxIdleConnsPerHost: perHost,
		MaxConnsPerHost:     perHost,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		ForceAttemptHTTP2:   true,
	}
}

func (p *ClientPool) newGeneration(id int) *generation {
	return &generation{
		id:      id,
		client:  &http.Client{Transport: p.opts.NewTransport()},
		created: p.opts.Now(),
	}
}

// Acquire waits for pacing and a connection slot, then returns the current
// client. The release function must be called once the response body is
// closed; extra calls are ignored.
func (p *ClientPool) Acquire(ctx context.Context) (*http.Client, func(), error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, nil, fmt.Errorf("outbound pacing: %w", err)
		}
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, nil, fmt.Errorf("wait for connection slot: %w", err)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.sem.Release(1)
		return nil, nil, ErrPoolClosed
	}
	gen := p.currentLocked()
	gen.inflight++
	p.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() { p.release(gen) })
	}
	return gen.client, release, nil
}

// currentLocked returns the live generation, recycling it when too old.
func (p *ClientPool) currentLocked() *generation {
	gen := p.current
	if p.opts.Now().Sub(gen.created) < p.opts.MaxAge {
		return gen
	}

	gen.retired = true
	p.current = p.newGeneration(gen.id + 1)
	p.opts.Metrics.IncRecycle()
	slog.Debug("backend client recycled",
		slog.Int("generation", p.current.id),
		slog.Int("retired_inflight", gen.inflight),
	)
	if gen.inflight == 0 {
		gen.client.CloseIdleConnections()
	}
	return p.current
}

func (p *ClientPool) release(gen *generation) {
	p.mu.Lock()
	gen.inflight--
	drained := gen.retired && gen.inflight == 0
	p.mu.Unlock()

	p.sem.Release(1)
	if drained {
		gen.client.CloseIdleConnections()
	}
}

// Generation returns the id of the live client generation.
func (p *ClientPool) Generation() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current.id
}

// InFlight returns the number of requests holding the live client.
func (p *ClientPool) InFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current.inflight
}

// Close stops handing out clients. Idle connections of the live client are
// closed now, or when its last request releases it.
func (p *ClientPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	gen := p.current
	gen.retired = true
	idle := gen.inflight == 0
	p.mu.Unlock()

	if idle {
		gen.client.CloseIdleConnections()
	}
}
