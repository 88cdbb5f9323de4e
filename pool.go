package pgasync

import (
	"context"
	"crypto/x509"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/augustdb/pgasync/internal/certwatch"
)

// Stats is a point-in-time snapshot of Pool occupancy.
type Stats struct {
	Total     int
	Idle      int
	Active    int
	Waiting   int
	Exhausted int64
}

// OnPoolExhausted is invoked (if set) every time Acquire must wait because
// no idle connection is available and total has reached MaxPoolSize.
type OnPoolExhausted func(waiting int)

// Pool owns a bounded set of Connections to one ConnectConfig target: an
// idle deque, a total-connection counter acting as the admission
// semaphore, and a sync.Cond coordinating Acquire/release (Signal, not
// Broadcast, on a single release to avoid a thundering herd; Broadcast
// reserved for Close() and wait-timeout).
type Pool struct {
	mu   sync.Mutex
	cond *sync.Cond

	cfg *ConnectConfig

	idle      []*Connection
	active    map[*Connection]struct{}
	total     int
	waiting   int
	exhausted int64
	closed    bool

	stopCh chan struct{}

	onPoolExhausted OnPoolExhausted
	metrics         *Metrics

	rootCAPool  atomic.Pointer[x509.CertPool]
	certWatcher *certwatch.Watcher
}

// rootCAs returns the pool's cached verify-ca/verify-full root bundle, or
// nil if sslrootcert isn't configured or hasn't loaded successfully yet
// (dialAndAuth falls back to a direct file read in that case).
func (p *Pool) rootCAs() *x509.CertPool {
	return p.rootCAPool.Load()
}

// SetMetrics wires an optional Prometheus instrumentation bundle; pass
// nil to detach. See Metrics.Attach for the pool-occupancy-gauge side.
func (p *Pool) SetMetrics(m *Metrics) {
	p.mu.Lock()
	p.metrics = m
	p.mu.Unlock()
}

// NewPool constructs a Pool for cfg, pre-warming MinPoolSize connections
// in the background and starting the idle-reaper loop.
func NewPool(cfg *ConnectConfig) (*Pool, error) {
	if cfg.MaxPoolSize < 1 {
		return nil, newConnectionPoolConfigurationError("max_pool_size must be >= 1")
	}
	p := &Pool{
		cfg:    cfg,
		active: make(map[*Connection]struct{}),
		stopCh: make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)

	if cfg.SSLRootCert != "" && (cfg.SSLMode == SSLVerifyCA || cfg.SSLMode == SSLVerifyFull) {
		if pool, err := certwatch.Load(cfg.SSLRootCert); err == nil {
			p.rootCAPool.Store(pool)
		} else {
			slog.Warn("initial sslrootcert load failed, dials will retry from disk", "err", err)
		}
		if w, err := certwatch.NewWatcher(cfg.SSLRootCert, func(pool *x509.CertPool) {
			p.rootCAPool.Store(pool)
		}); err == nil {
			p.certWatcher = w
		} else {
			slog.Warn("sslrootcert hot-reload disabled", "err", err)
		}
	}

	go p.reapLoop()
	if cfg.MinPoolSize > 0 {
		go p.warmUp()
	}
	return p, nil
}

// OnExhausted registers a callback invoked whenever Acquire must wait.
func (p *Pool) OnExhausted(fn OnPoolExhausted) {
	p.mu.Lock()
	p.onPoolExhausted = fn
	p.mu.Unlock()
}

func (p *Pool) warmUp() {
	for i := 0; i < p.cfg.MinPoolSize; i++ {
		p.mu.Lock()
		if p.closed || p.total >= p.cfg.MinPoolSize {
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ConnectTimeout)
		conn, err := dialOneOf(ctx, p.cfg, p.rootCAs())
		cancel()
		if err != nil {
			slog.Warn("pool warm-up connection failed", "err", err)
			return
		}
		conn.pool = p

		p.mu.Lock()
		if p.closed || p.total >= p.cfg.MaxPoolSize {
			p.mu.Unlock()
			conn.discard()
			return
		}
		p.total++
		p.idle = append(p.idle, conn)
		p.mu.Unlock()
		p.cond.Signal()
	}
	slog.Info("pool warm-up complete", "min_pool_size", p.cfg.MinPoolSize)
}

func (p *Pool) reapLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.reapIdleOverMin()
		}
	}
}

// reapIdleOverMin closes every idle connection that has gone broken,
// whatever MinPoolSize is, keeping the idle deque free of dead sockets.
func (p *Pool) reapIdleOverMin() {
	p.mu.Lock()
	var keep []*Connection
	var drop []*Connection
	for _, c := range p.idle {
		if c.Broken() {
			drop = append(drop, c)
			continue
		}
		keep = append(keep, c)
	}
	p.idle = keep
	p.total -= len(drop)
	p.mu.Unlock()

	for _, c := range drop {
		c.discard()
	}
}

// Acquire waits (respecting ctx's deadline and ConnectConfig.ConnectTimeout,
// whichever is earlier) for a Connection, preferring an idle one and
// dialing a new one only when under MaxPoolSize.
func (p *Pool) Acquire(ctx context.Context) (conn *Connection, err error) {
	start := time.Now()
	defer func() {
		p.mu.Lock()
		m := p.metrics
		p.mu.Unlock()
		if m != nil {
			m.ObserveAcquire(time.Since(start))
		}
	}()

	deadline := time.Now().Add(p.cfg.ConnectTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	p.mu.Lock()
	for {
		if p.closed {
			p.mu.Unlock()
			return nil, newConnectionPoolError("pool is closed", nil)
		}
		select {
		case <-ctx.Done():
			p.mu.Unlock()
			return nil, newConnectionPoolError("acquire canceled", ctx.Err())
		default:
		}

		if n := len(p.idle); n > 0 {
			c := p.idle[n-1]
			p.idle = p.idle[:n-1]
			p.mu.Unlock()

			if c.Broken() {
				c.discard()
				p.mu.Lock()
				p.total--
				continue
			}
			p.mu.Lock()
			p.active[c] = struct{}{}
			p.mu.Unlock()
			return c, nil
		}

		if p.total < p.cfg.MaxPoolSize {
			p.total++
			p.mu.Unlock()

			dialCtx, cancel := context.WithDeadline(ctx, deadline)
			conn, err := dialOneOf(dialCtx, p.cfg, p.rootCAs())
			cancel()
			if err != nil {
				p.mu.Lock()
				p.total--
				p.mu.Unlock()
				return nil, newConnectionPoolError("dialing a new connection", err)
			}
			conn.pool = p

			p.mu.Lock()
			if p.closed {
				p.mu.Unlock()
				conn.discard()
				return nil, newConnectionPoolError("pool closed while connecting", nil)
			}
			p.active[conn] = struct{}{}
			p.mu.Unlock()
			return conn, nil
		}

		p.waiting++
		p.exhausted++
		cb := p.onPoolExhausted
		waiting := p.waiting
		p.mu.Unlock()
		if cb != nil {
			cb(waiting)
		}
		p.mu.Lock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			p.waiting--
			p.mu.Unlock()
			return nil, newConnectionPoolError("acquire timed out", nil)
		}

		timer := time.AfterFunc(remaining, func() { p.cond.Broadcast() })
		p.cond.Wait()
		timer.Stop()
		p.waiting--

		select {
		case <-ctx.Done():
			p.mu.Unlock()
			return nil, newConnectionPoolError("acquire canceled", ctx.Err())
		default:
		}
	}
}

// injectTestConn seeds the idle deque with an already-constructed
// Connection, bypassing dial/auth, for unit tests exercising acquire and
// release logic against a fake net.Pipe server instead of a live
// PostgreSQL instance.
func (p *Pool) injectTestConn(c *Connection) {
	c.pool = p
	p.mu.Lock()
	p.total++
	p.idle = append(p.idle, c)
	p.mu.Unlock()
}

// release is called by Connection.Close for a pool-owned Connection. It
// applies the configured recycling method and either re-admits the
// connection to the idle deque or discards it, signaling one waiter.
func (p *Pool) release(c *Connection) {
	p.mu.Lock()
	delete(p.active, c)
	closed := p.closed
	p.mu.Unlock()

	if closed || c.Broken() {
		p.mu.Lock()
		p.total--
		p.mu.Unlock()
		c.discard()
		p.cond.Signal()
		return
	}

	if c.State() == ConnInFailedTransaction {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_, err := c.Execute(ctx, "ROLLBACK")
		cancel()
		if err != nil {
			p.mu.Lock()
			p.total--
			p.mu.Unlock()
			c.discard()
			p.cond.Signal()
			return
		}
	}

	if !p.recycle(c) {
		p.mu.Lock()
		p.total--
		p.mu.Unlock()
		c.discard()
		p.cond.Signal()
		return
	}

	p.mu.Lock()
	if p.closed {
		p.total--
		p.mu.Unlock()
		c.discard()
		p.cond.Signal()
		return
	}
	p.idle = append(p.idle, c)
	p.mu.Unlock()
	p.cond.Signal()
}

// recycle applies cfg.Recycling to c before it re-enters the idle deque:
// Fast does nothing, Verified requires a successful round trip, Clean
// additionally issues DISCARD ALL. Returns false when the connection
// should be discarded instead.
func (p *Pool) recycle(c *Connection) bool {
	switch p.cfg.Recycling {
	case RecycleFast:
		return true
	case RecycleVerified:
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, err := c.ExecuteBatch(ctx, ";")
		return err == nil
	case RecycleClean:
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, err := c.ExecuteBatch(ctx, "DISCARD ALL")
		return err == nil
	default:
		return true
	}
}

// Stats returns a point-in-time snapshot of pool occupancy.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Total:     p.total,
		Idle:      len(p.idle),
		Active:    len(p.active),
		Waiting:   p.waiting,
		Exhausted: p.exhausted,
	}
}

// Drain closes every idle connection and waits (up to 30s, then force-
// closes) for active ones to be released.
func (p *Pool) Drain() {
	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	p.total -= len(idle)
	activeCount := len(p.active)
	p.mu.Unlock()

	for _, c := range idle {
		c.discard()
	}

	if activeCount == 0 {
		return
	}
	slog.Info("draining active connections", "count", activeCount)
	deadline := time.After(30 * time.Second)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.mu.Lock()
			if len(p.active) == 0 {
				p.mu.Unlock()
				return
			}
			p.mu.Unlock()
		case <-deadline:
			p.mu.Lock()
			for c := range p.active {
				c.discard()
				p.total--
			}
			p.active = make(map[*Connection]struct{})
			p.mu.Unlock()
			slog.Warn("force-closed active connections after drain timeout")
			return
		}
	}
}

// Close marks the pool closed, wakes every waiter in Acquire, and drains
// remaining connections. Acquire called after Close returns
// ConnectionPoolError; outstanding handles continue to work and free
// their underlying socket instead of returning it on Close.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.stopCh)
	p.cond.Broadcast()
	watcher := p.certWatcher
	p.mu.Unlock()

	if watcher != nil {
		if err := watcher.Stop(); err != nil {
			slog.Warn("stopping sslrootcert watcher", "err", err)
		}
	}

	p.Drain()
}

// Listener dials a fresh Connection dedicated to LISTEN/NOTIFY, outside
// the pool's idle/active accounting: a listening connection is long-lived
// and never recycled, so it has no business competing with query
// connections for MaxPoolSize.
func (p *Pool) Listener(ctx context.Context) (*Listener, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, newConnectionPoolError("pool is closed", nil)
	}
	conn, err := dialOneOf(ctx, p.cfg, p.rootCAs())
	if err != nil {
		return nil, newConnectionPoolError("dialing listener connection", err)
	}
	return conn.Listener(), nil
}
