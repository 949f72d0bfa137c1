package netagent

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Transport dials command sessions to devices. Implementations must be safe
// for concurrent use; the pool may dial several devices at once.
type Transport interface {
	Dial(ctx context.Context, dev Device) (Session, error)
}

// Session is one live command channel to a device.
type Session interface {
	// Run executes a single read-only command and returns its raw output.
	Run(ctx context.Context, command string) (string, error)
	// Ping is a cheap liveness probe on the underlying channel.
	Ping(ctx context.Context) error
	Close() error
}

const defaultPoolCapacity = 16

// Conn is a pooled session handle. A Conn is owned exclusively by one unit
// of work between Acquire and Release; the pool never hands the same handle
// to two callers.
type Conn struct {
	addr      string
	session   Session
	lastUsed  time.Time
	inUse     bool
	transient bool
}

// Run executes command over the held session.
func (c *Conn) Run(ctx context.Context, command string) (string, error) {
	return c.session.Run(ctx, command)
}

// Address returns the device address this handle is bound to.
func (c *Conn) Address() string {
	return c.addr
}

// ConnPool holds at most one pooled live session per device address, bounded
// by a total capacity with LRU eviction of idle handles.
type ConnPool struct {
	transport Transport
	capacity  int
	// onEvict runs under the pool mutex so eviction and its side effects
	// (result-cache invalidation) are atomic with respect to concurrent
	// acquires for the same device. The hook must not call back into the pool.
	onEvict func(addr string)

	mu    sync.Mutex
	conns map[string]*Conn
}

// NewConnPool builds a pool over transport. capacity <= 0 selects the
// default. onEvict may be nil.
func NewConnPool(transport Transport, capacity int, onEvict func(addr string)) *ConnPool {
	if capacity <= 0 {
		capacity = defaultPoolCapacity
	}
	return &ConnPool{
		transport: transport,
		capacity:  capacity,
		onEvict:   onEvict,
		conns:     make(map[string]*Conn),
	}
}

// Acquire returns a live handle for dev. Reused handles are probed first;
// a failed probe evicts the stale session and dials a fresh one transparently.
// When the device's pooled session is busy, a transient session is dialed if
// capacity allows; transient handles are closed on Release instead of being
// returned to the pool.
func (p *ConnPool) Acquire(ctx context.Context, dev Device) (*Conn, error) {
	addr := dev.Address
	p.mu.Lock()
	if conn, ok := p.conns[addr]; ok {
		if !conn.inUse {
			conn.inUse = true
			p.mu.Unlock()
			if err := conn.session.Ping(ctx); err != nil {
				log.Warn().Err(err).Str("device", addr).Msg("pooled session failed liveness probe, evicting")
				p.Evict(addr)
				_ = conn.session.Close()
				return p.dialPooled(ctx, dev)
			}
			conn.lastUsed = time.Now()
			return conn, nil
		}
		if len(p.conns) < p.capacity {
			p.mu.Unlock()
			sess, err := p.transport.Dial(ctx, dev)
			if err != nil {
				return nil, errors.Wrapf(err, "dial transient session to %s failed", addr)
			}
			return &Conn{addr: addr, session: sess, transient: true, inUse: true}, nil
		}
		p.mu.Unlock()
		return nil, errors.Errorf("connection pool: session to %s is busy and pool is at capacity", addr)
	}
	if len(p.conns) >= p.capacity && !p.evictIdleLRULocked() {
		p.mu.Unlock()
		return nil, errors.Errorf("connection pool: at capacity (%d) with all sessions in use", p.capacity)
	}
	p.mu.Unlock()
	return p.dialPooled(ctx, dev)
}

func (p *ConnPool) dialPooled(ctx context.Context, dev Device) (*Conn, error) {
	sess, err := p.transport.Dial(ctx, dev)
	if err != nil {
		return nil, errors.Wrapf(err, "dial session to %s failed", dev.Address)
	}
	conn := &Conn{addr: dev.Address, session: sess, lastUsed: time.Now(), inUse: true}
	p.mu.Lock()
	if _, exists := p.conns[dev.Address]; exists || len(p.conns) >= p.capacity {
		// Lost a race for the slot; hand the session out as transient.
		conn.transient = true
	} else {
		p.conns[dev.Address] = conn
	}
	p.mu.Unlock()
	return conn, nil
}

// Release returns a handle to the pool. Transient handles and handles whose
// pool entry was evicted while in use are closed outright.
func (p *ConnPool) Release(conn *Conn) {
	if conn == nil {
		return
	}
	if conn.transient {
		if err := conn.session.Close(); err != nil {
			log.Debug().Err(err).Str("device", conn.addr).Msg("close transient session failed")
		}
		return
	}
	p.mu.Lock()
	current, ok := p.conns[conn.addr]
	if ok && current == conn {
		conn.inUse = false
		conn.lastUsed = time.Now()
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	// Entry was evicted while this handle was in use.
	if err := conn.session.Close(); err != nil {
		log.Debug().Err(err).Str("device", conn.addr).Msg("close evicted session failed")
	}
}

// Evict drops the pooled session for addr, if any, and fires the eviction
// hook. Evicting an absent device is a no-op.
func (p *ConnPool) Evict(addr string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.evictLocked(addr)
}

func (p *ConnPool) evictLocked(addr string) {
	conn, ok := p.conns[addr]
	if !ok {
		return
	}
	delete(p.conns, addr)
	if !conn.inUse {
		if err := conn.session.Close(); err != nil {
			log.Debug().Err(err).Str("device", addr).Msg("close evicted session failed")
		}
	}
	// In-use sessions are closed by Release once their unit of work settles.
	if p.onEvict != nil {
		p.onEvict(addr)
	}
}

// evictIdleLRULocked removes the least recently used idle entry to make room.
// Returns false when every entry is in use.
func (p *ConnPool) evictIdleLRULocked() bool {
	var (
		oldestAddr string
		oldest     time.Time
		found      bool
	)
	for addr, conn := range p.conns {
		if conn.inUse {
			continue
		}
		if !found || conn.lastUsed.Before(oldest) {
			oldestAddr = addr
			oldest = conn.lastUsed
			found = true
		}
	}
	if !found {
		return false
	}
	log.Debug().Str("device", oldestAddr).Msg("evicting least recently used idle session")
	p.evictLocked(oldestAddr)
	return true
}

// HealthCheck probes the pooled session for addr. Unhealthy sessions are
// evicted and false is returned. Devices without a pooled entry, or whose
// entry is currently in use, report healthy.
func (p *ConnPool) HealthCheck(ctx context.Context, addr string) bool {
	p.mu.Lock()
	conn, ok := p.conns[addr]
	if !ok || conn.inUse {
		p.mu.Unlock()
		return true
	}
	conn.inUse = true
	p.mu.Unlock()
	if err := conn.session.Ping(ctx); err != nil {
		log.Info().Err(err).Str("device", addr).Msg("health check failed, evicting session")
		p.Evict(addr)
		_ = conn.session.Close()
		return false
	}
	p.Release(conn)
	return true
}

// Close evicts every pooled session. Intended for shutdown.
func (p *ConnPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for addr := range p.conns {
		p.evictLocked(addr)
	}
}
