// ABOUTME: Bounded PostgreSQL connection pool over lib/pq.
// ABOUTME: Handles acquire with deadline, idempotent release, and broken-conn replacement.
package pool

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

var (
	// ErrExhausted is returned when no connection becomes free within
	// the acquire bound.
	ErrExhausted = errors.New("pool: no connection available within wait bound")

	// ErrClosed is returned when acquiring from a closed pool.
	ErrClosed = errors.New("pool: closed")
)

const defaultAcquireTimeout = 5 * time.Second

// Conn is one pooled connection slot. A handler holds it exclusively
// between Acquire and Release. The underlying handle is created
// lazily and replaced lazily after a failure.
type Conn struct {
	pool *Pool

	mu     sync.Mutex
	sc     *sql.Conn
	inUse  bool
	tainted bool // an operation on this conn returned a driver error
}

// QueryContext runs a row-returning statement on this connection.
func (c *Conn) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := c.sc.QueryContext(ctx, query, args...)
	if err != nil {
		c.markTainted()
	}
	return rows, err
}

// ExecContext runs a non-row-returning statement on this connection.
func (c *Conn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := c.sc.ExecContext(ctx, query, args...)
	if err != nil {
		c.markTainted()
	}
	return res, err
}

// PingContext verifies the connection is alive.
func (c *Conn) PingContext(ctx context.Context) error {
	return c.sc.PingContext(ctx)
}

func (c *Conn) markTainted() {
	c.mu.Lock()
	c.tainted = true
	c.mu.Unlock()
}

// Stats is a point-in-time snapshot of pool occupancy.
type Stats struct {
	Size  int `json:"size"`
	InUse int `json:"in_use"`
	Idle  int `json:"idle"`
}

// Pool owns a fixed set of connection slots. The free list is a
// buffered channel; acquisition blocks on it up to the acquire bound.
type Pool struct {
	db             *sql.DB
	free           chan *Conn
	size           int
	acquireTimeout time.Duration

	mu     sync.Mutex
	inUse  int
	closed bool
}

// Open connects to PostgreSQL, verifies connectivity, and returns a
// pool of the given size.
func Open(ctx context.Context, dsn string, size int, acquireTimeout time.Duration) (*Pool, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	return New(db, size, acquireTimeout), nil
}

// New builds a pool over an already-open *sql.DB. The DB's own open
// limit is pinned to the pool size so the slot bookkeeping is the
// single gate on concurrency.
func New(db *sql.DB, size int, acquireTimeout time.Duration) *Pool {
	if size <= 0 {
		size = 1
	}
	if acquireTimeout <= 0 {
		acquireTimeout = defaultAcquireTimeout
	}

	db.SetMaxOpenConns(size)
	db.SetMaxIdleConns(size)
	db.SetConnMaxLifetime(time.Hour)

	p := &Pool{
		db:             db,
		free:           make(chan *Conn, size),
		size:           size,
		acquireTimeout: acquireTimeout,
	}
	for i := 0; i < size; i++ {
		p.free <- &Conn{pool: p}
	}
	return p
}

// Acquire hands out a free connection, waiting up to the acquire
// bound. The slot's handle is created on first use and re-created
// after a tainted release.
func (p *Pool) Acquire(ctx context.Context) (*Conn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	p.mu.Unlock()

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.acquireTimeout)
		defer cancel()
	}

	select {
	case c := <-p.free:
		if err := p.lease(ctx, c); err != nil {
			// Slot goes back; the handle will be retried next time.
			p.free <- c
			return nil, err
		}
		return c, nil
	case <-ctx.Done():
		return nil, ErrExhausted
	}
}

func (p *Pool) lease(ctx context.Context, c *Conn) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sc == nil {
		sc, err := p.db.Conn(ctx)
		if err != nil {
			return fmt.Errorf("establish connection: %w", err)
		}
		c.sc = sc
	}
	c.inUse = true
	c.tainted = false

	p.mu.Lock()
	p.inUse++
	p.mu.Unlock()
	return nil
}

// Release returns a connection to the pool. It is idempotent: a
// double release is a no-op. A connection that saw a driver error is
// ping-checked; if the check fails the handle is discarded and the
// slot refilled lazily on the next acquire.
func (p *Pool) Release(c *Conn) {
	if c == nil {
		return
	}

	c.mu.Lock()
	if !c.inUse {
		c.mu.Unlock()
		return
	}
	c.inUse = false

	if c.tainted && c.sc != nil {
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		broken := c.sc.PingContext(pingCtx) != nil
		cancel()
		if broken {
			_ = c.sc.Close()
			c.sc = nil
		}
	}
	c.tainted = false
	c.mu.Unlock()

	p.mu.Lock()
	p.inUse--
	closed := p.closed
	p.mu.Unlock()

	if closed {
		c.mu.Lock()
		if c.sc != nil {
			_ = c.sc.Close()
			c.sc = nil
		}
		c.mu.Unlock()
		return
	}
	p.free <- c
}

// Stats reports current occupancy.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Size: p.size, InUse: p.inUse, Idle: p.size - p.inUse}
}

// Close marks the pool closed, drains idle slots, and closes the
// underlying database. Connections still held are closed on release.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	for {
		select {
		case c := <-p.free:
			c.mu.Lock()
			if c.sc != nil {
				_ = c.sc.Close()
				c.sc = nil
			}
			c.mu.Unlock()
		default:
			return p.db.Close()
		}
	}
}
