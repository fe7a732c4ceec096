package network

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Dialer opens connections with the pool's configured framing parameters.
type Dialer struct {
	PingDelay   time.Duration
	PingTimeout time.Duration
	Handlers    HandlerSet
	Log         zerolog.Logger
}

func (d Dialer) dial(ctx context.Context, address string) (*Connection, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("network: dial %s: %w", address, err)
	}
	return NewConnection(conn, d.Handlers, d.PingDelay, d.PingTimeout, d.Log), nil
}

// Pool keeps at most one live Connection per remote address, reusing it
// across callers and replacing it transparently if it dies. Connections
// idle (no outstanding Ask calls and no traffic) for longer than maxIdle
// are evicted so a storage that drops out of the partition table doesn't
// keep a socket open forever.
type Pool struct {
	dialer  Dialer
	maxIdle time.Duration

	mu    sync.Mutex
	byKey map[string]*pooledConn
}

type pooledConn struct {
	conn     *Connection
	lastUsed time.Time
}

// NewPool creates an empty pool. maxIdle <= 0 disables idle eviction.
func NewPool(dialer Dialer, maxIdle time.Duration) *Pool {
	p := &Pool{dialer: dialer, maxIdle: maxIdle, byKey: make(map[string]*pooledConn)}
	if maxIdle > 0 {
		go p.evictLoop()
	}
	return p
}

// Get returns the live connection to address, dialing one if necessary.
func (p *Pool) Get(ctx context.Context, address string) (*Connection, error) {
	p.mu.Lock()
	if pc, ok := p.byKey[address]; ok {
		select {
		case <-pc.conn.Done():
			delete(p.byKey, address)
		default:
			pc.lastUsed = time.Now()
			p.mu.Unlock()
			return pc.conn, nil
		}
	}
	p.mu.Unlock()

	conn, err := p.dialer.dial(ctx, address)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.byKey[address] = &pooledConn{conn: conn, lastUsed: time.Now()}
	p.mu.Unlock()
	return conn, nil
}

// Remove closes and forgets the connection to address, if any. Callers use
// this after observing an address has left the partition table or failed
// repeatedly, so a future Get dials fresh rather than reusing a stale peer.
func (p *Pool) Remove(address string) {
	p.mu.Lock()
	pc, ok := p.byKey[address]
	delete(p.byKey, address)
	p.mu.Unlock()
	if ok {
		_ = pc.conn.Close()
	}
}

// Close tears down every pooled connection.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, pc := range p.byKey {
		_ = pc.conn.Close()
		delete(p.byKey, key)
	}
}

func (p *Pool) evictLoop() {
	ticker := time.NewTicker(p.maxIdle / 2)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-p.maxIdle)
		p.mu.Lock()
		for key, pc := range p.byKey {
			pc.conn.mu.Lock()
			busy := len(pc.conn.pending) > 0
			pc.conn.mu.Unlock()
			recent := time.Unix(0, pc.conn.lastRecv.Load()).After(cutoff)
			if pc.lastUsed.Before(cutoff) && !busy && !recent {
				_ = pc.conn.Close()
				delete(p.byKey, key)
			}
		}
		p.mu.Unlock()
	}
}
