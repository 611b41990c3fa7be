package transport

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AsifaBeedi/EdgeShiftAI/internal/protocol"
)

// Pool hands out lockstep connection handles keyed by peer address.
//
// Handles are checked out exclusively: Get either returns an idle cached
// handle or dials a new one, and the caller must hand it back with Put (on
// success) or Discard (on any failure). Exclusive checkout keeps concurrent
// callers from tripping the one-in-flight rule on a shared handle.
type Pool struct {
	mu   sync.Mutex
	idle map[string]*Conn
}

// NewPool creates an empty connection pool.
func NewPool() *Pool {
	return &Pool{idle: make(map[string]*Conn)}
}

// Get checks out a connection to addr, dialing if no healthy idle handle is
// cached. Dial failures are classified as Unreachable.
func (p *Pool) Get(ctx context.Context, addr string) (*Conn, error) {
	p.mu.Lock()
	c, ok := p.idle[addr]
	if ok {
		delete(p.idle, addr)
	}
	p.mu.Unlock()

	if ok && !c.Poisoned() {
		return c, nil
	}
	if ok {
		_ = c.Close()
	}
	return Dial(ctx, addr)
}

// Put returns a healthy handle to the pool for reuse. Poisoned handles are
// closed instead of cached.
func (p *Pool) Put(c *Conn) {
	if c == nil {
		return
	}
	if c.Poisoned() {
		_ = c.Close()
		return
	}
	p.mu.Lock()
	prev, ok := p.idle[c.addr]
	p.idle[c.addr] = c
	p.mu.Unlock()
	if ok && prev != c {
		_ = prev.Close()
	}
}

// Discard closes a handle and drops any cached handle for the same address.
// Callers must discard after Timeout, Unreachable, ProtocolViolation or
// MalformedResponse; the lockstep discipline forbids retrying in place.
func (p *Pool) Discard(c *Conn) {
	if c == nil {
		return
	}
	_ = c.Close()
	p.mu.Lock()
	if cached, ok := p.idle[c.addr]; ok && cached == c {
		delete(p.idle, c.addr)
	}
	p.mu.Unlock()
}

// Close tears down every idle handle.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for addr, c := range p.idle {
		_ = c.Close()
		delete(p.idle, addr)
	}
}

// Client layers the probe and task exchanges over a Pool, applying the
// discard-on-failure rule so callers only see classified errors.
type Client struct {
	pool *Pool
}

// NewClient creates a client over its own pool.
func NewClient() *Client {
	return &Client{pool: NewPool()}
}

// Probe issues one liveness probe to addr and returns the peer's reported
// metrics along with the observed round-trip latency.
func (c *Client) Probe(ctx context.Context, addr string) (*protocol.ProbeResult, time.Duration, error) {
	req := &protocol.Request{Type: protocol.TypeProbe, RequestID: uuid.NewString()}

	start := time.Now()
	resp, err := c.roundTrip(ctx, addr, req)
	if err != nil {
		return nil, 0, err
	}
	rtt := time.Since(start)

	var result protocol.ProbeResult
	if err := protocol.DecodePayload(resp.Body, &result); err != nil {
		return nil, 0, err
	}
	return &result, rtt, nil
}

// RunTask ships one partition to addr and returns the peer's result. A
// peer-side inference failure comes back as a KindInferenceFailure error;
// the exchange itself succeeded, so the connection stays usable.
func (c *Client) RunTask(ctx context.Context, addr string, task protocol.TaskPayload) (*protocol.TaskResult, error) {
	payload, err := protocol.EncodePayload(task)
	if err != nil {
		return nil, err
	}
	req := &protocol.Request{Type: protocol.TypeTask, RequestID: uuid.NewString(), Payload: payload}

	resp, err := c.roundTrip(ctx, addr, req)
	if err != nil {
		return nil, err
	}

	if resp.Outcome == protocol.OutcomeError {
		var eb protocol.ErrorBody
		if err := protocol.DecodePayload(resp.Body, &eb); err != nil {
			return nil, err
		}
		return nil, protocol.Errorf(protocol.KindInferenceFailure,
			"peer %s: %s", addr, eb.Message)
	}

	var result protocol.TaskResult
	if err := protocol.DecodePayload(resp.Body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Drop discards any cached connection to addr. Used when a peer is demoted
// so a later promotion starts from a fresh dial.
func (c *Client) Drop(addr string) {
	c.pool.mu.Lock()
	cached, ok := c.pool.idle[addr]
	if ok {
		delete(c.pool.idle, addr)
	}
	c.pool.mu.Unlock()
	if ok {
		_ = cached.Close()
	}
}

// Close releases all pooled connections.
func (c *Client) Close() { c.pool.Close() }

func (c *Client) roundTrip(ctx context.Context, addr string, req *protocol.Request) (*protocol.Response, error) {
	conn, err := c.pool.Get(ctx, addr)
	if err != nil {
		return nil, err
	}
	resp, err := conn.Send(ctx, req)
	if err != nil {
		c.pool.Discard(conn)
		return nil, err
	}
	c.pool.Put(conn)
	return resp, nil
}

// Prober is the probe-side contract consumed by discovery and heartbeat.
// *Client implements it; tests substitute fakes.
type Prober interface {
	Probe(ctx context.Context, addr string) (*protocol.ProbeResult, time.Duration, error)
}

// TaskRunner is the dispatch-side contract consumed by the coordinator.
type TaskRunner interface {
	RunTask(ctx context.Context, addr string, task protocol.TaskPayload) (*protocol.TaskResult, error)
}

var _ Prober = (*Client)(nil)
var _ TaskRunner = (*Client)(nil)
