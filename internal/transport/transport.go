// Package transport wraps a single lockstep request/reply connection to one
// remote peer. The protocol has no native timeout or liveness signal, so the
// rules here are strict: one request in flight per connection, a deadline on
// every exchange, and a connection whose exchange was abandoned is poisoned —
// it must be discarded and redialed, never reused, because the peer may still
// deliver the stale reply and corrupt framing for the next request.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync/atomic"
	"time"

	"github.com/AsifaBeedi/EdgeShiftAI/internal/protocol"
)

// DefaultDialTimeout bounds the TCP connect when the caller's context
// carries no earlier deadline.
const DefaultDialTimeout = 2 * time.Second

// Conn is a lockstep connection handle bound to one peer address.
//
// Invariants:
//   - At most one Send is in flight at a time; a second concurrent Send
//     fails with ProtocolViolation instead of interleaving frames.
//   - Once poisoned (deadline expiry, protocol violation, undecodable or
//     mismatched reply) every later Send fails with ProtocolViolation.
//     The caller must Close it and dial a fresh handle before retrying.
type Conn struct {
	addr     string
	nc       net.Conn
	inFlight atomic.Bool
	poisoned atomic.Bool
}

// Dial opens a lockstep connection to addr. The connect is bounded by the
// context deadline, or DefaultDialTimeout if the context has none. A connect
// failure is classified as Unreachable.
func Dial(ctx context.Context, addr string) (*Conn, error) {
	timeout := DefaultDialTimeout
	if dl, ok := ctx.Deadline(); ok {
		if remain := time.Until(dl); remain < timeout {
			timeout = remain
		}
	}
	nc, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, protocol.NewError(protocol.KindUnreachable, err)
	}
	return &Conn{addr: addr, nc: nc}, nil
}

// Addr returns the remote address this handle is bound to.
func (c *Conn) Addr() string { return c.addr }

// Poisoned reports whether the handle may no longer be used for requests.
func (c *Conn) Poisoned() bool { return c.poisoned.Load() }

// Send performs one request/reply exchange, blocking up to the context
// deadline. On any failure the handle is poisoned; only the returned error's
// kind tells the caller what happened:
//
//   - Timeout: the deadline expired mid-exchange
//   - Unreachable: the connection broke at the socket level
//   - ProtocolViolation: out-of-order send, reuse of a poisoned handle, or
//     a reply whose request id does not echo the request's
//   - MalformedResponse: the reply could not be decoded
func (c *Conn) Send(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	if c.poisoned.Load() {
		return nil, protocol.Errorf(protocol.KindProtocolViolation,
			"send on poisoned connection to %s", c.addr)
	}
	if !c.inFlight.CompareAndSwap(false, true) {
		return nil, protocol.Errorf(protocol.KindProtocolViolation,
			"send to %s while a request is already in flight", c.addr)
	}
	defer c.inFlight.Store(false)

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(DefaultDialTimeout)
	}
	if err := c.nc.SetDeadline(deadline); err != nil {
		c.poisoned.Store(true)
		return nil, protocol.NewError(protocol.KindUnreachable, err)
	}

	if err := protocol.WriteMessage(c.nc, req); err != nil {
		c.poisoned.Store(true)
		return nil, classifyIOErr(err)
	}

	var resp protocol.Response
	if err := protocol.ReadMessage(c.nc, &resp); err != nil {
		c.poisoned.Store(true)
		if protocol.IsKind(err, protocol.KindMalformedResponse) {
			return nil, err
		}
		return nil, classifyIOErr(err)
	}

	if resp.RequestID != req.RequestID {
		// A stale reply from an earlier abandoned exchange on the peer
		// side; framing for this connection can no longer be trusted.
		c.poisoned.Store(true)
		return nil, protocol.Errorf(protocol.KindProtocolViolation,
			"response id %q does not match request id %q", resp.RequestID, req.RequestID)
	}
	return &resp, nil
}

// Close tears down the underlying socket. Safe on poisoned handles.
func (c *Conn) Close() error {
	c.poisoned.Store(true)
	return c.nc.Close()
}

// classifyIOErr maps a socket-level failure into the transport taxonomy:
// deadline expiry is Timeout, anything else is Unreachable.
func classifyIOErr(err error) error {
	var ne net.Error
	if errors.Is(err, os.ErrDeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return protocol.NewError(protocol.KindTimeout, err)
	}
	return protocol.NewError(protocol.KindUnreachable, fmt.Errorf("connection failed: %w", err))
}
