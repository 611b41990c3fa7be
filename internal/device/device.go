// Package device implements the peer-side runtime: it binds one lockstep
// endpoint and answers the coordinator's probes and task dispatches, one
// request at a time per connection.
package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/AsifaBeedi/EdgeShiftAI/internal/model"
	"github.com/AsifaBeedi/EdgeShiftAI/internal/protocol"
)

// idleTimeout bounds how long a connection may sit between requests before
// the peer drops it. The coordinator discards wedged connections on its
// side; this is the matching guard against half-dead clients.
const idleTimeout = 2 * time.Minute

// Node serves probe and task requests for one peer endpoint.
//
// Each accepted connection is handled by its own goroutine, but requests on
// a single connection are processed strictly one at a time: read a frame,
// handle it, write the reply. That matches the transport's lockstep
// discipline — the coordinator never pipelines on one connection.
type Node struct {
	engine  model.Interface
	metrics MetricsProvider

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

// NewNode creates a peer runtime over the given engine and metrics source.
func NewNode(engine model.Interface, metrics MetricsProvider) *Node {
	return &Node{
		engine:  engine,
		metrics: metrics,
		conns:   make(map[net.Conn]struct{}),
	}
}

// Serve accepts connections on l until ctx is cancelled or the listener is
// closed. It blocks; run it in a goroutine when the caller has other work.
func (n *Node) Serve(ctx context.Context, l net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = l.Close()
		n.closeAll()
	}()

	log.Printf("device: serving on %s", l.Addr())
	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		n.track(conn)
		go func() {
			defer n.untrack(conn)
			n.handleConn(ctx, conn)
		}()
	}
}

// handleConn serves one lockstep connection until the remote side closes it
// or a framing error makes the stream untrustworthy.
func (n *Node) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(idleTimeout))

		var req protocol.Request
		if err := protocol.ReadMessage(conn, &req); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				log.Printf("device: read from %s: %v", conn.RemoteAddr(), err)
			}
			return
		}

		resp := n.handleRequest(ctx, &req)

		_ = conn.SetWriteDeadline(time.Now().Add(30 * time.Second))
		if err := protocol.WriteMessage(conn, resp); err != nil {
			log.Printf("device: write to %s: %v", conn.RemoteAddr(), err)
			return
		}
	}
}

// handleRequest classifies one request and builds its reply. Inference
// errors become structured error responses: a bad partition must never take
// the peer process down.
func (n *Node) handleRequest(ctx context.Context, req *protocol.Request) *protocol.Response {
	switch req.Type {
	case protocol.TypeProbe:
		return n.handleProbe(req)
	case protocol.TypeTask:
		return n.handleTask(ctx, req)
	default:
		return errorResponse(req.RequestID, protocol.KindMalformedResponse,
			fmt.Sprintf("unknown message type %q", req.Type))
	}
}

func (n *Node) handleProbe(req *protocol.Request) *protocol.Response {
	body, err := protocol.EncodePayload(protocol.ProbeResult{
		Status:  "active",
		Metrics: n.metrics.Sample(),
	})
	if err != nil {
		return errorResponse(req.RequestID, protocol.KindMalformedResponse, err.Error())
	}
	return &protocol.Response{RequestID: req.RequestID, Outcome: protocol.OutcomeOK, Body: body}
}

func (n *Node) handleTask(ctx context.Context, req *protocol.Request) *protocol.Response {
	var task protocol.TaskPayload
	if err := protocol.DecodePayload(req.Payload, &task); err != nil {
		return errorResponse(req.RequestID, protocol.KindMalformedResponse,
			fmt.Sprintf("undecodable task payload: %v", err))
	}

	preds, err := n.engine.Infer(ctx, task.Tensor)
	if err != nil {
		log.Printf("device: inference failed for job %s partition %d: %v",
			task.JobID, task.PartitionIndex, err)
		return errorResponse(req.RequestID, protocol.KindInferenceFailure, err.Error())
	}

	body, err := protocol.EncodePayload(protocol.TaskResult{
		JobID:          task.JobID,
		PartitionIndex: task.PartitionIndex,
		Predictions:    preds,
	})
	if err != nil {
		return errorResponse(req.RequestID, protocol.KindMalformedResponse, err.Error())
	}
	return &protocol.Response{RequestID: req.RequestID, Outcome: protocol.OutcomeOK, Body: body}
}

func errorResponse(requestID string, kind protocol.ErrorKind, msg string) *protocol.Response {
	body, _ := protocol.EncodePayload(protocol.ErrorBody{Kind: kind.String(), Message: msg})
	return &protocol.Response{RequestID: requestID, Outcome: protocol.OutcomeError, Body: body}
}

func (n *Node) track(conn net.Conn) {
	n.mu.Lock()
	n.conns[conn] = struct{}{}
	n.mu.Unlock()
}

func (n *Node) untrack(conn net.Conn) {
	n.mu.Lock()
	delete(n.conns, conn)
	n.mu.Unlock()
}

func (n *Node) closeAll() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for conn := range n.conns {
		_ = conn.Close()
	}
}
