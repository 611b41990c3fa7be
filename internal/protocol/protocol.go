// Package protocol defines the wire schema shared by the coordinator and the
// peer runtime: a framed request/reply message pair, the payload bodies that
// ride inside them, and the error taxonomy used to classify failures.
//
// Framing is a 4-byte big-endian length prefix followed by a JSON body. The
// transport sends exactly one request per frame and expects exactly one reply
// frame back; there is no multiplexing, matching the lockstep discipline the
// transport enforces.
package protocol

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/AsifaBeedi/EdgeShiftAI/internal/model"
)

// MessageType discriminates the two request flavors a peer can receive.
type MessageType string

const (
	// TypeProbe is a liveness probe; the peer answers with current metrics.
	TypeProbe MessageType = "probe"
	// TypeTask carries one partition of a job for the peer to execute.
	TypeTask MessageType = "task"
)

// Outcome reports whether the peer handled a request successfully.
type Outcome string

const (
	OutcomeOK    Outcome = "ok"
	OutcomeError Outcome = "error"
)

// Request is the frame body sent coordinator → peer.
type Request struct {
	Type      MessageType     `json:"type"`
	RequestID string          `json:"request_id"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Response is the frame body sent peer → coordinator. RequestID echoes the
// request's id so a stale reply from an abandoned exchange is detectable.
type Response struct {
	RequestID string          `json:"request_id"`
	Outcome   Outcome         `json:"outcome"`
	Body      json.RawMessage `json:"body,omitempty"`
}

// Metrics is a point-in-time resource sample reported by a peer. Fields are
// pointers because any of them may be unsupported on the peer's host.
type Metrics struct {
	CPUPercent     *float64 `json:"cpu_percent,omitempty"`
	MemoryPercent  *float64 `json:"memory_percent,omitempty"`
	BatteryPercent *float64 `json:"battery_percent,omitempty"`
}

// ProbeResult is the body of a successful probe response.
type ProbeResult struct {
	Status  string  `json:"status"`
	Metrics Metrics `json:"metrics"`
}

// TaskPayload is the body of a task request: one self-contained partition.
// The assignee needs nothing beyond this descriptor to execute it.
type TaskPayload struct {
	JobID           string       `json:"job_id"`
	PartitionIndex  int          `json:"partition_index"`
	TotalPartitions int          `json:"total_partitions"`
	Tensor          model.Tensor `json:"tensor"`
}

// TaskResult is the body of a successful task response.
type TaskResult struct {
	JobID          string             `json:"job_id"`
	PartitionIndex int                `json:"partition_index"`
	Predictions    []model.Prediction `json:"predictions"`
}

// ErrorBody is the body of an error response.
type ErrorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// MaxFrameSize bounds a single frame. Image strips are small; anything past
// this is treated as a framing error rather than an allocation request.
const MaxFrameSize = 32 << 20

// WriteMessage frames v as length-prefixed JSON onto w.
func WriteMessage(w io.Writer, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if len(body) > MaxFrameSize {
		return fmt.Errorf("message of %d bytes exceeds frame limit", len(body))
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(body)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}

// ReadMessage reads one length-prefixed frame from r and decodes it into v.
func ReadMessage(r io.Reader, v any) error {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > MaxFrameSize {
		return fmt.Errorf("frame of %d bytes exceeds limit", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return NewError(KindMalformedResponse, err)
	}
	return nil
}

// EncodePayload marshals a request/response body for embedding in a frame.
func EncodePayload(v any) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return b, nil
}

// DecodePayload unmarshals an embedded body, classifying undecodable input
// as a malformed response.
func DecodePayload(raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return NewError(KindMalformedResponse, err)
	}
	return nil
}
