package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"testing"
)

// TestMessageRoundTrip verifies that a framed request survives a write/read
// cycle intact.
func TestMessageRoundTrip(t *testing.T) {
	var buf bytes.Buffer

	req := Request{
		Type:      TypeTask,
		RequestID: "req-123",
		Payload:   []byte(`{"job_id":"j1"}`),
	}
	if err := WriteMessage(&buf, req); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	var decoded Request
	if err := ReadMessage(&buf, &decoded); err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if decoded.Type != TypeTask {
		t.Errorf("expected type %q, got %q", TypeTask, decoded.Type)
	}
	if decoded.RequestID != "req-123" {
		t.Errorf("expected request id req-123, got %q", decoded.RequestID)
	}
	if string(decoded.Payload) != `{"job_id":"j1"}` {
		t.Errorf("payload mangled: %s", decoded.Payload)
	}
}

// TestReadMessageMalformed verifies that an undecodable frame body is
// classified as a malformed response.
func TestReadMessageMalformed(t *testing.T) {
	var buf bytes.Buffer
	body := []byte("not json at all")
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(body)))
	buf.Write(hdr[:])
	buf.Write(body)

	var resp Response
	err := ReadMessage(&buf, &resp)
	if err == nil {
		t.Fatal("expected error for malformed body")
	}
	if !IsKind(err, KindMalformedResponse) {
		t.Errorf("expected KindMalformedResponse, got %v", err)
	}
}

// TestReadMessageOversizedFrame verifies the frame size bound.
func TestReadMessageOversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], MaxFrameSize+1)
	buf.Write(hdr[:])

	var resp Response
	if err := ReadMessage(&buf, &resp); err == nil {
		t.Fatal("expected error for oversized frame")
	}
}

// TestErrorKinds verifies kind classification through wrap chains.
func TestErrorKinds(t *testing.T) {
	base := NewError(KindTimeout, errors.New("deadline exceeded"))
	wrapped := fmt.Errorf("dispatch partition 2: %w", base)

	kind, ok := KindOf(wrapped)
	if !ok {
		t.Fatal("expected a kind on wrapped error")
	}
	if kind != KindTimeout {
		t.Errorf("expected KindTimeout, got %v", kind)
	}
	if !IsKind(wrapped, KindTimeout) {
		t.Error("IsKind should see through wrapping")
	}
	if IsKind(wrapped, KindUnreachable) {
		t.Error("IsKind matched the wrong kind")
	}
	if _, ok := KindOf(errors.New("plain")); ok {
		t.Error("plain error should carry no kind")
	}
}

// TestErrorKindStrings pins the wire names used in reports and error bodies.
func TestErrorKindStrings(t *testing.T) {
	cases := map[ErrorKind]string{
		KindUnreachable:       "unreachable",
		KindTimeout:           "timeout",
		KindProtocolViolation: "protocol_violation",
		KindMalformedResponse: "malformed_response",
		KindInferenceFailure:  "inference_failure",
	}
	for kind, want := range cases {
		if got := kind.String(); got != want {
			t.Errorf("kind %d: expected %q, got %q", int(kind), want, got)
		}
	}
}
