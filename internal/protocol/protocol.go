// Package protocol implements the line-delimited JSON envelope spoken
// between simdash and the engine process.
//
// One JSON object per line:
//
//	request:  {"op": "<ping|init|step|snapshot|stop>", "data": {...}}
//	success:  {"success": true, "op": "<same op>", "data": {...}}
//	error:    {"success": false, "op": "<same op>", "error": "<message>"}
//
// Operation payloads are a closed set of typed variants, validated at
// this boundary; untyped JSON never travels deeper into the session.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/simdash/simdash/internal/config"
)

// Operation names.
const (
	OpPing     = "ping"
	OpInit     = "init"
	OpStep     = "step"
	OpSnapshot = "snapshot"
	OpStop     = "stop"
)

// Snapshot kinds.
const (
	KindMetrics = "metrics"
	KindFull    = "full"
)

// Sentinel errors for protocol-boundary failures. Both are recoverable:
// the session discards the offending line and keeps reading.
var (
	ErrMalformed = errors.New("malformed protocol line")
	ErrUnknownOp = errors.New("unknown operation")
)

// knownOps is the closed set of operations either side may name.
var knownOps = map[string]bool{
	OpPing:     true,
	OpInit:     true,
	OpStep:     true,
	OpSnapshot: true,
	OpStop:     true,
}

// ValidOp reports whether op is part of the protocol.
func ValidOp(op string) bool { return knownOps[op] }

// ValidKind reports whether kind is a recognized snapshot kind.
func ValidKind(kind string) bool { return kind == KindMetrics || kind == KindFull }

// Request is the client-to-engine envelope.
type Request struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Response is the engine-to-client envelope.
type Response struct {
	Success bool            `json:"success"`
	Op      string          `json:"op"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// InitData is the init request payload.
type InitData struct {
	Provider string              `json:"provider"`
	Config   config.EngineConfig `json:"config"`
}

// StepData is the step request payload.
type StepData struct {
	Steps int `json:"steps"`
}

// SnapshotData is the snapshot request payload.
type SnapshotData struct {
	Kind string `json:"kind"`
}

// InitResult is the init success payload.
type InitResult struct {
	Tick     int            `json:"tick"`
	Metrics  map[string]any `json:"metrics,omitempty"`
	Provider string         `json:"provider"`
}

// StepResult is the step success payload.
type StepResult struct {
	Tick    int            `json:"tick"`
	Metrics map[string]any `json:"metrics,omitempty"`
}

// SnapshotResult is the snapshot success payload. Snapshot always carries
// a "tick" field; kind "full" additionally nests per-entity states and an
// environment grid.
type SnapshotResult struct {
	Snapshot map[string]any `json:"snapshot"`
	Kind     string         `json:"kind"`
}

// StopResult is the stop success payload.
type StopResult struct {
	Message string `json:"message"`
}

// PingResult is the ping success payload.
type PingResult struct {
	Running bool `json:"running"`
	Tick    int  `json:"tick"`
}

// NewRequest builds a request envelope with a typed payload.
func NewRequest(op string, data any) (Request, error) {
	if !ValidOp(op) {
		return Request{}, fmt.Errorf("%w: %q", ErrUnknownOp, op)
	}
	req := Request{Op: op}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Request{}, fmt.Errorf("encoding %s payload: %w", op, err)
		}
		req.Data = raw
	}
	return req, nil
}

// EncodeRequest serializes a request as one compact JSON line, without
// the trailing newline (the transport owns line framing).
func EncodeRequest(req Request) ([]byte, error) {
	line, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	return line, nil
}

// ParseResponse decodes a single line into a response envelope.
// A line that is not a JSON object, or that names an operation outside
// the protocol, yields an error wrapping ErrMalformed or ErrUnknownOp.
func ParseResponse(line []byte) (Response, error) {
	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if resp.Op == "" {
		return Response{}, fmt.Errorf("%w: missing op", ErrMalformed)
	}
	if !ValidOp(resp.Op) {
		return Response{}, fmt.Errorf("%w: %q", ErrUnknownOp, resp.Op)
	}
	return resp, nil
}

// ParseRequest decodes a single line into a request envelope. Used by
// engine-side implementations of the protocol.
func ParseRequest(line []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if req.Op == "" {
		return Request{}, fmt.Errorf("%w: missing op", ErrMalformed)
	}
	if !ValidOp(req.Op) {
		return Request{}, fmt.Errorf("%w: %q", ErrUnknownOp, req.Op)
	}
	return req, nil
}

// DecodeData unmarshals an envelope payload into a typed variant.
// A nil payload decodes into the zero value.
func DecodeData(raw json.RawMessage, into any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// OkResponse builds a success envelope with a typed payload.
func OkResponse(op string, data any) (Response, error) {
	resp := Response{Success: true, Op: op}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Response{}, fmt.Errorf("encoding %s response: %w", op, err)
		}
		resp.Data = raw
	}
	return resp, nil
}

// ErrorResponse builds an error envelope for op.
func ErrorResponse(op, message string) Response {
	return Response{Success: false, Op: op, Error: message}
}

// EncodeResponse serializes a response as one compact JSON line, without
// the trailing newline.
func EncodeResponse(resp Response) ([]byte, error) {
	line, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("encoding response: %w", err)
	}
	return line, nil
}
