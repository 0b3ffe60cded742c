// Package mockengine implements the engine side of the simdash wire
// protocol against a deterministic toy SIR model. It backs the
// `simdash mock-engine` command and the end-to-end session tests, so
// the client can be developed and tested without a real simulation
// backend.
package mockengine

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/simdash/simdash/internal/protocol"
)

// Engine serves the line-JSON protocol on a reader/writer pair.
// Requests arrive one per line on r; responses leave one per line on w.
type Engine struct {
	r      io.Reader
	w      io.Writer
	logger *slog.Logger

	model    *model
	provider string
}

// New creates an engine reading requests from r and writing responses to w.
func New(r io.Reader, w io.Writer, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{r: r, w: w, logger: logger}
}

// Serve handles requests until a stop request, input EOF, or context
// cancellation. A stop request is answered before Serve returns nil.
func (e *Engine) Serve(ctx context.Context) error {
	scanner := bufio.NewScanner(e.r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		req, err := protocol.ParseRequest(line)
		if err != nil {
			e.logger.Warn("discarding bad request line", "err", err)
			continue
		}

		resp, stop := e.handle(req)
		if err := e.write(resp); err != nil {
			return err
		}
		if stop {
			return nil
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading requests: %w", err)
	}
	return nil
}

// handle dispatches one request. The second return is true after a stop
// request has been answered.
func (e *Engine) handle(req protocol.Request) (protocol.Response, bool) {
	switch req.Op {
	case protocol.OpPing:
		return e.handlePing(), false
	case protocol.OpInit:
		return e.handleInit(req), false
	case protocol.OpStep:
		return e.handleStep(req), false
	case protocol.OpSnapshot:
		return e.handleSnapshot(req), false
	case protocol.OpStop:
		return e.handleStop(), true
	default:
		return protocol.ErrorResponse(req.Op, "unknown operation"), false
	}
}

func (e *Engine) handlePing() protocol.Response {
	result := protocol.PingResult{Running: e.model != nil}
	if e.model != nil {
		result.Tick = e.model.tick
	}
	resp, _ := protocol.OkResponse(protocol.OpPing, result)
	return resp
}

func (e *Engine) handleInit(req protocol.Request) protocol.Response {
	var data protocol.InitData
	if err := protocol.DecodeData(req.Data, &data); err != nil {
		return protocol.ErrorResponse(protocol.OpInit, fmt.Sprintf("bad init payload: %v", err))
	}
	if err := data.Config.Validate(); err != nil {
		return protocol.ErrorResponse(protocol.OpInit, err.Error())
	}

	e.model = newModel(data.Config)
	e.provider = data.Provider
	if e.provider == "" {
		e.provider = "mock"
	}
	e.logger.Info("engine initialized",
		"provider", e.provider,
		"population", data.Config.Agents.InitialPopulation,
		"maxSteps", data.Config.Simulation.MaxSteps)

	resp, _ := protocol.OkResponse(protocol.OpInit, protocol.InitResult{
		Tick:     0,
		Metrics:  e.model.metrics(),
		Provider: e.provider,
	})
	return resp
}

func (e *Engine) handleStep(req protocol.Request) protocol.Response {
	if e.model == nil {
		return protocol.ErrorResponse(protocol.OpStep, "engine not initialized")
	}

	var data protocol.StepData
	if err := protocol.DecodeData(req.Data, &data); err != nil {
		return protocol.ErrorResponse(protocol.OpStep, fmt.Sprintf("bad step payload: %v", err))
	}
	if data.Steps <= 0 {
		return protocol.ErrorResponse(protocol.OpStep, fmt.Sprintf("steps must be positive, got %d", data.Steps))
	}

	tick := e.model.step(data.Steps)
	resp, _ := protocol.OkResponse(protocol.OpStep, protocol.StepResult{
		Tick:    tick,
		Metrics: e.model.metrics(),
	})
	return resp
}

func (e *Engine) handleSnapshot(req protocol.Request) protocol.Response {
	if e.model == nil {
		return protocol.ErrorResponse(protocol.OpSnapshot, "engine not initialized")
	}

	var data protocol.SnapshotData
	if err := protocol.DecodeData(req.Data, &data); err != nil {
		return protocol.ErrorResponse(protocol.OpSnapshot, fmt.Sprintf("bad snapshot payload: %v", err))
	}
	kind := data.Kind
	if kind == "" {
		kind = protocol.KindMetrics
	}
	if !protocol.ValidKind(kind) {
		return protocol.ErrorResponse(protocol.OpSnapshot, fmt.Sprintf("unknown snapshot kind %q", kind))
	}

	resp, _ := protocol.OkResponse(protocol.OpSnapshot, protocol.SnapshotResult{
		Snapshot: e.model.snapshot(kind),
		Kind:     kind,
	})
	return resp
}

func (e *Engine) handleStop() protocol.Response {
	e.model = nil
	e.logger.Info("engine stopping")
	resp, _ := protocol.OkResponse(protocol.OpStop, protocol.StopResult{Message: "engine stopped"})
	return resp
}

func (e *Engine) write(resp protocol.Response) error {
	line, err := protocol.EncodeResponse(resp)
	if err != nil {
		return err
	}
	line = append(line, '\n')
	if _, err := e.w.Write(line); err != nil {
		return fmt.Errorf("writing response: %w", err)
	}
	return nil
}
