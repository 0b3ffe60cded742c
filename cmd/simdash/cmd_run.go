package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/simdash/simdash/internal/archive"
	"github.com/simdash/simdash/internal/buffer"
	"github.com/simdash/simdash/internal/config"
	"github.com/simdash/simdash/internal/logging"
	"github.com/simdash/simdash/internal/mockengine"
	"github.com/simdash/simdash/internal/session"
	"github.com/simdash/simdash/internal/transport"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run an interactive engine session",
		Long: `Run launches (or dials) the simulation engine and drives it from an
interactive console. Snapshots are kept in the in-memory ring buffer
and, when an archive path is configured, persisted to SQLite.

Console commands:
  start              open the engine transport
  init [file.json]   initialize the engine (defaults if no file)
  step [n]           advance the simulation n steps (default 1)
  snapshot [kind]    request a snapshot (metrics or full)
  series <path>      print a time series from the ring (e.g. metrics.population)
  status             print session state, tick, and buffer fill
  stop               shut the engine down
  reset              recover a stopped or failed session to idle
  quit               stop the engine and exit`,
		RunE: func(cmd *cobra.Command, args []string) error {
			embedded, _ := cmd.Flags().GetBool("embedded")

			cfg, err := loadClientConfig(cmd)
			if err != nil {
				return err
			}
			if embedded && cfg.Engine.Command == "" {
				cfg.Engine.Command = "embedded"
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger := logging.NewLogger(cfg.Logging.Level, os.Stderr)
			trace := logging.NewTraceLogger(cfg.Logging.TraceDir, cfg.Logging.Level)
			defer trace.Close()

			ring := buffer.NewSnapshotRing(cfg.Buffer.Capacity, buffer.Notify{})
			ring.SetDownsampleInterval(cfg.Buffer.DownsampleInterval)

			sessCfg := session.Config{
				Provider:     cfg.Engine.Provider,
				NewTransport: transportFactory(cfg, embedded, logger),
				Ring:         ring,
				Logger:       logger,
				Trace:        trace,
			}
			if cfg.Archive.Path != "" {
				store, err := archive.Open(cfg.Archive.Path)
				if err != nil {
					return err
				}
				defer store.Close()
				sessCfg.Archive = store
			}

			c, err := session.New(sessCfg)
			if err != nil {
				return err
			}

			jsonOut, _ := cmd.Flags().GetBool("json")
			printerDone := make(chan struct{})
			go func() {
				defer close(printerDone)
				printEvents(c.Events(), jsonOut)
			}()

			console(cmd, c, ring)

			// Wind the session down before exiting; the controller owns
			// the engine process.
			c.Stop()
			waitStopped(c, 15*time.Second)
			c.Close()
			<-printerDone
			return nil
		},
	}

	cmd.Flags().Bool("embedded", false, "Use the built-in mock engine instead of an external process")
	cmd.Flags().String("engine-config", "", "JSON file with the engine configuration for init")
	return cmd
}

// transportFactory selects the transport per configuration: an embedded
// in-process mock engine, a TCP endpoint, or a spawned child process.
func transportFactory(cfg *config.ClientConfig, embedded bool, logger *slog.Logger) func() transport.Transport {
	switch {
	case embedded:
		return func() transport.Transport {
			reqR, reqW := io.Pipe()
			respR, respW := io.Pipe()
			eng := mockengine.New(reqR, respW, logger)
			go func() {
				_ = eng.Serve(context.Background())
				respW.Close()
				reqR.Close()
			}()
			return transport.NewIOTransport(respR, reqW)
		}
	case cfg.Engine.Addr != "":
		return func() transport.Transport {
			return transport.NewDialTransport(cfg.Engine.Addr, logger)
		}
	default:
		return func() transport.Transport {
			return transport.NewProcTransport(cfg.Engine.Command, cfg.Engine.Args, logger)
		}
	}
}

func console(cmd *cobra.Command, c *session.Controller, ring *buffer.SnapshotRing) {
	engineConfigPath, _ := cmd.Flags().GetString("engine-config")
	scanner := bufio.NewScanner(os.Stdin)

	fmt.Println("simdash console; type 'help' for commands")
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "start":
			c.Start()
		case "init":
			path := engineConfigPath
			if len(fields) > 1 {
				path = fields[1]
			}
			engCfg, err := loadEngineConfig(path)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				continue
			}
			c.Initialize(engCfg)
		case "step":
			n := 1
			if len(fields) > 1 {
				parsed, err := strconv.Atoi(fields[1])
				if err != nil {
					fmt.Fprintf(os.Stderr, "bad step count %q\n", fields[1])
					continue
				}
				n = parsed
			}
			c.Step(n)
		case "snapshot":
			kind := "metrics"
			if len(fields) > 1 {
				kind = fields[1]
			}
			c.RequestSnapshot(kind)
		case "series":
			if len(fields) < 2 {
				fmt.Fprintln(os.Stderr, "usage: series <field.path>")
				continue
			}
			printSeries(ring, fields[1])
		case "status":
			minStep, maxStep := ring.StepRange()
			fmt.Printf("state=%s tick=%d buffer=%d/%d steps=[%d,%d]\n",
				c.State(), c.CurrentTick(), ring.Len(), ring.Cap(), minStep, maxStep)
		case "stop":
			c.Stop()
		case "reset":
			c.Reset()
		case "help":
			fmt.Println(cmd.Long)
		case "quit", "exit":
			return
		default:
			fmt.Fprintf(os.Stderr, "unknown command %q; type 'help'\n", fields[0])
		}
	}
}

// loadEngineConfig reads an engine configuration from a JSON file, or
// returns the defaults when path is empty.
func loadEngineConfig(path string) (config.EngineConfig, error) {
	cfg := config.DefaultEngineConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading engine config: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing engine config: %w", err)
	}
	return cfg, nil
}

func printSeries(ring *buffer.SnapshotRing, fieldPath string) {
	minStep, maxStep := ring.StepRange()
	if minStep < 0 {
		fmt.Println("buffer is empty")
		return
	}
	for _, p := range ring.TimeSeries(fieldPath, minStep, maxStep) {
		fmt.Printf("%6d  %v\n", p.Step, p.Value)
	}
}

func printEvents(events <-chan session.Event, jsonOut bool) {
	for ev := range events {
		if jsonOut {
			json.NewEncoder(os.Stdout).Encode(eventDoc(ev))
			continue
		}
		switch e := ev.(type) {
		case session.ConnectedEvent:
			fmt.Println("[engine] connected")
		case session.DisconnectedEvent:
			fmt.Printf("[engine] disconnected (code %d)\n", e.Status.Code)
		case session.StateChangedEvent:
			fmt.Printf("[session] state -> %s\n", e.State)
		case session.SteppedEvent:
			fmt.Printf("[session] stepped to tick %d\n", e.Tick)
		case session.SnapshotEvent:
			fmt.Printf("[session] %s snapshot stored\n", e.Kind)
		case session.ErrorEvent:
			fmt.Printf("[error:%s] %s\n", e.Class, e.Message)
		}
	}
}

// eventDoc flattens an event for JSON output.
func eventDoc(ev session.Event) map[string]any {
	switch e := ev.(type) {
	case session.ConnectedEvent:
		return map[string]any{"event": "connected"}
	case session.DisconnectedEvent:
		return map[string]any{"event": "disconnected", "code": e.Status.Code, "signal": e.Status.Signal}
	case session.StateChangedEvent:
		return map[string]any{"event": "stateChanged", "state": e.State.String()}
	case session.SteppedEvent:
		return map[string]any{"event": "stepped", "tick": e.Tick}
	case session.SnapshotEvent:
		return map[string]any{"event": "snapshot", "kind": e.Kind, "payload": e.Payload}
	case session.ErrorEvent:
		return map[string]any{"event": "error", "class": string(e.Class), "message": e.Message}
	default:
		return map[string]any{"event": "unknown"}
	}
}

func waitStopped(c *session.Controller, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		switch c.State() {
		case session.StateStopped, session.StateIdle, session.StateError:
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
}
