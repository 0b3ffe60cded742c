package transport

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"
)

func TestIOTransport_DeliversWholeLinesInOrder(t *testing.T) {
	engineOut, engineOutW := io.Pipe()
	_, clientW := io.Pipe()

	tr := NewIOTransport(engineOut, clientW)
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer tr.Close()

	go func() {
		engineOutW.Write([]byte("{\"success\":true,\"op\":\"ping\"}\n"))
		engineOutW.Write([]byte("\n")) // blank lines are skipped
		engineOutW.Write([]byte("{\"success\":true,\"op\":\"step\"}\n"))
		engineOutW.Close()
	}()

	var got []string
	for line := range tr.Lines() {
		got = append(got, string(line))
	}

	if len(got) != 2 {
		t.Fatalf("got %d lines, want 2: %v", len(got), got)
	}
	if !strings.Contains(got[0], "ping") || !strings.Contains(got[1], "step") {
		t.Errorf("lines out of order: %v", got)
	}

	select {
	case status := <-tr.Exited():
		if status.Code != 0 || status.Err != nil {
			t.Errorf("clean close reported %+v", status)
		}
	case <-time.After(time.Second):
		t.Fatal("no exit status after reader closed")
	}
}

func TestIOTransport_SendFrames(t *testing.T) {
	engineIn, clientW := io.Pipe()
	engineOut, _ := io.Pipe()

	tr := NewIOTransport(engineOut, clientW)
	if err := tr.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer tr.Close()

	done := make(chan string, 1)
	go func() {
		buf := make([]byte, 256)
		n, _ := engineIn.Read(buf)
		done <- string(buf[:n])
	}()

	if err := tr.Send([]byte(`{"op":"ping"}`)); err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	select {
	case wire := <-done:
		if wire != "{\"op\":\"ping\"}\n" {
			t.Errorf("wire = %q, want newline-framed request", wire)
		}
	case <-time.After(time.Second):
		t.Fatal("engine never received the request")
	}
}

func TestIOTransport_SendBeforeStart(t *testing.T) {
	_, clientW := io.Pipe()
	engineOut, _ := io.Pipe()

	tr := NewIOTransport(engineOut, clientW)
	if err := tr.Send([]byte("{}")); err == nil {
		t.Fatal("Send() before Start() should fail")
	}
}

func TestProcTransport_StartFailure(t *testing.T) {
	tr := NewProcTransport("/nonexistent/engine-binary", nil, nil)
	if err := tr.Start(context.Background()); err == nil {
		t.Fatal("Start() with a missing binary should fail")
	}
}
