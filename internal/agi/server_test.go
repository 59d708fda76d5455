package agi

import (
	"bufio"
	"context"
	"io"
	"net"
	"strings"
	"testing"
	"time"
)

type nopMetrics struct{}

func (nopMetrics) IncrementCounter(string, map[string]string)          {}
func (nopMetrics) ObserveHistogram(string, float64, map[string]string) {}
func (nopMetrics) SetGauge(string, float64, map[string]string)         {}

func startServer(t *testing.T, cfg Config, h Handler) (*Server, string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	s := NewServer(h, cfg, nopMetrics{})
	go s.Serve(ln)
	t.Cleanup(func() { s.Stop() })
	return s, ln.Addr().String()
}

func TestServerDispatchesClassifiedEvent(t *testing.T) {
	events := make(chan CallEvent, 1)
	_, addr := startServer(t, Config{ShutdownTimeout: time.Second}, HandlerFunc(func(ctx context.Context, ev CallEvent) error {
		events <- ev
		return nil
	}))

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	io.WriteString(conn, strings.Join([]string{
		"agi_request: agi://127.0.0.1:4573/outbound",
		"agi_channel: PJSIP/200-00000002",
		"agi_uniqueid: 1700000000.2",
		"",
		"",
	}, "\n"))

	select {
	case ev := <-events:
		if ev.Trigger != TriggerOutboundDialer {
			t.Errorf("Trigger = %v", ev.Trigger)
		}
		if ev.Session.UniqueID != "1700000000.2" {
			t.Errorf("UniqueID = %q", ev.Session.UniqueID)
		}
		if ev.Session.ID == "" {
			t.Error("session id not assigned")
		}
		if ev.Channel == nil {
			t.Error("Channel is nil")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler not invoked")
	}
}

func TestServerHandshakeTimeoutSkipsHandler(t *testing.T) {
	called := make(chan struct{}, 1)
	_, addr := startServer(t, Config{HandshakeTimeout: 50 * time.Millisecond, ShutdownTimeout: time.Second},
		HandlerFunc(func(ctx context.Context, ev CallEvent) error {
			called <- struct{}{}
			return nil
		}))

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	io.WriteString(conn, "agi_channel: PJSIP/1\n")

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	if _, err := conn.Read(buf); err != io.EOF {
		t.Fatalf("expected server to close the socket, got %v", err)
	}

	select {
	case <-called:
		t.Fatal("handler invoked after failed handshake")
	default:
	}
}

func TestServerRecoversHandlerPanic(t *testing.T) {
	s, addr := startServer(t, Config{ShutdownTimeout: time.Second}, HandlerFunc(func(ctx context.Context, ev CallEvent) error {
		panic("boom")
	}))

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	io.WriteString(conn, "agi_request: agi://x/incoming\n\n")

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	if _, err := conn.Read(buf); err != io.EOF {
		t.Fatalf("expected close after panic, got %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for s.ActiveConnections() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if n := s.ActiveConnections(); n != 0 {
		t.Errorf("ActiveConnections() = %d after panic", n)
	}
}

func TestStopLetsLiveCallFinish(t *testing.T) {
	type result struct {
		value string
		err   error
	}
	results := make(chan result, 1)
	s, addr := startServer(t, Config{ShutdownTimeout: 2 * time.Second}, HandlerFunc(func(ctx context.Context, ev CallEvent) error {
		v, err := ev.Channel.GetVariable(ctx, "LEAD_STATUS")
		results <- result{v, err}
		return err
	}))

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	io.WriteString(conn, "agi_request: agi://127.0.0.1:4573/incoming\n\n")

	r := bufio.NewReader(conn)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if line, err := r.ReadString('\n'); err != nil || !strings.HasPrefix(line, "GET VARIABLE") {
		t.Fatalf("read %q, %v", line, err)
	}

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()
	for !s.shuttingDown.Load() {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	io.WriteString(conn, "200 result=1 (qualified)\n")

	select {
	case res := <-results:
		if res.err != nil || res.value != "qualified" {
			t.Fatalf("GetVariable() = %q, %v during graceful stop", res.value, res.err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler not resolved")
	}

	select {
	case <-stopped:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop() did not return")
	}
}
