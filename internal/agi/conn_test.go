package agi

import (
	"bufio"
	"context"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/hamzaKhattat/pbx-call-control/pkg/errors"
)

var bootstrap = []string{
	"agi_request: agi://127.0.0.1:4573/incoming",
	"agi_channel: PJSIP/trunk-00000001",
	"agi_uniqueid: 1700000000.1",
	"agi_callerid: 5551000",
	"agi_calleridname: Alice",
	"agi_dnid: 5551234",
	"agi_context: from-trunk",
	"agi_extension: s",
	"agi_callerid: 5551001",
}

// fakeSwitch is the far end of a piped connection.
type fakeSwitch struct {
	conn  net.Conn
	lines chan string
}

func newPipe(t *testing.T, cfg ConnConfig) (*Connection, *fakeSwitch) {
	t.Helper()
	server, client := net.Pipe()
	c := NewConnection(server, cfg)
	sw := &fakeSwitch{conn: client, lines: make(chan string, 16)}

	go func() {
		r := bufio.NewReader(client)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				close(sw.lines)
				return
			}
			sw.lines <- strings.TrimRight(line, "\n")
		}
	}()

	t.Cleanup(func() {
		client.Close()
		c.Close()
	})
	return c, sw
}

func handshake(t *testing.T, cfg ConnConfig) (*Connection, *fakeSwitch) {
	t.Helper()
	c, sw := newPipe(t, cfg)
	go sw.send(append(bootstrap, "")...)
	if _, err := c.Handshake(context.Background(), "test-session"); err != nil {
		t.Fatalf("Handshake() error = %v", err)
	}
	return c, sw
}

func (s *fakeSwitch) send(lines ...string) {
	for _, l := range lines {
		if _, err := io.WriteString(s.conn, l+"\n"); err != nil {
			return
		}
	}
}

func (s *fakeSwitch) expect(t *testing.T, want string) {
	t.Helper()
	select {
	case got := <-s.lines:
		if got != want {
			t.Fatalf("switch received %q, want %q", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("switch did not receive %q", want)
	}
}

type sendResult struct {
	resp *Response
	err  error
}

func sendAsync(c *Connection, timeout time.Duration, cmd string) <-chan sendResult {
	out := make(chan sendResult, 1)
	go func() {
		resp, err := c.SendTimeout(context.Background(), timeout, cmd)
		out <- sendResult{resp, err}
	}()
	return out
}

func wait(t *testing.T, ch <-chan sendResult) sendResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("command not resolved")
	}
	return sendResult{}
}

func TestHandshake(t *testing.T) {
	c, sw := newPipe(t, ConnConfig{})
	go sw.send(append(bootstrap, "")...)

	session, err := c.Handshake(context.Background(), "abc")
	if err != nil {
		t.Fatalf("Handshake() error = %v", err)
	}

	if session.ID != "abc" {
		t.Errorf("ID = %q", session.ID)
	}
	if session.Channel != "PJSIP/trunk-00000001" {
		t.Errorf("Channel = %q", session.Channel)
	}
	if session.UniqueID != "1700000000.1" {
		t.Errorf("UniqueID = %q", session.UniqueID)
	}
	if session.CallerID != "5551001" {
		t.Errorf("CallerID = %q, duplicate key should overwrite", session.CallerID)
	}
	if session.DialedNumber != "5551234" {
		t.Errorf("DialedNumber = %q", session.DialedNumber)
	}

	vars := session.Vars()
	if len(vars) != len(bootstrap)-1 {
		t.Fatalf("len(Vars()) = %d, want %d", len(vars), len(bootstrap)-1)
	}
	if vars[0].Key != "agi_request" || vars[3].Key != "agi_callerid" {
		t.Errorf("Vars() order = %+v", vars)
	}
	if c.Session() != session {
		t.Error("Session() should return the handshake session")
	}
}

func TestHandshakeDialedNumberFallback(t *testing.T) {
	s := NewTestSession("agi_dnid", "unknown", "agi_extension", "200")
	if s.DialedNumber != "200" {
		t.Errorf("DialedNumber = %q, want extension fallback", s.DialedNumber)
	}
	if s.Var("agi_missing") != "" {
		t.Error("missing variable should be empty")
	}
}

func TestHandshakeTimeout(t *testing.T) {
	c, sw := newPipe(t, ConnConfig{HandshakeTimeout: 50 * time.Millisecond})
	go sw.send("agi_channel: PJSIP/1")

	_, err := c.Handshake(context.Background(), "abc")
	if !errors.Is(err, errors.ErrBootstrapTimeout) {
		t.Fatalf("Handshake() error = %v, want bootstrap timeout", err)
	}
}

func TestHandshakeClosed(t *testing.T) {
	c, sw := newPipe(t, ConnConfig{})
	sw.conn.Close()

	_, err := c.Handshake(context.Background(), "abc")
	if !errors.Is(err, errors.ErrSocketClosed) {
		t.Fatalf("Handshake() error = %v, want socket closed", err)
	}
}

func TestSendResolvesOnce(t *testing.T) {
	c, sw := handshake(t, ConnConfig{})

	res := sendAsync(c, time.Second, "ANSWER")
	sw.expect(t, "ANSWER")
	sw.send("200 result=0")

	r := wait(t, res)
	if r.err != nil {
		t.Fatalf("Send() error = %v", r.err)
	}
	if r.resp.Code != 200 || r.resp.Result != "0" {
		t.Errorf("response = %+v", r.resp)
	}
	if n := c.Pending(); n != 0 {
		t.Errorf("Pending() = %d, want 0", n)
	}
}

func TestResponsesResolveInIssueOrder(t *testing.T) {
	c, _ := newPipe(t, ConnConfig{})

	first, err := c.register("FIRST", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	second, err := c.register("SECOND", time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	c.handleLine("200 result=1")
	c.handleLine("200 result=2")

	if r := <-first.result; r.resp.Result != "1" {
		t.Errorf("first got %q", r.resp.Result)
	}
	if r := <-second.result; r.resp.Result != "2" {
		t.Errorf("second got %q", r.resp.Result)
	}
	if c.Pending() != 0 {
		t.Errorf("Pending() = %d", c.Pending())
	}
}

func TestTimeoutRemovesByID(t *testing.T) {
	c, _ := newPipe(t, ConnConfig{})

	slow, _ := c.register("SLOW", time.Hour)
	fast, _ := c.register("FAST", 20*time.Millisecond)

	select {
	case r := <-fast.result:
		if !errors.Is(r.err, errors.ErrCommandTimeout) {
			t.Fatalf("fast error = %v, want timeout", r.err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("fast command did not time out")
	}

	if c.Pending() != 1 {
		t.Fatalf("Pending() = %d, want 1", c.Pending())
	}

	c.handleLine("200 result=1")
	if r := <-slow.result; r.err != nil || r.resp.Result != "1" {
		t.Errorf("slow result = %+v", r)
	}
}

func TestCommandTimeout(t *testing.T) {
	c, sw := handshake(t, ConnConfig{CommandTimeout: 50 * time.Millisecond})

	res := make(chan error, 1)
	go func() { res <- c.Answer(context.Background()) }()
	sw.expect(t, "ANSWER")

	select {
	case err := <-res:
		if !errors.Is(err, errors.ErrCommandTimeout) {
			t.Fatalf("Answer() error = %v, want timeout", err)
		}
		if !IsHangup(err) {
			t.Error("IsHangup(timeout) = false")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Answer() did not time out")
	}

	if !c.Alive() {
		t.Error("timeout must not close the connection")
	}
}

func TestWriteFailureDropsRegistration(t *testing.T) {
	c, sw := newPipe(t, ConnConfig{})
	sw.conn.Close()

	_, err := c.Send(context.Background(), "ANSWER")
	if !errors.Is(err, errors.ErrSocketClosed) {
		t.Fatalf("Send() error = %v, want socket closed", err)
	}
	if c.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", c.Pending())
	}
}

func TestHangupNotificationIgnored(t *testing.T) {
	c, sw := handshake(t, ConnConfig{})

	res := sendAsync(c, time.Second, "STREAM FILE \"hello\" \"\"")
	sw.expect(t, `STREAM FILE "hello" ""`)
	sw.send("HANGUP")
	sw.send("200 result=0 endpos=100")

	r := wait(t, res)
	if r.err != nil {
		t.Fatalf("Send() error = %v", r.err)
	}
	if r.resp.Trailing != "endpos=100" {
		t.Errorf("response = %+v, hangup line must not resolve the command", r.resp)
	}
}

func TestRejectedCommand(t *testing.T) {
	c, sw := handshake(t, ConnConfig{})

	res := sendAsync(c, time.Second, "BOGUS")
	sw.expect(t, "BOGUS")
	sw.send("510 Invalid or unknown command")

	r := wait(t, res)
	if !errors.Is(r.err, errors.ErrCommandRejected) {
		t.Fatalf("error = %v, want rejected", r.err)
	}
}

func TestDeadChannelResponse(t *testing.T) {
	c, sw := handshake(t, ConnConfig{})

	res := make(chan error, 1)
	go func() { res <- c.Answer(context.Background()) }()
	sw.expect(t, "ANSWER")
	sw.send("511 Command Not Permitted on a dead channel or intercept routine")

	select {
	case err := <-res:
		if !errors.Is(err, errors.ErrChannelDead) {
			t.Fatalf("Answer() error = %v, want dead channel", err)
		}
		if !IsHangup(err) {
			t.Error("IsHangup(dead channel) = false")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Answer() not resolved")
	}
	if c.Pending() != 0 {
		t.Errorf("Pending() = %d", c.Pending())
	}
}

func TestCancelledSendKeepsPairing(t *testing.T) {
	c, sw := handshake(t, ConnConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := c.SendTimeout(ctx, time.Hour, `GET VARIABLE "A"`)
		first <- err
	}()
	sw.expect(t, `GET VARIABLE "A"`)
	cancel()

	select {
	case err := <-first:
		if err != context.Canceled {
			t.Fatalf("error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled command not released")
	}

	next := sendAsync(c, time.Second, "HANGUP")
	sw.expect(t, "HANGUP")
	sw.send("200 result=1 (late)", "200 result=1")

	r := wait(t, next)
	if r.err != nil {
		t.Fatalf("next command error = %v", r.err)
	}
	if r.resp.Data != "" {
		t.Errorf("next command got %+v, the late response must not resolve it", r.resp)
	}
	if c.Pending() != 0 {
		t.Errorf("Pending() = %d", c.Pending())
	}
}

func TestUsageBlockResolvesOnce(t *testing.T) {
	c, sw := handshake(t, ConnConfig{})

	res := sendAsync(c, time.Second, "GET DATA")
	sw.expect(t, "GET DATA")
	sw.send(
		"520-Invalid command syntax.  Proper usage follows:",
		"Usage: GET DATA <file to be streamed> [timeout] [max digits]",
		"520 End of proper usage.",
	)

	r := wait(t, res)
	if !errors.Is(r.err, errors.ErrCommandRejected) {
		t.Fatalf("error = %v, want rejected", r.err)
	}

	next := sendAsync(c, time.Second, "ANSWER")
	sw.expect(t, "ANSWER")
	sw.send("200 result=0")
	if r := wait(t, next); r.err != nil {
		t.Fatalf("next command error = %v", r.err)
	}
}

func TestSocketCloseFailsPending(t *testing.T) {
	c, sw := handshake(t, ConnConfig{})

	res := sendAsync(c, time.Hour, "WAIT FOR DIGIT 5000")
	sw.expect(t, "WAIT FOR DIGIT 5000")
	sw.conn.Close()

	r := wait(t, res)
	if !errors.Is(r.err, errors.ErrSocketClosed) {
		t.Fatalf("error = %v, want socket closed", r.err)
	}

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done() not closed")
	}
	if c.Alive() {
		t.Error("Alive() = true after close")
	}
	if _, err := c.Send(context.Background(), "ANSWER"); !errors.Is(err, errors.ErrSocketClosed) {
		t.Errorf("Send() after close error = %v", err)
	}
}

func TestVocabulary(t *testing.T) {
	c, sw := handshake(t, ConnConfig{})
	ctx := context.Background()

	t.Run("GetVariable", func(t *testing.T) {
		res := make(chan string, 1)
		go func() {
			v, _ := c.GetVariable(ctx, "RECORDING_FILE")
			res <- v
		}()
		sw.expect(t, `GET VARIABLE "RECORDING_FILE"`)
		sw.send("200 result=1 (/var/spool/rec.wav)")
		if v := <-res; v != "/var/spool/rec.wav" {
			t.Errorf("GetVariable() = %q", v)
		}
	})

	t.Run("GetVariableUnset", func(t *testing.T) {
		res := make(chan string, 1)
		go func() {
			v, _ := c.GetVariable(ctx, "NOPE")
			res <- v
		}()
		sw.expect(t, `GET VARIABLE "NOPE"`)
		sw.send("200 result=0")
		if v := <-res; v != "" {
			t.Errorf("GetVariable() = %q", v)
		}
	})

	t.Run("GetDataNoEntry", func(t *testing.T) {
		res := make(chan string, 1)
		go func() {
			v, _ := c.GetData(ctx, "welcome", 5*time.Second, 1)
			res <- v
		}()
		sw.expect(t, `GET DATA "welcome" "5000" "1"`)
		sw.send("200 result=-1")
		if v := <-res; v != "" {
			t.Errorf("GetData() = %q", v)
		}
	})

	t.Run("WaitForDigit", func(t *testing.T) {
		res := make(chan string, 1)
		go func() {
			v, _ := c.WaitForDigit(ctx, 3*time.Second)
			res <- v
		}()
		sw.expect(t, `WAIT FOR DIGIT "3000"`)
		sw.send("200 result=50")
		if v := <-res; v != "2" {
			t.Errorf("WaitForDigit() = %q", v)
		}
	})

	t.Run("ExecDial", func(t *testing.T) {
		res := make(chan error, 1)
		go func() {
			_, err := c.Exec(ctx, "Dial", "PJSIP/101", "30")
			res <- err
		}()
		sw.expect(t, `EXEC Dial "PJSIP/101,30"`)
		sw.send("200 result=0")
		if err := <-res; err != nil {
			t.Errorf("Exec() error = %v", err)
		}
	})

	t.Run("ExecNotFound", func(t *testing.T) {
		res := make(chan error, 1)
		go func() {
			_, err := c.Exec(ctx, "Nope")
			res <- err
		}()
		sw.expect(t, "EXEC Nope")
		sw.send("200 result=-2")
		if err := <-res; !errors.Is(err, errors.ErrCommandRejected) {
			t.Errorf("Exec() error = %v", err)
		}
	})

	t.Run("StreamFileMissing", func(t *testing.T) {
		res := make(chan sendResult, 1)
		go func() {
			d, err := c.StreamFile(ctx, "missing", AllDigits)
			res <- sendResult{&Response{Result: d}, err}
		}()
		sw.expect(t, `STREAM FILE "missing" "0123456789*#"`)
		sw.send("200 result=-1 endpos=0")
		r := <-res
		if r.err != nil || r.resp.Result != "" {
			t.Errorf("StreamFile() = %q, %v", r.resp.Result, r.err)
		}
	})
}

func TestExecUsesDialTimeout(t *testing.T) {
	c, sw := handshake(t, ConnConfig{CommandTimeout: 20 * time.Millisecond, DialTimeout: time.Hour})

	res := make(chan error, 1)
	go func() {
		_, err := c.Exec(context.Background(), "Queue", "support")
		res <- err
	}()
	sw.expect(t, `EXEC Queue "support"`)

	time.Sleep(100 * time.Millisecond)
	if c.Pending() != 1 {
		t.Fatalf("bridging command expired with the default timeout")
	}
	sw.send("200 result=0")
	if err := <-res; err != nil {
		t.Errorf("Exec() error = %v", err)
	}
}
