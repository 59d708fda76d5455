package ami

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/hamzaKhattat/pbx-call-control/pkg/errors"
)

// fakeAsterisk accepts one manager connection, accepts the login and answers
// Hangup actions with reply.
type fakeAsterisk struct {
	ln      net.Listener
	actions chan map[string]string
	reply   string
	login   string
}

func newFakeAsterisk(t *testing.T, login, reply string) *fakeAsterisk {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	f := &fakeAsterisk{ln: ln, actions: make(chan map[string]string, 4), reply: reply, login: login}
	go f.serve()
	t.Cleanup(func() { ln.Close() })
	return f
}

func (f *fakeAsterisk) serve() {
	conn, err := f.ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	r := bufio.NewReader(conn)
	fmt.Fprint(conn, "Asterisk Call Manager/5.0.1\r\n")

	if _, err := readBlock(r); err != nil {
		return
	}
	fmt.Fprintf(conn, "Response: %s\r\nMessage: login\r\n\r\n", f.login)

	for {
		block, err := readBlock(r)
		if err != nil {
			return
		}
		f.actions <- block
		fmt.Fprintf(conn, "Response: %s\r\nActionID: %s\r\n\r\n", f.reply, block["ActionID"])
	}
}

func readBlock(r *bufio.Reader) (map[string]string, error) {
	block := make(map[string]string)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			return block, nil
		}
		if k, v, ok := strings.Cut(line, ":"); ok {
			block[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
	}
}

func (f *fakeAsterisk) config() Config {
	addr := f.ln.Addr().(*net.TCPAddr)
	return Config{Host: "127.0.0.1", Port: addr.Port, Username: "callcontrol", Password: "secret", ActionTimeout: time.Second}
}

func TestHangupChannel(t *testing.T) {
	fa := newFakeAsterisk(t, "Success", "Success")
	m := NewManager(fa.config())
	defer m.Close()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !m.IsConnected() {
		t.Fatal("not connected after login")
	}

	if err := m.HangupChannel(context.Background(), "PJSIP/101-00000009"); err != nil {
		t.Fatal(err)
	}

	action := <-fa.actions
	if action["Action"] != "Hangup" || action["Channel"] != "PJSIP/101-00000009" || action["Cause"] != "16" {
		t.Errorf("action = %v", action)
	}
}

func TestHangupChannelRejected(t *testing.T) {
	fa := newFakeAsterisk(t, "Success", "Error")
	m := NewManager(fa.config())
	defer m.Close()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := m.HangupChannel(context.Background(), "PJSIP/gone"); !errors.Is(err, errors.ErrAMI) {
		t.Errorf("err = %v", err)
	}
}

func TestLoginRejected(t *testing.T) {
	fa := newFakeAsterisk(t, "Error", "Success")
	m := NewManager(fa.config())
	defer m.Close()

	if err := m.Connect(context.Background()); !errors.Is(err, errors.ErrAMI) {
		t.Fatalf("err = %v", err)
	}
	if m.IsConnected() {
		t.Error("connected after rejected login")
	}
}

func TestSendActionRequiresLogin(t *testing.T) {
	m := NewManager(Config{Host: "127.0.0.1"})
	if _, err := m.SendAction(context.Background(), Action{Action: "Ping"}); !errors.Is(err, errors.ErrAMI) {
		t.Errorf("err = %v", err)
	}
	if err := m.Ping(context.Background()); err == nil {
		t.Error("Ping() succeeded without a connection")
	}
}
