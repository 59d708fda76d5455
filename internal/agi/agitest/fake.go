// Package agitest provides a scripted agi.Channel for call-flow tests.
package agitest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hamzaKhattat/pbx-call-control/internal/agi"
	"github.com/hamzaKhattat/pbx-call-control/pkg/errors"
)

// FakeChannel answers call-control commands from a script. Each digit read
// (StreamFile with escape digits, GetData, WaitForDigit) consumes the next
// scripted key; an exhausted script yields no key.
type FakeChannel struct {
	mu sync.Mutex

	digits   []string
	vars     map[string]string
	execErr  map[string]error
	execVars map[string]map[string]string
	hungUp   bool
	closed   bool
	failAll  error

	// Commands is the log of issued commands, e.g. "EXEC Dial PJSIP/101,30".
	Commands []string
	// Set holds variables written with SetVariable.
	Set map[string]string
}

var _ agi.Channel = (*FakeChannel)(nil)

func New() *FakeChannel {
	return &FakeChannel{
		vars:     make(map[string]string),
		execErr:  make(map[string]error),
		execVars: make(map[string]map[string]string),
		Set:      make(map[string]string),
	}
}

// Press queues keys; "" is a timeout with no key.
func (f *FakeChannel) Press(keys ...string) *FakeChannel {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.digits = append(f.digits, keys...)
	return f
}

// WithVar sets a channel variable visible to GetVariable.
func (f *FakeChannel) WithVar(name, value string) *FakeChannel {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vars[name] = value
	return f
}

// FailExec makes every EXEC of app return err.
func (f *FakeChannel) FailExec(app string, err error) *FakeChannel {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execErr[strings.ToLower(app)] = err
	return f
}

// OnExec sets variables once app has run, e.g. DIALSTATUS after Dial.
func (f *FakeChannel) OnExec(app string, vars map[string]string) *FakeChannel {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execVars[strings.ToLower(app)] = vars
	return f
}

// Drop simulates the caller going away: every later command fails with a
// socket-closed error.
func (f *FakeChannel) Drop() *FakeChannel {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.failAll = errors.New(errors.ErrSocketClosed, "connection closed")
	return f
}

func (f *FakeChannel) record(format string, args ...interface{}) error {
	f.Commands = append(f.Commands, fmt.Sprintf(format, args...))
	return f.failAll
}

func (f *FakeChannel) nextDigit() string {
	if len(f.digits) == 0 {
		return ""
	}
	d := f.digits[0]
	f.digits = f.digits[1:]
	return d
}

func (f *FakeChannel) Answer(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record("ANSWER")
}

func (f *FakeChannel) Hangup(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("HANGUP")
	f.hungUp = true
}

func (f *FakeChannel) StreamFile(ctx context.Context, file, escapeDigits string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("STREAM FILE %s", file); err != nil {
		return "", err
	}
	if escapeDigits == "" {
		return "", nil
	}
	return f.nextDigit(), nil
}

func (f *FakeChannel) GetData(ctx context.Context, prompt string, timeout time.Duration, maxDigits int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("GET DATA %s %d %d", prompt, timeout.Milliseconds(), maxDigits); err != nil {
		return "", err
	}
	return f.nextDigit(), nil
}

func (f *FakeChannel) WaitForDigit(ctx context.Context, timeout time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("WAIT FOR DIGIT %d", timeout.Milliseconds()); err != nil {
		return "", err
	}
	return f.nextDigit(), nil
}

func (f *FakeChannel) SayDigits(ctx context.Context, digits, escapeDigits string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return "", f.record("SAY DIGITS %s", digits)
}

func (f *FakeChannel) SayNumber(ctx context.Context, number int, escapeDigits string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return "", f.record("SAY NUMBER %d", number)
}

func (f *FakeChannel) GetVariable(ctx context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("GET VARIABLE %s", name); err != nil {
		return "", err
	}
	return f.vars[name], nil
}

func (f *FakeChannel) SetVariable(ctx context.Context, name, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("SET VARIABLE %s %s", name, value); err != nil {
		return err
	}
	f.Set[name] = value
	return nil
}

func (f *FakeChannel) Exec(ctx context.Context, app string, args ...string) (*agi.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("EXEC %s %s", app, strings.Join(args, ",")); err != nil {
		return nil, err
	}
	if err, ok := f.execErr[strings.ToLower(app)]; ok {
		return nil, err
	}
	for k, v := range f.execVars[strings.ToLower(app)] {
		f.vars[k] = v
	}
	return &agi.Response{Code: 200, Result: "0"}, nil
}

func (f *FakeChannel) SetContext(ctx context.Context, dialplanContext string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record("SET CONTEXT %s", dialplanContext)
}

func (f *FakeChannel) SetExtension(ctx context.Context, extension string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record("SET EXTENSION %s", extension)
}

func (f *FakeChannel) SetPriority(ctx context.Context, priority string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record("SET PRIORITY %s", priority)
}

func (f *FakeChannel) StartRecording(ctx context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record("EXEC MixMonitor %s,b", path)
}

func (f *FakeChannel) Verbose(ctx context.Context, message string, level int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record("VERBOSE %s %d", message, level)
}

func (f *FakeChannel) Alive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.closed && !f.hungUp
}

// HungUp reports whether Hangup was issued.
func (f *FakeChannel) HungUp() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hungUp
}

// Count returns how many logged commands start with prefix.
func (f *FakeChannel) Count(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.Commands {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

// Last returns the last logged command starting with prefix, or "".
func (f *FakeChannel) Last(prefix string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.Commands) - 1; i >= 0; i-- {
		if strings.HasPrefix(f.Commands[i], prefix) {
			return f.Commands[i]
		}
	}
	return ""
}
