package agi

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/hamzaKhattat/pbx-call-control/pkg/errors"
)

// Channel is the call-control vocabulary the call flows drive.
type Channel interface {
	Answer(ctx context.Context) error
	Hangup(ctx context.Context)
	StreamFile(ctx context.Context, file, escapeDigits string) (string, error)
	GetData(ctx context.Context, prompt string, timeout time.Duration, maxDigits int) (string, error)
	WaitForDigit(ctx context.Context, timeout time.Duration) (string, error)
	SayDigits(ctx context.Context, digits, escapeDigits string) (string, error)
	SayNumber(ctx context.Context, number int, escapeDigits string) (string, error)
	GetVariable(ctx context.Context, name string) (string, error)
	SetVariable(ctx context.Context, name, value string) error
	Exec(ctx context.Context, app string, args ...string) (*Response, error)
	SetContext(ctx context.Context, dialplanContext string) error
	SetExtension(ctx context.Context, extension string) error
	SetPriority(ctx context.Context, priority string) error
	StartRecording(ctx context.Context, path string) error
	Verbose(ctx context.Context, message string, level int) error
	Alive() bool
}

var _ Channel = (*Connection)(nil)

// Applications that bridge the call and may legitimately run for minutes.
var bridgingApps = map[string]bool{
	"dial":        true,
	"queue":       true,
	"voicemail":   true,
	"audiosocket": true,
}

// AllDigits is the escape set that lets any key interrupt playback.
const AllDigits = "0123456789*#"

func command(name string, args ...string) string {
	var b strings.Builder
	b.WriteString(name)
	for _, a := range args {
		b.WriteByte(' ')
		b.WriteString(quote(a))
	}
	return b.String()
}

func (c *Connection) run(ctx context.Context, timeout time.Duration, name string, args ...string) (*Response, error) {
	cmd := command(name, args...)
	resp, err := c.SendTimeout(ctx, timeout, cmd)
	if err != nil {
		return nil, err
	}
	if resp.Code == deadChannelCode {
		return resp, errors.New(errors.ErrChannelDead, "channel is dead").
			WithContext("command", cmd)
	}
	if resp.Code != successCode {
		return resp, errors.New(errors.ErrCommandRejected, "unexpected response code").
			WithContext("command", cmd).
			WithContext("code", resp.Code)
	}
	return resp, nil
}

func (c *Connection) simple(ctx context.Context, name string, args ...string) (*Response, error) {
	return c.run(ctx, c.cfg.CommandTimeout, name, args...)
}

func (c *Connection) Answer(ctx context.Context) error {
	resp, err := c.simple(ctx, "ANSWER")
	if err != nil {
		return err
	}
	if resp.Failed() {
		return errors.New(errors.ErrCommandRejected, "answer failed")
	}
	return nil
}

// Hangup is best effort: errors are swallowed so termination always proceeds.
func (c *Connection) Hangup(ctx context.Context) {
	if !c.Alive() {
		return
	}
	if _, err := c.simple(ctx, "HANGUP"); err != nil {
		c.log.Debug("Hangup failed", "error", err)
	}
}

// StreamFile plays file and returns the interrupting digit, if any. A missing
// file (result -1) is reported as no digit.
func (c *Connection) StreamFile(ctx context.Context, file, escapeDigits string) (string, error) {
	resp, err := c.simple(ctx, "STREAM FILE", file, escapeDigits)
	if err != nil {
		return "", err
	}
	if resp.Failed() {
		c.log.Debug("Stream file failed", "file", file)
		return "", nil
	}
	return DecodeDigit(resp.Result), nil
}

// GetData plays prompt and collects up to maxDigits. No entry returns "".
func (c *Connection) GetData(ctx context.Context, prompt string, timeout time.Duration, maxDigits int) (string, error) {
	resp, err := c.run(ctx, c.cfg.CommandTimeout+timeout, "GET DATA",
		prompt, strconv.FormatInt(timeout.Milliseconds(), 10), strconv.Itoa(maxDigits))
	if err != nil {
		return "", err
	}
	if resp.Failed() {
		return "", nil
	}
	return resp.Result, nil
}

func (c *Connection) WaitForDigit(ctx context.Context, timeout time.Duration) (string, error) {
	resp, err := c.run(ctx, c.cfg.CommandTimeout+timeout, "WAIT FOR DIGIT",
		strconv.FormatInt(timeout.Milliseconds(), 10))
	if err != nil {
		return "", err
	}
	return DecodeDigit(resp.Result), nil
}

func (c *Connection) SayDigits(ctx context.Context, digits, escapeDigits string) (string, error) {
	resp, err := c.simple(ctx, "SAY DIGITS", digits, escapeDigits)
	if err != nil {
		return "", err
	}
	return DecodeDigit(resp.Result), nil
}

func (c *Connection) SayNumber(ctx context.Context, number int, escapeDigits string) (string, error) {
	resp, err := c.simple(ctx, "SAY NUMBER", strconv.Itoa(number), escapeDigits)
	if err != nil {
		return "", err
	}
	return DecodeDigit(resp.Result), nil
}

// GetVariable returns "" for an unset variable.
func (c *Connection) GetVariable(ctx context.Context, name string) (string, error) {
	resp, err := c.simple(ctx, "GET VARIABLE", name)
	if err != nil {
		return "", err
	}
	if resp.Result != "1" {
		return "", nil
	}
	return resp.Data, nil
}

func (c *Connection) SetVariable(ctx context.Context, name, value string) error {
	_, err := c.simple(ctx, "SET VARIABLE", name, value)
	return err
}

// Exec runs a switch application. Bridging applications get the dial timeout.
func (c *Connection) Exec(ctx context.Context, app string, args ...string) (*Response, error) {
	timeout := c.cfg.CommandTimeout
	if bridgingApps[strings.ToLower(app)] {
		timeout = c.cfg.DialTimeout
	}

	var argv []string
	if len(args) > 0 {
		argv = []string{strings.Join(args, ",")}
	}

	resp, err := c.run(ctx, timeout, "EXEC "+app, argv...)
	if err != nil {
		return nil, err
	}
	if n, ok := resp.Int(); ok && n == appNotFound {
		return resp, errors.New(errors.ErrCommandRejected, "application not found").
			WithContext("app", app)
	}
	return resp, nil
}

func (c *Connection) SetContext(ctx context.Context, dialplanContext string) error {
	_, err := c.simple(ctx, "SET CONTEXT", dialplanContext)
	return err
}

func (c *Connection) SetExtension(ctx context.Context, extension string) error {
	_, err := c.simple(ctx, "SET EXTENSION", extension)
	return err
}

func (c *Connection) SetPriority(ctx context.Context, priority string) error {
	_, err := c.simple(ctx, "SET PRIORITY", priority)
	return err
}

// StartRecording starts a mix monitor on the channel writing to path.
func (c *Connection) StartRecording(ctx context.Context, path string) error {
	_, err := c.Exec(ctx, "MixMonitor", path, "b")
	return err
}

func (c *Connection) Verbose(ctx context.Context, message string, level int) error {
	_, err := c.simple(ctx, "VERBOSE", message, strconv.Itoa(level))
	return err
}

// IsHangup reports errors that mean the far end went away: the socket closed
// or a command never got an answer.
func IsHangup(err error) bool {
	return errors.Is(err, errors.ErrSocketClosed) ||
		errors.Is(err, errors.ErrCommandTimeout) ||
		errors.Is(err, errors.ErrChannelDead)
}
