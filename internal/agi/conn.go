package agi

import (
	"bufio"
	"container/list"
	"context"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/hamzaKhattat/pbx-call-control/pkg/errors"
	"github.com/hamzaKhattat/pbx-call-control/pkg/logger"
)

const (
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultCommandTimeout   = 30 * time.Second
	DefaultDialTimeout      = 120 * time.Second
)

// ConnConfig holds the per-connection timeouts.
type ConnConfig struct {
	HandshakeTimeout time.Duration
	CommandTimeout   time.Duration
	DialTimeout      time.Duration
}

func (c ConnConfig) withDefaults() ConnConfig {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = DefaultCommandTimeout
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	return c
}

// Connection owns one call's control socket. Commands are correlated with
// responses in issue order; each pending command carries its own deadline.
type Connection struct {
	conn    net.Conn
	reader  *bufio.Reader
	cfg     ConnConfig
	session *Session
	log     *logger.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	nextID  uint64
	queue   *list.List
	index   map[uint64]*list.Element
	closed  bool
	done    chan struct{}
	doneOne sync.Once

	// touched only by the read loop
	inUsage bool
}

type pendingCommand struct {
	id     uint64
	text   string
	result chan commandResult
	timer  *time.Timer
}

type commandResult struct {
	resp *Response
	err  error
}

func NewConnection(conn net.Conn, cfg ConnConfig) *Connection {
	return &Connection{
		conn:   conn,
		reader: bufio.NewReader(conn),
		cfg:    cfg.withDefaults(),
		log:    logger.WithField("remote_addr", remoteAddr(conn)),
		queue:  list.New(),
		index:  make(map[uint64]*list.Element),
		done:   make(chan struct{}),
	}
}

func remoteAddr(conn net.Conn) string {
	if addr := conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

// Handshake reads the bootstrap variables up to the first blank line and
// starts the response reader.
func (c *Connection) Handshake(ctx context.Context, sessionID string) (*Session, error) {
	deadline := time.Now().Add(c.cfg.HandshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return nil, errors.Wrap(err, errors.ErrSocketClosed, "failed to set handshake deadline")
	}

	session := newSession(sessionID)
	for {
		line, err := c.reader.ReadString('\n')
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return nil, errors.Wrap(err, errors.ErrBootstrapTimeout, "handshake not completed").
					WithContext("timeout", c.cfg.HandshakeTimeout.String())
			}
			return nil, errors.Wrap(err, errors.ErrSocketClosed, "connection closed during handshake")
		}

		line = strings.TrimRight(line, "\r\n")
		if strings.TrimSpace(line) == "" {
			break
		}
		session.addLine(line)
	}
	session.finish()

	if err := c.conn.SetReadDeadline(time.Time{}); err != nil {
		return nil, errors.Wrap(err, errors.ErrSocketClosed, "failed to clear handshake deadline")
	}

	c.session = session
	c.log = c.log.WithFields(map[string]interface{}{
		"session_id": sessionID,
		"call_id":    session.UniqueID,
	})

	go c.readLoop()
	return session, nil
}

// Session returns the bootstrap metadata, nil before the handshake.
func (c *Connection) Session() *Session {
	return c.session
}

// Send issues one command with the default deadline.
func (c *Connection) Send(ctx context.Context, command string) (*Response, error) {
	return c.SendTimeout(ctx, c.cfg.CommandTimeout, command)
}

// SendTimeout issues one command and waits for its response or deadline.
func (c *Connection) SendTimeout(ctx context.Context, timeout time.Duration, command string) (*Response, error) {
	p, err := c.register(command, timeout)
	if err != nil {
		return nil, err
	}

	c.writeMu.Lock()
	_, err = io.WriteString(c.conn, command+"\n")
	c.writeMu.Unlock()

	if err != nil {
		c.remove(p.id)
		return nil, errors.Wrap(err, errors.ErrSocketClosed, "failed to write command").
			WithContext("command", command)
	}

	select {
	case r := <-p.result:
		return r.resp, r.err
	case <-ctx.Done():
		// The line is on the wire, so the entry stays queued to absorb its
		// response or expire on its own deadline.
		return nil, ctx.Err()
	}
}

func (c *Connection) register(command string, timeout time.Duration) (*pendingCommand, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, errors.New(errors.ErrSocketClosed, "connection closed").
			WithContext("command", command)
	}

	c.nextID++
	p := &pendingCommand{
		id:     c.nextID,
		text:   command,
		result: make(chan commandResult, 1),
	}
	c.index[p.id] = c.queue.PushBack(p)

	id := p.id
	p.timer = time.AfterFunc(timeout, func() { c.expire(id, timeout) })
	return p, nil
}

// remove drops a pending command by id. It returns nil when the command was
// already resolved.
func (c *Connection) remove(id uint64) *pendingCommand {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.removeLocked(id)
}

func (c *Connection) removeLocked(id uint64) *pendingCommand {
	elem, ok := c.index[id]
	if !ok {
		return nil
	}
	delete(c.index, id)
	p := c.queue.Remove(elem).(*pendingCommand)
	p.timer.Stop()
	return p
}

func (c *Connection) expire(id uint64, timeout time.Duration) {
	p := c.remove(id)
	if p == nil {
		return
	}
	c.log.Warn("AGI command timed out", "command", p.text, "timeout", timeout.String())
	p.result <- commandResult{
		err: errors.New(errors.ErrCommandTimeout, "no response to command").
			WithContext("command", p.text),
	}
}

// resolveOldest hands a result to the command issued first.
func (c *Connection) resolveOldest(result commandResult) {
	c.mu.Lock()
	front := c.queue.Front()
	var p *pendingCommand
	if front != nil {
		p = c.removeLocked(front.Value.(*pendingCommand).id)
	}
	c.mu.Unlock()

	if p == nil {
		c.log.Debug("Response without pending command")
		return
	}
	p.result <- result
}

// Pending returns the number of commands awaiting a response.
func (c *Connection) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.Len()
}

func (c *Connection) readLoop() {
	for {
		line, err := c.reader.ReadString('\n')
		if line != "" {
			c.handleLine(strings.TrimRight(line, "\r\n"))
		}
		if err != nil {
			if err != io.EOF {
				c.log.Debug("AGI read loop ended", "error", err)
			}
			c.shutdown()
			return
		}
	}
}

func (c *Connection) handleLine(line string) {
	if resp, ok := parseResponse(line); ok {
		c.inUsage = false
		c.resolveOldest(commandResult{resp: resp})
		return
	}

	switch {
	case strings.HasPrefix(line, hangupToken):
		// Left to the pending command's own deadline.
		c.log.Info("Hangup notification received", "pending", c.Pending())
	case strings.HasPrefix(line, usagePrefix):
		c.inUsage = true
	case strings.HasPrefix(line, deadPrefix):
		c.inUsage = false
		c.resolveOldest(commandResult{
			err: errors.New(errors.ErrChannelDead, "command not permitted on a dead channel").
				WithContext("response", line),
		})
	case errorPattern.MatchString(line):
		c.inUsage = false
		c.resolveOldest(commandResult{
			err: errors.New(errors.ErrCommandRejected, "command rejected by switch").
				WithContext("response", line),
		})
	case c.inUsage, strings.TrimSpace(line) == "":
	default:
		c.log.Debug("Unrecognized AGI line", "line", line)
	}
}

// shutdown marks the connection closed and fails every pending command.
func (c *Connection) shutdown() {
	c.mu.Lock()
	c.closed = true
	var failed []*pendingCommand
	for c.queue.Len() > 0 {
		p := c.removeLocked(c.queue.Front().Value.(*pendingCommand).id)
		failed = append(failed, p)
	}
	c.mu.Unlock()

	for _, p := range failed {
		p.result <- commandResult{
			err: errors.New(errors.ErrSocketClosed, "connection closed").
				WithContext("command", p.text),
		}
	}
	c.doneOne.Do(func() { close(c.done) })
}

// Alive reports whether the socket is still open.
func (c *Connection) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// Done is closed once the connection has shut down.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

func (c *Connection) Close() error {
	err := c.conn.Close()
	c.shutdown()
	return err
}
