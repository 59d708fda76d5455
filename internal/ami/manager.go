// Package ami is a minimal Asterisk Manager Interface client used for
// out-of-band channel control.
package ami

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hamzaKhattat/pbx-call-control/pkg/errors"
	"github.com/hamzaKhattat/pbx-call-control/pkg/logger"
)

// CauseNormalClearing is the Q.850 cause sent with Hangup actions.
const CauseNormalClearing = 16

// Manager handles one Asterisk Manager Interface connection.
type Manager struct {
	config Config
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer

	mu        sync.RWMutex
	writeMu   sync.Mutex
	connected bool
	loggedIn  bool

	loginChan chan Event

	actionID       uint64
	pendingActions map[string]chan Event
	actionMutex    sync.Mutex

	shutdown      chan struct{}
	closeOnce     sync.Once
	reconnectChan chan struct{}
	wg            sync.WaitGroup
	started       bool

	totalEvents   uint64
	totalActions  uint64
	failedActions uint64
}

type Config struct {
	Host              string
	Port              int
	Username          string
	Password          string
	ReconnectInterval time.Duration
	PingInterval      time.Duration
	ActionTimeout     time.Duration
	ConnectTimeout    time.Duration
	ReadTimeout       time.Duration
}

// Event is one AMI message: a response or an unsolicited event.
type Event map[string]string

type Action struct {
	Action   string
	ActionID string
	Fields   map[string]string
}

func NewManager(config Config) *Manager {
	if config.Port == 0 {
		config.Port = 5038
	}
	if config.ReconnectInterval == 0 {
		config.ReconnectInterval = 5 * time.Second
	}
	if config.PingInterval == 0 {
		config.PingInterval = 30 * time.Second
	}
	if config.ActionTimeout == 0 {
		config.ActionTimeout = 10 * time.Second
	}
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = 10 * time.Second
	}

	return &Manager{
		config:         config,
		pendingActions: make(map[string]chan Event),
		loginChan:      make(chan Event, 1),
		shutdown:       make(chan struct{}),
		reconnectChan:  make(chan struct{}, 1),
	}
}

// Connect dials, checks the banner and logs in.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connected {
		return nil
	}

	addr := net.JoinHostPort(m.config.Host, strconv.Itoa(m.config.Port))
	logger.Info("Connecting to Asterisk AMI", "addr", addr)

	dialer := net.Dialer{Timeout: m.config.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return errors.Wrap(err, errors.ErrAMI, "failed to connect to AMI")
	}

	m.conn = conn
	m.reader = bufio.NewReader(conn)
	m.writer = bufio.NewWriter(conn)

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	banner, err := m.reader.ReadString('\n')
	if err != nil {
		conn.Close()
		return errors.Wrap(err, errors.ErrAMI, "failed to read AMI banner")
	}
	conn.SetReadDeadline(time.Time{})

	banner = strings.TrimSpace(banner)
	logger.Debug("AMI banner received", "banner", banner)
	if !strings.Contains(banner, "Asterisk Call Manager") {
		conn.Close()
		return errors.New(errors.ErrAMI, fmt.Sprintf("invalid AMI banner: %s", banner))
	}

	m.connected = true
	m.wg.Add(1)
	go m.eventReader(conn, m.reader)

	if err := m.performLogin(); err != nil {
		m.connected = false
		conn.Close()
		return err
	}
	m.loggedIn = true

	if !m.started {
		m.started = true
		m.wg.Add(2)
		go m.pingLoop()
		go m.reconnectHandler()
	}

	logger.Info("Connected to Asterisk AMI")
	return nil
}

func (m *Manager) performLogin() error {
	logger.Debug("Performing AMI login", "username", m.config.Username)

	login := fmt.Sprintf("Action: Login\r\nUsername: %s\r\nSecret: %s\r\n\r\n",
		m.config.Username, m.config.Password)
	if err := m.write(login); err != nil {
		return errors.Wrap(err, errors.ErrAMI, "failed to send login")
	}

	timeout := time.NewTimer(m.config.ActionTimeout)
	defer timeout.Stop()

	select {
	case event := <-m.loginChan:
		if event["Response"] == "Success" {
			logger.Debug("AMI login successful")
			return nil
		}
		msg := event["Message"]
		if msg == "" {
			msg = "authentication failed"
		}
		return errors.New(errors.ErrAMI, msg)
	case <-timeout.C:
		return errors.New(errors.ErrAMI, "login timeout")
	}
}

func (m *Manager) write(s string) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if _, err := m.writer.WriteString(s); err != nil {
		return err
	}
	return m.writer.Flush()
}

// Close stops the background loops and closes the connection.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		close(m.shutdown)

		m.mu.Lock()
		m.connected = false
		m.loggedIn = false
		if m.conn != nil {
			m.conn.Close()
		}
		m.mu.Unlock()

		done := make(chan struct{})
		go func() {
			m.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			logger.Info("AMI manager closed")
		case <-time.After(5 * time.Second):
			logger.Warn("AMI manager close timeout")
		}
	})
}

// SendAction writes action and waits for the response carrying its ActionID.
func (m *Manager) SendAction(ctx context.Context, action Action) (Event, error) {
	m.mu.RLock()
	ready := m.connected && m.loggedIn
	m.mu.RUnlock()
	if !ready {
		return nil, errors.New(errors.ErrAMI, "not logged in to AMI")
	}

	actionID := strconv.FormatUint(atomic.AddUint64(&m.actionID, 1), 10)
	action.ActionID = actionID

	responseChan := make(chan Event, 1)
	m.actionMutex.Lock()
	m.pendingActions[actionID] = responseChan
	m.actionMutex.Unlock()

	defer func() {
		m.actionMutex.Lock()
		delete(m.pendingActions, actionID)
		m.actionMutex.Unlock()
	}()

	var sb strings.Builder
	fmt.Fprintf(&sb, "Action: %s\r\n", action.Action)
	fmt.Fprintf(&sb, "ActionID: %s\r\n", actionID)
	for key, value := range action.Fields {
		fmt.Fprintf(&sb, "%s: %s\r\n", key, value)
	}
	sb.WriteString("\r\n")

	if err := m.write(sb.String()); err != nil {
		atomic.AddUint64(&m.failedActions, 1)
		return nil, errors.Wrap(err, errors.ErrAMI, "failed to write AMI action")
	}
	atomic.AddUint64(&m.totalActions, 1)

	timer := time.NewTimer(m.config.ActionTimeout)
	defer timer.Stop()

	select {
	case response := <-responseChan:
		return response, nil
	case <-timer.C:
		atomic.AddUint64(&m.failedActions, 1)
		return nil, errors.New(errors.ErrAMI, "AMI action timeout").WithContext("action", action.Action)
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), errors.ErrAMI, "AMI action cancelled")
	case <-m.shutdown:
		return nil, errors.New(errors.ErrAMI, "AMI manager shutting down")
	}
}

func (m *Manager) eventReader(conn net.Conn, reader *bufio.Reader) {
	defer m.wg.Done()

	for {
		event, err := m.readEvent(conn, reader)
		if err != nil {
			select {
			case <-m.shutdown:
				return
			default:
			}

			logger.Error("Failed to read AMI event", "error", err.Error())
			select {
			case m.reconnectChan <- struct{}{}:
			default:
			}
			return
		}

		atomic.AddUint64(&m.totalEvents, 1)

		if _, ok := event["Response"]; ok {
			if _, hasID := event["ActionID"]; !hasID {
				select {
				case m.loginChan <- event:
				default:
				}
				continue
			}
		}

		if actionID := event["ActionID"]; actionID != "" {
			m.actionMutex.Lock()
			if ch, ok := m.pendingActions[actionID]; ok {
				select {
				case ch <- event:
				default:
				}
			}
			m.actionMutex.Unlock()
		}
	}
}

func (m *Manager) readEvent(conn net.Conn, reader *bufio.Reader) (Event, error) {
	event := make(Event)

	for {
		if m.config.ReadTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(m.config.ReadTimeout))
		}

		line, err := reader.ReadString('\n')
		if err != nil {
			return nil, err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			if len(event) > 0 {
				return event, nil
			}
			continue
		}

		if idx := strings.Index(line, ":"); idx > 0 {
			event[strings.TrimSpace(line[:idx])] = strings.TrimSpace(line[idx+1:])
		}
	}
}

func (m *Manager) pingLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.shutdown:
			return
		case <-ticker.C:
			if !m.IsConnected() {
				continue
			}
			if _, err := m.SendAction(context.Background(), Action{Action: "Ping"}); err != nil {
				logger.Warn("AMI ping failed", "error", err.Error())
			}
		}
	}
}

func (m *Manager) reconnectHandler() {
	defer m.wg.Done()

	for {
		select {
		case <-m.shutdown:
			return
		case <-m.reconnectChan:
		}

		logger.Info("AMI reconnection triggered")
		m.mu.Lock()
		m.connected = false
		m.loggedIn = false
		if m.conn != nil {
			m.conn.Close()
		}
		m.mu.Unlock()

		select {
		case <-m.shutdown:
			return
		case <-time.After(m.config.ReconnectInterval):
		}

		if err := m.Connect(context.Background()); err != nil {
			logger.Error("AMI reconnection failed", "error", err.Error())
			select {
			case m.reconnectChan <- struct{}{}:
			default:
			}
		}
	}
}

func (m *Manager) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected && m.loggedIn
}

// Ping implements the readiness check.
func (m *Manager) Ping(ctx context.Context) error {
	if !m.IsConnected() {
		return errors.New(errors.ErrAMI, "not connected to AMI")
	}
	_, err := m.SendAction(ctx, Action{Action: "Ping"})
	return err
}

func (m *Manager) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"total_events":   atomic.LoadUint64(&m.totalEvents),
		"total_actions":  atomic.LoadUint64(&m.totalActions),
		"failed_actions": atomic.LoadUint64(&m.failedActions),
		"connected":      m.IsConnected(),
	}
}

// ConnectOptional keeps trying to connect in the background until ctx ends.
func (m *Manager) ConnectOptional(ctx context.Context) {
	go func() {
		for {
			if !m.IsConnected() {
				if err := m.Connect(ctx); err != nil {
					logger.Debug("AMI connection failed, will retry", "error", err)
				}
			}
			select {
			case <-ctx.Done():
				return
			case <-m.shutdown:
				return
			case <-time.After(m.config.ReconnectInterval):
			}
		}
	}()
}

// HangupChannel hangs up channel with normal clearing.
func (m *Manager) HangupChannel(ctx context.Context, channel string) error {
	response, err := m.SendAction(ctx, Action{
		Action: "Hangup",
		Fields: map[string]string{
			"Channel": channel,
			"Cause":   strconv.Itoa(CauseNormalClearing),
		},
	})
	if err != nil {
		return err
	}

	if response["Response"] != "Success" {
		return errors.New(errors.ErrAMI, "failed to hang up channel").
			WithContext("channel", channel).
			WithContext("message", response["Message"])
	}
	return nil
}
