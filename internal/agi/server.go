package agi

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/hamzaKhattat/pbx-call-control/pkg/errors"
	"github.com/hamzaKhattat/pbx-call-control/pkg/logger"
)

// Handler runs one delegated call. It returns once the call is over.
type Handler interface {
	HandleCall(ctx context.Context, event CallEvent) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, event CallEvent) error

func (f HandlerFunc) HandleCall(ctx context.Context, event CallEvent) error {
	return f(ctx, event)
}

type Server struct {
	handler Handler
	config  Config
	limiter *rate.Limiter

	listener     net.Listener
	connections  sync.WaitGroup
	shutdown     chan struct{}
	shuttingDown atomic.Bool
	ctx          context.Context
	cancel       context.CancelFunc

	// callCtx is what handlers run on; only a forced close cancels it.
	callCtx    context.Context
	callCancel context.CancelFunc

	// Connection tracking
	mu          sync.RWMutex
	activeConns map[string]*Connection
	connCount   atomic.Int64

	metrics MetricsInterface
}

type Config struct {
	ListenAddress    string
	Port             int
	MaxConnections   int
	AcceptRate       float64
	AcceptBurst      int
	HandshakeTimeout time.Duration
	CommandTimeout   time.Duration
	DialTimeout      time.Duration
	ShutdownTimeout  time.Duration
}

type MetricsInterface interface {
	IncrementCounter(name string, labels map[string]string)
	ObserveHistogram(name string, value float64, labels map[string]string)
	SetGauge(name string, value float64, labels map[string]string)
}

func NewServer(handler Handler, config Config, metrics MetricsInterface) *Server {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if config.AcceptRate > 0 {
		burst := config.AcceptBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(config.AcceptRate), burst)
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	callCtx, callCancel := context.WithCancel(context.Background())
	return &Server{
		handler:     handler,
		config:      config,
		limiter:     limiter,
		shutdown:    make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
		callCtx:     callCtx,
		callCancel:  callCancel,
		activeConns: make(map[string]*Connection),
		metrics:     metrics,
	}
}

// Start listens on the configured address and serves until Stop.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.ListenAddress, s.config.Port)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrap(err, errors.ErrInternal, "failed to start AGI server")
	}

	logger.Info("AGI server started", "address", addr)
	return s.Serve(listener)
}

// Serve accepts connections on listener until Stop is called.
func (s *Server) Serve(listener net.Listener) error {
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	for {
		if err := s.limiter.Wait(s.ctx); err != nil {
			return nil
		}

		conn, err := listener.Accept()
		if err != nil {
			if s.shuttingDown.Load() || stderrors.Is(err, net.ErrClosed) {
				return nil
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			logger.Warn("Failed to accept connection", "error", err)
			continue
		}

		if s.config.MaxConnections > 0 && int(s.connCount.Load()) >= s.config.MaxConnections {
			logger.Warn("Connection limit reached, rejecting connection",
				"remote_addr", remoteAddr(conn))
			conn.Close()
			s.metrics.IncrementCounter("agi_connections_rejected", map[string]string{
				"reason": "limit_exceeded",
			})
			continue
		}

		s.connections.Add(1)
		s.connCount.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) Stop() error {
	if !s.shuttingDown.CompareAndSwap(false, true) {
		return nil
	}
	close(s.shutdown)
	s.cancel()

	s.mu.RLock()
	listener := s.listener
	s.mu.RUnlock()
	if listener != nil {
		listener.Close()
	}

	done := make(chan struct{})
	go func() {
		s.connections.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("AGI server stopped gracefully")
	case <-time.After(s.config.ShutdownTimeout):
		logger.Warn("AGI server shutdown timeout, forcing close")
		s.forceCloseConnections()
	}

	s.callCancel()
	return nil
}

// ActiveConnections returns the number of sockets currently being served.
func (s *Server) ActiveConnections() int {
	return int(s.connCount.Load())
}

func (s *Server) handleConnection(raw net.Conn) {
	start := time.Now()
	sessionID := uuid.NewString()

	conn := NewConnection(raw, ConnConfig{
		HandshakeTimeout: s.config.HandshakeTimeout,
		CommandTimeout:   s.config.CommandTimeout,
		DialTimeout:      s.config.DialTimeout,
	})

	s.mu.Lock()
	s.activeConns[sessionID] = conn
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.activeConns, sessionID)
		s.mu.Unlock()

		conn.Close()
		s.connCount.Add(-1)
		s.metrics.SetGauge("agi_connections_active", float64(s.connCount.Load()), nil)
		s.metrics.ObserveHistogram("agi_session_duration", time.Since(start).Seconds(), nil)
		s.connections.Done()
	}()

	s.metrics.IncrementCounter("agi_connections_total", nil)
	s.metrics.SetGauge("agi_connections_active", float64(s.connCount.Load()), nil)

	session, err := conn.Handshake(s.callCtx, sessionID)
	if err != nil {
		logger.Warn("AGI handshake failed",
			"session_id", sessionID,
			"remote_addr", remoteAddr(raw),
			"error", err)
		s.metrics.IncrementCounter("agi_handshake_failures", map[string]string{
			"code": string(errors.CodeOf(err)),
		})
		return
	}

	trigger, known := Classify(session.Request)
	ctx := logger.WithCall(s.callCtx, sessionID, session.UniqueID, session.Channel)
	log := logger.WithContext(ctx)
	if !known {
		log.Warn("Unrecognized AGI request, handling as inbound", "request", session.Request)
	}

	log.Info("Processing AGI request",
		"trigger", trigger.String(),
		"request", session.Request,
		"callerid", session.CallerID,
		"dialed", session.DialedNumber)

	status := "success"
	if err := s.dispatch(ctx, CallEvent{Trigger: trigger, Session: session, Channel: conn}); err != nil {
		status = "failed"
		log.Error("Call handler failed", "trigger", trigger.String(), "error", err)
	}

	s.metrics.IncrementCounter("agi_requests_total", map[string]string{
		"trigger": trigger.String(),
		"status":  status,
	})
	log.Debug("AGI session completed", "duration", time.Since(start).Seconds())
}

// dispatch runs the handler, converting a panic into an error so one bad call
// cannot take the server down.
func (s *Server) dispatch(ctx context.Context, event CallEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.WithContext(ctx).Error("Call handler panicked",
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()))
			err = errors.New(errors.ErrInternal, "call handler panicked")
		}
	}()
	return s.handler.HandleCall(ctx, event)
}

func (s *Server) forceCloseConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, conn := range s.activeConns {
		logger.Info("Force closing connection", "session_id", id)
		conn.Close()
	}
	s.callCancel()
}
