// Package dispatch routes classified AGI requests to the call flow that owns
// them and implements the small auxiliary triggers inline.
package dispatch

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/hamzaKhattat/pbx-call-control/internal/agi"
	"github.com/hamzaKhattat/pbx-call-control/internal/models"
	"github.com/hamzaKhattat/pbx-call-control/pkg/errors"
	"github.com/hamzaKhattat/pbx-call-control/pkg/logger"
)

// Variables read by the auxiliary triggers.
const (
	VarCallLogID         = "CALL_LOG_ID"
	VarContactID         = "CONTACT_ID"
	VarTestDuration      = "TEST_DURATION"
	VarBrowserTarget     = "BROWSER_TARGET"
	VarBrowserPeer       = "BROWSER_PEER_CHANNEL"
	DefaultInternalRoute = "from-internal"
)

// CallHandler runs a full call flow on one channel.
type CallHandler interface {
	HandleCall(ctx context.Context, ch agi.Channel, session *agi.Session) error
}

// CallHandlerFunc adapts a function to CallHandler.
type CallHandlerFunc func(ctx context.Context, ch agi.Channel, session *agi.Session) error

func (f CallHandlerFunc) HandleCall(ctx context.Context, ch agi.Channel, session *agi.Session) error {
	return f(ctx, ch, session)
}

// ChannelHanger hangs up a channel the AGI session does not own.
type ChannelHanger interface {
	HangupChannel(ctx context.Context, channel string) error
}

// Notifier reports contact outcomes to the pacing engine.
type Notifier interface {
	Notify(ctx context.Context, contactID int64, status models.ContactStatus, callLogID int64) error
}

type callLogStore interface {
	CreateCallLog(ctx context.Context, log *models.CallLog) (int64, error)
	UpdateCallLog(ctx context.Context, id int64, fields map[string]interface{}) error
}

// Handlers are the call flows behind the main triggers.
type Handlers struct {
	Inbound  CallHandler
	Outbound CallHandler
	Agent    CallHandler
}

type Config struct {
	// InternalContext is the dialplan context browser calls are sent to.
	InternalContext string
}

type Router struct {
	handlers Handlers
	calls    callLogStore
	notifier Notifier
	hanger   ChannelHanger
	cfg      Config
	now      func() time.Time
}

// NewRouter builds the router. hanger may be nil when no manager connection
// is configured; browser hangups are then logged and skipped.
func NewRouter(handlers Handlers, calls callLogStore, notifier Notifier, hanger ChannelHanger, cfg Config) *Router {
	if cfg.InternalContext == "" {
		cfg.InternalContext = DefaultInternalRoute
	}
	return &Router{
		handlers: handlers,
		calls:    calls,
		notifier: notifier,
		hanger:   hanger,
		cfg:      cfg,
		now:      time.Now,
	}
}

var _ agi.Handler = (*Router)(nil)

// HandleCall implements agi.Handler.
func (r *Router) HandleCall(ctx context.Context, ev agi.CallEvent) error {
	switch ev.Trigger {
	case agi.TriggerInbound:
		return r.handlers.Inbound.HandleCall(ctx, ev.Channel, ev.Session)
	case agi.TriggerOutboundDialer:
		return r.handlers.Outbound.HandleCall(ctx, ev.Channel, ev.Session)
	case agi.TriggerAIAgentCall:
		return r.handlers.Agent.HandleCall(ctx, ev.Channel, ev.Session)
	case agi.TriggerAIAgentEnd:
		return r.aiAgentEnd(ctx, ev.Channel)
	case agi.TriggerTestCallEnd:
		return r.testCallEnd(ctx, ev.Channel)
	case agi.TriggerBrowserStart:
		return r.browserStart(ctx, ev.Channel, ev.Session)
	case agi.TriggerBrowserHangup:
		return r.browserHangup(ctx, ev.Channel)
	default:
		return errors.New(errors.ErrInternal, "unhandled trigger").WithContext("trigger", ev.Trigger.String())
	}
}

func (r *Router) aiAgentEnd(ctx context.Context, ch agi.Channel) error {
	log := logger.WithContext(ctx)

	logID, err := intVar(ctx, ch, VarCallLogID)
	if err != nil {
		return err
	}
	contactID, err := intVar(ctx, ch, VarContactID)
	if err != nil {
		return err
	}

	if logID > 0 {
		if err := r.calls.UpdateCallLog(ctx, logID, map[string]interface{}{
			models.FieldDisposition: models.DispositionAIComplete,
			models.FieldEndedAt:     r.now(),
		}); err != nil {
			log.Warn("Failed to close AI call log", "call_log_id", logID, "error", err)
		}
	}
	if contactID > 0 {
		if err := r.notifier.Notify(ctx, contactID, models.ContactConnected, logID); err != nil {
			log.Warn("Failed to notify contact status", "contact_id", contactID, "error", err)
		}
	}

	log.Info("AI conversation ended", "call_log_id", logID, "contact_id", contactID)
	return nil
}

func (r *Router) testCallEnd(ctx context.Context, ch agi.Channel) error {
	logID, err := intVar(ctx, ch, VarCallLogID)
	if err != nil {
		return err
	}
	if logID == 0 {
		logger.WithContext(ctx).Warn("Test call ended without a call log id")
		return nil
	}

	raw, err := ch.GetVariable(ctx, VarTestDuration)
	if err != nil {
		return err
	}
	duration, _ := strconv.Atoi(strings.TrimSpace(raw))

	if err := r.calls.UpdateCallLog(ctx, logID, map[string]interface{}{
		models.FieldDisposition: models.DispositionCompleted,
		models.FieldDuration:    duration,
		models.FieldEndedAt:     r.now(),
	}); err != nil {
		return errors.Wrap(err, errors.ErrDatabase, "failed to close test call log")
	}

	logger.WithContext(ctx).Info("Test call completed", "call_log_id", logID, "duration", duration)
	return nil
}

func (r *Router) browserStart(ctx context.Context, ch agi.Channel, session *agi.Session) error {
	log := logger.WithContext(ctx)

	target, err := ch.GetVariable(ctx, VarBrowserTarget)
	if err != nil {
		return err
	}
	target = strings.TrimSpace(target)
	if target == "" {
		log.Warn("Browser call without a target, hanging up")
		ch.Hangup(ctx)
		return nil
	}

	callID := session.UniqueID
	if callID == "" {
		callID = session.ID
	}
	if _, err := r.calls.CreateCallLog(ctx, &models.CallLog{
		CallID:       callID,
		Direction:    models.DirectionInbound,
		Channel:      session.Channel,
		CallerNumber: session.CallerID,
		CallerName:   session.CallerName,
		DialedNumber: target,
		Disposition:  models.DispositionInProgress,
		Destination:  "ext:" + target,
		StartedAt:    r.now(),
	}); err != nil {
		log.Error("Failed to create browser call log", "error", err)
	}

	if err := ch.SetContext(ctx, r.cfg.InternalContext); err != nil {
		return err
	}
	if err := ch.SetExtension(ctx, target); err != nil {
		return err
	}
	if err := ch.SetPriority(ctx, "1"); err != nil {
		return err
	}

	log.Info("Browser call handed to dialplan", "context", r.cfg.InternalContext, "target", target)
	return nil
}

func (r *Router) browserHangup(ctx context.Context, ch agi.Channel) error {
	log := logger.WithContext(ctx)

	peer, err := ch.GetVariable(ctx, VarBrowserPeer)
	if err != nil {
		return err
	}
	peer = strings.TrimSpace(peer)
	if peer == "" {
		log.Debug("Browser hangup without a peer channel")
		return nil
	}
	if r.hanger == nil {
		log.Warn("No manager connection, cannot hang up browser peer", "peer", peer)
		return nil
	}

	if err := r.hanger.HangupChannel(ctx, peer); err != nil {
		log.Warn("Failed to hang up browser peer", "peer", peer, "error", err)
		return err
	}
	log.Info("Browser peer hung up", "peer", peer)
	return nil
}

// intVar reads a numeric variable; unset or garbage reads as 0.
func intVar(ctx context.Context, ch agi.Channel, name string) (int64, error) {
	raw, err := ch.GetVariable(ctx, name)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, nil
	}
	return n, nil
}
