package ivr

import (
	"context"
	"strings"
	"time"

	"github.com/hamzaKhattat/pbx-call-control/internal/agi"
	"github.com/hamzaKhattat/pbx-call-control/internal/models"
	"github.com/hamzaKhattat/pbx-call-control/internal/store"
	"github.com/hamzaKhattat/pbx-call-control/pkg/logger"
)

type trackerStore interface {
	store.CallLogStore
	recordingStore
}

// Call is the mutable state of one call. It is owned by the goroutine
// handling the call.
type Call struct {
	Entry
	Digits      []string
	Destination string
	Disposition models.Disposition
	MenuID      int64
	Recording   *ActiveRecording
}

// PressedDigits is the digit history as stored on the call log.
func (c *Call) PressedDigits() string {
	return strings.Join(c.Digits, ",")
}

// Tracker owns the lifecycle bookkeeping shared by inbound and outbound
// calls: call log, registry entry, recording and metrics.
type Tracker struct {
	store    trackerStore
	registry *Registry
	recorder *Recorder
	metrics  agi.MetricsInterface
	now      func() time.Time
}

func NewTracker(st trackerStore, registry *Registry, recorder *Recorder, metrics agi.MetricsInterface) *Tracker {
	return &Tracker{
		store:    st,
		registry: registry,
		recorder: recorder,
		metrics:  metrics,
		now:      time.Now,
	}
}

func (t *Tracker) Registry() *Registry {
	return t.registry
}

// Begin creates the call log from tmpl and registers the call. A failed
// insert is logged and the call proceeds without a log id.
func (t *Tracker) Begin(ctx context.Context, session *agi.Session, tmpl models.CallLog) *Call {
	now := t.now()
	call := &Call{
		Entry: Entry{
			CallID:       session.UniqueID,
			Direction:    tmpl.Direction,
			Channel:      session.Channel,
			CallerID:     session.CallerID,
			DialedNumber: session.DialedNumber,
			StartedAt:    now,
		},
		Disposition: tmpl.Disposition,
	}
	if call.CallID == "" {
		call.CallID = session.ID
	}

	tmpl.CallID = call.CallID
	tmpl.Channel = session.Channel
	tmpl.CallerNumber = session.CallerID
	tmpl.CallerName = session.CallerName
	tmpl.DialedNumber = session.DialedNumber
	tmpl.StartedAt = now

	id, err := t.store.CreateCallLog(ctx, &tmpl)
	if err != nil {
		logger.WithContext(ctx).Error("Failed to create call log", "error", err)
	} else {
		call.LogID = id
	}

	t.registry.Add(call.Entry)
	t.metrics.SetGauge("calls_active", float64(t.registry.CountDirection(call.Direction)), map[string]string{
		"direction": string(call.Direction),
	})
	return call
}

// Record attaches a recording to call when one applies.
func (t *Tracker) Record(ctx context.Context, ch agi.Channel, call *Call) {
	call.Recording = t.recorder.Start(ctx, ch, call.CallID, call.LogID)
}

// Update writes fields to the call log, logging failures.
func (t *Tracker) Update(ctx context.Context, call *Call, fields map[string]interface{}) {
	if call.LogID == 0 {
		return
	}
	if err := t.store.UpdateCallLog(ctx, call.LogID, fields); err != nil {
		logger.WithContext(ctx).Warn("Failed to update call log",
			"call_log_id", call.LogID,
			"error", err)
	}
}

// Finish persists the outcome, finalizes the recording, unregisters the call
// and hangs up. It runs even when ctx has been cancelled.
func (t *Tracker) Finish(ctx context.Context, ch agi.Channel, call *Call) {
	ctx = context.WithoutCancel(ctx)
	ended := t.now()
	duration := int(ended.Sub(call.StartedAt).Seconds())

	fields := map[string]interface{}{
		models.FieldDisposition:   call.Disposition,
		models.FieldDuration:      duration,
		models.FieldPressedDigits: call.PressedDigits(),
		models.FieldEndedAt:       ended,
	}
	if call.Destination != "" {
		fields[models.FieldDestination] = call.Destination
	}
	t.Update(ctx, call, fields)

	t.recorder.Finish(ctx, call.Recording, duration)

	t.registry.Remove(call.CallID)
	labels := map[string]string{"direction": string(call.Direction)}
	t.metrics.SetGauge("calls_active", float64(t.registry.CountDirection(call.Direction)), labels)
	t.metrics.ObserveHistogram("call_duration_seconds", ended.Sub(call.StartedAt).Seconds(), labels)
	t.metrics.IncrementCounter("calls_total", map[string]string{
		"direction":   string(call.Direction),
		"disposition": string(call.Disposition),
	})

	logger.WithContext(ctx).Info("Call finished",
		"disposition", string(call.Disposition),
		"destination", call.Destination,
		"duration", duration,
		"digits", call.PressedDigits())

	ch.Hangup(ctx)
}
