// Package dialer reports contact outcomes back to the campaign pacing engine.
package dialer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hamzaKhattat/pbx-call-control/internal/models"
	"github.com/hamzaKhattat/pbx-call-control/pkg/errors"
	"github.com/hamzaKhattat/pbx-call-control/pkg/logger"
)

// DefaultEventsChannel is the pub/sub channel the pacing engine listens on.
const DefaultEventsChannel = "dialer:contact-events"

// Publisher delivers a payload to a pub/sub channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

type contactStore interface {
	UpdateContactStatus(ctx context.Context, id int64, status models.ContactStatus, callLogID int64) error
}

// ContactEvent is the message published for every status change.
type ContactEvent struct {
	ContactID int64                `json:"contact_id"`
	Status    models.ContactStatus `json:"status"`
	CallLogID int64                `json:"call_log_id,omitempty"`
	Reason    string               `json:"reason,omitempty"`
	At        time.Time            `json:"at"`
}

type Notifier struct {
	contacts  contactStore
	publisher Publisher
	channel   string
	now       func() time.Time
}

// NewNotifier builds a notifier. A nil publisher only updates the store.
func NewNotifier(contacts contactStore, publisher Publisher, channel string) *Notifier {
	if channel == "" {
		channel = DefaultEventsChannel
	}
	return &Notifier{
		contacts:  contacts,
		publisher: publisher,
		channel:   channel,
		now:       time.Now,
	}
}

// Notify records status for the contact and tells the pacing engine.
func (n *Notifier) Notify(ctx context.Context, contactID int64, status models.ContactStatus, callLogID int64) error {
	return n.notify(ctx, ContactEvent{
		ContactID: contactID,
		Status:    status,
		CallLogID: callLogID,
	})
}

// NotifyFailed marks the contact failed so the pacing engine can retry it.
func (n *Notifier) NotifyFailed(ctx context.Context, contactID int64, reason string) error {
	return n.notify(ctx, ContactEvent{
		ContactID: contactID,
		Status:    models.ContactFailed,
		Reason:    reason,
	})
}

func (n *Notifier) notify(ctx context.Context, ev ContactEvent) error {
	log := logger.WithContext(ctx).WithFields(map[string]interface{}{
		"contact_id": ev.ContactID,
		"status":     string(ev.Status),
	})
	ev.At = n.now().UTC()

	if err := n.contacts.UpdateContactStatus(ctx, ev.ContactID, ev.Status, ev.CallLogID); err != nil {
		log.Warn("Failed to update contact status", "error", err)
		return errors.Wrap(err, errors.ErrDatabase, "failed to update contact status")
	}

	if n.publisher == nil {
		return nil
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, errors.ErrInternal, "failed to encode contact event")
	}
	if err := n.publisher.Publish(ctx, n.channel, payload); err != nil {
		log.Warn("Failed to publish contact event", "channel", n.channel, "error", err)
		return errors.Wrap(err, errors.ErrRedis, "failed to publish contact event")
	}

	log.Debug("Contact event published", "reason", ev.Reason)
	return nil
}
