package ivr

import (
	"sort"
	"sync"
	"time"

	"github.com/hamzaKhattat/pbx-call-control/internal/models"
)

// Entry describes one in-flight call for introspection.
type Entry struct {
	CallID       string           `json:"call_id"`
	LogID        int64            `json:"call_log_id"`
	Direction    models.Direction `json:"direction"`
	Channel      string           `json:"channel"`
	CallerID     string           `json:"caller_id"`
	DialedNumber string           `json:"dialed_number"`
	StartedAt    time.Time        `json:"started_at"`
}

// Elapsed is the call's age at now.
func (e Entry) Elapsed(now time.Time) time.Duration {
	return now.Sub(e.StartedAt)
}

// Registry tracks in-flight calls across handlers. Entries are inserted when
// a call starts and removed when it ends.
type Registry struct {
	mu    sync.RWMutex
	calls map[string]Entry
}

func NewRegistry() *Registry {
	return &Registry{calls: make(map[string]Entry)}
}

func (r *Registry) Add(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[e.CallID] = e
}

func (r *Registry) Remove(callID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.calls, callID)
}

func (r *Registry) Get(callID string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.calls[callID]
	return e, ok
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.calls)
}

// CountDirection counts in-flight calls going direction.
func (r *Registry) CountDirection(direction models.Direction) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, e := range r.calls {
		if e.Direction == direction {
			n++
		}
	}
	return n
}

// Snapshot returns the in-flight calls, oldest first.
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	out := make([]Entry, 0, len(r.calls))
	for _, e := range r.calls {
		out = append(out, e)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].CallID < out[j].CallID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}
