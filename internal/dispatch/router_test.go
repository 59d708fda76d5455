package dispatch

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/hamzaKhattat/pbx-call-control/internal/agi"
	"github.com/hamzaKhattat/pbx-call-control/internal/agi/agitest"
	"github.com/hamzaKhattat/pbx-call-control/internal/dialer"
	"github.com/hamzaKhattat/pbx-call-control/internal/models"
	"github.com/hamzaKhattat/pbx-call-control/internal/store/memstore"
)

type fakeHanger struct {
	channels []string
	err      error
}

func (h *fakeHanger) HangupChannel(_ context.Context, channel string) error {
	h.channels = append(h.channels, channel)
	return h.err
}

type recorded struct {
	names []string
}

func (r *recorded) handler(name string) CallHandler {
	return CallHandlerFunc(func(context.Context, agi.Channel, *agi.Session) error {
		r.names = append(r.names, name)
		return nil
	})
}

func newRouter(st *memstore.Store, hanger ChannelHanger, rec *recorded) *Router {
	return NewRouter(Handlers{
		Inbound:  rec.handler("inbound"),
		Outbound: rec.handler("outbound"),
		Agent:    rec.handler("agent"),
	}, st, dialer.NewNotifier(st, nil, ""), hanger, Config{})
}

func event(trigger agi.Trigger, ch agi.Channel) agi.CallEvent {
	return agi.CallEvent{
		Trigger: trigger,
		Session: agi.NewTestSession("agi_channel", "PJSIP/webrtc-0001", "agi_uniqueid", "1700000200.4", "agi_callerid", "web"),
		Channel: ch,
	}
}

func TestRoutesMainTriggers(t *testing.T) {
	rec := &recorded{}
	r := newRouter(memstore.New(), nil, rec)

	for _, tr := range []agi.Trigger{agi.TriggerInbound, agi.TriggerOutboundDialer, agi.TriggerAIAgentCall} {
		if err := r.HandleCall(context.Background(), event(tr, agitest.New())); err != nil {
			t.Fatalf("%s: %v", tr, err)
		}
	}

	want := []string{"inbound", "outbound", "agent"}
	for i, name := range want {
		if rec.names[i] != name {
			t.Errorf("handlers = %v, want %v", rec.names, want)
			break
		}
	}
}

func TestAIAgentEnd(t *testing.T) {
	st := memstore.New()
	st.AddContact(&models.Contact{ID: 7, Status: models.ContactAnswered})
	logID, _ := st.CreateCallLog(context.Background(), &models.CallLog{Disposition: models.DispositionOutboundInProgress})
	r := newRouter(st, nil, &recorded{})

	ch := agitest.New().WithVar(VarCallLogID, "1").WithVar(VarContactID, "7")
	if err := r.HandleCall(context.Background(), event(agi.TriggerAIAgentEnd, ch)); err != nil {
		t.Fatal(err)
	}

	if l, _ := st.CallLog(logID); l.Disposition != models.DispositionAIComplete || l.EndedAt == nil {
		t.Errorf("call log = %+v", l)
	}
	if c, _ := st.Contact(7); c.Status != models.ContactConnected {
		t.Errorf("contact status = %s", c.Status)
	}
}

func TestTestCallEnd(t *testing.T) {
	st := memstore.New()
	logID, _ := st.CreateCallLog(context.Background(), &models.CallLog{Disposition: models.DispositionInProgress})
	r := newRouter(st, nil, &recorded{})

	ch := agitest.New().WithVar(VarCallLogID, "1").WithVar(VarTestDuration, "42")
	if err := r.HandleCall(context.Background(), event(agi.TriggerTestCallEnd, ch)); err != nil {
		t.Fatal(err)
	}

	l, _ := st.CallLog(logID)
	if l.Disposition != models.DispositionCompleted || l.DurationSeconds != 42 {
		t.Errorf("call log = %+v", l)
	}
}

func TestBrowserStart(t *testing.T) {
	st := memstore.New()
	r := newRouter(st, nil, &recorded{})

	ch := agitest.New().WithVar(VarBrowserTarget, "101")
	if err := r.HandleCall(context.Background(), event(agi.TriggerBrowserStart, ch)); err != nil {
		t.Fatal(err)
	}

	want := []string{"GET VARIABLE BROWSER_TARGET", "SET CONTEXT from-internal", "SET EXTENSION 101", "SET PRIORITY 1"}
	if len(ch.Commands) != len(want) {
		t.Fatalf("commands = %v", ch.Commands)
	}
	for i := range want {
		if ch.Commands[i] != want[i] {
			t.Errorf("command %d = %q, want %q", i, ch.Commands[i], want[i])
		}
	}

	logs := st.CallLogs()
	if len(logs) != 1 || logs[0].DialedNumber != "101" || logs[0].Direction != models.DirectionInbound {
		t.Errorf("call logs = %+v", logs)
	}
}

func TestBrowserStartWithoutTarget(t *testing.T) {
	st := memstore.New()
	r := newRouter(st, nil, &recorded{})
	ch := agitest.New()

	r.HandleCall(context.Background(), event(agi.TriggerBrowserStart, ch))

	if !ch.HungUp() || len(st.CallLogs()) != 0 {
		t.Errorf("hung up = %v, logs = %d", ch.HungUp(), len(st.CallLogs()))
	}
}

func TestBrowserHangup(t *testing.T) {
	hanger := &fakeHanger{}
	r := newRouter(memstore.New(), hanger, &recorded{})

	ch := agitest.New().WithVar(VarBrowserPeer, "PJSIP/101-00000009")
	if err := r.HandleCall(context.Background(), event(agi.TriggerBrowserHangup, ch)); err != nil {
		t.Fatal(err)
	}
	if len(hanger.channels) != 1 || hanger.channels[0] != "PJSIP/101-00000009" {
		t.Errorf("hung up = %v", hanger.channels)
	}

	hanger.err = stderrors.New("no such channel")
	if err := r.HandleCall(context.Background(), event(agi.TriggerBrowserHangup, ch)); err == nil {
		t.Error("manager failure not returned")
	}

	unconfigured := newRouter(memstore.New(), nil, &recorded{})
	if err := unconfigured.HandleCall(context.Background(), event(agi.TriggerBrowserHangup, ch)); err != nil {
		t.Errorf("without manager: %v", err)
	}
}
