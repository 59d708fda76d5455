package agi

import "testing"

func TestClassify(t *testing.T) {
	tests := []struct {
		request string
		want    Trigger
		known   bool
	}{
		{"agi://127.0.0.1:4573/incoming", TriggerInbound, true},
		{"agi://127.0.0.1/inbound", TriggerInbound, true},
		{"agi://pbx/ivr", TriggerInbound, true},
		{"agi://pbx/ai-agent-end", TriggerAIAgentEnd, true},
		{"agi://pbx/test-call-end", TriggerTestCallEnd, true},
		{"agi://pbx/browser-start", TriggerBrowserStart, true},
		{"agi://pbx/browser-hangup", TriggerBrowserHangup, true},
		{"agi://pbx/outbound", TriggerOutboundDialer, true},
		{"agi://pbx/hooks/ai-agent-call?lang=en", TriggerAIAgentCall, true},
		{"outbound", TriggerOutboundDialer, true},
		{"agi://pbx/OUTBOUND/", TriggerOutboundDialer, true},
		{"agi://pbx/something-else", TriggerInbound, false},
		{"", TriggerInbound, false},
	}

	for _, tt := range tests {
		got, known := Classify(tt.request)
		if got != tt.want || known != tt.known {
			t.Errorf("Classify(%q) = %v, %v; want %v, %v", tt.request, got, known, tt.want, tt.known)
		}
	}
}

func TestTriggerString(t *testing.T) {
	if TriggerOutboundDialer.String() != "outbound" {
		t.Errorf("String() = %q", TriggerOutboundDialer.String())
	}
	if Trigger(99).String() != "unknown" {
		t.Errorf("String() = %q", Trigger(99).String())
	}
}
