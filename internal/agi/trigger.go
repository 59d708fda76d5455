package agi

import (
	"net/url"
	"strings"
)

// Trigger identifies which dialplan hook delegated the call.
type Trigger int

const (
	TriggerInbound Trigger = iota
	TriggerAIAgentEnd
	TriggerTestCallEnd
	TriggerBrowserStart
	TriggerBrowserHangup
	TriggerOutboundDialer
	TriggerAIAgentCall
)

var triggerNames = map[Trigger]string{
	TriggerInbound:        "inbound",
	TriggerAIAgentEnd:     "ai-agent-end",
	TriggerTestCallEnd:    "test-call-end",
	TriggerBrowserStart:   "browser-start",
	TriggerBrowserHangup:  "browser-hangup",
	TriggerOutboundDialer: "outbound",
	TriggerAIAgentCall:    "ai-agent-call",
}

var triggerPaths = map[string]Trigger{
	"incoming":       TriggerInbound,
	"inbound":        TriggerInbound,
	"ivr":            TriggerInbound,
	"ai-agent-end":   TriggerAIAgentEnd,
	"test-call-end":  TriggerTestCallEnd,
	"browser-start":  TriggerBrowserStart,
	"browser-hangup": TriggerBrowserHangup,
	"outbound":       TriggerOutboundDialer,
	"ai-agent-call":  TriggerAIAgentCall,
}

func (t Trigger) String() string {
	if name, ok := triggerNames[t]; ok {
		return name
	}
	return "unknown"
}

// Classify maps an agi_request value such as "agi://10.0.0.5:4573/outbound"
// to its trigger. The bool is false when the path was not recognised and the
// call defaulted to inbound.
func Classify(request string) (Trigger, bool) {
	path := request
	if u, err := url.Parse(request); err == nil && u.Scheme != "" {
		path = u.Path
	}
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}

	path = strings.Trim(path, "/")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		path = path[i+1:]
	}

	t, ok := triggerPaths[strings.ToLower(path)]
	if !ok {
		return TriggerInbound, false
	}
	return t, true
}

// CallEvent is what the server hands to the call handler once the handshake
// has completed.
type CallEvent struct {
	Trigger Trigger
	Session *Session
	Channel Channel
}
