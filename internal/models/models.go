package models

import (
	"strings"
	"time"
)

// Routing target types
type TargetType string

const (
	TargetIVRMenu   TargetType = "ivr_menu"
	TargetExtension TargetType = "extension"
	TargetQueue     TargetType = "queue"
	TargetRingGroup TargetType = "ring_group"
)

// IVR option actions
type Action string

const (
	ActionTransfer  Action = "transfer"
	ActionSubmenu   Action = "submenu"
	ActionHangup    Action = "hangup"
	ActionVoicemail Action = "voicemail"
	ActionQueue     Action = "queue"
	ActionExternal  Action = "external"
	ActionRingGroup Action = "ring_group"
	ActionExtension Action = "extension"
)

// IsTransferClass reports whether an outbound lead pressing this option
// should be handed to a human.
func (a Action) IsTransferClass() bool {
	switch a {
	case ActionTransfer, ActionQueue, ActionExtension, ActionRingGroup:
		return true
	}
	return false
}

// Campaign handler types
type HandlerType string

const (
	HandlerAI         HandlerType = "ai"
	HandlerRingGroup  HandlerType = "ring_group"
	HandlerExtensions HandlerType = "extensions"
	HandlerIVR        HandlerType = "ivr"
)

// Contact lifecycle
type ContactStatus string

const (
	ContactPending          ContactStatus = "pending"
	ContactDialing          ContactStatus = "dialing"
	ContactAnswered         ContactStatus = "answered"
	ContactNoAnswer         ContactStatus = "no_answer"
	ContactBusy             ContactStatus = "busy"
	ContactPress1           ContactStatus = "press1"
	ContactConnected        ContactStatus = "connected"
	ContactAnsweringMachine ContactStatus = "answering_machine"
	ContactFailed           ContactStatus = "failed"
	ContactDNC              ContactStatus = "dnc"
)

// Call directions
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Disposition is the outcome code stored on a call log.
type Disposition string

const (
	DispositionInProgress         Disposition = "IN_PROGRESS"
	DispositionCompleted          Disposition = "COMPLETED"
	DispositionTransferred        Disposition = "TRANSFERRED"
	DispositionQueued             Disposition = "QUEUED"
	DispositionVoicemail          Disposition = "VOICEMAIL"
	DispositionTimeout            Disposition = "TIMEOUT"
	DispositionMaxInvalid         Disposition = "MAX_INVALID"
	DispositionNoRouting          Disposition = "NO_ROUTING"
	DispositionCampaignClosed     Disposition = "CAMPAIGN_CLOSED"
	DispositionCallerHangup       Disposition = "CALLER_HANGUP"
	DispositionError              Disposition = "ERROR"
	DispositionTrunkUnavailable   Disposition = "TRUNK_UNAVAILABLE"
	DispositionOutboundInProgress Disposition = "OUTBOUND_IN_PROGRESS"
	DispositionAIComplete         Disposition = "AI_CONVERSATION_COMPLETE"
	DispositionConnected          Disposition = "CONNECTED"
	DispositionNoResponse         Disposition = "NO_RESPONSE"
	DispositionInvalidOption      Disposition = "INVALID_OPTION"
	DispositionNoDestination      Disposition = "NO_DESTINATION"
	DispositionAnswered           Disposition = "ANSWERED"
)

// DialDisposition classifies a Dial outcome (the DIALSTATUS variable).
func DialDisposition(dialStatus string) Disposition {
	status := strings.ToUpper(strings.TrimSpace(dialStatus))
	if status == "ANSWER" {
		return DispositionConnected
	}
	if status == "" {
		status = "UNKNOWN"
	}
	return Disposition("DIAL_" + status)
}

// RoutingRule maps a dialed number to a call target.
type RoutingRule struct {
	ID           int64      `json:"id" db:"id"`
	DialedNumber string     `json:"dialed_number" db:"dialed_number"`
	TargetType   TargetType `json:"target_type" db:"target_type"`
	TargetID     string     `json:"target_id" db:"target_id"`
	Enabled      bool       `json:"enabled" db:"enabled"`
}

type IVRMenu struct {
	ID             int64       `json:"id" db:"id"`
	Name           string      `json:"name" db:"name"`
	WelcomePrompt  string      `json:"welcome_prompt" db:"welcome_prompt"`
	InvalidPrompt  string      `json:"invalid_prompt" db:"invalid_prompt"`
	TimeoutPrompt  string      `json:"timeout_prompt" db:"timeout_prompt"`
	TimeoutSeconds int         `json:"timeout_seconds" db:"timeout_seconds"`
	MaxRetries     int         `json:"max_retries" db:"max_retries"`
	Options        []IVROption `json:"options"`
}

// Option returns the option bound to key, if any.
func (m *IVRMenu) Option(key string) (*IVROption, bool) {
	for i := range m.Options {
		if m.Options[i].Key == key {
			return &m.Options[i], true
		}
	}
	return nil, false
}

type IVROption struct {
	ID               int64  `json:"id" db:"id"`
	MenuID           int64  `json:"menu_id" db:"menu_id"`
	Key              string `json:"key" db:"key_press"`
	Action           Action `json:"action" db:"action"`
	Destination      string `json:"destination" db:"destination"`
	TrunkID          *int64 `json:"trunk_id,omitempty" db:"trunk_id"`
	TrunkNumber      string `json:"trunk_number,omitempty" db:"trunk_number"`
	PreConnectPrompt string `json:"pre_connect_prompt,omitempty" db:"pre_connect_prompt"`
	PostCallPrompt   string `json:"post_call_prompt,omitempty" db:"post_call_prompt"`
}

// UsesTrunk reports whether the option asks for a trunk-mediated transfer.
func (o *IVROption) UsesTrunk() bool {
	return o.TrunkID != nil && *o.TrunkID > 0
}

type Trunk struct {
	ID      int64  `json:"id" db:"id"`
	Name    string `json:"name" db:"name"`
	Host    string `json:"host" db:"host"`
	Enabled bool   `json:"enabled" db:"enabled"`
}

type Extension struct {
	ID            int64  `json:"id" db:"id"`
	Number        string `json:"number" db:"number"`
	Name          string `json:"name" db:"name"`
	ForwardNumber string `json:"forward_number,omitempty" db:"forward_number"`
}

type RingGroup struct {
	ID          int64    `json:"id" db:"id"`
	Name        string   `json:"name" db:"name"`
	Members     []string `json:"members" db:"members"`
	RingSeconds int      `json:"ring_seconds" db:"ring_seconds"`
}

type Campaign struct {
	ID                int64       `json:"id" db:"id"`
	Name              string      `json:"name" db:"name"`
	HandlerType       HandlerType `json:"handler_type" db:"handler_type"`
	AgentID           string      `json:"agent_id,omitempty" db:"agent_id"`
	RingGroupID       int64       `json:"ring_group_id,omitempty" db:"ring_group_id"`
	Extensions        string      `json:"extensions,omitempty" db:"extensions"`
	MenuID            int64       `json:"menu_id,omitempty" db:"menu_id"`
	DefaultExtensions string      `json:"default_extensions,omitempty" db:"default_extensions"`
	HoldMusicClass    string      `json:"hold_music_class,omitempty" db:"hold_music_class"`
	AMDEnabled        bool        `json:"amd_enabled" db:"amd_enabled"`
}

type Contact struct {
	ID         int64         `json:"id" db:"id"`
	CampaignID int64         `json:"campaign_id" db:"campaign_id"`
	Phone      string        `json:"phone" db:"phone"`
	Status     ContactStatus `json:"status" db:"status"`
	CallLogID  *int64        `json:"call_log_id,omitempty" db:"call_log_id"`
	UpdatedAt  time.Time     `json:"updated_at" db:"updated_at"`
}

type CallLog struct {
	ID              int64       `json:"id" db:"id"`
	CallID          string      `json:"call_id" db:"call_id"`
	Direction       Direction   `json:"direction" db:"direction"`
	Channel         string      `json:"channel" db:"channel"`
	CallerNumber    string      `json:"caller_number" db:"caller_number"`
	CallerName      string      `json:"caller_name" db:"caller_name"`
	DialedNumber    string      `json:"dialed_number" db:"dialed_number"`
	CampaignID      int64       `json:"campaign_id,omitempty" db:"campaign_id"`
	ContactID       int64       `json:"contact_id,omitempty" db:"contact_id"`
	MenuID          int64       `json:"menu_id,omitempty" db:"menu_id"`
	Disposition     Disposition `json:"disposition" db:"disposition"`
	Destination     string      `json:"destination,omitempty" db:"destination"`
	PressedDigits   string      `json:"pressed_digits,omitempty" db:"pressed_digits"`
	DurationSeconds int         `json:"duration_seconds" db:"duration_seconds"`
	StartedAt       time.Time   `json:"started_at" db:"started_at"`
	EndedAt         *time.Time  `json:"ended_at,omitempty" db:"ended_at"`
}

// Call log columns accepted by partial updates
const (
	FieldDisposition   = "disposition"
	FieldDestination   = "destination"
	FieldPressedDigits = "pressed_digits"
	FieldDuration      = "duration_seconds"
	FieldMenuID        = "menu_id"
	FieldEndedAt       = "ended_at"
)

type Recording struct {
	ID              int64     `json:"id" db:"id"`
	CallLogID       int64     `json:"call_log_id" db:"call_log_id"`
	FilePath        string    `json:"file_path" db:"file_path"`
	DurationSeconds int       `json:"duration_seconds" db:"duration_seconds"`
	FileSize        int64     `json:"file_size" db:"file_size"`
	Completed       bool      `json:"completed" db:"completed"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// SplitList splits a comma separated list, dropping blanks.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
