// Package outbound handles answered campaign calls once the switch has run
// answering-machine detection.
package outbound

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/hamzaKhattat/pbx-call-control/internal/agi"
	"github.com/hamzaKhattat/pbx-call-control/internal/dialtarget"
	"github.com/hamzaKhattat/pbx-call-control/internal/ivr"
	"github.com/hamzaKhattat/pbx-call-control/internal/menu"
	"github.com/hamzaKhattat/pbx-call-control/internal/models"
	"github.com/hamzaKhattat/pbx-call-control/internal/store"
	"github.com/hamzaKhattat/pbx-call-control/pkg/errors"
	"github.com/hamzaKhattat/pbx-call-control/pkg/logger"
)

// Channel variables set by the dialer's originate and the dialplan.
const (
	VarCampaignID  = "CAMPAIGN_ID"
	VarContactID   = "CONTACT_ID"
	VarHandlerType = "HANDLER_TYPE"
	VarHandlerID   = "HANDLER_ID"
	VarAMDStatus   = "AMDSTATUS"
	VarAMDCause    = "AMDCAUSE"
	VarDialStatus  = "DIALSTATUS"

	VarAIAgentID   = "AI_AGENT_ID"
	VarAIContactID = "AI_CONTACT_ID"
	VarAIRealtime  = "AI_REALTIME"

	amdMachine = "MACHINE"

	DefaultRelayAddress = "127.0.0.1:9092"

	dialTimeoutDirect = 30
	dialTimeoutTrunk  = 60
)

// Notifier reports contact outcomes to the pacing engine.
type Notifier interface {
	Notify(ctx context.Context, contactID int64, status models.ContactStatus, callLogID int64) error
	NotifyFailed(ctx context.Context, contactID int64, reason string) error
}

type Config struct {
	// RelayAddress is the host:port of the real-time audio relay.
	RelayAddress string
}

type Handler struct {
	store    store.Store
	tracker  *ivr.Tracker
	resolver *dialtarget.Resolver
	notifier Notifier
	cfg      Config
	streamID func() string
}

func NewHandler(st store.Store, tracker *ivr.Tracker, resolver *dialtarget.Resolver, notifier Notifier, cfg Config) *Handler {
	if cfg.RelayAddress == "" {
		cfg.RelayAddress = DefaultRelayAddress
	}
	return &Handler{
		store:    st,
		tracker:  tracker,
		resolver: resolver,
		notifier: notifier,
		cfg:      cfg,
		streamID: uuid.NewString,
	}
}

// outboundCall is the per-call view shared by the handler branches.
type outboundCall struct {
	*ivr.Call
	campaign  *models.Campaign
	contact   *models.Contact
	handlerID string
}

// HandleCall runs one answered outbound call.
func (h *Handler) HandleCall(ctx context.Context, ch agi.Channel, session *agi.Session) error {
	log := logger.WithContext(ctx)

	vars, err := readVars(ctx, ch, VarCampaignID, VarContactID, VarHandlerType, VarHandlerID, VarAMDStatus, VarAMDCause)
	if err != nil {
		ch.Hangup(ctx)
		if agi.IsHangup(err) {
			return nil
		}
		return err
	}

	campaignID, cerr := strconv.ParseInt(vars[VarCampaignID], 10, 64)
	contactID, terr := strconv.ParseInt(vars[VarContactID], 10, 64)
	if cerr != nil || terr != nil {
		log.Warn("Outbound call without campaign or contact, hanging up",
			"campaign_id", vars[VarCampaignID],
			"contact_id", vars[VarContactID])
		ch.Hangup(ctx)
		return nil
	}

	log = log.WithFields(map[string]interface{}{"campaign_id": campaignID, "contact_id": contactID})

	campaign, err := h.store.FindCampaignByID(ctx, campaignID)
	if err != nil {
		log.Error("Failed to load campaign", "error", err)
	}
	contact, err := h.store.FindContactByID(ctx, contactID)
	if err != nil {
		log.Error("Failed to load contact", "error", err)
	}

	if strings.EqualFold(vars[VarAMDStatus], amdMachine) && campaign != nil && campaign.AMDEnabled {
		log.Info("Answering machine detected, hanging up", "amd_cause", vars[VarAMDCause])
		h.notify(ctx, contactID, models.ContactAnsweringMachine, 0)
		ch.Hangup(ctx)
		return nil
	}

	if campaign == nil || contact == nil {
		log.Warn("Campaign or contact not found, hanging up")
		if err := h.notifier.NotifyFailed(ctx, contactID, "campaign or contact not found"); err != nil {
			log.Warn("Failed to notify contact failure", "error", err)
		}
		ch.Hangup(ctx)
		return nil
	}

	call := &outboundCall{
		Call: h.tracker.Begin(ctx, session, models.CallLog{
			Direction:   models.DirectionOutbound,
			Disposition: models.DispositionOutboundInProgress,
			CampaignID:  campaignID,
			ContactID:   contactID,
		}),
		campaign:  campaign,
		contact:   contact,
		handlerID: vars[VarHandlerID],
	}
	defer h.tracker.Finish(ctx, ch, call.Call)

	h.tracker.Record(ctx, ch, call.Call)

	handlerType := models.HandlerType(vars[VarHandlerType])
	if handlerType == "" {
		handlerType = campaign.HandlerType
	}
	if handlerType == "" {
		handlerType = models.HandlerIVR
	}
	log.Info("Handling outbound call", "handler_type", string(handlerType), "amd_status", vars[VarAMDStatus])

	disposition, err := h.dispatch(ctx, ch, call, handlerType)
	switch {
	case err == nil:
		call.Disposition = disposition
		return nil
	case agi.IsHangup(err):
		log.Info("Callee hung up", "reason", string(errors.CodeOf(err)))
		call.Disposition = models.DispositionCallerHangup
		h.notify(ctx, contactID, models.ContactAnswered, call.LogID)
		return nil
	default:
		log.Error("Outbound call failed", "error", err, "code", string(errors.CodeOf(err)))
		call.Disposition = models.DispositionError
		if nerr := h.notifier.NotifyFailed(ctx, contactID, err.Error()); nerr != nil {
			log.Warn("Failed to notify contact failure", "error", nerr)
		}
		return err
	}
}

func (h *Handler) dispatch(ctx context.Context, ch agi.Channel, call *outboundCall, handlerType models.HandlerType) (models.Disposition, error) {
	switch handlerType {
	case models.HandlerAI:
		agentID := call.handlerID
		if agentID == "" {
			agentID = call.campaign.AgentID
		}
		return h.BridgeAI(ctx, ch, call.Call, agentID, call.contact.ID)
	case models.HandlerRingGroup:
		return h.ringGroup(ctx, ch, call)
	case models.HandlerExtensions:
		return h.extensions(ctx, ch, call)
	case models.HandlerIVR:
		return h.runIVR(ctx, ch, call)
	default:
		logger.WithContext(ctx).Warn("Unknown handler type, using IVR", "handler_type", string(handlerType))
		return h.runIVR(ctx, ch, call)
	}
}

// BridgeAI hands the call to the real-time audio relay. The relay owns the
// conversation, so the outcome is complete however the bridge ends.
func (h *Handler) BridgeAI(ctx context.Context, ch agi.Channel, call *ivr.Call, agentID string, contactID int64) (models.Disposition, error) {
	contact := ""
	if contactID > 0 {
		contact = strconv.FormatInt(contactID, 10)
	}

	for _, kv := range [][2]string{
		{VarAIAgentID, agentID},
		{VarAIContactID, contact},
		{VarAIRealtime, "1"},
	} {
		if err := ch.SetVariable(ctx, kv[0], kv[1]); err != nil {
			return "", err
		}
	}

	if contactID > 0 {
		h.notify(ctx, contactID, models.ContactAnswered, call.LogID)
	}

	streamID := h.streamID()
	call.Destination = "ai:" + agentID
	logger.WithContext(ctx).Info("Bridging to AI relay", "agent_id", agentID, "stream_id", streamID)

	_, err := ch.Exec(ctx, "Dial", fmt.Sprintf("AudioSocket/%s/%s", h.cfg.RelayAddress, streamID))
	if err != nil && !agi.IsHangup(err) {
		return "", err
	}

	if contactID > 0 {
		h.notify(ctx, contactID, models.ContactConnected, call.LogID)
	}
	return models.DispositionAIComplete, nil
}

// HandleAgentCall bridges an inbound AI agent line straight to the relay.
// The agent comes from AI_AGENT_ID.
func (h *Handler) HandleAgentCall(ctx context.Context, ch agi.Channel, session *agi.Session) error {
	call := h.tracker.Begin(ctx, session, models.CallLog{
		Direction:   models.DirectionInbound,
		Disposition: models.DispositionInProgress,
	})
	defer h.tracker.Finish(ctx, ch, call)

	err := ch.Answer(ctx)
	var agentID string
	if err == nil {
		agentID, err = ch.GetVariable(ctx, VarAIAgentID)
	}
	if err == nil && strings.TrimSpace(agentID) == "" {
		err = errors.New(errors.ErrConfigGap, "AI agent line without agent id")
	}

	var disposition models.Disposition
	if err == nil {
		h.tracker.Record(ctx, ch, call)
		disposition, err = h.BridgeAI(ctx, ch, call, strings.TrimSpace(agentID), 0)
	}

	switch {
	case err == nil:
		call.Disposition = disposition
		return nil
	case agi.IsHangup(err):
		call.Disposition = models.DispositionCallerHangup
		return nil
	default:
		logger.WithContext(ctx).Error("AI agent call failed", "error", err)
		call.Disposition = models.DispositionError
		return err
	}
}

func (h *Handler) ringGroup(ctx context.Context, ch agi.Channel, call *outboundCall) (models.Disposition, error) {
	id := call.campaign.RingGroupID
	if call.handlerID != "" {
		parsed, err := strconv.ParseInt(call.handlerID, 10, 64)
		if err != nil {
			return "", errors.New(errors.ErrConfigGap, "invalid ring group override").
				WithContext("handler_id", call.handlerID)
		}
		id = parsed
	}

	target, err := h.resolver.RingGroup(ctx, id)
	if err != nil {
		return "", err
	}
	return h.bridgeLead(ctx, ch, call, target, "")
}

func (h *Handler) extensions(ctx context.Context, ch agi.Channel, call *outboundCall) (models.Disposition, error) {
	list := call.campaign.Extensions
	if call.handlerID != "" {
		list = call.handlerID
	}

	numbers := models.SplitList(list)
	if len(numbers) == 0 {
		return h.bridgeLead(ctx, ch, call, dialtarget.Target{}, "")
	}
	target, err := h.resolver.Extensions(ctx, numbers)
	if err != nil {
		return "", err
	}
	return h.bridgeLead(ctx, ch, call, target, "")
}

func (h *Handler) runIVR(ctx context.Context, ch agi.Channel, call *outboundCall) (models.Disposition, error) {
	log := logger.WithContext(ctx)

	menuID := call.campaign.MenuID
	if call.handlerID != "" {
		parsed, err := strconv.ParseInt(call.handlerID, 10, 64)
		if err != nil {
			return "", errors.New(errors.ErrConfigGap, "invalid menu override").
				WithContext("handler_id", call.handlerID)
		}
		menuID = parsed
	}

	m, err := h.store.FindMenuWithOptions(ctx, menuID)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrDatabase, "failed to load campaign menu")
	}
	if m == nil {
		return "", errors.New(errors.ErrConfigGap, "campaign menu not found").WithContext("menu_id", menuID)
	}

	call.MenuID = m.ID
	h.tracker.Update(ctx, call.Call, map[string]interface{}{models.FieldMenuID: m.ID})

	res, err := menu.Run(ctx, ch, m)
	call.Digits = append(call.Digits, res.Digits...)
	if err != nil {
		return "", err
	}

	switch res.Outcome {
	case menu.Timeout:
		h.notify(ctx, call.contact.ID, models.ContactAnswered, call.LogID)
		return models.DispositionNoResponse, nil
	case menu.Invalid:
		h.notify(ctx, call.contact.ID, models.ContactAnswered, call.LogID)
		return models.DispositionInvalidOption, nil
	}

	opt := res.Option
	if !opt.Action.IsTransferClass() {
		log.Info("Non-transfer option selected", "digit", opt.Key, "action", string(opt.Action))
		h.notify(ctx, call.contact.ID, models.ContactAnswered, call.LogID)
		return models.DispositionAnswered, nil
	}

	log.Info("Lead qualified", "digit", opt.Key, "action", string(opt.Action))
	h.notify(ctx, call.contact.ID, models.ContactPress1, call.LogID)

	if opt.PreConnectPrompt != "" {
		if _, err := ch.StreamFile(ctx, opt.PreConnectPrompt, ""); err != nil {
			return "", err
		}
	}

	if opt.Action == models.ActionQueue && opt.Destination != "" {
		call.Destination = "queue:" + opt.Destination
		if _, err := ch.Exec(ctx, "Queue", opt.Destination); err != nil {
			return "", err
		}
		return models.DispositionQueued, nil
	}

	target, err := h.resolveTransfer(ctx, opt, call.campaign)
	if err != nil {
		return "", err
	}
	return h.bridgeLead(ctx, ch, call, target, dialtarget.HoldMusic(call.campaign.HoldMusicClass))
}

// resolveTransfer finds where a qualified lead goes: the option's ring group,
// then its extension, then its trunk fields, then the campaign defaults.
func (h *Handler) resolveTransfer(ctx context.Context, opt *models.IVROption, campaign *models.Campaign) (dialtarget.Target, error) {
	log := logger.WithContext(ctx)

	if opt.Action == models.ActionRingGroup {
		if id, err := strconv.ParseInt(opt.Destination, 10, 64); err == nil {
			target, err := h.resolver.RingGroup(ctx, id)
			if err != nil {
				return dialtarget.Target{}, err
			}
			if !target.Empty() {
				return target, nil
			}
		}
	}

	if opt.Destination != "" && opt.Action != models.ActionRingGroup {
		ext, err := h.store.FindExtensionByNumber(ctx, opt.Destination)
		if err != nil {
			return dialtarget.Target{}, errors.Wrap(err, errors.ErrDatabase, "failed to load extension")
		}
		if ext != nil {
			return h.resolver.Extension(ctx, ext.Number)
		}
	}

	if opt.UsesTrunk() {
		number := opt.TrunkNumber
		if number == "" {
			number = opt.Destination
		}
		target, err := h.resolver.Trunk(ctx, *opt.TrunkID, number)
		switch {
		case err == nil:
			return target, nil
		case errors.Is(err, errors.ErrConfigGap):
			log.Warn("Transfer trunk unavailable, trying campaign defaults", "trunk_id", *opt.TrunkID)
		default:
			return dialtarget.Target{}, err
		}
	}

	if defaults := models.SplitList(campaign.DefaultExtensions); len(defaults) > 0 {
		return h.resolver.Extensions(ctx, defaults)
	}
	return dialtarget.Target{}, nil
}

// bridgeLead dials target and classifies the result from DIALSTATUS.
func (h *Handler) bridgeLead(ctx context.Context, ch agi.Channel, call *outboundCall, target dialtarget.Target, options string) (models.Disposition, error) {
	log := logger.WithContext(ctx)

	if target.Empty() {
		log.Warn("No destination resolved for outbound call")
		h.notify(ctx, call.contact.ID, models.ContactAnswered, call.LogID)
		return models.DispositionNoDestination, nil
	}

	timeout := dialTimeoutDirect
	if target.ViaTrunk {
		timeout = dialTimeoutTrunk
	}

	call.Destination = target.Destination
	log.Info("Bridging outbound call", "dial", target.Dial, "timeout", timeout, "options", options)

	if _, err := ch.Exec(ctx, "Dial", dialtarget.DialArgs(target, timeout, options)...); err != nil {
		return "", err
	}

	status, err := ch.GetVariable(ctx, VarDialStatus)
	if err != nil {
		return "", err
	}

	disposition := models.DialDisposition(status)
	if disposition == models.DispositionConnected {
		h.notify(ctx, call.contact.ID, models.ContactConnected, call.LogID)
	} else {
		h.notify(ctx, call.contact.ID, models.ContactAnswered, call.LogID)
	}
	return disposition, nil
}

// notify reports a status, logging failures.
func (h *Handler) notify(ctx context.Context, contactID int64, status models.ContactStatus, callLogID int64) {
	if err := h.notifier.Notify(ctx, contactID, status, callLogID); err != nil {
		logger.WithContext(ctx).Warn("Failed to notify contact status",
			"contact_id", contactID,
			"status", string(status),
			"error", err)
	}
}

func readVars(ctx context.Context, ch agi.Channel, names ...string) (map[string]string, error) {
	out := make(map[string]string, len(names))
	for _, name := range names {
		v, err := ch.GetVariable(ctx, name)
		if err != nil {
			return nil, err
		}
		out[name] = strings.TrimSpace(v)
	}
	return out, nil
}
