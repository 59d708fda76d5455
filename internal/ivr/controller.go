// Package ivr drives inbound calls through routing rules and IVR menus.
package ivr

import (
	"context"
	"strconv"

	"github.com/hamzaKhattat/pbx-call-control/internal/agi"
	"github.com/hamzaKhattat/pbx-call-control/internal/dialtarget"
	"github.com/hamzaKhattat/pbx-call-control/internal/menu"
	"github.com/hamzaKhattat/pbx-call-control/internal/models"
	"github.com/hamzaKhattat/pbx-call-control/internal/store"
	"github.com/hamzaKhattat/pbx-call-control/pkg/errors"
	"github.com/hamzaKhattat/pbx-call-control/pkg/logger"
)

const (
	// MaxMenuDepth bounds submenu nesting.
	MaxMenuDepth = 16

	varTestMenuID = "IVR_TEST_MENU_ID"

	ruleDefault  = "default"
	ruleWildcard = "*"

	dialTimeoutDirect = 30
	dialTimeoutTrunk  = 60
)

type Prompts struct {
	Closed  string
	Error   string
	Goodbye string
}

func (p Prompts) withDefaults() Prompts {
	if p.Closed == "" {
		p.Closed = "ivr/campaign-closed"
	}
	if p.Error == "" {
		p.Error = "ivr/technical-difficulties"
	}
	if p.Goodbye == "" {
		p.Goodbye = "vm-goodbye"
	}
	return p
}

type Config struct {
	Prompts Prompts
}

type Controller struct {
	store    store.Store
	tracker  *Tracker
	resolver *dialtarget.Resolver
	cfg      Config
}

func NewController(st store.Store, tracker *Tracker, resolver *dialtarget.Resolver, cfg Config) *Controller {
	cfg.Prompts = cfg.Prompts.withDefaults()
	return &Controller{
		store:    st,
		tracker:  tracker,
		resolver: resolver,
		cfg:      cfg,
	}
}

// HandleCall runs one inbound call to completion. Caller hangups are a normal
// outcome; other failures are recorded as ERROR and returned.
func (c *Controller) HandleCall(ctx context.Context, ch agi.Channel, session *agi.Session) error {
	log := logger.WithContext(ctx)

	call := c.tracker.Begin(ctx, session, models.CallLog{
		Direction:   models.DirectionInbound,
		Disposition: models.DispositionInProgress,
	})
	defer c.tracker.Finish(ctx, ch, call)

	disposition, err := c.run(ctx, ch, call)
	switch {
	case err == nil:
		call.Disposition = disposition
		return nil
	case agi.IsHangup(err):
		log.Info("Caller hung up", "reason", string(errors.CodeOf(err)))
		call.Disposition = models.DispositionCallerHangup
		return nil
	default:
		log.Error("Inbound call failed", "error", err, "code", string(errors.CodeOf(err)))
		call.Disposition = models.DispositionError
		c.playQuiet(ctx, ch, c.cfg.Prompts.Error)
		return err
	}
}

func (c *Controller) run(ctx context.Context, ch agi.Channel, call *Call) (models.Disposition, error) {
	log := logger.WithContext(ctx)

	if err := ch.Answer(ctx); err != nil {
		return "", err
	}

	c.tracker.Record(ctx, ch, call)

	testMenu, err := ch.GetVariable(ctx, varTestMenuID)
	if err != nil {
		return "", err
	}
	if testMenu != "" {
		id, err := strconv.ParseInt(testMenu, 10, 64)
		if err != nil {
			return "", errors.New(errors.ErrConfigGap, "invalid test menu id").
				WithContext("value", testMenu)
		}
		log.Info("Running test menu", "menu_id", id)
		return c.runMenu(ctx, ch, call, id, 0)
	}

	active, err := c.store.IsCampaignActive(ctx)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrDatabase, "failed to read campaign state")
	}
	if !active {
		log.Info("Campaign closed, rejecting call")
		c.playQuiet(ctx, ch, c.cfg.Prompts.Closed)
		return models.DispositionCampaignClosed, nil
	}

	rule, err := c.resolveRule(ctx, call.DialedNumber)
	if err != nil {
		return "", err
	}
	if rule == nil {
		log.Warn("No routing rule for call", "dialed", call.DialedNumber)
		c.playQuiet(ctx, ch, c.cfg.Prompts.Error)
		return models.DispositionNoRouting, nil
	}

	log.Info("Routing call",
		"rule_id", rule.ID,
		"target_type", string(rule.TargetType),
		"target_id", rule.TargetID)

	switch rule.TargetType {
	case models.TargetIVRMenu:
		id, err := strconv.ParseInt(rule.TargetID, 10, 64)
		if err != nil {
			return "", errors.New(errors.ErrConfigGap, "invalid menu id on routing rule").
				WithContext("rule_id", rule.ID)
		}
		return c.runMenu(ctx, ch, call, id, 0)
	case models.TargetExtension:
		return c.transferExtension(ctx, ch, call, rule.TargetID)
	case models.TargetQueue:
		return c.queue(ctx, ch, call, rule.TargetID)
	case models.TargetRingGroup:
		return c.ringGroup(ctx, ch, call, rule.TargetID)
	default:
		log.Warn("Unknown routing target type", "target_type", string(rule.TargetType))
		c.playQuiet(ctx, ch, c.cfg.Prompts.Error)
		return models.DispositionNoRouting, nil
	}
}

// resolveRule tries the dialed number, "default", "*", then the first menu.
func (c *Controller) resolveRule(ctx context.Context, dialed string) (*models.RoutingRule, error) {
	for _, key := range []string{dialed, ruleDefault, ruleWildcard} {
		if key == "" {
			continue
		}
		rule, err := c.store.FindEnabledRule(ctx, key)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrDatabase, "failed to load routing rule")
		}
		if rule != nil {
			return rule, nil
		}
	}

	menus, err := c.store.FindAllMenus(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrDatabase, "failed to load menus")
	}
	if len(menus) == 0 {
		return nil, nil
	}

	logger.WithContext(ctx).Warn("No routing rule matched, using first menu", "menu_id", menus[0].ID)
	return &models.RoutingRule{
		DialedNumber: dialed,
		TargetType:   models.TargetIVRMenu,
		TargetID:     strconv.FormatInt(menus[0].ID, 10),
		Enabled:      true,
	}, nil
}

func (c *Controller) runMenu(ctx context.Context, ch agi.Channel, call *Call, menuID int64, depth int) (models.Disposition, error) {
	log := logger.WithContext(ctx).WithField("menu_id", menuID)

	if depth > MaxMenuDepth {
		log.Warn("Submenu nesting too deep, hanging up", "depth", depth)
		return models.DispositionCompleted, nil
	}

	m, err := c.store.FindMenuWithOptions(ctx, menuID)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrDatabase, "failed to load menu")
	}
	if m == nil {
		return "", errors.New(errors.ErrConfigGap, "menu not found").WithContext("menu_id", menuID)
	}

	call.MenuID = m.ID
	c.tracker.Update(ctx, call, map[string]interface{}{models.FieldMenuID: m.ID})

	res, err := menu.Run(ctx, ch, m)
	call.Digits = append(call.Digits, res.Digits...)
	if err != nil {
		return "", err
	}

	switch res.Outcome {
	case menu.Timeout:
		c.playQuiet(ctx, ch, c.cfg.Prompts.Goodbye)
		return models.DispositionTimeout, nil
	case menu.Invalid:
		c.playQuiet(ctx, ch, c.cfg.Prompts.Goodbye)
		return models.DispositionMaxInvalid, nil
	}

	opt := res.Option
	if opt.PreConnectPrompt != "" {
		if _, err := ch.StreamFile(ctx, opt.PreConnectPrompt, ""); err != nil {
			return "", err
		}
	}

	disposition, err := c.execute(ctx, ch, call, opt, depth)
	if err != nil {
		return "", err
	}

	if opt.Action == models.ActionSubmenu && opt.PostCallPrompt != "" {
		c.playQuiet(ctx, ch, opt.PostCallPrompt)
	}
	return disposition, nil
}

func (c *Controller) execute(ctx context.Context, ch agi.Channel, call *Call, opt *models.IVROption, depth int) (models.Disposition, error) {
	log := logger.WithContext(ctx)

	switch opt.Action {
	case models.ActionTransfer:
		if opt.UsesTrunk() {
			number := opt.TrunkNumber
			if number == "" {
				number = opt.Destination
			}
			target, err := c.resolver.Trunk(ctx, *opt.TrunkID, number)
			if errors.Is(err, errors.ErrConfigGap) {
				log.Warn("Transfer trunk unavailable", "trunk_id", *opt.TrunkID)
				c.playQuiet(ctx, ch, c.cfg.Prompts.Error)
				return models.DispositionTrunkUnavailable, nil
			}
			if err != nil {
				return "", err
			}
			return c.dial(ctx, ch, call, target)
		}
		return c.transferExtension(ctx, ch, call, opt.Destination)

	case models.ActionExtension:
		return c.transferExtension(ctx, ch, call, opt.Destination)

	case models.ActionExternal:
		return c.dial(ctx, ch, call, c.resolver.External(opt.Destination))

	case models.ActionSubmenu:
		id, err := strconv.ParseInt(opt.Destination, 10, 64)
		if err != nil {
			return "", errors.New(errors.ErrConfigGap, "invalid submenu id").
				WithContext("destination", opt.Destination)
		}
		return c.runMenu(ctx, ch, call, id, depth+1)

	case models.ActionVoicemail:
		call.Destination = "vm:" + opt.Destination
		if _, err := ch.Exec(ctx, "VoiceMail", opt.Destination+"@default", "u"); err != nil {
			return "", err
		}
		return models.DispositionVoicemail, nil

	case models.ActionQueue:
		return c.queue(ctx, ch, call, opt.Destination)

	case models.ActionRingGroup:
		return c.ringGroup(ctx, ch, call, opt.Destination)

	case models.ActionHangup:
		c.playQuiet(ctx, ch, c.cfg.Prompts.Goodbye)
		return models.DispositionCompleted, nil

	default:
		log.Warn("Unknown IVR action, hanging up", "action", string(opt.Action))
		return models.DispositionCompleted, nil
	}
}

func (c *Controller) transferExtension(ctx context.Context, ch agi.Channel, call *Call, number string) (models.Disposition, error) {
	target, err := c.resolver.Extension(ctx, number)
	if err != nil {
		return "", err
	}
	return c.dial(ctx, ch, call, target)
}

func (c *Controller) ringGroup(ctx context.Context, ch agi.Channel, call *Call, groupID string) (models.Disposition, error) {
	id, err := strconv.ParseInt(groupID, 10, 64)
	if err != nil {
		return "", errors.New(errors.ErrConfigGap, "invalid ring group id").WithContext("ring_group_id", groupID)
	}
	target, err := c.resolver.RingGroup(ctx, id)
	if err != nil {
		return "", err
	}
	if target.Empty() {
		return "", errors.New(errors.ErrConfigGap, "ring group has no members").WithContext("ring_group_id", id)
	}
	return c.dial(ctx, ch, call, target)
}

func (c *Controller) queue(ctx context.Context, ch agi.Channel, call *Call, name string) (models.Disposition, error) {
	call.Destination = "queue:" + name
	logger.WithContext(ctx).Info("Queueing call", "queue", name)
	if _, err := ch.Exec(ctx, "Queue", name); err != nil {
		return "", err
	}
	return models.DispositionQueued, nil
}

func (c *Controller) dial(ctx context.Context, ch agi.Channel, call *Call, target dialtarget.Target) (models.Disposition, error) {
	call.Destination = target.Destination
	logger.WithContext(ctx).Info("Transferring call", "dial", target.Dial, "destination", target.Destination)

	if _, err := ch.Exec(ctx, "Dial", dialtarget.DialArgs(target, DialTimeout(target), "")...); err != nil {
		return "", err
	}
	return models.DispositionTransferred, nil
}

// DialTimeout is the ring time for target in seconds.
func DialTimeout(target dialtarget.Target) int {
	if target.RingSeconds > 0 {
		return target.RingSeconds
	}
	if target.ViaTrunk {
		return dialTimeoutTrunk
	}
	return dialTimeoutDirect
}

// playQuiet plays a fallback prompt, ignoring failures.
func (c *Controller) playQuiet(ctx context.Context, ch agi.Channel, prompt string) {
	if prompt == "" || !ch.Alive() {
		return
	}
	if _, err := ch.StreamFile(ctx, prompt, ""); err != nil {
		logger.WithContext(ctx).Debug("Fallback prompt failed", "prompt", prompt, "error", err)
	}
}
