// Package menu runs the welcome/collect/retry loop of an IVR menu.
package menu

import (
	"context"
	"time"

	"github.com/hamzaKhattat/pbx-call-control/internal/agi"
	"github.com/hamzaKhattat/pbx-call-control/internal/models"
	"github.com/hamzaKhattat/pbx-call-control/pkg/logger"
)

// DefaultTimeout applies to menus without a configured timeout.
const DefaultTimeout = 5 * time.Second

type Outcome int

const (
	// Timeout means no key was pressed on the final attempt.
	Timeout Outcome = iota
	// Invalid means the final attempt's key matched no option.
	Invalid
	// Matched means a key selected an option.
	Matched
)

func (o Outcome) String() string {
	switch o {
	case Timeout:
		return "timeout"
	case Invalid:
		return "invalid"
	case Matched:
		return "matched"
	}
	return "unknown"
}

type Result struct {
	Outcome  Outcome
	Option   *models.IVROption
	Digits   []string
	Attempts int
}

// Run plays the menu up to MaxRetries+1 times. Timeouts and invalid keys are
// outcomes, not errors; an error means the channel itself failed.
func Run(ctx context.Context, ch agi.Channel, m *models.IVRMenu) (Result, error) {
	log := logger.WithContext(ctx).WithField("menu_id", m.ID)

	timeout := time.Duration(m.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	maxRetries := m.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	var res Result
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Attempts = attempt + 1
		last := attempt == maxRetries

		log.Debug("IVR menu attempt", "attempt", attempt+1, "max_retries", maxRetries)

		digit, err := collect(ctx, ch, m.WelcomePrompt, timeout)
		if err != nil {
			return res, err
		}

		if digit == "" {
			if last {
				log.Info("IVR menu max retries exhausted (timeout)")
				res.Outcome = Timeout
				return res, nil
			}
			if err := play(ctx, ch, m.TimeoutPrompt); err != nil {
				return res, err
			}
			continue
		}

		res.Digits = append(res.Digits, digit)
		if opt, ok := m.Option(digit); ok {
			log.Info("IVR menu digit matched", "digit", digit, "action", string(opt.Action))
			res.Outcome = Matched
			res.Option = opt
			return res, nil
		}

		log.Debug("IVR menu invalid digit", "digit", digit, "attempt", attempt+1)
		if last {
			log.Info("IVR menu max retries exhausted (invalid)", "last_digit", digit)
			res.Outcome = Invalid
			return res, nil
		}
		if err := play(ctx, ch, m.InvalidPrompt); err != nil {
			return res, err
		}
	}

	res.Outcome = Timeout
	return res, nil
}

func collect(ctx context.Context, ch agi.Channel, prompt string, timeout time.Duration) (string, error) {
	if prompt == "" {
		return ch.WaitForDigit(ctx, timeout)
	}
	return ch.GetData(ctx, prompt, timeout, 1)
}

// play streams an optional, uninterruptible prompt.
func play(ctx context.Context, ch agi.Channel, prompt string) error {
	if prompt == "" {
		return nil
	}
	_, err := ch.StreamFile(ctx, prompt, "")
	return err
}
