package menu

import (
	"context"
	"testing"

	"github.com/hamzaKhattat/pbx-call-control/internal/agi/agitest"
	"github.com/hamzaKhattat/pbx-call-control/internal/models"
	"github.com/hamzaKhattat/pbx-call-control/pkg/errors"
)

func testMenu(maxRetries int) *models.IVRMenu {
	return &models.IVRMenu{
		ID:             1,
		WelcomePrompt:  "welcome",
		InvalidPrompt:  "invalid",
		TimeoutPrompt:  "timeout",
		TimeoutSeconds: 3,
		MaxRetries:     maxRetries,
		Options: []models.IVROption{
			{Key: "1", Action: models.ActionExtension, Destination: "101"},
		},
	}
}

func TestRunTimeoutBoundedByRetries(t *testing.T) {
	ch := agitest.New()

	res, err := Run(context.Background(), ch, testMenu(2))
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != Timeout {
		t.Errorf("Outcome = %v, want timeout", res.Outcome)
	}
	if res.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", res.Attempts)
	}
	if n := ch.Count("GET DATA welcome"); n != 3 {
		t.Errorf("welcome played %d times, want 3", n)
	}
	if n := ch.Count("STREAM FILE timeout"); n != 2 {
		t.Errorf("timeout prompt played %d times, want 2", n)
	}
}

func TestRunMaxInvalid(t *testing.T) {
	ch := agitest.New().Press("9", "8")

	res, err := Run(context.Background(), ch, testMenu(1))
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != Invalid {
		t.Errorf("Outcome = %v, want invalid", res.Outcome)
	}
	if res.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", res.Attempts)
	}
	if n := ch.Count("STREAM FILE invalid"); n != 1 {
		t.Errorf("invalid prompt played %d times, want 1", n)
	}
}

func TestRunMatchedKeepsDigitHistory(t *testing.T) {
	ch := agitest.New().Press("7", "", "1")

	res, err := Run(context.Background(), ch, testMenu(3))
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != Matched || res.Option == nil || res.Option.Destination != "101" {
		t.Fatalf("result = %+v", res)
	}
	if len(res.Digits) != 2 || res.Digits[0] != "7" || res.Digits[1] != "1" {
		t.Errorf("Digits = %v, want [7 1]", res.Digits)
	}
	if res.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", res.Attempts)
	}
}

func TestRunWithoutWelcomeWaitsForDigit(t *testing.T) {
	m := testMenu(0)
	m.WelcomePrompt = ""
	ch := agitest.New().Press("1")

	res, err := Run(context.Background(), ch, m)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != Matched {
		t.Errorf("Outcome = %v", res.Outcome)
	}
	if ch.Last("WAIT FOR DIGIT") != "WAIT FOR DIGIT 3000" {
		t.Errorf("commands = %v", ch.Commands)
	}
}

func TestRunPropagatesChannelFailure(t *testing.T) {
	ch := agitest.New().Drop()

	_, err := Run(context.Background(), ch, testMenu(2))
	if !errors.Is(err, errors.ErrSocketClosed) {
		t.Errorf("err = %v, want socket closed", err)
	}
}
