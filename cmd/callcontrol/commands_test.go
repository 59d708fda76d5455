package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hamzaKhattat/pbx-call-control/internal/health"
	"github.com/hamzaKhattat/pbx-call-control/internal/ivr"
	"github.com/hamzaKhattat/pbx-call-control/internal/models"
)

func TestFetchActiveCalls(t *testing.T) {
	registry := ivr.NewRegistry()
	registry.Add(ivr.Entry{
		CallID:       "1700000000.42",
		Direction:    models.DirectionInbound,
		Channel:      "PJSIP/trunk-00000001",
		DialedNumber: "5551000",
		StartedAt:    time.Now().Add(-90 * time.Second),
	})

	srv := httptest.NewServer(health.NewHealthService(0, registry).Handler())
	defer srv.Close()

	calls, err := fetchActiveCalls(context.Background(), srv.URL+"/")
	if err != nil {
		t.Fatal(err)
	}
	if len(calls) != 1 || calls[0].CallID != "1700000000.42" {
		t.Fatalf("calls = %+v", calls)
	}
	if calls[0].ElapsedSeconds < 89 {
		t.Errorf("elapsed = %d", calls[0].ElapsedSeconds)
	}
}

func TestFetchActiveCallsBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	if _, err := fetchActiveCalls(context.Background(), srv.URL); err == nil {
		t.Fatal("expected error for 404")
	}
}

func TestFormatDuration(t *testing.T) {
	if got := formatDuration(125 * time.Second); got != "02:05" {
		t.Errorf("formatDuration = %q", got)
	}
}
