package dialtarget

import (
	"context"
	"strings"
	"testing"

	"github.com/hamzaKhattat/pbx-call-control/internal/models"
	"github.com/hamzaKhattat/pbx-call-control/internal/store/memstore"
	"github.com/hamzaKhattat/pbx-call-control/pkg/errors"
)

func TestSanitize(t *testing.T) {
	tests := map[string]string{
		"Provider A":      "provider_a",
		"  Big--Carrier ": "big_carrier",
		"voip.ms #2":      "voip_ms_2",
		"plain":           "plain",
	}
	for in, want := range tests {
		if got := Sanitize(in); got != want {
			t.Errorf("Sanitize(%q) = %q, want %q", in, got, want)
		}
	}
}

func newDirectory() *memstore.Store {
	s := memstore.New()
	s.AddTrunk(&models.Trunk{ID: 1, Name: "Provider A", Enabled: true})
	s.AddTrunk(&models.Trunk{ID: 2, Name: "Backup", Enabled: false})
	s.AddExtension(&models.Extension{Number: "101", ForwardNumber: "9995551111"})
	s.AddExtension(&models.Extension{Number: "102"})
	s.AddRingGroup(&models.RingGroup{ID: 5, Members: []string{"101", "102"}, RingSeconds: 25})
	return s
}

func TestExtensionForwardedThroughTrunk(t *testing.T) {
	r := NewResolver(newDirectory(), "")

	got, err := r.Extension(context.Background(), "101")
	if err != nil {
		t.Fatal(err)
	}
	if got.Dial != "PJSIP/9995551111@provider_a" {
		t.Errorf("Dial = %q", got.Dial)
	}
	if !got.ViaTrunk {
		t.Error("ViaTrunk = false")
	}
	if got.Destination != "ext:101" {
		t.Errorf("Destination = %q", got.Destination)
	}
}

func TestExtensionDirect(t *testing.T) {
	r := NewResolver(newDirectory(), "")

	got, err := r.Extension(context.Background(), "102")
	if err != nil {
		t.Fatal(err)
	}
	if got.Dial != "PJSIP/102" || got.ViaTrunk {
		t.Errorf("target = %+v", got)
	}
}

func TestForwardingWithoutEnabledTrunkDialsDirect(t *testing.T) {
	s := memstore.New()
	s.AddExtension(&models.Extension{Number: "101", ForwardNumber: "9995551111"})
	r := NewResolver(s, "")

	got, err := r.Extension(context.Background(), "101")
	if err != nil {
		t.Fatal(err)
	}
	if got.Dial != "PJSIP/101" {
		t.Errorf("Dial = %q", got.Dial)
	}
}

func TestRingGroupParallelDial(t *testing.T) {
	r := NewResolver(newDirectory(), "")

	got, err := r.RingGroup(context.Background(), 5)
	if err != nil {
		t.Fatal(err)
	}
	if got.Dial != "PJSIP/9995551111@provider_a&PJSIP/102" {
		t.Errorf("Dial = %q", got.Dial)
	}
	if got.Destination != "ring_group:5" || got.RingSeconds != 25 {
		t.Errorf("target = %+v", got)
	}
}

func TestRingGroupMissing(t *testing.T) {
	r := NewResolver(newDirectory(), "")

	got, err := r.RingGroup(context.Background(), 99)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Empty() {
		t.Errorf("target = %+v, want empty", got)
	}
}

func TestTrunk(t *testing.T) {
	r := NewResolver(newDirectory(), "")

	got, err := r.Trunk(context.Background(), 1, "18005550100")
	if err != nil {
		t.Fatal(err)
	}
	if got.Dial != "PJSIP/18005550100@provider_a" || got.Destination != "trunk:provider_a:18005550100" {
		t.Errorf("target = %+v", got)
	}

	if _, err := r.Trunk(context.Background(), 2, "1"); !errors.Is(err, errors.ErrConfigGap) {
		t.Errorf("disabled trunk err = %v", err)
	}
	if _, err := r.Trunk(context.Background(), 42, "1"); !errors.Is(err, errors.ErrConfigGap) {
		t.Errorf("missing trunk err = %v", err)
	}
}

func TestExternalAndArgs(t *testing.T) {
	r := NewResolver(newDirectory(), "carriers")

	got := r.External("5550000")
	if got.Dial != "Local/5550000@carriers" || got.Destination != "external:5550000" {
		t.Errorf("target = %+v", got)
	}

	args := DialArgs(got, 30, HoldMusic("jazz"))
	if strings.Join(args, ",") != "Local/5550000@carriers,30,m(jazz)" {
		t.Errorf("DialArgs = %v", args)
	}
	if len(DialArgs(got, 30, HoldMusic(""))) != 2 {
		t.Error("empty hold music class should add no option")
	}
}
