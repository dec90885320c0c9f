package session

import (
	"testing"
	"time"
)

func TestPhase_Valid(t *testing.T) {
	for _, p := range []Phase{
		PhaseProvisioning, PhaseNetworkConfigured, PhaseKeyIssued,
		PhaseTunnelEstablished, PhaseActive, PhaseTearingDown,
	} {
		if !p.Valid() {
			t.Errorf("Phase %q should be valid", p)
		}
	}
	if Phase("launching").Valid() {
		t.Error("unknown phase should be invalid")
	}
}

func TestPhase_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to Phase
		want     bool
	}{
		{PhaseProvisioning, PhaseNetworkConfigured, true},
		{PhaseNetworkConfigured, PhaseKeyIssued, true},
		{PhaseKeyIssued, PhaseTunnelEstablished, true},
		{PhaseTunnelEstablished, PhaseActive, true},
		{PhaseActive, PhaseTearingDown, true},

		// Any phase may unwind.
		{PhaseProvisioning, PhaseTearingDown, true},
		{PhaseKeyIssued, PhaseTearingDown, true},

		// No skipping forward, no going back.
		{PhaseProvisioning, PhaseKeyIssued, false},
		{PhaseActive, PhaseProvisioning, false},
		{PhaseTunnelEstablished, PhaseNetworkConfigured, false},

		// Unknown phases never transition.
		{Phase("bogus"), PhaseActive, false},
		{PhaseActive, Phase("bogus"), false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestNew(t *testing.T) {
	sess := New("ap-northeast-1", 1080, true)

	if sess.ID == "" {
		t.Error("session ID should be generated")
	}
	if sess.Phase != PhaseProvisioning {
		t.Errorf("new session phase = %q, want provisioning", sess.Phase)
	}
	if sess.Region != "ap-northeast-1" || sess.LocalPort != 1080 || !sess.SystemProxy {
		t.Errorf("session fields not carried: %+v", sess)
	}
	if sess.InstanceRef != "" || sess.FirewallRef != "" || sess.KeyRef != "" {
		t.Error("new session must not carry resource refs")
	}
}

func TestSession_Advance(t *testing.T) {
	sess := New("us-east-1", 1080, false)

	if err := sess.Advance(PhaseNetworkConfigured); err != nil {
		t.Fatalf("legal transition rejected: %v", err)
	}
	if err := sess.Advance(PhaseActive); err == nil {
		t.Fatal("skipping phases should be rejected")
	}
	if sess.Phase != PhaseNetworkConfigured {
		t.Errorf("failed Advance mutated phase to %q", sess.Phase)
	}
}

func TestSession_Validate(t *testing.T) {
	sess := New("us-east-1", 1080, false)
	if err := sess.Validate(); err != nil {
		t.Errorf("valid session rejected: %v", err)
	}

	broken := *sess
	broken.Phase = Phase("weird")
	if err := broken.Validate(); err == nil {
		t.Error("unknown phase should fail validation")
	}

	broken = *sess
	broken.Region = ""
	if err := broken.Validate(); err == nil {
		t.Error("missing region should fail validation")
	}
}

func TestSession_Uptime(t *testing.T) {
	sess := New("us-east-1", 1080, false)
	sess.CreatedAt = time.Now().Add(-90 * time.Minute)
	up := sess.Uptime(time.Now())
	if up < 89*time.Minute || up > 91*time.Minute {
		t.Errorf("uptime = %v, want about 90m", up)
	}
}
