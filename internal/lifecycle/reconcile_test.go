package lifecycle

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/elsewhere-cli/elsewhere/internal/provider"
	"github.com/elsewhere-cli/elsewhere/internal/region"
	"github.com/elsewhere-cli/elsewhere/internal/session"
	"github.com/elsewhere-cli/elsewhere/internal/tunnel"
)

func providerSpec(sess *session.Session) provider.InstanceSpec {
	return provider.InstanceSpec{
		SessionID:    sess.ID,
		InstanceType: "t3.nano",
		FirewallRef:  sess.FirewallRef,
		KeyRef:       sess.KeyRef,
	}
}

func tunnelSpec(sess *session.Session) tunnel.Spec {
	return tunnel.Spec{
		PublicIP:  sess.PublicIP,
		KeyPath:   sess.KeyPath,
		LocalPort: sess.LocalPort,
	}
}

func providerPermanent() error {
	return provider.Permanent("test", errors.New("api down"))
}

// crashedSession builds the on-disk record and provider-side state a
// process crash would leave behind at the given phase.
func crashedSession(t *testing.T, h *harness, phase session.Phase) *session.Session {
	t.Helper()
	ctx := context.Background()

	sess := session.New("eu-west-1", 1080, true)
	sess.Phase = phase

	order := map[session.Phase]int{
		session.PhaseProvisioning:      0,
		session.PhaseNetworkConfigured: 1,
		session.PhaseKeyIssued:         2,
		session.PhaseTunnelEstablished: 3,
		session.PhaseActive:            4,
		session.PhaseTearingDown:       4,
	}
	progress := order[phase]

	if progress >= 1 {
		ref, err := h.provider.CreateFirewall(ctx, sess.ID)
		if err != nil {
			t.Fatalf("CreateFirewall() error = %v", err)
		}
		if err := h.provider.AuthorizeIngress(ctx, ref, "198.51.100.1/32"); err != nil {
			t.Fatalf("AuthorizeIngress() error = %v", err)
		}
		sess.FirewallRef = ref
	}
	if progress >= 2 {
		ref, err := h.provider.RegisterKey(ctx, sess.ID, "ssh-ed25519 AAAA test")
		if err != nil {
			t.Fatalf("RegisterKey() error = %v", err)
		}
		sess.KeyRef = ref

		keyPath := filepath.Join(t.TempDir(), sess.ID+".pem")
		if err := os.WriteFile(keyPath, []byte("private"), 0600); err != nil {
			t.Fatalf("writing key file: %v", err)
		}
		sess.KeyPath = keyPath
	}
	if progress >= 3 {
		ref, err := h.provider.CreateInstance(ctx, providerSpec(sess))
		if err != nil {
			t.Fatalf("CreateInstance() error = %v", err)
		}
		sess.InstanceRef = ref
		sess.PublicIP = "203.0.113.10"

		pid, err := h.tunnel.Establish(ctx, tunnelSpec(sess))
		if err != nil {
			t.Fatalf("Establish() error = %v", err)
		}
		sess.TunnelPID = pid
	}
	if progress >= 4 {
		if err := h.proxy.Enable(ctx, sess.LocalPort); err != nil {
			t.Fatalf("Enable() error = %v", err)
		}
	}

	if err := h.store.Create(sess); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return sess
}

func TestCleanupAfterCrashAtEachPhase(t *testing.T) {
	phases := []session.Phase{
		session.PhaseProvisioning,
		session.PhaseNetworkConfigured,
		session.PhaseKeyIssued,
		session.PhaseTunnelEstablished,
		session.PhaseActive,
		session.PhaseTearingDown,
	}

	for _, phase := range phases {
		t.Run(string(phase), func(t *testing.T) {
			h := newHarness(t)
			sess := crashedSession(t, h, phase)

			report, err := h.manager.Cleanup(context.Background(), "eu-west-1")
			if err != nil {
				t.Fatalf("Cleanup() error = %v", err)
			}
			if len(report.Failed()) != 0 {
				t.Errorf("failed resources: %+v", report.Failed())
			}

			if !h.provider.empty() {
				t.Error("provider resources remain after cleanup")
			}
			if _, err := h.store.Load(); !errors.Is(err, session.ErrNotFound) {
				t.Errorf("record remains after cleanup: %v", err)
			}
			if sess.KeyPath != "" {
				if _, err := os.Stat(sess.KeyPath); !os.IsNotExist(err) {
					t.Errorf("key file remains after cleanup: %v", err)
				}
			}
			if sess.TunnelPID > 0 && h.tunnel.Alive(sess.TunnelPID) {
				t.Error("tunnel still alive after cleanup")
			}
		})
	}
}

func TestCleanupAfterKillWhileActive(t *testing.T) {
	h := newHarness(t)

	sess, err := h.manager.Start(context.Background(), startInput())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// The process dies here; the record and every resource survive it.
	report, err := h.manager.Cleanup(context.Background(), "eu-west-1")
	if err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if len(report.Failed()) != 0 {
		t.Errorf("failed resources: %+v", report.Failed())
	}

	if !h.provider.empty() {
		t.Errorf("resources tagged for session %s remain", sess.ID)
	}
	if _, err := h.store.Load(); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("record remains after cleanup: %v", err)
	}
}

func TestCleanupWithNothingToDo(t *testing.T) {
	h := newHarness(t)

	report, err := h.manager.Cleanup(context.Background(), "eu-west-1")
	if err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if !report.Empty() {
		t.Errorf("report = %+v, want empty", report.Results)
	}
}

func TestCleanupSweepsOrphansWithoutRecord(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Orphans from a lost state file: tagged resources, no record.
	if _, err := h.provider.CreateFirewall(ctx, "ghost"); err != nil {
		t.Fatal(err)
	}
	if _, err := h.provider.RegisterKey(ctx, "ghost", "ssh-ed25519 AAAA test"); err != nil {
		t.Fatal(err)
	}

	report, err := h.manager.Cleanup(ctx, "eu-west-1")
	if err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}

	destroyed := 0
	for _, r := range report.Results {
		if r.Outcome == OutcomeDestroyed {
			destroyed++
			if r.Region != "eu-west-1" {
				t.Errorf("sweep result region = %q, want eu-west-1", r.Region)
			}
		}
	}
	if destroyed != 2 {
		t.Errorf("destroyed %d orphans, want 2", destroyed)
	}
	if !h.provider.empty() {
		t.Error("orphans remain after sweep")
	}
}

func TestCleanupWithoutFilterSweepsAllRegions(t *testing.T) {
	h := newHarness(t)

	if _, err := h.manager.Cleanup(context.Background(), ""); err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if h.factoryCalls != len(region.Codes()) {
		t.Errorf("swept %d regions, want %d", h.factoryCalls, len(region.Codes()))
	}
}

func TestCleanupDropsUnreadableRecordAfterCleanSweep(t *testing.T) {
	h := newHarness(t)

	if err := os.WriteFile(h.store.Path(), []byte("{not json"), 0600); err != nil {
		t.Fatalf("writing corrupt record: %v", err)
	}

	report, err := h.manager.Cleanup(context.Background(), "eu-west-1")
	if err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if len(report.Failed()) != 0 {
		t.Errorf("failed resources: %+v", report.Failed())
	}
	if _, err := h.store.Load(); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("unreadable record not dropped: %v", err)
	}
}

func TestCleanupReportsResidualOnFailure(t *testing.T) {
	h := newHarness(t)
	crashedSession(t, h, session.PhaseActive)
	h.provider.failWith("DestroyInstance", providerPermanent())

	report, err := h.manager.Cleanup(context.Background(), "eu-west-1")
	var partial *PartialTeardownError
	if !errors.As(err, &partial) {
		t.Fatalf("Cleanup() error = %v, want PartialTeardownError", err)
	}
	if len(report.Failed()) == 0 {
		t.Error("report shows no failed resources")
	}

	// The record survives with its residual list for the next pass.
	loaded, err := h.store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(loaded.Residual) == 0 {
		t.Error("no residual markers persisted")
	}

	// A later pass with the failure gone converges.
	if _, err := h.manager.Cleanup(context.Background(), "eu-west-1"); err != nil {
		t.Fatalf("second Cleanup() error = %v", err)
	}
	if !h.provider.empty() {
		t.Error("resources remain after second cleanup")
	}
	if _, err := h.store.Load(); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("record remains after second cleanup: %v", err)
	}
}
