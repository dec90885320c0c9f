package lifecycle

import (
	"context"
	"errors"

	"github.com/elsewhere-cli/elsewhere/internal/provider"
	"github.com/elsewhere-cli/elsewhere/internal/region"
	"github.com/elsewhere-cli/elsewhere/internal/session"
)

// CleanupReport is the per-resource outcome of one reconciliation pass.
type CleanupReport struct {
	// Results covers both the recorded session's teardown and the
	// tag-driven orphan sweep.
	Results []ResourceResult
}

// Failed returns the resources that still exist after the pass.
func (r *CleanupReport) Failed() []ResourceResult {
	var failed []ResourceResult
	for _, res := range r.Results {
		if res.Failed() {
			failed = append(failed, res)
		}
	}
	return failed
}

// Empty reports whether the pass found nothing to reclaim.
func (r *CleanupReport) Empty() bool {
	return len(r.Results) == 0
}

// Cleanup reconciles recorded state against provider reality. It runs
// two passes: the recorded session, if any, re-enters tearing-down and
// the full destroy sequence is re-issued from the top; then every swept
// region is queried for resources carrying the managed tag with no
// local record, which are destroyed too. The second pass is the
// backstop for a state file that was itself lost.
//
// When regionFilter is empty every cataloged region is swept.
func (m *Manager) Cleanup(ctx context.Context, regionFilter string) (*CleanupReport, error) {
	report := &CleanupReport{}

	recordUnreadable := false
	sess, err := m.store.Load()
	switch {
	case err == nil:
		prov, perr := m.newProvider(ctx, sess.Region)
		if perr != nil {
			return report, perr
		}
		if sess.Phase != session.PhaseTearingDown {
			if aerr := m.advance(sess, session.PhaseTearingDown); aerr != nil {
				return report, aerr
			}
		}
		results := m.teardown(ctx, prov, sess, true)
		for i := range results {
			results[i].Region = sess.Region
		}
		report.Results = append(report.Results, results...)
		if _, terr := m.finishTeardown(sess, results); terr != nil {
			// Keep sweeping: the tag pass may still reclaim orphans in
			// other regions. The residual is already in the report.
			m.log.Warn("recorded session not fully reclaimed", "error", terr)
		}
	case errors.Is(err, session.ErrNotFound):
		// Nothing recorded; the tag sweep is the whole pass.
	case errors.Is(err, session.ErrCorrupted):
		// The record names nothing usable. The sweep below is the only
		// way to find what it owned; drop the record once the sweep
		// comes back clean.
		m.log.Warn("session record unreadable, relying on tag sweep", "error", err)
		recordUnreadable = true
	default:
		return report, err
	}

	regions := region.Codes()
	if regionFilter != "" {
		regions = []string{regionFilter}
	}

	for _, code := range regions {
		results, err := m.sweepRegion(ctx, code)
		if err != nil {
			report.Results = append(report.Results, ResourceResult{
				Resource: "sweep",
				Region:   code,
				Outcome:  OutcomeFailed,
				Err:      err,
			})
			continue
		}
		report.Results = append(report.Results, results...)
	}

	if recordUnreadable && len(report.Failed()) == 0 {
		if err := m.store.Delete(); err != nil {
			return report, err
		}
	}

	if failed := report.Failed(); len(failed) > 0 {
		return report, &PartialTeardownError{Residual: failed}
	}
	return report, nil
}

// sweepRegion destroys every tagged resource in one region. Teardown
// order matters: instances hold the firewalls, so they go first.
func (m *Manager) sweepRegion(ctx context.Context, code string) ([]ResourceResult, error) {
	prov, err := m.newProvider(ctx, code)
	if err != nil {
		return nil, err
	}

	tagged, err := prov.ListTagged(ctx)
	if err != nil {
		return nil, err
	}
	if tagged.Empty() {
		return nil, nil
	}

	m.log.Info("found orphaned resources",
		"region", code,
		"instances", len(tagged.Instances),
		"firewalls", len(tagged.Firewalls),
		"keys", len(tagged.Keys),
	)

	var results []ResourceResult
	destroy := func(resource, ref string, call func() error) {
		res := ResourceResult{Resource: resource, Ref: ref, Region: code}
		err := call()
		switch {
		case err == nil:
			res.Outcome = OutcomeDestroyed
		case errors.Is(err, provider.ErrAbsent):
			res.Outcome = OutcomeAbsent
		default:
			res.Outcome = OutcomeFailed
			res.Err = err
		}
		results = append(results, res)
	}

	for _, ref := range tagged.Instances {
		destroy("instance", ref, func() error {
			return m.retryProvider(ctx, "destroy orphaned instance", m.timeouts.InstanceReady, func(ctx context.Context) error {
				return prov.DestroyInstance(ctx, ref)
			})
		})
	}
	for _, ref := range tagged.Firewalls {
		destroy("firewall", ref, func() error {
			return m.retryProvider(ctx, "destroy orphaned firewall", m.timeouts.ProviderCall, func(ctx context.Context) error {
				return prov.DestroyFirewall(ctx, ref)
			})
		})
	}
	for _, ref := range tagged.Keys {
		destroy("key", ref, func() error {
			return m.retryProvider(ctx, "destroy orphaned key", m.timeouts.ProviderCall, func(ctx context.Context) error {
				return prov.DestroyKey(ctx, ref)
			})
		})
	}

	return results, nil
}
