package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/elsewhere-cli/elsewhere/internal/provider"
	"github.com/elsewhere-cli/elsewhere/internal/session"
	"github.com/elsewhere-cli/elsewhere/internal/sshkey"
)

// Outcome is the per-resource result of one teardown pass.
type Outcome string

const (
	// OutcomeDestroyed means the destroy call succeeded.
	OutcomeDestroyed Outcome = "destroyed"
	// OutcomeAbsent means the resource was already gone; re-issuing the
	// destroy is a successful no-op.
	OutcomeAbsent Outcome = "already-absent"
	// OutcomeFailed means the destroy call failed even after retrying.
	OutcomeFailed Outcome = "failed"
	// OutcomeSkipped means the step was never attempted because an
	// earlier failure halted the sequence (non-force teardown only).
	OutcomeSkipped Outcome = "skipped"
)

// ResourceResult reports what happened to one resource during teardown
// or cleanup.
type ResourceResult struct {
	// Resource names the kind: system-proxy, tunnel, instance,
	// firewall, key, key-file.
	Resource string
	// Ref is the provider-side or local reference, empty when the
	// resource was never created.
	Ref string
	// Region is set for resources found by the tag sweep.
	Region string
	// Outcome is the per-resource verdict.
	Outcome Outcome
	// Err carries the failure when Outcome is OutcomeFailed.
	Err error
}

func (r ResourceResult) String() string {
	if r.Ref == "" {
		return r.Resource
	}
	return fmt.Sprintf("%s %s", r.Resource, r.Ref)
}

// Failed reports whether this resource still exists after the pass.
func (r ResourceResult) Failed() bool {
	return r.Outcome == OutcomeFailed || r.Outcome == OutcomeSkipped
}

// teardownStep is one entry in the ordered destroy sequence.
type teardownStep struct {
	resource string
	ref      string
	destroy  func(ctx context.Context) error
}

// teardown runs the full destroy sequence against a session record:
// stop traffic, destroy tunnel, destroy instance, destroy firewall,
// destroy key material, delete the local key file. Every step is safe
// to re-issue against an already-destroyed resource, so a
// half-completed teardown is resumed by simply running the whole
// sequence again. Without force the sequence halts at the first
// failure and the remaining steps are reported as skipped.
func (m *Manager) teardown(ctx context.Context, prov provider.Provisioner, sess *session.Session, force bool) []ResourceResult {
	log := m.log.WithSession(sess.ID).WithRegion(sess.Region)

	steps := []teardownStep{
		{
			resource: "system-proxy",
			destroy: func(ctx context.Context) error {
				if !sess.SystemProxy {
					return provider.ErrAbsent
				}
				return m.proxy.Disable(ctx)
			},
		},
		{
			resource: "tunnel",
			ref:      pidRef(sess.TunnelPID),
			destroy: func(ctx context.Context) error {
				if sess.TunnelPID <= 0 {
					return provider.ErrAbsent
				}
				if !m.tunnel.Alive(sess.TunnelPID) {
					return provider.ErrAbsent
				}
				return m.tunnel.Stop(sess.TunnelPID)
			},
		},
		{
			resource: "instance",
			ref:      sess.InstanceRef,
			destroy: func(ctx context.Context) error {
				if sess.InstanceRef == "" {
					return provider.ErrAbsent
				}
				return m.retryProvider(ctx, "destroy instance", m.timeouts.InstanceReady, func(ctx context.Context) error {
					return prov.DestroyInstance(ctx, sess.InstanceRef)
				})
			},
		},
		{
			resource: "firewall",
			ref:      sess.FirewallRef,
			destroy: func(ctx context.Context) error {
				if sess.FirewallRef == "" {
					return provider.ErrAbsent
				}
				return m.retryProvider(ctx, "destroy firewall", m.timeouts.ProviderCall, func(ctx context.Context) error {
					return prov.DestroyFirewall(ctx, sess.FirewallRef)
				})
			},
		},
		{
			resource: "key",
			ref:      sess.KeyRef,
			destroy: func(ctx context.Context) error {
				if sess.KeyRef == "" {
					return provider.ErrAbsent
				}
				return m.retryProvider(ctx, "destroy key", m.timeouts.ProviderCall, func(ctx context.Context) error {
					return prov.DestroyKey(ctx, sess.KeyRef)
				})
			},
		},
		{
			resource: "key-file",
			ref:      sess.KeyPath,
			destroy: func(ctx context.Context) error {
				if sess.KeyPath == "" {
					return provider.ErrAbsent
				}
				return sshkey.RemovePrivate(sess.KeyPath)
			},
		},
	}

	results := make([]ResourceResult, 0, len(steps))
	halted := false
	for _, step := range steps {
		res := ResourceResult{Resource: step.resource, Ref: step.ref}
		if halted {
			res.Outcome = OutcomeSkipped
			results = append(results, res)
			continue
		}

		err := step.destroy(ctx)
		switch {
		case err == nil:
			res.Outcome = OutcomeDestroyed
			log.Info("resource destroyed", "resource", step.resource, "ref", step.ref)
		case errors.Is(err, provider.ErrAbsent):
			res.Outcome = OutcomeAbsent
			log.Debug("resource already absent", "resource", step.resource, "ref", step.ref)
		default:
			res.Outcome = OutcomeFailed
			res.Err = err
			log.Error("resource destroy failed", "resource", step.resource, "ref", step.ref, "error", err)
			if !force {
				halted = true
			}
		}
		results = append(results, res)
	}
	return results
}

// finishTeardown converges the session record with the pass results.
// A clean pass deletes the record: only then does the session cease to
// exist. A residual leaves the record in tearing-down with a marker
// per remaining resource.
func (m *Manager) finishTeardown(sess *session.Session, results []ResourceResult) ([]ResourceResult, error) {
	var residual []ResourceResult
	for _, r := range results {
		if r.Failed() {
			residual = append(residual, r)
		}
	}

	if len(residual) == 0 {
		if err := m.store.Delete(); err != nil {
			return results, err
		}
		return results, nil
	}

	terr := &PartialTeardownError{Residual: residual}
	sess.Residual = terr.ResidualRefs()
	if err := m.store.Save(sess); err != nil {
		return results, errors.Join(terr, err)
	}
	return results, terr
}

func pidRef(pid int) string {
	if pid <= 0 {
		return ""
	}
	return fmt.Sprintf("pid %d", pid)
}
