// Package lifecycle drives a session through provision, connect,
// serve, and teardown. The manager owns the state machine: it persists
// a snapshot after every transition, routes every post-creation failure
// through the unwind path so paid resources are never left untracked,
// and reconciles recorded state against provider reality after an
// unclean shutdown.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"

	"github.com/elsewhere-cli/elsewhere/internal/config"
	"github.com/elsewhere-cli/elsewhere/internal/logging"
	"github.com/elsewhere-cli/elsewhere/internal/provider"
	"github.com/elsewhere-cli/elsewhere/internal/session"
	"github.com/elsewhere-cli/elsewhere/internal/sshkey"
	"github.com/elsewhere-cli/elsewhere/internal/tunnel"
)

// unwindTimeout bounds the teardown that runs after a provisioning
// failure or operator interrupt. It is independent of the start
// context, which may already be canceled.
const unwindTimeout = 5 * time.Minute

// tunnelPollInterval is how often the foreground watch probes the
// tunnel process.
const tunnelPollInterval = 2 * time.Second

// TunnelSupervisor is the tunnel collaborator contract.
type TunnelSupervisor interface {
	Establish(ctx context.Context, spec tunnel.Spec) (int, error)
	Stop(pid int) error
	Alive(pid int) bool
}

// SystemProxy is the OS proxy collaborator contract. It is invoked only
// around the active phase and never blocks the state machine's own
// success or failure determination.
type SystemProxy interface {
	Supported() bool
	Enable(ctx context.Context, localPort int) error
	Disable(ctx context.Context) error
}

// Params wires a Manager's collaborators.
type Params struct {
	Store *session.Store
	// Provider builds a Provisioner per region; cleanup can sweep many
	// regions in one invocation.
	Provider provider.Factory
	Tunnel   TunnelSupervisor
	Proxy    SystemProxy
	// CallerAddr discovers the caller's public address as a CIDR block
	// for the firewall ingress rule.
	CallerAddr func(ctx context.Context) (string, error)
	Retry      config.RetryConfig
	Timeouts   config.TimeoutsConfig
	Clock      clock.Clock
	Logger     *logging.Logger
}

// Manager is the session lifecycle manager.
type Manager struct {
	store       *session.Store
	newProvider provider.Factory
	tunnel      TunnelSupervisor
	proxy       SystemProxy
	callerAddr  func(ctx context.Context) (string, error)
	generateKey func(comment string) (*sshkey.KeyPair, error)
	retry       config.RetryConfig
	timeouts    config.TimeoutsConfig
	clock       clock.Clock
	log         *logging.Logger
}

// NewManager builds a Manager.
func NewManager(p Params) *Manager {
	m := &Manager{
		store:       p.Store,
		newProvider: p.Provider,
		tunnel:      p.Tunnel,
		proxy:       p.Proxy,
		callerAddr:  p.CallerAddr,
		generateKey: sshkey.Generate,
		retry:       p.Retry,
		timeouts:    p.Timeouts,
		clock:       p.Clock,
		log:         p.Logger,
	}
	if m.clock == nil {
		m.clock = clock.WallClock
	}
	if m.log == nil {
		m.log = logging.Nop()
	}
	return m
}

// StartInput carries the resolved parameters for a new session.
type StartInput struct {
	Region       string
	LocalPort    int
	InstanceType string
	SystemProxy  bool
}

// Start provisions a new session and drives it to the active phase.
// It refuses to proceed while any session record exists on this host,
// and routes every failure after record creation through the unwind
// path so no resource is left untracked.
func (m *Manager) Start(ctx context.Context, in StartInput) (*session.Session, error) {
	if existing, err := m.store.Load(); err == nil {
		return nil, &StateConflictError{SessionID: existing.ID, Phase: existing.Phase}
	} else if !errors.Is(err, session.ErrNotFound) {
		return nil, fmt.Errorf("existing session record is unreadable, run \"elsewhere cleanup\": %w", err)
	}

	sess := session.New(in.Region, in.LocalPort, in.SystemProxy)
	if err := m.store.Create(sess); err != nil {
		if errors.Is(err, session.ErrConflict) {
			return nil, &StateConflictError{Phase: session.PhaseProvisioning}
		}
		return nil, err
	}

	log := m.log.WithSession(sess.ID).WithRegion(sess.Region)
	log.Info("session starting", "local_port", in.LocalPort, "instance_type", in.InstanceType)

	prov, err := m.newProvider(ctx, in.Region)
	if err != nil {
		// Nothing provisioned yet; the record alone is safe to drop.
		if derr := m.store.Delete(); derr != nil {
			return nil, errors.Join(err, derr)
		}
		return nil, err
	}

	if err := m.provision(ctx, prov, sess, in, log); err != nil {
		return nil, m.unwind(prov, sess, err, log)
	}

	log.Info("session active", "public_ip", sess.PublicIP, "local_port", sess.LocalPort)
	return sess, nil
}

// provision walks the session forward phase by phase, persisting the
// record after every successful sub-step so a crash at any point leaves
// enough on disk to tear down from.
func (m *Manager) provision(ctx context.Context, prov provider.Provisioner, sess *session.Session, in StartInput, log *logging.Logger) error {
	callerCIDR, err := m.callerAddr(ctx)
	if err != nil {
		return fmt.Errorf("failed to discover caller address: %w", err)
	}

	// Firewall. Creation and ingress authorization are separate retried
	// steps: once a reference exists, retries target it instead of
	// creating a second rule set the unwind could never see. The create
	// can return a reference alongside an error; record it either way.
	var firewallRef string
	ferr := m.retryProvider(ctx, "create firewall", m.timeouts.ProviderCall, func(ctx context.Context) error {
		if firewallRef != "" {
			return nil
		}
		ref, err := prov.CreateFirewall(ctx, sess.ID)
		if ref != "" {
			firewallRef = ref
		}
		return err
	})
	if firewallRef != "" {
		sess.FirewallRef = firewallRef
		if err := m.store.Save(sess); err != nil {
			return err
		}
	}
	if ferr != nil && sess.FirewallRef == "" {
		return ferr
	}

	err = m.retryProvider(ctx, "authorize ingress", m.timeouts.ProviderCall, func(ctx context.Context) error {
		return prov.AuthorizeIngress(ctx, sess.FirewallRef, callerCIDR)
	})
	if err != nil {
		return err
	}
	if err := m.advance(sess, session.PhaseNetworkConfigured); err != nil {
		return err
	}
	log.Info("network configured", "firewall_ref", sess.FirewallRef)

	// Transient keypair: generate locally, write the private half with
	// owner-only permissions, register the public half.
	key, err := m.generateKey("elsewhere-" + sess.ID)
	if err != nil {
		return err
	}
	keysDir, err := m.store.KeysDir()
	if err != nil {
		return err
	}
	keyPath, err := key.WritePrivate(keysDir, sess.ID)
	if err != nil {
		return err
	}
	sess.KeyPath = keyPath
	if err := m.store.Save(sess); err != nil {
		return err
	}

	var keyRef string
	err = m.retryProvider(ctx, "register key", m.timeouts.ProviderCall, func(ctx context.Context) error {
		ref, err := prov.RegisterKey(ctx, sess.ID, string(key.AuthorizedKey))
		if err == nil {
			keyRef = ref
		}
		return err
	})
	if err != nil {
		return err
	}
	sess.KeyRef = keyRef
	if err := m.advance(sess, session.PhaseKeyIssued); err != nil {
		return err
	}
	log.Info("key issued", "key_ref", sess.KeyRef)

	// Instance.
	var instanceRef string
	err = m.retryProvider(ctx, "create instance", m.timeouts.ProviderCall, func(ctx context.Context) error {
		ref, err := prov.CreateInstance(ctx, provider.InstanceSpec{
			SessionID:    sess.ID,
			InstanceType: in.InstanceType,
			FirewallRef:  sess.FirewallRef,
			KeyRef:       sess.KeyRef,
		})
		if err == nil {
			instanceRef = ref
		}
		return err
	})
	if err != nil {
		return err
	}
	sess.InstanceRef = instanceRef
	if err := m.store.Save(sess); err != nil {
		return err
	}
	log.Info("instance launched", "instance_ref", sess.InstanceRef)

	readyCtx, cancel := context.WithTimeout(ctx, m.timeouts.InstanceReady)
	publicIP, err := prov.WaitInstanceReady(readyCtx, sess.InstanceRef)
	cancel()
	if err != nil {
		if readinessExpired(ctx, err) {
			return &ReadinessTimeoutError{Stage: "instance", Window: m.timeouts.InstanceReady}
		}
		return err
	}
	sess.PublicIP = publicIP
	if err := m.store.Save(sess); err != nil {
		return err
	}

	// Tunnel.
	tunnelCtx, cancel := context.WithTimeout(ctx, m.timeouts.TunnelReady)
	pid, err := m.tunnel.Establish(tunnelCtx, tunnel.Spec{
		PublicIP:  sess.PublicIP,
		KeyPath:   sess.KeyPath,
		LocalPort: sess.LocalPort,
	})
	cancel()
	if err != nil {
		if readinessExpired(ctx, err) {
			return &ReadinessTimeoutError{Stage: "tunnel", Window: m.timeouts.TunnelReady}
		}
		return err
	}
	sess.TunnelPID = pid
	if err := m.advance(sess, session.PhaseTunnelEstablished); err != nil {
		return err
	}
	log.Info("tunnel established", "tunnel_pid", pid)

	// System proxy is best-effort: a failure here degrades the session
	// to manual proxy configuration, it never fails the start.
	if sess.SystemProxy {
		if !m.proxy.Supported() {
			sess.SystemProxy = false
		} else if err := m.proxy.Enable(ctx, sess.LocalPort); err != nil {
			log.Warn("failed to enable system proxy, point applications at the SOCKS port directly", "error", err)
			sess.SystemProxy = false
		}
	}

	return m.advance(sess, session.PhaseActive)
}

// Stop tears the recorded session down. With force the destroy sequence
// continues past individual failures; without it the sequence halts at
// the first failure. Either way the record is retained with a residual
// list when anything is left behind.
func (m *Manager) Stop(ctx context.Context, force bool) ([]ResourceResult, error) {
	sess, err := m.store.Load()
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, ErrNoSession
		}
		return nil, err
	}

	log := m.log.WithSession(sess.ID).WithRegion(sess.Region)
	if sess.Phase == session.PhaseActive && sess.TunnelPID > 0 && !m.tunnel.Alive(sess.TunnelPID) {
		log.Warn("tunnel process died while session was active; tearing down degraded session", "tunnel_pid", sess.TunnelPID)
	}

	if sess.Phase != session.PhaseTearingDown {
		if err := m.advance(sess, session.PhaseTearingDown); err != nil {
			return nil, err
		}
	}

	prov, err := m.newProvider(ctx, sess.Region)
	if err != nil {
		return nil, err
	}

	results := m.teardown(ctx, prov, sess, force)
	return m.finishTeardown(sess, results)
}

// Status describes the recorded session and whether its tunnel is
// still alive.
type Status struct {
	Session     *session.Session
	TunnelAlive bool
	// Degraded means the session is recorded active but its tunnel
	// process is gone; traffic is no longer flowing.
	Degraded bool
}

// Status reports the current session, or ErrNoSession.
func (m *Manager) Status(ctx context.Context) (*Status, error) {
	sess, err := m.store.Load()
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, ErrNoSession
		}
		return nil, err
	}

	alive := sess.TunnelPID > 0 && m.tunnel.Alive(sess.TunnelPID)
	return &Status{
		Session:     sess,
		TunnelAlive: alive,
		Degraded:    sess.Phase == session.PhaseActive && !alive,
	}, nil
}

// WaitTunnel blocks until the tunnel process exits or ctx is done.
// A nil return means the tunnel died.
func (m *Manager) WaitTunnel(ctx context.Context, pid int) error {
	for {
		if !m.tunnel.Alive(pid) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.clock.After(tunnelPollInterval):
		}
	}
}

// advance moves the session to the next phase and persists the
// snapshot before anything else happens.
func (m *Manager) advance(sess *session.Session, next session.Phase) error {
	if err := sess.Advance(next); err != nil {
		return err
	}
	return m.store.Save(sess)
}

// unwind tears down whatever provisioning created before the failure.
// It runs on a fresh bounded context: the start context may already be
// canceled (operator interrupt), and partially created resources must
// not be left behind simply because the user pressed interrupt.
func (m *Manager) unwind(prov provider.Provisioner, sess *session.Session, cause error, log *logging.Logger) error {
	log.Warn("provisioning failed, unwinding partial session", "phase", sess.Phase, "error", cause)

	ctx, cancel := context.WithTimeout(context.Background(), unwindTimeout)
	defer cancel()

	if sess.Phase != session.PhaseTearingDown {
		if err := m.advance(sess, session.PhaseTearingDown); err != nil {
			return errors.Join(cause, err)
		}
	}

	results := m.teardown(ctx, prov, sess, true)
	if _, err := m.finishTeardown(sess, results); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

// retryProvider runs one provider call with bounded exponential backoff
// for transient errors. Permanent errors and absent resources are
// surfaced immediately. Each attempt carries its own timeout.
func (m *Manager) retryProvider(ctx context.Context, op string, callTimeout time.Duration, call func(ctx context.Context) error) error {
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			cctx, cancel := context.WithTimeout(ctx, callTimeout)
			defer cancel()
			return call(cctx)
		},
		IsFatalError: func(err error) bool {
			return !provider.IsTransient(err)
		},
		NotifyFunc: func(lastError error, attempt int) {
			m.log.Debug("retrying provider call", "op", op, "attempt", attempt, "error", lastError)
		},
		Attempts:    m.retry.Attempts,
		Delay:       m.retry.Delay,
		MaxDelay:    m.retry.MaxDelay,
		BackoffFunc: retry.DoubleDelay,
		Clock:       m.clock,
		Stop:        ctx.Done(),
	})
	if retry.IsAttemptsExceeded(err) || retry.IsRetryStopped(err) {
		return retry.LastError(err)
	}
	return err
}

// readinessExpired distinguishes a blown readiness window from the
// parent context being canceled outright.
func readinessExpired(parent context.Context, err error) bool {
	return errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil
}
