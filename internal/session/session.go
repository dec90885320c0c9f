// Package session defines the session data model and its durable state
// store. A session is one provision-to-teardown cycle of the ephemeral
// proxy infrastructure; its on-disk record is the single source of truth
// consulted on startup to detect incomplete prior sessions.
package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Phase is the lifecycle state of a session. Phases name the work that
// has been completed; a session record with any phase other than a fully
// torn-down (deleted) record describes resources that may still exist.
type Phase string

const (
	// PhaseProvisioning means the record exists but nothing has been
	// provisioned yet.
	PhaseProvisioning Phase = "provisioning"
	// PhaseNetworkConfigured means the firewall (security group plus
	// ingress rule scoped to the caller's address) exists.
	PhaseNetworkConfigured Phase = "network-configured"
	// PhaseKeyIssued means the transient keypair has been generated,
	// its public half registered with the provider, and its private
	// half written locally with owner-only permissions.
	PhaseKeyIssued Phase = "key-issued"
	// PhaseTunnelEstablished means the instance is reachable and the
	// forwarding channel is connected with the local endpoint listening.
	PhaseTunnelEstablished Phase = "tunnel-established"
	// PhaseActive means the session is serving traffic.
	PhaseActive Phase = "active"
	// PhaseTearingDown means teardown has begun; the record persists
	// until every resource is confirmed destroyed.
	PhaseTearingDown Phase = "tearing-down"
)

// phaseOrder assigns each phase its position in the forward progression.
var phaseOrder = map[Phase]int{
	PhaseProvisioning:      0,
	PhaseNetworkConfigured: 1,
	PhaseKeyIssued:         2,
	PhaseTunnelEstablished: 3,
	PhaseActive:            4,
	PhaseTearingDown:       5,
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	_, ok := phaseOrder[p]
	return ok
}

// CanTransitionTo reports whether moving from p to next is allowed.
// Transitions are monotonic within a run: one step forward at a time,
// except that any phase may enter tearing-down (unwind and recovery).
func (p Phase) CanTransitionTo(next Phase) bool {
	if !p.Valid() || !next.Valid() {
		return false
	}
	if next == PhaseTearingDown {
		return true
	}
	return phaseOrder[next] == phaseOrder[p]+1
}

// Session is the unit the lifecycle manager tracks: the durable record of
// what exists right now and where. Reference fields are empty until the
// corresponding resource has actually been created, and each resource is
// destroyed before the record itself is deleted.
type Session struct {
	ID          string    `json:"id"`
	Region      string    `json:"region"`
	InstanceRef string    `json:"instance_ref,omitempty"`
	FirewallRef string    `json:"firewall_ref,omitempty"`
	KeyRef      string    `json:"key_ref,omitempty"`
	KeyPath     string    `json:"key_path,omitempty"`
	PublicIP    string    `json:"public_ip,omitempty"`
	TunnelPID   int       `json:"tunnel_pid,omitempty"`
	LocalPort   int       `json:"local_port"`
	SystemProxy bool      `json:"system_proxy"`
	Phase       Phase     `json:"phase"`
	Residual    []string  `json:"residual,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// New creates an in-memory session in the provisioning phase.
// Nothing is persisted or provisioned yet.
func New(regionCode string, localPort int, systemProxy bool) *Session {
	return &Session{
		ID:          uuid.NewString(),
		Region:      regionCode,
		LocalPort:   localPort,
		SystemProxy: systemProxy,
		Phase:       PhaseProvisioning,
		CreatedAt:   time.Now().UTC(),
	}
}

// Advance moves the session to the next phase, enforcing the monotonic
// transition rule.
func (s *Session) Advance(next Phase) error {
	if !s.Phase.CanTransitionTo(next) {
		return fmt.Errorf("illegal phase transition %s -> %s", s.Phase, next)
	}
	s.Phase = next
	return nil
}

// Uptime returns how long the session has existed.
func (s *Session) Uptime(now time.Time) time.Duration {
	return now.Sub(s.CreatedAt)
}

// Validate checks record-level invariants after loading from disk.
func (s *Session) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("%w: missing session id", ErrCorrupted)
	}
	if s.Region == "" {
		return fmt.Errorf("%w: missing region", ErrCorrupted)
	}
	if !s.Phase.Valid() {
		return fmt.Errorf("%w: unknown phase %q", ErrCorrupted, s.Phase)
	}
	return nil
}
