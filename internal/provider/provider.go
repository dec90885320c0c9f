// Package provider defines the resource provisioner contract: the narrow
// interface the lifecycle manager uses to create and destroy cloud
// resources, and the error taxonomy that drives its retry and unwind
// decisions. Implementations own no long-lived state; every operation is
// a single idempotent request/response.
package provider

import (
	"context"
	"errors"
	"fmt"
)

// ManagedTag is the tag key applied to every resource this tool creates.
// The tag-driven cleanup sweep finds orphans by it even when the local
// state record is gone.
const ManagedTag = "elsewhere:managed"

// SessionTag carries the owning session ID on every created resource.
const SessionTag = "elsewhere:session"

// NamePrefix prefixes every provider-side resource name.
const NamePrefix = "elsewhere"

// ErrAbsent is returned by destroy operations when the resource no
// longer exists. Callers treat it as success; it exists so teardown
// reports can distinguish "destroyed" from "already absent".
var ErrAbsent = errors.New("resource already absent")

// InstanceSpec describes the instance to launch. The firewall and key
// references must already exist: the launch call references both.
type InstanceSpec struct {
	SessionID    string
	InstanceType string
	FirewallRef  string
	KeyRef       string
}

// TaggedResources lists provider-side resources carrying the managed tag.
type TaggedResources struct {
	Instances []string
	Firewalls []string
	Keys      []string
}

// Empty reports whether no tagged resources were found.
func (r TaggedResources) Empty() bool {
	return len(r.Instances) == 0 && len(r.Firewalls) == 0 && len(r.Keys) == 0
}

// Provisioner issues idempotent create/destroy calls against one region
// of the external compute control plane. Destroy calls treat an absent
// resource as success: a half-completed teardown must be fully
// recoverable by re-running the same sequence.
type Provisioner interface {
	// CreateFirewall creates the session's empty ingress rule set and
	// returns its reference. Authorization is a separate call so a
	// failed rule can be retried against the same rule set instead of
	// creating another one.
	CreateFirewall(ctx context.Context, sessionID string) (string, error)

	// AuthorizeIngress adds the single permitted rule to the rule set:
	// SSH from the caller's current public address.
	AuthorizeIngress(ctx context.Context, firewallRef, callerCIDR string) error

	// RegisterKey registers transient public key material under a
	// generated name and returns the key reference.
	RegisterKey(ctx context.Context, sessionID, publicKey string) (string, error)

	// CreateInstance launches the compute instance and returns its
	// reference. It does not wait for the instance to become usable.
	CreateInstance(ctx context.Context, spec InstanceSpec) (string, error)

	// WaitInstanceReady blocks until the instance is running with a
	// reachable public address, bounded by ctx. Returns the address.
	WaitInstanceReady(ctx context.Context, instanceRef string) (string, error)

	// DestroyInstance terminates the instance and waits for it to
	// release its dependencies. An absent instance returns ErrAbsent.
	DestroyInstance(ctx context.Context, instanceRef string) error

	// DestroyFirewall deletes the ingress rule set. An absent rule set
	// returns ErrAbsent.
	DestroyFirewall(ctx context.Context, firewallRef string) error

	// DestroyKey deregisters the key material. Absent key material
	// returns ErrAbsent.
	DestroyKey(ctx context.Context, keyRef string) error

	// ListTagged returns every resource in the region carrying the
	// managed tag, whether or not a local record references it.
	ListTagged(ctx context.Context) (TaggedResources, error)
}

// Factory builds a Provisioner for a region. The lifecycle manager holds
// a Factory rather than a Provisioner because cleanup can sweep many
// regions in one invocation.
type Factory func(ctx context.Context, region string) (Provisioner, error)

// TransientError wraps a provider failure that may succeed on retry:
// throttling, rate limits, service-side 5xx, eventual-consistency races.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient provider error during %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError wraps a provider failure that retrying cannot fix:
// authorization failures, invalid parameters, unsupported operations.
// It is surfaced immediately and triggers unwind of whatever was
// already created.
type PermanentError struct {
	Op  string
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent provider error during %s: %v", e.Op, e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// Transient wraps err as retryable.
func Transient(op string, err error) error {
	return &TransientError{Op: op, Err: err}
}

// Permanent wraps err as non-retryable.
func Permanent(op string, err error) error {
	return &PermanentError{Op: op, Err: err}
}

// IsTransient reports whether err is (or wraps) a transient provider error.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsPermanent reports whether err is (or wraps) a permanent provider error.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
