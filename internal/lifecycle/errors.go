package lifecycle

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/elsewhere-cli/elsewhere/internal/session"
)

// ErrNoSession is returned by stop and status when no session record
// exists on this host.
var ErrNoSession = errors.New("no active session on this host")

// StateConflictError is returned when start finds an existing session
// record. No provider calls are made; the operator must stop or clean
// up the recorded session first.
type StateConflictError struct {
	SessionID string
	Phase     session.Phase
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("a session already exists on this host (id %s, phase %s): run \"elsewhere stop\" or \"elsewhere cleanup\" first",
		e.SessionID, e.Phase)
}

// ReadinessTimeoutError is returned when the instance or tunnel never
// became usable within its bounded window. It triggers unwind rather
// than an indefinite hang.
type ReadinessTimeoutError struct {
	Stage  string
	Window time.Duration
}

func (e *ReadinessTimeoutError) Error() string {
	return fmt.Sprintf("%s did not become ready within %s", e.Stage, e.Window)
}

// PartialTeardownError is returned when one or more destroy calls
// failed or were never attempted. The session record is retained with
// the residual list so a later cleanup pass knows what to retry.
type PartialTeardownError struct {
	Residual []ResourceResult
}

func (e *PartialTeardownError) Error() string {
	names := make([]string, 0, len(e.Residual))
	for _, r := range e.Residual {
		names = append(names, r.String())
	}
	return fmt.Sprintf("teardown left %d resource(s) behind (%s): re-run \"elsewhere cleanup\" to retry",
		len(e.Residual), strings.Join(names, ", "))
}

// ResidualRefs returns the marker strings persisted into the session
// record for each remaining resource.
func (e *PartialTeardownError) ResidualRefs() []string {
	refs := make([]string, 0, len(e.Residual))
	for _, r := range e.Residual {
		refs = append(refs, r.String())
	}
	return refs
}
