package aws

import (
	"context"
	"errors"
	"strings"

	"github.com/aws/smithy-go"

	"github.com/elsewhere-cli/elsewhere/internal/provider"
)

// notFoundCodes are EC2 error codes meaning the resource is not
// visible. Destroy operations treat them as success; on create paths
// they are eventual-consistency races worth retrying.
var notFoundCodes = map[string]bool{
	"InvalidInstanceID.NotFound": true,
	"InvalidGroup.NotFound":      true,
	"InvalidGroupId.NotFound":    true,
	"InvalidKeyPair.NotFound":    true,
}

// permanentCodes are EC2 error codes a retry cannot fix.
var permanentCodes = map[string]bool{
	"UnauthorizedOperation":        true,
	"AuthFailure":                  true,
	"OptInRequired":                true,
	"InvalidParameterValue":        true,
	"InvalidParameterCombination":  true,
	"MissingParameter":             true,
	"UnsupportedOperation":         true,
	"InvalidAMIID.NotFound":        true,
	"InstanceLimitExceeded":        true,
	"VcpuLimitExceeded":            true,
	"InvalidKeyPair.Duplicate":     true,
	"InvalidGroup.Duplicate":       true,
	"PendingVerification":          true,
	"Blocked":                      true,
}

// isNotFound reports whether err is EC2 telling us the resource is
// already gone.
func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return notFoundCodes[apiErr.ErrorCode()]
	}
	return false
}

// classify wraps an SDK error as transient or permanent. Throttling,
// capacity shortages, dependency races, and plain transport failures
// are transient; authorization and validation failures are permanent.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		switch {
		case permanentCodes[code]:
			return provider.Permanent(op, err)
		case notFoundCodes[code]:
			// EC2 is eventually consistent: a launch can report
			// InvalidGroup.NotFound moments after the group was created.
			// Destroy paths never get here; they short-circuit through
			// isNotFound first.
			return provider.Transient(op, err)
		case code == "RequestLimitExceeded",
			code == "InsufficientInstanceCapacity",
			code == "DependencyViolation",
			code == "InternalError",
			code == "Unavailable",
			code == "ServiceUnavailable",
			code == "RequestTimeout",
			strings.Contains(code, "Throttl"):
			return provider.Transient(op, err)
		default:
			// Unknown API codes lean permanent so a misconfigured
			// account does not spin in a retry loop.
			return provider.Permanent(op, err)
		}
	}

	// Anything that never reached the API (DNS, TLS, connection reset)
	// is worth retrying.
	return provider.Transient(op, err)
}
