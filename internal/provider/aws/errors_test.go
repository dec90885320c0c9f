package aws

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/smithy-go"

	"github.com/elsewhere-cli/elsewhere/internal/provider"
)

func apiError(code string) error {
	return &smithy.GenericAPIError{Code: code, Message: "test"}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantTransient bool
		wantPermanent bool
	}{
		{"nil", nil, false, false},
		{"throttling", apiError("RequestLimitExceeded"), true, false},
		{"throttling exception", apiError("ThrottlingException"), true, false},
		{"capacity", apiError("InsufficientInstanceCapacity"), true, false},
		{"dependency violation", apiError("DependencyViolation"), true, false},
		{"internal error", apiError("InternalError"), true, false},
		{"group not yet visible", apiError("InvalidGroup.NotFound"), true, false},
		{"instance not yet visible", apiError("InvalidInstanceID.NotFound"), true, false},
		{"unauthorized", apiError("UnauthorizedOperation"), false, true},
		{"auth failure", apiError("AuthFailure"), false, true},
		{"bad parameter", apiError("InvalidParameterValue"), false, true},
		{"vcpu limit", apiError("VcpuLimitExceeded"), false, true},
		{"unknown code", apiError("SomethingNew"), false, true},
		{"transport failure", fmt.Errorf("dial tcp: connection refused"), true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify("test op", tt.err)
			if tt.err == nil {
				if got != nil {
					t.Fatalf("classify(nil) = %v, want nil", got)
				}
				return
			}
			if provider.IsTransient(got) != tt.wantTransient {
				t.Errorf("IsTransient = %v, want %v", provider.IsTransient(got), tt.wantTransient)
			}
			if provider.IsPermanent(got) != tt.wantPermanent {
				t.Errorf("IsPermanent = %v, want %v", provider.IsPermanent(got), tt.wantPermanent)
			}
			if !errors.Is(got, tt.err) && !errors.As(got, new(smithy.APIError)) {
				t.Errorf("classified error does not wrap the original")
			}
		})
	}
}

func TestClassifyContextErrors(t *testing.T) {
	for _, err := range []error{context.Canceled, context.DeadlineExceeded} {
		got := classify("test op", err)
		if !errors.Is(got, err) {
			t.Errorf("classify(%v) = %v, want the context error passed through", err, got)
		}
		if provider.IsTransient(got) || provider.IsPermanent(got) {
			t.Errorf("context error %v should not be classified", err)
		}
	}
}

func TestIsNotFound(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{apiError("InvalidInstanceID.NotFound"), true},
		{apiError("InvalidGroup.NotFound"), true},
		{apiError("InvalidGroupId.NotFound"), true},
		{apiError("InvalidKeyPair.NotFound"), true},
		{apiError("UnauthorizedOperation"), false},
		{errors.New("plain"), false},
	}

	for _, tt := range tests {
		if got := isNotFound(tt.err); got != tt.want {
			t.Errorf("isNotFound(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
