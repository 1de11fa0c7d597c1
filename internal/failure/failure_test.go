package failure

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"empty series", fmt.Errorf("normalize: %w", ErrEmptySeries), KindEmptySeries},
		{"misaligned", fmt.Errorf("normalize: %w", ErrMisalignedArrays), KindMisalignedArrays},
		{"invalid timestamp", ErrInvalidTimestamp, KindInvalidTimestamp},
		{"narrative parse", fmt.Errorf("summary: %w", ErrNarrativeParse), KindNarrativeParseError},
		{"narrative unavailable", ErrNarrativeUnavailable, KindNarrativeUnavailable},
		{"risk score", ErrInvalidRiskScore, KindInvalidRiskScore},
		{"dispatch", fmt.Errorf("email: %w: smtp 550", ErrDispatchFailure), KindDispatchFailure},
		{"fetch", ErrFetchUnavailable, KindFetchUnavailable},
		{"fetch timeout keeps fetch kind", fmt.Errorf("%w: %w", ErrFetchUnavailable, context.DeadlineExceeded), KindFetchUnavailable},
		{"bare timeout", context.DeadlineExceeded, KindTimeout},
		{"unknown", errors.New("boom"), KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

func TestMessage_NeverEmpty(t *testing.T) {
	for _, k := range []Kind{KindEmptySeries, KindNarrativeParseError, KindNarrativeUnavailable, KindDispatchFailure, KindFetchUnavailable, KindTimeout, KindUnknown, "other"} {
		if Message(k) == "" {
			t.Errorf("Message(%q) is empty", k)
		}
	}
}

func TestIsDataIntegrity(t *testing.T) {
	if !IsDataIntegrity(fmt.Errorf("x: %w", ErrMisalignedArrays)) {
		t.Error("IsDataIntegrity(misaligned) = false, want true")
	}
	if IsDataIntegrity(ErrFetchUnavailable) {
		t.Error("IsDataIntegrity(fetch) = true, want false")
	}
}
