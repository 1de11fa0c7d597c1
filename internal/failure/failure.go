package failure

import (
	"context"
	"errors"
)

// Normalization-stage data integrity errors.
var (
	ErrEmptySeries      = errors.New("hourly series is empty")
	ErrMisalignedArrays = errors.New("hourly arrays are misaligned")
	ErrInvalidTimestamp = errors.New("hourly timestamp is invalid")
)

// Narrative contract errors.
var (
	ErrNarrativeParse       = errors.New("narrative response is not valid JSON")
	ErrNarrativeUnavailable = errors.New("narrative service unavailable")
	ErrInvalidRiskScore     = errors.New("risk score out of range")
)

// Delivery and upstream errors.
var (
	ErrDispatchFailure  = errors.New("notification dispatch failed")
	ErrFetchUnavailable = errors.New("forecast provider unavailable")
)

// Kind is a stable label for a pipeline failure, used in responses and metric labels.
type Kind string

const (
	KindEmptySeries          Kind = "EmptySeries"
	KindMisalignedArrays     Kind = "MisalignedArrays"
	KindInvalidTimestamp     Kind = "InvalidTimestamp"
	KindNarrativeParseError  Kind = "NarrativeParseError"
	KindNarrativeUnavailable Kind = "NarrativeUnavailable"
	KindInvalidRiskScore     Kind = "InvalidRiskScore"
	KindDispatchFailure      Kind = "DispatchFailure"
	KindFetchUnavailable     Kind = "FetchUnavailable"
	KindTimeout              Kind = "Timeout"
	KindUnknown              Kind = "Unknown"
)

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrEmptySeries, KindEmptySeries},
	{ErrMisalignedArrays, KindMisalignedArrays},
	{ErrInvalidTimestamp, KindInvalidTimestamp},
	{ErrNarrativeParse, KindNarrativeParseError},
	{ErrNarrativeUnavailable, KindNarrativeUnavailable},
	{ErrInvalidRiskScore, KindInvalidRiskScore},
	{ErrDispatchFailure, KindDispatchFailure},
	{ErrFetchUnavailable, KindFetchUnavailable},
}

// KindOf maps err to its Kind. Returns "" for nil.
// Sentinel matches take precedence over context errors, so a timed-out upstream
// call that was wrapped as FetchUnavailable stays FetchUnavailable.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTimeout
	}
	return KindUnknown
}

// Message returns a human-readable description for a kind, safe to show to
// operators and UI clients. It never includes the underlying error text.
func Message(k Kind) string {
	switch k {
	case KindEmptySeries, KindMisalignedArrays, KindInvalidTimestamp:
		return "Weather data was incomplete or malformed"
	case KindNarrativeParseError, KindInvalidRiskScore:
		return "Weather summary could not be understood"
	case KindNarrativeUnavailable:
		return "Weather summary service is unavailable"
	case KindDispatchFailure:
		return "Notification could not be delivered"
	case KindFetchUnavailable:
		return "Weather forecast provider is unavailable"
	case KindTimeout:
		return "Request timed out"
	default:
		return "Something went wrong"
	}
}

// IsDataIntegrity reports whether err is a normalization-stage input problem.
func IsDataIntegrity(err error) bool {
	return errors.Is(err, ErrEmptySeries) || errors.Is(err, ErrMisalignedArrays) || errors.Is(err, ErrInvalidTimestamp)
}
