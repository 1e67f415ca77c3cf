package ports

import (
	"context"
	"time"
)

// SecurityRequest is the slice of a request the PREACCESS validators see.
type SecurityRequest struct {
	ClientID   string
	Endpoint   string
	Method     string
	BodySize   int64
	HeaderSize int64
}

// SecurityResult is a validator's verdict. ViolationType names the
// constants.Violation* kind on denial so the phase engine can map it to
// the right status code; RetryAfter and the limit fields are advisory,
// surfaced to the client as response headers.
type SecurityResult struct {
	Allowed       bool
	Reason        string
	ViolationType string
	RetryAfter    int
	RateLimit     int
	Remaining     int
	ResetTime     time.Time
}

type SecurityViolation struct {
	ClientID      string
	ViolationType string
	Endpoint      string
	Size          int64
	Timestamp     time.Time
}

type SecurityMetrics struct {
	RateLimitViolations  int64
	SizeLimitViolations  int64
	UniqueRateLimitedIPs int
}

type SecurityValidator interface {
	Validate(ctx context.Context, req SecurityRequest) (SecurityResult, error)
	Name() string
}

// SecurityChain runs validators in registration order and stops at the
// first denial, the same short-circuit the phase engine applies to its
// handler lists.
type SecurityChain struct {
	validators []SecurityValidator
}

func NewSecurityChain(validators ...SecurityValidator) *SecurityChain {
	return &SecurityChain{validators: validators}
}

func (sc *SecurityChain) Validate(ctx context.Context, req SecurityRequest) (SecurityResult, error) {
	for _, v := range sc.validators {
		result, err := v.Validate(ctx, req)
		if err != nil {
			return result, err
		}
		if !result.Allowed {
			return result, nil
		}
	}
	return SecurityResult{Allowed: true}, nil
}

func (sc *SecurityChain) Name() string { return "chain" }

func (sc *SecurityChain) GetValidators() []SecurityValidator { return sc.validators }

type SecurityMetricsService interface {
	RecordViolation(ctx context.Context, violation SecurityViolation) error
	GetMetrics(ctx context.Context) (SecurityMetrics, error)
}
