package security

import (
	"context"
	"fmt"
	"time"

	"github.com/emberproxy/ember/internal/core/constants"
	"github.com/emberproxy/ember/internal/core/ports"
	"github.com/emberproxy/ember/internal/logger"
)

// SizeLimiter rejects requests whose declared body or header size
// exceeds the configured caps; the client_max_body_size location
// directive can tighten the body cap further downstream.
type SizeLimiter struct {
	maxBodySize   int64
	maxHeaderSize int64
	metrics       ports.SecurityMetricsService
	log           *logger.StyledLogger
}

func NewSizeLimiter(maxBodySize, maxHeaderSize int64, metrics ports.SecurityMetricsService, log *logger.StyledLogger) *SizeLimiter {
	return &SizeLimiter{
		maxBodySize:   maxBodySize,
		maxHeaderSize: maxHeaderSize,
		metrics:       metrics,
		log:           log,
	}
}

func (sl *SizeLimiter) Name() string { return "size-limit" }

func (sl *SizeLimiter) Validate(ctx context.Context, req ports.SecurityRequest) (ports.SecurityResult, error) {
	if sl.maxBodySize > 0 && req.BodySize > sl.maxBodySize {
		return sl.deny(ctx, req, req.BodySize,
			fmt.Sprintf("request body %d exceeds limit %d", req.BodySize, sl.maxBodySize)), nil
	}
	if sl.maxHeaderSize > 0 && req.HeaderSize > sl.maxHeaderSize {
		return sl.deny(ctx, req, req.HeaderSize,
			fmt.Sprintf("request headers %d exceed limit %d", req.HeaderSize, sl.maxHeaderSize)), nil
	}
	return ports.SecurityResult{Allowed: true}, nil
}

func (sl *SizeLimiter) deny(ctx context.Context, req ports.SecurityRequest, size int64, reason string) ports.SecurityResult {
	if sl.metrics != nil {
		_ = sl.metrics.RecordViolation(ctx, ports.SecurityViolation{
			ClientID:      req.ClientID,
			ViolationType: constants.ViolationSizeLimit,
			Endpoint:      req.Endpoint,
			Size:          size,
			Timestamp:     time.Now(),
		})
	}
	sl.log.Debug("size limit exceeded", "client", req.ClientID, "size", size)
	return ports.SecurityResult{Allowed: false, Reason: reason, ViolationType: constants.ViolationSizeLimit}
}

var _ ports.SecurityValidator = (*SizeLimiter)(nil)
