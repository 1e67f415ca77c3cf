// Package middleware holds the HTTP middleware the worker wraps around
// the phase engine; today that is the access log, the runtime face of
// the LOG phase.
package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/emberproxy/ember/internal/logger"
	"github.com/emberproxy/ember/internal/util"
)

type contextKey string

// RequestIDKey carries the per-request identifier through handler code.
const RequestIDKey contextKey = "request_id"

// StatusClientClosedRequest is logged when the client disconnected
// before the response completed.
const StatusClientClosedRequest = 499

// GetRequestID retrieves the request ID middleware stamped on ctx.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}

// recorder captures status and size for the log line, forwarding Flush
// so streamed responses stay unbuffered.
type recorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (r *recorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *recorder) Write(p []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(p)
	r.bytes += int64(n)
	return n, err
}

func (r *recorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// AccessLog assigns each request an ID and emits one line when the
// request finishes, whatever path it took through the phase engine.
func AccessLog(log *logger.StyledLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			start := time.Now()
			id := util.GenerateRequestID()
			ctx := context.WithValue(req.Context(), RequestIDKey, id)

			rec := &recorder{ResponseWriter: w}
			next.ServeHTTP(rec, req.WithContext(ctx))

			status := rec.status
			if status == 0 {
				status = http.StatusOK
			}
			// The client giving up mid-response is its own outcome, not
			// a server error.
			if ctx.Err() != nil || req.Context().Err() != nil {
				status = StatusClientClosedRequest
			}

			log.Info("access",
				"request_id", id,
				"remote", req.RemoteAddr,
				"method", req.Method,
				"uri", req.URL.RequestURI(),
				"proto", req.Proto,
				"host", req.Host,
				"status", status,
				"bytes", rec.bytes,
				"duration", logger.FormatDuration(time.Since(start)),
				"referer", req.Referer(),
				"user_agent", req.UserAgent(),
			)
		})
	}
}
