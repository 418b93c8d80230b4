package httpx

import (
	"context"
	"io"
	"net/http"
	"time"

	"objpool/pkg/logger"
)

// Request is the unified request representation used by handlers.
// Handlers should prefer using Request.Ctx for cancellations/values.
type Request struct {
	Ctx        context.Context
	Method     string
	Path       string
	Header     http.Header
	Body       io.ReadCloser
	RemoteAddr string
	// Raw holds the underlying transport-specific request object
	// (e.g. *http.Request or *fasthttp.RequestCtx) for escape hatches.
	Raw interface{}
}

// ResponseWriter is a small subset of http.ResponseWriter semantics
// that we require from adapters.
type ResponseWriter interface {
	Header() http.Header
	Write([]byte) (int, error)
	WriteHeader(status int)
}

// HandlerFunc is the application handler signature used across adapters.
type HandlerFunc func(w ResponseWriter, r *Request)

// logCompletion emits a debug-level completion record shared by both
// transport adapters, so a request routed over fasthttp (which bypasses
// net/http's own logging middleware entirely) still leaves a trace.
func logCompletion(method, path, remote string, status int, start time.Time) {
	logger.Debug("http_request_completed",
		"method", method,
		"path", path,
		"remote", remote,
		"status", status,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
