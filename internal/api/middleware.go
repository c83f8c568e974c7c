package api

import (
	"context"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

const (
	headerRequestID = "X-Request-ID"
	maxRequestIDLen = 64
)

// RequestID propagates X-Request-ID. A missing or unusable incoming ID is
// replaced with a fresh uuid, written back onto the request so access logs
// and downstream handlers see the same value.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if !usableRequestID(id) {
			id = uuid.NewString()
			r.Header.Set(headerRequestID, id)
		}
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r)
	})
}

// usableRequestID accepts short printable IDs so a caller cannot inject
// log-breaking content through the header.
func usableRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	return !strings.ContainsFunc(id, func(c rune) bool { return c < 0x21 || c > 0x7e })
}

// Logger attaches log to each request and writes one access line per request.
// Captioning responses also log their run ID and cache result; health and
// metrics scrapes are logged at debug so scrapes do not drown the log.
func Logger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		access := hlog.AccessHandler(func(r *http.Request, status, size int, dur time.Duration) {
			ev := hlog.FromRequest(r).Info()
			if quietPath(r.URL.Path) {
				ev = hlog.FromRequest(r).Debug()
			}
			ev.Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Int("size", size).
				Dur("duration_ms", dur)
			if rw, ok := r.Context().Value(respHeadersKey{}).(http.Header); ok {
				if runID := rw.Get("X-Run-ID"); runID != "" {
					ev.Str("run_id", runID).Str("cache", rw.Get("X-Cache"))
				}
			}
			ev.Msg("request")
		})
		chain := hlog.NewHandler(log)(
			hlog.CustomHeaderHandler("request_id", headerRequestID)(
				hlog.RemoteAddrHandler("remote")(
					access(next))))
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), respHeadersKey{}, w.Header())
			chain.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// respHeadersKey carries the response header map so the access log can read
// headers set by the handler.
type respHeadersKey struct{}

func quietPath(p string) bool {
	return p == "/metrics" || p == "/api/v1/health"
}

// Recoverer turns a handler panic into a JSON 500 and logs the stack.
// http.ErrAbortHandler is re-raised so net/http can abort the connection.
func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rv := recover()
			if rv == nil {
				return
			}
			if rv == http.ErrAbortHandler {
				panic(rv)
			}
			hlog.FromRequest(r).Error().
				Interface("panic", rv).
				Str("path", r.URL.Path).
				Bytes("stack", debug.Stack()).
				Msg("handler panicked")
			WriteError(w, http.StatusInternalServerError, "internal server error")
		}()
		next.ServeHTTP(w, r)
	})
}
