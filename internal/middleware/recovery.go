// Package middleware provides HTTP middleware shared by the host's proxy
// and admin surfaces.
package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/google/uuid"

	"github.com/itsemmanuelingwani/sentra-lab/internal/event"
	"github.com/itsemmanuelingwani/sentra-lab/internal/logging"
)

// Recorder is the narrow interface the recovery middleware needs to emit
// an error-encountered event for a recovered panic; satisfied by
// *recorder.Recorder and the interceptor's own Recorder.
type Recorder interface {
	Record(ev event.Event)
}

// RecoveryMiddleware recovers from panics in downstream handlers, logs
// them, and records an error-encountered event so a panic shows up in the
// run's event stream alongside every other failure the host observes.
type RecoveryMiddleware struct {
	logger   *logging.Logger
	recorder Recorder
	runID    string
}

// NewRecoveryMiddleware creates a recovery middleware bound to logger and,
// when recorder is non-nil, emits an error-encountered event on every
// recovered panic.
func NewRecoveryMiddleware(logger *logging.Logger, recorder Recorder, runID string) *RecoveryMiddleware {
	return &RecoveryMiddleware{logger: logger, recorder: recorder, runID: runID}
}

// Handler returns the recovery middleware handler.
func (m *RecoveryMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				stack := debug.Stack()
				m.logger.WithContext(r.Context()).WithFields(map[string]interface{}{
					"panic":       fmt.Sprintf("%v", rec),
					"stack":       string(stack),
					"path":        r.URL.Path,
					"method":      r.Method,
					"remote_addr": r.RemoteAddr,
				}).Error("panic recovered")

				if m.recorder != nil {
					m.recorder.Record(event.New(uuid.NewString(), m.runID, event.KindErrorEncountered, map[string]any{
						"panic": fmt.Sprintf("%v", rec),
						"path":  r.URL.Path,
					}))
				}

				writeErrorResponse(w, http.StatusInternalServerError, "runtime-error", "internal server error", nil)
			}
		}()

		next.ServeHTTP(w, r)
	})
}
