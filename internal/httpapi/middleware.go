package httpapi

import (
	"crypto/subtle"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	logx "relaybot/pkg/logx"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		rid := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
		w.Header().Set("X-Request-Id", rid)

		defer func() {
			if p := recover(); p != nil {
				s.log.Error("panic in http handler", logx.String("rid", rid), logx.Any("panic", p), logx.String("stack", string(debug.Stack())))
				writeError(rec, http.StatusInternalServerError, "internal error")
			}
			route := r.URL.Path
			if cur := mux.CurrentRoute(r); cur != nil {
				if tpl, err := cur.GetPathTemplate(); err == nil {
					route = tpl
				}
			}
			fields := []logx.Field{
				logx.String("rid", rid),
				logx.String("method", r.Method),
				logx.String("route", route),
				logx.Int("status", rec.status),
				logx.Duration("dur", time.Since(start)),
			}
			if rec.status >= 500 {
				s.log.Warn("http request", fields...)
				return
			}
			s.log.Debug("http request", fields...)
		}()
		next.ServeHTTP(rec, r)
	})
}

func bearer(r *http.Request) string {
	ah := r.Header.Get("Authorization")
	const p = "Bearer "
	if len(ah) < len(p) || !strings.EqualFold(ah[:len(p)], p) {
		return ""
	}
	return strings.TrimSpace(ah[len(p):])
}

// requireSecret guards server-to-server endpoints with the static secret.
// An unset secret rejects every request.
func (s *Server) requireSecret(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		got, want := bearer(r), s.cfg.BroadcastSecret
		if want == "" || got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
			writeError(w, http.StatusForbidden, "Invalid or missing token")
			return
		}
		h(w, r)
	}
}
