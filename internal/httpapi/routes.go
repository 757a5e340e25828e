package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	hpprof "net/http/pprof"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"relaybot/internal/auth"
	"relaybot/internal/dispatch"
	"relaybot/internal/mailwatch"
	logx "relaybot/pkg/logx"
)

const maxBody = 1 << 20

func (s *Server) routes() http.Handler {
	r := mux.NewRouter()
	r.Use(s.requestLog)

	r.HandleFunc("/", s.welcome).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet)

	r.HandleFunc("/validate/{init_data:.+}", s.validatePath).Methods(http.MethodGet)
	r.HandleFunc("/auth/validate", s.validateBody).Methods(http.MethodPost)
	r.HandleFunc("/refresh", s.refresh).Methods(http.MethodPost)

	r.HandleFunc("/message", s.requireSecret(s.message)).Methods(http.MethodPost)
	r.HandleFunc("/message/rich", s.richMessage).Methods(http.MethodPost)
	r.HandleFunc("/auth-complete/{user_id}", s.requireSecret(s.authComplete)).Methods(http.MethodGet)

	r.HandleFunc("/push-handlers/receive_messages", s.receivePush).Methods(http.MethodPost)
	r.HandleFunc("/telegram/{bot}", s.webhook).Methods(http.MethodPost)

	if s.d.Metrics != nil {
		r.Handle("/metrics", s.d.Metrics).Methods(http.MethodGet)
	}
	if s.cfg.Pprof {
		pp := r.PathPrefix("/debug/pprof").Subrouter()
		pp.HandleFunc("/cmdline", hpprof.Cmdline)
		pp.HandleFunc("/profile", hpprof.Profile)
		pp.HandleFunc("/symbol", hpprof.Symbol)
		pp.HandleFunc("/trace", hpprof.Trace)
		pp.PathPrefix("/").HandlerFunc(hpprof.Index)
	}
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func ok(w http.ResponseWriter) { writeJSON(w, http.StatusOK, map[string]string{"message": "OK"}) }

func (s *Server) welcome(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "welcome"})
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) validatePath(w http.ResponseWriter, r *http.Request) {
	s.validate(w, r, mux.Vars(r)["init_data"])
}

// validateBody accepts {"init_data": "..."} or a form field of the same name.
func (s *Server) validateBody(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	var raw string
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var body struct {
			InitData string `json:"init_data"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		raw = body.InitData
	} else {
		if err := r.ParseForm(); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		raw = r.PostForm.Get("init_data")
	}
	if raw == "" {
		writeError(w, http.StatusBadRequest, "init_data is required")
		return
	}
	s.validate(w, r, raw)
}

func (s *Server) validate(w http.ResponseWriter, r *http.Request, raw string) {
	res, err := s.d.Auth.ValidateLaunch(r.Context(), raw)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, res)
	case errors.Is(err, auth.ErrInvalidSignature):
		writeError(w, http.StatusForbidden, "Invalid data signature. Access forbidden.")
	case errors.Is(err, auth.ErrNotAuthorized):
		writeError(w, http.StatusNotFound, auth.NotAuthorizedMessage)
	default:
		s.log.Error("validate launch failed", logx.Err(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotImplemented, "token refresh is not implemented")
}

// message is the server-to-server broadcast. Per-recipient failures never
// fail the request.
func (s *Server) message(w http.ResponseWriter, r *http.Request) {
	var msg dispatch.Message
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&msg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.broadcast(w, r, msg)
}

type richMessage struct {
	Text        string                `json:"text"`
	Attachments []dispatch.Attachment `json:"attachments"`
}

// richMessage broadcasts a message composed in the mini-app editor on
// behalf of the token's Official.
func (s *Server) richMessage(w http.ResponseWriter, r *http.Request) {
	claims, err := s.d.Auth.Authenticate(bearer(r))
	if err != nil {
		w.Header().Set("WWW-Authenticate", "Bearer")
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var body richMessage
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	email, _ := claims["email"].(string)
	name, _ := claims["name"].(string)
	s.broadcast(w, r, dispatch.Message{
		Text:        body.Text,
		User:        dispatch.Sender{Email: email, Name: name},
		Attachments: body.Attachments,
	})
}

func (s *Server) broadcast(w http.ResponseWriter, r *http.Request, msg dispatch.Message) {
	if strings.TrimSpace(msg.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	rep, err := s.d.Broadcaster.Broadcast(r.Context(), msg)
	if err != nil {
		s.log.Error("broadcast failed", logx.Err(err))
		writeError(w, http.StatusInternalServerError, "message could not be stored")
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// authComplete is called by the OAuth front door once a user is recorded.
// ?is_official=true addresses the official bot.
func (s *Server) authComplete(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(mux.Vars(r)["user_id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	n := s.d.Student
	if official, _ := strconv.ParseBool(r.URL.Query().Get("is_official")); official {
		n = s.d.Official
	}
	if err := n.NotifyAuthorized(r.Context(), userID); err != nil {
		s.log.Warn("auth-complete notice not sent", logx.Int64("user_id", userID), logx.Err(err))
		writeError(w, http.StatusBadGateway, "notification could not be sent")
		return
	}
	ok(w)
}

// receivePush always acknowledges so Pub/Sub does not redeliver; drops are logged.
func (s *Server) receivePush(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		s.log.Warn("push body unreadable", logx.Err(err))
		ok(w)
		return
	}
	if s.d.Push == nil {
		s.log.Debug("push ignored; mail integration disabled")
		ok(w)
		return
	}
	p, err := mailwatch.DecodePush(body)
	if err != nil {
		s.log.Warn("push dropped", logx.Err(err))
		ok(w)
		return
	}
	if err := s.d.Push.HandlePush(r.Context(), p); err != nil {
		s.log.Warn("push not delivered", logx.String("email", p.EmailAddress), logx.Err(err))
	}
	ok(w)
}

func (s *Server) webhook(w http.ResponseWriter, r *http.Request) {
	h := s.d.Webhooks[mux.Vars(r)["bot"]]
	if h == nil {
		writeError(w, http.StatusNotFound, "unknown bot")
		return
	}
	h.ServeHTTP(w, r)
}
