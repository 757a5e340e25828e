package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"relaybot/internal/auth"
	"relaybot/internal/dispatch"
	"relaybot/internal/mailwatch"
	"relaybot/internal/metrics"
	"relaybot/internal/roster"
	"relaybot/internal/storage"
	logx "relaybot/pkg/logx"
)

type fakeBroadcaster struct{ msgs []dispatch.Message }

func (f *fakeBroadcaster) Broadcast(ctx context.Context, msg dispatch.Message) (dispatch.Report, error) {
	f.msgs = append(f.msgs, msg)
	return dispatch.Report{MessageID: "20240101000000_abcd1234", Recipients: 2, Delivered: 0, Failed: 2}, nil
}

type fakeNotifier struct{ ids []int64 }

func (f *fakeNotifier) NotifyAuthorized(ctx context.Context, userID int64) error {
	f.ids = append(f.ids, userID)
	return nil
}

type fakePush struct {
	pushes []mailwatch.Push
	err    error
}

func (f *fakePush) HandlePush(ctx context.Context, p mailwatch.Push) error {
	f.pushes = append(f.pushes, p)
	return f.err
}

type harness struct {
	srv      *Server
	bcast    *fakeBroadcaster
	official *fakeNotifier
	student  *fakeNotifier
	push     *fakePush
	auth     *auth.Service
}

const secret = "s3cret"

func newHarness(t *testing.T) *harness {
	t.Helper()
	r := roster.New(storage.NewMemory())
	if err := r.Save(context.Background(), roster.RoleOfficial, 1, roster.Profile{Email: "dean@x.edu", Name: "Dean"}); err != nil {
		t.Fatalf("seed roster: %v", err)
	}
	h := &harness{
		bcast:    &fakeBroadcaster{},
		official: &fakeNotifier{},
		student:  &fakeNotifier{},
		push:     &fakePush{},
		auth:     auth.NewService(auth.Config{BotToken: "T"}, r, auth.NewIssuer("k", "relaybot"), nil, logx.Nop()),
	}
	hook := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTeapot) })
	h.srv = New(Config{BroadcastSecret: secret, Pprof: true}, Deps{
		Auth:        h.auth,
		Broadcaster: h.bcast,
		Official:    h.official,
		Student:     h.student,
		Push:        h.push,
		Metrics:     metrics.New().Handler(),
		Webhooks:    map[string]http.Handler{"official": hook},
	})
	return h
}

func (h *harness) do(method, target, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func signed(id string) string {
	return auth.SignInitData(url.Values{
		"user":      {`{"id":` + id + `,"first_name":"A"}`},
		"auth_date": {"1000"},
	}, "T")
}

func detail(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return body.Detail
}

func TestValidatePath(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodGet, "/validate/"+url.PathEscape(signed("1")), "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body)
	}
	var res auth.LaunchResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil || res.Email != "dean@x.edu" || res.AccessToken == "" {
		t.Fatalf("result = %+v, %v", res, err)
	}

	rec = h.do(http.MethodGet, "/validate/"+url.PathEscape(signed("2")), "", nil)
	if rec.Code != http.StatusNotFound || detail(t, rec) != auth.NotAuthorizedMessage {
		t.Fatalf("unknown official = %d %s", rec.Code, rec.Body)
	}

	tampered := strings.Replace(signed("1"), "first_name%22%3A%22A", "first_name%22%3A%22B", 1)
	rec = h.do(http.MethodGet, "/validate/"+url.PathEscape(tampered), "", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("tampered = %d %s", rec.Code, rec.Body)
	}
}

func TestValidateBody(t *testing.T) {
	h := newHarness(t)
	body, _ := json.Marshal(map[string]string{"init_data": signed("1")})
	rec := h.do(http.MethodPost, "/auth/validate", string(body), map[string]string{"Content-Type": "application/json"})
	if rec.Code != http.StatusOK {
		t.Fatalf("json status = %d %s", rec.Code, rec.Body)
	}

	form := url.Values{"init_data": {signed("1")}}.Encode()
	rec = h.do(http.MethodPost, "/auth/validate", form, map[string]string{"Content-Type": "application/x-www-form-urlencoded"})
	if rec.Code != http.StatusOK {
		t.Fatalf("form status = %d %s", rec.Code, rec.Body)
	}

	rec = h.do(http.MethodPost, "/auth/validate", "{}", map[string]string{"Content-Type": "application/json"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty status = %d", rec.Code)
	}
}

func TestRefreshNotImplemented(t *testing.T) {
	h := newHarness(t)
	if rec := h.do(http.MethodPost, "/refresh", "", nil); rec.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestMessageRequiresSecret(t *testing.T) {
	h := newHarness(t)
	body := `{"text":"hello","user":{"email":"dean@x.edu","name":"Dean"}}`

	if rec := h.do(http.MethodPost, "/message", body, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("no bearer = %d", rec.Code)
	}
	if rec := h.do(http.MethodPost, "/message", body, map[string]string{"Authorization": "Bearer nope"}); rec.Code != http.StatusForbidden {
		t.Fatalf("wrong bearer = %d", rec.Code)
	}
	if len(h.bcast.msgs) != 0 {
		t.Fatal("unauthenticated request reached the dispatcher")
	}

	rec := h.do(http.MethodPost, "/message", body, map[string]string{"Authorization": "Bearer " + secret})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d %s", rec.Code, rec.Body)
	}
	var rep dispatch.Report
	if err := json.Unmarshal(rec.Body.Bytes(), &rep); err != nil || rep.Failed != 2 {
		t.Fatalf("report = %+v, %v", rep, err)
	}
	if len(h.bcast.msgs) != 1 || h.bcast.msgs[0].User.Email != "dean@x.edu" {
		t.Fatalf("broadcasts = %+v", h.bcast.msgs)
	}

	rec = h.do(http.MethodPost, "/message", `{"text":"  "}`, map[string]string{"Authorization": "Bearer " + secret})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("blank text = %d", rec.Code)
	}
}

func TestRichMessageUsesTokenIdentity(t *testing.T) {
	h := newHarness(t)
	res, err := h.auth.ValidateLaunch(context.Background(), signed("1"))
	if err != nil {
		t.Fatalf("ValidateLaunch: %v", err)
	}
	body := `{"text":"<b>exam</b>","attachments":[{"url":"https://x/a.pdf","content_type":"document","file_name":"a.pdf"}]}`

	rec := h.do(http.MethodPost, "/message/rich", body, map[string]string{"Authorization": "Bearer " + res.RefreshToken})
	if rec.Code != http.StatusUnauthorized || rec.Header().Get("WWW-Authenticate") != "Bearer" {
		t.Fatalf("refresh token = %d", rec.Code)
	}

	rec = h.do(http.MethodPost, "/message/rich", body, map[string]string{"Authorization": "Bearer " + res.AccessToken})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d %s", rec.Code, rec.Body)
	}
	got := h.bcast.msgs[0]
	if got.User != (dispatch.Sender{Email: "dean@x.edu", Name: "Dean"}) || len(got.Attachments) != 1 {
		t.Fatalf("message = %+v", got)
	}
}

func TestAuthComplete(t *testing.T) {
	h := newHarness(t)
	hdr := map[string]string{"Authorization": "Bearer " + secret}

	if rec := h.do(http.MethodGet, "/auth-complete/7?is_official=true", "", hdr); rec.Code != http.StatusOK {
		t.Fatalf("official = %d", rec.Code)
	}
	if rec := h.do(http.MethodGet, "/auth-complete/8", "", hdr); rec.Code != http.StatusOK {
		t.Fatalf("student = %d", rec.Code)
	}
	if len(h.official.ids) != 1 || h.official.ids[0] != 7 || len(h.student.ids) != 1 || h.student.ids[0] != 8 {
		t.Fatalf("notified official=%v student=%v", h.official.ids, h.student.ids)
	}
	if rec := h.do(http.MethodGet, "/auth-complete/abc", "", hdr); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad id = %d", rec.Code)
	}
	if rec := h.do(http.MethodGet, "/auth-complete/7", "", nil); rec.Code != http.StatusForbidden {
		t.Fatalf("no bearer = %d", rec.Code)
	}
}

func TestReceivePushAlwaysAcknowledges(t *testing.T) {
	h := newHarness(t)
	data := base64.StdEncoding.EncodeToString([]byte(`{"emailAddress":"Ada@X.edu","historyId":42}`))
	envelope := `{"message":{"data":"` + data + `"}}`

	for _, tc := range []struct {
		name string
		body string
		err  error
	}{
		{name: "valid", body: envelope},
		{name: "malformed", body: "not json"},
		{name: "handler error", body: envelope, err: mailwatch.ErrReauthorize},
	} {
		h.push.err = tc.err
		rec := h.do(http.MethodPost, "/push-handlers/receive_messages", tc.body, nil)
		if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"OK"`) {
			t.Fatalf("%s: status = %d %s", tc.name, rec.Code, rec.Body)
		}
	}
	if len(h.push.pushes) != 2 {
		t.Fatalf("pushes = %+v", h.push.pushes)
	}
	if p := h.push.pushes[0]; p.EmailAddress != "ada@x.edu" || p.HistoryID != 42 {
		t.Fatalf("push = %+v", p)
	}
}

func TestWebhookAndOps(t *testing.T) {
	h := newHarness(t)
	if rec := h.do(http.MethodPost, "/telegram/official", "{}", nil); rec.Code != http.StatusTeapot {
		t.Fatalf("webhook = %d", rec.Code)
	}
	if rec := h.do(http.MethodPost, "/telegram/nobody", "{}", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown webhook = %d", rec.Code)
	}
	if rec := h.do(http.MethodGet, "/healthz", "", nil); rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz = %d %q", rec.Code, rec.Body)
	}
	if rec := h.do(http.MethodGet, "/metrics", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("metrics = %d", rec.Code)
	}
	if rec := h.do(http.MethodGet, "/debug/pprof/cmdline", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("pprof = %d", rec.Code)
	}
	if rec := h.do(http.MethodGet, "/", "", nil); rec.Code != http.StatusOK || rec.Header().Get("X-Request-Id") == "" {
		t.Fatalf("welcome = %d", rec.Code)
	}
}
