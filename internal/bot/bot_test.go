package bot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"relaybot/internal/callback"
	"relaybot/internal/conversation"
	"relaybot/internal/dispatch"
	"relaybot/internal/mailwatch"
	"relaybot/internal/roster"
	"relaybot/internal/state"
	"relaybot/internal/storage"
	kit "relaybot/internal/transport"
	"relaybot/internal/transport/transporttest"
)

type fakeBroadcaster struct {
	mu   sync.Mutex
	msgs []dispatch.Message
	err  error
}

func (f *fakeBroadcaster) Broadcast(ctx context.Context, msg dispatch.Message) (dispatch.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msg)
	if f.err != nil {
		return dispatch.Report{}, f.err
	}
	return dispatch.Report{MessageID: "m1", Recipients: 1, Delivered: 1}, nil
}

type fakeDownloader struct{ reqs []dispatch.DownloadRequest }

func (f *fakeDownloader) Download(ctx context.Context, req dispatch.DownloadRequest) error {
	f.reqs = append(f.reqs, req)
	return nil
}

type fakeMail struct {
	reqs    []mailwatch.ActionRequest
	actions []callback.Action
}

func (f *fakeMail) HandleAction(ctx context.Context, req mailwatch.ActionRequest, a callback.Action) error {
	f.reqs = append(f.reqs, req)
	f.actions = append(f.actions, a)
	return nil
}

func msg(chat int64, text string) kit.Update {
	return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: chat, FromID: chat, Text: text}}
}

func press(chat int64, data string) kit.Update {
	return kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{ID: "cb1", ChatID: chat, FromID: chat, MessageID: 9, Data: data}}
}

func choice(name string, yes bool) string {
	return callback.MustEncode(callback.NSCompose, callback.Choice{Name: name, Yes: yes})
}

type officialHarness struct {
	fake   *transporttest.Fake
	bcast  *fakeBroadcaster
	convs  *conversation.Repo
	router *Router
}

func newOfficialHarness(t *testing.T) *officialHarness {
	t.Helper()
	docs := storage.NewMemory()
	r := roster.New(docs)
	if err := r.Save(context.Background(), roster.RoleOfficial, 1, roster.Profile{Email: "dean@x.edu", Name: "Dean"}); err != nil {
		t.Fatalf("seed roster: %v", err)
	}
	h := &officialHarness{
		fake:  transporttest.New(),
		bcast: &fakeBroadcaster{},
		convs: conversation.NewRepo(state.NewDocStore(docs, state.DefaultTTL)),
	}
	o := NewOfficial(OfficialConfig{AuthURLBase: "https://auth/"}, h.fake, r, h.convs, h.bcast)
	h.router = NewRouter(officialBot, h.fake, o.Handlers(), Options{})
	return h
}

func (h *officialHarness) process(t *testing.T, ups ...kit.Update) {
	t.Helper()
	for _, up := range ups {
		if err := h.router.Process(context.Background(), up); err != nil {
			t.Fatalf("Process: %v", err)
		}
	}
}

func texts(sent []transporttest.Sent) []string {
	out := make([]string, len(sent))
	for i, s := range sent {
		out[i] = s.Text
	}
	return out
}

func TestOfficialComposeWithoutAttachments(t *testing.T) {
	h := newOfficialHarness(t)
	h.process(t,
		msg(1, "/send_message"),
		msg(1, "exam moved"),
		press(1, choice(conversation.ChoiceAttach, false)),
	)

	sent := h.fake.SentTo(1)
	if len(sent) != 5 {
		t.Fatalf("sends = %q", texts(sent))
	}
	if sent[0].Text != conversation.TextAskMessage || sent[1].Text != conversation.TextAskAttach {
		t.Fatalf("prompts = %q", texts(sent))
	}
	if got := sent[1].Opt.Markup; len(got) != 1 || got[0][0].Data != choice(conversation.ChoiceAttach, true) || got[0][0].Text != yesLabel {
		t.Fatalf("attach markup = %+v", got)
	}
	if sent[2].Text != conversation.TextConfirm || sent[3].Text != previewDivider {
		t.Fatalf("preview header = %q", texts(sent))
	}
	want := dispatch.Format(dispatch.Message{Text: "exam moved", User: dispatch.Sender{Email: "dean@x.edu", Name: "Dean"}})
	if sent[4].Text != want {
		t.Fatalf("preview = %q, want %q", sent[4].Text, want)
	}
	if m := sent[4].Opt.Markup; len(m) != 1 || m[0][1].Data != choice(conversation.ChoiceConfirm, false) {
		t.Fatalf("confirm markup = %+v", m)
	}

	h.process(t, press(1, choice(conversation.ChoiceConfirm, true)))
	sent = h.fake.SentTo(1)
	if len(sent) != 7 || sent[5].Text != conversation.TextSending || sent[6].Text != sentOKText {
		t.Fatalf("after confirm = %q", texts(sent))
	}
	if len(h.bcast.msgs) != 1 || h.bcast.msgs[0].Text != "exam moved" || h.bcast.msgs[0].User.Email != "dean@x.edu" {
		t.Fatalf("broadcasts = %+v", h.bcast.msgs)
	}
	st, err := h.convs.Load(context.Background(), state.Key(officialBot, 1))
	if err != nil || st.Kind() != conversation.KindIdle {
		t.Fatalf("state after confirm = %v, %v", st, err)
	}
	if n := len(h.fake.Answers()); n != 2 {
		t.Fatalf("answered %d callbacks, want 2", n)
	}
}

func TestOfficialComposeWithAttachment(t *testing.T) {
	h := newOfficialHarness(t)
	h.fake.FileURLs["F1"] = "https://files/F1"
	h.process(t,
		msg(1, "/send_message"),
		msg(1, "timetable"),
		press(1, choice(conversation.ChoiceAttach, true)),
		kit.Update{Kind: kit.UpdateMedia, Media: &kit.Media{ChatID: 1, FromID: 1, Kind: kit.MediaPhoto, FileID: "F1"}},
		msg(1, "/done"),
	)

	sent := h.fake.SentTo(1)
	if len(sent) != 8 {
		t.Fatalf("sends = %q", texts(sent))
	}
	if sent[2].Text != conversation.TextSendFiles || sent[3].Text != conversation.TextFileAdded {
		t.Fatalf("collect prompts = %q", texts(sent))
	}
	if sent[6].Opt.Markup != nil {
		t.Fatal("preview text should carry no buttons when attachments follow")
	}
	media := sent[7]
	if media.Kind != kit.MediaPhoto || media.FileID != "F1" || len(media.Opt.Markup) != 1 {
		t.Fatalf("preview attachment = %+v", media)
	}

	st, err := h.convs.Load(context.Background(), state.Key(officialBot, 1))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	ac, ok := st.(conversation.AwaitingConfirmation)
	if !ok || len(ac.Attachments) != 1 {
		t.Fatalf("state = %#v", st)
	}
	if a := ac.Attachments[0]; a.URL != "https://files/F1" || a.FileName == "" || a.ContentType != "photo" {
		t.Fatalf("attachment = %+v", a)
	}
}

func TestOfficialUnauthorized(t *testing.T) {
	h := newOfficialHarness(t)
	h.process(t, msg(2, "/send_message"), msg(2, "hello"))

	sent := h.fake.SentTo(2)
	if len(sent) != 1 || sent[0].Text != officialWelcomeText {
		t.Fatalf("sends = %q", texts(sent))
	}
	if got := sent[0].Opt.Markup[0][0].URL; got != "https://auth/authorize/2?is_official=true" {
		t.Fatalf("authorize url = %q", got)
	}
}

func TestOfficialStartAndCancel(t *testing.T) {
	h := newOfficialHarness(t)
	h.process(t, msg(1, "/start"), msg(1, "/cancel"), msg(1, "/send_message"), msg(1, "/cancel@relay_bot"))

	got := texts(h.fake.SentTo(1))
	want := []string{
		"You're already verified as Dean - dean@x.edu. Feel free to continue using the bot",
		conversation.TextNothingToAbort,
		conversation.TextAskMessage,
		conversation.TextCanceled,
	}
	if len(got) != len(want) {
		t.Fatalf("sends = %q", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("send %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestOfficialBroadcastFailureReported(t *testing.T) {
	h := newOfficialHarness(t)
	h.bcast.err = errors.New("store down")
	h.process(t,
		msg(1, "/send_message"),
		msg(1, "x"),
		press(1, choice(conversation.ChoiceAttach, false)),
	)
	err := h.router.Process(context.Background(), press(1, choice(conversation.ChoiceConfirm, true)))
	if err == nil {
		t.Fatal("expected broadcast error")
	}
	sent := h.fake.SentTo(1)
	if last := sent[len(sent)-1].Text; last != sentFailText {
		t.Fatalf("last send = %q", last)
	}
}

func TestUnknownCommandAndCallback(t *testing.T) {
	h := newOfficialHarness(t)
	h.process(t, msg(1, "/nope"), press(1, "garbage"), press(1, "bc*download*m*0*"))

	if sent := h.fake.SentTo(1); len(sent) != 1 || sent[0].Text != unknownCommandText {
		t.Fatalf("sends = %q", texts(sent))
	}
	answers := h.fake.Answers()
	if len(answers) != 2 || answers[0].Text != "Unsupported action" || answers[1].Text != "Unsupported action" {
		t.Fatalf("answers = %+v", answers)
	}
}

func newStudent(t *testing.T, mail MailActions) (*transporttest.Fake, *fakeDownloader, *Router) {
	t.Helper()
	docs := storage.NewMemory()
	r := roster.New(docs)
	_ = r.Save(context.Background(), roster.RoleStudent, 5, roster.Profile{Email: "ada@stu.x.edu", Name: "Ada"})
	fake := transporttest.New()
	dl := &fakeDownloader{}
	s := NewStudent(StudentConfig{AuthURLBase: "https://auth/"}, fake, r, dl, mail)
	return fake, dl, NewRouter("student", fake, s.Handlers(), Options{})
}

func TestStudentStart(t *testing.T) {
	fake, _, router := newStudent(t, nil)
	ctx := context.Background()
	_ = router.Process(ctx, msg(5, "/start"))
	_ = router.Process(ctx, msg(6, "/start"))

	if got := fake.SentTo(5); len(got) != 1 || got[0].Text != "You're already verified with your Covenant University email ada@stu.x.edu. Feel free to continue using the bot." {
		t.Fatalf("verified reply = %q", texts(got))
	}
	got := fake.SentTo(6)
	if len(got) != 1 || got[0].Text != studentWelcomeText || got[0].Opt.Markup[0][0].URL != "https://auth/authorize/6" {
		t.Fatalf("welcome reply = %+v", got)
	}
}

func TestStudentCallbacks(t *testing.T) {
	mail := &fakeMail{}
	fake, dl, router := newStudent(t, mail)
	ctx := context.Background()

	if err := router.Process(ctx, press(5, "bc*download*20240101120000_ab12cd34*1*")); err != nil {
		t.Fatalf("download: %v", err)
	}
	want := dispatch.DownloadRequest{ChatID: 5, ReplyTo: 9, MessageID: "20240101120000_ab12cd34", Index: 1}
	if len(dl.reqs) != 1 || dl.reqs[0] != want {
		t.Fatalf("download requests = %+v", dl.reqs)
	}

	if err := router.Process(ctx, press(5, "mail*mark_as_read*abc*")); err != nil {
		t.Fatalf("mail: %v", err)
	}
	if len(mail.reqs) != 1 || mail.reqs[0].UserID != 5 || mail.reqs[0].Ref != (kit.MessageRef{ChatID: 5, MessageID: 9}) {
		t.Fatalf("mail requests = %+v", mail.reqs)
	}
	if a, ok := mail.actions[0].(callback.MarkRead); !ok || a.MessageID != "abc" {
		t.Fatalf("mail action = %#v", mail.actions[0])
	}
	if n := len(fake.Answers()); n != 2 {
		t.Fatalf("answered %d callbacks, want 2", n)
	}
}

func TestStudentMailDisabled(t *testing.T) {
	fake, _, router := newStudent(t, nil)
	_ = router.Process(context.Background(), press(5, "mail*mark_as_read*abc*"))
	if got := fake.SentTo(5); len(got) != 1 || got[0].Text != mailOffText {
		t.Fatalf("sends = %q", texts(got))
	}
}

func TestRouterKeepsPerChatOrder(t *testing.T) {
	fake := transporttest.New()
	var (
		mu   sync.Mutex
		seen = map[int64][]string{}
	)
	h := Handlers{Text: func(ctx context.Context, req *Request) error {
		mu.Lock()
		seen[req.Chat.ChatID] = append(seen[req.Chat.ChatID], req.Update.Message.Text)
		mu.Unlock()
		return nil
	}}
	r := NewRouter("test", fake, h, Options{Workers: 3, QueueSize: 256})
	updates := make(chan kit.Update)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, updates) }()

	const perChat = 50
	for i := 0; i < perChat; i++ {
		for chat := int64(1); chat <= 4; chat++ {
			updates <- msg(chat, string(rune('a'+i%26))+string(rune('0'+i/26)))
		}
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := 0
		for _, v := range seen {
			n += len(v)
		}
		mu.Unlock()
		if n == 4*perChat || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	for chat := int64(1); chat <= 4; chat++ {
		got := seen[chat]
		if len(got) != perChat {
			t.Fatalf("chat %d handled %d updates", chat, len(got))
		}
		for i, text := range got {
			if want := string(rune('a'+i%26)) + string(rune('0'+i/26)); text != want {
				t.Fatalf("chat %d update %d = %q, want %q", chat, i, text, want)
			}
		}
	}
}

func TestParseCommand(t *testing.T) {
	word, args, ok := parseCommand("  /Start@relay_bot a b ")
	if !ok || word != "start" || len(args) != 2 {
		t.Fatalf("parseCommand = %q %v %v", word, args, ok)
	}
	if _, _, ok := parseCommand("hello /start"); ok {
		t.Fatal("text should not parse as a command")
	}
}
