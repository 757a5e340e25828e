package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "relaybot/internal/runtime/supervisor"
	kit "relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

type Mode string

const (
	ModePoll    Mode = "poll"
	ModeWebhook Mode = "webhook"
)

type Config struct {
	Name        string // "official" or "student"; used in logs and webhook paths
	Token       string
	Mode        Mode
	PollTimeout time.Duration
	PublicURL   string // webhook only: full public URL of this bot's endpoint
	SecretToken string // webhook only: X-Telegram-Bot-Api-Secret-Token

	// RequestTimeout bounds one Bot API call; getUpdates also gets PollTimeout on top.
	RequestTimeout time.Duration
}

const defaultRequestTimeout = 10 * time.Second

// apiClient is the HTTP client telebot uses for every Bot API call.
func apiClient(cfg Config, poll time.Duration) *http.Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &http.Client{Timeout: timeout + poll}
}

// Adapter relays updates and sends through a single Telegram bot.
type Adapter struct {
	cfg Config
	log logx.Logger

	bot     *tele.Bot
	webhook *tele.Webhook

	out     atomic.Value // chan<- kit.Update
	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	dropped atomic.Uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("telegram %s: token is empty", cfg.Name)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log}

	var (
		poller tele.Poller
		poll   time.Duration
	)
	switch cfg.Mode {
	case ModeWebhook:
		if strings.TrimSpace(cfg.PublicURL) == "" {
			return nil, fmt.Errorf("telegram %s: webhook mode requires public_url", cfg.Name)
		}
		// Listen is left empty: updates arrive through ServeHTTP mounted on the app router.
		a.webhook = &tele.Webhook{
			Endpoint:       &tele.WebhookEndpoint{PublicURL: cfg.PublicURL},
			SecretToken:    cfg.SecretToken,
			AllowedUpdates: []string{"message", "callback_query"},
		}
		poller = a.webhook
	default:
		poll = cfg.PollTimeout
		if poll <= 0 {
			poll = 10 * time.Second
		}
		poller = &tele.LongPoller{Timeout: poll}
	}

	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: poller,
		Client: apiClient(cfg, poll),
		OnError: func(err error, c tele.Context) {
			log.Warn("telebot error", logx.Err(err))
		},
	})
	if err != nil {
		return nil, err
	}
	a.bot = b

	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.registerHandlers()
	return a, nil
}

// Webhook returns the HTTP handler for webhook mode, nil when polling.
func (a *Adapter) Webhook() http.Handler {
	if a.webhook == nil {
		return nil
	}
	return a.webhook
}

func (a *Adapter) Name() string { return a.cfg.Name }

func (a *Adapter) registerHandlers() {
	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Sender == nil {
			return nil
		}
		a.forward(kit.Update{
			Kind: kit.UpdateMessage,
			Message: &kit.Message{
				ID:        m.ID,
				ChatID:    m.Chat.ID,
				FromID:    m.Sender.ID,
				FromName:  strings.TrimSpace(m.Sender.FirstName + " " + m.Sender.LastName),
				Username:  m.Sender.Username,
				Text:      m.Text,
				IsCommand: strings.HasPrefix(m.Text, "/"),
			},
		})
		return nil
	})

	a.bot.Handle(tele.OnCallback, func(c tele.Context) error {
		cb := c.Callback()
		m := c.Message()
		if cb == nil || m == nil || cb.Sender == nil {
			return nil
		}
		a.forward(kit.Update{
			Kind: kit.UpdateCallback,
			Callback: &kit.Callback{
				ID:        cb.ID,
				ChatID:    m.Chat.ID,
				FromID:    cb.Sender.ID,
				MessageID: m.ID,
				Data:      cb.Data,
			},
		})
		return nil
	})

	media := func(kind kit.MediaKind, pick func(m *tele.Message) (tele.File, string, bool)) tele.HandlerFunc {
		return func(c tele.Context) error {
			m := c.Message()
			if m == nil || m.Sender == nil {
				return nil
			}
			f, name, ok := pick(m)
			if !ok {
				return nil
			}
			a.forward(kit.Update{
				Kind: kit.UpdateMedia,
				Media: &kit.Media{
					MessageID: m.ID,
					ChatID:    m.Chat.ID,
					FromID:    m.Sender.ID,
					Kind:      kind,
					FileID:    f.FileID,
					FileName:  name,
					Caption:   m.Caption,
				},
			})
			return nil
		}
	}
	a.bot.Handle(tele.OnAudio, media(kit.MediaAudio, func(m *tele.Message) (tele.File, string, bool) {
		if m.Audio == nil {
			return tele.File{}, "", false
		}
		return m.Audio.File, m.Audio.FileName, true
	}))
	// telebot keeps the largest size of a photo.
	a.bot.Handle(tele.OnPhoto, media(kit.MediaPhoto, func(m *tele.Message) (tele.File, string, bool) {
		if m.Photo == nil {
			return tele.File{}, "", false
		}
		return m.Photo.File, "", true
	}))
	a.bot.Handle(tele.OnVoice, media(kit.MediaVoice, func(m *tele.Message) (tele.File, string, bool) {
		if m.Voice == nil {
			return tele.File{}, "", false
		}
		return m.Voice.File, "", true
	}))
	a.bot.Handle(tele.OnVideo, media(kit.MediaVideo, func(m *tele.Message) (tele.File, string, bool) {
		if m.Video == nil {
			return tele.File{}, "", false
		}
		return m.Video.File, m.Video.FileName, true
	}))
	a.bot.Handle(tele.OnDocument, media(kit.MediaDocument, func(m *tele.Message) (tele.File, string, bool) {
		if m.Document == nil {
			return tele.File{}, "", false
		}
		return m.Document.File, m.Document.FileName, true
	}))
}

func (a *Adapter) forward(up kit.Update) {
	out, _ := a.out.Load().(chan<- kit.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		a.dropped.Add(1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log))
	sup := a.sup
	a.runMu.Unlock()

	sup.Go0("updates.drop_report", func(c context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		report := func() {
			if n := a.dropped.Swap(0); n > 0 {
				a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", cap(out)))
			}
		}
		for {
			select {
			case <-c.Done():
				report()
				return
			case <-ticker.C:
				report()
			}
		}
	})

	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})

	// bot.Start blocks until Stop; restart it if it returns while we are still running.
	sup.GoRestart("telebot.run", func(c context.Context) error {
		a.log.Info("bot started", logx.String("mode", string(a.mode())))
		a.bot.Start()
		a.log.Info("bot stopped")
		return nil
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithStopOnCleanExit(false),
	)
	return nil
}

func (a *Adapter) mode() Mode {
	if a.webhook != nil {
		return ModeWebhook
	}
	return ModePoll
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning || sup == nil {
		return nil
	}
	sup.Cancel()

	// Keep shutdown snappy even if getUpdates is still waiting.
	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := sup.Wait(wctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		a.log.Debug("telegram stopped with supervisor error", logx.Err(err))
	}
	return nil
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	chunks := splitText(text, textLimit)
	chat := &tele.Chat{ID: to.ChatID}

	var first kit.MessageRef
	for i, chunk := range chunks {
		so := a.sendOptions(chat, opt, i == 0)
		msg, err := within(ctx, func() (*tele.Message, error) { return a.bot.Send(chat, chunk, so) })
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, MessageID: msg.ID}
		}
	}
	return first, nil
}

func (a *Adapter) SendMedia(ctx context.Context, to kit.ChatTarget, up kit.Upload, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	file := tele.File{FileID: up.FileID}
	if up.Reader != nil {
		file = tele.FromReader(up.Reader)
	}

	var what tele.Sendable
	switch up.Kind {
	case kit.MediaAudio:
		what = &tele.Audio{File: file, FileName: up.FileName, Caption: up.Caption}
	case kit.MediaPhoto:
		what = &tele.Photo{File: file, Caption: up.Caption}
	case kit.MediaVoice:
		what = &tele.Voice{File: file, Caption: up.Caption}
	case kit.MediaVideo:
		what = &tele.Video{File: file, FileName: up.FileName, Caption: up.Caption}
	case kit.MediaDocument:
		what = &tele.Document{File: file, FileName: up.FileName, Caption: up.Caption}
	default:
		return kit.MessageRef{}, fmt.Errorf("telegram: unsupported media kind %q", up.Kind)
	}

	chat := &tele.Chat{ID: to.ChatID}
	so := a.sendOptions(chat, opt, true)
	msg, err := within(ctx, func() (*tele.Message, error) { return a.bot.Send(chat, what, so) })
	if err != nil {
		return kit.MessageRef{}, err
	}
	return kit.MessageRef{ChatID: to.ChatID, MessageID: msg.ID}, nil
}

func (a *Adapter) sendOptions(chat *tele.Chat, opt *kit.SendOptions, first bool) *tele.SendOptions {
	so := &tele.SendOptions{
		DisableWebPagePreview: opt.DisablePreview,
	}
	// Markup and reply only go on the first chunk.
	if first {
		if len(opt.Markup) > 0 {
			so.ReplyMarkup = inlineMarkup(opt.Markup)
		}
		if opt.ReplyTo != 0 {
			so.ReplyTo = &tele.Message{ID: opt.ReplyTo, Chat: chat}
		}
	}
	return so
}

func (a *Adapter) EditMarkup(ctx context.Context, ref kit.MessageRef, markup kit.Markup) error {
	m := &tele.Message{ID: ref.MessageID, Chat: &tele.Chat{ID: ref.ChatID}}
	_, err := within(ctx, func() (*tele.Message, error) { return a.bot.EditReplyMarkup(m, inlineMarkup(markup)) })
	return err
}

func (a *Adapter) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	_, err := within(ctx, func() (struct{}, error) {
		return struct{}{}, a.bot.Respond(&tele.Callback{ID: callbackID}, &tele.CallbackResponse{Text: text})
	})
	return err
}

func (a *Adapter) FileURL(ctx context.Context, fileID string) (string, error) {
	return within(ctx, func() (string, error) { return a.bot.FileURLByID(fileID) })
}

// within runs a context-free telebot call and gives up when ctx ends first.
// The abandoned call still finishes in the background, bounded by the API
// client timeout.
func within[T any](ctx context.Context, call func() (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := call()
		done <- result{v, err}
	}()
	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func inlineMarkup(m kit.Markup) *tele.ReplyMarkup {
	rows := make([][]tele.InlineButton, 0, len(m))
	for _, row := range m {
		r := make([]tele.InlineButton, 0, len(row))
		for _, b := range row {
			btn := tele.InlineButton{Text: b.Text, Data: b.Data, URL: b.URL}
			if b.WebApp != "" {
				btn.WebApp = &tele.WebApp{URL: b.WebApp}
			}
			r = append(r, btn)
		}
		rows = append(rows, r)
	}
	return &tele.ReplyMarkup{InlineKeyboard: rows}
}
