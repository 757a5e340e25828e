package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"relaybot/internal/callback"
	"relaybot/internal/conversation"
	"relaybot/internal/dispatch"
	"relaybot/internal/roster"
	"relaybot/internal/state"
	"relaybot/internal/storage"
	kit "relaybot/internal/transport"
	logx "relaybot/pkg/logx"
	"relaybot/pkg/tgui"
)

const officialBot = "official"

// Broadcaster delivers a confirmed message to every Student.
type Broadcaster interface {
	Broadcast(ctx context.Context, msg dispatch.Message) (dispatch.Report, error)
}

type OfficialConfig struct {
	AuthURLBase string
	MiniAppURL  string // optional "Open editor" button on /start
}

// Official serves the compose flow of the official bot.
type Official struct {
	cfg         OfficialConfig
	adapter     kit.Adapter
	roster      *roster.Roster
	convs       *conversation.Repo
	broadcaster Broadcaster
	now         func() time.Time
}

func NewOfficial(cfg OfficialConfig, adapter kit.Adapter, r *roster.Roster, convs *conversation.Repo, b Broadcaster) *Official {
	return &Official{cfg: cfg, adapter: adapter, roster: r, convs: convs, broadcaster: b, now: time.Now}
}

func (o *Official) Handlers() Handlers {
	compose := o.startCompose
	return Handlers{
		Commands: map[string]HandlerFunc{
			"start":        o.start,
			"send_message": compose,
			"restart":      compose,
			"cancel":       o.event(func(*Request) conversation.Event { return conversation.Cancel{} }),
			"done":         o.event(func(*Request) conversation.Event { return conversation.Done{} }),
		},
		Text:  o.text,
		Media: o.media,
		Callbacks: map[string]HandlerFunc{
			callback.NSCompose: o.choice,
		},
	}
}

// NotifyAuthorized tells userID the OAuth flow completed.
func (o *Official) NotifyAuthorized(ctx context.Context, userID int64) error {
	_, err := o.adapter.SendText(ctx, kit.ChatTarget{ChatID: userID}, AuthorizedText, nil)
	return err
}

func (o *Official) authorizeMarkup(userID int64) kit.Markup {
	link := o.cfg.AuthURLBase + "authorize/" + strconv.FormatInt(userID, 10) + "?is_official=true"
	return tgui.NewInline().Row(tgui.URLBtn(authorizeLabel, link)).Markup()
}

func (o *Official) start(ctx context.Context, req *Request) error {
	p, err := o.roster.Lookup(ctx, roster.RoleOfficial, req.FromID)
	if errors.Is(err, storage.ErrNotFound) {
		_, err = o.adapter.SendText(ctx, req.Chat, officialWelcomeText, &kit.SendOptions{Markup: o.authorizeMarkup(req.FromID)})
		return err
	}
	if err != nil {
		return err
	}
	var opt *kit.SendOptions
	if o.cfg.MiniAppURL != "" {
		opt = &kit.SendOptions{Markup: tgui.NewInline().Row(tgui.WebAppBtn(editorLabel, o.cfg.MiniAppURL)).Markup()}
	}
	_, err = o.adapter.SendText(ctx, req.Chat, fmt.Sprintf(officialVerifiedFmt, p.Name, p.Email), opt)
	return err
}

func (o *Official) startCompose(ctx context.Context, req *Request) error {
	p, err := o.roster.Lookup(ctx, roster.RoleOfficial, req.FromID)
	if errors.Is(err, storage.ErrNotFound) {
		_, err = o.adapter.SendText(ctx, req.Chat, officialWelcomeText, &kit.SendOptions{Markup: o.authorizeMarkup(req.FromID)})
		return err
	}
	if err != nil {
		return err
	}
	return o.apply(ctx, req, conversation.Start{Sender: dispatch.Sender{Email: p.Email, Name: p.Name}})
}

func (o *Official) event(fn func(*Request) conversation.Event) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		return o.apply(ctx, req, fn(req))
	}
}

func (o *Official) text(ctx context.Context, req *Request) error {
	text := strings.TrimSpace(req.Update.Message.Text)
	if text == "" {
		return nil
	}
	return o.apply(ctx, req, conversation.Text{Text: text})
}

func (o *Official) media(ctx context.Context, req *Request) error {
	m := req.Update.Media
	url, err := o.adapter.FileURL(ctx, m.FileID)
	if err != nil {
		_, _ = o.adapter.SendText(ctx, req.Chat, attachFailText, nil)
		return fmt.Errorf("resolve file %s: %w", m.FileID, err)
	}
	name := m.FileName
	if name == "" {
		name = dispatch.NewMessageID(o.now())
	}
	return o.apply(ctx, req, conversation.Media{Attachment: dispatch.Attachment{
		URL:         url,
		ContentType: string(m.Kind),
		FileName:    name,
		FileID:      m.FileID,
	}})
}

func (o *Official) choice(ctx context.Context, req *Request) error {
	c, ok := req.Action.(callback.Choice)
	if !ok {
		return nil
	}
	switch c.Name {
	case conversation.ChoiceAttach:
		return o.apply(ctx, req, conversation.AttachChoice{Yes: c.Yes})
	case conversation.ChoiceConfirm:
		return o.apply(ctx, req, conversation.Confirm{Yes: c.Yes})
	}
	return nil
}

// apply runs one transition: state is saved before the effects are executed
// so a failed send never replays on the next update.
func (o *Official) apply(ctx context.Context, req *Request, ev conversation.Event) error {
	key := state.Key(officialBot, req.Chat.ChatID)
	cur, err := o.convs.Load(ctx, key)
	if err != nil {
		req.Log.Warn("conversation state unreadable; starting over", logx.Err(err))
		cur = conversation.Idle{}
	}
	next, effects := conversation.Transition(cur, ev)
	if len(effects) == 0 {
		return nil
	}
	if err := o.convs.Save(ctx, key, next); err != nil {
		return fmt.Errorf("save conversation: %w", err)
	}
	for _, e := range effects {
		if err := o.execute(ctx, req, e); err != nil {
			return err
		}
	}
	return nil
}

func (o *Official) execute(ctx context.Context, req *Request, e conversation.Effect) error {
	switch e := e.(type) {
	case conversation.Prompt:
		var opt *kit.SendOptions
		if e.Choice != "" {
			opt = &kit.SendOptions{Markup: choiceMarkup(e.Choice)}
		}
		_, err := o.adapter.SendText(ctx, req.Chat, e.Text, opt)
		return err
	case conversation.Preview:
		return o.preview(ctx, req.Chat, e.Message)
	case conversation.Broadcast:
		rep, err := o.broadcaster.Broadcast(ctx, e.Message)
		text := sentOKText
		if err != nil {
			text = sentFailText
		} else {
			req.Log.Info("broadcast sent",
				logx.String("message_id", rep.MessageID),
				logx.Int("delivered", rep.Delivered),
				logx.Int("failed", rep.Failed),
			)
		}
		// A long batch can outlast the update deadline; the sender still gets the outcome.
		_, sendErr := o.adapter.SendText(context.WithoutCancel(ctx), req.Chat, text, nil)
		return errors.Join(err, sendErr)
	case conversation.Cleared:
		return nil
	}
	return nil
}

func choiceMarkup(name string) kit.Markup {
	return tgui.YesNo(
		tgui.Btn(yesLabel, callback.MustEncode(callback.NSCompose, callback.Choice{Name: name, Yes: true})),
		tgui.Btn(noLabel, callback.MustEncode(callback.NSCompose, callback.Choice{Name: name, Yes: false})),
	)
}

// preview shows the draft as recipients will see it. The confirm buttons sit
// on the last message sent.
func (o *Official) preview(ctx context.Context, to kit.ChatTarget, m dispatch.Message) error {
	if _, err := o.adapter.SendText(ctx, to, previewDivider, nil); err != nil {
		return err
	}
	confirm := &kit.SendOptions{Markup: choiceMarkup(conversation.ChoiceConfirm)}
	var textOpt *kit.SendOptions
	if len(m.Attachments) == 0 {
		textOpt = confirm
	}
	if _, err := o.adapter.SendText(ctx, to, dispatch.Format(m), textOpt); err != nil {
		return err
	}
	for i, a := range m.Attachments {
		kind, ok := a.Kind()
		if !ok {
			kind = kit.MediaDocument
		}
		var opt *kit.SendOptions
		if i == len(m.Attachments)-1 {
			opt = confirm
		}
		up := kit.Upload{Kind: kind, FileID: a.FileID, FileName: a.FileName}
		if _, err := o.adapter.SendMedia(ctx, to, up, opt); err != nil {
			return err
		}
	}
	return nil
}
