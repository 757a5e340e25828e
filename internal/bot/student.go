package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"relaybot/internal/callback"
	"relaybot/internal/dispatch"
	"relaybot/internal/mailwatch"
	"relaybot/internal/roster"
	"relaybot/internal/storage"
	kit "relaybot/internal/transport"
	"relaybot/pkg/tgui"
)

// Downloader relays one broadcast attachment.
type Downloader interface {
	Download(ctx context.Context, req dispatch.DownloadRequest) error
}

// MailActions serves the buttons on mail notifications.
type MailActions interface {
	HandleAction(ctx context.Context, req mailwatch.ActionRequest, a callback.Action) error
}

type StudentConfig struct {
	AuthURLBase string
}

// Student serves the student bot. mail may be nil.
type Student struct {
	cfg        StudentConfig
	adapter    kit.Adapter
	roster     *roster.Roster
	downloader Downloader
	mail       MailActions
}

func NewStudent(cfg StudentConfig, adapter kit.Adapter, r *roster.Roster, d Downloader, mail MailActions) *Student {
	return &Student{cfg: cfg, adapter: adapter, roster: r, downloader: d, mail: mail}
}

func (s *Student) Handlers() Handlers {
	return Handlers{
		Commands: map[string]HandlerFunc{"start": s.start},
		Callbacks: map[string]HandlerFunc{
			callback.NSBroadcast: s.download,
			callback.NSMail:      s.mailAction,
		},
	}
}

func (s *Student) NotifyAuthorized(ctx context.Context, userID int64) error {
	_, err := s.adapter.SendText(ctx, kit.ChatTarget{ChatID: userID}, AuthorizedText, nil)
	return err
}

func (s *Student) start(ctx context.Context, req *Request) error {
	p, err := s.roster.Lookup(ctx, roster.RoleStudent, req.FromID)
	if errors.Is(err, storage.ErrNotFound) {
		link := s.cfg.AuthURLBase + "authorize/" + strconv.FormatInt(req.FromID, 10)
		markup := tgui.NewInline().Row(tgui.URLBtn(authorizeLabel, link)).Markup()
		_, err = s.adapter.SendText(ctx, req.Chat, studentWelcomeText, &kit.SendOptions{Markup: markup})
		return err
	}
	if err != nil {
		return err
	}
	_, err = s.adapter.SendText(ctx, req.Chat, fmt.Sprintf(studentVerifiedFmt, p.Email), nil)
	return err
}

func (s *Student) download(ctx context.Context, req *Request) error {
	a, ok := req.Action.(callback.Download)
	if !ok {
		return fmt.Errorf("%w: %s", callback.ErrMalformed, req.Update.Callback.Data)
	}
	return s.downloader.Download(ctx, dispatch.DownloadRequest{
		ChatID:    req.Chat.ChatID,
		ReplyTo:   req.Update.Callback.MessageID,
		MessageID: a.MessageID,
		Index:     a.Index,
	})
}

func (s *Student) mailAction(ctx context.Context, req *Request) error {
	if s.mail == nil {
		_, err := s.adapter.SendText(ctx, req.Chat, mailOffText, nil)
		return err
	}
	cb := req.Update.Callback
	return s.mail.HandleAction(ctx, mailwatch.ActionRequest{
		UserID: req.FromID,
		Ref:    kit.MessageRef{ChatID: cb.ChatID, MessageID: cb.MessageID},
	}, req.Action)
}
