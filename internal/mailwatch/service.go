package mailwatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"relaybot/internal/callback"
	"relaybot/internal/eventbus"
	"relaybot/internal/metrics"
	"relaybot/internal/storage"
	kit "relaybot/internal/transport"
	logx "relaybot/pkg/logx"
	"relaybot/pkg/tgui"
)

// ReauthorizeText is sent when a mailbox credential can no longer be refreshed.
const ReauthorizeText = "We could not access your mailbox because your authorization has expired. Please authorize again to keep receiving mail notifications."

type Config struct {
	AuthURLBase string // authorize links are AuthURLBase + "authorize/<user id>"
	Topic       string // pub/sub topic used by Watch
	CallTimeout time.Duration
}

type Deps struct {
	Store     storage.Store
	Relay     kit.Adapter
	Connector Connector
	Refresher Refresher
	Metrics   *metrics.Metrics
	Events    eventbus.Bus
	Log       logx.Logger
}

type Service struct {
	cfg       Config
	store     storage.Store
	relay     kit.Adapter
	connector Connector
	refresher Refresher
	metrics   *metrics.Metrics
	events    eventbus.Bus
	log       logx.Logger
	now       func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(cfg Config, d Deps) *Service {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	log := d.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:       cfg,
		store:     d.Store,
		relay:     d.Relay,
		connector: d.Connector,
		refresher: d.Refresher,
		metrics:   d.Metrics,
		events:    d.Events,
		log:       log.With(logx.String("comp", "mailwatch")),
		now:       time.Now,
		locks:     map[string]*sync.Mutex{},
	}
}

// lock serializes work on one mailbox.
func (s *Service) lock(email string) func() {
	s.mu.Lock()
	l, ok := s.locks[email]
	if !ok {
		l = &sync.Mutex{}
		s.locks[email] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Register stores or replaces the mailbox record written by the OAuth callback.
func (s *Service) Register(ctx context.Context, rec Record) error {
	rec.Email = strings.ToLower(strings.TrimSpace(rec.Email))
	if rec.Email == "" {
		return errors.New("mailwatch: record without email")
	}
	defer s.lock(rec.Email)()
	return storage.PutJSON(ctx, s.store, storage.Mailboxes, rec.Email, rec)
}

// HandlePush announces the message behind p to the mailbox owner. A push for
// a message already announced is a no-op. The cursor is stored before the
// send, so a failed send is not retried by a redelivered push.
func (s *Service) HandlePush(ctx context.Context, p Push) error {
	defer s.lock(p.EmailAddress)()
	log := s.log.With(logx.String("email", p.EmailAddress), logx.Uint64("history_id", p.HistoryID))

	rec, err := storage.GetJSON[Record](ctx, s.store, storage.Mailboxes, p.EmailAddress)
	if errors.Is(err, storage.ErrNotFound) {
		s.metrics.MailEvent("unknown")
		return fmt.Errorf("%w: %s", ErrUnknownMailbox, p.EmailAddress)
	}
	if err != nil {
		return err
	}

	cred, refreshed, err := s.credential(ctx, rec)
	if err != nil {
		s.metrics.MailEvent("reauthorize")
		return err
	}
	rec.Credential = cred

	mb, err := s.connector.Connect(ctx, cred.TokenSource())
	if err != nil {
		return err
	}
	start := rec.HistoryID
	if start == 0 || start > p.HistoryID {
		start = p.HistoryID
	}
	cctx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	msg, err := mb.Latest(cctx, start)
	cancel()
	if err != nil {
		s.metrics.MailEvent("error")
		return err
	}

	if msg == nil || msg.ID == rec.MessageID {
		outcome := "empty"
		if msg != nil {
			outcome = "duplicate"
		}
		s.metrics.MailEvent(outcome)
		log.Debug("push ignored", logx.String("outcome", outcome))
		if refreshed {
			return storage.PutJSON(ctx, s.store, storage.Mailboxes, rec.Email, rec)
		}
		return nil
	}

	rec.HistoryID = p.HistoryID
	rec.MessageID = msg.ID
	if err := storage.PutJSON(ctx, s.store, storage.Mailboxes, rec.Email, rec); err != nil {
		return fmt.Errorf("mailwatch: store cursor: %w", err)
	}

	sctx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()
	_, err = s.relay.SendText(sctx, kit.ChatTarget{ChatID: rec.UserID}, FormatMail(msg), &kit.SendOptions{
		DisablePreview: true,
		Markup:         MailMarkup(msg, false),
	})
	s.metrics.Delivery("student", err == nil)
	if err != nil {
		s.metrics.MailEvent("send_failed")
		log.Warn("mail notification failed", logx.Int64("chat_id", rec.UserID), logx.Err(err))
		return err
	}
	s.metrics.MailEvent("notified")
	eventbus.Publish(s.events, eventbus.MailNotified, msg.ID)
	log.Info("mail notified", logx.String("message_id", msg.ID), logx.Int64("chat_id", rec.UserID))
	return nil
}

// credential returns a usable credential for rec, refreshing it when expired.
// When that fails the owner gets an authorize prompt and ErrReauthorize is returned.
func (s *Service) credential(ctx context.Context, rec Record) (Credential, bool, error) {
	c := rec.Credential
	if !c.Expired(s.now()) {
		return c, false, nil
	}
	var cause error = errors.New("no refresh token")
	if c.RefreshToken != "" && s.refresher != nil {
		rctx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
		fresh, err := s.refresher.Refresh(rctx, c)
		cancel()
		if err == nil {
			return fresh, true, nil
		}
		cause = err
	}
	s.log.Warn("mailbox credential refresh failed", logx.String("email", rec.Email), logx.Err(cause))
	s.promptReauthorize(ctx, rec)
	eventbus.Publish(s.events, eventbus.MailReauth, rec.Email)
	return c, false, fmt.Errorf("%w: %s: %v", ErrReauthorize, rec.Email, cause)
}

func (s *Service) promptReauthorize(ctx context.Context, rec Record) {
	if rec.UserID == 0 {
		return
	}
	link := s.cfg.AuthURLBase + "authorize/" + strconv.FormatInt(rec.UserID, 10)
	sctx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()
	_, err := s.relay.SendText(sctx, kit.ChatTarget{ChatID: rec.UserID}, ReauthorizeText, &kit.SendOptions{
		Markup: kit.Rows(tgui.URLBtn("Authorize me", link)),
	})
	if err != nil {
		s.log.Warn("reauthorize prompt failed", logx.Int64("chat_id", rec.UserID), logx.Err(err))
	}
}

// FormatMail renders the notification text.
func FormatMail(m *Mail) string {
	from := m.SenderEmail
	if m.SenderName != "" {
		from = m.SenderName + " <" + m.SenderEmail + ">"
	}
	return fmt.Sprintf("✉️ %s\n%s\n\n%s", from, m.Subject, m.Body)
}

// MailMarkup offers the read toggle and one button per attachment.
func MailMarkup(m *Mail, read bool) kit.Markup {
	label, act := "Mark as read", callback.Action(callback.MarkRead{MessageID: m.ID})
	if read {
		label, act = "Mark as unread", callback.MarkUnread{MessageID: m.ID}
	}
	in := tgui.NewInline()
	// Provider ids are opaque; one that cannot be encoded gets no toggle.
	if data, err := callback.Encode(callback.NSMail, act); err == nil {
		in.Row(tgui.Btn(label, data))
	}
	var files []kit.Button
	for i, a := range m.Attachments {
		data, err := callback.Encode(callback.NSMail, callback.GetAttachment{MessageID: m.ID, Index: i})
		if err != nil {
			continue
		}
		label := a.FileName
		if label == "" {
			label = "attachment " + strconv.Itoa(i+1)
		}
		files = append(files, tgui.Btn("📎 "+label, data))
	}
	for _, row := range tgui.Grid2(files) {
		in.Row(row...)
	}
	return in.Markup()
}

// ActionRequest is a pressed mail button.
type ActionRequest struct {
	UserID int64
	Ref    kit.MessageRef // the notification the button sits on
}

// HandleAction serves mark read/unread and attachment buttons for the mailbox owned by UserID.
func (s *Service) HandleAction(ctx context.Context, req ActionRequest, a callback.Action) error {
	doc, err := s.store.FindBy(ctx, storage.Mailboxes, "user_id", req.UserID)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: user %d", ErrUnknownMailbox, req.UserID)
	}
	if err != nil {
		return err
	}
	rec, err := storage.GetJSON[Record](ctx, s.store, storage.Mailboxes, doc.ID)
	if err != nil {
		return err
	}
	defer s.lock(rec.Email)()

	cred, refreshed, err := s.credential(ctx, rec)
	if err != nil {
		return err
	}
	if refreshed {
		rec.Credential = cred
		if err := storage.PutJSON(ctx, s.store, storage.Mailboxes, rec.Email, rec); err != nil {
			return err
		}
	}
	mb, err := s.connector.Connect(ctx, cred.TokenSource())
	if err != nil {
		return err
	}
	cctx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()

	switch a := a.(type) {
	case callback.MarkRead:
		return s.toggleRead(cctx, mb, req.Ref, a.MessageID, true)
	case callback.MarkUnread:
		return s.toggleRead(cctx, mb, req.Ref, a.MessageID, false)
	case callback.GetAttachment:
		return s.sendAttachment(cctx, mb, req.Ref, a.MessageID, a.Index)
	default:
		return fmt.Errorf("%w: unsupported mail action %T", callback.ErrMalformed, a)
	}
}

func (s *Service) toggleRead(ctx context.Context, mb Mailbox, ref kit.MessageRef, id string, read bool) error {
	if err := mb.SetRead(ctx, id, read); err != nil {
		return err
	}
	msg, err := mb.Message(ctx, id)
	if err != nil {
		msg = &Mail{ID: id}
	}
	return s.relay.EditMarkup(ctx, ref, MailMarkup(msg, read))
}

func (s *Service) sendAttachment(ctx context.Context, mb Mailbox, ref kit.MessageRef, id string, index int) error {
	msg, err := mb.Message(ctx, id)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(msg.Attachments) {
		return fmt.Errorf("%w: %s[%d]", ErrNoSuchAttachment, id, index)
	}
	att := msg.Attachments[index]
	data, err := mb.AttachmentData(ctx, id, att.ID)
	if err != nil {
		return err
	}
	kind := kit.MediaDocument
	if strings.HasPrefix(att.MimeType, "image/") {
		kind = kit.MediaPhoto
	}
	_, err = s.relay.SendMedia(ctx, kit.ChatTarget{ChatID: ref.ChatID}, kit.Upload{
		Kind:     kind,
		Reader:   bytes.NewReader(data),
		FileName: att.FileName,
	}, &kit.SendOptions{ReplyTo: ref.MessageID})
	return err
}
