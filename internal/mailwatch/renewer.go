package mailwatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"relaybot/internal/storage"
	logx "relaybot/pkg/logx"
)

// DefaultRenewSpec renews watches daily; Gmail drops a watch after 7 days.
const DefaultRenewSpec = "@daily"

// Renewer periodically re-subscribes every stored mailbox.
type Renewer struct {
	svc  *Service
	cron *cron.Cron
	log  logx.Logger
	ctx  context.Context

	cancel context.CancelFunc
}

func NewRenewer(spec string, loc *time.Location, svc *Service) (*Renewer, error) {
	if strings.TrimSpace(spec) == "" {
		spec = DefaultRenewSpec
	}
	if loc == nil {
		loc = time.Local
	}
	r := &Renewer{
		svc:  svc,
		cron: cron.New(cron.WithLocation(loc)),
		log:  svc.log.With(logx.String("job", "watch_renew")),
	}
	r.ctx, r.cancel = context.WithCancel(context.Background())
	if _, err := r.cron.AddFunc(spec, func() { r.RenewAll(r.ctx) }); err != nil {
		r.cancel()
		return nil, fmt.Errorf("mailwatch: renew spec %q: %w", spec, err)
	}
	return r, nil
}

func (r *Renewer) Start() {
	r.cron.Start()
	r.log.Info("watch renewer started")
}

// Stop halts scheduling and waits for a running renewal, bounded by ctx.
func (r *Renewer) Stop(ctx context.Context) {
	done := r.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		r.cancel()
		<-done.Done()
	}
	r.cancel()
}

// RenewAll calls Watch for every mailbox, logging and skipping failures.
// It returns how many mailboxes were renewed.
func (r *Renewer) RenewAll(ctx context.Context) int {
	var renewed, failed int
	for doc, err := range r.svc.store.Stream(ctx, storage.Mailboxes) {
		if err != nil {
			r.log.Error("mailbox stream failed", logx.Err(err))
			break
		}
		if err := r.svc.renew(ctx, doc.ID); err != nil {
			failed++
			r.log.Warn("watch renew failed", logx.String("email", doc.ID), logx.Err(err))
			continue
		}
		renewed++
	}
	r.log.Info("watch renew finished", logx.Int("renewed", renewed), logx.Int("failed", failed))
	return renewed
}

func (s *Service) renew(ctx context.Context, email string) error {
	defer s.lock(email)()
	rec, err := storage.GetJSON[Record](ctx, s.store, storage.Mailboxes, email)
	if err != nil {
		return err
	}
	cred, refreshed, err := s.credential(ctx, rec)
	if err != nil {
		return err
	}
	mb, err := s.connector.Connect(ctx, cred.TokenSource())
	if err != nil {
		return err
	}
	cctx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	hid, err := mb.Watch(cctx, s.cfg.Topic)
	cancel()
	if err != nil {
		return err
	}
	if !refreshed && rec.HistoryID != 0 {
		return nil
	}
	rec.Credential = cred
	if rec.HistoryID == 0 {
		rec.HistoryID = hid
	}
	return storage.PutJSON(ctx, s.store, storage.Mailboxes, rec.Email, rec)
}
