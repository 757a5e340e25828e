// Package dispatch fans a Message out to every Student and serves the
// on-demand attachment downloads its buttons trigger.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"relaybot/internal/eventbus"
	"relaybot/internal/metrics"
	"relaybot/internal/roster"
	"relaybot/internal/storage"
	kit "relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

const (
	DefaultRatePerSec      = 25
	DefaultSendTimeout     = 10 * time.Second
	DefaultDownloadTimeout = 60 * time.Second
	DefaultMaxDownload     = 50 << 20

	botName = "student"
)

var (
	ErrAttachmentNotFound = errors.New("dispatch: attachment not found")
	ErrUnsupportedKind    = errors.New("dispatch: unsupported attachment kind")
	ErrTooLarge           = errors.New("dispatch: attachment exceeds size limit")
)

type Config struct {
	RatePerSec       int
	SendTimeout      time.Duration
	DownloadTimeout  time.Duration
	MaxDownloadBytes int64
	ViewerURL        string
	Location         *time.Location
}

func (c Config) withDefaults() Config {
	if c.RatePerSec <= 0 {
		c.RatePerSec = DefaultRatePerSec
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = DefaultSendTimeout
	}
	if c.DownloadTimeout <= 0 {
		c.DownloadTimeout = DefaultDownloadTimeout
	}
	if c.MaxDownloadBytes <= 0 {
		c.MaxDownloadBytes = DefaultMaxDownload
	}
	if c.Location == nil {
		c.Location = time.Local
	}
	return c
}

// Deps are the collaborators a Dispatcher is built from. Relay is the student bot.
type Deps struct {
	Store   storage.Store
	Roster  *roster.Roster
	Relay   kit.Adapter
	HTTP    *http.Client
	Metrics *metrics.Metrics
	Events  eventbus.Bus
	Log     logx.Logger
}

// Report summarizes one Broadcast. Failed recipients are counted, never returned as an error.
type Report struct {
	MessageID  string `json:"message_id"`
	Recipients int    `json:"recipients"`
	Delivered  int    `json:"delivered"`
	Failed     int    `json:"failed"`
}

type Dispatcher struct {
	store   storage.Store
	roster  *roster.Roster
	relay   kit.Adapter
	client  *http.Client
	metrics *metrics.Metrics
	events  eventbus.Bus
	log     logx.Logger
	now     func() time.Time

	mu      sync.RWMutex
	life    context.Context
	cfg     Config
	limiter *rate.Limiter
}

func New(cfg Config, d Deps) *Dispatcher {
	cfg = cfg.withDefaults()
	log := d.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	client := d.HTTP
	if client == nil {
		client = &http.Client{}
	}
	r := d.Roster
	if r == nil {
		r = roster.New(d.Store)
	}
	return &Dispatcher{
		store:   d.Store,
		roster:  r,
		relay:   d.Relay,
		client:  client,
		metrics: d.Metrics,
		events:  d.Events,
		log:     log.With(logx.String("comp", "dispatch")),
		now:     time.Now,
		life:    context.Background(),
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
	}
}

// Apply swaps timeouts and the send rate at runtime.
func (d *Dispatcher) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	d.mu.Lock()
	defer d.mu.Unlock()
	if cfg.RatePerSec != d.cfg.RatePerSec {
		d.limiter.SetLimit(rate.Limit(cfg.RatePerSec))
		d.limiter.SetBurst(cfg.RatePerSec)
	}
	d.cfg = cfg
	d.log.Info("dispatch config applied", logx.Int("rps", cfg.RatePerSec), logx.Duration("send_timeout", cfg.SendTimeout))
}

// Bind ties running batches to ctx instead of to their callers. Canceling ctx
// ends every batch in flight.
func (d *Dispatcher) Bind(ctx context.Context) {
	d.mu.Lock()
	d.life = ctx
	d.mu.Unlock()
}

// batchContext keeps the caller's values but not its deadline or cancelation.
func (d *Dispatcher) batchContext(ctx context.Context) (context.Context, context.CancelFunc) {
	d.mu.RLock()
	life := d.life
	d.mu.RUnlock()
	bctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(life, cancel)
	return bctx, func() {
		stop()
		cancel()
	}
}

func (d *Dispatcher) config() Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cfg
}

// Broadcast persists msg under a fresh id and sends it to every Student in
// enumeration order. A failing recipient is logged and skipped. The returned
// error is non-nil only when the message could not be persisted, in which
// case nothing was sent. The batch outlives ctx: only the context passed to
// Bind stops it early.
func (d *Dispatcher) Broadcast(ctx context.Context, msg Message) (Report, error) {
	ctx, cancel := d.batchContext(ctx)
	defer cancel()
	cfg := d.config()
	now := d.now().In(cfg.Location)
	msg.ID = NewMessageID(now)
	msg.CreatedAt = now

	if err := storage.PutJSON(ctx, d.store, storage.Messages, msg.ID, msg); err != nil {
		return Report{}, fmt.Errorf("persist message: %w", err)
	}
	d.metrics.Broadcast()

	rep := Report{MessageID: msg.ID}
	text := Format(msg)
	markup := Markup(msg, cfg.ViewerURL)
	log := d.log.With(logx.String("message_id", msg.ID))
	start := time.Now()

	for id, err := range d.roster.Recipients(ctx) {
		if err != nil {
			log.Error("recipient stream failed; ending batch", logx.Err(err), logx.Int("recipients", rep.Recipients))
			break
		}
		rep.Recipients++
		if err := d.deliver(ctx, cfg, id, text, markup); err != nil {
			rep.Failed++
			d.metrics.Delivery(botName, false)
			log.Warn("delivery failed", logx.String("chat_id", id), logx.Err(err))
			continue
		}
		rep.Delivered++
		d.metrics.Delivery(botName, true)
	}

	log.Info("broadcast finished",
		logx.Int("recipients", rep.Recipients),
		logx.Int("delivered", rep.Delivered),
		logx.Int("failed", rep.Failed),
		logx.Duration("took", time.Since(start)),
	)
	eventbus.Publish(d.events, eventbus.BroadcastDone, rep)
	return rep, nil
}

func (d *Dispatcher) deliver(ctx context.Context, cfg Config, id, text string, markup kit.Markup) error {
	chatID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid recipient id %q: %w", id, err)
	}
	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}
	cctx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
	defer cancel()

	start := time.Now()
	_, err = d.relay.SendText(cctx, kit.ChatTarget{ChatID: chatID}, text, &kit.SendOptions{Markup: markup})
	d.metrics.ObserveSend(time.Since(start))
	return err
}
