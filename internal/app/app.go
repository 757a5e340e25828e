// Package app wires the relay service: both bots, the dispatcher, the mail
// watcher and the HTTP API, under one supervisor with config hot reload.
package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"relaybot/internal/auth"
	"relaybot/internal/bot"
	"relaybot/internal/config"
	"relaybot/internal/conversation"
	"relaybot/internal/dispatch"
	"relaybot/internal/eventbus"
	"relaybot/internal/httpapi"
	"relaybot/internal/mailwatch"
	"relaybot/internal/metrics"
	"relaybot/internal/roster"
	"relaybot/internal/runtime/supervisor"
	"relaybot/internal/state"
	"relaybot/internal/storage"
	kit "relaybot/internal/transport"
	"relaybot/internal/transport/telegram"
	logx "relaybot/pkg/logx"
)

const (
	officialName = "official"
	studentName  = "student"
)

type botRuntime struct {
	adapter *telegram.Adapter
	router  *bot.Router
	updates chan kit.Update
}

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log     logx.Logger
	logs    *logx.Service
	bus     eventbus.Bus
	store   storage.Store
	states  state.Store
	metrics *metrics.Metrics

	official botRuntime
	student  botRuntime

	dispatcher *dispatch.Dispatcher
	mail       *mailwatch.Service
	renewer    *mailwatch.Renewer
	http       *httpapi.Server
}

// New loads cfgPath and builds every component. Nothing runs until Start.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	// The ops sink needs the official adapter, which needs a logger: start
	// with ops disabled and attach the sender once the adapter exists.
	logCfg := mapLogging(cfg)
	bootCfg := logCfg
	bootCfg.Ops.Enabled = false
	logs, root := logx.New(bootCfg, nil)
	log := root.With(logx.String("comp", "app"))

	officialAd, err := telegram.New(mapTelegram(cfg, officialName, cfg.Telegram.OfficialToken), root.With(logx.String("comp", "telegram"), logx.String("bot", officialName)))
	if err != nil {
		return nil, err
	}
	studentAd, err := telegram.New(mapTelegram(cfg, studentName, cfg.Telegram.StudentToken), root.With(logx.String("comp", "telegram"), logx.String("bot", studentName)))
	if err != nil {
		return nil, err
	}
	logs.SetSender(officialAd)
	logs.Apply(logCfg)

	sc, err := mapStorage(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, root.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", sc.Driver))

	stc, err := mapState(cfg)
	if err != nil {
		return nil, err
	}
	states, err := state.Open(ctx, stc, store)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}
	bus := eventbus.New()
	people := roster.New(store)

	dc, err := mapDispatch(cfg)
	if err != nil {
		return nil, err
	}
	dispatcher := dispatch.New(dc, dispatch.Deps{
		Store:   store,
		Roster:  people,
		Relay:   studentAd,
		HTTP:    &http.Client{},
		Metrics: m,
		Events:  bus,
		Log:     root,
	})

	a := &App{
		cfgm:       cfgm,
		log:        log,
		logs:       logs,
		bus:        bus,
		store:      store,
		states:     states,
		metrics:    m,
		dispatcher: dispatcher,
	}

	if cfg.Mail.Enabled {
		a.mail = mailwatch.New(mailwatch.Config{
			AuthURLBase: cfg.Telegram.AuthURLBase,
			Topic:       cfg.Mail.Topic,
		}, mailwatch.Deps{
			Store:     store,
			Relay:     studentAd,
			Connector: mailwatch.GmailConnector{},
			Refresher: mailwatch.OAuthRefresher{
				ClientID:     cfg.Mail.ClientID,
				ClientSecret: cfg.Mail.ClientSecret,
				TokenURL:     cfg.Mail.TokenURI,
			},
			Metrics: m,
			Events:  bus,
			Log:     root,
		})
		if a.renewer, err = mailwatch.NewRenewer(cfg.Mail.RenewSpec, dc.Location, a.mail); err != nil {
			return nil, err
		}
	}

	workers := cfg.Dispatch.Workers
	officialBot := bot.NewOfficial(
		bot.OfficialConfig{AuthURLBase: cfg.Telegram.AuthURLBase, MiniAppURL: cfg.Telegram.MiniAppURL},
		officialAd, people, conversation.NewRepo(states), dispatcher,
	)
	var mailActions bot.MailActions
	if a.mail != nil {
		mailActions = a.mail
	}
	studentBot := bot.NewStudent(bot.StudentConfig{AuthURLBase: cfg.Telegram.AuthURLBase}, studentAd, people, dispatcher, mailActions)

	a.official = botRuntime{
		adapter: officialAd,
		router:  bot.NewRouter(officialName, officialAd, officialBot.Handlers(), bot.Options{Workers: workers, Log: root}),
		updates: make(chan kit.Update, 256),
	}
	a.student = botRuntime{
		adapter: studentAd,
		router:  bot.NewRouter(studentName, studentAd, studentBot.Handlers(), bot.Options{Workers: workers, Log: root}),
		updates: make(chan kit.Update, 256),
	}

	ac, err := mapAuth(cfg)
	if err != nil {
		return nil, err
	}
	deps := httpapi.Deps{
		Auth:        auth.NewService(ac, people, auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.Issuer), m, root.With(logx.String("comp", "auth"))),
		Broadcaster: dispatcher,
		Official:    officialBot,
		Student:     studentBot,
		Webhooks:    map[string]http.Handler{},
		Log:         root,
	}
	if a.mail != nil {
		deps.Push = a.mail
	}
	if m != nil {
		deps.Metrics = m.Handler()
	}
	for name, ad := range map[string]*telegram.Adapter{officialName: officialAd, studentName: studentAd} {
		if h := ad.Webhook(); h != nil {
			deps.Webhooks[name] = h
		}
	}
	a.http = httpapi.New(mapHTTP(cfg), deps)
	return a, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.dispatcher.Bind(a.sup.Context())
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(c context.Context, cfg *config.Config) error { return config.Validate(cfg) })

	for _, b := range []botRuntime{a.official, a.student} {
		if err := b.adapter.Start(a.sup.Context(), b.updates); err != nil {
			return fmt.Errorf("start %s bot: %w", b.adapter.Name(), err)
		}
		rt := b
		a.sup.Go("bot."+rt.adapter.Name()+".dispatch", func(c context.Context) error {
			return rt.router.Run(c, rt.updates)
		})
	}

	a.sup.Go("http.serve", a.http.Serve)

	if a.renewer != nil {
		a.renewer.Start()
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.logEvent(e)
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(last, next)
				last = next
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started")
	return nil
}

func (a *App) logEvent(e eventbus.Event) {
	switch e.Type {
	case eventbus.BroadcastDone:
		if rep, ok := e.Data.(dispatch.Report); ok && rep.Failed > 0 {
			a.log.Info("broadcast had failures",
				logx.String("message_id", rep.MessageID),
				logx.Int("failed", rep.Failed),
				logx.Int("recipients", rep.Recipients),
			)
			return
		}
	case eventbus.MailReauth:
		a.log.Info("mailbox needs reauthorization", logx.Any("email", e.Data))
		return
	}
	a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
}

// applyConfig applies the live sections of a reloaded config.
func (a *App) applyConfig(prev, next *config.Config) {
	sections := config.ChangedSections(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	var restart []string
	for _, s := range sections {
		if !config.LiveSections[s] {
			restart = append(restart, s)
		}
	}
	if len(restart) > 0 {
		a.log.Warn("config sections changed; restart required for them to take effect", logx.String("sections", strings.Join(restart, ",")))
	}

	a.logs.Apply(mapLogging(next))
	if dc, err := mapDispatch(next); err != nil {
		a.log.Warn("invalid dispatch config; keeping previous", logx.Err(err))
	} else {
		a.dispatcher.Apply(dc)
	}
	eventbus.Publish(a.bus, eventbus.ConfigReloaded, sections)
	a.log.Info("config reloaded", logx.String("changed", strings.Join(sections, ",")))
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	// step bounds one shutdown stage so a stuck component cannot stall the rest.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("http", 5*time.Second, a.http.Shutdown)
	step("renewer", 2*time.Second, func(c context.Context) error {
		if a.renewer != nil {
			a.renewer.Stop(c)
		}
		return nil
	})
	step("official.adapter", 2*time.Second, a.official.adapter.Stop)
	step("student.adapter", 2*time.Second, a.student.adapter.Stop)
	step("supervisor", 4*time.Second, a.sup.Wait)
	step("state", 1*time.Second, func(context.Context) error { return a.states.Close() })
	step("storage", 1*time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}
