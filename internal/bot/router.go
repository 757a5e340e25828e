// Package bot routes Telegram updates of the official and student bots to
// their handlers.
package bot

import (
	"context"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"relaybot/internal/callback"
	"relaybot/internal/runtime/supervisor"
	kit "relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

// Request is one routed update.
type Request struct {
	Update  kit.Update
	Chat    kit.ChatTarget
	FromID  int64
	Command string // "/start", "text", "media" or "cb:<namespace>"
	Args    []string

	// Set for callbacks.
	Namespace string
	Action    callback.Action

	ReqID string
	Log   logx.Logger
}

// Handlers is a bot's routing table. Nil entries ignore the update.
type Handlers struct {
	Commands  map[string]HandlerFunc // keyed without the slash
	Text      HandlerFunc
	Media     HandlerFunc
	Callbacks map[string]HandlerFunc // keyed by callback namespace
}

type Options struct {
	Workers   int           // default 4
	QueueSize int           // per worker, default 64
	Timeout   time.Duration // per update, default 2m
	Log       logx.Logger
}

const (
	unknownCommandText = "Unknown command. Use /start to see what this bot can do."
	busyText           = "busy, try again"
)

// Router runs a bounded worker pool. Updates of one chat always land on the
// same worker, so they are handled in arrival order.
type Router struct {
	name    string
	adapter kit.Adapter
	h       Handlers
	log     logx.Logger
	timeout time.Duration
	queues  []chan func()

	closeOnce sync.Once
}

func NewRouter(name string, adapter kit.Adapter, h Handlers, opt Options) *Router {
	if opt.Workers <= 0 {
		opt.Workers = 4
	}
	if opt.QueueSize <= 0 {
		opt.QueueSize = 64
	}
	if opt.Timeout <= 0 {
		opt.Timeout = 2 * time.Minute
	}
	log := opt.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Router{
		name:    name,
		adapter: adapter,
		h:       h,
		log:     log.With(logx.String("comp", "bot"), logx.String("bot", name)),
		timeout: opt.Timeout,
		queues:  make([]chan func(), opt.Workers),
	}
	for i := range r.queues {
		r.queues[i] = make(chan func(), opt.QueueSize)
	}
	return r
}

// Run consumes updates until ctx is done or updates is closed, then drains
// the workers for a few seconds.
func (r *Router) Run(ctx context.Context, updates <-chan kit.Update) error {
	sup := supervisor.New(ctx,
		supervisor.WithLogger(r.log),
		supervisor.WithCancelOnError(false),
	)
	for i, q := range r.queues {
		idx, queue := i, q
		sup.GoRestart("bot."+r.name+".worker."+strconv.Itoa(idx), func(c context.Context) error {
			r.work(c, idx, queue)
			return nil
		},
			supervisor.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			supervisor.WithStopOnCleanExit(true),
		)
	}
	r.log.Info("dispatcher started", logx.Int("workers", len(r.queues)))

	defer func() {
		r.closeOnce.Do(func() {
			for _, q := range r.queues {
				close(q)
			}
		})
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		r.log.Info("dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.enqueue(ctx, up)
		}
	}
}

func (r *Router) work(ctx context.Context, idx int, queue <-chan func()) {
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-queue:
			if !ok {
				return
			}
			func() {
				defer func() {
					if p := recover(); p != nil {
						r.log.Error("panic in bot job", logx.Int("worker", idx), logx.Any("panic", p), logx.String("stack", string(debug.Stack())))
					}
				}()
				job()
			}()
		}
	}
}

func (r *Router) enqueue(ctx context.Context, up kit.Update) {
	h, req, ok := r.route(ctx, up)
	if !ok {
		return
	}
	q := r.queues[shard(req.Chat.ChatID, len(r.queues))]
	job := func() { r.run(ctx, h, req) }
	select {
	case q <- job:
	default:
		r.log.Warn("queue full; update dropped", logx.Int64("chat_id", req.Chat.ChatID))
		if up.Callback != nil {
			_ = r.adapter.AnswerCallback(ctx, up.Callback.ID, busyText)
			return
		}
		_, _ = r.adapter.SendText(ctx, req.Chat, busyText, nil)
	}
}

// Process handles up synchronously on the calling goroutine.
func (r *Router) Process(ctx context.Context, up kit.Update) error {
	h, req, ok := r.route(ctx, up)
	if !ok {
		return nil
	}
	return r.run(ctx, h, req)
}

func (r *Router) run(ctx context.Context, h HandlerFunc, req *Request) error {
	return Chain(h, answerCallbacks(r.adapter), logRequests, recoverPanics, withDeadline(r.timeout))(ctx, req)
}

func shard(chatID int64, n int) int {
	if chatID < 0 {
		chatID = -chatID
	}
	return int(chatID % int64(n))
}

// route resolves the handler for up. ok is false when nothing handles it.
func (r *Router) route(ctx context.Context, up kit.Update) (HandlerFunc, *Request, bool) {
	req := &Request{Update: up, ReqID: newReqID()}
	var h HandlerFunc

	switch up.Kind {
	case kit.UpdateMessage:
		if up.Message == nil {
			return nil, nil, false
		}
		m := up.Message
		req.Chat, req.FromID = kit.ChatTarget{ChatID: m.ChatID}, m.FromID
		word, args, isCmd := parseCommand(m.Text)
		if !isCmd {
			req.Command, h = "text", r.h.Text
			break
		}
		req.Command, req.Args = "/"+word, args
		if h = r.h.Commands[word]; h == nil {
			_, _ = r.adapter.SendText(ctx, req.Chat, unknownCommandText, nil)
			return nil, nil, false
		}
	case kit.UpdateMedia:
		if up.Media == nil {
			return nil, nil, false
		}
		req.Chat, req.FromID = kit.ChatTarget{ChatID: up.Media.ChatID}, up.Media.FromID
		req.Command, h = "media", r.h.Media
	case kit.UpdateCallback:
		if up.Callback == nil {
			return nil, nil, false
		}
		cb := up.Callback
		req.Chat, req.FromID = kit.ChatTarget{ChatID: cb.ChatID}, cb.FromID
		ns, action, err := callback.Parse(cb.Data)
		if err == nil {
			h = r.h.Callbacks[ns]
		}
		if h == nil {
			r.log.Debug("unhandled callback", logx.String("data", cb.Data), logx.Err(err))
			_ = r.adapter.AnswerCallback(ctx, cb.ID, "Unsupported action")
			return nil, nil, false
		}
		req.Command, req.Namespace, req.Action = "cb:"+ns, ns, action
	}
	if h == nil {
		return nil, nil, false
	}
	req.Log = r.log.With(
		logx.String("rid", req.ReqID),
		logx.Int64("chat_id", req.Chat.ChatID),
		logx.Int64("from_id", req.FromID),
	)
	return h, req, true
}

// parseCommand splits "/cmd@bot a b" into "cmd", ["a" "b"].
func parseCommand(text string) (string, []string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", nil, false
	}
	parts := strings.Fields(text)
	word := strings.TrimPrefix(parts[0], "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	if word == "" {
		return "", nil, false
	}
	return strings.ToLower(word), parts[1:], true
}

func newReqID() string { return strings.ReplaceAll(uuid.NewString(), "-", "")[:12] }
