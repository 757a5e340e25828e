package bot

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	kit "relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

// Middleware wraps a handler. Chain applies the first one outermost.
type Middleware func(next HandlerFunc) HandlerFunc

func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

// slowRequest promotes successful request logs from DEBUG to INFO.
const slowRequest = 750 * time.Millisecond

const callbackFailedText = "Something went wrong, please try again."

// withDeadline bounds one update.
func withDeadline(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		if d <= 0 {
			return next
		}
		return func(ctx context.Context, req *Request) error {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, req)
		}
	}
}

// recoverPanics turns a handler panic into an error for the outer layers.
func recoverPanics(next HandlerFunc) HandlerFunc {
	return func(ctx context.Context, req *Request) (err error) {
		defer func() {
			if p := recover(); p != nil {
				req.Log.Error("handler panic", logx.Any("panic", p), logx.String("stack", string(debug.Stack())))
				err = fmt.Errorf("bot: handler panic: %v", p)
			}
		}()
		return next(ctx, req)
	}
}

func logRequests(next HandlerFunc) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		start := time.Now()
		err := next(ctx, req)
		took := time.Since(start)

		fields := []logx.Field{logx.String("cmd", req.Command), logx.Duration("took", took)}
		if req.Namespace != "" {
			fields = append(fields, logx.String("ns", req.Namespace))
		}
		switch {
		case err != nil:
			req.Log.Warn("update failed", append(fields, logx.Err(err))...)
		case took >= slowRequest:
			req.Log.Info("update handled", fields...)
		default:
			req.Log.Debug("update handled", fields...)
		}
		return err
	}
}

// answerCallbacks acknowledges a pressed button once the handler returns so
// the client stops its spinner; failures get a short toast.
func answerCallbacks(adapter kit.Adapter) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			err := next(ctx, req)
			cb := req.Update.Callback
			if cb == nil {
				return err
			}
			text := ""
			if err != nil {
				text = callbackFailedText
			}
			if aerr := adapter.AnswerCallback(context.WithoutCancel(ctx), cb.ID, text); aerr != nil {
				req.Log.Debug("callback answer failed", logx.Err(aerr))
			}
			return err
		}
	}
}
