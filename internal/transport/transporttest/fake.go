// Package transporttest provides an in-memory transport.Adapter that records
// every outbound call.
package transporttest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	kit "relaybot/internal/transport"
)

// ErrUnknownChat is returned for chats listed in Fake.FailChats without a specific error.
var ErrUnknownChat = errors.New("transporttest: chat not found")

// Sent is one recorded SendText or SendMedia call.
type Sent struct {
	ChatID   int64
	Kind     kit.MediaKind // empty for text
	Text     string        // text body or media caption
	FileName string
	FileID   string
	Body     []byte
	Opt      kit.SendOptions
}

type Edit struct {
	Ref    kit.MessageRef
	Markup kit.Markup
}

type Answer struct {
	CallbackID string
	Text       string
}

// Fake is safe for concurrent use.
type Fake struct {
	mu      sync.Mutex
	sent    []Sent
	edits   []Edit
	answers []Answer
	nextID  int
	out     chan<- kit.Update

	// FailChats makes sends to a chat fail with the mapped error (or ErrUnknownChat when nil).
	FailChats map[int64]error
	// FileURLs maps file ids to download URLs for FileURL.
	FileURLs map[string]string
	// Delay is slept before every send, like a slow relay.
	Delay time.Duration
}

func New() *Fake {
	return &Fake{FailChats: map[int64]error{}, FileURLs: map[string]string{}}
}

func (f *Fake) Start(ctx context.Context, out chan<- kit.Update) error {
	f.mu.Lock()
	f.out = out
	f.mu.Unlock()
	return nil
}

func (f *Fake) Stop(ctx context.Context) error { return nil }

// Push delivers u to the channel handed to Start.
func (f *Fake) Push(ctx context.Context, u kit.Update) error {
	f.mu.Lock()
	out := f.out
	f.mu.Unlock()
	if out == nil {
		return errors.New("transporttest: not started")
	}
	select {
	case out <- u:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Fake) failure(chatID int64) error {
	err, ok := f.FailChats[chatID]
	if !ok {
		return nil
	}
	if err == nil {
		return fmt.Errorf("%w: %d", ErrUnknownChat, chatID)
	}
	return err
}

func (f *Fake) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	return f.record(ctx, Sent{ChatID: to.ChatID, Text: text}, opt)
}

func (f *Fake) SendMedia(ctx context.Context, to kit.ChatTarget, up kit.Upload, opt *kit.SendOptions) (kit.MessageRef, error) {
	s := Sent{ChatID: to.ChatID, Kind: up.Kind, Text: up.Caption, FileName: up.FileName, FileID: up.FileID}
	if up.Reader != nil {
		b, err := io.ReadAll(up.Reader)
		if err != nil {
			return kit.MessageRef{}, err
		}
		s.Body = b
	}
	return f.record(ctx, s, opt)
}

func (f *Fake) record(ctx context.Context, s Sent, opt *kit.SendOptions) (kit.MessageRef, error) {
	if f.Delay > 0 {
		select {
		case <-time.After(f.Delay):
		case <-ctx.Done():
		}
	}
	if err := ctx.Err(); err != nil {
		return kit.MessageRef{}, err
	}
	if opt != nil {
		s.Opt = *opt
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure(s.ChatID); err != nil {
		return kit.MessageRef{}, err
	}
	f.nextID++
	f.sent = append(f.sent, s)
	return kit.MessageRef{ChatID: s.ChatID, MessageID: f.nextID}, nil
}

func (f *Fake) EditMarkup(ctx context.Context, ref kit.MessageRef, markup kit.Markup) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure(ref.ChatID); err != nil {
		return err
	}
	f.edits = append(f.edits, Edit{Ref: ref, Markup: markup})
	return nil
}

func (f *Fake) AnswerCallback(ctx context.Context, callbackID, text string) error {
	f.mu.Lock()
	f.answers = append(f.answers, Answer{CallbackID: callbackID, Text: text})
	f.mu.Unlock()
	return nil
}

func (f *Fake) FileURL(ctx context.Context, fileID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.FileURLs[fileID]
	if !ok {
		return "", fmt.Errorf("transporttest: unknown file %q", fileID)
	}
	return u, nil
}

// Sent returns a copy of the recorded sends in call order.
func (f *Fake) Sent() []Sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Sent(nil), f.sent...)
}

// SentTo returns the recorded sends addressed to chatID.
func (f *Fake) SentTo(chatID int64) []Sent {
	var out []Sent
	for _, s := range f.Sent() {
		if s.ChatID == chatID {
			out = append(out, s)
		}
	}
	return out
}

func (f *Fake) Edits() []Edit {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Edit(nil), f.edits...)
}

func (f *Fake) Answers() []Answer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Answer(nil), f.answers...)
}

var _ kit.Adapter = (*Fake)(nil)
