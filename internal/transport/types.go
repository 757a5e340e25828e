package transport

import (
	"context"
	"io"
)

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
	UpdateMedia    UpdateKind = "media"
)

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
	Media    *Media
}

type Message struct {
	ID        int
	ChatID    int64
	FromID    int64
	FromName  string
	Username  string
	Text      string
	IsCommand bool
}

type Callback struct {
	ID        string
	FromID    int64
	ChatID    int64
	MessageID int
	Data      string
}

// Media is an inbound file message. FileID is the platform handle,
// FileName is empty for photos and voice notes.
type Media struct {
	MessageID int
	ChatID    int64
	FromID    int64
	Kind      MediaKind
	FileID    string
	FileName  string
	Caption   string
}

// MediaKind is the closed set of attachment kinds relayed as typed sends.
type MediaKind string

const (
	MediaAudio    MediaKind = "audio"
	MediaPhoto    MediaKind = "photo"
	MediaVoice    MediaKind = "voice"
	MediaVideo    MediaKind = "video"
	MediaDocument MediaKind = "document"
)

// ParseMediaKind maps a stored content type onto a MediaKind.
func ParseMediaKind(s string) (MediaKind, bool) {
	switch k := MediaKind(s); k {
	case MediaAudio, MediaPhoto, MediaVoice, MediaVideo, MediaDocument:
		return k, true
	default:
		return "", false
	}
}

type ChatTarget struct {
	ChatID int64
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

// Button is one inline keyboard button. Exactly one of Data, URL or WebApp is set.
type Button struct {
	Text   string
	Data   string
	URL    string
	WebApp string
}

// Markup is a platform-neutral inline keyboard, one slice per row.
type Markup [][]Button

// Rows returns m with each button on its own row.
func Rows(buttons ...Button) Markup {
	m := make(Markup, 0, len(buttons))
	for _, b := range buttons {
		m = append(m, []Button{b})
	}
	return m
}

type SendOptions struct {
	DisablePreview bool
	ReplyTo        int
	Markup         Markup
}

// Upload is a file for typed media sends: streamed from Reader, or resent by
// platform FileID when Reader is nil.
type Upload struct {
	Kind     MediaKind
	Reader   io.Reader
	FileID   string
	FileName string
	Caption  string
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	SendMedia(ctx context.Context, to ChatTarget, up Upload, opt *SendOptions) (MessageRef, error)
	EditMarkup(ctx context.Context, ref MessageRef, markup Markup) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error
	FileURL(ctx context.Context, fileID string) (string, error)
}
