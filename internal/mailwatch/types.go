// Package mailwatch turns mailbox push notifications into student bot
// messages. Each upstream message is announced at most once per mailbox.
package mailwatch

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

var (
	ErrReauthorize      = errors.New("mailwatch: credential cannot be refreshed")
	ErrUnknownMailbox   = errors.New("mailwatch: unknown mailbox")
	ErrBadPush          = errors.New("mailwatch: malformed push")
	ErrNoSuchAttachment = errors.New("mailwatch: attachment not found")
)

// Credential is the stored OAuth2 grant of one mailbox.
type Credential struct {
	Token         string    `json:"token"`
	RefreshToken  string    `json:"refresh_token"`
	TokenURI      string    `json:"token_uri"`
	ClientID      string    `json:"client_id"`
	ClientSecret  string    `json:"client_secret"`
	GrantedScopes []string  `json:"granted_scopes,omitempty"`
	Expiry        time.Time `json:"expiry,omitempty"`
}

// Expired reports whether the access token must be refreshed before use.
// A token without expiry is taken as valid.
func (c Credential) Expired(now time.Time) bool {
	if c.Token == "" {
		return true
	}
	return !c.Expiry.IsZero() && !now.Add(time.Minute).Before(c.Expiry)
}

func (c Credential) oauthToken() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  c.Token,
		TokenType:    "Bearer",
		RefreshToken: c.RefreshToken,
		Expiry:       c.Expiry,
	}
}

// TokenSource serves the stored access token without refreshing it.
func (c Credential) TokenSource() oauth2.TokenSource {
	return oauth2.StaticTokenSource(c.oauthToken())
}

// Record is the mailboxes document, keyed by email address. HistoryID and
// MessageID are the delivery cursor.
type Record struct {
	Email      string     `json:"email"`
	UserID     int64      `json:"user_id"`
	Credential Credential `json:"credential"`
	HistoryID  uint64     `json:"history_id,omitempty"`
	MessageID  string     `json:"message_id,omitempty"`
}

// Push is the decoded payload of a mailbox change notification.
type Push struct {
	EmailAddress string
	HistoryID    uint64
}

// DecodePush parses a Pub/Sub push envelope {"message":{"data":"<base64 json>"}}.
func DecodePush(body []byte) (Push, error) {
	var env struct {
		Message struct {
			Data string `json:"data"`
		} `json:"message"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return Push{}, fmt.Errorf("%w: envelope: %v", ErrBadPush, err)
	}
	raw, err := decodeBase64(env.Message.Data)
	if err != nil {
		return Push{}, fmt.Errorf("%w: data: %v", ErrBadPush, err)
	}
	var payload struct {
		EmailAddress string      `json:"emailAddress"`
		HistoryID    json.Number `json:"historyId"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Push{}, fmt.Errorf("%w: payload: %v", ErrBadPush, err)
	}
	if payload.EmailAddress == "" {
		return Push{}, fmt.Errorf("%w: missing emailAddress", ErrBadPush)
	}
	hid, err := strconv.ParseUint(payload.HistoryID.String(), 10, 64)
	if err != nil {
		return Push{}, fmt.Errorf("%w: historyId %q", ErrBadPush, payload.HistoryID)
	}
	return Push{EmailAddress: strings.ToLower(payload.EmailAddress), HistoryID: hid}, nil
}

// decodeBase64 accepts standard and URL alphabets, padded or not.
func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	var firstErr error
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.RawURLEncoding} {
		b, err := enc.DecodeString(s)
		if err == nil {
			return b, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}

// Mail is one fetched upstream message.
type Mail struct {
	ID          string
	SenderName  string
	SenderEmail string
	Subject     string
	Body        string
	Attachments []MailAttachment
}

type MailAttachment struct {
	ID       string
	FileName string
	MimeType string
}

// Mailbox is the per-user mail API.
type Mailbox interface {
	// Latest returns the first message added after historyID, or nil when there is none.
	Latest(ctx context.Context, historyID uint64) (*Mail, error)
	Message(ctx context.Context, id string) (*Mail, error)
	SetRead(ctx context.Context, id string, read bool) error
	AttachmentData(ctx context.Context, messageID, attachmentID string) ([]byte, error)
	// Watch (re)subscribes the mailbox to push notifications and returns its current history id.
	Watch(ctx context.Context, topic string) (uint64, error)
}

// Connector opens a Mailbox for a token source.
type Connector interface {
	Connect(ctx context.Context, ts oauth2.TokenSource) (Mailbox, error)
}

// Refresher exchanges a refresh token for a new access token.
type Refresher interface {
	Refresh(ctx context.Context, c Credential) (Credential, error)
}
