// Package callback encodes inline-button payloads as
// "<namespace>*<action>*<arg1>*...*" and parses them back into typed actions.
package callback

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// MaxDataLen is Telegram's callback_data limit in bytes.
const MaxDataLen = 64

const sep = "*"

// Namespaces.
const (
	NSBroadcast = "bc"
	NSMail      = "mail"
	NSCompose   = "compose"
)

// Wire action names.
const (
	actDownload      = "download"
	actGetAttachment = "get_attachment"
	actMarkRead      = "mark_as_read"
	actMarkUnread    = "mark_as_unread"
	actChoice        = "choice"
)

var (
	ErrMalformed = errors.New("callback: malformed data")
	ErrTooLong   = errors.New("callback: data too long")
)

// Action is one of Download, GetAttachment, MarkRead, MarkUnread or Choice.
type Action interface {
	action() string
	args() []string
}

// Download fetches attachment Index of a broadcast message.
type Download struct {
	MessageID string
	Index     int
}

// GetAttachment fetches attachment Index of a mail message.
type GetAttachment struct {
	MessageID string
	Index     int
}

// MarkRead and MarkUnread toggle the read state of a mail message.
type MarkRead struct{ MessageID string }
type MarkUnread struct{ MessageID string }

// Choice answers a yes/no prompt of the compose flow, e.g. Name "attach".
type Choice struct {
	Name string
	Yes  bool
}

func (Download) action() string      { return actDownload }
func (GetAttachment) action() string { return actGetAttachment }
func (MarkRead) action() string      { return actMarkRead }
func (MarkUnread) action() string    { return actMarkUnread }
func (Choice) action() string        { return actChoice }

func (a Download) args() []string      { return []string{a.MessageID, strconv.Itoa(a.Index)} }
func (a GetAttachment) args() []string { return []string{a.MessageID, strconv.Itoa(a.Index)} }
func (a MarkRead) args() []string      { return []string{a.MessageID} }
func (a MarkUnread) args() []string    { return []string{a.MessageID} }
func (a Choice) args() []string {
	v := "no"
	if a.Yes {
		v = "yes"
	}
	return []string{a.Name, v}
}

// Encode renders a under namespace ns, keeping the trailing separator.
func Encode(ns string, a Action) (string, error) {
	parts := append([]string{ns, a.action()}, a.args()...)
	for _, p := range parts {
		if p == "" || strings.Contains(p, sep) {
			return "", fmt.Errorf("%w: field %q", ErrMalformed, p)
		}
	}
	s := strings.Join(parts, sep) + sep
	if len(s) > MaxDataLen {
		return "", fmt.Errorf("%w: %d bytes", ErrTooLong, len(s))
	}
	return s, nil
}

// MustEncode is Encode for constant payloads. It panics on error.
func MustEncode(ns string, a Action) string {
	s, err := Encode(ns, a)
	if err != nil {
		panic(err)
	}
	return s
}

// Parse splits data and returns its namespace and typed action.
func Parse(data string) (string, Action, error) {
	fields := strings.Split(strings.TrimSuffix(data, sep), sep)
	if len(fields) < 3 {
		return "", nil, fmt.Errorf("%w: %q", ErrMalformed, data)
	}
	ns, act, args := fields[0], fields[1], fields[2:]
	for _, f := range fields {
		if f == "" {
			return "", nil, fmt.Errorf("%w: empty field in %q", ErrMalformed, data)
		}
	}

	switch act {
	case actDownload, actGetAttachment:
		if len(args) != 2 {
			return "", nil, fmt.Errorf("%w: %s wants 2 args", ErrMalformed, act)
		}
		idx, err := strconv.Atoi(args[1])
		if err != nil || idx < 0 {
			return "", nil, fmt.Errorf("%w: bad index %q", ErrMalformed, args[1])
		}
		if act == actDownload {
			return ns, Download{MessageID: args[0], Index: idx}, nil
		}
		return ns, GetAttachment{MessageID: args[0], Index: idx}, nil
	case actMarkRead, actMarkUnread:
		if len(args) != 1 {
			return "", nil, fmt.Errorf("%w: %s wants 1 arg", ErrMalformed, act)
		}
		if act == actMarkRead {
			return ns, MarkRead{MessageID: args[0]}, nil
		}
		return ns, MarkUnread{MessageID: args[0]}, nil
	case actChoice:
		if len(args) != 2 || (args[1] != "yes" && args[1] != "no") {
			return "", nil, fmt.Errorf("%w: bad choice %q", ErrMalformed, data)
		}
		return ns, Choice{Name: args[0], Yes: args[1] == "yes"}, nil
	default:
		return "", nil, fmt.Errorf("%w: unknown action %q", ErrMalformed, act)
	}
}
