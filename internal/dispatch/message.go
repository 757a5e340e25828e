package dispatch

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	kit "relaybot/internal/transport"
)

// Sender is the Official a message is broadcast on behalf of.
type Sender struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Attachment references externally hosted content. ContentType is kept as
// received so unknown kinds survive persistence and are skipped at delivery.
type Attachment struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
	FileName    string `json:"file_name"`
	FileID      string `json:"file_id,omitempty"`
}

// Kind returns the attachment's media kind, or false for unknown content types.
func (a Attachment) Kind() (kit.MediaKind, bool) {
	return kit.ParseMediaKind(strings.ToLower(strings.TrimSpace(a.ContentType)))
}

// Message is persisted once under ID before any delivery and never changed.
type Message struct {
	ID          string       `json:"id"`
	Text        string       `json:"text"`
	User        Sender       `json:"user"`
	Attachments []Attachment `json:"attachments,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// NewMessageID returns "YYYYMMDDhhmmss_" followed by 8 random characters.
func NewMessageID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return now.Format("20060102150405") + "_" + suffix
}

// Format renders the body recipients see, also used for the compose preview.
func Format(m Message) string {
	return fmt.Sprintf("✉️ %s <%s> \n\n %s", m.User.Name, m.User.Email, m.Text)
}
