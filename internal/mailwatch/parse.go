package mailwatch

import (
	"net/mail"
	"strings"

	"google.golang.org/api/gmail/v1"

	"relaybot/pkg/tgui"
)

// MaxBodyRunes caps the body relayed in a notification.
const MaxBodyRunes = 4096

// ParseFrom splits a From header into display name and address. Unparseable
// headers come back as the trimmed address with no name.
func ParseFrom(header string) (name, addr string) {
	if a, err := mail.ParseAddress(header); err == nil {
		return a.Name, a.Address
	}
	if lt := strings.LastIndex(header, "<"); lt >= 0 {
		if gt := strings.LastIndex(header, ">"); gt > lt {
			return strings.Trim(header[:lt], `" `), strings.TrimSpace(header[lt+1 : gt])
		}
	}
	return "", strings.TrimSpace(header)
}

func header(p *gmail.MessagePart, name string) string {
	if p == nil {
		return ""
	}
	for _, h := range p.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// ExtractBody returns the first text/plain part, searching nested
// multiparts, or the top-level body of a single-part message.
func ExtractBody(p *gmail.MessagePart) string {
	if p == nil {
		return ""
	}
	if len(p.Parts) == 0 {
		return partData(p)
	}
	var walk func(parts []*gmail.MessagePart) string
	walk = func(parts []*gmail.MessagePart) string {
		for _, part := range parts {
			if part.MimeType == "text/plain" {
				if s := partData(part); s != "" {
					return s
				}
			}
			if strings.HasPrefix(part.MimeType, "multipart/") {
				if s := walk(part.Parts); s != "" {
					return s
				}
			}
		}
		return ""
	}
	return walk(p.Parts)
}

func partData(p *gmail.MessagePart) string {
	if p.Body == nil || p.Body.Data == "" {
		return ""
	}
	b, err := decodeBase64(p.Body.Data)
	if err != nil {
		return ""
	}
	return string(b)
}

// ExtractAttachments lists image and PDF parts that carry an attachment id.
func ExtractAttachments(p *gmail.MessagePart) []MailAttachment {
	var out []MailAttachment
	var walk func(parts []*gmail.MessagePart)
	walk = func(parts []*gmail.MessagePart) {
		for _, part := range parts {
			if len(part.Parts) > 0 {
				walk(part.Parts)
				continue
			}
			if !isRelayedMime(part.MimeType) || part.Body == nil || part.Body.AttachmentId == "" {
				continue
			}
			out = append(out, MailAttachment{ID: part.Body.AttachmentId, FileName: part.Filename, MimeType: part.MimeType})
		}
	}
	if p != nil {
		walk(p.Parts)
	}
	return out
}

func isRelayedMime(m string) bool {
	return strings.HasPrefix(m, "image/") || m == "application/pdf"
}

func toMail(m *gmail.Message) *Mail {
	name, addr := ParseFrom(header(m.Payload, "From"))
	return &Mail{
		ID:          m.Id,
		SenderName:  name,
		SenderEmail: addr,
		Subject:     header(m.Payload, "Subject"),
		Body:        tgui.TruncRunes(ExtractBody(m.Payload), MaxBodyRunes, "..."),
		Attachments: ExtractAttachments(m.Payload),
	}
}
