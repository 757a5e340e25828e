package dispatch

import (
	"net/url"
	"strconv"

	"relaybot/internal/callback"
	kit "relaybot/internal/transport"
	"relaybot/pkg/tgui"
)

func icon(k kit.MediaKind) string {
	switch k {
	case kit.MediaAudio:
		return "🎧"
	case kit.MediaPhoto:
		return "🖼️"
	case kit.MediaVoice:
		return "🎙️"
	case kit.MediaVideo:
		return "🎥"
	case kit.MediaDocument:
		return "📄"
	}
	return ""
}

// Markup builds the per-recipient keyboard: one download button per known
// attachment, two per row, then an "Open viewer" link when viewerURL is set.
func Markup(m Message, viewerURL string) kit.Markup {
	var buttons []kit.Button
	for i, a := range m.Attachments {
		kind, ok := a.Kind()
		if !ok {
			continue
		}
		data, err := callback.Encode(callback.NSBroadcast, callback.Download{MessageID: m.ID, Index: i})
		if err != nil {
			continue
		}
		label := a.FileName
		if label == "" {
			label = string(kind) + " " + strconv.Itoa(i+1)
		}
		buttons = append(buttons, tgui.Btn(icon(kind)+" "+label, data))
	}
	mk := tgui.Grid2(buttons)
	if link := viewerLink(viewerURL, m.ID); link != "" {
		mk = append(mk, []kit.Button{tgui.URLBtn("Open viewer", link)})
	}
	if len(mk) == 0 {
		return nil
	}
	return mk
}

func viewerLink(base, id string) string {
	if base == "" {
		return ""
	}
	u, err := url.Parse(base)
	if err != nil {
		return ""
	}
	q := u.Query()
	q.Set("message_id", id)
	u.RawQuery = q.Encode()
	return u.String()
}
