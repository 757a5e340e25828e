package tgui

import kit "relaybot/internal/transport"

// Inline is a small builder for inline keyboards.
type Inline struct {
	rows kit.Markup
}

func NewInline() *Inline { return &Inline{} }

// Row appends a row of buttons. Empty rows are ignored.
func (i *Inline) Row(btn ...kit.Button) *Inline {
	if len(btn) > 0 {
		i.rows = append(i.rows, btn)
	}
	return i
}

// Markup returns the built keyboard, nil when no rows were added.
func (i *Inline) Markup() kit.Markup { return i.rows }

// Btn creates a callback button with raw callback data.
func Btn(text, data string) kit.Button { return kit.Button{Text: text, Data: data} }

// URLBtn creates a URL button.
func URLBtn(text, url string) kit.Button { return kit.Button{Text: text, URL: url} }

// WebAppBtn opens url as a Telegram Mini App.
func WebAppBtn(text, url string) kit.Button { return kit.Button{Text: text, WebApp: url} }

// Grid2 splits buttons into 2 columns.
func Grid2(buttons []kit.Button) kit.Markup {
	var m kit.Markup
	for i := 0; i < len(buttons); i += 2 {
		end := min(i+2, len(buttons))
		m = append(m, append([]kit.Button(nil), buttons[i:end]...))
	}
	return m
}
