package tgui

import kit "relaybot/internal/transport"

// YesNo builds a one-row, two-button confirm keyboard.
func YesNo(yes, no kit.Button) kit.Markup {
	return NewInline().Row(yes, no).Markup()
}
