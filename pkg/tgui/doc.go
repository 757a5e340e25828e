// Package tgui provides small Telegram UI helpers:
//   - Inline keyboard builders over transport.Markup
//   - Rune-safe truncation
package tgui
