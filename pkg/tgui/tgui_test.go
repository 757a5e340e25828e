package tgui

import (
	"testing"

	kit "relaybot/internal/transport"
)

func TestGrid2(t *testing.T) {
	m := Grid2([]kit.Button{Btn("a", "1"), Btn("b", "2"), Btn("c", "3")})
	if len(m) != 2 || len(m[0]) != 2 || len(m[1]) != 1 || m[1][0].Text != "c" {
		t.Fatalf("unexpected grid: %+v", m)
	}
}

func TestInlineSkipsEmptyRows(t *testing.T) {
	m := NewInline().Row().Row(URLBtn("x", "https://x")).Markup()
	if len(m) != 1 || m[0][0].URL != "https://x" {
		t.Fatalf("unexpected markup: %+v", m)
	}
}

func TestTruncRunes(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello world", 8, "hello..."},
		{"héllo", 4, "h..."},
		{"abc", 0, ""},
	}
	for _, tt := range tests {
		if got := TruncRunes(tt.in, tt.n, "..."); got != tt.want {
			t.Fatalf("TruncRunes(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}
