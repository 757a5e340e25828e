package telegram

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	kit "relaybot/internal/transport"
)

func TestSplitTextShortPassesThrough(t *testing.T) {
	got := splitText("hello", 10)
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("splitText = %q", got)
	}
}

func TestSplitTextPrefersNewlines(t *testing.T) {
	s := strings.Repeat("a", 6) + "\n" + strings.Repeat("b", 6)
	got := splitText(s, 10)
	if len(got) != 2 || got[0] != "aaaaaa" || got[1] != "bbbbbb" {
		t.Fatalf("splitText = %q", got)
	}
}

func TestSplitTextHardCutKeepsContent(t *testing.T) {
	s := "abc<b>def</b>gh"
	got := splitText(s, 5)
	if len(got) != 3 || got[0] != "abc<b" {
		t.Fatalf("splitText = %q", got)
	}
	if strings.Join(got, "") != s {
		t.Fatalf("chunks lost content: %q", got)
	}
}

func TestInlineMarkup(t *testing.T) {
	rm := inlineMarkup(kit.Markup{
		{{Text: "🎧 a.mp3", Data: "bc*download*id*0*"}},
		{{Text: "Open viewer", URL: "https://example.com"}, {Text: "App", WebApp: "https://app"}},
	})
	if len(rm.InlineKeyboard) != 2 || len(rm.InlineKeyboard[1]) != 2 {
		t.Fatalf("unexpected keyboard shape: %+v", rm.InlineKeyboard)
	}
	if rm.InlineKeyboard[0][0].Data != "bc*download*id*0*" {
		t.Fatalf("callback data = %q", rm.InlineKeyboard[0][0].Data)
	}
	if rm.InlineKeyboard[1][1].WebApp == nil || rm.InlineKeyboard[1][1].WebApp.URL != "https://app" {
		t.Fatal("web app button not mapped")
	}
}

func TestWithinGivesUpAtDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	release := make(chan struct{})
	defer close(release)

	start := time.Now()
	_, err := within(ctx, func() (int, error) {
		<-release
		return 1, nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if took := time.Since(start); took > time.Second {
		t.Fatalf("within blocked for %v", took)
	}
}

func TestWithinReturnsResult(t *testing.T) {
	v, err := within(context.Background(), func() (string, error) { return "ok", nil })
	if err != nil || v != "ok" {
		t.Fatalf("within = %q, %v", v, err)
	}
	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	if _, err := within(canceled, func() (string, error) { called = true; return "", nil }); err == nil || called {
		t.Fatalf("canceled ctx: err=%v called=%v", err, called)
	}
}

func TestAPIClientTimeout(t *testing.T) {
	if got := apiClient(Config{RequestTimeout: 3 * time.Second}, 10*time.Second).Timeout; got != 13*time.Second {
		t.Fatalf("poll client timeout = %v", got)
	}
	if got := apiClient(Config{}, 0).Timeout; got != defaultRequestTimeout {
		t.Fatalf("default timeout = %v", got)
	}
}
