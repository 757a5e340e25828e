package callback

import (
	"errors"
	"strings"
	"testing"
)

func TestParseVariants(t *testing.T) {
	tests := []struct {
		data string
		ns   string
		want Action
	}{
		{"bc*download*20240101120000_ab12cd34*2*", NSBroadcast, Download{MessageID: "20240101120000_ab12cd34", Index: 2}},
		{"mail*get_attachment*18c9f*0*", NSMail, GetAttachment{MessageID: "18c9f", Index: 0}},
		{"mail*mark_as_read*18c9f*", NSMail, MarkRead{MessageID: "18c9f"}},
		{"mail*mark_as_unread*18c9f*", NSMail, MarkUnread{MessageID: "18c9f"}},
		{"compose*choice*attach*yes*", NSCompose, Choice{Name: "attach", Yes: true}},
		{"compose*choice*confirm*no", NSCompose, Choice{Name: "confirm"}},
	}
	for _, tt := range tests {
		ns, got, err := Parse(tt.data)
		if err != nil {
			t.Fatalf("Parse(%q) error: %v", tt.data, err)
		}
		if ns != tt.ns || got != tt.want {
			t.Fatalf("Parse(%q) = %s, %#v; want %s, %#v", tt.data, ns, got, tt.ns, tt.want)
		}
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	for _, data := range []string{
		"", "bc", "bc*download*", "bc*download*id*", "bc*download*id*x*",
		"bc*download*id*-1*", "bc*explode*id*", "mail*mark_as_read*a*b*", "bc**id*1*",
		"compose*choice*attach*maybe*",
	} {
		if _, _, err := Parse(data); !errors.Is(err, ErrMalformed) {
			t.Fatalf("Parse(%q) error = %v, want ErrMalformed", data, err)
		}
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	actions := []Action{
		Download{MessageID: "20240101120000_ab12cd34", Index: 3},
		MarkUnread{MessageID: "18c9f"},
		Choice{Name: "confirm", Yes: true},
	}
	for _, a := range actions {
		s, err := Encode(NSBroadcast, a)
		if err != nil {
			t.Fatalf("Encode(%#v): %v", a, err)
		}
		if !strings.HasSuffix(s, sep) {
			t.Fatalf("encoded %q lacks trailing separator", s)
		}
		_, got, err := Parse(s)
		if err != nil || got != a {
			t.Fatalf("round trip %#v -> %q -> %#v, %v", a, s, got, err)
		}
	}
}

func TestEncodeLimits(t *testing.T) {
	if _, err := Encode(NSMail, MarkRead{MessageID: strings.Repeat("x", 80)}); !errors.Is(err, ErrTooLong) {
		t.Fatalf("long id error = %v", err)
	}
	if _, err := Encode(NSMail, MarkRead{MessageID: "a*b"}); !errors.Is(err, ErrMalformed) {
		t.Fatalf("separator in field error = %v", err)
	}
}

func TestMustEncodePanicsOnBadPayload(t *testing.T) {
	defer func() {
		r := recover()
		err, ok := r.(error)
		if !ok || !errors.Is(err, ErrMalformed) {
			t.Fatalf("recovered %v, want ErrMalformed panic", r)
		}
	}()
	MustEncode(NSMail, MarkRead{})
	t.Fatal("MustEncode returned for an empty field")
}
