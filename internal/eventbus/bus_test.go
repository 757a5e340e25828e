package eventbus

import "testing"

func TestPublishFanout(t *testing.T) {
	b := New()
	a, unsubA := b.Subscribe(1)
	c, unsubC := b.Subscribe(1)
	defer unsubC()

	b.Publish(Event{Type: BroadcastDone, Data: 3})
	if e := <-a; e.Type != BroadcastDone || e.Time.IsZero() {
		t.Fatalf("subscriber a got %+v", e)
	}
	if e := <-c; e.Data != 3 {
		t.Fatalf("subscriber c got %+v", e)
	}

	unsubA()
	unsubA()
	if _, ok := <-a; ok {
		t.Fatal("channel should be closed after unsubscribe")
	}
	Publish(b, MailNotified, nil)
	if e := <-c; e.Type != MailNotified {
		t.Fatalf("after unsubscribe got %+v", e)
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()
	b.Publish(Event{Type: "one"})
	b.Publish(Event{Type: "two"})
	if e := <-ch; e.Type != "one" {
		t.Fatalf("first event = %q", e.Type)
	}
	select {
	case e := <-ch:
		t.Fatalf("unexpected buffered event %q", e.Type)
	default:
	}
	Publish(nil, "ignored", nil)
}
