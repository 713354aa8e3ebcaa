package stomp

import (
	"reflect"
	"testing"
)

func TestHeaderSetKeepsPosition(t *testing.T) {
	header := NewHeader("destination", "/queue/a", "ack", "auto", "id", "1")
	header.Set("ack", "client")

	if keys := header.Keys(); !reflect.DeepEqual(keys, []string{"destination", "ack", "id"}) {
		t.Fatalf("expected original key order, got %v", keys)
	}
	if value := header.Value("ack"); value != "client" {
		t.Fatalf("expected last write to win, got %q", value)
	}
}

func TestHeaderGetAbsent(t *testing.T) {
	var header *Header
	if value, ok := header.Get("missing"); ok || value != "" {
		t.Fatalf("expected absent key on nil header, got %q %v", value, ok)
	}

	header = NewHeader()
	if value, ok := header.Get("missing"); ok || value != "" {
		t.Fatalf("expected absent key, got %q %v", value, ok)
	}
	if header.Contains("missing") {
		t.Fatalf("expected Contains to be false")
	}
}

func TestHeaderTrailingKeyGetsEmptyValue(t *testing.T) {
	header := NewHeader("a", "1", "b")
	if value, ok := header.Get("b"); !ok || value != "" {
		t.Fatalf("expected empty value for trailing key, got %q %v", value, ok)
	}
}

func TestHeaderMerge(t *testing.T) {
	header := NewHeader("destination", "/queue/a", "ack", "auto")
	header.Merge(NewHeader("ack", "client", "selector", "x = 1"), false)

	if value := header.Value("ack"); value != "auto" {
		t.Fatalf("expected merge without overwrite to keep ack, got %q", value)
	}
	if value := header.Value("selector"); value != "x = 1" {
		t.Fatalf("expected merge to append selector, got %q", value)
	}

	header.Merge(NewHeader("ack", "client"), true)
	if value := header.Value("ack"); value != "client" {
		t.Fatalf("expected merge with overwrite to replace ack, got %q", value)
	}
	if keys := header.Keys(); !reflect.DeepEqual(keys, []string{"destination", "ack", "selector"}) {
		t.Fatalf("unexpected key order after merge: %v", keys)
	}

	header.Merge(nil, true)
	if header.Len() != 3 {
		t.Fatalf("expected nil merge to be a no-op, got %d entries", header.Len())
	}
}

func TestHeaderDel(t *testing.T) {
	header := NewHeader("a", "1", "b", "2", "c", "3")
	header.Del("b").Del("missing")
	if keys := header.Keys(); !reflect.DeepEqual(keys, []string{"a", "c"}) {
		t.Fatalf("expected b removed, got %v", keys)
	}
}

func TestHeaderCloneIsDeep(t *testing.T) {
	header := NewHeader("a", "1")
	clone := header.Clone()
	clone.Set("a", "2").Set("b", "3")

	if header.Value("a") != "1" || header.Contains("b") {
		t.Fatalf("expected clone writes not to reach the original")
	}
}

func TestFrameAccessors(t *testing.T) {
	frame := NewFrame(CommandMessage,
		HeaderMessageID, "m-1",
		HeaderSubscription, "s-1",
		HeaderAck, "a-1",
		HeaderDestination, "/queue/a",
	)

	if id, ok := frame.MessageID(); !ok || id != "m-1" {
		t.Fatalf("unexpected message-id %q %v", id, ok)
	}
	if id, ok := frame.Subscription(); !ok || id != "s-1" {
		t.Fatalf("unexpected subscription %q %v", id, ok)
	}
	if id, ok := frame.AckID(); !ok || id != "a-1" {
		t.Fatalf("unexpected ack %q %v", id, ok)
	}
	if destination, _ := frame.Destination(); destination != "/queue/a" {
		t.Fatalf("unexpected destination %q", destination)
	}
	if _, ok := frame.ReceiptID(); ok {
		t.Fatalf("expected no receipt-id")
	}
	if frame.IsError() || frame.IsHeartbeat() || frame.Err() != nil {
		t.Fatalf("expected a plain MESSAGE frame")
	}
}

func TestFrameErr(t *testing.T) {
	frame := NewFrame(CommandError, HeaderMessage, "access denied")
	err := frame.Err()
	expectCode(t, err, BrokerError)
	if err.(*Error).Frame != frame {
		t.Fatalf("expected broker error to carry the ERROR frame")
	}
	if err.Error() != "BrokerError: access denied" {
		t.Fatalf("unexpected error text %q", err.Error())
	}
}

func TestFrameCloneIsDeep(t *testing.T) {
	frame := NewFrame(CommandSend, HeaderDestination, "/queue/a").SetBody([]byte("abc"))
	clone := frame.Clone()
	clone.Body[0] = 'x'
	clone.Set(HeaderDestination, "/queue/b")

	if string(frame.Body) != "abc" {
		t.Fatalf("expected body copy, got %q", frame.Body)
	}
	if destination, _ := frame.Destination(); destination != "/queue/a" {
		t.Fatalf("expected header copy, got %q", destination)
	}

	var missing *Frame
	if missing.Clone() != nil {
		t.Fatalf("expected nil clone of nil frame")
	}
}

func TestHeartbeatFrame(t *testing.T) {
	frame := Heartbeat()
	if !frame.IsHeartbeat() {
		t.Fatalf("expected heartbeat frame")
	}
	if frame.String() != "<heartbeat>" {
		t.Fatalf("unexpected heartbeat rendering %q", frame.String())
	}
}
