package broker

import (
	"errors"
	"testing"
)

func TestMessageTypeRoundTrip(t *testing.T) {
	tag := MessageType("ingest", "scan_ref")
	if tag != "ingest|scan_ref" {
		t.Fatalf("unexpected tag %q", tag)
	}

	wf, ref, err := ParseMessageType(tag)
	if err != nil {
		t.Fatalf("ParseMessageType failed: %v", err)
	}
	if wf != "ingest" || ref != "scan_ref" {
		t.Errorf("unexpected split: %q %q", wf, ref)
	}
}

func TestParseMessageTypeMalformed(t *testing.T) {
	tests := []struct {
		tag      string
		segments int
	}{
		{"ingest", 1},
		{"ingest|scan|extra", 3},
		{"|scan", 2},
		{"ingest|", 2},
		{"", 1},
	}

	for _, tt := range tests {
		_, _, err := ParseMessageType(tt.tag)
		var malformed *MalformedMessageTypeError
		if !errors.As(err, &malformed) {
			t.Errorf("%q: expected MalformedMessageTypeError, got %v", tt.tag, err)
			continue
		}
		if malformed.Segments != tt.segments {
			t.Errorf("%q: expected %d segments, got %d", tt.tag, tt.segments, malformed.Segments)
		}
	}
}

func TestDeadLetterSubscription(t *testing.T) {
	if got := DeadLetterSubscription("orchestrator", ""); got != "orchestrator/$deadletterqueue" {
		t.Errorf("unexpected default dead-letter name %q", got)
	}
	if got := DeadLetterSubscription("orchestrator", ".dlq"); got != "orchestrator.dlq" {
		t.Errorf("unexpected custom dead-letter name %q", got)
	}
}

func TestMessageClone(t *testing.T) {
	msg := &Message{MessageID: "id", Attributes: map[string]string{"a": "1"}}
	cp := msg.Clone()
	cp.Attributes["a"] = "2"
	if msg.Attributes["a"] != "1" {
		t.Error("clone shares attributes")
	}
}
