package protocol

import (
	"strings"
	"testing"
)

func TestUnmarshal_UnknownKind(t *testing.T) {
	_, err := Unmarshal([]byte(`{"kind": "teleport", "body": {}}`))
	if err == nil || !strings.Contains(err.Error(), "unknown message kind") {
		t.Errorf("expected an unknown kind error, got %v", err)
	}
}

func TestUnmarshal_SenderNeverReadFromWire(t *testing.T) {
	// A hostile client attempting to spoof another player's identity.
	payload := []byte(`{"kind": "accuse", "body": {"suspect": "Hugh", "SenderID": "someone-else"}}`)

	message, err := Unmarshal(payload)
	if err != nil {
		t.Fatalf("Unmarshal() returned an unexpected error: %s", err)
	}

	command, ok := message.(Command)
	if !ok {
		t.Fatal("expected accuse to decode as a Command")
	}
	if id, _ := command.Sender(); id != "" {
		t.Errorf("sender identity must not be settable from the wire, got %q", id)
	}
}

func TestAttachSender(t *testing.T) {
	command := &Move{To: "study"}
	AttachSender(command, "f7d2", "Violet")

	id, name := command.Sender()
	if id != "f7d2" || name != "Violet" {
		t.Errorf("Sender() = (%q, %q), want (f7d2, Violet)", id, name)
	}
}
