package game

import (
	"strings"
	"testing"

	"github.com/tcaine/gumshoe/internal/protocol"
	"github.com/tcaine/gumshoe/internal/scenario"
)

const (
	hostID  = "host-id"
	guestID = "guest-id"
)

func testScenario() *scenario.Scenario {
	return &scenario.Scenario{
		ID:        "pemberton-manor",
		Title:     "Pemberton Manor",
		StartRoom: "foyer",
		Rooms: map[string]scenario.Room{
			"foyer": {
				Description: "A cold marble entryway.",
				Exits:       []string{"library"},
				Clues:       map[string]string{"umbrella": "Still dripping wet."},
			},
			"library": {
				Description: "Toppled shelves.",
				Exits:       []string{"foyer"},
				Clues:       map[string]string{"letter": "A torn letter mentioning the will."},
			},
		},
		Suspects: []scenario.Suspect{
			{Name: "Col. Weatherby", Description: "The brother-in-law.", Motive: "inheritance"},
		},
		Solution: scenario.Solution{Suspect: "Col. Weatherby", Motive: "inheritance"},
		Exam: []scenario.Question{
			{Prompt: "What linked the colonel to the library?", Answer: "the torn letter"},
		},
	}
}

func execute(t *testing.T, d *Dispatcher, ctx *Context, cmd protocol.Command, playerID string) []Reply {
	t.Helper()
	protocol.AttachSender(cmd, playerID, playerID)
	return d.Execute(cmd, ctx)
}

func TestDispatcher_Move(t *testing.T) {
	d := &Dispatcher{}
	ctx := NewContext(testScenario(), hostID, guestID)

	replies := execute(t, d, ctx, &protocol.Move{To: "library"}, hostID)
	if len(replies) != 1 {
		t.Fatalf("expected 1 reply, got %d", len(replies))
	}
	scene, ok := replies[0].Msg.(*protocol.SceneInfo)
	if !ok {
		t.Fatalf("expected a SceneInfo, got %T", replies[0].Msg)
	}
	if scene.Title != "Library" {
		t.Errorf("expected title 'Library', got %q", scene.Title)
	}
	if replies[0].To != hostID {
		t.Errorf("scene description should go only to the mover, got %q", replies[0].To)
	}

	// The guest hasn't moved; their room is unchanged.
	if ctx.rooms[guestID] != "foyer" {
		t.Errorf("guest's room changed unexpectedly to %q", ctx.rooms[guestID])
	}
}

func TestDispatcher_MoveInvalidExit(t *testing.T) {
	d := &Dispatcher{}
	ctx := NewContext(testScenario(), hostID, guestID)

	replies := execute(t, d, ctx, &protocol.Move{To: "cellar"}, hostID)
	if _, ok := replies[0].Msg.(*protocol.Rejection); !ok {
		t.Fatalf("expected a Rejection, got %T", replies[0].Msg)
	}
	if ctx.rooms[hostID] != "foyer" {
		t.Errorf("a rejected move must not change the room, got %q", ctx.rooms[hostID])
	}
}

func TestDispatcher_Examine(t *testing.T) {
	d := &Dispatcher{}
	ctx := NewContext(testScenario(), hostID, guestID)

	replies := execute(t, d, ctx, &protocol.Examine{Target: "umbrella"}, guestID)
	if len(replies) != 2 {
		t.Fatalf("expected a reply to each peer, got %d", len(replies))
	}
	if !ctx.cluesFound["umbrella"] {
		t.Error("expected the clue to be recorded as found")
	}
}

func TestDispatcher_AccuseWrongSuspect(t *testing.T) {
	d := &Dispatcher{}
	ctx := NewContext(testScenario(), hostID, guestID)

	replies := execute(t, d, ctx, &protocol.Accuse{Suspect: "Miss Fenwick", Motive: "spite"}, guestID)
	if ctx.Solved() {
		t.Error("a wrong accusation must not close the case")
	}
	if replies[0].To != "" {
		t.Error("accusation outcomes should be broadcast to both peers")
	}
}

func TestDispatcher_AccuseCorrect(t *testing.T) {
	d := &Dispatcher{}
	ctx := NewContext(testScenario(), hostID, guestID)

	execute(t, d, ctx, &protocol.Accuse{Suspect: "col. weatherby", Motive: "INHERITANCE"}, hostID)
	if !ctx.Solved() {
		t.Error("a correct accusation (case-insensitive) should close the case")
	}
}

func TestDispatcher_ExamAnswerHostOnly(t *testing.T) {
	d := &Dispatcher{}
	ctx := NewContext(testScenario(), hostID, guestID)

	replies := execute(t, d, ctx, &protocol.ExamAnswer{Question: 0, Answer: "the torn letter"}, guestID)
	rejection, ok := replies[0].Msg.(*protocol.Rejection)
	if !ok {
		t.Fatalf("expected a Rejection for a guest exam answer, got %T", replies[0].Msg)
	}
	if !strings.Contains(rejection.Text, "host") {
		t.Errorf("rejection should explain the host-only rule, got %q", rejection.Text)
	}

	replies = execute(t, d, ctx, &protocol.ExamAnswer{Question: 0, Answer: "the torn letter"}, hostID)
	if _, ok := replies[0].Msg.(*protocol.Info); !ok {
		t.Fatalf("expected an Info for the host's answer, got %T", replies[0].Msg)
	}
	if ctx.examScore != 1 {
		t.Errorf("expected exam score 1, got %d", ctx.examScore)
	}

	// Each question may only be answered once.
	replies = execute(t, d, ctx, &protocol.ExamAnswer{Question: 0, Answer: "the torn letter"}, hostID)
	if _, ok := replies[0].Msg.(*protocol.Rejection); !ok {
		t.Errorf("expected a Rejection for a repeated answer, got %T", replies[0].Msg)
	}
}

func TestContext_Snapshot(t *testing.T) {
	d := &Dispatcher{}
	ctx := NewContext(testScenario(), hostID, guestID)
	execute(t, d, ctx, &protocol.Examine{Target: "umbrella"}, hostID)

	snapshot := string(ctx.Snapshot())
	if !strings.Contains(snapshot, "umbrella") {
		t.Errorf("snapshot should include found clues, got %s", snapshot)
	}
	if !strings.Contains(snapshot, "foyer") {
		t.Errorf("snapshot should include player rooms, got %s", snapshot)
	}
}
