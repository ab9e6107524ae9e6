// Package game interprets domain commands (move, examine, deduce, accuse,
// exam answers) once the session layer has ruled them legal for the current
// session state. It owns per-case progress but knows nothing about
// connections or framing.
package game

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/tcaine/gumshoe/internal/protocol"
	"github.com/tcaine/gumshoe/internal/scenario"
)

var titleCaser = cases.Title(language.English)

// Reply is one message produced by executing a command. An empty To means
// the message goes to both peers.
type Reply struct {
	To  string
	Msg protocol.Message
}

func to(playerID string, m protocol.Message) Reply { return Reply{To: playerID, Msg: m} }
func broadcast(m protocol.Message) Reply           { return Reply{Msg: m} }

// Context is the mutable state of one case in play.
type Context struct {
	Scenario *scenario.Scenario
	HostID   string
	GuestID  string

	rooms      map[string]string
	cluesFound map[string]bool
	examScore  int
	answered   map[int]bool
	solved     bool
}

// NewContext places both players in the case's starting room.
func NewContext(s *scenario.Scenario, hostID, guestID string) *Context {
	return &Context{
		Scenario: s,
		HostID:   hostID,
		GuestID:  guestID,
		rooms: map[string]string{
			hostID:  s.StartRoom,
			guestID: s.StartRoom,
		},
		cluesFound: make(map[string]bool),
		answered:   make(map[int]bool),
	}
}

// Solved reports whether the case has been closed by a correct accusation.
func (c *Context) Solved() bool { return c.solved }

// progress is the persisted form of a Context.
type progress struct {
	Rooms      map[string]string `json:"rooms"`
	CluesFound []string          `json:"clues_found"`
	ExamScore  int               `json:"exam_score"`
	Solved     bool              `json:"solved"`
}

// Snapshot renders the case progress for persistence.
func (c *Context) Snapshot() []byte {
	clues := make([]string, 0, len(c.cluesFound))
	for clue := range c.cluesFound {
		clues = append(clues, clue)
	}
	sort.Strings(clues)

	// Marshaling a struct of plain types cannot fail.
	b, _ := json.Marshal(&progress{
		Rooms:      c.rooms,
		CluesFound: clues,
		ExamScore:  c.examScore,
		Solved:     c.solved,
	})
	return b
}

// Dispatcher executes domain commands against a case Context.
type Dispatcher struct{}

// Execute runs a single command. The session layer has already verified the
// command kind is legal for its state; per-command role checks (host-only
// exam flow) happen here.
func (d *Dispatcher) Execute(cmd protocol.Command, ctx *Context) []Reply {
	senderID, _ := cmd.Sender()

	switch cmd := cmd.(type) {
	case *protocol.Move:
		return d.handleMove(ctx, senderID, cmd)
	case *protocol.Examine:
		return d.handleExamine(ctx, senderID, cmd)
	case *protocol.Deduce:
		return d.handleDeduce(ctx, senderID, cmd)
	case *protocol.Accuse:
		return d.handleAccuse(ctx, senderID, cmd)
	case *protocol.ExamAnswer:
		return d.handleExamAnswer(ctx, senderID, cmd)
	case *protocol.Say:
		_, name := cmd.Sender()
		return []Reply{broadcast(&protocol.Info{Text: fmt.Sprintf("%s: %s", name, cmd.Text)})}
	case *protocol.Help:
		return []Reply{to(senderID, &protocol.Info{Text: activeHelpText})}
	default:
		return []Reply{to(senderID, &protocol.Rejection{Text: "that command means nothing here"})}
	}
}

const activeHelpText = "commands: move <room>, examine <target>, deduce <suspect>, " +
	"accuse <suspect> <motive>, say <text>, exit (host may also answer exam questions)"

func (d *Dispatcher) handleMove(ctx *Context, senderID string, cmd *protocol.Move) []Reply {
	current := ctx.Scenario.Rooms[ctx.rooms[senderID]]
	target := strings.ToLower(strings.TrimSpace(cmd.To))

	for _, exit := range current.Exits {
		if exit == target {
			ctx.rooms[senderID] = target
			return []Reply{to(senderID, d.describeRoom(ctx, target))}
		}
	}
	return []Reply{to(senderID, &protocol.Rejection{
		Text: fmt.Sprintf("you can't get to %q from here", cmd.To),
	})}
}

func (d *Dispatcher) describeRoom(ctx *Context, roomName string) *protocol.SceneInfo {
	room := ctx.Scenario.Rooms[roomName]
	text := room.Description
	if len(room.Exits) > 0 {
		text += "\nExits: " + strings.Join(room.Exits, ", ")
	}
	return &protocol.SceneInfo{
		Title: titleCaser.String(strings.ReplaceAll(roomName, "-", " ")),
		Text:  text,
	}
}

// DescribeCurrentRoom renders the sender's current location, used by the
// session when play begins.
func (d *Dispatcher) DescribeCurrentRoom(ctx *Context, playerID string) *protocol.SceneInfo {
	return d.describeRoom(ctx, ctx.rooms[playerID])
}

func (d *Dispatcher) handleExamine(ctx *Context, senderID string, cmd *protocol.Examine) []Reply {
	room := ctx.Scenario.Rooms[ctx.rooms[senderID]]
	target := strings.ToLower(strings.TrimSpace(cmd.Target))

	detail, ok := room.Clues[target]
	if !ok {
		return []Reply{to(senderID, &protocol.Info{
			Text: fmt.Sprintf("You find nothing of interest about %q.", cmd.Target),
		})}
	}

	ctx.cluesFound[target] = true
	_, name := cmd.Sender()
	return []Reply{
		to(senderID, &protocol.Info{Text: detail}),
		to(otherPlayer(ctx, senderID), &protocol.Info{
			Text: fmt.Sprintf("%s examined the %s.", name, target),
		}),
	}
}

func (d *Dispatcher) handleDeduce(ctx *Context, senderID string, cmd *protocol.Deduce) []Reply {
	suspect, ok := ctx.Scenario.FindSuspect(cmd.Suspect)
	if !ok {
		return []Reply{to(senderID, &protocol.Rejection{
			Text: fmt.Sprintf("%q is not a suspect in this case", cmd.Suspect),
		})}
	}
	return []Reply{to(senderID, &protocol.Info{
		Text: fmt.Sprintf("%s: %s Possible motive: %s.", suspect.Name, suspect.Description, suspect.Motive),
	})}
}

func (d *Dispatcher) handleAccuse(ctx *Context, senderID string, cmd *protocol.Accuse) []Reply {
	solution := ctx.Scenario.Solution
	if !strings.EqualFold(cmd.Suspect, solution.Suspect) || !strings.EqualFold(cmd.Motive, solution.Motive) {
		_, name := cmd.Sender()
		return []Reply{broadcast(&protocol.Info{
			Text: fmt.Sprintf("%s accused %s, but the evidence doesn't hold up.", name, cmd.Suspect),
		})}
	}

	ctx.solved = true
	return []Reply{broadcast(&protocol.Info{
		Text: fmt.Sprintf("Case closed. %s did it. Motive: %s.", solution.Suspect, solution.Motive),
	})}
}

func (d *Dispatcher) handleExamAnswer(ctx *Context, senderID string, cmd *protocol.ExamAnswer) []Reply {
	if senderID != ctx.HostID {
		return []Reply{to(senderID, &protocol.Rejection{Text: "only the host may submit exam answers"})}
	}
	if cmd.Question < 0 || cmd.Question >= len(ctx.Scenario.Exam) {
		return []Reply{to(senderID, &protocol.Rejection{
			Text: fmt.Sprintf("there is no exam question %d", cmd.Question),
		})}
	}
	if ctx.answered[cmd.Question] {
		return []Reply{to(senderID, &protocol.Rejection{
			Text: fmt.Sprintf("question %d has already been answered", cmd.Question),
		})}
	}

	ctx.answered[cmd.Question] = true
	question := ctx.Scenario.Exam[cmd.Question]
	if strings.EqualFold(strings.TrimSpace(cmd.Answer), question.Answer) {
		ctx.examScore++
		return []Reply{broadcast(&protocol.Info{
			Text: fmt.Sprintf("Correct. Exam score: %d/%d.", ctx.examScore, len(ctx.Scenario.Exam)),
		})}
	}
	return []Reply{broadcast(&protocol.Info{
		Text: fmt.Sprintf("Incorrect. Exam score: %d/%d.", ctx.examScore, len(ctx.Scenario.Exam)),
	})}
}

func otherPlayer(ctx *Context, playerID string) string {
	if playerID == ctx.HostID {
		return ctx.GuestID
	}
	return ctx.HostID
}
