package client

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tcaine/gumshoe/internal/client"
	"github.com/tcaine/gumshoe/internal/protocol"
)

const usageText = `commands:
  name <display name>        set your display name
  host <case> [private]      host a game (public unless marked private)
  list                       list public games
  join <session id>          join a public game
  code <invite code>         join a private game by code
  start                      start the case (host only)
  ready                      ask the host to start
  move <room>                move to an adjacent room
  examine <target>           examine something in your room
  deduce <suspect>           review what is known about a suspect
  accuse <suspect>, <motive> make the final accusation
  answer <n> <text>          answer exam question n (host only)
  say <text>                 talk to your partner
  exit                       leave the current game
  quit                       close the client`

// sendCommand turns one typed line into a protocol command and sends it.
func sendCommand(c *client.Client, line string) error {
	verb, rest := splitVerb(line)

	switch verb {
	case "name":
		if rest == "" {
			return fmt.Errorf("usage: name <display name>")
		}
		return c.SetName(rest)
	case "host":
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			return fmt.Errorf("usage: host <case> [private]")
		}
		public := !(len(fields) > 1 && fields[1] == "private")
		return c.HostGame(fields[0], public)
	case "list":
		return c.ListGames()
	case "join":
		if rest == "" {
			return fmt.Errorf("usage: join <session id>")
		}
		return c.JoinPublic(rest)
	case "code":
		if rest == "" {
			return fmt.Errorf("usage: code <invite code>")
		}
		return c.JoinPrivate(rest)
	case "start":
		return c.Send(&protocol.StartGame{})
	case "ready":
		return c.Send(&protocol.RequestStart{})
	case "move":
		if rest == "" {
			return fmt.Errorf("usage: move <room>")
		}
		return c.Send(&protocol.Move{To: rest})
	case "examine":
		if rest == "" {
			return fmt.Errorf("usage: examine <target>")
		}
		return c.Send(&protocol.Examine{Target: rest})
	case "deduce":
		if rest == "" {
			return fmt.Errorf("usage: deduce <suspect>")
		}
		return c.Send(&protocol.Deduce{Suspect: rest})
	case "accuse":
		suspect, motive, ok := strings.Cut(rest, ",")
		if !ok {
			return fmt.Errorf("usage: accuse <suspect>, <motive>")
		}
		return c.Send(&protocol.Accuse{
			Suspect: strings.TrimSpace(suspect),
			Motive:  strings.TrimSpace(motive),
		})
	case "answer":
		numberText, answer := splitVerb(rest)
		number, err := strconv.Atoi(numberText)
		if err != nil || answer == "" {
			return fmt.Errorf("usage: answer <n> <text>")
		}
		return c.Send(&protocol.ExamAnswer{Question: number, Answer: answer})
	case "say":
		if rest == "" {
			return fmt.Errorf("usage: say <text>")
		}
		return c.Send(&protocol.Say{Text: rest})
	case "exit":
		return c.Send(&protocol.Exit{})
	case "help":
		return c.Send(&protocol.Help{})
	default:
		return fmt.Errorf("unknown command %q (try 'help')", verb)
	}
}

func splitVerb(line string) (string, string) {
	verb, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
	return verb, strings.TrimSpace(rest)
}

// formatMessage renders one server message as a log line. An empty return
// suppresses the message.
func formatMessage(m protocol.Message) string {
	switch m := m.(type) {
	case *protocol.Identity:
		return fmt.Sprintf("You are %s.", m.Name)
	case *protocol.Info:
		return m.Text
	case *protocol.Rejection:
		return "! " + m.Text
	case *protocol.HostResult:
		if !m.OK {
			return "! " + m.Reason
		}
		if m.Code != "" {
			return fmt.Sprintf("Game hosted. Invite code: %s", m.Code)
		}
		return fmt.Sprintf("Game hosted publicly as %s.", m.SessionID)
	case *protocol.JoinResult:
		if !m.OK {
			return "! " + m.Reason
		}
		return "Joined the game."
	case *protocol.GameList:
		if len(m.Entries) == 0 {
			return "No public games right now."
		}
		var b strings.Builder
		b.WriteString("Public games:")
		for _, entry := range m.Entries {
			fmt.Fprintf(&b, "\n  %s  %q hosted by %s", entry.SessionID, entry.ScenarioTitle, entry.HostName)
		}
		return b.String()
	case *protocol.LobbyUpdate:
		return "In the lobby: " + strings.Join(m.Players, ", ")
	case *protocol.GameStarted:
		return fmt.Sprintf("=== %s ===", m.ScenarioTitle)
	case *protocol.SceneInfo:
		return fmt.Sprintf("[%s] %s", m.Title, m.Text)
	case *protocol.SessionEnded:
		return "Game over: " + m.Reason
	default:
		return fmt.Sprintf("(%s)", m.Kind())
	}
}
