// Package protocol defines the message set exchanged between the gumshoe
// client and server along with the frame codec that carries it.
//
// Every message is wrapped in a self-describing JSON envelope so that the
// concrete kind can be recovered from the bytes alone:
//
//	{"kind": "join_private", "body": {"code": "XK3J9"}}
package protocol

import (
	"encoding/json"
	"fmt"
)

// Message is implemented by every payload that can cross the wire.
type Message interface {
	Kind() string
}

// Command is implemented by client-to-server messages. The identity of the
// issuing connection is attached server-side after decoding and is never
// read from the wire.
type Command interface {
	Message
	attach(playerID, name string)
	Sender() (playerID, name string)
}

// sender holds the server-attached identity of the connection that issued a
// command. The json tags guarantee it can never be set by a client.
type sender struct {
	SenderID   string `json:"-"`
	SenderName string `json:"-"`
}

func (s *sender) attach(playerID, name string) {
	s.SenderID = playerID
	s.SenderName = name
}

func (s *sender) Sender() (string, string) {
	return s.SenderID, s.SenderName
}

// AttachSender records the issuing connection's identity on a command.
func AttachSender(c Command, playerID, name string) {
	c.attach(playerID, name)
}

// Message kind discriminators. These are the only values valid in the
// envelope's kind field.
const (
	SetNameKind      = "set_name"
	HostGameKind     = "host_game"
	ListGamesKind    = "list_games"
	JoinPublicKind   = "join_public"
	JoinPrivateKind  = "join_private"
	StartGameKind    = "start_game"
	RequestStartKind = "request_start"
	HelpKind         = "help"
	ExitKind         = "exit"
	MoveKind         = "move"
	ExamineKind      = "examine"
	DeduceKind       = "deduce"
	AccuseKind       = "accuse"
	ExamAnswerKind   = "exam_answer"
	SayKind          = "say"

	IdentityKind     = "identity"
	HostResultKind   = "host_result"
	JoinResultKind   = "join_result"
	GameListKind     = "game_list"
	LobbyUpdateKind  = "lobby_update"
	GameStartedKind  = "game_started"
	SceneInfoKind    = "scene_info"
	InfoKind         = "info"
	RejectionKind    = "rejection"
	SessionEndedKind = "session_ended"
)

// Client -> server commands.

// SetName updates the display name shown to the other peer and in the
// public game list.
type SetName struct {
	sender
	Name string `json:"name"`
}

func (*SetName) Kind() string { return SetNameKind }

// HostGame requests a new session for the given case file.
type HostGame struct {
	sender
	ScenarioID string `json:"scenario_id"`
	Public     bool   `json:"public"`
}

func (*HostGame) Kind() string { return HostGameKind }

// ListGames requests the current public lobby listing.
type ListGames struct {
	sender
}

func (*ListGames) Kind() string { return ListGamesKind }

// JoinPublic joins a listed public session by id.
type JoinPublic struct {
	sender
	SessionID string `json:"session_id"`
}

func (*JoinPublic) Kind() string { return JoinPublicKind }

// JoinPrivate joins an unlisted session by its invite code.
type JoinPrivate struct {
	sender
	Code string `json:"code"`
}

func (*JoinPrivate) Kind() string { return JoinPrivateKind }

// StartGame begins play. Only the host may issue it.
type StartGame struct {
	sender
}

func (*StartGame) Kind() string { return StartGameKind }

// RequestStart is how a guest nudges the host to start.
type RequestStart struct {
	sender
}

func (*RequestStart) Kind() string { return RequestStartKind }

// Help requests the list of commands legal in the current state.
type Help struct {
	sender
}

func (*Help) Kind() string { return HelpKind }

// Exit leaves the current session.
type Exit struct {
	sender
}

func (*Exit) Kind() string { return ExitKind }

// Move walks the player to an adjacent room.
type Move struct {
	sender
	To string `json:"to"`
}

func (*Move) Kind() string { return MoveKind }

// Examine inspects a clue or feature in the player's current room.
type Examine struct {
	sender
	Target string `json:"target"`
}

func (*Examine) Kind() string { return ExamineKind }

// Deduce asks for the facts gathered so far about a suspect.
type Deduce struct {
	sender
	Suspect string `json:"suspect"`
}

func (*Deduce) Kind() string { return DeduceKind }

// Accuse names the culprit and their motive, ending the case if correct.
type Accuse struct {
	sender
	Suspect string `json:"suspect"`
	Motive  string `json:"motive"`
}

func (*Accuse) Kind() string { return AccuseKind }

// ExamAnswer submits an answer to one of the case's exam questions.
// Only the host may submit answers.
type ExamAnswer struct {
	sender
	Question int    `json:"question"`
	Answer   string `json:"answer"`
}

func (*ExamAnswer) Kind() string { return ExamAnswerKind }

// Say relays a chat line to the other peer.
type Say struct {
	sender
	Text string `json:"text"`
}

func (*Say) Kind() string { return SayKind }

// Server -> client notifications.

// Identity assigns the connection its generated player id. Sent once on
// accept.
type Identity struct {
	PlayerID string `json:"player_id"`
	Name     string `json:"name"`
}

func (*Identity) Kind() string { return IdentityKind }

// HostResult reports the outcome of a HostGame command.
type HostResult struct {
	OK        bool   `json:"ok"`
	SessionID string `json:"session_id,omitempty"`
	Code      string `json:"code,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

func (*HostResult) Kind() string { return HostResultKind }

// JoinResult reports the outcome of a JoinPublic or JoinPrivate command.
type JoinResult struct {
	OK        bool   `json:"ok"`
	SessionID string `json:"session_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

func (*JoinResult) Kind() string { return JoinResultKind }

// GameListEntry describes one joinable public session.
type GameListEntry struct {
	SessionID     string `json:"session_id"`
	ScenarioTitle string `json:"scenario_title"`
	HostName      string `json:"host_name"`
}

// GameList carries the public lobby listing.
type GameList struct {
	Entries []GameListEntry `json:"entries"`
}

func (*GameList) Kind() string { return GameListKind }

// LobbyUpdate lists the display names of everyone in the session's lobby.
type LobbyUpdate struct {
	Players []string `json:"players"`
}

func (*LobbyUpdate) Kind() string { return LobbyUpdateKind }

// GameStarted tells both peers that play has begun.
type GameStarted struct {
	ScenarioTitle string `json:"scenario_title"`
}

func (*GameStarted) Kind() string { return GameStartedKind }

// SceneInfo describes the player's current room or scene.
type SceneInfo struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

func (*SceneInfo) Kind() string { return SceneInfoKind }

// Info carries plain informational text.
type Info struct {
	Text string `json:"text"`
}

func (*Info) Kind() string { return InfoKind }

// Rejection tells the sender their last command was not accepted. It is
// never fatal to the connection.
type Rejection struct {
	Text string `json:"text"`
}

func (*Rejection) Kind() string { return RejectionKind }

// SessionEnded tells a peer their session is over.
type SessionEnded struct {
	Reason string `json:"reason"`
}

func (*SessionEnded) Kind() string { return SessionEndedKind }

// envelope is the wire form of every message.
type envelope struct {
	Kind string          `json:"kind"`
	Body json.RawMessage `json:"body,omitempty"`
}

// messageFactories maps each kind discriminator to a constructor for the
// concrete type, making the message set statically enumerable.
var messageFactories = map[string]func() Message{
	SetNameKind:      func() Message { return &SetName{} },
	HostGameKind:     func() Message { return &HostGame{} },
	ListGamesKind:    func() Message { return &ListGames{} },
	JoinPublicKind:   func() Message { return &JoinPublic{} },
	JoinPrivateKind:  func() Message { return &JoinPrivate{} },
	StartGameKind:    func() Message { return &StartGame{} },
	RequestStartKind: func() Message { return &RequestStart{} },
	HelpKind:         func() Message { return &Help{} },
	ExitKind:         func() Message { return &Exit{} },
	MoveKind:         func() Message { return &Move{} },
	ExamineKind:      func() Message { return &Examine{} },
	DeduceKind:       func() Message { return &Deduce{} },
	AccuseKind:       func() Message { return &Accuse{} },
	ExamAnswerKind:   func() Message { return &ExamAnswer{} },
	SayKind:          func() Message { return &Say{} },
	IdentityKind:     func() Message { return &Identity{} },
	HostResultKind:   func() Message { return &HostResult{} },
	JoinResultKind:   func() Message { return &JoinResult{} },
	GameListKind:     func() Message { return &GameList{} },
	LobbyUpdateKind:  func() Message { return &LobbyUpdate{} },
	GameStartedKind:  func() Message { return &GameStarted{} },
	SceneInfoKind:    func() Message { return &SceneInfo{} },
	InfoKind:         func() Message { return &Info{} },
	RejectionKind:    func() Message { return &Rejection{} },
	SessionEndedKind: func() Message { return &SessionEnded{} },
}

// Marshal serializes a message into its enveloped wire payload (without the
// frame length prefix).
func Marshal(m Message) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("error marshaling %s body: %w", m.Kind(), err)
	}
	return json.Marshal(&envelope{Kind: m.Kind(), Body: body})
}

// Unmarshal deserializes an enveloped payload into its concrete message type.
func Unmarshal(payload []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("malformed message envelope: %w", err)
	}

	factory, ok := messageFactories[env.Kind]
	if !ok {
		return nil, fmt.Errorf("unknown message kind %q", env.Kind)
	}

	message := factory()
	if len(env.Body) > 0 {
		if err := json.Unmarshal(env.Body, message); err != nil {
			return nil, fmt.Errorf("malformed %s body: %w", env.Kind, err)
		}
	}
	return message, nil
}
