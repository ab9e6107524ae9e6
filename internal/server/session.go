package server

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/tcaine/gumshoe/internal/game"
	"github.com/tcaine/gumshoe/internal/protocol"
	"github.com/tcaine/gumshoe/internal/scenario"
)

// State is a session's position in its lifecycle.
type State int

const (
	// Loading covers scenario loading during session creation.
	Loading State = iota
	// WaitingForPlayers means the host is alone and the session is joinable.
	WaitingForPlayers
	// InLobbyAwaitingStart means both peers are present but play hasn't begun.
	InLobbyAwaitingStart
	// Active means the case is in play.
	Active
	// Errored means scenario loading failed. Terminal.
	Errored
	// EndedNormal means the case was closed gracefully. Terminal.
	EndedNormal
	// EndedAbandoned means a peer left or disconnected. Terminal.
	EndedAbandoned
)

func (s State) String() string {
	switch s {
	case Loading:
		return "loading"
	case WaitingForPlayers:
		return "waiting_for_players"
	case InLobbyAwaitingStart:
		return "in_lobby_awaiting_start"
	case Active:
		return "active"
	case Errored:
		return "error"
	case EndedNormal:
		return "ended_normal"
	case EndedAbandoned:
		return "ended_abandoned"
	default:
		return "unknown"
	}
}

func (s State) terminal() bool {
	return s == Errored || s == EndedNormal || s == EndedAbandoned
}

// Role identifies which slot a peer occupies. It is set exactly once when
// the peer takes the slot and never re-derived.
type Role int

const (
	RoleHost Role = iota
	RoleGuest
)

// peer is one occupied slot of a session.
type peer struct {
	conn *Connection
	role Role
}

var (
	// ErrSessionNotJoinable is returned when a session is not waiting for
	// players (already full, in play, or ended).
	ErrSessionNotJoinable = errors.New("session is not joinable")
	// ErrSelfJoin is returned when the host tries to join their own session.
	ErrSelfJoin = errors.New("cannot join your own session")
)

// allowedKinds is the per-state allow-list of command kinds. A command whose
// kind is absent from its state's set draws one Rejection and changes nothing.
var allowedKinds = map[State]map[string]bool{
	WaitingForPlayers: {
		protocol.SetNameKind: true,
		protocol.HelpKind:    true,
		protocol.ExitKind:    true,
	},
	InLobbyAwaitingStart: {
		protocol.SetNameKind:      true,
		protocol.StartGameKind:    true,
		protocol.RequestStartKind: true,
		protocol.SayKind:          true,
		protocol.HelpKind:         true,
		protocol.ExitKind:         true,
	},
	Active: {
		protocol.MoveKind:       true,
		protocol.ExamineKind:    true,
		protocol.DeduceKind:     true,
		protocol.AccuseKind:     true,
		protocol.ExamAnswerKind: true,
		protocol.SayKind:        true,
		protocol.HelpKind:       true,
		protocol.ExitKind:       true,
	},
}

// endOutcome asks the registry to end the session once the caller has
// released the session lock.
type endOutcome struct {
	reason string
	normal bool
}

// Session is one matched pair (or pending single) of connections playing a
// case. All command handling and broadcasting runs under the session mutex,
// serializing the two peers' concurrently-arriving messages.
type Session struct {
	id       string
	public   bool
	code     string
	scenario *scenario.Scenario
	logger   *logrus.Logger

	dispatcher *game.Dispatcher

	mu      sync.Mutex
	state   State
	host    *peer
	guest   *peer
	gameCtx *game.Context
}

func newSession(id string, sc *scenario.Scenario, public bool, code string, logger *logrus.Logger) *Session {
	return &Session{
		id:         id,
		public:     public,
		code:       code,
		scenario:   sc,
		logger:     logger,
		dispatcher: &game.Dispatcher{},
		state:      Loading,
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// hostName reads the host's live display name for lobby listings.
func (s *Session) hostName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.host == nil {
		return ""
	}
	return s.host.conn.DisplayName()
}

// peerCount is the number of occupied slots.
func (s *Session) peerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	if s.host != nil {
		n++
	}
	if s.guest != nil {
		n++
	}
	return n
}

// seatHost occupies the host slot. Called once during session creation,
// before the session is shared.
func (s *Session) seatHost(conn *Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.host = &peer{conn: conn, role: RoleHost}
	s.state = WaitingForPlayers
	conn.SetSessionID(s.id)
}

// fail marks the session as unrecoverable after a scenario load failure.
func (s *Session) fail() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = Errored
}

// seatGuest occupies the guest slot and moves the session into the lobby.
// Both peers receive a lobby update. The caller (the Registry) serializes
// racing joins; exactly one can find the session still waiting.
func (s *Session) seatGuest(conn *Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != WaitingForPlayers || s.guest != nil {
		return ErrSessionNotJoinable
	}
	if s.host != nil && s.host.conn.ID() == conn.ID() {
		return ErrSelfJoin
	}

	s.guest = &peer{conn: conn, role: RoleGuest}
	s.state = InLobbyAwaitingStart
	conn.SetSessionID(s.id)

	s.broadcastLocked(s.lobbyUpdateLocked())
	s.broadcastLocked(&protocol.Info{
		Text: fmt.Sprintf("%s joined the case. The host may start when ready.", conn.DisplayName()),
	})
	return nil
}

func (s *Session) lobbyUpdateLocked() *protocol.LobbyUpdate {
	update := &protocol.LobbyUpdate{}
	if s.host != nil {
		update.Players = append(update.Players, s.host.conn.DisplayName())
	}
	if s.guest != nil {
		update.Players = append(update.Players, s.guest.conn.DisplayName())
	}
	return update
}

// HandleCommand processes one command from a peer. A non-nil endOutcome
// instructs the caller to end the session through the Registry (the session
// never reaches back into the registry's indices itself).
func (s *Session) HandleCommand(conn *Connection, cmd protocol.Command) *endOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.terminal() {
		s.reject(conn, "this game has ended")
		return nil
	}
	if kinds := allowedKinds[s.state]; !kinds[cmd.Kind()] {
		s.reject(conn, fmt.Sprintf("you can't do that right now (%s)", s.state))
		return nil
	}

	switch cmd := cmd.(type) {
	case *protocol.SetName:
		return s.handleSetName(conn, cmd)
	case *protocol.StartGame:
		return s.handleStart(conn)
	case *protocol.RequestStart:
		_, name := cmd.Sender()
		s.sendTo(s.host, &protocol.Info{Text: fmt.Sprintf("%s is ready to start.", name)})
		return nil
	case *protocol.Exit:
		_, name := cmd.Sender()
		return &endOutcome{reason: fmt.Sprintf("%s left the case", name)}
	case *protocol.Help:
		if s.state != Active {
			s.sendToConn(conn, &protocol.Info{Text: lobbyHelpText})
			return nil
		}
		return s.executeGameCommand(conn, cmd)
	case *protocol.Say:
		if s.state != Active {
			_, name := cmd.Sender()
			s.broadcastLocked(&protocol.Info{Text: fmt.Sprintf("%s: %s", name, cmd.Text)})
			return nil
		}
		return s.executeGameCommand(conn, cmd)
	default:
		return s.executeGameCommand(conn, cmd)
	}
}

const lobbyHelpText = "commands: start (host only), request-start, say <text>, set-name <name>, exit"

func (s *Session) handleSetName(conn *Connection, cmd *protocol.SetName) *endOutcome {
	name, ok := validDisplayName(cmd.Name)
	if !ok {
		s.reject(conn, "display names must be 1-32 characters")
		return nil
	}
	conn.SetDisplayName(name)
	s.sendToConn(conn, &protocol.Info{Text: fmt.Sprintf("You are now known as %s.", name)})
	if s.guest != nil {
		s.broadcastLocked(s.lobbyUpdateLocked())
	}
	return nil
}

func (s *Session) handleStart(conn *Connection) *endOutcome {
	if p := s.peerFor(conn); p == nil || p.role != RoleHost {
		s.reject(conn, "only the host may start the case")
		return nil
	}

	s.state = Active
	s.gameCtx = game.NewContext(s.scenario, s.host.conn.ID(), s.guest.conn.ID())

	s.broadcastLocked(&protocol.GameStarted{ScenarioTitle: s.scenario.Title})
	s.broadcastLocked(&protocol.Info{Text: s.scenario.Briefing})
	for _, p := range []*peer{s.host, s.guest} {
		s.sendTo(p, s.dispatcher.DescribeCurrentRoom(s.gameCtx, p.conn.ID()))
	}
	return nil
}

// executeGameCommand delegates a state-legal domain command to the game
// dispatcher and routes its replies. Per-command authorization (host-only
// exam answers) lives in the dispatcher.
func (s *Session) executeGameCommand(conn *Connection, cmd protocol.Command) *endOutcome {
	replies := s.dispatcher.Execute(cmd, s.gameCtx)
	for _, reply := range replies {
		if reply.To == "" {
			s.broadcastLocked(reply.Msg)
			continue
		}
		for _, p := range []*peer{s.host, s.guest} {
			if p != nil && p.conn.ID() == reply.To {
				s.sendTo(p, reply.Msg)
			}
		}
	}

	if s.gameCtx.Solved() {
		return &endOutcome{reason: "case closed", normal: true}
	}
	return nil
}

func (s *Session) peerFor(conn *Connection) *peer {
	for _, p := range []*peer{s.host, s.guest} {
		if p != nil && p.conn.ID() == conn.ID() {
			return p
		}
	}
	return nil
}

func (s *Session) reject(conn *Connection, text string) {
	s.sendToConn(conn, &protocol.Rejection{Text: text})
}

func (s *Session) sendToConn(conn *Connection, m protocol.Message) {
	if err := conn.Enqueue(m); err != nil {
		s.logger.Warnf("[%s] %s", s.id, err)
	}
}

func (s *Session) sendTo(p *peer, m protocol.Message) {
	if p == nil {
		return
	}
	s.sendToConn(p.conn, m)
}

func (s *Session) broadcastLocked(m protocol.Message) {
	s.sendTo(s.host, m)
	s.sendTo(s.guest, m)
}

// snapshotData carries everything the registry needs to persist a finished
// session without re-entering its lock.
type snapshotData struct {
	sessionID  string
	scenarioID string
	state      string
	hostName   string
	guestName  string
	endReason  string
	progress   []byte
}

func (s *Session) snapshotLocked(reason string) *snapshotData {
	snapshot := &snapshotData{
		sessionID:  s.id,
		scenarioID: s.scenario.ID,
		state:      s.state.String(),
		endReason:  reason,
	}
	if s.gameCtx != nil {
		snapshot.progress = s.gameCtx.Snapshot()
	}
	for _, p := range []*peer{s.host, s.guest} {
		if p == nil {
			continue
		}
		if p.role == RoleHost {
			snapshot.hostName = p.conn.DisplayName()
		} else {
			snapshot.guestName = p.conn.DisplayName()
		}
	}
	return snapshot
}

// checkpoint captures a consistent mid-flight snapshot of an active
// session, for the periodic persistence job. Nil for sessions not in play.
func (s *Session) checkpoint() *snapshotData {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Active {
		return nil
	}
	return s.snapshotLocked("")
}

// end makes the session terminal, notifies any still-connected peer exactly
// once, and releases the peers' session back-references. Repeat calls are
// no-ops returning nil.
func (s *Session) end(reason string, normal bool) *snapshotData {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.terminal() {
		return nil
	}
	if normal {
		s.state = EndedNormal
	} else {
		s.state = EndedAbandoned
	}

	snapshot := s.snapshotLocked(reason)

	for _, p := range []*peer{s.host, s.guest} {
		if p == nil {
			continue
		}
		p.conn.SetSessionID("")
		if !p.conn.Closed() {
			s.sendTo(p, &protocol.SessionEnded{Reason: reason})
		}
	}
	return snapshot
}
