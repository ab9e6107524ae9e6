package server

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/tcaine/gumshoe/internal/data"
	"github.com/tcaine/gumshoe/internal/protocol"
	"github.com/tcaine/gumshoe/internal/scenario"
)

const (
	codeLength   = 5
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	// failedSessionExpiry is how long a session wrecked by a scenario load
	// failure stays resolvable by id before it is forgotten.
	failedSessionExpiry = 10 * time.Minute
)

// Registry tracks every session plus the joinable subsets: the public-lobby
// index and the private-code index. Create, join, and end mutate all of the
// indices under one registry lock, so two racing joins on the same session
// resolve to exactly one winner.
//
// Lock ordering is registry before session, always.
type Registry struct {
	Loader scenario.Loader
	Logger *logrus.Logger
	// DB receives session snapshots at end-of-session. May be nil, in which
	// case nothing is persisted.
	DB *gorm.DB

	mu       sync.Mutex
	sessions map[string]*Session
	public   map[string]*Session
	codes    map[string]string

	// failed holds sessions wrecked during scenario loading. They are never
	// joinable, so they live in an expiring store instead of the id index;
	// otherwise repeated load failures would grow the index without bound.
	failed *cache.Cache
}

func NewRegistry(loader scenario.Loader, logger *logrus.Logger, db *gorm.DB) *Registry {
	return &Registry{
		Loader:   loader,
		Logger:   logger,
		DB:       db,
		sessions: make(map[string]*Session),
		public:   make(map[string]*Session),
		codes:    make(map[string]string),
		failed:   cache.New(failedSessionExpiry, 2*failedSessionExpiry),
	}
}

// SessionCount returns the number of tracked sessions.
func (r *Registry) SessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Lookup returns the session with the given id, if it exists. Sessions
// wrecked by a load failure remain resolvable until they expire.
func (r *Registry) Lookup(sessionID string) (*Session, bool) {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	r.mu.Unlock()
	if ok {
		return s, true
	}

	if wrecked, found := r.failed.Get(sessionID); found {
		return wrecked.(*Session), true
	}
	return nil, false
}

// SessionFor resolves a connection's session back-reference.
func (r *Registry) SessionFor(conn *Connection) (*Session, bool) {
	sessionID := conn.SessionID()
	if sessionID == "" {
		return nil, false
	}
	return r.Lookup(sessionID)
}

// Create allocates a session for the host connection and registers it in the
// joinable indices. The result is always reported to the host; a scenario
// load failure leaves a terminal Errored session resolvable by id (but never
// joinable) and the host free to try again.
func (r *Registry) Create(conn *Connection, scenarioID string, public bool) *protocol.HostResult {
	if conn.SessionID() != "" {
		return &protocol.HostResult{OK: false, Reason: "you are already in a game"}
	}

	sessionID := uuid.New().String()
	sc, err := r.Loader.Load(scenarioID)
	if err != nil {
		if errors.Is(err, scenario.ErrNotFound) {
			return &protocol.HostResult{OK: false, Reason: fmt.Sprintf("unknown case %q", scenarioID)}
		}

		// The case exists but couldn't be loaded: record the wreck so the id
		// remains resolvable, but never let it become joinable.
		r.Logger.Errorf("failed to load case %q: %s", scenarioID, err)
		failed := newSession(sessionID, &scenario.Scenario{ID: scenarioID}, public, "", r.Logger)
		failed.fail()
		r.failed.SetDefault(sessionID, failed)
		return &protocol.HostResult{OK: false, SessionID: sessionID, Reason: "the case file could not be loaded"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var code string
	if !public {
		code = r.generateCodeLocked()
	}

	s := newSession(sessionID, sc, public, code, r.Logger)
	s.seatHost(conn)

	r.sessions[sessionID] = s
	if public {
		r.public[sessionID] = s
	} else {
		r.codes[code] = sessionID
	}

	r.Logger.Infof("%s is hosting case %q as session %s", conn.DisplayName(), scenarioID, sessionID)
	return &protocol.HostResult{OK: true, SessionID: sessionID, Code: code}
}

// generateCodeLocked produces a fixed-length random alphanumeric invite
// code, retrying on the (vanishingly rare) collision with a live code.
func (r *Registry) generateCodeLocked() string {
	for {
		b := make([]byte, codeLength)
		for i := range b {
			n, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeAlphabet))))
			if err != nil {
				// crypto/rand only fails if the platform's entropy source is
				// broken, at which point there is nothing sensible to do.
				panic(fmt.Errorf("reading random bytes: %w", err))
			}
			b[i] = codeAlphabet[n.Int64()]
		}
		code := string(b)
		if _, taken := r.codes[code]; !taken {
			return code
		}
	}
}

// JoinPublic seats the connection as the guest of a listed public session.
func (r *Registry) JoinPublic(conn *Connection, sessionID string) *protocol.JoinResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return &protocol.JoinResult{OK: false, Reason: "no such game"}
	}
	return r.joinLocked(conn, s)
}

// JoinPrivate seats the connection as the guest of the session holding the
// invite code. The code stays mapped until the session ends; the session
// simply stops being joinable once full.
func (r *Registry) JoinPrivate(conn *Connection, code string) *protocol.JoinResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessionID, ok := r.codes[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return &protocol.JoinResult{OK: false, Reason: "no game with that code"}
	}
	return r.joinLocked(conn, r.sessions[sessionID])
}

func (r *Registry) joinLocked(conn *Connection, s *Session) *protocol.JoinResult {
	if conn.SessionID() != "" {
		return &protocol.JoinResult{OK: false, Reason: "you are already in a game"}
	}

	if err := s.seatGuest(conn); err != nil {
		switch {
		case errors.Is(err, ErrSelfJoin):
			return &protocol.JoinResult{OK: false, Reason: "you cannot join your own game"}
		default:
			return &protocol.JoinResult{OK: false, Reason: "that game is no longer available"}
		}
	}

	// A full session leaves the public browse list immediately.
	delete(r.public, s.ID())

	r.Logger.Infof("%s joined session %s", conn.DisplayName(), s.ID())
	return &protocol.JoinResult{OK: true, SessionID: s.ID()}
}

// ListPublic returns the sessions currently browseable in the public lobby:
// public, waiting for players, exactly one peer. Display names are read live
// rather than snapshotted at host time.
func (r *Registry) ListPublic() *protocol.GameList {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := &protocol.GameList{}
	for sessionID, s := range r.public {
		if s.State() != WaitingForPlayers || s.peerCount() != 1 {
			continue
		}
		list.Entries = append(list.Entries, protocol.GameListEntry{
			SessionID:     sessionID,
			ScenarioTitle: s.scenario.Title,
			HostName:      s.hostName(),
		})
	}
	sort.Slice(list.Entries, func(i, j int) bool {
		return list.Entries[i].SessionID < list.Entries[j].SessionID
	})
	return list
}

// End tears a session down: all three indices are pruned in one atomic step,
// then the session notifies any still-connected peer and releases its
// connections' back-references. Idempotent.
func (r *Registry) End(sessionID, reason string, normal bool) {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, sessionID)
	delete(r.public, sessionID)
	if s.code != "" {
		delete(r.codes, s.code)
	}
	r.mu.Unlock()

	snapshot := s.end(reason, normal)
	if snapshot == nil {
		return
	}

	r.Logger.Infof("session %s ended (%s): %s", sessionID, snapshot.state, reason)
	r.persist(snapshot)
}

// persist writes the end-of-session snapshot. Failures are logged and never
// propagate; persistence must never take down a live connection.
func (r *Registry) persist(snapshot *snapshotData) {
	if r.DB == nil {
		return
	}
	err := data.SaveSnapshot(r.DB, &data.SessionSnapshot{
		SessionID:  snapshot.sessionID,
		ScenarioID: snapshot.scenarioID,
		State:      snapshot.state,
		HostName:   snapshot.hostName,
		GuestName:  snapshot.guestName,
		EndReason:  snapshot.endReason,
		Progress:   snapshot.progress,
	})
	if err != nil {
		r.Logger.Warnf("failed to persist snapshot for session %s: %s", snapshot.sessionID, err)
	}
}

// Checkpoint persists a mid-flight snapshot of every active session. It
// runs off the dispatch goroutine; each session's lock keeps the read
// consistent with any command being handled concurrently.
func (r *Registry) Checkpoint() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		if snapshot := s.checkpoint(); snapshot != nil {
			r.persist(snapshot)
		}
	}
}

// ConnectionClosed cleans up after a disconnected peer. Invoked exactly once
// per connection by its close hook; a disconnect mid-session abandons the
// session and the remaining peer is told exactly once.
func (r *Registry) ConnectionClosed(conn *Connection) {
	sessionID := conn.SessionID()
	if sessionID == "" {
		return
	}
	r.End(sessionID, fmt.Sprintf("%s disconnected", conn.DisplayName()), false)
}

// HandleCommand processes a command from a connection that isn't in a
// session: hosting, browsing, joining, or identity upkeep.
func (r *Registry) HandleCommand(conn *Connection, cmd protocol.Command) {
	var reply protocol.Message

	switch cmd := cmd.(type) {
	case *protocol.HostGame:
		reply = r.Create(conn, cmd.ScenarioID, cmd.Public)
	case *protocol.JoinPublic:
		reply = r.JoinPublic(conn, cmd.SessionID)
	case *protocol.JoinPrivate:
		reply = r.JoinPrivate(conn, cmd.Code)
	case *protocol.ListGames:
		reply = r.ListPublic()
	case *protocol.SetName:
		if name, ok := validDisplayName(cmd.Name); !ok {
			reply = &protocol.Rejection{Text: "display names must be 1-32 characters"}
		} else {
			conn.SetDisplayName(name)
			reply = &protocol.Info{Text: fmt.Sprintf("You are now known as %s.", name)}
		}
	case *protocol.Help:
		reply = &protocol.Info{Text: "commands: host <case> [public], list, join <id>, join-code <code>, set-name <name>"}
	default:
		reply = &protocol.Rejection{Text: "host or join a game first"}
	}

	if err := conn.Enqueue(reply); err != nil {
		r.Logger.Warn(err.Error())
	}
}
