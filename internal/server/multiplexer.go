package server

import (
	"context"
	"fmt"
	"io"
	"net"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tcaine/gumshoe/internal/core"
	coredebug "github.com/tcaine/gumshoe/internal/core/debug"
	"github.com/tcaine/gumshoe/internal/protocol"
)

// housekeepingInterval bounds how long the dispatch loop sleeps between
// ticks. The tick only keeps the loop responsive for periodic reporting; it
// is not a correctness mechanism.
const housekeepingInterval = 30 * time.Second

type eventType int

const (
	evAccepted eventType = iota
	evMessage
	evClosed
)

// event is one unit of work for the dispatch loop.
type event struct {
	typ  eventType
	conn *Connection
	msg  protocol.Message
}

// Multiplexer accepts client connections and funnels every decoded message
// through a single dispatch goroutine. Per-connection reader goroutines do
// nothing but decode; all routing decisions (to the Registry for
// unassociated connections, to the owning Session otherwise) happen
// sequentially on the dispatch goroutine, so messages from one connection
// are handled in arrival order.
type Multiplexer struct {
	Addr     string
	Config   *core.Config
	Logger   *logrus.Logger
	Registry *Registry

	inbox chan event
	// done unblocks readers trying to hand off events after the dispatch
	// loop has exited.
	done chan struct{}
	// connections is owned by the dispatch goroutine.
	connections map[string]*Connection

	socket *net.TCPListener
}

// LocalAddr returns the bound listen address, which differs from Addr when
// the configured port is 0.
func (m *Multiplexer) LocalAddr() net.Addr {
	return m.socket.Addr()
}

// Start binds the listener and launches the accept and dispatch loops.
// Context cancellation shuts both down; the WaitGroup is released once the
// dispatch loop has closed every connection.
func (m *Multiplexer) Start(ctx context.Context, wg *sync.WaitGroup) error {
	socket, err := m.createSocket()
	if err != nil {
		return fmt.Errorf("error creating socket on %s: %w", m.Addr, err)
	}
	m.socket = socket

	m.inbox = make(chan event, 256)
	m.done = make(chan struct{})
	m.connections = make(map[string]*Connection)

	go m.acceptLoop(ctx, socket)

	wg.Add(1)
	go m.dispatchLoop(ctx, wg)

	m.Logger.Infof("waiting for connections on %v", m.Addr)
	return nil
}

func (m *Multiplexer) createSocket() (*net.TCPListener, error) {
	hostAddr, err := net.ResolveTCPAddr("tcp", m.Addr)
	if err != nil {
		return nil, fmt.Errorf("error resolving address: %w", err)
	}

	socket, err := net.ListenTCP("tcp", hostAddr)
	if err != nil {
		return nil, fmt.Errorf("error listening on socket: %w", err)
	}
	return socket, nil
}

// acceptLoop accepts connections until the context is cancelled and hands
// each one to the dispatch loop.
func (m *Multiplexer) acceptLoop(ctx context.Context, socket *net.TCPListener) {
	go func() {
		<-ctx.Done()
		_ = socket.Close()
	}()

	for {
		connection, err := socket.AcceptTCP()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.Logger.Warnf("failed to accept connection: %s", err)
			continue
		}

		conn := NewConnection(connection, m.Config.MaxFrameSize, m.Logger, m.onConnectionClosed)
		m.post(event{typ: evAccepted, conn: conn})
		go m.readLoop(conn)
	}
}

// onConnectionClosed runs exactly once per connection, from whichever
// goroutine closed it. Matchmaking state is cleaned up immediately; the
// dispatch loop is told to forget the connection.
func (m *Multiplexer) onConnectionClosed(conn *Connection) {
	m.Registry.ConnectionClosed(conn)
	m.post(event{typ: evClosed, conn: conn})
}

// post hands an event to the dispatch loop, dropping it if the loop has
// already exited during shutdown.
func (m *Multiplexer) post(ev event) {
	select {
	case m.inbox <- ev:
	case <-m.done:
	}
}

// readLoop pulls bytes off one connection's socket and feeds them through
// its decoder. Zero-byte reads simply mean "try again"; EOF is a normal
// disconnect; a framing error is fatal to this connection only.
func (m *Multiplexer) readLoop(conn *Connection) {
	buffer := make([]byte, 2048)

	for {
		n, err := conn.Read(buffer)

		if n > 0 {
			messages, decodeErr := conn.Decode(buffer[:n])
			for _, message := range messages {
				m.post(event{typ: evMessage, conn: conn, msg: message})
			}
			if decodeErr != nil {
				m.Logger.Warnf("closing %s for a framing violation: %s", conn.IPAddr(), decodeErr)
				conn.Close("protocol violation")
				return
			}
		}

		if err == io.EOF {
			conn.Close("client disconnected")
			return
		} else if err != nil {
			if !conn.Closed() {
				m.Logger.Warnf("socket error (%s): %s", conn.IPAddr(), err)
			}
			conn.Close("socket error")
			return
		}
	}
}

// dispatchLoop is the single goroutine through which every message is
// routed. It owns the connection table; nothing else touches it.
func (m *Multiplexer) dispatchLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(housekeepingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.Logger.Info("shutting down (closing connections)")
			close(m.done)
			for _, conn := range m.connections {
				conn.Close("server shutting down")
			}
			m.Logger.Info("exited")
			return

		case ev := <-m.inbox:
			switch ev.typ {
			case evAccepted:
				m.handleAccepted(ev.conn)
			case evMessage:
				m.handleMessage(ev.conn, ev.msg)
			case evClosed:
				delete(m.connections, ev.conn.ID())
				m.Logger.Infof("disconnected client %s", ev.conn.IPAddr())
			}

		case <-ticker.C:
			m.Logger.Debugf("%d connected clients, %d tracked sessions",
				len(m.connections), m.Registry.SessionCount())
		}
	}
}

func (m *Multiplexer) handleAccepted(conn *Connection) {
	if len(m.connections) >= m.Config.MaxConnections {
		m.Logger.Warnf("rejecting connection from %s: server full", conn.IPAddr())
		conn.Close("server full")
		return
	}

	m.connections[conn.ID()] = conn
	m.Logger.Infof("accepted connection from %s", conn.IPAddr())

	if err := conn.Enqueue(&protocol.Identity{PlayerID: conn.ID(), Name: conn.DisplayName()}); err != nil {
		m.Logger.Warn(err.Error())
	}
}

// handleMessage routes one decoded message: to the owning session when the
// connection is associated, to the registry's matchmaking surface otherwise.
func (m *Multiplexer) handleMessage(conn *Connection, msg protocol.Message) {
	defer m.recoverFromHandlerPanic(conn)

	cmd, ok := msg.(protocol.Command)
	if !ok {
		// A client pushed a server-to-client kind at us.
		m.Logger.Warnf("received non-command message %q from %s", msg.Kind(), conn.IPAddr())
		_ = conn.Enqueue(&protocol.Rejection{Text: "that message kind cannot be sent by clients"})
		return
	}
	protocol.AttachSender(cmd, conn.ID(), conn.DisplayName())

	if m.Config.Debugging.FrameLoggingEnabled {
		m.Logger.Debugf("received %s from %s:\n%s", cmd.Kind(), conn.IPAddr(), coredebug.DumpMessage(cmd))
	}

	if session, ok := m.Registry.SessionFor(conn); ok {
		if outcome := session.HandleCommand(conn, cmd); outcome != nil {
			m.Registry.End(session.ID(), outcome.reason, outcome.normal)
		}
		return
	}

	// A dangling session id (session already ended) falls back to the
	// matchmaking surface.
	if conn.SessionID() != "" {
		conn.SetSessionID("")
	}
	m.Registry.HandleCommand(conn, cmd)
}

// recoverFromHandlerPanic is the failsafe that keeps one connection's bad
// day from taking down the dispatch loop.
func (m *Multiplexer) recoverFromHandlerPanic(conn *Connection) {
	if err := recover(); err != nil {
		m.Logger.Errorf("error in client communication with %s: error=%s, trace: %s",
			conn.IPAddr(), err, debug.Stack())
		conn.Close("internal error")
	}
}
