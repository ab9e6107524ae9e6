package server

import (
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tcaine/gumshoe/internal/protocol"
)

// Connection owns one client socket: the inbound decode state and the
// outbound frame queue. It bridges raw bytes to and from whole messages.
//
// The outbound queue is drained by a dedicated writer goroutine. Enqueue is
// safe for concurrent producers (the dispatch loop replying to this peer and
// a session broadcasting from the other peer's command) and wakes the writer
// when the queue was previously idle.
type Connection struct {
	conn    net.Conn
	id      string
	ipAddr  string
	decoder *protocol.Decoder
	logger  *logrus.Logger

	mu          sync.Mutex
	displayName string
	sessionID   string
	outbound    [][]byte
	closed      bool
	closeReason string

	// wake signals the writer that the queue has frames (or that the
	// connection closed). Buffered so producers never block on it.
	wake chan struct{}

	closeOnce sync.Once
	// onClose is invoked exactly once when the connection closes, however
	// many times Close is called.
	onClose func(*Connection)
}

// NewConnection wraps an accepted socket. The writer goroutine starts
// immediately; onClose (may be nil) is called exactly once on close.
func NewConnection(conn net.Conn, maxFrameSize int, logger *logrus.Logger, onClose func(*Connection)) *Connection {
	id := uuid.New().String()
	ipAddr := conn.RemoteAddr().String()
	if host, _, err := net.SplitHostPort(ipAddr); err == nil {
		ipAddr = host
	}

	c := &Connection{
		conn:        conn,
		id:          id,
		ipAddr:      ipAddr,
		decoder:     protocol.NewDecoder(maxFrameSize),
		logger:      logger,
		displayName: "sleuth-" + strings.Split(id, "-")[0],
		wake:        make(chan struct{}, 1),
		onClose:     onClose,
	}
	go c.writeLoop()
	return c
}

func (c *Connection) ID() string     { return c.id }
func (c *Connection) IPAddr() string { return c.ipAddr }

func (c *Connection) DisplayName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.displayName
}

func (c *Connection) SetDisplayName(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.displayName = name
}

const maxDisplayNameLength = 32

// validDisplayName trims a requested display name and reports whether it is
// acceptable. Both the matchmaking surface and in-session renames go
// through this check.
func validDisplayName(name string) (string, bool) {
	name = strings.TrimSpace(name)
	return name, name != "" && len(name) <= maxDisplayNameLength
}

// SessionID returns the id of the session this connection belongs to, or ""
// when unassociated. The session itself is resolved through the Registry;
// the connection never holds a session pointer.
func (c *Connection) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *Connection) SetSessionID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = id
}

// Read consumes available bytes directly from the client's socket.
func (c *Connection) Read(b []byte) (int, error) {
	return c.conn.Read(b)
}

// Decode feeds newly-read bytes to the connection's frame decoder.
func (c *Connection) Decode(data []byte) ([]protocol.Message, error) {
	return c.decoder.Decode(data)
}

// Enqueue encodes a message and appends the frame to the outbound queue.
// Messages enqueued after close are dropped.
func (c *Connection) Enqueue(m protocol.Message) error {
	frame, err := protocol.Encode(m)
	if err != nil {
		return fmt.Errorf("error encoding %s for %s: %w", m.Kind(), c.ipAddr, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.outbound = append(c.outbound, frame)
	c.mu.Unlock()

	c.signalWriter()
	return nil
}

func (c *Connection) signalWriter() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// writeLoop drains the outbound queue one frame at a time. A frame is always
// written to completion before the next is attempted; when the queue is
// empty the loop parks on the wake channel rather than spinning.
func (c *Connection) writeLoop() {
	for {
		c.mu.Lock()
		if len(c.outbound) == 0 {
			if c.closed {
				c.mu.Unlock()
				return
			}
			c.mu.Unlock()
			<-c.wake
			continue
		}
		frame := c.outbound[0]
		c.outbound = c.outbound[1:]
		c.mu.Unlock()

		if err := c.transmit(frame); err != nil {
			c.logger.Warnf("failed to send to client %s: %s", c.ipAddr, err)
			c.Close("write error")
			return
		}
	}
}

// transmit writes the frame to the socket until every byte has been sent.
func (c *Connection) transmit(frame []byte) error {
	sent := 0
	for sent < len(frame) {
		n, err := c.conn.Write(frame[sent:])
		if err != nil {
			return err
		}
		sent += n
	}
	return nil
}

// Close releases the socket, clears both buffers, and runs the onClose hook.
// It is idempotent; only the first call's reason is kept.
func (c *Connection) Close(reason string) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.closeReason = reason
		c.outbound = nil
		c.mu.Unlock()

		c.signalWriter()
		if err := c.conn.Close(); err != nil {
			c.logger.Debugf("error closing connection %s: %s", c.ipAddr, err)
		}

		if c.onClose != nil {
			c.onClose(c)
		}
	})
}

// Closed reports whether Close has been called.
func (c *Connection) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
