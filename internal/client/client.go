// Package client implements the connecting side of the gumshoe protocol:
// dialing with bounded retries, frame decoding, and typed send helpers.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tcaine/gumshoe/internal/core"
	"github.com/tcaine/gumshoe/internal/protocol"
)

const dialTimeout = 10 * time.Second

// ErrRetriesExhausted is returned when every connection attempt failed.
// The caller must explicitly ask again; the client never retries in the
// background after giving up.
var ErrRetriesExhausted = errors.New("could not reach the server")

// Client is one player's connection to the session server.
type Client struct {
	Config *core.Config
	Logger *logrus.Logger

	// Messages delivers every server-pushed message in arrival order. The
	// channel is closed when the connection drops.
	Messages chan protocol.Message

	mu        sync.Mutex
	conn      net.Conn
	connected bool
	playerID  string
}

func New(cfg *core.Config, logger *logrus.Logger) *Client {
	return &Client{
		Config:   cfg,
		Logger:   logger,
		Messages: make(chan protocol.Message, 16),
	}
}

// Connect dials the server, retrying a fixed number of times with a fixed
// delay between attempts. On success the read loop starts and Messages
// begins delivering.
func (c *Client) Connect(ctx context.Context) error {
	addr := c.Config.Client.ServerAddress
	retries := c.Config.Client.ConnectRetries
	delay := c.Config.Client.ConnectRetryDelay

	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		conn, err := net.DialTimeout("tcp", addr, dialTimeout)
		if err == nil {
			c.mu.Lock()
			c.conn = conn
			c.connected = true
			c.mu.Unlock()

			c.Logger.Infof("connected to server %s", addr)
			go c.readLoop(conn)
			return nil
		}

		lastErr = err
		c.Logger.Warnf("connection attempt %d/%d to %s failed: %s", attempt, retries, addr, err)

		if attempt < retries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return fmt.Errorf("%w after %d attempts: %v", ErrRetriesExhausted, retries, lastErr)
}

// PlayerID returns the identity assigned by the server, or "" before the
// Identity message has arrived.
func (c *Client) PlayerID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playerID
}

// Connected reports whether the connection is currently up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Send frames and transmits one message to the server.
func (c *Client) Send(m protocol.Message) error {
	c.mu.Lock()
	conn, connected := c.conn, c.connected
	c.mu.Unlock()

	if !connected {
		return errors.New("not connected to server")
	}

	frame, err := protocol.Encode(m)
	if err != nil {
		return err
	}

	sent := 0
	for sent < len(frame) {
		n, err := conn.Write(frame[sent:])
		if err != nil {
			c.Logger.Warnf("failed to send %s: %s", m.Kind(), err)
			c.Close()
			return fmt.Errorf("failed to send request: %w", err)
		}
		sent += n
	}
	return nil
}

// Typed helpers for the matchmaking surface.

func (c *Client) SetName(name string) error {
	return c.Send(&protocol.SetName{Name: name})
}

func (c *Client) HostGame(scenarioID string, public bool) error {
	return c.Send(&protocol.HostGame{ScenarioID: scenarioID, Public: public})
}

func (c *Client) ListGames() error {
	return c.Send(&protocol.ListGames{})
}

func (c *Client) JoinPublic(sessionID string) error {
	return c.Send(&protocol.JoinPublic{SessionID: sessionID})
}

func (c *Client) JoinPrivate(code string) error {
	return c.Send(&protocol.JoinPrivate{Code: code})
}

// readLoop decodes server frames and forwards them to Messages until the
// connection drops or a framing error forces a disconnect.
func (c *Client) readLoop(conn net.Conn) {
	defer func() {
		c.Close()
		close(c.Messages)
	}()

	decoder := protocol.NewDecoder(c.Config.MaxFrameSize)
	buffer := make([]byte, 2048)

	for {
		n, err := conn.Read(buffer)

		if n > 0 {
			messages, decodeErr := decoder.Decode(buffer[:n])
			for _, message := range messages {
				if identity, ok := message.(*protocol.Identity); ok {
					c.mu.Lock()
					c.playerID = identity.PlayerID
					c.mu.Unlock()
				}
				c.Messages <- message
			}
			if decodeErr != nil {
				c.Logger.Warnf("disconnecting after framing error: %s", decodeErr)
				return
			}
		}

		if err != nil {
			if c.Connected() {
				c.Logger.Infof("connection closed: %s", err)
			}
			return
		}
	}
}

// Close tears the connection down. Safe to call repeatedly.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return
	}
	c.connected = false
	if err := c.conn.Close(); err != nil {
		c.Logger.Debugf("error closing connection: %s", err)
	}
}
