package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wawful/spell-sustainer/internal/authz"
	"github.com/wawful/spell-sustainer/internal/chat"
)

// Client is a player session's connection to the gateway. It satisfies
// authz.Relay so mutations the player cannot apply locally travel to the
// authoritative session.
type Client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	logger  *log.Logger

	onChat   func(chat.Message)
	onResult func(ref string, errMsg string)

	closeOnce sync.Once
	done      chan struct{}
}

// ClientOptions configures optional inbound handlers.
type ClientOptions struct {
	// OnChat runs for every chat frame relayed from other sessions.
	OnChat func(chat.Message)
	// OnResult runs when the gateway answers a relayed command.
	OnResult func(ref string, errMsg string)
	Logger   *log.Logger
}

// Dial connects to the gateway at url (a ws:// endpoint without the user
// parameter) and starts the inbound read loop.
func Dial(ctx context.Context, url, userID string, opts ClientOptions) (*Client, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url+"?user="+userID, nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}

	c := &Client{
		conn:     conn,
		logger:   logger,
		onChat:   opts.OnChat,
		onResult: opts.OnResult,
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Send implements authz.Relay.
func (c *Client) Send(_ context.Context, cmd authz.Command) error {
	return c.write(Envelope{Type: envelopeCommand, Command: &cmd})
}

// SendChat forwards a chat message to the authoritative session.
func (c *Client) SendChat(m chat.Message) error {
	return c.write(Envelope{Type: envelopeChat, Chat: &m})
}

// SendTargets announces the player's current target selection to the
// authoritative session. An empty slice clears it.
func (c *Client) SendTargets(actorIDs []string) error {
	return c.write(Envelope{Type: envelopeTargets, Targets: actorIDs})
}

func (c *Client) write(env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("send frame: %w", err)
	}
	return nil
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var env Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			c.logger.Printf("discarding malformed frame: %v", err)
			continue
		}

		switch env.Type {
		case envelopeChat:
			if c.onChat != nil && env.Chat != nil {
				c.onChat(*env.Chat)
			}
		case envelopeResult:
			if c.onResult != nil {
				c.onResult(env.Ref, env.Error)
			}
		}
	}
}

// Close tears down the connection. Safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
		<-c.done
	})
	return err
}
