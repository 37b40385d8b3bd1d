// Package relay moves chat events and mutation commands between game
// sessions over WebSocket. The authoritative session runs the Gateway;
// player sessions dial in with a Client and forward mutations they are
// not allowed to apply themselves.
package relay

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wawful/spell-sustainer/internal/authz"
	"github.com/wawful/spell-sustainer/internal/chat"
)

const writeWait = 10 * time.Second

// Envelope is the wire frame shared by gateway and clients.
type Envelope struct {
	Type    string         `json:"type"`
	UserID  string         `json:"userId,omitempty"`
	Chat    *chat.Message  `json:"chat,omitempty"`
	Command *authz.Command `json:"command,omitempty"`
	// Ref ties a result frame back to the command it answers.
	Ref   string `json:"ref,omitempty"`
	Error string `json:"error,omitempty"`
	// Targets carries the sender's current target selection (actor ids).
	Targets []string `json:"targets,omitempty"`
}

const (
	envelopeChat    = "chat"
	envelopeCommand = "command"
	envelopeResult  = "result"
	envelopeTargets = "targets"
)

// ChatSink receives chat messages that arrive over the wire.
type ChatSink interface {
	PublishChat(m chat.Message)
}

// Gateway owns live session connections on the authoritative side. Inbound
// commands are applied through the authz applier; inbound chat is published
// to the local bus and fanned out to every other session.
type Gateway struct {
	mu          sync.Mutex
	subscribers map[string]*subscriber
	// selections holds each connected user's last announced target
	// selection. Cleared on disconnect.
	selections map[string][]string

	applier *authz.Applier
	chats   ChatSink
	logger  *log.Logger
}

type subscriber struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *subscriber) write(env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// NewGateway wires the authoritative-side gateway. applier may be nil, in
// which case inbound commands are rejected.
func NewGateway(applier *authz.Applier, chats ChatSink, logger *log.Logger) *Gateway {
	if logger == nil {
		logger = log.Default()
	}
	return &Gateway{
		subscribers: make(map[string]*subscriber),
		selections:  make(map[string][]string),
		applier:     applier,
		chats:       chats,
		logger:      logger,
	}
}

// Handler upgrades HTTP requests to WebSocket sessions. The user id rides
// in the "user" query parameter.
func (g *Gateway) Handler() http.Handler {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("user")
		if userID == "" {
			http.Error(w, "missing user", http.StatusBadRequest)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			g.logger.Printf("upgrade failed for %s: %v", userID, err)
			return
		}

		sub := g.subscribe(userID, conn)
		g.readLoop(userID, sub)
	})
}

func (g *Gateway) subscribe(userID string, conn *websocket.Conn) *subscriber {
	g.mu.Lock()
	defer g.mu.Unlock()
	if existing, ok := g.subscribers[userID]; ok {
		existing.conn.Close()
	}
	sub := &subscriber{conn: conn}
	g.subscribers[userID] = sub
	return sub
}

func (g *Gateway) disconnect(userID string, sub *subscriber) {
	g.mu.Lock()
	if current, ok := g.subscribers[userID]; ok && current == sub {
		delete(g.subscribers, userID)
		delete(g.selections, userID)
	}
	g.mu.Unlock()
	sub.conn.Close()
}

func (g *Gateway) readLoop(userID string, sub *subscriber) {
	defer g.disconnect(userID, sub)

	for {
		_, payload, err := sub.conn.ReadMessage()
		if err != nil {
			return
		}

		var env Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			g.logger.Printf("discarding malformed frame from %s: %v", userID, err)
			continue
		}
		env.UserID = userID

		switch env.Type {
		case envelopeChat:
			if env.Chat == nil {
				continue
			}
			if g.chats != nil {
				g.chats.PublishChat(*env.Chat)
			}
			g.fanOut(userID, env)
		case envelopeCommand:
			g.handleCommand(userID, sub, env)
		case envelopeTargets:
			g.setSelection(userID, env.Targets)
		default:
			g.logger.Printf("unknown frame type %q from %s", env.Type, userID)
		}
	}
}

func (g *Gateway) handleCommand(userID string, sub *subscriber, env Envelope) {
	result := Envelope{Type: envelopeResult}
	if env.Command != nil {
		result.Ref = env.Command.ID
	}

	switch {
	case env.Command == nil:
		result.Error = "command frame carries no command"
	case g.applier == nil:
		result.Error = "no command applier on this session"
	default:
		if err := g.applier.Apply(context.Background(), *env.Command); err != nil {
			g.logger.Printf("command %s from %s failed: %v", env.Command.Kind, userID, err)
			result.Error = err.Error()
		}
	}

	if err := sub.write(result); err != nil {
		g.logger.Printf("result send to %s failed: %v", userID, err)
	}
}

func (g *Gateway) setSelection(userID string, actorIDs []string) {
	selection := make([]string, len(actorIDs))
	copy(selection, actorIDs)
	g.mu.Lock()
	g.selections[userID] = selection
	g.mu.Unlock()
}

// SelectionFor reports the acting user's last announced target selection.
// The caster id is accepted for interface compatibility; the gateway keys
// selections by user, not by controlled actor.
func (g *Gateway) SelectionFor(_ context.Context, _, actingUserID string) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	selection := g.selections[actingUserID]
	out := make([]string, len(selection))
	copy(out, selection)
	return out, nil
}

// Broadcast sends an envelope to every connected session.
func (g *Gateway) Broadcast(env Envelope) {
	g.fanOut("", env)
}

// BroadcastChat fans a locally originated chat message out to every
// connected session.
func (g *Gateway) BroadcastChat(m chat.Message) {
	g.Broadcast(Envelope{Type: envelopeChat, Chat: &m})
}

func (g *Gateway) fanOut(excludeUser string, env Envelope) {
	g.mu.Lock()
	subs := make(map[string]*subscriber, len(g.subscribers))
	for uid, sub := range g.subscribers {
		if uid == excludeUser {
			continue
		}
		subs[uid] = sub
	}
	g.mu.Unlock()

	for uid, sub := range subs {
		if err := sub.write(env); err != nil {
			g.logger.Printf("broadcast to %s failed: %v", uid, err)
			g.disconnect(uid, sub)
		}
	}
}
