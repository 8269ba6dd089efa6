// Package gateway owns the websocket surface: the authentication
// handshake, the per-connection dispatch loop, and the streaming bridge
// that relays one agent turn at a time to the client.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/tripweave/tripweave/internal/agent"
	"github.com/tripweave/tripweave/internal/auth"
	"github.com/tripweave/tripweave/internal/sessions"
)

// authTimeout bounds how long a fresh connection may take to present its
// auth message.
const authTimeout = 10 * time.Second

// closeAuthFailed is the close code sent when the handshake fails.
const closeAuthFailed = 4401

// Gateway upgrades HTTP requests to websocket connections and runs the
// per-connection protocol.
type Gateway struct {
	verifier auth.TokenVerifier
	registry *sessions.Registry
	bridge   *Bridge
	tools    agent.ToolInvoker
	upgrader websocket.Upgrader
}

// New creates a gateway. tools may be nil; clients are then warned after
// auth that tool calls are unavailable.
func New(verifier auth.TokenVerifier, registry *sessions.Registry, bridge *Bridge, tools agent.ToolInvoker) *Gateway {
	return &Gateway{
		verifier: verifier,
		registry: registry,
		bridge:   bridge,
		tools:    tools,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// conn serializes writes; the bridge and the dispatch loop both send.
type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) send(msg serverMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(msg)
}

func (c *conn) closeWith(code int, reason string) {
	deadline := time.Now().Add(time.Second)
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	_ = c.ws.Close()
}

// ServeHTTP implements the /ws endpoint.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}
	c := &conn{ws: ws}

	userID, err := g.handshake(c)
	if err != nil {
		log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("Websocket auth failed")
		c.closeWith(closeAuthFailed, "auth failed")
		return
	}

	if err := c.send(serverMessage{Type: msgAuthOK}); err != nil {
		_ = ws.Close()
		return
	}
	if g.tools == nil || !g.tools.Available() {
		_ = c.send(serverMessage{Type: msgWarning, Message: "Tool calls are unavailable right now; answers will be text-only."})
	}

	log.Info().Str("user_id", userID).Str("remote", r.RemoteAddr).Msg("Websocket connected")
	g.dispatchLoop(r, c, userID)
	_ = ws.Close()
}

// handshake reads exactly one auth message within authTimeout and
// verifies its token.
func (g *Gateway) handshake(c *conn) (string, error) {
	if err := c.ws.SetReadDeadline(time.Now().Add(authTimeout)); err != nil {
		return "", err
	}
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return "", errors.New("no auth message before deadline")
	}

	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil || msg.Type != msgAuth {
		return "", errors.New("first message was not auth")
	}

	userID, err := g.verifier.Verify(msg.Token)
	if err != nil {
		return "", err
	}

	// Handshake done; subsequent reads block indefinitely.
	if err := c.ws.SetReadDeadline(time.Time{}); err != nil {
		return "", err
	}
	return userID, nil
}

// dispatchLoop reads frames until the transport fails. Turns run in their
// own goroutines so the loop keeps reading while a turn streams; that is
// what lets a cancel frame reach an in-flight turn, and what makes a
// second chat for the same session wait on the turn lock instead of the
// socket. The conn write mutex serializes the streaming turn against
// loop replies.
func (g *Gateway) dispatchLoop(r *http.Request, c *conn, userID string) {
	ctx, cancel := context.WithCancel(r.Context())
	var turns sync.WaitGroup

	// On transport death, stop in-flight turns first, then drain them.
	defer turns.Wait()
	defer cancel()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Str("user_id", userID).Msg("Websocket read failed")
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			if sendErr := c.send(serverMessage{Type: msgError, Error: "malformed message"}); sendErr != nil {
				return
			}
			continue
		}

		switch msg.Type {
		case msgChat:
			sess, err := g.registry.Get(msg.SessionID)
			if err != nil {
				if sendErr := c.send(serverMessage{Type: msgError, Error: "session not found"}); sendErr != nil {
					return
				}
				continue
			}
			sess.BindUser(userID)
			turns.Add(1)
			go func(sess *sessions.Session, message string) {
				defer turns.Done()
				if err := g.bridge.StreamTurn(ctx, sess, message, c.send); err != nil {
					// Transport-level failure; best effort notification. The
					// read loop notices the broken socket on its own.
					_ = c.send(serverMessage{Type: msgError, Error: "connection error"})
				}
			}(sess, msg.Message)

		case msgCancel:
			sess, err := g.registry.Get(msg.SessionID)
			if err != nil {
				if sendErr := c.send(serverMessage{Type: msgError, Error: "session not found"}); sendErr != nil {
					return
				}
				continue
			}
			sess.Cancel()
			log.Info().Str("session_id", msg.SessionID).Str("user_id", userID).Msg("Cancel requested")

		default:
			if sendErr := c.send(serverMessage{Type: msgError, Error: "unknown message type"}); sendErr != nil {
				return
			}
		}
	}
}
