package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	v1 "nightline/contracts/v1"
	"nightline/internal/authtoken"
	"nightline/internal/repo"

	"github.com/coder/websocket"
)

const (
	wsSubprotocolV1 = "nightline.realtime.v1"

	defaultWriteTimeout        = 5 * time.Second
	defaultCloseTimeout        = 1 * time.Second
	maxConsecutivePingFailures = 3

	closeInternal websocket.StatusCode = websocket.StatusInternalError
)

// Gateway terminates websocket connections for both session endpoints:
// the global /events notification socket, and a per-conversation
// /chat/{hex} socket. It authenticates the handshake, subscribes the
// connection to its topic, registers it, and feeds every inbound frame
// to the dispatcher.
type Gateway struct {
	log        *slog.Logger
	hub        *Hub
	registry   *Registry
	verifier   *authtoken.Verifier
	dispatcher *Dispatcher
	convs      repo.Conversations
}

// NewGateway constructs a Gateway.
func NewGateway(log *slog.Logger, hub *Hub, registry *Registry, verifier *authtoken.Verifier, dispatcher *Dispatcher, convs repo.Conversations) *Gateway {
	return &Gateway{log: log, hub: hub, registry: registry, verifier: verifier, dispatcher: dispatcher, convs: convs}
}

// HandleEvents serves the global /events socket: one subscription per
// authenticated user, used for cross-conversation notifications.
func (g *Gateway) HandleEvents(w http.ResponseWriter, r *http.Request) {
	principal, err := g.authenticate(r)
	if err != nil {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}
	g.serve(w, r, principal, "", EventsTopic)
}

// HandleChat serves a /chat/{hex} socket: authenticates the principal,
// confirms they participate in the conversation, then bridges the
// connection into that conversation's topic.
func (g *Gateway) HandleChat(conversationHex string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, err := g.authenticate(r)
		if err != nil {
			http.Error(w, "unauthenticated", http.StatusUnauthorized)
			return
		}

		conv, err := g.convs.FindByHex(r.Context(), conversationHex)
		if err != nil {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if !conv.HasParticipant(principal.Hex) {
			http.Error(w, "unauthenticated", http.StatusUnauthorized)
			return
		}

		g.serve(w, r, principal, conversationHex, ChatTopic(conversationHex))
	}
}

func (g *Gateway) authenticate(r *http.Request) (authtoken.Principal, error) {
	if p, err := g.verifier.FromRequest(r); err == nil {
		return p, nil
	}
	return g.verifier.FromCookieHeader(r.Header.Get("Cookie"), time.Now().UTC())
}

func (g *Gateway) serve(w http.ResponseWriter, r *http.Request, principal authtoken.Principal, conversationHex, topicName string) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{wsSubprotocolV1},
	})
	if err != nil {
		g.log.Error("gateway.accept_failed", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	conn.SetReadLimit(maxFrameBytes)

	sessionID := NewRandomHex(10)
	client := NewClient(principal.Hex, sessionID, conversationHex, defaultSendQueueSize)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	g.registry.Add(principal.Hex, client)
	topic := g.hub.Topic(topicName)
	topic.Subscribe(client)
	defer func() {
		topic.Unsubscribe(client)
		g.registry.Remove(principal.Hex, client)
	}()

	if conversationHex != "" {
		g.announceJoin(topic)
	}

	var once sync.Once
	shutdown := func(status websocket.StatusCode, reason string) {
		once.Do(func() {
			_ = conn.Close(status, reason)
			cancel()
			client.Close()
		})
	}

	writerDone := make(chan struct{})
	go g.writeLoop(ctx, conn, client, shutdown, writerDone)

	heartbeatDone := make(chan struct{})
	go g.heartbeatLoop(ctx, conn, sessionID, shutdown, heartbeatDone)

	limiter := NewRateLimiter(rateLimitEvents, rateLimitWindow)
	g.readLoop(ctx, conn, client, limiter, sessionID, shutdown)

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone
	select {
	case <-heartbeatDone:
	case <-time.After(defaultCloseTimeout):
	}
}

func (g *Gateway) announceJoin(topic *Topic) {
	view := v1.SystemView{Type: "join", Message: "A user joined", CreatedAt: time.Now().UTC()}
	env, err := v1.NewEnvelope(v1.KindSystem, view)
	if err != nil {
		return
	}
	topic.Publish(env)
}

func (g *Gateway) writeLoop(ctx context.Context, conn *websocket.Conn, client *Client, shutdown func(websocket.StatusCode, string), done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-client.Send:
			if !ok {
				return
			}
			if err := writeEnvelope(ctx, conn, env, defaultWriteTimeout); err != nil {
				g.log.Info("gateway.write_failed", "session_id", client.SessionID, "err", err)
				shutdown(closeInternal, "write failed")
				return
			}
		}
	}
}

func (g *Gateway) heartbeatLoop(ctx context.Context, conn *websocket.Conn, sessionID string, shutdown func(websocket.StatusCode, string), done chan struct{}) {
	defer close(done)
	t := time.NewTicker(heartbeatInterval)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			hbCtx, hbCancel := context.WithTimeout(ctx, heartbeatTimeout)
			err := conn.Ping(hbCtx)
			hbCancel()
			if err != nil {
				failures++
				g.log.Info("gateway.ping_failed", "session_id", sessionID, "failures", failures, "err", err)
				if failures >= maxConsecutivePingFailures {
					shutdown(websocket.StatusGoingAway, "heartbeat failed")
					return
				}
				continue
			}
			failures = 0
		}
	}
}

func (g *Gateway) readLoop(ctx context.Context, conn *websocket.Conn, client *Client, limiter *RateLimiter, sessionID string, shutdown func(websocket.StatusCode, string)) {
	for {
		env, err := readEnvelope(ctx, conn)
		if err != nil {
			switch classifyWSReadErr(err) {
			case readErrClose:
				g.log.Info("gateway.read_close", "session_id", sessionID)
				shutdown(websocket.StatusNormalClosure, "peer closed")
				return
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
				return
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				return
			case readErrBadJSON:
				g.sendError(client, "", "invalid JSON frame")
				continue
			default:
				g.log.Info("gateway.read_failed", "session_id", sessionID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				return
			}
		}

		now := time.Now().UTC()
		if !limiter.Allow(now) {
			g.sendError(client, "", "too many events")
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			return
		}

		if err := env.Validate(); err != nil {
			g.sendError(client, env.Kind, err.Error())
			continue
		}
		if !v1.KnownKind(env.Kind) {
			g.log.Info("gateway.unknown_kind", "kind", env.Kind, "session_id", sessionID)
			continue
		}

		g.dispatcher.Dispatch(ctx, client, env)

		if ctx.Err() != nil {
			return
		}
	}
}

func (g *Gateway) sendError(client *Client, kind, msg string) {
	env, err := v1.NewEnvelope(v1.KindError, v1.ErrorView{Kind: kind, Error: msg})
	if err != nil {
		return
	}
	select {
	case client.Send <- env:
	default:
	}
}

// ---- I/O helpers ----

func readEnvelope(parent context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	mt, data, err := conn.Read(parent)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Envelope{}, errors.New("unsupported message type")
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, err
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, d time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, d)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyWSReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	s := err.Error()
	if strings.Contains(s, "use of closed network connection") || strings.Contains(s, "broken pipe") {
		return readErrConnClosed
	}
	if strings.Contains(s, "unexpected end of JSON input") ||
		strings.Contains(s, "invalid character") ||
		strings.Contains(s, "failed to unmarshal JSON") {
		return readErrBadJSON
	}
	return readErrUnknown
}
