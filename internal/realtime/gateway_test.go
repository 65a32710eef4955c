package realtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	v1 "nightline/contracts/v1"
	"nightline/internal/authtoken"
	"nightline/internal/repo"

	"github.com/coder/websocket"
	"github.com/golang-jwt/jwt/v5"
)

const gatewayTestJWTKey = "0123456789abcdef0123456789abcdef"

func newGatewayTestServer(t *testing.T, store repo.Store) (*httptest.Server, *Hub) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := NewHub(log)
	registry := NewRegistry()
	verifier := authtoken.NewVerifier([]byte(gatewayTestJWTKey), "")
	dispatcher := NewDispatcher(log, store, hub, &fakeProducer{}, 5)
	gw := NewGateway(log, hub, registry, verifier, dispatcher, store.Conversations)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /events", gw.HandleEvents)
	mux.HandleFunc("GET /chat/{hex}", func(w http.ResponseWriter, r *http.Request) {
		gw.HandleChat(r.PathValue("hex"))(w, r)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, hub
}

func dialWithCookie(t *testing.T, ctx context.Context, wsURL, userHex string) *websocket.Conn {
	t.Helper()
	tok := signClaimsHex(t, userHex)
	header := http.Header{}
	header.Set("Cookie", authtoken.DefaultCookieName+"="+tok)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{wsSubprotocolV1},
		HTTPHeader:   header,
	})
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	return conn
}

// signClaimsHex mints an HS256 JWT carrying the given hex as the
// "hex" claim, signed with gatewayTestJWTKey.
func signClaimsHex(t *testing.T, hex string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"hex": hex})
	s, err := tok.SignedString([]byte(gatewayTestJWTKey))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func readOneEnvelope(t *testing.T, ctx context.Context, conn *websocket.Conn) v1.Envelope {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	return env
}

// TestChatHandshakeRejectsMissingConversation exercises the 404 close
// path of spec §6's close-code table.
func TestChatHandshakeRejectsMissingConversation(t *testing.T) {
	store := repo.NewMemory().Store()
	srv, _ := newGatewayTestServer(t, store)

	tok := signClaimsHex(t, "u1")
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/chat/nonexistent", nil)
	req.Header.Set("Cookie", authtoken.DefaultCookieName+"="+tok)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

// TestChatHandshakeRejectsNonParticipant exercises the 401 close path:
// a validly authenticated principal that is not a participant of an
// existing conversation.
func TestChatHandshakeRejectsNonParticipant(t *testing.T) {
	store := repo.NewMemory().Store()
	conv, err := store.Conversations.Create(context.Background(), repo.NewConversationInput{
		Hex:          "conv00000000000000000000000000aa",
		Participants: []repo.Participant{{Hex: "u1"}, {Hex: "u2"}},
		From:         "u1",
	})
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	srv, _ := newGatewayTestServer(t, store)

	tok := signClaimsHex(t, "intruder")
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/chat/"+conv.Hex, nil)
	req.Header.Set("Cookie", authtoken.DefaultCookieName+"="+tok)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 (valid principal, not a participant)", resp.StatusCode)
	}
}

// TestChatSocketBroadcastsNewMessageToOtherParticipant exercises spec
// scenario S1's socket half: a "new" frame sent on one chat socket is
// received, already persisted, on the other participant's socket.
func TestChatSocketBroadcastsNewMessageToOtherParticipant(t *testing.T) {
	store := repo.NewMemory().Store()
	conv, err := store.Conversations.Create(context.Background(), repo.NewConversationInput{
		Hex: "conv00000000000000000000000000bb",
		Participants: []repo.Participant{
			{Hex: "u0hab65abc3"}, {Hex: "u0hab65abd3"},
		},
		From: "u0hab65abc3",
	})
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	srv, _ := newGatewayTestServer(t, store)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsBase := "ws" + strings.TrimPrefix(srv.URL, "http")

	recipientConn := dialWithCookie(t, ctx, wsBase+"/chat/"+conv.Hex, "u0hab65abd3")
	defer recipientConn.Close(websocket.StatusNormalClosure, "")

	// Drain the synthetic "system: joined" frame from the recipient's own open.
	_ = readOneEnvelope(t, ctx, recipientConn)

	senderConn := dialWithCookie(t, ctx, wsBase+"/chat/"+conv.Hex, "u0hab65abc3")
	defer senderConn.Close(websocket.StatusNormalClosure, "")

	// The recipient also observes the sender's join announcement.
	joinEnv := readOneEnvelope(t, ctx, recipientConn)
	if joinEnv.Kind != v1.KindSystem {
		t.Fatalf("kind = %q, want system (join announcement)", joinEnv.Kind)
	}

	payload := v1.NewMessagePayload{
		Conversation:     conv.Hex,
		Kind:             repo.MessageKindMessage,
		Type:             repo.MessageTypeAll,
		User:             "u0hab65abc3",
		RecipientContent: v1.Content{Encrypted: "E1", Nonce: "N1"},
		SenderContent:    v1.Content{Encrypted: "E2", Nonce: "N2"},
		Status:           repo.StatusSent,
	}
	env, err := v1.NewEnvelope(v1.KindNew, payload)
	if err != nil {
		t.Fatalf("build envelope: %v", err)
	}
	raw, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := senderConn.Write(ctx, websocket.MessageText, raw); err != nil {
		t.Fatalf("write: %v", err)
	}

	got := readOneEnvelope(t, ctx, recipientConn)
	if got.Kind != v1.KindNew {
		t.Fatalf("kind = %q, want new", got.Kind)
	}
	var view v1.MessageView
	if err := json.Unmarshal(got.Message, &view); err != nil {
		t.Fatalf("unmarshal view: %v", err)
	}
	if view.Conversation != conv.Hex || view.Status != repo.StatusSent {
		t.Fatalf("unexpected view: %+v", view)
	}

	msgs, err := store.Messages.Page(ctx, conv.Hex, 1, 20)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("page: %d msgs err=%v", len(msgs), err)
	}
}
