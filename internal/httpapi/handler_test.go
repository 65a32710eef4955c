package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"

	"nightline/internal/authtoken"
	"nightline/internal/repo"
)

const testJWTKey = "0123456789abcdef0123456789abcdef"

func testVerifier(t *testing.T) *authtoken.Verifier {
	t.Helper()
	return authtoken.NewVerifier([]byte(testJWTKey), "")
}

func tokenFor(t *testing.T, hex string) string {
	t.Helper()
	claims := jwt.MapClaims{"hex": hex, "name": "Test User", "status": "active"}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := tok.SignedString([]byte(testJWTKey))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func newTestHandler(t *testing.T) (*Handler, repo.Store) {
	t.Helper()
	store := repo.NewMemory().Store()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := New(log, store, testVerifier(t), Config{ChatPerPage: 10, ChatHistory: 20, ChatMaxPins: 5})
	return h, store
}

func doRequest(t *testing.T, mux *http.ServeMux, method, path, userHex string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if userHex != "" {
		req.AddCookie(&http.Cookie{Name: authtoken.DefaultCookieName, Value: tokenFor(t, userHex)})
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response body %q: %v", rec.Body.String(), err)
	}
	return out
}

// TestConversationCreateAcceptAndMessageRoundTrip exercises spec
// scenario S1 at the HTTP layer: create, accept, then page history.
func TestConversationCreateAcceptAndMessageRoundTrip(t *testing.T) {
	h, store := newTestHandler(t)
	mux := http.NewServeMux()
	h.Register(mux, "/api/v1")

	rec := doRequest(t, mux, http.MethodPut, "/api/v1/conversation/add", "u0hab65abc3", conversationAddRequest{
		Participants: []participantInput{{Hex: "u0hab65abc3"}, {Hex: "u0hab65abd3"}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create conversation: status=%d body=%s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	conv := body["conversation"].(map[string]any)
	hex := conv["hex"].(string)
	if conv["trust"] != repo.TrustRequest {
		t.Fatalf("trust = %v, want request", conv["trust"])
	}

	rec = doRequest(t, mux, http.MethodPatch, "/api/v1/conversation/"+hex+"/accept", "u0hab65abd3", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("accept: status=%d body=%s", rec.Code, rec.Body.String())
	}
	body = decodeBody(t, rec)
	conv = body["conversation"].(map[string]any)
	if conv["trust"] != repo.TrustTrusted {
		t.Fatalf("trust = %v, want trusted after accept", conv["trust"])
	}

	if _, err := store.Messages.Insert(context.Background(), repo.Message{
		ID: "msg1", Conversation: hex, User: "u0hab65abc3", Status: repo.StatusSent,
	}); err != nil {
		t.Fatalf("seed message: %v", err)
	}

	rec = doRequest(t, mux, http.MethodGet, "/api/v1/conversation/"+hex+"/messages?page=1", "u0hab65abd3", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("messages: status=%d body=%s", rec.Code, rec.Body.String())
	}
	body = decodeBody(t, rec)
	msgs, ok := body["messages"].([]any)
	if !ok || len(msgs) != 1 {
		t.Fatalf("messages = %v, want exactly one", body["messages"])
	}
}

// TestConversationAddDuplicatePairRejected guards invariant 2 of spec §8.
func TestConversationAddDuplicatePairRejected(t *testing.T) {
	h, _ := newTestHandler(t)
	mux := http.NewServeMux()
	h.Register(mux, "/api/v1")

	req := conversationAddRequest{Participants: []participantInput{{Hex: "u1"}, {Hex: "u2"}}}
	if rec := doRequest(t, mux, http.MethodPut, "/api/v1/conversation/add", "u1", req); rec.Code != http.StatusCreated {
		t.Fatalf("first create: status=%d body=%s", rec.Code, rec.Body.String())
	}

	rec := doRequest(t, mux, http.MethodPut, "/api/v1/conversation/add", "u1", req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("duplicate pair: status=%d, want 400", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["success"] != false {
		t.Fatalf("success = %v, want false", body["success"])
	}
}

// TestPinCapReturns400WithSpecLiteralMessage exercises spec scenario S2.
func TestPinCapReturns400WithSpecLiteralMessage(t *testing.T) {
	h, store := newTestHandler(t)
	mux := http.NewServeMux()

	for i := 0; i < 6; i++ {
		letter := string(rune('a' + i))
		if _, err := store.Conversations.Create(context.Background(), repo.NewConversationInput{
			Hex:          "hex" + letter,
			Participants: []repo.Participant{{Hex: "u1"}, {Hex: "other" + letter}},
			From:         "u1",
		}); err != nil {
			t.Fatalf("seed conversation %s: %v", letter, err)
		}
	}
	h.Register(mux, "/api/v1")

	for i := 0; i < 5; i++ {
		letter := string(rune('a' + i))
		rec := doRequest(t, mux, http.MethodPatch, "/api/v1/conversation/hex"+letter+"/pin", "u1", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("pin %s: status=%d body=%s", letter, rec.Code, rec.Body.String())
		}
	}

	rec := doRequest(t, mux, http.MethodPatch, "/api/v1/conversation/hexf/pin", "u1", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("pin over cap: status=%d, want 400", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["error"] != "Cannot pin more than 5 conversations" {
		t.Fatalf("error = %v, want spec-literal pin-cap message", body["error"])
	}
}

func TestUserAddAndRetrieve(t *testing.T) {
	h, _ := newTestHandler(t)
	mux := http.NewServeMux()
	h.Register(mux, "/api/v1")

	rec := doRequest(t, mux, http.MethodPut, "/api/v1/user/add", "", userAddRequest{
		PublicKey: "pk", EncryptedPrivateKey: "epk", PrivateKeyNonce: "n", PasscodeSalt: "s",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("user add: status=%d body=%s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	user := body["user"].(map[string]any)
	hex, _ := user["hex"].(string)
	if hex == "" {
		t.Fatalf("expected a generated hex, got %v", user)
	}

	rec = doRequest(t, mux, http.MethodGet, "/api/v1/user/retrieve", hex, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("retrieve: status=%d body=%s", rec.Code, rec.Body.String())
	}
}

func TestRequireAuthRejectsMissingCookie(t *testing.T) {
	h, _ := newTestHandler(t)
	mux := http.NewServeMux()
	h.Register(mux, "/api/v1")

	rec := doRequest(t, mux, http.MethodGet, "/api/v1/user/retrieve", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}
