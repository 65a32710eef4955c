package repo

import (
	"context"
	"testing"
	"time"
)

func TestConversationsListFiltersByTrustAndUnread(t *testing.T) {
	store := NewMemory().Store()
	ctx := context.Background()

	requested, err := store.Conversations.Create(ctx, NewConversationInput{
		Hex:          "req1",
		Participants: []Participant{{Hex: "u1"}, {Hex: "u2"}},
		From:         "u2",
	})
	if err != nil {
		t.Fatalf("create requested: %v", err)
	}

	trusted, err := store.Conversations.Create(ctx, NewConversationInput{
		Hex:          "tru1",
		Participants: []Participant{{Hex: "u1"}, {Hex: "u3"}},
		From:         "u1",
	})
	if err != nil {
		t.Fatalf("create trusted: %v", err)
	}
	if _, err := store.Conversations.Accept(ctx, trusted.Hex, "u3"); err != nil {
		t.Fatalf("accept: %v", err)
	}

	msg, err := store.Messages.Insert(ctx, Message{ID: "m1", Conversation: trusted.Hex, User: "u3"})
	if err != nil {
		t.Fatalf("insert message: %v", err)
	}
	if err := store.Conversations.IncrementUnread(ctx, trusted.Hex, "u3", msg, time.Now()); err != nil {
		t.Fatalf("increment unread: %v", err)
	}

	all, err := store.Conversations.List(ctx, "u1", FilterAll, 1, 10)
	if err != nil || len(all) != 2 {
		t.Fatalf("all: %d conversations err=%v, want 2", len(all), err)
	}

	reqOnly, err := store.Conversations.List(ctx, "u1", FilterRequested, 1, 10)
	if err != nil || len(reqOnly) != 1 || reqOnly[0].Hex != requested.Hex {
		t.Fatalf("requested filter = %+v, err=%v", reqOnly, err)
	}

	trustedOnly, err := store.Conversations.List(ctx, "u1", FilterTrusted, 1, 10)
	if err != nil || len(trustedOnly) != 1 || trustedOnly[0].Hex != trusted.Hex {
		t.Fatalf("trusted filter = %+v, err=%v", trustedOnly, err)
	}

	unreadOnly, err := store.Conversations.List(ctx, "u1", FilterTrustedUnread, 1, 10)
	if err != nil || len(unreadOnly) != 1 || unreadOnly[0].Hex != trusted.Hex {
		t.Fatalf("unread filter = %+v, err=%v", unreadOnly, err)
	}
}

func TestConversationsCountsMatchesRequestedAndUnread(t *testing.T) {
	store := NewMemory().Store()
	ctx := context.Background()

	if _, err := store.Conversations.Create(ctx, NewConversationInput{
		Hex:          "req1",
		Participants: []Participant{{Hex: "u1"}, {Hex: "u2"}},
		From:         "u2",
	}); err != nil {
		t.Fatalf("create requested (from other): %v", err)
	}
	if _, err := store.Conversations.Create(ctx, NewConversationInput{
		Hex:          "req2",
		Participants: []Participant{{Hex: "u1"}, {Hex: "u3"}},
		From:         "u1",
	}); err != nil {
		t.Fatalf("create requested (from self): %v", err)
	}

	counts, err := store.Conversations.Counts(ctx, "u1")
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts.Total != 2 {
		t.Fatalf("total = %d, want 2", counts.Total)
	}
	// Only the conversation u1 did not initiate counts as "requested".
	if counts.Requested != 1 {
		t.Fatalf("requested = %d, want 1", counts.Requested)
	}
}

func TestResetUnreadZeroesSingleParticipant(t *testing.T) {
	store := NewMemory().Store()
	ctx := context.Background()

	conv, err := store.Conversations.Create(ctx, NewConversationInput{
		Hex:          "c1",
		Participants: []Participant{{Hex: "u1"}, {Hex: "u2"}},
		From:         "u1",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	msg, err := store.Messages.Insert(ctx, Message{ID: "m1", Conversation: conv.Hex, User: "u1"})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := store.Conversations.IncrementUnread(ctx, conv.Hex, "u1", msg, time.Now()); err != nil {
		t.Fatalf("increment unread: %v", err)
	}

	reloaded, err := store.Conversations.FindByHex(ctx, conv.Hex)
	if err != nil || reloaded.Unread["u2"] != 1 {
		t.Fatalf("unread[u2] = %d, want 1 (err=%v)", reloaded.Unread["u2"], err)
	}

	if err := store.Conversations.ResetUnread(ctx, conv.Hex, "u2"); err != nil {
		t.Fatalf("reset unread: %v", err)
	}
	reloaded, err = store.Conversations.FindByHex(ctx, conv.Hex)
	if err != nil || reloaded.Unread["u2"] != 0 {
		t.Fatalf("unread[u2] after reset = %d, want 0 (err=%v)", reloaded.Unread["u2"], err)
	}
}

func TestUnpinRemovesExistingPin(t *testing.T) {
	store := NewMemory().Store()
	ctx := context.Background()

	conv, err := store.Conversations.Create(ctx, NewConversationInput{
		Hex:          "c1",
		Participants: []Participant{{Hex: "u1"}, {Hex: "u2"}},
		From:         "u1",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.Conversations.Pin(ctx, conv.Hex, "u1", 5); err != nil {
		t.Fatalf("pin: %v", err)
	}
	pinned, err := store.Conversations.List(ctx, "u1", FilterPinned, 1, 10)
	if err != nil || len(pinned) != 1 {
		t.Fatalf("pinned = %+v, err=%v", pinned, err)
	}

	if _, err := store.Conversations.Unpin(ctx, conv.Hex, "u1"); err != nil {
		t.Fatalf("unpin: %v", err)
	}
	pinned, err = store.Conversations.List(ctx, "u1", FilterPinned, 1, 10)
	if err != nil || len(pinned) != 0 {
		t.Fatalf("pinned after unpin = %+v, err=%v", pinned, err)
	}
}
