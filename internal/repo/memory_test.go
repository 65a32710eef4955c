package repo

import (
	"context"
	"testing"
	"time"
)

func TestConversationCreateRejectsDuplicatePair(t *testing.T) {
	store := NewMemory().Store()
	ctx := context.Background()

	participants := []Participant{{Hex: "u1", Role: RoleMember, Status: ParticipantActive}, {Hex: "u2", Role: RoleMember, Status: ParticipantActive}}

	if _, err := store.Conversations.Create(ctx, NewConversationInput{Hex: "c1", Participants: participants, From: "u1"}); err != nil {
		t.Fatalf("first create: %v", err)
	}

	_, err := store.Conversations.Create(ctx, NewConversationInput{Hex: "c2", Participants: participants, From: "u1"})
	if !IsConflict(err) {
		t.Fatalf("want conflict, got %v", err)
	}
}

func TestPinCap(t *testing.T) {
	store := NewMemory().Store()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		hex := string(rune('a' + i))
		if _, err := store.Conversations.Create(ctx, NewConversationInput{
			Hex:          hex,
			Participants: []Participant{{Hex: "u1"}, {Hex: "other" + hex}},
			From:         "u1",
		}); err != nil {
			t.Fatalf("create %s: %v", hex, err)
		}
		if _, err := store.Conversations.Pin(ctx, hex, "u1", 5); err != nil {
			t.Fatalf("pin %s: %v", hex, err)
		}
	}

	if _, err := store.Conversations.Create(ctx, NewConversationInput{
		Hex:          "overflow",
		Participants: []Participant{{Hex: "u1"}, {Hex: "other-overflow"}},
		From:         "u1",
	}); err != nil {
		t.Fatalf("create overflow: %v", err)
	}

	_, err := store.Conversations.Pin(ctx, "overflow", "u1", 5)
	if !IsInvariant(err) {
		t.Fatalf("want invariant failure at pin cap, got %v", err)
	}
}

func TestMessageStatusMonotonic(t *testing.T) {
	store := NewMemory().Store()
	ctx := context.Background()

	msg, err := store.Messages.Insert(ctx, Message{ID: "m1", Conversation: "c1", User: "u1", Status: StatusSent})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	msg, err = store.Messages.UpdateStatus(ctx, msg.ID, StatusDelivered)
	if err != nil {
		t.Fatalf("advance to delivered: %v", err)
	}
	if msg.Status != StatusDelivered {
		t.Fatalf("status = %q, want delivered", msg.Status)
	}

	if _, err := store.Messages.UpdateStatus(ctx, msg.ID, StatusSent); !IsInvariant(err) {
		t.Fatalf("want invariant failure on downgrade, got %v", err)
	}
}

func TestMessageDeleteRequiresAuthor(t *testing.T) {
	store := NewMemory().Store()
	ctx := context.Background()

	if _, err := store.Messages.Insert(ctx, Message{ID: "m1", Conversation: "c1", User: "author"}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if err := store.Messages.Delete(ctx, "m1", "someone-else"); !IsForbidden(err) {
		t.Fatalf("want forbidden, got %v", err)
	}

	if err := store.Messages.Delete(ctx, "m1", "author"); err != nil {
		t.Fatalf("delete by author: %v", err)
	}

	if _, err := store.Messages.FindByID(ctx, "m1"); !IsNotFound(err) {
		t.Fatalf("want not found after delete, got %v", err)
	}
}

func TestDeleteRecomputesConversationLast(t *testing.T) {
	store := NewMemory().Store()
	ctx := context.Background()

	if _, err := store.Conversations.Create(ctx, NewConversationInput{
		Hex:          "c1",
		Participants: []Participant{{Hex: "u1"}, {Hex: "u2"}},
		From:         "u1",
	}); err != nil {
		t.Fatalf("create conversation: %v", err)
	}

	older, err := store.Messages.Insert(ctx, Message{ID: "m1", Conversation: "c1", User: "u1"})
	if err != nil {
		t.Fatalf("insert m1: %v", err)
	}
	if err := store.Conversations.IncrementUnread(ctx, "c1", "u1", older, older.CreatedAt); err != nil {
		t.Fatalf("increment unread m1: %v", err)
	}

	time.Sleep(time.Millisecond)
	newer, err := store.Messages.Insert(ctx, Message{ID: "m2", Conversation: "c1", User: "u1"})
	if err != nil {
		t.Fatalf("insert m2: %v", err)
	}
	if err := store.Conversations.IncrementUnread(ctx, "c1", "u1", newer, newer.CreatedAt); err != nil {
		t.Fatalf("increment unread m2: %v", err)
	}

	if err := store.Messages.Delete(ctx, "m2", "u1"); err != nil {
		t.Fatalf("delete m2: %v", err)
	}

	conv, err := store.Conversations.FindByHex(ctx, "c1")
	if err != nil {
		t.Fatalf("find conversation: %v", err)
	}
	if conv.Last == nil || conv.Last.ID != "m1" {
		t.Fatalf("conversation.last = %+v, want m1", conv.Last)
	}
}
