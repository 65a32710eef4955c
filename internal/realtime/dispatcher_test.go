package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"io"
	"testing"

	v1 "nightline/contracts/v1"
	"nightline/internal/repo"
)

type fakeProducer struct {
	jobs []DeliveryJob
}

func (f *fakeProducer) Enqueue(_ context.Context, job DeliveryJob) error {
	f.jobs = append(f.jobs, job)
	return nil
}

func newTestDispatcher(t *testing.T) (*Dispatcher, repo.Store, *fakeProducer, *Hub) {
	t.Helper()
	store := repo.NewMemory().Store()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := NewHub(log)
	producer := &fakeProducer{}
	return NewDispatcher(log, store, hub, producer, 5), store, producer, hub
}

func newConversationFixture(t *testing.T, store repo.Store, hex, a, b string) repo.Conversation {
	t.Helper()
	conv, err := store.Conversations.Create(context.Background(), repo.NewConversationInput{
		Hex: hex,
		Participants: []repo.Participant{
			{Hex: a, Role: repo.RoleMember, Status: repo.ParticipantActive},
			{Hex: b, Role: repo.RoleMember, Status: repo.ParticipantActive},
		},
		From: a,
	})
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	return conv
}

func envelopeFor(t *testing.T, kind string, payload any) v1.Envelope {
	t.Helper()
	env, err := v1.NewEnvelope(kind, payload)
	if err != nil {
		t.Fatalf("build envelope: %v", err)
	}
	return env
}

// TestHandleNewPersistsPublishesAndEnqueues exercises spec scenario S1:
// a valid "new" frame is persisted, broadcast to the conversation topic,
// and handed to the delivery queue addressed to every participant.
func TestHandleNewPersistsPublishesAndEnqueues(t *testing.T) {
	d, store, producer, hub := newTestDispatcher(t)
	conv := newConversationFixture(t, store, "cccccccccccccccccccccccccccccccc", "u0hab65abc3", "u0hab65abd3")

	recipient := NewClient("u0hab65abd3", "sess-recipient", conv.Hex, 4)
	hub.Topic(ChatTopic(conv.Hex)).Subscribe(recipient)

	sender := NewClient("u0hab65abc3", "sess-sender", conv.Hex, 4)

	payload := v1.NewMessagePayload{
		Conversation:     conv.Hex,
		Kind:             repo.MessageKindMessage,
		Type:             repo.MessageTypeAll,
		User:             "u0hab65abc3",
		RecipientContent: v1.Content{Encrypted: "E1", Nonce: "N1"},
		SenderContent:    v1.Content{Encrypted: "E2", Nonce: "N2"},
		Status:           repo.StatusSent,
	}
	env := envelopeFor(t, v1.KindNew, payload)

	d.Dispatch(context.Background(), sender, env)

	select {
	case got := <-recipient.Send:
		if got.Kind != v1.KindNew {
			t.Fatalf("broadcast kind = %q, want new", got.Kind)
		}
		var view v1.MessageView
		if err := json.Unmarshal(got.Message, &view); err != nil {
			t.Fatalf("unmarshal broadcast: %v", err)
		}
		if view.Conversation != conv.Hex || view.Status != repo.StatusSent {
			t.Fatalf("unexpected view: %+v", view)
		}
	default:
		t.Fatal("recipient did not receive a broadcast")
	}

	if len(producer.jobs) != 1 {
		t.Fatalf("want 1 enqueued job, got %d", len(producer.jobs))
	}
	job := producer.jobs[0]
	if job.Conversation != conv.Hex {
		t.Fatalf("job.conversation = %q, want %q", job.Conversation, conv.Hex)
	}
	if len(job.To) != 2 {
		t.Fatalf("job.to = %v, want both participants", job.To)
	}

	msgs, err := store.Messages.Page(context.Background(), conv.Hex, 1, 20)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("page: %d msgs, err=%v", len(msgs), err)
	}
}

// TestHandleNewAcceptsGeneratedConversationHexLength guards against the validator
// schema and the id generator disagreeing on hex length: every
// legitimately generated conversation id must pass the "new" schema.
func TestHandleNewAcceptsGeneratedConversationHexLength(t *testing.T) {
	hex := NewRandomHex(16)
	if err := ValidateNew(&v1.NewMessagePayload{
		Conversation:     hex,
		Kind:             repo.MessageKindMessage,
		Type:             repo.MessageTypeAll,
		User:             "u1",
		RecipientContent: v1.Content{Encrypted: "E1", Nonce: "N1"},
		SenderContent:    v1.Content{Encrypted: "E2", Nonce: "N2"},
		Status:           repo.StatusSent,
	}); err != nil {
		t.Fatalf("a freshly generated conversation hex must pass validation, got %v", err)
	}
}

// TestHandleRemoveRejectsNonAuthor exercises spec scenario S3: deletion
// by a non-author is refused, the message persists, and the error frame
// is sent only to the requesting socket.
func TestHandleRemoveRejectsNonAuthor(t *testing.T) {
	d, store, producer, _ := newTestDispatcher(t)
	conv := newConversationFixture(t, store, "dddddddddddddddddddddddddddddddd", "author", "other")

	msg, err := store.Messages.Insert(context.Background(), repo.Message{
		ID: "msg1", Conversation: conv.Hex, User: "author", Status: repo.StatusSent,
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	requester := NewClient("other", "sess-other", conv.Hex, 4)
	env := envelopeFor(t, v1.KindRemove, v1.RemovePayload{ID: msg.ID, User: "other"})

	d.Dispatch(context.Background(), requester, env)

	select {
	case got := <-requester.Send:
		if got.Kind != v1.KindError {
			t.Fatalf("kind = %q, want error", got.Kind)
		}
	default:
		t.Fatal("requester did not receive an error frame")
	}

	if len(producer.jobs) != 0 {
		t.Fatalf("no job should be enqueued on a rejected delete, got %d", len(producer.jobs))
	}

	if _, err := store.Messages.FindByID(context.Background(), msg.ID); err != nil {
		t.Fatalf("message should still exist: %v", err)
	}
}

// TestHandleRemoveIgnoresSpoofedUserField guards against a participant
// authenticated as one principal deleting another participant's message
// by naming them in the frame's user field: authorization and the
// delete actor must both bind to the authenticated client, never to
// attacker-controlled payload data.
func TestHandleRemoveIgnoresSpoofedUserField(t *testing.T) {
	d, store, producer, _ := newTestDispatcher(t)
	conv := newConversationFixture(t, store, "11111111111111111111111111111111", "authorC", "attackerD")

	msg, err := store.Messages.Insert(context.Background(), repo.Message{
		ID: "msg1", Conversation: conv.Hex, User: "authorC", Status: repo.StatusSent,
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	attacker := NewClient("attackerD", "sess-attacker", conv.Hex, 4)
	env := envelopeFor(t, v1.KindRemove, v1.RemovePayload{ID: msg.ID, User: "authorC"})

	d.Dispatch(context.Background(), attacker, env)

	select {
	case got := <-attacker.Send:
		if got.Kind != v1.KindError {
			t.Fatalf("kind = %q, want error", got.Kind)
		}
	default:
		t.Fatal("attacker did not receive an error frame")
	}

	if len(producer.jobs) != 0 {
		t.Fatalf("no job should be enqueued on a rejected delete, got %d", len(producer.jobs))
	}
	if _, err := store.Messages.FindByID(context.Background(), msg.ID); err != nil {
		t.Fatalf("message should still exist: %v", err)
	}
}

// TestHandleStatusRejectsDowngrade exercises spec scenario S5.
func TestHandleStatusRejectsDowngrade(t *testing.T) {
	d, store, _, _ := newTestDispatcher(t)
	conv := newConversationFixture(t, store, "eeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee", "author", "reader")

	msg, err := store.Messages.Insert(context.Background(), repo.Message{
		ID: "msg1", Conversation: conv.Hex, User: "author", Status: repo.StatusRead,
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	client := NewClient("reader", "sess-reader", conv.Hex, 4)
	env := envelopeFor(t, v1.KindStatus, v1.StatusPayload{ID: msg.ID, Status: repo.StatusDelivered, User: "reader"})

	d.Dispatch(context.Background(), client, env)

	select {
	case got := <-client.Send:
		if got.Kind != v1.KindError {
			t.Fatalf("kind = %q, want error", got.Kind)
		}
	default:
		t.Fatal("want an error frame on downgrade attempt")
	}

	reloaded, err := store.Messages.FindByID(context.Background(), msg.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if reloaded.Status != repo.StatusRead {
		t.Fatalf("status = %q, want unchanged read", reloaded.Status)
	}
}

// TestHandleReplyProjectsParentContent exercises spec scenario S6.
func TestHandleReplyProjectsParentContent(t *testing.T) {
	d, store, _, _ := newTestDispatcher(t)
	conv := newConversationFixture(t, store, "ffffffffffffffffffffffffffffffff", "authorA", "authorB")

	parent, err := store.Messages.Insert(context.Background(), repo.Message{
		ID:               "parent1",
		Conversation:     conv.Hex,
		User:             "authorA",
		SenderContent:    repo.Content{Encrypted: "SA", Nonce: "NSA"},
		RecipientContent: repo.Content{Encrypted: "RA", Nonce: "NRA"},
		Status:           repo.StatusSent,
	})
	if err != nil {
		t.Fatalf("insert parent: %v", err)
	}

	client := NewClient("authorB", "sess-b", conv.Hex, 4)
	payload := v1.ReplyPayload{
		NewMessagePayload: v1.NewMessagePayload{
			Conversation:     conv.Hex,
			Kind:             repo.MessageKindReply,
			Type:             repo.MessageTypeAll,
			User:             "authorB",
			RecipientContent: v1.Content{Encrypted: "E1", Nonce: "N1"},
			SenderContent:    v1.Content{Encrypted: "E2", Nonce: "N2"},
			Status:           repo.StatusSent,
		},
		Parent: parent.ID,
	}
	env := envelopeFor(t, v1.KindReply, payload)

	d.Dispatch(context.Background(), client, env)

	msgs, err := store.Messages.Page(context.Background(), conv.Hex, 1, 20)
	if err != nil {
		t.Fatalf("page: %v", err)
	}
	var reply *repo.Message
	for i := range msgs {
		if msgs[i].ID != parent.ID {
			reply = &msgs[i]
		}
	}
	if reply == nil || reply.Reply == nil {
		t.Fatalf("expected reply projection to be stored")
	}
	if reply.Reply.RecipientContent != parent.SenderContent {
		t.Fatalf("reply.recipientContent = %+v, want parent.senderContent %+v", reply.Reply.RecipientContent, parent.SenderContent)
	}
	if reply.Reply.SenderContent != parent.RecipientContent {
		t.Fatalf("reply.senderContent = %+v, want parent.recipientContent %+v", reply.Reply.SenderContent, parent.RecipientContent)
	}
}

func TestHandleForwardNotImplemented(t *testing.T) {
	d, store, _, _ := newTestDispatcher(t)
	conv := newConversationFixture(t, store, "a1111111111111111111111111111111", "u1", "u2")
	client := NewClient("u1", "sess", conv.Hex, 4)

	env := envelopeFor(t, v1.KindForward, map[string]any{})
	d.Dispatch(context.Background(), client, env)

	select {
	case got := <-client.Send:
		var view v1.ErrorView
		if err := json.Unmarshal(got.Message, &view); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
	default:
		t.Fatal("want an error frame for forward")
	}
}

func TestUnknownKindIsDroppedSilently(t *testing.T) {
	d, store, producer, _ := newTestDispatcher(t)
	conv := newConversationFixture(t, store, "b2222222222222222222222222222222", "u1", "u2")
	client := NewClient("u1", "sess", conv.Hex, 4)

	env := envelopeFor(t, "unknown-kind-xyz", map[string]any{})
	d.Dispatch(context.Background(), client, env)

	select {
	case got := <-client.Send:
		t.Fatalf("unknown kind should not produce any frame, got %+v", got)
	default:
	}
	if len(producer.jobs) != 0 {
		t.Fatalf("unknown kind should not enqueue anything")
	}
}
