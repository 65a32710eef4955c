package repo

import (
	"context"
	"time"
)

// Users is the typed CRUD surface over the users collection.
type Users interface {
	Create(ctx context.Context, u User) (User, error)
	FindByHex(ctx context.Context, hex string) (User, error)
	UpdatePublicKeys(ctx context.Context, hex, publicKey, encryptedPrivateKey, nonce, salt string) (User, error)
	UpdateField(ctx context.Context, hex, field, value string) (User, error)
	Delete(ctx context.Context, hex string) error
}

// NewConversationInput is the payload for Conversations.Create.
type NewConversationInput struct {
	Hex          string
	Participants []Participant
	Scope        string
	From         string
}

// Conversations is the typed CRUD + listing surface over conversations.
type Conversations interface {
	Create(ctx context.Context, in NewConversationInput) (Conversation, error)
	FindByHex(ctx context.Context, hex string) (Conversation, error)
	FindByParticipantPair(ctx context.Context, a, b string) (Conversation, error)
	Exists(ctx context.Context, participantHexes []string) (bool, error)
	List(ctx context.Context, participantHex string, filter ConversationFilter, page, pageSize int) ([]Conversation, error)
	Pin(ctx context.Context, convHex, userHex string, maxPins int) (Conversation, error)
	Unpin(ctx context.Context, convHex, userHex string) (Conversation, error)
	Accept(ctx context.Context, convHex, userHex string) (Conversation, error)
	Counts(ctx context.Context, userHex string) (ConversationCounts, error)

	// IncrementUnread bumps unread for every participant except author and
	// sets last/total/updatedAt — called by the dispatcher after a new
	// message or reply is persisted.
	IncrementUnread(ctx context.Context, convHex, authorHex string, last Message, now time.Time) error

	// ResetUnread zeroes unread for a single participant — called when
	// that participant advances a message to "read".
	ResetUnread(ctx context.Context, convHex, userHex string) error

	// RecomputeLast recomputes conversation.last and total after a delete.
	RecomputeLast(ctx context.Context, convHex string) error
}

// Messages is the typed CRUD surface over messages.
type Messages interface {
	Insert(ctx context.Context, m Message) (Message, error)
	FindByID(ctx context.Context, id string) (Message, error)
	UpdateStatus(ctx context.Context, id, status string) (Message, error)
	UpdateReactions(ctx context.Context, id, slot string, value *string) (Message, error)
	UpdateContents(ctx context.Context, id string, sender, recipient Content) (Message, error)
	Delete(ctx context.Context, id, actor string) error
	Page(ctx context.Context, conversationHex string, page, pageSize int) ([]Message, error)
}

// Store aggregates the three repositories behind a single handle.
type Store struct {
	Users         Users
	Conversations Conversations
	Messages      Messages
}

// Close releases any underlying connection resources. Implementations
// that hold no resources (the in-memory store) treat this as a no-op.
type Closer interface {
	Close(ctx context.Context) error
}
