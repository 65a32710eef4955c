// Package v1 defines the wire protocol between a chat client and the
// realtime gateway.
//
// It is intentionally stable and dependency-light: server and future
// clients share this package to keep the protocol authoritative in one
// place rather than duplicated in docs.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = 1

// Frame kinds (wire-stable). KnownKind reports membership in this set;
// Envelope.Validate does not check it.
const (
	KindNew      = "new"
	KindReply    = "reply"
	KindStatus   = "status"
	KindReaction = "reaction"
	KindUpdate   = "update"
	KindRemove   = "remove"
	KindForward  = "forward"
	KindSystem   = "system"
	KindError    = "error"
)

var knownKinds = map[string]struct{}{
	KindNew:      {},
	KindReply:    {},
	KindStatus:   {},
	KindReaction: {},
	KindUpdate:   {},
	KindRemove:   {},
	KindForward:  {},
	KindSystem:   {},
	KindError:    {},
}

// Envelope is the canonical wire wrapper for every frame exchanged on
// a /chat/{hex} or /events socket: {"kind": ..., "message": ...}.
type Envelope struct {
	Kind    string          `json:"kind"`
	Message json.RawMessage `json:"message"`
}

// Validate performs the structural checks that are possible before the
// kind-specific payload is unmarshalled. Unknown kinds are not an error
// here: the dispatcher logs and drops them; Validate only rejects
// frames too malformed to route at all.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.Kind) == "" {
		return errors.New("missing field: kind")
	}
	if e.Message == nil {
		return errors.New("missing field: message")
	}
	return nil
}

// KnownKind reports whether kind is one of the dispatcher's recognized
// frame kinds.
func KnownKind(kind string) bool {
	_, ok := knownKinds[kind]
	return ok
}

// ---- shared value types ----

// Content is the opaque encrypted envelope the server stores but never
// inspects beyond presence and shape.
type Content struct {
	Encrypted string `json:"encrypted" validate:"required"`
	Nonce     string `json:"nonce" validate:"required"`
}

// Reactions holds the at-most-two-slot reaction object: "from" is the
// message author's own reaction, "to" is the counterpart's.
type Reactions struct {
	From *string `json:"from,omitempty"`
	To   *string `json:"to,omitempty"`
}

// Attachment describes a non-inline file reference.
type Attachment struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
	Type string `json:"type"`
	Link string `json:"link"`
}

// ---- inbound frame payloads (client -> server) ----

// NewMessagePayload is the body of a {"kind":"new"} frame.
type NewMessagePayload struct {
	Conversation     string       `json:"conversation" validate:"required,len=32"`
	Kind             string       `json:"kind" validate:"required,oneof=message reply forward"`
	Type             string       `json:"type" validate:"required,oneof=all audio"`
	User             string       `json:"user" validate:"required"`
	RecipientContent Content      `json:"recipientContent" validate:"required"`
	SenderContent    Content      `json:"senderContent" validate:"required"`
	Status           string       `json:"status" validate:"required,oneof=sent delivered read"`
	Attachments      []Attachment `json:"attachments,omitempty" validate:"omitempty,max=16,dive"`
	Images           []string     `json:"images,omitempty" validate:"omitempty,max=16"`
	Videos           []string     `json:"videos,omitempty" validate:"omitempty,max=16"`
	Audio            string       `json:"audio,omitempty"`
	Reactions        *Reactions   `json:"reactions,omitempty"`
}

// ReplyPayload is the body of a {"kind":"reply"} frame: identical to
// NewMessagePayload plus a required parent reference.
type ReplyPayload struct {
	NewMessagePayload
	Parent string `json:"parent" validate:"required"`
}

// StatusPayload is the body of a {"kind":"status"} frame.
type StatusPayload struct {
	ID     string `json:"id" validate:"required"`
	Status string `json:"status" validate:"required,oneof=delivered read"`
	User   string `json:"user" validate:"required"`
}

// ReactionPayload is the body of a {"kind":"reaction"} frame.
type ReactionPayload struct {
	ID       string  `json:"id" validate:"required"`
	User     string  `json:"user" validate:"required"`
	Reaction *string `json:"reaction" validate:"omitempty,oneof=like love laugh wow sad angry"`
}

// ContentEditPayload is the body of a {"kind":"update"} frame.
type ContentEditPayload struct {
	ID               string  `json:"id" validate:"required"`
	SenderContent    Content `json:"senderContent" validate:"required"`
	RecipientContent Content `json:"recipientContent" validate:"required"`
}

// RemovePayload is the body of a {"kind":"remove"} frame.
type RemovePayload struct {
	ID   string `json:"id" validate:"required"`
	User string `json:"user" validate:"required"`
}

// ---- outbound frame payloads (server -> client) ----

// MessageView is the JSON shape of a persisted message as broadcast to
// subscribers and returned from the history endpoint.
type MessageView struct {
	ID               string       `json:"_id"`
	Conversation     string       `json:"conversation"`
	Kind             string       `json:"kind"`
	Type             string       `json:"type"`
	Parent           *string      `json:"parent,omitempty"`
	User             string       `json:"user"`
	RecipientContent Content      `json:"recipientContent"`
	SenderContent    Content      `json:"senderContent"`
	Status           string       `json:"status"`
	Attachments      []Attachment `json:"attachments,omitempty"`
	Images           []string     `json:"images,omitempty"`
	Videos           []string     `json:"videos,omitempty"`
	Audio            string       `json:"audio,omitempty"`
	Reactions        Reactions    `json:"reactions"`
	Reply            *ReplyView   `json:"reply,omitempty"`
	CreatedAt        time.Time    `json:"createdAt"`
	UpdatedAt        time.Time    `json:"updatedAt"`
}

// ReplyView is the parent-preview projection attached to a reply
// message: each side sees the parent's content addressed to them.
type ReplyView struct {
	RecipientContent Content `json:"recipientContent"`
	SenderContent    Content `json:"senderContent"`
}

// StatusView is the minimal broadcast body for a status transition.
type StatusView struct {
	ID           string `json:"_id"`
	Conversation string `json:"conversation"`
	Status       string `json:"status"`
}

// ReactionView is the minimal broadcast body for a reaction change.
type ReactionView struct {
	ID           string    `json:"_id"`
	Conversation string    `json:"conversation"`
	Reactions    Reactions `json:"reactions"`
}

// RemoveView is the minimal broadcast body for a deletion.
type RemoveView struct {
	ID           string `json:"_id"`
	Conversation string `json:"conversation"`
}

// SystemView is a synthetic server message (e.g. "A user joined").
type SystemView struct {
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

// ErrorView is the single-recipient error frame body.
type ErrorView struct {
	Kind  string `json:"kind,omitempty"`
	ID    string `json:"id,omitempty"`
	Error string `json:"error"`
}

// NewEnvelope marshals kind+message into a wire Envelope.
func NewEnvelope(kind string, message any) (Envelope, error) {
	raw, err := json.Marshal(message)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	return Envelope{Kind: kind, Message: raw}, nil
}
