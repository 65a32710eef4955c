package repo

import "time"

// User statuses.
const (
	UserActive    = "active"
	UserInactive  = "inactive"
	UserSuspended = "suspended"
)

// Conversation trust states (resolution of Open Question 1: trust and
// scope are orthogonal fields rather than a single overloaded "kind").
const (
	TrustRequest = "request"
	TrustTrusted = "trusted"
)

// Conversation scopes. Only ScopeUser is exercised by the core; ScopeGroup
// exists so the invariant "exactly two participants for scope=user" has a
// place to be checked — group membership negotiation is out of scope.
const (
	ScopeUser  = "user"
	ScopeGroup = "group"
)

// Participant roles and statuses.
const (
	RoleAdmin     = "admin"
	RoleModerator = "moderator"
	RoleMember    = "member"

	ParticipantActive    = "active"
	ParticipantInactive  = "inactive"
	ParticipantSuspended = "suspended"
	ParticipantBlocked   = "blocked"
)

// Message kinds, types, and statuses.
const (
	MessageKindMessage = "message"
	MessageKindReply   = "reply"
	MessageKindForward = "forward"

	MessageTypeAll   = "all"
	MessageTypeAudio = "audio"

	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
)

var statusRank = map[string]int{
	StatusSent:      0,
	StatusDelivered: 1,
	StatusRead:      2,
}

// StatusRank returns the monotonic rank of a status value, or -1 if unknown.
func StatusRank(status string) int {
	r, ok := statusRank[status]
	if !ok {
		return -1
	}
	return r
}

// Reaction enum.
const (
	ReactionLike  = "like"
	ReactionLove  = "love"
	ReactionLaugh = "laugh"
	ReactionWow   = "wow"
	ReactionSad   = "sad"
	ReactionAngry = "angry"
)

// User is the identity + key envelope record.
type User struct {
	Hex      string `bson:"hex" json:"hex"`
	Name     string `bson:"name" json:"name"`
	Avatar   string `bson:"avatar" json:"avatar"`
	Verified bool   `bson:"verified" json:"verified"`
	Status   string `bson:"status" json:"status"`

	PublicKey           string `bson:"publicKey" json:"publicKey"`
	EncryptedPrivateKey string `bson:"encryptedPrivateKey" json:"encryptedPrivateKey"`
	PrivateKeyNonce     string `bson:"privateKeyNonce" json:"privateKeyNonce"`
	PasscodeSalt        string `bson:"passcodeSalt" json:"passcodeSalt"`

	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updatedAt"`
}

// Participant is one member of a conversation.
type Participant struct {
	Hex      string    `bson:"hex" json:"hex"`
	Role     string    `bson:"role" json:"role"`
	Status   string    `bson:"status" json:"status"`
	Online   bool      `bson:"online" json:"online"`
	JoinedAt time.Time `bson:"joinedAt" json:"joinedAt"`
}

// Pin is a per-user marker on a conversation.
type Pin struct {
	User    string    `bson:"user" json:"user"`
	PinnedAt time.Time `bson:"pinnedAt" json:"pinnedAt"`
}

// Deleted is a per-user tombstone on a conversation.
type Deleted struct {
	User      string    `bson:"user" json:"user"`
	DeletedAt time.Time `bson:"deletedAt" json:"deletedAt"`
}

// Conversation is a 1-to-1 (or, reserved, group) conversation record.
type Conversation struct {
	Hex          string        `bson:"hex" json:"hex"`
	Participants []Participant `bson:"participants" json:"participants"`
	Trust        string        `bson:"trust" json:"trust"`
	Scope        string        `bson:"scope" json:"scope"`
	From         string        `bson:"from" json:"from"`

	// PairKey is the sorted-and-joined participant hex pair, maintained
	// only for scope=user conversations. A unique sparse index on this
	// field is what enforces "at most one conversation per unordered
	// participant pair" at the storage layer.
	PairKey string `bson:"pairKey,omitempty" json:"-"`

	Last  *Message `bson:"last,omitempty" json:"last,omitempty"`
	Total int64    `bson:"total" json:"total"`

	// Unread is per-participant: map of user hex -> unread count.
	Unread map[string]int64 `bson:"unread" json:"unread"`

	Pins    []Pin     `bson:"pins" json:"pins"`
	Deleted []Deleted `bson:"deleted" json:"deleted"`

	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updatedAt"`
}

// ParticipantHexes returns the conversation's participant hex ids.
func (c Conversation) ParticipantHexes() []string {
	out := make([]string, 0, len(c.Participants))
	for _, p := range c.Participants {
		out = append(out, p.Hex)
	}
	return out
}

// HasParticipant reports whether hex is a participant of c.
func (c Conversation) HasParticipant(hex string) bool {
	for _, p := range c.Participants {
		if p.Hex == hex {
			return true
		}
	}
	return false
}

// Content is the opaque encrypted envelope the server stores but never
// inspects beyond presence and shape.
type Content struct {
	Encrypted string `bson:"encrypted" json:"encrypted"`
	Nonce     string `bson:"nonce" json:"nonce"`
}

// Reactions is the at-most-two-slot reaction object.
type Reactions struct {
	From *string `bson:"from,omitempty" json:"from,omitempty"`
	To   *string `bson:"to,omitempty" json:"to,omitempty"`
}

// Attachment describes a non-inline file reference.
type Attachment struct {
	Name string `bson:"name" json:"name"`
	Size int64  `bson:"size" json:"size"`
	Type string `bson:"type" json:"type"`
	Link string `bson:"link" json:"link"`
}

// ReplyProjection is the parent-preview attached to a reply message: each
// side gets the correctly addressed view of the parent's content.
type ReplyProjection struct {
	RecipientContent Content `bson:"recipientContent" json:"recipientContent"`
	SenderContent    Content `bson:"senderContent" json:"senderContent"`
}

// Message is a single persisted message.
type Message struct {
	ID           string  `bson:"_id" json:"_id"`
	Conversation string  `bson:"conversation" json:"conversation"`
	Kind         string  `bson:"kind" json:"kind"`
	Type         string  `bson:"type" json:"type"`
	Parent       *string `bson:"parent,omitempty" json:"parent,omitempty"`
	User         string  `bson:"user" json:"user"`

	RecipientContent Content `bson:"recipientContent" json:"recipientContent"`
	SenderContent    Content `bson:"senderContent" json:"senderContent"`
	Status           string  `bson:"status" json:"status"`

	Attachments []Attachment `bson:"attachments,omitempty" json:"attachments,omitempty"`
	Images      []string     `bson:"images,omitempty" json:"images,omitempty"`
	Videos      []string     `bson:"videos,omitempty" json:"videos,omitempty"`
	Audio       string       `bson:"audio,omitempty" json:"audio,omitempty"`

	Reactions Reactions        `bson:"reactions" json:"reactions"`
	Reply     *ReplyProjection `bson:"reply,omitempty" json:"reply,omitempty"`

	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updatedAt"`
}

// ConversationFilter selects a listing view for a participant.
type ConversationFilter string

const (
	FilterAll             ConversationFilter = "all"
	FilterRequested       ConversationFilter = "requested"
	FilterTrusted         ConversationFilter = "trusted"
	FilterTrustedUnread   ConversationFilter = "unread"
	FilterPinned          ConversationFilter = "pins"
)

// ConversationCounts is the summary returned by Conversations.Counts.
type ConversationCounts struct {
	Total     int64 `json:"total"`
	Unread    int64 `json:"unread"`
	Requested int64 `json:"requested"`
}
