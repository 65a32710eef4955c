package repo

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"
)

// Memory is a dev/test fallback Store implementation: no network calls,
// no persistence across process restarts. It implements the exact same
// invariants as the Mongo-backed store (pair uniqueness, pin cap, status
// monotonicity) so unit tests can run against it without a database.
type Memory struct {
	mu            sync.Mutex
	users         map[string]User
	conversations map[string]Conversation
	messages      map[string]Message
}

// NewMemory constructs an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		users:         make(map[string]User),
		conversations: make(map[string]Conversation),
		messages:      make(map[string]Message),
	}
}

// Store returns the repo.Store views backed by this instance.
func (m *Memory) Store() Store {
	return Store{
		Users:         &memoryUsers{m: m},
		Conversations: &memoryConversations{m: m},
		Messages:      &memoryMessages{m: m},
	}
}

// Close is a no-op: the in-memory store holds no external resources.
func (m *Memory) Close(_ context.Context) error { return nil }

type memoryUsers struct{ m *Memory }

func (u *memoryUsers) Create(_ context.Context, in User) (User, error) {
	u.m.mu.Lock()
	defer u.m.mu.Unlock()

	if _, ok := u.m.users[in.Hex]; ok {
		return User{}, ConflictError{Op: "repo.Users.Create", Field: "hex"}
	}
	now := time.Now().UTC()
	in.CreatedAt = now
	in.UpdatedAt = now
	if in.Status == "" {
		in.Status = UserActive
	}
	u.m.users[in.Hex] = in
	return in, nil
}

func (u *memoryUsers) FindByHex(_ context.Context, hex string) (User, error) {
	u.m.mu.Lock()
	defer u.m.mu.Unlock()

	v, ok := u.m.users[hex]
	if !ok {
		return User{}, NotFoundError{Op: "repo.Users.FindByHex", Resource: "user"}
	}
	return v, nil
}

func (u *memoryUsers) UpdatePublicKeys(_ context.Context, hex, publicKey, encryptedPrivateKey, nonce, salt string) (User, error) {
	u.m.mu.Lock()
	defer u.m.mu.Unlock()

	v, ok := u.m.users[hex]
	if !ok {
		return User{}, NotFoundError{Op: "repo.Users.UpdatePublicKeys", Resource: "user"}
	}
	v.PublicKey, v.EncryptedPrivateKey, v.PrivateKeyNonce, v.PasscodeSalt = publicKey, encryptedPrivateKey, nonce, salt
	v.UpdatedAt = time.Now().UTC()
	u.m.users[hex] = v
	return v, nil
}

func (u *memoryUsers) UpdateField(_ context.Context, hex, field, value string) (User, error) {
	u.m.mu.Lock()
	defer u.m.mu.Unlock()

	v, ok := u.m.users[hex]
	if !ok {
		return User{}, NotFoundError{Op: "repo.Users.UpdateField", Resource: "user"}
	}
	switch field {
	case "name":
		v.Name = value
	case "avatar":
		v.Avatar = value
	case "status":
		v.Status = value
	case "verified":
		v.Verified = value == "true"
	default:
		return User{}, InvariantError{Op: "repo.Users.UpdateField", Msg: "unsupported field: " + field}
	}
	v.UpdatedAt = time.Now().UTC()
	u.m.users[hex] = v
	return v, nil
}

func (u *memoryUsers) Delete(_ context.Context, hex string) error {
	u.m.mu.Lock()
	defer u.m.mu.Unlock()

	if _, ok := u.m.users[hex]; !ok {
		return NotFoundError{Op: "repo.Users.Delete", Resource: "user"}
	}
	delete(u.m.users, hex)
	return nil
}

type memoryConversations struct{ m *Memory }

func (c *memoryConversations) Create(_ context.Context, in NewConversationInput) (Conversation, error) {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()

	scope := in.Scope
	if scope == "" {
		scope = ScopeUser
	}
	now := time.Now().UTC()
	conv := Conversation{
		Hex:          in.Hex,
		Participants: in.Participants,
		Trust:        TrustRequest,
		Scope:        scope,
		From:         in.From,
		Unread:       make(map[string]int64, len(in.Participants)),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if scope == ScopeUser {
		if len(in.Participants) != 2 {
			return Conversation{}, InvariantError{Op: "repo.Conversations.Create", Msg: "scope=user requires exactly two participants"}
		}
		conv.PairKey = pairKeyFor(conv.ParticipantHexes())
		for _, existing := range c.m.conversations {
			if existing.PairKey == conv.PairKey {
				return Conversation{}, ConflictError{Op: "repo.Conversations.Create", Field: "participants"}
			}
		}
	}
	c.m.conversations[conv.Hex] = conv
	return conv, nil
}

func (c *memoryConversations) FindByHex(_ context.Context, hex string) (Conversation, error) {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()

	v, ok := c.m.conversations[hex]
	if !ok {
		return Conversation{}, NotFoundError{Op: "repo.Conversations.FindByHex", Resource: "conversation"}
	}
	return v, nil
}

func (c *memoryConversations) FindByParticipantPair(_ context.Context, a, b string) (Conversation, error) {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()

	key := pairKeyFor([]string{a, b})
	for _, v := range c.m.conversations {
		if v.PairKey == key {
			return v, nil
		}
	}
	return Conversation{}, NotFoundError{Op: "repo.Conversations.FindByParticipantPair", Resource: "conversation"}
}

func (c *memoryConversations) Exists(_ context.Context, participantHexes []string) (bool, error) {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()

	key := pairKeyFor(participantHexes)
	for _, v := range c.m.conversations {
		if v.PairKey == key {
			return true, nil
		}
	}
	return false, nil
}

func (c *memoryConversations) List(_ context.Context, participantHex string, filter ConversationFilter, page, pageSize int) ([]Conversation, error) {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 10
	}

	var matched []Conversation
	for _, v := range c.m.conversations {
		if !v.HasParticipant(participantHex) {
			continue
		}
		switch filter {
		case FilterRequested:
			if v.Trust != TrustRequest {
				continue
			}
		case FilterTrusted:
			if v.Trust != TrustTrusted {
				continue
			}
		case FilterTrustedUnread:
			if v.Trust != TrustTrusted || v.Unread[participantHex] <= 0 {
				continue
			}
		case FilterPinned:
			pinned := false
			for _, p := range v.Pins {
				if p.User == participantHex {
					pinned = true
					break
				}
			}
			if !pinned {
				continue
			}
		}
		matched = append(matched, v)
	}

	sort.Slice(matched, func(i, j int) bool { return matched[i].UpdatedAt.After(matched[j].UpdatedAt) })

	start := (page - 1) * pageSize
	if start >= len(matched) {
		return nil, nil
	}
	end := start + pageSize
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], nil
}

func (c *memoryConversations) Pin(_ context.Context, convHex, userHex string, maxPins int) (Conversation, error) {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()

	if maxPins <= 0 {
		maxPins = 5
	}
	v, ok := c.m.conversations[convHex]
	if !ok {
		return Conversation{}, NotFoundError{Op: "repo.Conversations.Pin", Resource: "conversation"}
	}
	for _, p := range v.Pins {
		if p.User == userHex {
			return Conversation{}, ConflictError{Op: "repo.Conversations.Pin", Field: "pins"}
		}
	}
	count := 0
	for _, other := range c.m.conversations {
		for _, p := range other.Pins {
			if p.User == userHex {
				count++
			}
		}
	}
	if count >= maxPins {
		return Conversation{}, InvariantError{Op: "repo.Conversations.Pin", Msg: "Cannot pin more than " + strconv.Itoa(maxPins) + " conversations"}
	}
	v.Pins = append(v.Pins, Pin{User: userHex, PinnedAt: time.Now().UTC()})
	v.UpdatedAt = time.Now().UTC()
	c.m.conversations[convHex] = v
	return v, nil
}

func (c *memoryConversations) Unpin(_ context.Context, convHex, userHex string) (Conversation, error) {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()

	v, ok := c.m.conversations[convHex]
	if !ok {
		return Conversation{}, NotFoundError{Op: "repo.Conversations.Unpin", Resource: "conversation"}
	}
	out := v.Pins[:0]
	for _, p := range v.Pins {
		if p.User != userHex {
			out = append(out, p)
		}
	}
	v.Pins = out
	v.UpdatedAt = time.Now().UTC()
	c.m.conversations[convHex] = v
	return v, nil
}

func (c *memoryConversations) Accept(_ context.Context, convHex, userHex string) (Conversation, error) {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()

	v, ok := c.m.conversations[convHex]
	if !ok {
		return Conversation{}, NotFoundError{Op: "repo.Conversations.Accept", Resource: "conversation"}
	}
	if !v.HasParticipant(userHex) {
		return Conversation{}, ForbiddenError{Op: "repo.Conversations.Accept", Msg: "not a participant"}
	}
	if v.Trust != TrustRequest {
		return Conversation{}, InvariantError{Op: "repo.Conversations.Accept", Msg: "conversation is not in request state"}
	}
	v.Trust = TrustTrusted
	v.UpdatedAt = time.Now().UTC()
	c.m.conversations[convHex] = v
	return v, nil
}

func (c *memoryConversations) Counts(_ context.Context, userHex string) (ConversationCounts, error) {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()

	var out ConversationCounts
	for _, v := range c.m.conversations {
		if !v.HasParticipant(userHex) {
			continue
		}
		out.Total++
		out.Unread += v.Unread[userHex]
		if v.Trust == TrustRequest && v.From != userHex {
			out.Requested++
		}
	}
	return out, nil
}

func (c *memoryConversations) IncrementUnread(_ context.Context, convHex, authorHex string, last Message, now time.Time) error {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()

	v, ok := c.m.conversations[convHex]
	if !ok {
		return NotFoundError{Op: "repo.Conversations.IncrementUnread", Resource: "conversation"}
	}
	if v.Unread == nil {
		v.Unread = make(map[string]int64)
	}
	for _, p := range v.Participants {
		if p.Hex == authorHex {
			continue
		}
		v.Unread[p.Hex]++
	}
	lastCopy := last
	v.Last = &lastCopy
	v.Total++
	v.UpdatedAt = now
	c.m.conversations[convHex] = v
	return nil
}

func (c *memoryConversations) ResetUnread(_ context.Context, convHex, userHex string) error {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()

	v, ok := c.m.conversations[convHex]
	if !ok {
		return NotFoundError{Op: "repo.Conversations.ResetUnread", Resource: "conversation"}
	}
	if v.Unread == nil {
		v.Unread = make(map[string]int64)
	}
	v.Unread[userHex] = 0
	v.UpdatedAt = time.Now().UTC()
	c.m.conversations[convHex] = v
	return nil
}

func (c *memoryConversations) RecomputeLast(_ context.Context, convHex string) error {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	return c.m.recomputeLastLocked(convHex)
}

// recomputeLastLocked assumes c.m.mu is already held.
func (m *Memory) recomputeLastLocked(convHex string) error {
	v, ok := m.conversations[convHex]
	if !ok {
		return NotFoundError{Op: "repo.Conversations.RecomputeLast", Resource: "conversation"}
	}

	var newest *Message
	var total int64
	for _, msg := range m.messages {
		if msg.Conversation != convHex {
			continue
		}
		total++
		mm := msg
		if newest == nil || mm.CreatedAt.After(newest.CreatedAt) {
			newest = &mm
		}
	}
	v.Last = newest
	v.Total = total
	v.UpdatedAt = time.Now().UTC()
	m.conversations[convHex] = v
	return nil
}

type memoryMessages struct{ m *Memory }

func (m *memoryMessages) Insert(_ context.Context, in Message) (Message, error) {
	m.m.mu.Lock()
	defer m.m.mu.Unlock()

	if _, ok := m.m.messages[in.ID]; ok {
		return Message{}, ConflictError{Op: "repo.Messages.Insert", Field: "_id"}
	}
	now := time.Now().UTC()
	in.CreatedAt = now
	in.UpdatedAt = now
	if in.Status == "" {
		in.Status = StatusSent
	}
	m.m.messages[in.ID] = in
	return in, nil
}

func (m *memoryMessages) FindByID(_ context.Context, id string) (Message, error) {
	m.m.mu.Lock()
	defer m.m.mu.Unlock()

	v, ok := m.m.messages[id]
	if !ok {
		return Message{}, NotFoundError{Op: "repo.Messages.FindByID", Resource: "message"}
	}
	return v, nil
}

func (m *memoryMessages) UpdateStatus(_ context.Context, id, status string) (Message, error) {
	m.m.mu.Lock()
	defer m.m.mu.Unlock()

	v, ok := m.m.messages[id]
	if !ok {
		return Message{}, NotFoundError{Op: "repo.Messages.UpdateStatus", Resource: "message"}
	}
	rank := StatusRank(status)
	if rank < 0 {
		return Message{}, InvariantError{Op: "repo.Messages.UpdateStatus", Msg: "unknown status: " + status}
	}
	if rank <= StatusRank(v.Status) {
		return Message{}, InvariantError{Op: "repo.Messages.UpdateStatus", Msg: "status cannot move backward"}
	}
	v.Status = status
	v.UpdatedAt = time.Now().UTC()
	m.m.messages[id] = v
	return v, nil
}

func (m *memoryMessages) UpdateReactions(_ context.Context, id, slot string, value *string) (Message, error) {
	m.m.mu.Lock()
	defer m.m.mu.Unlock()

	v, ok := m.m.messages[id]
	if !ok {
		return Message{}, NotFoundError{Op: "repo.Messages.UpdateReactions", Resource: "message"}
	}
	switch slot {
	case "from":
		v.Reactions.From = value
	case "to":
		v.Reactions.To = value
	default:
		return Message{}, InvariantError{Op: "repo.Messages.UpdateReactions", Msg: "unknown reaction slot: " + slot}
	}
	v.UpdatedAt = time.Now().UTC()
	m.m.messages[id] = v
	return v, nil
}

func (m *memoryMessages) UpdateContents(_ context.Context, id string, sender, recipient Content) (Message, error) {
	m.m.mu.Lock()
	defer m.m.mu.Unlock()

	v, ok := m.m.messages[id]
	if !ok {
		return Message{}, NotFoundError{Op: "repo.Messages.UpdateContents", Resource: "message"}
	}
	v.SenderContent = sender
	v.RecipientContent = recipient
	v.UpdatedAt = time.Now().UTC()
	m.m.messages[id] = v
	return v, nil
}

func (m *memoryMessages) Delete(_ context.Context, id, actor string) error {
	m.m.mu.Lock()
	defer m.m.mu.Unlock()

	v, ok := m.m.messages[id]
	if !ok {
		return NotFoundError{Op: "repo.Messages.Delete", Resource: "message"}
	}
	if v.User != actor {
		return ForbiddenError{Op: "repo.Messages.Delete", Msg: "unauthorized to delete message"}
	}
	delete(m.m.messages, id)
	if err := m.m.recomputeLastLocked(v.Conversation); err != nil && !IsNotFound(err) {
		return err
	}
	return nil
}

func (m *memoryMessages) Page(_ context.Context, conversationHex string, page, pageSize int) ([]Message, error) {
	m.m.mu.Lock()
	defer m.m.mu.Unlock()

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}

	var matched []Message
	for _, v := range m.m.messages {
		if v.Conversation == conversationHex {
			matched = append(matched, v)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })

	start := (page - 1) * pageSize
	if start >= len(matched) {
		return nil, nil
	}
	end := start + pageSize
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], nil
}
