package repo

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type mongoConversations struct {
	col *mongo.Collection
}

func pairKeyFor(hexes []string) string {
	sorted := append([]string(nil), hexes...)
	sort.Strings(sorted)
	return strings.Join(sorted, ":")
}

func (c *mongoConversations) Create(ctx context.Context, in NewConversationInput) (Conversation, error) {
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
		Pins:         []Pin{},
		Deleted:      []Deleted{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if scope == ScopeUser {
		if len(in.Participants) != 2 {
			return Conversation{}, InvariantError{Op: "repo.Conversations.Create", Msg: "scope=user requires exactly two participants"}
		}
		conv.PairKey = pairKeyFor(conv.ParticipantHexes())
	}

	if _, err := c.col.InsertOne(ctx, conv); err != nil {
		if isDuplicateKeyErr(err) {
			return Conversation{}, ConflictError{Op: "repo.Conversations.Create", Field: "participants"}
		}
		return Conversation{}, OpError{Op: "repo.Conversations.Create", Kind: ErrBackend, Msg: err.Error()}
	}
	return conv, nil
}

func (c *mongoConversations) FindByHex(ctx context.Context, hex string) (Conversation, error) {
	var out Conversation
	err := c.col.FindOne(ctx, bson.M{"hex": hex}).Decode(&out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Conversation{}, NotFoundError{Op: "repo.Conversations.FindByHex", Resource: "conversation"}
	}
	if err != nil {
		return Conversation{}, OpError{Op: "repo.Conversations.FindByHex", Kind: ErrBackend, Msg: err.Error()}
	}
	return out, nil
}

func (c *mongoConversations) FindByParticipantPair(ctx context.Context, a, b string) (Conversation, error) {
	var out Conversation
	err := c.col.FindOne(ctx, bson.M{"pairKey": pairKeyFor([]string{a, b})}).Decode(&out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Conversation{}, NotFoundError{Op: "repo.Conversations.FindByParticipantPair", Resource: "conversation"}
	}
	if err != nil {
		return Conversation{}, OpError{Op: "repo.Conversations.FindByParticipantPair", Kind: ErrBackend, Msg: err.Error()}
	}
	return out, nil
}

func (c *mongoConversations) Exists(ctx context.Context, participantHexes []string) (bool, error) {
	n, err := c.col.CountDocuments(ctx, bson.M{"pairKey": pairKeyFor(participantHexes)})
	if err != nil {
		return false, OpError{Op: "repo.Conversations.Exists", Kind: ErrBackend, Msg: err.Error()}
	}
	return n > 0, nil
}

func filterQuery(participantHex string, filter ConversationFilter) bson.M {
	q := bson.M{"participants.hex": participantHex}
	switch filter {
	case FilterRequested:
		q["trust"] = TrustRequest
	case FilterTrusted:
		q["trust"] = TrustTrusted
	case FilterTrustedUnread:
		q["trust"] = TrustTrusted
		q["unread."+participantHex] = bson.M{"$gt": 0}
	case FilterPinned:
		q["pins.user"] = participantHex
	case FilterAll:
		// no extra predicate
	}
	return q
}

func (c *mongoConversations) List(ctx context.Context, participantHex string, filter ConversationFilter, page, pageSize int) ([]Conversation, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 10
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "updatedAt", Value: -1}}).
		SetSkip(int64((page - 1) * pageSize)).
		SetLimit(int64(pageSize))

	cur, err := c.col.Find(ctx, filterQuery(participantHex, filter), opts)
	if err != nil {
		return nil, OpError{Op: "repo.Conversations.List", Kind: ErrBackend, Msg: err.Error()}
	}
	defer cur.Close(ctx)

	var out []Conversation
	if err := cur.All(ctx, &out); err != nil {
		return nil, OpError{Op: "repo.Conversations.List", Kind: ErrBackend, Msg: err.Error()}
	}
	return out, nil
}

func (c *mongoConversations) Pin(ctx context.Context, convHex, userHex string, maxPins int) (Conversation, error) {
	if maxPins <= 0 {
		maxPins = 5
	}

	conv, err := c.FindByHex(ctx, convHex)
	if err != nil {
		return Conversation{}, err
	}

	for _, p := range conv.Pins {
		if p.User == userHex {
			return Conversation{}, ConflictError{Op: "repo.Conversations.Pin", Field: "pins"}
		}
	}
	count, err := c.col.CountDocuments(ctx, bson.M{"pins.user": userHex})
	if err != nil {
		return Conversation{}, OpError{Op: "repo.Conversations.Pin", Kind: ErrBackend, Msg: err.Error()}
	}
	if count >= int64(maxPins) {
		return Conversation{}, InvariantError{
			Op:  "repo.Conversations.Pin",
			Msg: "Cannot pin more than " + strconv.Itoa(maxPins) + " conversations",
		}
	}

	update := bson.M{
		"$push": bson.M{"pins": Pin{User: userHex, PinnedAt: time.Now().UTC()}},
		"$set":  bson.M{"updatedAt": time.Now().UTC()},
	}

	var out Conversation
	err = c.col.FindOneAndUpdate(ctx, bson.M{"hex": convHex}, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Conversation{}, NotFoundError{Op: "repo.Conversations.Pin", Resource: "conversation"}
	}
	if err != nil {
		return Conversation{}, OpError{Op: "repo.Conversations.Pin", Kind: ErrBackend, Msg: err.Error()}
	}
	return out, nil
}

func (c *mongoConversations) Unpin(ctx context.Context, convHex, userHex string) (Conversation, error) {
	update := bson.M{
		"$pull": bson.M{"pins": bson.M{"user": userHex}},
		"$set":  bson.M{"updatedAt": time.Now().UTC()},
	}

	var out Conversation
	err := c.col.FindOneAndUpdate(ctx, bson.M{"hex": convHex}, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Conversation{}, NotFoundError{Op: "repo.Conversations.Unpin", Resource: "conversation"}
	}
	if err != nil {
		return Conversation{}, OpError{Op: "repo.Conversations.Unpin", Kind: ErrBackend, Msg: err.Error()}
	}
	return out, nil
}

func (c *mongoConversations) Accept(ctx context.Context, convHex, userHex string) (Conversation, error) {
	conv, err := c.FindByHex(ctx, convHex)
	if err != nil {
		return Conversation{}, err
	}
	if !conv.HasParticipant(userHex) {
		return Conversation{}, ForbiddenError{Op: "repo.Conversations.Accept", Msg: "not a participant"}
	}
	if conv.Trust != TrustRequest {
		return Conversation{}, InvariantError{Op: "repo.Conversations.Accept", Msg: "conversation is not in request state"}
	}

	update := bson.M{"$set": bson.M{"trust": TrustTrusted, "updatedAt": time.Now().UTC()}}
	var out Conversation
	err = c.col.FindOneAndUpdate(ctx, bson.M{"hex": convHex, "trust": TrustRequest}, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Conversation{}, InvariantError{Op: "repo.Conversations.Accept", Msg: "conversation is not in request state"}
	}
	if err != nil {
		return Conversation{}, OpError{Op: "repo.Conversations.Accept", Kind: ErrBackend, Msg: err.Error()}
	}
	return out, nil
}

func (c *mongoConversations) Counts(ctx context.Context, userHex string) (ConversationCounts, error) {
	cur, err := c.col.Find(ctx, bson.M{"participants.hex": userHex})
	if err != nil {
		return ConversationCounts{}, OpError{Op: "repo.Conversations.Counts", Kind: ErrBackend, Msg: err.Error()}
	}
	defer cur.Close(ctx)

	var out ConversationCounts
	for cur.Next(ctx) {
		var conv Conversation
		if err := cur.Decode(&conv); err != nil {
			return ConversationCounts{}, OpError{Op: "repo.Conversations.Counts", Kind: ErrBackend, Msg: err.Error()}
		}
		out.Total++
		out.Unread += conv.Unread[userHex]
		if conv.Trust == TrustRequest && conv.From != userHex {
			out.Requested++
		}
	}
	if err := cur.Err(); err != nil {
		return ConversationCounts{}, OpError{Op: "repo.Conversations.Counts", Kind: ErrBackend, Msg: err.Error()}
	}
	return out, nil
}

func (c *mongoConversations) IncrementUnread(ctx context.Context, convHex, authorHex string, last Message, now time.Time) error {
	conv, err := c.FindByHex(ctx, convHex)
	if err != nil {
		return err
	}

	inc := bson.M{"total": 1}
	for _, p := range conv.Participants {
		if p.Hex == authorHex {
			continue
		}
		inc["unread."+p.Hex] = 1
	}

	update := bson.M{
		"$set": bson.M{"last": last, "updatedAt": now},
		"$inc": inc,
	}

	res, err := c.col.UpdateOne(ctx, bson.M{"hex": convHex}, update)
	if err != nil {
		return OpError{Op: "repo.Conversations.IncrementUnread", Kind: ErrBackend, Msg: err.Error()}
	}
	if res.MatchedCount == 0 {
		return NotFoundError{Op: "repo.Conversations.IncrementUnread", Resource: "conversation"}
	}
	return nil
}

func (c *mongoConversations) ResetUnread(ctx context.Context, convHex, userHex string) error {
	update := bson.M{"$set": bson.M{"unread." + userHex: int64(0), "updatedAt": time.Now().UTC()}}
	res, err := c.col.UpdateOne(ctx, bson.M{"hex": convHex}, update)
	if err != nil {
		return OpError{Op: "repo.Conversations.ResetUnread", Kind: ErrBackend, Msg: err.Error()}
	}
	if res.MatchedCount == 0 {
		return NotFoundError{Op: "repo.Conversations.ResetUnread", Resource: "conversation"}
	}
	return nil
}

func (c *mongoConversations) RecomputeLast(ctx context.Context, convHex string) error {
	opts := options.FindOne().SetSort(bson.D{{Key: "createdAt", Value: -1}})

	col := c.col.Database().Collection("messages")
	var newest Message
	err := col.FindOne(ctx, bson.M{"conversation": convHex}, opts).Decode(&newest)

	total, countErr := col.CountDocuments(ctx, bson.M{"conversation": convHex})
	if countErr != nil {
		return OpError{Op: "repo.Conversations.RecomputeLast", Kind: ErrBackend, Msg: countErr.Error()}
	}

	set := bson.M{"total": total, "updatedAt": time.Now().UTC()}
	if errors.Is(err, mongo.ErrNoDocuments) {
		set["last"] = nil
	} else if err != nil {
		return OpError{Op: "repo.Conversations.RecomputeLast", Kind: ErrBackend, Msg: err.Error()}
	} else {
		set["last"] = newest
	}

	if _, err := c.col.UpdateOne(ctx, bson.M{"hex": convHex}, bson.M{"$set": set}); err != nil {
		return OpError{Op: "repo.Conversations.RecomputeLast", Kind: ErrBackend, Msg: err.Error()}
	}
	return nil
}
