package repo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type mongoMessages struct {
	col           *mongo.Collection
	conversations *mongo.Collection
}

func (m *mongoMessages) Insert(ctx context.Context, in Message) (Message, error) {
	now := time.Now().UTC()
	in.CreatedAt = now
	in.UpdatedAt = now
	if in.Status == "" {
		in.Status = StatusSent
	}

	if _, err := m.col.InsertOne(ctx, in); err != nil {
		if isDuplicateKeyErr(err) {
			return Message{}, ConflictError{Op: "repo.Messages.Insert", Field: "_id"}
		}
		return Message{}, OpError{Op: "repo.Messages.Insert", Kind: ErrBackend, Msg: err.Error()}
	}
	return in, nil
}

func (m *mongoMessages) FindByID(ctx context.Context, id string) (Message, error) {
	var out Message
	err := m.col.FindOne(ctx, bson.M{"_id": id}).Decode(&out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Message{}, NotFoundError{Op: "repo.Messages.FindByID", Resource: "message"}
	}
	if err != nil {
		return Message{}, OpError{Op: "repo.Messages.FindByID", Kind: ErrBackend, Msg: err.Error()}
	}
	return out, nil
}

func (m *mongoMessages) UpdateStatus(ctx context.Context, id, status string) (Message, error) {
	rank := StatusRank(status)
	if rank < 0 {
		return Message{}, InvariantError{Op: "repo.Messages.UpdateStatus", Msg: "unknown status: " + status}
	}

	existing, err := m.FindByID(ctx, id)
	if err != nil {
		return Message{}, err
	}
	if rank <= StatusRank(existing.Status) {
		return Message{}, InvariantError{Op: "repo.Messages.UpdateStatus", Msg: "status cannot move backward"}
	}

	// Monotonic-max write: only advance if the stored rank is still lower
	// than the requested one, guarding the same race a second writer could
	// introduce between FindByID and this update.
	update := bson.M{"$set": bson.M{"status": status, "updatedAt": time.Now().UTC()}}
	filter := bson.M{"_id": id, "status": bson.M{"$in": statusesBelow(rank)}}

	var out Message
	err = m.col.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Message{}, InvariantError{Op: "repo.Messages.UpdateStatus", Msg: "status cannot move backward"}
	}
	if err != nil {
		return Message{}, OpError{Op: "repo.Messages.UpdateStatus", Kind: ErrBackend, Msg: err.Error()}
	}
	return out, nil
}

func statusesBelow(rank int) []string {
	out := make([]string, 0, 3)
	for s, r := range statusRank {
		if r < rank {
			out = append(out, s)
		}
	}
	return out
}

func (m *mongoMessages) UpdateReactions(ctx context.Context, id, slot string, value *string) (Message, error) {
	if slot != "from" && slot != "to" {
		return Message{}, InvariantError{Op: "repo.Messages.UpdateReactions", Msg: "unknown reaction slot: " + slot}
	}

	var update bson.M
	if value == nil {
		update = bson.M{"$unset": bson.M{"reactions." + slot: ""}, "$set": bson.M{"updatedAt": time.Now().UTC()}}
	} else {
		update = bson.M{"$set": bson.M{"reactions." + slot: *value, "updatedAt": time.Now().UTC()}}
	}

	var out Message
	err := m.col.FindOneAndUpdate(ctx, bson.M{"_id": id}, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Message{}, NotFoundError{Op: "repo.Messages.UpdateReactions", Resource: "message"}
	}
	if err != nil {
		return Message{}, OpError{Op: "repo.Messages.UpdateReactions", Kind: ErrBackend, Msg: err.Error()}
	}
	return out, nil
}

func (m *mongoMessages) UpdateContents(ctx context.Context, id string, sender, recipient Content) (Message, error) {
	update := bson.M{"$set": bson.M{
		"senderContent":    sender,
		"recipientContent": recipient,
		"updatedAt":        time.Now().UTC(),
	}}

	var out Message
	err := m.col.FindOneAndUpdate(ctx, bson.M{"_id": id}, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Message{}, NotFoundError{Op: "repo.Messages.UpdateContents", Resource: "message"}
	}
	if err != nil {
		return Message{}, OpError{Op: "repo.Messages.UpdateContents", Kind: ErrBackend, Msg: err.Error()}
	}
	return out, nil
}

func (m *mongoMessages) Delete(ctx context.Context, id, actor string) error {
	msg, err := m.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if msg.User != actor {
		return ForbiddenError{Op: "repo.Messages.Delete", Msg: "unauthorized to delete message"}
	}

	if _, err := m.col.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return OpError{Op: "repo.Messages.Delete", Kind: ErrBackend, Msg: err.Error()}
	}

	conv, err := m.recomputeConversationAfterDelete(ctx, msg.Conversation, id)
	if err != nil {
		return err
	}
	_ = conv
	return nil
}

// recomputeConversationAfterDelete recomputes last + total for the
// conversation a message was just removed from. It is only invoked when
// the deletion itself succeeded, so it reports backend failures only.
func (m *mongoMessages) recomputeConversationAfterDelete(ctx context.Context, convHex, deletedID string) (Conversation, error) {
	var conv Conversation
	if err := m.conversations.FindOne(ctx, bson.M{"hex": convHex}).Decode(&conv); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Conversation{}, nil
		}
		return Conversation{}, OpError{Op: "repo.Messages.Delete", Kind: ErrBackend, Msg: err.Error()}
	}

	if conv.Last == nil || conv.Last.ID != deletedID {
		// Not the conversation's last message: only total needs to shrink.
		if _, err := m.conversations.UpdateOne(ctx, bson.M{"hex": convHex},
			bson.M{"$inc": bson.M{"total": -1}, "$set": bson.M{"updatedAt": time.Now().UTC()}}); err != nil {
			return Conversation{}, OpError{Op: "repo.Messages.Delete", Kind: ErrBackend, Msg: err.Error()}
		}
		return conv, nil
	}

	opts := options.FindOne().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	var newest Message
	err := m.col.FindOne(ctx, bson.M{"conversation": convHex}, opts).Decode(&newest)

	set := bson.M{"updatedAt": time.Now().UTC()}
	if errors.Is(err, mongo.ErrNoDocuments) {
		set["last"] = nil
	} else if err != nil {
		return Conversation{}, OpError{Op: "repo.Messages.Delete", Kind: ErrBackend, Msg: err.Error()}
	} else {
		set["last"] = newest
	}

	if _, err := m.conversations.UpdateOne(ctx, bson.M{"hex": convHex},
		bson.M{"$set": set, "$inc": bson.M{"total": -1}}); err != nil {
		return Conversation{}, OpError{Op: "repo.Messages.Delete", Kind: ErrBackend, Msg: err.Error()}
	}
	return conv, nil
}

func (m *mongoMessages) Page(ctx context.Context, conversationHex string, page, pageSize int) ([]Message, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetSkip(int64((page - 1) * pageSize)).
		SetLimit(int64(pageSize))

	cur, err := m.col.Find(ctx, bson.M{"conversation": conversationHex}, opts)
	if err != nil {
		return nil, OpError{Op: "repo.Messages.Page", Kind: ErrBackend, Msg: err.Error()}
	}
	defer cur.Close(ctx)

	var out []Message
	if err := cur.All(ctx, &out); err != nil {
		return nil, OpError{Op: "repo.Messages.Page", Kind: ErrBackend, Msg: err.Error()}
	}
	return out, nil
}
