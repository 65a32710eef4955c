package repo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Mongo owns the three top-level collections and their indexes.
type Mongo struct {
	client *mongo.Client
	db     *mongo.Database

	users         *mongo.Collection
	conversations *mongo.Collection
	messages      *mongo.Collection
}

// NewMongo connects to uri, pings the deployment, and returns a handle
// bound to dbName. Callers should call EnsureIndexes once at startup.
func NewMongo(ctx context.Context, uri, dbName string) (*Mongo, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, OpError{Op: "repo.NewMongo", Kind: ErrBackend, Msg: err.Error()}
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, OpError{Op: "repo.NewMongo", Kind: ErrBackend, Msg: err.Error()}
	}

	db := client.Database(dbName)

	return &Mongo{
		client:        client,
		db:            db,
		users:         db.Collection("users"),
		conversations: db.Collection("conversations"),
		messages:      db.Collection("messages"),
	}, nil
}

// Ping checks connectivity to the deployment — used by the readiness probe.
func (m *Mongo) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := m.client.Ping(pingCtx, nil); err != nil {
		return OpError{Op: "repo.Mongo.Ping", Kind: ErrBackend, Msg: err.Error()}
	}
	return nil
}

// Close disconnects the underlying client.
func (m *Mongo) Close(ctx context.Context) error {
	if m == nil || m.client == nil {
		return nil
	}
	return m.client.Disconnect(ctx)
}

// EnsureIndexes creates the indexes the repository's invariants rely on.
// Safe to call on every startup: CreateMany is idempotent for identical
// index specs.
func (m *Mongo) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	if _, err := m.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "hex", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return OpError{Op: "repo.EnsureIndexes", Kind: ErrBackend, Msg: "users.hex: " + err.Error()}
	}

	if _, err := m.conversations.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "hex", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "participants.hex", Value: 1}},
		},
		{
			Keys:    bson.D{{Key: "pairKey", Value: 1}},
			Options: options.Index().SetUnique(true).SetSparse(true),
		},
	}); err != nil {
		return OpError{Op: "repo.EnsureIndexes", Kind: ErrBackend, Msg: "conversations: " + err.Error()}
	}

	if _, err := m.messages.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "conversation", Value: 1}, {Key: "createdAt", Value: -1}},
		},
		{
			Keys: bson.D{{Key: "parent", Value: 1}},
		},
	}); err != nil {
		return OpError{Op: "repo.EnsureIndexes", Kind: ErrBackend, Msg: "messages: " + err.Error()}
	}

	return nil
}

// Store builds a repo.Store backed by this Mongo handle.
func (m *Mongo) Store() Store {
	return Store{
		Users:         &mongoUsers{col: m.users},
		Conversations: &mongoConversations{col: m.conversations},
		Messages:      &mongoMessages{col: m.messages, conversations: m.conversations},
	}
}

func isDuplicateKeyErr(err error) bool {
	var we mongo.WriteException
	if ok := asWriteException(err, &we); ok {
		for _, e := range we.WriteErrors {
			if e.Code == 11000 {
				return true
			}
		}
	}
	if cmdErr, ok := asCommandError(err); ok {
		return cmdErr.Code == 11000
	}
	return false
}

func asWriteException(err error, target *mongo.WriteException) bool {
	we, ok := err.(mongo.WriteException)
	if ok {
		*target = we
		return true
	}
	return false
}

func asCommandError(err error) (mongo.CommandError, bool) {
	ce, ok := err.(mongo.CommandError)
	return ce, ok
}
