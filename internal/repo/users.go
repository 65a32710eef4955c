package repo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type mongoUsers struct {
	col *mongo.Collection
}

var allowedUserFields = map[string]struct{}{
	"name":         {},
	"avatar":       {},
	"status":       {},
	"verified":     {},
}

func (u *mongoUsers) Create(ctx context.Context, in User) (User, error) {
	now := time.Now().UTC()
	in.CreatedAt = now
	in.UpdatedAt = now
	if in.Status == "" {
		in.Status = UserActive
	}

	if _, err := u.col.InsertOne(ctx, in); err != nil {
		if isDuplicateKeyErr(err) {
			return User{}, ConflictError{Op: "repo.Users.Create", Field: "hex"}
		}
		return User{}, OpError{Op: "repo.Users.Create", Kind: ErrBackend, Msg: err.Error()}
	}
	return in, nil
}

func (u *mongoUsers) FindByHex(ctx context.Context, hex string) (User, error) {
	var out User
	err := u.col.FindOne(ctx, bson.M{"hex": hex}).Decode(&out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return User{}, NotFoundError{Op: "repo.Users.FindByHex", Resource: "user"}
	}
	if err != nil {
		return User{}, OpError{Op: "repo.Users.FindByHex", Kind: ErrBackend, Msg: err.Error()}
	}
	return out, nil
}

func (u *mongoUsers) UpdatePublicKeys(ctx context.Context, hex, publicKey, encryptedPrivateKey, nonce, salt string) (User, error) {
	update := bson.M{"$set": bson.M{
		"publicKey":           publicKey,
		"encryptedPrivateKey": encryptedPrivateKey,
		"privateKeyNonce":     nonce,
		"passcodeSalt":        salt,
		"updatedAt":           time.Now().UTC(),
	}}

	var out User
	err := u.col.FindOneAndUpdate(ctx, bson.M{"hex": hex}, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return User{}, NotFoundError{Op: "repo.Users.UpdatePublicKeys", Resource: "user"}
	}
	if err != nil {
		return User{}, OpError{Op: "repo.Users.UpdatePublicKeys", Kind: ErrBackend, Msg: err.Error()}
	}
	return out, nil
}

func (u *mongoUsers) UpdateField(ctx context.Context, hex, field, value string) (User, error) {
	if _, ok := allowedUserFields[field]; !ok {
		return User{}, InvariantError{Op: "repo.Users.UpdateField", Msg: "unsupported field: " + field}
	}

	set := bson.M{"updatedAt": time.Now().UTC()}
	if field == "verified" {
		set[field] = value == "true"
	} else {
		set[field] = value
	}

	var out User
	err := u.col.FindOneAndUpdate(ctx, bson.M{"hex": hex}, bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return User{}, NotFoundError{Op: "repo.Users.UpdateField", Resource: "user"}
	}
	if err != nil {
		return User{}, OpError{Op: "repo.Users.UpdateField", Kind: ErrBackend, Msg: err.Error()}
	}
	return out, nil
}

func (u *mongoUsers) Delete(ctx context.Context, hex string) error {
	res, err := u.col.DeleteOne(ctx, bson.M{"hex": hex})
	if err != nil {
		return OpError{Op: "repo.Users.Delete", Kind: ErrBackend, Msg: err.Error()}
	}
	if res.DeletedCount == 0 {
		return NotFoundError{Op: "repo.Users.Delete", Resource: "user"}
	}
	return nil
}
