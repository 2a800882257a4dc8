package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/AnshRaj112/identity-backend/internal/models"
)

const (
	UsersCollection = "users"

	IndexUniqueEmail    = "uniq_email"
	IndexUniqueUsername = "uniq_username"
)

// MongoUsers stores identity records in the users collection.
type MongoUsers struct {
	coll *mongo.Collection
	now  func() time.Time
}

func NewMongoUsers(db *mongo.Database) *MongoUsers {
	return &MongoUsers{coll: db.Collection(UsersCollection), now: time.Now}
}

// EnsureIndexes creates the unique indexes that make the collection the final
// arbiter of username and email uniqueness.
func (r *MongoUsers) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true).SetName(IndexUniqueEmail),
		},
		{
			Keys:    bson.D{{Key: "username", Value: 1}},
			Options: options.Index().SetUnique(true).SetName(IndexUniqueUsername),
		},
	})
	if err != nil {
		return fmt.Errorf("create user indexes: %w", err)
	}
	return nil
}

func (r *MongoUsers) Create(ctx context.Context, user *models.User) error {
	now := r.now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	res, err := r.coll.InsertOne(ctx, user)
	if err != nil {
		return translateWriteErr(err)
	}
	if id, ok := res.InsertedID.(primitive.ObjectID); ok {
		user.ID = id
	}
	return nil
}

func (r *MongoUsers) FindByID(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *MongoUsers) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.findOne(ctx, bson.M{"email": email})
}

// FindByEmailOrUsername returns any record other than exclude whose email or
// username matches. Empty arguments are not matched.
func (r *MongoUsers) FindByEmailOrUsername(ctx context.Context, email, username string, exclude primitive.ObjectID) (*models.User, error) {
	var or bson.A
	if email != "" {
		or = append(or, bson.M{"email": email})
	}
	if username != "" {
		or = append(or, bson.M{"username": username})
	}
	if len(or) == 0 {
		return nil, ErrNotFound
	}

	filter := bson.M{"$or": or}
	if !exclude.IsZero() {
		filter["_id"] = bson.M{"$ne": exclude}
	}
	return r.findOne(ctx, filter)
}

func (r *MongoUsers) SetResetOTP(ctx context.Context, id primitive.ObjectID, otp models.ResetOTP) error {
	return r.updateByID(ctx, id, bson.M{
		"$set": bson.M{"reset_otp": otp, "updated_at": r.now().UTC()},
	})
}

// ClearResetOTP drops the pending code only while it is still code, so a
// newer code written by a concurrent request survives.
func (r *MongoUsers) ClearResetOTP(ctx context.Context, id primitive.ObjectID, code string) error {
	return r.updateOne(ctx, bson.M{"_id": id, "reset_otp.code": code}, bson.M{
		"$unset": bson.M{"reset_otp": ""},
		"$set":   bson.M{"updated_at": r.now().UTC()},
	})
}

// ConsumeResetOTP matches email, code and an unexpired code, and clears the
// code in the same operation so it can be redeemed at most once.
func (r *MongoUsers) ConsumeResetOTP(ctx context.Context, email, code string, now time.Time) (*models.User, error) {
	filter := bson.M{
		"email":                email,
		"reset_otp.code":       code,
		"reset_otp.expires_at": bson.M{"$gt": now},
	}
	update := bson.M{
		"$unset": bson.M{"reset_otp": ""},
		"$set":   bson.M{"updated_at": r.now().UTC()},
	}
	return r.findOneAndUpdate(ctx, filter, update)
}

// UpdatePassword swaps the hash only if it is still oldHash. ErrNotFound
// means the record is gone or another write got there first.
func (r *MongoUsers) UpdatePassword(ctx context.Context, id primitive.ObjectID, oldHash, newHash string) error {
	return r.updateOne(ctx, bson.M{"_id": id, "password": oldHash}, bson.M{
		"$set": bson.M{"password": newHash, "updated_at": r.now().UTC()},
	})
}

// UpdateProfile applies upd. Changing the email also drops a pending reset code.
func (r *MongoUsers) UpdateProfile(ctx context.Context, id primitive.ObjectID, upd ProfileUpdate) (*models.User, error) {
	set := bson.M{"updated_at": r.now().UTC()}
	update := bson.M{"$set": set}
	if upd.Username != nil {
		set["username"] = *upd.Username
	}
	if upd.Email != nil {
		set["email"] = *upd.Email
		update["$unset"] = bson.M{"reset_otp": ""}
	}
	return r.findOneAndUpdate(ctx, bson.M{"_id": id}, update)
}

func (r *MongoUsers) SetProfilePicture(ctx context.Context, id primitive.ObjectID, ref string) (*models.User, error) {
	return r.findOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{
		"$set": bson.M{"profile_picture": ref, "updated_at": r.now().UTC()},
	})
}

func (r *MongoUsers) SetRole(ctx context.Context, id, roleID primitive.ObjectID) error {
	return r.updateByID(ctx, id, bson.M{
		"$set": bson.M{"role": roleID, "updated_at": r.now().UTC()},
	})
}

func (r *MongoUsers) findOne(ctx context.Context, filter bson.M) (*models.User, error) {
	var user models.User
	if err := r.coll.FindOne(ctx, filter).Decode(&user); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return &user, nil
}

func (r *MongoUsers) findOneAndUpdate(ctx context.Context, filter, update bson.M) (*models.User, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var user models.User
	if err := r.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&user); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, translateWriteErr(err)
	}
	return &user, nil
}

func (r *MongoUsers) updateByID(ctx context.Context, id primitive.ObjectID, update bson.M) error {
	return r.updateOne(ctx, bson.M{"_id": id}, update)
}

func (r *MongoUsers) updateOne(ctx context.Context, filter, update bson.M) error {
	res, err := r.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return translateWriteErr(err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// translateWriteErr maps unique-index violations to *DuplicateKeyError.
func translateWriteErr(err error) error {
	if err == nil {
		return nil
	}
	if !mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("write user: %w", err)
	}

	msg := err.Error()
	var field string
	switch {
	case strings.Contains(msg, IndexUniqueEmail), strings.Contains(msg, "email_1"):
		field = "email"
	case strings.Contains(msg, IndexUniqueUsername), strings.Contains(msg, "username_1"):
		field = "username"
	}
	return &DuplicateKeyError{Field: field, Err: err}
}
