package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/AnshRaj112/identity-backend/internal/models"
)

const RolesCollection = "roles"

type MongoRoles struct {
	coll *mongo.Collection
	now  func() time.Time
}

func NewMongoRoles(db *mongo.Database) *MongoRoles {
	return &MongoRoles{coll: db.Collection(RolesCollection), now: time.Now}
}

func (r *MongoRoles) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "name", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("uniq_role_name"),
	})
	if err != nil {
		return fmt.Errorf("create role indexes: %w", err)
	}
	return nil
}

// EnsureDefaults upserts the fixed role set. Existing roles are left untouched.
func (r *MongoRoles) EnsureDefaults(ctx context.Context) error {
	now := r.now().UTC()
	for _, role := range models.DefaultRoles {
		_, err := r.coll.UpdateOne(ctx,
			bson.M{"name": role.Name},
			bson.M{"$setOnInsert": bson.M{
				"name":        role.Name,
				"description": role.Description,
				"created_at":  now,
				"updated_at":  now,
			}},
			options.Update().SetUpsert(true),
		)
		if err != nil {
			return fmt.Errorf("seed role %s: %w", role.Name, err)
		}
	}
	return nil
}

func (r *MongoRoles) FindByName(ctx context.Context, name models.RoleName) (*models.Role, error) {
	return r.findOne(ctx, bson.M{"name": name})
}

func (r *MongoRoles) FindByID(ctx context.Context, id primitive.ObjectID) (*models.Role, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *MongoRoles) findOne(ctx context.Context, filter bson.M) (*models.Role, error) {
	var role models.Role
	if err := r.coll.FindOne(ctx, filter).Decode(&role); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find role: %w", err)
	}
	return &role, nil
}
