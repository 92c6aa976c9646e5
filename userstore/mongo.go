package userstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	trueface "github.com/trueface/trueface"
)

type faceDoc struct {
	Vector     []float32 `bson:"vector"`
	EnrolledAt int64     `bson:"enrolled_at"`
}

type userDoc struct {
	ID             string    `bson:"_id"`
	Username       string    `bson:"username"`
	Role           string    `bson:"role"`
	Disabled       bool      `bson:"disabled"`
	DisabledReason string    `bson:"disabled_reason,omitempty"`
	DisabledAt     int64     `bson:"disabled_at,omitempty"`
	Faces          []faceDoc `bson:"faces"`
	CreatedAt      int64     `bson:"created_at"`
}

// Mongo is a MongoDB-backed [trueface.UserStore]. One document per user;
// embeddings live in an embedded array so a user and their faces load in
// a single read.
type Mongo struct {
	col *mongo.Collection
}

// NewMongo wraps the given collection. Call [Mongo.EnsureIndexes] once at
// startup before serving traffic.
func NewMongo(col *mongo.Collection) *Mongo {
	return &Mongo{col: col}
}

// EnsureIndexes creates the unique username index CreateUser relies on
// for duplicate detection.
func (s *Mongo) EnsureIndexes(ctx context.Context) error {
	_, err := s.col.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "username", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("%w: %v", trueface.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *Mongo) GetUser(ctx context.Context, userID string) (*trueface.UserRecord, error) {
	return s.findOne(ctx, bson.M{"_id": userID})
}

func (s *Mongo) GetUserByUsername(ctx context.Context, username string) (*trueface.UserRecord, error) {
	return s.findOne(ctx, bson.M{"username": username})
}

func (s *Mongo) findOne(ctx context.Context, filter bson.M) (*trueface.UserRecord, error) {
	var doc userDoc
	err := s.col.FindOne(ctx, filter).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, trueface.ErrUserNotFound
		}
		return nil, fmt.Errorf("%w: %v", trueface.ErrStoreUnavailable, err)
	}
	return docToRecord(&doc), nil
}

func (s *Mongo) CreateUser(ctx context.Context, input trueface.CreateUserInput) (*trueface.UserRecord, error) {
	doc := userDoc{
		ID:        uuid.NewString(),
		Username:  input.Username,
		Role:      input.Role,
		Faces:     []faceDoc{},
		CreatedAt: input.CreatedAt,
	}

	if _, err := s.col.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, trueface.ErrUserExists
		}
		return nil, fmt.Errorf("%w: %v", trueface.ErrStoreUnavailable, err)
	}
	return docToRecord(&doc), nil
}

func (s *Mongo) AddFace(ctx context.Context, userID string, face trueface.FaceRecord) error {
	res, err := s.col.UpdateOne(ctx,
		bson.M{"_id": userID},
		bson.M{"$push": bson.M{"faces": faceDoc{
			Vector:     face.Vector,
			EnrolledAt: face.EnrolledAt,
		}}},
	)
	if err != nil {
		return fmt.Errorf("%w: %v", trueface.ErrStoreUnavailable, err)
	}
	if res.MatchedCount == 0 {
		return trueface.ErrUserNotFound
	}
	return nil
}

func (s *Mongo) SetDisabled(ctx context.Context, userID string, disabled bool, reason string) error {
	set := bson.M{"disabled": disabled}
	if disabled {
		set["disabled_reason"] = reason
		set["disabled_at"] = time.Now().Unix()
	} else {
		set["disabled_reason"] = ""
		set["disabled_at"] = 0
	}
	res, err := s.col.UpdateOne(ctx,
		bson.M{"_id": userID},
		bson.M{"$set": set},
	)
	if err != nil {
		return fmt.Errorf("%w: %v", trueface.ErrStoreUnavailable, err)
	}
	if res.MatchedCount == 0 {
		return trueface.ErrUserNotFound
	}
	return nil
}

func (s *Mongo) ListUsers(ctx context.Context, fn func(*trueface.UserRecord) error) error {
	cursor, err := s.col.Find(ctx, bson.M{})
	if err != nil {
		return fmt.Errorf("%w: %v", trueface.ErrStoreUnavailable, err)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var doc userDoc
		if err := cursor.Decode(&doc); err != nil {
			return fmt.Errorf("%w: %v", trueface.ErrStoreUnavailable, err)
		}
		if err := fn(docToRecord(&doc)); err != nil {
			return err
		}
	}
	if err := cursor.Err(); err != nil {
		return fmt.Errorf("%w: %v", trueface.ErrStoreUnavailable, err)
	}
	return nil
}

func docToRecord(doc *userDoc) *trueface.UserRecord {
	faces := make([]trueface.FaceRecord, len(doc.Faces))
	for i, f := range doc.Faces {
		faces[i] = trueface.FaceRecord{Vector: f.Vector, EnrolledAt: f.EnrolledAt}
	}
	return &trueface.UserRecord{
		UserID:         doc.ID,
		Username:       doc.Username,
		Role:           doc.Role,
		Disabled:       doc.Disabled,
		DisabledReason: doc.DisabledReason,
		DisabledAt:     doc.DisabledAt,
		Faces:          faces,
		CreatedAt:      doc.CreatedAt,
	}
}
