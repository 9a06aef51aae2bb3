package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"roomrelay/internal/core/domain"
	"roomrelay/internal/core/ports"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type roomDocument struct {
	RoomID        string    `bson:"room_id"`
	AdminID       string    `bson:"admin_id"`
	Participants  []string  `bson:"participants"`
	Invites       []string  `bson:"invites"`
	PasswordHash  string    `bson:"password_hash"`
	IsActive      bool      `bson:"is_active"`
	IsChatEnabled bool      `bson:"is_chat_enabled"`
	CreatedAt     time.Time `bson:"created_at"`
	UpdatedAt     time.Time `bson:"updated_at"`
}

func toDocument(room *domain.Room) roomDocument {
	return roomDocument{
		RoomID:        string(room.ID),
		AdminID:       string(room.AdminID),
		Participants:  fromUserIDs(room.Participants),
		Invites:       fromUserIDs(room.Invites),
		PasswordHash:  room.PasswordHash,
		IsActive:      room.IsActive,
		IsChatEnabled: room.IsChatEnabled,
		CreatedAt:     room.CreatedAt.UTC(),
		UpdatedAt:     room.UpdatedAt.UTC(),
	}
}

func (d roomDocument) toDomain() *domain.Room {
	return &domain.Room{
		ID:            domain.RoomID(d.RoomID),
		AdminID:       domain.UserID(d.AdminID),
		Participants:  toUserIDs(d.Participants),
		Invites:       toUserIDs(d.Invites),
		PasswordHash:  d.PasswordHash,
		IsActive:      d.IsActive,
		IsChatEnabled: d.IsChatEnabled,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
}

func fromUserIDs(in []domain.UserID) []string {
	out := make([]string, 0, len(in))
	for _, u := range in {
		out = append(out, string(u))
	}
	return out
}

func toUserIDs(in []string) []domain.UserID {
	out := make([]domain.UserID, 0, len(in))
	for _, u := range in {
		out = append(out, domain.UserID(u))
	}
	return out
}

// MongoRoomRepository stores one document per room. Mutations are single
// FindOneAndUpdate calls returning the updated document.
type MongoRoomRepository struct {
	collection *mongo.Collection
	now        func() time.Time
}

func NewMongoRoomRepository(collection *mongo.Collection) ports.RoomRepository {
	return &MongoRoomRepository{
		collection: collection,
		now:        time.Now,
	}
}

func (r *MongoRoomRepository) Create(ctx context.Context, room *domain.Room) error {
	if _, err := r.collection.InsertOne(ctx, toDocument(room)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrRoomExists
		}
		return fmt.Errorf("failed to create room: %w", err)
	}
	return nil
}

func (r *MongoRoomRepository) GetByID(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	var doc roomDocument
	err := r.collection.FindOne(ctx, bson.M{"room_id": string(id)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get room %s: %w", id, err)
	}
	return doc.toDomain(), nil
}

func (r *MongoRoomRepository) AddParticipant(ctx context.Context, id domain.RoomID, user domain.UserID) (*domain.Room, error) {
	return r.update(ctx, id, bson.M{"$addToSet": bson.M{"participants": string(user)}})
}

func (r *MongoRoomRepository) RemoveParticipant(ctx context.Context, id domain.RoomID, user domain.UserID) (*domain.Room, error) {
	return r.update(ctx, id, bson.M{"$pull": bson.M{"participants": string(user)}})
}

func (r *MongoRoomRepository) SetActive(ctx context.Context, id domain.RoomID, active bool) (*domain.Room, error) {
	return r.update(ctx, id, bson.M{"$set": bson.M{"is_active": active}})
}

func (r *MongoRoomRepository) SetPassword(ctx context.Context, id domain.RoomID, hash string) (*domain.Room, error) {
	return r.update(ctx, id, bson.M{"$set": bson.M{"password_hash": hash}})
}

func (r *MongoRoomRepository) SetChatEnabled(ctx context.Context, id domain.RoomID, enabled bool) (*domain.Room, error) {
	return r.update(ctx, id, bson.M{"$set": bson.M{"is_chat_enabled": enabled}})
}

func (r *MongoRoomRepository) AddInvite(ctx context.Context, id domain.RoomID, user domain.UserID) (*domain.Room, error) {
	return r.update(ctx, id, bson.M{"$addToSet": bson.M{"invites": string(user)}})
}

// update stamps updated_at onto the change and returns the document as it
// stands afterwards.
func (r *MongoRoomRepository) update(ctx context.Context, id domain.RoomID, change bson.M) (*domain.Room, error) {
	set, _ := change["$set"].(bson.M)
	if set == nil {
		set = bson.M{}
		change["$set"] = set
	}
	set["updated_at"] = r.now().UTC()

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc roomDocument
	err := r.collection.FindOneAndUpdate(ctx, bson.M{"room_id": string(id)}, change, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update room %s: %w", id, err)
	}
	return doc.toDomain(), nil
}
