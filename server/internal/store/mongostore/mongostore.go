// Package mongostore is the MongoDB backend of store.Store.
//
// Users, messages and polls each live in their own collection. Documents use
// the bson tags of the pkg/types entities with string UUIDs as _id, so ids
// look the same on every backend.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/collabhub/collabhub/pkg/types"
	"github.com/collabhub/collabhub/server/internal/store"
)

// Collection names.
const (
	usersCollection    = "users"
	messagesCollection = "messages"
	pollsCollection    = "polls"
)

// Config holds MongoDB connection settings.
type Config struct {
	URI            string
	Database       string
	ConnectTimeout time.Duration
	MaxPoolSize    uint64
	MinPoolSize    uint64
}

// DefaultConfig returns connection settings for a local server.
func DefaultConfig() Config {
	return Config{
		URI:            "mongodb://localhost:27017",
		Database:       "collabhub",
		ConnectTimeout: 10 * time.Second,
		MaxPoolSize:    100,
		MinPoolSize:    5,
	}
}

// Store implements store.Store on MongoDB.
type Store struct {
	client   *mongo.Client
	users    *mongo.Collection
	messages *mongo.Collection
	polls    *mongo.Collection
}

var _ store.Store = (*Store)(nil)

// Open connects to MongoDB, pings it and ensures the indexes exist.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	def := DefaultConfig()
	if cfg.URI == "" {
		cfg.URI = def.URI
	}
	if cfg.Database == "" {
		cfg.Database = def.Database
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.MaxPoolSize == 0 {
		cfg.MaxPoolSize = def.MaxPoolSize
	}

	opts := options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetMaxPoolSize(cfg.MaxPoolSize).
		SetMinPoolSize(cfg.MinPoolSize)

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, opts)
	if err != nil {
		return nil, fmt.Errorf("mongostore: connect: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongostore: ping: %w", err)
	}

	db := client.Database(cfg.Database)
	s := &Store{
		client:   client,
		users:    db.Collection(usersCollection),
		messages: db.Collection(messagesCollection),
		polls:    db.Collection(pollsCollection),
	}
	if err := s.createIndexes(connectCtx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	slog.Info("mongostore: connected", "database", cfg.Database)
	return s, nil
}

func (s *Store) createIndexes(ctx context.Context) error {
	userIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "is_active", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}}},
	}
	if _, err := s.users.Indexes().CreateMany(ctx, userIndexes); err != nil {
		return fmt.Errorf("mongostore: create user indexes: %w", err)
	}

	messageIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "is_deleted", Value: 1}, {Key: "type", Value: 1}}},
		{Keys: bson.D{{Key: "deleted_at", Value: 1}}},
	}
	if _, err := s.messages.Indexes().CreateMany(ctx, messageIndexes); err != nil {
		return fmt.Errorf("mongostore: create message indexes: %w", err)
	}

	pollIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
	}
	if _, err := s.polls.Indexes().CreateMany(ctx, pollIndexes); err != nil {
		return fmt.Errorf("mongostore: create poll indexes: %w", err)
	}
	return nil
}

// notFound converts mongo.ErrNoDocuments into types.ErrNotFound.
func notFound(err error, kind, id string) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("%s %q: %w", kind, id, types.ErrNotFound)
	}
	return fmt.Errorf("mongostore: find %s: %w", kind, err)
}

// --- users ------------------------------------------------------------------

func (s *Store) FindUser(ctx context.Context, id string) (*types.User, error) {
	var u types.User
	if err := s.users.FindOne(ctx, bson.M{"_id": id}).Decode(&u); err != nil {
		return nil, notFound(err, "user", id)
	}
	return &u, nil
}

func (s *Store) CreateUser(ctx context.Context, u *types.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	if _, err := s.users.InsertOne(ctx, u); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: user %q already exists", types.ErrValidation, u.ID)
		}
		return fmt.Errorf("mongostore: insert user: %w", err)
	}
	return nil
}

func (s *Store) UpdateUser(ctx context.Context, u *types.User) error {
	res, err := s.users.ReplaceOne(ctx, bson.M{"_id": u.ID}, u)
	if err != nil {
		return fmt.Errorf("mongostore: update user: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("user %q: %w", u.ID, types.ErrNotFound)
	}
	return nil
}

func (s *Store) ListActiveUsers(ctx context.Context) ([]*types.User, error) {
	opts := options.Find().SetSort(bson.D{{Key: "username", Value: 1}})
	cur, err := s.users.Find(ctx, bson.M{"is_active": true}, opts)
	if err != nil {
		return nil, fmt.Errorf("mongostore: list users: %w", err)
	}
	out := []*types.User{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("mongostore: decode users: %w", err)
	}
	return out, nil
}

func (s *Store) ResetPresence(ctx context.Context, at time.Time) (int, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"is_active": true},
		bson.M{"status": bson.M{"$ne": string(types.StatusOffline)}},
		bson.M{"current_connection_id": bson.M{"$exists": true}},
	}}
	update := bson.M{
		"$set": bson.M{
			"is_active":   false,
			"status":      string(types.StatusOffline),
			"last_active": at,
		},
		"$unset": bson.M{"current_connection_id": ""},
	}
	res, err := s.users.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, fmt.Errorf("mongostore: reset presence: %w", err)
	}
	return int(res.ModifiedCount), nil
}

func (s *Store) CountUsers(ctx context.Context) (store.UserCounts, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: bson.D{{Key: "status", Value: "$status"}, {Key: "active", Value: "$is_active"}}},
			{Key: "n", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	}
	cur, err := s.users.Aggregate(ctx, pipeline)
	if err != nil {
		return store.UserCounts{}, fmt.Errorf("mongostore: count users: %w", err)
	}
	var rows []struct {
		ID struct {
			Status types.UserStatus `bson:"status"`
			Active bool             `bson:"active"`
		} `bson:"_id"`
		N int `bson:"n"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return store.UserCounts{}, fmt.Errorf("mongostore: decode user counts: %w", err)
	}

	var c store.UserCounts
	for _, r := range rows {
		c.Total += r.N
		if r.ID.Active {
			c.Active += r.N
		}
		switch r.ID.Status {
		case types.StatusOnline:
			c.Online += r.N
		case types.StatusAway:
			c.Away += r.N
		default:
			c.Offline += r.N
		}
	}
	return c, nil
}

// --- messages ---------------------------------------------------------------

func (s *Store) CreateMessage(ctx context.Context, m *types.Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if _, err := s.messages.InsertOne(ctx, m); err != nil {
		return fmt.Errorf("mongostore: insert message: %w", err)
	}
	return nil
}

func (s *Store) GetMessage(ctx context.Context, id string) (*types.Message, error) {
	var m types.Message
	if err := s.messages.FindOne(ctx, bson.M{"_id": id}).Decode(&m); err != nil {
		return nil, notFound(err, "message", id)
	}
	return &m, nil
}

func (s *Store) UpdateMessage(ctx context.Context, m *types.Message) error {
	res, err := s.messages.ReplaceOne(ctx, bson.M{"_id": m.ID}, m)
	if err != nil {
		return fmt.Errorf("mongostore: update message: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("message %q: %w", m.ID, types.ErrNotFound)
	}
	return nil
}

func (s *Store) SoftDeleteMessage(ctx context.Context, id string, at time.Time) error {
	update := bson.M{"$set": bson.M{"is_deleted": true, "deleted_at": at}}
	res, err := s.messages.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("mongostore: soft delete message: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("message %q: %w", id, types.ErrNotFound)
	}
	return nil
}

func (s *Store) DeleteMessage(ctx context.Context, id string) error {
	res, err := s.messages.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("mongostore: delete message: %w", err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("message %q: %w", id, types.ErrNotFound)
	}
	return nil
}

func (s *Store) ListMessages(ctx context.Context, before time.Time, limit int) ([]*types.Message, error) {
	filter := bson.M{"is_deleted": false}
	if !before.IsZero() {
		filter["created_at"] = bson.M{"$lt": before}
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(store.ClampLimit(limit)))

	cur, err := s.messages.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("mongostore: list messages: %w", err)
	}
	out := []*types.Message{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("mongostore: decode messages: %w", err)
	}
	return out, nil
}

func (s *Store) CountByType(ctx context.Context) (map[types.MessageType]int, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "is_deleted", Value: false}}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$type"},
			{Key: "n", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	}
	cur, err := s.messages.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("mongostore: count messages by type: %w", err)
	}
	var rows []struct {
		Type types.MessageType `bson:"_id"`
		N    int               `bson:"n"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("mongostore: decode message counts: %w", err)
	}
	out := make(map[types.MessageType]int, len(rows))
	for _, r := range rows {
		out[r.Type] = r.N
	}
	return out, nil
}

func (s *Store) CountSince(ctx context.Context, since time.Time) (int, error) {
	n, err := s.messages.CountDocuments(ctx, bson.M{
		"is_deleted": false,
		"created_at": bson.M{"$gte": since},
	})
	if err != nil {
		return 0, fmt.Errorf("mongostore: count recent messages: %w", err)
	}
	return int(n), nil
}

func (s *Store) PurgeDeleted(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := s.messages.DeleteMany(ctx, bson.M{
		"is_deleted": true,
		"deleted_at": bson.M{"$lt": olderThan},
	})
	if err != nil {
		return 0, fmt.Errorf("mongostore: purge messages: %w", err)
	}
	return int(res.DeletedCount), nil
}

// --- polls ------------------------------------------------------------------

func (s *Store) CreatePoll(ctx context.Context, p *types.Poll) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if _, err := s.polls.InsertOne(ctx, p); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: poll %q already exists", types.ErrValidation, p.ID)
		}
		return fmt.Errorf("mongostore: insert poll: %w", err)
	}
	return nil
}

func (s *Store) GetPoll(ctx context.Context, id string) (*types.Poll, error) {
	var p types.Poll
	if err := s.polls.FindOne(ctx, bson.M{"_id": id}).Decode(&p); err != nil {
		return nil, notFound(err, "poll", id)
	}
	return &p, nil
}

func (s *Store) UpdatePoll(ctx context.Context, p *types.Poll) error {
	res, err := s.polls.ReplaceOne(ctx, bson.M{"_id": p.ID}, p)
	if err != nil {
		return fmt.Errorf("mongostore: update poll: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("poll %q: %w", p.ID, types.ErrNotFound)
	}
	return nil
}

func (s *Store) DeletePoll(ctx context.Context, id string) error {
	res, err := s.polls.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("mongostore: delete poll: %w", err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("poll %q: %w", id, types.ErrNotFound)
	}
	return nil
}

func (s *Store) ListPolls(ctx context.Context) ([]*types.Poll, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cur, err := s.polls.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("mongostore: list polls: %w", err)
	}
	out := []*types.Poll{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("mongostore: decode polls: %w", err)
	}
	return out, nil
}

// --- lifecycle --------------------------------------------------------------

// Ping checks the primary is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	if err := s.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("mongostore: disconnect: %w", err)
	}
	return nil
}
