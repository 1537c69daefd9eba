// Package store encapsulates MongoDB client management and the Mongo-backed
// registry.
package store

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"tg_guard_bot/internal/config"
)

// Collection names used across the bot.
const (
	CollectionUsers        = "users"
	CollectionChats        = "chats"
	CollectionBannedWords  = "banned_words"
	CollectionChatSettings = "chat_settings"
	CollectionWhitelist    = "whitelist"
)

// mongoClient captures the subset of mongo.Client behavior we rely on to allow
// lightweight stubbing in tests without a live Mongo deployment.
type mongoClient interface {
	Ping(context.Context, *readpref.ReadPref) error
	Database(string, ...*options.DatabaseOptions) *mongo.Database
	Disconnect(context.Context) error
}

// connectMongo is overridable for tests.
var connectMongo = func(ctx context.Context, opts *options.ClientOptions) (mongoClient, error) {
	return mongo.Connect(ctx, opts)
}

// createIndexes is overridable for tests.
var createIndexes = func(ctx context.Context, coll *mongo.Collection, models []mongo.IndexModel) ([]string, error) {
	return coll.Indexes().CreateMany(ctx, models)
}

// Manager owns a MongoDB client and the configured database handle.
type Manager struct {
	client mongoClient
	db     *mongo.Database
}

// NewManager initializes the Mongo client using the supplied configuration and
// verifies connectivity with a ping.
func NewManager(ctx context.Context, cfg config.Config) (*Manager, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}

	client, err := connectMongo(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	return &Manager{
		client: client,
		db:     client.Database(cfg.MongoDB),
	}, nil
}

// Database returns the configured database handle.
func (m *Manager) Database() *mongo.Database {
	return m.db
}

// Collection returns a collection handle for the given name.
func (m *Manager) Collection(name string) *mongo.Collection {
	return m.db.Collection(name)
}

// Users returns the users collection handle.
func (m *Manager) Users() *mongo.Collection {
	return m.Collection(CollectionUsers)
}

// Chats returns the chats collection handle.
func (m *Manager) Chats() *mongo.Collection {
	return m.Collection(CollectionChats)
}

// ReadSnapshot runs fn with a context bound to a snapshot session, so every
// read fn issues observes the same majority-committed point in time.
// Standalone servers reject snapshot reads; the error is returned unchanged.
func (m *Manager) ReadSnapshot(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if m == nil || m.db == nil {
		return errors.New("store manager is not initialized")
	}

	sess, err := m.db.Client().StartSession(options.Session().SetSnapshot(true))
	if err != nil {
		return fmt.Errorf("start snapshot session: %w", err)
	}
	defer sess.EndSession(ctx)

	return fn(mongo.NewSessionContext(ctx, sess))
}

// Ping checks connectivity against the primary.
func (m *Manager) Ping(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if m == nil || m.client == nil {
		return errors.New("store manager is not initialized")
	}

	if err := m.client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("ping mongo: %w", err)
	}
	return nil
}

type indexSpec struct {
	collection string
	keys       bson.D
	name       string
}

var baseIndexes = []indexSpec{
	{collection: CollectionUsers, keys: bson.D{{Key: "user_id", Value: 1}}, name: "user_id_unique"},
	{collection: CollectionChats, keys: bson.D{{Key: "chat_id", Value: 1}}, name: "chat_id_unique"},
	{
		collection: CollectionBannedWords,
		keys:       bson.D{{Key: "scope", Value: 1}, {Key: "chat_id", Value: 1}, {Key: "word", Value: 1}},
		name:       "scope_chat_word_unique",
	},
	{collection: CollectionChatSettings, keys: bson.D{{Key: "chat_id", Value: 1}}, name: "chat_id_unique"},
	{
		collection: CollectionWhitelist,
		keys:       bson.D{{Key: "chat_id", Value: 1}, {Key: "user_id", Value: 1}},
		name:       "chat_user_unique",
	},
}

// EnsureBaseIndexes creates the unique indexes every registry collection relies
// on. Collections are created implicitly if they do not already exist.
func (m *Manager) EnsureBaseIndexes(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if m == nil || m.db == nil {
		return errors.New("store manager is not initialized")
	}

	for _, spec := range baseIndexes {
		models := []mongo.IndexModel{
			{
				Keys: spec.keys,
				Options: options.Index().
					SetName(spec.name).
					SetUnique(true),
			},
		}

		if _, err := createIndexes(ctx, m.Collection(spec.collection), models); err != nil {
			return fmt.Errorf("create %s indexes: %w", spec.collection, err)
		}
	}

	return nil
}

// Close disconnects the Mongo client.
func (m *Manager) Close(ctx context.Context) error {
	if m == nil || m.client == nil {
		return nil
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	return m.client.Disconnect(ctx)
}
