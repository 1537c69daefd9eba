package store

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"tg_guard_bot/internal/domain"
)

// collection is the subset of *mongo.Collection the registry uses.
type collection interface {
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	UpdateMany(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error)
	DeleteOne(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error)
	DeleteMany(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error)
	CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error)
}

type pinger interface {
	Ping(ctx context.Context) error
}

// snapshotRunner runs fn with a context whose reads share one point in time.
type snapshotRunner func(ctx context.Context, fn func(ctx context.Context) error) error

// Registry implements domain.Registry on MongoDB. Each method is a single
// atomic document operation or a read. ModerationSnapshot reads inside a
// snapshot session; on deployments that refuse snapshot reads (standalone
// servers) it falls back to sequential reads, which may observe a concurrent
// write between them.
type Registry struct {
	chats     collection
	users     collection
	words     collection
	settings  collection
	whitelist collection
	stats     *StatsProvider
	pinger    pinger
	limits    domain.MuteLimits
	now       func() time.Time

	readSnapshot    snapshotRunner
	snapshotRefused atomic.Bool
}

var _ domain.Registry = (*Registry)(nil)

// NewRegistry builds a Registry over the manager's collections.
func NewRegistry(m *Manager, limits domain.MuteLimits) *Registry {
	r := newRegistry(
		m.Chats(),
		m.Users(),
		m.Collection(CollectionBannedWords),
		m.Collection(CollectionChatSettings),
		m.Collection(CollectionWhitelist),
		m,
		limits,
	)
	r.readSnapshot = m.ReadSnapshot
	return r
}

func newRegistry(chats, users, words, settings, whitelist collection, p pinger, limits domain.MuteLimits) *Registry {
	return &Registry{
		chats:     chats,
		users:     users,
		words:     words,
		settings:  settings,
		whitelist: whitelist,
		stats:     NewStatsProvider(users, chats),
		pinger:    p,
		limits:    limits,
		now:       func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) },
	}
}

type bannedWordDoc struct {
	Scope     string    `bson:"scope"`
	ChatID    int64     `bson:"chat_id"`
	Word      string    `bson:"word"`
	CreatedAt time.Time `bson:"created_at"`
}

func (r *Registry) UpsertChat(ctx context.Context, chat domain.Chat) (bool, error) {
	if err := r.ready(ctx); err != nil {
		return false, err
	}
	if chat.ChatID == 0 {
		return false, domain.Errorf(domain.KindValidation, "upsert chat", "chat id is required")
	}

	now := r.now()
	joined := chat.JoinedAt
	if joined.IsZero() {
		joined = now
	}

	set := bson.M{
		"bot_is_admin": chat.BotIsAdmin,
		"last_seen_at": now,
	}
	if chat.Title != "" {
		set["title"] = chat.Title
	}
	if chat.Kind != "" {
		set["kind"] = string(chat.Kind)
	}

	result, err := r.chats.UpdateOne(ctx,
		bson.M{"chat_id": chat.ChatID},
		bson.M{
			"$set": set,
			"$setOnInsert": bson.M{
				"chat_id":   chat.ChatID,
				"joined_at": joined,
			},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return false, domain.NewError(domain.KindStore, "upsert chat", err)
	}

	return result != nil && result.UpsertedCount > 0, nil
}

func (r *Registry) UpsertUser(ctx context.Context, user domain.User) (bool, error) {
	if err := r.ready(ctx); err != nil {
		return false, err
	}
	if user.UserID == 0 {
		return false, domain.Errorf(domain.KindValidation, "upsert user", "user id is required")
	}
	role := user.Role
	if role == "" {
		role = domain.RoleUser
	}

	now := r.now()
	result, err := r.users.UpdateOne(ctx,
		bson.M{"user_id": user.UserID},
		bson.M{
			"$set": bson.M{
				"first_name":    user.FirstName,
				"last_name":     user.LastName,
				"username":      user.Username,
				"language_code": user.LanguageCode,
				"last_seen_at":  now,
			},
			"$setOnInsert": bson.M{
				"user_id":       user.UserID,
				"role":          role,
				"first_seen_at": now,
			},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return false, domain.NewError(domain.KindStore, "upsert user", err)
	}

	return result != nil && result.UpsertedCount > 0, nil
}

func (r *Registry) EnsureOwner(ctx context.Context, ownerID int64) (int64, error) {
	if err := r.ready(ctx); err != nil {
		return 0, err
	}
	if ownerID == 0 {
		return 0, domain.Errorf(domain.KindValidation, "ensure owner", "owner id is required")
	}

	now := r.now()

	demoteResult, err := r.users.UpdateMany(ctx,
		bson.M{"role": domain.RoleOwner, "user_id": bson.M{"$ne": ownerID}},
		bson.M{"$set": bson.M{"role": domain.RoleAdmin}},
	)
	if err != nil {
		return 0, domain.NewError(domain.KindStore, "demote previous owners", err)
	}

	_, err = r.users.UpdateOne(ctx,
		bson.M{"user_id": ownerID},
		bson.M{
			"$set": bson.M{"role": domain.RoleOwner},
			"$setOnInsert": bson.M{
				"user_id":       ownerID,
				"first_seen_at": now,
				"last_seen_at":  now,
			},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return 0, domain.NewError(domain.KindStore, "ensure owner", err)
	}

	if demoteResult == nil {
		return 0, nil
	}
	return demoteResult.ModifiedCount, nil
}

func (r *Registry) GetUser(ctx context.Context, userID int64) (domain.User, error) {
	if err := r.ready(ctx); err != nil {
		return domain.User{}, err
	}

	result := r.users.FindOne(ctx, bson.M{"user_id": userID})
	if result == nil {
		return domain.User{}, domain.Errorf(domain.KindStore, "get user", "find user returned no result")
	}
	if err := result.Err(); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.User{}, domain.Errorf(domain.KindNotFound, "get user", "user %d not found", userID)
		}
		return domain.User{}, domain.NewError(domain.KindStore, "get user", err)
	}

	var user domain.User
	if err := result.Decode(&user); err != nil {
		return domain.User{}, domain.NewError(domain.KindStore, "decode user", err)
	}
	return user, nil
}

func (r *Registry) ListChats(ctx context.Context) ([]domain.Chat, error) {
	if err := r.ready(ctx); err != nil {
		return nil, err
	}

	chats := []domain.Chat{}
	opts := options.Find().SetSort(bson.D{{Key: "chat_id", Value: 1}})
	if err := findAll(ctx, r.chats, bson.M{}, &chats, opts); err != nil {
		return nil, domain.NewError(domain.KindStore, "list chats", err)
	}
	return chats, nil
}

func (r *Registry) ListUsers(ctx context.Context) ([]domain.User, error) {
	if err := r.ready(ctx); err != nil {
		return nil, err
	}

	users := []domain.User{}
	opts := options.Find().SetSort(bson.D{{Key: "first_seen_at", Value: -1}, {Key: "user_id", Value: 1}})
	if err := findAll(ctx, r.users, bson.M{}, &users, opts); err != nil {
		return nil, domain.NewError(domain.KindStore, "list users", err)
	}
	return users, nil
}

func (r *Registry) AddBannedWords(ctx context.Context, scope domain.Scope, words []string) (int, error) {
	if err := r.ready(ctx); err != nil {
		return 0, err
	}

	added := 0
	now := r.now()
	for _, w := range domain.NormalizeWords(words) {
		filter := wordFilter(scope)
		filter["word"] = w

		result, err := r.words.UpdateOne(ctx,
			filter,
			bson.M{"$setOnInsert": bson.M{
				"scope":      scope.Kind(),
				"chat_id":    scope.ChatID(),
				"word":       w,
				"created_at": now,
			}},
			options.Update().SetUpsert(true),
		)
		if err != nil {
			// a concurrent upsert of the same word lost the unique index race
			if mongo.IsDuplicateKeyError(err) {
				continue
			}
			return added, domain.NewError(domain.KindStore, "add banned words", err)
		}
		if result != nil && result.UpsertedCount > 0 {
			added++
		}
	}
	return added, nil
}

func (r *Registry) RemoveBannedWords(ctx context.Context, scope domain.Scope, words []string) (int, error) {
	if err := r.ready(ctx); err != nil {
		return 0, err
	}

	normalized := domain.NormalizeWords(words)
	if len(normalized) == 0 {
		return 0, nil
	}

	filter := wordFilter(scope)
	filter["word"] = bson.M{"$in": normalized}

	result, err := r.words.DeleteMany(ctx, filter)
	if err != nil {
		return 0, domain.NewError(domain.KindStore, "remove banned words", err)
	}
	if result == nil {
		return 0, nil
	}
	return int(result.DeletedCount), nil
}

func (r *Registry) ListBannedWords(ctx context.Context, scope domain.Scope) ([]string, error) {
	if err := r.ready(ctx); err != nil {
		return nil, err
	}

	words, err := r.findWords(ctx, wordFilter(scope))
	if err != nil {
		return nil, domain.NewError(domain.KindStore, "list banned words", err)
	}
	return words, nil
}

func (r *Registry) EffectiveBannedWords(ctx context.Context, chatID int64) ([]string, error) {
	if err := r.ready(ctx); err != nil {
		return nil, err
	}

	words, err := r.effectiveWords(ctx, chatID)
	if err != nil {
		return nil, domain.NewError(domain.KindStore, "effective banned words", err)
	}
	return words, nil
}

func (r *Registry) MuteMinutes(ctx context.Context, chatID int64) (int, error) {
	if err := r.ready(ctx); err != nil {
		return 0, err
	}

	minutes, err := r.muteMinutes(ctx, chatID)
	if err != nil {
		return 0, domain.NewError(domain.KindStore, "mute minutes", err)
	}
	return minutes, nil
}

func (r *Registry) SetMuteMinutes(ctx context.Context, chatID int64, minutes int) (int, error) {
	if err := r.ready(ctx); err != nil {
		return 0, err
	}

	stored := r.limits.Clamp(minutes)
	_, err := r.settings.UpdateOne(ctx,
		bson.M{"chat_id": chatID},
		bson.M{
			"$set":         bson.M{"mute_minutes": stored},
			"$setOnInsert": bson.M{"chat_id": chatID},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return 0, domain.NewError(domain.KindStore, "set mute minutes", err)
	}
	return stored, nil
}

func (r *Registry) AddWhitelist(ctx context.Context, chatID, userID int64) (bool, error) {
	if err := r.ready(ctx); err != nil {
		return false, err
	}
	if userID <= 0 {
		return false, domain.Errorf(domain.KindValidation, "add whitelist", "user id must be positive")
	}

	result, err := r.whitelist.UpdateOne(ctx,
		bson.M{"chat_id": chatID, "user_id": userID},
		bson.M{"$setOnInsert": bson.M{
			"chat_id":    chatID,
			"user_id":    userID,
			"created_at": r.now(),
		}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, domain.NewError(domain.KindStore, "add whitelist", err)
	}
	return result != nil && result.UpsertedCount > 0, nil
}

func (r *Registry) RemoveWhitelist(ctx context.Context, chatID, userID int64) (bool, error) {
	if err := r.ready(ctx); err != nil {
		return false, err
	}

	result, err := r.whitelist.DeleteOne(ctx, bson.M{"chat_id": chatID, "user_id": userID})
	if err != nil {
		return false, domain.NewError(domain.KindStore, "remove whitelist", err)
	}
	return result != nil && result.DeletedCount > 0, nil
}

func (r *Registry) ListWhitelist(ctx context.Context) ([]domain.WhitelistEntry, error) {
	if err := r.ready(ctx); err != nil {
		return nil, err
	}

	entries := []domain.WhitelistEntry{}
	opts := options.Find().SetSort(bson.D{{Key: "chat_id", Value: 1}, {Key: "user_id", Value: 1}})
	if err := findAll(ctx, r.whitelist, bson.M{}, &entries, opts); err != nil {
		return nil, domain.NewError(domain.KindStore, "list whitelist", err)
	}
	return entries, nil
}

func (r *Registry) IsWhitelisted(ctx context.Context, chatID, userID int64) (bool, error) {
	if err := r.ready(ctx); err != nil {
		return false, err
	}

	ok, err := r.isWhitelisted(ctx, chatID, userID)
	if err != nil {
		return false, domain.NewError(domain.KindStore, "is whitelisted", err)
	}
	return ok, nil
}

// ModerationSnapshot returns everything the pipeline needs for one message.
// The pipeline evaluates against the returned value only, so a write that
// lands after the read never mixes into a decision.
func (r *Registry) ModerationSnapshot(ctx context.Context, chatID, userID int64) (domain.ModerationSnapshot, error) {
	if err := r.ready(ctx); err != nil {
		return domain.ModerationSnapshot{}, err
	}

	if r.readSnapshot != nil && !r.snapshotRefused.Load() {
		var snap domain.ModerationSnapshot
		err := r.readSnapshot(ctx, func(sctx context.Context) error {
			var err error
			snap, err = r.loadSnapshot(sctx, chatID, userID)
			return err
		})
		if err == nil {
			return snap, nil
		}
		if ctx.Err() != nil {
			return domain.ModerationSnapshot{}, domain.NewError(domain.KindStore, "moderation snapshot", err)
		}

		snap, seqErr := r.loadSnapshot(ctx, chatID, userID)
		if seqErr != nil {
			return domain.ModerationSnapshot{}, domain.NewError(domain.KindStore, "moderation snapshot", seqErr)
		}
		// Plain reads succeeded, so the deployment refuses snapshot reads.
		r.snapshotRefused.Store(true)
		return snap, nil
	}

	snap, err := r.loadSnapshot(ctx, chatID, userID)
	if err != nil {
		return domain.ModerationSnapshot{}, domain.NewError(domain.KindStore, "moderation snapshot", err)
	}
	return snap, nil
}

func (r *Registry) loadSnapshot(ctx context.Context, chatID, userID int64) (domain.ModerationSnapshot, error) {
	whitelisted, err := r.isWhitelisted(ctx, chatID, userID)
	if err != nil {
		return domain.ModerationSnapshot{}, err
	}
	words, err := r.effectiveWords(ctx, chatID)
	if err != nil {
		return domain.ModerationSnapshot{}, err
	}
	minutes, err := r.muteMinutes(ctx, chatID)
	if err != nil {
		return domain.ModerationSnapshot{}, err
	}

	return domain.ModerationSnapshot{
		Whitelisted: whitelisted,
		BannedWords: words,
		MuteMinutes: minutes,
	}, nil
}

// Stats counts chats and users server-side.
func (r *Registry) Stats(ctx context.Context) (domain.RegistryStats, error) {
	if err := r.ready(ctx); err != nil {
		return domain.RegistryStats{}, err
	}
	stats, err := r.stats.Stats(ctx)
	if err != nil {
		return domain.RegistryStats{}, domain.NewError(domain.KindStore, "stats", err)
	}
	return stats, nil
}

func (r *Registry) Ping(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if r == nil || r.pinger == nil {
		return errors.New("mongo registry is not initialized")
	}
	return r.pinger.Ping(ctx)
}

func (r *Registry) ready(ctx context.Context) error {
	if r == nil || r.chats == nil || r.users == nil || r.words == nil || r.settings == nil || r.whitelist == nil {
		return errors.New("mongo registry is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	return nil
}

func (r *Registry) findWords(ctx context.Context, filter bson.M) ([]string, error) {
	docs := []bannedWordDoc{}
	opts := options.Find().SetSort(bson.D{{Key: "word", Value: 1}})
	if err := findAll(ctx, r.words, filter, &docs, opts); err != nil {
		return nil, err
	}

	words := make([]string, 0, len(docs))
	for _, d := range docs {
		words = append(words, d.Word)
	}
	return words, nil
}

func (r *Registry) effectiveWords(ctx context.Context, chatID int64) ([]string, error) {
	words, err := r.findWords(ctx, bson.M{"$or": bson.A{
		wordFilter(domain.GlobalScope()),
		wordFilter(domain.ChatScope(chatID)),
	}})
	if err != nil {
		return nil, err
	}
	return domain.MergeWords(words), nil
}

func (r *Registry) muteMinutes(ctx context.Context, chatID int64) (int, error) {
	result := r.settings.FindOne(ctx, bson.M{"chat_id": chatID})
	if result == nil {
		return r.limits.Default, nil
	}
	if err := result.Err(); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return r.limits.Default, nil
		}
		return 0, err
	}

	var settings domain.ChatSettings
	if err := result.Decode(&settings); err != nil {
		return 0, err
	}
	return settings.MuteMinutes, nil
}

func (r *Registry) isWhitelisted(ctx context.Context, chatID, userID int64) (bool, error) {
	count, err := r.whitelist.CountDocuments(ctx,
		bson.M{"chat_id": chatID, "user_id": userID},
		options.Count().SetLimit(1),
	)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func wordFilter(scope domain.Scope) bson.M {
	return bson.M{"scope": scope.Kind(), "chat_id": scope.ChatID()}
}

func findAll(ctx context.Context, coll collection, filter interface{}, out interface{}, opts ...*options.FindOptions) error {
	cursor, err := coll.Find(ctx, filter, opts...)
	if err != nil {
		return err
	}
	return cursor.All(ctx, out)
}
