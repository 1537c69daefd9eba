package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"tg_guard_bot/internal/domain"
)

// Store implements domain.Registry on SQLite.
type Store struct {
	db     *sqlx.DB
	limits domain.MuteLimits
	logger *logrus.Entry
	now    func() time.Time
}

var _ domain.Registry = (*Store)(nil)

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	return s.db.PingContext(ctx)
}

func (s *Store) UpsertChat(ctx context.Context, chat domain.Chat) (bool, error) {
	if err := s.ready(ctx); err != nil {
		return false, err
	}
	if chat.ChatID == 0 {
		return false, domain.Errorf(domain.KindValidation, "upsert chat", "chat id is required")
	}

	var created bool
	err := s.inTx(ctx, "upsert chat", func(tx *sqlx.Tx) error {
		exists, err := rowExists(ctx, tx, `SELECT 1 FROM chats WHERE chat_id = ?`, chat.ChatID)
		if err != nil {
			return err
		}
		created = !exists

		now := s.now()
		joined := chat.JoinedAt
		if joined.IsZero() {
			joined = now
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO chats (chat_id, title, kind, bot_is_admin, joined_at, last_seen_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (chat_id) DO UPDATE SET
				title = CASE WHEN excluded.title != '' THEN excluded.title ELSE chats.title END,
				kind = CASE WHEN excluded.kind != '' THEN excluded.kind ELSE chats.kind END,
				bot_is_admin = excluded.bot_is_admin,
				last_seen_at = excluded.last_seen_at`,
			chat.ChatID, chat.Title, string(chat.Kind), chat.BotIsAdmin, joined, now)
		return err
	})
	return created, err
}

func (s *Store) UpsertUser(ctx context.Context, user domain.User) (bool, error) {
	if err := s.ready(ctx); err != nil {
		return false, err
	}
	if user.UserID == 0 {
		return false, domain.Errorf(domain.KindValidation, "upsert user", "user id is required")
	}
	if user.Role == "" {
		user.Role = domain.RoleUser
	}

	var created bool
	err := s.inTx(ctx, "upsert user", func(tx *sqlx.Tx) error {
		exists, err := rowExists(ctx, tx, `SELECT 1 FROM users WHERE user_id = ?`, user.UserID)
		if err != nil {
			return err
		}
		created = !exists

		now := s.now()
		_, err = tx.ExecContext(ctx, `
			INSERT INTO users (user_id, first_name, last_name, username, language_code, role, first_seen_at, last_seen_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (user_id) DO UPDATE SET
				first_name = excluded.first_name,
				last_name = excluded.last_name,
				username = excluded.username,
				language_code = excluded.language_code,
				last_seen_at = excluded.last_seen_at`,
			user.UserID, user.FirstName, user.LastName, user.Username, user.LanguageCode, user.Role, now, now)
		return err
	})
	return created, err
}

func (s *Store) EnsureOwner(ctx context.Context, ownerID int64) (int64, error) {
	if err := s.ready(ctx); err != nil {
		return 0, err
	}
	if ownerID == 0 {
		return 0, domain.Errorf(domain.KindValidation, "ensure owner", "owner id is required")
	}

	var demoted int64
	err := s.inTx(ctx, "ensure owner", func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE users SET role = ? WHERE role = ? AND user_id != ?`,
			domain.RoleAdmin, domain.RoleOwner, ownerID)
		if err != nil {
			return err
		}
		if demoted, err = res.RowsAffected(); err != nil {
			return err
		}

		now := s.now()
		_, err = tx.ExecContext(ctx, `
			INSERT INTO users (user_id, role, first_seen_at, last_seen_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (user_id) DO UPDATE SET role = excluded.role`,
			ownerID, domain.RoleOwner, now, now)
		return err
	})
	return demoted, err
}

func (s *Store) GetUser(ctx context.Context, userID int64) (domain.User, error) {
	if err := s.ready(ctx); err != nil {
		return domain.User{}, err
	}

	var user domain.User
	err := s.db.GetContext(ctx, &user, `SELECT * FROM users WHERE user_id = ?`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, domain.Errorf(domain.KindNotFound, "get user", "user %d not found", userID)
	}
	if err != nil {
		return domain.User{}, domain.NewError(domain.KindStore, "get user", err)
	}
	return user, nil
}

func (s *Store) ListChats(ctx context.Context) ([]domain.Chat, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}

	chats := []domain.Chat{}
	if err := s.db.SelectContext(ctx, &chats, `SELECT * FROM chats ORDER BY chat_id`); err != nil {
		return nil, domain.NewError(domain.KindStore, "list chats", err)
	}
	return chats, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.User, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}

	users := []domain.User{}
	if err := s.db.SelectContext(ctx, &users, `SELECT * FROM users ORDER BY first_seen_at DESC, user_id`); err != nil {
		return nil, domain.NewError(domain.KindStore, "list users", err)
	}
	return users, nil
}

func (s *Store) AddBannedWords(ctx context.Context, scope domain.Scope, words []string) (int, error) {
	if err := s.ready(ctx); err != nil {
		return 0, err
	}

	normalized := domain.NormalizeWords(words)
	if len(normalized) == 0 {
		return 0, nil
	}

	added := 0
	err := s.inTx(ctx, "add banned words", func(tx *sqlx.Tx) error {
		now := s.now()
		for _, w := range normalized {
			res, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO banned_words (scope, chat_id, word, created_at) VALUES (?, ?, ?, ?)`,
				scope.Kind(), scope.ChatID(), w, now)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			added += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return added, nil
}

func (s *Store) RemoveBannedWords(ctx context.Context, scope domain.Scope, words []string) (int, error) {
	if err := s.ready(ctx); err != nil {
		return 0, err
	}

	normalized := domain.NormalizeWords(words)
	if len(normalized) == 0 {
		return 0, nil
	}

	query, args, err := sqlx.In(
		`DELETE FROM banned_words WHERE scope = ? AND chat_id = ? AND word IN (?)`,
		scope.Kind(), scope.ChatID(), normalized)
	if err != nil {
		return 0, domain.NewError(domain.KindStore, "remove banned words", err)
	}

	res, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return 0, domain.NewError(domain.KindStore, "remove banned words", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, domain.NewError(domain.KindStore, "remove banned words", err)
	}
	return int(n), nil
}

func (s *Store) ListBannedWords(ctx context.Context, scope domain.Scope) ([]string, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}

	words := []string{}
	err := s.db.SelectContext(ctx, &words,
		`SELECT word FROM banned_words WHERE scope = ? AND chat_id = ? ORDER BY word`,
		scope.Kind(), scope.ChatID())
	if err != nil {
		return nil, domain.NewError(domain.KindStore, "list banned words", err)
	}
	return words, nil
}

func (s *Store) EffectiveBannedWords(ctx context.Context, chatID int64) ([]string, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}

	words, err := effectiveWords(ctx, s.db, chatID)
	if err != nil {
		return nil, domain.NewError(domain.KindStore, "effective banned words", err)
	}
	return words, nil
}

func (s *Store) MuteMinutes(ctx context.Context, chatID int64) (int, error) {
	if err := s.ready(ctx); err != nil {
		return 0, err
	}

	minutes, err := muteMinutes(ctx, s.db, chatID, s.limits.Default)
	if err != nil {
		return 0, domain.NewError(domain.KindStore, "mute minutes", err)
	}
	return minutes, nil
}

func (s *Store) SetMuteMinutes(ctx context.Context, chatID int64, minutes int) (int, error) {
	if err := s.ready(ctx); err != nil {
		return 0, err
	}

	stored := s.limits.Clamp(minutes)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_settings (chat_id, mute_minutes) VALUES (?, ?)
		ON CONFLICT (chat_id) DO UPDATE SET mute_minutes = excluded.mute_minutes`,
		chatID, stored)
	if err != nil {
		return 0, domain.NewError(domain.KindStore, "set mute minutes", err)
	}
	return stored, nil
}

func (s *Store) AddWhitelist(ctx context.Context, chatID, userID int64) (bool, error) {
	if err := s.ready(ctx); err != nil {
		return false, err
	}
	if userID <= 0 {
		return false, domain.Errorf(domain.KindValidation, "add whitelist", "user id must be positive")
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO whitelist (chat_id, user_id, created_at) VALUES (?, ?, ?)`,
		chatID, userID, s.now())
	return affected(res, err, "add whitelist")
}

func (s *Store) RemoveWhitelist(ctx context.Context, chatID, userID int64) (bool, error) {
	if err := s.ready(ctx); err != nil {
		return false, err
	}

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM whitelist WHERE chat_id = ? AND user_id = ?`, chatID, userID)
	return affected(res, err, "remove whitelist")
}

func (s *Store) ListWhitelist(ctx context.Context) ([]domain.WhitelistEntry, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}

	entries := []domain.WhitelistEntry{}
	if err := s.db.SelectContext(ctx, &entries,
		`SELECT chat_id, user_id, created_at FROM whitelist ORDER BY chat_id, user_id`); err != nil {
		return nil, domain.NewError(domain.KindStore, "list whitelist", err)
	}
	return entries, nil
}

func (s *Store) IsWhitelisted(ctx context.Context, chatID, userID int64) (bool, error) {
	if err := s.ready(ctx); err != nil {
		return false, err
	}

	ok, err := isWhitelisted(ctx, s.db, chatID, userID)
	if err != nil {
		return false, domain.NewError(domain.KindStore, "is whitelisted", err)
	}
	return ok, nil
}

// ModerationSnapshot reads inside one transaction so the three reads agree.
func (s *Store) ModerationSnapshot(ctx context.Context, chatID, userID int64) (domain.ModerationSnapshot, error) {
	if err := s.ready(ctx); err != nil {
		return domain.ModerationSnapshot{}, err
	}

	var snap domain.ModerationSnapshot
	err := s.inTx(ctx, "moderation snapshot", func(tx *sqlx.Tx) error {
		var err error
		if snap.Whitelisted, err = isWhitelisted(ctx, tx, chatID, userID); err != nil {
			return err
		}
		if snap.BannedWords, err = effectiveWords(ctx, tx, chatID); err != nil {
			return err
		}
		snap.MuteMinutes, err = muteMinutes(ctx, tx, chatID, s.limits.Default)
		return err
	})
	return snap, err
}

func (s *Store) ready(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite store is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	return nil
}

func (s *Store) inTx(ctx context.Context, op string, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return domain.NewError(domain.KindStore, op, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return domain.NewError(domain.KindStore, op, err)
	}
	if err := tx.Commit(); err != nil {
		return domain.NewError(domain.KindStore, op, err)
	}
	return nil
}

type queryer interface {
	sqlx.QueryerContext
}

func rowExists(ctx context.Context, q queryer, query string, args ...any) (bool, error) {
	var one int
	err := sqlx.GetContext(ctx, q, &one, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func effectiveWords(ctx context.Context, q queryer, chatID int64) ([]string, error) {
	words := []string{}
	err := sqlx.SelectContext(ctx, q, &words, `
		SELECT DISTINCT word FROM banned_words
		WHERE (scope = ? AND chat_id = 0) OR (scope = ? AND chat_id = ?)
		ORDER BY word`,
		domain.ScopeKindGlobal, domain.ScopeKindChat, chatID)
	return words, err
}

func muteMinutes(ctx context.Context, q queryer, chatID int64, fallback int) (int, error) {
	var minutes int
	err := sqlx.GetContext(ctx, q, &minutes, `SELECT mute_minutes FROM chat_settings WHERE chat_id = ?`, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return fallback, nil
	}
	return minutes, err
}

func isWhitelisted(ctx context.Context, q queryer, chatID, userID int64) (bool, error) {
	return rowExists(ctx, q, `SELECT 1 FROM whitelist WHERE chat_id = ? AND user_id = ?`, chatID, userID)
}

func affected(res sql.Result, err error, op string) (bool, error) {
	if err != nil {
		return false, domain.NewError(domain.KindStore, op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, domain.NewError(domain.KindStore, op, err)
	}
	return n > 0, nil
}
