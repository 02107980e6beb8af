package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrWalletMismatch  = errors.New("wallet address mismatch")
	ErrAlreadyOpened   = errors.New("chest already opened")
	ErrNotEligible     = errors.New("chest not eligible")
	ErrNotClaimable    = errors.New("nothing to claim")
	ErrAlreadyClaimed  = errors.New("chest already claimed")
	ErrClaimInProgress = errors.New("claim in progress")
	ErrAlreadyFinal    = errors.New("transfer already final")
)

// Storage handles all database operations
type Storage struct {
	db *sql.DB
}

// New creates a new Storage instance and initializes the database
func New(dbPath string) (*Storage, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, err
	}

	s := &Storage{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			telegram_id TEXT NOT NULL UNIQUE,
			username TEXT NOT NULL DEFAULT '',
			first_name TEXT NOT NULL DEFAULT '',
			last_name TEXT NOT NULL DEFAULT '',
			wallet_address TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_users_username ON users(username COLLATE NOCASE)`,

		`CREATE TABLE IF NOT EXISTS chat_groups (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			telegram_chat_id TEXT NOT NULL UNIQUE,
			title TEXT NOT NULL DEFAULT '',
			chat_type TEXT NOT NULL DEFAULT 'group',
			is_active INTEGER NOT NULL DEFAULT 1,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS chat_activity (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			chat_group_id INTEGER NOT NULL,
			activity_date TEXT NOT NULL,
			week_start TEXT NOT NULL,
			message_count INTEGER NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL,
			UNIQUE(user_id, chat_group_id, activity_date)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_activity_week ON chat_activity(chat_group_id, week_start)`,

		// updated_ns holds unix nanoseconds so ties can be broken by update order
		`CREATE TABLE IF NOT EXISTS weekly_leaderboard (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			chat_group_id INTEGER NOT NULL,
			week_start TEXT NOT NULL,
			total_messages INTEGER NOT NULL DEFAULT 0,
			rank_position INTEGER NOT NULL DEFAULT 0,
			updated_ns INTEGER NOT NULL,
			UNIQUE(user_id, chat_group_id, week_start)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_weekly_leaderboard_rank ON weekly_leaderboard(chat_group_id, week_start, rank_position)`,

		`CREATE TABLE IF NOT EXISTS quest_activity (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			identity TEXT NOT NULL,
			chat_id TEXT NOT NULL,
			activity_date TEXT NOT NULL,
			message_count INTEGER NOT NULL DEFAULT 0,
			UNIQUE(identity, activity_date, chat_id)
		)`,

		`CREATE TABLE IF NOT EXISTS daily_quests (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			identity TEXT NOT NULL,
			quest_date TEXT NOT NULL,
			quest_type TEXT NOT NULL DEFAULT 'daily_chat',
			completed INTEGER NOT NULL DEFAULT 0,
			completed_at INTEGER,
			UNIQUE(identity, quest_date)
		)`,

		`CREATE TABLE IF NOT EXISTS daily_chests (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			identity TEXT NOT NULL,
			chest_date TEXT NOT NULL,
			eligible INTEGER NOT NULL DEFAULT 0,
			opened INTEGER NOT NULL DEFAULT 0,
			reward_amount INTEGER NOT NULL DEFAULT 0,
			opened_at INTEGER,
			claiming INTEGER NOT NULL DEFAULT 0,
			claim_started_at INTEGER,
			transaction_hash TEXT UNIQUE,
			claimed_at INTEGER,
			UNIQUE(identity, chest_date)
		)`,

		`CREATE TABLE IF NOT EXISTS transactions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ref TEXT NOT NULL UNIQUE,
			kind TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			from_user_id INTEGER,
			to_user_id INTEGER,
			from_address TEXT,
			to_address TEXT NOT NULL,
			amount TEXT NOT NULL,
			token TEXT NOT NULL,
			token_address TEXT,
			tx_hash TEXT UNIQUE,
			gas_used INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			message TEXT NOT NULL DEFAULT '',
			subject TEXT NOT NULL DEFAULT '',
			chat_group_id INTEGER,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_kind ON transactions(kind, id)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_subject ON transactions(subject)`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return err
		}
	}

	return nil
}

func (s *Storage) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func intPtr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}
