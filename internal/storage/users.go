package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

// --- Users ---

const userColumns = `id, telegram_id, username, first_name, last_name, wallet_address, created_at, updated_at`

// UpsertUser creates the user on first sight and refreshes its metadata afterwards
func (s *Storage) UpsertUser(ctx context.Context, telegramID, username, firstName, lastName string) (*User, error) {
	now := time.Now().Unix()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (telegram_id, username, first_name, last_name, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(telegram_id) DO UPDATE SET
			username = excluded.username,
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			updated_at = excluded.updated_at`,
		telegramID, username, firstName, lastName, now, now,
	)
	if err != nil {
		return nil, err
	}

	return s.UserByTelegramID(ctx, telegramID)
}

// UserByTelegramID returns a user by its telegram id
func (s *Storage) UserByTelegramID(ctx context.Context, telegramID string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE telegram_id = ?`, telegramID)
	return scanUser(row)
}

// UserByID returns a user by its internal id
func (s *Storage) UserByID(ctx context.Context, id int64) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}

// UserByUsername looks a user up by handle, with or without the leading @
func (s *Storage) UserByUsername(ctx context.Context, username string) (*User, error) {
	username = strings.TrimPrefix(username, "@")
	if username == "" {
		return nil, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = ? COLLATE NOCASE
		 ORDER BY updated_at DESC LIMIT 1`, username)
	return scanUser(row)
}

// BindWallet stores the derived address of a user. Once set, the address can
// never change; a different address returns ErrWalletMismatch
func (s *Storage) BindWallet(ctx context.Context, telegramID, address string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET wallet_address = ?, updated_at = ?
		 WHERE telegram_id = ? AND (wallet_address IS NULL OR wallet_address = '')`,
		address, time.Now().Unix(), telegramID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	u, err := s.UserByTelegramID(ctx, telegramID)
	if err != nil {
		return err
	}
	if !strings.EqualFold(u.WalletAddress, address) {
		return ErrWalletMismatch
	}
	return nil
}

// EraseUser removes a user together with its activity, rankings and quest rows.
// Transfer records are kept with the user reference cleared. It returns the ids
// of the groups whose weekly rankings lost a row
func (s *Storage) EraseUser(ctx context.Context, telegramID string) ([]int64, error) {
	u, err := s.UserByTelegramID(ctx, telegramID)
	if err != nil {
		return nil, err
	}

	var groups []int64
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT DISTINCT chat_group_id FROM weekly_leaderboard WHERE user_id = ?`, u.ID)
		if err != nil {
			return err
		}
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			groups = append(groups, id)
		}
		rows.Close()

		stmts := []struct {
			query string
			arg   any
		}{
			{`DELETE FROM chat_activity WHERE user_id = ?`, u.ID},
			{`DELETE FROM weekly_leaderboard WHERE user_id = ?`, u.ID},
			{`DELETE FROM quest_activity WHERE identity = ?`, telegramID},
			{`DELETE FROM daily_quests WHERE identity = ?`, telegramID},
			{`DELETE FROM daily_chests WHERE identity = ?`, telegramID},
			{`UPDATE transactions SET from_user_id = NULL WHERE from_user_id = ?`, u.ID},
			{`UPDATE transactions SET to_user_id = NULL WHERE to_user_id = ?`, u.ID},
			{`DELETE FROM users WHERE id = ?`, u.ID},
		}
		for _, st := range stmts {
			if _, err := tx.ExecContext(ctx, st.query, st.arg); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return groups, nil
}

func scanUser(row *sql.Row) (*User, error) {
	var u User
	var wallet sql.NullString
	var createdAt, updatedAt int64

	err := row.Scan(&u.ID, &u.TelegramID, &u.Username, &u.FirstName, &u.LastName, &wallet, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	u.WalletAddress = wallet.String
	u.CreatedAt = time.Unix(createdAt, 0)
	u.UpdatedAt = time.Unix(updatedAt, 0)
	return &u, nil
}

// --- Groups ---

// UpsertGroup creates the group on first sight and refreshes title and type
func (s *Storage) UpsertGroup(ctx context.Context, chatID, title, chatType string) (*Group, error) {
	now := time.Now().Unix()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_groups (telegram_chat_id, title, chat_type, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(telegram_chat_id) DO UPDATE SET
			title = excluded.title,
			chat_type = excluded.chat_type,
			is_active = 1,
			updated_at = excluded.updated_at`,
		chatID, title, chatType, now, now,
	)
	if err != nil {
		return nil, err
	}

	return s.GroupByChatID(ctx, chatID)
}

// GroupByChatID returns a group by its telegram chat id
func (s *Storage) GroupByChatID(ctx context.Context, chatID string) (*Group, error) {
	var g Group
	var createdAt int64

	err := s.db.QueryRowContext(ctx,
		`SELECT id, telegram_chat_id, title, chat_type, created_at FROM chat_groups WHERE telegram_chat_id = ?`,
		chatID,
	).Scan(&g.ID, &g.TelegramChatID, &g.Title, &g.Type, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	g.CreatedAt = time.Unix(createdAt, 0)
	return &g, nil
}
