package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// --- Weekly leaderboard ---

// WeeklyEntries returns all aggregate rows of (group, week)
func (s *Storage) WeeklyEntries(ctx context.Context, groupID int64, weekStart string) ([]WeeklyEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT w.id, w.user_id, w.chat_group_id, w.week_start, w.total_messages, w.rank_position, w.updated_ns
		 FROM weekly_leaderboard w
		 JOIN users u ON u.id = w.user_id
		 WHERE w.chat_group_id = ? AND w.week_start = ?
		 ORDER BY w.id`,
		groupID, weekStart,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []WeeklyEntry
	for rows.Next() {
		var e WeeklyEntry
		var updatedNs int64
		if err := rows.Scan(&e.ID, &e.UserID, &e.GroupID, &e.WeekStart, &e.Total, &e.Rank, &updatedNs); err != nil {
			return nil, err
		}
		e.UpdatedAt = time.Unix(0, updatedNs)
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// SaveWeeklyEntries writes totals, ranks and update times of (group, week)
// in one transaction
func (s *Storage) SaveWeeklyEntries(ctx context.Context, groupID int64, weekStart string, entries []WeeklyEntry) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO weekly_leaderboard (user_id, chat_group_id, week_start, total_messages, rank_position, updated_ns)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(user_id, chat_group_id, week_start) DO UPDATE SET
				total_messages = excluded.total_messages,
				rank_position = excluded.rank_position,
				updated_ns = excluded.updated_ns`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, e := range entries {
			if _, err := stmt.ExecContext(ctx, e.UserID, groupID, weekStart, e.Total, e.Rank, e.UpdatedAt.UnixNano()); err != nil {
				return err
			}
		}
		return nil
	})
}

// Leaderboard returns the top rows of (group, week) by rank
func (s *Storage) Leaderboard(ctx context.Context, groupID int64, weekStart string, limit int) ([]LeaderboardRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT wl.rank_position, wl.total_messages, wl.updated_ns, u.id, u.telegram_id, u.username, u.first_name
		 FROM weekly_leaderboard wl
		 JOIN users u ON u.id = wl.user_id
		 WHERE wl.chat_group_id = ? AND wl.week_start = ?
		 ORDER BY wl.rank_position ASC
		 LIMIT ?`,
		groupID, weekStart, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var board []LeaderboardRow
	for rows.Next() {
		var r LeaderboardRow
		var updatedNs int64
		if err := rows.Scan(&r.Rank, &r.Total, &updatedNs, &r.UserID, &r.TelegramID, &r.Username, &r.FirstName); err != nil {
			return nil, err
		}
		r.UpdatedAt = time.Unix(0, updatedNs)
		board = append(board, r)
	}

	return board, rows.Err()
}

// UserWeeklyRank returns a user's row of (group, week) and the number of
// participants in that week
func (s *Storage) UserWeeklyRank(ctx context.Context, userID, groupID int64, weekStart string) (*LeaderboardRow, int, error) {
	var r LeaderboardRow
	var updatedNs int64

	err := s.db.QueryRowContext(ctx,
		`SELECT wl.rank_position, wl.total_messages, wl.updated_ns, u.id, u.telegram_id, u.username, u.first_name
		 FROM weekly_leaderboard wl
		 JOIN users u ON u.id = wl.user_id
		 WHERE wl.user_id = ? AND wl.chat_group_id = ? AND wl.week_start = ?`,
		userID, groupID, weekStart,
	).Scan(&r.Rank, &r.Total, &updatedNs, &r.UserID, &r.TelegramID, &r.Username, &r.FirstName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, ErrNotFound
	}
	if err != nil {
		return nil, 0, err
	}
	r.UpdatedAt = time.Unix(0, updatedNs)

	var total int
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM weekly_leaderboard WHERE chat_group_id = ? AND week_start = ?`,
		groupID, weekStart,
	).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	return &r, total, nil
}

// ActiveGroups returns the ids of groups with activity in the given week
func (s *Storage) ActiveGroups(ctx context.Context, weekStart string) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT chat_group_id FROM chat_activity WHERE week_start = ? ORDER BY chat_group_id`,
		weekStart,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}
