package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// --- Activity ---

// AddActivity adds count messages to the (user, group, date) activity row,
// creating it when absent. Counts of erased users are dropped
func (s *Storage) AddActivity(ctx context.Context, userID, groupID int64, date, weekStart string, count int, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_activity (user_id, chat_group_id, activity_date, week_start, message_count, updated_at)
		 SELECT ?, ?, ?, ?, ?, ? WHERE EXISTS (SELECT 1 FROM users WHERE id = ?)
		 ON CONFLICT(user_id, chat_group_id, activity_date) DO UPDATE SET
			message_count = message_count + excluded.message_count,
			updated_at = excluded.updated_at`,
		userID, groupID, date, weekStart, count, at.Unix(), userID,
	)
	return err
}

// ActivityCount returns the stored message count of (user, group, date)
func (s *Storage) ActivityCount(ctx context.Context, userID, groupID int64, date string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT message_count FROM chat_activity WHERE user_id = ? AND chat_group_id = ? AND activity_date = ?`,
		userID, groupID, date,
	).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return count, err
}

// WeeklyTotals sums the activity of every user of a group within one week
func (s *Storage) WeeklyTotals(ctx context.Context, groupID int64, weekStart string) (map[int64]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT a.user_id, SUM(a.message_count) FROM chat_activity a
		 JOIN users u ON u.id = a.user_id
		 WHERE a.chat_group_id = ? AND a.week_start = ?
		 GROUP BY a.user_id`,
		groupID, weekStart,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	totals := make(map[int64]int)
	for rows.Next() {
		var userID int64
		var total int
		if err := rows.Scan(&userID, &total); err != nil {
			return nil, err
		}
		totals[userID] = total
	}

	return totals, rows.Err()
}

// ChatStats summarises all recorded activity of a group
func (s *Storage) ChatStats(ctx context.Context, groupID int64) (*ChatStats, error) {
	var st ChatStats
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT user_id), COALESCE(SUM(message_count), 0), COUNT(DISTINCT activity_date)
		 FROM chat_activity WHERE chat_group_id = ?`,
		groupID,
	).Scan(&st.TotalUsers, &st.TotalMessages, &st.ActiveDays)
	if err != nil {
		return nil, err
	}

	if st.TotalUsers > 0 {
		st.AvgPerUser = float64(st.TotalMessages) / float64(st.TotalUsers)
	}
	return &st, nil
}
