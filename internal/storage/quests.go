package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// --- Quests ---

// RecordQuestActivity counts one message of identity in chatID towards date
func (s *Storage) RecordQuestActivity(ctx context.Context, identity, chatID, date string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO quest_activity (identity, chat_id, activity_date, message_count)
		 VALUES (?, ?, ?, 1)
		 ON CONFLICT(identity, activity_date, chat_id) DO UPDATE SET
			message_count = message_count + 1`,
		identity, chatID, date,
	)
	return err
}

// QuestMessageCount returns the messages of identity on date across all chats
func (s *Storage) QuestMessageCount(ctx context.Context, identity, date string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(message_count), 0) FROM quest_activity WHERE identity = ? AND activity_date = ?`,
		identity, date,
	).Scan(&count)
	return count, err
}

// CompleteQuest marks the daily quest completed and the chest eligible in one
// transaction. It reports whether the quest was newly completed
func (s *Storage) CompleteQuest(ctx context.Context, identity, date string, at time.Time) (bool, error) {
	var completed bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO daily_quests (identity, quest_date, completed, completed_at)
			 VALUES (?, ?, 1, ?)
			 ON CONFLICT(identity, quest_date) DO UPDATE SET
				completed = 1,
				completed_at = excluded.completed_at
			 WHERE daily_quests.completed = 0`,
			identity, date, at.Unix(),
		)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		completed = n > 0

		_, err = tx.ExecContext(ctx,
			`INSERT INTO daily_chests (identity, chest_date, eligible)
			 VALUES (?, ?, 1)
			 ON CONFLICT(identity, chest_date) DO UPDATE SET eligible = 1`,
			identity, date,
		)
		return err
	})
	if err != nil {
		return false, err
	}

	return completed, nil
}

// QuestState returns the quest row of (identity, date), zero valued when absent
func (s *Storage) QuestState(ctx context.Context, identity, date string) (*QuestState, error) {
	q := QuestState{Identity: identity, Date: date, QuestType: "daily_chat"}
	var completedAt sql.NullInt64

	err := s.db.QueryRowContext(ctx,
		`SELECT quest_type, completed, completed_at FROM daily_quests WHERE identity = ? AND quest_date = ?`,
		identity, date,
	).Scan(&q.QuestType, &q.Completed, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return &q, nil
	}
	if err != nil {
		return nil, err
	}

	q.CompletedAt = unixPtr(completedAt)
	return &q, nil
}

// ChestState returns the chest row of (identity, date)
func (s *Storage) ChestState(ctx context.Context, identity, date string) (*ChestState, error) {
	c := ChestState{Identity: identity, Date: date}
	var openedAt, claimedAt sql.NullInt64
	var txHash sql.NullString

	err := s.db.QueryRowContext(ctx,
		`SELECT eligible, opened, reward_amount, opened_at, claiming, transaction_hash, claimed_at
		 FROM daily_chests WHERE identity = ? AND chest_date = ?`,
		identity, date,
	).Scan(&c.Eligible, &c.Opened, &c.Reward, &openedAt, &c.Claiming, &txHash, &claimedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	c.OpenedAt = unixPtr(openedAt)
	c.ClaimedAt = unixPtr(claimedAt)
	c.TxHash = txHash.String
	return &c, nil
}

// OpenChest stores reward for an eligible, unopened chest. The update is
// conditional on opened = 0 so only one caller can ever open a chest
func (s *Storage) OpenChest(ctx context.Context, identity, date string, reward int, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE daily_chests SET opened = 1, reward_amount = ?, opened_at = ?
		 WHERE identity = ? AND chest_date = ? AND eligible = 1 AND opened = 0`,
		reward, at.Unix(), identity, date,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	c, err := s.ChestState(ctx, identity, date)
	if errors.Is(err, ErrNotFound) {
		return ErrNotEligible
	}
	if err != nil {
		return err
	}
	if c.Opened {
		return ErrAlreadyOpened
	}
	return ErrNotEligible
}

// ChestSubject ties reward transfer records to the chest they pay
func ChestSubject(identity, date string) string {
	return "chest:" + identity + ":" + date
}

// BeginClaim takes the claim lease of an opened chest with a positive reward.
// A lease older than staleAfter is taken over only when every reward record
// for the chest has failed, since a pending or confirmed record may already
// be on chain
func (s *Storage) BeginClaim(ctx context.Context, identity, date string, now time.Time, staleAfter time.Duration) (*ChestState, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE daily_chests SET claiming = 1, claim_started_at = ?
		 WHERE identity = ? AND chest_date = ? AND opened = 1 AND reward_amount > 0
		   AND transaction_hash IS NULL
		   AND (claiming = 0 OR (
		     COALESCE(claim_started_at, 0) <= ?
		     AND NOT EXISTS (SELECT 1 FROM transactions WHERE subject = ? AND status != ?)))`,
		now.Unix(), identity, date, now.Add(-staleAfter).Unix(), ChestSubject(identity, date), StatusFailed,
	)
	if err != nil {
		return nil, err
	}
	n, _ := res.RowsAffected()

	c, err := s.ChestState(ctx, identity, date)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotClaimable
	}
	if err != nil {
		return nil, err
	}
	if n > 0 {
		return c, nil
	}

	switch {
	case c.Claimed():
		return nil, ErrAlreadyClaimed
	case c.Claiming:
		return nil, ErrClaimInProgress
	default:
		return nil, ErrNotClaimable
	}
}

// FinishClaim records the claim reference and releases the lease
func (s *Storage) FinishClaim(ctx context.Context, identity, date, txHash string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE daily_chests SET transaction_hash = ?, claimed_at = ?, claiming = 0
		 WHERE identity = ? AND chest_date = ? AND claiming = 1 AND transaction_hash IS NULL`,
		txHash, at.Unix(), identity, date,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAlreadyClaimed
	}
	return nil
}

// ReleaseClaim drops the claim lease so the claim can be retried
func (s *Storage) ReleaseClaim(ctx context.Context, identity, date string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE daily_chests SET claiming = 0
		 WHERE identity = ? AND chest_date = ? AND transaction_hash IS NULL`,
		identity, date,
	)
	return err
}

// QuestHistory returns the most recent days of quest state, newest first
func (s *Storage) QuestHistory(ctx context.Context, identity string, days int) ([]QuestHistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT q.quest_date, q.completed,
			COALESCE(c.eligible, 0), COALESCE(c.opened, 0), COALESCE(c.reward_amount, 0),
			COALESCE(c.transaction_hash, '')
		 FROM daily_quests q
		 LEFT JOIN daily_chests c ON c.identity = q.identity AND c.chest_date = q.quest_date
		 WHERE q.identity = ?
		 ORDER BY q.quest_date DESC
		 LIMIT ?`,
		identity, days,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []QuestHistoryEntry
	for rows.Next() {
		var h QuestHistoryEntry
		if err := rows.Scan(&h.Date, &h.Completed, &h.Eligible, &h.Opened, &h.Reward, &h.TxHash); err != nil {
			return nil, err
		}
		history = append(history, h)
	}

	return history, rows.Err()
}

// QuestStats aggregates quests and chest rewards of identity
func (s *Storage) QuestStats(ctx context.Context, identity string) (*QuestStats, error) {
	var st QuestStats
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(completed), 0) FROM daily_quests WHERE identity = ?`,
		identity,
	).Scan(&st.TotalQuests, &st.CompletedQuests)
	if err != nil {
		return nil, err
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT
			COALESCE(SUM(CASE WHEN opened = 1 THEN reward_amount ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN transaction_hash IS NOT NULL THEN reward_amount ELSE 0 END), 0)
		 FROM daily_chests WHERE identity = ?`,
		identity,
	).Scan(&st.TotalEarned, &st.TotalClaimed)
	if err != nil {
		return nil, err
	}

	return &st, nil
}

func unixPtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0)
	return &t
}
