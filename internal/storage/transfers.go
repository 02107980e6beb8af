package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// --- Transfers ---

const transferColumns = `id, ref, kind, status, from_user_id, to_user_id, from_address, to_address, amount,
	token, token_address, tx_hash, gas_used, error, message, subject, chat_group_id, created_at, updated_at`

// CreateTransfer inserts a pending transfer record
func (s *Storage) CreateTransfer(ctx context.Context, rec *TransferRecord) (*TransferRecord, error) {
	if rec.Ref == "" {
		return nil, errors.New("transfer ref is required")
	}

	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO transactions (ref, kind, status, from_user_id, to_user_id, from_address, to_address,
			amount, token, token_address, message, subject, chat_group_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Ref, rec.Kind, StatusPending, nullInt(rec.FromUserID), nullInt(rec.ToUserID),
		nullString(rec.FromAddress), rec.ToAddress, rec.Amount, rec.Token, nullString(rec.TokenAddress),
		rec.Message, rec.Subject, nullInt(rec.GroupID), now.Unix(), now.Unix(),
	)
	if err != nil {
		return nil, err
	}

	id, _ := res.LastInsertId()
	out := *rec
	out.ID = id
	out.Status = StatusPending
	out.CreatedAt = time.Unix(now.Unix(), 0)
	out.UpdatedAt = out.CreatedAt
	return &out, nil
}

// FinalizeTransfer moves a pending record to a terminal status. Terminal
// records are immutable; a second call returns ErrAlreadyFinal
func (s *Storage) FinalizeTransfer(ctx context.Context, id int64, status, txHash string, gasUsed uint64, errMsg string) error {
	if status != StatusConfirmed && status != StatusFailed {
		return fmt.Errorf("invalid terminal status %q", status)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE transactions SET status = ?, tx_hash = ?, gas_used = ?, error = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		status, nullString(txHash), gasUsed, errMsg, time.Now().Unix(), id, StatusPending,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	if _, err := s.Transfer(ctx, id); err != nil {
		return err
	}
	return ErrAlreadyFinal
}

// Transfer returns a transfer record by id
func (s *Storage) Transfer(ctx context.Context, id int64) (*TransferRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+transferColumns+` FROM transactions WHERE id = ?`, id)
	rec, err := scanTransfer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

// ListTransfers returns the latest records, optionally filtered by kind
func (s *Storage) ListTransfers(ctx context.Context, kind string, limit int) ([]TransferRecord, error) {
	query := `SELECT ` + transferColumns + ` FROM transactions`
	args := []any{}
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, kind)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []TransferRecord
	for rows.Next() {
		rec, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}

	return records, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTransfer(row scanner) (*TransferRecord, error) {
	var rec TransferRecord
	var fromUser, toUser, groupID sql.NullInt64
	var fromAddr, tokenAddr, txHash sql.NullString
	var createdAt, updatedAt int64

	err := row.Scan(&rec.ID, &rec.Ref, &rec.Kind, &rec.Status, &fromUser, &toUser, &fromAddr, &rec.ToAddress,
		&rec.Amount, &rec.Token, &tokenAddr, &txHash, &rec.GasUsed, &rec.Error, &rec.Message, &rec.Subject, &groupID,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	rec.FromUserID = intPtr(fromUser)
	rec.ToUserID = intPtr(toUser)
	rec.GroupID = intPtr(groupID)
	rec.FromAddress = fromAddr.String
	rec.TokenAddress = tokenAddr.String
	rec.TxHash = txHash.String
	rec.CreatedAt = time.Unix(createdAt, 0)
	rec.UpdatedAt = time.Unix(updatedAt, 0)
	return &rec, nil
}
