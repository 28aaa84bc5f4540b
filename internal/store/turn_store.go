package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/vbonduro/prescriptly/internal/domain"
)

// TurnStore is the append-only conversation log.
type TurnStore struct {
	db *sql.DB
}

func NewTurnStore(db *sql.DB) *TurnStore {
	return &TurnStore{db: db}
}

func (s *TurnStore) Append(ctx context.Context, userID string, sender domain.Sender, text string) (*domain.Turn, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversation_turns (id, user_id, seq, sender, text)
		SELECT ?, ?, COALESCE(MAX(seq), 0) + 1, ?, ? FROM conversation_turns WHERE user_id = ?
	`, id, userID, string(sender), text, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to append turn: %w", err)
	}

	t := &domain.Turn{}
	var senderStr string
	err = s.db.QueryRowContext(ctx, `
		SELECT id, user_id, seq, sender, text, created_at FROM conversation_turns WHERE id = ?
	`, id).Scan(&t.ID, &t.UserID, &t.Seq, &senderStr, &t.Text, &t.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get turn: %w", err)
	}
	t.Sender = domain.Sender(senderStr)
	return t, nil
}

func (s *TurnStore) List(ctx context.Context, userID string) ([]*domain.Turn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, seq, sender, text, created_at FROM conversation_turns
		WHERE user_id = ? ORDER BY seq ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list turns: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("failed to close rows", "error", err)
		}
	}()

	var turns []*domain.Turn
	for rows.Next() {
		t := &domain.Turn{}
		var senderStr string
		if err := rows.Scan(&t.ID, &t.UserID, &t.Seq, &senderStr, &t.Text, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		t.Sender = domain.Sender(senderStr)
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating turns: %w", err)
	}
	return turns, nil
}

// DeleteByUser drops a user's whole conversation. Used only on session reset.
func (s *TurnStore) DeleteByUser(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM conversation_turns WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("failed to delete turns: %w", err)
	}
	return nil
}
