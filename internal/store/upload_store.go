package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/vbonduro/prescriptly/internal/domain"
)

// UploadStore records prescription images kept for pharmacist review. The
// image bytes live in a photostore.PhotoStore under StorageKey.
type UploadStore struct {
	db *sql.DB
}

func NewUploadStore(db *sql.DB) *UploadStore {
	return &UploadStore{db: db}
}

func (s *UploadStore) Create(ctx context.Context, userID, storageKey, mimeType string) (*domain.PrescriptionUpload, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO prescription_uploads (id, user_id, storage_key, mime_type) VALUES (?, ?, ?, ?)
	`, id, userID, storageKey, mimeType)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *UploadStore) GetByID(ctx context.Context, id string) (*domain.PrescriptionUpload, error) {
	u := &domain.PrescriptionUpload{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, storage_key, mime_type, uploaded_at FROM prescription_uploads WHERE id = ?
	`, id).Scan(&u.ID, &u.UserID, &u.StorageKey, &u.MimeType, &u.UploadedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get upload: %w", err)
	}
	return u, nil
}

func (s *UploadStore) ListByUser(ctx context.Context, userID string) ([]*domain.PrescriptionUpload, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, storage_key, mime_type, uploaded_at FROM prescription_uploads
		WHERE user_id = ? ORDER BY uploaded_at DESC, rowid DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list uploads: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("failed to close rows", "error", err)
		}
	}()

	var uploads []*domain.PrescriptionUpload
	for rows.Next() {
		u := &domain.PrescriptionUpload{}
		if err := rows.Scan(&u.ID, &u.UserID, &u.StorageKey, &u.MimeType, &u.UploadedAt); err != nil {
			return nil, fmt.Errorf("failed to scan upload: %w", err)
		}
		uploads = append(uploads, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating uploads: %w", err)
	}
	return uploads, nil
}

func (s *UploadStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM prescription_uploads WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete upload: %w", err)
	}
	return expectAffected(result, "upload")
}
