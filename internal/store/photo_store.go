package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/vbonduro/storagesync/internal/domain"
)

type PhotoStore struct {
	db *sql.DB
}

func NewPhotoStore(db *sql.DB) *PhotoStore {
	return &PhotoStore{db: db}
}

const photoColumns = `id, box_id, storage_key, mime_type, created_at`

func (s *PhotoStore) Create(ctx context.Context, boxID, storageKey, mimeType string) (*domain.Photo, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO photos (id, box_id, storage_key, mime_type, created_at) VALUES (?, ?, ?, ?, ?)
	`, id, boxID, storageKey, mimeType, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to create photo: %w", err)
	}

	return s.GetByID(ctx, id)
}

func (s *PhotoStore) GetByID(ctx context.Context, id string) (*domain.Photo, error) {
	photo := &domain.Photo{}
	err := s.db.QueryRowContext(ctx, `
		SELECT `+photoColumns+` FROM photos WHERE id = ?
	`, id).Scan(&photo.ID, &photo.BoxID, &photo.StorageKey, &photo.MimeType, &photo.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get photo: %w", err)
	}

	return photo, nil
}

// ListByBoxID returns the photos of one box, oldest first.
func (s *PhotoStore) ListByBoxID(ctx context.Context, boxID string) ([]*domain.Photo, error) {
	return listPhotos(ctx, s.db, boxID)
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func listPhotos(ctx context.Context, q queryer, boxID string) ([]*domain.Photo, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+photoColumns+` FROM photos
		WHERE box_id = ? ORDER BY created_at ASC, id ASC
	`, boxID)
	if err != nil {
		return nil, fmt.Errorf("failed to list photos: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("failed to close rows", "error", err)
		}
	}()

	var photos []*domain.Photo
	for rows.Next() {
		photo := &domain.Photo{}
		if err := rows.Scan(&photo.ID, &photo.BoxID, &photo.StorageKey, &photo.MimeType, &photo.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan photo: %w", err)
		}
		photos = append(photos, photo)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating photos: %w", err)
	}

	return photos, nil
}

// DeleteByBoxID removes every photo record of a box and returns what was
// removed so the caller can clean up the stored files.
func (s *PhotoStore) DeleteByBoxID(ctx context.Context, boxID string) ([]*domain.Photo, error) {
	photos, err := s.ListByBoxID(ctx, boxID)
	if err != nil {
		return nil, fmt.Errorf("failed to get photos for box: %w", err)
	}
	if len(photos) == 0 {
		return nil, nil
	}

	_, err = s.db.ExecContext(ctx, `
		DELETE FROM photos WHERE box_id = ?
	`, boxID)
	if err != nil {
		return nil, fmt.Errorf("failed to delete photos for box: %w", err)
	}

	return photos, nil
}

func (s *PhotoStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM photos WHERE id = ?
	`, id)
	if err != nil {
		return fmt.Errorf("failed to delete photo: %w", err)
	}

	return requireAffected(result, "photo", id)
}
