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

type ItemStore struct {
	db *sql.DB
}

func NewItemStore(db *sql.DB) *ItemStore {
	return &ItemStore{db: db}
}

const itemColumns = `id, box_id, name, note, created_at`

func (s *ItemStore) Create(ctx context.Context, boxID, name, note string) (*domain.Item, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO items (id, box_id, name, note, created_at) VALUES (?, ?, ?, ?, ?)
	`, id, boxID, name, note, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to create item: %w", err)
	}

	return s.GetByID(ctx, id)
}

func (s *ItemStore) GetByID(ctx context.Context, id string) (*domain.Item, error) {
	item, err := scanItem(s.db.QueryRowContext(ctx, `
		SELECT `+itemColumns+` FROM items WHERE id = ?
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}

	return item, nil
}

// ListByBoxID returns the items of one box in name order.
func (s *ItemStore) ListByBoxID(ctx context.Context, boxID string) ([]*domain.Item, error) {
	return s.query(ctx, `
		SELECT `+itemColumns+` FROM items
		WHERE box_id = ? ORDER BY name ASC, id ASC
	`, boxID)
}

// ListAll returns at most limit items in creation order. Rows are returned as
// stored: a blank name or a missing box reference is left for the caller to
// judge.
func (s *ItemStore) ListAll(ctx context.Context, limit int) ([]*domain.Item, error) {
	return s.query(ctx, `
		SELECT `+itemColumns+` FROM items
		ORDER BY created_at ASC, id ASC LIMIT ?
	`, limit)
}

// Replace overwrites the mutable fields of an item. The owning box is never
// reassigned.
func (s *ItemStore) Replace(ctx context.Context, id, name, note string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE items SET name = ?, note = ? WHERE id = ?
	`, name, note, id)
	if err != nil {
		return fmt.Errorf("failed to update item: %w", err)
	}

	return requireAffected(result, "item", id)
}

func (s *ItemStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM items WHERE id = ?
	`, id)
	if err != nil {
		return fmt.Errorf("failed to delete item: %w", err)
	}

	return requireAffected(result, "item", id)
}

func (s *ItemStore) DeleteByBoxID(ctx context.Context, boxID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM items WHERE box_id = ?
	`, boxID)
	if err != nil {
		return fmt.Errorf("failed to delete items: %w", err)
	}

	return nil
}

func (s *ItemStore) query(ctx context.Context, query string, args ...any) ([]*domain.Item, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("failed to close rows", "error", err)
		}
	}()

	var items []*domain.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating items: %w", err)
	}

	return items, nil
}

func scanItem(row rowScanner) (*domain.Item, error) {
	item := &domain.Item{}
	var boxID sql.NullString
	if err := row.Scan(&item.ID, &boxID, &item.Name, &item.Note, &item.CreatedAt); err != nil {
		return nil, err
	}
	item.BoxID = boxID.String
	return item, nil
}
