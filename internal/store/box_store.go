package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mysqldrv "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/vbonduro/storagesync/internal/domain"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

type BoxStore struct {
	db *sql.DB
}

func NewBoxStore(db *sql.DB) *BoxStore {
	return &BoxStore{db: db}
}

const boxColumns = `id, title, barcode, share_handle, created_at`

func (s *BoxStore) Create(ctx context.Context, title, barcode string) (*domain.Box, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO boxes (id, title, barcode, created_at) VALUES (?, ?, ?, ?)
	`, id, title, nullString(barcode), time.Now().UTC())
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("box barcode %s: %w", barcode, domain.ErrDuplicate)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create box: %w", err)
	}

	return s.GetByID(ctx, id)
}

func (s *BoxStore) GetByID(ctx context.Context, id string) (*domain.Box, error) {
	box, err := scanBox(s.db.QueryRowContext(ctx, `
		SELECT `+boxColumns+` FROM boxes WHERE id = ?
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get box: %w", err)
	}

	return box, nil
}

func (s *BoxStore) GetByBarcode(ctx context.Context, barcode string) (*domain.Box, error) {
	box, err := scanBox(s.db.QueryRowContext(ctx, `
		SELECT `+boxColumns+` FROM boxes WHERE barcode = ? LIMIT 1
	`, barcode))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get box by barcode: %w", err)
	}

	return box, nil
}

// List returns every box, newest first.
func (s *BoxStore) List(ctx context.Context) ([]*domain.Box, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+boxColumns+` FROM boxes ORDER BY created_at DESC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list boxes: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("failed to close rows", "error", err)
		}
	}()

	var boxes []*domain.Box
	for rows.Next() {
		box, err := scanBox(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan box: %w", err)
		}
		boxes = append(boxes, box)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating boxes: %w", err)
	}

	return boxes, nil
}

// SetShareHandle stores handle unless the box already has one. It reports
// whether handle was applied; a box that is already shared keeps its handle.
func (s *BoxStore) SetShareHandle(ctx context.Context, id, handle string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE boxes SET share_handle = ? WHERE id = ? AND share_handle IS NULL
	`, handle, id)
	if err != nil {
		return false, fmt.Errorf("failed to set share handle: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 1 {
		return true, nil
	}

	box, err := s.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	if box == nil {
		return false, fmt.Errorf("box %s: %w", id, domain.ErrNotFound)
	}
	return false, nil
}

func (s *BoxStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM boxes WHERE id = ?
	`, id)
	if err != nil {
		return fmt.Errorf("failed to delete box: %w", err)
	}

	return requireAffected(result, "box", id)
}

// DeleteCascade removes the box with its items and photo records in one
// transaction and returns the removed photos so their files can be cleaned up
// after commit. On error nothing is removed.
func (s *BoxStore) DeleteCascade(ctx context.Context, id string) (photos []*domain.Photo, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				slog.Error("failed to roll back box delete", "box_id", id, "error", rbErr)
			}
		}
	}()

	photos, err = listPhotos(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM photos WHERE box_id = ?`, id); err != nil {
		return nil, fmt.Errorf("failed to delete photos for box: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM items WHERE box_id = ?`, id); err != nil {
		return nil, fmt.Errorf("failed to delete items for box: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM boxes WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to delete box: %w", err)
	}
	if err = requireAffected(result, "box", id); err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit box delete: %w", err)
	}
	return photos, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanBox(row rowScanner) (*domain.Box, error) {
	box := &domain.Box{}
	var barcode, share sql.NullString
	if err := row.Scan(&box.ID, &box.Title, &barcode, &share, &box.CreatedAt); err != nil {
		return nil, err
	}
	box.Barcode = barcode.String
	box.ShareHandle = share.String
	return box, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func requireAffected(result sql.Result, kind, id string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, domain.ErrNotFound)
	}

	return nil
}

// isUniqueViolation reports whether err is a unique constraint failure from
// either supported driver.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			strings.Contains(liteErr.Error(), "UNIQUE constraint failed")
	}
	var myErr *mysqldrv.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062 // ER_DUP_ENTRY
	}
	return false
}
