package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// SlotsPerPage is the number of pockets on one binder page
const SlotsPerPage = 9

// SlotCode formats a binder pocket code such as "M21-P03-S07"
func SlotCode(setCode string, page, slot int) string {
	return fmt.Sprintf("%s-P%02d-S%02d", setCode, page, slot)
}

// ReserveSlot marks the first free slot of a set as occupied and returns its code
func (s *Store) ReserveSlot(ctx context.Context, setCode string) (string, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var code string
	err = tx.GetContext(ctx, &code, `
		SELECT code FROM storage_slots
		WHERE code LIKE $1 AND is_occupied = FALSE
		ORDER BY code
		LIMIT 1
		FOR UPDATE SKIP LOCKED`, likeEscaper.Replace(setCode)+"-%")
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("free slot for set %q: %w", setCode, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to lock slot: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE storage_slots SET is_occupied = TRUE WHERE code = $1", code); err != nil {
		return "", fmt.Errorf("failed to reserve slot: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit slot reservation: %w", err)
	}
	return code, nil
}

// ReleaseSlot marks a slot as free (compensation and card deletion)
func (s *Store) ReleaseSlot(ctx context.Context, code string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE storage_slots SET is_occupied = FALSE WHERE code = $1", code)
	return err
}

// CreateBinder adds the slots of a binder with the given number of pages.
// Existing codes are left untouched; it returns how many were new.
func (s *Store) CreateBinder(ctx context.Context, setCode string, pages int) (int, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	created := 0
	for page := 1; page <= pages; page++ {
		for slot := 1; slot <= SlotsPerPage; slot++ {
			res, err := tx.ExecContext(ctx,
				"INSERT INTO storage_slots (code, is_occupied) VALUES ($1, FALSE) ON CONFLICT (code) DO NOTHING",
				SlotCode(setCode, page, slot))
			if err != nil {
				return 0, fmt.Errorf("failed to create slot: %w", err)
			}
			if n, err := res.RowsAffected(); err == nil {
				created += int(n)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit binder: %w", err)
	}
	return created, nil
}
