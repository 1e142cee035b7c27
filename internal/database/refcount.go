package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"boxstore/internal/box"
	"boxstore/internal/database/sqlc"
)

// RefCountTable persists one account's object reference counts. Rows only
// exist for objects with a positive count.
type RefCountTable struct {
	db        *sql.DB
	queries   *sqlc.Queries
	accountID int64
}

func (r *RefCountTable) Get(ctx context.Context, id box.ObjectID) (int64, error) {
	n, err := r.queries.GetRefCount(ctx, sqlc.GetRefCountParams{AccountID: r.accountID, ObjectID: int64(id)})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("getting reference count: %w", err)
	}
	return n, nil
}

func (r *RefCountTable) AddReference(ctx context.Context, id box.ObjectID) error {
	err := r.queries.IncrementRefCount(ctx, sqlc.IncrementRefCountParams{AccountID: r.accountID, ObjectID: int64(id)})
	if err != nil {
		return fmt.Errorf("adding reference to %d: %w", id, err)
	}
	return nil
}

func (r *RefCountTable) RemoveReference(ctx context.Context, id box.ObjectID) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	qtx := r.queries.WithTx(tx)
	key := sqlc.GetRefCountParams{AccountID: r.accountID, ObjectID: int64(id)}

	n, err := qtx.GetRefCount(ctx, key)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	} else if err != nil {
		return 0, fmt.Errorf("getting reference count: %w", err)
	}

	if n <= 1 {
		err = qtx.DeleteRefCount(ctx, sqlc.DeleteRefCountParams{AccountID: r.accountID, ObjectID: int64(id)})
		n = 0
	} else {
		err = qtx.DecrementRefCount(ctx, sqlc.DecrementRefCountParams{AccountID: r.accountID, ObjectID: int64(id)})
		n--
	}
	if err != nil {
		return 0, fmt.Errorf("removing reference from %d: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing transaction: %w", err)
	}
	return n, nil
}

func (r *RefCountTable) All(ctx context.Context) (map[box.ObjectID]int64, error) {
	rows, err := r.queries.ListRefCounts(ctx, r.accountID)
	if err != nil {
		return nil, fmt.Errorf("listing reference counts: %w", err)
	}
	out := make(map[box.ObjectID]int64, len(rows))
	for _, row := range rows {
		out[box.ObjectID(row.ObjectID)] = row.Count
	}
	return out, nil
}

// ReplaceAll swaps the whole table in one transaction.
func (r *RefCountTable) ReplaceAll(ctx context.Context, counts map[box.ObjectID]int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	qtx := r.queries.WithTx(tx)
	if err := qtx.DeleteRefCountsForAccount(ctx, r.accountID); err != nil {
		return fmt.Errorf("clearing reference counts: %w", err)
	}
	for id, n := range counts {
		if n <= 0 {
			continue
		}
		err := qtx.InsertRefCount(ctx, sqlc.InsertRefCountParams{
			AccountID: r.accountID,
			ObjectID:  int64(id),
			Count:     n,
		})
		if err != nil {
			return fmt.Errorf("inserting reference count for %d: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

var _ box.RefCountTable = (*RefCountTable)(nil)
