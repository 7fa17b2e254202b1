package mysql

import (
	"context"
	"database/sql"
	"fmt"
)

// namedLock is a MySQL GET_LOCK lock. It belongs to the session, so acquire and release
// must use the same connection.
type namedLock struct {
	name string
}

func (l namedLock) acquire(ctx context.Context, conn *sql.Conn) (bool, error) {
	var got sql.NullInt64
	if err := conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, 0)", l.name).Scan(&got); err != nil {
		return false, fmt.Errorf("actionqueue mysql: acquire lock %s failed: %w", l.name, err)
	}

	return got.Valid && got.Int64 == 1, nil
}

func (l namedLock) release(ctx context.Context, conn *sql.Conn) error {
	var released sql.NullInt64
	if err := conn.QueryRowContext(ctx, "SELECT RELEASE_LOCK(?)", l.name).Scan(&released); err != nil {
		return fmt.Errorf("actionqueue mysql: release lock %s failed: %w", l.name, err)
	}

	return nil
}
