package tests

import (
	"context"
	"database/sql"
	"fmt"
)

// TruncateRegistrations truncates the registrations table for a clean test state.
func TruncateRegistrations(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, "TRUNCATE TABLE registrations")
	if err != nil {
		return fmt.Errorf("truncate registrations: %w", err)
	}
	return nil
}
