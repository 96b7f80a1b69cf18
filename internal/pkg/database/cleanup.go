package database

import (
	"context"
	"time"
)

const historyRetention = 30 * 24 * time.Hour

// Cleanup removes history rows past the retention window.
func (db *Database) Cleanup(ctx context.Context) error {
	_, err := db.pool.Exec(ctx, "DELETE FROM device_state WHERE recorded_at < $1",
		time.Now().Add(-historyRetention))
	return err
}
