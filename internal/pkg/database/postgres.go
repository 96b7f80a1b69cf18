// Package database is the optional history sink: every published state
// snapshot is appended to Postgres so dashboards can query what played where.
package database

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Database struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Database {
	return &Database{pool: pool}
}

func Connect(ctx context.Context, url string) (*Database, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return New(pool), nil
}

func (db *Database) Close() {
	db.pool.Close()
}

// StateRow is one historical snapshot as stored.
type StateRow struct {
	ID             int64     `json:"id"`
	DeviceID       string    `json:"uuid"`
	TransportState string    `json:"transportState"`
	TrackURI       string    `json:"trackUri"`
	TrackTitle     string    `json:"trackTitle"`
	Volume         *int      `json:"volume"`
	Mute           *bool     `json:"mute"`
	GroupName      string    `json:"groupName"`
	RecordedAt     time.Time `json:"ts"`
}
