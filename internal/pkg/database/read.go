package database

import (
	"context"
	"time"

	"github.com/anicoll/sonos-mqtt/internal/pkg/model"
)

// StateHistory returns the stored snapshots for one device, newest first.
func (db *Database) StateHistory(ctx context.Context, id model.DeviceID, since time.Time, limit int) ([]StateRow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.pool.Query(ctx, `
		SELECT id, uuid, transport_state, track_uri, track_title, volume, mute, group_name, recorded_at
		FROM device_state
		WHERE uuid = $1 AND recorded_at >= $2
		ORDER BY recorded_at DESC
		LIMIT $3
	`, string(id), since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StateRow
	for rows.Next() {
		var r StateRow
		if err := rows.Scan(&r.ID, &r.DeviceID, &r.TransportState, &r.TrackURI, &r.TrackTitle,
			&r.Volume, &r.Mute, &r.GroupName, &r.RecordedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
