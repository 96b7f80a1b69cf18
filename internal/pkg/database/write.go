package database

import (
	"context"

	"github.com/anicoll/sonos-mqtt/internal/pkg/model"
)

// PublishState satisfies the publisher sink contract by appending a history
// row.
func (db *Database) PublishState(ctx context.Context, st model.DeviceState) error {
	trackURI, trackTitle := "", ""
	if st.CurrentTrack != nil {
		trackURI = st.CurrentTrack.URI
		trackTitle = st.CurrentTrack.Title
	}
	_, err := db.pool.Exec(ctx, `
		INSERT INTO device_state (uuid, transport_state, track_uri, track_title, volume, mute, group_name, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, string(st.ID), st.TransportState, trackURI, trackTitle, st.Volume, st.Mute, st.GroupName, st.UpdatedAt)
	return err
}

// RegisterDevice upserts the device row enumeration found.
func (db *Database) RegisterDevice(ctx context.Context, st model.DeviceState) error {
	_, err := db.pool.Exec(ctx, `
		INSERT INTO device (uuid, host, name, model)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (uuid) DO UPDATE SET host = $2, name = $3, model = $4
	`, string(st.ID), st.Host, st.Name, st.Model)
	return err
}
