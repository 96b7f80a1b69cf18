package model

import (
	"time"

	"github.com/gosimple/slug"
)

// DeviceID is the stable identity of a zone player, e.g. "RINCON_000E58ABCDEF01400".
type DeviceID string

func (id DeviceID) String() string {
	return string(id)
}

// Track holds the metadata of a single playable item.
type Track struct {
	Title       string `json:"title,omitempty"`
	Artist      string `json:"artist,omitempty"`
	Album       string `json:"album,omitempty"`
	AlbumArtURI string `json:"albumArtUri,omitempty"`
	URI         string `json:"uri,omitempty"`
	Duration    string `json:"duration,omitempty"`
}

// DeviceState is the aggregate record kept per device. Identity fields (ID, Host,
// Model, Name, Slug) are set once when the device is enumerated; everything else
// arrives piecemeal through merges and stays absent until first observed.
type DeviceState struct {
	ID               DeviceID `json:"uuid"`
	Host             string   `json:"host"`
	Model            string   `json:"model,omitempty"`
	Name             string   `json:"name,omitempty"`
	Slug             string   `json:"-"`
	GroupName        string   `json:"groupName,omitempty"`
	Coordinator      DeviceID `json:"coordinatorUuid,omitempty"`
	TransportState   string   `json:"transportState,omitempty"`
	CurrentTrack     *Track   `json:"currentTrack,omitempty"`
	EnqueuedMetadata *Track   `json:"enqueuedMetadata,omitempty"`
	NextTrack        *Track   `json:"nextTrack,omitempty"`
	PlayMode         string   `json:"playMode,omitempty"`
	Volume           *int     `json:"volume,omitempty"`
	Mute             *bool    `json:"mute,omitempty"`
	Bass             *int     `json:"bass,omitempty"`
	Treble           *int     `json:"treble,omitempty"`

	// UpdatedAt tracks event arrival, not value change. It moves on every merge.
	UpdatedAt time.Time `json:"ts"`
}

// StateUpdate carries the fields present in one device event. A nil field means
// "unchanged", never "clear" — merging copies only the non-nil fields so that
// handlers carrying a subset of fields cannot erase unrelated state.
type StateUpdate struct {
	GroupName        *string
	Coordinator      *DeviceID
	TransportState   *string
	CurrentTrack     *Track
	EnqueuedMetadata *Track
	NextTrack        *Track
	TrackURI         *string
	PlayMode         *string
	Volume           *int
	Mute             *bool
	Bass             *int
	Treble           *int
}

// NameSlug normalizes a room name for use as a command selector,
// e.g. "Living Room" -> "living-room".
func NameSlug(name string) string {
	return slug.Make(name)
}
