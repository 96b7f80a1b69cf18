// Package state owns the in-memory device records and the merge semantics that
// turn partial event updates into an aggregate per-device state.
package state

import (
	"sync"
	"time"

	"github.com/anicoll/sonos-mqtt/internal/pkg/model"
)

// Store maps device identity to its aggregate state record. Records are seeded
// once by enumeration and then mutated only through Merge; there is no removal
// path — a device going offline keeps its last known state.
type Store struct {
	mu      sync.RWMutex
	devices map[model.DeviceID]*model.DeviceState
	now     func() time.Time
}

func New() *Store {
	return &Store{
		devices: make(map[model.DeviceID]*model.DeviceState),
		now:     time.Now,
	}
}

// Seed creates the record for a freshly enumerated device. Seeding an identity
// that already exists refreshes the identity fields but keeps merged state.
func (s *Store) Seed(d model.DeviceState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.devices[d.ID]; ok {
		existing.Host = d.Host
		existing.Model = d.Model
		existing.Name = d.Name
		existing.Slug = d.Slug
		return
	}
	rec := d
	s.devices[d.ID] = &rec
}

// Merge copies every non-nil field of u over the record for id, then stamps
// UpdatedAt unconditionally so freshness reflects event arrival rather than
// value change. An unknown identity is a no-op and returns false: records are
// seeded only by enumeration, and events racing ahead of it during startup are
// deliberately ignored rather than creating half-formed records.
func (s *Store) Merge(id model.DeviceID, u model.StateUpdate) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.devices[id]
	if !ok {
		return false
	}
	if u.GroupName != nil {
		rec.GroupName = *u.GroupName
	}
	if u.Coordinator != nil {
		rec.Coordinator = *u.Coordinator
	}
	if u.TransportState != nil {
		rec.TransportState = *u.TransportState
	}
	if u.CurrentTrack != nil {
		rec.CurrentTrack = u.CurrentTrack
	}
	if u.EnqueuedMetadata != nil {
		rec.EnqueuedMetadata = u.EnqueuedMetadata
	}
	if u.NextTrack != nil {
		rec.NextTrack = u.NextTrack
	}
	if u.TrackURI != nil {
		// Copy-on-write: snapshots handed out by Get/All share the Track
		// pointer, so the existing Track must never be mutated in place.
		track := model.Track{}
		if rec.CurrentTrack != nil {
			track = *rec.CurrentTrack
		}
		track.URI = *u.TrackURI
		rec.CurrentTrack = &track
	}
	if u.PlayMode != nil {
		rec.PlayMode = *u.PlayMode
	}
	if u.Volume != nil {
		rec.Volume = u.Volume
	}
	if u.Mute != nil {
		rec.Mute = u.Mute
	}
	if u.Bass != nil {
		rec.Bass = u.Bass
	}
	if u.Treble != nil {
		rec.Treble = u.Treble
	}
	rec.UpdatedAt = s.now()
	return true
}

// Get returns a copy of the record for id.
func (s *Store) Get(id model.DeviceID) (model.DeviceState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.devices[id]
	if !ok {
		return model.DeviceState{}, false
	}
	return *rec, true
}

// All returns a copy of every record.
func (s *Store) All() []model.DeviceState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.DeviceState, 0, len(s.devices))
	for _, rec := range s.devices {
		out = append(out, *rec)
	}
	return out
}
