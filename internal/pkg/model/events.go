package model

// EventKind tags the variants of the per-device event union.
type EventKind string

const (
	EventTransport      EventKind = "avtransport"
	EventRendering      EventKind = "renderingcontrol"
	EventGroupName      EventKind = "groupname"
	EventCoordinator    EventKind = "coordinator"
	EventTransportState EventKind = "transportstate"
	EventTrackMetadata  EventKind = "trackmetadata"
	EventTrackURI       EventKind = "trackuri"
	EventMute           EventKind = "mute"
	EventVolume         EventKind = "volume"
)

// TransportEvent carries the fields of an AVTransport LastChange notification.
type TransportEvent struct {
	TransportState   string
	CurrentTrack     *Track
	EnqueuedMetadata *Track
	NextTrack        *Track
	PlayMode         string
}

// RenderingEvent carries the fields of a RenderingControl LastChange notification.
// Nil fields were not present in the notification.
type RenderingEvent struct {
	Volume *int
	Mute   *bool
	Bass   *int
	Treble *int
}

// Event is the tagged union flowing over each device's event channel. Exactly the
// variant named by Kind is populated.
type Event struct {
	Device DeviceID
	Kind   EventKind

	Transport      *TransportEvent
	Rendering      *RenderingEvent
	GroupName      string
	Coordinator    DeviceID
	TransportState string
	TrackMetadata  *Track
	TrackURI       string
	Mute           bool
	Volume         int
}

// Update maps an event variant onto the partial-state update it represents.
// Transport events fan out to the track/play-mode fields, rendering events to the
// audio fields, and the single-field variants map one to one. Every producer goes
// through the same merge contract afterwards.
func (e Event) Update() StateUpdate {
	switch e.Kind {
	case EventTransport:
		u := StateUpdate{
			CurrentTrack:     e.Transport.CurrentTrack,
			EnqueuedMetadata: e.Transport.EnqueuedMetadata,
			NextTrack:        e.Transport.NextTrack,
		}
		if e.Transport.PlayMode != "" {
			u.PlayMode = &e.Transport.PlayMode
		}
		if e.Transport.TransportState != "" {
			u.TransportState = &e.Transport.TransportState
		}
		return u
	case EventRendering:
		return StateUpdate{
			Volume: e.Rendering.Volume,
			Mute:   e.Rendering.Mute,
			Bass:   e.Rendering.Bass,
			Treble: e.Rendering.Treble,
		}
	case EventGroupName:
		return StateUpdate{GroupName: &e.GroupName}
	case EventCoordinator:
		return StateUpdate{Coordinator: &e.Coordinator}
	case EventTransportState:
		return StateUpdate{TransportState: &e.TransportState}
	case EventTrackMetadata:
		return StateUpdate{CurrentTrack: e.TrackMetadata}
	case EventTrackURI:
		return StateUpdate{TrackURI: &e.TrackURI}
	case EventMute:
		return StateUpdate{Mute: &e.Mute}
	case EventVolume:
		return StateUpdate{Volume: &e.Volume}
	}
	return StateUpdate{}
}
