package sonos

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anicoll/sonos-mqtt/internal/pkg/model"
)

func xmlEscape(t *testing.T, in string) string {
	t.Helper()
	var b bytes.Buffer
	require.NoError(t, xml.EscapeText(&b, []byte(in)))
	return b.String()
}

func notifyBody(t *testing.T, property, inner string) []byte {
	t.Helper()
	return []byte(fmt.Sprintf(
		`<e:propertyset xmlns:e="urn:schemas-upnp-org:event-1-0"><e:property><%s>%s</%s></e:property></e:propertyset>`,
		property, xmlEscape(t, inner), property))
}

const sampleDIDL = `<DIDL-Lite xmlns:dc="http://purl.org/dc/elements/1.1/" xmlns:upnp="urn:schemas-upnp-org:metadata-1-0/upnp/" xmlns="urn:schemas-upnp-org:metadata-1-0/DIDL-Lite/">` +
	`<item id="-1" parentID="-1" restricted="true">` +
	`<res duration="0:03:30">x-sonos-spotify:track123</res>` +
	`<dc:title>So Real</dc:title>` +
	`<dc:creator>Jeff Buckley</dc:creator>` +
	`<upnp:album>Grace</upnp:album>` +
	`<upnp:albumArtURI>/getaa?s=1&amp;u=track123</upnp:albumArtURI>` +
	`</item></DIDL-Lite>`

func TestParseTransportNotify(t *testing.T) {
	lastChange := `<Event xmlns="urn:schemas-upnp-org:metadata-1-0/AVT/"><InstanceID val="0">` +
		`<TransportState val="PLAYING"/>` +
		`<CurrentPlayMode val="SHUFFLE"/>` +
		`<CurrentTrackURI val="x-sonos-spotify:track123"/>` +
		`<CurrentTrackDuration val="0:03:30"/>` +
		`<CurrentTrackMetaData val="` + xmlEscape(t, sampleDIDL) + `"/>` +
		`</InstanceID></Event>`

	events := parseNotify("RINCON1", avTransport, notifyBody(t, "LastChange", lastChange))
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, model.DeviceID("RINCON1"), ev.Device)
	assert.Equal(t, model.EventTransport, ev.Kind)
	require.NotNil(t, ev.Transport)
	assert.Equal(t, "PLAYING", ev.Transport.TransportState)
	assert.Equal(t, "SHUFFLE", ev.Transport.PlayMode)

	track := ev.Transport.CurrentTrack
	require.NotNil(t, track)
	assert.Equal(t, "So Real", track.Title)
	assert.Equal(t, "Jeff Buckley", track.Artist)
	assert.Equal(t, "Grace", track.Album)
	assert.Equal(t, "x-sonos-spotify:track123", track.URI)
	assert.Equal(t, "0:03:30", track.Duration)
}

func TestParseRenderingNotifyKeepsMasterChannel(t *testing.T) {
	lastChange := `<Event xmlns="urn:schemas-upnp-org:metadata-1-0/RCS/"><InstanceID val="0">` +
		`<Volume channel="Master" val="25"/>` +
		`<Volume channel="LF" val="100"/>` +
		`<Volume channel="RF" val="100"/>` +
		`<Mute channel="Master" val="0"/>` +
		`<Bass val="2"/>` +
		`<Treble val="-1"/>` +
		`</InstanceID></Event>`

	events := parseNotify("RINCON1", renderingControl, notifyBody(t, "LastChange", lastChange))
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, model.EventRendering, ev.Kind)
	require.NotNil(t, ev.Rendering)
	require.NotNil(t, ev.Rendering.Volume)
	assert.Equal(t, 25, *ev.Rendering.Volume)
	require.NotNil(t, ev.Rendering.Mute)
	assert.False(t, *ev.Rendering.Mute)
	require.NotNil(t, ev.Rendering.Bass)
	assert.Equal(t, 2, *ev.Rendering.Bass)
	require.NotNil(t, ev.Rendering.Treble)
	assert.Equal(t, -1, *ev.Rendering.Treble)
}

func TestParseTopologyNotifyFansOutPerMember(t *testing.T) {
	zoneState := `<ZoneGroupState><ZoneGroups>` +
		`<ZoneGroup Coordinator="RINCON1" ID="RINCON1:1">` +
		`<ZoneGroupMember UUID="RINCON1" ZoneName="Living Room"/>` +
		`<ZoneGroupMember UUID="RINCON2" ZoneName="Kitchen"/>` +
		`</ZoneGroup>` +
		`<ZoneGroup Coordinator="RINCON3" ID="RINCON3:7">` +
		`<ZoneGroupMember UUID="RINCON3" ZoneName="Bedroom"/>` +
		`</ZoneGroup>` +
		`</ZoneGroups></ZoneGroupState>`

	events := parseNotify("RINCON1", zoneGroupTopology, notifyBody(t, "ZoneGroupState", zoneState))
	require.Len(t, events, 6)

	byDevice := map[model.DeviceID]map[model.EventKind]model.Event{}
	for _, ev := range events {
		if byDevice[ev.Device] == nil {
			byDevice[ev.Device] = map[model.EventKind]model.Event{}
		}
		byDevice[ev.Device][ev.Kind] = ev
	}

	assert.Equal(t, model.DeviceID("RINCON1"), byDevice["RINCON2"][model.EventCoordinator].Coordinator)
	assert.Equal(t, "Living Room + 1", byDevice["RINCON1"][model.EventGroupName].GroupName)
	assert.Equal(t, "Living Room + 1", byDevice["RINCON2"][model.EventGroupName].GroupName)
	assert.Equal(t, "Bedroom", byDevice["RINCON3"][model.EventGroupName].GroupName)
	assert.Equal(t, model.DeviceID("RINCON3"), byDevice["RINCON3"][model.EventCoordinator].Coordinator)
}

func TestParseNotifyMalformedBody(t *testing.T) {
	assert.Nil(t, parseNotify("RINCON1", avTransport, []byte("not xml at all")))
	assert.Nil(t, parseNotify("RINCON1", avTransport, notifyBody(t, "LastChange", "<unclosed")))
}

func TestParseTrackFallbacks(t *testing.T) {
	assert.Nil(t, parseTrack("", "", ""))
	assert.Nil(t, parseTrack("NOT_IMPLEMENTED", "", ""))

	track := parseTrack("NOT_IMPLEMENTED", "x-rincon-stream:RINCON1", "0:00:00")
	require.NotNil(t, track)
	assert.Equal(t, "x-rincon-stream:RINCON1", track.URI)

	// metadata without uri falls back to the transport-supplied one
	noRes := `<DIDL-Lite xmlns:dc="http://purl.org/dc/elements/1.1/" xmlns="urn:schemas-upnp-org:metadata-1-0/DIDL-Lite/">` +
		`<item><dc:title>Radio</dc:title></item></DIDL-Lite>`
	track = parseTrack(noRes, "x-sonosapi-stream:s1234", "0:01:00")
	require.NotNil(t, track)
	assert.Equal(t, "Radio", track.Title)
	assert.Equal(t, "x-sonosapi-stream:s1234", track.URI)
	assert.Equal(t, "0:01:00", track.Duration)
}
