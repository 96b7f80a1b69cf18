package sonos

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/anicoll/sonos-mqtt/internal/pkg/config"
	"github.com/anicoll/sonos-mqtt/internal/pkg/model"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	zap.ReplaceGlobals(zaptest.NewLogger(t))
	return New(&config.SonosConfig{}, nil)
}

func livingRoom() *player {
	return &player{
		ID:    "RINCON_000E58ABCDEF01400",
		Host:  "192.168.1.20",
		Name:  "Living Room",
		Slug:  model.NameSlug("Living Room"),
		Model: "Sonos One",
	}
}

func TestParseDescription(t *testing.T) {
	data := []byte(`<?xml version="1.0"?>
		<root xmlns="urn:schemas-upnp-org:device-1-0">
			<device>
				<UDN>uuid:RINCON_000E58ABCDEF01400</UDN>
				<roomName>Living Room</roomName>
				<modelName>Sonos One</modelName>
				<friendlyName>192.168.1.20 - Sonos One</friendlyName>
			</device>
		</root>`)

	p, err := parseDescription("192.168.1.20", data)
	require.NoError(t, err)
	assert.Equal(t, model.DeviceID("RINCON_000E58ABCDEF01400"), p.ID)
	assert.Equal(t, "192.168.1.20", p.Host)
	assert.Equal(t, "Living Room", p.Name)
	assert.Equal(t, "living-room", p.Slug)
	assert.Equal(t, "Sonos One", p.Model)
}

func TestParseDescriptionFriendlyNameFallback(t *testing.T) {
	data := []byte(`<root><device>
		<UDN>uuid:RINCON_AA</UDN>
		<friendlyName>Portable</friendlyName>
	</device></root>`)

	p, err := parseDescription("192.168.1.30", data)
	require.NoError(t, err)
	assert.Equal(t, "Portable", p.Name)
	assert.Equal(t, "portable", p.Slug)
}

func TestParseDescriptionWithoutUDN(t *testing.T) {
	_, err := parseDescription("192.168.1.30", []byte(`<root><device><roomName>Attic</roomName></device></root>`))
	assert.Error(t, err)
}

func TestSoapArgsEscapesValues(t *testing.T) {
	args := soapArgs("InstanceID", "0", "CurrentURI", `x-sonos://track?a=1&b="2"`)
	assert.Equal(t,
		`<InstanceID>0</InstanceID><CurrentURI>x-sonos://track?a=1&amp;b=&#34;2&#34;</CurrentURI>`,
		args)
}

func TestExtractValue(t *testing.T) {
	body := []byte(`<u:GetVolumeResponse><CurrentVolume>42</CurrentVolume></u:GetVolumeResponse>`)
	assert.Equal(t, "42", extractValue(body, "CurrentVolume"))
	assert.Equal(t, "", extractValue(body, "CurrentMute"))

	escaped := []byte(`<r><TrackMetaData>&lt;DIDL-Lite&gt;</TrackMetaData></r>`)
	assert.Equal(t, "<DIDL-Lite>", extractValue(escaped, "TrackMetaData"))
}

func TestInvokeUnknownDevice(t *testing.T) {
	s := newTestService(t)
	_, err := s.Invoke(context.Background(), "RINCON_GHOST", "play", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown device")
}

func TestInvokeUnknownCommand(t *testing.T) {
	s := newTestService(t)
	s.addPlayer(livingRoom())

	_, err := s.Invoke(context.Background(), "RINCON_000E58ABCDEF01400", "explode", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command")
}

func TestInvokeRejectsBadPayload(t *testing.T) {
	s := newTestService(t)
	s.addPlayer(livingRoom())

	_, err := s.Invoke(context.Background(), "RINCON_000E58ABCDEF01400", "volume", []byte(`"loud"`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "numeric")
}

func TestMatchesSelector(t *testing.T) {
	p := livingRoom()

	assert.True(t, matchesSelector(p, "RINCON_000E58ABCDEF01400"))
	assert.True(t, matchesSelector(p, "rincon_000e58abcdef01400"))
	assert.True(t, matchesSelector(p, "192.168.1.20"))
	assert.True(t, matchesSelector(p, "Living Room"))
	assert.True(t, matchesSelector(p, "living-room"))
	assert.False(t, matchesSelector(p, "Kitchen"))
}

func TestAddPlayerDeduplicatesByUUID(t *testing.T) {
	s := newTestService(t)
	s.addPlayer(livingRoom())

	moved := livingRoom()
	moved.Host = "192.168.1.99"
	s.addPlayer(moved)

	devices := s.Devices()
	require.Len(t, devices, 1)
	assert.Equal(t, "192.168.1.99", devices[0].Host)
	require.NotNil(t, s.Events("RINCON_000E58ABCDEF01400"))
}

func TestCoordinators(t *testing.T) {
	s := newTestService(t)
	coordinator := livingRoom()
	s.addPlayer(coordinator)

	follower := &player{ID: "RINCON_FOLLOWER", Host: "192.168.1.21", Name: "Kitchen", Slug: "kitchen"}
	s.addPlayer(follower)
	s.players[follower.ID].Coordinator = coordinator.ID
	s.players[coordinator.ID].Coordinator = coordinator.ID

	got := s.coordinators()
	require.Len(t, got, 1)
	assert.Equal(t, coordinator.ID, got[0].ID)
}

func TestNotifyTimeout(t *testing.T) {
	assert.Equal(t, defaultNotifyTimeout, notifyTimeout(model.NotifyRequest{}))
	assert.Equal(t, defaultNotifyTimeout, notifyTimeout(model.NotifyRequest{TimeoutMs: -5}))
	assert.Equal(t, 1500*time.Millisecond, notifyTimeout(model.NotifyRequest{TimeoutMs: 1500}))
}
