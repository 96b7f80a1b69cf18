package mqtt

import (
	"fmt"
	"strings"

	"github.com/anicoll/sonos-mqtt/internal/pkg/model"
)

// Topics derives every topic the bridge touches from one prefix. The shapes are
// compatibility-critical: state lives at <prefix>/<uuid>, per-field values at
// <prefix>/status/<uuid>/<field>, command replies at <prefix>/<uuid>/<reply>,
// command errors at <prefix>/<uuid>/error.
type Topics struct {
	Prefix string
}

func (t Topics) State(id model.DeviceID) string {
	return fmt.Sprintf("%s/%s", t.Prefix, id)
}

func (t Topics) Status(id model.DeviceID, field string) string {
	return fmt.Sprintf("%s/status/%s/%s", t.Prefix, id, field)
}

func (t Topics) Reply(id model.DeviceID, replyTopic string) string {
	return fmt.Sprintf("%s/%s/%s", t.Prefix, id, replyTopic)
}

func (t Topics) Error(id model.DeviceID) string {
	return t.Reply(id, "error")
}

func (t Topics) Connected() string {
	return t.Prefix + "/connected"
}

func (t Topics) Discovery(discoveryPrefix string, id model.DeviceID) string {
	return fmt.Sprintf("%s/media_player/%s/config", discoveryPrefix, strings.ToLower(string(id)))
}

// DeviceControl is the subscription filter for per-device command envelopes;
// the wildcard segment is the device selector.
func (t Topics) DeviceControl() string {
	return t.Prefix + "/+/control"
}

// GlobalCommand is the subscription filter for broadcast commands; the wildcard
// segment is the command name.
func (t Topics) GlobalCommand() string {
	return t.Prefix + "/cmd/+"
}

// ControlSelector extracts the device selector from a control topic, or "" when
// the topic has a different shape.
func (t Topics) ControlSelector(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != t.Prefix || parts[2] != "control" {
		return ""
	}
	return parts[1]
}

// CommandName extracts the command from a global cmd topic, or "".
func (t Topics) CommandName(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != t.Prefix || parts[1] != "cmd" {
		return ""
	}
	return parts[2]
}
