package model

import "encoding/json"

// CommandEnvelope is one inbound control message. Device is a selector: a device
// UUID, a network host, or a room name — resolution is the router's job.
type CommandEnvelope struct {
	Device     string          `json:"device,omitempty"`
	Command    string          `json:"command"`
	Payload    json.RawMessage `json:"input,omitempty"`
	ReplyTopic string          `json:"replyTopic,omitempty"`
}

// CommandError is the payload published to a device's error topic when an
// operation fails.
type CommandError struct {
	Command string `json:"command"`
	Error   string `json:"error"`
}

// Global command names accepted on the cmd/<command> topics. These act on the
// whole device set (or a designated coordinator) instead of one resolved device.
const (
	GlobalPauseAll           = "pauseall"
	GlobalNotify             = "notify"
	GlobalListAlarms         = "listalarm"
	GlobalSetAlarm           = "setalarm"
	GlobalSetLogging         = "setlogging"
	GlobalCheckSubscriptions = "check-subscriptions"
)

// NotifyRequest is the payload of the notify global command: play an announcement
// on every group coordinator (or one named device), then restore what was playing.
type NotifyRequest struct {
	TrackURI  string `json:"trackUri,omitempty"`
	Text      string `json:"text,omitempty"`
	Volume    int    `json:"volume,omitempty"`
	Device    string `json:"device,omitempty"`
	TimeoutMs int    `json:"timeoutMs,omitempty"`
}

// AlarmPatch is the payload of the setalarm global command.
type AlarmPatch struct {
	ID      string `json:"id"`
	Enabled *bool  `json:"enabled,omitempty"`
	Volume  *int   `json:"volume,omitempty"`
}
