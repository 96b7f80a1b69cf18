package model

// DiscoveryDevice identifies a zone player inside an autodiscovery message.
type DiscoveryDevice struct {
	Name         string   `json:"name"`
	Identifiers  []string `json:"identifiers"`
	Model        string   `json:"model"`
	Manufacturer string   `json:"manufacturer"`
}

// DiscoveryMessage is the retained per-device autodiscovery payload, shaped the
// way Home Assistant expects media player config messages.
type DiscoveryMessage struct {
	Tilda      string          `json:"~"`
	Name       string          `json:"name"`
	ID         string          `json:"unique_id"`
	StateTopic string          `json:"state_topic"`
	Device     DiscoveryDevice `json:"device"`
}

// Connectivity status codes published to the connected topic.
const (
	StatusClosing     = 0
	StatusTransportUp = 1
	StatusDevicesUp   = 2
)
