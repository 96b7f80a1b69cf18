package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/anicoll/sonos-mqtt/internal/pkg/model"
)

// PublishState publishes the aggregate device state, retained at QoS 0: new
// subscribers get the last known state, delivery is at most once by design.
func (s *service) PublishState(_ context.Context, st model.DeviceState) error {
	payload, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return s.publish(s.topics.State(st.ID), 0, true, payload)
}

// PublishField publishes one field value to the verbose status topic,
// bypassing any coalescing.
func (s *service) PublishField(id model.DeviceID, field string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.publish(s.topics.Status(id, field), 0, true, payload)
}

// PublishReply serializes a command result to <prefix>/<uuid>/<replyTopic>.
func (s *service) PublishReply(id model.DeviceID, replyTopic string, result any) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return s.publish(s.topics.Reply(id, replyTopic), 0, false, payload)
}

// PublishError reports a failed command on the device's error topic.
func (s *service) PublishError(id model.DeviceID, cmdErr model.CommandError) error {
	payload, err := json.Marshal(cmdErr)
	if err != nil {
		return err
	}
	return s.publish(s.topics.Error(id), 0, false, payload)
}

// PublishStatus publishes the bridge connectivity code, retained:
// 0 closing, 1 transport up, 2 devices discovered.
func (s *service) PublishStatus(code int) error {
	return s.publish(s.topics.Connected(), 1, true, []byte(strconv.Itoa(code)))
}

// RegisterDevice satisfies the publisher sink contract by emitting the
// autodiscovery config under the configured discovery prefix.
func (s *service) RegisterDevice(_ context.Context, st model.DeviceState) error {
	return s.PublishAutodiscovery(s.discoveryPrefix, st)
}

// PublishAutodiscovery emits the retained per-device config message under the
// given discovery prefix (Home Assistant convention).
func (s *service) PublishAutodiscovery(discoveryPrefix string, st model.DeviceState) error {
	msg := discoveryMessage(s.topics, st)
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return s.publish(s.topics.Discovery(discoveryPrefix, st.ID), 1, true, payload)
}

func discoveryMessage(topics Topics, st model.DeviceState) model.DiscoveryMessage {
	name := st.Name
	if name == "" {
		name = string(st.ID)
	}
	return model.DiscoveryMessage{
		Tilda:      fmt.Sprintf("%s/%s", topics.Prefix, st.ID),
		Name:       name,
		ID:         strings.ToLower(string(st.ID)),
		StateTopic: "~",
		Device: model.DiscoveryDevice{
			Name:         name,
			Identifiers:  []string{string(st.ID)},
			Model:        st.Model,
			Manufacturer: "Sonos",
		},
	}
}
