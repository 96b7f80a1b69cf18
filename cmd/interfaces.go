package cmd

import (
	"context"
	"encoding/json"

	"github.com/anicoll/sonos-mqtt/internal/pkg/model"
	"github.com/anicoll/sonos-mqtt/internal/pkg/mqtt"
)

// SonosService is what run expects from the device layer.
type SonosService interface {
	Discover(ctx context.Context) error
	StartEventing(ctx context.Context) error
	Devices() []model.DeviceState
	Events(id model.DeviceID) <-chan model.Event
	Invoke(ctx context.Context, id model.DeviceID, command string, payload json.RawMessage) (any, error)
	PauseAll(ctx context.Context)
	Notify(ctx context.Context, req model.NotifyRequest) error
	ListAlarms(ctx context.Context) (any, error)
	PatchAlarm(ctx context.Context, patch model.AlarmPatch) error
	CheckSubscriptions(ctx context.Context) error
	Close() error
}

// MqttService is what run expects from the transport layer. It doubles as a
// publisher sink for aggregate state.
type MqttService interface {
	Handlers(onDevice mqtt.DeviceCommandHandler, onGlobal mqtt.GlobalCommandHandler, onConnChange func(bool))
	Connect() error
	Disconnect()
	PublishState(ctx context.Context, st model.DeviceState) error
	RegisterDevice(ctx context.Context, st model.DeviceState) error
	PublishField(id model.DeviceID, field string, value any) error
	PublishReply(id model.DeviceID, replyTopic string, result any) error
	PublishError(id model.DeviceID, cmdErr model.CommandError) error
	PublishStatus(code int) error
}
