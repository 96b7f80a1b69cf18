// Package publisher fans device state out to every registered sink. The MQTT
// transport is always registered; a Postgres history sink joins it when a
// database is configured.
package publisher

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/anicoll/sonos-mqtt/internal/pkg/model"
)

var errAlreadyRegistered = errors.New("publisher already registered")

var (
	mu                   sync.RWMutex
	registeredPublishers = make(map[string]Sink)
)

// Sink accepts device state snapshots and device registrations.
type Sink interface {
	PublishState(ctx context.Context, st model.DeviceState) error
	RegisterDevice(ctx context.Context, st model.DeviceState) error
}

func Register(name string, sink Sink) error {
	mu.Lock()
	defer mu.Unlock()
	if _, ok := registeredPublishers[name]; ok {
		return errAlreadyRegistered
	}
	registeredPublishers[name] = sink
	return nil
}

// Reset drops all registrations; test hook.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	registeredPublishers = make(map[string]Sink)
}

// PublishState hands the snapshot to every sink. A failing sink is logged and
// skipped so one slow or broken destination cannot block the others.
func PublishState(ctx context.Context, st model.DeviceState) {
	mu.RLock()
	defer mu.RUnlock()
	for name, sink := range registeredPublishers {
		if err := sink.PublishState(ctx, st); err != nil {
			zap.L().Error("failed to publish state", zap.Error(err), zap.String("publisher", name), zap.String("uuid", string(st.ID)))
			continue
		}
		zap.L().Debug("published state", zap.String("publisher", name), zap.String("uuid", string(st.ID)))
	}
}

// RegisterDevice announces a newly enumerated device to every sink.
func RegisterDevice(ctx context.Context, st model.DeviceState) {
	mu.RLock()
	defer mu.RUnlock()
	for name, sink := range registeredPublishers {
		if err := sink.RegisterDevice(ctx, st); err != nil {
			zap.L().Error("failed to register device", zap.Error(err), zap.String("publisher", name), zap.String("uuid", string(st.ID)))
			continue
		}
		zap.L().Debug("registered device", zap.String("publisher", name), zap.String("uuid", string(st.ID)))
	}
}
