package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/anicoll/sonos-mqtt/internal/pkg/model"
)

const dispatchTimeout = 30 * time.Second

// ErrDeviceNotFound is returned by Execute when no device matches the selector.
var ErrDeviceNotFound = errors.New("no device matches selector")

// Dispatch routes one inbound command envelope. It returns immediately; the
// resolution, execution and result publishing run on their own goroutine so a
// slow device never holds up other envelopes.
func (b *Bridge) Dispatch(env model.CommandEnvelope) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				b.logger.Error("command dispatch panicked", zap.String("command", env.Command), zap.Any("panic", r))
			}
		}()
		b.dispatch(env)
	}()
}

func (b *Bridge) dispatch(env model.CommandEnvelope) {
	dev, ok := b.Resolve(env.Device)
	if !ok {
		// No identity resolved means no error topic to address; log and drop.
		b.logger.Info("no device matches selector, dropping command",
			zap.String("selector", env.Device), zap.String("command", env.Command))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()

	result, err := b.source.Invoke(ctx, dev.ID, env.Command, env.Payload)
	if err != nil {
		b.logger.Warn("command failed",
			zap.String("command", env.Command), zap.String("uuid", string(dev.ID)), zap.Error(err))
		if perr := b.sink.PublishError(dev.ID, model.CommandError{Command: env.Command, Error: err.Error()}); perr != nil {
			b.logger.Error("error publish failed", zap.String("uuid", string(dev.ID)), zap.Error(perr))
		}
		return
	}

	if env.ReplyTopic != "" {
		if perr := b.sink.PublishReply(dev.ID, env.ReplyTopic, result); perr != nil {
			b.logger.Error("reply publish failed", zap.String("uuid", string(dev.ID)), zap.Error(perr))
			return
		}
	}
	b.logger.Debug("command succeeded",
		zap.String("command", env.Command), zap.String("uuid", string(dev.ID)))
}

// Execute is the synchronous counterpart of Dispatch used by the HTTP API: it
// resolves the selector, runs the command and hands the result back to the
// caller instead of publishing it.
func (b *Bridge) Execute(selector, command string, payload json.RawMessage) (any, error) {
	dev, ok := b.Resolve(selector)
	if !ok {
		return nil, ErrDeviceNotFound
	}
	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()
	return b.source.Invoke(ctx, dev.ID, command, payload)
}

// Resolve scans known devices for the selector: case-insensitive UUID,
// case-insensitive host, or normalized room name. First match wins.
func (b *Bridge) Resolve(selector string) (model.DeviceState, bool) {
	if selector == "" {
		return model.DeviceState{}, false
	}
	nameSlug := model.NameSlug(selector)
	return lo.Find(b.store.All(), func(d model.DeviceState) bool {
		return strings.EqualFold(string(d.ID), selector) ||
			strings.EqualFold(d.Host, selector) ||
			d.Slug == nameSlug
	})
}

// DispatchGlobal handles the broadcast commands that bypass per-device
// resolution.
func (b *Bridge) DispatchGlobal(command string, payload []byte) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				b.logger.Error("global command panicked", zap.String("command", command), zap.Any("panic", r))
			}
		}()
		if err := b.dispatchGlobal(command, payload); err != nil {
			b.logger.Warn("global command failed", zap.String("command", command), zap.Error(err))
		}
	}()
}

func (b *Bridge) dispatchGlobal(command string, payload []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()

	switch command {
	case model.GlobalPauseAll:
		b.source.PauseAll(ctx)
		return nil
	case model.GlobalNotify:
		req := model.NotifyRequest{}
		if err := json.Unmarshal(payload, &req); err != nil {
			return err
		}
		return b.source.Notify(ctx, req)
	case model.GlobalListAlarms:
		alarms, err := b.source.ListAlarms(ctx)
		if err != nil {
			return err
		}
		return b.sink.PublishReply("alarms", "list", alarms)
	case model.GlobalSetAlarm:
		patch := model.AlarmPatch{}
		if err := json.Unmarshal(payload, &patch); err != nil {
			return err
		}
		return b.source.PatchAlarm(ctx, patch)
	case model.GlobalSetLogging:
		return b.setLogging(payload)
	case model.GlobalCheckSubscriptions:
		return b.source.CheckSubscriptions(ctx)
	default:
		b.logger.Info("unknown global command ignored", zap.String("command", command))
		return nil
	}
}

func (b *Bridge) setLogging(payload []byte) error {
	level := strings.Trim(strings.TrimSpace(string(payload)), `"`)
	parsed, err := zapcore.ParseLevel(strings.ToLower(level))
	if err != nil {
		return err
	}
	b.level.SetLevel(parsed)
	b.logger.Info("log level changed", zap.String("level", parsed.String()))
	return nil
}
