// Package bridge glues the device event source to the transport: it seeds the
// state store, funnels every event through the merge contract, coalesces
// publishes, and routes inbound commands back to devices.
package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/anicoll/sonos-mqtt/internal/pkg/contxt"
	"github.com/anicoll/sonos-mqtt/internal/pkg/debounce"
	"github.com/anicoll/sonos-mqtt/internal/pkg/model"
	"github.com/anicoll/sonos-mqtt/internal/pkg/publisher"
	"github.com/anicoll/sonos-mqtt/internal/pkg/state"
)

const publishTimeout = 5 * time.Second

// transport is what the bridge needs from the MQTT sink beyond the aggregate
// state fan-out (which goes through the publisher registry).
type transport interface {
	PublishField(id model.DeviceID, field string, value any) error
	PublishReply(id model.DeviceID, replyTopic string, result any) error
	PublishError(id model.DeviceID, cmdErr model.CommandError) error
	PublishStatus(code int) error
}

// deviceSource is the device-control collaborator: enumeration, per-device
// event streams and command execution.
type deviceSource interface {
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

type Bridge struct {
	store    *state.Store
	source   deviceSource
	sink     transport
	debounce *debounce.Scheduler
	logger   *zap.Logger
	level    zap.AtomicLevel
	distinct bool

	mu       sync.Mutex
	onState  []func(model.DeviceState)
	seeded   bool

	wg sync.WaitGroup
}

type Option func(*Bridge)

// WithDistinct also publishes individual fields immediately, uncoalesced.
func WithDistinct() Option {
	return func(b *Bridge) { b.distinct = true }
}

// WithLogLevel hands the bridge the atomic level the setlogging command flips.
func WithLogLevel(level zap.AtomicLevel) Option {
	return func(b *Bridge) { b.level = level }
}

func New(store *state.Store, source deviceSource, sink transport, delay time.Duration, opts ...Option) *Bridge {
	b := &Bridge{
		store:  store,
		source: source,
		sink:   sink,
		logger: zap.L(),
		level:  zap.NewAtomicLevel(),
	}
	b.debounce = debounce.New(delay, b.emit)
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// OnState registers a callback fired after every aggregate state publish; the
// websocket hub hangs off this.
func (b *Bridge) OnState(fn func(model.DeviceState)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onState = append(b.onState, fn)
}

// Start seeds the store from enumeration, announces the devices to all sinks,
// and spins up one consumer per device event channel.
func (b *Bridge) Start(ctx context.Context) error {
	devices := b.source.Devices()
	for _, d := range devices {
		b.store.Seed(d)
		publisher.RegisterDevice(contxt.NewContext(publishTimeout), d)
	}
	b.mu.Lock()
	b.seeded = len(devices) > 0
	b.mu.Unlock()

	for _, d := range devices {
		ch := b.source.Events(d.ID)
		if ch == nil {
			continue
		}
		b.wg.Add(1)
		go b.consume(ctx, ch)
	}
	b.logger.Info("bridge started", zap.Int("devices", len(devices)))
	return nil
}

// Close abandons pending publish timers and waits for the event consumers to
// drain. The closing status publish happens in the transport's disconnect.
func (b *Bridge) Close() {
	b.debounce.Close()
	b.wg.Wait()
}

// consume is the per-device dispatcher: events arrive in order and every one
// funnels through the same merge contract.
func (b *Bridge) consume(ctx context.Context, ch <-chan model.Event) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			b.handleEvent(ev)
		}
	}
}

func (b *Bridge) handleEvent(ev model.Event) {
	if !b.store.Merge(ev.Device, ev.Update()) {
		// Startup race: events can beat enumeration. Dropping the update is
		// the designed behavior, not an error.
		b.logger.Debug("merge for unknown device ignored", zap.String("uuid", string(ev.Device)), zap.String("kind", string(ev.Kind)))
		return
	}
	b.debounce.Schedule(ev.Device)

	if b.distinct {
		for field, value := range statusFields(ev) {
			if err := b.sink.PublishField(ev.Device, field, value); err != nil {
				b.logger.Error("distinct field publish failed", zap.String("uuid", string(ev.Device)), zap.String("field", field), zap.Error(err))
			}
		}
	}
}

// statusFields maps the low-granularity event variants onto the per-field
// verbose publishes. Aggregate transport events stay debounce-only.
func statusFields(ev model.Event) map[string]any {
	switch ev.Kind {
	case model.EventRendering:
		fields := make(map[string]any, 4)
		if ev.Rendering.Volume != nil {
			fields["volume"] = *ev.Rendering.Volume
		}
		if ev.Rendering.Mute != nil {
			fields["mute"] = *ev.Rendering.Mute
		}
		if ev.Rendering.Bass != nil {
			fields["bass"] = *ev.Rendering.Bass
		}
		if ev.Rendering.Treble != nil {
			fields["treble"] = *ev.Rendering.Treble
		}
		return fields
	case model.EventGroupName:
		return map[string]any{"group": ev.GroupName}
	case model.EventCoordinator:
		return map[string]any{"coordinator": string(ev.Coordinator)}
	case model.EventTransportState:
		return map[string]any{"transportstate": ev.TransportState}
	case model.EventTrackURI:
		return map[string]any{"trackuri": ev.TrackURI}
	case model.EventMute:
		return map[string]any{"mute": ev.Mute}
	case model.EventVolume:
		return map[string]any{"volume": ev.Volume}
	}
	return nil
}

// emit is the debounce trailing edge: read the record as of now and fan it out.
func (b *Bridge) emit(id model.DeviceID) {
	st, ok := b.store.Get(id)
	if !ok {
		return
	}
	publisher.PublishState(contxt.NewContext(publishTimeout), st)

	b.mu.Lock()
	callbacks := make([]func(model.DeviceState), len(b.onState))
	copy(callbacks, b.onState)
	b.mu.Unlock()
	for _, fn := range callbacks {
		fn(st)
	}
}

// ConnectivityChanged is the transport's connection callback. On reconnect the
// retained status is refreshed: 2 once devices are known, 1 otherwise.
func (b *Bridge) ConnectivityChanged(connected bool) {
	if !connected {
		return
	}
	b.mu.Lock()
	seeded := b.seeded
	b.mu.Unlock()
	code := model.StatusTransportUp
	if seeded {
		code = model.StatusDevicesUp
	}
	if err := b.sink.PublishStatus(code); err != nil {
		b.logger.Error("status publish failed", zap.Error(err))
	}
}
