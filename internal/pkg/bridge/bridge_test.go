package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/anicoll/sonos-mqtt/internal/pkg/model"
	"github.com/anicoll/sonos-mqtt/internal/pkg/publisher"
	"github.com/anicoll/sonos-mqtt/internal/pkg/state"
)

type publishRecord struct {
	topicID model.DeviceID
	field   string
	value   any
}

type fakeSink struct {
	mu      sync.Mutex
	fields  []publishRecord
	replies []publishRecord
	errs    []model.CommandError
	status  []int
}

func (f *fakeSink) PublishField(id model.DeviceID, field string, value any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fields = append(f.fields, publishRecord{topicID: id, field: field, value: value})
	return nil
}

func (f *fakeSink) PublishReply(id model.DeviceID, replyTopic string, result any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, publishRecord{topicID: id, field: replyTopic, value: result})
	return nil
}

func (f *fakeSink) PublishError(id model.DeviceID, cmdErr model.CommandError) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs = append(f.errs, cmdErr)
	return nil
}

func (f *fakeSink) PublishStatus(code int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = append(f.status, code)
	return nil
}

func (f *fakeSink) errorCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.errs)
}

func (f *fakeSink) replyCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.replies)
}

type invocation struct {
	id      model.DeviceID
	command string
}

type fakeSource struct {
	mu       sync.Mutex
	devices  []model.DeviceState
	channels map[model.DeviceID]chan model.Event
	invoked  []invocation
	result   any
	err      error
	checked  int
}

func newFakeSource(devices ...model.DeviceState) *fakeSource {
	src := &fakeSource{devices: devices, channels: make(map[model.DeviceID]chan model.Event)}
	for _, d := range devices {
		src.channels[d.ID] = make(chan model.Event, 16)
	}
	return src
}

func (f *fakeSource) Devices() []model.DeviceState { return f.devices }

func (f *fakeSource) Events(id model.DeviceID) <-chan model.Event { return f.channels[id] }

func (f *fakeSource) Invoke(_ context.Context, id model.DeviceID, command string, _ json.RawMessage) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invoked = append(f.invoked, invocation{id: id, command: command})
	return f.result, f.err
}

func (f *fakeSource) PauseAll(context.Context) {}

func (f *fakeSource) Notify(context.Context, model.NotifyRequest) error { return nil }

func (f *fakeSource) ListAlarms(context.Context) (any, error) { return []string{}, nil }

func (f *fakeSource) PatchAlarm(context.Context, model.AlarmPatch) error { return nil }

func (f *fakeSource) CheckSubscriptions(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checked++
	return nil
}

func (f *fakeSource) Close() error { return nil }

func (f *fakeSource) invocations() []invocation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]invocation(nil), f.invoked...)
}

type stateRecorder struct {
	mu     sync.Mutex
	states []model.DeviceState
}

func (r *stateRecorder) PublishState(_ context.Context, st model.DeviceState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, st)
	return nil
}

func (r *stateRecorder) RegisterDevice(context.Context, model.DeviceState) error { return nil }

func (r *stateRecorder) all() []model.DeviceState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.DeviceState(nil), r.states...)
}

func livingRoom() model.DeviceState {
	return model.DeviceState{
		ID:   "RINCON1",
		Host: "192.168.1.20",
		Name: "Living Room",
		Slug: model.NameSlug("Living Room"),
	}
}

func newTestBridge(t *testing.T, src *fakeSource, sink *fakeSink, delay time.Duration, opts ...Option) (*Bridge, *stateRecorder) {
	t.Helper()
	original := zap.L()
	zap.ReplaceGlobals(zaptest.NewLogger(t))
	t.Cleanup(func() { zap.ReplaceGlobals(original) })

	publisher.Reset()
	rec := &stateRecorder{}
	require.NoError(t, publisher.Register("test", rec))

	b := New(state.New(), src, sink, delay, opts...)
	return b, rec
}

func intPtr(i int) *int    { return &i }
func boolPtr(b bool) *bool { return &b }

func TestRenderingBurstCoalescesToOnePublish(t *testing.T) {
	src := newFakeSource(livingRoom())
	sink := &fakeSink{}
	b, rec := newTestBridge(t, src, sink, 150*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, b.Start(ctx))
	defer b.Close()

	src.channels["RINCON1"] <- model.Event{
		Device: "RINCON1", Kind: model.EventRendering,
		Rendering: &model.RenderingEvent{Volume: intPtr(20), Mute: boolPtr(false)},
	}
	time.Sleep(100 * time.Millisecond)
	src.channels["RINCON1"] <- model.Event{
		Device: "RINCON1", Kind: model.EventRendering,
		Rendering: &model.RenderingEvent{Volume: intPtr(25)},
	}

	require.Eventually(t, func() bool { return len(rec.all()) == 1 },
		2*time.Second, 10*time.Millisecond)

	st := rec.all()[0]
	assert.Equal(t, model.DeviceID("RINCON1"), st.ID)
	assert.Equal(t, 25, *st.Volume, "publish carries the state after the last merge")
	assert.False(t, *st.Mute, "mute from the first event survives the second partial update")
	assert.False(t, st.UpdatedAt.IsZero())

	// Nothing else arrives afterwards.
	time.Sleep(300 * time.Millisecond)
	assert.Len(t, rec.all(), 1)
}

func TestEventsForUnknownDeviceAreDropped(t *testing.T) {
	src := newFakeSource(livingRoom())
	sink := &fakeSink{}
	b, rec := newTestBridge(t, src, sink, 50*time.Millisecond)
	require.NoError(t, b.Start(context.Background()))
	defer b.Close()

	// An event racing ahead of enumeration: no seeded record exists.
	b.handleEvent(model.Event{Device: "RINCON_GHOST", Kind: model.EventVolume, Volume: 10})

	time.Sleep(200 * time.Millisecond)
	assert.Empty(t, rec.all(), "merge on unknown device must not publish")
}

func TestDistinctModePublishesFieldsImmediately(t *testing.T) {
	src := newFakeSource(livingRoom())
	sink := &fakeSink{}
	b, _ := newTestBridge(t, src, sink, time.Hour, WithDistinct())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, b.Start(ctx))
	defer b.Close()

	src.channels["RINCON1"] <- model.Event{Device: "RINCON1", Kind: model.EventVolume, Volume: 30}

	require.Eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return len(sink.fields) == 1
	}, time.Second, 10*time.Millisecond)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, "volume", sink.fields[0].field)
	assert.Equal(t, 30, sink.fields[0].value)
}

func TestResolveSelectorVariants(t *testing.T) {
	src := newFakeSource(livingRoom())
	sink := &fakeSink{}
	b, _ := newTestBridge(t, src, sink, time.Hour)
	require.NoError(t, b.Start(context.Background()))
	defer b.Close()

	for _, selector := range []string{"RINCON1", "rincon1", "192.168.1.20", "Living Room", "living-room"} {
		dev, ok := b.Resolve(selector)
		require.True(t, ok, "selector %q should resolve", selector)
		assert.Equal(t, model.DeviceID("RINCON1"), dev.ID)
	}

	_, ok := b.Resolve("nonexistent")
	assert.False(t, ok)
	_, ok = b.Resolve("")
	assert.False(t, ok)
}

func TestDispatchUnknownSelectorPublishesNothing(t *testing.T) {
	src := newFakeSource(livingRoom())
	sink := &fakeSink{}
	b, _ := newTestBridge(t, src, sink, time.Hour)
	require.NoError(t, b.Start(context.Background()))
	defer b.Close()

	b.Dispatch(model.CommandEnvelope{Device: "nonexistent", Command: "pause"})

	time.Sleep(200 * time.Millisecond)
	assert.Empty(t, src.invocations())
	assert.Zero(t, sink.errorCount(), "no device identity, so no error topic to publish to")
	assert.Zero(t, sink.replyCount())
}

func TestDispatchWithoutReplyTopicSucceedsSilently(t *testing.T) {
	src := newFakeSource(livingRoom())
	sink := &fakeSink{}
	b, _ := newTestBridge(t, src, sink, time.Hour)
	require.NoError(t, b.Start(context.Background()))
	defer b.Close()

	b.Dispatch(model.CommandEnvelope{Device: "RINCON1", Command: "pause"})

	require.Eventually(t, func() bool { return len(src.invocations()) == 1 },
		time.Second, 10*time.Millisecond)
	assert.Equal(t, invocation{id: "RINCON1", command: "pause"}, src.invocations()[0])
	assert.Zero(t, sink.replyCount())
	assert.Zero(t, sink.errorCount())
}

func TestDispatchPublishesReplyWhenRequested(t *testing.T) {
	src := newFakeSource(livingRoom())
	src.result = 25
	sink := &fakeSink{}
	b, _ := newTestBridge(t, src, sink, time.Hour)
	require.NoError(t, b.Start(context.Background()))
	defer b.Close()

	b.Dispatch(model.CommandEnvelope{Device: "living-room", Command: "volume", Payload: json.RawMessage("25"), ReplyTopic: "result"})

	require.Eventually(t, func() bool { return sink.replyCount() == 1 },
		time.Second, 10*time.Millisecond)
	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, model.DeviceID("RINCON1"), sink.replies[0].topicID)
	assert.Equal(t, "result", sink.replies[0].field)
	assert.Equal(t, 25, sink.replies[0].value)
}

func TestDispatchFailurePublishesErrorTopic(t *testing.T) {
	src := newFakeSource(livingRoom())
	src.err = errors.New("device is sulking")
	sink := &fakeSink{}
	b, _ := newTestBridge(t, src, sink, time.Hour)
	require.NoError(t, b.Start(context.Background()))
	defer b.Close()

	b.Dispatch(model.CommandEnvelope{Device: "RINCON1", Command: "next"})

	require.Eventually(t, func() bool { return sink.errorCount() == 1 },
		time.Second, 10*time.Millisecond)
	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, "next", sink.errs[0].Command)
	assert.Contains(t, sink.errs[0].Error, "sulking")
}

func TestExecuteReturnsResultSynchronously(t *testing.T) {
	src := newFakeSource(livingRoom())
	src.result = 25
	sink := &fakeSink{}
	b, _ := newTestBridge(t, src, sink, time.Hour)
	require.NoError(t, b.Start(context.Background()))
	defer b.Close()

	result, err := b.Execute("living-room", "volume", json.RawMessage("25"))
	require.NoError(t, err)
	assert.Equal(t, 25, result)

	_, err = b.Execute("nonexistent", "volume", json.RawMessage("25"))
	assert.ErrorIs(t, err, ErrDeviceNotFound)
	assert.Zero(t, sink.replyCount(), "results go back to the caller, not the reply topic")
}

func TestGlobalCheckSubscriptions(t *testing.T) {
	src := newFakeSource(livingRoom())
	sink := &fakeSink{}
	b, _ := newTestBridge(t, src, sink, time.Hour)
	require.NoError(t, b.Start(context.Background()))
	defer b.Close()

	b.DispatchGlobal(model.GlobalCheckSubscriptions, nil)

	require.Eventually(t, func() bool {
		src.mu.Lock()
		defer src.mu.Unlock()
		return src.checked == 1
	}, time.Second, 10*time.Millisecond)
}

func TestGlobalSetLoggingFlipsLevel(t *testing.T) {
	src := newFakeSource(livingRoom())
	sink := &fakeSink{}
	level := zap.NewAtomicLevelAt(zap.InfoLevel)
	b, _ := newTestBridge(t, src, sink, time.Hour, WithLogLevel(level))
	require.NoError(t, b.Start(context.Background()))
	defer b.Close()

	b.DispatchGlobal(model.GlobalSetLogging, []byte(`"debug"`))

	require.Eventually(t, func() bool { return level.Level() == zap.DebugLevel },
		time.Second, 10*time.Millisecond)
}

func TestConnectivityChangedRefreshesStatus(t *testing.T) {
	src := newFakeSource(livingRoom())
	sink := &fakeSink{}
	b, _ := newTestBridge(t, src, sink, time.Hour)
	require.NoError(t, b.Start(context.Background()))
	defer b.Close()

	b.ConnectivityChanged(true)
	sink.mu.Lock()
	require.Len(t, sink.status, 1)
	assert.Equal(t, model.StatusDevicesUp, sink.status[0])
	sink.mu.Unlock()

	b.ConnectivityChanged(false)
	sink.mu.Lock()
	assert.Len(t, sink.status, 1, "disconnect publishes nothing")
	sink.mu.Unlock()
}
