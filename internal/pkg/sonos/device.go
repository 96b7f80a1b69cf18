// Package sonos talks UPnP to zone players: SSDP discovery, SOAP control and
// the event subscriptions that feed the bridge.
package sonos

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/anicoll/sonos-mqtt/internal/pkg/config"
	"github.com/anicoll/sonos-mqtt/internal/pkg/model"
	"github.com/anicoll/sonos-mqtt/internal/pkg/tts"
)

// player is one enumerated zone player.
type player struct {
	ID          model.DeviceID
	Host        string
	Name        string
	Slug        string
	Model       string
	Coordinator model.DeviceID
}

type Service struct {
	cfg    *config.SonosConfig
	logger *zap.Logger
	httpc  *http.Client
	tts    *tts.Client

	mu       sync.Mutex
	players  map[model.DeviceID]*player
	channels map[model.DeviceID]chan model.Event
	subs     map[string]*subscription
	listener *eventListener
}

func New(cfg *config.SonosConfig, ttsClient *tts.Client) *Service {
	return &Service{
		cfg:      cfg,
		logger:   zap.L(),
		httpc:    &http.Client{Timeout: 10 * time.Second},
		tts:      ttsClient,
		players:  make(map[model.DeviceID]*player),
		channels: make(map[model.DeviceID]chan model.Event),
		subs:     make(map[string]*subscription),
	}
}

// Devices returns the enumeration snapshot used to seed the state store.
func (s *Service) Devices() []model.DeviceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.DeviceState, 0, len(s.players))
	for _, p := range s.players {
		out = append(out, model.DeviceState{
			ID:    p.ID,
			Host:  p.Host,
			Name:  p.Name,
			Slug:  p.Slug,
			Model: p.Model,
		})
	}
	return out
}

// Events returns the typed event channel for one device. The channel carries
// every event kind for that device so consumption order matches arrival order.
func (s *Service) Events(id model.DeviceID) <-chan model.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channels[id]
}

func (s *Service) playerByID(id model.DeviceID) (*player, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.players[id]
	return p, ok
}

// coordinators returns one player per group.
func (s *Service) coordinators() []*player {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := lo.Values(s.players)
	return lo.Filter(all, func(p *player, _ int) bool {
		return p.Coordinator == "" || p.Coordinator == p.ID
	})
}

// operation invokes one named device command with its JSON payload.
type operation func(ctx context.Context, s *Service, p *player, payload json.RawMessage) (any, error)

// operations is the static command table. The router resolves a device and a
// name; everything else lives here.
var operations = map[string]operation{
	"play":     func(ctx context.Context, s *Service, p *player, _ json.RawMessage) (any, error) { return nil, s.play(ctx, p) },
	"pause":    func(ctx context.Context, s *Service, p *player, _ json.RawMessage) (any, error) { return nil, s.pause(ctx, p) },
	"stop":     func(ctx context.Context, s *Service, p *player, _ json.RawMessage) (any, error) { return nil, s.stop(ctx, p) },
	"next":     func(ctx context.Context, s *Service, p *player, _ json.RawMessage) (any, error) { return nil, s.next(ctx, p) },
	"previous": func(ctx context.Context, s *Service, p *player, _ json.RawMessage) (any, error) { return nil, s.previous(ctx, p) },
	"toggle":   func(ctx context.Context, s *Service, p *player, _ json.RawMessage) (any, error) { return nil, s.toggle(ctx, p) },
	"volume": func(ctx context.Context, s *Service, p *player, payload json.RawMessage) (any, error) {
		v, err := intPayload(payload)
		if err != nil {
			return nil, err
		}
		return v, s.setVolume(ctx, p, v)
	},
	"volumeup":   func(ctx context.Context, s *Service, p *player, _ json.RawMessage) (any, error) { return s.stepVolume(ctx, p, +5) },
	"volumedown": func(ctx context.Context, s *Service, p *player, _ json.RawMessage) (any, error) { return s.stepVolume(ctx, p, -5) },
	"mute":       func(ctx context.Context, s *Service, p *player, _ json.RawMessage) (any, error) { return nil, s.setMute(ctx, p, true) },
	"unmute":     func(ctx context.Context, s *Service, p *player, _ json.RawMessage) (any, error) { return nil, s.setMute(ctx, p, false) },
	"bass": func(ctx context.Context, s *Service, p *player, payload json.RawMessage) (any, error) {
		v, err := intPayload(payload)
		if err != nil {
			return nil, err
		}
		return v, s.setBass(ctx, p, v)
	},
	"treble": func(ctx context.Context, s *Service, p *player, payload json.RawMessage) (any, error) {
		v, err := intPayload(payload)
		if err != nil {
			return nil, err
		}
		return v, s.setTreble(ctx, p, v)
	},
	"playmode": func(ctx context.Context, s *Service, p *player, payload json.RawMessage) (any, error) {
		m, err := stringPayload(payload)
		if err != nil {
			return nil, err
		}
		return nil, s.setPlayMode(ctx, p, m)
	},
	"seek": func(ctx context.Context, s *Service, p *player, payload json.RawMessage) (any, error) {
		target, err := stringPayload(payload)
		if err != nil {
			return nil, err
		}
		return nil, s.seek(ctx, p, target)
	},
	"setavtransporturi": func(ctx context.Context, s *Service, p *player, payload json.RawMessage) (any, error) {
		uri, err := stringPayload(payload)
		if err != nil {
			return nil, err
		}
		return nil, s.setAVTransportURI(ctx, p, uri, "")
	},
	"joingroup": func(ctx context.Context, s *Service, p *player, payload json.RawMessage) (any, error) {
		target, err := stringPayload(payload)
		if err != nil {
			return nil, err
		}
		return nil, s.joinGroup(ctx, p, target)
	},
	"leavegroup": func(ctx context.Context, s *Service, p *player, _ json.RawMessage) (any, error) { return nil, s.leaveGroup(ctx, p) },
	"speak": func(ctx context.Context, s *Service, p *player, payload json.RawMessage) (any, error) {
		req := model.NotifyRequest{}
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("invalid speak payload: %w", err)
		}
		return nil, s.announce(ctx, p, req)
	},
}

// Invoke runs the named operation against a device. Unknown names and unknown
// devices are reported as plain errors; the router decides what to publish.
func (s *Service) Invoke(ctx context.Context, id model.DeviceID, command string, payload json.RawMessage) (any, error) {
	p, ok := s.playerByID(id)
	if !ok {
		return nil, fmt.Errorf("unknown device %s", id)
	}
	op, ok := operations[command]
	if !ok {
		return nil, fmt.Errorf("unknown command %q", command)
	}
	return op(ctx, s, p, payload)
}

func (s *Service) play(ctx context.Context, p *player) error {
	_, err := s.soapCall(ctx, p.Host, avTransport, "Play", soapArgs("InstanceID", "0", "Speed", "1"))
	return err
}

func (s *Service) pause(ctx context.Context, p *player) error {
	_, err := s.soapCall(ctx, p.Host, avTransport, "Pause", soapArgs("InstanceID", "0"))
	return err
}

func (s *Service) stop(ctx context.Context, p *player) error {
	_, err := s.soapCall(ctx, p.Host, avTransport, "Stop", soapArgs("InstanceID", "0"))
	return err
}

func (s *Service) next(ctx context.Context, p *player) error {
	_, err := s.soapCall(ctx, p.Host, avTransport, "Next", soapArgs("InstanceID", "0"))
	return err
}

func (s *Service) previous(ctx context.Context, p *player) error {
	_, err := s.soapCall(ctx, p.Host, avTransport, "Previous", soapArgs("InstanceID", "0"))
	return err
}

func (s *Service) toggle(ctx context.Context, p *player) error {
	state, err := s.transportState(ctx, p)
	if err != nil {
		return err
	}
	if state == "PLAYING" || state == "TRANSITIONING" {
		return s.pause(ctx, p)
	}
	return s.play(ctx, p)
}

func (s *Service) transportState(ctx context.Context, p *player) (string, error) {
	body, err := s.soapCall(ctx, p.Host, avTransport, "GetTransportInfo", soapArgs("InstanceID", "0"))
	if err != nil {
		return "", err
	}
	return extractValue(body, "CurrentTransportState"), nil
}

func (s *Service) setVolume(ctx context.Context, p *player, volume int) error {
	volume = min(max(volume, 0), 100)
	_, err := s.soapCall(ctx, p.Host, renderingControl, "SetVolume",
		soapArgs("InstanceID", "0", "Channel", "Master", "DesiredVolume", strconv.Itoa(volume)))
	return err
}

func (s *Service) getVolume(ctx context.Context, p *player) (int, error) {
	body, err := s.soapCall(ctx, p.Host, renderingControl, "GetVolume",
		soapArgs("InstanceID", "0", "Channel", "Master"))
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(extractValue(body, "CurrentVolume"))
}

func (s *Service) stepVolume(ctx context.Context, p *player, delta int) (any, error) {
	current, err := s.getVolume(ctx, p)
	if err != nil {
		return nil, err
	}
	target := min(max(current+delta, 0), 100)
	return target, s.setVolume(ctx, p, target)
}

func (s *Service) setMute(ctx context.Context, p *player, mute bool) error {
	desired := "0"
	if mute {
		desired = "1"
	}
	_, err := s.soapCall(ctx, p.Host, renderingControl, "SetMute",
		soapArgs("InstanceID", "0", "Channel", "Master", "DesiredMute", desired))
	return err
}

func (s *Service) setBass(ctx context.Context, p *player, level int) error {
	level = min(max(level, -10), 10)
	_, err := s.soapCall(ctx, p.Host, renderingControl, "SetBass",
		soapArgs("InstanceID", "0", "DesiredBass", strconv.Itoa(level)))
	return err
}

func (s *Service) setTreble(ctx context.Context, p *player, level int) error {
	level = min(max(level, -10), 10)
	_, err := s.soapCall(ctx, p.Host, renderingControl, "SetTreble",
		soapArgs("InstanceID", "0", "DesiredTreble", strconv.Itoa(level)))
	return err
}

func (s *Service) setPlayMode(ctx context.Context, p *player, mode string) error {
	_, err := s.soapCall(ctx, p.Host, avTransport, "SetPlayMode",
		soapArgs("InstanceID", "0", "NewPlayMode", mode))
	return err
}

func (s *Service) seek(ctx context.Context, p *player, target string) error {
	_, err := s.soapCall(ctx, p.Host, avTransport, "Seek",
		soapArgs("InstanceID", "0", "Unit", "REL_TIME", "Target", target))
	return err
}

func (s *Service) setAVTransportURI(ctx context.Context, p *player, uri, metadata string) error {
	_, err := s.soapCall(ctx, p.Host, avTransport, "SetAVTransportURI",
		soapArgs("InstanceID", "0", "CurrentURI", uri, "CurrentURIMetaData", metadata))
	return err
}

// joinGroup attaches p to the group whose coordinator matches the target
// selector (uuid, host or room name).
func (s *Service) joinGroup(ctx context.Context, p *player, target string) error {
	s.mu.Lock()
	other, ok := lo.Find(lo.Values(s.players), func(c *player) bool {
		return matchesSelector(c, target)
	})
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("no device matches %q", target)
	}
	coordinator := other.Coordinator
	if coordinator == "" {
		coordinator = other.ID
	}
	return s.setAVTransportURI(ctx, p, "x-rincon:"+string(coordinator), "")
}

func (s *Service) leaveGroup(ctx context.Context, p *player) error {
	_, err := s.soapCall(ctx, p.Host, avTransport, "BecomeCoordinatorOfStandaloneGroup",
		soapArgs("InstanceID", "0"))
	return err
}

// ListAlarms reads the alarm list from any known player; alarms are shared
// household state.
func (s *Service) ListAlarms(ctx context.Context) (any, error) {
	return s.listAlarms(ctx)
}

func (s *Service) listAlarms(ctx context.Context) ([]Alarm, error) {
	p, ok := s.anyPlayer()
	if !ok {
		return nil, fmt.Errorf("no devices known")
	}
	body, err := s.soapCall(ctx, p.Host, alarmClock, "ListAlarms", "")
	if err != nil {
		return nil, err
	}
	list := alarmList{}
	if err := xml.Unmarshal([]byte(extractValue(body, "CurrentAlarmList")), &list); err != nil {
		return nil, fmt.Errorf("malformed alarm list: %w", err)
	}
	return list.Alarms, nil
}

// PatchAlarm updates the mutable bits of one alarm, reading the current
// definition first so untouched attributes survive.
func (s *Service) PatchAlarm(ctx context.Context, patch model.AlarmPatch) error {
	alarms, err := s.listAlarms(ctx)
	if err != nil {
		return err
	}
	alarm, ok := lo.Find(alarms, func(a Alarm) bool { return a.ID == patch.ID })
	if !ok {
		return fmt.Errorf("no alarm with id %s", patch.ID)
	}
	if patch.Enabled != nil {
		alarm.Enabled = *patch.Enabled
	}
	if patch.Volume != nil {
		alarm.Volume = *patch.Volume
	}
	p, _ := s.anyPlayer()
	enabled := "0"
	if alarm.Enabled {
		enabled = "1"
	}
	linked := "0"
	if alarm.IncludeLinkedZones {
		linked = "1"
	}
	_, err = s.soapCall(ctx, p.Host, alarmClock, "UpdateAlarm", soapArgs(
		"ID", alarm.ID,
		"StartLocalTime", alarm.StartTime,
		"Duration", alarm.Duration,
		"Recurrence", alarm.Recurrence,
		"Enabled", enabled,
		"RoomUUID", alarm.RoomUUID,
		"ProgramURI", alarm.ProgramURI,
		"ProgramMetaData", "",
		"PlayMode", alarm.PlayMode,
		"Volume", strconv.Itoa(alarm.Volume),
		"IncludeLinkedZones", linked,
	))
	return err
}

// PauseAll pauses every group coordinator. Per-device failures are logged and
// do not stop the sweep.
func (s *Service) PauseAll(ctx context.Context) {
	for _, p := range s.coordinators() {
		if err := s.pause(ctx, p); err != nil {
			s.logger.Warn("pauseall: pause failed", zap.String("uuid", string(p.ID)), zap.Error(err))
		}
	}
}

func (s *Service) anyPlayer() (*player, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.players {
		return p, true
	}
	return nil, false
}

func matchesSelector(p *player, selector string) bool {
	return strings.EqualFold(string(p.ID), selector) ||
		strings.EqualFold(p.Host, selector) ||
		p.Slug == model.NameSlug(selector)
}

func intPayload(payload json.RawMessage) (int, error) {
	var v int
	if err := json.Unmarshal(payload, &v); err != nil {
		return 0, fmt.Errorf("expected numeric payload: %w", err)
	}
	return v, nil
}

func stringPayload(payload json.RawMessage) (string, error) {
	var v string
	if err := json.Unmarshal(payload, &v); err != nil {
		return "", fmt.Errorf("expected string payload: %w", err)
	}
	return v, nil
}
