package sonos

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/anicoll/sonos-mqtt/internal/pkg/model"
)

const subscriptionTimeout = 30 * time.Minute

// subscription tracks one UPnP event subscription (device × service).
type subscription struct {
	sid       string
	device    model.DeviceID
	service   upnpService
	host      string
	renewedAt time.Time
}

// eventListener is the local HTTP endpoint players NOTIFY.
type eventListener struct {
	server *http.Server
	ln     net.Listener
	addr   string
}

// StartEventing binds the NOTIFY listener and subscribes every known player to
// AVTransport, RenderingControl and ZoneGroupTopology events.
func (s *Service) StartEventing(ctx context.Context) error {
	if err := s.startListener(); err != nil {
		return err
	}
	return s.CheckSubscriptions(ctx)
}

func (s *Service) startListener() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.CallbackPort))
	if err != nil {
		return fmt.Errorf("binding upnp callback listener: %w", err)
	}
	host, err := localAddrFor(s)
	if err != nil {
		ln.Close()
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/notify", s.handleNotify)
	server := &http.Server{Handler: mux, ReadTimeout: 10 * time.Second}

	s.mu.Lock()
	s.listener = &eventListener{
		server: server,
		ln:     ln,
		addr:   fmt.Sprintf("http://%s:%d/notify", host, s.cfg.CallbackPort),
	}
	s.mu.Unlock()

	go func() {
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("upnp callback listener stopped", zap.Error(err))
		}
	}()
	return nil
}

// localAddrFor finds the outbound IP players can reach us on, by opening a
// throwaway UDP "connection" towards a known player.
func localAddrFor(s *Service) (string, error) {
	p, ok := s.anyPlayer()
	if !ok {
		return "", fmt.Errorf("no devices known, cannot determine callback address")
	}
	conn, err := net.Dial("udp4", p.Host+":1400")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}

// CheckSubscriptions subscribes every device×service pair that has no live
// subscription and renews the ones nearing their timeout. Safe to run from the
// re-check cron and the check-subscriptions global command.
func (s *Service) CheckSubscriptions(ctx context.Context) error {
	s.mu.Lock()
	players := make([]*player, 0, len(s.players))
	for _, p := range s.players {
		players = append(players, p)
	}
	existing := make(map[string]*subscription, len(s.subs))
	for _, sub := range s.subs {
		existing[string(sub.device)+sub.service.EventURL] = sub
	}
	callback := s.listener.addr
	s.mu.Unlock()

	var firstErr error
	for _, p := range players {
		for _, svc := range []upnpService{avTransport, renderingControl, zoneGroupTopology} {
			sub, ok := existing[string(p.ID)+svc.EventURL]
			if ok && time.Since(sub.renewedAt) < subscriptionTimeout/2 {
				continue
			}
			var err error
			if ok {
				err = s.renew(ctx, sub)
			} else {
				err = s.subscribe(ctx, p, svc, callback)
			}
			if err != nil {
				s.logger.Warn("event subscription failed",
					zap.String("uuid", string(p.ID)), zap.String("service", svc.Type), zap.Error(err))
				if firstErr == nil {
					firstErr = err
				}
			}
		}
	}
	return firstErr
}

func (s *Service) subscribe(ctx context.Context, p *player, svc upnpService, callback string) error {
	req, err := http.NewRequestWithContext(ctx, "SUBSCRIBE",
		fmt.Sprintf("http://%s:1400%s", p.Host, svc.EventURL), nil)
	if err != nil {
		return err
	}
	req.Header.Set("CALLBACK", "<"+callback+">")
	req.Header.Set("NT", "upnp:event")
	req.Header.Set("TIMEOUT", fmt.Sprintf("Second-%d", int(subscriptionTimeout.Seconds())))

	res, err := s.httpc.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("subscribe to %s%s returned %d", p.Host, svc.EventURL, res.StatusCode)
	}
	sid := res.Header.Get("SID")
	if sid == "" {
		return fmt.Errorf("subscribe response from %s carries no SID", p.Host)
	}

	s.mu.Lock()
	s.subs[sid] = &subscription{sid: sid, device: p.ID, service: svc, host: p.Host, renewedAt: time.Now()}
	s.mu.Unlock()
	return nil
}

func (s *Service) renew(ctx context.Context, sub *subscription) error {
	req, err := http.NewRequestWithContext(ctx, "SUBSCRIBE",
		fmt.Sprintf("http://%s:1400%s", sub.host, sub.service.EventURL), nil)
	if err != nil {
		return err
	}
	req.Header.Set("SID", sub.sid)
	req.Header.Set("TIMEOUT", fmt.Sprintf("Second-%d", int(subscriptionTimeout.Seconds())))

	res, err := s.httpc.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		// Renewal rejected; drop so the next check re-subscribes fresh.
		s.mu.Lock()
		delete(s.subs, sub.sid)
		s.mu.Unlock()
		return fmt.Errorf("renew of %s returned %d", sub.sid, res.StatusCode)
	}
	s.mu.Lock()
	sub.renewedAt = time.Now()
	s.mu.Unlock()
	return nil
}

// Close unsubscribes everything, stops the listener and closes the event
// channels.
func (s *Service) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.mu.Lock()
	subs := make([]*subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.subs = make(map[string]*subscription)
	listener := s.listener
	channels := s.channels
	s.channels = make(map[model.DeviceID]chan model.Event)
	s.mu.Unlock()

	for _, sub := range subs {
		req, err := http.NewRequestWithContext(ctx, "UNSUBSCRIBE",
			fmt.Sprintf("http://%s:1400%s", sub.host, sub.service.EventURL), nil)
		if err != nil {
			continue
		}
		req.Header.Set("SID", sub.sid)
		if res, err := s.httpc.Do(req); err == nil {
			res.Body.Close()
		}
	}
	if listener != nil {
		_ = listener.server.Close()
	}
	for _, ch := range channels {
		close(ch)
	}
	return nil
}

// handleNotify turns a NOTIFY into typed events on the owning device's channel.
func (s *Service) handleNotify(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	sid := r.Header.Get("SID")

	s.mu.Lock()
	sub, ok := s.subs[sid]
	s.mu.Unlock()
	if !ok {
		// Stale subscription from a previous run; acknowledge and ignore.
		w.WriteHeader(http.StatusOK)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)

	for _, ev := range parseNotify(sub.device, sub.service, body) {
		if ev.Kind == model.EventCoordinator {
			s.mu.Lock()
			if p, ok := s.players[ev.Device]; ok {
				p.Coordinator = ev.Coordinator
			}
			s.mu.Unlock()
		}
		s.deliver(ev)
	}
}

func (s *Service) deliver(ev model.Event) {
	s.mu.Lock()
	ch, ok := s.channels[ev.Device]
	s.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- ev:
	default:
		// Consumer stalled; dropping beats blocking every notification.
		s.logger.Warn("event channel full, dropping event",
			zap.String("uuid", string(ev.Device)), zap.String("kind", string(ev.Kind)))
	}
}

// parseNotify decodes one NOTIFY body into events. Topology notifications fan
// out to one coordinator/group-name event per member, which is why the device
// on an emitted event may differ from the subscribed one.
func parseNotify(device model.DeviceID, svc upnpService, body []byte) []model.Event {
	props := propertySet{}
	if err := xml.Unmarshal(body, &props); err != nil {
		return nil
	}

	var events []model.Event
	for _, prop := range props.Properties {
		switch {
		case svc.EventURL == avTransport.EventURL && prop.LastChange != "":
			if ev, ok := parseTransportChange(device, prop.LastChange); ok {
				events = append(events, ev)
			}
		case svc.EventURL == renderingControl.EventURL && prop.LastChange != "":
			if ev, ok := parseRenderingChange(device, prop.LastChange); ok {
				events = append(events, ev)
			}
		case svc.EventURL == zoneGroupTopology.EventURL && prop.ZoneGroupState != "":
			events = append(events, parseTopology(prop.ZoneGroupState)...)
		}
	}
	return events
}

func parseTransportChange(device model.DeviceID, lastChange string) (model.Event, bool) {
	change := avTransportChange{}
	if err := xml.Unmarshal([]byte(lastChange), &change); err != nil {
		return model.Event{}, false
	}
	te := &model.TransportEvent{
		TransportState:   change.Instance.TransportState.Val,
		PlayMode:         change.Instance.CurrentPlayMode.Val,
		CurrentTrack:     parseTrack(change.Instance.CurrentTrackMetaData.Val, change.Instance.CurrentTrackURI.Val, change.Instance.CurrentTrackDuration.Val),
		EnqueuedMetadata: parseTrack(change.Instance.EnqueuedTransportURIMetaData.Val, "", ""),
		NextTrack:        parseTrack(change.Instance.NextTrackMetaData.Val, "", ""),
	}
	return model.Event{Device: device, Kind: model.EventTransport, Transport: te}, true
}

func parseRenderingChange(device model.DeviceID, lastChange string) (model.Event, bool) {
	change := renderingChange{}
	if err := xml.Unmarshal([]byte(lastChange), &change); err != nil {
		return model.Event{}, false
	}
	re := &model.RenderingEvent{}
	for _, v := range change.Instance.Volume {
		if v.Channel == "Master" {
			if n, err := strconv.Atoi(v.Val); err == nil {
				re.Volume = &n
			}
		}
	}
	for _, m := range change.Instance.Mute {
		if m.Channel == "Master" {
			muted := m.Val == "1"
			re.Mute = &muted
		}
	}
	if change.Instance.Bass.Val != "" {
		if n, err := strconv.Atoi(change.Instance.Bass.Val); err == nil {
			re.Bass = &n
		}
	}
	if change.Instance.Treble.Val != "" {
		if n, err := strconv.Atoi(change.Instance.Treble.Val); err == nil {
			re.Treble = &n
		}
	}
	return model.Event{Device: device, Kind: model.EventRendering, Rendering: re}, true
}

func parseTopology(zoneState string) []model.Event {
	zs := zoneGroupState{}
	if err := xml.Unmarshal([]byte(zoneState), &zs); err != nil {
		return nil
	}
	var events []model.Event
	for _, group := range zs.Groups {
		groupName := ""
		for _, member := range group.Members {
			if member.UUID == group.Coordinator {
				groupName = member.ZoneName
				if len(group.Members) > 1 {
					groupName += " + " + strconv.Itoa(len(group.Members)-1)
				}
			}
		}
		for _, member := range group.Members {
			id := model.DeviceID(member.UUID)
			events = append(events,
				model.Event{Device: id, Kind: model.EventCoordinator, Coordinator: model.DeviceID(group.Coordinator)},
				model.Event{Device: id, Kind: model.EventGroupName, GroupName: groupName},
			)
		}
	}
	return events
}

// parseTrack decodes escaped DIDL-Lite metadata; uri and duration act as
// fallbacks when the metadata document lacks them.
func parseTrack(metadata, uri, duration string) *model.Track {
	if metadata == "" || metadata == "NOT_IMPLEMENTED" {
		if uri == "" {
			return nil
		}
		return &model.Track{URI: uri, Duration: duration}
	}
	didl := didlLite{}
	if err := xml.Unmarshal([]byte(metadata), &didl); err != nil {
		return nil
	}
	track := &model.Track{
		Title:       didl.Item.Title,
		Artist:      didl.Item.Creator,
		Album:       didl.Item.Album,
		AlbumArtURI: didl.Item.AlbumArtURI,
		URI:         strings.TrimSpace(didl.Item.Res.URI),
		Duration:    didl.Item.Res.Duration,
	}
	if track.URI == "" {
		track.URI = uri
	}
	if track.Duration == "" {
		track.Duration = duration
	}
	return track
}
