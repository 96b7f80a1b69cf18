package sonos

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/anicoll/sonos-mqtt/internal/pkg/model"
)

const defaultNotifyTimeout = 30 * time.Second

// Notify plays an announcement. With a device selector it targets that
// device's coordinator; without one it hits every group coordinator in
// parallel. Each group saves and restores its own playback.
func (s *Service) Notify(ctx context.Context, req model.NotifyRequest) error {
	if req.TrackURI == "" && req.Text == "" {
		return fmt.Errorf("notify needs a trackUri or text")
	}

	var targets []*player
	if req.Device != "" {
		s.mu.Lock()
		for _, p := range s.players {
			if matchesSelector(p, req.Device) {
				targets = append(targets, p)
				break
			}
		}
		s.mu.Unlock()
		if len(targets) == 0 {
			return fmt.Errorf("no device matches %q", req.Device)
		}
	} else {
		targets = s.coordinators()
	}

	eg, ctx := errgroup.WithContext(ctx)
	for _, p := range targets {
		eg.Go(func() error {
			return s.announce(ctx, p, req)
		})
	}
	return eg.Wait()
}

// announce interrupts playback on p's group coordinator with the notification
// and restores the previous state afterwards, best effort.
func (s *Service) announce(ctx context.Context, p *player, req model.NotifyRequest) error {
	if p.Coordinator != "" && p.Coordinator != p.ID {
		coordinator, ok := s.playerByID(p.Coordinator)
		if !ok {
			return fmt.Errorf("coordinator %s of %s is unknown", p.Coordinator, p.ID)
		}
		p = coordinator
	}

	uri := req.TrackURI
	if uri == "" {
		if s.tts == nil {
			return fmt.Errorf("notify text given but no tts endpoint configured")
		}
		var err error
		uri, err = s.tts.SpeechURI(ctx, req.Text)
		if err != nil {
			return fmt.Errorf("tts generation failed: %w", err)
		}
	}

	prev, err := s.captureState(ctx, p)
	if err != nil {
		return err
	}

	if req.Volume > 0 {
		if err := s.setVolume(ctx, p, req.Volume); err != nil {
			return err
		}
	}
	if err := s.setAVTransportURI(ctx, p, uri, ""); err != nil {
		return err
	}
	if err := s.play(ctx, p); err != nil {
		return err
	}

	s.waitForStop(ctx, p, notifyTimeout(req))
	s.restoreState(ctx, p, prev)
	return nil
}

type playbackState struct {
	uri      string
	metadata string
	position string
	volume   int
	playing  bool
}

func (s *Service) captureState(ctx context.Context, p *player) (playbackState, error) {
	prev := playbackState{}
	body, err := s.soapCall(ctx, p.Host, avTransport, "GetMediaInfo", soapArgs("InstanceID", "0"))
	if err != nil {
		return prev, err
	}
	prev.uri = extractValue(body, "CurrentURI")
	prev.metadata = extractValue(body, "CurrentURIMetaData")

	if body, err = s.soapCall(ctx, p.Host, avTransport, "GetPositionInfo", soapArgs("InstanceID", "0")); err == nil {
		prev.position = extractValue(body, "RelTime")
	}
	if prev.volume, err = s.getVolume(ctx, p); err != nil {
		return prev, err
	}
	state, err := s.transportState(ctx, p)
	if err != nil {
		return prev, err
	}
	prev.playing = state == "PLAYING" || state == "TRANSITIONING"
	return prev, nil
}

func (s *Service) restoreState(ctx context.Context, p *player, prev playbackState) {
	if err := s.setVolume(ctx, p, prev.volume); err != nil {
		s.logger.Warn("notify: volume restore failed", zap.String("uuid", string(p.ID)), zap.Error(err))
	}
	if prev.uri == "" {
		return
	}
	if err := s.setAVTransportURI(ctx, p, prev.uri, prev.metadata); err != nil {
		s.logger.Warn("notify: transport restore failed", zap.String("uuid", string(p.ID)), zap.Error(err))
		return
	}
	if prev.position != "" && prev.position != "NOT_IMPLEMENTED" {
		if err := s.seek(ctx, p, prev.position); err != nil {
			s.logger.Debug("notify: seek restore failed", zap.String("uuid", string(p.ID)), zap.Error(err))
		}
	}
	if prev.playing {
		if err := s.play(ctx, p); err != nil {
			s.logger.Warn("notify: resume failed", zap.String("uuid", string(p.ID)), zap.Error(err))
		}
	}
}

// waitForStop polls until the notification finished playing or the timeout
// passes.
func (s *Service) waitForStop(ctx context.Context, p *player, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	// Give the player a moment to leave STOPPED before watching for it.
	time.Sleep(time.Second)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			state, err := s.transportState(ctx, p)
			if err != nil || state == "STOPPED" || state == "PAUSED_PLAYBACK" {
				return
			}
		}
	}
}

func notifyTimeout(req model.NotifyRequest) time.Duration {
	if req.TimeoutMs > 0 {
		return time.Duration(req.TimeoutMs) * time.Millisecond
	}
	return defaultNotifyTimeout
}
