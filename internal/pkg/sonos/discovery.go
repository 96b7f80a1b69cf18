package sonos

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/anicoll/sonos-mqtt/internal/pkg/model"
)

const (
	ssdpAddr   = "239.255.255.250:1900"
	ssdpTarget = "urn:schemas-upnp-org:device:ZonePlayer:1"
)

// Discover enumerates zone players from the static host list and, unless
// disabled, an SSDP M-SEARCH sweep. Players are de-duplicated by UUID. Each
// discovered player gets its event channel created here so per-device ordering
// holds from the first event on.
func (s *Service) Discover(ctx context.Context) error {
	hosts := make(map[string]struct{})
	for _, h := range s.cfg.Hosts {
		hosts[h] = struct{}{}
	}
	if !s.cfg.DisableDiscovery {
		found, err := s.ssdpSearch(ctx)
		if err != nil {
			s.logger.Warn("ssdp search failed, continuing with static hosts", zap.Error(err))
		}
		for _, h := range found {
			hosts[h] = struct{}{}
		}
	}
	if len(hosts) == 0 {
		return fmt.Errorf("no zone players found")
	}

	for host := range hosts {
		p, err := s.describe(ctx, host)
		if err != nil {
			s.logger.Warn("skipping device, description fetch failed", zap.String("host", host), zap.Error(err))
			continue
		}
		s.addPlayer(p)
	}

	s.mu.Lock()
	count := len(s.players)
	s.mu.Unlock()
	if count == 0 {
		return fmt.Errorf("no zone players answered their description request")
	}
	s.logger.Info("discovered zone players", zap.Int("count", count))
	return nil
}

func (s *Service) addPlayer(p *player) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.players[p.ID]; exists {
		s.players[p.ID].Host = p.Host
		return
	}
	s.players[p.ID] = p
	s.channels[p.ID] = make(chan model.Event, 32)
}

// ssdpSearch multicasts an M-SEARCH and collects unique responder hosts until
// the discovery window closes.
func (s *Service) ssdpSearch(ctx context.Context) ([]string, error) {
	laddr, err := net.ResolveUDPAddr("udp4", ":0")
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	raddr, err := net.ResolveUDPAddr("udp4", ssdpAddr)
	if err != nil {
		return nil, err
	}
	search := strings.Join([]string{
		"M-SEARCH * HTTP/1.1",
		"HOST: " + ssdpAddr,
		`MAN: "ssdp:discover"`,
		"MX: 1",
		"ST: " + ssdpTarget,
		"", "",
	}, "\r\n")
	if _, err := conn.WriteTo([]byte(search), raddr); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(s.cfg.DiscoveryTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetReadDeadline(deadline)

	hosts := make(map[string]struct{})
	buf := make([]byte, 4096)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			break // deadline reached
		}
		if !strings.Contains(string(buf[:n]), ssdpTarget) {
			continue
		}
		hosts[from.IP.String()] = struct{}{}
	}

	out := make([]string, 0, len(hosts))
	for h := range hosts {
		out = append(out, h)
	}
	return out, nil
}

// describe fetches and parses a player's device description.
func (s *Service) describe(ctx context.Context, host string) (*player, error) {
	descriptionURL := url.URL{Scheme: "http", Host: host + ":1400", Path: "/xml/device_description.xml"}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, descriptionURL.String(), nil)
	if err != nil {
		return nil, err
	}
	res, err := s.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}
	return parseDescription(host, data)
}

func parseDescription(host string, data []byte) (*player, error) {
	desc := deviceDescription{}
	if err := xml.Unmarshal(data, &desc); err != nil {
		return nil, err
	}
	id := strings.TrimPrefix(desc.Device.UDN, "uuid:")
	if id == "" {
		return nil, fmt.Errorf("device description from %s carries no UDN", host)
	}
	name := desc.Device.RoomName
	if name == "" {
		name = desc.Device.FriendlyName
	}
	return &player{
		ID:    model.DeviceID(id),
		Host:  host,
		Name:  name,
		Slug:  model.NameSlug(name),
		Model: desc.Device.ModelName,
	}, nil
}
