package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	MqttCfg  *MqttConfig
	SonosCfg *SonosConfig
	HTTPCfg  *HTTPConfig
	// DatabaseURL enables the optional Postgres history sink when set.
	DatabaseURL string `env:"DATABASE_URL"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"INFO"`
}

type MqttConfig struct {
	Host     string `env:"MQTT_HOST"`
	Username string `env:"MQTT_USER"`
	Password string `env:"MQTT_PASS"`
	ClientID string `env:"MQTT_CLIENT_ID" envDefault:"sonos-mqtt"`
	// Prefix is the root of every topic this bridge touches.
	Prefix string `env:"MQTT_PREFIX" envDefault:"sonos"`
	// DiscoveryPrefix is where retained autodiscovery config messages go.
	DiscoveryPrefix string `env:"MQTT_DISCOVERY_PREFIX" envDefault:"homeassistant"`
}

type SonosConfig struct {
	// Hosts seeds known players without waiting for SSDP; discovery still runs
	// unless DisableDiscovery is set.
	Hosts            []string      `env:"SONOS_HOSTS" envSeparator:","`
	DisableDiscovery bool          `env:"SONOS_DISABLE_DISCOVERY"`
	DiscoveryTimeout time.Duration `env:"SONOS_DISCOVERY_TIMEOUT" envDefault:"5s"`
	// DebounceDelay is the quiet window before an aggregate state publish.
	DebounceDelay time.Duration `env:"SONOS_DEBOUNCE_DELAY" envDefault:"400ms"`
	// Distinct additionally publishes individual fields to
	// status/<uuid>/<field>, immediately and uncoalesced.
	Distinct bool `env:"SONOS_DISTINCT"`
	// CallbackPort is where the UPnP event listener binds.
	CallbackPort int `env:"SONOS_CALLBACK_PORT" envDefault:"6329"`
	// TTSEndpoint generates speech URIs for notify commands carrying text.
	TTSEndpoint string `env:"SONOS_TTS_ENDPOINT"`
	TTSLang     string `env:"SONOS_TTS_LANG" envDefault:"en-US"`
}

type HTTPConfig struct {
	Addr string `env:"HTTP_ADDR" envDefault:"0.0.0.0:8000"`
	// TokenHash is a bcrypt hash; when set, API requests need the matching
	// bearer token.
	TokenHash string `env:"HTTP_TOKEN_HASH"`
}

// FromEnv builds a Config from environment variables. CLI flags override the
// result in main.
func FromEnv() (*Config, error) {
	cfg := &Config{
		MqttCfg:  &MqttConfig{},
		SonosCfg: &SonosConfig{},
		HTTPCfg:  &HTTPConfig{},
	}
	for _, target := range []any{cfg, cfg.MqttCfg, cfg.SonosCfg, cfg.HTTPCfg} {
		if err := env.Parse(target); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
