package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Bot backend kinds understood by the notifier registry.
const (
	KindTelegram = "telegram"
	KindSlack    = "slack"
	KindDiscord  = "discord"
)

// ErrInvalidConfig wraps all validation failures. Validation is all-or-nothing:
// a single bad camera or bot aborts startup before any session runs.
var ErrInvalidConfig = errors.New("invalid configuration")

// FlexibleStringSlice is a []string that also accepts JSON numbers,
// so allow_from can contain both "123" and 123.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	// Try []string first
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}

	// Try []interface{} to handle mixed types
	var raw []any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

type Config struct {
	Cameras []CameraConfig `json:"cameras"`
	Bots    []BotConfig    `json:"bots"`
	Gateway GatewayConfig  `json:"gateway"`
	Capture CaptureConfig  `json:"capture"`
	Events  EventsConfig   `json:"events"`
	LogFile string         `env:"CAMGATE_LOG_FILE" json:"log_file,omitempty"`
}

// CameraConfig describes one ONVIF camera. Immutable after load; sessions
// hold a reference, never a copy they mutate.
type CameraConfig struct {
	Name             string `json:"name"`
	Host             string `json:"host"`
	OnvifPort        int    `json:"onvif_port"`
	Username         string `json:"username"`
	Password         string `json:"password"`
	Bot              string `json:"bot"`
	NoMedia          bool   `json:"nomedia,omitempty"`
	CooldownSeconds  int    `json:"cooldown_seconds"`
	ClipSeconds      int    `json:"clip_seconds"`
	RTSPPort         int    `json:"rtsp_port,omitempty"`
	RTSPPath         string `json:"rtsp_path,omitempty"`
	SnapshotSchedule string `json:"snapshot_schedule,omitempty"`
}

// RTSPURL builds the live-stream URL for the camera. Credentials are
// percent-escaped; special characters in camera passwords are common.
func (c CameraConfig) RTSPURL() string {
	port := c.RTSPPort
	if port == 0 {
		port = 554
	}
	path := c.RTSPPath
	if path == "" {
		path = "/stream1"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u := url.URL{
		Scheme: "rtsp",
		User:   url.UserPassword(c.Username, c.Password),
		Host:   fmt.Sprintf("%s:%d", c.Host, port),
		Path:   path,
	}
	return u.String()
}

// OnvifAddr returns the host:port the ONVIF device service listens on.
func (c CameraConfig) OnvifAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.OnvifPort)
}

// BotConfig describes one messaging destination. AppToken is only used by
// the Slack backend (Socket Mode).
type BotConfig struct {
	Name      string              `json:"name"`
	Kind      string              `json:"kind"`
	Token     string              `json:"token"`
	AppToken  string              `json:"app_token,omitempty"`
	Channel   string              `json:"channel"`
	AllowFrom FlexibleStringSlice `json:"allow_from,omitempty"`
}

type GatewayConfig struct {
	Host string `env:"CAMGATE_GATEWAY_HOST" json:"host"`
	Port int    `env:"CAMGATE_GATEWAY_PORT" json:"port"`
}

type CaptureConfig struct {
	FFmpegBin           string `env:"CAMGATE_CAPTURE_FFMPEG_BIN"            json:"ffmpeg_bin"`
	TimeoutGraceSeconds int    `env:"CAMGATE_CAPTURE_TIMEOUT_GRACE_SECONDS" json:"timeout_grace_seconds"`
}

type EventsConfig struct {
	SubscriptionMinutes int `env:"CAMGATE_EVENTS_SUBSCRIPTION_MINUTES" json:"subscription_minutes"`
	PullTimeoutSeconds  int `env:"CAMGATE_EVENTS_PULL_TIMEOUT_SECONDS" json:"pull_timeout_seconds"`
	BackoffCapSeconds   int `env:"CAMGATE_EVENTS_BACKOFF_CAP_SECONDS"  json:"backoff_cap_seconds"`
}

func DefaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host: "127.0.0.1",
			Port: 8089,
		},
		Capture: CaptureConfig{
			FFmpegBin:           "ffmpeg",
			TimeoutGraceSeconds: 10,
		},
		Events: EventsConfig{
			SubscriptionMinutes: 10,
			PullTimeoutSeconds:  30,
			BackoffCapSeconds:   60,
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

// Bot returns the bot with the given name, or nil.
func (c *Config) Bot(name string) *BotConfig {
	for i := range c.Bots {
		if c.Bots[i].Name == name {
			return &c.Bots[i]
		}
	}
	return nil
}

// Camera returns the camera with the given name, or nil.
func (c *Config) Camera(name string) *CameraConfig {
	for i := range c.Cameras {
		if c.Cameras[i].Name == name {
			return &c.Cameras[i]
		}
	}
	return nil
}

// CamerasForBot returns the names of all cameras associated with a bot.
func (c *Config) CamerasForBot(bot string) []string {
	var names []string
	for i := range c.Cameras {
		if c.Cameras[i].Bot == bot {
			names = append(names, c.Cameras[i].Name)
		}
	}
	return names
}

// ReferencedBots returns the bots referenced by at least one camera,
// in declaration order. Listeners are only started for these.
func (c *Config) ReferencedBots() []*BotConfig {
	var bots []*BotConfig
	for i := range c.Bots {
		if len(c.CamerasForBot(c.Bots[i].Name)) > 0 {
			bots = append(bots, &c.Bots[i])
		}
	}
	return bots
}

// Validate checks the whole configuration. The first problem found is fatal;
// there is no partial startup with some cameras missing required fields.
func (c *Config) Validate() error {
	if len(c.Cameras) == 0 {
		return fmt.Errorf("%w: no cameras configured", ErrInvalidConfig)
	}

	if c.Gateway.Host == "" {
		c.Gateway.Host = "127.0.0.1"
	}
	if c.Gateway.Port == 0 {
		c.Gateway.Port = 8089
	}
	if c.Gateway.Port < 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("%w: gateway: port must be within 1-65535", ErrInvalidConfig)
	}

	seenBots := make(map[string]bool, len(c.Bots))
	for i := range c.Bots {
		bot := &c.Bots[i]
		if bot.Name == "" {
			return fmt.Errorf("%w: bots[%d]: name is required", ErrInvalidConfig, i)
		}
		if seenBots[bot.Name] {
			return fmt.Errorf("%w: duplicate bot name %q", ErrInvalidConfig, bot.Name)
		}
		seenBots[bot.Name] = true
		switch bot.Kind {
		case KindTelegram, KindDiscord:
		case KindSlack:
			if bot.AppToken == "" {
				return fmt.Errorf("%w: bot %q: slack requires app_token for socket mode", ErrInvalidConfig, bot.Name)
			}
		default:
			return fmt.Errorf("%w: bot %q: unknown kind %q", ErrInvalidConfig, bot.Name, bot.Kind)
		}
		if bot.Token == "" {
			return fmt.Errorf("%w: bot %q: token is required", ErrInvalidConfig, bot.Name)
		}
		if bot.Channel == "" {
			return fmt.Errorf("%w: bot %q: channel is required", ErrInvalidConfig, bot.Name)
		}
	}

	seen := make(map[string]bool, len(c.Cameras))
	for i := range c.Cameras {
		cam := &c.Cameras[i]
		if cam.Name == "" {
			return fmt.Errorf("%w: cameras[%d]: name is required", ErrInvalidConfig, i)
		}
		if seen[cam.Name] {
			return fmt.Errorf("%w: duplicate camera name %q", ErrInvalidConfig, cam.Name)
		}
		seen[cam.Name] = true
		if cam.Host == "" {
			return fmt.Errorf("%w: camera %q: host is required", ErrInvalidConfig, cam.Name)
		}
		if cam.OnvifPort <= 0 {
			return fmt.Errorf("%w: camera %q: onvif_port is required", ErrInvalidConfig, cam.Name)
		}
		if cam.Username == "" || cam.Password == "" {
			return fmt.Errorf("%w: camera %q: username and password are required", ErrInvalidConfig, cam.Name)
		}
		if cam.Bot == "" {
			return fmt.Errorf("%w: camera %q: bot is required", ErrInvalidConfig, cam.Name)
		}
		if c.Bot(cam.Bot) == nil {
			return fmt.Errorf("%w: camera %q references unknown bot %q", ErrInvalidConfig, cam.Name, cam.Bot)
		}
		if cam.CooldownSeconds < 0 {
			return fmt.Errorf("%w: camera %q: cooldown_seconds must be >= 0", ErrInvalidConfig, cam.Name)
		}
		if cam.CooldownSeconds == 0 {
			cam.CooldownSeconds = 30
		}
		if cam.ClipSeconds == 0 {
			cam.ClipSeconds = 10
		}
		if cam.ClipSeconds < 0 {
			return fmt.Errorf("%w: camera %q: clip_seconds must be > 0", ErrInvalidConfig, cam.Name)
		}
	}

	return nil
}
