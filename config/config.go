// Package config loads andmon settings from a YAML file, ANDMON_*
// environment variables and command line flags, in increasing order of
// precedence.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/robertklofgren/andmon/codec"
)

const (
	DefaultStreamPort = 8767
	DefaultViewerAddr = ":8000"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Codecs    CodecsConfig    `mapstructure:"codecs"`
	Playback  PlaybackConfig  `mapstructure:"playback"`
	Decoder   DecoderConfig   `mapstructure:"decoder"`
	Viewer    ViewerConfig    `mapstructure:"viewer"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Host   string `mapstructure:"host"`
	Port   int    `mapstructure:"port"`
	Path   string `mapstructure:"path"`
	Secure bool   `mapstructure:"secure"`
}

type DiscoveryConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Service string        `mapstructure:"service"`
	Domain  string        `mapstructure:"domain"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type CodecsConfig struct {
	Candidates []string `mapstructure:"candidates"`
	Fallback   string   `mapstructure:"fallback"`
}

type PlaybackConfig struct {
	RefreshRate     int  `mapstructure:"refresh_rate"`
	WaitForKeyFrame bool `mapstructure:"wait_for_key_frame"`
	HoldOnClose     bool `mapstructure:"hold_on_close"`
}

type DecoderConfig struct {
	FFmpegPath string `mapstructure:"ffmpeg_path"`
	Disabled   bool   `mapstructure:"disabled"`
	Threads    int    `mapstructure:"threads"`
}

type ViewerConfig struct {
	Addr        string `mapstructure:"addr"`
	JPEGQuality int    `mapstructure:"jpeg_quality"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// flagKeys maps command line flag names to config keys.
var flagKeys = map[string]string{
	"server":      "server.host",
	"port":        "server.port",
	"discover":    "discovery.enabled",
	"viewer-addr": "viewer.addr",
	"no-decoder":  "decoder.disabled",
	"log-level":   "log.level",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", DefaultStreamPort)
	v.SetDefault("server.path", "/")
	v.SetDefault("server.secure", false)

	v.SetDefault("discovery.enabled", false)
	v.SetDefault("discovery.service", "_andmon._tcp")
	v.SetDefault("discovery.domain", "local.")
	v.SetDefault("discovery.timeout", 5*time.Second)

	v.SetDefault("codecs.candidates", codec.Offer(codec.DefaultCandidates).Strings())
	v.SetDefault("codecs.fallback", string(codec.Fallback))

	v.SetDefault("playback.refresh_rate", 60)
	v.SetDefault("playback.wait_for_key_frame", false)
	v.SetDefault("playback.hold_on_close", false)

	v.SetDefault("decoder.ffmpeg_path", "ffmpeg")
	v.SetDefault("decoder.disabled", false)
	v.SetDefault("decoder.threads", 1)

	v.SetDefault("viewer.addr", DefaultViewerAddr)
	v.SetDefault("viewer.jpeg_quality", 80)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// Load reads the config file at path, or andmon.yaml from the usual
// locations when path is empty. A missing file is not an error. Flags
// that were set on the command line override everything else.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("andmon")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/andmon")
		v.AddConfigPath("/etc/andmon")
	}

	v.SetEnvPrefix("ANDMON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("config: bind --%s: %w", name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	return cfg, nil
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Host == "" && !c.Discovery.Enabled {
		errs = append(errs, errors.New("server.host is empty and discovery is disabled"))
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Playback.RefreshRate <= 0 {
		errs = append(errs, fmt.Errorf("playback.refresh_rate %d must be positive", c.Playback.RefreshRate))
	}
	if c.Codecs.Fallback == "" {
		errs = append(errs, errors.New("codecs.fallback is empty"))
	}
	if c.Viewer.JPEGQuality < 1 || c.Viewer.JPEGQuality > 100 {
		errs = append(errs, fmt.Errorf("viewer.jpeg_quality %d outside 1..100", c.Viewer.JPEGQuality))
	}
	if c.Decoder.Threads < 0 {
		errs = append(errs, fmt.Errorf("decoder.threads %d is negative", c.Decoder.Threads))
	}
	if c.Discovery.Enabled && c.Discovery.Service == "" {
		errs = append(errs, errors.New("discovery.service is empty"))
	}
	return errors.Join(errs...)
}

// ServerURL is the WebSocket URL of the stream server.
func (c *Config) ServerURL() string {
	scheme := "ws"
	if c.Server.Secure {
		scheme = "wss"
	}
	path := c.Server.Path
	if path == "" {
		path = "/"
	} else if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u := url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port)),
		Path:   path,
	}
	return u.String()
}

func (c *Config) RefreshInterval() time.Duration {
	if c.Playback.RefreshRate <= 0 {
		return time.Second / 60
	}
	return time.Second / time.Duration(c.Playback.RefreshRate)
}

func (c *Config) Candidates() []codec.Descriptor {
	return codec.ParseDescriptors(c.Codecs.Candidates)
}
