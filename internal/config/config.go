package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	LogLevel   string        `mapstructure:"log_level"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	PongWait   time.Duration `mapstructure:"pong_wait"`
	Secret     string        `mapstructure:"secret"`
	// CookieSecure marks the session cookie Secure; only for HTTPS deployments.
	CookieSecure bool `mapstructure:"cookie_secure"`

	// Store selects the membership backend: memory or redis.
	Store    string `mapstructure:"store"`
	RedisURL string `mapstructure:"redis_url"`

	Backpressure     string        `mapstructure:"backpressure"`
	JoinRateLimit    int           `mapstructure:"join_rate_limit"`
	JoinRateInterval time.Duration `mapstructure:"join_rate_interval"`

	Client ClientConfig `mapstructure:"client"`
}

type ClientConfig struct {
	ServerURL   string   `mapstructure:"server_url"`
	Room        string   `mapstructure:"room"`
	ICEServers  []string `mapstructure:"ice_servers"`
	VideoSource string   `mapstructure:"video_source"`
	// ViewPolicy is first-stays or last-wins.
	ViewPolicy     string        `mapstructure:"view_policy"`
	GlareTieBreak  bool          `mapstructure:"glare_tiebreak"`
	DetectInterval time.Duration `mapstructure:"detect_interval"`
	MetricsAddr    string        `mapstructure:"metrics_addr"`
}

// Load reads config/config.<CONFIG_ENV>.yaml, or CONFIG_FILE when set, on top
// of built-in defaults. VISION_* environment variables override both.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := os.Getenv("CONFIG_FILE")
	if fileName == "" {
		fileName = fmt.Sprintf("config/config.%s.yaml", env)
	}

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("VISION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("store", cfg.Store).Msg("config ready")
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 3000)
	v.SetDefault("log_level", "info")
	v.SetDefault("static_path", "./public")
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("pong_wait", "60s")
	v.SetDefault("secret", "vision-dev-secret")
	v.SetDefault("cookie_secure", false)
	v.SetDefault("store", "memory")
	v.SetDefault("redis_url", "redis://localhost:6379/0")
	v.SetDefault("backpressure", "drop")
	v.SetDefault("join_rate_limit", 5)
	v.SetDefault("join_rate_interval", "10s")

	v.SetDefault("client.server_url", "ws://localhost:3000/api/ws/signal")
	v.SetDefault("client.room", "main-room")
	v.SetDefault("client.ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("client.video_source", "")
	v.SetDefault("client.view_policy", "first-stays")
	v.SetDefault("client.glare_tiebreak", true)
	v.SetDefault("client.detect_interval", "100ms")
	v.SetDefault("client.metrics_addr", "")
}

// Level returns the configured log level, info when unset or invalid.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || c.LogLevel == "" {
		return zerolog.InfoLevel
	}
	return lvl
}
