package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	ErrMissingSetting = errors.New("missing required setting")
	ErrInvalidSetting = errors.New("invalid setting")
)

const (
	StateBackendFile     = "file"
	StateBackendPostgres = "postgres"
	StateBackendRedis    = "redis"
)

// DiscordPrefix marks channel entries served by the discord source.
const DiscordPrefix = "discord:"

type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Discord    DiscordConfig    `mapstructure:"discord"`
	Ingest     IngestConfig     `mapstructure:"ingest"`
	Mongo      MongoConfig      `mapstructure:"mongo"`
	State      StateConfig      `mapstructure:"state"`
	DB         DBConfig         `mapstructure:"db"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Cron       CronConfig       `mapstructure:"cron"`
	Classifier ClassifierConfig `mapstructure:"classifier"`

	missing []string
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	// HTTPAddr enables the ops endpoint when non-empty.
	HTTPAddr string `mapstructure:"http_addr"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

type TelegramConfig struct {
	Channels      []string `mapstructure:"channels"`
	CheckInterval int      `mapstructure:"check_interval"`
	MessageLimit  int      `mapstructure:"message_limit"`
	BotToken      string   `mapstructure:"bot_token"`
	BufferSize    int      `mapstructure:"buffer_size"`
}

type DiscordConfig struct {
	BotToken string `mapstructure:"bot_token"`
}

type IngestConfig struct {
	FetchConcurrency int           `mapstructure:"fetch_concurrency"`
	FetchTimeout     time.Duration `mapstructure:"fetch_timeout"`
	CycleTimeout     time.Duration `mapstructure:"cycle_timeout"`
	InitMaxAttempts  int           `mapstructure:"init_max_attempts"`
	InitRetryDelay   time.Duration `mapstructure:"init_retry_delay"`
	InitMaxDelay     time.Duration `mapstructure:"init_max_delay"`
	SourceTimezone   string        `mapstructure:"source_timezone"`
	VerifyChannels   bool          `mapstructure:"verify_channels"`
}

type MongoConfig struct {
	URI        string        `mapstructure:"uri"`
	Database   string        `mapstructure:"database"`
	Collection string        `mapstructure:"collection"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type StateConfig struct {
	Backend        string `mapstructure:"backend"`
	Path           string `mapstructure:"path"`
	RedisKeyPrefix string `mapstructure:"redis_key_prefix"`
}

type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type CronConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	HealthReport string `mapstructure:"health_report"`
}

type ClassifierConfig struct {
	DefaultBothDirection bool   `mapstructure:"default_both_direction"`
	LocationsFile        string `mapstructure:"locations_file"`
}

// PollInterval is the sleep between cycles.
func (c TelegramConfig) PollInterval() time.Duration {
	return time.Duration(c.CheckInterval) * time.Second
}

// required settings and the legacy environment names they accept.
var required = map[string][]string{
	"telegram.channels":       {"TELEGRAM_CHANNELS"},
	"telegram.check_interval": {"TELEGRAM_CHECK_INTERVAL"},
	"telegram.message_limit":  {"TELEGRAM_MESSAGE_LIMIT"},
}

var legacy = map[string][]string{
	"telegram.bot_token": {"TELEGRAM_BOT_TOKEN"},
	"discord.bot_token":  {"DISCORD_BOT_TOKEN"},
	"mongo.uri":          {"MONGO_CONNECTION_STRING"},
	"mongo.database":     {"MONGO_DB_NAME"},
	"mongo.collection":   {"MONGO_COLLECTION_DATA"},
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CKP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()

	for key, names := range required {
		if err := bindEnv(v, key, names); err != nil {
			return Config{}, err
		}
	}
	for key, names := range legacy {
		if err := bindEnv(v, key, names); err != nil {
			return Config{}, err
		}
	}

	v.SetDefault("app.env", "prod")
	v.SetDefault("server.http_addr", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "json")
	v.SetDefault("log.development", false)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("telegram.buffer_size", 500)
	v.SetDefault("ingest.fetch_concurrency", 1)
	v.SetDefault("ingest.fetch_timeout", "30s")
	v.SetDefault("ingest.cycle_timeout", "2m")
	v.SetDefault("ingest.init_max_attempts", 3)
	v.SetDefault("ingest.init_retry_delay", "10s")
	v.SetDefault("ingest.init_max_delay", "2m")
	v.SetDefault("ingest.source_timezone", "Asia/Hebron")
	v.SetDefault("ingest.verify_channels", true)
	v.SetDefault("mongo.database", "checkpoints")
	v.SetDefault("mongo.collection", "checkpoint_events")
	v.SetDefault("mongo.timeout", "10s")
	v.SetDefault("state.backend", StateBackendFile)
	v.SetDefault("state.path", "monitor_state.json")
	v.SetDefault("state.redis_key_prefix", "checkpointfeed")
	v.SetDefault("db.max_open_conns", 5)
	v.SetDefault("db.max_idle_conns", 2)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("redis.db", 0)
	v.SetDefault("cron.enabled", true)
	v.SetDefault("cron.health_report", "@every 10m")
	v.SetDefault("classifier.default_both_direction", true)

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidSetting, err)
	}
	for key := range required {
		if !v.IsSet(key) {
			cfg.missing = append(cfg.missing, key)
		}
	}
	cfg.Telegram.Channels = NormalizeChannels(cfg.Telegram.Channels)
	return cfg, nil
}

func bindEnv(v *viper.Viper, key string, names []string) error {
	args := []string{key, "CKP_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}
	args = append(args, names...)
	return v.BindEnv(args...)
}

// NormalizeChannels trims entries, drops empties and duplicates, and keeps order.
func NormalizeChannels(in []string) []string {
	out := make([]string, 0, len(in))
	seen := map[string]struct{}{}
	for _, raw := range in {
		for _, ch := range strings.Split(raw, ",") {
			ch = strings.TrimSpace(ch)
			if ch == "" {
				continue
			}
			if _, ok := seen[ch]; ok {
				continue
			}
			seen[ch] = struct{}{}
			out = append(out, ch)
		}
	}
	return out
}

// Validate reports the first configuration problem that prevents ingestion.
func (c Config) Validate() error {
	if len(c.missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingSetting, strings.Join(sortedCopy(c.missing), ", "))
	}
	if len(c.Telegram.Channels) == 0 {
		return fmt.Errorf("%w: telegram.channels", ErrMissingSetting)
	}
	if c.Telegram.CheckInterval <= 0 {
		return fmt.Errorf("%w: telegram.check_interval must be positive", ErrInvalidSetting)
	}
	if c.Telegram.MessageLimit <= 0 {
		return fmt.Errorf("%w: telegram.message_limit must be positive", ErrInvalidSetting)
	}
	var hasTelegram, hasDiscord bool
	for _, ch := range c.Telegram.Channels {
		if strings.HasPrefix(ch, DiscordPrefix) {
			hasDiscord = true
		} else {
			hasTelegram = true
		}
	}
	if hasTelegram && strings.TrimSpace(c.Telegram.BotToken) == "" {
		return fmt.Errorf("%w: telegram.bot_token", ErrMissingSetting)
	}
	if hasDiscord && strings.TrimSpace(c.Discord.BotToken) == "" {
		return fmt.Errorf("%w: discord.bot_token", ErrMissingSetting)
	}
	if strings.TrimSpace(c.Mongo.URI) == "" {
		return fmt.Errorf("%w: mongo.uri", ErrMissingSetting)
	}
	if _, err := time.LoadLocation(c.Ingest.SourceTimezone); err != nil {
		return fmt.Errorf("%w: ingest.source_timezone: %v", ErrInvalidSetting, err)
	}
	return c.ValidateState()
}

// ValidateState checks only the cursor backend settings.
func (c Config) ValidateState() error {
	switch c.State.Backend {
	case StateBackendFile:
		if strings.TrimSpace(c.State.Path) == "" {
			return fmt.Errorf("%w: state.path", ErrMissingSetting)
		}
	case StateBackendPostgres:
		if strings.TrimSpace(c.DB.DSN) == "" {
			return fmt.Errorf("%w: db.dsn", ErrMissingSetting)
		}
	case StateBackendRedis:
		if strings.TrimSpace(c.Redis.Addr) == "" {
			return fmt.Errorf("%w: redis.addr", ErrMissingSetting)
		}
	default:
		return fmt.Errorf("%w: state.backend %q", ErrInvalidSetting, c.State.Backend)
	}
	return nil
}

func sortedCopy(in []string) []string {
	out := slices.Clone(in)
	slices.Sort(out)
	return out
}
