package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env"
	"github.com/joho/godotenv"

	"rbw-core/internal/moderation"
)

type Config struct {
	Environment string `json:"environment"`
	LogLevel    string `json:"logLevel" env:"RBW_LOG_LEVEL"`

	Server       ServerConfig       `json:"server"`
	MongoDB      MongoConfig        `json:"mongodb"`
	Store        StoreConfig        `json:"store"`
	NATS         NATSConfig         `json:"nats"`
	Auth         AuthConfig         `json:"auth"`
	Bridge       BridgeConfig       `json:"bridge"`
	Queue        QueueConfig        `json:"queue"`
	Warp         WarpConfig         `json:"warp"`
	Party        PartyConfig        `json:"party"`
	Scoring      ScoringConfig      `json:"scoring"`
	Moderation   ModerationConfig   `json:"moderation"`
	Channels     ChannelsConfig     `json:"channels"`
	Verification VerificationConfig `json:"verification"`
	Maps         []string           `json:"maps"`
}

type ServerConfig struct {
	Host        string `json:"host" env:"RBW_SERVER_HOST"`
	Port        int    `json:"port" env:"RBW_SERVER_PORT"`
	FrontendURL string `json:"frontendUrl" env:"RBW_FRONTEND_URL"`
}

type MongoConfig struct {
	URI      string `json:"uri" env:"RBW_MONGODB_URI"`
	Database string `json:"database" env:"RBW_MONGODB_DATABASE"`
}

type StoreConfig struct {
	// Backend is "mongo" or "memory".
	Backend string `json:"backend" env:"RBW_STORE_BACKEND"`
}

type NATSConfig struct {
	URL            string   `json:"url" env:"RBW_NATS_URL"`
	Name           string   `json:"name"`
	SubjectPrefix  string   `json:"subjectPrefix"`
	RequestTimeout Duration `json:"requestTimeout"`
}

type AuthConfig struct {
	StaffSecret  string `json:"staffSecret" env:"RBW_STAFF_SECRET"`
	BridgeSecret string `json:"bridgeSecret" env:"RBW_BRIDGE_SECRET"`
}

type BridgeConfig struct {
	Path            string   `json:"path"`
	PingInterval    Duration `json:"pingInterval"`
	PongTimeout     Duration `json:"pongTimeout"`
	WriteTimeout    Duration `json:"writeTimeout"`
	JanitorInterval Duration `json:"janitorInterval"`
	RequestTimeout  Duration `json:"requestTimeout"`
	MaxMessageBytes int64    `json:"maxMessageBytes"`
}

type QueueConfig struct {
	CheckInterval      Duration `json:"checkInterval"`
	PartialBatchWait   Duration `json:"partialBatchWait"`
	MinPartialBatch    int      `json:"minPartialBatch"`
	ProcessingCooldown Duration `json:"processingCooldown"`
	LockTimeout        Duration `json:"lockTimeout"`
	RequireOnline      bool     `json:"requireOnline"`
	OnlineCheckTimeout Duration `json:"onlineCheckTimeout"`
	StatusInterval     Duration `json:"statusInterval"`
	StatusHeartbeat    Duration `json:"statusHeartbeat"`
}

type WarpConfig struct {
	Timeout          Duration `json:"timeout"`
	MaxRetryAttempts int      `json:"maxRetryAttempts"`
	RetryDelay       Duration `json:"retryDelay"`
}

type PartyConfig struct {
	InactiveTimeout     Duration `json:"inactiveTimeout"`
	SizeMax             int      `json:"sizeMax"`
	InviteTimeout       Duration `json:"inviteTimeout"`
	AutoDisbandInterval Duration `json:"autoDisbandInterval"`
}

type ScoringConfig struct {
	BoosterMultiplier float64           `json:"boosterMultiplier"`
	DailyFloorZero    bool              `json:"dailyFloorZero"`
	RatingDecay       RatingDecayConfig `json:"ratingDecay"`
}

type RatingDecayConfig struct {
	Enabled     bool     `json:"enabled"`
	Value       int      `json:"value"`
	Threshold   int      `json:"threshold"`
	InactiveFor Duration `json:"inactiveFor"`
}

type ModerationConfig struct {
	ExpiryInterval  Duration `json:"expiryInterval"`
	StrikeDecayDays int      `json:"strikeDecayDays"`
	// StrikeActions maps "<n>strike" to "warn" or a "<int>[smhd]" ban duration.
	StrikeActions map[string]string `json:"strikeActions"`
}

type ChannelsConfig struct {
	SweepInterval Duration `json:"sweepInterval"`
	GamesCategory string   `json:"gamesCategory"`
}

type VerificationConfig struct {
	CodeTTL Duration `json:"codeTtl"`
}

// Duration is a time.Duration read from JSON as "5s"-style strings or as
// integer seconds.
type Duration time.Duration

func (d Duration) D() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var secs float64
	if err := json.Unmarshal(b, &secs); err != nil {
		return fmt.Errorf("invalid duration %s", string(b))
	}
	*d = Duration(time.Duration(secs * float64(time.Second)))
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Load reads .env (if present), then configs/config.<env>.json, then applies
// environment overrides and defaults, and validates the result.
func Load(envName string) (*Config, error) {
	_ = godotenv.Load()

	configDir := os.Getenv("CONFIG_DIR")
	if configDir == "" {
		configDir = "configs"
	}

	filename := fmt.Sprintf("config.%s.json", envName)
	configPath := filepath.Join(configDir, filename)

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	cfg.Environment = envName

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes a JSON config document after ${VAR} expansion.
func Parse(data []byte) (*Config, error) {
	configStr := expandEnvVars(string(data))

	var cfg Config
	if err := json.Unmarshal([]byte(configStr), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	targets := []interface{}{c, &c.Server, &c.MongoDB, &c.Store, &c.NATS, &c.Auth}
	for _, t := range targets {
		if err := env.Parse(t); err != nil {
			return fmt.Errorf("failed to apply environment overrides: %w", err)
		}
	}
	return nil
}

// ApplyDefaults fills unset values with the documented defaults.
func (c *Config) ApplyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Store.Backend == "" {
		c.Store.Backend = "mongo"
	}
	if c.MongoDB.Database == "" {
		c.MongoDB.Database = "rbw"
	}
	if c.NATS.Name == "" {
		c.NATS.Name = "rbw-core"
	}
	if c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = "rbw"
	}
	setDur(&c.NATS.RequestTimeout, 5*time.Second)

	if c.Bridge.Path == "" {
		c.Bridge.Path = "/rbw/websocket"
	}
	setDur(&c.Bridge.PingInterval, 30*time.Second)
	setDur(&c.Bridge.PongTimeout, 10*time.Second)
	setDur(&c.Bridge.WriteTimeout, 10*time.Second)
	setDur(&c.Bridge.JanitorInterval, 500*time.Millisecond)
	setDur(&c.Bridge.RequestTimeout, 60*time.Second)
	if c.Bridge.MaxMessageBytes == 0 {
		c.Bridge.MaxMessageBytes = 1 << 20
	}

	setDur(&c.Queue.CheckInterval, 5*time.Second)
	setDur(&c.Queue.PartialBatchWait, 60*time.Second)
	if c.Queue.MinPartialBatch == 0 {
		c.Queue.MinPartialBatch = 4
	}
	setDur(&c.Queue.ProcessingCooldown, 2*time.Second)
	setDur(&c.Queue.LockTimeout, 500*time.Millisecond)
	setDur(&c.Queue.OnlineCheckTimeout, 5*time.Second)
	setDur(&c.Queue.StatusInterval, time.Second)
	setDur(&c.Queue.StatusHeartbeat, 10*time.Second)

	setDur(&c.Warp.Timeout, 60*time.Second)
	if c.Warp.MaxRetryAttempts == 0 {
		c.Warp.MaxRetryAttempts = 3
	}
	setDur(&c.Warp.RetryDelay, 5*time.Second)

	setDur(&c.Party.InactiveTimeout, 30*time.Minute)
	if c.Party.SizeMax == 0 {
		c.Party.SizeMax = 4
	}
	setDur(&c.Party.InviteTimeout, 60*time.Second)
	setDur(&c.Party.AutoDisbandInterval, 10*time.Minute)

	if c.Scoring.BoosterMultiplier == 0 {
		c.Scoring.BoosterMultiplier = 1
	}
	setDur(&c.Scoring.RatingDecay.InactiveFor, 24*time.Hour)

	setDur(&c.Moderation.ExpiryInterval, time.Second)
	if c.Moderation.StrikeDecayDays == 0 {
		c.Moderation.StrikeDecayDays = 30
	}
	if c.Moderation.StrikeActions == nil {
		c.Moderation.StrikeActions = map[string]string{
			"1strike": "warn",
			"2strike": "1d",
			"3strike": "3d",
			"4strike": "7d",
		}
	}

	setDur(&c.Channels.SweepInterval, 15*time.Second)
	setDur(&c.Verification.CodeTTL, 10*time.Minute)

	if len(c.Maps) == 0 {
		c.Maps = []string{"Aquarium", "Lighthouse", "Ashore", "Invasion"}
	}
}

func setDur(d *Duration, fallback time.Duration) {
	if *d == 0 {
		*d = Duration(fallback)
	}
}

// Validate rejects configurations the core cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Store.Backend != "mongo" && c.Store.Backend != "memory" {
		errs = append(errs, fmt.Errorf("store.backend must be mongo or memory, got %q", c.Store.Backend))
	}
	if c.Store.Backend == "mongo" && c.MongoDB.URI == "" {
		errs = append(errs, errors.New("mongodb.uri is required for the mongo backend"))
	}
	if c.Queue.MinPartialBatch < 2 {
		errs = append(errs, errors.New("queue.minPartialBatch must be >= 2"))
	}
	if c.Warp.MaxRetryAttempts < 1 {
		errs = append(errs, errors.New("warp.maxRetryAttempts must be >= 1"))
	}
	if c.Party.SizeMax < 2 {
		errs = append(errs, errors.New("party.sizeMax must be >= 2"))
	}
	if c.Scoring.RatingDecay.Enabled && c.Scoring.RatingDecay.Value <= 0 {
		errs = append(errs, errors.New("scoring.ratingDecay.value must be positive when enabled"))
	}
	if _, err := moderation.ParseStrikeActions(c.Moderation.StrikeActions); err != nil {
		errs = append(errs, fmt.Errorf("moderation.strikeActions: %w", err))
	}
	return errors.Join(errs...)
}

// expandEnvVars replaces ${VAR_NAME} with environment variable values
func expandEnvVars(s string) string {
	return os.Expand(s, func(key string) string {
		return os.Getenv(key)
	})
}

func GetEnv() string {
	env := os.Getenv("RBW_ENV")
	if env == "" {
		return "dev"
	}
	return env
}
