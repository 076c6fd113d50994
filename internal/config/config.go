package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultTimezone   = "UTC"
	configPathEnv     = "NEWS_COLLECTOR_CONFIG"
	databaseDSNEnv    = "DATABASE_DSN"
	mongoURIEnv       = "MONGO_URI"
	telegramTokenEnv  = "TELEGRAM_BOT_TOKEN"
	telegramChatIDEnv = "TELEGRAM_CHAT_ID"
	logLevelEnv       = "LOG_LEVEL"
)

const (
	StorageNone     = "none"
	StoragePostgres = "postgres"
	StorageMongo    = "mongo"
)

// Config holds high-level settings required across the application.
type Config struct {
	Subject       string             `yaml:"subject" validate:"required"`
	Terms         []string           `yaml:"terms"`
	Sources       []SourceConfig     `yaml:"sources" validate:"required,min=1,dive"`
	Phases        []PhaseConfig      `yaml:"phases" validate:"required,min=1,dive"`
	Calendar      CalendarConfig     `yaml:"calendar"`
	Dedupe        DedupeConfig       `yaml:"dedupe"`
	Collector     CollectorConfig    `yaml:"collector"`
	Storage       StorageConfig      `yaml:"storage"`
	Scheduler     SchedulerConfig    `yaml:"scheduler"`
	Notifications NotificationConfig `yaml:"notifications"`
	Logging       LoggingConfig      `yaml:"logging"`
}

// SourceConfig describes one provider with its quota and cost model.
type SourceConfig struct {
	Name              string            `yaml:"name" validate:"required"`
	Kind              string            `yaml:"kind" validate:"required"`
	BaseURL           string            `yaml:"baseUrl" validate:"required,url"`
	APIKey            string            `yaml:"apiKey"`
	APIKeyEnv         string            `yaml:"apiKeyEnv"`
	RequestsPerMinute int               `yaml:"requestsPerMinute" validate:"gte=0"`
	CostModel         string            `yaml:"costModel" validate:"omitempty,oneof=flat range-token"`
	UnitsPerRequest   int64             `yaml:"unitsPerRequest" validate:"gte=0"`
	UnitsPerYear      int64             `yaml:"unitsPerYear" validate:"gte=0"`
	TotalBudgetUnits  int64             `yaml:"totalBudgetUnits" validate:"gte=0"`
	PageSize          int               `yaml:"pageSize" validate:"gte=0"`
	Options           map[string]string `yaml:"options"`
}

// PhaseConfig is one collection phase; dates use YYYY-MM-DD.
type PhaseConfig struct {
	Name        string           `yaml:"name" validate:"required"`
	Strategy    string           `yaml:"strategy" validate:"required,oneof=recent historical"`
	TargetCount int              `yaml:"targetCount" validate:"gt=0"`
	Priority    int              `yaml:"priority"`
	WindowDays  int              `yaml:"windowDays" validate:"gte=0"`
	SplitDaily  bool             `yaml:"splitDaily"`
	From        string           `yaml:"from"`
	To          string           `yaml:"to"`
	SampleSize  int              `yaml:"sampleSize" validate:"gte=0"`
	Allocations map[string]int64 `yaml:"allocations"`
}

// CalendarConfig lists non-business days besides weekends.
type CalendarConfig struct {
	Holidays []string `yaml:"holidays"`
}

// DedupeConfig tunes near-duplicate clustering.
type DedupeConfig struct {
	SimilarityThreshold float64 `yaml:"similarityThreshold" validate:"gte=0,lte=1"`
	MergeWindowHours    int     `yaml:"mergeWindowHours" validate:"gte=0"`
}

// CollectorConfig bounds individual provider calls.
type CollectorConfig struct {
	FetchTimeout string `yaml:"fetchTimeout"`
}

// StorageConfig selects where accepted clusters are persisted.
type StorageConfig struct {
	Backend  string         `yaml:"backend" validate:"omitempty,oneof=none postgres mongo"`
	Database DatabaseConfig `yaml:"database"`
	Mongo    MongoConfig    `yaml:"mongo"`
}

// DatabaseConfig describes Postgres connection details.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// MongoConfig describes the document store.
type MongoConfig struct {
	URI        string `yaml:"uri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

// SchedulerConfig defines whether and how often campaigns repeat.
type SchedulerConfig struct {
	// Interval empty means a single run.
	Interval string         `yaml:"interval"`
	Timezone string         `yaml:"timezone"`
	location *time.Location `yaml:"-"`
}

// Location resolves the scheduler timezone string to a time.Location.
func (s SchedulerConfig) Location() *time.Location {
	if s.location != nil {
		return s.location
	}
	loc, _ := time.LoadLocation(defaultTimezone)
	return loc
}

// NotificationConfig encapsulates outbound channels (Telegram, etc.).
type NotificationConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig wires all data required to send messages.
type TelegramConfig struct {
	BotToken string `yaml:"botToken"`
	ChatID   string `yaml:"chatId"`
}

// Enabled reports whether both token and chat are set.
func (t TelegramConfig) Enabled() bool {
	return t.BotToken != "" && t.ChatID != ""
}

// LoggingConfig selects level and handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format" validate:"omitempty,oneof=text console"`
}

// LoadEnv loads a .env file from the working directory when present.
func LoadEnv() {
	_ = godotenv.Load()
}

// Load reads YAML configuration from $NEWS_COLLECTOR_CONFIG, applies
// environment overrides and validates the result.
func Load() (Config, error) {
	return load(os.Getenv(configPathEnv), os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := defaultConfig()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: cannot read %s: %w", path, err)
		}
		var fileCfg Config
		if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
			return Config{}, fmt.Errorf("config: cannot parse %s: %w", path, err)
		}
		cfg = mergeConfig(cfg, fileCfg)
	}

	cfg.applyEnvOverrides(lookup)
	if err := cfg.bindTimezone(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides(lookup func(string) (string, bool)) {
	if v, ok := lookup(databaseDSNEnv); ok && v != "" {
		c.Storage.Database.DSN = v
	}

	if v, ok := lookup(mongoURIEnv); ok && v != "" {
		c.Storage.Mongo.URI = v
	}

	if v, ok := lookup(telegramTokenEnv); ok && v != "" {
		c.Notifications.Telegram.BotToken = v
	}

	if v, ok := lookup(telegramChatIDEnv); ok && v != "" {
		c.Notifications.Telegram.ChatID = v
	}

	if v, ok := lookup(logLevelEnv); ok && v != "" {
		c.Logging.Level = v
	}

	for i := range c.Sources {
		env := c.Sources[i].APIKeyEnv
		if env == "" {
			continue
		}
		if v, ok := lookup(env); ok && v != "" {
			c.Sources[i].APIKey = v
		}
	}
}

func (c *Config) bindTimezone() error {
	tz := c.Scheduler.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return fmt.Errorf("config: scheduler.timezone %q: %w", tz, err)
	}
	c.Scheduler.location = loc
	return nil
}

func mergeConfig(base, override Config) Config {
	if override.Subject != "" {
		base.Subject = override.Subject
	}
	if len(override.Terms) > 0 {
		base.Terms = override.Terms
	}
	if len(override.Sources) > 0 {
		base.Sources = override.Sources
	}
	if len(override.Phases) > 0 {
		base.Phases = override.Phases
	}

	if len(override.Calendar.Holidays) > 0 {
		base.Calendar.Holidays = override.Calendar.Holidays
	}

	if override.Dedupe.SimilarityThreshold != 0 {
		base.Dedupe.SimilarityThreshold = override.Dedupe.SimilarityThreshold
	}
	if override.Dedupe.MergeWindowHours != 0 {
		base.Dedupe.MergeWindowHours = override.Dedupe.MergeWindowHours
	}

	if override.Collector.FetchTimeout != "" {
		base.Collector.FetchTimeout = override.Collector.FetchTimeout
	}

	if override.Storage.Backend != "" {
		base.Storage.Backend = override.Storage.Backend
	}
	if override.Storage.Database.DSN != "" {
		base.Storage.Database = override.Storage.Database
	}
	if override.Storage.Mongo.URI != "" {
		base.Storage.Mongo.URI = override.Storage.Mongo.URI
	}
	if override.Storage.Mongo.Database != "" {
		base.Storage.Mongo.Database = override.Storage.Mongo.Database
	}
	if override.Storage.Mongo.Collection != "" {
		base.Storage.Mongo.Collection = override.Storage.Mongo.Collection
	}

	if override.Scheduler.Interval != "" {
		base.Scheduler.Interval = override.Scheduler.Interval
	}
	if override.Scheduler.Timezone != "" {
		base.Scheduler.Timezone = override.Scheduler.Timezone
	}

	if override.Notifications.Telegram.BotToken != "" {
		base.Notifications.Telegram.BotToken = override.Notifications.Telegram.BotToken
	}
	if override.Notifications.Telegram.ChatID != "" {
		base.Notifications.Telegram.ChatID = override.Notifications.Telegram.ChatID
	}

	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}
	if override.Logging.Format != "" {
		base.Logging.Format = override.Logging.Format
	}

	return base
}

func defaultConfig() Config {
	tz, _ := time.LoadLocation(defaultTimezone)
	return Config{
		Phases: []PhaseConfig{
			{Name: "recent", Strategy: "recent", TargetCount: 50, Priority: 1, WindowDays: 7},
		},
		Dedupe:    DedupeConfig{SimilarityThreshold: 0.85, MergeWindowHours: 48},
		Collector: CollectorConfig{FetchTimeout: "2m"},
		Storage: StorageConfig{
			Backend: StorageNone,
			Mongo:   MongoConfig{Database: "news", Collection: "clusters"},
		},
		Scheduler: SchedulerConfig{Timezone: defaultTimezone, location: tz},
		Logging:   LoggingConfig{Level: "info", Format: "text"},
	}
}
