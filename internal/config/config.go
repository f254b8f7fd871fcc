package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const configPathEnv = "CONFIG_PATH"

const (
	StoreDriverPostgres = "postgres"
	StoreDriverFile     = "file"
)

// Config is resolved in three layers: built-in defaults, the optional YAML
// file named by CONFIG_PATH, then environment variables.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Auth      AuthConfig      `yaml:"auth"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Browser   BrowserConfig   `yaml:"browser"`
	Relay     RelayConfig     `yaml:"relay"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	AllowedOrigins  []string      `yaml:"allowedOrigins"`
}

type StoreConfig struct {
	Driver   string `yaml:"driver"`
	FilePath string `yaml:"filePath"`
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslMode"`
	MaxConns int32  `yaml:"maxConns"`
}

// RedisConfig is optional. An empty address disables the outbox relay and
// the cross-replica cycle lease.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	LeaseKey string        `yaml:"leaseKey"`
	LeaseTTL time.Duration `yaml:"leaseTTL"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwtSecret"`
}

// TelegramConfig leaves alerts on the log sink when no token is set.
type TelegramConfig struct {
	BotToken string        `yaml:"botToken"`
	BaseURL  string        `yaml:"baseUrl"`
	Timeout  time.Duration `yaml:"timeout"`
}

type SchedulerConfig struct {
	Interval     time.Duration `yaml:"interval"`
	MaxAttempts  int           `yaml:"maxAttempts"`
	RetryBackoff time.Duration `yaml:"retryBackoff"`
	ItemDelay    time.Duration `yaml:"itemDelay"`
	ItemJitter   time.Duration `yaml:"itemJitter"`
	RunOnStart   bool          `yaml:"runOnStart"`
}

type BrowserConfig struct {
	Headless          bool          `yaml:"headless"`
	NavigationTimeout time.Duration `yaml:"navigationTimeout"`
	SettleDelay       time.Duration `yaml:"settleDelay"`
	ScreenshotPath    string        `yaml:"screenshotPath"`
	Locale            string        `yaml:"locale"`
	TimezoneID        string        `yaml:"timezone"`
	ProxyServer       string        `yaml:"proxy"`
}

type RelayConfig struct {
	PollInterval time.Duration `yaml:"pollInterval"`
	BatchSize    int           `yaml:"batchSize"`
	StreamMaxLen int64         `yaml:"streamMaxLen"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ShutdownTimeout: 30 * time.Second,
		},
		Store: StoreConfig{
			Driver:   StoreDriverPostgres,
			FilePath: "data/items.json",
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "postgres",
			Name:     "price_tracker",
			SSLMode:  "disable",
			MaxConns: 10,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			LeaseKey: "lock:price_tracker:refresh",
			LeaseTTL: 30 * time.Minute,
		},
		Telegram: TelegramConfig{
			BaseURL: "https://api.telegram.org",
			Timeout: 10 * time.Second,
		},
		Scheduler: SchedulerConfig{
			Interval:     2 * time.Minute,
			MaxAttempts:  3,
			RetryBackoff: 10 * time.Second,
			ItemDelay:    5 * time.Second,
			RunOnStart:   true,
		},
		Browser: BrowserConfig{
			Headless:          true,
			NavigationTimeout: 90 * time.Second,
			SettleDelay:       5 * time.Second,
			ScreenshotPath:    "/app/wb_debug.png",
			Locale:            "ru-RU",
			TimezoneID:        "Europe/Moscow",
		},
		Relay: RelayConfig{
			PollInterval: 5 * time.Second,
			BatchSize:    100,
			StreamMaxLen: 100000,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadEnv loads .env files from the working directory into the process
// environment. Missing files are skipped.
func LoadEnv(logger *slog.Logger) {
	for _, file := range []string{".env", ".env.local"} {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		if err := godotenv.Overload(file); err != nil {
			if logger != nil {
				logger.Warn("failed to load env file", "file", file, "error", err)
			}
			continue
		}
		if logger != nil {
			logger.Debug("loaded env file", "file", file)
		}
	}
}

func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv(configPathEnv); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Server.Port = getEnvInt("PORT", c.Server.Port)
	c.Server.ShutdownTimeout = getEnvDuration("SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)
	c.Server.AllowedOrigins = getEnvSlice("CORS_ALLOWED_ORIGINS", c.Server.AllowedOrigins)

	c.Store.Driver = getEnv("STORE_DRIVER", c.Store.Driver)
	c.Store.FilePath = getEnv("STORE_FILE", c.Store.FilePath)

	c.Database.URL = getEnv("DATABASE_URL", c.Database.URL)
	c.Database.Host = getEnv("DB_HOST", c.Database.Host)
	c.Database.Port = getEnvInt("DB_PORT", c.Database.Port)
	c.Database.User = getEnv("DB_USER", c.Database.User)
	c.Database.Password = getEnv("DB_PASSWORD", c.Database.Password)
	c.Database.Name = getEnv("DB_NAME", c.Database.Name)
	c.Database.SSLMode = getEnv("DB_SSL_MODE", c.Database.SSLMode)
	c.Database.MaxConns = int32(getEnvInt("DB_MAX_CONNS", int(c.Database.MaxConns)))

	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvInt("REDIS_DB", c.Redis.DB)
	c.Redis.LeaseTTL = getEnvDuration("REFRESH_LEASE_TTL", c.Redis.LeaseTTL)

	c.Auth.JWTSecret = getEnv("JWT_SECRET", c.Auth.JWTSecret)

	c.Telegram.BotToken = getEnv("TELEGRAM_BOT_TOKEN", c.Telegram.BotToken)
	c.Telegram.BaseURL = getEnv("TELEGRAM_API_URL", c.Telegram.BaseURL)

	c.Scheduler.Interval = getEnvDuration("REFRESH_INTERVAL", c.Scheduler.Interval)
	c.Scheduler.MaxAttempts = getEnvInt("REFRESH_MAX_ATTEMPTS", c.Scheduler.MaxAttempts)
	c.Scheduler.RetryBackoff = getEnvDuration("REFRESH_RETRY_BACKOFF", c.Scheduler.RetryBackoff)
	c.Scheduler.ItemDelay = getEnvDuration("REFRESH_ITEM_DELAY", c.Scheduler.ItemDelay)
	c.Scheduler.ItemJitter = getEnvDuration("REFRESH_ITEM_JITTER", c.Scheduler.ItemJitter)
	c.Scheduler.RunOnStart = getEnvBool("REFRESH_ON_START", c.Scheduler.RunOnStart)

	c.Browser.Headless = getEnvBool("BROWSER_HEADLESS", c.Browser.Headless)
	c.Browser.NavigationTimeout = getEnvDuration("BROWSER_TIMEOUT", c.Browser.NavigationTimeout)
	c.Browser.SettleDelay = getEnvDuration("BROWSER_SETTLE_DELAY", c.Browser.SettleDelay)
	c.Browser.ScreenshotPath = getEnv("DEBUG_SCREENSHOT_PATH", c.Browser.ScreenshotPath)
	c.Browser.ProxyServer = getEnv("BROWSER_PROXY", c.Browser.ProxyServer)

	c.Relay.PollInterval = getEnvDuration("RELAY_POLL_INTERVAL", c.Relay.PollInterval)
	c.Relay.BatchSize = getEnvInt("RELAY_BATCH_SIZE", c.Relay.BatchSize)

	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
}

func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid server port: %d", c.Server.Port))
	}

	switch c.Store.Driver {
	case StoreDriverPostgres:
		if c.Database.URL == "" && (c.Database.Host == "" || c.Database.Name == "") {
			errs = append(errs, errors.New("database host and name are required"))
		}
	case StoreDriverFile:
		if c.Store.FilePath == "" {
			errs = append(errs, errors.New("STORE_FILE is required for the file store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.Store.Driver))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.Scheduler.Interval <= 0 {
		errs = append(errs, errors.New("REFRESH_INTERVAL must be positive"))
	}
	if c.Scheduler.MaxAttempts < 1 {
		errs = append(errs, errors.New("REFRESH_MAX_ATTEMPTS must be at least 1"))
	}
	if c.Scheduler.RetryBackoff < 0 || c.Scheduler.ItemDelay < 0 || c.Scheduler.ItemJitter < 0 {
		errs = append(errs, errors.New("refresh delays cannot be negative"))
	}
	if c.Browser.NavigationTimeout <= 0 {
		errs = append(errs, errors.New("BROWSER_TIMEOUT must be positive"))
	}
	if c.Redis.Addr != "" {
		if c.Redis.LeaseTTL <= 0 {
			errs = append(errs, errors.New("REFRESH_LEASE_TTL must be positive"))
		} else if gap := c.LeaseRenewalGap(); c.Redis.LeaseTTL < 2*gap {
			errs = append(errs, fmt.Errorf("REFRESH_LEASE_TTL %s must be at least twice the longest item refresh (%s)", c.Redis.LeaseTTL, gap))
		}
	}

	return errors.Join(errs...)
}

// LeaseRenewalGap is the longest time a cycle can go between two lease
// renewals: one extraction plus the pause that follows it.
func (c *Config) LeaseRenewalGap() time.Duration {
	pause := c.Scheduler.ItemDelay + c.Scheduler.ItemJitter
	if c.Scheduler.RetryBackoff > pause {
		pause = c.Scheduler.RetryBackoff
	}
	return c.Browser.NavigationTimeout + c.Browser.SettleDelay + pause
}

// SlogLevel maps the configured level name; unknown names mean info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.Logging.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
