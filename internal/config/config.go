package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/orrn/thermalspool/internal/escpos"
	"github.com/orrn/thermalspool/internal/raster"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Printer  PrinterConfig  `yaml:"printer"`
	Raster   RasterConfig   `yaml:"raster"`
	Queue    QueueConfig    `yaml:"queue"`
	Database DatabaseConfig `yaml:"database"`
	Webhook  WebhookConfig  `yaml:"webhook"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port           int           `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`
}

type PrinterConfig struct {
	Transport  string        `yaml:"transport"`
	DotWidth   int           `yaml:"dot_width"`
	Model      string        `yaml:"model"`
	LogoPath   string        `yaml:"logo_path"`
	LogoWidth  int           `yaml:"logo_width"`
	LogoOffset int           `yaml:"logo_offset"`
	FeedLines  int           `yaml:"feed_lines"`
	CodePage   string        `yaml:"codepage"`
	SelfTest   bool          `yaml:"self_test"`
	USB        USBConfig     `yaml:"usb"`
	Network    NetworkConfig `yaml:"network"`
}

type USBConfig struct {
	ChunkSize   int           `yaml:"chunk_size"`
	SettleDelay time.Duration `yaml:"settle_delay"`
	VendorIDs   []uint16      `yaml:"vendor_ids"`
}

type NetworkConfig struct {
	Address        string        `yaml:"address"`
	Port           int           `yaml:"port"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	KeepAlive      time.Duration `yaml:"keep_alive"`
}

type RasterConfig struct {
	Threshold     float64 `yaml:"threshold"`
	ContrastGamma float64 `yaml:"contrast_gamma"`
	Algorithm     string  `yaml:"algorithm"`
	MaxPixels     int     `yaml:"max_pixels"`
}

type QueueConfig struct {
	Interval      time.Duration `yaml:"interval"`
	RasterTimeout time.Duration `yaml:"raster_timeout"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
}

type DatabaseConfig struct {
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
	ArchivePath   string `yaml:"archive_path"`
}

type WebhookConfig struct {
	Endpoints   []WebhookEndpoint `yaml:"endpoints"`
	Timeout     time.Duration     `yaml:"timeout"`
	RetryCount  int               `yaml:"retry_count"`
	RetryDelay  time.Duration     `yaml:"retry_delay"`
	WorkerCount int               `yaml:"worker_count"`
	QueueSize   int               `yaml:"queue_size"`
}

type WebhookEndpoint struct {
	URL    string   `yaml:"url"`
	Secret string   `yaml:"secret"`
	Events []string `yaml:"events"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

const (
	TransportUSB     = "usb"
	TransportNetwork = "network"
	TransportSpooler = "spooler"
)

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           8080,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   30 * time.Second,
			MaxUploadBytes: 10 << 20,
		},
		Printer: PrinterConfig{
			Transport: TransportUSB,
			DotWidth:  576,
			FeedLines: 4,
			USB: USBConfig{
				ChunkSize:   64,
				SettleDelay: 500 * time.Millisecond,
			},
			Network: NetworkConfig{
				Port:           9100,
				ConnectTimeout: 5 * time.Second,
				WriteTimeout:   20 * time.Second,
				KeepAlive:      30 * time.Second,
			},
		},
		Raster: RasterConfig{
			Threshold: 128,
			Algorithm: "floyd-steinberg",
			MaxPixels: 40_000_000,
		},
		Queue: QueueConfig{
			Interval:      8 * time.Second,
			RasterTimeout: 20 * time.Second,
			WriteTimeout:  30 * time.Second,
		},
		Database: DatabaseConfig{
			Path:          "./data/thermalspool.db",
			RetentionDays: 30,
			ArchivePath:   "./data/archives",
		},
		Webhook: WebhookConfig{
			Timeout:     10 * time.Second,
			RetryCount:  3,
			RetryDelay:  5 * time.Second,
			WorkerCount: 2,
			QueueSize:   100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaults()
}

// Load reads the YAML file at configPath over the defaults, then applies
// .env and THERMALSPOOL_* environment overrides. A missing file is not an error.
func Load(configPath string) (*Config, error) {
	cfg := defaults()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	applyEnv(cfg)

	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("THERMALSPOOL_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("THERMALSPOOL_TRANSPORT"); v != "" {
		cfg.Printer.Transport = strings.ToLower(v)
	}

	if v := os.Getenv("THERMALSPOOL_DOT_WIDTH"); v != "" {
		if width, err := strconv.Atoi(v); err == nil {
			cfg.Printer.DotWidth = width
		}
	}

	if v := os.Getenv("THERMALSPOOL_PRINTER_MODEL"); v != "" {
		cfg.Printer.Model = v
	}

	if v := os.Getenv("THERMALSPOOL_PRINTER_ADDRESS"); v != "" {
		cfg.Printer.Network.Address = v
	}

	if v := os.Getenv("THERMALSPOOL_LOGO_PATH"); v != "" {
		cfg.Printer.LogoPath = v
	}

	if v := os.Getenv("THERMALSPOOL_CODEPAGE"); v != "" {
		cfg.Printer.CodePage = v
	}

	if v := os.Getenv("THERMALSPOOL_THRESHOLD"); v != "" {
		if t, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Raster.Threshold = t
		}
	}

	if v := os.Getenv("THERMALSPOOL_QUEUE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Queue.Interval = d
		}
	}

	if v := os.Getenv("THERMALSPOOL_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("THERMALSPOOL_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// HostPort returns host:port for the network transport.
func (n NetworkConfig) HostPort() string {
	return fmt.Sprintf("%s:%d", n.Address, n.Port)
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 {
		return fmt.Errorf("server timeouts must be non-negative")
	}

	if c.Server.MaxUploadBytes <= 0 {
		return fmt.Errorf("max upload bytes must be positive")
	}

	switch c.Printer.Transport {
	case TransportUSB:
		if c.Printer.USB.ChunkSize < 1 {
			return fmt.Errorf("usb chunk size must be at least 1")
		}
		if c.Printer.USB.SettleDelay < 0 {
			return fmt.Errorf("usb settle delay must be non-negative")
		}
	case TransportNetwork:
		if c.Printer.Network.Address == "" {
			return fmt.Errorf("network transport requires printer.network.address")
		}
		if c.Printer.Network.Port < 1 || c.Printer.Network.Port > 65535 {
			return fmt.Errorf("printer port must be between 1 and 65535, got %d", c.Printer.Network.Port)
		}
	case TransportSpooler:
		if c.Printer.Model == "" {
			return fmt.Errorf("spooler transport requires printer.model")
		}
	default:
		return fmt.Errorf("invalid transport: %s (valid: usb, network, spooler)", c.Printer.Transport)
	}

	if c.Printer.DotWidth < 8 {
		return fmt.Errorf("dot width must be at least 8, got %d", c.Printer.DotWidth)
	}

	if c.Printer.LogoWidth < 0 || c.Printer.LogoWidth > c.Printer.DotWidth {
		return fmt.Errorf("logo width must be between 0 and dot width")
	}

	if c.Printer.LogoOffset < 0 || c.Printer.LogoOffset >= c.Printer.DotWidth {
		return fmt.Errorf("logo offset must be between 0 and dot width")
	}

	if c.Printer.FeedLines < 0 || c.Printer.FeedLines > 255 {
		return fmt.Errorf("feed lines must be between 0 and 255")
	}

	if _, _, err := escpos.LookupCodePage(c.Printer.CodePage); err != nil {
		return err
	}

	if !raster.KnownAlgorithm(c.Raster.Algorithm) {
		return fmt.Errorf("invalid dither algorithm: %s", c.Raster.Algorithm)
	}

	if c.Raster.Threshold <= 0 || c.Raster.Threshold >= 255 {
		return fmt.Errorf("raster threshold must be between 0 and 255 exclusive")
	}

	if c.Raster.ContrastGamma < 0 {
		return fmt.Errorf("contrast gamma must be non-negative")
	}

	if c.Raster.MaxPixels < 1 {
		return fmt.Errorf("max pixels must be positive")
	}

	if c.Queue.Interval <= 0 {
		return fmt.Errorf("queue interval must be positive")
	}

	if c.Queue.RasterTimeout <= 0 || c.Queue.WriteTimeout <= 0 {
		return fmt.Errorf("queue timeouts must be positive")
	}

	if c.Database.RetentionDays < 0 {
		return fmt.Errorf("retention days must be non-negative")
	}

	if c.Database.RetentionDays > 0 && c.Database.ArchivePath == "" {
		return fmt.Errorf("history retention requires database.archive_path")
	}

	for i, ep := range c.Webhook.Endpoints {
		if ep.URL == "" {
			return fmt.Errorf("webhook endpoint %d has no url", i)
		}
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	validFormats := map[string]bool{
		"json":  true,
		"text":  true,
		"plain": true,
	}

	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (valid: json, text, plain)", c.Logging.Format)
	}

	return nil
}
