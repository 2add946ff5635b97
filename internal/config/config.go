package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/Karleow/SimpleSpeedtest/internal/util"
	"gopkg.in/yaml.v3"
)

const (
	defaultBindAddr        = "0.0.0.0"
	defaultBindPort        = 8080
	defaultShutdownTimeout = 5 * time.Second

	defaultPoolSize         = "128mib"
	defaultPoolBlockStartup = true

	defaultChunkSize = "128kib"
	defaultMaxRate   = "0"

	defaultUploadRequestSize = "256kib"

	defaultSamplerInterval = 500 * time.Millisecond

	defaultMetricsEnabled = true
	defaultStatusEnabled  = true

	defaultLogLevel      = "info"
	defaultLogFormat     = "text"
	defaultLogMaxSizeMB  = 100
	defaultLogMaxBackups = 3
	defaultLogMaxAgeDays = 28

	maxPoolSize = 4 << 30
)

var defaultDurations = []time.Duration{10 * time.Second, 30 * time.Second, 300 * time.Second}

type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be a scalar")
	}
	switch value.Tag {
	case "!!int", "!!float":
		var secs float64
		if err := value.Decode(&secs); err != nil {
			return err
		}
		*d = Duration(time.Duration(secs * float64(time.Second)))
		return nil
	default:
		var raw string
		if err := value.Decode(&raw); err != nil {
			return err
		}
		if raw == "" {
			*d = 0
			return nil
		}
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
		return nil
	}
}

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Pool    PoolConfig    `yaml:"pool"`
	Stream  StreamConfig  `yaml:"stream"`
	Upload  UploadConfig  `yaml:"upload"`
	Probe   ProbeConfig   `yaml:"probe"`
	Metrics MetricsConfig `yaml:"metrics"`
	Status  StatusConfig  `yaml:"status"`
	GeoIP   GeoIPConfig   `yaml:"geoip"`
	Logging LoggingConfig `yaml:"logging"`
}

type ServerConfig struct {
	BindAddr        string   `yaml:"bind_addr"`
	BindPort        int      `yaml:"bind_port"`
	MaxConnections  int      `yaml:"max_connections"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
	AuthToken       string   `yaml:"auth_token"`
}

type PoolConfig struct {
	Size         string `yaml:"size"`
	Workers      int    `yaml:"workers"`
	BlockStartup *bool  `yaml:"block_startup"`

	SizeBytes int `yaml:"-"`
}

type StreamConfig struct {
	ChunkSize string `yaml:"chunk_size"`
	MaxRate   string `yaml:"max_rate"`

	ChunkSizeBytes int    `yaml:"-"`
	MaxRateBits    uint64 `yaml:"-"`
}

type UploadConfig struct {
	RequestSize string `yaml:"request_size"`
	MaxBody     string `yaml:"max_body"`

	RequestSizeBytes int   `yaml:"-"`
	MaxBodyBytes     int64 `yaml:"-"`
}

type ProbeConfig struct {
	SamplerInterval Duration   `yaml:"sampler_interval"`
	Durations       []Duration `yaml:"durations"`
	Target          string     `yaml:"target"`
}

type MetricsConfig struct {
	Enabled *bool `yaml:"enabled"`
}

type StatusConfig struct {
	Enabled *bool `yaml:"enabled"`
}

type GeoIPConfig struct {
	Database string `yaml:"database"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

func (p PoolConfig) ShouldBlockStartup() bool {
	return util.BoolValue(p.BlockStartup, defaultPoolBlockStartup)
}

func (m MetricsConfig) IsEnabled() bool {
	return util.BoolValue(m.Enabled, defaultMetricsEnabled)
}

func (s StatusConfig) IsEnabled() bool {
	return util.BoolValue(s.Enabled, defaultStatusEnabled)
}

// LogOptions maps the logging section onto util.LogOptions.
func (l LoggingConfig) LogOptions() util.LogOptions {
	return util.LogOptions{
		Level:      l.Level,
		Format:     l.Format,
		File:       l.File,
		MaxSizeMB:  l.MaxSizeMB,
		MaxBackups: l.MaxBackups,
		MaxAgeDays: l.MaxAgeDays,
	}
}

// DurationList returns the offered phase durations in configured order.
func (p ProbeConfig) DurationList() []time.Duration {
	out := make([]time.Duration, 0, len(p.Durations))
	for _, d := range p.Durations {
		out = append(out, d.Duration())
	}
	return out
}

func LoadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(raw)
}

// Parse decodes a YAML document, applies defaults and validates it.
func Parse(raw []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, err
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns a validated configuration with every field defaulted.
func Default() Config {
	var cfg Config
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		panic(fmt.Sprintf("default config invalid: %v", err))
	}
	return cfg
}

func (c *Config) setDefaults() {
	if c.Server.BindAddr == "" {
		c.Server.BindAddr = defaultBindAddr
	}
	if c.Server.BindPort == 0 {
		c.Server.BindPort = defaultBindPort
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = Duration(defaultShutdownTimeout)
	}

	if c.Pool.Size == "" {
		c.Pool.Size = defaultPoolSize
	}
	if c.Pool.Workers == 0 {
		c.Pool.Workers = runtime.NumCPU()
	}
	if c.Pool.BlockStartup == nil {
		val := defaultPoolBlockStartup
		c.Pool.BlockStartup = &val
	}

	if c.Stream.ChunkSize == "" {
		c.Stream.ChunkSize = defaultChunkSize
	}
	if c.Stream.MaxRate == "" {
		c.Stream.MaxRate = defaultMaxRate
	}

	if c.Upload.RequestSize == "" {
		c.Upload.RequestSize = defaultUploadRequestSize
	}

	if c.Probe.SamplerInterval == 0 {
		c.Probe.SamplerInterval = Duration(defaultSamplerInterval)
	}
	if len(c.Probe.Durations) == 0 {
		for _, d := range defaultDurations {
			c.Probe.Durations = append(c.Probe.Durations, Duration(d))
		}
	}
	if c.Probe.Target == "" {
		c.Probe.Target = "http://" + util.NetJoin("127.0.0.1", c.Server.BindPort)
	}

	if c.Metrics.Enabled == nil {
		val := defaultMetricsEnabled
		c.Metrics.Enabled = &val
	}
	if c.Status.Enabled == nil {
		val := defaultStatusEnabled
		c.Status.Enabled = &val
	}

	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = defaultLogMaxSizeMB
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = defaultLogMaxBackups
	}
	if c.Logging.MaxAgeDays == 0 {
		c.Logging.MaxAgeDays = defaultLogMaxAgeDays
	}
}

func (c *Config) validate() error {
	c.Server.BindAddr = strings.TrimSpace(c.Server.BindAddr)
	if c.Server.BindPort <= 0 || c.Server.BindPort > 65535 {
		return errors.New("server.bind_port must be in 1..65535")
	}
	if c.Server.MaxConnections < 0 {
		return errors.New("server.max_connections must be >= 0")
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return errors.New("server.shutdown_timeout must be > 0")
	}

	poolSize, err := ParseSize(c.Pool.Size)
	if err != nil {
		return fmt.Errorf("pool.size: %w", err)
	}
	if poolSize == 0 || poolSize > maxPoolSize {
		return fmt.Errorf("pool.size must be in 1..%d bytes", uint64(maxPoolSize))
	}
	c.Pool.SizeBytes = int(poolSize)
	if c.Pool.Workers <= 0 {
		return errors.New("pool.workers must be > 0")
	}

	chunk, err := ParseSize(c.Stream.ChunkSize)
	if err != nil {
		return fmt.Errorf("stream.chunk_size: %w", err)
	}
	if chunk == 0 || chunk > poolSize {
		return errors.New("stream.chunk_size must be > 0 and <= pool.size")
	}
	c.Stream.ChunkSizeBytes = int(chunk)
	rate, err := ParseBandwidth(c.Stream.MaxRate)
	if err != nil {
		return fmt.Errorf("stream.max_rate: %w", err)
	}
	c.Stream.MaxRateBits = rate

	reqSize, err := ParseSize(c.Upload.RequestSize)
	if err != nil {
		return fmt.Errorf("upload.request_size: %w", err)
	}
	if reqSize == 0 || reqSize > poolSize {
		return errors.New("upload.request_size must be > 0 and <= pool.size")
	}
	c.Upload.RequestSizeBytes = int(reqSize)
	maxBody, err := ParseSize(c.Upload.MaxBody)
	if err != nil {
		return fmt.Errorf("upload.max_body: %w", err)
	}
	if maxBody != 0 && maxBody < reqSize {
		return errors.New("upload.max_body must be 0 or >= upload.request_size")
	}
	c.Upload.MaxBodyBytes = int64(maxBody)

	if c.Probe.SamplerInterval.Duration() < 10*time.Millisecond {
		return errors.New("probe.sampler_interval must be >= 10ms")
	}
	for i, d := range c.Probe.Durations {
		if d.Duration() <= 0 {
			return fmt.Errorf("probe.durations[%d] must be > 0", i)
		}
	}
	target, err := url.Parse(c.Probe.Target)
	if err != nil {
		return fmt.Errorf("probe.target: %w", err)
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return errors.New("probe.target must be an http or https URL")
	}
	if target.Host == "" {
		return errors.New("probe.target must include a host")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error: %q", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json: %q", c.Logging.Format)
	}
	if c.Logging.MaxSizeMB < 0 || c.Logging.MaxBackups < 0 || c.Logging.MaxAgeDays < 0 {
		return errors.New("logging rotation limits must be >= 0")
	}
	return nil
}
