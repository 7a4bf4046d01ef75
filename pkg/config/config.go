package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port           int    `yaml:"port"`
	Env            string `yaml:"env"`
	Timezone       string `yaml:"timezone"`
	LogLevel       string `yaml:"logLevel"`
	LogFormat      string `yaml:"logFormat"`
	RedisAddr      string `yaml:"redisAddr"`
	RedisPassword  string `yaml:"redisPassword"`
	StagingDir     string `yaml:"stagingDir"`
	OutputDir      string `yaml:"outputDir"`
	MaxUploadBytes int64  `yaml:"maxUploadBytes"`

	Analyzer    AnalyzerConfig    `yaml:"analyzer"`
	Retention   RetentionConfig   `yaml:"retention"`
	Persistence PersistenceConfig `yaml:"persistence"`
	RateLimit   RateLimitConfig   `yaml:"rateLimit"`
	CORS        CORSConfig        `yaml:"cors"`
	Tracing     TracingConfig     `yaml:"tracing"`
}

// AnalyzerConfig describes how the external analysis executable is started.
// Args may contain {input}, {output_dir}, {summary_path} and {request_id}.
type AnalyzerConfig struct {
	Command           string   `yaml:"command"`
	Args              []string `yaml:"args"`
	WorkDir           string   `yaml:"workDir"`
	TimeoutSeconds    int      `yaml:"timeoutSeconds"`
	MaxConcurrent     int      `yaml:"maxConcurrent"`
	QueueSize         int      `yaml:"queueSize"`
	SharedSummaryPath string   `yaml:"sharedSummaryPath"`
}

type RetentionConfig struct {
	KeepUploads          bool `yaml:"keepUploads"`
	ArtifactTTLSeconds   int  `yaml:"artifactTtlSeconds"`
	SweepIntervalSeconds int  `yaml:"sweepIntervalSeconds"`
}

// PersistenceConfig selects a persistence plugin; Options is handed to the
// plugin as JSON.
type PersistenceConfig struct {
	Type    string         `yaml:"type"`
	Options map[string]any `yaml:"options"`
}

type RateLimitBucketConfig struct {
	RequestsPerMinute int `yaml:"requestsPerMinute"`
	BurstSize         int `yaml:"burstSize"`
}

type RateLimitConfig struct {
	Inspect RateLimitBucketConfig `yaml:"inspect"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	ServiceName  string  `yaml:"serviceName"`
	OTLPEndpoint string  `yaml:"otlpEndpoint"`
	OTLPInsecure bool    `yaml:"otlpInsecure"`
	SampleRatio  float64 `yaml:"sampleRatio"`
}

// LoadConfig reads filePath, applies environment overrides and defaults.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	c.applyEnv()
	c.applyDefaults()
	return &c, nil
}

// LoadConfigOptional behaves like LoadConfig but tolerates an empty or
// missing path, in which case only environment and defaults are used.
func LoadConfigOptional(filePath string) (*Config, error) {
	filePath = strings.TrimSpace(filePath)
	if filePath != "" {
		cfg, err := LoadConfig(filePath)
		if err == nil {
			return cfg, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		log.Printf("Warning: config file %s not found, using environment\n", filePath)
	}
	var c Config
	c.applyEnv()
	c.applyDefaults()
	return &c, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Port = p
		}
	}
	if v := os.Getenv("ENV"); v != "" {
		c.Env = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.LogFormat = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.RedisPassword = v
	}
	if v := os.Getenv("STAGING_DIR"); v != "" {
		c.StagingDir = v
	}
	if v := os.Getenv("OUTPUT_DIR"); v != "" {
		c.OutputDir = v
	}
	if v := os.Getenv("MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.MaxUploadBytes = n
		}
	}
	if v := os.Getenv("ANALYZER_COMMAND"); v != "" {
		c.Analyzer.Command = v
	}
	if v := os.Getenv("ANALYZER_ARGS"); v != "" {
		c.Analyzer.Args = strings.Fields(v)
	}
	if v := os.Getenv("ANALYZER_WORKDIR"); v != "" {
		c.Analyzer.WorkDir = v
	}
	if v := os.Getenv("ANALYZER_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Analyzer.TimeoutSeconds = n
		}
	}
	if v := os.Getenv("ANALYZER_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Analyzer.MaxConcurrent = n
		}
	}
	if v := os.Getenv("ANALYZER_QUEUE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Analyzer.QueueSize = n
		}
	}
	if v := os.Getenv("ANALYZER_SHARED_SUMMARY_PATH"); v != "" {
		c.Analyzer.SharedSummaryPath = v
	}
	if v := os.Getenv("ARTIFACT_TTL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Retention.ArtifactTTLSeconds = n
		}
	}
	if v := os.Getenv("PERSISTENCE_TYPE"); v != "" {
		c.Persistence.Type = v
	}
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		c.CORS.AllowedOrigins = splitCSV(v)
	}
	if v := strings.TrimSpace(os.Getenv("OTEL_TRACES_ENABLED")); v != "" {
		c.Tracing.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("OTEL_SERVICE_NAME"); v != "" {
		c.Tracing.ServiceName = v
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		c.Tracing.OTLPEndpoint = v
	}
	if v := os.Getenv("OTEL_TRACES_SAMPLER_ARG"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Tracing.SampleRatio = f
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = 5000
	}
	if c.Env == "" {
		c.Env = "dev"
	}
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "json"
	}
	if c.StagingDir == "" {
		c.StagingDir = filepath.Join(os.TempDir(), "gdtrelay", "uploads")
	}
	if c.OutputDir == "" {
		c.OutputDir = filepath.Join(os.TempDir(), "gdtrelay", "output")
	}
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = 50 << 20
	}
	if c.Analyzer.Command == "" {
		c.Analyzer.Command = "python3"
	}
	if c.Analyzer.TimeoutSeconds <= 0 {
		c.Analyzer.TimeoutSeconds = 300
	}
	if c.Analyzer.MaxConcurrent <= 0 {
		c.Analyzer.MaxConcurrent = 2
	}
	if c.Analyzer.QueueSize < 0 {
		c.Analyzer.QueueSize = 0
	} else if c.Analyzer.QueueSize == 0 {
		c.Analyzer.QueueSize = 8
	}
	if c.Retention.ArtifactTTLSeconds <= 0 {
		c.Retention.ArtifactTTLSeconds = 86400
	}
	if c.Retention.SweepIntervalSeconds <= 0 {
		c.Retention.SweepIntervalSeconds = 300
	}
	if c.Persistence.Type == "" {
		c.Persistence.Type = "memory"
	}
	if len(c.CORS.AllowedOrigins) == 0 {
		c.CORS.AllowedOrigins = []string{"*"}
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "gdtrelay"
	}
}

func (c *Config) Validate() error {
	var errs []string
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, "port must be between 0 and 65535")
	}
	if strings.TrimSpace(c.Analyzer.Command) == "" {
		errs = append(errs, "analyzer.command is required")
	}
	if strings.TrimSpace(c.StagingDir) == "" {
		errs = append(errs, "stagingDir is required")
	}
	if strings.TrimSpace(c.OutputDir) == "" {
		errs = append(errs, "outputDir is required")
	}
	if c.StagingDir != "" && c.OutputDir != "" && filepath.Clean(c.StagingDir) == filepath.Clean(c.OutputDir) {
		errs = append(errs, "stagingDir and outputDir must differ")
	}
	switch c.Persistence.Type {
	case "memory", "sqlite":
	case "redis":
		if strings.TrimSpace(c.RedisAddr) == "" {
			if _, ok := c.Persistence.Options["addr"]; !ok {
				errs = append(errs, "persistence type redis needs redisAddr or persistence.options.addr")
			}
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown persistence type %q", c.Persistence.Type))
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		errs = append(errs, "logFormat must be json or text")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
