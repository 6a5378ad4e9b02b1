package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Log          LogConfig          `yaml:"log"`
	Provider     ProviderConfig     `yaml:"provider"`
	Intent       IntentConfig       `yaml:"intent"`
	Reply        ReplyConfig        `yaml:"reply"`
	Matcher      MatcherConfig      `yaml:"matcher"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Storage      StorageConfig      `yaml:"storage"`
	Redis        RedisConfig        `yaml:"redis"`
	Transport    TransportConfig    `yaml:"transport"`
	Notify       NotifyConfig       `yaml:"notify"`
	Knowledge    KnowledgeConfig    `yaml:"knowledge"`
	Accounts     []AccountConfig    `yaml:"accounts"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// GetHost returns the server host, with container detection
func (c ServerConfig) GetHost() string {
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Level     string `yaml:"level"`
	RedactPII *bool  `yaml:"redact_pii"`
}

// ProviderConfig holds the default LLM provider settings and per-vendor credentials.
type ProviderConfig struct {
	Default        string             `yaml:"default"`
	Model          string             `yaml:"model"`
	Temperature    *float64           `yaml:"temperature"`
	MaxTokens      int                `yaml:"max_tokens"`
	TimeoutSeconds int                `yaml:"timeout_seconds"`
	APIKeys        map[string]string  `yaml:"api_keys"`
	BaseURLs       map[string]string  `yaml:"base_urls"`
	Pricing        map[string]float64 `yaml:"pricing"` // USD per million tokens, keyed by provider id
	AWSRegion      string             `yaml:"aws_region"`
}

// Timeout returns the configured timeout as a duration
func (c ProviderConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// IntentConfig holds classifier settings.
type IntentConfig struct {
	CacheTTLSeconds int    `yaml:"cache_ttl_seconds"`
	ContextTurns    int    `yaml:"context_turns"`
	CacheBackend    string `yaml:"cache_backend"` // "memory" or "redis"
}

// CacheTTL returns the intent cache TTL as a duration
func (c IntentConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// ReplyConfig holds default persona settings for the reply generator.
type ReplyConfig struct {
	PersonaName    string `yaml:"persona_name"`
	PersonaDesc    string `yaml:"persona_description"`
	Style          string `yaml:"style"`
	ResponseLength string `yaml:"response_length"`
	EmojiFrequency string `yaml:"emoji_frequency"`
	UseKnowledge   bool   `yaml:"use_knowledge"`
	AddressByName  bool   `yaml:"address_by_name"`
}

// MatcherConfig holds persona/account matching policy.
type MatcherConfig struct {
	MinScore       int  `yaml:"min_score"`
	AllowMultiRole bool `yaml:"allow_multi_role"`
	AllowOffline   bool `yaml:"allow_offline"`
}

// OrchestratorConfig holds campaign engine timing and policy.
type OrchestratorConfig struct {
	AnalysisInterval    int `yaml:"analysis_interval"`
	ReplyTimeoutSeconds int `yaml:"reply_timeout_seconds"`
	MaxTurnsPerUser     int `yaml:"max_turns_per_user"`
	StaggerMinMillis    int `yaml:"stagger_min_ms"`
	StaggerMaxMillis    int `yaml:"stagger_max_ms"`
	ThinkingMinSeconds  int `yaml:"thinking_min_seconds"`
	ThinkingMaxSeconds  int `yaml:"thinking_max_seconds"`
	LockTTLSeconds      int `yaml:"lock_ttl_seconds"`
	DefaultDailyCap     int `yaml:"default_daily_cap"`
	ActiveHourStart     int `yaml:"active_hour_start"`
	ActiveHourEnd       int `yaml:"active_hour_end"`
}

// ReplyTimeout returns the per-user reply wait bound.
func (c OrchestratorConfig) ReplyTimeout() time.Duration {
	return time.Duration(c.ReplyTimeoutSeconds) * time.Second
}

// LockTTL returns the campaign ownership lock TTL.
func (c OrchestratorConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// StorageConfig holds persistence configuration
type StorageConfig struct {
	Type          string `yaml:"type"` // memory, postgres, dynamodb, bolt
	DatabaseURL   string `yaml:"database_url"`
	DynamoDBTable string `yaml:"dynamodb_table"`
	BoltPath      string `yaml:"bolt_path"`
	ArchiveBucket string `yaml:"archive_bucket"`
	AWSRegion     string `yaml:"aws_region"`
	AWSProfile    string `yaml:"aws_profile"` // Empty string uses default credential chain
}

// GetAWSProfile returns the AWS profile, with environment variable override
func (c StorageConfig) GetAWSProfile() string {
	if envProfile := os.Getenv("AWS_PROFILE_OVERRIDE"); envProfile != "" {
		if envProfile == "none" || envProfile == "iam" {
			return ""
		}
		return envProfile
	}
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return ""
	}
	return c.AWSProfile
}

// RedisConfig holds Redis connection settings. Empty Addr disables Redis.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// TransportConfig holds the outbound messaging bridge settings.
type TransportConfig struct {
	WebhookURL     string `yaml:"webhook_url"`
	AuthToken      string `yaml:"auth_token"`
	MaxRetries     int    `yaml:"max_retries"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured timeout as a duration
func (c TransportConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// NotifyConfig holds operator notification settings.
type NotifyConfig struct {
	SESEnabled bool     `yaml:"ses_enabled"`
	SESRegion  string   `yaml:"ses_region"`
	AccessKey  string   `yaml:"access_key"`
	SecretKey  string   `yaml:"secret_key"`
	From       string   `yaml:"from"`
	To         []string `yaml:"to"`
	MinLevel   string   `yaml:"min_level"`
}

// KnowledgeConfig seeds the knowledge base.
type KnowledgeConfig struct {
	Items []KnowledgeItemConfig `yaml:"items"`
	Feeds []FeedConfig          `yaml:"feeds"`
}

// KnowledgeItemConfig is a static knowledge entry.
type KnowledgeItemConfig struct {
	Title    string   `yaml:"title"`
	Content  string   `yaml:"content"`
	Category string   `yaml:"category"`
	Keywords []string `yaml:"keywords"`
}

// FeedConfig points at an RSS/Atom feed whose entries become knowledge items.
type FeedConfig struct {
	URL      string `yaml:"url"`
	Category string `yaml:"category"`
	MaxItems int    `yaml:"max_items"`
}

// AccountConfig describes an automation account known at boot.
type AccountConfig struct {
	ID     string `yaml:"id"`
	Phone  string `yaml:"phone"`
	Name   string `yaml:"name"`
	Status string `yaml:"status"`
	Role   string `yaml:"role"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// Default returns a configuration with every default applied and no file.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Provider.Default == "" {
		cfg.Provider.Default = "openai"
	}
	if cfg.Provider.Temperature == nil {
		t := 0.7
		cfg.Provider.Temperature = &t
	}
	if cfg.Provider.MaxTokens == 0 {
		cfg.Provider.MaxTokens = 500
	}
	if cfg.Provider.TimeoutSeconds == 0 {
		cfg.Provider.TimeoutSeconds = 60
	}
	if cfg.Provider.AWSRegion == "" {
		cfg.Provider.AWSRegion = "us-east-1"
	}
	if cfg.Intent.CacheTTLSeconds == 0 {
		cfg.Intent.CacheTTLSeconds = 60
	}
	if cfg.Intent.ContextTurns == 0 {
		cfg.Intent.ContextTurns = 5
	}
	if cfg.Intent.CacheBackend == "" {
		cfg.Intent.CacheBackend = "memory"
	}
	if cfg.Reply.Style == "" {
		cfg.Reply.Style = "friendly"
	}
	if cfg.Reply.ResponseLength == "" {
		cfg.Reply.ResponseLength = "short"
	}
	if cfg.Reply.EmojiFrequency == "" {
		cfg.Reply.EmojiFrequency = "low"
	}
	if cfg.Matcher.MinScore == 0 {
		cfg.Matcher.MinScore = 10
	}
	o := &cfg.Orchestrator
	if o.AnalysisInterval == 0 {
		o.AnalysisInterval = 10
	}
	if o.ReplyTimeoutSeconds == 0 {
		o.ReplyTimeoutSeconds = 600
	}
	if o.MaxTurnsPerUser == 0 {
		o.MaxTurnsPerUser = 12
	}
	if o.StaggerMinMillis == 0 {
		o.StaggerMinMillis = 100
	}
	if o.StaggerMaxMillis == 0 {
		o.StaggerMaxMillis = 300
	}
	if o.ThinkingMinSeconds == 0 {
		o.ThinkingMinSeconds = 15
	}
	if o.ThinkingMaxSeconds == 0 {
		o.ThinkingMaxSeconds = 45
	}
	if o.LockTTLSeconds == 0 {
		o.LockTTLSeconds = 900
	}
	if o.DefaultDailyCap == 0 {
		o.DefaultDailyCap = 200
	}
	if o.ActiveHourEnd == 0 {
		o.ActiveHourStart = 9
		o.ActiveHourEnd = 22
	}
	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "memory"
	}
	if cfg.Storage.DynamoDBTable == "" {
		cfg.Storage.DynamoDBTable = "convoflow-executions"
	}
	if cfg.Storage.BoltPath == "" {
		cfg.Storage.BoltPath = "./data/executions.db"
	}
	if cfg.Storage.AWSRegion == "" {
		cfg.Storage.AWSRegion = "us-east-1"
	}
	if cfg.Transport.MaxRetries == 0 {
		cfg.Transport.MaxRetries = 3
	}
	if cfg.Transport.TimeoutSeconds == 0 {
		cfg.Transport.TimeoutSeconds = 15
	}
	if cfg.Notify.SESRegion == "" {
		cfg.Notify.SESRegion = "us-west-2"
	}
	if cfg.Notify.MinLevel == "" {
		cfg.Notify.MinLevel = "warn"
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars in containers.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg *Config
	if path == "" {
		cfg = Default()
	} else {
		var err error
		cfg, err = Load(path)
		if err != nil {
			return nil, err
		}
	}

	if cfg.Provider.APIKeys == nil {
		cfg.Provider.APIKeys = make(map[string]string)
	}
	keyEnv := map[string]string{
		"openai":    "OPENAI_API_KEY",
		"anthropic": "ANTHROPIC_API_KEY",
		"gemini":    "GEMINI_API_KEY",
		"deepseek":  "DEEPSEEK_API_KEY",
		"moonshot":  "MOONSHOT_API_KEY",
		"qwen":      "DASHSCOPE_API_KEY",
	}
	for provider, env := range keyEnv {
		if v := os.Getenv(env); v != "" {
			cfg.Provider.APIKeys[provider] = v
		}
	}
	if v := os.Getenv("LLM_PROVIDER"); v != "" {
		cfg.Provider.Default = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.Provider.Model = v
	}

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.Storage.DatabaseURL = dbURL
		if cfg.Storage.Type == "memory" {
			cfg.Storage.Type = "postgres"
		}
	}
	if v := os.Getenv("STORAGE_TYPE"); v != "" {
		cfg.Storage.Type = v
	}
	if v := os.Getenv("ARCHIVE_BUCKET"); v != "" {
		cfg.Storage.ArchiveBucket = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = n
		}
	}
	if v := os.Getenv("TRANSPORT_WEBHOOK_URL"); v != "" {
		cfg.Transport.WebhookURL = v
	}
	if v := os.Getenv("TRANSPORT_AUTH_TOKEN"); v != "" {
		cfg.Transport.AuthToken = v
	}
	if v := os.Getenv("AWS_SES_ACCESS_KEY"); v != "" {
		cfg.Notify.AccessKey = v
	}
	if v := os.Getenv("AWS_SES_SECRET_KEY"); v != "" {
		cfg.Notify.SecretKey = v
	}

	return cfg, nil
}
