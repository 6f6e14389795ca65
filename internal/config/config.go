package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"time"
)

// DefaultPath is read when CONFIG_PATH is unset.
const DefaultPath = "configs/vital.json"

// Config is the top-level configuration structure.
type Config struct {
	Server     ServerConfig     `json:"server"`
	Providers  []ProviderConfig `json:"providers"`
	Oracle     OracleConfig     `json:"oracle"`
	Embedding  EmbeddingConfig  `json:"embedding"`
	Database   DatabaseConfig   `json:"database"`
	Gateway    GatewayConfig    `json:"gateway"`
	MQTT       MQTTConfig       `json:"mqtt"`
	Graph      GraphConfig      `json:"graph"`
	Pulse      PulseConfig      `json:"pulse"`
	Profile    ProfileConfig    `json:"profile"`
	Classifier ClassifierConfig `json:"classifier"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
}

type ProviderConfig struct {
	ID       string            `json:"id"`
	Type     string            `json:"type"`
	Name     string            `json:"name"`
	Endpoint string            `json:"endpoint"`
	APIKey   string            `json:"api_key"`
	Models   []string          `json:"models,omitempty"`
	Extra    map[string]string `json:"extra,omitempty"`
}

// OracleConfig selects the model and binds council roles to providers.
type OracleConfig struct {
	Model          string            `json:"model"`
	TimeoutSeconds int               `json:"timeout_seconds"`
	Default        string            `json:"default"`
	Roles          map[string]string `json:"roles,omitempty"`
	Fallbacks      []string          `json:"fallbacks,omitempty"`
	PromptsPath    string            `json:"prompts_path,omitempty"`
}

// Timeout returns the per-call deadline.
func (o OracleConfig) Timeout() time.Duration {
	return time.Duration(o.TimeoutSeconds) * time.Second
}

type EmbeddingConfig struct {
	Provider  string `json:"provider"`
	Endpoint  string `json:"endpoint"`
	Model     string `json:"model"`
	APIKey    string `json:"api_key"`
	Dimension int    `json:"dimension"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Neo4j    Neo4jConfig    `json:"neo4j"`
	Redis    RedisConfig    `json:"redis"`
	Qdrant   QdrantConfig   `json:"qdrant"`
}

type PostgresConfig struct {
	DSN string `json:"dsn"`
}

type Neo4jConfig struct {
	URI      string `json:"uri"`
	User     string `json:"user"`
	Password string `json:"password"`
}

type RedisConfig struct {
	URL string `json:"url"`
}

type QdrantConfig struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Collection string `json:"collection"`
}

type GatewayConfig struct {
	Slack     SlackGatewayConfig     `json:"slack"`
	Discord   DiscordGatewayConfig   `json:"discord"`
	WebSocket WebSocketGatewayConfig `json:"websocket"`
}

type SlackGatewayConfig struct {
	Enabled      bool   `json:"enabled"`
	BotToken     string `json:"bot_token"`
	AppToken     string `json:"app_token"`
	AlertChannel string `json:"alert_channel"`
}

type DiscordGatewayConfig struct {
	Enabled      bool   `json:"enabled"`
	BotToken     string `json:"bot_token"`
	AlertChannel string `json:"alert_channel"`
}

type WebSocketGatewayConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type MQTTConfig struct {
	Enabled  bool   `json:"enabled"`
	Broker   string `json:"broker"`
	Topic    string `json:"topic"`
	ClientID string `json:"client_id"`
}

type GraphConfig struct {
	Path                  string `json:"path"`
	BreakGapMinutes       int    `json:"break_gap_minutes"`
	GrindThresholdMinutes int    `json:"grind_threshold_minutes"`
}

type PulseConfig struct {
	Enabled          bool           `json:"enabled"`
	IntervalSeconds  int            `json:"interval_seconds"`
	StartupGapHours  int            `json:"startup_gap_hours"`
	CooldownsMinutes map[string]int `json:"cooldowns_minutes,omitempty"`
}

// Interval returns the beat period.
func (p PulseConfig) Interval() time.Duration {
	return time.Duration(p.IntervalSeconds) * time.Second
}

// Cooldowns converts the per-category overrides to durations.
func (p PulseConfig) Cooldowns() map[string]time.Duration {
	out := make(map[string]time.Duration, len(p.CooldownsMinutes))
	for cat, m := range p.CooldownsMinutes {
		if m > 0 {
			out[cat] = time.Duration(m) * time.Minute
		}
	}
	return out
}

type ProfileConfig struct {
	Path string `json:"path"`
	ID   string `json:"id"`
}

type ClassifierConfig struct {
	RulesPath string `json:"rules_path"`
	Watch     bool   `json:"watch"`
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file and substitutes environment variable references.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse substitutes ${VAR} and ${VAR:default} with environment values,
// decodes the JSON document and fills unset fields with defaults.
func Parse(data []byte) (*Config, error) {
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	var cfg Config
	if err := json.Unmarshal([]byte(resolved), &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns a configuration with no backends, suitable for local runs.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Oracle.TimeoutSeconds <= 0 {
		c.Oracle.TimeoutSeconds = 60
	}
	if c.Database.Qdrant.Collection == "" {
		c.Database.Qdrant.Collection = "vital_memories"
	}
	if c.Gateway.WebSocket.Path == "" {
		c.Gateway.WebSocket.Path = "/ws"
	}
	if c.MQTT.Topic == "" {
		c.MQTT.Topic = "vital/sensors/#"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "vitalcore"
	}
	if c.Graph.Path == "" {
		c.Graph.Path = "data/vital_graph.json"
	}
	if c.Graph.BreakGapMinutes <= 0 {
		c.Graph.BreakGapMinutes = 15
	}
	if c.Graph.GrindThresholdMinutes <= 0 {
		c.Graph.GrindThresholdMinutes = 60
	}
	if c.Pulse.IntervalSeconds <= 0 {
		c.Pulse.IntervalSeconds = 60
	}
	if c.Pulse.StartupGapHours <= 0 {
		c.Pulse.StartupGapHours = 4
	}
	if c.Profile.Path == "" {
		c.Profile.Path = "data/user_profile.json"
	}
	if c.Profile.ID == "" {
		c.Profile.ID = "default"
	}
}
