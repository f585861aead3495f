// Package config handles voice bridge configuration
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	apperrors "github.com/krishijyoti/voicebridge/internal/errors"
)

type Config struct {
	HTTPAddr string `yaml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr"`
	LogLevel string `yaml:"log_level"`

	// Upstream voice agent
	DeepgramAPIKey    string        `yaml:"deepgram_api_key"`
	AgentURL          string        `yaml:"agent_url"`
	AgentLanguage     string        `yaml:"agent_language"`
	ListenModel       string        `yaml:"listen_model"`
	ThinkProvider     string        `yaml:"think_provider"`
	ThinkModel        string        `yaml:"think_model"`
	SpeakModel        string        `yaml:"speak_model"`
	AgentPrompt       string        `yaml:"agent_prompt"`
	AgentGreeting     string        `yaml:"agent_greeting"`
	HandshakeTimeout  time.Duration `yaml:"handshake_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// Audio formats, fixed per session
	InputSampleRate     int `yaml:"input_sample_rate"`
	OutputSampleRate    int `yaml:"output_sample_rate"`
	OutputBitsPerSample int `yaml:"output_bits_per_sample"`
	OutputChannels      int `yaml:"output_channels"`

	// Gateway
	BridgeMaxPending  int           `yaml:"bridge_max_pending"`
	StatusAllowList   []string      `yaml:"status_allow_list"`
	CommandRate       float64       `yaml:"command_rate"` // per second
	CommandBurst      int           `yaml:"command_burst"`
	ConnectRatePerIP  float64       `yaml:"connect_rate_per_ip"` // per second
	ConnectBurstPerIP int           `yaml:"connect_burst_per_ip"`
	MaxSessions       int           `yaml:"max_sessions"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	AllowedOrigins    []string      `yaml:"allowed_origins"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`

	// Upstream circuit breaker
	BreakerThreshold    int           `yaml:"breaker_threshold"`
	BreakerResetTimeout time.Duration `yaml:"breaker_reset_timeout"`

	// Trace export
	OTelEnabled    bool    `yaml:"otel_enabled"`
	OTLPEndpoint   string  `yaml:"otlp_endpoint"`
	ServiceName    string  `yaml:"service_name"`
	OTelSampleRate float64 `yaml:"otel_sample_rate"`
}

const (
	defaultPrompt = "You are a helpful farming assistant for Krishi Jyoti. " +
		"Give practical advice about crops, soil, and farming techniques. " +
		"Keep responses short and actionable."
	defaultGreeting = "Hello! I'm your Krishi Jyoti farming assistant. " +
		"How can I help with your farm today?"
)

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		HTTPAddr:            ":8000",
		GRPCAddr:            ":50061",
		LogLevel:            "debug",
		AgentURL:            "wss://agent.deepgram.com/v1/agent/converse",
		AgentLanguage:       "en",
		ListenModel:         "nova-2",
		ThinkProvider:       "open_ai",
		ThinkModel:          "gpt-4o-mini",
		SpeakModel:          "aura-asteria-en",
		AgentPrompt:         defaultPrompt,
		AgentGreeting:       defaultGreeting,
		HandshakeTimeout:    5 * time.Second,
		HeartbeatInterval:   5 * time.Second,
		InputSampleRate:     48000,
		OutputSampleRate:    24000,
		OutputBitsPerSample: 16,
		OutputChannels:      1,
		BridgeMaxPending:    256,
		StatusAllowList:     []string{"ready", "listening"},
		CommandRate:         10,
		CommandBurst:        20,
		ConnectRatePerIP:    2,
		ConnectBurstPerIP:   5,
		MaxSessions:         100,
		WriteTimeout:        5 * time.Second,
		AllowedOrigins:      []string{"*"},
		ShutdownTimeout:     5 * time.Second,
		BreakerThreshold:    5,
		BreakerResetTimeout: 30 * time.Second,
		OTLPEndpoint:        "localhost:4317",
		ServiceName:         "krishi-jyoti-voice",
		OTelSampleRate:      1.0,
	}
}

// Load builds the configuration from defaults, an optional YAML file named by
// CONFIG_FILE, and environment variables, in that order of precedence.
func Load() (*Config, error) {
	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return apperrors.Wrapf(err, apperrors.ConfigInvalid, "read config file %s", path)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return apperrors.Wrapf(err, apperrors.ConfigInvalid, "parse config file %s", path)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.HTTPAddr = getEnv("HTTP_ADDR", c.HTTPAddr)
	c.GRPCAddr = getEnvAllowEmpty("GRPC_ADDR", c.GRPCAddr)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	c.DeepgramAPIKey = getEnv("DEEPGRAM_API_KEY", c.DeepgramAPIKey)
	c.AgentURL = getEnv("DEEPGRAM_AGENT_URL", c.AgentURL)
	c.AgentLanguage = getEnv("AGENT_LANGUAGE", c.AgentLanguage)
	c.ListenModel = getEnv("LISTEN_MODEL", c.ListenModel)
	c.ThinkProvider = getEnv("THINK_PROVIDER", c.ThinkProvider)
	c.ThinkModel = getEnv("THINK_MODEL", c.ThinkModel)
	c.SpeakModel = getEnv("SPEAK_MODEL", c.SpeakModel)
	c.AgentPrompt = getEnv("AGENT_PROMPT", c.AgentPrompt)
	c.AgentGreeting = getEnv("AGENT_GREETING", c.AgentGreeting)
	c.HandshakeTimeout = getEnvDuration("HANDSHAKE_TIMEOUT", c.HandshakeTimeout)
	c.HeartbeatInterval = getEnvDuration("HEARTBEAT_INTERVAL", c.HeartbeatInterval)

	c.InputSampleRate = getEnvInt("INPUT_SAMPLE_RATE", c.InputSampleRate)
	c.OutputSampleRate = getEnvInt("OUTPUT_SAMPLE_RATE", c.OutputSampleRate)
	c.OutputBitsPerSample = getEnvInt("OUTPUT_BITS_PER_SAMPLE", c.OutputBitsPerSample)
	c.OutputChannels = getEnvInt("OUTPUT_CHANNELS", c.OutputChannels)

	c.BridgeMaxPending = getEnvInt("BRIDGE_MAX_PENDING", c.BridgeMaxPending)
	c.StatusAllowList = getEnvList("STATUS_ALLOW_LIST", c.StatusAllowList)
	c.CommandRate = getEnvFloat("COMMAND_RATE", c.CommandRate)
	c.CommandBurst = getEnvInt("COMMAND_BURST", c.CommandBurst)
	c.ConnectRatePerIP = getEnvFloat("CONNECT_RATE_PER_IP", c.ConnectRatePerIP)
	c.ConnectBurstPerIP = getEnvInt("CONNECT_BURST_PER_IP", c.ConnectBurstPerIP)
	c.MaxSessions = getEnvInt("MAX_SESSIONS", c.MaxSessions)
	c.WriteTimeout = getEnvDuration("WRITE_TIMEOUT", c.WriteTimeout)
	c.AllowedOrigins = getEnvList("ALLOWED_ORIGINS", c.AllowedOrigins)
	c.ShutdownTimeout = getEnvDuration("SHUTDOWN_TIMEOUT", c.ShutdownTimeout)

	c.BreakerThreshold = getEnvInt("BREAKER_THRESHOLD", c.BreakerThreshold)
	c.BreakerResetTimeout = getEnvDuration("BREAKER_RESET_TIMEOUT", c.BreakerResetTimeout)

	c.OTelEnabled = getEnvBool("OTEL_ENABLED", c.OTelEnabled)
	c.OTLPEndpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", c.OTLPEndpoint)
	c.ServiceName = getEnv("OTEL_SERVICE_NAME", c.ServiceName)
	c.OTelSampleRate = getEnvFloat("OTEL_SAMPLE_RATE", c.OTelSampleRate)
}

// Validate rejects values no session could run with. A missing API key is
// not checked here; it surfaces as a failed session start instead.
func (c *Config) Validate() error {
	var problems []string
	if c.InputSampleRate <= 0 {
		problems = append(problems, "input_sample_rate must be positive")
	}
	if c.OutputSampleRate <= 0 {
		problems = append(problems, "output_sample_rate must be positive")
	}
	if c.OutputBitsPerSample != 16 {
		// the agent only speaks linear16
		problems = append(problems, fmt.Sprintf("output_bits_per_sample %d unsupported", c.OutputBitsPerSample))
	}
	if c.OutputChannels < 1 {
		problems = append(problems, "output_channels must be at least 1")
	}
	if c.HeartbeatInterval <= 0 {
		problems = append(problems, "heartbeat_interval must be positive")
	}
	if c.HandshakeTimeout <= 0 {
		problems = append(problems, "handshake_timeout must be positive")
	}
	if c.BridgeMaxPending <= 0 {
		problems = append(problems, "bridge_max_pending must be positive")
	}
	if c.MaxSessions <= 0 {
		problems = append(problems, "max_sessions must be positive")
	}
	if c.OTelSampleRate < 0 || c.OTelSampleRate > 1 {
		problems = append(problems, "otel_sample_rate must be within [0, 1]")
	}
	if len(problems) > 0 {
		return apperrors.New(apperrors.ConfigInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// StatusAllowed reports whether a status value may be forwarded to clients.
func (c *Config) StatusAllowed(status string) bool {
	for _, s := range c.StatusAllowList {
		if strings.EqualFold(s, status) {
			return true
		}
	}
	return false
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// getEnvAllowEmpty lets an explicitly empty variable override the default.
func getEnvAllowEmpty(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getEnvList(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if t := strings.TrimSpace(p); t != "" {
				result = append(result, t)
			}
		}
		return result
	}
	return def
}
