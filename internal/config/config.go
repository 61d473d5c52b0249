// Package config loads the gateway's process configuration: the
// environment-variable table from spec §6, plus an optional YAML file layer,
// resolved through spf13/viper the way the teacher layers its own
// configuration.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the fully resolved process configuration.
type Config struct {
	// APIKey is the bearer token accepted on the HTTP surface. It may be a
	// literal value or a secret-store reference (see internal/secrets).
	APIKey string

	// AllowedOrigins is the CORS allow-list (spec §6). In production, empty
	// means deny all cross-origin requests.
	AllowedOrigins []string

	// Environment gates the CORS wildcard fallback: "production" never
	// allows an unlisted origin, anything else answers every origin with
	// the wildcard "*" for local development.
	Environment string

	Host string
	Port int

	UseHTTPS bool
	CertFile string
	KeyFile  string

	LogDir string

	// Provider-specific credentials, passed through to the model backends
	// untouched (spec §6: "Provider-specific creds ... Passed through").
	AnthropicAPIKey string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	AWSRegion       string

	// UserConfigTable is the DynamoDB table backing the user-config store.
	UserConfigTable string

	// IdleHorizon is the session manager's idle-eviction threshold (spec §4.G:
	// "measured in minutes, not hours").
	IdleHorizon time.Duration

	// HandshakeDeadline bounds an MCP client's starting->ready transition.
	HandshakeDeadline time.Duration
	// ToolCallDeadline bounds a single MCP tool call.
	ToolCallDeadline time.Duration
	// UpstreamDeadline bounds a single upstream model call (longer than the
	// tool-call deadline per spec §5).
	UpstreamDeadline time.Duration

	// ShutdownDrain bounds how long gatewayd waits for in-flight streams and
	// MCP subprocesses to finish on SIGINT/SIGTERM before giving up.
	ShutdownDrain time.Duration

	MaxRequestBodyBytes int64
}

// Load resolves configuration from (in ascending priority) defaults, an
// optional YAML file at configPath, an optional .env file, and the process
// environment. configPath may be empty.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load() // best effort; absence of .env is not an error

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	bindEnv(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %q: %w", configPath, err)
		}
	}

	cfg := &Config{
		APIKey:              v.GetString("api_key"),
		AllowedOrigins:      splitCSV(v.GetString("allowed_origins")),
		Environment:         v.GetString("environment"),
		Host:                v.GetString("host"),
		Port:                v.GetInt("port"),
		UseHTTPS:            v.GetBool("use_https"),
		CertFile:            v.GetString("cert_file"),
		KeyFile:             v.GetString("key_file"),
		LogDir:              v.GetString("log_dir"),
		AnthropicAPIKey:     v.GetString("anthropic_api_key"),
		OpenAIAPIKey:        v.GetString("openai_api_key"),
		OpenAIBaseURL:       v.GetString("openai_base_url"),
		AWSRegion:           v.GetString("aws_region"),
		UserConfigTable:     v.GetString("user_config_table"),
		IdleHorizon:         v.GetDuration("idle_horizon"),
		HandshakeDeadline:   v.GetDuration("handshake_deadline"),
		ToolCallDeadline:    v.GetDuration("tool_call_deadline"),
		UpstreamDeadline:    v.GetDuration("upstream_deadline"),
		ShutdownDrain:       v.GetDuration("shutdown_drain"),
		MaxRequestBodyBytes: v.GetInt64("max_request_body_bytes"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "production")
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 8080)
	v.SetDefault("use_https", false)
	v.SetDefault("log_dir", "./logs")
	v.SetDefault("user_config_table", "mcp-server-config")
	v.SetDefault("idle_horizon", 15*time.Minute)
	v.SetDefault("handshake_deadline", 30*time.Second)
	v.SetDefault("tool_call_deadline", 60*time.Second)
	v.SetDefault("upstream_deadline", 5*time.Minute)
	v.SetDefault("shutdown_drain", 30*time.Second)
	v.SetDefault("max_request_body_bytes", int64(32<<20)) // 32 MiB; images push this up
}

// bindEnv wires the process environment table from spec §6 onto viper keys.
func bindEnv(v *viper.Viper) {
	bindings := map[string]string{
		"api_key":           "API_KEY",
		"allowed_origins":   "ALLOWED_ORIGINS",
		"environment":       "ENVIRONMENT",
		"host":              "MCP_SERVICE_HOST",
		"port":              "MCP_SERVICE_PORT",
		"use_https":         "USE_HTTPS",
		"cert_file":         "TLS_CERT_FILE",
		"key_file":          "TLS_KEY_FILE",
		"log_dir":           "LOG_DIR",
		"anthropic_api_key": "ANTHROPIC_API_KEY",
		"openai_api_key":    "OPENAI_API_KEY",
		"openai_base_url":   "OPENAI_BASE_URL",
		"aws_region":        "AWS_REGION",
		"user_config_table": "USER_CONFIG_TABLE",
	}
	for key, env := range bindings {
		_ = v.BindEnv(key, env)
	}
}

// Validate rejects configurations that would fail at startup per spec §6
// ("non-zero exit if bind fails ... or config file is invalid").
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Port)
	}
	if c.UseHTTPS && (c.CertFile == "" || c.KeyFile == "") {
		return fmt.Errorf("config: USE_HTTPS requires cert and key files")
	}
	return nil
}

func splitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
