// Package config provides environment-variable-first configuration loading
// with optional YAML and dotenv file layers.
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

// defaultMaxMessageSize is 25 MB in bytes.
const defaultMaxMessageSize = 26214400

// Provider names accepted in Config.Provider.
const (
	ProviderSMTP   = "smtp"
	ProviderSES    = "ses"
	ProviderGraph  = "graph"
	ProviderStdout = "stdout"
	ProviderMbox   = "mbox"
)

// Config holds the complete application configuration.
type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Auth     AuthConfig     `yaml:"auth"`
	Sender   string         `yaml:"sender"`
	Provider string         `yaml:"provider"`
	SMTP     SMTPConfig     `yaml:"smtp"`
	IMAP     IMAPConfig     `yaml:"imap"`
	SES      SESConfig      `yaml:"ses"`
	Graph    GraphConfig    `yaml:"graph"`
	Mbox     MboxConfig     `yaml:"mbox"`
	DevRelay DevRelayConfig `yaml:"devrelay"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// HTTPConfig holds the API listener settings.
type HTTPConfig struct {
	Listen         string   `yaml:"listen"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// AuthConfig holds the shared admin secret.
type AuthConfig struct {
	AdminToken string `yaml:"admin_token"`
}

// SMTPConfig holds the outbound relay settings.
type SMTPConfig struct {
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	Timeout  time.Duration `yaml:"timeout"`
}

// IMAPConfig holds the inbound store settings.
type IMAPConfig struct {
	Host        string        `yaml:"host"`
	Port        int           `yaml:"port"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
	OpTimeout   time.Duration `yaml:"op_timeout"`
	InboxFolder string        `yaml:"inbox_folder"`
	SentFolder  string        `yaml:"sent_folder"`
}

// SESConfig holds AWS SES settings. Empty keys fall back to the default
// AWS credential chain.
type SESConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// GraphConfig holds Microsoft Graph API configuration.
type GraphConfig struct {
	TenantID     string `yaml:"tenant_id"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

// MboxConfig holds the mbox provider settings.
type MboxConfig struct {
	Path string `yaml:"path"`
}

// DevRelayConfig holds the development relay settings.
type DevRelayConfig struct {
	Listen         string `yaml:"listen"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	CertFile       string `yaml:"cert_file"`
	KeyFile        string `yaml:"key_file"`
	MaxMessageSize int64  `yaml:"max_message_size"`
	Sink           string `yaml:"sink"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load loads configuration from environment variables with sensible defaults.
// Environment variables always take precedence.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnvVars()
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables. Returns an error if the
// specified file path does not exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment variables always override YAML values
	cfg.applyEnvVars()

	return cfg, nil
}

// LoadEnvFile loads a dotenv file into the process environment. Variables
// that are already set keep their values.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// Validate reports configuration that prevents startup.
func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderSMTP, ProviderSES, ProviderGraph, ProviderStdout, ProviderMbox:
	default:
		return fmt.Errorf("unknown provider %q", c.Provider)
	}
	switch c.DevRelay.Sink {
	case ProviderStdout, ProviderMbox:
	default:
		return fmt.Errorf("unknown devrelay sink %q", c.DevRelay.Sink)
	}
	if c.SMTP.Port <= 0 || c.IMAP.Port <= 0 {
		return errors.New("smtp and imap ports must be positive")
	}
	return nil
}

// Missing lists the environment keys of required values that are unset
// for the selected provider. Startup only warns about them.
func (c *Config) Missing() []string {
	var missing []string
	check := func(key, value string) {
		if value == "" {
			missing = append(missing, key)
		}
	}

	check("FROM_ADDR", c.Sender)
	check("ADMIN_TOKEN", c.Auth.AdminToken)

	switch c.Provider {
	case ProviderSMTP:
		check("SMTP_USERNAME", c.SMTP.Username)
		check("SMTP_PASSWORD", c.SMTP.Password)
	case ProviderSES:
		check("SES_REGION", c.SES.Region)
	case ProviderGraph:
		check("GRAPH_TENANT_ID", c.Graph.TenantID)
		check("GRAPH_CLIENT_ID", c.Graph.ClientID)
		check("GRAPH_CLIENT_SECRET", c.Graph.ClientSecret)
	}

	check("IMAP_USERNAME", c.IMAP.Username)
	check("IMAP_PASSWORD", c.IMAP.Password)
	return missing
}

// AuthEnabled returns true if both development relay credentials are set.
func (d DevRelayConfig) AuthEnabled() bool {
	return d.Username != "" && d.Password != ""
}

// SlogLevel maps the configured level name to a slog.Level. Unknown names
// mean info.
func (l LoggingConfig) SlogLevel() slog.Level {
	switch l.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.HTTP.Listen = ":8000"
	c.Provider = ProviderSMTP

	c.SMTP.Host = "smtp-relay.brevo.com"
	c.SMTP.Port = 587
	c.SMTP.Timeout = 30 * time.Second

	c.IMAP.Host = "outlook.office365.com"
	c.IMAP.Port = 993
	c.IMAP.DialTimeout = 30 * time.Second
	c.IMAP.OpTimeout = 60 * time.Second
	c.IMAP.InboxFolder = "INBOX"

	c.Mbox.Path = "outbox.mbox"

	c.DevRelay.Listen = ":2525"
	c.DevRelay.MaxMessageSize = defaultMaxMessageSize
	c.DevRelay.Sink = ProviderStdout

	c.Logging.Level = "info"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values.
func (c *Config) applyEnvVars() {
	setString(&c.HTTP.Listen, "HTTP_LISTEN")
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		c.HTTP.AllowedOrigins = splitList(v)
	}
	if v := strings.TrimSpace(os.Getenv("FRONTEND_ORIGIN")); v != "" {
		c.HTTP.AllowedOrigins = append(c.HTTP.AllowedOrigins, v)
	}

	setString(&c.Auth.AdminToken, "ADMIN_TOKEN")
	setString(&c.Sender, "FROM_ADDR")
	if v := os.Getenv("PROVIDER"); v != "" {
		c.Provider = strings.ToLower(v)
	}

	setString(&c.SMTP.Host, "SMTP_HOST")
	setInt(&c.SMTP.Port, "SMTP_PORT")
	setString(&c.SMTP.Username, "BREVO_SMTP_USER", "SMTP_USERNAME")
	setString(&c.SMTP.Password, "BREVO_SMTP_PASS", "SMTP_PASSWORD")
	setDuration(&c.SMTP.Timeout, "SMTP_TIMEOUT")

	setString(&c.IMAP.Host, "IMAP_HOST")
	setInt(&c.IMAP.Port, "IMAP_PORT")
	setString(&c.IMAP.Username, "IMAP_USER", "IMAP_USERNAME")
	setString(&c.IMAP.Password, "IMAP_PASS", "IMAP_PASSWORD")
	setDuration(&c.IMAP.DialTimeout, "IMAP_DIAL_TIMEOUT")
	setDuration(&c.IMAP.OpTimeout, "IMAP_OP_TIMEOUT")
	setString(&c.IMAP.InboxFolder, "IMAP_INBOX_FOLDER")
	setString(&c.IMAP.SentFolder, "IMAP_SENT_FOLDER")

	setString(&c.SES.Region, "SES_REGION")
	setString(&c.SES.AccessKeyID, "SES_ACCESS_KEY_ID")
	setString(&c.SES.SecretAccessKey, "SES_SECRET_ACCESS_KEY")

	setString(&c.Graph.TenantID, "GRAPH_TENANT_ID")
	setString(&c.Graph.ClientID, "GRAPH_CLIENT_ID")
	setString(&c.Graph.ClientSecret, "GRAPH_CLIENT_SECRET")

	setString(&c.Mbox.Path, "MBOX_PATH")

	setString(&c.DevRelay.Listen, "DEVRELAY_LISTEN")
	setString(&c.DevRelay.Username, "DEVRELAY_USERNAME")
	setString(&c.DevRelay.Password, "DEVRELAY_PASSWORD")
	setString(&c.DevRelay.CertFile, "DEVRELAY_CERT_FILE")
	setString(&c.DevRelay.KeyFile, "DEVRELAY_KEY_FILE")
	if v := os.Getenv("DEVRELAY_MAX_MESSAGE_SIZE"); v != "" {
		if size, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.DevRelay.MaxMessageSize = size
		}
	}
	if v := os.Getenv("DEVRELAY_SINK"); v != "" {
		c.DevRelay.Sink = strings.ToLower(v)
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
}

// setString applies each key in order, so later keys win. Legacy names
// go first.
func setString(dst *string, keys ...string) {
	for _, key := range keys {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
}

// setInt ignores values that do not parse, keeping the previous layer.
func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// setDuration accepts Go durations ("45s") or a plain number of seconds.
func setDuration(dst *time.Duration, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(n) * time.Second
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
