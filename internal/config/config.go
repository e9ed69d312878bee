package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"fulfillment-engine/internal/domain"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	Store        StoreConfig        `yaml:"store"`
	JWT          JWTConfig          `yaml:"jwt"`
	Log          LogConfig          `yaml:"log"`
	Payment      PaymentConfig      `yaml:"payment"`
	Risk         RiskConfig         `yaml:"risk"`
	Notification NotificationConfig `yaml:"notification"`
	Scheduler    SchedulerConfig    `yaml:"scheduler"`
	Security     SecurityConfig     `yaml:"security"`
}

// ServerConfig contains HTTP and gRPC listener settings
type ServerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	GRPCPort int    `yaml:"grpc_port"`
}

// DatabaseConfig contains PostgreSQL connection settings
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver   string `yaml:"driver"`    // "postgres" or "memory"
	SeedFile string `yaml:"seed_file"` // catalog loaded into the memory store at startup
}

// JWTConfig contains JWT token settings
type JWTConfig struct {
	Secret            string `yaml:"secret"`
	Issuer            string `yaml:"issuer"`
	AccessTokenExpiry int    `yaml:"access_token_expiry_minutes"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "text"
}

// PaymentConfig contains gateway settings
type PaymentConfig struct {
	Gateway        string `yaml:"gateway"`
	WebhookSecret  string `yaml:"webhook_secret"`
	Currency       string `yaml:"currency"`
	TimeoutMinutes int    `yaml:"timeout_minutes"`
	StaleBatch     int32  `yaml:"stale_batch"`
	RefundBatch    int32  `yaml:"refund_batch"`
}

// RiskConfig holds the policy used when none is stored yet.
type RiskConfig struct {
	Policy domain.RiskPolicy `yaml:"policy"`
}

// NotificationConfig contains push and e-mail settings. Empty sections disable the channel.
type NotificationConfig struct {
	Firebase       FirebaseConfig `yaml:"firebase"`
	SendGrid       SendGridConfig `yaml:"sendgrid"`
	TimeoutSeconds int            `yaml:"timeout_seconds"`
}

type FirebaseConfig struct {
	CredentialsFile string `yaml:"credentials_file"`
	ProjectID       string `yaml:"project_id"`
}

type SendGridConfig struct {
	APIKey    string `yaml:"api_key"`
	FromEmail string `yaml:"from_email"`
	FromName  string `yaml:"from_name"`
	OpsEmail  string `yaml:"ops_email"`
}

// SchedulerConfig contains cron schedule settings
type SchedulerConfig struct {
	CancelStalePayments string `yaml:"cancel_stale_payments"`
	ProcessRefunds      string `yaml:"process_refunds"`
	ReconcileInventory  string `yaml:"reconcile_inventory"`
}

// SecurityConfig holds keys that are not JWT related.
type SecurityConfig struct {
	FingerprintKey string `yaml:"fingerprint_key"`
}

// Load reads configuration from a YAML file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse builds a configuration from YAML bytes, applying environment
// overrides and defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Config{Risk: RiskConfig{Policy: domain.DefaultRiskPolicy()}}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.overrideWithEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// overrideWithEnv overrides config values with environment variables
func (c *Config) overrideWithEnv() {
	// Database
	if val := os.Getenv("DB_HOST"); val != "" {
		c.Database.Host = val
	}
	if val := os.Getenv("DB_PORT"); val != "" {
		fmt.Sscanf(val, "%d", &c.Database.Port)
	}
	if val := os.Getenv("DB_USER"); val != "" {
		c.Database.User = val
	}
	if val := os.Getenv("DB_PASSWORD"); val != "" {
		c.Database.Password = val
	}
	if val := os.Getenv("DB_NAME"); val != "" {
		c.Database.Database = val
	}
	if val := os.Getenv("DB_SSL_MODE"); val != "" {
		c.Database.SSLMode = val
	}
	if val := os.Getenv("STORE_DRIVER"); val != "" {
		c.Store.Driver = val
	}

	// Secrets
	if val := os.Getenv("JWT_SECRET"); val != "" {
		c.JWT.Secret = val
	}
	if val := os.Getenv("PAYMENT_WEBHOOK_SECRET"); val != "" {
		c.Payment.WebhookSecret = val
	}
	if val := os.Getenv("FINGERPRINT_KEY"); val != "" {
		c.Security.FingerprintKey = val
	}
	if val := os.Getenv("SENDGRID_API_KEY"); val != "" {
		c.Notification.SendGrid.APIKey = val
	}
	if val := os.Getenv("FIREBASE_CREDENTIALS_FILE"); val != "" {
		c.Notification.Firebase.CredentialsFile = val
	}

	// Server
	if val := os.Getenv("SERVER_HOST"); val != "" {
		c.Server.Host = val
	}
	if val := os.Getenv("SERVER_PORT"); val != "" {
		fmt.Sscanf(val, "%d", &c.Server.Port)
	}
	if val := os.Getenv("GRPC_PORT"); val != "" {
		fmt.Sscanf(val, "%d", &c.Server.GRPCPort)
	}

	// Log
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.Log.Level = val
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.Log.Format = val
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Server validation
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.GRPCPort < 0 || c.Server.GRPCPort > 65535 || (c.Server.GRPCPort != 0 && c.Server.GRPCPort == c.Server.Port) {
		return fmt.Errorf("invalid gRPC port: %d", c.Server.GRPCPort)
	}

	// Store validation
	c.Store.Driver = strings.ToLower(c.Store.Driver)
	if c.Store.Driver == "" {
		c.Store.Driver = "postgres"
	}
	switch c.Store.Driver {
	case "postgres":
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if c.Database.User == "" {
			return fmt.Errorf("database user is required")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
		if c.Database.SSLMode == "" {
			c.Database.SSLMode = "disable"
		}
	case "memory":
	default:
		return fmt.Errorf("unknown store driver: %s", c.Store.Driver)
	}

	// JWT validation
	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT secret is required")
	}
	if len(c.JWT.Secret) < 32 {
		return fmt.Errorf("JWT secret must be at least 32 characters")
	}
	if c.JWT.Issuer == "" {
		c.JWT.Issuer = "fulfillment-engine"
	}
	if c.JWT.AccessTokenExpiry <= 0 {
		c.JWT.AccessTokenExpiry = 60
	}

	// Payment validation
	if c.Payment.WebhookSecret == "" {
		return fmt.Errorf("payment webhook secret is required")
	}
	if c.Payment.Gateway == "" {
		c.Payment.Gateway = "simulated"
	}
	if c.Payment.Currency == "" {
		c.Payment.Currency = "INR"
	}
	if c.Payment.TimeoutMinutes <= 0 {
		c.Payment.TimeoutMinutes = 30
	}
	if c.Payment.StaleBatch <= 0 {
		c.Payment.StaleBatch = 200
	}
	if c.Payment.RefundBatch <= 0 {
		c.Payment.RefundBatch = 50
	}

	// Risk validation
	p := c.Risk.Policy
	if p.Version <= 0 {
		return fmt.Errorf("risk policy version must be positive")
	}
	if p.ApproveBelow < 0 || p.ApproveBelow > p.ReviewBelow || p.ReviewBelow > 100 {
		return fmt.Errorf("risk thresholds must satisfy 0 <= approve_below <= review_below <= 100")
	}

	// Notification validation
	sg := c.Notification.SendGrid
	if sg.APIKey != "" && (sg.FromEmail == "" || sg.OpsEmail == "") {
		return fmt.Errorf("sendgrid requires from_email and ops_email")
	}
	if c.Notification.TimeoutSeconds <= 0 {
		c.Notification.TimeoutSeconds = 10
	}
	if c.Notification.Firebase.CredentialsFile != "" && c.Notification.Firebase.ProjectID == "" {
		return fmt.Errorf("firebase requires project_id")
	}

	// Scheduler defaults
	if c.Scheduler.CancelStalePayments == "" {
		c.Scheduler.CancelStalePayments = "0 */5 * * * *" // every 5 minutes
	}
	if c.Scheduler.ProcessRefunds == "" {
		c.Scheduler.ProcessRefunds = "0 */15 * * * *" // every 15 minutes
	}
	if c.Scheduler.ReconcileInventory == "" {
		c.Scheduler.ReconcileInventory = "0 0 3 * * *" // 3 AM UTC
	}

	return nil
}

// GetDatabaseConnectionString returns a PostgreSQL connection string
func (c *Config) GetDatabaseConnectionString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
		c.Database.SSLMode,
	)
}

// GetServerAddress returns the HTTP listen address
func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// GetGRPCAddress returns the gRPC listen address, or "" when gRPC is disabled.
func (c *Config) GetGRPCAddress() string {
	if c.Server.GRPCPort == 0 {
		return ""
	}
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.GRPCPort)
}

func (c *Config) PaymentTimeout() time.Duration {
	return time.Duration(c.Payment.TimeoutMinutes) * time.Minute
}

// NotifyTimeout bounds the notifications sent after one committed change.
func (c *Config) NotifyTimeout() time.Duration {
	return time.Duration(c.Notification.TimeoutSeconds) * time.Second
}

func (c *Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.JWT.AccessTokenExpiry) * time.Minute
}
