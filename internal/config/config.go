package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	Redis       RedisConfig       `yaml:"redis" mapstructure:"redis"`
	CRM         CRMConfig         `yaml:"crm" mapstructure:"crm"`
	Routing     RoutingConfig     `yaml:"routing" mapstructure:"routing"`
	Notify      NotifyConfig      `yaml:"notify" mapstructure:"notify"`
	Ads         AdsConfig         `yaml:"ads" mapstructure:"ads"`
	Reconcile   ReconcileConfig   `yaml:"reconcile" mapstructure:"reconcile"`
	Attribution AttributionConfig `yaml:"attribution" mapstructure:"attribution"`
	Metrics     MetricsConfig     `yaml:"metrics" mapstructure:"metrics"`
	Monitoring  MonitoringConfig  `yaml:"monitoring" mapstructure:"monitoring"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port               int      `yaml:"port" mapstructure:"port"`
	RequestTimeoutSecs int      `yaml:"request_timeout_secs" mapstructure:"request_timeout_secs"`
	AllowedOrigins     []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	// RateLimitPerMin caps lead submissions per client IP. 0 disables it.
	RateLimitPerMin int `yaml:"rate_limit_per_min" mapstructure:"rate_limit_per_min"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// RedisConfig configures the optional Redis instance backing sessions and
// per-email locks. An empty Addr selects the in-process implementations.
type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
}

// CRMConfig selects and configures the relationship-management backend.
type CRMConfig struct {
	Provider    string           `yaml:"provider" mapstructure:"provider"` // brevo or salesforce
	TimeoutSecs int              `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RateLimit   float64          `yaml:"rate_limit" mapstructure:"rate_limit"` // requests per second
	LockTTLSecs int              `yaml:"lock_ttl_secs" mapstructure:"lock_ttl_secs"`
	Brevo       BrevoConfig      `yaml:"brevo" mapstructure:"brevo"`
	Salesforce  SalesforceConfig `yaml:"salesforce" mapstructure:"salesforce"`
}

// BrevoConfig holds Brevo API settings.
type BrevoConfig struct {
	APIKey  string `yaml:"api_key" mapstructure:"api_key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	ListID  int    `yaml:"list_id" mapstructure:"list_id"`
}

// SalesforceConfig holds Salesforce JWT auth settings.
type SalesforceConfig struct {
	ClientID string `yaml:"client_id" mapstructure:"client_id"`
	Username string `yaml:"username" mapstructure:"username"`
	KeyPath  string `yaml:"key_path" mapstructure:"key_path"`
	LoginURL string `yaml:"login_url" mapstructure:"login_url"`
}

// RoutingConfig points at an optional override for the routing tables.
type RoutingConfig struct {
	ConfigPath string `yaml:"config_path" mapstructure:"config_path"`
}

// NotifyConfig configures hot-lead notifications.
type NotifyConfig struct {
	Provider    string     `yaml:"provider" mapstructure:"provider"` // brevo, smtp or none
	SenderName  string     `yaml:"sender_name" mapstructure:"sender_name"`
	SenderEmail string     `yaml:"sender_email" mapstructure:"sender_email"`
	ToName      string     `yaml:"to_name" mapstructure:"to_name"`
	ToEmail     string     `yaml:"to_email" mapstructure:"to_email"`
	SMTP        SMTPConfig `yaml:"smtp" mapstructure:"smtp"`
}

// SMTPConfig holds SMTP relay settings.
type SMTPConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
	StartTLS bool   `yaml:"starttls" mapstructure:"starttls"`
}

// AdsConfig holds Google Ads API credentials. Missing credentials select the
// manual-upload export.
type AdsConfig struct {
	CustomerID        string            `yaml:"customer_id" mapstructure:"customer_id"`
	LoginCustomerID   string            `yaml:"login_customer_id" mapstructure:"login_customer_id"`
	DeveloperToken    string            `yaml:"developer_token" mapstructure:"developer_token"`
	ClientID          string            `yaml:"client_id" mapstructure:"client_id"`
	ClientSecret      string            `yaml:"client_secret" mapstructure:"client_secret"`
	RefreshToken      string            `yaml:"refresh_token" mapstructure:"refresh_token"`
	BaseURL           string            `yaml:"base_url" mapstructure:"base_url"`
	TokenURL          string            `yaml:"token_url" mapstructure:"token_url"`
	APIVersion        string            `yaml:"api_version" mapstructure:"api_version"`
	TimeoutSecs       int               `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	ConversionActions map[string]string `yaml:"conversion_actions" mapstructure:"conversion_actions"`
}

// Configured reports whether enough credentials are present to call the API.
func (a AdsConfig) Configured() bool {
	return a.CustomerID != "" && a.DeveloperToken != "" &&
		a.ClientID != "" && a.ClientSecret != "" && a.RefreshToken != ""
}

// ReconcileConfig configures the conversion reconciliation job.
type ReconcileConfig struct {
	ExportDir      string  `yaml:"export_dir" mapstructure:"export_dir"`
	LogDir         string  `yaml:"log_dir" mapstructure:"log_dir"`
	BaselineValue  float64 `yaml:"baseline_value" mapstructure:"baseline_value"`
	Currency       string  `yaml:"currency" mapstructure:"currency"`
	PageSize       int     `yaml:"page_size" mapstructure:"page_size"`
	XLSX           bool    `yaml:"xlsx" mapstructure:"xlsx"`
	FTPURL         string  `yaml:"ftp_url" mapstructure:"ftp_url"`
	PersistMarkers bool    `yaml:"persist_markers" mapstructure:"persist_markers"`
}

// AttributionConfig configures session attribution capture.
type AttributionConfig struct {
	CookieName     string   `yaml:"cookie_name" mapstructure:"cookie_name"`
	SessionTTLMins int      `yaml:"session_ttl_mins" mapstructure:"session_ttl_mins"`
	SelfHosts      []string `yaml:"self_hosts" mapstructure:"self_hosts"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}

// MonitoringConfig configures the background run-health alert checker.
type MonitoringConfig struct {
	Enabled              bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	// ManualUploadThreshold alerts when at least this many runs in the window
	// fell back to the manual-upload export. 0 disables the alert.
	ManualUploadThreshold int `yaml:"manual_upload_threshold" mapstructure:"manual_upload_threshold"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LEADSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults. Secrets default to "" so that AutomaticEnv can bind them.
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_secs", 30)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.rate_limit_per_min", 10)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "leadsync.db")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("crm.provider", "brevo")
	v.SetDefault("crm.timeout_secs", 15)
	v.SetDefault("crm.rate_limit", 10.0)
	v.SetDefault("crm.lock_ttl_secs", 30)
	v.SetDefault("crm.brevo.api_key", "")
	v.SetDefault("crm.brevo.base_url", "https://api.brevo.com/v3")
	v.SetDefault("crm.brevo.list_id", 2)
	v.SetDefault("crm.salesforce.client_id", "")
	v.SetDefault("crm.salesforce.username", "")
	v.SetDefault("crm.salesforce.key_path", "")
	v.SetDefault("crm.salesforce.login_url", "https://login.salesforce.com")
	v.SetDefault("routing.config_path", "")
	v.SetDefault("notify.provider", "brevo")
	v.SetDefault("notify.sender_name", "Enhanced Enquiry System")
	v.SetDefault("notify.sender_email", "")
	v.SetDefault("notify.to_name", "Admissions Team")
	v.SetDefault("notify.to_email", "")
	v.SetDefault("notify.smtp.host", "")
	v.SetDefault("notify.smtp.port", 587)
	v.SetDefault("notify.smtp.username", "")
	v.SetDefault("notify.smtp.password", "")
	v.SetDefault("notify.smtp.starttls", true)
	v.SetDefault("ads.customer_id", "")
	v.SetDefault("ads.login_customer_id", "")
	v.SetDefault("ads.developer_token", "")
	v.SetDefault("ads.client_id", "")
	v.SetDefault("ads.client_secret", "")
	v.SetDefault("ads.refresh_token", "")
	v.SetDefault("ads.base_url", "https://googleads.googleapis.com")
	v.SetDefault("ads.token_url", "https://oauth2.googleapis.com/token")
	v.SetDefault("ads.api_version", "v21")
	v.SetDefault("ads.timeout_secs", 30)
	v.SetDefault("reconcile.export_dir", "exports")
	v.SetDefault("reconcile.log_dir", "logs/enhanced-conversions")
	v.SetDefault("reconcile.baseline_value", 300000.0)
	v.SetDefault("reconcile.currency", "KES")
	v.SetDefault("reconcile.page_size", 50)
	v.SetDefault("reconcile.xlsx", false)
	v.SetDefault("reconcile.ftp_url", "")
	v.SetDefault("reconcile.persist_markers", true)
	v.SetDefault("attribution.cookie_name", "leadsync_sid")
	v.SetDefault("attribution.session_ttl_mins", 60*24*30)
	v.SetDefault("attribution.self_hosts", []string{})
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.manual_upload_threshold", 2)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the configuration required by mode is present.
// Recognized modes are "serve", "reconcile" and "score".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		if c.Server.RequestTimeoutSecs <= 0 {
			errs = append(errs, "server.request_timeout_secs must be > 0")
		}
		if c.Server.RateLimitPerMin < 0 {
			errs = append(errs, "server.rate_limit_per_min must be >= 0")
		}
		if c.Monitoring.Enabled && c.Monitoring.WebhookURL == "" {
			errs = append(errs, "monitoring.webhook_url is required when monitoring is enabled")
		}
		errs = append(errs, c.validateCRM()...)
		switch c.Notify.Provider {
		case "brevo", "smtp":
			if c.Notify.Provider == "smtp" && c.Notify.SMTP.Host == "" {
				errs = append(errs, "notify.smtp.host is required")
			}
			if c.Notify.SenderEmail == "" {
				errs = append(errs, "notify.sender_email is required")
			}
			if c.Notify.ToEmail == "" {
				errs = append(errs, "notify.to_email is required")
			}
		case "none", "":
		default:
			errs = append(errs, "notify.provider must be brevo, smtp or none")
		}
	case "reconcile":
		errs = append(errs, c.validateCRM()...)
		if c.Reconcile.BaselineValue <= 0 {
			errs = append(errs, "reconcile.baseline_value must be > 0")
		}
		if c.Reconcile.PageSize <= 0 {
			errs = append(errs, "reconcile.page_size must be > 0")
		}
		if c.Reconcile.ExportDir == "" {
			errs = append(errs, "reconcile.export_dir is required")
		}
		if c.Reconcile.LogDir == "" {
			errs = append(errs, "reconcile.log_dir is required")
		}
	case "score":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateCRM() []string {
	var errs []string
	switch c.CRM.Provider {
	case "brevo":
		if c.CRM.Brevo.APIKey == "" {
			errs = append(errs, "crm.brevo.api_key is required")
		}
	case "salesforce":
		if c.CRM.Salesforce.ClientID == "" {
			errs = append(errs, "crm.salesforce.client_id is required")
		}
		if c.CRM.Salesforce.Username == "" {
			errs = append(errs, "crm.salesforce.username is required")
		}
		if c.CRM.Salesforce.KeyPath == "" {
			errs = append(errs, "crm.salesforce.key_path is required")
		}
	default:
		errs = append(errs, "crm.provider must be brevo or salesforce")
	}
	if c.CRM.TimeoutSecs <= 0 {
		errs = append(errs, "crm.timeout_secs must be > 0")
	}
	return errs
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
