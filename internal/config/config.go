package config

import (
	"encoding/json"
	"log"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the stagexp application.
// Values are loaded from environment variables; see printUsage() for the full list.
type Config struct {
	// StoreDriver: "postgres", "sqlite" or "memory".
	StoreDriver string `json:"store_driver"`
	DatabaseURL string `json:"database_url"`
	SQLitePath  string `json:"sqlite_path,omitempty"`
	RedisAddr   string `json:"redis_addr,omitempty"`
	HTTPAddr    string `json:"http_addr"`
	RulesPath   string `json:"rules_path,omitempty"`

	// Timezone is the IANA location used to evaluate day-part send times.
	Timezone string `json:"timezone"`

	SweepInterval    time.Duration `json:"-"`
	SweepIntervalStr string        `json:"sweep_interval"`
	SweepBatchSize   int           `json:"sweep_batch_size"`

	DispatchInterval    time.Duration `json:"-"`
	DispatchIntervalStr string        `json:"dispatch_interval"`
	DispatchBatchSize   int           `json:"dispatch_batch_size"`

	SendTimeout     time.Duration `json:"-"`
	SendTimeoutStr  string        `json:"send_timeout"`
	MaxSendAttempts int           `json:"max_send_attempts"`

	// Epsilon is the selector's exploration probability; 0 is a legal value
	// and means pure exploitation.
	Epsilon   float64 `json:"epsilon"`
	MinSample int     `json:"min_sample"`
	TopK      int     `json:"top_k"`

	DedupWindow    time.Duration `json:"-"`
	DedupWindowStr string        `json:"dedup_window"`

	EventBusBufferSize int `json:"eventbus_buffer_size"`

	MetricsEnabled bool   `json:"metrics_enabled"`
	MetricsPath    string `json:"metrics_path"`
	// MetricsPort: 0 serves metrics on the main HTTP server.
	MetricsPort int `json:"metrics_port"`

	// CircuitBreakerThreshold: 0 disables the circuit breaker.
	CircuitBreakerThreshold   int           `json:"circuit_breaker_threshold"`
	CircuitBreakerCooldown    time.Duration `json:"-"`
	CircuitBreakerCooldownStr string        `json:"circuit_breaker_cooldown"`

	HTTPShutdownTimeout    time.Duration `json:"-"`
	HTTPShutdownTimeoutStr string        `json:"http_shutdown_timeout"`
	TrackerDrainTimeout    time.Duration `json:"-"`
	TrackerDrainTimeoutStr string        `json:"tracker_drain_timeout"`

	DBMaxOpenConns       int           `json:"db_max_open_conns"`
	DBMaxIdleConns       int           `json:"db_max_idle_conns"`
	DBConnMaxLifetime    time.Duration `json:"-"`
	DBConnMaxLifetimeStr string        `json:"db_conn_max_lifetime"`
	DBConnMaxIdleTime    time.Duration `json:"-"`
	DBConnMaxIdleTimeStr string        `json:"db_conn_max_idle_time"`

	PushGatewayURL     string `json:"push_gateway_url,omitempty"`
	WhatsAppGatewayURL string `json:"whatsapp_gateway_url,omitempty"`
	SMSGatewayURL      string `json:"sms_gateway_url,omitempty"`
	DeliverySecret     string `json:"delivery_secret,omitempty"`
}

// Load reads configuration from environment variables with defaults.
func Load() Config {
	cfg := Config{
		StoreDriver:               os.Getenv("STORE_DRIVER"),
		DatabaseURL:               os.Getenv("DATABASE_URL"),
		SQLitePath:                os.Getenv("SQLITE_PATH"),
		RedisAddr:                 os.Getenv("REDIS_ADDR"),
		HTTPAddr:                  os.Getenv("HTTP_ADDR"),
		RulesPath:                 os.Getenv("RULES_PATH"),
		Timezone:                  os.Getenv("TIMEZONE"),
		SweepIntervalStr:          os.Getenv("SWEEP_INTERVAL"),
		DispatchIntervalStr:       os.Getenv("DISPATCH_INTERVAL"),
		SendTimeoutStr:            os.Getenv("SEND_TIMEOUT"),
		DedupWindowStr:            os.Getenv("DEDUP_WINDOW"),
		MetricsEnabled:            os.Getenv("METRICS_ENABLED") == "true",
		MetricsPath:               os.Getenv("METRICS_PATH"),
		CircuitBreakerCooldownStr: os.Getenv("CIRCUIT_BREAKER_COOLDOWN"),
		HTTPShutdownTimeoutStr:    os.Getenv("HTTP_SHUTDOWN_TIMEOUT"),
		TrackerDrainTimeoutStr:    os.Getenv("TRACKER_DRAIN_TIMEOUT"),
		DBConnMaxLifetimeStr:      os.Getenv("DB_CONN_MAX_LIFETIME"),
		DBConnMaxIdleTimeStr:      os.Getenv("DB_CONN_MAX_IDLE_TIME"),
		PushGatewayURL:            os.Getenv("PUSH_GATEWAY_URL"),
		WhatsAppGatewayURL:        os.Getenv("WHATSAPP_GATEWAY_URL"),
		SMSGatewayURL:             os.Getenv("SMS_GATEWAY_URL"),
		DeliverySecret:            os.Getenv("DELIVERY_SECRET"),
	}

	if cfg.StoreDriver == "" {
		cfg.StoreDriver = "postgres"
	}
	if cfg.SQLitePath == "" {
		cfg.SQLitePath = "stagexp.db"
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "UTC"
	}

	if batchStr := os.Getenv("SWEEP_BATCH_SIZE"); batchStr != "" {
		if batch, err := parseInt(batchStr); err == nil && batch > 0 {
			cfg.SweepBatchSize = batch
		} else {
			log.Printf("config: invalid SWEEP_BATCH_SIZE %q (must be a positive integer), using default 100", batchStr)
		}
	}
	if cfg.SweepBatchSize == 0 {
		cfg.SweepBatchSize = 100
	}

	if batchStr := os.Getenv("DISPATCH_BATCH_SIZE"); batchStr != "" {
		if batch, err := parseInt(batchStr); err == nil && batch > 0 {
			cfg.DispatchBatchSize = batch
		} else {
			log.Printf("config: invalid DISPATCH_BATCH_SIZE %q (must be a positive integer), using default 50", batchStr)
		}
	}
	if cfg.DispatchBatchSize == 0 {
		cfg.DispatchBatchSize = 50
	}

	if attemptsStr := os.Getenv("MAX_SEND_ATTEMPTS"); attemptsStr != "" {
		if n, err := parseInt(attemptsStr); err == nil && n > 0 {
			cfg.MaxSendAttempts = n
		} else {
			log.Printf("config: invalid MAX_SEND_ATTEMPTS %q (must be a positive integer), using default 5", attemptsStr)
		}
	}
	if cfg.MaxSendAttempts == 0 {
		cfg.MaxSendAttempts = 5
	}

	// Zero is meaningful for EPSILON and MIN_SAMPLE, so their defaults apply
	// only when the variable is absent.
	if epsStr := os.Getenv("EPSILON"); epsStr != "" {
		if eps, err := strconv.ParseFloat(epsStr, 64); err == nil && eps >= 0 {
			cfg.Epsilon = eps
		} else {
			log.Printf("config: invalid EPSILON %q (must be a number in [0,1]), using default 0.2", epsStr)
			cfg.Epsilon = 0.2
		}
	} else {
		cfg.Epsilon = 0.2
	}

	if sampleStr := os.Getenv("MIN_SAMPLE"); sampleStr != "" {
		if n, err := parseInt(sampleStr); err == nil {
			cfg.MinSample = n
		} else {
			log.Printf("config: invalid MIN_SAMPLE %q (must be a non-negative integer), using default 5", sampleStr)
			cfg.MinSample = 5
		}
	} else {
		cfg.MinSample = 5
	}

	if topKStr := os.Getenv("TOP_K"); topKStr != "" {
		if n, err := parseInt(topKStr); err == nil && n > 0 {
			cfg.TopK = n
		} else {
			log.Printf("config: invalid TOP_K %q (must be a positive integer), using default 5", topKStr)
		}
	}
	if cfg.TopK == 0 {
		cfg.TopK = 5
	}

	if bufStr := os.Getenv("EVENTBUS_BUFFER_SIZE"); bufStr != "" {
		if n, err := parseInt(bufStr); err == nil && n > 0 {
			cfg.EventBusBufferSize = n
		} else {
			log.Printf("config: invalid EVENTBUS_BUFFER_SIZE %q (must be a positive integer), using default 100", bufStr)
		}
	}
	if cfg.EventBusBufferSize == 0 {
		cfg.EventBusBufferSize = 100
	}

	if portStr := os.Getenv("METRICS_PORT"); portStr != "" {
		if n, err := parseInt(portStr); err == nil && n > 0 && n < 65536 {
			cfg.MetricsPort = n
		} else {
			log.Printf("config: invalid METRICS_PORT %q (must be a port number), serving metrics on the main server", portStr)
		}
	}

	if cbThreshStr := os.Getenv("CIRCUIT_BREAKER_THRESHOLD"); cbThreshStr != "" {
		if n, err := parseInt(cbThreshStr); err == nil {
			cfg.CircuitBreakerThreshold = n
		} else {
			log.Printf("config: invalid CIRCUIT_BREAKER_THRESHOLD %q, using default 5", cbThreshStr)
		}
	}
	if cfg.CircuitBreakerThreshold == 0 && os.Getenv("CIRCUIT_BREAKER_THRESHOLD") == "" {
		cfg.CircuitBreakerThreshold = 5
	}

	if maxOpenStr := os.Getenv("DB_MAX_OPEN_CONNS"); maxOpenStr != "" {
		if n, err := parseInt(maxOpenStr); err == nil && n > 0 {
			cfg.DBMaxOpenConns = n
		}
	}
	if cfg.DBMaxOpenConns == 0 {
		cfg.DBMaxOpenConns = 25
	}

	if maxIdleStr := os.Getenv("DB_MAX_IDLE_CONNS"); maxIdleStr != "" {
		if n, err := parseInt(maxIdleStr); err == nil && n > 0 {
			cfg.DBMaxIdleConns = n
		}
	}
	if cfg.DBMaxIdleConns == 0 {
		cfg.DBMaxIdleConns = 5
	}

	// Support the platform-injected PORT variable as fallback for HTTP_ADDR.
	if cfg.HTTPAddr == "" {
		if port := os.Getenv("PORT"); port != "" {
			cfg.HTTPAddr = ":" + port
		} else {
			cfg.HTTPAddr = ":8080"
		}
	}
	if cfg.SweepIntervalStr == "" {
		cfg.SweepIntervalStr = "1m"
	}
	if cfg.DispatchIntervalStr == "" {
		cfg.DispatchIntervalStr = "1m"
	}
	if cfg.SendTimeoutStr == "" {
		cfg.SendTimeoutStr = "30s"
	}
	if cfg.DedupWindowStr == "" {
		cfg.DedupWindowStr = "1h"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.CircuitBreakerCooldownStr == "" {
		cfg.CircuitBreakerCooldownStr = "2m"
	}
	if cfg.HTTPShutdownTimeoutStr == "" {
		cfg.HTTPShutdownTimeoutStr = "10s"
	}
	if cfg.TrackerDrainTimeoutStr == "" {
		cfg.TrackerDrainTimeoutStr = "30s"
	}
	if cfg.DBConnMaxLifetimeStr == "" {
		cfg.DBConnMaxLifetimeStr = "30m"
	}
	if cfg.DBConnMaxIdleTimeStr == "" {
		cfg.DBConnMaxIdleTimeStr = "5m"
	}

	// Parse durations; validation is handled separately by Validate().
	if d, err := time.ParseDuration(cfg.SweepIntervalStr); err == nil {
		cfg.SweepInterval = d
	}
	if d, err := time.ParseDuration(cfg.DispatchIntervalStr); err == nil {
		cfg.DispatchInterval = d
	}
	if d, err := time.ParseDuration(cfg.SendTimeoutStr); err == nil {
		cfg.SendTimeout = d
	}
	if d, err := time.ParseDuration(cfg.DedupWindowStr); err == nil {
		cfg.DedupWindow = d
	}
	if d, err := time.ParseDuration(cfg.CircuitBreakerCooldownStr); err == nil {
		cfg.CircuitBreakerCooldown = d
	}
	if d, err := time.ParseDuration(cfg.HTTPShutdownTimeoutStr); err == nil {
		cfg.HTTPShutdownTimeout = d
	}
	if d, err := time.ParseDuration(cfg.TrackerDrainTimeoutStr); err == nil {
		cfg.TrackerDrainTimeout = d
	}
	if d, err := time.ParseDuration(cfg.DBConnMaxLifetimeStr); err == nil {
		cfg.DBConnMaxLifetime = d
	}
	if d, err := time.ParseDuration(cfg.DBConnMaxIdleTimeStr); err == nil {
		cfg.DBConnMaxIdleTime = d
	}

	return cfg
}

// GatewayURL returns the configured gateway URL for a delivery channel, or
// empty when the channel is not configured.
func (c Config) GatewayURL(channel string) string {
	switch channel {
	case "push":
		return c.PushGatewayURL
	case "whatsapp":
		return c.WhatsAppGatewayURL
	case "sms":
		return c.SMSGatewayURL
	}
	return ""
}

// parseInt parses a string as an integer.
func parseInt(s string) (int, error) {
	var n int
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, os.ErrInvalid
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}

// MaskedJSON returns the configuration as JSON with secrets masked.
func (c Config) MaskedJSON() ([]byte, error) {
	masked := struct {
		StoreDriver             string  `json:"store_driver"`
		DatabaseURL             string  `json:"database_url"`
		SQLitePath              string  `json:"sqlite_path,omitempty"`
		RedisAddr               string  `json:"redis_addr,omitempty"`
		HTTPAddr                string  `json:"http_addr"`
		RulesPath               string  `json:"rules_path,omitempty"`
		Timezone                string  `json:"timezone"`
		SweepInterval           string  `json:"sweep_interval"`
		SweepBatchSize          int     `json:"sweep_batch_size"`
		DispatchInterval        string  `json:"dispatch_interval"`
		DispatchBatchSize       int     `json:"dispatch_batch_size"`
		SendTimeout             string  `json:"send_timeout"`
		MaxSendAttempts         int     `json:"max_send_attempts"`
		Epsilon                 float64 `json:"epsilon"`
		MinSample               int     `json:"min_sample"`
		TopK                    int     `json:"top_k"`
		DedupWindow             string  `json:"dedup_window"`
		EventBusBufferSize      int     `json:"eventbus_buffer_size"`
		MetricsEnabled          bool    `json:"metrics_enabled"`
		MetricsPath             string  `json:"metrics_path"`
		MetricsPort             int     `json:"metrics_port"`
		CircuitBreakerThreshold int     `json:"circuit_breaker_threshold"`
		CircuitBreakerCooldown  string  `json:"circuit_breaker_cooldown"`
		HTTPShutdownTimeout     string  `json:"http_shutdown_timeout"`
		TrackerDrainTimeout     string  `json:"tracker_drain_timeout"`
		DBMaxOpenConns          int     `json:"db_max_open_conns"`
		DBMaxIdleConns          int     `json:"db_max_idle_conns"`
		DBConnMaxLifetime       string  `json:"db_conn_max_lifetime"`
		DBConnMaxIdleTime       string  `json:"db_conn_max_idle_time"`
		PushGatewayURL          string  `json:"push_gateway_url,omitempty"`
		WhatsAppGatewayURL      string  `json:"whatsapp_gateway_url,omitempty"`
		SMSGatewayURL           string  `json:"sms_gateway_url,omitempty"`
		DeliverySecret          string  `json:"delivery_secret,omitempty"`
	}{
		StoreDriver:             c.StoreDriver,
		DatabaseURL:             maskSecret(c.DatabaseURL),
		SQLitePath:              c.SQLitePath,
		RedisAddr:               c.RedisAddr,
		HTTPAddr:                c.HTTPAddr,
		RulesPath:               c.RulesPath,
		Timezone:                c.Timezone,
		SweepInterval:           c.SweepIntervalStr,
		SweepBatchSize:          c.SweepBatchSize,
		DispatchInterval:        c.DispatchIntervalStr,
		DispatchBatchSize:       c.DispatchBatchSize,
		SendTimeout:             c.SendTimeoutStr,
		MaxSendAttempts:         c.MaxSendAttempts,
		Epsilon:                 c.Epsilon,
		MinSample:               c.MinSample,
		TopK:                    c.TopK,
		DedupWindow:             c.DedupWindowStr,
		EventBusBufferSize:      c.EventBusBufferSize,
		MetricsEnabled:          c.MetricsEnabled,
		MetricsPath:             c.MetricsPath,
		MetricsPort:             c.MetricsPort,
		CircuitBreakerThreshold: c.CircuitBreakerThreshold,
		CircuitBreakerCooldown:  c.CircuitBreakerCooldownStr,
		HTTPShutdownTimeout:     c.HTTPShutdownTimeoutStr,
		TrackerDrainTimeout:     c.TrackerDrainTimeoutStr,
		DBMaxOpenConns:          c.DBMaxOpenConns,
		DBMaxIdleConns:          c.DBMaxIdleConns,
		DBConnMaxLifetime:       c.DBConnMaxLifetimeStr,
		DBConnMaxIdleTime:       c.DBConnMaxIdleTimeStr,
		PushGatewayURL:          c.PushGatewayURL,
		WhatsAppGatewayURL:      c.WhatsAppGatewayURL,
		SMSGatewayURL:           c.SMSGatewayURL,
		DeliverySecret:          maskAll(c.DeliverySecret),
	}
	return json.MarshalIndent(masked, "", "  ")
}

// maskSecret masks a secret value, preserving only the URI scheme if present.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if len(s) >= len(scheme) && s[:len(scheme)] == scheme {
			return scheme + "***"
		}
	}
	return "***"
}

// maskAll masks a secret value entirely.
func maskAll(s string) string {
	if s == "" {
		return ""
	}
	return "***"
}
