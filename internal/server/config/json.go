package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/flicapp/identity/internal/flagx"
	"github.com/flicapp/identity/internal/timex"
)

// JsonConfig mirrors Config for JSON decoding. Durations accept either Go
// duration strings ("10m") or integer nanoseconds. Zero values leave the
// target field untouched.
type JsonConfig struct {
	HTTPAddr             string         `json:"http_addr"`
	GRPCHealthAddr       string         `json:"grpc_health_addr"`
	DatabaseDSN          string         `json:"database_dsn"`
	SecretKey            string         `json:"secret_key"`
	SessionTokenValidity timex.Duration `json:"session_token_validity"`
	EmailCodeTTL         timex.Duration `json:"email_code_ttl"`
	PasswordResetTTL     timex.Duration `json:"password_reset_ttl"`
	SMTPHost             string         `json:"smtp_host"`
	SMTPPort             int            `json:"smtp_port"`
	SMTPUsername         string         `json:"smtp_username"`
	SMTPPassword         string         `json:"smtp_password"`
	SMTPFrom             string         `json:"smtp_from"`
	ResetURL             string         `json:"reset_url"`
	LogLevel             string         `json:"log_level"`
	LogBackend           string         `json:"log_backend"`
	LogFile              string         `json:"log_file"`
	RedisAddr            string         `json:"redis_addr"`
	RateLimitCount       int            `json:"rate_limit_count"`
	RateLimitWindow      timex.Duration `json:"rate_limit_window"`
	MigrateOnStart       *bool          `json:"migrate_on_start"`
}

func parseJSON(cfg *Config, args []string) error {
	path := flagx.ConfigPath(args)
	if path == "" {
		return nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(b, c); err != nil {
		return fmt.Errorf("decode config %s: %w", path, err)
	}

	setString(&cfg.HTTPAddr, c.HTTPAddr)
	setString(&cfg.GRPCHealthAddr, c.GRPCHealthAddr)
	setString(&cfg.DatabaseDSN, c.DatabaseDSN)
	setString(&cfg.SecretKey, c.SecretKey)
	setString(&cfg.SMTPHost, c.SMTPHost)
	setString(&cfg.SMTPUsername, c.SMTPUsername)
	setString(&cfg.SMTPPassword, c.SMTPPassword)
	setString(&cfg.SMTPFrom, c.SMTPFrom)
	setString(&cfg.ResetURL, c.ResetURL)
	setString(&cfg.LogLevel, c.LogLevel)
	setString(&cfg.LogBackend, c.LogBackend)
	setString(&cfg.LogFile, c.LogFile)
	setString(&cfg.RedisAddr, c.RedisAddr)

	if c.SessionTokenValidity.Duration != 0 {
		cfg.SessionTokenValidity = c.SessionTokenValidity.Duration
	}
	if c.EmailCodeTTL.Duration != 0 {
		cfg.EmailCodeTTL = c.EmailCodeTTL.Duration
	}
	if c.PasswordResetTTL.Duration != 0 {
		cfg.PasswordResetTTL = c.PasswordResetTTL.Duration
	}
	if c.RateLimitWindow.Duration != 0 {
		cfg.RateLimitWindow = c.RateLimitWindow.Duration
	}
	if c.SMTPPort != 0 {
		cfg.SMTPPort = c.SMTPPort
	}
	if c.RateLimitCount != 0 {
		cfg.RateLimitCount = c.RateLimitCount
	}
	if c.MigrateOnStart != nil {
		cfg.MigrateOnStart = *c.MigrateOnStart
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
