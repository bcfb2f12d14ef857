package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type HTTPConfig struct {
	Host string
	Port int
}

type DBConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type AuthConfig struct {
	AccessSecret string
}

type JournalConfig struct {
	Path string
}

type GateConfig struct {
	Port           string
	BaudRate       int
	ConnectRetries int
	ConnectBackoff time.Duration
	ResponseWindow time.Duration
	HoldDuration   time.Duration
}

type PaymentConfig struct {
	Port           string
	BaudRate       int
	ResponseWindow time.Duration
}

type BillingConfig struct {
	RatePerHour float64
}

type CameraConfig struct {
	ServiceURL    string
	InternalToken string
	PollInterval  time.Duration
}

type ConfirmerConfig struct {
	BufferSize int
	Threshold  int
	Cooldown   time.Duration
}

type Config struct {
	Environment string
	HTTP        HTTPConfig
	DB          DBConfig
	Auth        AuthConfig
	Journal     JournalConfig
	Gate        GateConfig
	Payment     PaymentConfig
	Billing     BillingConfig
	Camera      CameraConfig
	Confirmer   ConfirmerConfig
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("app")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("./deploy")
	v.AddConfigPath("./internal/config")

	v.AutomaticEnv()

	_ = v.ReadInConfig()

	cfg := &Config{
		Environment: v.GetString("APP_ENV"),
		HTTP: HTTPConfig{
			Host: v.GetString("HTTP_HOST"),
			Port: v.GetInt("HTTP_PORT"),
		},
		DB: DBConfig{
			DSN:             v.GetString("DB_DSN"),
			MaxOpenConns:    v.GetInt("DB_MAX_OPEN_CONNS"),
			MaxIdleConns:    v.GetInt("DB_MAX_IDLE_CONNS"),
			ConnMaxLifetime: v.GetDuration("DB_CONN_MAX_LIFETIME"),
		},
		Auth: AuthConfig{
			AccessSecret: v.GetString("JWT_ACCESS_SECRET"),
		},
		Journal: JournalConfig{
			Path: v.GetString("JOURNAL_PATH"),
		},
		Gate: GateConfig{
			Port:           v.GetString("GATE_SERIAL_PORT"),
			BaudRate:       v.GetInt("GATE_BAUD_RATE"),
			ConnectRetries: v.GetInt("GATE_CONNECT_RETRIES"),
			ConnectBackoff: v.GetDuration("GATE_CONNECT_BACKOFF"),
			ResponseWindow: v.GetDuration("GATE_RESPONSE_WINDOW"),
			HoldDuration:   v.GetDuration("GATE_HOLD_DURATION"),
		},
		Payment: PaymentConfig{
			Port:           v.GetString("PAYMENT_SERIAL_PORT"),
			BaudRate:       v.GetInt("PAYMENT_BAUD_RATE"),
			ResponseWindow: v.GetDuration("PAYMENT_RESPONSE_WINDOW"),
		},
		Billing: BillingConfig{
			RatePerHour: v.GetFloat64("BILLING_RATE_PER_HOUR"),
		},
		Camera: CameraConfig{
			ServiceURL:    v.GetString("CAMERA_SERVICE_URL"),
			InternalToken: v.GetString("CAMERA_INTERNAL_TOKEN"),
			PollInterval:  v.GetDuration("CAMERA_POLL_INTERVAL"),
		},
		Confirmer: ConfirmerConfig{
			BufferSize: v.GetInt("PLATE_BUFFER_SIZE"),
			Threshold:  v.GetInt("PLATE_CONFIRM_THRESHOLD"),
			Cooldown:   v.GetDuration("PLATE_CONFIRM_COOLDOWN"),
		},
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.HTTP.Host == "" {
		cfg.HTTP.Host = "0.0.0.0"
	}
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 8080
	}
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.Journal.Path == "" {
		cfg.Journal.Path = "plates_log.csv"
	}
	if cfg.Gate.BaudRate == 0 {
		cfg.Gate.BaudRate = 9600
	}
	if cfg.Gate.ConnectRetries == 0 {
		cfg.Gate.ConnectRetries = 3
	}
	if cfg.Gate.ConnectBackoff == 0 {
		cfg.Gate.ConnectBackoff = 2 * time.Second
	}
	if cfg.Gate.ResponseWindow == 0 {
		cfg.Gate.ResponseWindow = 100 * time.Millisecond
	}
	if cfg.Gate.HoldDuration == 0 {
		cfg.Gate.HoldDuration = 15 * time.Second
	}
	if cfg.Payment.BaudRate == 0 {
		cfg.Payment.BaudRate = 9600
	}
	if cfg.Payment.ResponseWindow == 0 {
		cfg.Payment.ResponseWindow = 5 * time.Second
	}
	if cfg.Billing.RatePerHour == 0 {
		cfg.Billing.RatePerHour = 500
	}
	if cfg.Camera.PollInterval == 0 {
		cfg.Camera.PollInterval = time.Second
	}
	if cfg.Confirmer.BufferSize == 0 {
		cfg.Confirmer.BufferSize = 3
	}
	if cfg.Confirmer.Threshold == 0 {
		cfg.Confirmer.Threshold = 3
	}
	if cfg.Confirmer.Cooldown == 0 {
		cfg.Confirmer.Cooldown = 5 * time.Second
	}
}

func validate(cfg *Config) error {
	if cfg.DB.DSN == "" {
		return fmt.Errorf("DB_DSN is required")
	}
	if cfg.Auth.AccessSecret == "" {
		return fmt.Errorf("JWT_ACCESS_SECRET is required")
	}
	if cfg.Billing.RatePerHour < 0 {
		return fmt.Errorf("BILLING_RATE_PER_HOUR must not be negative")
	}
	if cfg.Confirmer.Threshold > cfg.Confirmer.BufferSize {
		return fmt.Errorf("PLATE_CONFIRM_THRESHOLD cannot exceed PLATE_BUFFER_SIZE")
	}
	return nil
}
