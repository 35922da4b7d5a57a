package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type (
	Config struct {
		App           `json:"app"           toml:"app"`
		HTTP          `json:"http"          toml:"http"`
		DB            `json:"db"            toml:"db"`
		Redis         `json:"redis"         toml:"redis"`
		Expiration    `json:"expiration"    toml:"expiration"`
		Notifications `json:"notifications" toml:"notifications"`
		Workers       `json:"workers"       toml:"workers"`
		Log           `json:"logger"        toml:"logger"`
	}

	App struct {
		Name        string `json:"name"        toml:"name"        env:"APP_NAME"`
		Environment string `json:"environment" toml:"environment" env:"ENV_NAME" env-default:"dev"`
		Debug       bool   `json:"debug"       toml:"debug"       env:"DEBUG"    env-default:"false"`
	}

	HTTP struct {
		Port string `json:"port" toml:"port" env:"HTTP_PORT" env-default:"8080"`
	}

	DB struct {
		DatabaseURL       string `json:"database_url"        toml:"database_url"        env:"DATABASE_URL"`
		PoolMax           int32  `json:"pool_max"            toml:"pool_max"            env:"PG_POOL_MAX" env-default:"10"`
		ConnectTimeout    int    `json:"connect_timeout"     toml:"connect_timeout"     env:"PG_POOL_CONN_TIMEOUT" env-default:"5"`
		HealthCheckPeriod int    `json:"health_check_period" toml:"health_check_period" env:"PG_POOL_HEALTHCHECK" env-default:"1"`
	}

	Redis struct {
		Addr     string `json:"addr"     toml:"addr"     env:"REDIS_ADDR" env-default:"localhost:6379"`
		Password string `json:"password" toml:"password" env:"REDIS_PASSWORD"`
		DB       int    `json:"db"       toml:"db"       env:"REDIS_DB" env-default:"0"`
	}

	Expiration struct {
		// OrderTTL is how long an order may sit unpaid before it is expired.
		OrderTTL time.Duration `json:"order_ttl" toml:"order_ttl" env:"ORDER_EXPIRATION_TIME" env-default:"30m"`
	}

	Notifications struct {
		// OperatorChatIDs receive every order-event message.
		OperatorChatIDs []int64 `json:"operator_chat_ids" toml:"operator_chat_ids" env:"OPERATOR_CHAT_IDS"`
		// FallbackChatID receives the direct send when the queue is down.
		FallbackChatID int64  `json:"fallback_chat_id" toml:"fallback_chat_id" env:"FALLBACK_CHAT_ID"`
		DeliveryURL    string `json:"delivery_url"     toml:"delivery_url"     env:"DELIVERY_URL"`
		DeliveryToken  string `json:"delivery_token"   toml:"delivery_token"   env:"DELIVERY_TOKEN"`

		Concurrency    int           `json:"concurrency"     toml:"concurrency"     env:"NOTIFY_CONCURRENCY" env-default:"5"`
		MaxRetries     int           `json:"max_retries"     toml:"max_retries"     env:"NOTIFY_MAX_RETRIES" env-default:"5"`
		BackoffBase    time.Duration `json:"backoff_base"    toml:"backoff_base"    env:"NOTIFY_BACKOFF_BASE" env-default:"5s"`
		SendTimeout    time.Duration `json:"send_timeout"    toml:"send_timeout"    env:"NOTIFY_SEND_TIMEOUT" env-default:"10s"`
		RateLimit      int           `json:"rate_limit"      toml:"rate_limit"      env:"NOTIFY_RATE_LIMIT" env-default:"25"`
		RateLimitBurst int           `json:"rate_limit_burst" toml:"rate_limit_burst" env:"NOTIFY_RATE_BURST" env-default:"5"`
	}

	Workers struct {
		// SweepInterval is how often the reconciler re-checks pending orders
		// whose deadline has passed without an observed expiry event.
		SweepInterval time.Duration `json:"sweep_interval" toml:"sweep_interval" env:"SWEEP_INTERVAL" env-default:"1m"`
	}

	Log struct {
		Level slog.Level `json:"level" toml:"level" env:"LOG_LEVEL"`
	}
)

func LoadConfig() (*Config, error) {
	cfg := &Config{}

	_, b, _, _ := runtime.Caller(0)
	basePath := filepath.Dir(b)

	configTomlPath := filepath.Join(basePath, "config.toml")
	err := cleanenv.ReadConfig(configTomlPath, cfg)
	if err != nil {
		configJsonPath := filepath.Join(basePath, "config.json")
		err = cleanenv.ReadConfig(configJsonPath, cfg)
		if err != nil {
			return nil, fmt.Errorf("config error: %w", err)
		}
	}

	err = cleanenv.ReadEnv(cfg)
	if err != nil {
		return nil, fmt.Errorf("env read error: %w", err)
	}

	return cfg, nil
}
