package config

import (
	"fmt"
	"os"
	"strconv"
)

func Load() (Config, error) {
	cfg := Config{}

	cfg.HTTP.Port = getEnvInt("CATALOG_HTTP_PORT", 8080)
	if cfg.HTTP.Port < 1 || cfg.HTTP.Port > 65535 {
		return Config{}, fmt.Errorf("invalid CATALOG_HTTP_PORT: %d", cfg.HTTP.Port)
	}

	cfg.Database.URL = os.Getenv("DATABASE_URL")
	if cfg.Database.URL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}

	cfg.Bus.URL = os.Getenv("NATS_URL")

	cfg.Scheduler.Enabled = getEnvBool("CATALOG_ENABLE_SCHEDULER", true)
	cfg.Bridge.Enabled = getEnvBool("CATALOG_ENABLE_SQS_BRIDGE", true)

	cfg.Webhook.Enabled = getEnvBool("CATALOG_ENABLE_WEBHOOK", true)
	cfg.Webhook.AgentURL = os.Getenv("CATALOG_TUNNEL_AGENT_URL")
	cfg.Webhook.PublicURL = os.Getenv("CATALOG_PUBLIC_URL")
	cfg.Webhook.ConnectorID = os.Getenv("CATALOG_WEBHOOK_CONNECTOR_ID")

	return cfg, nil
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
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
