package config

type Config struct {
	HTTP      HTTPConfig
	Database  DatabaseConfig
	Bus       BusConfig
	Scheduler SchedulerConfig
	Bridge    BridgeConfig
	Webhook   WebhookConfig
}

type HTTPConfig struct {
	Port int
}

type DatabaseConfig struct {
	URL string
}

// BusConfig is optional; an empty URL runs the service without JetStream.
type BusConfig struct {
	URL string
}

type SchedulerConfig struct {
	Enabled bool
}

type BridgeConfig struct {
	Enabled bool
}

type WebhookConfig struct {
	Enabled bool
	// AgentURL points at the local tunnel agent's inspection API.
	AgentURL string
	// PublicURL pins the callback base URL, bypassing tunnel discovery.
	PublicURL string
	// ConnectorID pins the registration target connector.
	ConnectorID string
}
