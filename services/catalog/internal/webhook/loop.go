package webhook

import (
	"context"
	"log"
	"time"

	"catalogd/pkg/tunnel"
	"catalogd/services/catalog/internal/model"
	"catalogd/services/catalog/internal/store"
)

const callbackPath = "/v1/events/object-change"

// Loop keeps the push-notification subscription pointed at the process's
// current public URL. Tunnel URLs change whenever the agent restarts, so the
// loop re-registers the callback each time the URL moves and forgets the URL
// while the tunnel is down.
type Loop struct {
	store     store.Gateway
	tunnel    tunnel.Introspector
	registrar Registrar
	logger    *log.Logger

	// connectorID pins the registration target. Empty means the first
	// enabled object-store connector.
	connectorID string
	interval    time.Duration

	lastURL         string
	subscriptionARN string
}

func NewLoop(gw store.Gateway, intro tunnel.Introspector, registrar Registrar, connectorID string, logger *log.Logger) *Loop {
	if logger == nil {
		logger = log.Default()
	}
	return &Loop{
		store:       gw,
		tunnel:      intro,
		registrar:   registrar,
		logger:      logger,
		connectorID: connectorID,
		interval:    30 * time.Second,
	}
}

// Run ticks until ctx cancels. The first tick fires immediately so a stable
// tunnel is registered at startup, not half a minute later.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}

func (l *Loop) tick(ctx context.Context) {
	url, ok := l.tunnel.PublicURL(ctx)
	if !ok {
		if l.lastURL != "" {
			l.logger.Printf("INFO webhook: tunnel gone, dropping registration for %s", l.lastURL)
			l.lastURL = ""
			l.subscriptionARN = ""
		}
		return
	}
	if url == l.lastURL {
		return
	}

	conn, ok := l.target(ctx)
	if !ok {
		return
	}

	endpoint := url + callbackPath
	arn, err := l.registrar.Register(ctx, conn, endpoint)
	if err != nil {
		// lastURL stays unset so the next tick retries.
		l.logger.Printf("WARN webhook: register %s for connector %s: %v", endpoint, conn.ID, err)
		return
	}

	l.lastURL = url
	l.subscriptionARN = arn
	l.logger.Printf("INFO webhook: registered %s for connector %s (subscription %s)", endpoint, conn.ID, arn)
}

func (l *Loop) target(ctx context.Context) (model.Connector, bool) {
	if l.connectorID != "" {
		conn, err := l.store.LoadConnector(ctx, l.connectorID)
		if err != nil {
			l.logger.Printf("WARN webhook: load connector %s: %v", l.connectorID, err)
			return model.Connector{}, false
		}
		return conn, true
	}

	connectors, err := l.store.LoadConnectors(ctx)
	if err != nil {
		l.logger.Printf("WARN webhook: load connectors: %v", err)
		return model.Connector{}, false
	}
	for _, conn := range connectors {
		if conn.Type == model.TypeObjectStore && conn.Enabled {
			return conn, true
		}
	}
	l.logger.Printf("INFO webhook: no enabled object-store connector to register")
	return model.Connector{}, false
}
