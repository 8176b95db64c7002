package reconcile

import (
	"context"
	"time"

	"catalogd/pkg/bus"
	"catalogd/services/catalog/internal/model"
)

// SubjectAssetsDiscovered carries new-asset announcements for downstream
// consumers (search indexers, lineage builders).
const SubjectAssetsDiscovered = "catalog.assets.discovered"

// Notifier announces newly cataloged assets. Delivery is best effort; a
// failed announcement never fails the pass that produced it.
type Notifier interface {
	NotifyNewAssets(ctx context.Context, connectorName, connectorID string, assets []model.AssetSummary) error
}

// DiscoveredEvent is the wire shape published on SubjectAssetsDiscovered.
type DiscoveredEvent struct {
	ConnectorName string               `json:"connector_name"`
	ConnectorID   string               `json:"connector_id"`
	Count         int                  `json:"count"`
	Assets        []model.AssetSummary `json:"assets"`
	OccurredAt    time.Time            `json:"occurred_at"`
}

// BusNotifier publishes discovery announcements over JetStream.
type BusNotifier struct {
	bus *bus.Bus
}

func NewBusNotifier(b *bus.Bus) *BusNotifier {
	return &BusNotifier{bus: b}
}

func (n *BusNotifier) NotifyNewAssets(ctx context.Context, connectorName, connectorID string, assets []model.AssetSummary) error {
	if n == nil || n.bus == nil {
		return nil
	}
	return n.bus.Publish(ctx, SubjectAssetsDiscovered, DiscoveredEvent{
		ConnectorName: connectorName,
		ConnectorID:   connectorID,
		Count:         len(assets),
		Assets:        assets,
		OccurredAt:    time.Now().UTC(),
	})
}
