package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"catalogd/services/catalog/internal/discovery"
	"catalogd/services/catalog/internal/model"
	"catalogd/services/catalog/internal/store"
)

// Summary reports what one reconciliation pass did to the catalog.
type Summary struct {
	Discovered int                  `json:"discovered"`
	New        int                  `json:"new"`
	Updated    int                  `json:"updated"`
	Removed    int                  `json:"removed"`
	Failed     int                  `json:"failed"`
	Skipped    int                  `json:"skipped"`
	NewAssets  []model.AssetSummary `json:"new_assets,omitempty"`
}

// Engine reconciles discovery results against the persisted catalog. It is
// shared by the scheduler's full passes and the event pipeline's incremental
// ones.
type Engine struct {
	store    store.Gateway
	registry discovery.Registry
	notifier Notifier
	logger   *log.Logger
	now      func() time.Time
}

// New builds an engine. notifier may be nil when no event bus is configured.
func New(gw store.Gateway, registry discovery.Registry, notifier Notifier, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{
		store:    gw,
		registry: registry,
		notifier: notifier,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// FullPass enumerates the connector's source end to end and reconciles the
// result: upserts everything discovered, soft-deletes what disappeared, and
// records the checkpoint. A checkpoint is written only when the pass reached
// the reconcile stage, so a source outage never advances last_run.
func (e *Engine) FullPass(ctx context.Context, conn model.Connector) (Summary, error) {
	adapter, ok := e.registry.ForType(conn.Type)
	if !ok {
		return Summary{}, fmt.Errorf("connector %s: no adapter for type %q", conn.ID, conn.Type)
	}

	result, err := adapter.Discover(ctx, conn)
	if err != nil {
		return Summary{}, fmt.Errorf("connector %s: discover: %w", conn.ID, err)
	}

	existing, err := e.store.LoadAssets(ctx, conn.ID)
	if err != nil {
		return Summary{}, fmt.Errorf("connector %s: load assets: %w", conn.ID, err)
	}
	known := make(map[string]model.Asset, len(existing))
	for _, a := range existing {
		known[a.ID] = a
	}

	descriptors := dedupe(result.Assets)
	now := e.now()

	summary := Summary{Discovered: len(descriptors), Skipped: len(result.Partial)}
	seen := make(map[string]struct{}, len(descriptors))
	for _, d := range descriptors {
		seen[d.ID] = struct{}{}
		asset := d.Asset(conn.ID, now)
		prior, exists := known[d.ID]
		if err := e.store.UpsertAsset(ctx, asset); err != nil {
			e.logger.Printf("WARN connector %s: upsert %s: %v", conn.ID, d.ID, err)
			summary.Failed++
			continue
		}
		if exists && prior.Status != model.StatusRemoved {
			summary.Updated++
		} else {
			summary.New++
			summary.NewAssets = append(summary.NewAssets, asset.Summary())
		}
	}

	partial := make(map[string]struct{}, len(result.Partial))
	for _, p := range result.Partial {
		partial[p.Name] = struct{}{}
	}

	// Full enumeration is authoritative: anything previously active that the
	// source no longer reports is gone. The exception is a container whose
	// listing failed mid-pass; absence there is unproven, so its assets stay
	// untouched until a clean enumeration. A removed row keeps its history,
	// it is never hard-deleted here.
	for _, a := range existing {
		if a.Status == model.StatusRemoved {
			continue
		}
		if _, ok := seen[a.ID]; ok {
			continue
		}
		if _, ok := partial[a.Catalog]; ok {
			continue
		}
		if err := e.store.UpdateAssetStatus(ctx, a.ID, model.StatusRemoved); err != nil {
			e.logger.Printf("WARN connector %s: remove %s: %v", conn.ID, a.ID, err)
			summary.Failed++
			continue
		}
		summary.Removed++
	}

	active := summary.New + summary.Updated
	if err := e.store.UpdateConnectorCheckpoint(ctx, conn.ID, now, active); err != nil {
		return summary, fmt.Errorf("connector %s: checkpoint: %w", conn.ID, err)
	}

	e.announce(ctx, conn, summary.NewAssets)
	return summary, nil
}

// Incremental applies one staged change notification. It touches the single
// asset named by the event and nothing else: no scoping over siblings, no
// soft deletes beyond the event's own removal, and no checkpoint update.
func (e *Engine) Incremental(ctx context.Context, conn model.Connector, pending model.PendingAsset) (Summary, error) {
	switch pending.ChangeType {
	case model.ChangeRemoved:
		err := e.store.UpdateAssetStatus(ctx, pending.AssetID, model.StatusRemoved)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				// Removal of an asset we never cataloged is a no-op.
				e.logger.Printf("INFO connector %s: removal event for unknown asset %s", conn.ID, pending.AssetID)
				return Summary{}, nil
			}
			return Summary{}, fmt.Errorf("connector %s: remove %s: %w", conn.ID, pending.AssetID, err)
		}
		return Summary{Removed: 1}, nil

	case model.ChangeCreated, model.ChangeUpdated:
		d, err := descriptorFromPending(pending)
		if err != nil {
			return Summary{}, fmt.Errorf("connector %s: pending %s: %w", conn.ID, pending.ID, err)
		}
		asset := d.Asset(conn.ID, e.now())
		if err := e.store.UpsertAsset(ctx, asset); err != nil {
			return Summary{}, fmt.Errorf("connector %s: upsert %s: %w", conn.ID, d.ID, err)
		}
		summary := Summary{Discovered: 1}
		if pending.ChangeType == model.ChangeCreated {
			summary.New = 1
			summary.NewAssets = []model.AssetSummary{asset.Summary()}
			e.announce(ctx, conn, summary.NewAssets)
		} else {
			summary.Updated = 1
		}
		return summary, nil

	default:
		return Summary{}, fmt.Errorf("connector %s: pending %s: unknown change type %q", conn.ID, pending.ID, pending.ChangeType)
	}
}

func (e *Engine) announce(ctx context.Context, conn model.Connector, assets []model.AssetSummary) {
	if e.notifier == nil || len(assets) == 0 {
		return
	}
	if err := e.notifier.NotifyNewAssets(ctx, conn.Name, conn.ID, assets); err != nil {
		e.logger.Printf("WARN connector %s: notify new assets: %v", conn.ID, err)
	}
}

// dedupe collapses descriptors sharing an id; the later occurrence wins, on
// the assumption it reflects the more recent listing page.
func dedupe(in []model.AssetDescriptor) []model.AssetDescriptor {
	index := make(map[string]int, len(in))
	out := make([]model.AssetDescriptor, 0, len(in))
	for _, d := range in {
		if i, ok := index[d.ID]; ok {
			out[i] = d
			continue
		}
		index[d.ID] = len(out)
		out = append(out, d)
	}
	return out
}

func descriptorFromPending(pending model.PendingAsset) (model.AssetDescriptor, error) {
	if pending.AssetID == "" {
		return model.AssetDescriptor{}, fmt.Errorf("no asset id")
	}
	d := model.AssetDescriptor{
		ID:      pending.AssetID,
		Name:    pending.Name,
		Type:    pending.Type,
		Catalog: pending.Catalog,
	}
	d.Schema = stringField(pending.AssetData, "schema")
	d.Source = stringField(pending.AssetData, "source")
	if d.Name == "" {
		d.Name = stringField(pending.AssetData, "name")
	}
	if d.Type == "" {
		d.Type = stringField(pending.AssetData, "type")
	}
	if d.Catalog == "" {
		d.Catalog = stringField(pending.AssetData, "catalog")
	}
	if raw, ok := pending.AssetData["size_bytes"]; ok {
		switch v := raw.(type) {
		case float64:
			d.SizeBytes = int64(v)
		case int64:
			d.SizeBytes = v
		case json.Number:
			if n, err := v.Int64(); err == nil {
				d.SizeBytes = n
			}
		}
	}
	if s := stringField(pending.AssetData, "last_modified"); s != "" {
		if ts, err := time.Parse(time.RFC3339, s); err == nil {
			d.LastModified = ts
		}
	}
	if d.LastModified.IsZero() {
		d.LastModified = time.Now().UTC()
	}
	return d, nil
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
