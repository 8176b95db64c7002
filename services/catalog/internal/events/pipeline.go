package events

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"catalogd/services/catalog/internal/model"
	"catalogd/services/catalog/internal/reconcile"
	"catalogd/services/catalog/internal/store"
)

// ErrUnknownTarget marks an event whose bucket maps to no enabled
// object-store connector.
var ErrUnknownTarget = errors.New("events: no connector for event target")

// ErrProcessing marks a failure while applying an otherwise valid event to
// the catalog. The sender should retry.
var ErrProcessing = errors.New("events: processing failed")

// Applier applies one staged change to the catalog.
type Applier interface {
	Incremental(ctx context.Context, conn model.Connector, pending model.PendingAsset) (reconcile.Summary, error)
}

// Pipeline turns raw change-notification bodies into catalog updates. Every
// change is staged as a pending asset before it is applied, so a crash
// between staging and applying leaves an auditable row instead of a lost
// event.
type Pipeline struct {
	store   store.Gateway
	applier Applier
	logger  *log.Logger
	now     func() time.Time
}

func NewPipeline(gw store.Gateway, applier Applier, logger *log.Logger) *Pipeline {
	if logger == nil {
		logger = log.Default()
	}
	return &Pipeline{
		store:   gw,
		applier: applier,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Process decodes one notification body and applies its changes. When
// connectorID is empty the target connector is resolved from the event's
// bucket. It returns the number of changes applied; duplicates already
// staged and unprocessed count as applied without re-staging.
func (p *Pipeline) Process(ctx context.Context, connectorID string, body []byte) (int, error) {
	env, err := ParseEnvelope(body)
	if err != nil {
		return 0, err
	}
	if env.Kind != KindNotification {
		return 0, fmt.Errorf("%w: body is a %s, not a notification", ErrMalformedEvent, env.Kind)
	}

	applied := 0
	for _, change := range env.Changes {
		conn, err := p.targetConnector(ctx, connectorID, change.Bucket)
		if err != nil {
			return applied, err
		}
		if err := p.apply(ctx, conn, change); err != nil {
			return applied, err
		}
		applied++
	}
	return applied, nil
}

func (p *Pipeline) apply(ctx context.Context, conn model.Connector, change Change) error {
	assetID := fmt.Sprintf("%s://%s/%s", change.Scheme, change.Bucket, change.Key)
	modified := change.Modified
	if modified.IsZero() {
		modified = p.now()
	}

	pending := model.PendingAsset{
		ID:              uuid.NewString(),
		Name:            model.BaseName(change.Key),
		Type:            model.Classify(change.Key),
		Catalog:         change.Bucket,
		ConnectorID:     conn.ID,
		ChangeType:      change.ChangeType,
		SourceEventType: change.EventType,
		AssetID:         assetID,
		AssetData: datatypes.JSONMap{
			"schema":        model.SchemaOf(change.Key),
			"size_bytes":    change.SizeBytes,
			"last_modified": modified.Format(time.RFC3339),
			"source":        sourceForScheme(change.Scheme),
		},
	}

	staged, err := p.store.SavePendingAsset(ctx, pending)
	if err != nil {
		return fmt.Errorf("%w: stage %s: %v", ErrProcessing, assetID, err)
	}
	if !staged {
		// An unprocessed row for this asset already exists; the earlier
		// event will carry the change through.
		p.logger.Printf("INFO connector %s: duplicate change for %s, already staged", conn.ID, assetID)
		return nil
	}

	if _, err := p.applier.Incremental(ctx, conn, pending); err != nil {
		return fmt.Errorf("%w: apply %s: %v", ErrProcessing, assetID, err)
	}
	if err := p.store.MarkPendingProcessed(ctx, pending.ID); err != nil {
		return fmt.Errorf("%w: mark processed %s: %v", ErrProcessing, pending.ID, err)
	}
	return nil
}

// targetConnector resolves which connector owns the event. An explicit id
// wins; otherwise the first enabled object-store connector scoped to the
// event's bucket is used, falling back to an unscoped one.
func (p *Pipeline) targetConnector(ctx context.Context, connectorID, bucket string) (model.Connector, error) {
	if connectorID != "" {
		conn, err := p.store.LoadConnector(ctx, connectorID)
		if errors.Is(err, store.ErrNotFound) {
			return model.Connector{}, fmt.Errorf("%w: connector %s", ErrUnknownTarget, connectorID)
		}
		if err != nil {
			return model.Connector{}, fmt.Errorf("%w: load connector: %v", ErrProcessing, err)
		}
		return conn, nil
	}

	connectors, err := p.store.LoadConnectors(ctx)
	if err != nil {
		return model.Connector{}, fmt.Errorf("%w: load connectors: %v", ErrProcessing, err)
	}

	var fallback *model.Connector
	for i, conn := range connectors {
		if conn.Type != model.TypeObjectStore || !conn.Enabled {
			continue
		}
		scoped := conn.ConfigString("bucket", "bucket_name", "bucketName")
		if scoped == bucket {
			return conn, nil
		}
		if scoped == "" && fallback == nil {
			fallback = &connectors[i]
		}
	}
	if fallback != nil {
		return *fallback, nil
	}
	return model.Connector{}, fmt.Errorf("%w: bucket %s", ErrUnknownTarget, bucket)
}

func sourceForScheme(scheme string) string {
	switch scheme {
	case "gs":
		return "Google Cloud Storage"
	default:
		return "Amazon S3"
	}
}
