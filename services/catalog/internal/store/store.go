package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"catalogd/pkg/db"
	"catalogd/services/catalog/internal/model"
)

// Gateway is the narrow interface the discovery core uses to read and mutate
// the persisted catalog. All mutation is single-row, keyed by asset or
// connector id, so concurrent scheduled and event-driven passes stay safe.
type Gateway interface {
	LoadConnectors(ctx context.Context) ([]model.Connector, error)
	LoadConnector(ctx context.Context, id string) (model.Connector, error)
	SaveConnector(ctx context.Context, conn model.Connector) error
	LoadAssets(ctx context.Context, connectorID string) ([]model.Asset, error)
	UpsertAsset(ctx context.Context, asset model.Asset) error
	UpdateAssetStatus(ctx context.Context, id, status string) error
	UpdateConnectorCheckpoint(ctx context.Context, id string, lastRun time.Time, assetsCount int) error
	SetConnectorStatus(ctx context.Context, id, status string) error
	SavePendingAsset(ctx context.Context, pending model.PendingAsset) (bool, error)
	MarkPendingProcessed(ctx context.Context, id string) error
}

// ErrNotFound is returned when a connector or asset id has no row.
var ErrNotFound = errors.New("store: not found")

// Store implements Gateway on Postgres. The ORM carries model mapping; the
// pgx pool serves the event path's hot queries.
type Store struct {
	orm  *gorm.DB
	pool *pgxpool.Pool
}

// New creates a Store bound to the provided connections.
func New(orm *gorm.DB, pool *pgxpool.Pool) (*Store, error) {
	if orm == nil {
		return nil, errors.New("orm is required")
	}
	if pool == nil {
		return nil, errors.New("database pool is required")
	}
	return &Store{orm: orm, pool: pool}, nil
}

func (s *Store) LoadConnectors(ctx context.Context) ([]model.Connector, error) {
	var connectors []model.Connector
	if err := s.orm.WithContext(ctx).Order("created_at").Find(&connectors).Error; err != nil {
		return nil, err
	}
	return connectors, nil
}

func (s *Store) LoadConnector(ctx context.Context, id string) (model.Connector, error) {
	var conn model.Connector
	err := s.orm.WithContext(ctx).Where("id = ?", id).First(&conn).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Connector{}, ErrNotFound
	}
	return conn, err
}

func (s *Store) SaveConnector(ctx context.Context, conn model.Connector) error {
	return s.orm.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "type", "enabled", "config", "updated_at",
		}),
	}).Create(&conn).Error
}

// LoadAssets returns the catalog slice owned by one connector, or the whole
// catalog when connectorID is empty.
func (s *Store) LoadAssets(ctx context.Context, connectorID string) ([]model.Asset, error) {
	q := s.orm.WithContext(ctx)
	if connectorID != "" {
		q = q.Where("connector_id = ?", connectorID)
	}
	var assets []model.Asset
	if err := q.Find(&assets).Error; err != nil {
		return nil, err
	}
	return assets, nil
}

// UpsertAsset inserts the asset or overwrites the mutable fields of the
// existing row with the same id. Identity fields never change on conflict.
func (s *Store) UpsertAsset(ctx context.Context, asset model.Asset) error {
	return s.orm.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "type", "catalog", "schema_name", "size_bytes",
			"last_modified", "connector_id", "status", "discovered_at",
			"metadata", "updated_at",
		}),
	}).Create(&asset).Error
}

func (s *Store) UpdateAssetStatus(ctx context.Context, id, status string) error {
	result := s.orm.WithContext(ctx).
		Model(&model.Asset{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": status, "updated_at": time.Now().UTC()})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateConnectorCheckpoint records a successful discovery pass. The scheduler
// reads last_run back to decide when the connector is next due.
func (s *Store) UpdateConnectorCheckpoint(ctx context.Context, id string, lastRun time.Time, assetsCount int) error {
	return s.orm.WithContext(ctx).
		Model(&model.Connector{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_run":     lastRun,
			"assets_count": assetsCount,
			"status":       model.StatusActive,
		}).Error
}

func (s *Store) SetConnectorStatus(ctx context.Context, id, status string) error {
	return s.orm.WithContext(ctx).
		Model(&model.Connector{}).
		Where("id = ?", id).
		Update("status", status).Error
}

// SavePendingAsset stages one change notification. It returns false without
// writing when an unprocessed row for the same asset id already exists, so a
// burst of duplicate notifications stages only once.
func (s *Store) SavePendingAsset(ctx context.Context, pending model.PendingAsset) (bool, error) {
	var existingID string
	err := db.Get(ctx, s.pool, &existingID, `
SELECT id
FROM pending_assets
WHERE asset_id = $1 AND status = 'pending'
LIMIT 1
`, pending.AssetID)
	switch {
	case err == nil:
		return false, nil
	case !errors.Is(err, pgx.ErrNoRows):
		return false, err
	}

	if pending.CreatedAt.IsZero() {
		pending.CreatedAt = time.Now().UTC()
	}
	if pending.Status == "" {
		pending.Status = model.StatusPending
	}
	if err := s.orm.WithContext(ctx).Create(&pending).Error; err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) MarkPendingProcessed(ctx context.Context, id string) error {
	_, err := db.Exec(ctx, s.pool, `
UPDATE pending_assets
SET status = 'processed', processed_at = now()
WHERE id = $1
`, id)
	return err
}

var _ Gateway = (*Store)(nil)
