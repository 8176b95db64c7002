package model

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// Connector type strings. Adapter dispatch is keyed on these, so they form a
// closed set.
const (
	TypeObjectStore  = "object-store"
	TypeFileShare    = "file-share"
	TypeTableService = "table-service"
	TypeQueueService = "queue-service"
	TypeFileSystem   = "file-system"
)

// Asset lifecycle states. Removal is a soft delete, rows are never erased by
// the discovery engine.
const (
	StatusActive  = "active"
	StatusPending = "pending"
	StatusRemoved = "removed"
)

// StatusError marks a connector whose last discovery pass failed. The
// scheduler keeps retrying it on cadence; the status is informational.
const StatusError = "error"

// Change types carried by pending assets.
const (
	ChangeCreated = "created"
	ChangeUpdated = "updated"
	ChangeRemoved = "removed"
)

const defaultRediscoveryInterval = 5 * time.Minute

// Connector binds one remote source to its credentials and discovery cadence.
type Connector struct {
	ID          string            `gorm:"type:text;primaryKey"`
	Name        string            `gorm:"type:text;not null"`
	Type        string            `gorm:"type:text;not null"`
	Status      string            `gorm:"type:text;default:active"`
	Enabled     bool              `gorm:"not null;default:true"`
	LastRun     *time.Time        `gorm:"type:timestamptz"`
	Config      datatypes.JSONMap `gorm:"type:jsonb"`
	AssetsCount int               `gorm:"not null;default:0"`
	CreatedAt   time.Time         `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	UpdatedAt   time.Time         `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
}

func (Connector) TableName() string { return "connectors" }

// ConfigString returns the first non-empty string value among the given config
// keys. Management surfaces have historically written both snake_case and
// camelCase keys, so callers pass both spellings.
func (c Connector) ConfigString(keys ...string) string {
	for _, key := range keys {
		if v, ok := c.Config[key]; ok {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}

// ConfigStrings returns a string-list config value such as configured_buckets.
func (c Connector) ConfigStrings(key string) []string {
	v, ok := c.Config[key]
	if !ok {
		return nil
	}
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// RediscoveryInterval is the minimum time between scheduled discovery passes
// for this connector, defaulting to five minutes. The config value arrives
// through JSON, so numbers may be float64, json.Number, or strings.
func (c Connector) RediscoveryInterval() time.Duration {
	v, ok := c.Config["rediscovery_interval_minutes"]
	if !ok {
		return defaultRediscoveryInterval
	}

	var minutes float64
	switch n := v.(type) {
	case float64:
		minutes = n
	case int:
		minutes = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return defaultRediscoveryInterval
		}
		minutes = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return defaultRediscoveryInterval
		}
		minutes = parsed
	default:
		return defaultRediscoveryInterval
	}

	if minutes <= 0 {
		return defaultRediscoveryInterval
	}
	return time.Duration(minutes * float64(time.Minute))
}

// Asset is one discovered catalog entry. The ID is a source-derived URI that
// stays stable across repeated discovery of the same remote object and acts as
// the idempotency key for upserts.
type Asset struct {
	ID           string            `gorm:"type:text;primaryKey"`
	Name         string            `gorm:"type:text;not null"`
	Type         string            `gorm:"type:text;not null"`
	Catalog      string            `gorm:"type:text"`
	SchemaName   string            `gorm:"type:text;column:schema_name"`
	SizeBytes    int64             `gorm:"not null;default:0"`
	LastModified time.Time         `gorm:"type:timestamptz"`
	ConnectorID  string            `gorm:"type:text;index;not null"`
	Status       string            `gorm:"type:text;not null;default:active"`
	DiscoveredAt time.Time         `gorm:"type:timestamptz"`
	Metadata     datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt    time.Time         `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	UpdatedAt    time.Time         `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
}

func (Asset) TableName() string { return "assets" }

// Summary reduces an asset to the fields downstream notifications carry.
func (a Asset) Summary() AssetSummary {
	return AssetSummary{ID: a.ID, Name: a.Name, Type: a.Type, Catalog: a.Catalog}
}

// AssetSummary identifies a newly created asset in downstream notifications.
type AssetSummary struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Type    string `json:"type"`
	Catalog string `json:"catalog"`
}

// AssetDescriptor is the adapter-side view of one remote object, before it is
// reconciled into the catalog.
type AssetDescriptor struct {
	ID           string
	Name         string
	Type         string
	Catalog      string
	Schema       string
	SizeBytes    int64
	LastModified time.Time
	Source       string
}

// Asset converts the descriptor into a catalog row owned by connectorID.
func (d AssetDescriptor) Asset(connectorID string, now time.Time) Asset {
	meta := datatypes.JSONMap{}
	if d.Source != "" {
		meta["source_system"] = d.Source
	}
	return Asset{
		ID:           d.ID,
		Name:         d.Name,
		Type:         d.Type,
		Catalog:      d.Catalog,
		SchemaName:   d.Schema,
		SizeBytes:    d.SizeBytes,
		LastModified: d.LastModified,
		ConnectorID:  connectorID,
		Status:       StatusActive,
		DiscoveredAt: now,
		Metadata:     meta,
	}
}

// PendingAsset stages one inbound change notification until the reconciliation
// engine consumes it. Rows stay behind as an audit trail after processing.
type PendingAsset struct {
	ID              string            `gorm:"type:text;primaryKey"`
	Name            string            `gorm:"type:text;not null"`
	Type            string            `gorm:"type:text;not null"`
	Catalog         string            `gorm:"type:text"`
	ConnectorID     string            `gorm:"type:text;not null;index"`
	ChangeType      string            `gorm:"type:text;not null"`
	SourceEventType string            `gorm:"type:text;not null"`
	AssetID         string            `gorm:"type:text;not null;index"`
	AssetData       datatypes.JSONMap `gorm:"type:jsonb"`
	Status          string            `gorm:"type:text;not null;default:pending"`
	CreatedAt       time.Time         `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	ProcessedAt     *time.Time        `gorm:"type:timestamptz"`
}

func (PendingAsset) TableName() string { return "pending_assets" }
