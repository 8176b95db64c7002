package migrations

import (
	"context"
	"database/sql"
	"time"

	"github.com/pressly/goose/v3"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

func init() {
	goose.AddMigrationContext(upInit, downInit)
}

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

func upInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return err
	}

	return gormDB.WithContext(ctx).AutoMigrate(
		&Connector{},
		&Asset{},
		&PendingAsset{},
	)
}

func downInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return err
	}

	return gormDB.WithContext(ctx).Migrator().DropTable(
		&PendingAsset{},
		&Asset{},
		&Connector{},
	)
}
