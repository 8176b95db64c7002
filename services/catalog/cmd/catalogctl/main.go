package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
	"gorm.io/datatypes"

	"catalogd/pkg/db"
	"catalogd/services/catalog/internal/discovery"
	"catalogd/services/catalog/internal/model"
	"catalogd/services/catalog/internal/reconcile"
	"catalogd/services/catalog/internal/store"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "catalogctl",
		Short:         "Operate the catalog discovery service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newDiscoverCommand())
	cmd.AddCommand(newConnectorsCommand())
	return cmd
}

type clients struct {
	gateway *store.Store
	close   func()
}

func openClients(ctx context.Context) (*clients, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		return nil, errors.New("DATABASE_URL is required")
	}

	pool, err := db.Open(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	orm, err := db.OpenORM(dsn)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("open orm: %w", err)
	}

	gateway, err := store.New(orm, pool)
	if err != nil {
		_ = db.CloseORM(orm)
		pool.Close()
		return nil, err
	}

	return &clients{
		gateway: gateway,
		close: func() {
			_ = db.CloseORM(orm)
			pool.Close()
		},
	}, nil
}

func newDiscoverCommand() *cobra.Command {
	var includeDisabled bool

	cmd := &cobra.Command{
		Use:   "discover [connector-id...]",
		Short: "Run a full discovery pass and print per-connector summaries",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			c, err := openClients(ctx)
			if err != nil {
				return err
			}
			defer c.close()

			logger := log.New(os.Stderr, "", 0)
			engine := reconcile.New(c.gateway, discovery.NewRegistry(logger), nil, logger)

			connectors, err := selectConnectors(ctx, c.gateway, args, includeDisabled)
			if err != nil {
				return err
			}
			if len(connectors) == 0 {
				return errors.New("no connectors to process")
			}

			failed := 0
			for _, conn := range connectors {
				summary, err := engine.FullPass(ctx, conn)
				if err != nil {
					failed++
					fmt.Fprintf(os.Stderr, "%s (%s): pass failed: %v\n", conn.Name, conn.ID, err)
					if serr := c.gateway.SetConnectorStatus(ctx, conn.ID, model.StatusError); serr != nil {
						fmt.Fprintf(os.Stderr, "%s (%s): record error status: %v\n", conn.Name, conn.ID, serr)
					}
					continue
				}
				fmt.Printf("%s (%s): discovered=%d new=%d updated=%d removed=%d failed=%d\n",
					conn.Name, conn.ID, summary.Discovered, summary.New, summary.Updated,
					summary.Removed, summary.Failed)
			}

			if failed == len(connectors) {
				return fmt.Errorf("all %d connector(s) failed", failed)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&includeDisabled, "include-disabled", false, "Also run connectors marked disabled")
	return cmd
}

func selectConnectors(ctx context.Context, gateway store.Gateway, ids []string, includeDisabled bool) ([]model.Connector, error) {
	if len(ids) > 0 {
		out := make([]model.Connector, 0, len(ids))
		for _, id := range ids {
			conn, err := gateway.LoadConnector(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("connector %s: %w", id, err)
			}
			out = append(out, conn)
		}
		return out, nil
	}

	connectors, err := gateway.LoadConnectors(ctx)
	if err != nil {
		return nil, err
	}
	if includeDisabled {
		return connectors, nil
	}
	out := connectors[:0]
	for _, conn := range connectors {
		if conn.Enabled {
			out = append(out, conn)
		}
	}
	return out, nil
}

func newConnectorsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "connectors",
		Short: "Connector management operations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newConnectorsSeedCommand())
	cmd.AddCommand(newConnectorsListCommand())
	return cmd
}

// seedFile is the YAML shape read by `connectors seed`.
type seedFile struct {
	Connectors []struct {
		ID      string         `yaml:"id"`
		Name    string         `yaml:"name"`
		Type    string         `yaml:"type"`
		Enabled *bool          `yaml:"enabled"`
		Config  map[string]any `yaml:"config"`
	} `yaml:"connectors"`
}

func newConnectorsSeedCommand() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create or update connectors from a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			raw, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			var seed seedFile
			if err := yaml.Unmarshal(raw, &seed); err != nil {
				return fmt.Errorf("parse %s: %w", file, err)
			}
			if len(seed.Connectors) == 0 {
				return fmt.Errorf("%s defines no connectors", file)
			}

			c, err := openClients(ctx)
			if err != nil {
				return err
			}
			defer c.close()

			registry := discovery.NewRegistry(log.New(os.Stderr, "", 0))
			now := time.Now().UTC()
			for _, entry := range seed.Connectors {
				if entry.Name == "" || entry.Type == "" {
					return fmt.Errorf("connector entries need name and type (got name=%q type=%q)", entry.Name, entry.Type)
				}
				if _, ok := registry.ForType(entry.Type); !ok {
					return fmt.Errorf("connector %s: unsupported type %q", entry.Name, entry.Type)
				}

				conn := model.Connector{
					ID:        entry.ID,
					Name:      entry.Name,
					Type:      entry.Type,
					Status:    model.StatusActive,
					Enabled:   true,
					Config:    datatypes.JSONMap(entry.Config),
					CreatedAt: now,
					UpdatedAt: now,
				}
				if conn.ID == "" {
					conn.ID = uuid.NewString()
				}
				if entry.Enabled != nil {
					conn.Enabled = *entry.Enabled
				}
				if conn.Config == nil {
					conn.Config = datatypes.JSONMap{}
				}

				if err := c.gateway.SaveConnector(ctx, conn); err != nil {
					return fmt.Errorf("save connector %s: %w", conn.Name, err)
				}
				fmt.Printf("seeded %s (%s, type %s)\n", conn.Name, conn.ID, conn.Type)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "YAML file describing connectors")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newConnectorsListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured connectors",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			c, err := openClients(ctx)
			if err != nil {
				return err
			}
			defer c.close()

			connectors, err := c.gateway.LoadConnectors(ctx)
			if err != nil {
				return err
			}
			for _, conn := range connectors {
				lastRun := "never"
				if conn.LastRun != nil {
					lastRun = conn.LastRun.UTC().Format(time.RFC3339)
				}
				fmt.Printf("%s\t%s\t%s\tenabled=%t\tstatus=%s\tassets=%d\tlast_run=%s\n",
					conn.ID, conn.Name, conn.Type, conn.Enabled, conn.Status, conn.AssetsCount, lastRun)
			}
			return nil
		},
	}
}
