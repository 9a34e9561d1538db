// Command migrate applies the product store schema and seeds the
// legends table with the configured image palettes, so viewers label
// pixel values the same way the renderer painted them.
package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/stationwx/fisb978/internal/config"
	"github.com/stationwx/fisb978/internal/raster"
	"github.com/stationwx/fisb978/internal/store"
	"github.com/stationwx/fisb978/internal/store/migrations"
)

func main() {
	if err := rootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	var rollback bool

	cmd := &cobra.Command{
		Use:          "migrate",
		Short:        "Apply the product store schema",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if rollback {
				return migrate(cfg, true)
			}
			if err := migrate(cfg, false); err != nil {
				return err
			}
			return seedLegends(cfg)
		},
	}

	cmd.Flags().BoolVar(&rollback, "rollback", false, "roll back the last migration")
	return cmd
}

func migrate(cfg *config.Config, rollback bool) error {
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}

	m := migrations.New(db)
	if rollback {
		return m.Rollback(migrations.All)
	}
	return m.Migrate(migrations.All)
}

// seedLegends writes one legends row per palette family, reflecting
// the palette selections in the current configuration.
func seedLegends(cfg *config.Config) error {
	db, err := store.New(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	for _, legend := range raster.NewSet(cfg).Legends() {
		entries, err := json.Marshal(legend.Entries)
		if err != nil {
			return fmt.Errorf("encode legend %s: %w", legend.Name, err)
		}
		if err := db.PutLegend(legend.Name, entries); err != nil {
			return fmt.Errorf("store legend %s: %w", legend.Name, err)
		}
		logrus.WithField("legend", legend.Name).Debug("Legend stored")
	}
	return nil
}
