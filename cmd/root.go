package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/geoclip/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "geoclip",
	Short: "Point-in-polygon filtering and per-polygon aggregation",
	Long:  "Loads point and polygon layers from GeoJSON or shapefiles, keeps the points inside the polygons, and reduces point attributes per polygon.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return cfg.Validate("cli")
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
