package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/geoclip/internal/export"
	"github.com/sells-group/geoclip/internal/spatial"
)

var filterCmd = &cobra.Command{
	Use:   "filter",
	Short: "Keep the points that fall inside any polygon",
	Long:  "Writes the contained points, in input order, as a GeoJSON FeatureCollection.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		l, err := loadLayers(cmd)
		if err != nil {
			return err
		}

		kept, err := spatial.Filter(l.Points, l.Polygons, spatial.WithWorkers(l.Workers))
		if err != nil {
			return eris.Wrap(err, "filter")
		}

		outPath, _ := cmd.Flags().GetString("out")
		out, err := openOutput(cmd, outPath)
		if err != nil {
			return err
		}
		if err := export.WritePointsGeoJSON(out, kept); err != nil {
			out.Close() //nolint:errcheck
			return err
		}

		zap.L().Info("filter complete",
			zap.Int("points", len(l.Points)),
			zap.Int("kept", len(kept)),
			zap.String("out", outPath))
		return out.Close()
	},
}

func init() {
	addLayerFlags(filterCmd)
	rootCmd.AddCommand(filterCmd)
}
