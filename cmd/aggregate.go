package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/geoclip/internal/export"
	"github.com/sells-group/geoclip/internal/spatial"
	"github.com/sells-group/geoclip/internal/store"
)

var aggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Reduce point attributes per polygon",
	Long:  "Groups contained points by owning polygon and applies a reducer (count, sum, mean, min, max, median). Emits one record per polygon.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		reducerName, _ := cmd.Flags().GetString("reducer")
		attribute, _ := cmd.Flags().GetString("attribute")
		reducer, err := spatial.ParseReducer(reducerName, attribute)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("default") {
			def, _ := cmd.Flags().GetFloat64("default")
			reducer = reducer.WithDefault(def)
		}

		outPath, _ := cmd.Flags().GetString("out")
		formatName, _ := cmd.Flags().GetString("format")
		format := export.FormatFromPath(outPath)
		if formatName != "" {
			if format, err = export.ParseFormat(formatName); err != nil {
				return err
			}
		}

		label, _ := cmd.Flags().GetString("label")
		if label == "" {
			label = cfg.Spatial.LabelAttribute
		}

		save, _ := cmd.Flags().GetBool("save")
		var st store.Store
		if save {
			if st, err = requireStore(ctx); err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck
		}

		l, err := loadLayers(cmd)
		if err != nil {
			return err
		}

		records, err := spatial.Aggregate(l.Points, l.Polygons, reducer, spatial.WithWorkers(l.Workers))
		if err != nil {
			return eris.Wrap(err, "aggregate")
		}

		out, err := openOutput(cmd, outPath)
		if err != nil {
			return err
		}
		if err := export.Write(out, format, records, export.Options{LabelAttribute: label, Reducer: reducer.String()}); err != nil {
			out.Close() //nolint:errcheck
			return err
		}
		if err := out.Close(); err != nil {
			return eris.Wrap(err, "aggregate: close output")
		}

		log := zap.L().With(zap.String("reducer", reducer.String()), zap.Int("polygons", len(records)))
		if st != nil {
			run, err := store.NewRun(reducer, store.Source{
				Points:         l.PointsPath,
				Polygons:       l.PolygonsPath,
				LabelAttribute: label,
			}, len(l.Points), records)
			if err != nil {
				return err
			}
			if err := st.SaveRun(ctx, run); err != nil {
				return eris.Wrap(err, "aggregate: save run")
			}
			log = log.With(zap.String("run_id", run.ID))
		}
		log.Info("aggregate complete", zap.Int("matched", spatial.Matched(records)))
		return nil
	},
}

func init() {
	addLayerFlags(aggregateCmd)
	aggregateCmd.Flags().String("reducer", "count", "count, sum, mean, min, max or median")
	aggregateCmd.Flags().String("attribute", "", "numeric point attribute to reduce (not used by count)")
	aggregateCmd.Flags().Float64("default", 0, "value for polygons with no points (omit to fail instead)")
	aggregateCmd.Flags().String("label", "", "polygon attribute written as the label")
	aggregateCmd.Flags().String("format", "", "json, csv, geojson or xlsx (default from --out extension)")
	aggregateCmd.Flags().Bool("save", false, "save the result to the run store")
	rootCmd.AddCommand(aggregateCmd)
}
