package main

import (
	"encoding/json"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/geoclip/internal/spatial"
)

type assignment struct {
	Point   int    `json:"point"`
	Polygon int    `json:"polygon"`
	Label   string `json:"label,omitempty"`
}

var assignCmd = &cobra.Command{
	Use:   "assign",
	Short: "Report which polygon owns each point",
	Long:  "Writes one JSON object per point; polygon is -1 when no polygon contains it. Overlaps go to the first polygon.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		l, err := loadLayers(cmd)
		if err != nil {
			return err
		}

		owners, err := spatial.Assign(l.Points, l.Polygons, spatial.WithWorkers(l.Workers))
		if err != nil {
			return eris.Wrap(err, "assign")
		}

		label, _ := cmd.Flags().GetString("label")
		if label == "" {
			label = cfg.Spatial.LabelAttribute
		}

		outPath, _ := cmd.Flags().GetString("out")
		out, err := openOutput(cmd, outPath)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(out)
		for i, owner := range owners {
			a := assignment{Point: i, Polygon: owner}
			if owner >= 0 {
				a.Label = l.Polygons[owner].Label(label)
			}
			if err := enc.Encode(a); err != nil {
				out.Close() //nolint:errcheck
				return eris.Wrap(err, "assign: encode")
			}
		}
		return out.Close()
	},
}

func init() {
	addLayerFlags(assignCmd)
	assignCmd.Flags().String("label", "", "polygon attribute to print as the owner label")
	rootCmd.AddCommand(assignCmd)
}
