package main

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/geoclip/internal/geoio"
	"github.com/sells-group/geoclip/internal/spatial"
	"github.com/sells-group/geoclip/internal/store"
)

// initStore opens the configured run store. It returns nil when no driver
// is configured.
func initStore(ctx context.Context) (store.Store, error) {
	return store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL, &store.PoolConfig{
		MaxConns: cfg.Store.MaxConns,
		MinConns: cfg.Store.MinConns,
	})
}

// requireStore is initStore for commands that cannot work without one.
func requireStore(ctx context.Context) (store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, eris.New("no run store configured (set GEOCLIP_STORE_DRIVER)")
	}
	return st, nil
}

// addLayerFlags registers the flags shared by filter, assign and aggregate.
func addLayerFlags(cmd *cobra.Command) {
	cmd.Flags().String("points", "", "points layer (.geojson, .json or .shp)")
	cmd.Flags().String("polygons", "", "polygons layer (.geojson, .json or .shp)")
	cmd.Flags().Int("srid", 0, "SRID to stamp on both layers (default from config)")
	cmd.Flags().String("charset", "", "DBF charset when a shapefile has no .cpg (default from config)")
	cmd.Flags().Int("workers", 0, "containment workers (default from config)")
	cmd.Flags().StringP("out", "o", "", "output file (default stdout)")
	_ = cmd.MarkFlagRequired("points")
	_ = cmd.MarkFlagRequired("polygons")
}

type layers struct {
	PointsPath   string
	PolygonsPath string
	Points       []spatial.PointFeature
	Polygons     []spatial.PolygonFeature
	Workers      int
}

// loadLayers reads both layers concurrently using flag values, falling
// back to the spatial config section.
func loadLayers(cmd *cobra.Command) (*layers, error) {
	l := &layers{}
	l.PointsPath, _ = cmd.Flags().GetString("points")
	l.PolygonsPath, _ = cmd.Flags().GetString("polygons")
	srid, _ := cmd.Flags().GetInt("srid")
	charset, _ := cmd.Flags().GetString("charset")
	l.Workers, _ = cmd.Flags().GetInt("workers")

	if srid == 0 {
		srid = cfg.Spatial.SRID
	}
	if charset == "" {
		charset = cfg.Spatial.Charset
	}
	if l.Workers < 1 {
		l.Workers = cfg.Spatial.Workers
	}
	opts := geoio.Options{SRID: srid, Charset: charset}

	var g errgroup.Group
	g.Go(func() error {
		var err error
		l.Points, err = geoio.LoadPoints(l.PointsPath, opts)
		return err
	})
	g.Go(func() error {
		var err error
		l.Polygons, err = geoio.LoadPolygons(l.PolygonsPath, opts)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return l, nil
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// openOutput returns stdout for "" or "-", otherwise creates path.
func openOutput(cmd *cobra.Command, path string) (io.WriteCloser, error) {
	if path == "" || path == "-" {
		return nopCloser{cmd.OutOrStdout()}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, eris.Wrapf(err, "create output dir for %s", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, eris.Wrapf(err, "create %s", path)
	}
	return f, nil
}
