package main

import (
	"context"
	"flag"
	"os"
	"runtime/pprof"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/osm2pgsql-dev/osm2pgsql-sub000/internal/cache/node"
	"github.com/osm2pgsql-dev/osm2pgsql-sub000/internal/config"
	"github.com/osm2pgsql-dev/osm2pgsql-sub000/internal/expire"
	"github.com/osm2pgsql-dev/osm2pgsql-sub000/internal/importer"
	"github.com/osm2pgsql-dev/osm2pgsql-sub000/internal/mapping"
	"github.com/osm2pgsql-dev/osm2pgsql-sub000/internal/middle"
	"github.com/osm2pgsql-dev/osm2pgsql-sub000/internal/osmio"
	"github.com/osm2pgsql-dev/osm2pgsql-sub000/internal/output"
	"github.com/osm2pgsql-dev/osm2pgsql-sub000/internal/pgcopy"
	"github.com/osm2pgsql-dev/osm2pgsql-sub000/internal/proj"
	"github.com/osm2pgsql-dev/osm2pgsql-sub000/internal/stats"
)

var (
	cpuprofile    = flag.String("cpuprofile", "", "filename of cpu profile output")
	read          = flag.String("read", "", "OSM PBF file to import")
	connection    = flag.String("connection", "", "database connection parameters")
	prefix        = flag.String("prefix", "planet_osm", "table name prefix")
	srid          = flag.Int("srid", 3857, "output projection SRID (4326 or 3857)")
	scale         = flag.Int("scale", node.DefaultScale, "fixed-point scale of the node caches")
	slim          = flag.Bool("slim", false, "store ways and relations in database tables")
	appendMode    = flag.Bool("append", false, "apply a change file to an existing slim import")
	cacheMB       = flag.Uint("cache", 800, "node cache size in MiB")
	cacheStrategy = flag.String("cache-strategy", "dense-and-sparse", "node cache layout: dense, sparse or dense-and-sparse")
	cacheChunked  = flag.Bool("cache-chunked", false, "allocate the dense node cache block-wise")
	cacheLossy    = flag.Bool("cache-lossy", false, "drop least-used cache blocks when full instead of failing")
	flatNodes     = flag.String("flat-nodes", "", "file-backed node cache (required for append)")
	styleFile     = flag.String("style", "", "YAML tag mapping file (empty: built-in style)")
	expireZoom    = flag.Int("expire-tiles", -1, "zoom level for tile expiry (-1: off)")
	expireMinZoom = flag.Int("expire-tiles-min", -1, "minimum zoom for the expiry list")
	expireFile    = flag.String("expire-output", "dirty_tiles", "file for the expired tile list")
)

func buildLogger() *zap.Logger {
	logConfig := zap.NewDevelopmentConfig()
	logConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	logConfig.DisableStacktrace = true
	logConfig.DisableCaller = true
	return zap.Must(logConfig.Build())
}

func main() {
	flag.Parse()

	log := buildLogger()
	defer log.Sync()
	log = log.Named("osm2pgsql")

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			log.Fatal("cpu profile", zap.Error(err))
		}
		pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()
	}

	opts := config.Defaults()
	opts.Conninfo = *connection
	opts.Prefix = *prefix
	opts.ProjectionSRID = *srid
	opts.Scale = int32(*scale)
	opts.Slim = *slim
	opts.Append = *appendMode
	opts.RAMBudgetMB = uint32(*cacheMB)
	opts.DenseChunked = *cacheChunked
	opts.Lossy = *cacheLossy
	opts.StyleFile = *styleFile
	opts.NodeCacheFile = *flatNodes
	opts.ExpireTilesZoom = *expireZoom
	opts.ExpireTilesZoomMin = *expireMinZoom
	opts.ExpireTilesFile = *expireFile

	switch *cacheStrategy {
	case "dense":
		opts.Strategy = node.Dense
	case "sparse":
		opts.Strategy = node.Sparse
	case "dense-and-sparse":
		opts.Strategy = node.DenseAndSparse
	default:
		log.Fatal("unknown cache strategy", zap.String("strategy", *cacheStrategy))
	}

	if *read == "" {
		log.Fatal("no input file, use -read")
	}
	if err := opts.Validate(); err != nil {
		log.Fatal("invalid options", zap.Error(err))
	}

	if err := run(log, opts, *read); err != nil {
		log.Fatal("import failed", zap.Error(err))
	}
}

func run(log *zap.Logger, opts config.Options, input string) error {
	ctx := context.Background()

	projection, err := proj.For(opts.ProjectionSRID)
	if err != nil {
		return err
	}

	tagMapping, err := mapping.Load(opts.StyleFile)
	if err != nil {
		return err
	}

	cache := node.New(log, node.Config{
		Strategy:     opts.Strategy,
		DenseChunked: opts.DenseChunked,
		Lossy:        opts.Lossy,
		RAMBudgetMB:  opts.RAMBudgetMB,
		Scale:        opts.Scale,
	})

	var persistent *node.PersistentCache
	if opts.NodeCacheFile != "" {
		persistent, err = node.OpenPersistentCache(log, opts.NodeCacheFile, opts.Append, opts.Scale)
		if err != nil {
			return err
		}
	}

	var mid middle.Middle
	if opts.Slim {
		mid, err = middle.NewSlim(ctx, log, middle.SlimConfig{
			Conninfo: opts.Conninfo,
			Prefix:   opts.Prefix,
			Append:   opts.Append,
		}, cache, persistent)
		if err != nil {
			return err
		}
	} else {
		mid = middle.NewRAM(log, cache, persistent)
	}

	// The output writer owns its own connection; the middle never touches
	// it.
	exec, err := pgcopy.Connect(ctx, opts.Conninfo)
	if err != nil {
		return err
	}
	thread := pgcopy.NewThread(log, exec)
	mgr := pgcopy.NewManager(thread)

	var expirer *expire.Tracker
	if opts.ExpireTilesZoom >= 0 {
		minZoom := opts.ExpireTilesZoomMin
		if minZoom < 0 {
			minZoom = opts.ExpireTilesZoom
		}
		expirer = expire.NewTracker(log, opts.ExpireTilesZoom, minZoom, opts.ExpireTilesFile)
	}

	out := output.NewPgSQL(log, mgr, output.Config{
		Prefix:     opts.Prefix,
		Append:     opts.Append,
		Projection: projection,
		Mapping:    tagMapping,
		Expirer:    expirer,
	})
	if !opts.Append {
		out.CreateTables()
	}

	progress := stats.NewProgress(log)

	imp := importer.New(log, mid, out, tagMapping, progress, opts.Append)

	if err := osmio.ReadPBF(log, input, imp); err != nil {
		return err
	}
	if err := imp.Finish(); err != nil {
		return err
	}

	if err := mid.Close(); err != nil {
		return err
	}
	thread.Finish()
	progress.Stop()

	if expirer != nil {
		if err := expirer.Stop(); err != nil {
			return err
		}
	}
	return nil
}
