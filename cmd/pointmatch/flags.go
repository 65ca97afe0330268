package main

import (
	"flag"
	"fmt"

	"github.com/banshee-data/pointmatch/internal/config"
	"github.com/banshee-data/pointmatch/internal/monitoring"
)

// commonFlags are shared by the subcommands that run or store matches.
// Only flags given on the command line override the config file.
type commonFlags struct {
	configPath   string
	tolerance    float64
	index        string
	gridCellSize float64
	workers      int
	emptyModel   string
	format       string
	dbPath       string
	logJSON      bool
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", "", "JSON config file")
	fs.Float64Var(&c.tolerance, "tolerance", 0.1, "match distance (inclusive)")
	fs.StringVar(&c.index, "index", "auto", "point index: auto, linear, grid, kdtree")
	fs.Float64Var(&c.gridCellSize, "grid-cell", 0, "grid index cell size (0 = derive from tolerance)")
	fs.IntVar(&c.workers, "workers", 1, "parallel candidate workers")
	fs.StringVar(&c.emptyModel, "empty-model", "reject", "empty model policy: reject, match-all")
	fs.StringVar(&c.format, "format", "matrix", "output format: matrix, rowmajor, trs")
	fs.StringVar(&c.dbPath, "db", "", "SQLite database path")
	fs.BoolVar(&c.logJSON, "log-json", false, "structured JSON logs")
}

// matchConfig layers defaults, the config file and explicitly set flags.
func (c *commonFlags) matchConfig(fs *flag.FlagSet) (*config.MatchConfig, error) {
	cfg := config.DefaultMatchConfig()
	if c.configPath != "" {
		fileCfg, err := config.LoadMatchConfig(c.configPath)
		if err != nil {
			return nil, err
		}
		cfg.Merge(fileCfg)
	}

	set := &config.MatchConfig{}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "tolerance":
			set.Tolerance = &c.tolerance
		case "index":
			set.Index = &c.index
		case "grid-cell":
			set.GridCellSize = &c.gridCellSize
		case "workers":
			set.Workers = &c.workers
		case "empty-model":
			set.EmptyModel = &c.emptyModel
		case "format":
			set.OutputFormat = &c.format
		case "db":
			set.DBPath = &c.dbPath
		}
	})
	cfg.Merge(set)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid flags: %w", err)
	}
	return cfg, nil
}

// setupLogging installs the zap logger when JSON logs are requested. The
// returned func flushes it.
func (c *commonFlags) setupLogging() (func(), error) {
	if !c.logJSON {
		return func() {}, nil
	}
	logger, err := monitoring.NewZapLogger(true)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	monitoring.UseZap(logger)
	return func() { _ = logger.Sync() }, nil
}
