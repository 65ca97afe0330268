package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/banshee-data/pointmatch/internal/config"
	"github.com/banshee-data/pointmatch/internal/db"
	"github.com/banshee-data/pointmatch/internal/fsutil"
	"github.com/banshee-data/pointmatch/internal/match"
	"github.com/banshee-data/pointmatch/internal/monitoring"
	"github.com/banshee-data/pointmatch/internal/transformio"
)

// runParams are recorded with a persisted run.
type runParams struct {
	Model  string              `json:"model"`
	Space  string              `json:"space"`
	Config *config.MatchConfig `json:"config"`
}

func handleMatch(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("match", flag.ContinueOnError)
	var common commonFlags
	common.register(fs)
	modelPath := fs.String("model", "", "model transform file (required)")
	spacePath := fs.String("space", "", "space transform file (required)")
	outDir := fs.String("out", "", "output directory, or - for stdout")
	name := fs.String("name", transformio.DefaultResultName, "result file name")
	persist := fs.Bool("persist", false, "record the run in the database")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *modelPath == "" || *spacePath == "" {
		return fmt.Errorf("--model and --space are required")
	}

	cfg, err := common.matchConfig(fs)
	if err != nil {
		return err
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "out":
			cfg.OutputDir = outDir
		case "persist":
			cfg.Persist = persist
		}
	})

	flush, err := common.setupLogging()
	if err != nil {
		return err
	}
	defer flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	model, space, err := transformio.NewSource(fsutil.OSFileSystem{}).LoadPair(*modelPath, *spacePath)
	if err != nil {
		return err
	}

	res, err := match.NewEngine(cfg.EngineOptions()).FindMatchesContext(ctx, model, space, cfg.GetTolerance())
	if err != nil {
		return err
	}
	monitoring.Logf("matched %d of %d space transforms (model %d, tolerance %g, index %s, %s)",
		len(res.Matches), res.SpaceCount, res.ModelCount, res.Tolerance, res.Index, res.Elapsed)

	if cfg.GetOutputDir() == "-" {
		if err := transformio.Encode(stdout, res.Matches.Transforms(), cfg.GetOutputFormat()); err != nil {
			return err
		}
		fmt.Fprintln(stdout)
	} else {
		sink := transformio.NewSink(fsutil.OSFileSystem{}, cfg.GetOutputDir(), cfg.GetOutputFormat())
		path, err := sink.Write(*name, res.Matches)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "%d matches written to %s\n", len(res.Matches), path)
	}

	if !cfg.GetPersist() {
		return nil
	}
	database, err := db.OpenDB(cfg.GetDBPath())
	if err != nil {
		return err
	}
	defer database.Close()

	run, err := db.NewRunStore(database, nil).InsertRun(ctx, res, runParams{Model: *modelPath, Space: *spacePath, Config: cfg})
	if err != nil {
		return err
	}
	monitoring.Logf("recorded run %s in %s", run.ID, database.Path())
	if cfg.GetOutputDir() != "-" {
		fmt.Fprintf(stdout, "run %s\n", run.ID)
	}
	return nil
}
