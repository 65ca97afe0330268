package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/pointmatch/internal/api"
	"github.com/banshee-data/pointmatch/internal/cycle"
	"github.com/banshee-data/pointmatch/internal/db"
	"github.com/banshee-data/pointmatch/internal/fsutil"
	"github.com/banshee-data/pointmatch/internal/match"
	"github.com/banshee-data/pointmatch/internal/monitoring"
	"github.com/banshee-data/pointmatch/internal/timeutil"
	"github.com/banshee-data/pointmatch/internal/transformio"
)

const shutdownTimeout = 5 * time.Second

func handleServe(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	var common commonFlags
	common.register(fs)
	listen := fs.String("listen", ":8080", "HTTP listen address")
	modelPath := fs.String("model", "", "model file to match at startup")
	spacePath := fs.String("space", "", "space file to match at startup")
	cycleMatches := fs.Bool("cycle", false, "step through the latest matches on the animate/dwell timer")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := common.matchConfig(fs)
	if err != nil {
		return err
	}
	flush, err := common.setupLogging()
	if err != nil {
		return err
	}
	defer flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mux := http.NewServeMux()
	var store *db.RunStore
	if common.dbPath != "" || cfg.GetPersist() {
		database, err := db.OpenDB(cfg.GetDBPath())
		if err != nil {
			return err
		}
		defer database.Close()
		if err := database.AttachAdminRoutes(mux); err != nil {
			return err
		}
		store = db.NewRunStore(database, nil)
	}

	srv := api.NewServer(cfg, store)
	mux.Handle("/api/", srv.ServeMux())

	if *modelPath != "" || *spacePath != "" {
		model, space, err := transformio.NewSource(fsutil.OSFileSystem{}).LoadPair(*modelPath, *spacePath)
		if err != nil {
			return err
		}
		res, err := match.NewEngine(cfg.EngineOptions()).FindMatchesContext(ctx, model, space, cfg.GetTolerance())
		if err != nil {
			return err
		}
		srv.SetResult(res, "")
		monitoring.Logf("preloaded %d matches", len(res.Matches))
	}

	httpServer := &http.Server{
		Addr:              *listen,
		Handler:           api.LoggingMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		fmt.Fprintf(stdout, "listening on %s\n", *listen)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	if *cycleMatches {
		g.Go(func() error {
			err := srv.Cycler().Run(gctx, timeutil.RealClock{}, cfg.GetCycleAnimate(), cfg.GetCycleDwell(), logStep)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}
	return g.Wait()
}

func logStep(s cycle.Step) {
	p := s.Match.Transform.Position()
	monitoring.Logf("cycle: match %d (space %d) at (%g, %g, %g)", s.Ordinal, s.Match.SpaceIndex, p[0], p[1], p[2])
}
