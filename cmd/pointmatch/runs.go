package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/banshee-data/pointmatch/internal/db"
)

func handleRuns(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	dbPath := fs.String("db", "pointmatch.db", "SQLite database path")
	limit := fs.Int("limit", 20, "maximum runs to list")
	id := fs.String("id", "", "show the matches of one run")
	if err := fs.Parse(args); err != nil {
		return err
	}

	database, err := db.OpenDB(*dbPath)
	if err != nil {
		return err
	}
	defer database.Close()
	store := db.NewRunStore(database, nil)
	ctx := context.Background()

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	defer tw.Flush()

	if *id != "" {
		matches, err := store.ListMatches(ctx, *id)
		if err != nil {
			return err
		}
		fmt.Fprintln(tw, "ORDINAL\tSPACE\tX\tY\tZ")
		for i, m := range matches {
			p := m.Transform.Position()
			fmt.Fprintf(tw, "%d\t%d\t%g\t%g\t%g\n", i, m.SpaceIndex, p[0], p[1], p[2])
		}
		return nil
	}

	runs, err := store.ListRuns(ctx, *limit)
	if err != nil {
		return err
	}
	fmt.Fprintln(tw, "RUN\tCREATED\tMODEL\tSPACE\tMATCHES\tTOLERANCE\tINDEX\tELAPSED")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%g\t%s\t%s\n",
			r.ID, r.CreatedAt.Format(time.RFC3339), r.ModelCount, r.SpaceCount,
			r.MatchCount, r.Tolerance, r.Index, r.Elapsed)
	}
	return nil
}
