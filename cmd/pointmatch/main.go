// Command pointmatch finds every placement of a model point set inside a
// space point set and writes the matching space transforms.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/banshee-data/pointmatch/internal/match"
	"github.com/banshee-data/pointmatch/internal/version"
)

// Exit codes.
const (
	exitOK         = 0
	exitError      = 1
	exitValidation = 2
)

func main() {
	flag.Usage = func() { printUsage(os.Stderr) }
	flag.Parse()

	if flag.NArg() < 1 {
		printUsage(os.Stderr)
		os.Exit(exitError)
	}
	os.Exit(run(flag.Arg(0), flag.Args()[1:], os.Stdout, os.Stderr))
}

func run(command string, args []string, stdout, stderr io.Writer) int {
	var err error
	switch command {
	case "match":
		err = handleMatch(args, stdout)
	case "serve":
		err = handleServe(args, stdout)
	case "runs":
		err = handleRuns(args, stdout)
	case "version":
		fmt.Fprintln(stdout, version.Get())
	case "help":
		printUsage(stdout)
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n\n", command)
		printUsage(stderr)
		return exitError
	}

	if err == nil || errors.Is(err, flag.ErrHelp) {
		return exitOK
	}
	fmt.Fprintf(stderr, "pointmatch %s: %v\n", command, err)
	var ve *match.InputValidationError
	if errors.As(err, &ve) {
		return exitValidation
	}
	return exitError
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `pointmatch - find rigid placements of a model point set in a space point set

Usage: pointmatch <command> [options]

Commands:
  match      Match a model file against a space file and write the results
  serve      Run the HTTP API (and optionally cycle through the latest matches)
  runs       List persisted match runs, or show one with --id
  version    Show pointmatch version
  help       Show this help message

Common Flags:
  --config <file>      JSON config file (flags override its values)
  --tolerance <d>      Match distance, inclusive (default 0.1)
  --index <kind>       auto, linear, grid or kdtree (default auto)
  --workers <n>        Parallel candidate workers (default 1)
  --empty-model <p>    reject or match-all (default reject)
  --db <file>          SQLite database for run history
  --log-json           Structured JSON logs

Examples:
  pointmatch match --model model.json --space space.json --out results
  pointmatch match --model model.json --space space.json --out - --format trs
  pointmatch serve --listen :8080 --db pointmatch.db --cycle
  pointmatch runs --db pointmatch.db --limit 10`)
}
