package match

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/pointmatch/internal/rigid"
)

// EmptyModelPolicy decides what an empty model set means.
type EmptyModelPolicy string

const (
	// EmptyModelReject treats an empty model as an InputValidationError.
	EmptyModelReject EmptyModelPolicy = "reject"
	// EmptyModelMatchAll applies vacuous truth: every space transform matches.
	EmptyModelMatchAll EmptyModelPolicy = "match-all"
)

// ParseEmptyModelPolicy validates a user-supplied policy name. The empty
// string maps to EmptyModelReject.
func ParseEmptyModelPolicy(s string) (EmptyModelPolicy, error) {
	switch p := EmptyModelPolicy(s); p {
	case "":
		return EmptyModelReject, nil
	case EmptyModelReject, EmptyModelMatchAll:
		return p, nil
	default:
		return "", fmt.Errorf("unknown empty-model policy %q (want reject or match-all)", s)
	}
}

// cancelCheckInterval is how many candidates are evaluated between context
// checks.
const cancelCheckInterval = 256

// Options configures an Engine. The zero value is a single-threaded engine
// with automatic index selection that rejects empty models.
type Options struct {
	Index        IndexKind
	GridCellSize float64
	Workers      int
	EmptyModel   EmptyModelPolicy
}

// Match is one accepted anchor: the space transform and its position in the
// space set.
type Match struct {
	SpaceIndex int
	Transform  rigid.Transform
}

// MatchList is the ordered output of a matching pass, in space order.
type MatchList []Match

// Empty reports whether no candidate matched. An empty list is a valid
// outcome, not a failure.
func (l MatchList) Empty() bool { return len(l) == 0 }

// Transforms returns the matched space transforms in order.
func (l MatchList) Transforms() []rigid.Transform {
	out := make([]rigid.Transform, len(l))
	for i, m := range l {
		out[i] = m.Transform
	}
	return out
}

// Indices returns the space indices of the matches in order.
func (l MatchList) Indices() []int {
	out := make([]int, len(l))
	for i, m := range l {
		out[i] = m.SpaceIndex
	}
	return out
}

// Result is a completed matching pass.
type Result struct {
	Matches    MatchList
	ModelCount int
	SpaceCount int
	Tolerance  float64
	Index      IndexKind
	Workers    int
	Elapsed    time.Duration
}

// Engine runs matching passes. It holds no state between passes and is safe
// for concurrent use.
type Engine struct {
	opts Options
}

// NewEngine returns an Engine with the given options.
func NewEngine(opts Options) *Engine {
	if opts.Index == "" {
		opts.Index = IndexAuto
	}
	if opts.EmptyModel == "" {
		opts.EmptyModel = EmptyModelReject
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Engine{opts: opts}
}

// Options returns the engine's effective options.
func (e *Engine) Options() Options { return e.opts }

// FindMatches runs a matching pass with default options and returns only
// the match list.
func FindMatches(model, space []rigid.Transform, tolerance float64) (MatchList, error) {
	res, err := NewEngine(Options{}).FindMatches(model, space, tolerance)
	if err != nil {
		return nil, err
	}
	return res.Matches, nil
}

// FindMatches runs a matching pass without cancellation.
func (e *Engine) FindMatches(model, space []rigid.Transform, tolerance float64) (*Result, error) {
	return e.FindMatchesContext(context.Background(), model, space, tolerance)
}

// FindMatchesContext returns every space transform c such that, with the
// model re-anchored at c, each model point lies within tolerance of some
// space point. Matches keep space order. The inputs are only read.
func (e *Engine) FindMatchesContext(ctx context.Context, model, space []rigid.Transform, tolerance float64) (*Result, error) {
	start := time.Now()
	res := &Result{
		Matches:    MatchList{},
		ModelCount: len(model),
		SpaceCount: len(space),
		Tolerance:  tolerance,
		Workers:    e.opts.Workers,
	}

	// Nothing can match an empty space, whatever the other inputs are.
	if len(space) == 0 {
		res.Index = e.opts.Index
		res.Elapsed = time.Since(start)
		return res, nil
	}

	if err := validateInputs(model, space, tolerance, e.opts.EmptyModel); err != nil {
		return nil, err
	}

	if len(model) == 0 {
		// Vacuous truth under EmptyModelMatchAll.
		res.Index = e.opts.Index
		res.Matches = make(MatchList, len(space))
		for i, c := range space {
			res.Matches[i] = Match{SpaceIndex: i, Transform: c}
		}
		res.Elapsed = time.Since(start)
		return res, nil
	}

	positions := make([]mgl64.Vec3, len(space))
	for i, s := range space {
		positions[i] = s.Position()
	}
	index, err := NewPointIndex(e.opts.Index, positions, tolerance, e.opts.GridCellSize)
	if err != nil {
		return nil, err
	}
	res.Index = index.Kind()

	local := localOffsets(model)

	workers := e.opts.Workers
	if workers > len(space) {
		workers = len(space)
	}
	res.Workers = workers

	var matches MatchList
	if workers <= 1 {
		matches, err = scanRange(ctx, space, 0, len(space), local, index)
	} else {
		matches, err = scanParallel(ctx, space, workers, local, index)
	}
	if err != nil {
		return nil, err
	}
	res.Matches = matches
	res.Elapsed = time.Since(start)
	return res, nil
}

// localOffsets expresses every model position in the frame of model[0],
// which is the model's canonical origin. Re-anchoring at c then reduces to
// c.Apply(offset).
func localOffsets(model []rigid.Transform) []mgl64.Vec3 {
	toLocal := model[0].Inverse()
	out := make([]mgl64.Vec3, len(model))
	for i, m := range model {
		out[i] = toLocal.Apply(m.Position())
	}
	return out
}

// isMatch re-anchors the model at c and stops at the first model point with
// no space point in range.
func isMatch(c rigid.Transform, local []mgl64.Vec3, index PointIndex) bool {
	for _, off := range local {
		if !index.WithinTolerance(c.Apply(off)) {
			return false
		}
	}
	return true
}

func scanRange(ctx context.Context, space []rigid.Transform, from, to int, local []mgl64.Vec3, index PointIndex) (MatchList, error) {
	out := MatchList{}
	for i := from; i < to; i++ {
		if (i-from)%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if isMatch(space[i], local, index) {
			out = append(out, Match{SpaceIndex: i, Transform: space[i]})
		}
	}
	return out, nil
}

// scanParallel splits the candidates into contiguous chunks, one per worker.
// Each chunk result is already in index order, so concatenating chunks in
// order restores space order.
func scanParallel(ctx context.Context, space []rigid.Transform, workers int, local []mgl64.Vec3, index PointIndex) (MatchList, error) {
	chunk := (len(space) + workers - 1) / workers
	parts := make([]MatchList, workers)

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		from := w * chunk
		to := min(from+chunk, len(space))
		if from >= to {
			continue
		}
		g.Go(func() error {
			part, err := scanRange(gctx, space, from, to, local, index)
			if err != nil {
				return err
			}
			parts[w] = part
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	total := 0
	for _, p := range parts {
		total += len(p)
	}
	out := make(MatchList, 0, total)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out, nil
}

func validateInputs(model, space []rigid.Transform, tolerance float64, policy EmptyModelPolicy) error {
	if math.IsNaN(tolerance) || math.IsInf(tolerance, 0) || tolerance < 0 {
		return &InputValidationError{
			Input:  InputTolerance,
			Index:  -1,
			Reason: fmt.Sprintf("must be finite and >= 0, got %v", tolerance),
		}
	}
	if len(model) == 0 && policy != EmptyModelMatchAll {
		return &InputValidationError{Input: InputModel, Index: -1, Reason: "model set is empty"}
	}
	for i, m := range model {
		if err := m.Validate(); err != nil {
			return &InputValidationError{Input: InputModel, Index: i, Err: err}
		}
	}
	for i, s := range space {
		if err := s.Validate(); err != nil {
			return &InputValidationError{Input: InputSpace, Index: i, Err: err}
		}
	}
	return nil
}
