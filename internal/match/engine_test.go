package match

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/pointmatch/internal/rigid"
)

func tr(x, y, z float64) rigid.Transform { return rigid.FromTranslation(x, y, z) }

func rotZ(t *testing.T, angle float64, x, y, z float64) rigid.Transform {
	t.Helper()
	q := mgl64.QuatRotate(angle, mgl64.Vec3{0, 0, 1})
	out, err := rigid.FromTranslationQuat(mgl64.Vec3{x, y, z}, q)
	require.NoError(t, err)
	return out
}

func randomRotation(t *testing.T, rng *rand.Rand, pos mgl64.Vec3) rigid.Transform {
	t.Helper()
	q := mgl64.Quat{W: rng.NormFloat64(), V: mgl64.Vec3{rng.NormFloat64(), rng.NormFloat64(), rng.NormFloat64()}}.Normalize()
	out, err := rigid.FromTranslationQuat(pos, q)
	require.NoError(t, err)
	return out
}

func randomVec(rng *rand.Rand, span float64) mgl64.Vec3 {
	return mgl64.Vec3{(rng.Float64() - 0.5) * span, (rng.Float64() - 0.5) * span, (rng.Float64() - 0.5) * span}
}

// scene builds a space holding the model placed at each anchor plus noise
// points. The anchors themselves appear in the space because model[0] maps
// onto them.
func scene(t *testing.T, rng *rand.Rand, model []rigid.Transform, anchors []rigid.Transform, noise int) []rigid.Transform {
	t.Helper()
	toLocal := model[0].Inverse()
	var space []rigid.Transform
	for _, a := range anchors {
		for _, m := range model {
			space = append(space, a.Compose(toLocal.Compose(m)))
		}
	}
	for i := 0; i < noise; i++ {
		space = append(space, randomRotation(t, rng, randomVec(rng, 40)))
	}
	rng.Shuffle(len(space), func(i, j int) { space[i], space[j] = space[j], space[i] })
	return space
}

func TestFindMatches_SinglePointModelMatchesEveryAnchor(t *testing.T) {
	space := []rigid.Transform{tr(0, 0, 0), tr(5, 5, 5)}
	model := []rigid.Transform{tr(0, 0, 0)}

	got, err := FindMatches(model, space, 0.1)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, got.Indices())
	assert.True(t, got[0].Transform.ApproxEqual(space[0], 0))
	assert.True(t, got[1].Transform.ApproxEqual(space[1], 0))
}

func TestFindMatches_SpacingMismatchFindsNothing(t *testing.T) {
	space := []rigid.Transform{tr(0, 0, 0), tr(10, 0, 0)}
	model := []rigid.Transform{tr(0, 0, 0), tr(1, 0, 0)}

	got, err := FindMatches(model, space, 0.1)
	require.NoError(t, err)
	assert.True(t, got.Empty())
	assert.NotNil(t, got, "no-match result should be an empty list, not nil")
}

func TestFindMatches_EmptySpace(t *testing.T) {
	tests := []struct {
		name      string
		model     []rigid.Transform
		tolerance float64
	}{
		{"normal model", []rigid.Transform{tr(0, 0, 0)}, 0.1},
		{"empty model", nil, 0.1},
		{"negative tolerance", []rigid.Transform{tr(0, 0, 0)}, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FindMatches(tt.model, nil, tt.tolerance)
			require.NoError(t, err)
			assert.True(t, got.Empty())
		})
	}
}

func TestFindMatches_EmptyModel(t *testing.T) {
	space := []rigid.Transform{tr(0, 0, 0), tr(1, 2, 3)}

	_, err := FindMatches(nil, space, 0.1)
	var ve *InputValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, InputModel, ve.Input)
	assert.Equal(t, -1, ve.Index)

	res, err := NewEngine(Options{EmptyModel: EmptyModelMatchAll}).FindMatches(nil, space, 0.1)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, res.Matches.Indices())
}

func TestFindMatches_InvalidTolerance(t *testing.T) {
	space := []rigid.Transform{tr(0, 0, 0)}
	model := []rigid.Transform{tr(0, 0, 0)}
	for _, tol := range []float64{-0.1, math.NaN(), math.Inf(1)} {
		_, err := FindMatches(model, space, tol)
		var ve *InputValidationError
		require.ErrorAs(t, err, &ve, "tolerance %v", tol)
		assert.Equal(t, InputTolerance, ve.Input)
	}
}

func TestFindMatches_DegenerateTransformReportsIndex(t *testing.T) {
	space := []rigid.Transform{tr(0, 0, 0), {}, tr(1, 0, 0)}
	model := []rigid.Transform{tr(0, 0, 0)}

	_, err := FindMatches(model, space, 0.1)
	require.Error(t, err)

	var ve *InputValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, InputSpace, ve.Input)
	assert.Equal(t, 1, ve.Index)

	var de *rigid.DegenerateTransformError
	assert.ErrorAs(t, err, &de)

	_, err = FindMatches([]rigid.Transform{tr(0, 0, 0), {}}, []rigid.Transform{tr(0, 0, 0)}, 0.1)
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, InputModel, ve.Input)
	assert.Equal(t, 1, ve.Index)
}

func TestFindMatches_InclusiveBoundary(t *testing.T) {
	space := []rigid.Transform{tr(0, 0, 0), tr(1, 0, 0)}
	model := []rigid.Transform{tr(0, 0, 0), tr(1.5, 0, 0)}

	got, err := FindMatches(model, space, 0.5)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, got.Indices())

	got, err = FindMatches(model, space, 0.4999)
	require.NoError(t, err)
	assert.True(t, got.Empty())
}

func TestFindMatches_ZeroToleranceRequiresCoincidence(t *testing.T) {
	space := []rigid.Transform{tr(0, 0, 0), tr(1, 0, 0), tr(3, 0, 0), tr(4.000001, 0, 0)}
	model := []rigid.Transform{tr(0, 0, 0), tr(1, 0, 0)}

	got, err := FindMatches(model, space, 0)
	require.NoError(t, err)
	// (0→1) coincides exactly; (3→4) misses by 1e-6; (1→2) and (4→5) have no partner.
	assert.Equal(t, []int{0}, got.Indices())
}

func TestFindMatches_UsesAnchorRotation(t *testing.T) {
	space := []rigid.Transform{
		rotZ(t, math.Pi/2, 5, 5, 5),
		tr(5, 6, 5),
	}
	model := []rigid.Transform{tr(0, 0, 0), tr(1, 0, 0)}

	got, err := FindMatches(model, space, 1e-9)
	require.NoError(t, err)
	// Rotating (1,0,0) by 90° about Z lands on (5,6,5); the unrotated
	// second anchor would need (6,6,5).
	assert.Equal(t, []int{0}, got.Indices())
}

func TestFindMatches_ModelRelativeToFirstPoint(t *testing.T) {
	// model[0] sits at (10,0,0) rotated 90° about Z, so model[1] at (10,1,0)
	// is one unit along model[0]'s local X axis.
	model := []rigid.Transform{rotZ(t, math.Pi/2, 10, 0, 0), tr(10, 1, 0)}
	space := []rigid.Transform{tr(0, 0, 0), tr(1, 0, 0), tr(0, 1, 0)}

	got, err := FindMatches(model, space, 1e-9)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, got.Indices())
}

func TestFindMatches_NonInjective(t *testing.T) {
	// Both model points fall within tolerance of the single space point.
	model := []rigid.Transform{tr(0, 0, 0), tr(0.05, 0, 0)}
	space := []rigid.Transform{tr(0, 0, 0)}

	got, err := FindMatches(model, space, 0.1)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, got.Indices())
}

func TestFindMatches_KeepsDuplicates(t *testing.T) {
	space := []rigid.Transform{tr(2, 0, 0), tr(0, 0, 0), tr(2, 0, 0)}
	model := []rigid.Transform{tr(0, 0, 0)}

	got, err := FindMatches(model, space, 0.1)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, got.Indices())
}

func TestFindMatches_PlantedAnchorsAreFound(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	model := []rigid.Transform{
		randomRotation(t, rng, mgl64.Vec3{1, 2, 3}),
		tr(2, 2, 3), tr(1, 4, 3), tr(1, 2, 6), tr(3, 5, 2),
	}
	anchors := make([]rigid.Transform, 5)
	for i := range anchors {
		anchors[i] = randomRotation(t, rng, randomVec(rng, 40))
	}
	space := scene(t, rng, model, anchors, 200)

	got, err := FindMatches(model, space, 1e-6)
	require.NoError(t, err)

	matched := got.Transforms()
	for i, a := range anchors {
		found := false
		for _, m := range matched {
			if m.ApproxEqual(a, 1e-9) {
				found = true
				break
			}
		}
		assert.True(t, found, "anchor %d not matched", i)
	}
}

func TestFindMatches_OrderFollowsSpace(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 5))
	model := []rigid.Transform{tr(0, 0, 0), tr(0.5, 0, 0)}
	space := make([]rigid.Transform, 300)
	for i := range space {
		space[i] = tr(float64(rng.IntN(20))*0.5, float64(rng.IntN(3)), 0)
	}

	got, err := FindMatches(model, space, 0.01)
	require.NoError(t, err)
	require.False(t, got.Empty())
	idx := got.Indices()
	for i := 1; i < len(idx); i++ {
		assert.Less(t, idx[i-1], idx[i])
	}
	for _, m := range got {
		assert.True(t, m.Transform.ApproxEqual(space[m.SpaceIndex], 0))
	}
}

func TestFindMatches_MonotonicInTolerance(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	model := []rigid.Transform{tr(0, 0, 0), tr(1, 0, 0), tr(0, 1, 0)}
	space := make([]rigid.Transform, 150)
	for i := range space {
		space[i] = randomRotation(t, rng, randomVec(rng, 6))
	}

	var prev map[int]bool
	for _, tol := range []float64{0, 0.05, 0.1, 0.25, 0.5, 1, 2} {
		got, err := FindMatches(model, space, tol)
		require.NoError(t, err)
		cur := make(map[int]bool, len(got))
		for _, i := range got.Indices() {
			cur[i] = true
		}
		for i := range prev {
			assert.True(t, cur[i], "candidate %d matched below %v but not at %v", i, tol, tol)
		}
		prev = cur
	}
}

func TestFindMatches_Idempotent(t *testing.T) {
	rng := rand.New(rand.NewPCG(9, 9))
	model := []rigid.Transform{tr(0, 0, 0), tr(1, 1, 0)}
	space := scene(t, rng, model, []rigid.Transform{tr(3, 3, 3), rotZ(t, 1, -4, 2, 0)}, 100)

	first, err := FindMatches(model, space, 0.2)
	require.NoError(t, err)
	second, err := FindMatches(model, space, 0.2)
	require.NoError(t, err)
	if diff := cmp.Diff(first.Indices(), second.Indices()); diff != "" {
		t.Errorf("second pass differs (-first +second):\n%s", diff)
	}
}

func TestEngine_IndexesAndWorkersAgree(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 24))
	model := []rigid.Transform{
		tr(0, 0, 0), tr(0.8, 0, 0), tr(0, 0.6, 0.3), tr(-0.4, 0.2, 0.9),
	}
	anchors := make([]rigid.Transform, 8)
	for i := range anchors {
		anchors[i] = randomRotation(t, rng, randomVec(rng, 10))
	}
	space := scene(t, rng, model, anchors, 400)

	for _, tol := range []float64{0, 1e-6, 0.3, 1.5} {
		want, err := NewEngine(Options{Index: IndexLinear}).FindMatches(model, space, tol)
		require.NoError(t, err)

		variants := []Options{
			{Index: IndexGrid},
			{Index: IndexGrid, GridCellSize: 0.25},
			{Index: IndexKDTree},
			{Index: IndexAuto},
			{Index: IndexLinear, Workers: 4},
			{Index: IndexKDTree, Workers: 7},
			{Index: IndexGrid, Workers: 1000},
		}
		for _, opts := range variants {
			got, err := NewEngine(opts).FindMatches(model, space, tol)
			require.NoError(t, err)
			if diff := cmp.Diff(want.Matches.Indices(), got.Matches.Indices()); diff != "" {
				t.Errorf("tol=%v opts=%+v differs from linear (-want +got):\n%s", tol, opts, diff)
			}
		}
	}
}

func TestEngine_ResultStats(t *testing.T) {
	space := make([]rigid.Transform, AutoLinearMaxPoints+1)
	for i := range space {
		space[i] = tr(float64(i), 0, 0)
	}
	model := []rigid.Transform{tr(0, 0, 0), tr(1, 0, 0)}

	res, err := NewEngine(Options{Workers: 3}).FindMatches(model, space, 0.1)
	require.NoError(t, err)
	assert.Equal(t, 2, res.ModelCount)
	assert.Equal(t, len(space), res.SpaceCount)
	assert.Equal(t, IndexKDTree, res.Index)
	assert.Equal(t, 3, res.Workers)
	assert.Len(t, res.Matches, len(space)-1)

	res, err = NewEngine(Options{}).FindMatches(model, space[:3], 0.1)
	require.NoError(t, err)
	assert.Equal(t, IndexLinear, res.Index)
	assert.Equal(t, 1, res.Workers)
}

func TestEngine_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	space := []rigid.Transform{tr(0, 0, 0), tr(1, 0, 0)}
	model := []rigid.Transform{tr(0, 0, 0)}

	for _, workers := range []int{1, 2} {
		_, err := NewEngine(Options{Workers: workers}).FindMatchesContext(ctx, model, space, 0.1)
		assert.True(t, errors.Is(err, context.Canceled), "workers=%d: got %v", workers, err)
	}
}

func TestParseIndexKind(t *testing.T) {
	for in, want := range map[string]IndexKind{"": IndexAuto, "grid": IndexGrid, "kdtree": IndexKDTree, "linear": IndexLinear} {
		got, err := ParseIndexKind(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseIndexKind("octree")
	assert.Error(t, err)
}

func TestParseEmptyModelPolicy(t *testing.T) {
	p, err := ParseEmptyModelPolicy("")
	require.NoError(t, err)
	assert.Equal(t, EmptyModelReject, p)

	p, err = ParseEmptyModelPolicy("match-all")
	require.NoError(t, err)
	assert.Equal(t, EmptyModelMatchAll, p)

	_, err = ParseEmptyModelPolicy("ignore")
	assert.Error(t, err)
}
