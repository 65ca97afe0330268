package match

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"gonum.org/v1/gonum/spatial/kdtree"
)

// IndexKind selects the spatial index used for the per-point tolerance test.
// Every kind returns the same answers; they differ only in cost.
type IndexKind string

const (
	IndexAuto   IndexKind = "auto"
	IndexLinear IndexKind = "linear"
	IndexGrid   IndexKind = "grid"
	IndexKDTree IndexKind = "kdtree"
)

const (
	// AutoLinearMaxPoints is the largest space for which IndexAuto keeps the
	// plain linear scan.
	AutoLinearMaxPoints = 64
	// DefaultGridCellSize is used for the grid index when the tolerance is
	// zero and no cell size was configured.
	DefaultGridCellSize = 1.0
)

// ParseIndexKind validates a user-supplied index name. The empty string maps
// to IndexAuto.
func ParseIndexKind(s string) (IndexKind, error) {
	switch k := IndexKind(s); k {
	case "":
		return IndexAuto, nil
	case IndexAuto, IndexLinear, IndexGrid, IndexKDTree:
		return k, nil
	default:
		return "", fmt.Errorf("unknown index %q (want auto, linear, grid or kdtree)", s)
	}
}

// PointIndex answers the existential tolerance query over a fixed set of
// space positions. Implementations are read-only after construction and
// safe for concurrent use.
type PointIndex interface {
	// WithinTolerance reports whether some indexed position s satisfies
	// |p - s| <= tolerance.
	WithinTolerance(p mgl64.Vec3) bool
	Kind() IndexKind
}

// NewPointIndex builds an index of the given kind over positions. cellSize
// is only used by IndexGrid; it is raised to the tolerance so a query box
// spans at most three cells per axis, and zero selects
// max(tolerance, DefaultGridCellSize). Tolerances outside the range where
// squared distances stay normal floats use the linear scan whatever kind
// was asked for.
func NewPointIndex(kind IndexKind, positions []mgl64.Vec3, tolerance, cellSize float64) (PointIndex, error) {
	if kind == IndexAuto || kind == "" {
		kind = IndexLinear
		if len(positions) > AutoLinearMaxPoints {
			kind = IndexKDTree
		}
	}
	linear := &linearIndex{positions: positions, tolerance: tolerance}

	switch kind {
	case IndexLinear:
		return linear, nil
	case IndexGrid:
		if !squaredSafe(tolerance) {
			return linear, nil
		}
		if cellSize <= 0 {
			cellSize = DefaultGridCellSize
		}
		cellSize = math.Max(cellSize, tolerance)
		if gi := newGridIndex(positions, tolerance, cellSize); gi != nil {
			return gi, nil
		}
		return linear, nil
	case IndexKDTree:
		if !squaredSafe(tolerance) {
			return linear, nil
		}
		return newKDIndex(positions, tolerance), nil
	default:
		return nil, fmt.Errorf("unknown index %q", kind)
	}
}

// Bounds of the component range where a plain sum of squares neither
// overflows nor loses the smallest component to underflow.
const (
	minPlainComponent = 1e-150
	maxPlainComponent = 1e150
)

// squaredSafe reports whether tolerance² and distances near it are normal
// floats. Zero is allowed: an exact hit has a squared distance of zero too.
func squaredSafe(tolerance float64) bool {
	return tolerance == 0 || (tolerance >= minPlainComponent && tolerance <= maxPlainComponent)
}

// Distance is the Euclidean distance |a - b| used by every tolerance test.
// It equals a.Sub(b).Len() for ordinary magnitudes and rescales the
// components when squaring them would overflow or underflow.
func Distance(a, b mgl64.Vec3) float64 {
	d := a.Sub(b)
	m := math.Max(math.Abs(d[0]), math.Max(math.Abs(d[1]), math.Abs(d[2])))
	if m == 0 || math.IsInf(m, 0) {
		return m
	}
	if m >= minPlainComponent && m <= maxPlainComponent {
		return math.Sqrt(d.Dot(d))
	}
	d = mgl64.Vec3{d[0] / m, d[1] / m, d[2] / m}
	return m * math.Sqrt(d.Dot(d))
}

// linearIndex is the reference full scan.
type linearIndex struct {
	positions []mgl64.Vec3
	tolerance float64
}

func (li *linearIndex) Kind() IndexKind { return IndexLinear }

func (li *linearIndex) WithinTolerance(p mgl64.Vec3) bool {
	for _, s := range li.positions {
		if Distance(p, s) <= li.tolerance {
			return true
		}
	}
	return false
}

// gridIndex buckets positions into a uniform 3D grid. A query visits every
// occupied-range cell overlapping the tolerance box around p.
type gridIndex struct {
	cellSize  float64
	tolerance float64
	positions []mgl64.Vec3
	cells     map[cellKey][]int // cell → indices into positions
	lo, hi    [3]float64        // occupied cell range per axis
}

type cellKey struct{ x, y, z int64 }

// estimatedPointsPerCell sizes the initial cell map.
const estimatedPointsPerCell = 4

// maxCellCoord keeps cell coordinates exactly representable and inside
// int64.
const maxCellCoord = 1 << 52

// newGridIndex returns nil when a position falls outside the representable
// cell range.
func newGridIndex(positions []mgl64.Vec3, tolerance, cellSize float64) *gridIndex {
	gi := &gridIndex{
		cellSize:  cellSize,
		tolerance: tolerance,
		positions: positions,
		cells:     make(map[cellKey][]int, len(positions)/estimatedPointsPerCell+1),
		lo:        [3]float64{math.Inf(1), math.Inf(1), math.Inf(1)},
		hi:        [3]float64{math.Inf(-1), math.Inf(-1), math.Inf(-1)},
	}
	for i, p := range positions {
		var c [3]float64
		for a := 0; a < 3; a++ {
			c[a] = math.Floor(p[a] / cellSize)
			if math.Abs(c[a]) > maxCellCoord {
				return nil
			}
			gi.lo[a] = math.Min(gi.lo[a], c[a])
			gi.hi[a] = math.Max(gi.hi[a], c[a])
		}
		k := cellKey{int64(c[0]), int64(c[1]), int64(c[2])}
		gi.cells[k] = append(gi.cells[k], i)
	}
	return gi
}

func (gi *gridIndex) Kind() IndexKind { return IndexGrid }

// span returns the clamped cell range on axis a covering [v-tol, v+tol].
// ok is false when the box misses the occupied range.
func (gi *gridIndex) span(a int, v float64) (lo, hi int64, ok bool) {
	l := math.Max(math.Floor((v-gi.tolerance)/gi.cellSize), gi.lo[a])
	h := math.Min(math.Floor((v+gi.tolerance)/gi.cellSize), gi.hi[a])
	if !(l <= h) {
		return 0, 0, false
	}
	return int64(l), int64(h), true
}

func (gi *gridIndex) WithinTolerance(p mgl64.Vec3) bool {
	x0, x1, ok := gi.span(0, p[0])
	if !ok {
		return false
	}
	y0, y1, ok := gi.span(1, p[1])
	if !ok {
		return false
	}
	z0, z1, ok := gi.span(2, p[2])
	if !ok {
		return false
	}

	for x := x0; x <= x1; x++ {
		for y := y0; y <= y1; y++ {
			for z := z0; z <= z1; z++ {
				for _, idx := range gi.cells[cellKey{x, y, z}] {
					if Distance(p, gi.positions[idx]) <= gi.tolerance {
						return true
					}
				}
			}
		}
	}
	return false
}

// kdSlack widens the squared search radius so rounding in the tree's
// squared distances cannot drop a point whose exact distance is on the
// boundary. Candidates are re-checked with Distance.
const kdSlack = 1 + 1e-9

// kdIndex wraps a gonum k-d tree. The tree only proposes candidates; the
// tolerance test itself is Distance.
type kdIndex struct {
	tree      *kdtree.Tree
	tolerance float64
	radius2   float64 // slackened tolerance², the tree's search bound
}

func newKDIndex(positions []mgl64.Vec3, tolerance float64) *kdIndex {
	// kdtree.New reorders its input, so work on a private copy.
	pts := make(kdtree.Points, len(positions))
	for i, p := range positions {
		pts[i] = kdtree.Point{p[0], p[1], p[2]}
	}
	return &kdIndex{
		tree:      kdtree.New(pts, false),
		tolerance: tolerance,
		radius2:   tolerance * tolerance * kdSlack,
	}
}

func (ki *kdIndex) Kind() IndexKind { return IndexKDTree }

func (ki *kdIndex) WithinTolerance(p mgl64.Vec3) bool {
	if ki.tree.Root == nil {
		return false
	}
	q := kdtree.Point{p[0], p[1], p[2]}

	// kdtree.Point distances are squared Euclidean.
	c, d2 := ki.tree.Nearest(q)
	if d2 > ki.radius2 {
		return false
	}
	if ki.within(p, c) {
		return true
	}

	// The nearest point sits on the rounding boundary, or ties with others
	// at a squared distance of zero. Check every candidate in the radius.
	keep := kdtree.NewDistKeeper(ki.radius2)
	ki.tree.NearestSet(keep, q)
	for _, cd := range keep.Heap {
		if cd.Comparable != nil && ki.within(p, cd.Comparable) {
			return true
		}
	}
	return false
}

func (ki *kdIndex) within(p mgl64.Vec3, c kdtree.Comparable) bool {
	s := c.(kdtree.Point)
	return Distance(p, mgl64.Vec3{s[0], s[1], s[2]}) <= ki.tolerance
}
