package kdtree

import (
	"math"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/assert"
	"github.com/valyala/fastrand"
	"pgregory.net/rapid"
)

func testPoints() []Point {
	return []Point{{3, 6}, {17, 15}, {13, 15}, {6, 12}, {9, 1}, {2, 7}, {10, 19}}
}

// failer is the overlap of testing.TB and rapid's test handle, so the
// tree builder serves the table tests and the property tests alike.
type failer interface {
	Helper()
	Fatalf(format string, args ...interface{})
}

var (
	_ failer = (*testing.T)(nil)
	_ failer = (*rapid.T)(nil)
)

func newTestTree(t failer, dims int, points []Point) *Tree {
	t.Helper()
	tree, err := New(dims)
	if err != nil {
		t.Fatalf("New(%d) unexpected error: %v", dims, err)
	}
	for _, p := range points {
		if err := tree.Insert(p); err != nil {
			t.Fatalf("Insert(%v) unexpected error: %v", p, err)
		}
	}
	return tree
}

func bruteContains(points []Point, q Point) bool {
	for _, p := range points {
		if p.equal(q) {
			return true
		}
	}
	return false
}

func bruteNearestDist(points []Point, q Point) float64 {
	best := math.MaxFloat64
	for _, p := range points {
		if d := distance(q, p); d < best {
			best = d
		}
	}
	return best
}

func bruteRange(points []Point, min, max Point) []Point {
	var in []Point
	for _, p := range points {
		if p.inBox(min, max) {
			in = append(in, p)
		}
	}
	return in
}

func TestTreeNew(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		dims    int
		wantErr bool
	}{
		{name: "positive", dims: 2},
		{name: "positive_single_dimension", dims: 1},
		{name: "err_zero_dimensions", dims: 0, wantErr: true},
		{name: "err_negative_dimensions", dims: -3, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree, err := New(tt.dims)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrDimMismatch)
				assert.Nil(t, tree)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.dims, tree.Dimensions())
			assert.Equal(t, 0, tree.Len())
			assert.Equal(t, 0, tree.Height())
		})
	}
}

func TestTreeSearch(t *testing.T) {
	t.Parallel()
	tree := newTestTree(t, 2, testPoints())
	tests := []struct {
		name  string
		point Point
		want  bool
	}{
		{name: "positive_root", point: Point{3, 6}, want: true},
		{name: "positive_inner", point: Point{6, 12}, want: true},
		{name: "positive_leaf", point: Point{10, 19}, want: true},
		{name: "negative_absent", point: Point{7, 8}, want: false},
		{name: "negative_partial_match", point: Point{3, 7}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tree.Search(tt.point)
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTreeSearchEmpty(t *testing.T) {
	t.Parallel()
	tree, err := New(2)
	assert.NoError(t, err)
	found, err := tree.Search(Point{1, 2})
	assert.NoError(t, err)
	assert.False(t, found)
}

func TestTreeDimMismatch(t *testing.T) {
	t.Parallel()
	tree := newTestTree(t, 2, testPoints())
	before := tree.Points()

	assert.ErrorIs(t, tree.Insert(Point{1, 2, 3}), ErrDimMismatch)
	assert.ErrorIs(t, tree.Insert(Point{1}), ErrDimMismatch)
	assert.ErrorIs(t, tree.Insert(nil), ErrDimMismatch)

	_, err := tree.Search(Point{1, 2, 3})
	assert.ErrorIs(t, err, ErrDimMismatch)
	_, err = tree.Nearest(Point{1})
	assert.ErrorIs(t, err, ErrDimMismatch)
	_, err = tree.RangeSearch(Point{0, 0}, Point{1, 1, 1})
	assert.ErrorIs(t, err, ErrDimMismatch)
	_, err = tree.RangeSearch(Point{0}, Point{1, 1})
	assert.ErrorIs(t, err, ErrDimMismatch)

	// a rejected argument must leave the tree untouched
	assert.Equal(t, len(testPoints()), tree.Len())
	assert.Equal(t, before, tree.Points())
}

func TestTreeNearest(t *testing.T) {
	t.Parallel()
	tree := newTestTree(t, 2, testPoints())
	tests := []struct {
		name  string
		query Point
		want  Point
	}{
		{name: "positive", query: Point{7, 8}, want: Point{6, 12}},
		{name: "positive_exact_hit", query: Point{9, 1}, want: Point{9, 1}},
		{name: "positive_far_outside", query: Point{100, 100}, want: Point{17, 15}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tree.Nearest(tt.query)
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTreeNearestEmpty(t *testing.T) {
	t.Parallel()
	tree, err := New(3)
	assert.NoError(t, err)
	_, err = tree.Nearest(Point{1, 2, 3})
	assert.ErrorIs(t, err, ErrEmptyTree)
}

func TestTreeNearestReturnsCopy(t *testing.T) {
	t.Parallel()
	tree := newTestTree(t, 2, testPoints())
	got, err := tree.Nearest(Point{7, 8})
	assert.NoError(t, err)

	got[0], got[1] = -1000, -1000
	found, err := tree.Search(Point{6, 12})
	assert.NoError(t, err)
	assert.True(t, found, "mutating a result must not corrupt the tree")
}

func TestTreeRangeSearch(t *testing.T) {
	t.Parallel()
	tree := newTestTree(t, 2, testPoints())
	tests := []struct {
		name     string
		min, max Point
		want     []Point
	}{
		{name: "positive", min: Point{5, 5}, max: Point{15, 15}, want: []Point{{6, 12}, {13, 15}}},
		{name: "positive_bounds_inclusive", min: Point{13, 15}, max: Point{13, 15}, want: []Point{{13, 15}}},
		{name: "positive_whole_plane", min: Point{-100, -100}, max: Point{100, 100}, want: testPoints()},
		{name: "negative_empty_box", min: Point{4, 4}, max: Point{5, 5}, want: nil},
		{name: "negative_inverted_box", min: Point{15, 15}, max: Point{5, 5}, want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tree.RangeSearch(tt.min, tt.max)
			assert.NoError(t, err)
			assert.ElementsMatch(t, tt.want, got)

			again, err := tree.RangeSearch(tt.min, tt.max)
			assert.NoError(t, err)
			assert.Equal(t, got, again, "repeated queries must return the same result")
		})
	}
}

func TestTreeDuplicates(t *testing.T) {
	t.Parallel()
	tree := newTestTree(t, 2, testPoints())
	assert.NoError(t, tree.Insert(Point{6, 12}))
	assert.Equal(t, len(testPoints())+1, tree.Len())

	found, err := tree.Search(Point{6, 12})
	assert.NoError(t, err)
	assert.True(t, found)

	got, err := tree.RangeSearch(Point{6, 12}, Point{6, 12})
	assert.NoError(t, err)
	assert.ElementsMatch(t, []Point{{6, 12}, {6, 12}}, got, "duplicates accumulate, they are not rejected")
}

func TestTreeDegenerateInsertOrder(t *testing.T) {
	t.Parallel()
	// monotonically growing coordinates always descend right, the tree
	// degenerates into a list and must stay fully functional
	tree, err := New(2)
	assert.NoError(t, err)
	for i := 1; i <= 16; i++ {
		assert.NoError(t, tree.Insert(Point{float64(i), float64(i)}))
	}
	assert.Equal(t, 16, tree.Len())
	assert.Equal(t, 16, tree.Height())

	got, err := tree.Nearest(Point{4.4, 4.4})
	assert.NoError(t, err)
	assert.Equal(t, Point{4, 4}, got)
}

func TestTreeShape(t *testing.T) {
	t.Parallel()
	tree := newTestTree(t, 2, testPoints())
	assert.Equal(t, 7, tree.Len())
	assert.Equal(t, 4, tree.Height())
	assert.ElementsMatch(t, testPoints(), tree.Points())
}

func gridPointGen(dims int) *rapid.Generator[Point] {
	return rapid.Custom(func(t *rapid.T) Point {
		p := make(Point, dims)
		for i := range p {
			// a small integer grid makes ties and duplicates frequent
			p[i] = float64(rapid.IntRange(-12, 12).Draw(t, "coord"))
		}
		return p
	})
}

func TestTreeSearchMatchesLinearScan(t *testing.T) {
	t.Parallel()
	rapid.Check(t, func(t *rapid.T) {
		pts := rapid.SliceOfN(gridPointGen(2), 0, 64).Draw(t, "points")
		tree := newTestTree(t, 2, pts)

		for _, p := range pts {
			found, err := tree.Search(p)
			assert.NoError(t, err)
			assert.True(t, found, "inserted point %v not found in %s", p, spew.Sdump(pts))
		}

		q := gridPointGen(2).Draw(t, "query")
		got, err := tree.Search(q)
		assert.NoError(t, err)
		assert.Equal(t, bruteContains(pts, q), got)
	})
}

func TestTreeNearestMatchesLinearScan(t *testing.T) {
	t.Parallel()
	rapid.Check(t, func(t *rapid.T) {
		pts := rapid.SliceOfN(gridPointGen(3), 1, 64).Draw(t, "points")
		tree := newTestTree(t, 3, pts)

		q := gridPointGen(3).Draw(t, "query")
		got, err := tree.Nearest(q)
		assert.NoError(t, err)
		assert.True(t, bruteContains(pts, got), "nearest returned a point that was never inserted")
		assert.InDelta(t, bruteNearestDist(pts, q), distance(q, got), 1e-12)
	})
}

func TestTreeRangeSearchMatchesLinearScan(t *testing.T) {
	t.Parallel()
	rapid.Check(t, func(t *rapid.T) {
		pts := rapid.SliceOfN(gridPointGen(2), 0, 64).Draw(t, "points")
		tree := newTestTree(t, 2, pts)

		min := gridPointGen(2).Draw(t, "min")
		max := gridPointGen(2).Draw(t, "max")
		got, err := tree.RangeSearch(min, max)
		assert.NoError(t, err)
		assert.ElementsMatch(t, bruteRange(pts, min, max), got,
			"box [%v %v] over %s", min, max, spew.Sdump(pts))
	})
}

func randomPoint(dims int) Point {
	p := make(Point, dims)
	for i := range p {
		p[i] = float64(fastrand.Uint32n(4096))
	}
	return p
}

func BenchmarkTreeInsert(b *testing.B) {
	tree, err := New(3)
	if err != nil {
		b.Fatal(err)
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = tree.Insert(randomPoint(3))
	}
}

func BenchmarkTreeSearch(b *testing.B) {
	tree, err := New(3)
	if err != nil {
		b.Fatal(err)
	}
	for i := 0; i < 100000; i++ {
		_ = tree.Insert(randomPoint(3))
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = tree.Search(randomPoint(3))
	}
}

func BenchmarkTreeNearest(b *testing.B) {
	tree, err := New(3)
	if err != nil {
		b.Fatal(err)
	}
	for i := 0; i < 100000; i++ {
		_ = tree.Insert(randomPoint(3))
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = tree.Nearest(randomPoint(3))
	}
}
