package mesh

import (
	"bytes"
	"math"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(dim int, root [3]int64, bc BoundaryFlag) (cfg MeshConfig) {
	cfg = MeshConfig{
		Dim:        dim,
		RootBlocks: root,
		BlockCells: [3]int{4, 4, 4},
		NGhost:     2,
		DomainMax:  [3]float64{1, 1, 1},
		MaxLevel:   3,
		Fields: []FieldSpec{
			{Name: "rho", Kind: Scalar},
			{Name: "m1", Kind: VectorX1},
		},
	}
	for f := range cfg.Boundaries {
		cfg.Boundaries[f] = bc
	}
	return
}

func relationsOf(m *Mesh, gid int) (rels []NeighborRelation) {
	for _, id := range m.Incoming[gid] {
		rels = append(rels, m.Relations[id])
	}
	return
}

// checkReciprocity verifies that every relation has a mirror relation seen
// from the neighbor
func checkReciprocity(t *testing.T, m *Mesh) {
	for _, rel := range m.Relations {
		var found bool
		for _, back := range relationsOf(m, rel.NeighborID) {
			if back.NeighborID == rel.BlockID && back.Offset == rel.NeighborOffset &&
				back.LevelDelta == -rel.LevelDelta {
				found = true
			}
		}
		assert.Truef(t, found, "no reverse relation for %s", rel)
	}
}

func TestLogicalLocation(t *testing.T) {
	{ // Parent and children round trip
		loc := LogicalLocation{Level: 2, LX: [3]int64{3, 2, 1}}
		assert.Equal(t, LogicalLocation{Level: 1, LX: [3]int64{1, 1, 0}}, loc.Parent())
		assert.Equal(t, [3]int64{1, 0, 1}, loc.ChildIndex())
		for _, ch := range loc.Children(3) {
			assert.Equal(t, loc, ch.Parent())
			assert.True(t, loc.IsAncestorOf(ch))
			assert.False(t, ch.IsAncestorOf(loc))
		}
		assert.Len(t, loc.Children(1), 2)
		assert.Len(t, loc.Children(2), 4)
		assert.Len(t, loc.Children(3), 8)
	}
	{ // Z-order of the level 1 quadrants, ancestors first
		var (
			root = LogicalLocation{}
			locs = root.Children(2)
		)
		shuffled := append([]LogicalLocation{}, locs...)
		shuffled = append(shuffled, root)
		rand.New(rand.NewSource(1)).Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})
		sort.Slice(shuffled, func(i, j int) bool { return ZOrderLess(shuffled[i], shuffled[j]) })
		assert.Equal(t, root, shuffled[0])
		assert.Equal(t, locs, shuffled[1:])
	}
	{ // A coarse block sorts after every descendant of its predecessor
		a := LogicalLocation{Level: 2, LX: [3]int64{1, 1, 0}}
		b := LogicalLocation{Level: 1, LX: [3]int64{1, 0, 0}}
		assert.True(t, ZOrderLess(a, b))
		assert.False(t, ZOrderLess(b, a))
	}
}

func TestConfigValidation(t *testing.T) {
	{ // Odd block cells
		cfg := testConfig(2, [3]int64{2, 2, 1}, BoundaryOutflow)
		cfg.BlockCells[0] = 5
		_, err := NewMesh(cfg)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	}
	{ // Blocks too small for the ghost width
		cfg := testConfig(2, [3]int64{2, 2, 1}, BoundaryOutflow)
		cfg.NGhost = 3
		_, err := NewMesh(cfg)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	}
	{ // Unpaired periodic
		cfg := testConfig(2, [3]int64{2, 2, 1}, BoundaryOutflow)
		cfg.Boundaries[InnerX1] = BoundaryPeriodic
		_, err := NewMesh(cfg)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	}
	{ // Polar on the wrong axis
		cfg := testConfig(2, [3]int64{2, 2, 1}, BoundaryOutflow)
		cfg.Boundaries[InnerX1] = BoundaryPolar
		_, err := NewMesh(cfg)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	}
	{ // Inactive dimensions are collapsed
		cfg := testConfig(1, [3]int64{4, 7, 7}, BoundaryOutflow)
		m, err := NewMesh(cfg)
		require.NoError(t, err)
		assert.Equal(t, [3]int64{4, 1, 1}, m.Config.RootBlocks)
		assert.Equal(t, [3]int{4, 1, 1}, m.Config.BlockCells)
		assert.Equal(t, [3]int{8, 1, 1}, m.Blocks[0].Fields.N)
		assert.Equal(t, 4, len(m.Blocks))
	}
}

func TestUniformNeighbors(t *testing.T) {
	{ // 3x3x3 outflow box: interior block sees 26 same-level neighbors
		m, err := NewMesh(testConfig(3, [3]int64{3, 3, 3}, BoundaryOutflow))
		require.NoError(t, err)
		require.NoError(t, m.BuildTopology())
		center, ok := m.GIDOf(LogicalLocation{LX: [3]int64{1, 1, 1}})
		require.True(t, ok)
		rels := relationsOf(m, center)
		assert.Len(t, rels, 26)
		kinds := make(map[NeighborKind]int)
		for _, rel := range rels {
			assert.Equal(t, 0, rel.LevelDelta)
			kinds[rel.Kind]++
			nb := m.Blocks[rel.NeighborID].Loc
			for d := 0; d < 3; d++ {
				assert.Equal(t, int64(1+rel.Offset[d]), nb.LX[d])
				assert.Equal(t, -rel.Offset[d], rel.NeighborOffset[d])
			}
		}
		assert.Equal(t, 6, kinds[NeighborFace])
		assert.Equal(t, 12, kinds[NeighborEdge])
		assert.Equal(t, 8, kinds[NeighborCorner])
		corner, _ := m.GIDOf(LogicalLocation{})
		assert.Len(t, relationsOf(m, corner), 7)
		checkReciprocity(t, m)
	}
	{ // Fully periodic: every block has 26 relations
		m, err := NewMesh(testConfig(3, [3]int64{3, 3, 3}, BoundaryPeriodic))
		require.NoError(t, err)
		require.NoError(t, m.BuildTopology())
		for gid := range m.Blocks {
			assert.Len(t, relationsOf(m, gid), 26)
		}
		checkReciprocity(t, m)
	}
	{ // Periodic ring in 1D
		m, err := NewMesh(testConfig(1, [3]int64{4, 1, 1}, BoundaryPeriodic))
		require.NoError(t, err)
		require.NoError(t, m.BuildTopology())
		rels := relationsOf(m, 0)
		require.Len(t, rels, 2)
		assert.Equal(t, [3]int{-1, 0, 0}, rels[0].Offset)
		assert.Equal(t, 3, rels[0].NeighborID)
		assert.True(t, rels[0].Periodic[0])
		assert.False(t, rels[1].Periodic[0])
		assert.Equal(t, int64(15), m.MapCellIndex(&rels[0], 0, -1, 0))
	}
}

func TestRefinedCorner(t *testing.T) {
	cfg := testConfig(2, [3]int64{2, 2, 1}, BoundaryOutflow)
	cfg.Refine = []LogicalLocation{{Level: 0}}
	m, err := NewMesh(cfg)
	require.NoError(t, err)
	require.NoError(t, m.BuildTopology())
	assert.Len(t, m.Blocks, 7)
	{ // The coarse block to the right sees the two touching children
		gid, _ := m.GIDOf(LogicalLocation{LX: [3]int64{1, 0, 0}})
		var finer []LogicalLocation
		for _, rel := range relationsOf(m, gid) {
			if rel.Offset == [3]int{-1, 0, 0} {
				assert.Equal(t, 1, rel.LevelDelta)
				assert.Equal(t, NeighborFace, rel.Kind)
				finer = append(finer, rel.NeighborLoc)
			}
		}
		assert.ElementsMatch(t, []LogicalLocation{
			{Level: 1, LX: [3]int64{1, 0, 0}},
			{Level: 1, LX: [3]int64{1, 1, 0}},
		}, finer)
	}
	{ // The diagonal coarse block sees only the corner child
		gid, _ := m.GIDOf(LogicalLocation{LX: [3]int64{1, 1, 0}})
		for _, rel := range relationsOf(m, gid) {
			if rel.Offset == [3]int{-1, -1, 0} {
				assert.Equal(t, 1, rel.LevelDelta)
				assert.Equal(t, LogicalLocation{Level: 1, LX: [3]int64{1, 1, 0}}, rel.NeighborLoc)
			}
		}
	}
	{ // The inner corner child has three coarse neighbors over five directions
		gid, _ := m.GIDOf(LogicalLocation{Level: 1, LX: [3]int64{1, 1, 0}})
		rels := relationsOf(m, gid)
		assert.Len(t, rels, 8)
		perNeighbor := make(map[LogicalLocation]int)
		for _, rel := range rels {
			if rel.LevelDelta == -1 {
				perNeighbor[rel.NeighborLoc]++
			}
		}
		assert.Equal(t, map[LogicalLocation]int{
			{LX: [3]int64{1, 0, 0}}: 2,
			{LX: [3]int64{0, 1, 0}}: 2,
			{LX: [3]int64{1, 1, 0}}: 1,
		}, perNeighbor)
	}
	{ // A coarser neighbor sees the child head on where the step stays in the parent
		gid, _ := m.GIDOf(LogicalLocation{Level: 1, LX: [3]int64{1, 1, 0}})
		back := make(map[[3]int][3]int)
		for _, rel := range relationsOf(m, gid) {
			if rel.LevelDelta == -1 {
				back[rel.Offset] = rel.NeighborOffset
			}
		}
		assert.Equal(t, [3]int{-1, 0, 0}, back[[3]int{1, 0, 0}])
		assert.Equal(t, [3]int{-1, 0, 0}, back[[3]int{1, -1, 0}])
		assert.Equal(t, [3]int{-1, -1, 0}, back[[3]int{1, 1, 0}])
		assert.Equal(t, [3]int{0, -1, 0}, back[[3]int{0, 1, 0}])
	}
	checkReciprocity(t, m)
}

func TestLevelJumpIsFatal(t *testing.T) {
	m, err := NewMesh(testConfig(2, [3]int64{2, 2, 1}, BoundaryOutflow))
	require.NoError(t, err)
	require.NoError(t, m.Tree.Refine(LogicalLocation{}))
	// Bypass the balancing refinement
	require.NoError(t, m.Tree.Refine(LogicalLocation{Level: 1, LX: [3]int64{1, 1, 0}}))
	m.rebuildArena(nil)
	err = m.BuildTopology()
	assert.ErrorIs(t, err, ErrTopologyViolation)
	assert.False(t, m.TopologyValid())
	_, err = m.Relation(0)
	assert.ErrorIs(t, err, ErrTopologyStale)
}

func TestRefineBalanced(t *testing.T) {
	{ // Refining deep into a corner pulls the diagonal neighbor along
		cfg := testConfig(2, [3]int64{2, 2, 1}, BoundaryOutflow)
		cfg.Refine = []LogicalLocation{
			{Level: 0},
			{Level: 1, LX: [3]int64{1, 1, 0}},
		}
		m, err := NewMesh(cfg)
		require.NoError(t, err)
		for _, loc := range []LogicalLocation{{LX: [3]int64{1, 0, 0}}, {LX: [3]int64{0, 1, 0}},
			{LX: [3]int64{1, 1, 0}}} {
			assert.True(t, m.Tree.IsInternal(loc), loc.String())
		}
		require.NoError(t, m.BuildTopology())
		checkReciprocity(t, m)
	}
	{ // Random refinement sequences keep a legal topology
		rng := rand.New(rand.NewSource(7))
		for _, bc := range []BoundaryFlag{BoundaryOutflow, BoundaryPeriodic} {
			m, err := NewMesh(testConfig(3, [3]int64{2, 2, 2}, bc))
			require.NoError(t, err)
			for n := 0; n < 6; n++ {
				leaves := m.Tree.Leaves()
				loc := leaves[rng.Intn(len(leaves))]
				if loc.Level < m.Config.MaxLevel {
					require.NoError(t, m.RefineBalanced(loc))
				}
			}
			m.rebuildArena(nil)
			require.NoError(t, m.BuildTopology())
			for _, rel := range m.Relations {
				assert.LessOrEqual(t, math.Abs(float64(rel.LevelDelta)), 1.)
			}
			checkReciprocity(t, m)
		}
	}
}

func TestPolarNeighbors(t *testing.T) {
	cfg := testConfig(3, [3]int64{2, 2, 4}, BoundaryOutflow)
	cfg.Boundaries[InnerX2], cfg.Boundaries[OuterX2] = BoundaryPolar, BoundaryPolar
	cfg.Boundaries[InnerX3], cfg.Boundaries[OuterX3] = BoundaryPeriodic, BoundaryPeriodic
	m, err := NewMesh(cfg)
	require.NoError(t, err)
	require.NoError(t, m.BuildTopology())
	gid, _ := m.GIDOf(LogicalLocation{LX: [3]int64{0, 0, 1}})
	var pole *NeighborRelation
	for _, id := range m.Incoming[gid] {
		if m.Relations[id].Offset == [3]int{0, -1, 0} {
			pole = &m.Relations[id]
		}
	}
	require.NotNil(t, pole)
	assert.True(t, pole.Polar)
	assert.Equal(t, LogicalLocation{LX: [3]int64{0, 0, 3}}, pole.NeighborLoc)
	assert.Equal(t, [3]int{0, -1, 0}, pole.NeighborOffset)
	{ // Ghost indices mirror in X2 and shift half a turn in X3
		assert.Equal(t, int64(0), m.MapCellIndex(pole, 1, -1, 0))
		assert.Equal(t, int64(1), m.MapCellIndex(pole, 1, -2, 0))
		assert.Equal(t, int64(12), m.MapCellIndex(pole, 2, 4, 0))
		assert.Equal(t, int64(3), m.MapCellIndex(pole, 2, 11, 0))
	}
	assert.Equal(t, BoundaryPolar, m.FaceFlag(m.Blocks[gid], InnerX2))
	assert.Equal(t, BoundaryBlock, m.FaceFlag(m.Blocks[gid], OuterX2))
	assert.Equal(t, BoundaryBlock, m.FaceFlag(m.Blocks[gid], InnerX3))
	assert.Equal(t, BoundaryOutflow, m.FaceFlag(m.Blocks[gid], InnerX1))
	checkReciprocity(t, m)
}

func fillLinear(m *Mesh) {
	for _, b := range m.Blocks {
		fa := b.Fields
		lo, hi := fa.Interior()
		for n := 0; n < fa.NVar; n++ {
			for k := lo[2]; k <= hi[2]; k++ {
				for j := lo[1]; j <= hi[1]; j++ {
					for i := lo[0]; i <= hi[0]; i++ {
						x := b.CellCenter(k, j, i)
						fa.Set(n, k, j, i, float64(n+1)+2*x[0]-x[1]+0.5*x[2])
					}
				}
			}
		}
	}
}

func blockTotal(m *Mesh, n int) (sum float64) {
	for _, b := range m.Blocks {
		lo, hi := b.Fields.Interior()
		for k := lo[2]; k <= hi[2]; k++ {
			for j := lo[1]; j <= hi[1]; j++ {
				for i := lo[0]; i <= hi[0]; i++ {
					sum += b.Fields.At(n, k, j, i) * b.CellVolume(k, j, i)
				}
			}
		}
	}
	return
}

func TestRegrid(t *testing.T) {
	m, err := NewMesh(testConfig(2, [3]int64{2, 2, 1}, BoundaryOutflow))
	require.NoError(t, err)
	fillLinear(m)
	var (
		before   = m.Blocks[3].Fields.Copy()
		total    = blockTotal(m, 0)
		gid3     = m.Blocks[3].Loc
		children []int
	)
	changed, err := m.Regrid(map[int]RefineFlag{3: RefineRefine})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.False(t, m.TopologyValid())
	assert.Len(t, m.Blocks, 7)
	assert.InDelta(t, total, blockTotal(m, 0), 1.e-12)
	for gid, b := range m.Blocks {
		if b.Loc.Level == 1 {
			assert.Equal(t, gid3, b.Loc.Parent())
			children = append(children, gid)
		}
	}
	require.Len(t, children, 4)
	{ // Merging the children back restores the parent exactly
		flags := make(map[int]RefineFlag)
		for _, gid := range children {
			flags[gid] = RefineDerefine
		}
		changed, err = m.Regrid(flags)
		require.NoError(t, err)
		assert.True(t, changed)
		require.Len(t, m.Blocks, 4)
		for i, v := range before.Data {
			assert.InDelta(t, v, m.Blocks[3].Fields.Data[i], 1.e-12)
		}
	}
	{ // A partial vote changes nothing
		changed, err = m.Regrid(map[int]RefineFlag{0: RefineDerefine})
		require.NoError(t, err)
		assert.False(t, changed)
	}
}

func TestRestartRoundTrip(t *testing.T) {
	cfg := testConfig(3, [3]int64{2, 2, 2}, BoundaryPeriodic)
	cfg.Refine = []LogicalLocation{{LX: [3]int64{1, 0, 1}}}
	m, err := NewMesh(cfg)
	require.NoError(t, err)
	rng := rand.New(rand.NewSource(3))
	for _, b := range m.Blocks {
		for i := range b.Fields.Data {
			b.Fields.Data[i] = rng.NormFloat64()
		}
		b.Cost = rng.Float64()
	}
	ranks := make([]int, len(m.Blocks))
	for gid := range ranks {
		ranks[gid] = gid % 3
	}
	m.SetRanks(ranks)
	var buf bytes.Buffer
	require.NoError(t, WriteRestart(&buf, m, 1.25, 42))
	cfg.Refine = nil
	m2, tm, cycle, err := ReadRestart(&buf, cfg)
	require.NoError(t, err)
	assert.Equal(t, 1.25, tm)
	assert.Equal(t, 42, cycle)
	require.Len(t, m2.Blocks, len(m.Blocks))
	for gid, b := range m.Blocks {
		b2 := m2.Blocks[gid]
		assert.Equal(t, b.Loc, b2.Loc)
		assert.Equal(t, b.Rank, b2.Rank)
		assert.Equal(t, b.LID, b2.LID)
		assert.Equal(t, b.Cost, b2.Cost)
		assert.Equal(t, b.Fields.Data, b2.Fields.Data)
	}
	{ // Shape mismatch is rejected
		require.NoError(t, WriteRestart(&buf, m, 0, 0))
		cfg.BlockCells = [3]int{6, 6, 6}
		_, _, _, err = ReadRestart(&buf, cfg)
		assert.ErrorIs(t, err, ErrRestart)
	}
}
