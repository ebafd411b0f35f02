package bvals

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/goamr/mesh"
)

func angleMesh(t *testing.T, bcs [mesh.NumFaces]mesh.BoundaryFlag, nZeta, nPsi int) (m *mesh.Mesh) {
	fields := []mesh.FieldSpec{
		{Name: "e", Kind: mesh.Scalar},
		{Name: "f1", Kind: mesh.VectorX1},
		{Name: "f2", Kind: mesh.VectorX2},
		{Name: "f3", Kind: mesh.VectorX3},
	}
	fields = append(fields, mesh.AngleSpecs("ir", nZeta, nPsi)...)
	cfg := mesh.MeshConfig{
		Dim:        3,
		RootBlocks: [3]int64{1, 2, 2},
		BlockCells: [3]int{4, 4, 4},
		NGhost:     2,
		DomainMax:  [3]float64{1, math.Pi, 2 * math.Pi},
		Boundaries: bcs,
		Fields:     fields,
		NZeta:      nZeta,
		NPsi:       nPsi,
	}
	m, err := mesh.NewMesh(cfg)
	require.NoError(t, err)
	require.NoError(t, m.BuildTopology())
	return
}

func fillRandom(m *mesh.Mesh, seed int64) {
	rng := rand.New(rand.NewSource(seed))
	for _, b := range m.Blocks {
		for i := range b.Fields.Data {
			b.Fields.Data[i] = rng.Float64()
		}
	}
}

func allFaces(bc mesh.BoundaryFlag) (bcs [mesh.NumFaces]mesh.BoundaryFlag) {
	for f := range bcs {
		bcs[f] = bc
	}
	return
}

func TestReflectingBoundary(t *testing.T) {
	m := angleMesh(t, allFaces(mesh.BoundaryReflecting), 4, 8)
	fillRandom(m, 5)
	pb, err := NewPhysicalBoundaries(m, nil)
	require.NoError(t, err)
	b := m.Blocks[0]
	fa := b.Fields
	for f := mesh.BoundaryFace(0); f < mesh.NumFaces; f++ {
		require.NoError(t, pb.ApplyReflectingBoundary(b, f, 0))
		d := f.Dim()
		pb.faceCells(b, f, func(ghost, mirror [3]int) {
			// Ghost at offset -n mirrors interior at +n-1
			if f.Side() < 0 {
				assert.Equal(t, fa.IS(d)-ghost[d]-1, mirror[d]-fa.IS(d))
			}
			for n := 0; n < 4; n++ {
				v := fa.At(n, mirror[2], mirror[1], mirror[0])
				if n == d+1 {
					v = -v
				}
				assert.Equal(t, v, fa.At(n, ghost[2], ghost[1], ghost[0]))
			}
		})
	}
	{ // Reflecting twice across the same face restores the interior directions
		for d := 0; d < 3; d++ {
			src := make([]float64, pb.Angles.NAngles())
			mid := make([]float64, len(src))
			out := make([]float64, len(src))
			for a := range src {
				src[a] = float64(a)
			}
			Remap(pb.Angles.Reflect[d], src, mid)
			Remap(pb.Angles.Reflect[d], mid, out)
			assert.Equal(t, src, out)
		}
	}
}

func TestReflectingAngles(t *testing.T) {
	m := angleMesh(t, allFaces(mesh.BoundaryReflecting), 4, 8)
	pb, err := NewPhysicalBoundaries(m, nil)
	require.NoError(t, err)
	var (
		ag    = pb.Angles
		b     = m.Blocks[0]
		fa    = b.Fields
		field = func(n [3]float64) float64 { return 10 + n[0] + 2*n[1] + 3*n[2] }
	)
	for _, f := range []mesh.BoundaryFace{mesh.InnerX1, mesh.OuterX2, mesh.InnerX3} {
		d := f.Dim()
		for a := 0; a < ag.NAngles(); a++ {
			v := field(ag.Direction(a))
			for idx := range fa.Var(4 + a) {
				fa.Var(4 + a)[idx] = v
			}
		}
		require.NoError(t, pb.ApplyReflectingBoundary(b, f, 0))
		pb.faceCells(b, f, func(ghost, _ [3]int) {
			for a := 0; a < ag.NAngles(); a++ {
				// The ghost sees the mirror image of each direction
				n := ag.Direction(a)
				n[d] = -n[d]
				assert.InDelta(t, field(n), fa.At(4+a, ghost[2], ghost[1], ghost[0]), 1.e-12)
			}
		})
	}
}

func TestPolarBoundaryTwiceIsIdentity(t *testing.T) {
	bcs := allFaces(mesh.BoundaryOutflow)
	bcs[mesh.InnerX2], bcs[mesh.OuterX2] = mesh.BoundaryPolar, mesh.BoundaryPolar
	bcs[mesh.InnerX3], bcs[mesh.OuterX3] = mesh.BoundaryPeriodic, mesh.BoundaryPeriodic
	m := angleMesh(t, bcs, 2, 6)
	fillRandom(m, 9)
	pb, err := NewPhysicalBoundaries(m, nil)
	require.NoError(t, err)
	b := m.Blocks[0]
	require.Equal(t, mesh.BoundaryPolar, m.FaceFlag(b, mesh.InnerX2))
	before := b.Fields.Copy()
	require.NoError(t, pb.ApplyPolarBoundary(b, mesh.InnerX2, 0))
	{ // Once rotates psi by half a turn
		pb.faceCells(b, mesh.InnerX2, func(ghost, _ [3]int) {
			for l := 0; l < 2; l++ {
				for mm := 0; mm < 6; mm++ {
					a := pb.Angles.AngleInd(l, mm)
					src := pb.Angles.AngleInd(l, (mm+3)%6)
					assert.Equal(t, before.At(4+src, ghost[2], ghost[1], ghost[0]),
						b.Fields.At(4+a, ghost[2], ghost[1], ghost[0]))
				}
			}
		})
	}
	require.NoError(t, pb.ApplyPolarBoundary(b, mesh.InnerX2, 0))
	assert.Equal(t, before.Data, b.Fields.Data)
	{ // Odd NPsi cannot cross a pole
		m.Config.NPsi = 5
		_, err = NewPhysicalBoundaries(m, nil)
		assert.ErrorIs(t, err, mesh.ErrInvalidConfig)
	}
}

func TestFaceCellsVisitEachGhostOnce(t *testing.T) {
	bcs := allFaces(mesh.BoundaryOutflow)
	bcs[mesh.InnerX3], bcs[mesh.OuterX3] = mesh.BoundaryPeriodic, mesh.BoundaryPeriodic
	m := angleMesh(t, bcs, 1, 2)
	pb, err := NewPhysicalBoundaries(m, nil)
	require.NoError(t, err)
	gid, _ := m.GIDOf(mesh.LogicalLocation{})
	b := m.Blocks[gid]
	fa := b.Fields
	{ // X1 face: X2 spans its ghosts only toward the neighbor block, X3 is periodic
		seen := make(map[[3]int]int)
		pb.faceCells(b, mesh.InnerX1, func(ghost, _ [3]int) { seen[ghost]++ })
		assert.Len(t, seen, 2*(4+2)*(4+4))
		for ghost, count := range seen {
			assert.Equalf(t, 1, count, "ghost %v", ghost)
		}
	}
	{ // X2 face: every X1 column including its ghosts
		seen := make(map[[3]int]int)
		pb.faceCells(b, mesh.InnerX2, func(ghost, mirror [3]int) {
			seen[ghost]++
			assert.Equal(t, fa.IS(1)-ghost[1]-1, mirror[1]-fa.IS(1))
		})
		assert.Len(t, seen, 2*fa.N[0]*fa.N[2])
		for _, count := range seen {
			assert.Equal(t, 1, count)
		}
	}
}

func TestCornerGhostsFilled(t *testing.T) {
	const unset = -999.
	cfg := mesh.MeshConfig{
		Dim:        2,
		RootBlocks: [3]int64{2, 2, 1},
		BlockCells: [3]int{4, 4, 1},
		NGhost:     2,
		DomainMax:  [3]float64{1, 1, 0},
		Fields: []mesh.FieldSpec{
			{Name: "rho", Kind: mesh.Scalar},
			{Name: "m1", Kind: mesh.VectorX1},
		},
		Boundaries: [mesh.NumFaces]mesh.BoundaryFlag{
			mesh.BoundaryReflecting, mesh.BoundaryReflecting,
			mesh.BoundaryPeriodic, mesh.BoundaryPeriodic,
		},
	}
	m, err := mesh.NewMesh(cfg)
	require.NoError(t, err)
	require.NoError(t, m.BuildTopology())
	for _, b := range m.Blocks {
		for i := range b.Fields.Data {
			b.Fields.Data[i] = unset
		}
		forInterior(b.Fields, func(k, j, i int) {
			g := float64(10*m.GlobalCellIndex(b, 0, i) + m.GlobalCellIndex(b, 1, j))
			b.Fields.Set(0, k, j, i, g)
			b.Fields.Set(1, k, j, i, g)
		})
	}
	ex := runExchange(t, m)
	for _, b := range m.Blocks {
		require.NoError(t, ex.ApplyPhysicalBoundaries(b, 0))
	}
	for _, b := range m.Blocks {
		assert.NotContainsf(t, b.Fields.Data, unset, "block %d", b.GID)
	}
	{ // The corner beyond the reflecting face mirrors the exchanged X2 ghost
		gid, _ := m.GIDOf(mesh.LogicalLocation{})
		fa := m.Blocks[gid].Fields
		for n := 1; n <= 2; n++ {
			i, j := fa.IS(0)-n, fa.IS(1)-n
			mirror := fa.IS(0) + n - 1
			assert.Equal(t, fa.At(0, 0, j, mirror), fa.At(0, 0, j, i))
			assert.Equal(t, -fa.At(1, 0, j, mirror), fa.At(1, 0, j, i))
			// Periodic in X2, the ghost row below comes from the top of the domain
			assert.Equal(t, float64(10*(n-1)+8-n), fa.At(0, 0, j, mirror))
		}
	}
}

func TestPolarRotationAfterExchange(t *testing.T) {
	bcs := allFaces(mesh.BoundaryOutflow)
	bcs[mesh.InnerX2], bcs[mesh.OuterX2] = mesh.BoundaryPolar, mesh.BoundaryPolar
	bcs[mesh.InnerX3], bcs[mesh.OuterX3] = mesh.BoundaryPeriodic, mesh.BoundaryPeriodic
	m := angleMesh(t, bcs, 2, 6)
	fillRandom(m, 17)
	ex := runExchange(t, m)
	ag := ex.Physical.Angles
	for _, b := range m.Blocks {
		var (
			fa        = b.Fields
			exchanged = fa.Copy()
		)
		require.NoError(t, ex.ApplyPhysicalBoundaries(b, 0))
		for _, face := range []mesh.BoundaryFace{mesh.InnerX2, mesh.OuterX2} {
			if m.FaceFlag(b, face) != mesh.BoundaryPolar {
				continue
			}
			for n := 1; n <= fa.NGhost[1]; n++ {
				j := fa.IS(1) - n
				if face.Side() > 0 {
					j = fa.IE(1) + n
				}
				// Every X1 and X3 column past the pole, ghosts included
				for k := 0; k < fa.N[2]; k++ {
					for i := 0; i < fa.N[0]; i++ {
						src := i
						if i < fa.IS(0) {
							src = fa.IS(0)
						} else if i > fa.IE(0) {
							src = fa.IE(0)
						}
						for l := 0; l < 2; l++ {
							for mm := 0; mm < 6; mm++ {
								a, rot := ag.AngleInd(l, mm), ag.AngleInd(l, (mm+3)%6)
								assert.Equalf(t, exchanged.At(4+rot, k, j, src), fa.At(4+a, k, j, i),
									"block %d cell %d %d %d angle %d", b.GID, i, j, k, a)
							}
						}
					}
				}
			}
		}
	}
}

func TestOutflowAndUserBoundaries(t *testing.T) {
	bcs := allFaces(mesh.BoundaryOutflow)
	bcs[mesh.OuterX3] = mesh.BoundaryUser
	m := angleMesh(t, bcs, 1, 2)
	fillRandom(m, 13)
	{ // A user face needs a function
		_, err := NewPhysicalBoundaries(m, nil)
		assert.ErrorIs(t, err, mesh.ErrInvalidConfig)
	}
	var (
		calls   int
		errUser = errors.New("user boundary failed")
	)
	user := map[mesh.BoundaryFace]BoundaryFunc{
		mesh.OuterX3: func(b *mesh.Block, face mesh.BoundaryFace, time float64) error {
			calls++
			if time < 0 {
				return errUser
			}
			return nil
		},
	}
	pb, err := NewPhysicalBoundaries(m, user)
	require.NoError(t, err)
	for _, b := range m.Blocks {
		require.NoError(t, pb.Apply(b, 0))
	}
	// Only the two blocks on the outer X3 edge run the user function
	assert.Equal(t, 2, calls)
	b := m.Blocks[0]
	fa := b.Fields
	pb.faceCells(b, mesh.InnerX1, func(ghost, _ [3]int) {
		for n := 0; n < fa.NVar; n++ {
			assert.Equal(t, fa.At(n, ghost[2], ghost[1], fa.IS(0)), fa.At(n, ghost[2], ghost[1], ghost[0]))
		}
	})
	top := m.Blocks[len(m.Blocks)-1]
	assert.ErrorIs(t, pb.Apply(top, -1), errUser)
}

func TestAngleBracket(t *testing.T) {
	{ // Exact points snap to a single index
		ind, frac, degenerate := bracket(2.0000000000001, 4, false)
		assert.Equal(t, [2]int{2, 2}, ind)
		assert.Equal(t, 0., frac)
		assert.False(t, degenerate)
	}
	{ // Cyclic axes wrap
		ind, frac, _ := bracket(-0.5, 4, true)
		assert.Equal(t, [2]int{3, 0}, ind)
		assert.InDelta(t, 0.5, frac, 1.e-12)
	}
	{ // Outside the centers of an open axis falls back to the nearest point
		ind, frac, degenerate := bracket(3.4, 4, false)
		assert.True(t, degenerate)
		assert.Equal(t, [2]int{3, 3}, ind)
		assert.Equal(t, 0., frac)
	}
}
