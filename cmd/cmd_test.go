package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/goamr/mesh"
)

var problem = `
Title: Test Case
Dim: 2
RootBlocks: [2, 2, 1]
BlockCells: [4, 4, 1]
NGhost: 2
DomainMax: [1, 1, 1]
MaxLevel: 1
Boundaries: {InnerX1: periodic, OuterX1: periodic, InnerX2: reflecting, OuterX2: user}
Fields: [{Name: rho, Kind: scalar}, {Name: my, Kind: vector2}]
Refine: [{Level: 0, LX: [0, 0, 0]}]
NumRanks: 2
NumThreads: 1
NumStages: 2
Dt: 0.0001
MaxCycles: 3
PulseWidth: 0.2
`

func writeProblem(t *testing.T) (fileName string) {
	fileName = filepath.Join(t.TempDir(), "problem.yaml")
	require.NoError(t, os.WriteFile(fileName, []byte(problem), 0o644))
	return
}

func readMesh(t *testing.T, fileName string) (m *mesh.Mesh, time float64, cycle int) {
	ip, err := readProblem(writeProblem(t))
	require.NoError(t, err)
	cfg, err := ip.MeshConfig()
	require.NoError(t, err)
	f, err := os.Open(fileName)
	require.NoError(t, err)
	defer f.Close()
	m, time, cycle, err = mesh.ReadRestart(f, cfg)
	require.NoError(t, err)
	return
}

func TestPartitionAndNeighbors(t *testing.T) {
	fileName := writeProblem(t)
	{ // Test the partition report
		var buf bytes.Buffer
		require.NoError(t, Partition(&buf, fileName, 3))
		out := buf.String()
		assert.Contains(t, out, "Ranks: 3  Blocks: 7")
		assert.Contains(t, out, "rank 2")
	}
	{ // Test the neighbor dump of one block
		var buf bytes.Buffer
		require.NoError(t, Neighbors(&buf, fileName, 0))
		assert.Contains(t, buf.String(), "Block 0 L1(0,0,0) level 1")
		assert.NotContains(t, buf.String(), "Block 1 ")
		assert.Error(t, Neighbors(&buf, fileName, 7))
	}
	{ // Test a missing problem file
		assert.Error(t, Partition(&bytes.Buffer{}, "", 2))
		assert.Error(t, Partition(&bytes.Buffer{}, filepath.Join(t.TempDir(), "none.yaml"), 2))
	}
}

func TestRunAndRestart(t *testing.T) {
	var (
		fileName = writeProblem(t)
		dir      = t.TempDir()
		first    = filepath.Join(dir, "first.rst")
		second   = filepath.Join(dir, "second.rst")
	)
	require.NoError(t, Run(context.Background(), &RunOptions{ProblemFile: fileName, RestartOut: first}))
	m1, time1, cycle1 := readMesh(t, first)
	assert.Equal(t, 3, cycle1)
	assert.InDelta(t, 3.e-4, time1, 1.e-15)
	// The run is already at MaxCycles, so resuming only rewrites the state
	require.NoError(t, Run(context.Background(), &RunOptions{
		ProblemFile: fileName, RestartIn: first, RestartOut: second}))
	m2, time2, cycle2 := readMesh(t, second)
	assert.Equal(t, cycle1, cycle2)
	assert.Equal(t, time1, time2)
	require.Equal(t, len(m1.Blocks), len(m2.Blocks))
	for gid, b := range m1.Blocks {
		assert.Equal(t, b.Loc, m2.Blocks[gid].Loc)
		assert.Equal(t, b.Fields.Data, m2.Blocks[gid].Fields.Data)
	}
}

func TestZeroGhosts(t *testing.T) {
	fa := mesh.NewFieldArray(1, [3]int{4, 4, 1}, 2, 2)
	for i := range fa.Data {
		fa.Data[i] = 1
	}
	b := &mesh.Block{Fields: fa}
	require.NoError(t, zeroGhosts(b, mesh.OuterX2, 0))
	for j := 0; j < fa.N[1]; j++ {
		for i := 0; i < fa.N[0]; i++ {
			want := 1.
			if j > fa.IE(1) {
				want = 0
			}
			assert.Equal(t, want, fa.At(0, 0, j, i))
		}
	}
}
