package InputParameters

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/goamr/mesh"
)

var yamlInput = `
Title: "Refined corner"
Dim: 3
RootBlocks: [2, 2, 2]
BlockCells: [8, 8, 8]
NGhost: 2
DomainMin: [0, 0, 0]
DomainMax: [1, 1, 1]
MaxLevel: 2
Boundaries: {InnerX1: periodic, OuterX1: periodic, InnerX2: reflecting,
             OuterX2: reflecting, InnerX3: outflow, OuterX3: outflow}
Fields: [{Name: rho, Kind: scalar}, {Name: mx, Kind: vector1}]
Angles: {NZeta: 2, NPsi: 4}
Refine: [{Level: 0, LX: [1, 1, 1]}]
NumRanks: 2
NumThreads: 2
NumStages: 2
Dt: 0.01
FinalTime: 0.1
LoadBalanceInterval: 5
`

var tomlInput = `
Title = "Slab"
Dim = 1
RootBlocks = [4, 1, 1]
BlockCells = [8, 1, 1]
NGhost = 2
DomainMax = [2.0, 0.0, 0.0]
MaxLevel = 1
NumStages = 3
Dt = 0.001
MaxCycles = 20
RegridInterval = 4
RefineThreshold = 0.2
DerefineThreshold = 0.01

[Boundaries]
InnerX1 = "outflow"
OuterX1 = "user"

[[Fields]]
Name = "u"
Kind = "Scalar"
`

func TestParseYAML(t *testing.T) {
	ip := &InputParameters{}
	require.NoError(t, ip.Parse([]byte(yamlInput)))
	assert.Equal(t, "Refined corner", ip.Title)
	assert.Equal(t, [3]int64{2, 2, 2}, ip.RootBlocks)
	assert.Equal(t, "reflecting", ip.Boundaries["OuterX2"])
	assert.Equal(t, 5, ip.LoadBalanceInterval)
	{ // Test conversion to a mesh configuration
		cfg, err := ip.MeshConfig()
		require.NoError(t, err)
		assert.Equal(t, mesh.BoundaryPeriodic, cfg.Boundaries[mesh.InnerX1])
		assert.Equal(t, mesh.BoundaryReflecting, cfg.Boundaries[mesh.OuterX2])
		assert.Equal(t, mesh.BoundaryOutflow, cfg.Boundaries[mesh.OuterX3])
		require.Len(t, cfg.Fields, 2+8)
		assert.Equal(t, mesh.VectorX1, cfg.Fields[1].Kind)
		assert.Equal(t, mesh.Angle, cfg.Fields[9].Kind)
		assert.Equal(t, 7, cfg.Fields[9].AngleIndex)
		assert.Equal(t, []mesh.LogicalLocation{{Level: 0, LX: [3]int64{1, 1, 1}}}, cfg.Refine)
		m, err := mesh.NewMesh(cfg)
		require.NoError(t, err)
		assert.Equal(t, 7+8, m.NumBlocksTotal())
	}
	{ // Test run controls
		dc := ip.DriverConfig()
		assert.Equal(t, 2, dc.NumRanks)
		assert.Equal(t, 0.01, dc.Dt)
		assert.Nil(t, dc.Refine)
		center, width := ip.Pulse()
		assert.Equal(t, [3]float64{.5, .5, .5}, center)
		assert.InDelta(t, 0.1, width, 1.e-15)
	}
}

func TestParseTOML(t *testing.T) {
	ip := &InputParameters{}
	require.NoError(t, ip.ParseFile("slab.TOML", []byte(tomlInput)))
	assert.Equal(t, "Slab", ip.Title)
	assert.Equal(t, 1, ip.Dim)
	require.Len(t, ip.Fields, 1)
	cfg, err := ip.MeshConfig()
	require.NoError(t, err)
	assert.Equal(t, mesh.BoundaryUser, cfg.Boundaries[mesh.OuterX1])
	assert.Equal(t, [3]int64{4, 1, 1}, cfg.RootBlocks)
	dc := ip.DriverConfig()
	assert.Equal(t, 1, dc.NumRanks)
	assert.Equal(t, 3, dc.NumStages)
	assert.NotNil(t, dc.Refine)
}

func TestBadParameters(t *testing.T) {
	for _, input := range []string{
		"Dim: 1\nRootBlocks: [1,1,1]\nBlockCells: [4,1,1]\nNGhost: 1\nDomainMax: [1,0,0]\n" +
			"Boundaries: {InnerX9: outflow}\nFields: [{Name: u, Kind: scalar}]",
		"Dim: 1\nRootBlocks: [1,1,1]\nBlockCells: [4,1,1]\nNGhost: 1\nDomainMax: [1,0,0]\n" +
			"Boundaries: {InnerX1: sticky, OuterX1: outflow}\nFields: [{Name: u, Kind: scalar}]",
		"Dim: 1\nRootBlocks: [1,1,1]\nBlockCells: [4,1,1]\nNGhost: 1\nDomainMax: [1,0,0]\n" +
			"Boundaries: {InnerX1: outflow, OuterX1: outflow}\nFields: [{Name: u, Kind: tensor}]",
		"Dim: 1\nRootBlocks: [1,1,1]\nBlockCells: [4,1,1]\nNGhost: 1\nDomainMax: [1,0,0]\n" +
			"Boundaries: {InnerX1: periodic, OuterX1: outflow}\nFields: [{Name: u, Kind: scalar}]",
	} {
		ip := &InputParameters{}
		require.NoError(t, ip.Parse([]byte(input)))
		_, err := ip.MeshConfig()
		assert.ErrorIs(t, err, mesh.ErrInvalidConfig)
	}
	ip := &InputParameters{}
	assert.Error(t, ip.ParseTOML([]byte("Dim = [")))
}
