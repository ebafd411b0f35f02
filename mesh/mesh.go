package mesh

import (
	"fmt"

	"github.com/rs/zerolog/log"
)

type MeshConfig struct {
	Dim        int
	RootBlocks [3]int64
	BlockCells [3]int
	NGhost     int
	DomainMin  [3]float64
	DomainMax  [3]float64
	MaxLevel   int
	Boundaries [NumFaces]BoundaryFlag
	Fields     []FieldSpec
	NZeta      int // Angle grid, zero when no angle-indexed fields are present
	NPsi       int
	// Blocks refined at startup, applied in order with 2:1 balancing
	Refine   []LogicalLocation
	NumRanks int
}

// Validate checks the configuration and fills in the inactive dimensions
func (cfg *MeshConfig) Validate() (err error) {
	bad := func(format string, args ...interface{}) error {
		return fmt.Errorf("%w: "+format, append([]interface{}{ErrInvalidConfig}, args...)...)
	}
	if cfg.Dim < 1 || cfg.Dim > 3 {
		return bad("Dim must be 1, 2 or 3, got %d", cfg.Dim)
	}
	if cfg.NGhost < 1 {
		return bad("NGhost must be at least 1, got %d", cfg.NGhost)
	}
	if cfg.NumRanks < 1 {
		cfg.NumRanks = 1
	}
	for d := 0; d < 3; d++ {
		if d >= cfg.Dim {
			cfg.RootBlocks[d], cfg.BlockCells[d] = 1, 1
			if cfg.DomainMax[d] <= cfg.DomainMin[d] {
				cfg.DomainMin[d], cfg.DomainMax[d] = 0, 1
			}
			continue
		}
		if cfg.RootBlocks[d] < 1 {
			return bad("RootBlocks[%d] must be positive, got %d", d, cfg.RootBlocks[d])
		}
		if cfg.BlockCells[d]%2 != 0 || cfg.BlockCells[d] < 2*cfg.NGhost {
			return bad("BlockCells[%d]=%d must be even and at least 2*NGhost=%d",
				d, cfg.BlockCells[d], 2*cfg.NGhost)
		}
		if cfg.DomainMax[d] <= cfg.DomainMin[d] {
			return bad("empty domain along dimension %d", d)
		}
		inner, outer := cfg.Boundaries[FaceOf(d, -1)], cfg.Boundaries[FaceOf(d, 1)]
		if inner == BoundaryUndefined || outer == BoundaryUndefined {
			return bad("boundary policy missing along dimension %d", d)
		}
		if (inner == BoundaryPeriodic) != (outer == BoundaryPeriodic) {
			return bad("periodic boundaries must be paired along dimension %d", d)
		}
		if (inner == BoundaryPolar || outer == BoundaryPolar) && d != 1 {
			return bad("polar boundaries are only valid on X2 faces")
		}
		if inner == BoundaryBlock || outer == BoundaryBlock {
			return bad("block boundary is not a physical policy")
		}
	}
	if cfg.hasPolar() {
		if cfg.Dim < 2 {
			return bad("polar boundaries need Dim >= 2")
		}
		if cfg.Dim == 3 && (cfg.RootBlocks[2]%2 != 0 ||
			cfg.Boundaries[InnerX3] != BoundaryPeriodic) {
			return bad("polar boundaries need periodic X3 with an even number of root blocks")
		}
	}
	if cfg.MaxLevel < 0 {
		return bad("MaxLevel must not be negative")
	}
	if len(cfg.Fields) == 0 {
		return bad("no fields defined")
	}
	for _, f := range cfg.Fields {
		if f.Kind == Angle && (cfg.NZeta < 1 || cfg.NPsi < 1) {
			return bad("angle field %s needs a positive angle grid", f.Name)
		}
		if vd := f.Kind.VectorDim(); vd >= cfg.Dim && vd >= 0 {
			log.Debug().Str("field", f.Name).Msg("vector component along an inactive dimension")
		}
	}
	return
}

func (cfg *MeshConfig) hasPolar() bool {
	return cfg.Boundaries[InnerX2] == BoundaryPolar || cfg.Boundaries[OuterX2] == BoundaryPolar
}

// Block is one leaf of the tree, the unit of work and of ownership
type Block struct {
	GID    int
	LID    int // Position in the owning rank's block list
	Loc    LogicalLocation
	Rank   int
	Cost   float64
	XMin   [3]float64
	XMax   [3]float64
	Fields *FieldArray
}

// DX is the cell width along d
func (b *Block) DX(d int) float64 {
	return (b.XMax[d] - b.XMin[d]) / float64(b.Fields.NX[d])
}

// CellVolume of cell (k,j,i); cells are uniform inside a Cartesian block
func (b *Block) CellVolume(k, j, i int) float64 {
	return b.DX(0) * b.DX(1) * b.DX(2)
}

// CellCenter returns the coordinates of cell (k,j,i), ghosts included
func (b *Block) CellCenter(k, j, i int) (x [3]float64) {
	idx := [3]int{i, j, k}
	for d := 0; d < 3; d++ {
		x[d] = b.XMin[d] + (float64(idx[d]-b.Fields.IS(d))+0.5)*b.DX(d)
	}
	return
}

// Mesh is the explicit context shared by every package: tree, block arena
// and neighbor relations
type Mesh struct {
	Config    MeshConfig
	Tree      *Tree
	Blocks    []*Block // Arena indexed by GID, Z-order
	Relations []NeighborRelation
	Incoming  [][]int // Relations that fill the ghosts of each GID
	Outgoing  [][]int // Relations for which each GID is the sender
	gidOf     map[LogicalLocation]int
	valid     bool
}

func NewMesh(cfg MeshConfig) (m *Mesh, err error) {
	if err = cfg.Validate(); err != nil {
		return
	}
	m = &Mesh{
		Config: cfg,
		Tree:   NewTree(cfg.Dim, cfg.RootBlocks),
	}
	for _, loc := range cfg.Refine {
		if loc.Level >= cfg.MaxLevel {
			err = fmt.Errorf("%w: refinement of %s exceeds MaxLevel %d",
				ErrInvalidConfig, loc, cfg.MaxLevel)
			return
		}
		if !m.Tree.IsLeaf(loc) {
			if m.Tree.IsInternal(loc) {
				continue
			}
			err = fmt.Errorf("%w: refinement target %s is not a leaf", ErrInvalidConfig, loc)
			return
		}
		if err = m.RefineBalanced(loc); err != nil {
			return
		}
	}
	m.rebuildArena(nil)
	return
}

// NumBlocks is the number of same-level locations along dimension d
func (m *Mesh) NumBlocks(level, d int) int64 { return m.Tree.NumBlocks(level, d) }

// NVar is the number of field variables per cell
func (m *Mesh) NVar() int { return len(m.Config.Fields) }

func (m *Mesh) NumBlocksTotal() int { return len(m.Blocks) }

// GIDOf returns the block holding leaf loc
func (m *Mesh) GIDOf(loc LogicalLocation) (gid int, ok bool) {
	gid, ok = m.gidOf[loc]
	return
}

func (m *Mesh) newBlock(loc LogicalLocation) (b *Block) {
	cfg := m.Config
	b = &Block{
		Loc:    loc,
		Cost:   1,
		Fields: NewFieldArray(len(cfg.Fields), cfg.BlockCells, cfg.NGhost, cfg.Dim),
	}
	for d := 0; d < 3; d++ {
		var (
			nb    = float64(m.NumBlocks(loc.Level, d))
			width = (cfg.DomainMax[d] - cfg.DomainMin[d]) / nb
		)
		b.XMin[d] = cfg.DomainMin[d] + float64(loc.LX[d])*width
		b.XMax[d] = b.XMin[d] + width
	}
	return
}

// rebuildArena lays out the leaves in Z-order. Existing blocks are reused by
// location; new leaves get fresh storage.
func (m *Mesh) rebuildArena(prev map[LogicalLocation]*Block) {
	leaves := m.Tree.Leaves()
	m.Blocks = make([]*Block, len(leaves))
	m.gidOf = make(map[LogicalLocation]int, len(leaves))
	for gid, loc := range leaves {
		b, ok := prev[loc]
		if !ok {
			b = m.newBlock(loc)
		}
		b.GID = gid
		m.Blocks[gid] = b
		m.gidOf[loc] = gid
	}
	m.assignLocalIDs()
	m.InvalidateTopology()
}

func (m *Mesh) assignLocalIDs() {
	counts := make(map[int]int)
	for _, b := range m.Blocks {
		b.LID = counts[b.Rank]
		counts[b.Rank]++
	}
}

// SetRanks applies a GID ordered rank assignment and invalidates relations
func (m *Mesh) SetRanks(ranks []int) {
	if len(ranks) != len(m.Blocks) {
		panic(fmt.Sprintf("rank list of %d entries for %d blocks", len(ranks), len(m.Blocks)))
	}
	for gid, r := range ranks {
		m.Blocks[gid].Rank = r
	}
	m.assignLocalIDs()
	m.InvalidateTopology()
}

// BlocksOnRank returns the blocks owned by rank, in GID order
func (m *Mesh) BlocksOnRank(rank int) (blocks []*Block) {
	for _, b := range m.Blocks {
		if b.Rank == rank {
			blocks = append(blocks, b)
		}
	}
	return
}

func (m *Mesh) InvalidateTopology() { m.valid = false }

func (m *Mesh) TopologyValid() bool { return m.valid }

// BuildTopology recomputes the neighbor relations of every block and numbers
// the boundary buffers. Relation i uses buffer i.
func (m *Mesh) BuildTopology() (err error) {
	var (
		nb = len(m.Blocks)
	)
	m.valid = false
	m.Relations = nil
	m.Incoming = make([][]int, nb)
	m.Outgoing = make([][]int, nb)
	for _, b := range m.Blocks {
		var rels []NeighborRelation
		if rels, err = m.FindNeighbors(b); err != nil {
			return
		}
		for _, rel := range rels {
			rel.BufferID = len(m.Relations)
			m.Incoming[rel.BlockID] = append(m.Incoming[rel.BlockID], rel.BufferID)
			m.Outgoing[rel.NeighborID] = append(m.Outgoing[rel.NeighborID], rel.BufferID)
			m.Relations = append(m.Relations, rel)
		}
	}
	m.valid = true
	log.Debug().Int("blocks", nb).Int("relations", len(m.Relations)).
		Msg("topology built")
	return
}

// Relation returns relation id, refusing while the topology is stale
func (m *Mesh) Relation(id int) (rel *NeighborRelation, err error) {
	if !m.valid {
		err = ErrTopologyStale
		return
	}
	if id < 0 || id >= len(m.Relations) {
		err = fmt.Errorf("%w: no relation %d", ErrTopologyViolation, id)
		return
	}
	rel = &m.Relations[id]
	return
}

// FaceFlag returns the boundary policy seen by block b on face f: the
// domain policy when the face lies on a non-periodic domain edge, Block
// otherwise. Polar faces keep their flag, their ghosts are filled by
// exchange and then remapped.
func (m *Mesh) FaceFlag(b *Block, f BoundaryFace) BoundaryFlag {
	var (
		d    = f.Dim()
		edge int64
	)
	if d >= m.Config.Dim {
		return BoundaryBlock
	}
	if f.Side() > 0 {
		edge = m.NumBlocks(b.Loc.Level, d) - 1
	}
	if b.Loc.LX[d] != edge {
		return BoundaryBlock
	}
	if flag := m.Config.Boundaries[f]; flag != BoundaryPeriodic {
		return flag
	}
	return BoundaryBlock
}
