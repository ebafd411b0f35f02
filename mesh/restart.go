package mesh

import (
	"fmt"
	"io"
	"math"

	"github.com/klauspost/compress/zstd"
	"google.golang.org/protobuf/encoding/protowire"
)

const restartVersion = 1

// Restart message field numbers
const (
	rsVersion protowire.Number = iota + 1
	rsDim
	rsRootBlocks
	rsBlockCells
	rsNGhost
	rsNVar
	rsTime
	rsCycle
	rsBlock
)

// Block message field numbers
const (
	rbLevel protowire.Number = iota + 1
	rbLX
	rbRank
	rbCost
	rbData
)

// WriteRestart serializes the tree, ownership, costs and field data of m
func WriteRestart(w io.Writer, m *Mesh, time float64, cycle int) (err error) {
	var (
		b   []byte
		cfg = m.Config
	)
	b = protowire.AppendTag(b, rsVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, restartVersion)
	b = protowire.AppendTag(b, rsDim, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(cfg.Dim))
	b = appendPacked(b, rsRootBlocks, cfg.RootBlocks[:])
	b = appendPacked(b, rsBlockCells, []int64{
		int64(cfg.BlockCells[0]), int64(cfg.BlockCells[1]), int64(cfg.BlockCells[2])})
	b = protowire.AppendTag(b, rsNGhost, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(cfg.NGhost))
	b = protowire.AppendTag(b, rsNVar, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.NVar()))
	b = protowire.AppendTag(b, rsTime, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(time))
	b = protowire.AppendTag(b, rsCycle, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(cycle))
	for _, blk := range m.Blocks {
		b = protowire.AppendTag(b, rsBlock, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeBlock(blk))
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return fmt.Errorf("create zstd encoder: %w", err)
	}
	defer enc.Close()
	if _, err = w.Write(enc.EncodeAll(b, nil)); err != nil {
		return fmt.Errorf("write restart: %w", err)
	}
	return
}

func encodeBlock(blk *Block) (b []byte) {
	b = protowire.AppendTag(b, rbLevel, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(blk.Loc.Level))
	b = appendPacked(b, rbLX, blk.Loc.LX[:])
	b = protowire.AppendTag(b, rbRank, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(blk.Rank))
	b = protowire.AppendTag(b, rbCost, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(blk.Cost))
	data := make([]byte, 0, 8*len(blk.Fields.Data))
	for _, v := range blk.Fields.Data {
		data = protowire.AppendFixed64(data, math.Float64bits(v))
	}
	b = protowire.AppendTag(b, rbData, protowire.BytesType)
	b = protowire.AppendBytes(b, data)
	return
}

func appendPacked(b []byte, num protowire.Number, vals []int64) []byte {
	var packed []byte
	for _, v := range vals {
		packed = protowire.AppendVarint(packed, uint64(v))
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, packed)
}

type savedBlock struct {
	loc  LogicalLocation
	rank int
	cost float64
	data []float64
}

// ReadRestart rebuilds a mesh written by WriteRestart. The configuration
// supplies the domain, boundaries and fields and must match the saved shape.
func ReadRestart(r io.Reader, cfg MeshConfig) (m *Mesh, time float64, cycle int, err error) {
	var (
		raw, b  []byte
		dim     int
		nghost  int
		nvar    int
		root    []int64
		cells   []int64
		blocks  []savedBlock
		version uint64
	)
	if raw, err = io.ReadAll(r); err != nil {
		err = fmt.Errorf("read restart: %w", err)
		return
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		err = fmt.Errorf("create zstd decoder: %w", err)
		return
	}
	defer dec.Close()
	if b, err = dec.DecodeAll(raw, nil); err != nil {
		err = fmt.Errorf("%w: %v", ErrRestart, err)
		return
	}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			err = fmt.Errorf("%w: %v", ErrRestart, protowire.ParseError(n))
			return
		}
		b = b[n:]
		var (
			v    uint64
			body []byte
		)
		switch typ {
		case protowire.VarintType:
			v, n = protowire.ConsumeVarint(b)
		case protowire.Fixed64Type:
			v, n = protowire.ConsumeFixed64(b)
		case protowire.BytesType:
			body, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			err = fmt.Errorf("%w: field %d: %v", ErrRestart, num, protowire.ParseError(n))
			return
		}
		b = b[n:]
		switch num {
		case rsVersion:
			version = v
		case rsDim:
			dim = int(v)
		case rsRootBlocks:
			root, err = consumePacked(body)
		case rsBlockCells:
			cells, err = consumePacked(body)
		case rsNGhost:
			nghost = int(v)
		case rsNVar:
			nvar = int(v)
		case rsTime:
			time = math.Float64frombits(v)
		case rsCycle:
			cycle = int(v)
		case rsBlock:
			var sb savedBlock
			sb, err = decodeBlock(body)
			blocks = append(blocks, sb)
		}
		if err != nil {
			return
		}
	}
	if version != restartVersion {
		err = fmt.Errorf("%w: unsupported version %d", ErrRestart, version)
		return
	}
	cfg.Refine = nil
	if m, err = NewMesh(cfg); err != nil {
		return
	}
	cfg = m.Config
	if dim != cfg.Dim || nghost != cfg.NGhost || nvar != m.NVar() || len(root) != 3 || len(cells) != 3 {
		err = fmt.Errorf("%w: saved shape does not match the configuration", ErrRestart)
		return
	}
	for d := 0; d < 3; d++ {
		if root[d] != cfg.RootBlocks[d] || int(cells[d]) != cfg.BlockCells[d] {
			err = fmt.Errorf("%w: saved shape does not match the configuration", ErrRestart)
			return
		}
	}
	for _, sb := range blocks {
		if sb.loc.Level > cfg.MaxLevel || !m.Tree.InDomain(sb.loc) {
			err = fmt.Errorf("%w: block %s outside the configured mesh", ErrRestart, sb.loc)
			return
		}
		var chain []LogicalLocation
		for p := sb.loc; p.Level > 0; {
			p = p.Parent()
			chain = append(chain, p)
		}
		for i := len(chain) - 1; i >= 0; i-- {
			if m.Tree.IsLeaf(chain[i]) {
				if err = m.Tree.Refine(chain[i]); err != nil {
					return
				}
			}
		}
	}
	m.rebuildArena(nil)
	if len(m.Blocks) != len(blocks) {
		err = fmt.Errorf("%w: %d saved blocks do not tile the domain (%d leaves)",
			ErrRestart, len(blocks), len(m.Blocks))
		return
	}
	for _, sb := range blocks {
		gid, ok := m.gidOf[sb.loc]
		if !ok {
			err = fmt.Errorf("%w: saved block %s is not a leaf", ErrRestart, sb.loc)
			return
		}
		blk := m.Blocks[gid]
		if len(sb.data) != len(blk.Fields.Data) {
			err = fmt.Errorf("%w: block %s holds %d values, want %d",
				ErrRestart, sb.loc, len(sb.data), len(blk.Fields.Data))
			return
		}
		copy(blk.Fields.Data, sb.data)
		blk.Rank, blk.Cost = sb.rank, sb.cost
	}
	m.assignLocalIDs()
	return
}

func decodeBlock(b []byte) (sb savedBlock, err error) {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			err = fmt.Errorf("%w: block: %v", ErrRestart, protowire.ParseError(n))
			return
		}
		b = b[n:]
		var (
			v    uint64
			body []byte
		)
		switch typ {
		case protowire.VarintType:
			v, n = protowire.ConsumeVarint(b)
		case protowire.Fixed64Type:
			v, n = protowire.ConsumeFixed64(b)
		case protowire.BytesType:
			body, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			err = fmt.Errorf("%w: block field %d: %v", ErrRestart, num, protowire.ParseError(n))
			return
		}
		b = b[n:]
		switch num {
		case rbLevel:
			sb.loc.Level = int(v)
		case rbLX:
			var lx []int64
			if lx, err = consumePacked(body); err != nil {
				return
			}
			if len(lx) != 3 {
				err = fmt.Errorf("%w: block location has %d components", ErrRestart, len(lx))
				return
			}
			copy(sb.loc.LX[:], lx)
		case rbRank:
			sb.rank = int(v)
		case rbCost:
			sb.cost = math.Float64frombits(v)
		case rbData:
			if len(body)%8 != 0 {
				err = fmt.Errorf("%w: truncated field data", ErrRestart)
				return
			}
			sb.data = make([]float64, 0, len(body)/8)
			for len(body) > 0 {
				u, m := protowire.ConsumeFixed64(body)
				sb.data = append(sb.data, math.Float64frombits(u))
				body = body[m:]
			}
		}
	}
	return
}

func consumePacked(b []byte) (vals []int64, err error) {
	for len(b) > 0 {
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			err = fmt.Errorf("%w: %v", ErrRestart, protowire.ParseError(n))
			return
		}
		vals = append(vals, int64(v))
		b = b[n:]
	}
	return
}
