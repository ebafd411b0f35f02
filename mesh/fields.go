package mesh

import (
	"fmt"
	"strings"
)

type FieldKind uint8

const (
	Scalar FieldKind = iota
	VectorX1
	VectorX2
	VectorX3
	Angle // One direction of an angle-indexed transport quantity
)

func (fk FieldKind) String() string {
	return [...]string{"Scalar", "VectorX1", "VectorX2", "VectorX3", "Angle"}[fk]
}

var FieldKindNameMap = map[string]FieldKind{
	"scalar":   Scalar,
	"vector1":  VectorX1,
	"vectorx1": VectorX1,
	"vector2":  VectorX2,
	"vectorx2": VectorX2,
	"vector3":  VectorX3,
	"vectorx3": VectorX3,
	"angle":    Angle,
}

func ParseFieldKind(name string) (FieldKind, error) {
	if fk, ok := FieldKindNameMap[strings.ToLower(strings.TrimSpace(name))]; ok {
		return fk, nil
	}
	return Scalar, fmt.Errorf("%w: unknown field kind %q", ErrInvalidConfig, name)
}

// VectorDim is the component direction of a vector field, -1 otherwise
func (fk FieldKind) VectorDim() int {
	switch fk {
	case VectorX1:
		return 0
	case VectorX2:
		return 1
	case VectorX3:
		return 2
	}
	return -1
}

type FieldSpec struct {
	Name string
	Kind FieldKind
	// Position inside the angle group, l*NPsi+m, for Kind == Angle
	AngleIndex int
}

// FieldArray holds NVar cell-centered variables of one block, ghost zones
// included, stored with X1 fastest
type FieldArray struct {
	NVar   int
	N      [3]int // Cells per dimension including ghosts
	NX     [3]int // Interior cells per dimension
	NGhost [3]int // Zero on inactive dimensions
	Data   []float64
}

func NewFieldArray(nvar int, nx [3]int, nghost, dim int) (fa *FieldArray) {
	fa = &FieldArray{NVar: nvar, NX: nx}
	for d := 0; d < 3; d++ {
		if d < dim {
			fa.NGhost[d] = nghost
		}
		fa.N[d] = nx[d] + 2*fa.NGhost[d]
	}
	fa.Data = make([]float64, nvar*fa.N[0]*fa.N[1]*fa.N[2])
	return
}

func (fa *FieldArray) Index(n, k, j, i int) int {
	return ((n*fa.N[2]+k)*fa.N[1]+j)*fa.N[0] + i
}

func (fa *FieldArray) At(n, k, j, i int) float64 {
	return fa.Data[fa.Index(n, k, j, i)]
}

func (fa *FieldArray) Set(n, k, j, i int, v float64) {
	fa.Data[fa.Index(n, k, j, i)] = v
}

// IS and IE are the first and last interior index along d
func (fa *FieldArray) IS(d int) int { return fa.NGhost[d] }
func (fa *FieldArray) IE(d int) int { return fa.NGhost[d] + fa.NX[d] - 1 }

// Var returns the slice holding variable n
func (fa *FieldArray) Var(n int) []float64 {
	stride := fa.N[0] * fa.N[1] * fa.N[2]
	return fa.Data[n*stride : (n+1)*stride]
}

func (fa *FieldArray) Copy() (c *FieldArray) {
	c = &FieldArray{NVar: fa.NVar, N: fa.N, NX: fa.NX, NGhost: fa.NGhost}
	c.Data = make([]float64, len(fa.Data))
	copy(c.Data, fa.Data)
	return
}

// AngleSpecs appends one Angle variable per (zeta, psi) direction
func AngleSpecs(name string, nZeta, nPsi int) (specs []FieldSpec) {
	for l := 0; l < nZeta; l++ {
		for m := 0; m < nPsi; m++ {
			specs = append(specs, FieldSpec{
				Name:       fmt.Sprintf("%s_%d_%d", name, l, m),
				Kind:       Angle,
				AngleIndex: l*nPsi + m,
			})
		}
	}
	return
}

// Interior returns the first and last interior index per dimension
func (fa *FieldArray) Interior() (lo, hi [3]int) {
	for d := 0; d < 3; d++ {
		lo[d], hi[d] = fa.IS(d), fa.IE(d)
	}
	return
}
