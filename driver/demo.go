package driver

import (
	"math"

	"github.com/notargets/goamr/mesh"
)

// InitGaussian sets variable 0 of every block to a Gaussian pulse of the
// given width around center, all other variables to zero
func InitGaussian(m *mesh.Mesh, center [3]float64, width float64) {
	for _, b := range m.Blocks {
		fa := b.Fields
		for i := range fa.Data {
			fa.Data[i] = 0
		}
		lo, hi := fa.Interior()
		for k := lo[2]; k <= hi[2]; k++ {
			for j := lo[1]; j <= hi[1]; j++ {
				for i := lo[0]; i <= hi[0]; i++ {
					var (
						x  = b.CellCenter(k, j, i)
						r2 float64
					)
					for d := 0; d < m.Config.Dim; d++ {
						r2 += (x[d] - center[d]) * (x[d] - center[d])
					}
					fa.Set(0, k, j, i, math.Exp(-r2/(width*width)))
				}
			}
		}
	}
}

// SmoothingKernel is an explicit diffusion step with coefficient nu on every
// variable, each stage advancing dt/nStages. It exists to exercise the ghost
// exchange from the command line.
func SmoothingKernel(dim, nStages int, nu float64) Kernel {
	return func(b *mesh.Block, _ int, _, dt float64) error {
		var (
			fa     = b.Fields
			lo, hi = fa.Interior()
			h      = dt / float64(nStages)
			old    = fa.Copy()
			coef   [3]float64
			stride = [3]int{1, fa.N[0], fa.N[0] * fa.N[1]}
		)
		for d := 0; d < dim; d++ {
			dx := b.DX(d)
			coef[d] = nu * h / (dx * dx)
		}
		for n := 0; n < fa.NVar; n++ {
			for k := lo[2]; k <= hi[2]; k++ {
				for j := lo[1]; j <= hi[1]; j++ {
					for i := lo[0]; i <= hi[0]; i++ {
						var (
							ind = old.Index(n, k, j, i)
							u   = old.Data[ind]
							du  float64
						)
						for d := 0; d < dim; d++ {
							du += coef[d] * (old.Data[ind+stride[d]] - 2*u + old.Data[ind-stride[d]])
						}
						fa.Data[ind] = u + du
					}
				}
			}
		}
		return nil
	}
}

// GradientRefine flags blocks whose largest jump in variable 0 between
// neighboring cells exceeds refine, and blocks below derefine for merging
func GradientRefine(dim int, refine, derefine float64) mesh.RefineFunc {
	return func(b *mesh.Block) mesh.RefineFlag {
		var (
			fa     = b.Fields
			lo, hi = fa.Interior()
			jump   float64
			stride = [3]int{1, fa.N[0], fa.N[0] * fa.N[1]}
		)
		for k := lo[2]; k <= hi[2]; k++ {
			for j := lo[1]; j <= hi[1]; j++ {
				for i := lo[0]; i <= hi[0]; i++ {
					ind := fa.Index(0, k, j, i)
					for d := 0; d < dim; d++ {
						if [3]int{i, j, k}[d] < hi[d] {
							jump = math.Max(jump, math.Abs(fa.Data[ind+stride[d]]-fa.Data[ind]))
						}
					}
				}
			}
		}
		switch {
		case jump > refine:
			return mesh.RefineRefine
		case jump < derefine:
			return mesh.RefineDerefine
		}
		return mesh.RefineKeep
	}
}
