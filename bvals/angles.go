package bvals

import (
	"fmt"
	"math"

	"github.com/rs/zerolog/log"
)

// AngleWeight interpolates one target direction from two source directions:
// (1-Frac)*v[Ind[0]] + Frac*v[Ind[1]]
type AngleWeight struct {
	Ind  [2]int
	Frac float64
}

// AngleGrid is a cell centered (zeta, psi) grid: zeta in [0,pi] measured
// from the X3 axis, psi in [0,2pi) around it. Angle index a = l*NPsi + m.
type AngleGrid struct {
	NZeta, NPsi int
	Zeta, Psi   []float64
	// Reflect[d] maps directions across a face normal to X(d+1)
	Reflect [3][]AngleWeight
	// Polar rotates psi by half a turn across a coordinate pole
	Polar []AngleWeight
}

const angleSnapTol = 1.e-9

func NewAngleGrid(nZeta, nPsi int) (ag *AngleGrid, err error) {
	if nZeta < 1 || nPsi < 1 {
		err = fmt.Errorf("%w: angle grid %dx%d", ErrBufferMismatch, nZeta, nPsi)
		return
	}
	ag = &AngleGrid{
		NZeta: nZeta,
		NPsi:  nPsi,
		Zeta:  make([]float64, nZeta),
		Psi:   make([]float64, nPsi),
	}
	for l := range ag.Zeta {
		ag.Zeta[l] = (float64(l) + 0.5) * math.Pi / float64(nZeta)
	}
	for m := range ag.Psi {
		ag.Psi[m] = (float64(m) + 0.5) * 2 * math.Pi / float64(nPsi)
	}
	ag.Reflect[0] = ag.psiTable(func(psi float64) float64 { return math.Pi - psi })
	ag.Reflect[1] = ag.psiTable(func(psi float64) float64 { return -psi })
	ag.Reflect[2] = ag.zetaTable(func(zeta float64) float64 { return math.Pi - zeta })
	ag.Polar = ag.psiTable(func(psi float64) float64 { return psi + math.Pi })
	return
}

func (ag *AngleGrid) AngleInd(l, m int) int { return l*ag.NPsi + m }

func (ag *AngleGrid) NAngles() int { return ag.NZeta * ag.NPsi }

// Direction returns the unit vector of angle index a
func (ag *AngleGrid) Direction(a int) (n [3]float64) {
	var (
		zeta = ag.Zeta[a/ag.NPsi]
		psi  = ag.Psi[a%ag.NPsi]
	)
	n[0] = math.Sin(zeta) * math.Cos(psi)
	n[1] = math.Sin(zeta) * math.Sin(psi)
	n[2] = math.Cos(zeta)
	return
}

// bracket locates position p (in cell units, centers at integers) on an axis
// of n points. Cyclic axes wrap; on open axes a position outside the
// centers has no bracket and falls back to the nearest point.
func bracket(p float64, n int, cyclic bool) (ind [2]int, frac float64, degenerate bool) {
	if cyclic {
		p = math.Mod(p, float64(n))
		if p < 0 {
			p += float64(n)
		}
	}
	lo := math.Floor(p)
	frac = p - lo
	ind[0] = int(lo)
	switch {
	case frac < angleSnapTol:
		frac = 0
	case frac > 1-angleSnapTol:
		frac = 0
		ind[0]++
	}
	if cyclic {
		ind[0] %= n
		ind[1] = (ind[0] + 1) % n
		return
	}
	ind[1] = ind[0] + 1
	if ind[0] < 0 || ind[0] > n-1 || (frac > 0 && ind[1] > n-1) {
		degenerate = true
		ind[0] = min(max(int(math.Round(p)), 0), n-1)
		ind[1], frac = ind[0], 0
	}
	if frac == 0 {
		ind[1] = ind[0]
	}
	return
}

func (ag *AngleGrid) psiTable(f func(psi float64) float64) (table []AngleWeight) {
	dpsi := 2 * math.Pi / float64(ag.NPsi)
	table = make([]AngleWeight, ag.NAngles())
	for l := 0; l < ag.NZeta; l++ {
		for m := 0; m < ag.NPsi; m++ {
			ind, frac, _ := bracket(f(ag.Psi[m])/dpsi-0.5, ag.NPsi, true)
			table[ag.AngleInd(l, m)] = AngleWeight{
				Ind:  [2]int{ag.AngleInd(l, ind[0]), ag.AngleInd(l, ind[1])},
				Frac: frac,
			}
		}
	}
	return
}

func (ag *AngleGrid) zetaTable(f func(zeta float64) float64) (table []AngleWeight) {
	dzeta := math.Pi / float64(ag.NZeta)
	table = make([]AngleWeight, ag.NAngles())
	for l := 0; l < ag.NZeta; l++ {
		ind, frac, degenerate := bracket(f(ag.Zeta[l])/dzeta-0.5, ag.NZeta, false)
		if degenerate {
			log.Warn().Int("l", l).Int("nearest", ind[0]).
				Msg("zero width angle bracket, using nearest direction")
		}
		for m := 0; m < ag.NPsi; m++ {
			table[ag.AngleInd(l, m)] = AngleWeight{
				Ind:  [2]int{ag.AngleInd(ind[0], m), ag.AngleInd(ind[1], m)},
				Frac: frac,
			}
		}
	}
	return
}

// Remap fills dst[a] from src through table
func Remap(table []AngleWeight, src, dst []float64) {
	for a, w := range table {
		dst[a] = (1-w.Frac)*src[w.Ind[0]] + w.Frac*src[w.Ind[1]]
	}
}
