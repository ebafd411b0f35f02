package mesh

import (
	"fmt"
	"strings"
)

// BoundaryFace names one of the six faces of the domain (or of a block)
type BoundaryFace uint8

const (
	InnerX1 BoundaryFace = iota
	OuterX1
	InnerX2
	OuterX2
	InnerX3
	OuterX3
)

const NumFaces = 6

// FaceOf returns the face normal to dimension d, on the inner (side < 0) or
// outer side
func FaceOf(d, side int) BoundaryFace {
	if side < 0 {
		return BoundaryFace(2 * d)
	}
	return BoundaryFace(2*d + 1)
}

// Dim returns the dimension the face is normal to
func (f BoundaryFace) Dim() int { return int(f) / 2 }

// Side returns -1 for inner faces and +1 for outer faces
func (f BoundaryFace) Side() int {
	if f%2 == 0 {
		return -1
	}
	return 1
}

func (f BoundaryFace) String() string {
	return [...]string{"InnerX1", "OuterX1", "InnerX2", "OuterX2", "InnerX3", "OuterX3"}[f]
}

// BoundaryFlag represents the physical boundary policy applied on a domain face
type BoundaryFlag uint8

const (
	// BoundaryUndefined marks an unset face, rejected by configuration checks
	BoundaryUndefined BoundaryFlag = iota

	BoundaryReflecting // Mirror interior, flip normal vector component
	BoundaryOutflow    // Zero gradient copy of the last interior cell
	BoundaryPeriodic   // Wraps to the opposite face, filled by neighbor exchange
	BoundaryPolar      // Coordinate pole, filled across the pole by neighbor exchange
	BoundaryUser       // User supplied boundary function
	BoundaryBlock      // Face shared with another block, filled by exchange
)

// String returns the string representation of a BoundaryFlag
func (bf BoundaryFlag) String() string {
	names := map[BoundaryFlag]string{
		BoundaryUndefined:  "Undefined",
		BoundaryReflecting: "Reflecting",
		BoundaryOutflow:    "Outflow",
		BoundaryPeriodic:   "Periodic",
		BoundaryPolar:      "Polar",
		BoundaryUser:       "User",
		BoundaryBlock:      "Block",
	}
	if name, ok := names[bf]; ok {
		return name
	}
	return "Unknown"
}

// BoundaryNameMap provides a mapping from common boundary names to BoundaryFlag
// Keys are lowercase for case-insensitive matching
var BoundaryNameMap = map[string]BoundaryFlag{
	"reflecting":   BoundaryReflecting,
	"reflect":      BoundaryReflecting,
	"symmetry":     BoundaryReflecting,
	"outflow":      BoundaryOutflow,
	"outlet":       BoundaryOutflow,
	"periodic":     BoundaryPeriodic,
	"polar":        BoundaryPolar,
	"pole":         BoundaryPolar,
	"user":         BoundaryUser,
	"user_defined": BoundaryUser,
}

// ParseBoundaryName converts a boundary name string to BoundaryFlag
// The matching is case-insensitive and trims whitespace
func ParseBoundaryName(name string) (BoundaryFlag, error) {
	lowerName := strings.ToLower(strings.TrimSpace(name))
	if bf, ok := BoundaryNameMap[lowerName]; ok {
		return bf, nil
	}
	return BoundaryUndefined, fmt.Errorf("%w: unknown boundary type %q", ErrInvalidConfig, name)
}
