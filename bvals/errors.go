package bvals

import "errors"

var (
	// ErrBufferMismatch covers a missing buffer, a size mismatch or an
	// exchange attempted on a stale topology
	ErrBufferMismatch = errors.New("bvals: boundary buffer mismatch")
	// ErrNumerical is raised when prolongation or restriction produces NaN
	ErrNumerical = errors.New("bvals: non-finite value in boundary data")
)
