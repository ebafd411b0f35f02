package mesh

import "errors"

var (
	// ErrTopologyViolation signals an illegal level jump or a hole in the
	// block tree. It is never recoverable locally.
	ErrTopologyViolation = errors.New("mesh: topology violation")
	// ErrTopologyStale is returned while relations are being rebuilt.
	ErrTopologyStale = errors.New("mesh: topology not built")
	ErrInvalidConfig = errors.New("mesh: invalid configuration")
	ErrRestart       = errors.New("mesh: malformed restart data")
)
