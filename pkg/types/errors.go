package types

import "errors"

// Tiering policy errors
var (
	// ErrTieringOnUnpartitioned is returned when tiering is requested for a
	// table without a partition function
	ErrTieringOnUnpartitioned = errors.New("tiering requires a partitioned table")
)
