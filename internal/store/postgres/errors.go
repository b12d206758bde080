package postgres

import "errors"

var (
	ErrBuildQuery = errors.New("postgres: failed to build query")
	ErrExecQuery  = errors.New("postgres: failed to execute query")
	ErrScanRow    = errors.New("postgres: failed to scan row")
)
