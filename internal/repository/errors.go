package repository

import "errors"

var (
	// ErrDataSourceUnavailable indicates the store could not be reached or is not configured.
	ErrDataSourceUnavailable = errors.New("repository: data source unavailable")
	// ErrQueryFailed indicates the store was reached but the query did not complete.
	ErrQueryFailed = errors.New("repository: query failed")
)
