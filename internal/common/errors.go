package common

import "errors"

var (
	// repository specific errors
	ErrorNotFound = errors.New("not found")

	// service specific errors
	ErrorInternal   = errors.New("internal error")
	ErrorValidation = errors.New("validation error")

	// ErrorStorageUnavailable reports that local durable storage could not be
	// read or written.
	ErrorStorageUnavailable = errors.New("local storage unavailable")
)
