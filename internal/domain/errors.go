package domain

import "errors"

var (
	ErrNetwork  = errors.New("network error")
	ErrDecode   = errors.New("decode error")
	ErrNotFound = errors.New("image not found")

	ErrInvalidKey = errors.New("invalid load key")
)

type ErrorCategory string

const (
	ErrorCategoryNone     ErrorCategory = "none"
	ErrorCategoryNetwork  ErrorCategory = "network"
	ErrorCategoryDecode   ErrorCategory = "decode"
	ErrorCategoryNotFound ErrorCategory = "not_found"
	ErrorCategoryUnknown  ErrorCategory = "unknown"
)

// Categorize a load error for logging and metrics. Rendering does not depend on the category.
func CategorizeError(err error) ErrorCategory {
	switch {
	case err == nil:
		return ErrorCategoryNone
	case errors.Is(err, ErrNotFound):
		return ErrorCategoryNotFound
	case errors.Is(err, ErrDecode):
		return ErrorCategoryDecode
	case errors.Is(err, ErrNetwork):
		return ErrorCategoryNetwork
	default:
		return ErrorCategoryUnknown
	}
}
