package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInvalidInput        = errors.New("invalid input")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrUnsupportedModel    = errors.New("unsupported model")
	ErrProviderFailure     = errors.New("provider failure")
	ErrTimeout             = errors.New("generation timed out")
	ErrStorageFailure      = errors.New("storage failure")
	ErrInFlight            = errors.New("generation already in flight")
	ErrCanceled            = errors.New("generation canceled")
)
