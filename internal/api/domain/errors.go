package domain

import "errors"

var (
	ErrFailedJobNotFound = errors.New("failed job not found")
)
