package models

import "errors"

var (
	ErrNotFound               = errors.New("not found")
	ErrInvalidFrequencyConfig = errors.New("invalid frequency config")
	ErrInvalidTransition      = errors.New("invalid acknowledgement transition")
	ErrSchedulingPersistence  = errors.New("scheduling persistence failure")
)
