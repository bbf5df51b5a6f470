package toolrunner

import "errors"

const (
	ExitSuccess = 0
	ExitFailure = 1
)

var (
	ErrToolUnavailable = errors.New("tool is not installed or not executable")
	ErrVersionTooOld   = errors.New("tool version does not satisfy minimum")
	ErrTimeout         = errors.New("tool timed out")
	ErrKilled          = errors.New("tool was killed")
	ErrNonZeroExit     = errors.New("tool exited with non-zero status")
	ErrNotFound        = errors.New("tool binary not found")
	ErrExec            = errors.New("tool could not be executed")
	ErrNoOutput        = errors.New("tool produced no usable output")
)
