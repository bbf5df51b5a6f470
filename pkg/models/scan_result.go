package models

import (
	"errors"
	"strings"
	"time"
)

var ErrEmptyDomain = errors.New("domain must not be empty")

// ScanRequest is the single target handed to a tool. The domain is passed
// through to the child process untouched.
type ScanRequest struct {
	Domain string `json:"domain"`
}

func (r ScanRequest) Validate() error {
	if strings.TrimSpace(r.Domain) == "" {
		return ErrEmptyDomain
	}
	return nil
}

// ScanStatus is the overall outcome of one scan.
type ScanStatus string

const (
	StatusSuccess ScanStatus = "success"
	StatusPartial ScanStatus = "partial"
	StatusFailed  ScanStatus = "failed"
)

// FailureReason says why a scan did not finish cleanly.
type FailureReason string

const (
	ReasonNone        FailureReason = ""
	ReasonTimeout     FailureReason = "timeout"
	ReasonKilled      FailureReason = "killed"
	ReasonNonZeroExit FailureReason = "non_zero_exit"
	ReasonNotFound    FailureReason = "not_found"
	ReasonExecError   FailureReason = "exec_error"
)

// ScanResult is everything observed about one tool run.
type ScanResult struct {
	Tool      string        `json:"tool"`
	Domain    string        `json:"domain"`
	Status    ScanStatus    `json:"status"`
	Reason    FailureReason `json:"reason,omitempty"`
	Stdout    string        `json:"-"`
	Stderr    string        `json:"-"`
	ExitCode  int           `json:"exit_code"`
	Signal    string        `json:"signal,omitempty"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	SavedPath string        `json:"saved_path,omitempty"`
	Err       error         `json:"-"`
}

// HasOutput reports whether the result carries a blob worth persisting.
// Partial results keep their reason so callers can still report why the
// tool did not finish cleanly.
func (r *ScanResult) HasOutput() bool {
	return r.Status == StatusSuccess || r.Status == StatusPartial
}

func (r *ScanResult) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}
