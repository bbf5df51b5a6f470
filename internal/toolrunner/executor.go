package toolrunner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"strings"
	"time"

	"github.com/bl4ck0w1/scanrunner/pkg/models"
)

// Execute runs the scan and classifies the outcome. It never returns without
// a result: failures are reported through Status, Reason and Err.
//
// Classification order: clean exit, timeout, cancellation, SIGKILL, other
// non-zero exit, binary missing, any other start error. A tool that exits
// non-zero or is killed after writing to stdout yields a partial result.
// Timeouts only do so when SalvageOnTimeout is set.
func (r *Runner) Execute(ctx context.Context, req models.ScanRequest) *models.ScanResult {
	res := &models.ScanResult{
		Tool:      r.tool.Name,
		Domain:    req.Domain,
		StartTime: time.Now(),
	}

	ctx, cancel := context.WithTimeout(ctx, r.tool.ScanTimeout)
	defer cancel()

	r.logger.Infof("Executing: %s", r.tool.CommandLine(req.Domain))

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.tool.Path, r.tool.Args(req.Domain)...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay

	err := cmd.Run()
	res.EndTime = time.Now()
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	r.classify(ctx, res, err)
	return res
}

func (r *Runner) classify(ctx context.Context, res *models.ScanResult, err error) {
	name := r.tool.DisplayName
	hasOutput := strings.TrimSpace(res.Stdout) != ""

	var exitErr *exec.ExitError
	switch {
	case err == nil, errors.Is(err, exec.ErrWaitDelay) && res.ExitCode == 0:
		res.Status = models.StatusSuccess

	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		res.Reason = models.ReasonTimeout
		if r.tool.SalvageOnTimeout && hasOutput {
			r.logger.Warnf("%s scan timed out after %s, keeping partial output", name, r.tool.ScanTimeout)
			res.Status = models.StatusPartial
			return
		}
		r.logger.Errorf("%s scan timed out after %s", name, r.tool.ScanTimeout)
		r.fail(res, fmt.Errorf("%w after %s", ErrTimeout, r.tool.ScanTimeout))

	case errors.Is(ctx.Err(), context.Canceled):
		res.Reason = models.ReasonExecError
		r.logger.Errorf("%s scan cancelled", name)
		r.fail(res, fmt.Errorf("%w: %v", ErrExec, ctx.Err()))

	case errors.As(err, &exitErr) && killedBySIGKILL(exitErr):
		res.Reason = models.ReasonKilled
		res.Signal = signalName(exitErr)
		r.logger.Warnf("Warning: %s process was killed by SIGKILL (likely due to memory/resource limits)", name)
		if hasOutput {
			res.Status = models.StatusPartial
			return
		}
		r.fail(res, ErrKilled)

	case errors.As(err, &exitErr):
		res.Reason = models.ReasonNonZeroExit
		res.Signal = signalName(exitErr)
		r.logger.Warnf("%s exited with code %d", name, res.ExitCode)
		if res.Stderr != "" {
			r.logger.Warnf("%s error output:\n%s", name, strings.TrimRight(res.Stderr, "\n"))
		}
		if hasOutput {
			res.Status = models.StatusPartial
			return
		}
		r.fail(res, fmt.Errorf("%w: code %d", ErrNonZeroExit, res.ExitCode))

	case errors.Is(err, exec.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		res.Reason = models.ReasonNotFound
		r.logger.Errorf("Error: %s command not found at %s", name, r.tool.Path)
		r.fail(res, fmt.Errorf("%w: %v", ErrNotFound, err))

	default:
		res.Reason = models.ReasonExecError
		r.logger.Errorf("Unexpected error running %s: %v", name, err)
		r.fail(res, fmt.Errorf("%w: %v", ErrExec, err))
	}
}

func (r *Runner) fail(res *models.ScanResult, err error) {
	res.Status = models.StatusFailed
	res.Err = err
}
