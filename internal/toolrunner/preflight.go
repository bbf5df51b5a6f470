package toolrunner

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"

	"github.com/Masterminds/semver/v3"
)

var versionPattern = regexp.MustCompile(`v?(\d+\.\d+\.\d+(?:-[0-9A-Za-z.\-]+)?)`)

// Preflight runs the tool's version query under the preflight timeout. It
// fails unless the binary starts and exits zero in time, and, when a minimum
// version is configured, reports a version that satisfies it.
func (r *Runner) Preflight(ctx context.Context) error {
	_, err := r.Probe(ctx)
	return err
}

// Probe is Preflight that also returns the version the tool reported, or ""
// when none could be parsed.
func (r *Runner) Probe(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.tool.PreflightTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.tool.Path, r.tool.VersionFlag)
	cmd.WaitDelay = waitDelay
	out, err := cmd.CombinedOutput()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: version check timed out after %s", ErrToolUnavailable, r.tool.PreflightTimeout)
		}
		return "", fmt.Errorf("%w: %v", ErrToolUnavailable, err)
	}

	version := ""
	if v, err := InstalledVersion(string(out)); err == nil {
		version = v.String()
	}
	if r.tool.MinVersion == "" {
		return version, nil
	}
	return version, r.checkVersion(string(out))
}

// Available is Preflight reduced to a boolean.
func (r *Runner) Available(ctx context.Context) bool {
	return r.Preflight(ctx) == nil
}

// InstalledVersion extracts the first semantic version found in output.
func InstalledVersion(output string) (*semver.Version, error) {
	m := versionPattern.FindStringSubmatch(output)
	if m == nil {
		return nil, fmt.Errorf("no version string in %q", output)
	}
	return semver.NewVersion(m[1])
}

func (r *Runner) checkVersion(output string) error {
	constraint, err := semver.NewConstraint(">= " + r.tool.MinVersion)
	if err != nil {
		return fmt.Errorf("%w: invalid min_version %q: %v", ErrToolUnavailable, r.tool.MinVersion, err)
	}
	v, err := InstalledVersion(output)
	if err != nil {
		r.logger.Warnf("Could not determine %s version, skipping minimum version check", r.tool.DisplayName)
		return nil
	}
	if !constraint.Check(v) {
		return fmt.Errorf("%w: %w: %s %s < %s", ErrToolUnavailable, ErrVersionTooOld, r.tool.DisplayName, v, r.tool.MinVersion)
	}
	r.logger.Debugf("%s version %s satisfies >= %s", r.tool.DisplayName, v, r.tool.MinVersion)
	return nil
}
