package toolrunner

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/bl4ck0w1/scanrunner/pkg/models"
	"github.com/bl4ck0w1/scanrunner/pkg/utils"
)

const waitDelay = 2 * time.Second

// ResultStore persists captured output and returns where it was written.
type ResultStore interface {
	SaveResult(content string) (string, error)
}

// Runner drives one tool through preflight, execution and persistence.
type Runner struct {
	tool    Tool
	store   ResultStore
	logger  logrus.FieldLogger
	metrics *utils.MetricsCollector
	venvDir string
}

// Option configures a Runner.
type Option func(*Runner)

// WithMetrics records each run in m.
func WithMetrics(m *utils.MetricsCollector) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithVirtualEnv makes Run report whether a virtualenv exists at dir.
func WithVirtualEnv(dir string) Option {
	return func(r *Runner) { r.venvDir = dir }
}

func NewRunner(tool Tool, store ResultStore, logger logrus.FieldLogger, opts ...Option) *Runner {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	r := &Runner{
		tool:   tool,
		store:  store,
		logger: logger.WithField("tool", tool.Name),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Runner) Tool() Tool { return r.tool }

// Run performs a complete scan and returns the process exit status:
// ExitSuccess when output was captured and saved, ExitFailure otherwise.
func (r *Runner) Run(ctx context.Context, req models.ScanRequest) int {
	if err := req.Validate(); err != nil {
		r.logger.Errorf("Error: %v", err)
		return ExitFailure
	}

	if err := r.Preflight(ctx); err != nil {
		r.logger.WithError(err).Errorf("Error: %s is not installed or not executable at %s", r.tool.DisplayName, r.tool.Path)
		r.count(utils.MetricPreflightFailuresTotal, prometheus.Labels{"tool": r.tool.Name})
		return ExitFailure
	}

	r.reportVirtualEnv()

	r.logger.Infof("Starting %s domain scan for: %s", r.tool.DisplayName, req.Domain)
	res := r.Execute(ctx, req)
	r.record(res)

	if !res.HasOutput() {
		if res.Err == nil {
			res.Err = ErrNoOutput
		}
		r.logger.WithField("reason", res.Reason).Errorf("%s scan failed or returned no output", r.tool.DisplayName)
		return ExitFailure
	}

	path, err := r.store.SaveResult(res.Stdout)
	if err != nil {
		r.logger.WithError(err).Errorf("Error saving scan results: %v", err)
		return ExitFailure
	}
	res.SavedPath = path
	utils.Success(r.logger.WithField("path", path), "Scan results saved as %s", path)
	return ExitSuccess
}

func (r *Runner) reportVirtualEnv() {
	if r.venvDir == "" {
		return
	}
	venv := utils.DetectVirtualEnv(r.venvDir)
	if !venv.Found {
		return
	}
	r.logger.Info("Virtual environment found")
	if venv.HasPython {
		r.logger.Info("Using virtual environment Python")
	} else {
		r.logger.Info("Virtual environment found but Python not detected")
	}
}

func (r *Runner) record(res *models.ScanResult) {
	if r.metrics == nil {
		return
	}
	tool := prometheus.Labels{"tool": r.tool.Name}
	r.metrics.IncCounter(utils.MetricScansTotal, 1, prometheus.Labels{"tool": r.tool.Name, "status": string(res.Status)})
	r.metrics.ObserveDuration(utils.MetricScanDuration, res.Duration(), tool)
	r.metrics.SetGauge(utils.MetricOutputBytes, float64(len(res.Stdout)), tool)
}

func (r *Runner) count(name string, labels prometheus.Labels) {
	if r.metrics != nil {
		r.metrics.IncCounter(name, 1, labels)
	}
}
