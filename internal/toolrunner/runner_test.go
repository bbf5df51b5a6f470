package toolrunner

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/bl4ck0w1/scanrunner/internal/storage"
	"github.com/bl4ck0w1/scanrunner/pkg/models"
	"github.com/bl4ck0w1/scanrunner/pkg/utils"
)

// writeStub creates an executable sh script that answers -version with
// versionBody and runs scanBody for anything else. Every scan invocation
// touches <dir>/invoked first.
func writeStub(t *testing.T, versionBody, scanBody string) (path, invoked string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("stub tools are sh scripts")
	}
	dir := t.TempDir()
	path = filepath.Join(dir, "stubtool")
	invoked = filepath.Join(dir, "invoked")
	script := "#!/bin/sh\n" +
		"if [ \"$1\" = \"-version\" ]; then\n" + versionBody + "\nfi\n" +
		"touch '" + invoked + "'\n" +
		scanBody + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	return path, invoked
}

const okVersion = "echo 'Current Version: v2.6.3'; exit 0"

func newTestRunner(t *testing.T, path string, mutate func(*Tool)) (*Runner, *storage.LocalStorage, *bytes.Buffer) {
	t.Helper()
	cfg := models.DefaultToolConfig("subfinder")
	cfg.Path = path
	tool, err := NewTool("subfinder", cfg)
	if err != nil {
		t.Fatalf("NewTool: %v", err)
	}
	tool.PreflightTimeout = 2 * time.Second
	tool.ScanTimeout = 5 * time.Second
	if mutate != nil {
		mutate(&tool)
	}
	var logs bytes.Buffer
	logger := utils.NewConsoleLogger(&logs)
	store := storage.NewLocalStorage(filepath.Join(t.TempDir(), "outputs"), logger)
	return NewRunner(tool, store, logger), store, &logs
}

func resultFiles(t *testing.T, store *storage.LocalStorage) []storage.ResultFile {
	t.Helper()
	files, err := store.ListResults()
	if err != nil {
		t.Fatalf("ListResults: %v", err)
	}
	return files
}

func readOnly(t *testing.T, store *storage.LocalStorage) string {
	t.Helper()
	files := resultFiles(t, store)
	if len(files) != 1 {
		t.Fatalf("expected exactly one result file, got %d", len(files))
	}
	data, err := os.ReadFile(files[0].Path)
	if err != nil {
		t.Fatalf("read result: %v", err)
	}
	return string(data)
}

func TestRun_SuccessPersistsStdoutVerbatim(t *testing.T) {
	want := "  a.example.com\nb.example.com\n\n"
	path, _ := writeStub(t, okVersion, "printf '  a.example.com\\nb.example.com\\n\\n'; exit 0")
	r, store, _ := newTestRunner(t, path, nil)

	if code := r.Run(context.Background(), models.ScanRequest{Domain: "example.com"}); code != ExitSuccess {
		t.Fatalf("expected exit 0, got %d", code)
	}
	if got := readOnly(t, store); got != want {
		t.Fatalf("content mismatch:\n got %q\nwant %q", got, want)
	}
}

func TestRun_PassesDomainAndSilentFlag(t *testing.T) {
	path, _ := writeStub(t, okVersion, `echo "$@"`)
	r, store, _ := newTestRunner(t, path, nil)

	if code := r.Run(context.Background(), models.ScanRequest{Domain: "odd domain;$x"}); code != ExitSuccess {
		t.Fatalf("expected exit 0, got %d", code)
	}
	if got := readOnly(t, store); got != "-d odd domain;$x -silent\n" {
		t.Fatalf("unexpected argv echo %q", got)
	}
}

func TestRun_NonZeroExitWithoutOutput(t *testing.T) {
	path, _ := writeStub(t, okVersion, "echo 'rate limited' >&2; exit 2")
	r, store, _ := newTestRunner(t, path, nil)

	if code := r.Run(context.Background(), models.ScanRequest{Domain: "example.com"}); code != ExitFailure {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if n := len(resultFiles(t, store)); n != 0 {
		t.Fatalf("expected no result files, got %d", n)
	}
}

func TestRun_NonZeroExitWithOutputIsPartial(t *testing.T) {
	path, _ := writeStub(t, okVersion, "echo a.example.com; echo 'source failed' >&2; exit 3")
	r, store, logs := newTestRunner(t, path, nil)

	if code := r.Run(context.Background(), models.ScanRequest{Domain: "example.com"}); code != ExitSuccess {
		t.Fatalf("expected exit 0, got %d", code)
	}
	if got := readOnly(t, store); got != "a.example.com\n" {
		t.Fatalf("unexpected content %q", got)
	}
	if !strings.Contains(logs.String(), "source failed") {
		t.Fatalf("stderr should be surfaced, logs:\n%s", logs.String())
	}
}

func TestRun_WhitespaceOnlyOutputOnFailureIsDiscarded(t *testing.T) {
	path, _ := writeStub(t, okVersion, "printf '  \\n\\t\\n'; exit 1")
	r, store, _ := newTestRunner(t, path, nil)

	if code := r.Run(context.Background(), models.ScanRequest{Domain: "example.com"}); code != ExitFailure {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if n := len(resultFiles(t, store)); n != 0 {
		t.Fatalf("expected no result files, got %d", n)
	}
}

func TestRun_SIGKILLWithPartialOutput(t *testing.T) {
	path, _ := writeStub(t, okVersion, "echo partial.example.com; kill -9 $$")
	r, store, logs := newTestRunner(t, path, nil)

	if code := r.Run(context.Background(), models.ScanRequest{Domain: "example.com"}); code != ExitSuccess {
		t.Fatalf("expected exit 0, got %d", code)
	}
	if got := readOnly(t, store); got != "partial.example.com\n" {
		t.Fatalf("unexpected content %q", got)
	}
	if !strings.Contains(logs.String(), "[!] Warning: subfinder process was killed by SIGKILL") {
		t.Fatalf("missing SIGKILL warning, logs:\n%s", logs.String())
	}
}

func TestRun_SIGKILLWithoutOutput(t *testing.T) {
	path, _ := writeStub(t, okVersion, "kill -9 $$")
	r, store, _ := newTestRunner(t, path, nil)

	if code := r.Run(context.Background(), models.ScanRequest{Domain: "example.com"}); code != ExitFailure {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if n := len(resultFiles(t, store)); n != 0 {
		t.Fatalf("expected no result files, got %d", n)
	}
}

func TestRun_TimeoutKillsAndWritesNothing(t *testing.T) {
	path, _ := writeStub(t, okVersion, "echo early.example.com; exec sleep 30")
	r, store, _ := newTestRunner(t, path, func(tool *Tool) { tool.ScanTimeout = 300 * time.Millisecond })

	start := time.Now()
	code := r.Run(context.Background(), models.ScanRequest{Domain: "example.com"})
	if code != ExitFailure {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Fatalf("child was not killed promptly: %s", elapsed)
	}
	if n := len(resultFiles(t, store)); n != 0 {
		t.Fatalf("expected no result files, got %d", n)
	}
}

func TestRun_TimeoutWithChildHoldingStdout(t *testing.T) {
	// sh is killed at the deadline but its sleep child keeps stdout open
	// until WaitDelay closes the pipes.
	path, _ := writeStub(t, okVersion, "echo early.example.com; sleep 30")
	r, store, _ := newTestRunner(t, path, func(tool *Tool) { tool.ScanTimeout = 300 * time.Millisecond })

	start := time.Now()
	res := r.Execute(context.Background(), models.ScanRequest{Domain: "example.com"})
	if elapsed := time.Since(start); elapsed > 300*time.Millisecond+waitDelay+3*time.Second {
		t.Fatalf("pipes were not released after WaitDelay: %s", elapsed)
	}
	if res.Status != models.StatusFailed || res.Reason != models.ReasonTimeout || !errors.Is(res.Err, ErrTimeout) {
		t.Fatalf("expected failed/timeout, got %s/%s (%v)", res.Status, res.Reason, res.Err)
	}
	if n := len(resultFiles(t, store)); n != 0 {
		t.Fatalf("expected no result files, got %d", n)
	}
}

func TestRun_CleanExitWithBackgroundChildHoldingStdout(t *testing.T) {
	path, _ := writeStub(t, okVersion, "echo ok; (sleep 30 &)")
	r, store, _ := newTestRunner(t, path, nil)

	start := time.Now()
	if code := r.Run(context.Background(), models.ScanRequest{Domain: "example.com"}); code != ExitSuccess {
		t.Fatalf("expected exit 0, got %d", code)
	}
	if elapsed := time.Since(start); elapsed > waitDelay+3*time.Second {
		t.Fatalf("run did not return after WaitDelay: %s", elapsed)
	}
	if got := readOnly(t, store); got != "ok\n" {
		t.Fatalf("unexpected content %q", got)
	}
}

func TestRun_TimeoutSalvagesWhenEnabled(t *testing.T) {
	path, _ := writeStub(t, okVersion, "echo early.example.com; exec sleep 30")
	r, store, _ := newTestRunner(t, path, func(tool *Tool) {
		tool.ScanTimeout = 300 * time.Millisecond
		tool.SalvageOnTimeout = true
	})

	if code := r.Run(context.Background(), models.ScanRequest{Domain: "example.com"}); code != ExitSuccess {
		t.Fatalf("expected exit 0, got %d", code)
	}
	if got := readOnly(t, store); got != "early.example.com\n" {
		t.Fatalf("unexpected content %q", got)
	}
}

func TestRun_EmptyDomainInvokesNothing(t *testing.T) {
	path, invoked := writeStub(t, "touch \"$(dirname \"$0\")/versioned\"; exit 0", "echo x")
	r, store, _ := newTestRunner(t, path, nil)

	if code := r.Run(context.Background(), models.ScanRequest{Domain: "  "}); code != ExitFailure {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if utils.FileExists(invoked) || utils.FileExists(filepath.Join(filepath.Dir(path), "versioned")) {
		t.Fatal("no process should run for an empty domain")
	}
	if n := len(resultFiles(t, store)); n != 0 {
		t.Fatalf("expected no result files, got %d", n)
	}
}

func TestRun_PreflightFailureSkipsScan(t *testing.T) {
	cases := map[string]string{
		"non-zero version": "exit 1",
		"hung version":     "exec sleep 30",
	}
	for name, versionBody := range cases {
		t.Run(name, func(t *testing.T) {
			path, invoked := writeStub(t, versionBody, "echo a.example.com")
			r, store, _ := newTestRunner(t, path, func(tool *Tool) { tool.PreflightTimeout = 300 * time.Millisecond })

			if code := r.Run(context.Background(), models.ScanRequest{Domain: "example.com"}); code != ExitFailure {
				t.Fatalf("expected exit 1, got %d", code)
			}
			if utils.FileExists(invoked) {
				t.Fatal("scan must not be attempted after a failed preflight")
			}
			if n := len(resultFiles(t, store)); n != 0 {
				t.Fatalf("expected no result files, got %d", n)
			}
		})
	}
}

func TestRun_MissingBinary(t *testing.T) {
	r, store, _ := newTestRunner(t, filepath.Join(t.TempDir(), "does-not-exist"), nil)

	if code := r.Run(context.Background(), models.ScanRequest{Domain: "example.com"}); code != ExitFailure {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if n := len(resultFiles(t, store)); n != 0 {
		t.Fatalf("expected no result files, got %d", n)
	}
}

func TestRun_UnwritableResultsDirectory(t *testing.T) {
	path, _ := writeStub(t, okVersion, "echo a.example.com")
	r, _, _ := newTestRunner(t, path, nil)

	blocker := filepath.Join(t.TempDir(), "outputs")
	if err := os.WriteFile(blocker, []byte("not a dir"), 0o644); err != nil {
		t.Fatalf("write blocker: %v", err)
	}
	r.store = storage.NewLocalStorage(blocker, nil)

	if code := r.Run(context.Background(), models.ScanRequest{Domain: "example.com"}); code != ExitFailure {
		t.Fatalf("expected exit 1, got %d", code)
	}
}

func TestRun_RecordsMetrics(t *testing.T) {
	path, _ := writeStub(t, okVersion, "printf 'a.example.com\\n'")
	r, _, _ := newTestRunner(t, path, nil)
	m, err := utils.NewScanMetrics(false)
	if err != nil {
		t.Fatalf("NewScanMetrics: %v", err)
	}
	r.metrics = m

	if code := r.Run(context.Background(), models.ScanRequest{Domain: "example.com"}); code != ExitSuccess {
		t.Fatalf("expected exit 0, got %d", code)
	}

	expected := `
# HELP scanrunner_output_bytes Bytes of standard output captured by the last scan.
# TYPE scanrunner_output_bytes gauge
scanrunner_output_bytes{tool="subfinder"} 14
# HELP scanrunner_scans_total Scans run, by tool and outcome status.
# TYPE scanrunner_scans_total counter
scanrunner_scans_total{status="success",tool="subfinder"} 1
`
	if err := testutil.GatherAndCompare(m.GetRegistry(), strings.NewReader(expected), utils.MetricScansTotal, utils.MetricOutputBytes); err != nil {
		t.Fatalf("unexpected metrics: %v", err)
	}
}

func TestRun_ReportsVirtualEnv(t *testing.T) {
	path, _ := writeStub(t, okVersion, "echo a.example.com")
	r, _, logs := newTestRunner(t, path, nil)

	venv := filepath.Join(t.TempDir(), "venv")
	if err := os.MkdirAll(filepath.Join(venv, "bin"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	WithVirtualEnv(venv)(r)

	if code := r.Run(context.Background(), models.ScanRequest{Domain: "example.com"}); code != ExitSuccess {
		t.Fatalf("expected exit 0, got %d", code)
	}
	if !strings.Contains(logs.String(), "[*] Virtual environment found but Python not detected") {
		t.Fatalf("venv not reported, logs:\n%s", logs.String())
	}
}

func TestExecute_BinaryRemovedAfterPreflight(t *testing.T) {
	path, _ := writeStub(t, okVersion, "echo a.example.com")
	r, _, _ := newTestRunner(t, path, nil)

	if err := r.Preflight(context.Background()); err != nil {
		t.Fatalf("Preflight: %v", err)
	}
	if err := os.Remove(path); err != nil {
		t.Fatalf("remove stub: %v", err)
	}

	res := r.Execute(context.Background(), models.ScanRequest{Domain: "example.com"})
	if res.Status != models.StatusFailed || res.Reason != models.ReasonNotFound {
		t.Fatalf("expected failed/not_found, got %s/%s", res.Status, res.Reason)
	}
	if !errors.Is(res.Err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", res.Err)
	}
}

func TestExecute_PermissionDenied(t *testing.T) {
	path, _ := writeStub(t, okVersion, "echo a.example.com")
	if err := os.Chmod(path, 0o644); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	r, _, _ := newTestRunner(t, path, nil)

	res := r.Execute(context.Background(), models.ScanRequest{Domain: "example.com"})
	if res.Status != models.StatusFailed || res.Reason != models.ReasonExecError {
		t.Fatalf("expected failed/exec_error, got %s/%s", res.Status, res.Reason)
	}
	if !errors.Is(res.Err, ErrExec) {
		t.Fatalf("expected ErrExec, got %v", res.Err)
	}
}

func TestExecute_Classification(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		status models.ScanStatus
		reason models.FailureReason
		err    error
	}{
		{"clean exit", "echo ok", models.StatusSuccess, models.ReasonNone, nil},
		{"clean exit no output", "exit 0", models.StatusSuccess, models.ReasonNone, nil},
		{"sigterm with output", "echo ok; kill -15 $$", models.StatusPartial, models.ReasonNonZeroExit, nil},
		{"sigkill no output", "kill -9 $$", models.StatusFailed, models.ReasonKilled, ErrKilled},
		{"exit 1 no output", "exit 1", models.StatusFailed, models.ReasonNonZeroExit, ErrNonZeroExit},
		{"timeout", "exec sleep 30", models.StatusFailed, models.ReasonTimeout, ErrTimeout},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path, _ := writeStub(t, okVersion, tc.body)
			r, _, _ := newTestRunner(t, path, func(tool *Tool) { tool.ScanTimeout = time.Second })

			res := r.Execute(context.Background(), models.ScanRequest{Domain: "example.com"})
			if res.Status != tc.status || res.Reason != tc.reason {
				t.Fatalf("got %s/%q, want %s/%q", res.Status, res.Reason, tc.status, tc.reason)
			}
			if tc.err == nil && res.Err != nil {
				t.Fatalf("unexpected error %v", res.Err)
			}
			if tc.err != nil && !errors.Is(res.Err, tc.err) {
				t.Fatalf("expected %v, got %v", tc.err, res.Err)
			}
		})
	}
}

func TestExecute_ParentCancellation(t *testing.T) {
	path, _ := writeStub(t, okVersion, "exec sleep 30")
	r, _, _ := newTestRunner(t, path, nil)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(200*time.Millisecond, cancel)

	res := r.Execute(ctx, models.ScanRequest{Domain: "example.com"})
	if res.Status != models.StatusFailed || res.Reason != models.ReasonExecError {
		t.Fatalf("expected failed/exec_error, got %s/%s", res.Status, res.Reason)
	}
}
