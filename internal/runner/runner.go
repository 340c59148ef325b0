// Package runner implements the Runner (§4.3): orchestrating one job
// end-to-end by writing code to a scratch directory, compiling it in the
// Sandbox Executor, then iterating tests and classifying the outcome into a
// final verdict.
package runner

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/exercisejudge/judge/internal/domain"
	"github.com/exercisejudge/judge/internal/observability"
)

const (
	sourceFileName = "main.zig"
	scratchPrefix  = "judge-job-"

	defaultPerTestMs = 3000
	overallBaseMs    = 10000
	graceMs          = 2000
	compileFloorMs   = 10000
)

// compileCommand and runCommand are the fixed sandbox invocations for the
// configured language toolchain; the source file name is part of the
// external contract with the sandbox image.
var (
	compileCommand = []string{"zig", "build-exe", sourceFileName, "-O", "ReleaseSmall"}
	runCommand     = []string{"./main"}
)

// Runner executes one job at a time. It holds no per-job state and is safe
// for concurrent use by multiple workers.
type Runner struct {
	tasks   domain.TaskRepository
	sandbox domain.SandboxExecutor
	// scratchRoot is the parent directory under which per-job scratch
	// directories are allocated; defaults to os.TempDir() when empty.
	scratchRoot string
}

// New constructs a Runner over the given Task Repository and Sandbox Executor.
func New(tasks domain.TaskRepository, sandbox domain.SandboxExecutor, scratchRoot string) *Runner {
	return &Runner{tasks: tasks, sandbox: sandbox, scratchRoot: scratchRoot}
}

// Execute implements the compile-then-judge state machine described in §4.3.
// It never returns an error for a program-level or compile-level failure;
// those are encoded in the returned JobResult's Verdict. An error return
// indicates infrastructure failure (unreadable task files, scratch-directory
// allocation failure) that the caller should record as a terminal ERROR job.
func (r *Runner) Execute(ctx domain.Context, taskID, code string, mode domain.Mode) (domain.JobResult, error) {
	logger := observability.LoggerFromContext(ctx)
	jobID := observability.JobIDFromContext(ctx)

	meta, err := r.tasks.LoadMeta(ctx, taskID)
	if err != nil {
		return domain.JobResult{}, fmt.Errorf("runner: load meta: %w", err)
	}
	var tests []domain.TestCase
	if mode == domain.ModeCheck {
		tests, err = r.tasks.LoadTests(ctx, taskID)
		if err != nil {
			return domain.JobResult{}, fmt.Errorf("runner: load tests: %w", err)
		}
	}

	perTestMs := meta.TimeLimitMs
	if perTestMs <= 0 {
		perTestMs = defaultPerTestMs
	}
	compileMs := compileFloorMs
	if twice := 2 * perTestMs; twice > compileMs {
		compileMs = twice
	}
	numTests := len(tests)
	if numTests == 0 {
		numTests = 1
	}
	overallMs := perTestMs*numTests + overallBaseMs

	scratchDir, err := r.allocScratch(taskID)
	if err != nil {
		return domain.JobResult{}, fmt.Errorf("runner: allocate scratch dir: %w", err)
	}
	defer os.RemoveAll(scratchDir)

	if err := os.WriteFile(filepath.Join(scratchDir, sourceFileName), []byte(code), 0o644); err != nil {
		return domain.JobResult{}, fmt.Errorf("runner: write source: %w", err)
	}

	compileRes, err := r.sandbox.Run(ctx, compileCommand, scratchDir, nil, compileMs)
	if err != nil {
		return domain.JobResult{}, fmt.Errorf("runner: compile: %w", err)
	}
	if compileRes.ExitCode != 0 {
		logger.Info("compile failed", slog.String("job_id", jobID), slog.String("task_id", taskID))
		return domain.JobResult{
			Verdict:    domain.VerdictCE,
			CompileLog: compileRes.Stderr,
			TimeMs:     compileRes.DurationMs,
		}, nil
	}

	var result domain.JobResult
	if mode == domain.ModeRun {
		result, err = r.runOnce(ctx, scratchDir, perTestMs, compileRes.DurationMs)
	} else {
		result, err = r.runChecks(ctx, scratchDir, tests, perTestMs, overallMs, compileRes.DurationMs)
	}
	if err == nil {
		logger.Info("job executed",
			slog.String("job_id", jobID),
			slog.String("task_id", taskID),
			slog.String("verdict", string(result.Verdict)),
		)
	}
	return result, err
}

func (r *Runner) runOnce(ctx domain.Context, scratchDir string, perTestMs int, compileDurationMs float64) (domain.JobResult, error) {
	res, err := r.sandbox.Run(ctx, runCommand, scratchDir, nil, perTestMs+graceMs)
	if err != nil {
		return domain.JobResult{}, fmt.Errorf("runner: run: %w", err)
	}
	verdict := domain.VerdictOK
	switch {
	case res.ExitCode == domain.TimeoutSentinel:
		verdict = domain.VerdictTLE
	case res.ExitCode != 0:
		verdict = domain.VerdictRE
	}
	return domain.JobResult{
		Verdict: verdict,
		Stdout:  res.Stdout,
		Stderr:  res.Stderr,
		TimeMs:  compileDurationMs + res.DurationMs,
	}, nil
}

func (r *Runner) runChecks(ctx domain.Context, scratchDir string, tests []domain.TestCase, perTestMs, overallMs int, compileDurationMs float64) (domain.JobResult, error) {
	totalTimeMs := compileDurationMs
	testResults := make([]domain.TestResult, 0, len(tests))
	deadline := time.Now().Add(time.Duration(overallMs) * time.Millisecond)

	for i, tc := range tests {
		if time.Now().After(deadline) {
			return domain.JobResult{
				Verdict:     domain.VerdictTLE,
				TimeMs:      totalTimeMs,
				TestResults: testResults,
			}, nil
		}

		res, err := r.sandbox.Run(ctx, runCommand, scratchDir, []byte(tc.Input), perTestMs+graceMs)
		if err != nil {
			return domain.JobResult{}, fmt.Errorf("runner: run test %d: %w", i+1, err)
		}
		totalTimeMs += res.DurationMs

		passed := normalize(res.Stdout) == normalize(tc.Expected)
		testResults = append(testResults, domain.TestResult{
			TestNum:  i + 1,
			Passed:   passed,
			Expected: tc.Expected,
			Actual:   res.Stdout,
			TimeMs:   res.DurationMs,
		})

		if res.ExitCode != 0 {
			verdict := domain.VerdictRE
			if res.ExitCode == domain.TimeoutSentinel {
				verdict = domain.VerdictTLE
			}
			return domain.JobResult{
				Verdict:     verdict,
				Stdout:      res.Stdout,
				Stderr:      res.Stderr,
				TimeMs:      totalTimeMs,
				TestResults: testResults,
			}, nil
		}
		if !passed {
			return domain.JobResult{
				Verdict:     domain.VerdictWA,
				TimeMs:      totalTimeMs,
				TestResults: testResults,
			}, nil
		}
	}

	lastStdout := ""
	if len(testResults) > 0 {
		lastStdout = testResults[len(testResults)-1].Actual
	}
	return domain.JobResult{
		Verdict:     domain.VerdictOK,
		Stdout:      lastStdout,
		TimeMs:      totalTimeMs,
		TestResults: testResults,
	}, nil
}

// normalize implements §4.3.1: strip carriage returns, then trim trailing
// spaces and newlines.
func normalize(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	return strings.TrimRight(s, " \n")
}

func (r *Runner) allocScratch(taskID string) (string, error) {
	root := r.scratchRoot
	if root == "" {
		root = os.TempDir()
	}
	dir := filepath.Join(root, scratchPrefix+taskID+"-"+uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}
