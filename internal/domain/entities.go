// Package domain defines core entities, ports, and domain-specific errors.
package domain

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrQueueFull       = errors.New("queue full")
	ErrCodeTooLarge    = errors.New("code exceeds maximum size")
	ErrInternal        = errors.New("internal error")
)

// Mode enumerates how a submission is executed.
type Mode string

// Submission modes.
const (
	// ModeCheck compiles the submission and judges it against the task's test suite.
	ModeCheck Mode = "check"
	// ModeRun compiles the submission and executes it once with empty stdin.
	ModeRun Mode = "run"
)

// Verdict is the categorical outcome of a judged submission.
type Verdict string

// Verdict values, in descending precedence order (TLE > RE > WA > OK).
const (
	// VerdictCE is returned when the submission fails to compile.
	VerdictCE Verdict = "CE"
	// VerdictTLE is returned when an invocation exceeds its wall-clock budget.
	VerdictTLE Verdict = "TLE"
	// VerdictRE is returned when the compiled program exits non-zero for a reason other than timeout.
	VerdictRE Verdict = "RE"
	// VerdictWA is returned when output does not match the expected output.
	VerdictWA Verdict = "WA"
	// VerdictOK is returned when every test passes.
	VerdictOK Verdict = "OK"
)

// JobState is the lifecycle state of a Job.
type JobState string

// Job states.
const (
	// JobQueued means the job is waiting in the admission queue.
	JobQueued JobState = "QUEUED"
	// JobRunning means a worker has dispatched the job to the Runner.
	JobRunning JobState = "RUNNING"
	// JobDone means the job produced a JobResult.
	JobDone JobState = "DONE"
	// JobError means the job failed before producing a result, or was cancelled.
	JobError JobState = "ERROR"
)

// Request is the immutable tuple describing what a job should execute.
type Request struct {
	// TaskID identifies the exercise task in the Task Repository.
	TaskID string
	// Code is the user-submitted source text.
	Code string
	// Mode selects compile+judge (check) or compile+run-once (run).
	Mode Mode
}

// TestResult captures the outcome of a single test case invocation.
type TestResult struct {
	// TestNum is the 1-based position of the test in the task's ordered suite.
	TestNum int
	// Passed reports whether the normalized actual output matched the normalized expected output.
	Passed bool
	// Expected is the test's expected output, verbatim.
	Expected string
	// Actual is the program's captured stdout for this test, verbatim.
	Actual string
	// TimeMs is the wall-clock duration of this invocation.
	TimeMs float64
}

// JobResult is the structured outcome of a judged or run submission.
type JobResult struct {
	// Verdict is the categorical outcome.
	Verdict Verdict
	// Stdout is the last test's actual output on an OK verdict, or the run-mode program's stdout.
	Stdout string
	// Stderr is the failing invocation's captured stderr, when applicable.
	Stderr string
	// CompileLog holds the compiler's stderr when Verdict is CE.
	CompileLog string
	// TimeMs is the accumulated wall-clock time across all invocations performed for this job.
	TimeMs float64
	// TestResults holds the per-test outcomes accumulated before the job returned. Empty for CE and run mode.
	TestResults []TestResult
}

// Job is the unit of work owned exclusively by the Job Manager.
type Job struct {
	// ID is an opaque, universally unique, string-representable identifier.
	ID string
	// Request is the immutable submission this job executes.
	Request Request
	// State is the current lifecycle state.
	State JobState
	// CreatedAt is set at admission.
	CreatedAt time.Time
	// StartedAt is set when a worker dispatches the job; nil while QUEUED.
	StartedAt *time.Time
	// FinishedAt is set when the job becomes terminal (DONE or ERROR).
	FinishedAt *time.Time
	// Result is populated when State is DONE, or alongside a partial ERROR.
	Result *JobResult
	// ErrorMessage is populated when State is ERROR.
	ErrorMessage *string
}

// JobStatus is the observable projection of a Job returned by the status endpoint.
type JobStatus struct {
	// ID mirrors Job.ID.
	ID string
	// State mirrors Job.State.
	State JobState
	// CreatedAt mirrors Job.CreatedAt.
	CreatedAt time.Time
	// StartedAt mirrors Job.StartedAt.
	StartedAt *time.Time
	// FinishedAt mirrors Job.FinishedAt.
	FinishedAt *time.Time
	// QueuePosition is set only while State is QUEUED: the 0-based index in the FIFO queue.
	QueuePosition *int
	// ETAMs is set only while State is QUEUED: the estimated milliseconds until dispatch.
	ETAMs *int64
	// RunningForMs is set only while State is RUNNING: elapsed milliseconds since StartedAt.
	RunningForMs *int64
	// Result mirrors Job.Result.
	Result *JobResult
	// ErrorMessage mirrors Job.ErrorMessage.
	ErrorMessage *string
}

// TaskMeta describes an exercise task's limits and presentation fields.
type TaskMeta struct {
	// ID is the task identifier (matches its directory name under TASKS_DIR).
	ID string `json:"id"`
	// Title is a human-readable name.
	Title string `json:"title"`
	// Module groups related tasks for course navigation.
	Module string `json:"module"`
	// Type classifies the task; defaults to "io" for stdin/stdout exercises.
	Type string `json:"type"`
	// TimeLimitMs is the per-test wall-clock budget. Defaults to 3000 when absent.
	TimeLimitMs int `json:"time_limit_ms"`
	// MemoryMB is the sandbox memory cap advertised to the learner.
	MemoryMB int `json:"memory_mb"`
	// StarterCode is optional boilerplate shown to the learner before they submit.
	StarterCode *string `json:"starter_code,omitempty"`
}

// TestCase is one (input, expected_output) pair from a task's test suite.
type TestCase struct {
	Input    string
	Expected string
}

// Context is a type alias to stdlib context.Context for convenience across layers.
type Context = context.Context

// TaskRepository is the read-only capability over on-disk task definitions (§4.2).
type TaskRepository interface {
	// LoadMeta returns task metadata, or ErrNotFound if task_id does not exist.
	LoadMeta(ctx Context, taskID string) (TaskMeta, error)
	// LoadTests returns the ordered (lexicographic by input filename) test suite, possibly empty.
	LoadTests(ctx Context, taskID string) ([]TestCase, error)
	// ListTasks returns metadata for every well-formed task directory, skipping malformed ones.
	ListTasks(ctx Context) ([]TaskMeta, error)
	// Statement returns the raw contents of a task's statement.md.
	Statement(ctx Context, taskID string) (string, error)
}

// Sandbox executor sentinel exit codes (§4.1).
const (
	// TimeoutSentinel is returned when the subprocess is forcibly terminated for exceeding its wall timeout.
	TimeoutSentinel = 124
	// ToolingMissingSentinel is returned when the sandbox tooling itself is unavailable.
	ToolingMissingSentinel = 127
)

// SandboxResult is the outcome of a single sandboxed command invocation.
type SandboxResult struct {
	Stdout     string
	Stderr     string
	ExitCode   int
	DurationMs float64
}

// SandboxExecutor runs a single command in an isolated environment with a wall-clock deadline (§4.1).
type SandboxExecutor interface {
	// Run executes command in workDir under isolation, feeding stdin, and killing the process if
	// it runs past wallTimeoutMs. Never returns an error for program-level failure; failures are
	// encoded in SandboxResult.ExitCode.
	Run(ctx Context, command []string, workDir string, stdin []byte, wallTimeoutMs int) (SandboxResult, error)
}
