// Package sandbox isolates agent code execution. The executor treats the
// sandbox as an opaque collaborator: give it a workspace and a resource
// budget, get back (exit_code, logs).
package sandbox

import "context"

// Sandbox runs an agent's workspace under a contracted resource budget.
//
// Contract: the run must not exceed the budget's cpu fraction, memory
// fraction, or wall-clock duration; the filesystem outside the workspace is
// not visible; on timeout the run returns a non-zero exit code with
// truncated logs. Any error is converted by the executor to exit code 1.
type Sandbox interface {
	Run(ctx context.Context, spec RunSpec) (exitCode int, logs string, err error)
}

// Budget is the slice of host capacity granted to one run, as fractions in
// [0,1] plus a wall-clock bound.
type Budget struct {
	CPUFraction     float64
	MemoryFraction  float64
	DurationSeconds float64
}

// RunSpec describes one sandboxed run.
type RunSpec struct {
	AgentID       string
	ExecutionID   string
	WorkspacePath string
	Budget        Budget
}
