package sandbox

import (
	"context"
	"log"
)

// Stub satisfies Sandbox without a container runtime. Used in demo mode when
// the Docker daemon is unreachable, and by tests that script outcomes.
type Stub struct {
	ExitCode int
	Logs     string
	Err      error

	// OnRun, when set, overrides the fixed fields per call.
	OnRun func(spec RunSpec) (int, string, error)

	logger *log.Logger
}

// NewStub returns a stub that reports success for every run.
func NewStub() *Stub {
	return &Stub{
		Logs:   "sandbox unavailable — run simulated",
		logger: log.New(log.Writer(), "[Sandbox] ", log.LstdFlags),
	}
}

func (s *Stub) Run(_ context.Context, spec RunSpec) (int, string, error) {
	if s.OnRun != nil {
		return s.OnRun(spec)
	}
	if s.logger != nil {
		s.logger.Printf("⚠️ demo mode: simulating run for agent %s", spec.AgentID)
	}
	return s.ExitCode, s.Logs, s.Err
}

var _ Sandbox = (*Stub)(nil)
