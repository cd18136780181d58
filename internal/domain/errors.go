package domain

import "errors"

// Error kinds named in spec.md §7. Call sites wrap these with fmt.Errorf
// and %w so callers can still errors.Is/errors.As against the sentinel.
var (
	ErrNoFunction            = errors.New("no such function profile")
	ErrNoEnoughVirtualMemory = errors.New("not enough virtual memory budget")
	ErrEnsureCodeFailed      = errors.New("ensure code bundle failed")
	ErrInvalidV8Option       = errors.New("invalid v8 option")
	ErrSupervisorTransient   = errors.New("supervisor transient error")
	ErrSupervisorFatal       = errors.New("supervisor fatal error")
	ErrWorkerInitTimeout     = errors.New("worker initialization timeout")
	ErrWorkerStoppedUnexpected = errors.New("worker stopped unexpectedly")

	// ErrInvalidTransition is raised by Worker.UpdateContainerStatus when a
	// caller attempts to regress the containerStatus ordering.
	ErrInvalidTransition = errors.New("invalid container status transition")
)
