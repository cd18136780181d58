package supervisor

import (
	"context"
	"sync"
)

// fakeSandbox tracks one process FakeClient pretends to manage.
type fakeSandbox struct {
	bundlePath string
	started    bool
	stopped    bool
}

// FakeClient is an in-memory Client double for tests and for running the
// control plane standalone without a real turf binary available.
type FakeClient struct {
	mu        sync.Mutex
	sandboxes map[string]*fakeSandbox

	// FailStopTimes, when > 0, makes the first N Stop calls for each name
	// return a retryable EAGAIN CommandError before succeeding.
	FailStopTimes int
	stopAttempts  map[string]int
}

// NewFakeClient returns an empty FakeClient.
func NewFakeClient() *FakeClient {
	return &FakeClient{
		sandboxes:    map[string]*fakeSandbox{},
		stopAttempts: map[string]int{},
	}
}

func (f *FakeClient) Create(ctx context.Context, name, bundlePath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sandboxes[name] = &fakeSandbox{bundlePath: bundlePath}
	return nil
}

func (f *FakeClient) Start(ctx context.Context, name string, opts StartOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sandboxes[name]
	if !ok {
		return &CommandError{Op: "start", Name: name, Code: ReturnCodeENOENT}
	}
	s.started = true
	return nil
}

func (f *FakeClient) Stop(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sandboxes[name]
	if !ok {
		return nil
	}
	if f.stopAttempts[name] < f.FailStopTimes {
		f.stopAttempts[name]++
		return &CommandError{Op: "stop", Name: name, Code: ReturnCodeEAGAINLinux}
	}
	s.stopped = true
	return nil
}

func (f *FakeClient) Delete(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sandboxes, name)
	delete(f.stopAttempts, name)
	return nil
}

func (f *FakeClient) Destroy(ctx context.Context, name string) error {
	if err := f.Stop(ctx, name); err != nil {
		return err
	}
	return f.Delete(ctx, name)
}

func (f *FakeClient) Ps(ctx context.Context) ([]PsEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entries := make([]PsEntry, 0, len(f.sandboxes))
	for name, s := range f.sandboxes {
		status := "forkwait"
		switch {
		case s.stopped:
			status = "stopped"
		case s.started:
			status = "running"
		}
		entries = append(entries, PsEntry{Name: name, Pid: 1, Status: status})
	}
	return entries, nil
}

func (f *FakeClient) State(ctx context.Context, name string) (*StateRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sandboxes[name]
	if !ok {
		return nil, nil
	}
	status := "forkwait"
	switch {
	case s.stopped:
		status = "stopped"
	case s.started:
		status = "running"
	}
	return &StateRecord{
		Pid:      1,
		Strings:  map[string]string{"state": status},
		Numerics: map[string]int64{"pid": 1},
	}, nil
}
