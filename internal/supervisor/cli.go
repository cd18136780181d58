package supervisor

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/noslate-project/alice/internal/logging"
)

const (
	stopMaxRetries = 3
	stopBackoff    = time.Second
)

// CLIClient drives the turf binary over os/exec, the way
// oriys-nova's internal/docker manager drives the Docker CLI.
type CLIClient struct {
	binary      string
	stopRetries prometheus.Counter
}

// NewCLIClient returns a Client backed by the given turf executable path
// (or bare name, resolved via PATH). stopRetries, if non-nil, counts
// every retried Stop attempt (spec.md §4.1's EAGAIN retry loop).
func NewCLIClient(binary string, stopRetries prometheus.Counter) *CLIClient {
	if binary == "" {
		binary = "turf"
	}
	return &CLIClient{binary: binary, stopRetries: stopRetries}
}

func (c *CLIClient) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, c.binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	if err == nil {
		return stdout.String(), nil
	}
	return stdout.String(), classifyError(err, &stderr)
}

func classifyError(err error, stderr *bytes.Buffer) error {
	code := ReturnCodeEINVAL
	if exitErr, ok := err.(*exec.ExitError); ok {
		code = ReturnCode(exitErr.ExitCode())
	}
	return fmt.Errorf("%s: %w", strings.TrimSpace(stderr.String()), &cliExitCode{code: code, err: err})
}

// cliExitCode is an intermediate carrier so classifyError can attach a
// ReturnCode without committing to an Op/Name before the caller knows them.
type cliExitCode struct {
	code ReturnCode
	err  error
}

func (e *cliExitCode) Error() string { return e.err.Error() }
func (e *cliExitCode) Unwrap() error { return e.err }

func wrap(op, name string, err error) error {
	if err == nil {
		return nil
	}
	var ec *cliExitCode
	code := ReturnCodeEINVAL
	if ok := asCliExitCode(err, &ec); ok {
		code = ec.code
	}
	return &CommandError{Op: op, Name: name, Code: code, Err: err}
}

func asCliExitCode(err error, target **cliExitCode) bool {
	type unwrapper interface{ Unwrap() error }
	for err != nil {
		if ec, ok := err.(*cliExitCode); ok {
			*target = ec
			return true
		}
		u, ok := err.(unwrapper)
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Create asks turf to create a sandbox process for name from bundlePath.
func (c *CLIClient) Create(ctx context.Context, name, bundlePath string) error {
	_, err := c.run(ctx, "create", "-b", bundlePath, name)
	return wrap("create", name, err)
}

// Start boots the sandbox, optionally seeding it and redirecting stdio.
func (c *CLIClient) Start(ctx context.Context, name string, opts StartOptions) error {
	args := []string{"start"}
	if opts.Seed != "" {
		args = append(args, "--seed", opts.Seed)
	}
	if opts.StdoutPath != "" {
		args = append(args, "--stdout", opts.StdoutPath)
	}
	if opts.StderrPath != "" {
		args = append(args, "--stderr", opts.StderrPath)
	}
	args = append(args, name)
	_, err := c.run(ctx, args...)
	return wrap("start", name, err)
}

// Stop attempts a graceful stop, retrying up to stopMaxRetries times with
// --force after stopBackoff on EAGAIN. ECHILD/ENOENT are treated as
// success since the process is already gone (spec.md §4.1, §7).
func (c *CLIClient) Stop(ctx context.Context, name string) error {
	_, err := c.run(ctx, "stop", name)
	if err == nil {
		return nil
	}
	cmdErr := wrap("stop", name, err)
	ce, _ := cmdErr.(*CommandError)
	if ce != nil && ce.Ignorable() {
		return nil
	}

	for attempt := 0; attempt < stopMaxRetries; attempt++ {
		if ce == nil || !ce.Retryable() {
			logging.Op().Warn("supervisor stop failed, not retryable", "name", name, "error", cmdErr)
			return cmdErr
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(stopBackoff):
		}
		if c.stopRetries != nil {
			c.stopRetries.Inc()
		}
		_, err = c.run(ctx, "stop", "--force", name)
		if err == nil {
			return nil
		}
		cmdErr = wrap("stop", name, err)
		ce, _ = cmdErr.(*CommandError)
		if ce != nil && ce.Ignorable() {
			return nil
		}
	}
	logging.Op().Warn("supervisor stop exhausted retries", "name", name, "error", cmdErr)
	return cmdErr
}

// Delete removes the sandbox's on-disk state after it has stopped.
func (c *CLIClient) Delete(ctx context.Context, name string) error {
	_, err := c.run(ctx, "delete", name)
	cmdErr := wrap("delete", name, err)
	if ce, ok := cmdErr.(*CommandError); ok && ce.Ignorable() {
		return nil
	}
	return cmdErr
}

// Destroy stops then deletes, per spec.md §4.1.
func (c *CLIClient) Destroy(ctx context.Context, name string) error {
	if err := c.Stop(ctx, name); err != nil {
		return err
	}
	return c.Delete(ctx, name)
}

// Ps lists all sandbox processes turf currently tracks.
func (c *CLIClient) Ps(ctx context.Context) ([]PsEntry, error) {
	out, err := c.run(ctx, "ps")
	if err != nil {
		return nil, wrap("ps", "", err)
	}
	var entries []PsEntry
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 3 {
			continue
		}
		pid, err := strconv.Atoi(fields[1])
		if err != nil {
			continue
		}
		entries = append(entries, PsEntry{Name: fields[0], Pid: pid, Status: fields[2]})
	}
	return entries, nil
}

// State returns turf's detailed record for a single sandbox, or nil if
// it no longer exists.
func (c *CLIClient) State(ctx context.Context, name string) (*StateRecord, error) {
	out, err := c.run(ctx, "state", name)
	if err != nil {
		cmdErr := wrap("state", name, err)
		if ce, ok := cmdErr.(*CommandError); ok && ce.Ignorable() {
			return nil, nil
		}
		return nil, cmdErr
	}

	rec := &StateRecord{Strings: map[string]string{}, Numerics: map[string]int64{}}
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		idx := strings.Index(line, ":")
		if idx < 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		val := strings.TrimSpace(line[idx+1:])
		if key == "pid" {
			if n, err := strconv.Atoi(val); err == nil {
				rec.Pid = n
			}
		}
		if n, err := strconv.ParseInt(val, 10, 64); err == nil && (strings.HasPrefix(key, "stat.") || strings.HasPrefix(key, "rusage.") || key == "pid") {
			rec.Numerics[key] = n
		} else {
			rec.Strings[key] = val
		}
	}
	return rec, nil
}
