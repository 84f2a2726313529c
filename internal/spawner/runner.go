// Package spawner launches isolated worker subprocesses for accepted
// triggers and tracks in-flight executions.
package spawner

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os/exec"
	"syscall"
	"time"

	"github.com/zulandar/switchboard/internal/models"
	"gorm.io/gorm"
)

// DefaultTimeout bounds workers whose policy does not set one.
const DefaultTimeout = 10 * time.Minute

// Request describes one worker launch.
type Request struct {
	ExecutionID string
	AgentID     string
	MessageID   uint
	Workspace   string
	Instruction string
	Timeout     time.Duration
	Snapshot    models.PolicySnapshot
}

// Result is a completed execution.
type Result struct {
	ExecutionID string
	AgentID     string
	MessageID   uint
	PID         int
	Status      string // succeeded, failed, timed_out
	Detail      string // spawn/exit error or timeout note
	Output      string // trailing worker stdout, for reply composition
	StartedAt   time.Time
	EndedAt     time.Time
}

// Runner executes one worker to completion. Implementations must honor the
// request timeout and never block past it.
type Runner interface {
	Run(ctx context.Context, req Request) Result
}

// GenerateExecutionID creates a unique execution ID in exec-xxxxxxxx format
// (8-char hex).
func GenerateExecutionID() (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("spawner: generate execution ID: %w", err)
	}
	return "exec-" + hex.EncodeToString(b), nil
}

// ProcessRunner is the production Runner: it launches the configured worker
// command as a subprocess rooted at the agent's workspace, with the
// instruction appended as the final argument.
type ProcessRunner struct {
	Command string
	Args    []string
	DB      *gorm.DB // worker output capture; may be nil in tests
}

// Run launches the worker and blocks until it exits or the timeout fires.
// On timeout the whole process group is terminated; a worker that ignores
// SIGTERM is killed after WaitDelay.
func (r *ProcessRunner) Run(ctx context.Context, req Request) Result {
	res := Result{
		ExecutionID: req.ExecutionID,
		AgentID:     req.AgentID,
		MessageID:   req.MessageID,
		StartedAt:   time.Now(),
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append(append([]string{}, r.Args...), req.Instruction)
	cmd := exec.CommandContext(ctx, r.Command, args...)
	if req.Workspace != "" {
		cmd.Dir = req.Workspace
	}

	// Use a process group so SIGTERM kills the entire tree (shell + children).
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
	cmd.WaitDelay = 10 * time.Second

	stdout := newLogWriter(r.DB, req.ExecutionID, req.AgentID, "out")
	stderr := newLogWriter(r.DB, req.ExecutionID, req.AgentID, "err")
	tail := newTailBuffer(tailCap)
	stdout.onWrite = tail.Write

	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		res.Status = models.ExecFailed
		res.Detail = fmt.Sprintf("spawn: %v", err)
		res.EndedAt = time.Now()
		return res
	}
	res.PID = cmd.Process.Pid

	flushCtx, flushCancel := context.WithCancel(context.Background())
	startFlusher(flushCtx, stdout, DefaultFlushInterval)
	startFlusher(flushCtx, stderr, DefaultFlushInterval)

	waitErr := cmd.Wait()
	flushCancel()
	stdout.Close()
	stderr.Close()

	res.EndedAt = time.Now()
	res.Output = tail.String()

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		res.Status = models.ExecTimedOut
		res.Detail = fmt.Sprintf("terminated after %s timeout", timeout)
	case waitErr == nil:
		res.Status = models.ExecSucceeded
	default:
		res.Status = models.ExecFailed
		res.Detail = waitErr.Error()
	}
	return res
}
