// Package worker runs the external retrieval process, one process per attempt.
//
// The worker contract: invoked as `cmd... <contentID> <outputDir> [auxConfigPath]`,
// it must print a single JSON result as the final line of stdout:
//
//	{"success": true, "filePath": "...", "fileSize": 123}
//	{"success": false, "error": "..."}
//
// Anything printed before that line is ignored; stderr is log-only.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"
	"sync/atomic"
	"syscall"
	"time"
)

// ErrCancelled resolves an attempt whose process was terminated on request.
// It is terminal: cancellation bypasses failure classification and retries.
var ErrCancelled = errors.New("download cancelled")

const noResultMessage = "Worker exited without a result"

// Result is the structured message the worker prints as its last stdout line.
type Result struct {
	Success  bool   `json:"success"`
	FilePath string `json:"filePath,omitempty"`
	FileSize int64  `json:"fileSize,omitempty"`
	Error    string `json:"error,omitempty"`

	// NoResult marks a worker exit that produced no parseable result line.
	// Set by the bridge, never by the worker; Error then carries diagnostic
	// text, not a worker-reported failure.
	NoResult bool `json:"-"`
}

type Config struct {
	// Command is the worker argv prefix, e.g. ["python3", "scripts/download.py"].
	Command []string
	// OutputDir is passed to the worker as the download target directory.
	OutputDir string
	// AuxConfigPath is an optional credentials/cookies file, appended as a
	// third positional argument only when it exists on disk.
	AuxConfigPath string
}

type Bridge struct {
	cfg Config
}

func NewBridge(cfg Config) (*Bridge, error) {
	if len(cfg.Command) == 0 {
		return nil, errors.New("worker command is required")
	}
	if strings.TrimSpace(cfg.OutputDir) == "" {
		return nil, errors.New("output directory is required")
	}
	return &Bridge{cfg: cfg}, nil
}

// Attempt is the handle for one running worker process.
type Attempt struct {
	cancelled atomic.Bool
	cancel    context.CancelFunc
	done      chan struct{}
	result    Result
	err       error
}

// Cancel terminates the process. Wait then resolves with ErrCancelled.
func (a *Attempt) Cancel() {
	a.cancelled.Store(true)
	a.cancel()
}

// Wait blocks until the process has exited and its output is parsed.
func (a *Attempt) Wait() (Result, error) {
	<-a.done
	return a.result, a.err
}

// StartAttempt spawns one worker process for the content id. Cancelling ctx
// or calling Cancel on the returned attempt kills the process.
func (b *Bridge) StartAttempt(ctx context.Context, contentID string) (*Attempt, error) {
	if err := os.MkdirAll(b.cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	actx, cancel := context.WithCancel(ctx)

	args := append([]string{}, b.cfg.Command[1:]...)
	args = append(args, contentID, b.cfg.OutputDir)
	if p := b.cfg.AuxConfigPath; p != "" {
		if _, err := os.Stat(p); err == nil {
			args = append(args, p)
		}
	}

	cmd := exec.CommandContext(actx, b.cfg.Command[0], args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	// The worker spawns helper processes; run the whole tree in its own
	// process group so cancellation kills all of it at once, not just the
	// direct child.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	// If anything detaches into a new group and keeps the output pipes
	// open, stop waiting on them shortly after the kill.
	cmd.WaitDelay = 3 * time.Second

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start worker: %w", err)
	}

	a := &Attempt{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(a.done)
		defer cancel()

		waitErr := cmd.Wait()

		diag := strings.TrimSpace(stderr.String())
		if diag != "" {
			// Diagnostic output alone is not a failure signal.
			log.Printf("[worker] content_id=%s stderr=%s", contentID, diag)
		}

		if a.cancelled.Load() || actx.Err() != nil {
			a.err = ErrCancelled
			return
		}

		if res, ok := parseResult(stdout.Bytes()); ok {
			a.result = res
			return
		}

		// No parseable result: a failure in its own right, reported with
		// the diagnostic text as the message.
		msg := diag
		if msg == "" && waitErr != nil {
			msg = waitErr.Error()
		}
		if msg == "" {
			msg = noResultMessage
		}
		a.result = Result{Success: false, Error: msg, NoResult: true}
	}()
	return a, nil
}

// RunAttempt starts a worker process and blocks until it resolves.
func (b *Bridge) RunAttempt(ctx context.Context, contentID string) (Result, error) {
	a, err := b.StartAttempt(ctx, contentID)
	if err != nil {
		return Result{}, err
	}
	return a.Wait()
}

// parseResult extracts the structured result from the final non-empty line
// of the worker's stdout.
func parseResult(out []byte) (Result, bool) {
	lines := bytes.Split(out, []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		line := bytes.TrimSpace(lines[i])
		if len(line) == 0 {
			continue
		}
		if line[0] != '{' {
			return Result{}, false
		}
		var res Result
		if err := json.Unmarshal(line, &res); err != nil {
			return Result{}, false
		}
		return res, true
	}
	return Result{}, false
}
