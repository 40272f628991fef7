package worker_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"media-download-service/internal/worker"
)

func writeScript(t *testing.T, body string) []string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "worker.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return []string{"/bin/sh", path}
}

func newBridge(t *testing.T, scriptBody string) *worker.Bridge {
	t.Helper()
	b, err := worker.NewBridge(worker.Config{
		Command:   writeScript(t, scriptBody),
		OutputDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("new bridge: %v", err)
	}
	return b
}

func TestRunAttempt_Success(t *testing.T) {
	b := newBridge(t, `
echo "fetching $1 into $2"
echo "{\"success\": true, \"filePath\": \"$2/$1.m4a\", \"fileSize\": 2048}"
`)

	res, err := b.RunAttempt(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if filepath.Base(res.FilePath) != "abc123.m4a" {
		t.Fatalf("unexpected file path %q", res.FilePath)
	}
	if res.FileSize != 2048 {
		t.Fatalf("expected file size 2048, got %d", res.FileSize)
	}
}

func TestRunAttempt_StructuredFailure(t *testing.T) {
	b := newBridge(t, `echo "{\"success\": false, \"error\": \"Private video\"}"`)

	res, err := b.RunAttempt(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if res.Success {
		t.Fatal("expected failure result")
	}
	if res.Error != "Private video" {
		t.Fatalf("unexpected error message %q", res.Error)
	}
	if res.NoResult {
		t.Fatal("worker-reported failure must not be flagged as no-result")
	}
}

func TestRunAttempt_NoParseableResult_UsesStderr(t *testing.T) {
	b := newBridge(t, `
echo "just some chatter"
echo "Traceback: something broke" >&2
exit 1
`)

	res, err := b.RunAttempt(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if res.Success {
		t.Fatal("expected failure result")
	}
	if res.Error != "Traceback: something broke" {
		t.Fatalf("expected stderr text as message, got %q", res.Error)
	}
	if !res.NoResult {
		t.Fatal("expected the result to be flagged as no-result")
	}
}

func TestRunAttempt_NoOutputAtAll(t *testing.T) {
	b := newBridge(t, `exit 0`)

	res, err := b.RunAttempt(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if res.Success || res.Error == "" {
		t.Fatalf("expected fallback failure message, got %+v", res)
	}
	if !res.NoResult {
		t.Fatal("expected the result to be flagged as no-result")
	}
}

func TestAttempt_Cancel(t *testing.T) {
	b := newBridge(t, `sleep 30`)

	a, err := b.StartAttempt(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("start attempt: %v", err)
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		a.Cancel()
	}()

	start := time.Now()
	_, err = a.Wait()
	if !errors.Is(err, worker.ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("cancel took %s; attempt must resolve promptly", elapsed)
	}
}

func TestAttempt_Cancel_KillsChildProcesses(t *testing.T) {
	// The shell backgrounds a helper, like the real worker spawning
	// yt-dlp/ffmpeg. Cancellation must take down the whole tree; the
	// helper holding the output pipes open must not stall Wait.
	b := newBridge(t, `
sleep 30 &
wait
`)

	a, err := b.StartAttempt(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("start attempt: %v", err)
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		a.Cancel()
	}()

	start := time.Now()
	_, err = a.Wait()
	if !errors.Is(err, worker.ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("cancel took %s; attempt must resolve promptly", elapsed)
	}
}

func TestRunAttempt_ContextCancel(t *testing.T) {
	b := newBridge(t, `sleep 30`)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := b.RunAttempt(ctx, "abc123")
	if !errors.Is(err, worker.ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
}

func TestStartAttempt_AuxConfigAppendedOnlyWhenPresent(t *testing.T) {
	script := writeScript(t, `echo "{\"success\": true, \"filePath\": \"$3\", \"fileSize\": 1}"`)

	cookies := filepath.Join(t.TempDir(), "cookies.txt")
	if err := os.WriteFile(cookies, []byte("# netscape"), 0o644); err != nil {
		t.Fatalf("write cookies: %v", err)
	}

	b, err := worker.NewBridge(worker.Config{
		Command:       script,
		OutputDir:     t.TempDir(),
		AuxConfigPath: cookies,
	})
	if err != nil {
		t.Fatalf("new bridge: %v", err)
	}

	res, err := b.RunAttempt(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if res.FilePath != cookies {
		t.Fatalf("expected cookies path as third arg, got %q", res.FilePath)
	}

	// Missing file => argument omitted entirely.
	b2, err := worker.NewBridge(worker.Config{
		Command:       script,
		OutputDir:     t.TempDir(),
		AuxConfigPath: filepath.Join(t.TempDir(), "missing.txt"),
	})
	if err != nil {
		t.Fatalf("new bridge: %v", err)
	}
	res, err = b2.RunAttempt(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if res.FilePath != "" {
		t.Fatalf("expected no third arg, got %q", res.FilePath)
	}
}
