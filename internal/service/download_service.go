package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"media-download-service/internal/classify"
	"media-download-service/internal/entity"
	"media-download-service/internal/retrypolicy"
	"media-download-service/internal/worker"
)

const (
	cancelledMessage = "Cancelled by user"
	restartMessage   = "Interrupted by service restart"
)

// Repository port (implementation: postgresql.DownloadRepository).
// Find methods return (nil, nil) when no job exists.
type JobRepository interface {
	Create(ctx context.Context, fields entity.CreateJobFields) (*entity.Job, error)
	Update(ctx context.Context, id uuid.UUID, patch entity.JobPatch) (*entity.Job, error)
	FindByID(ctx context.Context, id uuid.UUID) (*entity.Job, error)
	FindByContentID(ctx context.Context, contentID string) (*entity.Job, error)
	Delete(ctx context.Context, id uuid.UUID) (bool, error)
	IncrementUsage(ctx context.Context, id uuid.UUID) error
	ListActive(ctx context.Context) ([]*entity.Job, error)
	ListCompleted(ctx context.Context) ([]*entity.Job, error)
	List(ctx context.Context) ([]*entity.Job, error)
}

// WorkerBridge port (implementation: worker.Bridge). RunAttempt blocks until
// the worker process resolves; cancelling ctx kills it and yields
// worker.ErrCancelled.
type WorkerBridge interface {
	RunAttempt(ctx context.Context, contentID string) (worker.Result, error)
}

type Config struct {
	MaxConcurrent int
	MaxRetries    int
	BaseDelay     time.Duration
}

// TrackMetadata is the display metadata supplied with a submission.
type TrackMetadata struct {
	Title    string
	Artist   string
	Duration int
	CoverURL string
}

type SubmitResult struct {
	ID     uuid.UUID
	Cached bool
}

// DownloadService owns the job state machine: it admits submissions, drives
// each job's attempt loop in its own goroutine, and is the sole writer of any
// job record. Every transition is persisted first and published second.
type DownloadService struct {
	repo   JobRepository
	bridge WorkerBridge
	pub    ProgressPublisher
	gate   *Gate
	policy retrypolicy.Policy

	// One cancellation handle per non-terminal job, removed the instant the
	// job leaves a non-terminal state by any path.
	mu      sync.Mutex
	handles map[uuid.UUID]context.CancelFunc
}

func NewDownloadService(repo JobRepository, bridge WorkerBridge, pub ProgressPublisher, cfg Config) *DownloadService {
	return &DownloadService{
		repo:    repo,
		bridge:  bridge,
		pub:     pub,
		gate:    NewGate(cfg.MaxConcurrent),
		policy:  retrypolicy.New(cfg.MaxRetries, cfg.BaseDelay),
		handles: make(map[uuid.UUID]context.CancelFunc),
	}
}

// StartDownload admits a request for a content id and returns without
// waiting for the download. Outcomes: a cache hit on an existing complete
// job, joining an in-flight job, or a freshly created job driven
// asynchronously. Gate refusal fails with ErrTooManyDownloads and creates
// nothing.
func (s *DownloadService) StartDownload(ctx context.Context, contentID string, meta TrackMetadata) (SubmitResult, error) {
	if strings.TrimSpace(contentID) == "" {
		return SubmitResult{}, errors.New("content id is required")
	}

	release := s.gate.Begin()
	defer release()

	existing, err := s.repo.FindByContentID(ctx, contentID)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("find job: %w", err)
	}
	if existing != nil {
		switch {
		case existing.Status == entity.StatusComplete && fileExists(existing.FilePath):
			// Cache hit: media already on disk, no new work.
			if err := s.repo.IncrementUsage(ctx, existing.ID); err != nil {
				log.Printf("[engine] job_id=%s usage bump error=%v", existing.ID, err)
			}
			return SubmitResult{ID: existing.ID, Cached: true}, nil
		case existing.Status.IsActive():
			// Join the in-flight job rather than starting a duplicate.
			return SubmitResult{ID: existing.ID, Cached: false}, nil
		default:
			// Failed earlier, or complete with the file gone out-of-band.
			// Drop the stale record and fall through to fresh admission.
			if _, err := s.repo.Delete(ctx, existing.ID); err != nil {
				return SubmitResult{}, fmt.Errorf("delete stale job: %w", err)
			}
		}
	}

	active, err := s.repo.ListActive(ctx)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("count active jobs: %w", err)
	}
	if err := s.gate.Admit(len(active)); err != nil {
		return SubmitResult{}, err
	}

	job, err := s.repo.Create(ctx, entity.CreateJobFields{
		ContentID: contentID,
		Title:     meta.Title,
		Artist:    meta.Artist,
		Duration:  meta.Duration,
		CoverURL:  meta.CoverURL,
	})
	if err != nil {
		return SubmitResult{}, fmt.Errorf("create job: %w", err)
	}

	s.publish(ProgressEvent{ID: job.ID.String(), Status: entity.StatusPending})

	jobCtx := s.register(job.ID)
	go s.runJob(jobCtx, job.ID, job.ContentID)

	log.Printf("[engine] job_id=%s content_id=%s admitted", job.ID, contentID)
	return SubmitResult{ID: job.ID, Cached: false}, nil
}

// CancelDownload signals the job's attempt loop, which observes the signal
// and commits the terminal transition itself. False means no active handle
// was found (unknown id, or the job already reached a terminal state).
func (s *DownloadService) CancelDownload(id uuid.UUID) bool {
	s.mu.Lock()
	cancel, ok := s.handles[id]
	s.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}

func (s *DownloadService) GetStatus(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	return s.repo.FindByID(ctx, id)
}

func (s *DownloadService) ListAll(ctx context.Context) ([]*entity.Job, error) {
	return s.repo.List(ctx)
}

func (s *DownloadService) ListCompleted(ctx context.Context) ([]*entity.Job, error) {
	return s.repo.ListCompleted(ctx)
}

// DeleteDownload removes the job record and any downloaded file. An active
// job is cancelled first; its loop's final write then finds no row, which is
// harmless.
func (s *DownloadService) DeleteDownload(ctx context.Context, id uuid.UUID) (bool, error) {
	job, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	s.CancelDownload(id)

	if job.FilePath != "" {
		if err := os.Remove(job.FilePath); err != nil && !os.IsNotExist(err) {
			log.Printf("[engine] job_id=%s remove file error=%v", id, err)
		}
	}
	return s.repo.Delete(ctx, id)
}

// RecoverOrphans marks jobs left active by a previous process run as failed.
// No handle exists for them, so they could never finish. Called once at
// startup, before the first submission is accepted.
func (s *DownloadService) RecoverOrphans(ctx context.Context) (int, error) {
	active, err := s.repo.ListActive(ctx)
	if err != nil {
		return 0, err
	}
	for _, job := range active {
		err := s.transition(ctx, job.ID, entity.JobPatch{
			Status: ptr(entity.StatusError),
			Error:  ptr(restartMessage),
		}, ProgressEvent{ID: job.ID.String(), Status: entity.StatusError, Error: restartMessage})
		if err != nil {
			return 0, err
		}
		log.Printf("[engine] job_id=%s orphan marked as error", job.ID)
	}
	return len(active), nil
}

// runJob drives one job from pending to a terminal state. It is the only
// goroutine that writes this job's record. The job context governs the
// attempt and the backoff; commits always use a background context so a
// cancellation cannot strand the record mid-transition.
func (s *DownloadService) runJob(jobCtx context.Context, id uuid.UUID, contentID string) {
	defer s.unregister(id)

	ctx := context.Background()
	retryCount := 0

	for {
		// Checkpoint: before starting an attempt.
		if jobCtx.Err() != nil {
			s.commitCancelled(ctx, id)
			return
		}

		err := s.transition(ctx, id, entity.JobPatch{
			Status:     ptr(entity.StatusDownloading),
			Progress:   ptr(0),
			RetryCount: ptr(retryCount),
		}, ProgressEvent{ID: id.String(), Status: entity.StatusDownloading, Progress: ptr(0)})
		if err != nil {
			log.Printf("[engine] job_id=%s transition=downloading error=%v", id, err)
			return
		}

		res, attemptErr := s.bridge.RunAttempt(jobCtx, contentID)

		// Checkpoint: after the attempt resolves, before any commit.
		// Whichever terminal transition commits first wins the race.
		if errors.Is(attemptErr, worker.ErrCancelled) || jobCtx.Err() != nil {
			s.commitCancelled(ctx, id)
			return
		}

		if attemptErr == nil && res.Success {
			err := s.transition(ctx, id, entity.JobPatch{
				Status:   ptr(entity.StatusComplete),
				Progress: ptr(100),
				FilePath: ptr(res.FilePath),
				FileSize: ptr(res.FileSize),
			}, ProgressEvent{
				ID:       id.String(),
				Status:   entity.StatusComplete,
				Progress: ptr(100),
				FileSize: res.FileSize,
			})
			if err != nil {
				log.Printf("[engine] job_id=%s transition=complete error=%v", id, err)
				return
			}
			log.Printf("[engine] job_id=%s status=complete file=%s size=%d", id, res.FilePath, res.FileSize)
			return
		}

		msg := res.Error
		if msg == "" && attemptErr != nil {
			msg = attemptErr.Error()
		}
		if msg == "" {
			msg = "Unknown download failure"
		}

		var verdict classify.Verdict
		if res.NoResult {
			// A crash without a result line tells us nothing about the
			// cause; treat it as transient no matter what the diagnostic
			// text happens to mention.
			verdict = classify.Verdict{Kind: classify.KindUnknown, Message: msg, Retryable: true}
		} else {
			verdict = classify.Message(msg)
		}
		decision := s.policy.Decide(verdict.Retryable, retryCount)

		if !decision.Retry {
			final := verdict.Message
			if verdict.Retryable {
				// Budget exhausted rather than hopeless: note how hard we tried.
				final = fmt.Sprintf("Failed after %d attempts: %s", retryCount+1, verdict.Message)
			}
			kind := string(verdict.Kind)
			err := s.transition(ctx, id, entity.JobPatch{
				Status:    ptr(entity.StatusError),
				Error:     ptr(final),
				ErrorKind: ptr(kind),
				Retryable: ptr(verdict.Retryable),
			}, ProgressEvent{
				ID:        id.String(),
				Status:    entity.StatusError,
				Error:     final,
				ErrorType: kind,
				Retryable: ptr(verdict.Retryable),
			})
			if err != nil {
				log.Printf("[engine] job_id=%s transition=error error=%v", id, err)
			}
			log.Printf("[engine] job_id=%s status=error kind=%s attempts=%d", id, kind, retryCount+1)
			return
		}

		next := retryCount + 1
		kind := string(verdict.Kind)
		err = s.transition(ctx, id, entity.JobPatch{
			Status:     ptr(entity.StatusRetrying),
			RetryCount: ptr(next),
			Error:      ptr(verdict.Message),
			ErrorKind:  ptr(kind),
			Retryable:  ptr(true),
		}, ProgressEvent{
			ID:          id.String(),
			Status:      entity.StatusRetrying,
			Retry:       ptr(next),
			MaxRetries:  ptr(s.policy.MaxRetries),
			NextRetryMs: ptr(decision.Delay.Milliseconds()),
			Error:       verdict.Message,
			ErrorType:   kind,
			Retryable:   ptr(true),
		})
		if err != nil {
			log.Printf("[engine] job_id=%s transition=retrying error=%v", id, err)
			return
		}
		log.Printf("[engine] job_id=%s status=retrying retry=%d/%d delay_ms=%d error=%s",
			id, next, s.policy.MaxRetries, decision.Delay.Milliseconds(), verdict.Message)

		// Backoff suspends only this job's loop; no slot or lock is held.
		select {
		case <-time.After(decision.Delay):
		case <-jobCtx.Done():
			s.commitCancelled(ctx, id)
			return
		}
		retryCount = next
	}
}

func (s *DownloadService) commitCancelled(ctx context.Context, id uuid.UUID) {
	err := s.transition(ctx, id, entity.JobPatch{
		Status: ptr(entity.StatusError),
		Error:  ptr(cancelledMessage),
	}, ProgressEvent{ID: id.String(), Status: entity.StatusError, Error: cancelledMessage})
	if err != nil {
		log.Printf("[engine] job_id=%s cancel commit error=%v", id, err)
		return
	}
	log.Printf("[engine] job_id=%s status=error reason=cancelled", id)
}

// transition persists a state change, then publishes it. A publish failure
// is logged and dropped; it never rolls back or blocks the persisted state.
func (s *DownloadService) transition(ctx context.Context, id uuid.UUID, patch entity.JobPatch, ev ProgressEvent) error {
	if _, err := s.repo.Update(ctx, id, patch); err != nil {
		return err
	}
	s.publish(ev)
	return nil
}

func (s *DownloadService) publish(ev ProgressEvent) {
	if s.pub == nil {
		return
	}
	if err := s.pub.Publish(context.Background(), ev); err != nil {
		log.Printf("[engine] job_id=%s publish error=%v", ev.ID, err)
	}
}

func (s *DownloadService) register(id uuid.UUID) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.handles[id] = cancel
	s.mu.Unlock()
	return ctx
}

func (s *DownloadService) unregister(id uuid.UUID) {
	s.mu.Lock()
	if cancel, ok := s.handles[id]; ok {
		delete(s.handles, id)
		cancel()
	}
	s.mu.Unlock()
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func ptr[T any](v T) *T { return &v }
