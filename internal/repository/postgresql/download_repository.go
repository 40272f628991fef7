package postgresql

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"media-download-service/internal/entity"
)

var ErrNotFound = errors.New("not found")

const jobColumns = `id, content_id, title, artist, duration, cover_url, status, progress,
retry_count, file_path, file_size, error, error_kind, retryable, usage_count, created_at, updated_at`

// DownloadRepository is the durable job store, one row per download job.
type DownloadRepository struct {
	pool *pgxpool.Pool
}

func NewDownloadRepository(pool *pgxpool.Pool) *DownloadRepository {
	return &DownloadRepository{pool: pool}
}

// EnsureSchema creates the downloads table if it does not exist yet.
func (r *DownloadRepository) EnsureSchema(ctx context.Context) error {
	const q = `
CREATE TABLE IF NOT EXISTS downloads (
	id          uuid PRIMARY KEY,
	content_id  text NOT NULL,
	title       text NOT NULL DEFAULT '',
	artist      text NOT NULL DEFAULT '',
	duration    integer NOT NULL DEFAULT 0,
	cover_url   text NOT NULL DEFAULT '',
	status      text NOT NULL DEFAULT 'pending',
	progress    integer NOT NULL DEFAULT 0,
	retry_count integer NOT NULL DEFAULT 0,
	file_path   text NOT NULL DEFAULT '',
	file_size   bigint NOT NULL DEFAULT 0,
	error       text,
	error_kind  text NOT NULL DEFAULT '',
	retryable   boolean NOT NULL DEFAULT false,
	usage_count integer NOT NULL DEFAULT 0,
	created_at  timestamptz NOT NULL DEFAULT now(),
	updated_at  timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS downloads_content_id_idx ON downloads (content_id);
CREATE INDEX IF NOT EXISTS downloads_status_idx ON downloads (status);
`
	_, err := r.pool.Exec(ctx, q)
	return err
}

func (r *DownloadRepository) Create(ctx context.Context, fields entity.CreateJobFields) (*entity.Job, error) {
	const q = `
INSERT INTO downloads (id, content_id, title, artist, duration, cover_url, status)
VALUES ($1, $2, $3, $4, $5, $6, 'pending')
RETURNING ` + jobColumns + `;`

	row := r.pool.QueryRow(ctx, q,
		uuid.New(), fields.ContentID, fields.Title, fields.Artist, fields.Duration, fields.CoverURL)
	return scanJob(row)
}

// FindByID returns (nil, nil) when no such job exists.
func (r *DownloadRepository) FindByID(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	const q = `SELECT ` + jobColumns + ` FROM downloads WHERE id = $1;`
	return absentAsNil(scanJob(r.pool.QueryRow(ctx, q, id)))
}

// FindByContentID returns the newest job for the content id, or (nil, nil)
// when none exists. At most one non-error job can exist per content id; the
// orchestrator enforces that, not this layer.
func (r *DownloadRepository) FindByContentID(ctx context.Context, contentID string) (*entity.Job, error) {
	const q = `
SELECT ` + jobColumns + `
FROM downloads
WHERE content_id = $1
ORDER BY created_at DESC
LIMIT 1;`
	return absentAsNil(scanJob(r.pool.QueryRow(ctx, q, contentID)))
}

func absentAsNil(job *entity.Job, err error) (*entity.Job, error) {
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return job, err
}

// Update merges non-nil patch fields into the row and bumps updated_at.
// The orchestrator is the single writer per job, so no row locking here.
func (r *DownloadRepository) Update(ctx context.Context, id uuid.UUID, patch entity.JobPatch) (*entity.Job, error) {
	sets := []string{"updated_at = now()"}
	args := []any{id}
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if patch.Status != nil {
		add("status", string(*patch.Status))
	}
	if patch.Progress != nil {
		add("progress", *patch.Progress)
	}
	if patch.RetryCount != nil {
		add("retry_count", *patch.RetryCount)
	}
	if patch.FilePath != nil {
		add("file_path", *patch.FilePath)
	}
	if patch.FileSize != nil {
		add("file_size", *patch.FileSize)
	}
	if patch.Error != nil {
		add("error", *patch.Error)
	}
	if patch.ErrorKind != nil {
		add("error_kind", *patch.ErrorKind)
	}
	if patch.Retryable != nil {
		add("retryable", *patch.Retryable)
	}

	q := fmt.Sprintf(`UPDATE downloads SET %s WHERE id = $1 RETURNING %s;`,
		strings.Join(sets, ", "), jobColumns)
	return scanJob(r.pool.QueryRow(ctx, q, args...))
}

func (r *DownloadRepository) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM downloads WHERE id = $1;`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// IncrementUsage bumps the cache-hit counter on a completed job.
func (r *DownloadRepository) IncrementUsage(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE downloads SET usage_count = usage_count + 1, updated_at = now() WHERE id = $1;`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListActive returns all jobs still holding a concurrency slot.
func (r *DownloadRepository) ListActive(ctx context.Context) ([]*entity.Job, error) {
	const q = `
SELECT ` + jobColumns + `
FROM downloads
WHERE status IN ('pending', 'downloading', 'retrying')
ORDER BY created_at;`
	return r.list(ctx, q)
}

func (r *DownloadRepository) ListCompleted(ctx context.Context) ([]*entity.Job, error) {
	const q = `
SELECT ` + jobColumns + `
FROM downloads
WHERE status = 'complete'
ORDER BY created_at DESC;`
	return r.list(ctx, q)
}

func (r *DownloadRepository) List(ctx context.Context) ([]*entity.Job, error) {
	const q = `SELECT ` + jobColumns + ` FROM downloads ORDER BY created_at DESC;`
	return r.list(ctx, q)
}

func (r *DownloadRepository) list(ctx context.Context, q string) ([]*entity.Job, error) {
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*entity.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func scanJob(row pgx.Row) (*entity.Job, error) {
	var (
		job        entity.Job
		statusText string
	)
	err := row.Scan(
		&job.ID,
		&job.ContentID,
		&job.Title,
		&job.Artist,
		&job.Duration,
		&job.CoverURL,
		&statusText,
		&job.Progress,
		&job.RetryCount,
		&job.FilePath,
		&job.FileSize,
		&job.Error, // NULL => nil
		&job.ErrorKind,
		&job.Retryable,
		&job.UsageCount,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	job.Status = entity.JobStatus(statusText)
	return &job, nil
}
