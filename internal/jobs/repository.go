package jobs

import (
	"context"
	"database/sql"
	"time"
)

// Repository persists jobs. Status transitions are guarded in SQL so a
// stale writer can never move a job backwards along the lifecycle; a
// guard that matches no row surfaces as ErrIllegalTransition.
type Repository interface {
	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, videoID string) (*Job, error)
	ListJobs(ctx context.Context, status string, limit, offset int) ([]*Job, error)
	CountJobs(ctx context.Context, status string) (int, error)

	MarkProcessing(ctx context.Context, videoID string) error
	TouchProcessing(ctx context.Context, videoID string) error
	UpdateProgress(ctx context.Context, videoID, stage, statusText string, progress int) error
	UpdateMedia(ctx context.Context, videoID, videoPath, framesDir string, durationSec float64, framesAnalyzed int) error
	MarkCompleted(ctx context.Context, videoID string, uniqueEntities int, entitySummary, reportPath string) error
	MarkFailed(ctx context.Context, videoID, errMsg string) error
	ResetToQueued(ctx context.Context, videoID string) error
	TouchQueued(ctx context.Context, videoID string) error

	ListStaleProcessing(ctx context.Context, cutoff time.Time) ([]*Job, error)
	ListQueuedBefore(ctx context.Context, cutoff time.Time) ([]*Job, error)
	DeleteJob(ctx context.Context, videoID string, staleBefore time.Time) (bool, error)
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const jobColumns = `video_id, filename, interval_sec, source_url, voice_file,
	status, stage, progress, status_text, error,
	duration_sec, frames_analyzed, unique_entities, entity_summary,
	video_path, frames_dir, report_path, created_at, updated_at`

func (r *SQLiteRepository) CreateJob(ctx context.Context, j *Job) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO jobs (video_id, filename, interval_sec, source_url, voice_file,
			status, progress, status_text, video_path, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, j.VideoID, j.Filename, j.IntervalSec, nullString(j.SourceURL), nullString(j.VoiceFile),
		j.Status, j.Progress, nullString(j.StatusText), nullString(j.VideoPath),
		j.CreatedAt.UTC().Format(time.RFC3339), j.UpdatedAt.UTC().Format(time.RFC3339))
	return err
}

func (r *SQLiteRepository) GetJob(ctx context.Context, videoID string) (*Job, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+` FROM jobs WHERE video_id = ?
	`, videoID)
	return scanJob(row)
}

func (r *SQLiteRepository) ListJobs(ctx context.Context, status string, limit, offset int) ([]*Job, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	var rows *sql.Rows
	var err error
	if status == "" {
		rows, err = r.db.QueryContext(ctx, `
			SELECT `+jobColumns+` FROM jobs
			ORDER BY created_at DESC, video_id LIMIT ? OFFSET ?
		`, limit, offset)
	} else {
		rows, err = r.db.QueryContext(ctx, `
			SELECT `+jobColumns+` FROM jobs WHERE status = ?
			ORDER BY created_at DESC, video_id LIMIT ? OFFSET ?
		`, status, limit, offset)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanJobs(rows)
}

func (r *SQLiteRepository) CountJobs(ctx context.Context, status string) (int, error) {
	var count int
	var err error
	if status == "" {
		err = r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM jobs").Scan(&count)
	} else {
		err = r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM jobs WHERE status = ?", status).Scan(&count)
	}
	return count, err
}

func (r *SQLiteRepository) MarkProcessing(ctx context.Context, videoID string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, status_text = 'starting', error = NULL, updated_at = ?
		WHERE video_id = ? AND status = ?
	`, StatusProcessing, nowRFC3339(), videoID, StatusQueued)
	return guard(res, err)
}

// TouchProcessing bumps the heartbeat of a processing job so quiet
// stages are not mistaken for a crashed worker by the stale sweep.
func (r *SQLiteRepository) TouchProcessing(ctx context.Context, videoID string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET updated_at = ? WHERE video_id = ? AND status = ?
	`, nowRFC3339(), videoID, StatusProcessing)
	return guard(res, err)
}

// UpdateProgress writes stage, text and progress for a processing job.
// MAX keeps progress monotonic even if a slow writer lands out of order.
func (r *SQLiteRepository) UpdateProgress(ctx context.Context, videoID, stage, statusText string, progress int) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET progress = MAX(progress, ?), stage = ?, status_text = ?, updated_at = ?
		WHERE video_id = ? AND status = ?
	`, progress, stage, nullString(statusText), nowRFC3339(), videoID, StatusProcessing)
	return guard(res, err)
}

// UpdateMedia records what extraction learned. video_path covers URL
// submissions, whose original lands on disk only when the worker
// downloads it.
func (r *SQLiteRepository) UpdateMedia(ctx context.Context, videoID, videoPath, framesDir string, durationSec float64, framesAnalyzed int) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET video_path = ?, frames_dir = ?, duration_sec = ?, frames_analyzed = ?, updated_at = ?
		WHERE video_id = ? AND status = ?
	`, videoPath, framesDir, durationSec, framesAnalyzed, nowRFC3339(), videoID, StatusProcessing)
	return guard(res, err)
}

func (r *SQLiteRepository) MarkCompleted(ctx context.Context, videoID string, uniqueEntities int, entitySummary, reportPath string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, progress = 100, stage = NULL, status_text = 'complete',
			unique_entities = ?, entity_summary = ?, report_path = ?, updated_at = ?
		WHERE video_id = ? AND status = ?
	`, StatusCompleted, uniqueEntities, entitySummary, reportPath, nowRFC3339(), videoID, StatusProcessing)
	return guard(res, err)
}

func (r *SQLiteRepository) MarkFailed(ctx context.Context, videoID, errMsg string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, error = ?, status_text = NULL, updated_at = ?
		WHERE video_id = ? AND status IN (?, ?)
	`, StatusFailed, errMsg, nowRFC3339(), videoID, StatusQueued, StatusProcessing)
	return guard(res, err)
}

// ResetToQueued returns a stalled processing job to the queue and clears
// everything a fresh run will recompute. The stored video survives.
func (r *SQLiteRepository) ResetToQueued(ctx context.Context, videoID string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, progress = 0, stage = NULL, status_text = NULL, error = NULL,
			duration_sec = NULL, frames_analyzed = NULL, unique_entities = NULL,
			entity_summary = NULL, frames_dir = NULL, report_path = NULL, updated_at = ?
		WHERE video_id = ? AND status = ?
	`, StatusQueued, nowRFC3339(), videoID, StatusProcessing)
	return guard(res, err)
}

// TouchQueued bumps the heartbeat of a queued job after its task is
// re-published, so sweeps do not publish it again immediately.
func (r *SQLiteRepository) TouchQueued(ctx context.Context, videoID string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET updated_at = ? WHERE video_id = ? AND status = ?
	`, nowRFC3339(), videoID, StatusQueued)
	return guard(res, err)
}

func (r *SQLiteRepository) ListStaleProcessing(ctx context.Context, cutoff time.Time) ([]*Job, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status = ? AND updated_at < ? ORDER BY updated_at ASC
	`, StatusProcessing, cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanJobs(rows)
}

func (r *SQLiteRepository) ListQueuedBefore(ctx context.Context, cutoff time.Time) ([]*Job, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status = ? AND updated_at < ? ORDER BY updated_at ASC
	`, StatusQueued, cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanJobs(rows)
}

// DeleteJob removes the row unless the job is mid-flight. A processing
// row whose last update predates staleBefore counts as abandoned and is
// deletable. The boolean reports whether a row was actually deleted.
func (r *SQLiteRepository) DeleteJob(ctx context.Context, videoID string, staleBefore time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM jobs WHERE video_id = ? AND (status != ? OR updated_at < ?)
	`, videoID, StatusProcessing, staleBefore.UTC().Format(time.RFC3339))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var j Job
	var sourceURL, voiceFile, stage, statusText, errMsg sql.NullString
	var entitySummary, videoPath, framesDir, reportPath sql.NullString
	var durationSec sql.NullFloat64
	var framesAnalyzed, uniqueEntities sql.NullInt64
	var createdAt, updatedAt string

	err := row.Scan(&j.VideoID, &j.Filename, &j.IntervalSec, &sourceURL, &voiceFile,
		&j.Status, &stage, &j.Progress, &statusText, &errMsg,
		&durationSec, &framesAnalyzed, &uniqueEntities, &entitySummary,
		&videoPath, &framesDir, &reportPath, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	j.SourceURL = sourceURL.String
	j.VoiceFile = voiceFile.String
	j.Stage = stage.String
	j.StatusText = statusText.String
	j.Error = errMsg.String
	j.DurationSec = durationSec.Float64
	j.FramesAnalyzed = int(framesAnalyzed.Int64)
	j.UniqueEntities = int(uniqueEntities.Int64)
	j.EntitySummary = entitySummary.String
	j.VideoPath = videoPath.String
	j.FramesDir = framesDir.String
	j.ReportPath = reportPath.String
	j.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	j.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &j, nil
}

func scanJobs(rows *sql.Rows) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func guard(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrIllegalTransition
	}
	return nil
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
