// Package storage is the best-effort external record of videos and scenes:
// rows in SQLite and rendered files copied into a local blob bucket. Nothing
// in the pipeline reads these back for control flow.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"lessonforge/pkg/logx"
	"lessonforge/pkg/persistence"
)

// Scene statuses.
const (
	ScenePending   = "pending"
	SceneRendering = "rendering"
	SceneRendered  = "rendered"
	SceneFailed    = "failed"
)

// VideoRecord is the stored projection of a job.
type VideoRecord struct {
	ID          string
	Topic       string
	Description string
	SceneCount  int
	Status      string
	CombinedURL string
	Error       string
	CreatedAt   time.Time
}

// VideoUpdate changes a video row. Empty fields are left as they are.
type VideoUpdate struct {
	Status      string
	SceneCount  int
	CombinedURL string
	Error       string
}

// SceneRecord is the stored projection of one scene.
type SceneRecord struct {
	VideoID    string
	SceneIndex int
	TraceID    string
	Status     string
	Attempts   int
	VideoURL   string
	Error      string
}

// Sink receives records and blobs. Every method is best-effort: callers log
// failures and carry on with local artifacts.
type Sink interface {
	CreateVideo(ctx context.Context, v VideoRecord) error
	UpdateVideo(ctx context.Context, id string, u VideoUpdate) error
	UpsertScene(ctx context.Context, s SceneRecord) error
	// Upload copies a local file into the bucket under key and returns its
	// reference.
	Upload(ctx context.Context, localPath, key string) (string, error)
}

// Nop discards everything.
type Nop struct{}

func (Nop) CreateVideo(context.Context, VideoRecord) error                { return nil }
func (Nop) UpdateVideo(context.Context, string, VideoUpdate) error        { return nil }
func (Nop) UpsertScene(context.Context, SceneRecord) error                 { return nil }
func (Nop) Upload(_ context.Context, localPath, _ string) (string, error) { return localPath, nil }

// Store is the SQLite and blob-directory Sink. Row updates go through the
// shared persistence writer so callers never wait on SQLite.
type Store struct {
	db      *persistence.DB
	writer  *persistence.Writer
	blobDir string
	logger  *logx.Logger
}

// New creates a store. writer may be nil, in which case updates run inline.
func New(db *persistence.DB, writer *persistence.Writer, blobDir string) *Store {
	return &Store{db: db, writer: writer, blobDir: blobDir, logger: logx.NewLogger("storage")}
}

// CreateVideo inserts the row if it does not exist yet.
func (s *Store) CreateVideo(ctx context.Context, v VideoRecord) error {
	status := v.Status
	if status == "" {
		status = "queued"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO videos (id, topic, description, scene_count, status)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		v.ID, v.Topic, v.Description, v.SceneCount, status)
	if err != nil {
		return fmt.Errorf("failed to create video record: %w", err)
	}
	return nil
}

// UpdateVideo implements Sink.
func (s *Store) UpdateVideo(ctx context.Context, id string, u VideoUpdate) error {
	return s.submit(ctx, "update_video", func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			UPDATE videos SET
				status = COALESCE(NULLIF(?, ''), status),
				scene_count = CASE WHEN ? > 0 THEN ? ELSE scene_count END,
				combined_url = COALESCE(NULLIF(?, ''), combined_url),
				error = COALESCE(NULLIF(?, ''), error),
				updated_at = ?
			WHERE id = ?`,
			u.Status, u.SceneCount, u.SceneCount, u.CombinedURL, u.Error, timestamp(), id)
		return err
	})
}

// UpsertScene implements Sink.
func (s *Store) UpsertScene(ctx context.Context, r SceneRecord) error {
	status := r.Status
	if status == "" {
		status = ScenePending
	}
	return s.submit(ctx, "upsert_scene", func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO scenes (video_id, scene_index, trace_id, status, attempts, video_url, error, updated_at)
			VALUES (?, ?, ?, ?, ?, NULLIF(?, ''), NULLIF(?, ''), ?)
			ON CONFLICT(video_id, scene_index) DO UPDATE SET
				trace_id = COALESCE(NULLIF(excluded.trace_id, ''), trace_id),
				status = excluded.status,
				attempts = MAX(attempts, excluded.attempts),
				video_url = COALESCE(excluded.video_url, video_url),
				error = COALESCE(excluded.error, error),
				updated_at = excluded.updated_at`,
			r.VideoID, r.SceneIndex, r.TraceID, status, r.Attempts, r.VideoURL, r.Error, timestamp())
		return err
	})
}

func (s *Store) submit(ctx context.Context, name string, exec func(context.Context, *sql.DB) error) error {
	if s.writer == nil {
		return exec(ctx, s.db.DB)
	}
	return s.writer.Submit(persistence.Request{Name: name, Exec: exec})
}

// Upload copies localPath to <blobDir>/<key> and returns that path.
func (s *Store) Upload(_ context.Context, localPath, key string) (string, error) {
	if s.blobDir == "" {
		return "", errors.New("no blob directory configured")
	}
	key = filepath.Clean("/" + key)[1:]
	if key == "" {
		return "", fmt.Errorf("invalid blob key for %s", localPath)
	}
	dest := filepath.Join(s.blobDir, key)
	if err := copyFile(localPath, dest); err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", filepath.Base(localPath), err)
	}
	s.logger.Debug("uploaded %s -> %s", localPath, dest)
	return dest, nil
}

// GetVideo reads one video row.
func (s *Store) GetVideo(ctx context.Context, id string) (*VideoRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, topic, description, scene_count, status,
		       COALESCE(combined_url, ''), COALESCE(error, ''), created_at
		FROM videos WHERE id = ?`, id)
	v, err := scanVideo(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("video %s: %w", id, err)
	}
	return v, err
}

// Queued returns up to limit queued videos, oldest first.
func (s *Store) Queued(ctx context.Context, limit int) ([]VideoRecord, error) {
	return s.videos(ctx, `WHERE status = 'queued' ORDER BY created_at ASC LIMIT ?`, limit)
}

// Recent returns up to limit videos of any status, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]VideoRecord, error) {
	return s.videos(ctx, `ORDER BY created_at DESC LIMIT ?`, limit)
}

func (s *Store) videos(ctx context.Context, tail string, args ...any) ([]VideoRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, topic, description, scene_count, status,
		       COALESCE(combined_url, ''), COALESCE(error, ''), created_at
		FROM videos `+tail, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query videos: %w", err)
	}
	defer rows.Close()

	var out []VideoRecord
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

// Scenes returns the scene rows of a video ordered by index.
func (s *Store) Scenes(ctx context.Context, videoID string) ([]SceneRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT video_id, scene_index, trace_id, status, attempts,
		       COALESCE(video_url, ''), COALESCE(error, '')
		FROM scenes WHERE video_id = ? ORDER BY scene_index`, videoID)
	if err != nil {
		return nil, fmt.Errorf("failed to query scenes: %w", err)
	}
	defer rows.Close()

	var out []SceneRecord
	for rows.Next() {
		var r SceneRecord
		if err := rows.Scan(&r.VideoID, &r.SceneIndex, &r.TraceID, &r.Status, &r.Attempts, &r.VideoURL, &r.Error); err != nil {
			return nil, fmt.Errorf("failed to scan scene: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanVideo(row scanner) (*VideoRecord, error) {
	var v VideoRecord
	var created any
	if err := row.Scan(&v.ID, &v.Topic, &v.Description, &v.SceneCount, &v.Status, &v.CombinedURL, &v.Error, &created); err != nil {
		return nil, err
	}
	v.CreatedAt = persistence.ParseTime(created)
	return &v, nil
}

func timestamp() string {
	return time.Now().UTC().Format(persistence.TimestampFormat)
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dest)
}

// BlobKey builds the bucket key of a job artifact.
func BlobKey(jobID string, parts ...string) string {
	return strings.Join(append([]string{"videos", jobID}, parts...), "/")
}
