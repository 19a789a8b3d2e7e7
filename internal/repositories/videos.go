package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/humanreel/backend/internal/db"
	"github.com/humanreel/backend/internal/models"
)

const videoColumns = `v.id, v.creator_id, v.title, v.description, v.category, v.tags, v.visibility,
        v.status, v.media_status, v.media_error, v.content_id, v.thumbnail_id, v.duration_seconds,
        v.size_bytes, v.view_count, v.like_count, v.dislike_count, v.moderator_id, v.moderated_at,
        v.rejection_reason, v.created_at, v.updated_at`

const creatorColumns = `a.id, a.display_name, a.avatar, a.is_verified`

// PostgresVideoRepository provides PostgreSQL-backed persistence for videos and
// the guarded moderation transitions.
type PostgresVideoRepository struct {
	pool db.Pool
}

// NewPostgresVideoRepository constructs a video repository backed by PostgreSQL.
func NewPostgresVideoRepository(pool db.Pool) *PostgresVideoRepository {
	return &PostgresVideoRepository{pool: pool}
}

// Create stores a new video. An unknown creator yields ErrNotFound.
func (r *PostgresVideoRepository) Create(ctx context.Context, video models.Video) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tags := video.Tags
	if tags == nil {
		tags = []string{}
	}

	_, err = conn.Exec(ctx, `
        INSERT INTO videos (id, creator_id, title, description, category, tags, visibility, status,
            media_status, media_error, thumbnail_id, duration_seconds, size_bytes, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
    `, video.ID, video.CreatorID, video.Title, video.Description, video.Category, tags, video.Visibility,
		video.Status, video.MediaStatus, video.MediaError, video.ThumbnailID, video.DurationSeconds,
		video.SizeBytes, video.CreatedAt, video.UpdatedAt)
	if err != nil {
		if mapped := mapWriteError(err); mapped != nil {
			return mapped
		}
		return fmt.Errorf("insert video: %w", err)
	}

	return nil
}

// FindByID fetches a video by identifier regardless of status.
func (r *PostgresVideoRepository) FindByID(ctx context.Context, id string) (models.Video, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.Video{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `SELECT `+videoColumns+` FROM videos v WHERE v.id = $1`, id)

	video, err := scanVideo(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Video{}, ErrNotFound
		}
		return models.Video{}, fmt.Errorf("select video: %w", err)
	}

	return video, nil
}

// FindWithCreator fetches a video joined with its creator's public profile.
func (r *PostgresVideoRepository) FindWithCreator(ctx context.Context, id string) (models.VideoWithCreator, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.VideoWithCreator{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `
        SELECT `+videoColumns+`, `+creatorColumns+`
        FROM videos v
        JOIN accounts a ON a.id = v.creator_id
        WHERE v.id = $1
    `, id)

	video, err := scanVideoWithCreator(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.VideoWithCreator{}, ErrNotFound
		}
		return models.VideoWithCreator{}, fmt.Errorf("select video with creator: %w", err)
	}

	return video, nil
}

// ListPending returns every pending video, oldest first.
func (r *PostgresVideoRepository) ListPending(ctx context.Context) ([]models.VideoWithCreator, error) {
	return r.list(ctx, "list pending videos", `
        SELECT `+videoColumns+`, `+creatorColumns+`
        FROM videos v
        JOIN accounts a ON a.id = v.creator_id
        WHERE v.status = 'pending'
        ORDER BY v.created_at ASC, v.id ASC
    `)
}

// ListApproved returns public approved videos, newest first.
func (r *PostgresVideoRepository) ListApproved(ctx context.Context, limit, offset int) ([]models.VideoWithCreator, error) {
	return r.list(ctx, "list approved videos", `
        SELECT `+videoColumns+`, `+creatorColumns+`
        FROM videos v
        JOIN accounts a ON a.id = v.creator_id
        WHERE v.status = 'approved' AND v.visibility = 'public'
        ORDER BY v.created_at DESC, v.id DESC
        LIMIT $1 OFFSET $2
    `, limit, offset)
}

// ListProcessing returns the ids of pending videos still waiting on a
// transcode outcome, oldest first.
func (r *PostgresVideoRepository) ListProcessing(ctx context.Context) ([]string, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
        SELECT id FROM videos
        WHERE status = 'pending' AND media_status = 'processing'
        ORDER BY created_at ASC
    `)
	if err != nil {
		return nil, fmt.Errorf("list processing videos: %w", err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan processing videos: %w", err)
	}
	return ids, nil
}

func (r *PostgresVideoRepository) list(ctx context.Context, op, query string, args ...any) ([]models.VideoWithCreator, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	videos := []models.VideoWithCreator{}
	for rows.Next() {
		video, err := scanVideoWithCreator(rows)
		if err != nil {
			return nil, fmt.Errorf("scan video: %w", err)
		}
		videos = append(videos, video)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate videos: %w", err)
	}

	return videos, nil
}

// MarkMediaReady records a successful transcode.
func (r *PostgresVideoRepository) MarkMediaReady(ctx context.Context, id string, size int64, at time.Time) error {
	return r.exec(ctx, "update media status ready", `
        UPDATE videos
        SET media_status = 'ready', media_error = '', size_bytes = $2, updated_at = $3
        WHERE id = $1
    `, id, size, at)
}

// MarkMediaFailed records a failed transcode and its reason.
func (r *PostgresVideoRepository) MarkMediaFailed(ctx context.Context, id, reason string, at time.Time) error {
	return r.exec(ctx, "update media status failed", `
        UPDATE videos
        SET media_status = 'failed', media_error = $2, updated_at = $3
        WHERE id = $1
    `, id, reason, at)
}

// ClaimForReview takes the review claim on a pending video. The claim succeeds
// only while the video is pending and unclaimed or its previous claim expired;
// otherwise ErrStaleState is returned.
func (r *PostgresVideoRepository) ClaimForReview(ctx context.Context, id, token string, now, until time.Time) error {
	return r.guarded(ctx, "claim video for review", `
        UPDATE videos
        SET review_claim = $2, review_claim_expires_at = $4
        WHERE id = $1
          AND status = 'pending'
          AND (review_claim IS NULL OR review_claim_expires_at <= $3)
    `, id, token, now, until)
}

// ReleaseClaim drops a claim held under token, leaving the status untouched.
func (r *PostgresVideoRepository) ReleaseClaim(ctx context.Context, id, token string) error {
	return r.guarded(ctx, "release review claim", `
        UPDATE videos
        SET review_claim = NULL, review_claim_expires_at = NULL
        WHERE id = $1 AND review_claim = $2
    `, id, token)
}

// MarkApproved commits the approved state for a video still claimed under token.
func (r *PostgresVideoRepository) MarkApproved(ctx context.Context, id, token, moderatorID, contentID string, at time.Time) error {
	return r.guarded(ctx, "mark video approved", `
        UPDATE videos
        SET status = 'approved', content_id = $4, moderator_id = $3, moderated_at = $5, updated_at = $5,
            review_claim = NULL, review_claim_expires_at = NULL
        WHERE id = $1 AND status = 'pending' AND review_claim = $2
    `, id, token, moderatorID, contentID, at)
}

// MarkRejected commits the rejected state for a video still claimed under token.
func (r *PostgresVideoRepository) MarkRejected(ctx context.Context, id, token, moderatorID, reason string, at time.Time) error {
	return r.guarded(ctx, "mark video rejected", `
        UPDATE videos
        SET status = 'rejected', rejection_reason = $4, moderator_id = $3, moderated_at = $5, updated_at = $5,
            review_claim = NULL, review_claim_expires_at = NULL
        WHERE id = $1 AND status = 'pending' AND review_claim = $2
    `, id, token, moderatorID, reason, at)
}

// ModerationStats counts pending videos and the decisions made in [dayStart, dayEnd).
func (r *PostgresVideoRepository) ModerationStats(ctx context.Context, dayStart, dayEnd time.Time) (models.ModerationStats, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.ModerationStats{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	var stats models.ModerationStats
	err = conn.QueryRow(ctx, `
        SELECT
            count(*) FILTER (WHERE status = 'pending'),
            count(*) FILTER (WHERE status = 'approved' AND moderated_at >= $1 AND moderated_at < $2),
            count(*) FILTER (WHERE status = 'rejected' AND moderated_at >= $1 AND moderated_at < $2)
        FROM videos
    `, dayStart, dayEnd).Scan(&stats.Pending, &stats.ApprovedToday, &stats.RejectedToday)
	if err != nil {
		return models.ModerationStats{}, fmt.Errorf("count moderation stats: %w", err)
	}

	return stats, nil
}

func (r *PostgresVideoRepository) exec(ctx context.Context, op, query string, args ...any) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

func (r *PostgresVideoRepository) guarded(ctx context.Context, op, query string, args ...any) error {
	err := r.exec(ctx, op, query, args...)
	if errors.Is(err, ErrNotFound) {
		return ErrStaleState
	}
	return err
}

func scanVideo(row pgx.Row) (models.Video, error) {
	var v models.Video
	err := row.Scan(&v.ID, &v.CreatorID, &v.Title, &v.Description, &v.Category, &v.Tags, &v.Visibility,
		&v.Status, &v.MediaStatus, &v.MediaError, &v.ContentID, &v.ThumbnailID, &v.DurationSeconds,
		&v.SizeBytes, &v.ViewCount, &v.LikeCount, &v.DislikeCount, &v.ModeratorID, &v.ModeratedAt,
		&v.RejectionReason, &v.CreatedAt, &v.UpdatedAt)
	return v, err
}

func scanVideoWithCreator(row pgx.Row) (models.VideoWithCreator, error) {
	var v models.VideoWithCreator
	err := row.Scan(&v.ID, &v.CreatorID, &v.Title, &v.Description, &v.Category, &v.Tags, &v.Visibility,
		&v.Status, &v.MediaStatus, &v.MediaError, &v.ContentID, &v.ThumbnailID, &v.DurationSeconds,
		&v.SizeBytes, &v.ViewCount, &v.LikeCount, &v.DislikeCount, &v.ModeratorID, &v.ModeratedAt,
		&v.RejectionReason, &v.CreatedAt, &v.UpdatedAt,
		&v.Creator.ID, &v.Creator.DisplayName, &v.Creator.Avatar, &v.Creator.IsVerified)
	return v, err
}
