package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	crdbpgxv5 "github.com/cockroachdb/cockroach-go/v2/crdb/crdbpgxv5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/humanreel/backend/internal/db"
	"github.com/humanreel/backend/internal/models"
)

// LikeResult is the outcome of a like toggle: the account's current reaction
// (nil when removed) and the recomputed counters.
type LikeResult struct {
	Reaction *bool
	Counts   models.LikeCounts
}

// likeTxOptions runs like toggles serializably; ExecuteTx retries 40001.
var likeTxOptions = pgx.TxOptions{IsoLevel: pgx.Serializable}

// PostgresEngagementRepository persists likes, views, subscriptions and
// comments. Counter updates run in the same transaction as the row changes.
type PostgresEngagementRepository struct {
	pool db.Pool
}

// NewPostgresEngagementRepository constructs an engagement repository backed by PostgreSQL.
func NewPostgresEngagementRepository(pool db.Pool) *PostgresEngagementRepository {
	return &PostgresEngagementRepository{pool: pool}
}

// ToggleLike applies a like or dislike for the account. Repeating the same
// reaction removes it, the opposite reaction replaces it. Counters are
// recomputed from the like rows before the transaction commits.
func (r *PostgresEngagementRepository) ToggleLike(ctx context.Context, accountID, videoID string, isLike bool, at time.Time) (LikeResult, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return LikeResult{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	var result LikeResult
	err = crdbpgxv5.ExecuteTx(ctx, conn, likeTxOptions, func(tx pgx.Tx) error {
		result = LikeResult{}

		// Toggles on one video queue behind this lock so each recount sees
		// every committed like row.
		var locked string
		if err := tx.QueryRow(ctx, `SELECT id FROM videos WHERE id = $1 FOR UPDATE`, videoID).Scan(&locked); err != nil {
			return err
		}

		var (
			likeID   string
			existing bool
		)
		err := tx.QueryRow(ctx, `
            SELECT id, is_like FROM video_likes
            WHERE account_id = $1 AND video_id = $2
            FOR UPDATE
        `, accountID, videoID).Scan(&likeID, &existing)

		switch {
		case errors.Is(err, pgx.ErrNoRows):
			if _, err := tx.Exec(ctx, `
                INSERT INTO video_likes (id, account_id, video_id, is_like, created_at)
                VALUES ($1, $2, $3, $4, $5)
            `, uuid.NewString(), accountID, videoID, isLike, at); err != nil {
				return err
			}
			reaction := isLike
			result.Reaction = &reaction
		case err != nil:
			return err
		case existing == isLike:
			if _, err := tx.Exec(ctx, `DELETE FROM video_likes WHERE id = $1`, likeID); err != nil {
				return err
			}
		default:
			if _, err := tx.Exec(ctx, `UPDATE video_likes SET is_like = $2 WHERE id = $1`, likeID, isLike); err != nil {
				return err
			}
			reaction := isLike
			result.Reaction = &reaction
		}

		return tx.QueryRow(ctx, `
            UPDATE videos
            SET like_count = (SELECT count(*) FROM video_likes WHERE video_id = $1 AND is_like),
                dislike_count = (SELECT count(*) FROM video_likes WHERE video_id = $1 AND NOT is_like)
            WHERE id = $1
            RETURNING like_count, dislike_count
        `, videoID).Scan(&result.Counts.Likes, &result.Counts.Dislikes)
	})
	if err != nil {
		if mapped := mapWriteError(err); mapped != nil {
			return LikeResult{}, mapped
		}
		if errors.Is(err, pgx.ErrNoRows) {
			return LikeResult{}, ErrNotFound
		}
		return LikeResult{}, fmt.Errorf("toggle like: %w", err)
	}

	return result, nil
}

// RecordView appends a view and increments the counter by one, returning the new count.
func (r *PostgresEngagementRepository) RecordView(ctx context.Context, view models.View) (int64, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	var count int64
	err = crdbpgxv5.ExecuteTx(ctx, conn, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
            INSERT INTO video_views (id, video_id, viewer_ip, viewed_at)
            VALUES ($1, $2, $3, $4)
        `, view.ID, view.VideoID, view.ViewerIP, view.ViewedAt); err != nil {
			return err
		}
		return tx.QueryRow(ctx, `
            UPDATE videos SET view_count = view_count + 1 WHERE id = $1 RETURNING view_count
        `, view.VideoID).Scan(&count)
	})
	if err != nil {
		if mapped := mapWriteError(err); mapped != nil {
			return 0, mapped
		}
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("record view: %w", err)
	}

	return count, nil
}

// ToggleSubscription subscribes when no subscription exists and unsubscribes
// otherwise. It reports whether the subscriber is subscribed afterwards.
func (r *PostgresEngagementRepository) ToggleSubscription(ctx context.Context, subscriberID, creatorID string, at time.Time) (bool, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	var subscribed bool
	err = crdbpgxv5.ExecuteTx(ctx, conn, pgx.TxOptions{}, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
            DELETE FROM subscriptions WHERE subscriber_id = $1 AND creator_id = $2
        `, subscriberID, creatorID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() > 0 {
			subscribed = false
			return nil
		}
		if _, err := tx.Exec(ctx, `
            INSERT INTO subscriptions (id, subscriber_id, creator_id, created_at)
            VALUES ($1, $2, $3, $4)
        `, uuid.NewString(), subscriberID, creatorID, at); err != nil {
			return err
		}
		subscribed = true
		return nil
	})
	if err != nil {
		if mapped := mapWriteError(err); mapped != nil {
			return false, mapped
		}
		return false, fmt.Errorf("toggle subscription: %w", err)
	}

	return subscribed, nil
}

// ListSubscriptions returns the creators an account follows, newest first.
func (r *PostgresEngagementRepository) ListSubscriptions(ctx context.Context, subscriberID string) ([]models.Subscription, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
        SELECT s.id, s.subscriber_id, s.creator_id, s.created_at, `+creatorColumns+`
        FROM subscriptions s
        JOIN accounts a ON a.id = s.creator_id
        WHERE s.subscriber_id = $1
        ORDER BY s.created_at DESC
    `, subscriberID)
	if err != nil {
		return nil, fmt.Errorf("query subscriptions: %w", err)
	}
	defer rows.Close()

	subscriptions := []models.Subscription{}
	for rows.Next() {
		var s models.Subscription
		if err := rows.Scan(&s.ID, &s.SubscriberID, &s.CreatorID, &s.CreatedAt,
			&s.Creator.ID, &s.Creator.DisplayName, &s.Creator.Avatar, &s.Creator.IsVerified); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		subscriptions = append(subscriptions, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscriptions: %w", err)
	}

	return subscriptions, nil
}

// CreateComment stores a new comment. An unknown video or author yields ErrNotFound.
func (r *PostgresEngagementRepository) CreateComment(ctx context.Context, comment models.Comment) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        INSERT INTO comments (id, video_id, author_id, content, created_at)
        VALUES ($1, $2, $3, $4, $5)
    `, comment.ID, comment.VideoID, comment.AuthorID, comment.Content, comment.CreatedAt)
	if err != nil {
		if mapped := mapWriteError(err); mapped != nil {
			return mapped
		}
		return fmt.Errorf("insert comment: %w", err)
	}

	return nil
}

// FindComment fetches a single comment.
func (r *PostgresEngagementRepository) FindComment(ctx context.Context, id string) (models.Comment, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.Comment{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	var c models.Comment
	err = conn.QueryRow(ctx, `
        SELECT c.id, c.video_id, c.author_id, a.display_name, c.content, c.created_at
        FROM comments c
        JOIN accounts a ON a.id = c.author_id
        WHERE c.id = $1
    `, id).Scan(&c.ID, &c.VideoID, &c.AuthorID, &c.AuthorName, &c.Content, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Comment{}, ErrNotFound
		}
		return models.Comment{}, fmt.Errorf("select comment: %w", err)
	}

	return c, nil
}

// ListComments returns a video's comments, oldest first.
func (r *PostgresEngagementRepository) ListComments(ctx context.Context, videoID string) ([]models.Comment, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
        SELECT c.id, c.video_id, c.author_id, a.display_name, c.content, c.created_at
        FROM comments c
        JOIN accounts a ON a.id = c.author_id
        WHERE c.video_id = $1
        ORDER BY c.created_at ASC, c.id ASC
    `, videoID)
	if err != nil {
		return nil, fmt.Errorf("query comments: %w", err)
	}
	defer rows.Close()

	comments := []models.Comment{}
	for rows.Next() {
		var c models.Comment
		if err := rows.Scan(&c.ID, &c.VideoID, &c.AuthorID, &c.AuthorName, &c.Content, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		comments = append(comments, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}

	return comments, nil
}

// DeleteComment removes a comment owned by authorID.
func (r *PostgresEngagementRepository) DeleteComment(ctx context.Context, id, authorID string) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `DELETE FROM comments WHERE id = $1 AND author_id = $2`, id, authorID)
	if err != nil {
		return fmt.Errorf("delete comment: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}
