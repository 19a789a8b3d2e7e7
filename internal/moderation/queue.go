package moderation

import (
	"context"
	"errors"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/humanreel/backend/internal/apperr"
	"github.com/humanreel/backend/internal/models"
	"github.com/humanreel/backend/internal/repositories"
)

// AccountFinder resolves reviewer accounts.
type AccountFinder interface {
	FindByID(ctx context.Context, id string) (models.Account, error)
}

// QueueStore is the read side of the video store used by the queue.
type QueueStore interface {
	FindWithCreator(ctx context.Context, id string) (models.VideoWithCreator, error)
	ListPending(ctx context.Context) ([]models.VideoWithCreator, error)
	ModerationStats(ctx context.Context, dayStart, dayEnd time.Time) (models.ModerationStats, error)
}

// MediaOpener opens staged canonical media.
type MediaOpener interface {
	Open(videoID string) (*os.File, error)
}

// ContentURLer renders public locations of published content.
type ContentURLer interface {
	URL(contentID string) string
}

// ReviewItem is a video as presented to a reviewer.
type ReviewItem struct {
	models.VideoWithCreator
	PlaybackURL string `json:"playbackUrl"`
}

// Queue exposes pending videos to moderators only.
type Queue struct {
	Accounts AccountFinder
	Videos   QueueStore
	Media    MediaOpener
	Content  ContentURLer
	// MediaPath is the route prefix serving staged media, e.g. /api/moderation/media.
	MediaPath string
	Location  *time.Location
	NowFunc   func() time.Time
}

// ListPending returns every pending video, oldest first.
func (q *Queue) ListPending(ctx context.Context, requesterID string) ([]models.VideoWithCreator, error) {
	if _, err := q.authorize(ctx, requesterID); err != nil {
		return nil, err
	}
	return q.Videos.ListPending(ctx)
}

// GetForReview returns a video with a playable URL. Pending videos play from
// the staging area; approved videos play from the content store.
func (q *Queue) GetForReview(ctx context.Context, requesterID, videoID string) (ReviewItem, error) {
	if _, err := q.authorize(ctx, requesterID); err != nil {
		return ReviewItem{}, err
	}

	video, err := q.Videos.FindWithCreator(ctx, videoID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return ReviewItem{}, apperr.Wrap(apperr.ErrNotFound, "Video not found", err)
		}
		return ReviewItem{}, err
	}

	item := ReviewItem{VideoWithCreator: video}
	switch {
	case video.Status == models.VideoStatusPending:
		item.PlaybackURL = q.stagedURL(video.ID, requesterID)
	case video.Status == models.VideoStatusApproved && video.ContentID != nil && q.Content != nil:
		item.PlaybackURL = q.Content.URL(*video.ContentID)
	}
	return item, nil
}

// Stats counts the pending backlog and today's decisions in the queue's location.
func (q *Queue) Stats(ctx context.Context, requesterID string) (models.ModerationStats, error) {
	if _, err := q.authorize(ctx, requesterID); err != nil {
		return models.ModerationStats{}, err
	}

	start, end := dayBounds(q.now(), q.location())
	return q.Videos.ModerationStats(ctx, start, end)
}

// OpenMedia opens the staged media of a pending video for a moderator.
func (q *Queue) OpenMedia(ctx context.Context, requesterID, videoID string) (*os.File, error) {
	if _, err := q.authorize(ctx, requesterID); err != nil {
		return nil, err
	}

	video, err := q.Videos.FindWithCreator(ctx, videoID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, apperr.Wrap(apperr.ErrNotFound, "Video not found", err)
		}
		return nil, err
	}
	if video.Status != models.VideoStatusPending || video.MediaStatus != models.MediaStatusReady {
		return nil, apperr.New(apperr.ErrNotFound, "Media not available")
	}

	file, err := q.Media.Open(video.ID)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperr.Wrap(apperr.ErrNotFound, "Media not available", err)
		}
		return nil, err
	}
	return file, nil
}

func (q *Queue) authorize(ctx context.Context, requesterID string) (models.Account, error) {
	if strings.TrimSpace(requesterID) == "" {
		return models.Account{}, apperr.New(apperr.ErrUnauthorized, "User ID required")
	}
	account, err := q.Accounts.FindByID(ctx, requesterID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return models.Account{}, apperr.Wrap(apperr.ErrUnauthorized, "User not found", err)
		}
		return models.Account{}, err
	}
	if !account.IsModerator {
		return models.Account{}, apperr.New(apperr.ErrForbidden, "Moderator access required")
	}
	return account, nil
}

func (q *Queue) stagedURL(videoID, requesterID string) string {
	prefix := strings.TrimSuffix(q.MediaPath, "/")
	if prefix == "" {
		prefix = "/api/moderation/media"
	}
	return prefix + "/" + url.PathEscape(videoID) + "?userId=" + url.QueryEscape(requesterID)
}

func (q *Queue) now() time.Time {
	if q.NowFunc != nil {
		return q.NowFunc()
	}
	return time.Now()
}

func (q *Queue) location() *time.Location {
	if q.Location != nil {
		return q.Location
	}
	return time.Local
}

// dayBounds returns the start of the calendar day containing t in loc and the
// start of the following day.
func dayBounds(t time.Time, loc *time.Location) (time.Time, time.Time) {
	local := t.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}
