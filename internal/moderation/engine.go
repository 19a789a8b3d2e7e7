package moderation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/humanreel/backend/internal/apperr"
	"github.com/humanreel/backend/internal/logging"
	"github.com/humanreel/backend/internal/metrics"
	"github.com/humanreel/backend/internal/models"
	"github.com/humanreel/backend/internal/notify"
	"github.com/humanreel/backend/internal/repositories"
)

const (
	decisionApprove = "approve"
	decisionReject  = "reject"

	maxReasonLength = 1000
	claimMargin     = time.Minute
)

// DecisionStore is the write side of the video store. Every transition goes
// through a review claim: only the holder of an unexpired claim on a pending
// video may finalize it.
type DecisionStore interface {
	FindByID(ctx context.Context, id string) (models.Video, error)
	ClaimForReview(ctx context.Context, id, token string, now, until time.Time) error
	ReleaseClaim(ctx context.Context, id, token string) error
	MarkApproved(ctx context.Context, id, token, moderatorID, contentID string, at time.Time) error
	MarkRejected(ctx context.Context, id, token, moderatorID, reason string, at time.Time) error
}

// MediaStore gives the engine access to staged canonical media.
type MediaStore interface {
	Open(videoID string) (*os.File, error)
	Remove(videoID string) error
}

// Publisher uploads approved media to the content-addressed store.
type Publisher interface {
	Publish(ctx context.Context, r io.Reader, name string) (string, error)
}

// Approval is the result of a successful approve.
type Approval struct {
	Video     models.Video `json:"video"`
	ContentID string       `json:"contentId"`
}

// Engine applies moderator decisions to pending videos.
type Engine struct {
	Accounts  AccountFinder
	Videos    DecisionStore
	Media     MediaStore
	Publisher Publisher
	Notifier  notify.Notifier

	// PublishTimeout bounds a single publish call.
	PublishTimeout time.Duration
	// ClaimLease is how long a claim stays valid. It must exceed PublishTimeout.
	ClaimLease time.Duration

	NowFunc  func() time.Time
	NewToken func() string
}

// Approve publishes a pending video's staged media exactly once and records
// the returned content identifier. On publish failure the video stays pending.
func (e *Engine) Approve(ctx context.Context, moderatorID, videoID string) (Approval, error) {
	ctx, _ = logging.With(ctx, slog.String("videoId", videoID), slog.String("moderatorId", moderatorID))
	ctx, span := logging.StartSpan(ctx, "moderation.approve")

	approval, err := e.approve(ctx, moderatorID, videoID)
	recordOutcome(decisionApprove, err)
	span.End(err)
	return approval, err
}

func (e *Engine) approve(ctx context.Context, moderatorID, videoID string) (Approval, error) {
	logger := logging.FromContext(ctx)

	if err := e.authorize(ctx, moderatorID); err != nil {
		return Approval{}, err
	}

	video, err := e.pendingVideo(ctx, videoID)
	if err != nil {
		return Approval{}, err
	}
	switch video.MediaStatus {
	case models.MediaStatusReady:
	case models.MediaStatusFailed:
		return Approval{}, apperr.New(apperr.ErrInvalidState, "Video media failed to process and cannot be approved")
	default:
		return Approval{}, apperr.New(apperr.ErrInvalidState, "Video media is still processing")
	}

	token, err := e.claim(ctx, video.ID)
	if err != nil {
		return Approval{}, err
	}

	file, err := e.Media.Open(video.ID)
	if err != nil {
		e.release(ctx, video.ID, token)
		if errors.Is(err, os.ErrNotExist) {
			return Approval{}, apperr.Wrap(apperr.ErrInvalidState, "Staged media file is missing", err)
		}
		return Approval{}, fmt.Errorf("open staged media: %w", err)
	}

	publishCtx, cancel := context.WithTimeout(ctx, e.publishTimeout())
	started := time.Now()
	contentID, err := e.Publisher.Publish(publishCtx, file, video.ID+".mp4")
	metrics.RecordPublishDuration(time.Since(started))
	timedOut := errors.Is(publishCtx.Err(), context.DeadlineExceeded)
	cancel()
	file.Close()

	if err == nil && strings.TrimSpace(contentID) == "" {
		err = errors.New("publisher returned an empty content identifier")
	}
	if err != nil {
		e.release(ctx, video.ID, token)
		if timedOut {
			return Approval{}, apperr.Wrap(apperr.ErrUpstream, "Publishing timed out; the video is still pending", err)
		}
		return Approval{}, apperr.Wrap(apperr.ErrUpstream, "Failed to publish video to storage; the video is still pending", err)
	}

	// From here on the content exists in the store; finish even if the client left.
	ctx = context.WithoutCancel(ctx)

	at := e.now()
	if err := e.Videos.MarkApproved(ctx, video.ID, token, moderatorID, contentID, at); err != nil {
		logger.Error("published content not recorded on video",
			slog.String("contentId", contentID),
			slog.String("error", err.Error()),
		)
		metrics.RecordOrphanedPublication()
		e.release(ctx, video.ID, token)
		return Approval{}, fmt.Errorf("record approval of %s (content %s): %w", video.ID, contentID, err)
	}

	if err := e.Media.Remove(video.ID); err != nil {
		logger.Warn("remove staged media after approval", slog.String("error", err.Error()))
	}

	video.Status = models.VideoStatusApproved
	video.ContentID = &contentID
	video.ModeratorID = &moderatorID
	video.ModeratedAt = &at
	video.UpdatedAt = at

	e.notify(ctx, notify.DecisionEvent{
		VideoID:     video.ID,
		CreatorID:   video.CreatorID,
		ModeratorID: moderatorID,
		Decision:    notify.DecisionApproved,
		ContentID:   contentID,
		At:          at,
	})

	logger.Info("video approved", slog.String("contentId", contentID))
	return Approval{Video: video, ContentID: contentID}, nil
}

// Reject marks a pending video rejected and purges its staged media. The row
// is kept for audit and stats.
func (e *Engine) Reject(ctx context.Context, moderatorID, videoID, reason string) (models.Video, error) {
	ctx, _ = logging.With(ctx, slog.String("videoId", videoID), slog.String("moderatorId", moderatorID))
	ctx, span := logging.StartSpan(ctx, "moderation.reject")

	video, err := e.reject(ctx, moderatorID, videoID, reason)
	recordOutcome(decisionReject, err)
	span.End(err)
	return video, err
}

func (e *Engine) reject(ctx context.Context, moderatorID, videoID, reason string) (models.Video, error) {
	logger := logging.FromContext(ctx)

	reason = strings.TrimSpace(reason)
	if len(reason) > maxReasonLength {
		return models.Video{}, apperr.New(apperr.ErrInvalidArgument, "Rejection reason is too long")
	}

	if err := e.authorize(ctx, moderatorID); err != nil {
		return models.Video{}, err
	}

	video, err := e.pendingVideo(ctx, videoID)
	if err != nil {
		return models.Video{}, err
	}

	token, err := e.claim(ctx, video.ID)
	if err != nil {
		return models.Video{}, err
	}

	at := e.now()
	if err := e.Videos.MarkRejected(ctx, video.ID, token, moderatorID, reason, at); err != nil {
		e.release(ctx, video.ID, token)
		if errors.Is(err, repositories.ErrStaleState) {
			return models.Video{}, apperr.Wrap(apperr.ErrInvalidState, "Video is already being moderated", err)
		}
		return models.Video{}, fmt.Errorf("record rejection: %w", err)
	}

	ctx = context.WithoutCancel(ctx)

	if err := e.Media.Remove(video.ID); err != nil {
		logger.Warn("remove staged media after rejection", slog.String("error", err.Error()))
	}

	video.Status = models.VideoStatusRejected
	video.ModeratorID = &moderatorID
	video.ModeratedAt = &at
	video.RejectionReason = &reason
	video.UpdatedAt = at

	e.notify(ctx, notify.DecisionEvent{
		VideoID:     video.ID,
		CreatorID:   video.CreatorID,
		ModeratorID: moderatorID,
		Decision:    notify.DecisionRejected,
		Reason:      reason,
		At:          at,
	})

	logger.Info("video rejected")
	return video, nil
}

func (e *Engine) authorize(ctx context.Context, moderatorID string) error {
	if strings.TrimSpace(moderatorID) == "" {
		return apperr.New(apperr.ErrForbidden, "Moderator access required")
	}
	account, err := e.Accounts.FindByID(ctx, moderatorID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return apperr.Wrap(apperr.ErrForbidden, "Moderator access required", err)
		}
		return err
	}
	if !account.IsModerator {
		return apperr.New(apperr.ErrForbidden, "Moderator access required")
	}
	return nil
}

func (e *Engine) pendingVideo(ctx context.Context, videoID string) (models.Video, error) {
	video, err := e.Videos.FindByID(ctx, videoID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return models.Video{}, apperr.Wrap(apperr.ErrNotFound, "Video not found", err)
		}
		return models.Video{}, err
	}
	if video.Status != models.VideoStatusPending {
		return models.Video{}, apperr.New(apperr.ErrInvalidState, "Video is not pending moderation")
	}
	return video, nil
}

// claim takes the review claim. Losing the claim means another decision is in
// flight or has just completed.
func (e *Engine) claim(ctx context.Context, videoID string) (string, error) {
	token := e.newToken()
	now := e.now()
	err := e.Videos.ClaimForReview(ctx, videoID, token, now, now.Add(e.claimLease()))
	if err == nil {
		return token, nil
	}
	if !errors.Is(err, repositories.ErrStaleState) {
		return "", err
	}

	if current, findErr := e.Videos.FindByID(ctx, videoID); findErr == nil && current.IsTerminal() {
		return "", apperr.Wrap(apperr.ErrInvalidState, "Video is not pending moderation", err)
	}
	return "", apperr.Wrap(apperr.ErrInvalidState, "Video is already being moderated", err)
}

func (e *Engine) release(ctx context.Context, videoID, token string) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := e.Videos.ReleaseClaim(releaseCtx, videoID, token); err != nil && !errors.Is(err, repositories.ErrStaleState) {
		logging.FromContext(ctx).Warn("release review claim", slog.String("error", err.Error()))
	}
}

func (e *Engine) notify(ctx context.Context, event notify.DecisionEvent) {
	if e.Notifier == nil {
		return
	}
	notifyCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := e.Notifier.Notify(notifyCtx, event); err != nil {
		logging.FromContext(ctx).Warn("notify moderation decision", slog.String("error", err.Error()))
	}
}

func (e *Engine) publishTimeout() time.Duration {
	if e.PublishTimeout > 0 {
		return e.PublishTimeout
	}
	return 5 * time.Minute
}

func (e *Engine) claimLease() time.Duration {
	if e.ClaimLease > e.publishTimeout() {
		return e.ClaimLease
	}
	return e.publishTimeout() + claimMargin
}

func (e *Engine) now() time.Time {
	if e.NowFunc != nil {
		return e.NowFunc()
	}
	return time.Now().UTC()
}

func (e *Engine) newToken() string {
	if e.NewToken != nil {
		return e.NewToken()
	}
	return uuid.NewString()
}

func recordOutcome(decision string, err error) {
	switch {
	case err == nil:
		metrics.RecordDecision(decision, metrics.OutcomeSuccess)
	case errors.Is(err, apperr.ErrInvalidState):
		metrics.RecordDecision(decision, metrics.OutcomeStale)
	default:
		metrics.RecordDecision(decision, metrics.OutcomeFailure)
	}
}
