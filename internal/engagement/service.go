// Package engagement implements the public read side of published videos and
// the interactions verified viewers have with them.
package engagement

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/humanreel/backend/internal/apperr"
	"github.com/humanreel/backend/internal/models"
	"github.com/humanreel/backend/internal/repositories"
)

const (
	DefaultPageSize  = 20
	MaxPageSize      = 100
	MaxCommentLength = 2000
)

var htmlTagPattern = regexp.MustCompile(`<[^>]*>`)

// AccountFinder resolves the acting account.
type AccountFinder interface {
	FindByID(ctx context.Context, id string) (models.Account, error)
}

// VideoReader reads video rows.
type VideoReader interface {
	FindWithCreator(ctx context.Context, id string) (models.VideoWithCreator, error)
	ListApproved(ctx context.Context, limit, offset int) ([]models.VideoWithCreator, error)
}

// Store persists interactions.
type Store interface {
	ToggleLike(ctx context.Context, accountID, videoID string, isLike bool, at time.Time) (repositories.LikeResult, error)
	RecordView(ctx context.Context, view models.View) (int64, error)
	ToggleSubscription(ctx context.Context, subscriberID, creatorID string, at time.Time) (bool, error)
	ListSubscriptions(ctx context.Context, subscriberID string) ([]models.Subscription, error)
	CreateComment(ctx context.Context, comment models.Comment) error
	FindComment(ctx context.Context, id string) (models.Comment, error)
	ListComments(ctx context.Context, videoID string) ([]models.Comment, error)
	DeleteComment(ctx context.Context, id, authorID string) error
}

// ContentURLer renders public locations of published content.
type ContentURLer interface {
	URL(contentID string) string
}

// PublishedVideo is an approved video with its playback location.
type PublishedVideo struct {
	models.VideoWithCreator
	PlaybackURL string `json:"playbackUrl"`
}

// LikeOutcome is returned from a like toggle.
type LikeOutcome struct {
	Reaction *bool `json:"reaction"`
	models.LikeCounts
}

// Service implements engagement operations.
type Service struct {
	Accounts AccountFinder
	Videos   VideoReader
	Store    Store
	Content  ContentURLer
	NowFunc  func() time.Time
}

// ListPublished returns approved public videos, newest first.
func (s *Service) ListPublished(ctx context.Context, limit, offset int) ([]PublishedVideo, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}

	videos, err := s.Videos.ListApproved(ctx, limit, offset)
	if err != nil {
		return nil, err
	}
	out := make([]PublishedVideo, 0, len(videos))
	for _, v := range videos {
		out = append(out, s.published(v))
	}
	return out, nil
}

// GetPublished returns a single approved video. Anything else is not found.
func (s *Service) GetPublished(ctx context.Context, videoID string) (PublishedVideo, error) {
	video, err := s.approvedVideo(ctx, videoID)
	if err != nil {
		return PublishedVideo{}, err
	}
	return s.published(video), nil
}

// ToggleLike applies a like or dislike. Repeating a reaction removes it.
func (s *Service) ToggleLike(ctx context.Context, accountID, videoID string, isLike bool) (LikeOutcome, error) {
	if _, err := s.verifiedAccount(ctx, accountID, "Only verified users can like videos"); err != nil {
		return LikeOutcome{}, err
	}
	if _, err := s.approvedVideo(ctx, videoID); err != nil {
		return LikeOutcome{}, err
	}

	result, err := s.Store.ToggleLike(ctx, accountID, videoID, isLike, s.now())
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return LikeOutcome{}, apperr.Wrap(apperr.ErrNotFound, "Video not found", err)
		}
		return LikeOutcome{}, err
	}
	return LikeOutcome{Reaction: result.Reaction, LikeCounts: result.Counts}, nil
}

// RecordView appends a view of an approved video and returns the new count.
func (s *Service) RecordView(ctx context.Context, videoID, viewerIP string) (int64, error) {
	if _, err := s.approvedVideo(ctx, videoID); err != nil {
		return 0, err
	}

	count, err := s.Store.RecordView(ctx, models.View{
		ID:       uuid.NewString(),
		VideoID:  videoID,
		ViewerIP: viewerIP,
		ViewedAt: s.now(),
	})
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return 0, apperr.Wrap(apperr.ErrNotFound, "Video not found", err)
		}
		return 0, err
	}
	return count, nil
}

// ToggleSubscription subscribes to or unsubscribes from a creator.
func (s *Service) ToggleSubscription(ctx context.Context, subscriberID, creatorID string) (bool, error) {
	if _, err := s.verifiedAccount(ctx, subscriberID, "Only verified users can subscribe"); err != nil {
		return false, err
	}
	if subscriberID == creatorID {
		return false, apperr.New(apperr.ErrInvalidArgument, "Cannot subscribe to yourself")
	}
	if _, err := s.Accounts.FindByID(ctx, creatorID); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return false, apperr.Wrap(apperr.ErrNotFound, "Creator not found", err)
		}
		return false, err
	}

	subscribed, err := s.Store.ToggleSubscription(ctx, subscriberID, creatorID, s.now())
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return false, apperr.Wrap(apperr.ErrNotFound, "Creator not found", err)
		}
		return false, err
	}
	return subscribed, nil
}

// Subscriptions lists the creators an account follows.
func (s *Service) Subscriptions(ctx context.Context, subscriberID string) ([]models.Subscription, error) {
	return s.Store.ListSubscriptions(ctx, subscriberID)
}

// AddComment posts a comment on an approved video.
func (s *Service) AddComment(ctx context.Context, authorID, videoID, content string) (models.Comment, error) {
	content = strings.TrimSpace(content)
	switch {
	case content == "":
		return models.Comment{}, apperr.New(apperr.ErrInvalidArgument, "Comment cannot be empty")
	case utf8.RuneCountInString(content) > MaxCommentLength:
		return models.Comment{}, apperr.New(apperr.ErrInvalidArgument, "Comment is too long")
	case htmlTagPattern.MatchString(content):
		return models.Comment{}, apperr.New(apperr.ErrInvalidArgument, "Comment cannot contain HTML")
	}

	author, err := s.verifiedAccount(ctx, authorID, "Only verified users can comment")
	if err != nil {
		return models.Comment{}, err
	}
	if _, err := s.approvedVideo(ctx, videoID); err != nil {
		return models.Comment{}, err
	}

	comment := models.Comment{
		ID:         uuid.NewString(),
		VideoID:    videoID,
		AuthorID:   author.ID,
		AuthorName: author.DisplayName,
		Content:    content,
		CreatedAt:  s.now(),
	}
	if err := s.Store.CreateComment(ctx, comment); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return models.Comment{}, apperr.Wrap(apperr.ErrNotFound, "Video not found", err)
		}
		return models.Comment{}, err
	}
	return comment, nil
}

// Comments lists a video's comments, oldest first.
func (s *Service) Comments(ctx context.Context, videoID string) ([]models.Comment, error) {
	return s.Store.ListComments(ctx, videoID)
}

// DeleteComment removes a comment. Only its author may delete it.
func (s *Service) DeleteComment(ctx context.Context, requesterID, commentID string) error {
	if strings.TrimSpace(requesterID) == "" {
		return apperr.New(apperr.ErrUnauthorized, "User ID required")
	}

	comment, err := s.Store.FindComment(ctx, commentID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return apperr.Wrap(apperr.ErrNotFound, "Comment not found", err)
		}
		return err
	}
	if comment.AuthorID != requesterID {
		return apperr.New(apperr.ErrForbidden, "You can only delete your own comments")
	}

	if err := s.Store.DeleteComment(ctx, commentID, requesterID); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return apperr.Wrap(apperr.ErrNotFound, "Comment not found", err)
		}
		return err
	}
	return nil
}

func (s *Service) verifiedAccount(ctx context.Context, accountID, message string) (models.Account, error) {
	if strings.TrimSpace(accountID) == "" {
		return models.Account{}, apperr.New(apperr.ErrUnauthorized, "User ID required")
	}
	account, err := s.Accounts.FindByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return models.Account{}, apperr.Wrap(apperr.ErrForbidden, message, err)
		}
		return models.Account{}, err
	}
	if !account.IsVerified {
		return models.Account{}, apperr.New(apperr.ErrForbidden, message)
	}
	return account, nil
}

func (s *Service) approvedVideo(ctx context.Context, videoID string) (models.VideoWithCreator, error) {
	video, err := s.Videos.FindWithCreator(ctx, videoID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return models.VideoWithCreator{}, apperr.Wrap(apperr.ErrNotFound, "Video not found", err)
		}
		return models.VideoWithCreator{}, err
	}
	if video.Status != models.VideoStatusApproved {
		return models.VideoWithCreator{}, apperr.New(apperr.ErrNotFound, "Video not found")
	}
	return video, nil
}

func (s *Service) published(video models.VideoWithCreator) PublishedVideo {
	out := PublishedVideo{VideoWithCreator: video}
	if video.ContentID != nil && s.Content != nil {
		out.PlaybackURL = s.Content.URL(*video.ContentID)
	}
	return out
}

func (s *Service) now() time.Time {
	if s.NowFunc != nil {
		return s.NowFunc()
	}
	return time.Now().UTC()
}
