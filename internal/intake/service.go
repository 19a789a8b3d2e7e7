package intake

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/humanreel/backend/internal/apperr"
	"github.com/humanreel/backend/internal/logging"
	"github.com/humanreel/backend/internal/metrics"
	"github.com/humanreel/backend/internal/models"
	"github.com/humanreel/backend/internal/repositories"
)

const (
	maxTitleLength       = 200
	maxDescriptionLength = 5000
	maxTags              = 20
)

// VideoCreator persists new video rows.
type VideoCreator interface {
	Create(ctx context.Context, video models.Video) error
	MarkMediaFailed(ctx context.Context, videoID, reason string, at time.Time) error
}

// AccountFinder resolves the uploading account.
type AccountFinder interface {
	FindByID(ctx context.Context, id string) (models.Account, error)
}

// JobQueue accepts transcode jobs.
type JobQueue interface {
	Enqueue(ctx context.Context, job Job) error
}

// Upload is the media file attached to a submission.
type Upload struct {
	Body     io.Reader
	Filename string
}

// Metadata is the creator-supplied description of a submission.
type Metadata struct {
	Title           string
	Description     string
	Category        string
	Tags            []string
	Visibility      string
	DurationSeconds int
	ThumbnailID     string
}

// Submission is the result of a successful upload.
type Submission struct {
	Video      models.Video `json:"video"`
	StagedPath string       `json:"-"`
}

// Service accepts uploads from verified creators and schedules transcoding.
type Service struct {
	Accounts AccountFinder
	Videos   VideoCreator
	Staging  *Staging
	Queue    JobQueue
	MaxBytes int64
	NowFunc  func() time.Time
}

// Submit stages the upload, creates the pending video row and hands the raw
// file to the transcode queue. Transcoding happens after Submit returns; its
// outcome lands on the row's media status.
func (s *Service) Submit(ctx context.Context, creatorID string, upload *Upload, meta Metadata) (Submission, error) {
	if upload == nil || upload.Body == nil {
		return Submission{}, apperr.New(apperr.ErrInvalidArgument, "Video file is required")
	}
	if strings.TrimSpace(creatorID) == "" {
		return Submission{}, apperr.New(apperr.ErrForbidden, "Only verified users can upload videos")
	}
	creator, err := s.Accounts.FindByID(ctx, creatorID)
	if err != nil && !errors.Is(err, repositories.ErrNotFound) {
		return Submission{}, err
	}
	if err != nil || !creator.IsVerified {
		return Submission{}, apperr.New(apperr.ErrForbidden, "Only verified users can upload videos")
	}

	meta, err = normalizeMetadata(meta)
	if err != nil {
		return Submission{}, err
	}

	ctx, span := logging.StartSpan(ctx, "intake.submit")
	submission, err := s.submit(ctx, creator, upload, meta)
	span.End(err)
	return submission, err
}

func (s *Service) submit(ctx context.Context, creator models.Account, upload *Upload, meta Metadata) (Submission, error) {
	logger := logging.FromContext(ctx)

	videoID := uuid.NewString()
	rawPath, size, err := s.Staging.SaveIncoming(upload.Body, videoID, upload.Filename, s.MaxBytes)
	if err != nil {
		if errors.Is(err, ErrFileTooLarge) {
			return Submission{}, apperr.Wrap(apperr.ErrInvalidArgument, "Video file exceeds the maximum upload size", err)
		}
		return Submission{}, err
	}
	if size == 0 {
		_ = s.Staging.RemoveRaw(rawPath)
		return Submission{}, apperr.New(apperr.ErrInvalidArgument, "Video file is empty")
	}

	now := s.now()
	video := models.Video{
		ID:              videoID,
		CreatorID:       creator.ID,
		Title:           meta.Title,
		Description:     meta.Description,
		Category:        meta.Category,
		Tags:            meta.Tags,
		Visibility:      meta.Visibility,
		Status:          models.VideoStatusPending,
		MediaStatus:     models.MediaStatusProcessing,
		DurationSeconds: meta.DurationSeconds,
		SizeBytes:       size,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if meta.ThumbnailID != "" {
		thumbnail := meta.ThumbnailID
		video.ThumbnailID = &thumbnail
	}

	if err := s.Videos.Create(ctx, video); err != nil {
		if rmErr := s.Staging.RemoveRaw(rawPath); rmErr != nil {
			logger.Warn("remove orphaned raw upload", slog.String("error", rmErr.Error()))
		}
		return Submission{}, err
	}

	logger = logger.With(slog.String("videoId", video.ID))
	metrics.RecordUpload()

	if err := s.Queue.Enqueue(ctx, Job{VideoID: video.ID, RawPath: rawPath}); err != nil {
		// The upload itself succeeded; surface the lost job on the row.
		logger.Error("enqueue transcode", slog.String("error", err.Error()))
		metrics.RecordTranscode(metrics.OutcomeFailure)
		if rmErr := s.Staging.RemoveRaw(rawPath); rmErr != nil {
			logger.Warn("remove raw upload", slog.String("error", rmErr.Error()))
		}
		reason := "transcode could not be scheduled"
		if markErr := s.Videos.MarkMediaFailed(context.WithoutCancel(ctx), video.ID, reason, s.now()); markErr != nil {
			logger.Error("record transcode scheduling failure", slog.String("error", markErr.Error()))
		} else {
			video.MediaStatus = models.MediaStatusFailed
			video.MediaError = reason
		}
	}

	logger.Info("upload accepted", slog.Int64("sizeBytes", size))
	return Submission{Video: video, StagedPath: rawPath}, nil
}

func normalizeMetadata(meta Metadata) (Metadata, error) {
	meta.Title = strings.TrimSpace(meta.Title)
	meta.Description = strings.TrimSpace(meta.Description)
	meta.Category = strings.TrimSpace(meta.Category)
	meta.ThumbnailID = strings.TrimSpace(meta.ThumbnailID)

	if meta.Title == "" {
		return Metadata{}, apperr.New(apperr.ErrInvalidArgument, "Title is required")
	}
	if len(meta.Title) > maxTitleLength {
		return Metadata{}, apperr.New(apperr.ErrInvalidArgument, "Title is too long")
	}
	if len(meta.Description) > maxDescriptionLength {
		return Metadata{}, apperr.New(apperr.ErrInvalidArgument, "Description is too long")
	}
	if meta.DurationSeconds < 0 {
		return Metadata{}, apperr.New(apperr.ErrInvalidArgument, "Duration cannot be negative")
	}

	switch meta.Visibility = strings.ToLower(strings.TrimSpace(meta.Visibility)); meta.Visibility {
	case "":
		meta.Visibility = models.VisibilityPublic
	case models.VisibilityPublic, models.VisibilityUnlisted, models.VisibilityPrivate:
	default:
		return Metadata{}, apperr.New(apperr.ErrInvalidArgument, "Visibility must be public, unlisted or private")
	}

	tags := make([]string, 0, len(meta.Tags))
	for _, tag := range meta.Tags {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, tag)
		}
	}
	if len(tags) > maxTags {
		return Metadata{}, apperr.New(apperr.ErrInvalidArgument, "Too many tags")
	}
	meta.Tags = tags

	return meta, nil
}

// SplitTags parses a comma separated tag list.
func SplitTags(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return strings.Split(raw, ",")
}

func (s *Service) now() time.Time {
	if s.NowFunc != nil {
		return s.NowFunc()
	}
	return time.Now().UTC()
}
