package handlers

import (
	"context"
	"os"

	"github.com/humanreel/backend/internal/engagement"
	"github.com/humanreel/backend/internal/identity"
	"github.com/humanreel/backend/internal/intake"
	"github.com/humanreel/backend/internal/models"
	"github.com/humanreel/backend/internal/moderation"
)

// IdentityGate covers account verification and profile management.
type IdentityGate interface {
	Verify(ctx context.Context, proof identity.Proof, proposedName string) (models.Account, bool, error)
	Rename(ctx context.Context, accountID, newName string) (models.Account, error)
	Account(ctx context.Context, accountID string) (models.Account, error)
	AccountByCredential(ctx context.Context, credentialID string) (models.Account, error)
	AccountByDisplayName(ctx context.Context, name string) (models.Account, error)
	ElevateToModerator(ctx context.Context, accountID string) (models.Account, error)
	SetModeratorPassword(ctx context.Context, accountID, password string) error
	VerifyModeratorPassword(ctx context.Context, accountID, password string) (bool, error)
}

// UploadIntake accepts new submissions.
type UploadIntake interface {
	Submit(ctx context.Context, creatorID string, upload *intake.Upload, meta intake.Metadata) (intake.Submission, error)
}

// ModerationQueue is the reviewer-facing read side.
type ModerationQueue interface {
	ListPending(ctx context.Context, requesterID string) ([]models.VideoWithCreator, error)
	GetForReview(ctx context.Context, requesterID, videoID string) (moderation.ReviewItem, error)
	Stats(ctx context.Context, requesterID string) (models.ModerationStats, error)
	OpenMedia(ctx context.Context, requesterID, videoID string) (*os.File, error)
}

// ModerationEngine applies decisions.
type ModerationEngine interface {
	Approve(ctx context.Context, moderatorID, videoID string) (moderation.Approval, error)
	Reject(ctx context.Context, moderatorID, videoID, reason string) (models.Video, error)
}

// Engagement covers public reads and viewer interactions.
type Engagement interface {
	ListPublished(ctx context.Context, limit, offset int) ([]engagement.PublishedVideo, error)
	GetPublished(ctx context.Context, videoID string) (engagement.PublishedVideo, error)
	ToggleLike(ctx context.Context, accountID, videoID string, isLike bool) (engagement.LikeOutcome, error)
	RecordView(ctx context.Context, videoID, viewerIP string) (int64, error)
	ToggleSubscription(ctx context.Context, subscriberID, creatorID string) (bool, error)
	Subscriptions(ctx context.Context, subscriberID string) ([]models.Subscription, error)
	AddComment(ctx context.Context, authorID, videoID, content string) (models.Comment, error)
	Comments(ctx context.Context, videoID string) ([]models.Comment, error)
	DeleteComment(ctx context.Context, requesterID, commentID string) error
}

// Pinger reports database reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}
