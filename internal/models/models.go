package models

import "time"

// Account represents a verified human within the platform.
type Account struct {
	ID                    string     `json:"id"`
	CredentialID          string     `json:"credentialId"`
	DisplayName           string     `json:"displayName"`
	IsVerified            bool       `json:"isVerified"`
	IsModerator           bool       `json:"isModerator"`
	Avatar                string     `json:"avatar,omitempty"`
	LastDisplayNameChange *time.Time `json:"lastDisplayNameChange,omitempty"`
	ModeratorPassword     string     `json:"-"`
	CreatedAt             time.Time  `json:"createdAt"`
}

// Video lifecycle states. Approved and rejected are terminal.
const (
	VideoStatusPending  = "pending"
	VideoStatusApproved = "approved"
	VideoStatusRejected = "rejected"
)

// Media states track the transcode phase of intake independently of moderation.
const (
	MediaStatusProcessing = "processing"
	MediaStatusReady      = "ready"
	MediaStatusFailed     = "failed"
)

// Visibility tiers.
const (
	VisibilityPublic   = "public"
	VisibilityUnlisted = "unlisted"
	VisibilityPrivate  = "private"
)

// Video is an uploaded media item moving through moderation.
type Video struct {
	ID              string     `json:"id"`
	CreatorID       string     `json:"creatorId"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	Category        string     `json:"category"`
	Tags            []string   `json:"tags"`
	Visibility      string     `json:"visibility"`
	Status          string     `json:"status"`
	MediaStatus     string     `json:"mediaStatus"`
	MediaError      string     `json:"mediaError,omitempty"`
	ContentID       *string    `json:"contentId"`
	ThumbnailID     *string    `json:"thumbnailId,omitempty"`
	DurationSeconds int        `json:"duration"`
	SizeBytes       int64      `json:"fileSize"`
	ViewCount       int64      `json:"viewCount"`
	LikeCount       int64      `json:"likeCount"`
	DislikeCount    int64      `json:"dislikeCount"`
	ModeratorID     *string    `json:"moderatorId"`
	ModeratedAt     *time.Time `json:"moderatedAt"`
	RejectionReason *string    `json:"rejectionReason,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// IsTerminal reports whether the video has left the pending state.
func (v Video) IsTerminal() bool {
	return v.Status == VideoStatusApproved || v.Status == VideoStatusRejected
}

// VideoWithCreator decorates a video with its creator's public profile.
type VideoWithCreator struct {
	Video
	Creator CreatorSummary `json:"creator"`
}

// CreatorSummary is the public subset of an account shown next to content.
type CreatorSummary struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Avatar      string `json:"avatar,omitempty"`
	IsVerified  bool   `json:"isVerified"`
}

// ModerationStats summarises the review workload.
type ModerationStats struct {
	Pending       int64 `json:"pending"`
	ApprovedToday int64 `json:"approvedToday"`
	RejectedToday int64 `json:"rejectedToday"`
}

// Like is one account's reaction to a video.
type Like struct {
	ID        string    `json:"id"`
	AccountID string    `json:"userId"`
	VideoID   string    `json:"videoId"`
	IsLike    bool      `json:"isLike"`
	CreatedAt time.Time `json:"createdAt"`
}

// LikeCounts are the derived like/dislike aggregates of a video.
type LikeCounts struct {
	Likes    int64 `json:"likeCount"`
	Dislikes int64 `json:"dislikeCount"`
}

// View is an append-only playback record.
type View struct {
	ID       string    `json:"id"`
	VideoID  string    `json:"videoId"`
	ViewerIP string    `json:"viewerIp"`
	ViewedAt time.Time `json:"viewedAt"`
}

// Subscription links a subscriber to a creator.
type Subscription struct {
	ID           string         `json:"id"`
	SubscriberID string         `json:"subscriberId"`
	CreatorID    string         `json:"creatorId"`
	CreatedAt    time.Time      `json:"createdAt"`
	Creator      CreatorSummary `json:"creator"`
}

// Comment is a text reply on a video.
type Comment struct {
	ID         string    `json:"id"`
	VideoID    string    `json:"videoId"`
	AuthorID   string    `json:"userId"`
	AuthorName string    `json:"username,omitempty"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"createdAt"`
}
