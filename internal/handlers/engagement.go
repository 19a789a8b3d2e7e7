package handlers

import (
	"net/http"
	"strconv"

	"github.com/humanreel/backend/internal/engagement"
	"github.com/humanreel/backend/internal/models"
)

// EngagementHandler implements public video reads and viewer interactions.
type EngagementHandler struct {
	Engagement Engagement
}

type likeRequest struct {
	UserID string `json:"userId"`
	IsLike *bool  `json:"isLike"`
}

type likeResponse struct {
	Message string `json:"message"`
	engagement.LikeOutcome
}

type subscribeRequest struct {
	SubscriberID string `json:"subscriberId"`
}

type subscribeResponse struct {
	Message    string `json:"message"`
	Subscribed bool   `json:"subscribed"`
}

type viewResponse struct {
	Message   string `json:"message"`
	ViewCount int64  `json:"viewCount"`
}

type commentRequest struct {
	VideoID string `json:"videoId"`
	UserID  string `json:"userId"`
	Content string `json:"content"`
}

type deleteCommentRequest struct {
	UserID string `json:"userId"`
}

// ListVideos handles GET /api/videos.
func (h EngagementHandler) ListVideos(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	videos, err := h.Engagement.ListPublished(ctx, limit, offset)
	if err != nil {
		respondError(ctx, w, err, "Failed to get videos")
		return
	}
	respondJSON(ctx, w, http.StatusOK, videos)
}

// GetVideo handles GET /api/videos/{id}.
func (h EngagementHandler) GetVideo(w http.ResponseWriter, r *http.Request) {
	video, err := h.Engagement.GetPublished(r.Context(), r.PathValue("id"))
	if err != nil {
		respondError(r.Context(), w, err, "Failed to get video")
		return
	}
	respondJSON(r.Context(), w, http.StatusOK, video)
}

// RecordView handles POST /api/videos/{id}/view.
func (h EngagementHandler) RecordView(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	count, err := h.Engagement.RecordView(ctx, r.PathValue("id"), clientIP(r))
	if err != nil {
		respondError(ctx, w, err, "Failed to record view")
		return
	}
	respondJSON(ctx, w, http.StatusOK, viewResponse{Message: "View recorded", ViewCount: count})
}

// Like handles POST /api/videos/{id}/like.
func (h EngagementHandler) Like(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req likeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(ctx, w, err, "Invalid request body")
		return
	}
	if req.IsLike == nil {
		respondMessage(ctx, w, http.StatusBadRequest, "isLike is required")
		return
	}

	outcome, err := h.Engagement.ToggleLike(ctx, req.UserID, r.PathValue("id"), *req.IsLike)
	if err != nil {
		respondError(ctx, w, err, "Failed to like video")
		return
	}

	message := "Like removed"
	switch {
	case outcome.Reaction == nil:
	case *outcome.Reaction:
		message = "Video liked"
	default:
		message = "Video disliked"
	}
	respondJSON(ctx, w, http.StatusOK, likeResponse{Message: message, LikeOutcome: outcome})
}

// Subscribe handles POST /api/users/{id}/subscribe.
func (h EngagementHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req subscribeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(ctx, w, err, "Invalid request body")
		return
	}

	subscribed, err := h.Engagement.ToggleSubscription(ctx, req.SubscriberID, r.PathValue("id"))
	if err != nil {
		respondError(ctx, w, err, "Failed to subscribe")
		return
	}

	message := "Unsubscribed"
	if subscribed {
		message = "Subscribed"
	}
	respondJSON(ctx, w, http.StatusOK, subscribeResponse{Message: message, Subscribed: subscribed})
}

// Subscriptions handles GET /api/users/{id}/subscriptions.
func (h EngagementHandler) Subscriptions(w http.ResponseWriter, r *http.Request) {
	subscriptions, err := h.Engagement.Subscriptions(r.Context(), r.PathValue("id"))
	if err != nil {
		respondError(r.Context(), w, err, "Failed to get subscriptions")
		return
	}
	if subscriptions == nil {
		subscriptions = []models.Subscription{}
	}
	respondJSON(r.Context(), w, http.StatusOK, subscriptions)
}

// AddComment handles POST /api/comments.
func (h EngagementHandler) AddComment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req commentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(ctx, w, err, "Invalid request body")
		return
	}
	if req.VideoID == "" || req.UserID == "" {
		respondMessage(ctx, w, http.StatusBadRequest, "Missing required fields")
		return
	}

	comment, err := h.Engagement.AddComment(ctx, req.UserID, req.VideoID, req.Content)
	if err != nil {
		respondError(ctx, w, err, "Failed to create comment")
		return
	}
	respondJSON(ctx, w, http.StatusCreated, comment)
}

// Comments handles GET /api/comments/{videoId}.
func (h EngagementHandler) Comments(w http.ResponseWriter, r *http.Request) {
	comments, err := h.Engagement.Comments(r.Context(), r.PathValue("videoId"))
	if err != nil {
		respondError(r.Context(), w, err, "Failed to fetch comments")
		return
	}
	if comments == nil {
		comments = []models.Comment{}
	}
	respondJSON(r.Context(), w, http.StatusOK, comments)
}

// DeleteComment handles DELETE /api/comments/{commentId}.
func (h EngagementHandler) DeleteComment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req deleteCommentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(ctx, w, err, "Invalid request body")
		return
	}
	if req.UserID == "" {
		req.UserID = r.URL.Query().Get("userId")
	}

	if err := h.Engagement.DeleteComment(ctx, req.UserID, r.PathValue("commentId")); err != nil {
		respondError(ctx, w, err, "Failed to delete comment")
		return
	}
	respondMessage(ctx, w, http.StatusOK, "Comment deleted")
}
