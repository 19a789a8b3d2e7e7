package handlers

import (
	"net/http"

	"github.com/humanreel/backend/internal/models"
)

// ModerationHandler implements the reviewer endpoints. Read endpoints take the
// requesting moderator from the userId query parameter; decisions take it from
// the request body.
type ModerationHandler struct {
	Queue  ModerationQueue
	Engine ModerationEngine
}

type decisionRequest struct {
	ModeratorID string `json:"moderatorId"`
	Reason      string `json:"reason"`
}

type approveResponse struct {
	Message   string       `json:"message"`
	ContentID string       `json:"contentId"`
	Video     models.Video `json:"video"`
}

type rejectResponse struct {
	Message string       `json:"message"`
	Video   models.Video `json:"video"`
}

// ListQueue handles GET /api/moderation/queue.
func (h ModerationHandler) ListQueue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	videos, err := h.Queue.ListPending(ctx, r.URL.Query().Get("userId"))
	if err != nil {
		respondError(ctx, w, err, "Failed to get moderation queue")
		return
	}
	if videos == nil {
		videos = []models.VideoWithCreator{}
	}
	respondJSON(ctx, w, http.StatusOK, videos)
}

// Video handles GET /api/moderation/video/{id}.
func (h ModerationHandler) Video(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	item, err := h.Queue.GetForReview(ctx, r.URL.Query().Get("userId"), r.PathValue("id"))
	if err != nil {
		respondError(ctx, w, err, "Failed to get video for moderation")
		return
	}
	respondJSON(ctx, w, http.StatusOK, item)
}

// Media handles GET /api/moderation/media/{id}, streaming the staged file
// with Range support.
func (h ModerationHandler) Media(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	file, err := h.Queue.OpenMedia(ctx, r.URL.Query().Get("userId"), r.PathValue("id"))
	if err != nil {
		respondError(ctx, w, err, "Failed to open media")
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		respondError(ctx, w, err, "Failed to open media")
		return
	}

	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Cache-Control", "no-store")
	http.ServeContent(w, r, info.Name(), info.ModTime(), file)
}

// Stats handles GET /api/moderation/stats.
func (h ModerationHandler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	stats, err := h.Queue.Stats(ctx, r.URL.Query().Get("userId"))
	if err != nil {
		respondError(ctx, w, err, "Failed to get moderation stats")
		return
	}
	respondJSON(ctx, w, http.StatusOK, stats)
}

// Approve handles POST /api/moderation/videos/{id}/approve.
func (h ModerationHandler) Approve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req decisionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(ctx, w, err, "Invalid request body")
		return
	}

	approval, err := h.Engine.Approve(ctx, req.ModeratorID, r.PathValue("id"))
	if err != nil {
		respondError(ctx, w, err, "Failed to approve video")
		return
	}
	respondJSON(ctx, w, http.StatusOK, approveResponse{
		Message:   "Video approved",
		ContentID: approval.ContentID,
		Video:     approval.Video,
	})
}

// Reject handles POST /api/moderation/videos/{id}/reject.
func (h ModerationHandler) Reject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req decisionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(ctx, w, err, "Invalid request body")
		return
	}

	video, err := h.Engine.Reject(ctx, req.ModeratorID, r.PathValue("id"), req.Reason)
	if err != nil {
		respondError(ctx, w, err, "Failed to reject video")
		return
	}
	respondJSON(ctx, w, http.StatusOK, rejectResponse{Message: "Video rejected", Video: video})
}
