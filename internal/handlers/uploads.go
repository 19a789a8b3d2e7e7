package handlers

import (
	"errors"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/humanreel/backend/internal/intake"
	"github.com/humanreel/backend/internal/models"
)

// UploadFormField is the multipart field carrying the media file.
const UploadFormField = "video"

// multipartMemory is how much of a multipart form is buffered in memory
// before spilling to disk.
const multipartMemory = 8 << 20

// UploadHandler implements POST /api/videos/upload.
type UploadHandler struct {
	Intake   UploadIntake
	Limiter  RateLimiter
	MaxBytes int64
}

type uploadResponse struct {
	Video   models.Video `json:"video"`
	Message string       `json:"message"`
}

// Upload accepts a multipart form with the media file and its metadata.
func (h UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !admit(w, r, h.Limiter, uploadScope) {
		return
	}

	if h.MaxBytes > 0 {
		// Leave room for the metadata fields around the file part.
		r.Body = http.MaxBytesReader(w, r.Body, h.MaxBytes+multipartMemory)
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || errors.Is(err, multipart.ErrMessageTooLarge) {
			respondMessage(ctx, w, http.StatusRequestEntityTooLarge, "Video file exceeds the maximum upload size")
			return
		}
		respondMessage(ctx, w, http.StatusBadRequest, "Invalid multipart form")
		return
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	var upload *intake.Upload
	file, header, err := r.FormFile(UploadFormField)
	switch {
	case err == nil:
		defer file.Close()
		upload = &intake.Upload{Body: file, Filename: header.Filename}
	case errors.Is(err, http.ErrMissingFile):
	default:
		respondMessage(ctx, w, http.StatusBadRequest, "Invalid multipart form")
		return
	}

	duration := 0
	if raw := strings.TrimSpace(r.FormValue("duration")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			respondMessage(ctx, w, http.StatusBadRequest, "Duration must be a whole number of seconds")
			return
		}
		duration = parsed
	}

	meta := intake.Metadata{
		Title:           r.FormValue("title"),
		Description:     r.FormValue("description"),
		Category:        r.FormValue("category"),
		Tags:            intake.SplitTags(r.FormValue("tags")),
		Visibility:      r.FormValue("visibility"),
		DurationSeconds: duration,
		ThumbnailID:     r.FormValue("thumbnailId"),
	}

	submission, err := h.Intake.Submit(ctx, r.FormValue("creatorId"), upload, meta)
	if err != nil {
		respondError(ctx, w, err, "Failed to upload video")
		return
	}

	respondJSON(ctx, w, http.StatusCreated, uploadResponse{
		Video:   submission.Video,
		Message: "Video uploaded successfully and queued for moderation",
	})
}
