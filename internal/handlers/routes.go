package handlers

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes wires HTTP handlers into the provided ServeMux.
func RegisterRoutes(mux *http.ServeMux, deps Dependencies) {
	health := HealthHandler{DB: deps.DB}
	identity := IdentityHandler{Gate: deps.Identity, Limiter: deps.Limiter, AdminToken: deps.AdminToken}
	uploads := UploadHandler{Intake: deps.Intake, Limiter: deps.Limiter, MaxBytes: deps.MaxUploadBytes}
	moderation := ModerationHandler{Queue: deps.Queue, Engine: deps.Engine}
	engagement := EngagementHandler{Engagement: deps.Engagement}

	mux.HandleFunc("GET /healthz", health.Handle)
	if deps.Metrics != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(deps.Metrics, promhttp.HandlerOpts{}))
	}

	mux.HandleFunc("POST /api/auth/verify", identity.Verify)
	mux.HandleFunc("GET /api/user/{id}", identity.GetUser)
	mux.HandleFunc("GET /api/user/by-credential/{credential}", identity.GetUserByCredential)
	mux.HandleFunc("GET /api/user/by-worldid/{credential}", identity.GetUserByCredential)
	mux.HandleFunc("GET /api/user/by-name/{name}", identity.GetUserByName)
	mux.HandleFunc("GET /api/user/by-username/{name}", identity.GetUserByName)
	mux.HandleFunc("POST /api/user/{id}/username", identity.Rename)
	mux.HandleFunc("POST /api/user/{id}/moderator", identity.GrantModerator)
	mux.HandleFunc("POST /api/user/{id}/mod-password", identity.SetModeratorPassword)
	mux.HandleFunc("POST /api/user/{id}/verify-mod-password", identity.VerifyModeratorPassword)

	mux.HandleFunc("POST /api/videos/upload", uploads.Upload)
	mux.HandleFunc("GET /api/videos", engagement.ListVideos)
	mux.HandleFunc("GET /api/videos/{id}", engagement.GetVideo)
	mux.HandleFunc("POST /api/videos/{id}/view", engagement.RecordView)
	mux.HandleFunc("POST /api/videos/{id}/like", engagement.Like)
	mux.HandleFunc("POST /api/users/{id}/subscribe", engagement.Subscribe)
	mux.HandleFunc("GET /api/users/{id}/subscriptions", engagement.Subscriptions)
	mux.HandleFunc("POST /api/comments", engagement.AddComment)
	mux.HandleFunc("GET /api/comments/{videoId}", engagement.Comments)
	mux.HandleFunc("DELETE /api/comments/{commentId}", engagement.DeleteComment)

	mux.HandleFunc("GET /api/moderation/queue", moderation.ListQueue)
	mux.HandleFunc("GET /api/moderation/video/{id}", moderation.Video)
	mux.HandleFunc("GET /api/moderation/media/{id}", moderation.Media)
	mux.HandleFunc("GET /api/moderation/stats", moderation.Stats)
	mux.HandleFunc("POST /api/moderation/videos/{id}/approve", moderation.Approve)
	mux.HandleFunc("POST /api/moderation/videos/{id}/reject", moderation.Reject)
}

// Dependencies aggregates collaborators required by HTTP handlers.
type Dependencies struct {
	DB             Pinger
	Identity       IdentityGate
	Intake         UploadIntake
	Queue          ModerationQueue
	Engine         ModerationEngine
	Engagement     Engagement
	Limiter        RateLimiter
	Metrics        prometheus.Gatherer
	AdminToken     string
	MaxUploadBytes int64
}
