package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/humanreel/backend/internal/logging"
)

// Decision values carried on events.
const (
	DecisionApproved = "approved"
	DecisionRejected = "rejected"
)

// DecisionEvent announces a committed moderation decision.
type DecisionEvent struct {
	VideoID     string    `json:"videoId"`
	CreatorID   string    `json:"creatorId"`
	ModeratorID string    `json:"moderatorId"`
	Decision    string    `json:"decision"`
	ContentID   string    `json:"contentId,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	At          time.Time `json:"at"`
}

// Notifier delivers decision events to interested parties.
type Notifier interface {
	Notify(ctx context.Context, event DecisionEvent) error
}

// LogNotifier writes decision events to the context logger.
type LogNotifier struct{}

// Notify implements Notifier.
func (LogNotifier) Notify(ctx context.Context, event DecisionEvent) error {
	logging.FromContext(ctx).Info("moderation decision",
		slog.String("videoId", event.VideoID),
		slog.String("creatorId", event.CreatorID),
		slog.String("moderatorId", event.ModeratorID),
		slog.String("decision", event.Decision),
		slog.String("contentId", event.ContentID),
	)
	return nil
}
