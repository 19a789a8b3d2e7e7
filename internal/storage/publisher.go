package storage

import (
	"context"
	"errors"
	"io"
)

// ErrPublisherUnavailable indicates no content-addressed store is configured.
var ErrPublisherUnavailable = errors.New("publisher unavailable")

// Publisher uploads media to a content-addressed store.
type Publisher interface {
	// Publish stores the content read from r and returns its content identifier.
	Publish(ctx context.Context, r io.Reader, name string) (string, error)
	// URL renders the public location of a published content identifier.
	URL(contentID string) string
}
