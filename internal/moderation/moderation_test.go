package moderation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/humanreel/backend/internal/apperr"
	"github.com/humanreel/backend/internal/models"
	"github.com/humanreel/backend/internal/notify"
	"github.com/humanreel/backend/internal/repositories"
)

type stubAccounts map[string]models.Account

func (s stubAccounts) FindByID(_ context.Context, id string) (models.Account, error) {
	account, ok := s[id]
	if !ok {
		return models.Account{}, repositories.ErrNotFound
	}
	return account, nil
}

type storedVideo struct {
	video       models.Video
	claim       string
	claimExpiry time.Time
}

// memoryVideos mirrors the conditional updates of the Postgres repository.
type memoryVideos struct {
	mu         sync.Mutex
	videos     map[string]*storedVideo
	approveErr error
	released   int
}

func newMemoryVideos(videos ...models.Video) *memoryVideos {
	m := &memoryVideos{videos: map[string]*storedVideo{}}
	for _, v := range videos {
		v := v
		m.videos[v.ID] = &storedVideo{video: v}
	}
	return m
}

func (m *memoryVideos) FindByID(_ context.Context, id string) (models.Video, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.videos[id]
	if !ok {
		return models.Video{}, repositories.ErrNotFound
	}
	return stored.video, nil
}

func (m *memoryVideos) FindWithCreator(ctx context.Context, id string) (models.VideoWithCreator, error) {
	video, err := m.FindByID(ctx, id)
	if err != nil {
		return models.VideoWithCreator{}, err
	}
	return models.VideoWithCreator{Video: video, Creator: models.CreatorSummary{ID: video.CreatorID, DisplayName: "creator"}}, nil
}

func (m *memoryVideos) ListPending(context.Context) ([]models.VideoWithCreator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.VideoWithCreator
	for _, stored := range m.videos {
		if stored.video.Status == models.VideoStatusPending {
			out = append(out, models.VideoWithCreator{Video: stored.video})
		}
	}
	return out, nil
}

func (m *memoryVideos) ModerationStats(_ context.Context, start, end time.Time) (models.ModerationStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var stats models.ModerationStats
	for _, stored := range m.videos {
		v := stored.video
		switch {
		case v.Status == models.VideoStatusPending:
			stats.Pending++
		case v.ModeratedAt != nil && !v.ModeratedAt.Before(start) && v.ModeratedAt.Before(end):
			if v.Status == models.VideoStatusApproved {
				stats.ApprovedToday++
			} else {
				stats.RejectedToday++
			}
		}
	}
	return stats, nil
}

func (m *memoryVideos) ClaimForReview(_ context.Context, id, token string, now, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.videos[id]
	if !ok || stored.video.Status != models.VideoStatusPending {
		return repositories.ErrStaleState
	}
	if stored.claim != "" && stored.claimExpiry.After(now) {
		return repositories.ErrStaleState
	}
	stored.claim, stored.claimExpiry = token, until
	return nil
}

func (m *memoryVideos) ReleaseClaim(_ context.Context, id, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.videos[id]
	if !ok || stored.claim != token {
		return repositories.ErrStaleState
	}
	stored.claim = ""
	m.released++
	return nil
}

func (m *memoryVideos) finalize(id, token string, apply func(*models.Video)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.videos[id]
	if !ok || stored.claim != token || stored.video.Status != models.VideoStatusPending {
		return repositories.ErrStaleState
	}
	apply(&stored.video)
	stored.claim = ""
	return nil
}

func (m *memoryVideos) MarkApproved(_ context.Context, id, token, moderatorID, contentID string, at time.Time) error {
	if m.approveErr != nil {
		return m.approveErr
	}
	return m.finalize(id, token, func(v *models.Video) {
		v.Status = models.VideoStatusApproved
		v.ContentID = &contentID
		v.ModeratorID = &moderatorID
		v.ModeratedAt = &at
	})
}

func (m *memoryVideos) MarkRejected(_ context.Context, id, token, moderatorID, reason string, at time.Time) error {
	return m.finalize(id, token, func(v *models.Video) {
		v.Status = models.VideoStatusRejected
		v.ModeratorID = &moderatorID
		v.ModeratedAt = &at
		v.RejectionReason = &reason
	})
}

type dirMedia struct {
	dir string
}

func (d dirMedia) path(id string) string { return filepath.Join(d.dir, id+".mp4") }

func (d dirMedia) Open(id string) (*os.File, error) { return os.Open(d.path(id)) }

func (d dirMedia) Remove(id string) error {
	if err := os.Remove(d.path(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (d dirMedia) exists(id string) bool {
	_, err := os.Stat(d.path(id))
	return err == nil
}

type stubPublisher struct {
	calls atomic.Int32
	delay time.Duration
	err   error
	gate  chan struct{}
}

func (p *stubPublisher) Publish(ctx context.Context, r io.Reader, name string) (string, error) {
	p.calls.Add(1)
	if p.gate != nil {
		<-p.gate
	}
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if p.err != nil {
		return "", p.err
	}
	if _, err := io.ReadAll(r); err != nil {
		return "", err
	}
	return "cid-" + name, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.DecisionEvent
}

func (n *recordingNotifier) Notify(_ context.Context, event notify.DecisionEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

var fixedNow = time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)

type fixture struct {
	engine    *Engine
	videos    *memoryVideos
	media     dirMedia
	publisher *stubPublisher
	notifier  *recordingNotifier
}

func newFixture(t *testing.T, videos ...models.Video) fixture {
	t.Helper()
	media := dirMedia{dir: t.TempDir()}
	for _, v := range videos {
		if v.MediaStatus == models.MediaStatusReady {
			if err := os.WriteFile(media.path(v.ID), []byte("mp4-"+v.ID), 0o600); err != nil {
				t.Fatalf("write staged media: %v", err)
			}
		}
	}

	store := newMemoryVideos(videos...)
	publisher := &stubPublisher{}
	notifier := &recordingNotifier{}
	var tokens atomic.Int64
	return fixture{
		engine: &Engine{
			Accounts: stubAccounts{
				"mod":  {ID: "mod", IsModerator: true, IsVerified: true},
				"user": {ID: "user", IsVerified: true},
			},
			Videos:         store,
			Media:          media,
			Publisher:      publisher,
			Notifier:       notifier,
			PublishTimeout: time.Second,
			NowFunc:        func() time.Time { return fixedNow },
			NewToken:       func() string { return fmt.Sprintf("token-%d", tokens.Add(1)) },
		},
		videos:    store,
		media:     media,
		publisher: publisher,
		notifier:  notifier,
	}
}

func pendingVideo(id string) models.Video {
	return models.Video{
		ID:          id,
		CreatorID:   "creator",
		Title:       "clip " + id,
		Status:      models.VideoStatusPending,
		MediaStatus: models.MediaStatusReady,
	}
}

func TestApprovePublishesAndRecordsContentID(t *testing.T) {
	f := newFixture(t, pendingVideo("v1"))

	approval, err := f.engine.Approve(context.Background(), "mod", "v1")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approval.ContentID != "cid-v1.mp4" {
		t.Fatalf("unexpected content id %q", approval.ContentID)
	}

	stored, _ := f.videos.FindByID(context.Background(), "v1")
	if stored.Status != models.VideoStatusApproved || stored.ContentID == nil || *stored.ContentID != approval.ContentID {
		t.Fatalf("unexpected stored video %+v", stored)
	}
	if stored.ModeratorID == nil || *stored.ModeratorID != "mod" || stored.ModeratedAt == nil {
		t.Fatalf("expected moderator fields to be set: %+v", stored)
	}
	if f.media.exists("v1") {
		t.Fatal("expected staged media to be removed")
	}

	want := []notify.DecisionEvent{{
		VideoID:     "v1",
		CreatorID:   "creator",
		ModeratorID: "mod",
		Decision:    notify.DecisionApproved,
		ContentID:   "cid-v1.mp4",
		At:          fixedNow,
	}}
	if diff := cmp.Diff(want, f.notifier.events); diff != "" {
		t.Fatalf("unexpected events (-want +got):\n%s", diff)
	}
}

func TestApproveGuards(t *testing.T) {
	approved := pendingVideo("done")
	approved.Status = models.VideoStatusApproved
	processing := pendingVideo("processing")
	processing.MediaStatus = models.MediaStatusProcessing
	failed := pendingVideo("failed")
	failed.MediaStatus = models.MediaStatusFailed

	tests := []struct {
		name      string
		moderator string
		videoID   string
		want      error
	}{
		{name: "missing moderator", moderator: "", videoID: "v1", want: apperr.ErrForbidden},
		{name: "unknown moderator", moderator: "ghost", videoID: "v1", want: apperr.ErrForbidden},
		{name: "not a moderator", moderator: "user", videoID: "v1", want: apperr.ErrForbidden},
		{name: "unknown video", moderator: "mod", videoID: "nope", want: apperr.ErrNotFound},
		{name: "already approved", moderator: "mod", videoID: "done", want: apperr.ErrInvalidState},
		{name: "still processing", moderator: "mod", videoID: "processing", want: apperr.ErrInvalidState},
		{name: "transcode failed", moderator: "mod", videoID: "failed", want: apperr.ErrInvalidState},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, pendingVideo("v1"), approved, processing, failed)
			if _, err := f.engine.Approve(context.Background(), tc.moderator, tc.videoID); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if f.publisher.calls.Load() != 0 {
				t.Fatal("publisher must not be called")
			}
		})
	}
}

func TestApprovePublishFailureLeavesVideoPending(t *testing.T) {
	f := newFixture(t, pendingVideo("v1"))
	f.publisher.err = errors.New("pinata: 503")

	_, err := f.engine.Approve(context.Background(), "mod", "v1")
	if !errors.Is(err, apperr.ErrUpstream) {
		t.Fatalf("expected upstream error, got %v", err)
	}

	stored, _ := f.videos.FindByID(context.Background(), "v1")
	if stored.Status != models.VideoStatusPending || stored.ContentID != nil || stored.ModeratorID != nil {
		t.Fatalf("expected video to stay pending, got %+v", stored)
	}
	if !f.media.exists("v1") {
		t.Fatal("expected staged media to be kept for a retry")
	}
	if len(f.notifier.events) != 0 {
		t.Fatal("no decision should be announced")
	}

	// The claim was released, so a retry can go through.
	f.publisher.err = nil
	if _, err := f.engine.Approve(context.Background(), "mod", "v1"); err != nil {
		t.Fatalf("retry approve: %v", err)
	}
}

func TestApprovePublishTimeout(t *testing.T) {
	f := newFixture(t, pendingVideo("v1"))
	f.engine.PublishTimeout = 20 * time.Millisecond
	f.publisher.delay = time.Second

	_, err := f.engine.Approve(context.Background(), "mod", "v1")
	if !errors.Is(err, apperr.ErrUpstream) {
		t.Fatalf("expected upstream error, got %v", err)
	}
	if stored, _ := f.videos.FindByID(context.Background(), "v1"); stored.Status != models.VideoStatusPending {
		t.Fatalf("expected pending after timeout, got %s", stored.Status)
	}
}

func TestApproveMissingStagedFile(t *testing.T) {
	f := newFixture(t, pendingVideo("v1"))
	if err := f.media.Remove("v1"); err != nil {
		t.Fatalf("remove: %v", err)
	}

	if _, err := f.engine.Approve(context.Background(), "mod", "v1"); !errors.Is(err, apperr.ErrInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
	if f.publisher.calls.Load() != 0 {
		t.Fatal("publisher must not be called without media")
	}
	if f.videos.released != 1 {
		t.Fatalf("expected the claim to be released, got %d releases", f.videos.released)
	}
}

func TestApproveRecordFailureReleasesClaim(t *testing.T) {
	f := newFixture(t, pendingVideo("v1"))
	f.videos.approveErr = errors.New("connection reset")

	_, err := f.engine.Approve(context.Background(), "mod", "v1")
	if err == nil || errors.Is(err, apperr.ErrUpstream) {
		t.Fatalf("expected an internal error, got %v", err)
	}
	if apperr.KindOf(err) != nil {
		t.Fatalf("expected an unclassified error, got kind %v", apperr.KindOf(err))
	}
	stored, _ := f.videos.FindByID(context.Background(), "v1")
	if stored.Status != models.VideoStatusPending {
		t.Fatalf("expected pending, got %s", stored.Status)
	}
	if !f.media.exists("v1") {
		t.Fatal("staged media must be kept when the approval was not recorded")
	}
}

func TestConcurrentApprovePublishesOnce(t *testing.T) {
	f := newFixture(t, pendingVideo("v1"))
	f.publisher.gate = make(chan struct{})

	const callers = 8
	errs := make(chan error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.Approve(context.Background(), "mod", "v1")
			errs <- err
		}()
	}

	// Let the losers finish before the winner's publish returns.
	deadline := time.After(5 * time.Second)
	for f.publisher.calls.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("publisher was never called")
		case <-time.After(time.Millisecond):
		}
	}
	var losers int
	for losers < callers-1 {
		select {
		case err := <-errs:
			if !errors.Is(err, apperr.ErrInvalidState) {
				t.Fatalf("expected losing callers to get invalid state, got %v", err)
			}
			losers++
		case <-deadline:
			t.Fatalf("only %d callers finished", losers)
		}
	}
	close(f.publisher.gate)
	wg.Wait()
	close(errs)

	if err := <-errs; err != nil {
		t.Fatalf("winner failed: %v", err)
	}
	if got := f.publisher.calls.Load(); got != 1 {
		t.Fatalf("expected one publish, got %d", got)
	}
}

func TestApproveAndRejectRace(t *testing.T) {
	f := newFixture(t, pendingVideo("v1"))
	f.publisher.gate = make(chan struct{})

	approveErr := make(chan error, 1)
	go func() {
		_, err := f.engine.Approve(context.Background(), "mod", "v1")
		approveErr <- err
	}()
	for f.publisher.calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}

	_, err := f.engine.Reject(context.Background(), "mod", "v1", "spam")
	if !errors.Is(err, apperr.ErrInvalidState) {
		t.Fatalf("expected reject to lose the claim, got %v", err)
	}
	if apperr.Message(err) != "Video is already being moderated" {
		t.Fatalf("unexpected message: %v", err)
	}

	close(f.publisher.gate)
	if err := <-approveErr; err != nil {
		t.Fatalf("approve: %v", err)
	}

	_, err = f.engine.Reject(context.Background(), "mod", "v1", "spam")
	if apperr.Message(err) != "Video is not pending moderation" {
		t.Fatalf("expected terminal message after approval, got %v", err)
	}
}

func TestRejectKeepsRowAndPurgesMedia(t *testing.T) {
	f := newFixture(t, pendingVideo("v1"))

	video, err := f.engine.Reject(context.Background(), "mod", "v1", "  off-topic  ")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if video.Status != models.VideoStatusRejected || video.RejectionReason == nil || *video.RejectionReason != "off-topic" {
		t.Fatalf("unexpected result %+v", video)
	}
	stored, err := f.videos.FindByID(context.Background(), "v1")
	if err != nil {
		t.Fatalf("row should be retained: %v", err)
	}
	if stored.Status != models.VideoStatusRejected || stored.ContentID != nil {
		t.Fatalf("unexpected stored video %+v", stored)
	}
	if f.media.exists("v1") {
		t.Fatal("expected staged media to be removed")
	}
	if f.publisher.calls.Load() != 0 {
		t.Fatal("reject must not publish")
	}
	if len(f.notifier.events) != 1 || f.notifier.events[0].Decision != notify.DecisionRejected {
		t.Fatalf("unexpected events %+v", f.notifier.events)
	}

	if _, err := f.engine.Approve(context.Background(), "mod", "v1"); !errors.Is(err, apperr.ErrInvalidState) {
		t.Fatalf("rejected video must not be approvable, got %v", err)
	}
}

func TestRejectWorksWhileMediaProcessing(t *testing.T) {
	video := pendingVideo("v1")
	video.MediaStatus = models.MediaStatusFailed
	f := newFixture(t, video)

	if _, err := f.engine.Reject(context.Background(), "mod", "v1", ""); err != nil {
		t.Fatalf("reject: %v", err)
	}
}

func TestRejectReasonTooLong(t *testing.T) {
	f := newFixture(t, pendingVideo("v1"))
	long := make([]byte, maxReasonLength+1)
	for i := range long {
		long[i] = 'x'
	}
	if _, err := f.engine.Reject(context.Background(), "mod", "v1", string(long)); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestClaimLeaseExceedsPublishTimeout(t *testing.T) {
	e := &Engine{PublishTimeout: time.Minute, ClaimLease: 30 * time.Second}
	if e.claimLease() <= e.publishTimeout() {
		t.Fatalf("lease %v must exceed publish timeout %v", e.claimLease(), e.publishTimeout())
	}
	e.ClaimLease = 10 * time.Minute
	if e.claimLease() != 10*time.Minute {
		t.Fatalf("expected configured lease, got %v", e.claimLease())
	}
}

func newQueue(videos *memoryVideos, media MediaOpener) *Queue {
	return &Queue{
		Accounts: stubAccounts{
			"mod":  {ID: "mod", IsModerator: true},
			"user": {ID: "user"},
		},
		Videos:   videos,
		Media:    media,
		Content:  urlFunc(func(cid string) string { return "https://gateway.test/ipfs/" + cid }),
		NowFunc:  func() time.Time { return fixedNow },
		Location: time.UTC,
	}
}

type urlFunc func(string) string

func (f urlFunc) URL(contentID string) string { return f(contentID) }

func TestQueueAuthorization(t *testing.T) {
	q := newQueue(newMemoryVideos(pendingVideo("v1")), nil)

	tests := []struct {
		requester string
		want      error
	}{
		{requester: "", want: apperr.ErrUnauthorized},
		{requester: "ghost", want: apperr.ErrUnauthorized},
		{requester: "user", want: apperr.ErrForbidden},
	}
	for _, tc := range tests {
		if _, err := q.ListPending(context.Background(), tc.requester); !errors.Is(err, tc.want) {
			t.Errorf("ListPending(%q): expected %v, got %v", tc.requester, tc.want, err)
		}
		if _, err := q.Stats(context.Background(), tc.requester); !errors.Is(err, tc.want) {
			t.Errorf("Stats(%q): expected %v, got %v", tc.requester, tc.want, err)
		}
		if _, err := q.GetForReview(context.Background(), tc.requester, "v1"); !errors.Is(err, tc.want) {
			t.Errorf("GetForReview(%q): expected %v, got %v", tc.requester, tc.want, err)
		}
	}
}

func TestQueueGetForReviewPlaybackURL(t *testing.T) {
	approved := pendingVideo("v2")
	approved.Status = models.VideoStatusApproved
	cid := "bafy123"
	approved.ContentID = &cid
	q := newQueue(newMemoryVideos(pendingVideo("v1"), approved), nil)

	item, err := q.GetForReview(context.Background(), "mod", "v1")
	if err != nil {
		t.Fatalf("get pending: %v", err)
	}
	if item.PlaybackURL != "/api/moderation/media/v1?userId=mod" {
		t.Fatalf("unexpected staged url %q", item.PlaybackURL)
	}

	item, err = q.GetForReview(context.Background(), "mod", "v2")
	if err != nil {
		t.Fatalf("get approved: %v", err)
	}
	if item.PlaybackURL != "https://gateway.test/ipfs/bafy123" {
		t.Fatalf("unexpected content url %q", item.PlaybackURL)
	}

	if _, err := q.GetForReview(context.Background(), "mod", "missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestQueueStatsCountsToday(t *testing.T) {
	today := fixedNow.Add(-time.Hour)
	yesterday := fixedNow.Add(-24 * time.Hour)
	mod := "mod"

	approvedToday := pendingVideo("a")
	approvedToday.Status, approvedToday.ModeratedAt, approvedToday.ModeratorID = models.VideoStatusApproved, &today, &mod
	rejectedToday := pendingVideo("r")
	rejectedToday.Status, rejectedToday.ModeratedAt, rejectedToday.ModeratorID = models.VideoStatusRejected, &today, &mod
	approvedYesterday := pendingVideo("old")
	approvedYesterday.Status, approvedYesterday.ModeratedAt, approvedYesterday.ModeratorID = models.VideoStatusApproved, &yesterday, &mod

	q := newQueue(newMemoryVideos(pendingVideo("p1"), pendingVideo("p2"), approvedToday, rejectedToday, approvedYesterday), nil)

	stats, err := q.Stats(context.Background(), "mod")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	want := models.ModerationStats{Pending: 2, ApprovedToday: 1, RejectedToday: 1}
	if diff := cmp.Diff(want, stats); diff != "" {
		t.Fatalf("unexpected stats (-want +got):\n%s", diff)
	}
}

func TestDayBoundsUsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*3600)
	start, end := dayBounds(time.Date(2026, 3, 15, 2, 0, 0, 0, time.UTC), loc)

	wantStart := time.Date(2026, 3, 14, 0, 0, 0, 0, loc)
	if !start.Equal(wantStart) || !end.Equal(wantStart.Add(24*time.Hour)) {
		t.Fatalf("unexpected bounds %v - %v", start, end)
	}
}

func TestQueueOpenMedia(t *testing.T) {
	media := dirMedia{dir: t.TempDir()}
	if err := os.WriteFile(media.path("v1"), []byte("mp4"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	processing := pendingVideo("v2")
	processing.MediaStatus = models.MediaStatusProcessing
	q := newQueue(newMemoryVideos(pendingVideo("v1"), processing), media)

	file, err := q.OpenMedia(context.Background(), "mod", "v1")
	if err != nil {
		t.Fatalf("open media: %v", err)
	}
	file.Close()

	if _, err := q.OpenMedia(context.Background(), "mod", "v2"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found for processing media, got %v", err)
	}
	if _, err := q.OpenMedia(context.Background(), "user", "v1"); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}
