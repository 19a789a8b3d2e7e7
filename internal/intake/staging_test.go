package intake

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestStagingSaveIncoming(t *testing.T) {
	staging, err := NewStaging(t.TempDir())
	if err != nil {
		t.Fatalf("new staging: %v", err)
	}

	path, size, err := staging.SaveIncoming(strings.NewReader("raw-bytes"), "video-1", "Holiday.MOV", 0)
	if err != nil {
		t.Fatalf("save incoming: %v", err)
	}
	if size != int64(len("raw-bytes")) {
		t.Fatalf("unexpected size %d", size)
	}
	if path != filepath.Join(staging.Dir(), "incoming", "video-1.mov") {
		t.Fatalf("unexpected staged path %s", path)
	}
	if found, err := staging.IncomingPath("video-1"); err != nil || found != path {
		t.Fatalf("IncomingPath = %q, %v", found, err)
	}
	if _, err := staging.IncomingPath("video-2"); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected no raw upload for video-2, got %v", err)
	}
	if _, _, err := staging.SaveIncoming(strings.NewReader("x"), "../escape", "a.mp4", 0); !errors.Is(err, ErrInvalidVideoID) {
		t.Fatalf("expected invalid id to be rejected, got %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(staging.Dir(), "incoming"))
	if err != nil {
		t.Fatalf("read incoming: %v", err)
	}
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".partial") {
			t.Fatalf("temporary file left behind: %s", entry.Name())
		}
	}
}

func TestStagingRejectsOversizedUpload(t *testing.T) {
	staging, err := NewStaging(t.TempDir())
	if err != nil {
		t.Fatalf("new staging: %v", err)
	}

	if _, _, err := staging.SaveIncoming(strings.NewReader("0123456789"), "video-1", "clip.mp4", 5); !errors.Is(err, ErrFileTooLarge) {
		t.Fatalf("expected ErrFileTooLarge, got %v", err)
	}

	entries, _ := os.ReadDir(filepath.Join(staging.Dir(), "incoming"))
	if len(entries) != 0 {
		t.Fatalf("expected no staged files, got %d", len(entries))
	}
}

func TestStagingCanonicalPathAndRemove(t *testing.T) {
	staging, err := NewStaging(t.TempDir())
	if err != nil {
		t.Fatalf("new staging: %v", err)
	}

	for _, bad := range []string{"", "../escape", "a/b", ".hidden"} {
		if _, err := staging.CanonicalPath(bad); !errors.Is(err, ErrInvalidVideoID) {
			t.Errorf("expected %q to be rejected, got %v", bad, err)
		}
	}

	path, err := staging.CanonicalPath("video-1")
	if err != nil {
		t.Fatalf("canonical path: %v", err)
	}
	if err := os.WriteFile(path, []byte("mp4"), 0o600); err != nil {
		t.Fatalf("write canonical: %v", err)
	}

	file, err := staging.Open("video-1")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	file.Close()

	if err := staging.Remove("video-1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected canonical file to be gone, got %v", err)
	}
	if err := staging.Remove("video-1"); err != nil {
		t.Fatalf("removing an absent file should be a no-op, got %v", err)
	}

	if err := staging.RemoveRaw(filepath.Join(staging.Dir(), "video-1.mp4")); err == nil {
		t.Fatal("expected RemoveRaw to refuse files outside incoming")
	}
}

func TestSourceExt(t *testing.T) {
	tests := map[string]string{
		"clip.MP4":          ".mp4",
		"clip.mov":          ".mov",
		"noext":             "",
		"weird.ex$t":        "",
		"toolong.abcdefghi": "",
	}
	for name, want := range tests {
		if got := SourceExt(name); got != want {
			t.Errorf("SourceExt(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestFFmpegTranscoderMovesCanonicalSource(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "raw.mp4")
	dst := filepath.Join(dir, "video.mp4")
	if err := os.WriteFile(src, []byte("already mp4"), 0o600); err != nil {
		t.Fatalf("write src: %v", err)
	}

	transcoder := NewFFmpegTranscoder("ffmpeg", time.Second)
	transcoder.Run = func(context.Context, string, ...string) ([]byte, error) {
		t.Fatal("ffmpeg should not run for mp4 sources")
		return nil, nil
	}

	if err := transcoder.Normalize(context.Background(), src, dst); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if _, err := os.Stat(src); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("expected source to be moved")
	}
	contents, err := os.ReadFile(dst)
	if err != nil || string(contents) != "already mp4" {
		t.Fatalf("unexpected destination contents %q: %v", contents, err)
	}
}

func TestFFmpegTranscoderInvokesFFmpeg(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "raw.mov")
	dst := filepath.Join(dir, "video.mp4")

	var gotArgs []string
	transcoder := NewFFmpegTranscoder("/usr/bin/ffmpeg", time.Second)
	transcoder.Run = func(_ context.Context, binary string, args ...string) ([]byte, error) {
		if binary != "/usr/bin/ffmpeg" {
			t.Errorf("unexpected binary %s", binary)
		}
		gotArgs = args
		return nil, os.WriteFile(args[len(args)-1], []byte("encoded"), 0o600)
	}

	if err := transcoder.Normalize(context.Background(), src, dst); err != nil {
		t.Fatalf("normalize: %v", err)
	}

	joined := strings.Join(gotArgs, " ")
	want := "-y -i " + src + " -c:v libx264 -profile:v baseline -pix_fmt yuv420p -c:a aac -f mp4 " + dst + ".partial"
	if joined != want {
		t.Fatalf("unexpected args:\n got %s\nwant %s", joined, want)
	}
	if contents, err := os.ReadFile(dst); err != nil || string(contents) != "encoded" {
		t.Fatalf("expected encoded output at destination, got %q: %v", contents, err)
	}
}

func TestFFmpegTranscoderFailureLeavesNoOutput(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "video.mp4")

	transcoder := NewFFmpegTranscoder("ffmpeg", time.Second)
	transcoder.Run = func(_ context.Context, _ string, args ...string) ([]byte, error) {
		_ = os.WriteFile(args[len(args)-1], []byte("half"), 0o600)
		return []byte("Invalid data found when processing input"), errors.New("exit status 1")
	}

	err := transcoder.Normalize(context.Background(), filepath.Join(dir, "raw.avi"), dst)
	if err == nil || !strings.Contains(err.Error(), "Invalid data") {
		t.Fatalf("expected ffmpeg output in error, got %v", err)
	}
	for _, path := range []string{dst, dst + ".partial"} {
		if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
			t.Fatalf("expected %s to be absent", path)
		}
	}
}
