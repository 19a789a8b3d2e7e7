package intake

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// CommandRunner executes external commands and returns their combined output.
type CommandRunner func(ctx context.Context, binary string, args ...string) ([]byte, error)

// FFmpegTranscoder normalizes uploads to baseline H.264/AAC MP4 using ffmpeg.
type FFmpegTranscoder struct {
	Binary  string
	Args    []string
	Run     CommandRunner
	Timeout time.Duration
}

// NewFFmpegTranscoder constructs a transcoder that shells out to ffmpeg.
func NewFFmpegTranscoder(binary string, timeout time.Duration) *FFmpegTranscoder {
	if strings.TrimSpace(binary) == "" {
		binary = "ffmpeg"
	}
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &FFmpegTranscoder{
		Binary:  binary,
		Args:    []string{"-c:v", "libx264", "-profile:v", "baseline", "-pix_fmt", "yuv420p", "-c:a", "aac", "-f", "mp4"},
		Run:     defaultCommandRunner,
		Timeout: timeout,
	}
}

// Normalize produces dst from src. Sources that are already MP4 are moved
// rather than re-encoded. The output is written next to dst and renamed into
// place only once ffmpeg succeeds.
func (t *FFmpegTranscoder) Normalize(ctx context.Context, src, dst string) error {
	if t == nil {
		return errors.New("transcoder unavailable")
	}

	if SourceExt(src) == CanonicalExt {
		if err := os.Rename(src, dst); err != nil {
			return fmt.Errorf("move canonical source: %w", err)
		}
		return nil
	}

	if t.Run == nil {
		t.Run = defaultCommandRunner
	}

	execCtx, cancel := context.WithTimeout(ctx, t.Timeout)
	defer cancel()

	partial := dst + ".partial"
	args := append([]string{"-y", "-i", src}, t.Args...)
	args = append(args, partial)

	out, err := t.Run(execCtx, t.Binary, args...)
	if err != nil {
		os.Remove(partial)
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("ffmpeg timed out after %s", t.Timeout)
		}
		return fmt.Errorf("ffmpeg: %w: %s", err, tail(out, 400))
	}

	if err := os.Rename(partial, dst); err != nil {
		os.Remove(partial)
		return fmt.Errorf("finalize transcode: %w", err)
	}
	return nil
}

func defaultCommandRunner(ctx context.Context, binary string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, binary, args...)
	return cmd.CombinedOutput()
}

func tail(out []byte, n int) string {
	s := strings.TrimSpace(string(out))
	if len(s) > n {
		s = s[len(s)-n:]
	}
	return s
}
