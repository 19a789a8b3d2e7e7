package intake

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// CanonicalExt is the extension of every normalized media file.
const CanonicalExt = ".mp4"

var (
	// ErrFileTooLarge indicates an upload exceeded the configured size limit.
	ErrFileTooLarge = errors.New("upload exceeds size limit")
	// ErrInvalidVideoID indicates an identifier that cannot name a staged file.
	ErrInvalidVideoID = errors.New("invalid video id")
)

var extPattern = regexp.MustCompile(`^\.[a-z0-9]{1,8}$`)

// Staging is the filesystem area where uploads wait for a moderation decision.
// Raw uploads live under incoming/; canonical files are named <videoID>.mp4.
// Files are written under a temporary name and renamed into place so a staged
// file is never partially present.
type Staging struct {
	dir string
}

// NewStaging ensures the staging directories exist.
func NewStaging(dir string) (*Staging, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("staging: directory is required")
	}
	if err := os.MkdirAll(filepath.Join(dir, "incoming"), 0o750); err != nil {
		return nil, fmt.Errorf("staging: create directories: %w", err)
	}
	return &Staging{dir: dir}, nil
}

// Dir returns the staging root.
func (s *Staging) Dir() string {
	return s.dir
}

// SaveIncoming writes a raw upload to incoming/<videoID><ext> and returns its
// path and size. A positive limit caps the number of bytes accepted.
func (s *Staging) SaveIncoming(r io.Reader, videoID, originalName string, limit int64) (string, int64, error) {
	if !validVideoID(videoID) {
		return "", 0, ErrInvalidVideoID
	}

	tmp, err := os.CreateTemp(filepath.Join(s.dir, "incoming"), "upload-*.partial")
	if err != nil {
		return "", 0, fmt.Errorf("staging: create temp file: %w", err)
	}
	cleanup := func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}

	src := r
	if limit > 0 {
		src = io.LimitReader(r, limit+1)
	}
	size, err := io.Copy(tmp, src)
	if err != nil {
		cleanup()
		return "", 0, fmt.Errorf("staging: write upload: %w", err)
	}
	if limit > 0 && size > limit {
		cleanup()
		return "", 0, ErrFileTooLarge
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", 0, fmt.Errorf("staging: close upload: %w", err)
	}

	final := filepath.Join(s.dir, "incoming", videoID+SourceExt(originalName))
	if err := os.Rename(tmp.Name(), final); err != nil {
		os.Remove(tmp.Name())
		return "", 0, fmt.Errorf("staging: finalize upload: %w", err)
	}

	return final, size, nil
}

// IncomingPath finds the raw upload staged for videoID. It returns an error
// matching os.ErrNotExist when there is none.
func (s *Staging) IncomingPath(videoID string) (string, error) {
	if !validVideoID(videoID) {
		return "", ErrInvalidVideoID
	}

	entries, err := os.ReadDir(filepath.Join(s.dir, "incoming"))
	if err != nil {
		return "", fmt.Errorf("staging: read incoming: %w", err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, videoID) {
			continue
		}
		if ext := strings.TrimPrefix(name, videoID); ext == "" || extPattern.MatchString(ext) {
			return filepath.Join(s.dir, "incoming", name), nil
		}
	}
	return "", fmt.Errorf("staging: raw upload for %s: %w", videoID, os.ErrNotExist)
}

// CanonicalPath returns where the normalized media for videoID lives.
func (s *Staging) CanonicalPath(videoID string) (string, error) {
	if !validVideoID(videoID) {
		return "", ErrInvalidVideoID
	}
	return filepath.Join(s.dir, videoID+CanonicalExt), nil
}

// Open opens the canonical media for videoID.
func (s *Staging) Open(videoID string) (*os.File, error) {
	path, err := s.CanonicalPath(videoID)
	if err != nil {
		return nil, err
	}
	return os.Open(path)
}

// Remove deletes the canonical media for videoID. An absent file is not an error.
func (s *Staging) Remove(videoID string) error {
	path, err := s.CanonicalPath(videoID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("staging: remove %s: %w", path, err)
	}
	return nil
}

// RemoveRaw deletes a raw upload inside incoming/. An absent file is not an error.
func (s *Staging) RemoveRaw(path string) error {
	if filepath.Dir(path) != filepath.Join(s.dir, "incoming") {
		return fmt.Errorf("staging: %s is outside the incoming area", path)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("staging: remove raw %s: %w", path, err)
	}
	return nil
}

// SourceExt returns a sanitized lowercase extension for an uploaded file name.
func SourceExt(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if !extPattern.MatchString(ext) {
		return ""
	}
	return ext
}

func validVideoID(videoID string) bool {
	return videoID != "" && videoID == filepath.Base(videoID) && !strings.HasPrefix(videoID, ".")
}
