package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/humanreel/backend/internal/config"
)

const contentIDPrefix = "sha256:"

// ObjectUploader is the subset of the S3 upload manager the publisher uses.
type ObjectUploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Publisher publishes media to an S3-compatible bucket under a key derived
// from the SHA-256 of its bytes, so the key doubles as a content identifier.
type S3Publisher struct {
	uploader ObjectUploader
	bucket   string
	baseURL  string
	tempDir  string
}

// NewS3Publisher configures an uploader targeting the provided object store.
func NewS3Publisher(ctx context.Context, cfg config.ObjectStoreConfig) (*S3Publisher, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("s3 publisher: bucket is required")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
		if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = 8 * 1024 * 1024
		u.LeavePartsOnError = false
	})

	return NewS3PublisherWithUploader(uploader, cfg.Bucket, cfg.PublicBaseURL), nil
}

// NewS3PublisherWithUploader builds a publisher around an existing uploader.
func NewS3PublisherWithUploader(uploader ObjectUploader, bucket, publicBaseURL string) *S3Publisher {
	return &S3Publisher{
		uploader: uploader,
		bucket:   bucket,
		baseURL:  strings.TrimSuffix(publicBaseURL, "/"),
	}
}

// Publish hashes the content, uploads it under sha256/<hex> and returns
// sha256:<hex>. Non-seekable readers are spooled to a temporary file first.
func (s *S3Publisher) Publish(ctx context.Context, r io.Reader, name string) (string, error) {
	if s == nil || s.uploader == nil {
		return "", ErrPublisherUnavailable
	}

	body, cleanup, err := s.seekable(r)
	if err != nil {
		return "", err
	}
	defer cleanup()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, body); err != nil {
		return "", fmt.Errorf("hash content: %w", err)
	}
	if _, err := body.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewind content: %w", err)
	}

	sum := hex.EncodeToString(hasher.Sum(nil))
	key := objectKey(contentIDPrefix + sum)

	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String("video/mp4"),
		ACL:         s3types.ObjectCannedACLPublicRead,
	}
	if name != "" {
		input.Metadata = map[string]string{"name": name}
	}

	if _, err := s.uploader.Upload(ctx, input); err != nil {
		return "", fmt.Errorf("s3 publish %s: %w", key, err)
	}

	return contentIDPrefix + sum, nil
}

// URL renders the public location of a content identifier.
func (s *S3Publisher) URL(contentID string) string {
	key := objectKey(contentID)
	if s == nil || s.baseURL == "" {
		return key
	}
	return fmt.Sprintf("%s/%s", s.baseURL, key)
}

func (s *S3Publisher) seekable(r io.Reader) (io.ReadSeeker, func(), error) {
	if rs, ok := r.(io.ReadSeeker); ok {
		return rs, func() {}, nil
	}

	tmp, err := os.CreateTemp(s.tempDir, "publish-*")
	if err != nil {
		return nil, nil, fmt.Errorf("spool content: %w", err)
	}
	cleanup := func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}
	if _, err := io.Copy(tmp, r); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("spool content: %w", err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("rewind spooled content: %w", err)
	}
	return tmp, cleanup, nil
}

func objectKey(contentID string) string {
	return strings.Replace(contentID, ":", "/", 1)
}
