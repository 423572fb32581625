// Package imagestore signs direct-to-bucket uploads for property images.
package imagestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

const uploadExpiry = 15 * time.Minute

var (
	ErrNotConfigured = errors.New("image storage not configured")
	ErrContentType   = errors.New("unsupported image type")
)

var extensions = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/webp": "webp",
	"image/gif":  "gif",
}

type Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	// PublicURL is the base images are served from. Empty derives it from
	// the endpoint and bucket.
	PublicURL string
}

// s3API is the subset of the S3 client used for cleanup.
type s3API interface {
	DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

type presignAPI interface {
	PresignPutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Upload is a signed PUT the browser sends the image to.
type Upload struct {
	UploadURL string    `json:"uploadUrl"`
	Key       string    `json:"key"`
	PublicURL string    `json:"publicUrl"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type Store struct {
	cfg     Config
	client  s3API
	presign presignAPI
	now     func() time.Time
}

// New returns a store, or nil when the bucket or credentials are missing.
// A nil *Store reports ErrNotConfigured from every method.
func New(cfg Config) *Store {
	if cfg.Bucket == "" || cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil
	}
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	client := s3.New(opts)
	return &Store{
		cfg:     cfg,
		client:  client,
		presign: s3.NewPresignClient(client),
		now:     time.Now,
	}
}

// UploadURL signs a PUT for a new image of the given content type under
// the property's prefix.
func (s *Store) UploadURL(ctx context.Context, propertyID int64, contentType string) (*Upload, error) {
	if s == nil {
		return nil, ErrNotConfigured
	}
	ext, ok := extensions[strings.ToLower(contentType)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrContentType, contentType)
	}

	key := fmt.Sprintf("properties/%d/%s.%s", propertyID, uuid.NewString(), ext)
	req, err := s.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, s3.WithPresignExpires(uploadExpiry))
	if err != nil {
		return nil, fmt.Errorf("presign upload: %w", err)
	}

	return &Upload{
		UploadURL: req.URL,
		Key:       key,
		PublicURL: s.publicURL(key),
		ExpiresAt: s.now().Add(uploadExpiry),
	}, nil
}

func (s *Store) publicURL(key string) string {
	switch {
	case s.cfg.PublicURL != "":
		return s.cfg.PublicURL + "/" + key
	case s.cfg.Endpoint != "":
		return strings.TrimRight(s.cfg.Endpoint, "/") + "/" + s.cfg.Bucket + "/" + key
	default:
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.cfg.Bucket, s.cfg.Region, key)
	}
}

// KeyFromURL maps a public image URL back to its object key. URLs not
// served from this store return false.
func (s *Store) KeyFromURL(u string) (string, bool) {
	if s == nil {
		return "", false
	}
	prefix := s.publicURL("")
	if !strings.HasPrefix(u, prefix) || len(u) == len(prefix) {
		return "", false
	}
	return strings.TrimPrefix(u, prefix), true
}

// DeleteImages removes the objects behind the given public URLs. URLs from
// elsewhere are skipped. All deletions are attempted; the errors are joined.
func (s *Store) DeleteImages(ctx context.Context, urls []string) error {
	if s == nil {
		return nil
	}
	var errs []error
	for _, u := range urls {
		key, ok := s.KeyFromURL(u)
		if !ok {
			continue
		}
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.cfg.Bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}
