// Package upload issues presigned R2 URLs so clients upload avatars straight
// to object storage without the image bytes passing through the API.
package upload

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"

	"github.com/onnwee/reelrank/internal/user"
)

// Avatar content types accepted for upload.
const (
	MIMEImageJPEG = "image/jpeg"
	MIMEImagePNG  = "image/png"
	MIMEImageWebP = "image/webp"
)

var (
	ErrUnsupportedType = errors.New("unsupported content type")
	ErrFileTooLarge    = errors.New("file size exceeds maximum allowed")
	ErrInvalidSize     = errors.New("file size must be positive")
	ErrInvalidUserID   = errors.New("invalid user ID")
)

// AllowedMIMETypes maps each accepted content type to the object extension.
var AllowedMIMETypes = map[string]string{
	MIMEImageJPEG: ".jpg",
	MIMEImagePNG:  ".png",
	MIMEImageWebP: ".webp",
}

const (
	defaultMaxSizeMB = 5
	defaultExpiry    = 5 * time.Minute
)

// AvatarRequest describes the file a client is about to upload.
type AvatarRequest struct {
	ContentType string
	SizeBytes   int64
}

// SignedURLResponse carries the presigned PUT and the key to set on the
// profile once the upload is done.
type SignedURLResponse struct {
	URL       string    `json:"url"`
	Key       string    `json:"key"`
	Method    string    `json:"method"`
	Headers   Headers   `json:"headers"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Headers the client must send with the PUT.
type Headers struct {
	ContentType string `json:"Content-Type"`
}

// ServiceConfig points the service at an S3-compatible bucket.
type ServiceConfig struct {
	BucketName       string
	AccessKeyID      string
	SecretAccessKey  string
	Endpoint         string
	MaxSizeMB        int
	URLExpiryMinutes int
}

func (c ServiceConfig) missing() error {
	var errs []error
	for _, f := range []struct{ value, name string }{
		{c.BucketName, "bucket name"},
		{c.AccessKeyID, "access key ID"},
		{c.SecretAccessKey, "secret access key"},
		{c.Endpoint, "endpoint"},
	} {
		if f.value == "" {
			errs = append(errs, fmt.Errorf("%s is required", f.name))
		}
	}
	return errors.Join(errs...)
}

// Service signs avatar uploads and checks that they landed.
type Service struct {
	client   *s3.Client
	presign  *s3.PresignClient
	bucket   string
	maxBytes int64
	expiry   time.Duration
	now      func() time.Time
}

// NewService builds the S3 client for cfg. Unset limits fall back to 5 MB
// and 5 minutes.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.missing(); err != nil {
		return nil, err
	}
	maxMB := cfg.MaxSizeMB
	if maxMB <= 0 {
		maxMB = defaultMaxSizeMB
	}
	expiry := time.Duration(cfg.URLExpiryMinutes) * time.Minute
	if expiry <= 0 {
		expiry = defaultExpiry
	}

	client := s3.New(s3.Options{
		// R2 ignores the region but SigV4 needs one.
		Region:       "auto",
		Credentials:  aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")),
		BaseEndpoint: aws.String(cfg.Endpoint),
		UsePathStyle: true,
	})
	return &Service{
		client:   client,
		presign:  s3.NewPresignClient(client),
		bucket:   cfg.BucketName,
		maxBytes: int64(maxMB) << 20,
		expiry:   expiry,
		now:      time.Now,
	}, nil
}

// ValidateContentType accepts only the avatar image types.
func ValidateContentType(contentType string) error {
	if _, ok := AllowedMIMETypes[contentType]; !ok {
		return ErrUnsupportedType
	}
	return nil
}

// ValidateFileSize checks 0 < sizeBytes <= the configured maximum.
func (s *Service) ValidateFileSize(sizeBytes int64) error {
	switch {
	case sizeBytes <= 0:
		return ErrInvalidSize
	case sizeBytes > s.maxBytes:
		return ErrFileTooLarge
	}
	return nil
}

// GenerateAvatarKey returns a fresh object key under the user's avatar
// prefix, avatars/{userID}/{uuid}.{ext}.
func GenerateAvatarKey(contentType, userID string) (string, error) {
	ext, ok := AllowedMIMETypes[contentType]
	if !ok {
		return "", ErrUnsupportedType
	}
	if uuid.Validate(userID) != nil {
		return "", ErrInvalidUserID
	}
	return user.AvatarPrefix(userID) + uuid.NewString() + ext, nil
}

// GenerateAvatarURL signs a PUT of req for userID. The URL only accepts the
// declared content type and length.
func (s *Service) GenerateAvatarURL(ctx context.Context, userID string, req AvatarRequest) (*SignedURLResponse, error) {
	if err := ValidateContentType(req.ContentType); err != nil {
		return nil, err
	}
	if err := s.ValidateFileSize(req.SizeBytes); err != nil {
		return nil, err
	}
	key, err := GenerateAvatarKey(req.ContentType, userID)
	if err != nil {
		return nil, err
	}

	presigned, err := s.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		ContentType:   aws.String(req.ContentType),
		ContentLength: aws.Int64(req.SizeBytes),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = s.expiry
	})
	if err != nil {
		return nil, fmt.Errorf("presign avatar upload: %w", err)
	}

	return &SignedURLResponse{
		URL:       presigned.URL,
		Key:       key,
		Method:    presigned.Method,
		Headers:   Headers{ContentType: req.ContentType},
		ExpiresAt: s.now().Add(s.expiry),
	}, nil
}

// ObjectExists reports whether key is present in the bucket.
func (s *Service) ObjectExists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return false, nil
	}
	return false, fmt.Errorf("head %s: %w", key, err)
}
