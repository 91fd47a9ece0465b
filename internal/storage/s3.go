// Package storage uploads user avatars to S3 and hands back CDN URLs.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/threadkit/threadkit/internal/apperrors"
)

// MaxAvatarBytes caps avatar uploads.
const MaxAvatarBytes = 2 << 20

var extensions = map[string]string{
	"image/png":  "png",
	"image/jpeg": "jpg",
	"image/webp": "webp",
	"image/gif":  "gif",
}

type AvatarStore struct {
	client     *s3.Client
	bucket     string
	cdnBaseURL string
}

// NewAvatarStore builds an S3-backed avatar store. Credentials come from
// the standard AWS chain.
func NewAvatarStore(ctx context.Context, region, bucket, cdnBaseURL string) (*AvatarStore, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, err
	}
	return &AvatarStore{
		client:     s3.NewFromConfig(cfg),
		bucket:     bucket,
		cdnBaseURL: strings.TrimSuffix(cdnBaseURL, "/"),
	}, nil
}

// Upload validates and stores an avatar, returning its public URL. The
// key is derived from the user id, so a re-upload replaces the old file.
func (a *AvatarStore) Upload(ctx context.Context, userID string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", apperrors.ValidationError("avatar", "empty upload")
	}
	if len(data) > MaxAvatarBytes {
		return "", apperrors.ValidationError("avatar", "image exceeds 2MB")
	}

	// Sniff the real content type; the client's header is not trusted.
	contentType := http.DetectContentType(data)
	ext, ok := extensions[contentType]
	if !ok {
		return "", apperrors.ValidationError("avatar", "must be png, jpeg, webp, or gif")
	}

	key := fmt.Sprintf("avatars/%s.%s", userID, ext)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(a.bucket),
		Key:          aws.String(key),
		Body:         bytes.NewReader(data),
		ContentType:  aws.String(contentType),
		CacheControl: aws.String("public, max-age=86400"),
	})
	if err != nil {
		return "", apperrors.ServiceUnavailable("avatar storage").WithCause(err)
	}
	return a.cdnBaseURL + "/" + key, nil
}
