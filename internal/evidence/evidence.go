// Package evidence stores bank-transfer payment slips in S3 and returns the
// URL recorded on the payment.
package evidence

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/AKPAING3147/Foood/internal/order/domain"
)

// MaxSize bounds an uploaded slip.
const MaxSize = 5 << 20

var extensions = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/webp":      ".webp",
	"application/pdf": ".pdf",
}

// PutObjectAPI is the slice of the S3 client the store needs.
type PutObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type Config struct {
	Bucket string
	Region string
	Prefix string
	// Endpoint points at an S3-compatible service such as MinIO; it implies path-style addressing.
	Endpoint string
	// PublicBaseURL is prepended to object keys; defaults to the virtual-hosted bucket URL.
	PublicBaseURL string
}

type Store struct {
	client  PutObjectAPI
	bucket  string
	prefix  string
	baseURL string
	now     func() time.Time
}

// NewS3 builds a store using the default AWS credential chain.
func NewS3(ctx context.Context, cfg Config) (*Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return New(client, cfg), nil
}

func New(client PutObjectAPI, cfg Config) *Store {
	base := strings.TrimRight(cfg.PublicBaseURL, "/")
	if base == "" {
		switch {
		case cfg.Endpoint != "":
			base = strings.TrimRight(cfg.Endpoint, "/") + "/" + cfg.Bucket
		default:
			base = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
		}
	}
	prefix := strings.Trim(cfg.Prefix, "/")
	if prefix == "" {
		prefix = "payment-slips"
	}
	return &Store{client: client, bucket: cfg.Bucket, prefix: prefix, baseURL: base, now: time.Now}
}

// Put uploads one slip for orderID and returns its URL.
func (s *Store) Put(ctx context.Context, orderID domain.OrderID, contentType string, body io.Reader, size int64) (string, error) {
	ext, ok := extensions[strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))]
	if !ok {
		return "", fmt.Errorf("%w: content type %q", domain.ErrInvalidEvidence, contentType)
	}
	if size <= 0 || size > MaxSize {
		return "", fmt.Errorf("%w: size %d bytes", domain.ErrInvalidEvidence, size)
	}

	key := path.Join(s.prefix, string(orderID), s.now().UTC().Format("20060102T150405")+"-"+uuid.NewString()[:8]+ext)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(size),
		Metadata:      map[string]string{"order-id": string(orderID)},
	})
	if err != nil {
		return "", fmt.Errorf("%w: put %s: %v", domain.ErrEvidenceUploadFailed, key, err)
	}
	return s.baseURL + "/" + key, nil
}
