package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"quotesync/internal/qsync"
)

// S3Store is an ObjectStore backed by an S3-compatible bucket. Keys are
// stored below the holder's optional prefix; callers never see the prefix.
type S3Store struct {
	holder *ClientHolder
}

// NewS3Store creates a store using the clients owned by holder.
func NewS3Store(holder *ClientHolder) *S3Store {
	return &S3Store{holder: holder}
}

func (s *S3Store) fullKey(key string) string {
	p := strings.Trim(s.holder.Prefix(), "/")
	if p == "" {
		return key
	}
	return p + "/" + key
}

func (s *S3Store) stripPrefix(key string) string {
	p := strings.Trim(s.holder.Prefix(), "/")
	if p == "" {
		return key
	}
	return strings.TrimPrefix(key, p+"/")
}

// Put uploads content with the multipart-aware upload manager.
func (s *S3Store) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	if err := qsync.ValidateKey(key); err != nil {
		return err
	}
	c := s.holder.clients()
	in := &s3.PutObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(s.fullKey(key)),
		Body:   r,
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	if size >= 0 {
		in.ContentLength = aws.Int64(size)
	}
	if _, err := c.uploader.Upload(ctx, in); err != nil {
		return s3Error("uploading "+key, err)
	}
	return nil
}

// Get opens the object body.
func (s *S3Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	c := s.holder.clients()
	out, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(s.fullKey(key)),
	})
	if err != nil {
		return nil, s3Error("getting "+key, err)
	}
	return out.Body, nil
}

// Stat issues a HeadObject for key.
func (s *S3Store) Stat(ctx context.Context, key string) (*qsync.ObjectInfo, error) {
	c := s.holder.clients()
	out, err := c.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(s.fullKey(key)),
	})
	if err != nil {
		return nil, s3Error("head "+key, err)
	}
	return &qsync.ObjectInfo{
		Key:         key,
		Size:        aws.ToInt64(out.ContentLength),
		ContentType: aws.ToString(out.ContentType),
		ModTime:     aws.ToTime(out.LastModified).UTC(),
	}, nil
}

// Delete removes key. S3 treats deleting a missing key as success.
func (s *S3Store) Delete(ctx context.Context, key string) error {
	c := s.holder.clients()
	_, err := c.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(s.fullKey(key)),
	})
	if err != nil {
		err = s3Error("deleting "+key, err)
		if errors.Is(err, qsync.ErrNotFound) {
			return nil
		}
		return err
	}
	return nil
}

// List pages through ListObjectsV2 for prefix.
func (s *S3Store) List(ctx context.Context, prefix string) ([]qsync.ObjectInfo, error) {
	c := s.holder.clients()
	p := s3.NewListObjectsV2Paginator(c.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.cfg.Bucket),
		Prefix: aws.String(s.fullKey(prefix)),
	})

	var out []qsync.ObjectInfo
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, s3Error("listing "+prefix, err)
		}
		for _, obj := range page.Contents {
			key := s.stripPrefix(aws.ToString(obj.Key))
			if strings.HasSuffix(key, "/") {
				continue // folder placeholder
			}
			out = append(out, qsync.ObjectInfo{
				Key:         key,
				Size:        aws.ToInt64(obj.Size),
				ContentType: qsync.DetectContentType(key),
				ModTime:     aws.ToTime(obj.LastModified).UTC(),
			})
		}
	}
	return out, nil
}

// PresignGet returns a presigned GET URL valid for ttl.
func (s *S3Store) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if err := qsync.ValidateKey(key); err != nil {
		return "", err
	}
	c := s.holder.clients()
	req, err := c.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(s.fullKey(key)),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", s3Error("presigning "+key, err)
	}
	return req.URL, nil
}

// s3Error maps SDK errors onto the qsync taxonomy.
func s3Error(op string, err error) error {
	var noKey *s3types.NoSuchKey
	var notFound *s3types.NotFound
	if errors.As(err, &noKey) || errors.As(err, &notFound) {
		return fmt.Errorf("%s: %w: %w", op, qsync.ErrNotFound, err)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return fmt.Errorf("%s: %w: %w", op, qsync.ErrNotFound, err)
		case "InvalidArgument", "InvalidObjectName", "KeyTooLongError":
			return fmt.Errorf("%s: %w: %w", op, qsync.ErrInvalidArgument, err)
		}
	}
	return qsync.StorageError(op, err)
}

var _ qsync.ObjectStore = (*S3Store)(nil)
