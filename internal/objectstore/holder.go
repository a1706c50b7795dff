package objectstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"quotesync/internal/config"
	"quotesync/internal/qsync"
)

// s3Clients is one consistent set of clients built from a single config.
type s3Clients struct {
	api      *s3.Client
	presign  *s3.PresignClient
	uploader *manager.Uploader
	cfg      config.S3Config
}

// ClientHolder owns the S3 client used by every S3Store. It is built once at
// startup and swapped atomically by Reload when credentials rotate.
type ClientHolder struct {
	mu      sync.RWMutex
	current *s3Clients
}

// NewClientHolder builds the initial client set from cfg.
func NewClientHolder(ctx context.Context, cfg config.S3Config) (*ClientHolder, error) {
	c, err := buildClients(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &ClientHolder{current: c}, nil
}

// Reload rebuilds the clients from cfg. On error the previous clients stay in use.
func (h *ClientHolder) Reload(ctx context.Context, cfg config.S3Config) error {
	c, err := buildClients(ctx, cfg)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.current = c
	h.mu.Unlock()
	return nil
}

// Bucket returns the configured bucket.
func (h *ClientHolder) Bucket() string {
	return h.clients().cfg.Bucket
}

// Prefix returns the configured key prefix without surrounding slashes.
func (h *ClientHolder) Prefix() string {
	return h.clients().cfg.Prefix
}

func (h *ClientHolder) clients() *s3Clients {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

func buildClients(ctx context.Context, cfg config.S3Config) (*s3Clients, error) {
	if cfg.Bucket == "" {
		return nil, qsync.InvalidArgument("s3 bucket required")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	api := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &s3Clients{
		api:      api,
		presign:  s3.NewPresignClient(api),
		uploader: manager.NewUploader(api),
		cfg:      cfg,
	}, nil
}
