package s3backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/gofiber/fiber/v2/log"
)

// Client mirrors account documents into an S3 bucket
type Client struct {
	api *s3.Client
	cfg *Config
}

// PutResult describes a mirrored document
type PutResult struct {
	Bucket      string
	Key         string
	Size        int64
	ContentType string
}

// NewClient builds the S3 client and makes sure the bucket is reachable.
// Outside prod a missing bucket is created, which is what local MinIO needs.
func NewClient(ctx context.Context, cfg *Config) (*Client, error) {
	if !cfg.IsEnabled() {
		return nil, fmt.Errorf("S3 backup is disabled")
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	api := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
			o.UsePathStyle = true
		}
	})

	c := &Client{api: api, cfg: cfg}
	if err := c.Ping(ctx); err != nil {
		if GetAppEnv() == "prod" {
			return nil, fmt.Errorf("bucket %s not accessible: %w", cfg.BucketName, err)
		}
		log.Warnf("[S3Backup] Bucket %s not reachable (%v), creating it", cfg.BucketName, err)
		if err := c.ensureBucket(ctx); err != nil {
			return nil, err
		}
	}

	log.Infof("[S3Backup] Mirroring documents to s3://%s/%s", cfg.BucketName, cfg.Prefix)
	return c, nil
}

// Ping reports whether the bucket answers HeadBucket. Used by the health probe.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.cfg.BucketName)})
	return err
}

func (c *Client) ensureBucket(ctx context.Context) error {
	input := &s3.CreateBucketInput{Bucket: aws.String(c.cfg.BucketName)}
	if c.cfg.EndpointURL == "" && c.cfg.Region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(c.cfg.Region),
		}
	}
	if _, err := c.api.CreateBucket(ctx, input); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", c.cfg.BucketName, err)
	}
	return nil
}

// PutDocument uploads the file at localPath under key. Identity documents are
// stored with server side encryption and tagged with the owning account.
func (c *Client) PutDocument(ctx context.Context, localPath, key, publicID string) (*PutResult, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", localPath, err)
	}
	contentType := ContentTypeFor(filepath.Ext(localPath))

	_, err = c.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:               aws.String(c.cfg.BucketName),
		Key:                  aws.String(key),
		Body:                 f,
		ContentType:          aws.String(contentType),
		ContentLength:        aws.Int64(info.Size()),
		ServerSideEncryption: types.ServerSideEncryptionAes256,
		Metadata: map[string]string{
			"account": publicID,
			"source":  "propserve-registration",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("put s3://%s/%s: %w", c.cfg.BucketName, key, err)
	}

	log.Debugf("[S3Backup] Stored %s (%d bytes) as s3://%s/%s", localPath, info.Size(), c.cfg.BucketName, key)
	return &PutResult{Bucket: c.cfg.BucketName, Key: key, Size: info.Size(), ContentType: contentType}, nil
}

// ContentTypeFor returns the MIME type of an accepted document extension
func ContentTypeFor(ext string) string {
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".pdf":
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}
