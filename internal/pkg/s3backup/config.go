package s3backup

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ManuelReschke/PropServe/internal/pkg/env"
)

// Config holds the settings of the account document mirror
type Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	BucketName      string
	EndpointURL     string // Optional for S3-compatible services
	Prefix          string
	Enabled         bool
}

// LoadConfig loads S3 configuration from environment variables
func LoadConfig() (*Config, error) {
	config := &Config{
		AccessKeyID:     env.GetEnv("S3_ACCESS_KEY_ID", ""),
		SecretAccessKey: env.GetEnv("S3_SECRET_ACCESS_KEY", ""),
		Region:          env.GetEnv("S3_REGION", "ap-south-1"),
		BucketName:      env.GetEnv("S3_BUCKET_NAME", ""),
		EndpointURL:     env.GetEnv("S3_ENDPOINT_URL", ""),
		Prefix:          strings.Trim(env.GetEnv("S3_PREFIX", "documents"), "/"),
		Enabled:         env.GetEnvBool("S3_BACKUP_ENABLED", false),
	}

	// Validate required fields if S3 backup is enabled
	if config.Enabled {
		if config.AccessKeyID == "" {
			return nil, errors.New("S3_ACCESS_KEY_ID is required when S3 backup is enabled")
		}
		if config.SecretAccessKey == "" {
			return nil, errors.New("S3_SECRET_ACCESS_KEY is required when S3 backup is enabled")
		}
		if config.BucketName == "" {
			return nil, errors.New("S3_BUCKET_NAME is required when S3 backup is enabled")
		}
	}

	return config, nil
}

// IsEnabled returns true if S3 backup is enabled
func (c *Config) IsEnabled() bool {
	return c != nil && c.Enabled
}

// GetObjectKey returns the object key of an account document,
// e.g. documents/AGT-004211/voter_id.png
func (c *Config) GetObjectKey(publicID, docType, fileExtension string) string {
	key := fmt.Sprintf("%s/%s%s", publicID, docType, strings.ToLower(fileExtension))
	if c.Prefix == "" {
		return key
	}
	return c.Prefix + "/" + key
}

// GetAppEnv returns the current application environment
func GetAppEnv() string {
	return env.GetEnv("APP_ENV", "dev")
}
