// Package publish uploads finished scenes to an S3-compatible bucket (AWS
// S3 or MinIO) so viewers outside the asset server can fetch them.
package publish

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/factory-twin/backend/internal/ctxlog"
)

const sceneContentType = "model/gltf-binary"

// Publisher uploads a local scene file and returns where it landed.
type Publisher interface {
	Publish(ctx context.Context, project, localPath string) (string, error)
}

// Config holds explicit construction parameters.
type Config struct {
	Region    string
	Bucket    string
	Endpoint  string // optional; enables a custom endpoint such as MinIO
	PathStyle bool
	Prefix    string
}

// S3Publisher implements Publisher on a single bucket.
type S3Publisher struct {
	client *s3.Client
	bucket string
	prefix string
}

// New creates an S3 publisher. Credentials come from the default chain.
func New(ctx context.Context, cfg Config) (*S3Publisher, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.PathStyle {
			o.UsePathStyle = true
		}
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewWithClient(client, cfg.Bucket, cfg.Prefix), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *s3.Client, bucket, prefix string) *S3Publisher {
	return &S3Publisher{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

// Key returns the object key for a project's scene file.
func (p *S3Publisher) Key(project, localPath string) string {
	return path.Join(p.prefix, project, filepath.Base(localPath))
}

// Publish uploads localPath and returns its s3:// URI.
func (p *S3Publisher) Publish(ctx context.Context, project, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open scene: %w", err)
	}
	defer f.Close()

	key := p.Key(project, localPath)
	_, err = p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(sceneContentType),
		Metadata:    map[string]string{"project": project},
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}

	uri := fmt.Sprintf("s3://%s/%s", p.bucket, key)
	ctxlog.FromContext(ctx).Info("scene published", "project", project, "uri", uri)
	return uri, nil
}
