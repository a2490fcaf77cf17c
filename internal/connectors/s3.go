package connectors

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type s3Connector struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Connector reads S3_BUCKET, S3_PREFIX and an optional S3_ENDPOINT for
// S3-compatible stores such as MinIO.
func NewS3Connector(ctx context.Context) (Connector, error) {
	bucket := os.Getenv("S3_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("S3_BUCKET required when enabling s3 connector")
	}
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	endpoint := os.Getenv("S3_ENDPOINT")
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return &s3Connector{
		client: client,
		bucket: bucket,
		prefix: os.Getenv("S3_PREFIX"),
	}, nil
}

func (s *s3Connector) Name() string {
	return "s3"
}

func (s *s3Connector) StoreArtifact(ctx context.Context, a Artifact) error {
	f, err := os.Open(a.Path)
	if err != nil {
		return err
	}
	defer f.Close()

	contentType := a.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(keyFor(s.prefix, a)),
		Body:          f,
		ContentLength: aws.Int64(a.Size),
		ContentType:   aws.String(contentType),
		ACL:           types.ObjectCannedACLPrivate,
		Metadata: map[string]string{
			"job_id":  a.JobID,
			"feature": a.Feature,
		},
	})
	return err
}
