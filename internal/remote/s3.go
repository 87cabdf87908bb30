// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config addresses an S3 compatible bucket with static credentials.
type S3Config struct {
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// S3 stores recordings as objects. The bearer token is not used; requests
// are signed with the static credentials.
type S3 struct {
	cfg    S3Config
	client *s3.Client
}

func NewS3(cfg S3Config, httpClient *http.Client) *S3 {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	awsCfg := aws.Config{
		Credentials: credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		Region:      cfg.Region,
		Retryer:     func() aws.Retryer { return aws.NopRetryer{} },
	}
	if httpClient != nil {
		awsCfg.HTTPClient = httpClient
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3{cfg: cfg, client: client}
}

func (s *S3) Name() string { return ProviderS3 }

func (s *S3) key(name string) string {
	if s.cfg.Prefix == "" {
		return name
	}
	return path.Join(s.cfg.Prefix, name)
}

func (s *S3) Upload(ctx context.Context, _ string, obj Object) (RemoteRef, error) {
	meta := MetadataFor(obj, "")
	key := s.key(obj.Name)

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.cfg.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(obj.Payload),
		ContentLength: aws.Int64(int64(len(obj.Payload))),
		ContentType:   aws.String(obj.MimeType),
		Metadata: map[string]string{
			"created-time":     meta.CreatedTime,
			"duration-seconds": strconv.Itoa(obj.DurationSeconds),
		},
	})
	if err != nil {
		var respErr *awshttp.ResponseError
		if errors.As(err, &respErr) {
			return RemoteRef{}, fmt.Errorf("%w: s3 status %d: %w", ErrRejected, respErr.HTTPStatusCode(), err)
		}
		return RemoteRef{}, fmt.Errorf("s3 put: %w", err)
	}
	return RemoteRef{Provider: ProviderS3, ID: s.cfg.Bucket + "/" + key}, nil
}

var _ Uploader = (*S3)(nil)
