// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package dumparchive rotates the PPPP packet dump (internal/wire,
// spec.md §6) on a cron schedule, compresses the rotated-out file, and
// optionally uploads it to S3. It is the first real consumer of the
// aws-sdk-go-v2 and klauspost compression dependencies: the teacher
// repo declares them in go.mod but never imports them (see DESIGN.md).
package dumparchive

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Uploader ships one archived dump file to durable storage. Archiver
// depends on this interface, not on the S3 SDK directly, so tests can
// substitute a fake without network access or credentials.
type Uploader interface {
	Upload(ctx context.Context, key string, body io.Reader, size int64) error
}

// S3Uploader uploads archived dumps to a single S3 bucket using the
// SDK's multipart manager.Uploader (aws-sdk-go-v2/feature/s3/manager).
type S3Uploader struct {
	bucket   string
	uploader *manager.Uploader
}

// NewS3Uploader resolves credentials and region from the default AWS
// chain (environment, shared config, EC2/ECS metadata) and returns an
// Uploader targeting bucket. Pass a non-empty accessKeyID to pin a
// static credential pair instead (the dump_archive config block's
// access_key_id/secret_access_key) rather than
// relying on the ambient chain.
func NewS3Uploader(ctx context.Context, bucket, region, accessKeyID, secretAccessKey string) (*S3Uploader, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	if accessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("dumparchive: loading AWS config: %w", err)
	}
	client := s3.NewFromConfig(cfg)
	return &S3Uploader{
		bucket:   bucket,
		uploader: manager.NewUploader(client),
	}, nil
}

// Upload implements Uploader.
func (u *S3Uploader) Upload(ctx context.Context, key string, body io.Reader, size int64) error {
	_, err := u.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return fmt.Errorf("dumparchive: uploading %s: %w", key, err)
	}
	return nil
}

// uploadFile is a small helper shared by the archiver: opens path,
// stats its size, and uploads it under key.
func uploadFile(ctx context.Context, u Uploader, path, key string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("dumparchive: opening %s for upload: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("dumparchive: stat %s: %w", path, err)
	}
	return u.Upload(ctx, key, f, info.Size())
}
