package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Store serves attachments from a bucket instead of local disk, for
// deployments where the extracted archive does not travel with the server.
// Keys mirror the local layout: "<dir>/<messageID>-<filename>".
type S3Store struct {
	client *s3.Client
	bucket string
	logger *slog.Logger
}

type S3Config struct {
	Endpoint string
	Bucket   string
	Region   string
}

func NewS3Store(ctx context.Context, cfg S3Config, logger *slog.Logger) (*S3Store, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return &S3Store{client: client, bucket: cfg.Bucket, logger: logger}, nil
}

func (s *S3Store) Open(ctx context.Context, fromGroup bool, name string) (io.ReadCloser, error) {
	dir := IndividualMediaDir
	if fromGroup {
		dir = GroupMediaDir
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(dir + "/" + name),
	})
	if err != nil {
		var notFound *types.NoSuchKey
		if errors.As(err, &notFound) {
			return nil, os.ErrNotExist
		}
		return nil, err
	}
	return out.Body, nil
}

// Mirror uploads every attachment a local archive holds, skipping nothing;
// PutObject overwrites are idempotent so reruns are safe.
func (s *S3Store) Mirror(ctx context.Context, local *LocalStore) error {
	uploaded := 0
	err := local.Walk(func(fromGroup bool, name string, size int64) error {
		f, err := local.Open(ctx, fromGroup, name)
		if err != nil {
			return err
		}
		defer f.Close()

		dir := IndividualMediaDir
		if fromGroup {
			dir = GroupMediaDir
		}
		_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(s.bucket),
			Key:           aws.String(dir + "/" + name),
			Body:          f,
			ContentLength: aws.Int64(size),
		})
		if err != nil {
			return fmt.Errorf("failed to upload %s: %w", name, err)
		}
		uploaded++
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Info("media_mirrored", "files", uploaded, "bucket", s.bucket)
	return nil
}
