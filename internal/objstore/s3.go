package objstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Config configures access to an S3-compatible endpoint such as MinIO.
type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
}

// S3Store is an ObjectStore for "s3://" locations.
type S3Store struct {
	client *s3.Client
}

var _ ObjectStore = (*S3Store)(nil)

func NewS3Store(cfg S3Config) *S3Store {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	opts := s3.Options{
		Region:       region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true, // MinIO does not serve virtual-hosted buckets by default
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return &S3Store{client: s3.New(opts)}
}

func (s *S3Store) s3Location(location string) (Location, error) {
	loc, err := ParseLocation(location)
	if err != nil {
		return Location{}, err
	}
	if loc.Scheme != "s3" {
		return Location{}, fmt.Errorf("%w: %q is not an s3:// location", ErrInvalidLocation, location)
	}
	return loc, nil
}

func (s *S3Store) Put(ctx context.Context, location string, data []byte) (string, error) {
	loc, err := s.s3Location(location)
	if err != nil {
		return "", err
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(loc.Bucket),
		Key:           aws.String(loc.Key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return "", fmt.Errorf("put %s: %w", loc, err)
	}
	return loc.String(), nil
}

func (s *S3Store) Get(ctx context.Context, location string) ([]byte, error) {
	loc, err := s.s3Location(location)
	if err != nil {
		return nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(loc.Bucket),
		Key:    aws.String(loc.Key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%s: %w", loc, ErrNotFound)
		}
		return nil, fmt.Errorf("get %s: %w", loc, err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}
