package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"boxstore/internal/box"
)

// S3Options configures an S3Store.
type S3Options struct {
	Bucket string
	// Prefix is prepended to every key, without a trailing slash.
	Prefix string
	Region string
	// Endpoint selects an S3-compatible service and forces path-style addressing.
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	BlockSize       int64
}

// S3Store keeps blobs as objects in an S3 bucket. S3 object writes are
// atomic, so a Put is never partially visible.
type S3Store struct {
	client    *s3.Client
	uploader  *manager.Uploader
	bucket    string
	prefix    string
	blockSize int64
}

// NewS3Store loads AWS configuration and creates the client.
func NewS3Store(ctx context.Context, opts S3Options) (*S3Store, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3 blob store requires a bucket")
	}

	var configOptions []func(*awsConfig.LoadOptions) error
	if opts.Region != "" {
		configOptions = append(configOptions, awsConfig.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, "")))
	}

	cfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3StoreFromClient(client, opts), nil
}

// NewS3StoreFromClient wraps an existing client.
func NewS3StoreFromClient(client *s3.Client, opts S3Options) *S3Store {
	blockSize := opts.BlockSize
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return &S3Store{
		client:    client,
		uploader:  manager.NewUploader(client),
		bucket:    opts.Bucket,
		prefix:    strings.TrimSuffix(opts.Prefix, "/"),
		blockSize: blockSize,
	}
}

func (s *S3Store) objectKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + "/" + key
}

// countingReader counts the bytes handed to the uploader.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

func (s *S3Store) Put(ctx context.Context, key string, r io.Reader) (int64, error) {
	body := &countingReader{r: r}
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
		Body:   body,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return box.BlocksForSize(body.n, s.blockSize), nil
}

func (s *S3Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", box.ErrBlobNotFound, key)
		}
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return out.Body, nil
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

func (s *S3Store) head(ctx context.Context, key string) (*s3.HeadObjectOutput, error) {
	return s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
}

func (s *S3Store) Exists(ctx context.Context, key string) (bool, error) {
	if _, err := s.head(ctx, key); err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat %s: %w", key, err)
	}
	return true, nil
}

func (s *S3Store) SizeInBlocks(ctx context.Context, key string) (int64, error) {
	out, err := s.head(ctx, key)
	if err != nil {
		if isNotFound(err) {
			return 0, fmt.Errorf("%w: %s", box.ErrBlobNotFound, key)
		}
		return 0, fmt.Errorf("failed to stat %s: %w", key, err)
	}
	return box.BlocksForSize(aws.ToInt64(out.ContentLength), s.blockSize), nil
}

func (s *S3Store) List(ctx context.Context, prefix string) ([]string, error) {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.objectKey(prefix)),
	})

	var keys []string
	strip := ""
	if s.prefix != "" {
		strip = s.prefix + "/"
	}
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, strings.TrimPrefix(aws.ToString(obj.Key), strip))
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *S3Store) BlockSize() int64 { return s.blockSize }

// ValidateSetup checks that the bucket is reachable with the configured credentials.
func (s *S3Store) ValidateSetup(ctx context.Context) error {
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		return fmt.Errorf("s3 bucket %s not accessible: %w", s.bucket, err)
	}
	return nil
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noSuchKey) || errors.As(err, &notFound)
}

// Compile-time check that S3Store implements box.BlobStore interface
var _ box.BlobStore = (*S3Store)(nil)
