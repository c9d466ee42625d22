package results

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"

	"github.com/snarg/stt-compare/internal/compare"
	"github.com/snarg/stt-compare/internal/config"
)

// S3Store stores result documents in an S3-compatible object store.
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
	log    zerolog.Logger
}

// NewS3Store creates an S3 result store from config.
func NewS3Store(cfg config.S3Config, log zerolog.Logger) (*S3Store, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return &S3Store{
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		log:    log.With().Str("component", "s3-store").Logger(),
	}, nil
}

// HeadBucket checks that the bucket exists and credentials are valid.
func (s *S3Store) HeadBucket(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: &s.bucket,
	})
	return err
}

func (s *S3Store) Save(ctx context.Context, r *compare.ComparisonResult) error {
	key := r.Key()
	if err := checkKey(key); err != nil {
		return err
	}
	data, err := encode(r)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return s.put(ctx, key, data)
}

func (s *S3Store) put(ctx context.Context, key string, data []byte) error {
	objKey := s.objectKey(key)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         &objKey,
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	return err
}

func (s *S3Store) Get(ctx context.Context, key string) (*compare.ComparisonResult, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	data, err := s.read(ctx, s.objectKey(key))
	if err != nil {
		return nil, err
	}
	r, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return r, nil
}

func (s *S3Store) read(ctx context.Context, objKey string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &objKey,
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

// List pages through the result prefix and decodes every document.
// Malformed documents are logged and skipped.
func (s *S3Store) List(ctx context.Context) ([]*compare.ComparisonResult, error) {
	keys, err := s.listKeys(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*compare.ComparisonResult, 0, len(keys))
	for _, objKey := range keys {
		data, err := s.read(ctx, objKey)
		if err != nil {
			return nil, fmt.Errorf("get %s: %w", objKey, err)
		}
		r, err := decode(data)
		if err != nil {
			s.log.Warn().Err(err).Str("key", objKey).Msg("skipping malformed result")
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *S3Store) listKeys(ctx context.Context) ([]string, error) {
	prefix := s.keyPrefix()

	var keys []string
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: &s.bucket,
		Prefix: &prefix,
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list objects: %w", err)
		}
		for _, obj := range page.Contents {
			k := aws.ToString(obj.Key)
			if _, ok := KeyFromName(path.Base(k)); ok {
				keys = append(keys, k)
			}
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *S3Store) Exists(ctx context.Context, key string) bool {
	if !ValidKey(key) {
		return false
	}
	objKey := s.objectKey(key)
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &s.bucket,
		Key:    &objKey,
	})
	return err == nil
}

func (s *S3Store) Type() string { return "s3" }

func (s *S3Store) Close() {}

func (s *S3Store) keyPrefix() string {
	if s.prefix != "" {
		return s.prefix + "/results/"
	}
	return "results/"
}

func (s *S3Store) objectKey(key string) string {
	return s.keyPrefix() + key + FileSuffix
}
