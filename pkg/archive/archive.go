package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/3leaps/plagctl/pkg/resultstore"
)

// ObjectAPI is the subset of the S3 client used by Archiver.
type ObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Object describes an archived object.
type Object struct {
	Key          string    `json:"key" yaml:"key"`
	Size         int64     `json:"size" yaml:"size"`
	LastModified time.Time `json:"last_modified" yaml:"last_modified"`
}

// Archiver uploads and fetches reports under a bucket prefix.
type Archiver struct {
	client ObjectAPI
	bucket string
	prefix string
	logger *zap.Logger
}

// Option configures an Archiver.
type Option func(*Archiver)

// WithLogger sets the logger. Default: zap.NewNop().
func WithLogger(l *zap.Logger) Option {
	return func(a *Archiver) {
		if l != nil {
			a.logger = l
		}
	}
}

// New creates an Archiver backed by the AWS SDK default credential chain,
// or explicit credentials when set in cfg.
func New(ctx context.Context, cfg Config, opts ...Option) (*Archiver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, &Error{Op: "New", Bucket: cfg.Bucket, Err: err}
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ForcePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewWithClient(client, cfg, opts...)
}

// NewWithClient creates an Archiver over an existing client.
func NewWithClient(client ObjectAPI, cfg Config, opts ...Option) (*Archiver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &Archiver{
		client: client,
		bucket: cfg.Bucket,
		prefix: normalizePrefix(cfg.Prefix),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

func loadAWSConfig(ctx context.Context, cfg Config) (aws.Config, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, err
	}
	awsCfg.Region = resolveRegion(cfg.Endpoint, awsCfg.Region)
	return awsCfg, nil
}

// Key returns the full object key for name.
func (a *Archiver) Key(name string) string {
	return a.prefix + strings.TrimLeft(name, "/")
}

// URI returns the s3:// URI for name.
func (a *Archiver) URI(name string) string {
	return "s3://" + a.bucket + "/" + a.Key(name)
}

// Put uploads body under name and returns the object URI.
func (a *Archiver) Put(ctx context.Context, name, contentType string, body io.Reader, size int64) (string, error) {
	key := a.Key(name)
	in := &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
		Body:   body,
	}
	if size >= 0 {
		in.ContentLength = aws.Int64(size)
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}

	if _, err := a.client.PutObject(ctx, in); err != nil {
		return "", wrapError("Put", a.bucket, key, err)
	}
	a.logger.Debug("Archived object", zap.String("bucket", a.bucket), zap.String("key", key), zap.Int64("size", size))
	return a.URI(name), nil
}

// PutBytes uploads data under name.
func (a *Archiver) PutBytes(ctx context.Context, name, contentType string, data []byte) (string, error) {
	return a.Put(ctx, name, contentType, bytes.NewReader(data), int64(len(data)))
}

// PutResult uploads a cached result as results/<id>.json.
func (a *Archiver) PutResult(ctx context.Context, rec *resultstore.Record) (string, error) {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode result %s: %w", rec.ID, err)
	}
	return a.PutBytes(ctx, path.Join("results", rec.ID+".json"), "application/json", data)
}

// Get streams the object stored under name to w.
func (a *Archiver) Get(ctx context.Context, name string, w io.Writer) (int64, error) {
	key := a.Key(name)
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, wrapError("Get", a.bucket, key, err)
	}
	defer func() { _ = out.Body.Close() }()

	n, err := io.Copy(w, out.Body)
	if err != nil {
		return n, wrapError("Get", a.bucket, key, err)
	}
	return n, nil
}

// List returns every object under the archive prefix, following
// continuation tokens.
func (a *Archiver) List(ctx context.Context) ([]Object, error) {
	in := &s3.ListObjectsV2Input{Bucket: aws.String(a.bucket)}
	if a.prefix != "" {
		in.Prefix = aws.String(a.prefix)
	}

	var objects []Object
	for {
		out, err := a.client.ListObjectsV2(ctx, in)
		if err != nil {
			return nil, wrapError("List", a.bucket, "", err)
		}
		for _, obj := range out.Contents {
			objects = append(objects, Object{
				Key:          aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
		if !aws.ToBool(out.IsTruncated) || out.NextContinuationToken == nil {
			return objects, nil
		}
		in.ContinuationToken = out.NextContinuationToken
	}
}
