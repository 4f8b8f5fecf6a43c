package s3

import (
	"context"
	stderrors "errors"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/viewkit/viewkit/internal/config"
	"github.com/viewkit/viewkit/pkg/errors"
	"github.com/viewkit/viewkit/pkg/retry"
	"github.com/viewkit/viewkit/pkg/types"
	"github.com/viewkit/viewkit/pkg/utils"
)

// API is the subset of the S3 client the store uses.
type API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Store reads resources from an S3 bucket. Keys are laid out as <prefix>/<scope>/<path>; the
// default scope has no scope segment.
type Store struct {
	client  API
	bucket  string
	prefix  string
	retryer *retry.Retryer
	metrics *MetricsCollector
	logger  *utils.StructuredLogger
}

// NewStore creates a store from configuration, loading AWS credentials from the default chain
// unless static keys are configured.
func NewStore(ctx context.Context, cfg config.S3Config, logger *utils.StructuredLogger) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "bucket name cannot be empty").
			WithComponent("s3-store")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
		// Retries are handled by the store so they show up in its metrics.
		awsconfig.WithRetryMaxAttempts(1),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeConfigLoad, "failed to load AWS config", err).
			WithComponent("s3-store")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.UsePathStyle {
			o.UsePathStyle = true
		}
	})

	return NewStoreWithClient(client, cfg, logger), nil
}

// NewStoreWithClient creates a store around an existing client.
func NewStoreWithClient(client API, cfg config.S3Config, logger *utils.StructuredLogger) *Store {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	logger = logger.WithComponent("s3-store").WithField("bucket", cfg.Bucket)

	s := &Store{
		client:  client,
		bucket:  cfg.Bucket,
		prefix:  strings.Trim(cfg.Prefix, "/"),
		metrics: NewMetricsCollector(),
		logger:  logger,
	}

	retryCfg := retry.DefaultConfig()
	if cfg.Retry.MaxAttempts > 0 {
		retryCfg.MaxAttempts = cfg.Retry.MaxAttempts
	}
	if cfg.Retry.BaseDelay > 0 {
		retryCfg.InitialDelay = cfg.Retry.BaseDelay
	}
	if cfg.Retry.MaxDelay > 0 {
		retryCfg.MaxDelay = cfg.Retry.MaxDelay
	}
	s.retryer = retry.New(retryCfg).WithOnRetry(func(attempt int, err error, delay time.Duration) {
		s.metrics.RecordRetry()
		logger.Warn("retrying S3 request", map[string]interface{}{
			"attempt": attempt,
			"delay":   delay.String(),
			"error":   err.Error(),
		})
	})

	return s
}

// Fetch implements types.Store.
func (s *Store) Fetch(ctx context.Context, scope types.ScopeID, p string) ([]byte, error) {
	key := s.key(scope, p)

	var data []byte
	err := s.retryer.DoWithContext(ctx, func(ctx context.Context) error {
		start := time.Now()
		out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			translated := s.translateError(err, "fetch", scope, key)
			s.record(start, translated)
			return translated
		}
		defer func() { _ = out.Body.Close() }()

		body, err := io.ReadAll(out.Body)
		if err != nil {
			translated := errors.Wrap(errors.ErrCodeNetworkError, "failed to read object body", err).
				WithComponent("s3-store").
				WithOperation("fetch")
			s.record(start, translated)
			return translated
		}

		s.record(start, nil)
		s.metrics.RecordBytesDownloaded(int64(len(body)))
		data = body
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// List implements types.Store. It returns the direct children of dir, sorted.
func (s *Store) List(ctx context.Context, scope types.ScopeID, dir string) ([]string, error) {
	prefix := s.key(scope, dir) + "/"

	var names []string
	err := s.retryer.DoWithContext(ctx, func(ctx context.Context) error {
		start := time.Now()
		names = names[:0]

		paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
			Bucket:    aws.String(s.bucket),
			Prefix:    aws.String(prefix),
			Delimiter: aws.String("/"),
		})
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				translated := s.translateError(err, "list", scope, prefix)
				s.record(start, translated)
				return translated
			}
			for _, cp := range page.CommonPrefixes {
				name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), prefix), "/")
				if name != "" {
					names = append(names, name)
				}
			}
			for _, obj := range page.Contents {
				name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
				if name != "" {
					names = append(names, name)
				}
			}
		}
		s.record(start, nil)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(names) == 0 {
		s.metrics.RecordNotFound()
		return nil, errors.Newf(errors.ErrCodeResourceNotFound, "no objects under %q", prefix).
			WithComponent("s3-store").
			WithOperation("list")
	}
	sort.Strings(names)
	return names, nil
}

// StoreStats implements types.StatsReporter.
func (s *Store) StoreStats() types.StoreStats {
	return s.metrics.GetMetrics()
}

var _ types.StatsReporter = (*Store)(nil)

func (s *Store) key(scope types.ScopeID, p string) string {
	parts := make([]string, 0, 3)
	if s.prefix != "" {
		parts = append(parts, s.prefix)
	}
	if scope != types.DefaultScope {
		parts = append(parts, string(scope))
	}
	parts = append(parts, strings.TrimPrefix(path.Clean("/"+p), "/"))
	return strings.TrimSuffix(path.Join(parts...), "/")
}

func (s *Store) record(start time.Time, err error) {
	isError := err != nil && !errors.IsNotFound(err)
	s.metrics.RecordRequest(time.Since(start), isError)
	if errors.IsNotFound(err) {
		s.metrics.RecordNotFound()
	} else if err != nil {
		s.metrics.RecordError(err)
	}
}

func (s *Store) translateError(err error, operation string, scope types.ScopeID, key string) error {
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return errors.Wrap(errors.ErrCodeOperationCanceled, "request canceled", err).
			WithComponent("s3-store").
			WithOperation(operation)
	}

	var noSuchKey *s3types.NoSuchKey
	var notFound *s3types.NotFound
	if stderrors.As(err, &noSuchKey) || stderrors.As(err, &notFound) {
		return errors.Newf(errors.ErrCodeResourceNotFound, "object not found: %s", key).
			WithComponent("s3-store").
			WithOperation(operation).
			WithDetail("scope", string(scope))
	}

	var noSuchBucket *s3types.NoSuchBucket
	if stderrors.As(err, &noSuchBucket) {
		return errors.Wrap(errors.ErrCodeStorageRead, "bucket not found: "+s.bucket, err).
			WithComponent("s3-store").
			WithOperation(operation)
	}

	var apiErr smithy.APIError
	if stderrors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied", "Forbidden", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return errors.Wrap(errors.ErrCodeAccessDenied, "access denied", err).
				WithComponent("s3-store").
				WithOperation(operation)
		case "NoSuchKey", "NotFound":
			return errors.Newf(errors.ErrCodeResourceNotFound, "object not found: %s", key).
				WithComponent("s3-store").
				WithOperation(operation)
		}
	}

	return errors.Wrap(errors.ErrCodeNetworkError, operation+" failed for "+key, err).
		WithComponent("s3-store").
		WithOperation(operation)
}
