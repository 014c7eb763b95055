package artifact

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	aws_config "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/go-resty/resty/v2"
)

type S3Api interface {
	manager.DownloadAPIClient
}

type Config struct {
	CacheDir          string
	S3EndpointURL     string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3Region          string
}

// Fetcher resolves a model location to a file on local disk. Remote
// artifacts are downloaded once into the cache directory and reused.
type Fetcher struct {
	cfg Config

	s3Once   sync.Once
	s3Client S3Api
	s3Err    error

	http *resty.Client
}

type Option func(*Fetcher)

func WithS3Client(client S3Api) Option {
	return func(f *Fetcher) {
		f.s3Once.Do(func() { f.s3Client = client })
	}
}

func WithHTTPClient(client *resty.Client) Option {
	return func(f *Fetcher) { f.http = client }
}

func NewFetcher(cfg Config, opts ...Option) *Fetcher {
	if cfg.CacheDir == "" {
		cfg.CacheDir = filepath.Join(os.TempDir(), "dementia-api")
	}
	f := &Fetcher{
		cfg:  cfg,
		http: resty.New().SetTimeout(10 * time.Minute).SetRetryCount(2),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Fetcher) Fetch(ctx context.Context, location string) (string, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return "", errors.New("empty artifact location")
	}

	u, err := url.Parse(location)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// plain path, including windows drive letters
		return localPath(location)
	}

	switch u.Scheme {
	case "file":
		return localPath(u.Path)
	case "s3":
		return f.fetchS3(ctx, u)
	case "http", "https":
		return f.fetchHTTP(ctx, u)
	}
	return "", fmt.Errorf("unsupported artifact scheme %q in %s", u.Scheme, location)
}

func localPath(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("artifact not found at %s: %w", path, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("artifact path %s is a directory", path)
	}
	return path, nil
}

func (f *Fetcher) cached(parts ...string) (string, bool) {
	path := filepath.Join(append([]string{f.cfg.CacheDir}, parts...)...)
	if info, err := os.Stat(path); err == nil && !info.IsDir() && info.Size() > 0 {
		slog.Info("using cached artifact", "path", path)
		return path, true
	}
	return path, false
}

func (f *Fetcher) fetchS3(ctx context.Context, u *url.URL) (string, error) {
	bucket, key := u.Host, strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return "", fmt.Errorf("invalid s3 location %s, expected s3://bucket/key", u)
	}

	dest, ok := f.cached("s3", bucket, filepath.FromSlash(key))
	if ok {
		return dest, nil
	}

	client, err := f.s3()
	if err != nil {
		return "", err
	}

	slog.Info("downloading artifact", "bucket", bucket, "key", key, "dest", dest)
	err = writeAtomic(dest, func(file *os.File) error {
		_, err := manager.NewDownloader(client).Download(ctx, file, &s3.GetObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to download file s3://%s/%s: %w", bucket, key, err)
	}
	return dest, nil
}

func (f *Fetcher) fetchHTTP(ctx context.Context, u *url.URL) (string, error) {
	name := filepath.Base(u.Path)
	if name == "." || name == "/" {
		return "", fmt.Errorf("url %s does not name a file", u)
	}

	dest, ok := f.cached("http", u.Host, filepath.FromSlash(strings.TrimPrefix(u.Path, "/")))
	if ok {
		return dest, nil
	}

	slog.Info("downloading artifact", "url", u.String(), "dest", dest)
	err := writeAtomic(dest, func(file *os.File) error {
		res, err := f.http.R().SetContext(ctx).SetDoNotParseResponse(true).Get(u.String())
		if err != nil {
			return err
		}
		body := res.RawBody()
		defer body.Close()

		if res.IsError() {
			return fmt.Errorf("unexpected status %s", res.Status())
		}
		_, err = file.ReadFrom(body)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to download %s: %w", u, err)
	}
	return dest, nil
}

// writeAtomic writes through a temp file in the destination directory so a
// failed download never leaves a partial file where the cache looks.
func writeAtomic(path string, write func(*os.File) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".download-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (f *Fetcher) s3() (S3Api, error) {
	f.s3Once.Do(func() {
		f.s3Client, f.s3Err = newS3Client(f.cfg)
	})
	return f.s3Client, f.s3Err
}

func newS3Client(cfg Config) (*s3.Client, error) {
	opts := []func(*aws_config.LoadOptions) error{
		aws_config.WithRegion(cfg.S3Region),
	}
	if cfg.S3AccessKeyID != "" && cfg.S3SecretAccessKey != "" {
		opts = append(opts, aws_config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKeyID, cfg.S3SecretAccessKey, "")))
	}

	awsCfg, err := aws_config.LoadDefaultConfig(context.TODO(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.S3EndpointURL)
		}
		// MinIO
		o.UsePathStyle = true
	}), nil
}
