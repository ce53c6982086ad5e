package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"

	"github.com/stacksnap/snapferry/internal/config"
	"github.com/stacksnap/snapferry/internal/domain"
)

// S3Transport stores archives as objects. Host names the bucket, User and
// Password are the access key pair and the destination directory becomes
// the key prefix.
type S3Transport struct {
	cfg      config.Transfer
	log      zerolog.Logger
	client   *s3.Client
	uploader *manager.Uploader
	prefix   string
}

func NewS3Transport(cfg config.Transfer, log zerolog.Logger) *S3Transport {
	return &S3Transport{
		cfg: cfg,
		log: log.With().Str("transport", "s3").Logger(),
	}
}

func (t *S3Transport) Connect(ctx context.Context) error {
	if err := checkCredentials("s3 connect", t.cfg); err != nil {
		return err
	}

	endpoint := t.cfg.S3Endpoint
	if endpoint != "" && !strings.Contains(endpoint, "://") {
		endpoint = "http://" + endpoint
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(t.cfg.S3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(t.cfg.User, t.cfg.Password, "")),
	)
	if err != nil {
		return domain.Configuration("s3 connect", fmt.Errorf("load SDK config: %w", err))
	}

	t.client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	t.uploader = manager.NewUploader(t.client)

	if _, err := t.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(t.cfg.Host)}); err != nil {
		return domain.Connection("s3 connect", fmt.Errorf("bucket %s: %w", t.cfg.Host, err)).
			WithSuggestion("check FTP_HOST (bucket), the key pair and S3_ENDPOINT")
	}
	t.log.Debug().Str("bucket", t.cfg.Host).Msg("connected")

	return t.EnsureDir(ctx, t.cfg.DestDir)
}

// EnsureDir only records the key prefix; object stores have no directories.
func (t *S3Transport) EnsureDir(ctx context.Context, dir string) error {
	t.prefix = strings.Trim(dir, "/")
	return nil
}

func (t *S3Transport) key(name string) string {
	if t.prefix == "" {
		return name
	}
	return t.prefix + "/" + name
}

func (t *S3Transport) Upload(ctx context.Context, localPath string) (string, error) {
	name := filepath.Base(localPath)
	f, err := os.Open(localPath)
	if err != nil {
		return "", domain.Transfer("s3 upload", err)
	}
	defer f.Close()

	t.log.Info().Str("archive", t.key(name)).Msg("uploading")
	_, err = t.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(t.cfg.Host),
		Key:    aws.String(t.key(name)),
		Body:   f,
	})
	if err != nil {
		return "", domain.Transfer("s3 upload", err)
	}
	return name, nil
}

func (t *S3Transport) Download(ctx context.Context, name, destDir string) (string, error) {
	t.log.Info().Str("archive", t.key(name)).Msg("downloading")
	resp, err := t.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(t.cfg.Host),
		Key:    aws.String(t.key(name)),
	})
	if err != nil {
		if apiErrorCode(err) == "NoSuchKey" {
			return "", domain.NotFound("s3 download", fmt.Errorf("%s: %w", t.key(name), err))
		}
		return "", domain.Transfer("s3 download", err)
	}
	defer resp.Body.Close()

	local, err := writeLocal(resp.Body, destDir, name)
	if err != nil {
		return "", domain.Transfer("s3 download", err)
	}
	return local, nil
}

// List returns the object names directly under the prefix.
func (t *S3Transport) List(ctx context.Context) ([]string, error) {
	prefix := t.key("")
	paginator := s3.NewListObjectsV2Paginator(t.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(t.cfg.Host),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})

	var names []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, domain.Transfer("s3 list", err)
		}
		for _, obj := range page.Contents {
			name := path.Base(aws.ToString(obj.Key))
			if name != "" && name != "." {
				names = append(names, name)
			}
		}
	}
	return names, nil
}

func (t *S3Transport) Delete(ctx context.Context, name string) error {
	_, err := t.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(t.cfg.Host),
		Key:    aws.String(t.key(name)),
	})
	if err != nil {
		if code := apiErrorCode(err); code == "AccessDenied" || code == "Forbidden" {
			return domain.Transfer("s3 delete", fmt.Errorf("%s: %w: %w", name, domain.ErrPermissionDenied, err))
		}
		return domain.Transfer("s3 delete", err)
	}
	return nil
}

func (t *S3Transport) Close() error {
	t.client = nil
	t.uploader = nil
	return nil
}

func apiErrorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}
