package repository

import (
	"bufio"
	"context"
	"io"
	"path"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"go.uber.org/zap"
)

type S3Option func(*S3)

// S3 uploads objects under a bucket/prefix.
type S3 struct {
	logger   *zap.Logger
	uploader *s3manager.Uploader

	Endpoint       string
	Region         string
	Bucket         string
	Prefix         string
	ForcePathStyle bool
}

func S3WithRegion(region string) S3Option {
	return func(r *S3) {
		r.Region = region
	}
}

func S3WithBucket(bucket string) S3Option {
	return func(r *S3) {
		r.Bucket = bucket
	}
}

func S3WithPrefix(prefix string) S3Option {
	return func(r *S3) {
		r.Prefix = prefix
	}
}

func S3WithEndpoint(endpoint string) S3Option {
	return func(r *S3) {
		r.Endpoint = endpoint
	}
}

func S3WithForcePathStyle(forcePathStyle bool) S3Option {
	return func(r *S3) {
		r.ForcePathStyle = forcePathStyle
	}
}

func S3WithLogger(l *zap.Logger) S3Option {
	return func(r *S3) {
		r.logger = l
	}
}

func NewS3(opts ...S3Option) *S3 {
	r := &S3{
		logger: zap.NewNop(),
	}
	for _, o := range opts {
		o(r)
	}

	awsConfig := &aws.Config{
		Region:           aws.String(r.Region),
		S3ForcePathStyle: aws.Bool(r.ForcePathStyle),
	}
	if r.Endpoint != "" {
		awsConfig.Endpoint = aws.String(r.Endpoint)
	}

	sess, _ := session.NewSession(awsConfig)
	r.uploader = s3manager.NewUploader(sess)

	return r
}

// contentType maps archive object extensions to their MIME type so
// downstream query engines recognize the files without sniffing.
func contentType(key string) string {
	switch path.Ext(key) {
	case ".parquet":
		return "application/vnd.apache.parquet"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}

func (r *S3) Write(ctx context.Context, key string, reader io.Reader) error {
	objPath := path.Join(r.Prefix, key)

	r.logger.Debug("s3 write",
		zap.String("key", key),
		zap.String("object_path", objPath),
		zap.String("bucket", r.Bucket),
	)

	_, err := r.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(r.Bucket),
		Key:         aws.String(objPath),
		Body:        bufio.NewReader(reader),
		ContentType: aws.String(contentType(objPath)),
	})
	return err
}
