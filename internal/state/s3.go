package state

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"go.uber.org/zap"
)

type S3Option func(*S3Store)

func S3WithRegion(region string) S3Option {
	return func(s *S3Store) {
		s.Region = region
	}
}

func S3WithBucket(bucket string) S3Option {
	return func(s *S3Store) {
		s.Bucket = bucket
	}
}

func S3WithPrefix(prefix string) S3Option {
	return func(s *S3Store) {
		s.Prefix = prefix
	}
}

func S3WithEndpoint(endpoint string) S3Option {
	return func(s *S3Store) {
		s.Endpoint = endpoint
	}
}

func S3WithForcePathStyle(forcePathStyle bool) S3Option {
	return func(s *S3Store) {
		s.ForcePathStyle = forcePathStyle
	}
}

func S3WithLogger(l *zap.Logger) S3Option {
	return func(s *S3Store) {
		s.logger = l
	}
}

// S3Store persists state documents as JSON objects under a key prefix.
type S3Store struct {
	logger   *zap.Logger
	client   *s3.S3
	uploader *s3manager.Uploader

	Endpoint       string
	Region         string
	Bucket         string
	Prefix         string
	ForcePathStyle bool
}

func NewS3Store(opts ...S3Option) *S3Store {
	s := &S3Store{
		logger: zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}

	awsConfig := &aws.Config{
		Region:           aws.String(s.Region),
		S3ForcePathStyle: aws.Bool(s.ForcePathStyle),
	}
	if s.Endpoint != "" {
		awsConfig.Endpoint = aws.String(s.Endpoint)
	}

	sess, _ := session.NewSession(awsConfig)
	s.client = s3.New(sess)
	s.uploader = s3manager.NewUploader(sess)

	return s
}

func (s *S3Store) key(id string) string {
	return path.Join(s.Prefix, id+".state.json")
}

func (s *S3Store) Load(ctx context.Context, id string) (Document, error) {
	out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		var aerr awserr.Error
		if errors.As(err, &aerr) && aerr.Code() == s3.ErrCodeNoSuchKey {
			s.logger.Info("no state found", zap.String("sync_id", id))
			return nil, nil
		}
		return nil, err
	}
	defer out.Body.Close()

	var doc Document
	if err := json.NewDecoder(out.Body).Decode(&doc); err != nil {
		return nil, err
	}

	s.logger.Info("state loaded", zap.String("sync_id", id))
	return doc, nil
}

func (s *S3Store) Save(ctx context.Context, id string, doc Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	_, err = s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.key(id)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return err
	}

	s.logger.Debug("state saved",
		zap.String("sync_id", id),
		zap.String("bucket", s.Bucket),
		zap.String("key", s.key(id)))
	return nil
}
