package repositories

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"discovery-worker/cache"
)

type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3ArtifactStore keeps artifacts at s3://<bucket>/<prefix>/<artifact bucket>/<fingerprint>.<ext>
// and receives the run envelopes.
type S3ArtifactStore struct {
	client S3API
	bucket string
	prefix string
}

func NewS3Client(cfg aws.Config) *s3.Client {
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})
}

func NewS3ArtifactStore(client S3API, bucket, prefix string) *S3ArtifactStore {
	return &S3ArtifactStore{client: client, bucket: bucket, prefix: prefix}
}

func (r *S3ArtifactStore) key(parts ...string) string {
	return path.Join(append([]string{r.prefix}, parts...)...)
}

func (r *S3ArtifactStore) Read(ctx context.Context, bucket, fingerprint string) (string, bool, error) {
	for _, ext := range cache.Extensions {
		out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(r.bucket),
			Key:    aws.String(r.key(bucket, fingerprint+"."+ext)),
		})
		var missing *types.NoSuchKey
		if errors.As(err, &missing) {
			continue
		}
		if err != nil {
			return "", false, fmt.Errorf("failed to get artifact %s/%s: %w", bucket, fingerprint, err)
		}
		data, err := io.ReadAll(out.Body)
		out.Body.Close()
		if err != nil {
			return "", false, fmt.Errorf("failed to read artifact %s/%s: %w", bucket, fingerprint, err)
		}
		return string(data), true, nil
	}
	return "", false, nil
}

func (r *S3ArtifactStore) Write(ctx context.Context, artifacts []cache.StoredArtifact) ([]string, error) {
	uris := make([]string, 0, len(artifacts))
	for _, a := range artifacts {
		uri, err := r.UploadBytes(ctx, r.key(a.Bucket, a.Fingerprint+"."+a.Extension), []byte(a.Payload), contentTypeFor(a.Extension))
		if err != nil {
			return uris, err
		}
		uris = append(uris, uri)
	}
	return uris, nil
}

// UploadEnvelope stores a run's output envelope next to the artifacts.
func (r *S3ArtifactStore) UploadEnvelope(ctx context.Context, runID string, data []byte) (string, error) {
	return r.UploadBytes(ctx, r.key("envelopes", runID+".json"), data, "application/json")
}

func (r *S3ArtifactStore) UploadBytes(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	_, err := r.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(r.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload s3://%s/%s: %w", r.bucket, key, err)
	}
	return fmt.Sprintf("s3://%s/%s", r.bucket, key), nil
}

func contentTypeFor(ext string) string {
	switch ext {
	case "json":
		return "application/json"
	case "html":
		return "text/html; charset=utf-8"
	default:
		return "text/plain; charset=utf-8"
	}
}
