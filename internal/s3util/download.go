// Package s3util provides the S3 helpers used by the pipeline: streaming an
// object to a local file and reading small objects into memory.
package s3util

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog/log"
)

// ObjectGetter is the subset of *s3.Client used here.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Compile-time interface check.
var _ ObjectGetter = (*s3.Client)(nil)

// DownloadToFile streams an S3 object to localPath. The file is removed if
// the stream fails part way.
func DownloadToFile(ctx context.Context, client ObjectGetter, bucket, key, localPath string) (int64, error) {
	log.Debug().Str("bucket", bucket).Str("key", key).Str("localPath", localPath).Msg("Downloading from S3")
	result, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket, Key: &key,
	})
	if err != nil {
		return 0, fmt.Errorf("S3 GetObject: %w", err)
	}
	defer result.Body.Close()

	f, err := os.Create(localPath)
	if err != nil {
		return 0, fmt.Errorf("create file: %w", err)
	}

	n, copyErr := io.Copy(f, result.Body)
	closeErr := f.Close()
	if copyErr != nil {
		os.Remove(localPath)
		return n, fmt.Errorf("download: %w", copyErr)
	}
	if closeErr != nil {
		os.Remove(localPath)
		return n, fmt.Errorf("close file: %w", closeErr)
	}
	return n, nil
}

// ReadObject returns the body of a small S3 object. Bodies larger than
// maxBytes are rejected.
func ReadObject(ctx context.Context, client ObjectGetter, bucket, key string, maxBytes int64) ([]byte, error) {
	result, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket, Key: &key,
	})
	if err != nil {
		return nil, fmt.Errorf("S3 GetObject: %w", err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(io.LimitReader(result.Body, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("object s3://%s/%s exceeds %d bytes", bucket, key, maxBytes)
	}
	return data, nil
}

// IsNotFound reports whether err is an S3 missing-key or missing-bucket error.
func IsNotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *s3types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NoSuchBucket", "NotFound":
			return true
		}
	}
	return false
}
