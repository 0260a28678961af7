package store

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewS3RequiresBucket(t *testing.T) {
	_, err := NewS3(context.Background(), S3Config{}, RetentionPolicy{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket")
}

func TestS3KeyLayout(t *testing.T) {
	s := &s3Store{cfg: S3Config{Bucket: "b", Prefix: "stately/"}}

	assert.Equal(t, "stately/envs/prod.json", s.currentKey("envs/prod"))
	assert.Equal(t, "stately/envs/prod/versions/", s.versionPrefix("envs/prod"))
	assert.Equal(t, "stately/envs/prod/versions/00000000000000000042.json", s.versionObjectKey("envs/prod", 42))

	bare := &s3Store{cfg: S3Config{Bucket: "b"}}
	assert.Equal(t, "envs/prod.json", bare.currentKey("envs/prod"))
}

func TestVersionFromObjectKey(t *testing.T) {
	prefix := "stately/envs/prod/versions/"

	v, err := versionFromObjectKey(prefix+"00000000000000000042.json", prefix)
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)

	_, err = versionFromObjectKey(prefix+"garbage.txt", prefix)
	assert.Error(t, err)
}

func TestClassifyAWSError(t *testing.T) {
	transient := []string{
		"InternalError", "ServiceUnavailable", "SlowDown", "RequestTimeout",
		"ThrottlingException", "ProvisionedThroughputExceededException", "RequestLimitExceeded",
	}
	for _, code := range transient {
		t.Run(code, func(t *testing.T) {
			err := classifyAWSError(fmt.Errorf("request failed: %w", &smithy.GenericAPIError{Code: code}))
			assert.ErrorIs(t, err, ErrStorageUnavailable)
		})
	}

	// Permanent faults pass through unchanged.
	denied := fmt.Errorf("request failed: %w", &smithy.GenericAPIError{Code: "AccessDenied"})
	assert.False(t, errors.Is(classifyAWSError(denied), ErrStorageUnavailable))

	plain := errors.New("not an API error")
	assert.Equal(t, plain, classifyAWSError(plain))
}
