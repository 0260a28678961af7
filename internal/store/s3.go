package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/stately-io/stately/internal/ir"
	"github.com/stately-io/stately/internal/logging"
)

// S3Config holds configuration for the S3 state store.
type S3Config struct {
	Bucket       string `json:"bucket"`
	Prefix       string `json:"prefix"`
	Region       string `json:"region"`
	Profile      string `json:"profile"`
	VersionTable string `json:"version_table"` // DynamoDB table for the version compare-and-set
	Encrypt      bool   `json:"encrypt"`       // server-side AES256 on top of client-side encryption
}

// s3Store implements Store on AWS S3. The current pointer and every retained
// version are objects; the optimistic-concurrency check is a conditional
// update of a version item in DynamoDB. Without a version table the check
// degrades to read-compare-write, which cannot exclude a racing writer.
type s3Store struct {
	cfg       S3Config
	retention RetentionPolicy
	s3Client  *s3.Client
	dbClient  *dynamodb.Client
}

// NewS3 builds the AWS clients from the default credential chain and returns
// an S3-backed Store.
func NewS3(ctx context.Context, cfg S3Config, retention RetentionPolicy) (Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 store requires 'bucket' configuration")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(cfg.Region))
	if cfg.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS config: %w", err)
	}

	s := &s3Store{
		cfg:       cfg,
		retention: retention,
		s3Client:  s3.NewFromConfig(awsCfg),
	}
	if cfg.VersionTable != "" {
		s.dbClient = dynamodb.NewFromConfig(awsCfg)
	}
	return s, nil
}

func (s *s3Store) Read(ctx context.Context, path string) (*ir.StateDocument, int64, error) {
	data, err := s.getObject(ctx, s.currentKey(path))
	if err != nil {
		return nil, 0, err
	}
	doc, err := decryptDocument(data)
	if err != nil {
		return nil, 0, err
	}
	return doc, doc.Version, nil
}

func (s *s3Store) Write(ctx context.Context, path string, doc *ir.StateDocument, expectedVersion int64) (int64, error) {
	newVersion := expectedVersion + 1

	if s.dbClient != nil {
		if err := s.reserveVersion(ctx, path, expectedVersion, newVersion); err != nil {
			return 0, err
		}
	} else {
		// Best-effort check only: nothing prevents a concurrent writer between
		// this read and the put below.
		storedVersion, err := s.currentVersion(ctx, path)
		if err != nil {
			return 0, err
		}
		if storedVersion != expectedVersion {
			return 0, fmt.Errorf("%w: path %s at version %d, expected %d", ErrConflict, path, storedVersion, expectedVersion)
		}
	}

	doc.Version = newVersion
	data, err := encodeDocument(doc)
	if err != nil {
		return 0, err
	}
	sealed, err := EncryptState(data)
	if err != nil {
		return 0, fmt.Errorf("failed to encrypt state: %w", err)
	}

	if err := s.putObject(ctx, s.versionObjectKey(path, newVersion), sealed); err != nil {
		return 0, err
	}
	if err := s.putObject(ctx, s.currentKey(path), sealed); err != nil {
		return 0, err
	}

	if err := s.prune(ctx, path, newVersion); err != nil {
		logging.Warn("failed to prune state versions", "path", path, "error", err)
	}

	return newVersion, nil
}

func (s *s3Store) ListVersions(ctx context.Context, path string) ([]ir.VersionInfo, error) {
	prefix := s.versionPrefix(path)

	var infos []ir.VersionInfo
	var token *string
	for {
		out, err := s.s3Client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.cfg.Bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, classifyAWSError(fmt.Errorf("failed to list state versions for %s: %w", path, err))
		}
		for _, obj := range out.Contents {
			version, err := versionFromObjectKey(aws.ToString(obj.Key), prefix)
			if err != nil {
				continue
			}
			info := ir.VersionInfo{Version: version}
			if obj.LastModified != nil {
				info.Timestamp = obj.LastModified.UTC()
			}
			infos = append(infos, info)
		}
		if out.NextContinuationToken == nil {
			break
		}
		token = out.NextContinuationToken
	}

	if len(infos) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Version < infos[j].Version })
	return infos, nil
}

func (s *s3Store) ReadVersion(ctx context.Context, path string, version int64) (*ir.StateDocument, error) {
	data, err := s.getObject(ctx, s.versionObjectKey(path, version))
	if err != nil {
		return nil, err
	}
	return decryptDocument(data)
}

// reserveVersion advances the version item for path from expected to next with
// a conditional update; a failed condition means another writer got there
// first.
func (s *s3Store) reserveVersion(ctx context.Context, path string, expected, next int64) error {
	input := &dynamodb.UpdateItemInput{
		TableName: aws.String(s.cfg.VersionTable),
		Key: map[string]dbtypes.AttributeValue{
			"StateID": &dbtypes.AttributeValueMemberS{Value: path},
		},
		UpdateExpression: aws.String("SET Version = :next"),
		ExpressionAttributeValues: map[string]dbtypes.AttributeValue{
			":next":     &dbtypes.AttributeValueMemberN{Value: strconv.FormatInt(next, 10)},
			":expected": &dbtypes.AttributeValueMemberN{Value: strconv.FormatInt(expected, 10)},
		},
	}
	if expected == 0 {
		input.ConditionExpression = aws.String("attribute_not_exists(StateID) OR Version = :expected")
	} else {
		input.ConditionExpression = aws.String("Version = :expected")
	}

	if _, err := s.dbClient.UpdateItem(ctx, input); err != nil {
		var ccf *dbtypes.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("%w: path %s expected version %d", ErrConflict, path, expected)
		}
		return classifyAWSError(fmt.Errorf("failed to reserve state version for %s: %w", path, err))
	}
	return nil
}

func (s *s3Store) currentVersion(ctx context.Context, path string) (int64, error) {
	_, version, err := s.Read(ctx, path)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return version, nil
}

func (s *s3Store) prune(ctx context.Context, path string, newVersion int64) error {
	if s.retention.KeepLast <= 0 {
		return nil
	}
	infos, err := s.ListVersions(ctx, path)
	if err != nil {
		return err
	}
	for len(infos) > s.retention.KeepLast {
		key := s.versionObjectKey(path, infos[0].Version)
		if _, err := s.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.cfg.Bucket),
			Key:    aws.String(key),
		}); err != nil {
			return classifyAWSError(err)
		}
		infos = infos[1:]
	}
	return nil
}

func (s *s3Store) getObject(ctx context.Context, key string) ([]byte, error) {
	out, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%w: s3://%s/%s", ErrNotFound, s.cfg.Bucket, key)
		}
		// Some S3-compatible services report missing keys differently.
		if strings.Contains(err.Error(), "NoSuchKey") || strings.Contains(err.Error(), "404") {
			return nil, fmt.Errorf("%w: s3://%s/%s", ErrNotFound, s.cfg.Bucket, key)
		}
		return nil, classifyAWSError(fmt.Errorf("failed to read s3://%s/%s: %w", s.cfg.Bucket, key, err))
	}
	defer out.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(out.Body); err != nil {
		return nil, fmt.Errorf("failed to read S3 object body: %w", err)
	}
	return buf.Bytes(), nil
}

func (s *s3Store) putObject(ctx context.Context, key string, data []byte) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	}
	if s.cfg.Encrypt {
		input.ServerSideEncryption = s3types.ServerSideEncryptionAes256
	}
	if _, err := s.s3Client.PutObject(ctx, input); err != nil {
		return classifyAWSError(fmt.Errorf("failed to write s3://%s/%s: %w", s.cfg.Bucket, key, err))
	}
	return nil
}

func (s *s3Store) currentKey(path string) string {
	return s.join(path + ".json")
}

func (s *s3Store) versionPrefix(path string) string {
	return s.join(path + "/versions/")
}

func (s *s3Store) versionObjectKey(path string, version int64) string {
	return fmt.Sprintf("%s%020d.json", s.versionPrefix(path), version)
}

func (s *s3Store) join(key string) string {
	if s.cfg.Prefix == "" {
		return key
	}
	return strings.TrimSuffix(s.cfg.Prefix, "/") + "/" + key
}

func versionFromObjectKey(key, prefix string) (int64, error) {
	name := strings.TrimPrefix(key, prefix)
	name = strings.TrimSuffix(name, ".json")
	return strconv.ParseInt(strings.TrimLeft(name, "0"), 10, 64)
}

// classifyAWSError maps transient service faults onto ErrStorageUnavailable so
// callers can retry them.
func classifyAWSError(err error) error {
	var ae smithy.APIError
	if errors.As(err, &ae) {
		switch ae.ErrorCode() {
		case "InternalError", "ServiceUnavailable", "SlowDown", "RequestTimeout",
			"ThrottlingException", "ProvisionedThroughputExceededException", "RequestLimitExceeded":
			return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
	}
	return err
}
