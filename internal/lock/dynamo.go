package lock

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/stately-io/stately/internal/ir"
	"github.com/stately-io/stately/internal/logging"
)

// DynamoConfig holds configuration for the DynamoDB lock manager.
type DynamoConfig struct {
	Table   string `json:"table"`
	Region  string `json:"region"`
	Profile string `json:"profile"`
}

// dynamoManager implements Manager on a DynamoDB table keyed by LockID. One
// item per path carries the holder, the expiry and the fencing counter; the
// item is never deleted, only its holder attributes are removed, so the
// counter stays monotonic across releases and forced unlocks.
type dynamoManager struct {
	table  string
	client *dynamodb.Client
	now    func() time.Time
}

// NewDynamo builds a DynamoDB client from the default credential chain and
// returns a lock manager on cfg.Table.
func NewDynamo(ctx context.Context, cfg DynamoConfig) (Manager, error) {
	if cfg.Table == "" {
		return nil, fmt.Errorf("dynamodb lock manager requires 'table' configuration")
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

	return &dynamoManager{
		table:  cfg.Table,
		client: dynamodb.NewFromConfig(awsCfg),
		now:    time.Now,
	}, nil
}

func (m *dynamoManager) Acquire(ctx context.Context, path, holder string, ttl time.Duration) (*ir.LockEntry, error) {
	now := m.now()
	out, err := m.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(m.table),
		Key:                 lockKey(path),
		UpdateExpression:    aws.String("SET Holder = :holder, AcquiredAt = :acq, ExpiresAt = :exp ADD Fencing :one"),
		ConditionExpression: aws.String("attribute_not_exists(Holder) OR ExpiresAt < :now OR Holder = :holder"),
		ExpressionAttributeValues: map[string]dbtypes.AttributeValue{
			":holder": &dbtypes.AttributeValueMemberS{Value: holder},
			":acq":    &dbtypes.AttributeValueMemberN{Value: strconv.FormatInt(now.UnixNano(), 10)},
			":exp":    &dbtypes.AttributeValueMemberN{Value: strconv.FormatInt(now.Add(ttl).UnixNano(), 10)},
			":now":    &dbtypes.AttributeValueMemberN{Value: strconv.FormatInt(now.UnixNano(), 10)},
			":one":    &dbtypes.AttributeValueMemberN{Value: "1"},
		},
		ReturnValues: dbtypes.ReturnValueAllNew,
	})
	if err != nil {
		var ccf *dbtypes.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			if cur, infoErr := m.Inspect(ctx, path); infoErr == nil && cur != nil {
				return nil, lockedErr(path, cur)
			}
			return nil, fmt.Errorf("%w: path %s", ErrLocked, path)
		}
		return nil, fmt.Errorf("failed to acquire lock for %s: %w", path, err)
	}

	return entryFromItem(path, out.Attributes)
}

func (m *dynamoManager) Release(ctx context.Context, path, holder string, token uint64) error {
	_, err := m.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(m.table),
		Key:                 lockKey(path),
		UpdateExpression:    aws.String("REMOVE Holder, AcquiredAt, ExpiresAt"),
		ConditionExpression: aws.String("Holder = :holder AND Fencing = :token"),
		ExpressionAttributeValues: map[string]dbtypes.AttributeValue{
			":holder": &dbtypes.AttributeValueMemberS{Value: holder},
			":token":  &dbtypes.AttributeValueMemberN{Value: strconv.FormatUint(token, 10)},
		},
	})
	if err != nil {
		var ccf *dbtypes.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("%w: path %s", ErrNotHolder, path)
		}
		return fmt.Errorf("failed to release lock for %s: %w", path, err)
	}
	return nil
}

func (m *dynamoManager) Renew(ctx context.Context, path, holder string, token uint64, ttl time.Duration) (*ir.LockEntry, error) {
	now := m.now()
	out, err := m.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(m.table),
		Key:                 lockKey(path),
		UpdateExpression:    aws.String("SET AcquiredAt = :acq, ExpiresAt = :exp ADD Fencing :one"),
		ConditionExpression: aws.String("Holder = :holder AND Fencing = :token AND ExpiresAt >= :now"),
		ExpressionAttributeValues: map[string]dbtypes.AttributeValue{
			":holder": &dbtypes.AttributeValueMemberS{Value: holder},
			":token":  &dbtypes.AttributeValueMemberN{Value: strconv.FormatUint(token, 10)},
			":acq":    &dbtypes.AttributeValueMemberN{Value: strconv.FormatInt(now.UnixNano(), 10)},
			":exp":    &dbtypes.AttributeValueMemberN{Value: strconv.FormatInt(now.Add(ttl).UnixNano(), 10)},
			":now":    &dbtypes.AttributeValueMemberN{Value: strconv.FormatInt(now.UnixNano(), 10)},
			":one":    &dbtypes.AttributeValueMemberN{Value: "1"},
		},
		ReturnValues: dbtypes.ReturnValueAllNew,
	})
	if err != nil {
		var ccf *dbtypes.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil, fmt.Errorf("%w: path %s", ErrExpired, path)
		}
		return nil, fmt.Errorf("failed to renew lock for %s: %w", path, err)
	}

	return entryFromItem(path, out.Attributes)
}

func (m *dynamoManager) Inspect(ctx context.Context, path string) (*ir.LockEntry, error) {
	out, err := m.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(m.table),
		Key:            lockKey(path),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read lock for %s: %w", path, err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	if _, held := out.Item["Holder"]; !held {
		return nil, nil
	}

	entry, err := entryFromItem(path, out.Item)
	if err != nil {
		return nil, err
	}
	if entry.Expired(m.now()) {
		return nil, nil
	}
	return entry, nil
}

func (m *dynamoManager) ForceUnlock(ctx context.Context, path string) error {
	logging.Warn("force-unlocking state path", "path", path, "table", m.table)
	_, err := m.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(m.table),
		Key:                 lockKey(path),
		UpdateExpression:    aws.String("REMOVE Holder, AcquiredAt, ExpiresAt"),
		ConditionExpression: aws.String("attribute_exists(LockID)"),
	})
	if err != nil {
		var ccf *dbtypes.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil // nothing to unlock
		}
		return fmt.Errorf("failed to force-unlock %s: %w", path, err)
	}
	return nil
}

func (m *dynamoManager) SweepExpired(ctx context.Context) (int, error) {
	now := m.now()
	reaped := 0

	var start map[string]dbtypes.AttributeValue
	for {
		out, err := m.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:        aws.String(m.table),
			FilterExpression: aws.String("attribute_exists(Holder) AND ExpiresAt < :now"),
			ExpressionAttributeValues: map[string]dbtypes.AttributeValue{
				":now": &dbtypes.AttributeValueMemberN{Value: strconv.FormatInt(now.UnixNano(), 10)},
			},
			ExclusiveStartKey: start,
		})
		if err != nil {
			return reaped, fmt.Errorf("failed to scan lock table: %w", err)
		}

		for _, item := range out.Items {
			path := stringAttr(item, "LockID")
			// Condition on the fencing token so a lock refreshed since the
			// scan is left alone.
			_, err := m.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
				TableName:           aws.String(m.table),
				Key:                 lockKey(path),
				UpdateExpression:    aws.String("REMOVE Holder, AcquiredAt, ExpiresAt"),
				ConditionExpression: aws.String("Fencing = :token AND ExpiresAt < :now"),
				ExpressionAttributeValues: map[string]dbtypes.AttributeValue{
					":token": &dbtypes.AttributeValueMemberN{Value: numberAttr(item, "Fencing")},
					":now":   &dbtypes.AttributeValueMemberN{Value: strconv.FormatInt(now.UnixNano(), 10)},
				},
			})
			if err != nil {
				var ccf *dbtypes.ConditionalCheckFailedException
				if errors.As(err, &ccf) {
					continue
				}
				return reaped, fmt.Errorf("failed to reap expired lock for %s: %w", path, err)
			}
			reaped++
		}

		if out.LastEvaluatedKey == nil {
			break
		}
		start = out.LastEvaluatedKey
	}

	return reaped, nil
}

func lockKey(path string) map[string]dbtypes.AttributeValue {
	return map[string]dbtypes.AttributeValue{
		"LockID": &dbtypes.AttributeValueMemberS{Value: path},
	}
}

func entryFromItem(path string, item map[string]dbtypes.AttributeValue) (*ir.LockEntry, error) {
	token, err := strconv.ParseUint(numberAttr(item, "Fencing"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid fencing token in lock item for %s: %w", path, err)
	}
	acquired, err := strconv.ParseInt(numberAttr(item, "AcquiredAt"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid AcquiredAt in lock item for %s: %w", path, err)
	}
	expires, err := strconv.ParseInt(numberAttr(item, "ExpiresAt"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid ExpiresAt in lock item for %s: %w", path, err)
	}

	return &ir.LockEntry{
		Path:         path,
		Holder:       stringAttr(item, "Holder"),
		FencingToken: token,
		AcquiredAt:   time.Unix(0, acquired).UTC(),
		ExpiresAt:    time.Unix(0, expires).UTC(),
	}, nil
}

func stringAttr(item map[string]dbtypes.AttributeValue, name string) string {
	if v, ok := item[name].(*dbtypes.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func numberAttr(item map[string]dbtypes.AttributeValue, name string) string {
	if v, ok := item[name].(*dbtypes.AttributeValueMemberN); ok {
		return v.Value
	}
	return "0"
}
