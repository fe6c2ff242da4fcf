package taskstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog/log"
)

// DynamoDB key constants. One item per task: PK = TASK#{taskId}, SK = RESULT.
// The table must have TTL enabled on the expiresAt attribute.
const (
	pkPrefix = "TASK#"
	skResult = "RESULT"
)

// DynamoAPI is the subset of *dynamodb.Client used by DynamoStore.
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// dynamoItem is the attribute layout of a task record. Payload is kept as
// a JSON string so the item stays readable in the console.
type dynamoItem struct {
	Code       int    `dynamodbav:"code"`
	Message    string `dynamodbav:"msg"`
	Payload    string `dynamodbav:"data,omitempty"`
	RecordedAt int64  `dynamodbav:"recordedAt"` // unix millis
}

// DynamoStore implements Store using AWS DynamoDB.
//
// DynamoDB deletes expired items lazily (often hours late), so Get compares
// recordedAt against the TTL itself.
type DynamoStore struct {
	client    DynamoAPI
	tableName string
	ttl       time.Duration
	now       func() time.Time
}

// Compile-time interface check.
var _ Store = (*DynamoStore)(nil)

// NewDynamoStore creates a DynamoStore for the given table.
// The client should be initialized from the shared AWS config.
func NewDynamoStore(client DynamoAPI, tableName string, ttl time.Duration) *DynamoStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &DynamoStore{
		client:    client,
		tableName: tableName,
		ttl:       ttl,
		now:       time.Now,
	}
}

func taskKey(taskID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pkPrefix + taskID},
		"SK": &types.AttributeValueMemberS{Value: skResult},
	}
}

func (s *DynamoStore) Put(ctx context.Context, taskID string, rec *Record) error {
	if taskID == "" {
		return ErrEmptyTaskID
	}
	if rec == nil {
		return ErrNilRecord
	}
	now := s.now()
	rec.TaskID = taskID
	rec.RecordedAt = now

	item, err := attributevalue.MarshalMap(dynamoItem{
		Code:       rec.Code,
		Message:    rec.Message,
		Payload:    string(rec.Payload),
		RecordedAt: now.UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("marshal task %s: %w", taskID, err)
	}

	// Add key and TTL attributes (overwrite any conflicting keys from the data).
	for k, v := range taskKey(taskID) {
		item[k] = v
	}
	item["expiresAt"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Add(s.ttl).Unix(), 10)}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &s.tableName,
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("%w: PutItem task %s: %v", ErrStoreUnavailable, taskID, err)
	}

	log.Debug().Str("taskId", taskID).Int("code", rec.Code).Msg("Task result persisted")
	return nil
}

func (s *DynamoStore) Get(ctx context.Context, taskID string) (*Record, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      &s.tableName,
		Key:            taskKey(taskID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: GetItem task %s: %v", ErrStoreUnavailable, taskID, err)
	}
	if result.Item == nil {
		log.Debug().Str("taskId", taskID).Bool("found", false).Msg("GetTask: not found")
		return nil, nil
	}

	var item dynamoItem
	if err := attributevalue.UnmarshalMap(result.Item, &item); err != nil {
		return nil, fmt.Errorf("%w: unmarshal task %s: %v", ErrStoreUnavailable, taskID, err)
	}

	recordedAt := time.UnixMilli(item.RecordedAt)
	if expired(recordedAt, s.ttl, s.now()) {
		log.Debug().Str("taskId", taskID).Time("recordedAt", recordedAt).Msg("GetTask: past TTL, treating as absent")
		return nil, nil
	}

	rec := &Record{
		TaskID:     taskID,
		Code:       item.Code,
		Message:    item.Message,
		RecordedAt: recordedAt,
	}
	if item.Payload != "" {
		rec.Payload = []byte(item.Payload)
	}
	log.Debug().Str("taskId", taskID).Int("code", rec.Code).Bool("found", true).Msg("GetTask: retrieved")
	return rec, nil
}

func (s *DynamoStore) Delete(ctx context.Context, taskID string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: &s.tableName,
		Key:       taskKey(taskID),
	})
	if err != nil {
		return fmt.Errorf("%w: DeleteItem task %s: %v", ErrStoreUnavailable, taskID, err)
	}
	log.Debug().Str("taskId", taskID).Msg("Task result deleted")
	return nil
}
