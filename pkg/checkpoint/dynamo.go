package checkpoint

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Table attribute names. The table uses user_id as partition key and
// session_id as sort key; one item per session.
const (
	attrUserID         = "user_id"
	attrSessionID      = "session_id"
	attrCheckpoint     = "checkpoint"
	attrCheckpointType = "checkpoint_type"
	attrMetadata       = "metadata"
)

// DynamoAPI is the subset of the DynamoDB client used by DynamoStore.
// Tests substitute a fake.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DynamoConfig holds DynamoDB connection configuration.
type DynamoConfig struct {
	// Table is the DynamoDB table name.
	Table string
	// Region is the AWS region.
	Region string
	// Endpoint overrides the service endpoint, for local DynamoDB.
	Endpoint string
	// AccessKeyID / SecretAccessKey supply static credentials; for local
	// DynamoDB any dummy value works. Empty uses the default chain.
	AccessKeyID     string
	SecretAccessKey string
}

// DynamoStore implements Store on a DynamoDB table.
type DynamoStore struct {
	client DynamoAPI
	table  string
	codec  Codec
}

// NewDynamoStore creates a DynamoDB checkpoint store.
func NewDynamoStore(ctx context.Context, cfg DynamoConfig) (*DynamoStore, error) {
	if cfg.Table == "" {
		return nil, errors.New("dynamodb table name is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return NewDynamoStoreFromClient(client, cfg.Table), nil
}

// NewDynamoStoreFromClient creates a store from an existing client.
func NewDynamoStoreFromClient(client DynamoAPI, table string) *DynamoStore {
	return &DynamoStore{client: client, table: table, codec: JSONCodec{}}
}

func (s *DynamoStore) itemKey(key SessionKey) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrUserID:    &types.AttributeValueMemberS{Value: key.UserID},
		attrSessionID: &types.AttributeValueMemberS{Value: key.SessionID},
	}
}

// Get returns the record for key, or (nil, nil) when absent.
func (s *DynamoStore) Get(ctx context.Context, key SessionKey) (*Record, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key:       s.itemKey(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get checkpoint: %w", errors.Join(ErrUnavailable, err))
	}

	if out.Item == nil {
		return nil, nil
	}
	blob, ok := out.Item[attrCheckpoint].(*types.AttributeValueMemberB)
	if !ok {
		// item without a checkpoint attribute is treated as absent
		return nil, nil
	}

	typeTag := ""
	if tag, ok := out.Item[attrCheckpointType].(*types.AttributeValueMemberS); ok {
		typeTag = tag.Value
	}

	state, err := s.codec.Decode(typeTag, blob.Value)
	if err != nil {
		return nil, err
	}

	var metadata map[string]any
	if m, ok := out.Item[attrMetadata].(*types.AttributeValueMemberM); ok {
		metadata = attrMapToGo(m.Value)
	}

	return &Record{Key: key, State: state, Type: typeTag, Metadata: metadata}, nil
}

// Put overwrites the item for key with a single PutItem.
func (s *DynamoStore) Put(ctx context.Context, key SessionKey, payload any, metadata map[string]any) error {
	typeTag, data, err := s.codec.Encode(payload)
	if err != nil {
		return fmt.Errorf("put checkpoint: %w", errors.Join(ErrWriteFailed, err))
	}

	item := map[string]types.AttributeValue{
		attrUserID:         &types.AttributeValueMemberS{Value: key.UserID},
		attrSessionID:      &types.AttributeValueMemberS{Value: key.SessionID},
		attrCheckpoint:     &types.AttributeValueMemberB{Value: data},
		attrCheckpointType: &types.AttributeValueMemberS{Value: typeTag},
	}

	if metadata != nil {
		metaAV, err := attributevalue.MarshalMap(metadata)
		if err != nil {
			return fmt.Errorf("put checkpoint metadata: %w", errors.Join(ErrWriteFailed, err))
		}
		item[attrMetadata] = &types.AttributeValueMemberM{Value: metaAV}
	}

	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("put checkpoint: %w", errors.Join(ErrWriteFailed, err))
	}
	return nil
}

// PutWrites is a no-op; the full checkpoint is the durability boundary.
func (s *DynamoStore) PutWrites(ctx context.Context, key SessionKey, writes []PendingWrite, taskID string) error {
	return nil
}

// Delete removes the item for key. DynamoDB deletes are idempotent.
func (s *DynamoStore) Delete(ctx context.Context, key SessionKey) error {
	if _, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key:       s.itemKey(key),
	}); err != nil {
		return fmt.Errorf("delete checkpoint: %w", errors.Join(ErrUnavailable, err))
	}
	return nil
}

// Close is a no-op; the SDK client holds no connection state to release.
func (s *DynamoStore) Close() error { return nil }

// attrMapToGo converts a DynamoDB attribute map to plain Go values.
func attrMapToGo(attrs map[string]types.AttributeValue) map[string]any {
	out := make(map[string]any, len(attrs))
	for k, av := range attrs {
		out[k] = attrToGo(av)
	}
	return out
}

// attrToGo converts one attribute value. DynamoDB numbers are arbitrary
// precision strings; integral values come back as int64, fractional ones
// as float64, recursively through maps and lists.
func attrToGo(av types.AttributeValue) any {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return v.Value
	case *types.AttributeValueMemberN:
		return normalizeNumber(v.Value)
	case *types.AttributeValueMemberBOOL:
		return v.Value
	case *types.AttributeValueMemberNULL:
		return nil
	case *types.AttributeValueMemberB:
		return v.Value
	case *types.AttributeValueMemberM:
		return attrMapToGo(v.Value)
	case *types.AttributeValueMemberL:
		out := make([]any, len(v.Value))
		for i, item := range v.Value {
			out[i] = attrToGo(item)
		}
		return out
	case *types.AttributeValueMemberSS:
		out := make([]any, len(v.Value))
		for i, s := range v.Value {
			out[i] = s
		}
		return out
	case *types.AttributeValueMemberNS:
		out := make([]any, len(v.Value))
		for i, n := range v.Value {
			out[i] = normalizeNumber(n)
		}
		return out
	default:
		return nil
	}
}
