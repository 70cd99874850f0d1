package s3

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// ErrConcurrentCommit is returned when another writer committed the same
// checkpoint version first.
var ErrConcurrentCommit = errors.New("concurrent checkpoint commit")

// DDBClient is the subset of the DynamoDB API the checkpoint store uses.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// CheckpointStore records which archive blob is the latest for a store
// directory. S3 has no compare-and-swap, so the pointer lives in DynamoDB:
// each commit writes a new monotonically increasing version row with a
// conditional put, which makes concurrent writers fail cleanly instead of
// clobbering each other.
//
// Table schema: partition key base_uri (S), sort key version (N).
type CheckpointStore struct {
	client    DDBClient
	tableName string
	baseURI   string
}

// NewCheckpointStore creates a checkpoint store over the given table.
// baseURI identifies the archive location, e.g. "s3://bucket/prefix".
func NewCheckpointStore(client DDBClient, tableName, baseURI string) *CheckpointStore {
	return &CheckpointStore{
		client:    client,
		tableName: tableName,
		baseURI:   baseURI,
	}
}

// Latest returns the highest committed version and its archive blob name.
// Version 0 with an empty name means no checkpoint has been committed.
func (s *CheckpointStore) Latest(ctx context.Context) (uint64, string, error) {
	resp, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("base_uri = :uri"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uri": &types.AttributeValueMemberS{Value: s.baseURI},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return 0, "", fmt.Errorf("failed to query checkpoint table: %w", err)
	}

	if len(resp.Items) == 0 {
		return 0, "", nil
	}

	item := resp.Items[0]
	versionAttr, ok := item["version"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, "", errors.New("invalid version attribute in checkpoint table")
	}
	blobAttr, ok := item["blob_name"].(*types.AttributeValueMemberS)
	if !ok {
		return 0, "", errors.New("invalid blob_name attribute in checkpoint table")
	}

	version, err := strconv.ParseUint(versionAttr.Value, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("failed to parse checkpoint version: %w", err)
	}
	return version, blobAttr.Value, nil
}

// Commit records blobName as the next checkpoint. The conditional put fails
// with ErrConcurrentCommit if another writer took the version first.
func (s *CheckpointStore) Commit(ctx context.Context, blobName string) (uint64, error) {
	current, _, err := s.Latest(ctx)
	if err != nil {
		return 0, err
	}
	next := current + 1

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			"base_uri":  &types.AttributeValueMemberS{Value: s.baseURI},
			"version":   &types.AttributeValueMemberN{Value: strconv.FormatUint(next, 10)},
			"blob_name": &types.AttributeValueMemberS{Value: blobName},
		},
		ConditionExpression: aws.String("attribute_not_exists(version)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return 0, ErrConcurrentCommit
		}
		return 0, fmt.Errorf("failed to commit checkpoint: %w", err)
	}
	return next, nil
}
