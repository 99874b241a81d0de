package dedup

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/potooio/potoo-mailer/internal/types"
)

// DynamoDBAPI is the subset of the DynamoDB client used here.
type DynamoDBAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// DynamoStore keeps records in a DynamoDB table keyed by
// (job_run_id, dedup_id) with an expire_at TTL attribute.
type DynamoStore struct {
	client DynamoDBAPI
	table  string
}

// NewDynamoStore creates a DynamoStore for table.
func NewDynamoStore(client DynamoDBAPI, table string) *DynamoStore {
	return &DynamoStore{client: client, table: table}
}

// CheckAndWrite implements Store with a conditional PutItem. DynamoDB TTL
// deletion is lazy, so expired items are overwritten explicitly.
func (d *DynamoStore) CheckAndWrite(ctx context.Context, rec types.DedupRecord, now time.Time) (bool, error) {
	_, err := d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.table),
		Item: map[string]ddbtypes.AttributeValue{
			"job_run_id": &ddbtypes.AttributeValueMemberS{Value: rec.PartitionKey},
			"dedup_id":   &ddbtypes.AttributeValueMemberS{Value: rec.DedupID},
			"expire_at":  &ddbtypes.AttributeValueMemberN{Value: strconv.FormatInt(rec.ExpireAt, 10)},
		},
		ConditionExpression: aws.String("attribute_not_exists(dedup_id) OR expire_at < :now"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":now": &ddbtypes.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)},
		},
	})
	if err == nil {
		return false, nil
	}
	var cond *ddbtypes.ConditionalCheckFailedException
	if errors.As(err, &cond) {
		return true, nil
	}
	return false, fmt.Errorf("dynamodb put %s: %w", d.table, err)
}
