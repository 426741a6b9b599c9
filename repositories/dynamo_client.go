package repositories

import (
	"context"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog/log"
)

type DynamoDBAPI interface {
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// RunCounts are the totals stored on a finished run.
type RunCounts struct {
	Listings int
	Records  int
	Errors   int
}

type DynamoDBClient struct {
	client    DynamoDBAPI
	tableName string
}

func NewDynamoDBClient(client DynamoDBAPI, tableName string) *DynamoDBClient {
	return &DynamoDBClient{
		client:    client,
		tableName: tableName,
	}
}

func (d *DynamoDBClient) UpdateRunStatus(ctx context.Context, runID string, status string) error {
	if d.tableName == "" {
		log.Warn().Str("run_id", runID).Msg("dynamodb.table.not_configured")
		return nil
	}

	_, err := d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]types.AttributeValue{
			"run_id": &types.AttributeValueMemberS{Value: runID},
		},
		UpdateExpression: aws.String("SET #s = :status"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status": &types.AttributeValueMemberS{Value: status},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to update run status in DynamoDB for run %s: %w", runID, err)
	}

	log.Debug().Str("run_id", runID).Str("status", status).Str("table", d.tableName).Msg("dynamodb.run.status_updated")
	return nil
}

// CompleteRun records the final status together with the run totals.
func (d *DynamoDBClient) CompleteRun(ctx context.Context, runID string, status string, counts RunCounts, completedAt string) error {
	if d.tableName == "" {
		return nil
	}

	_, err := d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]types.AttributeValue{
			"run_id": &types.AttributeValueMemberS{Value: runID},
		},
		UpdateExpression: aws.String("SET #s = :status, completed_at = :cat, listings_count = :l, records_count = :r, errors_count = :e"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status": &types.AttributeValueMemberS{Value: status},
			":cat":    &types.AttributeValueMemberS{Value: completedAt},
			":l":      &types.AttributeValueMemberN{Value: strconv.Itoa(counts.Listings)},
			":r":      &types.AttributeValueMemberN{Value: strconv.Itoa(counts.Records)},
			":e":      &types.AttributeValueMemberN{Value: strconv.Itoa(counts.Errors)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to complete run in DynamoDB for run %s: %w", runID, err)
	}

	log.Info().Str("run_id", runID).Str("status", status).Int("records", counts.Records).Msg("dynamodb.run.completed")
	return nil
}
