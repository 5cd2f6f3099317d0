package storage

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/dennisdiepolder/monti/handoff/internal/types"
	"github.com/rs/zerolog"
)

// DynamoDBArchive implements Archive using AWS DynamoDB
type DynamoDBArchive struct {
	client *dynamodb.Client
	config DynamoConfig
	logger zerolog.Logger
}

// NewDynamoDBArchive creates a new DynamoDB-backed archive
func NewDynamoDBArchive(ctx context.Context, cfg DynamoConfig, logger zerolog.Logger) (*DynamoDBArchive, error) {
	var client *dynamodb.Client

	if cfg.Mode == DynamoModeLocal {
		// Static credentials; LoadDefaultConfig would probe IMDS
		client = dynamodb.New(dynamodb.Options{
			Region:       cfg.Region,
			BaseEndpoint: aws.String(cfg.Endpoint),
			Credentials:  credentials.NewStaticCredentialsProvider("local", "local", ""),
		})
	} else {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
		if err != nil {
			return nil, fmt.Errorf("load AWS config: %w", err)
		}
		client = dynamodb.NewFromConfig(awsCfg)
	}

	if cfg.Mode == DynamoModeLocal {
		if err := CreateTablesIfNotExist(ctx, client, cfg, logger); err != nil {
			return nil, err
		}
	}

	logger.Info().
		Str("mode", string(cfg.Mode)).
		Str("region", cfg.Region).
		Msg("DynamoDB archive initialized")

	return &DynamoDBArchive{client: client, config: cfg, logger: logger}, nil
}

// SaveSessionRecord stores the record and bumps the handling agent's daily counters
func (a *DynamoDBArchive) SaveSessionRecord(ctx context.Context, record types.SessionRecord) error {
	item, err := attributevalue.MarshalMap(record)
	if err != nil {
		return fmt.Errorf("marshal session record: %w", err)
	}

	_, err = a.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(a.config.SessionsTable),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("save session record: %w", err)
	}

	if record.AgentID == "" || record.Abandoned {
		return nil
	}
	return a.incrementAgentDaily(ctx, record)
}

func (a *DynamoDBArchive) incrementAgentDaily(ctx context.Context, record types.SessionRecord) error {
	update := expression.
		Add(expression.Name("SessionsHandled"), expression.Value(1)).
		Add(expression.Name("MessagesTotal"), expression.Value(record.MessageCount)).
		Add(expression.Name("HandleTimeTotal"), expression.Value(record.HandleTime))
	expr, err := expression.NewBuilder().WithUpdate(update).Build()
	if err != nil {
		return fmt.Errorf("build update expression: %w", err)
	}

	key, err := attributevalue.MarshalMap(map[string]string{
		"AgentID": record.AgentID,
		"Date":    record.DateKey,
	})
	if err != nil {
		return fmt.Errorf("marshal agent daily key: %w", err)
	}

	_, err = a.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(a.config.AgentDailyTable),
		Key:                       key,
		UpdateExpression:          expr.Update(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		return fmt.Errorf("update agent daily stats: %w", err)
	}
	return nil
}

func (a *DynamoDBArchive) GetSessionRecords(ctx context.Context, dateKey string) ([]types.SessionRecord, error) {
	keyCond := expression.Key("DateKey").Equal(expression.Value(dateKey))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, fmt.Errorf("build expression: %w", err)
	}

	return a.querySessions(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(a.config.SessionsTable),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
}

func (a *DynamoDBArchive) GetAgentSessionsByDate(ctx context.Context, agentID, date string) ([]types.SessionRecord, error) {
	keyCond := expression.Key("DateKey").Equal(expression.Value(date))
	filter := expression.Name("AgentID").Equal(expression.Value(agentID))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).WithFilter(filter).Build()
	if err != nil {
		return nil, fmt.Errorf("build expression: %w", err)
	}

	return a.querySessions(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(a.config.SessionsTable),
		KeyConditionExpression:    expr.KeyCondition(),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
}

// querySessions follows pagination until the partition is exhausted
func (a *DynamoDBArchive) querySessions(ctx context.Context, input *dynamodb.QueryInput) ([]types.SessionRecord, error) {
	var records []types.SessionRecord
	paginator := dynamodb.NewQueryPaginator(a.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("query session records: %w", err)
		}
		var batch []types.SessionRecord
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("unmarshal session records: %w", err)
		}
		records = append(records, batch...)
	}
	return records, nil
}

func (a *DynamoDBArchive) GetAgentDailyStats(ctx context.Context, agentID string) ([]types.AgentDailyStats, error) {
	keyCond := expression.Key("AgentID").Equal(expression.Value(agentID))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, fmt.Errorf("build expression: %w", err)
	}

	result, err := a.client.Query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(a.config.AgentDailyTable),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		return nil, fmt.Errorf("query agent daily stats: %w", err)
	}

	var stats []types.AgentDailyStats
	if err := attributevalue.UnmarshalListOfMaps(result.Items, &stats); err != nil {
		return nil, fmt.Errorf("unmarshal agent daily stats: %w", err)
	}
	return stats, nil
}

// TruncateAll deletes every archived item (scan + batch delete)
func (a *DynamoDBArchive) TruncateAll(ctx context.Context) error {
	for _, table := range archiveTables(a.config) {
		if err := a.truncateTable(ctx, table); err != nil {
			return fmt.Errorf("truncate %s: %w", table.name, err)
		}
	}
	return nil
}

func (a *DynamoDBArchive) truncateTable(ctx context.Context, table tableKeys) error {
	var lastKey map[string]dbtypes.AttributeValue

	for {
		input := &dynamodb.ScanInput{
			TableName:            aws.String(table.name),
			ProjectionExpression: aws.String("#pk, #sk"),
			ExpressionAttributeNames: map[string]string{
				"#pk": table.pk,
				"#sk": table.sk,
			},
			Limit:             aws.Int32(500),
			ExclusiveStartKey: lastKey,
		}

		result, err := a.client.Scan(ctx, input)
		if err != nil {
			return err
		}

		// BatchWriteItem takes at most 25 requests
		for i := 0; i < len(result.Items); i += 25 {
			end := min(i+25, len(result.Items))

			requests := make([]dbtypes.WriteRequest, 0, end-i)
			for _, item := range result.Items[i:end] {
				requests = append(requests, dbtypes.WriteRequest{
					DeleteRequest: &dbtypes.DeleteRequest{
						Key: map[string]dbtypes.AttributeValue{
							table.pk: item[table.pk],
							table.sk: item[table.sk],
						},
					},
				})
			}

			_, err := a.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
				RequestItems: map[string][]dbtypes.WriteRequest{table.name: requests},
			})
			if err != nil {
				return err
			}
		}

		lastKey = result.LastEvaluatedKey
		if lastKey == nil {
			break
		}
	}

	a.logger.Info().Str("table", table.name).Msg("table truncated")
	return nil
}
