package ingest

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoConfig selects the DynamoDB tables and region.
type DynamoConfig struct {
	SessionsTable   string
	BiomarkersTable string
	Region          string
	// Endpoint overrides the service URL, e.g. for DynamoDB Local.
	Endpoint string
}

type putItemAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// DynamoBackend writes ingest records to DynamoDB. Table TTL must be
// enabled on the "ttl" attribute for records to expire.
type DynamoBackend struct {
	api             putItemAPI
	sessionsTable   string
	biomarkersTable string
}

// NewDynamoBackend builds a client from the default AWS credential chain.
func NewDynamoBackend(ctx context.Context, cfg DynamoConfig) (*DynamoBackend, error) {
	if cfg.SessionsTable == "" || cfg.BiomarkersTable == "" {
		return nil, errors.New("ingest: dynamodb table names are required")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return newDynamoBackend(client, cfg), nil
}

func newDynamoBackend(api putItemAPI, cfg DynamoConfig) *DynamoBackend {
	return &DynamoBackend{
		api:             api,
		sessionsTable:   cfg.SessionsTable,
		biomarkersTable: cfg.BiomarkersTable,
	}
}

// PutSessionIfAbsent implements Backend with a conditional put.
func (b *DynamoBackend) PutSessionIfAbsent(ctx context.Context, rec SessionRecord) (bool, error) {
	_, err := b.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(b.sessionsTable),
		Item:                sessionItem(rec),
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return false, nil
		}
		return false, fmt.Errorf("writing session: %w", err)
	}
	return true, nil
}

// PutAggregate implements Backend with an unconditional put.
func (b *DynamoBackend) PutAggregate(ctx context.Context, rec AggregateRecord) error {
	_, err := b.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(b.biomarkersTable),
		Item:      aggregateItem(rec),
	})
	if err != nil {
		return fmt.Errorf("writing aggregate: %w", err)
	}
	return nil
}

func sessionItem(rec SessionRecord) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"id":          str(rec.ID),
		"userId":      str(rec.UserID),
		"ageMonths":   num(int64(rec.AgeMonths)),
		"language":    str(rec.Language),
		"gender":      str(rec.Gender),
		"createdAt":   num(rec.CreatedAt),
		"completedAt": optNum(rec.CompletedAt),
		"status":      str(string(rec.Status)),
		"synced":      &types.AttributeValueMemberBOOL{Value: rec.Synced},
		"ttl":         num(rec.TTL),
	}
}

func aggregateItem(rec AggregateRecord) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"sessionId":            str(rec.SessionID),
		"avgGazeScore":         float(rec.AvgGazeScore),
		"avgMotorScore":        float(rec.AvgMotorScore),
		"avgVocalizationScore": float(rec.AvgVocalizationScore),
		"avgResponseLatencyMs": optNum(rec.AvgResponseLatencyMs),
		"sampleCount":          num(int64(rec.SampleCount)),
		"overallScore":         num(int64(rec.OverallScore)),
		"flags": &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{
			"socialCommunication": &types.AttributeValueMemberBOOL{Value: rec.Flags.SocialCommunication},
			"restrictedBehavior":  &types.AttributeValueMemberBOOL{Value: rec.Flags.RestrictedBehavior},
		}},
		"userId":    str(rec.UserID),
		"createdAt": num(rec.CreatedAt),
		"ttl":       num(rec.TTL),
	}
}

func str(v string) types.AttributeValue {
	return &types.AttributeValueMemberS{Value: v}
}

func num(v int64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(v, 10)}
}

func float(v float64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatFloat(v, 'f', -1, 64)}
}

func optNum(p *int64) types.AttributeValue {
	if p == nil {
		return &types.AttributeValueMemberNULL{Value: true}
	}
	return num(*p)
}
