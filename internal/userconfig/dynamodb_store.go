package userconfig

import (
	"context"
	"encoding/json"
	"fmt"

	"agentgw/internal/validator"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoDBStore is the durable Store backing (spec §6): primary key user_id,
// sort key server_id, single attribute "spec" holding the JSON-encoded
// validator.ServerSpec. Grounded on the same aws-sdk-go-v2 bootstrap pattern
// as AWSSecretStore.
type DynamoDBStore struct {
	client *dynamodb.Client
	table  string
}

// NewDynamoDBStore loads the default AWS config chain and constructs a
// DynamoDB client scoped to table.
func NewDynamoDBStore(ctx context.Context, region, table string) (*DynamoDBStore, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("userconfig: load AWS config: %w", err)
	}
	return &DynamoDBStore{client: dynamodb.NewFromConfig(cfg), table: table}, nil
}

func (s *DynamoDBStore) Put(ctx context.Context, userID string, spec validator.ServerSpec) error {
	encoded, err := json.Marshal(spec)
	if err != nil {
		return fmt.Errorf("userconfig: marshal spec: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item: map[string]types.AttributeValue{
			"user_id":   &types.AttributeValueMemberS{Value: userID},
			"server_id": &types.AttributeValueMemberS{Value: spec.ServerID},
			"spec":      &types.AttributeValueMemberS{Value: string(encoded)},
		},
	})
	if err != nil {
		return fmt.Errorf("userconfig: put %s/%s: %w", userID, spec.ServerID, err)
	}
	return nil
}

func (s *DynamoDBStore) Delete(ctx context.Context, userID, serverID string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"user_id":   &types.AttributeValueMemberS{Value: userID},
			"server_id": &types.AttributeValueMemberS{Value: serverID},
		},
	})
	if err != nil {
		return fmt.Errorf("userconfig: delete %s/%s: %w", userID, serverID, err)
	}
	return nil
}

func (s *DynamoDBStore) List(ctx context.Context, userID string) ([]validator.ServerSpec, error) {
	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		KeyConditionExpression: aws.String("user_id = :uid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uid": &types.AttributeValueMemberS{Value: userID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("userconfig: list %s: %w", userID, err)
	}

	specs := make([]validator.ServerSpec, 0, len(out.Items))
	for _, item := range out.Items {
		spec, err := decodeSpecItem(item)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func (s *DynamoDBStore) Get(ctx context.Context, userID, serverID string) (validator.ServerSpec, bool, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"user_id":   &types.AttributeValueMemberS{Value: userID},
			"server_id": &types.AttributeValueMemberS{Value: serverID},
		},
	})
	if err != nil {
		return validator.ServerSpec{}, false, fmt.Errorf("userconfig: get %s/%s: %w", userID, serverID, err)
	}
	if out.Item == nil {
		return validator.ServerSpec{}, false, nil
	}
	spec, err := decodeSpecItem(out.Item)
	if err != nil {
		return validator.ServerSpec{}, false, err
	}
	return spec, true, nil
}

func decodeSpecItem(item map[string]types.AttributeValue) (validator.ServerSpec, error) {
	attr, ok := item["spec"].(*types.AttributeValueMemberS)
	if !ok {
		return validator.ServerSpec{}, fmt.Errorf("userconfig: item missing spec attribute")
	}
	var spec validator.ServerSpec
	if err := json.Unmarshal([]byte(attr.Value), &spec); err != nil {
		return validator.ServerSpec{}, fmt.Errorf("userconfig: unmarshal spec: %w", err)
	}
	return spec, nil
}

var _ Store = (*DynamoDBStore)(nil)
