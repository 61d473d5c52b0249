package secrets

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// AWSSecretStore resolves "arn:aws:secretsmanager:..." references via the AWS
// Secrets Manager API, grounded on the aws-sdk-go-v2 stack the pack already
// carries for its Bedrock integration (viant-agently/go.mod).
type AWSSecretStore struct {
	client *secretsmanager.Client
}

// NewAWSSecretStore loads the default AWS config chain (env vars, shared
// config, EC2/ECS role) and constructs a Secrets Manager client for region.
func NewAWSSecretStore(ctx context.Context, region string) (*AWSSecretStore, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("secrets: load AWS config: %w", err)
	}
	return &AWSSecretStore{client: secretsmanager.NewFromConfig(cfg)}, nil
}

// GetSecretValue implements SecretStore.
func (s *AWSSecretStore) GetSecretValue(ctx context.Context, arn string) (string, error) {
	out, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(arn),
	})
	if err != nil {
		return "", fmt.Errorf("secrets: fetch %s: %w", arn, err)
	}
	if out.SecretString != nil {
		return *out.SecretString, nil
	}
	return string(out.SecretBinary), nil
}
