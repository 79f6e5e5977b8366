package secrets

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
)

// SecretsManagerAPI is the subset of the AWS Secrets Manager client this
// backend uses. Narrow on purpose so tests can substitute a fake.
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
	CreateSecret(ctx context.Context, params *secretsmanager.CreateSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error)
	PutSecretValue(ctx context.Context, params *secretsmanager.PutSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error)
	DeleteSecret(ctx context.Context, params *secretsmanager.DeleteSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DeleteSecretOutput, error)
}

// AWSManager stores secrets in AWS Secrets Manager.
type AWSManager struct {
	client SecretsManagerAPI
}

// NewAWSManager builds a manager from the ambient AWS credential chain.
func NewAWSManager(ctx context.Context, region string) (*AWSManager, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return &AWSManager{client: secretsmanager.NewFromConfig(cfg)}, nil
}

// NewAWSManagerWithClient wires a preconstructed client, used by tests.
func NewAWSManagerWithClient(client SecretsManagerAPI) *AWSManager {
	return &AWSManager{client: client}
}

func (m *AWSManager) ReadSecret(ctx context.Context, name string) ([]byte, error) {
	out, err := m.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		if isResourceNotFound(err) {
			return nil, ErrSecretNotFound
		}
		return nil, fmt.Errorf("read secret %q: %w", name, err)
	}
	if out.SecretString != nil {
		return []byte(*out.SecretString), nil
	}
	return out.SecretBinary, nil
}

// WriteSecret creates the secret, or puts a new version when it already
// exists.
func (m *AWSManager) WriteSecret(ctx context.Context, name string, value []byte) error {
	_, err := m.client.CreateSecret(ctx, &secretsmanager.CreateSecretInput{
		Name:         aws.String(name),
		SecretString: aws.String(string(value)),
	})
	if err == nil {
		return nil
	}

	var exists *types.ResourceExistsException
	if !errors.As(err, &exists) {
		return fmt.Errorf("create secret %q: %w", name, err)
	}

	_, err = m.client.PutSecretValue(ctx, &secretsmanager.PutSecretValueInput{
		SecretId:     aws.String(name),
		SecretString: aws.String(string(value)),
	})
	if err != nil {
		return fmt.Errorf("update secret %q: %w", name, err)
	}
	return nil
}

func (m *AWSManager) DeleteSecret(ctx context.Context, name string) error {
	_, err := m.client.DeleteSecret(ctx, &secretsmanager.DeleteSecretInput{
		SecretId:                   aws.String(name),
		ForceDeleteWithoutRecovery: aws.Bool(true),
	})
	if err != nil {
		if isResourceNotFound(err) {
			return ErrSecretNotFound
		}
		return fmt.Errorf("delete secret %q: %w", name, err)
	}
	return nil
}

func isResourceNotFound(err error) bool {
	var notFound *types.ResourceNotFoundException
	return errors.As(err, &notFound)
}
