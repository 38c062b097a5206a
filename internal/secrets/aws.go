package secrets

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/rs/zerolog/log"
)

// AWSResolver reads secret strings from AWS Secrets Manager.
type AWSResolver struct {
	client *secretsmanager.Client
}

func NewAWSResolver(cfg aws.Config) *AWSResolver {
	return &AWSResolver{client: secretsmanager.NewFromConfig(cfg)}
}

func (r *AWSResolver) Lookup(ctx context.Context, name string) (string, error) {
	out, err := r.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		return "", fmt.Errorf("error accessing secret %s: %w", name, err)
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("%w: %s has no string value", ErrNotFound, name)
	}
	log.Debug().Str("op", "secrets/aws").Msgf("resolved secret %s", name)
	return aws.ToString(out.SecretString), nil
}
