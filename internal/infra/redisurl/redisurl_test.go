package redisurl

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/stretchr/testify/require"
)

type staticGetter string

func (s staticGetter) GetSecretValue(context.Context, *secretsmanager.GetSecretValueInput, ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	return &secretsmanager.GetSecretValueOutput{SecretString: aws.String(string(s))}, nil
}

func TestLoad(t *testing.T) {
	ctx := context.Background()

	u, err := Load(ctx, Source{URL: "redis://localhost:6379"})
	require.NoError(t, err)
	require.Equal(t, "redis://localhost:6379", u)

	u, err = Load(ctx, Source{
		SecretARN: "arn",
		URL:       "redis://ignored:6379",
		Getter:    staticGetter(`{"url":"rediss://secret:6380"}`),
	})
	require.NoError(t, err)
	require.Equal(t, "rediss://secret:6380", u)

	_, err = Load(ctx, Source{})
	require.ErrorIs(t, err, ErrMissing)
}
