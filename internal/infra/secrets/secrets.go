package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// Getter is the subset of *secretsmanager.Client used here.
type Getter interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

type urlSecret struct {
	URL string `json:"url"`
}

// NewClient uses the default AWS credential chain (Lambda provides region and creds).
func NewClient(ctx context.Context) (*secretsmanager.Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return secretsmanager.NewFromConfig(cfg), nil
}

// FetchURL reads a connection URL from a secret stored either as {"url": "..."}
// or as the bare URL string.
func FetchURL(ctx context.Context, g Getter, secretARN string) (string, error) {
	if secretARN == "" {
		return "", errors.New("secret ARN is empty")
	}

	out, err := g.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretARN),
	})
	if err != nil {
		return "", fmt.Errorf("get secret value: %w", err)
	}
	if out.SecretString == nil {
		return "", errors.New("secret has no SecretString")
	}

	raw := strings.TrimSpace(*out.SecretString)
	if !strings.HasPrefix(raw, "{") {
		if raw == "" {
			return "", errors.New("secret is empty")
		}
		return raw, nil
	}

	var s urlSecret
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return "", fmt.Errorf("unmarshal secret json: %w", err)
	}
	if s.URL == "" {
		return "", errors.New("url missing in secret")
	}
	return s.URL, nil
}
