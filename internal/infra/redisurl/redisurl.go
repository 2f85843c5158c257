// Package redisurl resolves the rate limiter's Redis URL.
package redisurl

import (
	"context"
	"errors"

	"github.com/Tiger-Du/ollama-gateway/internal/infra/secrets"
)

var ErrMissing = errors.New("missing redis url: set REDIS_URL_SECRET_ARN or REDIS_URL")

type Source struct {
	SecretARN string
	URL       string

	// Getter defaults to a Secrets Manager client from the ambient AWS config.
	Getter secrets.Getter
}

// Load prefers the secret over the plain URL.
func Load(ctx context.Context, src Source) (string, error) {
	if src.SecretARN != "" {
		g := src.Getter
		if g == nil {
			c, err := secrets.NewClient(ctx)
			if err != nil {
				return "", err
			}
			g = c
		}
		return secrets.FetchURL(ctx, g, src.SecretARN)
	}
	if src.URL != "" {
		return src.URL, nil
	}
	return "", ErrMissing
}
