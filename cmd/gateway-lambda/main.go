// Command gateway-lambda serves the gateway behind API Gateway on AWS Lambda.
package main

import (
	"context"
	"net/http"
	"sync"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"
	"go.uber.org/zap"

	"github.com/Tiger-Du/ollama-gateway/internal/app"
	"github.com/Tiger-Du/ollama-gateway/internal/logx"
)

var (
	once    sync.Once
	adapter *httpadapter.HandlerAdapter
	initErr error
)

func initOnce() {
	cfg, err := app.LoadConfig(app.NewViper())
	if err != nil {
		initErr = err
		return
	}

	logger, err := logx.New(logx.Config{Level: cfg.LogLevel, Style: logx.StyleJSON})
	if err != nil {
		initErr = err
		return
	}

	// Redis is the only limiter shared across concurrent Lambda instances.
	if !cfg.EnableRedis {
		cfg.MaxRequestsPerMinute = 0
	}

	built, err := app.Build(context.Background(), cfg, logger)
	if err != nil {
		initErr = err
		return
	}

	adapter = httpadapter.New(built.Handler)
	logger.Info("lambda init ok", zap.String("model", cfg.OllamaModel), zap.Bool("rate_limit", cfg.MaxRequestsPerMinute > 0))
}

func handler(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	once.Do(initOnce)
	if initErr != nil {
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusInternalServerError,
			Body:       "init error: " + initErr.Error(),
		}, nil
	}
	return adapter.ProxyWithContext(ctx, req)
}

func main() {
	lambda.Start(handler)
}
