package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"conectazap/handler"
	"conectazap/internal/integrations/paramstore"
	"conectazap/internal/realtime"
	"conectazap/internal/webhook"
)

func main() {
	ctx := context.Background()

	verifyToken := os.Getenv("WEBHOOK_VERIFY_TOKEN")
	if verifyToken == "" {
		paramPrefix := mustEnv("PARAM_PREFIX")

		cfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			slog.Error("failed to load AWS config", "err", err)
			os.Exit(1)
		}
		ssmClient, err := paramstore.New(awsssm.NewFromConfig(cfg))
		if err != nil {
			slog.Error("failed to create SSM client", "err", err)
			os.Exit(1)
		}
		verifyToken, err = ssmClient.GetParameter(ctx, paramPrefix+"/webhook-verify-token")
		if err != nil {
			slog.Error("failed to load webhook verify token", "err", err)
			os.Exit(1)
		}
	}

	var publisher realtime.Publisher
	if rabbitURL := os.Getenv("RABBIT_URL"); rabbitURL != "" {
		var err error
		publisher, err = realtime.NewAMQP(ctx, realtime.ConnectionOptions{
			URL:      rabbitURL,
			Exchange: envOr("RABBIT_EXCHANGE", "conectazap.events"),
			Logger:   slog.Default(),
		})
		if err != nil {
			slog.Error("failed to connect event publisher", "err", err)
			os.Exit(1)
		}
	} else {
		publisher = realtime.NewFallback(slog.Default())
	}

	svc, err := webhook.NewService(verifyToken, publisher, slog.Default())
	if err != nil {
		slog.Error("failed to create webhook service", "err", err)
		os.Exit(1)
	}
	h, err := handler.NewHandler(svc)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
