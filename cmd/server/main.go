package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/joho/godotenv"

	"conectazap/internal/httpapi"
	"conectazap/internal/identity"
	"conectazap/internal/integrations/openai"
	"conectazap/internal/integrations/paramstore"
	"conectazap/internal/realtime"
	"conectazap/internal/repository"
	"conectazap/internal/usecase"
	"conectazap/internal/webhook"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	_ = godotenv.Load()
	addr := envOr("ADDR", ":8080")
	stateTable := mustEnv("STATE_TABLE")
	paramPrefix := mustEnv("PARAM_PREFIX")
	openaiModel := envOr("OPENAI_MODEL", "gpt-4o-mini")
	rabbitURL := os.Getenv("RABBIT_URL")
	rabbitExchange := envOr("RABBIT_EXCHANGE", "conectazap.events")
	shutdownGrace := time.Duration(envInt("SHUTDOWN_GRACE_SECONDS", 10)) * time.Second

	// ---- AWS SDK config ----
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(cfg))
	if err != nil {
		slog.Error("failed to create SSM client", "err", err)
		os.Exit(1)
	}
	store, err := repository.New(awsdynamodb.NewFromConfig(cfg), stateTable)
	if err != nil {
		slog.Error("failed to create store client", "err", err)
		os.Exit(1)
	}

	sessionSecret, err := secretOrParam(ctx, ssmClient, "SESSION_SECRET", paramPrefix+"/session-secret")
	if err != nil {
		slog.Error("failed to load session secret", "err", err)
		os.Exit(1)
	}
	verifyToken, err := secretOrParam(ctx, ssmClient, "WEBHOOK_VERIFY_TOKEN", paramPrefix+"/webhook-verify-token")
	if err != nil {
		slog.Error("failed to load webhook verify token", "err", err)
		os.Exit(1)
	}

	openaiOpts := []openai.Option{openai.WithModel(openaiModel)}
	if base := os.Getenv("OPENAI_BASE_URL"); base != "" {
		openaiOpts = append(openaiOpts, openai.WithBaseURL(base))
	}
	openaiClient, err := openai.NewClient(ssmClient, paramPrefix, openaiOpts...)
	if err != nil {
		slog.Error("failed to create OpenAI client", "err", err)
		os.Exit(1)
	}
	suggestService, err := usecase.NewSuggestService(openaiClient)
	if err != nil {
		slog.Error("failed to create suggest service", "err", err)
		os.Exit(1)
	}

	var publisher realtime.Publisher
	if rabbitURL != "" {
		publisher, err = realtime.NewAMQP(ctx, realtime.ConnectionOptions{
			URL:      rabbitURL,
			Exchange: rabbitExchange,
			Logger:   slog.Default(),
		})
		if err != nil {
			slog.Error("failed to connect event publisher", "err", err)
			os.Exit(1)
		}
	} else {
		publisher = realtime.NewFallback(slog.Default())
	}
	defer func() { _ = publisher.Close() }()

	webhookService, err := webhook.NewService(verifyToken, publisher, slog.Default())
	if err != nil {
		slog.Error("failed to create webhook service", "err", err)
		os.Exit(1)
	}

	server, err := httpapi.NewServer(httpapi.Config{
		Verifier:  identity.NewJWTVerifier([]byte(sessionSecret)),
		Store:     store,
		Directory: store,
		Suggest:   suggestService,
		Hub:       realtime.NewHub(),
		Webhook:   webhookService,
		Logger:    slog.Default(),
	})
	if err != nil {
		slog.Error("failed to create HTTP server", "err", err)
		os.Exit(1)
	}

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server failed", "err", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown failed", "err", err)
	}
}

// secretOrParam prefers the environment variable and falls back to the
// parameter store.
func secretOrParam(ctx context.Context, ps *paramstore.Client, envKey, paramName string) (string, error) {
	if v := os.Getenv(envKey); v != "" {
		return v, nil
	}
	return ps.GetParameter(ctx, paramName)
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

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
