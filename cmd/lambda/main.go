package main

import (
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/berniyo/mvola-lambda/internal/config"
	"github.com/berniyo/mvola-lambda/internal/handler"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Resolve(os.Getenv("MVOLA_CONFIG"))
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	client, err := cfg.NewClient(logger)
	if err != nil {
		logger.Error("failed to configure mvola client", "error", err)
		os.Exit(1)
	}

	opts := []handler.Option{
		handler.WithLogger(logger),
		handler.WithPollAttempts(cfg.Poll.MaxAttempts),
		handler.WithPollInterval(cfg.Poll.Interval),
	}
	if cfg.Outcome.URL != "" {
		sender, err := handler.NewHTTPSOutcomeSender(cfg.Outcome.URL, cfg.Outcome.Secret, nil)
		if err != nil {
			logger.Error("failed to configure outcome sender", "error", err)
			os.Exit(1)
		}
		opts = append(opts, handler.WithOutcomeSender(sender))
	}

	processor := handler.NewProcessor(client, opts...)

	lambda.Start(processor.Handle)
}
