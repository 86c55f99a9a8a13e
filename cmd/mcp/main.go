package main

import (
	"context"
	"log/slog"
	"os"

	mcpadapter "github.com/kirillkom/policy-query-engine/internal/adapters/mcp"
	"github.com/kirillkom/policy-query-engine/internal/bootstrap"
	"github.com/kirillkom/policy-query-engine/internal/config"
	"github.com/kirillkom/policy-query-engine/internal/observability/logging"
)

func main() {
	cfg := config.Load()
	slog.SetDefault(logging.NewJSONLoggerTo(os.Stderr, "mcp", cfg.LogLevel))

	app, err := bootstrap.NewQueryOnly(context.Background(), cfg)
	if err != nil {
		slog.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	server := mcpadapter.NewServer("policy-query-engine", cfg.ServiceVersion, app.RunUC, app.VectorDB)
	if err := server.ServeStdio(); err != nil {
		slog.Error("mcp_server_failed", "error", err)
		os.Exit(1)
	}
}
