package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/medqa/medqa/internal/answer"
	"github.com/medqa/medqa/internal/api"
	"github.com/medqa/medqa/internal/chat"
	"github.com/medqa/medqa/internal/chunker"
	"github.com/medqa/medqa/internal/config"
	"github.com/medqa/medqa/internal/embedding"
	"github.com/medqa/medqa/internal/engine"
	"github.com/medqa/medqa/internal/ingest"
	"github.com/medqa/medqa/internal/ollama"
	"github.com/medqa/medqa/internal/retrieval"
	"github.com/medqa/medqa/internal/session"
	"github.com/medqa/medqa/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Ingest the document corpus and serve the API (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "medqa version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Check inference backend readiness.
	ollamaClient := ollama.New(cfg.Ollama.BaseURL)
	if err := ollama.EnsureReady(ctx, ollamaClient, cfg.Ollama.ChatModel, cfg.Ollama.EmbedModel, os.Stderr); err != nil {
		return err
	}
	eng := engine.NewOllamaEngine(cfg.Ollama.BaseURL)

	// Open storage.
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	// Assemble the pipeline and assistant.
	embedder := embedding.New(eng, cfg.Ollama.EmbedModel, cfg.Pipeline.MaxRetries, cfg.Pipeline.EmbedConcurrency)
	splitter := chunker.New(cfg.Pipeline.MaxChunkChars, cfg.Pipeline.OverlapChars)
	pipeline := ingest.New(store, embedder, splitter, logger)
	retriever := retrieval.New(embedder, pipeline, cfg.Retrieval.TopK, logger)
	generator := answer.New(eng, cfg.Ollama.ChatModel, cfg.Retrieval.MaxContextTokens, cfg.Pipeline.MaxRetries, logger)
	assistant := chat.New(retriever, generator, session.NewStore(), store, logger)

	// Initial ingestion. An unusable corpus is not fatal; the server comes
	// up and POST /rebuild can retry once documents are in place.
	printStep("Ingesting documents from %s", cfg.Storage.DocumentsDir)
	report, err := pipeline.Initialize(ctx, cfg.Storage.DocumentsDir)
	switch {
	case err != nil && ctx.Err() != nil:
		return err
	case err != nil:
		printWarning("ingestion failed: %v", err)
	case report.Reused:
		printSuccess("Index up to date (%d chunks from %d documents)", report.Chunks, report.Documents)
	default:
		printSuccess("Indexed %d chunks from %d documents (%d skipped)", report.Chunks, report.Documents, len(report.Skipped))
	}

	// Build HTTP handler and server.
	handler := api.NewHandler(api.Deps{
		Assistant:    assistant,
		Pipeline:     pipeline,
		Store:        store,
		DocumentsDir: cfg.Storage.DocumentsDir,
		Token:        cfg.Server.AuthToken,
	})
	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// Start MCP server (stdio transport in a goroutine).
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Assistant: assistant,
		Searcher:  retriever,
		Pipeline:  pipeline,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "medqa listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
