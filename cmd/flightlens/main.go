package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"flightlens/internal/agent"
	"flightlens/internal/config"
	"flightlens/internal/docs"
	"flightlens/internal/embedding"
	"flightlens/internal/llm"
	"flightlens/internal/logging"
	"flightlens/internal/server"
	"flightlens/internal/session"
)

var (
	configPath string
	portFlag   int
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "flightlens",
	Short: "flightlens - conversational analysis for UAV flight logs",
	Long: `flightlens ingests parsed UAV flight logs into per-session SQL tables
and answers questions about them through a tool-calling model loop with
numeric self-validation.

Run the serve subcommand to start the HTTP API.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to flightlens.yaml")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	serveCmd.Flags().IntVarP(&portFlag, "port", "p", 0, "listen port (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe() error {
	// .env before config so env overrides see it.
	if err := godotenv.Load(); err == nil {
		fmt.Fprintln(os.Stderr, "loaded environment from .env")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if portFlag > 0 {
		cfg.Server.Port = portFlag
	}

	level := cfg.Logging.Level
	if verbose {
		level = "debug"
	}
	if err := logging.Initialize(level, verbose); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer logging.Sync()

	logging.Boot("flightlens starting on port %d", cfg.Server.Port)

	gateway := llm.NewGateway(llm.Options{
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		ChatModel:   cfg.LLM.ChatModel,
		ParserModel: cfg.LLM.ParserModel,
		Timeout:     cfg.LLMTimeout(),
	})

	registry := session.NewRegistry(cfg.SessionTTL())
	registry.StartSweeper(cfg.SessionTTL() / 24)

	docIndex, err := buildDocIndex(cfg)
	if err != nil {
		logging.Get(logging.CategoryBoot).Warnf("doc index unavailable: %v", err)
	}

	controller := agent.NewController(gateway, docSearcher(docIndex), agent.Options{
		MaxToolHops:          cfg.Agent.MaxToolHops,
		MaxQueryCorrections:  cfg.Agent.QueryCorrections,
		MaxAnswerCorrections: cfg.Agent.AnswerCorrections,
		DocTopK:              cfg.Docs.TopK,
		TurnDeadline:         cfg.TurnDeadline(),
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: server.New(registry, controller, docService(docIndex)).Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Server("listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		registry.Close()
		return fmt.Errorf("server failed: %w", err)
	case sig := <-stop:
		logging.Boot("received %s, shutting down", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Get(logging.CategoryServer).Warnf("shutdown incomplete: %v", err)
	}

	registry.Close()
	if docIndex != nil {
		if err := docIndex.Flush(); err != nil {
			logging.Get(logging.CategoryDocs).Warnf("doc cache flush failed: %v", err)
		}
	}
	logging.Boot("flightlens stopped")
	return nil
}

// buildDocIndex wires the embedding engine and seeds the index. A
// missing API key or failed initialization degrades to no retrieval
// rather than refusing to boot.
func buildDocIndex(cfg *config.Config) (*docs.Index, error) {
	if cfg.LLM.APIKey == "" {
		return nil, fmt.Errorf("no API key for embeddings")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	engine, err := embedding.NewGenAIEngine(ctx, cfg.LLM.APIKey, cfg.LLM.EmbedModel)
	if err != nil {
		return nil, fmt.Errorf("embedding engine: %w", err)
	}

	idx := docs.NewIndex(engine, docs.Options{
		SourceURLs:  cfg.Docs.SourceURLs,
		CacheDir:    cfg.Docs.CacheDir,
		MaxCacheAge: cfg.MaxCacheAge(),
		ChunkBudget: cfg.Docs.ChunkBudget,
		TopK:        cfg.Docs.TopK,
	})
	if err := idx.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("doc index initialization: %w", err)
	}
	return idx, nil
}

// docSearcher and docService keep a nil index as a typed nil interface
// problem out of the wiring.
func docSearcher(idx *docs.Index) agent.DocSearcher {
	if idx == nil {
		return nil
	}
	return idx
}

func docService(idx *docs.Index) server.DocService {
	if idx == nil {
		return nil
	}
	return idx
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
