package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/innercompass/internal/api"
	"github.com/kalambet/innercompass/internal/catalog"
	"github.com/kalambet/innercompass/internal/coach"
	"github.com/kalambet/innercompass/internal/config"
	"github.com/kalambet/innercompass/internal/conversation"
	"github.com/kalambet/innercompass/internal/identity"
	"github.com/kalambet/innercompass/internal/llm"
	"github.com/kalambet/innercompass/internal/metrics"
	"github.com/kalambet/innercompass/internal/progress"
	"github.com/kalambet/innercompass/internal/report"
	"github.com/kalambet/innercompass/internal/session"
	"github.com/kalambet/innercompass/internal/storage"
)

const janitorInterval = time.Hour

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the InnerCompass server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("mcp") {
			cfg.MCP.Enabled, _ = cmd.Flags().GetBool("mcp")
		}
		if cmd.Flags().Changed("mock") {
			cfg.LLM.Mock, _ = cmd.Flags().GetBool("mock")
		}
		return runServer(cfg)
	},
}

func init() {
	serveCmd.Flags().Bool("mcp", false, "also serve MCP over stdio")
	serveCmd.Flags().Bool("mock", false, "answer with canned coach responses instead of calling the language model")
}

func setupLogging(level string) {
	logLevel := slog.LevelInfo
	if strings.EqualFold(level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}

func newCompleter(cfg config.LLMConfig) coach.Completer {
	if cfg.Mock {
		slog.Warn("language model disabled, using canned coach responses")
		return llm.NewMock()
	}
	return llm.NewClientWithBaseURL(cfg.APIKey, cfg.BaseURL)
}

func runServer(cfg config.Config) error {
	fmt.Fprintf(os.Stderr, "innercompass version %s\n", version)

	if err := cfg.ValidateServer(); err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	cat, err := catalog.Default()
	if err != nil {
		return fmt.Errorf("loading catalog: %w", err)
	}

	auth, err := identity.NewProvider(store, []byte(cfg.Auth.SigningKey), cfg.Auth.TokenTTL)
	if err != nil {
		return fmt.Errorf("initializing identity: %w", err)
	}

	m := metrics.NewCollector()
	coachClient := coach.NewClient(newCompleter(cfg.LLM), coach.Options{
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout,
		Metrics:     m,
	})
	progressStore := progress.NewStore(store)
	reports := report.NewAggregator(cat, coachClient, m)
	sessions := session.NewController(cat, auth, progressStore, conversation.NewEngine(coachClient, m), reports)

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.NewAppHandler(api.AppDeps{Catalog: cat, Sessions: sessions, Metrics: m}),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("listening", "addr", addr, "topics", cat.TopicCount(), "mock", cfg.LLM.Mock)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		runJanitor(gctx, store, sessions)
		return nil
	})

	if cfg.MCP.Enabled {
		mcpSrv := api.NewMCPServer(api.MCPDeps{Catalog: cat, Records: progressStore, Reports: reports})
		stdioSrv := server.NewStdioServer(mcpSrv)
		g.Go(func() error {
			if err := stdioSrv.Listen(gctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
			return nil
		})
		slog.Info("MCP server started (stdio transport)")
	}

	return g.Wait()
}

// runJanitor periodically drops expired revocation records and forgets
// sessions whose tokens have expired.
func runJanitor(ctx context.Context, store *storage.Store, sessions *session.Controller) {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := store.PurgeExpiredTokens(ctx, now)
			if err != nil {
				slog.Warn("purging revoked tokens failed", "error", err)
			}
			slog.Debug("janitor pass", "revocations_purged", n, "sessions_dropped", sessions.Sweep())
		}
	}
}
