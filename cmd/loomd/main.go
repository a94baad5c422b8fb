package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/loomworks/loom/internal/cache"
	"github.com/loomworks/loom/internal/config"
	"github.com/loomworks/loom/internal/core"
	"github.com/loomworks/loom/internal/core/httpcore"
	"github.com/loomworks/loom/internal/domain/conversation"
	"github.com/loomworks/loom/internal/domain/project"
	"github.com/loomworks/loom/internal/engine"
	"github.com/loomworks/loom/internal/mcp"
	"github.com/loomworks/loom/internal/refresh"
	"github.com/loomworks/loom/internal/statecache"
	"github.com/loomworks/loom/internal/stream"
)

var version = "0.1.0"

func main() {
	root := &cobra.Command{
		Use:          "loomd",
		Short:        "Local sync daemon for a threaded agent-conversation backend",
		Version:      version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}
	root.AddCommand(&cobra.Command{
		Use:          "serve",
		Short:        "Sync backend state and serve it over MCP on stdio",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serve() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Logs go to stderr: stdout carries the MCP JSON-RPC stream.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Log.Level),
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		logger.Info("shutting down")
		cancel()
	}()

	eng := engine.New(logger)
	client := httpcore.New(cfg.Backend.BaseURL, cfg.Backend.APIKey)

	var watermark int64
	store, err := openStateCache(cfg.Cache.Path)
	if err != nil {
		logger.Warn("state cache unavailable, starting cold", "path", cfg.Cache.Path, "error", err)
	} else {
		defer store.Close()
		snap, ok, err := store.Load()
		if err != nil {
			logger.Warn("state cache load failed, starting cold", "error", err)
		} else if ok {
			eng.Restore(snap)
			watermark = snap.MaxCreatedAt
			logger.Info("state restored from cache",
				"projects", len(snap.Projects),
				"conversations", len(snap.Conversations),
				"watermark", watermark)
		}
	}

	messages := cache.NewLoader(
		func(ctx context.Context, conversationID string) ([]conversation.Message, error) {
			return client.FetchMessages(ctx, conversationID)
		},
		eng.MergeMessages,
		nil,
		logger,
	)
	status := cache.NewLoader(
		func(ctx context.Context, projectID string) (project.Status, error) {
			return fetchStatus(ctx, client, projectID)
		},
		func(projectID string, st project.Status) {
			eng.ApplyProjectStatus(projectID, st.Online, st.Agents)
		},
		project.Status{},
		logger,
	)

	coordinator := refresh.New(client, eng, logger, cfg.Refresh.Interval, cfg.Refresh.Parallelism)
	consumer := stream.NewConsumer(client, eng, logger)
	consumer.Resync = coordinator.Trigger

	go consumer.Run(ctx)
	go coordinator.Run(ctx)
	go func() {
		backfill(ctx, client, eng, logger, watermark)
		coordinator.Refresh(ctx)
	}()

	server := mcp.NewServer(mcp.Config{
		Engine:   eng,
		Messages: messages,
		Status:   status,
		Logger:   logger,
	})

	logger.Info("serving MCP on stdio", "backend", cfg.Backend.BaseURL)
	err = server.Run(ctx, &sdkmcp.StdioTransport{})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("mcp server: %w", err)
	}

	if store != nil {
		if err := store.Save(eng.Export()); err != nil {
			logger.Warn("state cache save failed", "error", err)
		}
	}
	return nil
}

// backfill seeds the engine with a bulk fetch. With a cache watermark the
// conversation fetch is incremental from just before the watermark; cold
// starts fetch everything.
func backfill(ctx context.Context, client core.Client, eng *engine.Engine, logger *slog.Logger, watermark int64) {
	projects, err := client.FetchProjects(ctx)
	if err != nil {
		logger.Warn("project backfill failed", "error", err)
	} else {
		for _, p := range projects {
			eng.ApplyProject(p)
		}
		eng.ResortProjects()
	}

	filter := core.ConversationFilter{}
	if watermark > 0 {
		filter.Since = watermark - statecache.CatchUpSkewSecs
	}
	convs, err := client.FetchConversations(ctx, filter)
	if err != nil {
		logger.Warn("conversation backfill failed", "error", err)
		return
	}
	for _, c := range convs {
		eng.ApplyConversation(c)
	}
	logger.Info("backfill complete", "projects", len(projects), "conversations", len(convs))
}

// fetchStatus loads both status facts for one project. The roster is only
// fetched for online projects.
func fetchStatus(ctx context.Context, client core.Client, projectID string) (project.Status, error) {
	online, err := client.FetchProjectOnline(ctx, projectID)
	if err != nil {
		return project.Status{}, err
	}
	st := project.Status{Online: online}
	if online {
		st.Agents, err = client.FetchOnlineAgents(ctx, projectID)
		if err != nil {
			return project.Status{}, err
		}
	}
	return st, nil
}

func openStateCache(path string) (*statecache.Store, error) {
	if path != ":memory:" && path != "" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, err
			}
		}
	}
	return statecache.Open(path)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
