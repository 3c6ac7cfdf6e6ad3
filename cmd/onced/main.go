// onced is the note-organizing daemon: it accepts requests over HTTP, runs
// them through the agent loop, and streams progress events to clients over
// a websocket.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/HanSyngha/ONCE-sub000/internal/agent"
	"github.com/HanSyngha/ONCE-sub000/internal/askuser"
	"github.com/HanSyngha/ONCE-sub000/internal/audit"
	"github.com/HanSyngha/ONCE-sub000/internal/config"
	"github.com/HanSyngha/ONCE-sub000/internal/daemon"
	"github.com/HanSyngha/ONCE-sub000/internal/lifecycle"
	"github.com/HanSyngha/ONCE-sub000/internal/llm"
	"github.com/HanSyngha/ONCE-sub000/internal/notestore"
	"github.com/HanSyngha/ONCE-sub000/internal/notify"
	"github.com/HanSyngha/ONCE-sub000/internal/queue"
	"github.com/HanSyngha/ONCE-sub000/internal/tools"
)

func main() {
	configPath := flag.String("config", "once.json", "path to the configuration file")
	listen := flag.String("listen", "", "override the configured listen address")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := daemon.NewLogger(level)
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("configuration invalid", "path", *configPath, "error", err)
		os.Exit(1)
	}
	if *listen != "" {
		cfg.Listen = *listen
	}

	mgr := lifecycle.NewManager(lifecycle.DefaultShutdownConfig(), logger)
	os.Exit(mgr.Run(func(ctx context.Context) error {
		return run(ctx, cfg, logger, mgr)
	}))
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, mgr *lifecycle.Manager) error {
	notes, err := notestore.Open(filepath.Join(cfg.DataDir, "notes.db"))
	if err != nil {
		return fmt.Errorf("open note store: %w", err)
	}
	audits, err := audit.Open(filepath.Join(cfg.DataDir, "audit.db"))
	if err != nil {
		notes.Close()
		return fmt.Errorf("open audit store: %w", err)
	}

	// Requests the previous process never finished can't be resumed.
	lifecycle.RecoverRequests(logger, audits)

	hub := notify.NewHub(notify.WithLogger(logger))
	gate := askuser.NewGate(hub,
		askuser.WithTimeout(time.Duration(cfg.Agent.AskTimeoutMS)*time.Millisecond),
		askuser.WithLogger(logger),
	)

	clientOpts := []llm.Option{llm.WithLogger(logger)}
	if cfg.LLM.BaseURL != "" {
		clientOpts = append(clientOpts, llm.WithBaseURL(cfg.LLM.BaseURL))
	}
	client := llm.NewClient(cfg.LLM.APIKey, clientOpts...)

	settings := config.NewSettingsStore(cfg.Models)
	selector := llm.NewSelector(llm.SettingsFunc(func() llm.Settings {
		ms := settings.Current()
		return llm.Settings{Default: ms.Default, Fallbacks: ms.Fallbacks, LastResort: ms.LastResort}
	}), client, cfg.LLM.Org, llm.WithSelectorLogger(logger))

	executor := tools.NewExecutor(notes, tools.WithLogger(logger))

	runner := agent.NewRunner(selector, executor, gate, hub, audits, notes,
		agent.Config{
			MaxIterations:    cfg.Agent.MaxIterations,
			MaxContextTokens: cfg.Models.MaxContextTokens,
		},
		agent.WithLogger(logger),
	)
	extractor := agent.NewExtractor(selector, executor, notes,
		agent.Config{
			MaxIterations:    cfg.Agent.MaxExtractIterations,
			MaxContextTokens: cfg.Models.MaxContextTokens,
		},
		agent.WithExtractorLogger(logger),
	)

	pool := queue.NewPool(runner, extractor, audits, cfg.Queue.Workers, cfg.Queue.Depth,
		queue.WithLogger(logger),
		queue.WithTodoSink(notestore.NewTodoRecorder(notes)),
	)

	server := daemon.NewServer(pool, gate, audits, hub.HandleWS,
		daemon.WithServerLogger(logger))
	httpSrv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	mgr.OnShutdown("http", httpSrv.Shutdown)
	mgr.OnShutdown("queue", func(context.Context) error {
		pool.Shutdown()
		return nil
	})
	mgr.OnShutdown("hub", func(context.Context) error {
		hub.Close()
		return nil
	})
	mgr.OnShutdown("stores", func(context.Context) error {
		audits.Close()
		return notes.Close()
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return pool.Start(ctx)
	})
	g.Go(func() error {
		logger.Info("listening", "addr", cfg.Listen, "data_dir", cfg.DataDir)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpSrv.Shutdown(shutdownCtx)
		return nil
	})
	return g.Wait()
}
