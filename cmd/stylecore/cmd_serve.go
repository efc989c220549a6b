package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/user/stylecore/internal/catalog"
	"github.com/user/stylecore/internal/config"
	"github.com/user/stylecore/internal/prompt"
	"github.com/user/stylecore/internal/scheduler"
	"github.com/user/stylecore/internal/server"
	"github.com/user/stylecore/internal/session"
	"github.com/user/stylecore/internal/state"
	"github.com/user/stylecore/internal/suggest"
	"github.com/user/stylecore/internal/types"
	"github.com/user/stylecore/pkg/engine"
	"github.com/user/stylecore/pkg/engine/remote"
	"github.com/user/stylecore/pkg/engine/rules"
)

var serveEphemeral bool

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&serveEphemeral, "ephemeral", false, "run without durable storage (in-memory only)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the stylecore daemon",
	RunE:  runServe,
}

func writePIDFile(dataDir string) (string, error) {
	pidPath := filepath.Join(dataDir, "stylecore.pid")
	pid := os.Getpid()
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return pidPath, nil
}

func buildEngine(cfg *config.Config) engine.Engine {
	if cfg.Engine.Mode == "remote" {
		return remote.New(&engine.Config{
			BaseURL: cfg.Engine.BaseURL,
			APIKey:  cfg.Engine.APIKey,
			Model:   cfg.Engine.Model,
		})
	}
	return rules.New()
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	pidPath, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidPath)

	// Stores: durable SQLite by default, in-memory with --ephemeral.
	var (
		store      *state.Store
		catalogSt  types.CatalogStore
		prefsSt    types.PreferenceStore
		serverOpts []server.Option
	)
	if serveEphemeral {
		mem := catalog.NewStore()
		catalogSt, prefsSt = mem, mem
	} else {
		var err error
		store, err = state.Open(filepath.Join(cfg.DataDir, "stylecore.db"))
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer store.Close()
		catalogSt, prefsSt = store, store
		serverOpts = append(serverOpts, server.WithArchive(store))
	}

	// Engine
	eng := buildEngine(cfg)

	// Prompt builder
	builder, err := prompt.New(cfg.Prompt.Encoding, cfg.Prompt.MaxTokens)
	if err != nil {
		return fmt.Errorf("create prompt builder: %w", err)
	}

	// Scheduler
	sched := scheduler.New(eng, catalogSt, prefsSt,
		scheduler.WithTimeout(time.Duration(cfg.Engine.TimeoutSeconds)*time.Second),
		scheduler.WithMaxConcurrent(int64(cfg.MaxConcurrent)),
		scheduler.WithPromptBuilder(builder),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched.Start(ctx)
	defer sched.Stop()

	// Sessions
	var managerOpts []session.ManagerOption
	if store != nil {
		managerOpts = append(managerOpts, session.WithRecorder(store))
	}
	manager := session.NewManager(sched, managerOpts...)
	if store != nil {
		if err := resumeConversations(ctx, store, manager); err != nil {
			return fmt.Errorf("resume conversations: %w", err)
		}
	}

	slog.Info("stylecore started",
		"data_dir", cfg.DataDir,
		"log_level", cfg.LogLevel,
		"listen_addr", cfg.ListenAddr,
		"max_concurrent", cfg.MaxConcurrent,
		"engine_mode", cfg.Engine.Mode,
		"engine_model", cfg.Engine.Model,
		"ephemeral", serveEphemeral,
		"conversations", len(manager.List()),
		"pid_file", pidPath,
	)

	// Daily suggestion trigger
	trigger := suggest.New(manager, prefsSt, cfg.Suggestions.Schedule)
	if err := trigger.Start(); err != nil {
		return fmt.Errorf("start suggestion trigger: %w", err)
	}
	defer trigger.Stop()
	slog.Info("suggestion trigger started", "schedule", cfg.Suggestions.Schedule)

	// HTTP server
	srv := server.New(manager, catalogSt, prefsSt, serverOpts...)
	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv,
	}
	go func() {
		slog.Info("http server started", "listen", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	slog.Info("shutting down", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}
	return nil
}

// resumeConversations rebuilds live sessions from the durable store. In-flight
// placeholders from a previous run can never complete, so they are failed
// before the timeline is restored.
func resumeConversations(ctx context.Context, store *state.Store, manager *session.Manager) error {
	records, err := store.ListConversations(ctx)
	if err != nil {
		return err
	}
	for _, rec := range records {
		msgs, err := store.LoadMessages(ctx, rec.ID)
		if err != nil {
			return fmt.Errorf("load messages for %s: %w", rec.ID, err)
		}
		for i := range msgs {
			if msgs[i].Status != types.StatusPending {
				continue
			}
			body := "Sorry, I couldn't put an outfit together right now. Please try again."
			if err := store.RecordResolve(rec.ID, msgs[i].ID, types.StatusFailed, body); err != nil {
				return fmt.Errorf("fail orphaned message %s: %w", msgs[i].ID, err)
			}
			msgs[i].Status = types.StatusFailed
			msgs[i].Body = body
		}
		sess, err := manager.Resume(rec.OwnerID, rec.ID, msgs, rec.CreatedAt)
		if err != nil {
			return err
		}
		if rec.Closed {
			sess.Close()
		}
		slog.Debug("resumed conversation", "conversation_id", rec.ID, "messages", len(msgs), "closed", rec.Closed)
	}
	return nil
}
