package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/robalobadob/skillgames/assets"
	"github.com/robalobadob/skillgames/internal/bridge"
	"github.com/robalobadob/skillgames/internal/config"
	"github.com/robalobadob/skillgames/internal/content"
	"github.com/robalobadob/skillgames/internal/db"
	"github.com/robalobadob/skillgames/internal/games"
	"github.com/robalobadob/skillgames/internal/httpserver"
	"github.com/robalobadob/skillgames/internal/llm"
	"github.com/robalobadob/skillgames/internal/results"
	"github.com/robalobadob/skillgames/internal/store"
	"github.com/robalobadob/skillgames/internal/timer"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "skillgames",
		Short:         "Educational mini-game server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd())
	root.AddCommand(newMigrateCmd())
	root.AddCommand(newGamesCmd())
	return root
}

// setup loads configuration and configures the global logger.
func setup() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, err
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}
	if cfg.LogFormat == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
	return cfg, nil
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := setup()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg config.Config) error {
	lib, err := content.Init(cfg.ContentDir)
	if err != nil {
		return fmt.Errorf("load content: %w", err)
	}

	sqlDB, err := db.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer sqlDB.Close()
	if err := db.Migrate(sqlDB, assets.Migrations()); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	deps := games.Deps{Library: lib, Scheduler: timer.Ticker{}}
	switch cfg.HandoffStore {
	case config.HandoffMemory:
		deps.Slots = bridge.NewMemory()
	default:
		deps.Slots = bridge.NewSQLite(sqlDB)
	}
	if cfg.GeminiAPIKey != "" {
		gem, err := llm.NewGemini(ctx, llm.GeminiConfig{
			APIKey:  cfg.GeminiAPIKey,
			Model:   cfg.GeminiModel,
			BaseURL: cfg.GeminiBaseURL,
			Timeout: cfg.LLMTimeout,
		})
		if err != nil {
			return fmt.Errorf("gemini: %w", err)
		}
		deps.Gen = gem
		log.Info().Str("model", gem.Model()).Msg("remote scoring and insight enabled")
	} else {
		log.Warn().Msg("GEMINI_API_KEY not set; using fallback scoring and insight")
	}

	srv := httpserver.New(httpserver.Options{
		Config:  cfg,
		DB:      sqlDB,
		Store:   store.NewMemoryStore(),
		Results: results.NewStore(sqlDB),
		Games:   deps,
	})
	stopJanitor := srv.StartJanitor(timer.Ticker{}, time.Minute, cfg.InstanceIdle)
	defer stopJanitor()

	hs := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", hs.Addr).Msg("starting skillgames")
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := hs.Shutdown(shutdownCtx)
		srv.Close()
		log.Info().Msg("server stopped")
		return err
	})
	return g.Wait()
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := setup()
			if err != nil {
				return err
			}
			sqlDB, err := db.Open(cfg.DatabasePath)
			if err != nil {
				return err
			}
			defer sqlDB.Close()
			return db.Migrate(sqlDB, assets.Migrations())
		},
	}
}

func newGamesCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "games",
		Short: "List games and catalog sections",
		RunE: func(cmd *cobra.Command, _ []string) error {
			src := assets.Content()
			if dir != "" {
				src = os.DirFS(dir)
			}
			lib, err := content.Load(src)
			if err != nil {
				return err
			}
			return printLibrary(cmd.OutOrStdout(), lib)
		},
	}
	cmd.Flags().StringVar(&dir, "content", "", "content directory (default: embedded)")
	return cmd
}

func printLibrary(w io.Writer, lib *content.Library) error {
	for _, g := range lib.Games() {
		timed := ""
		if g.CountdownSeconds > 0 {
			timed = fmt.Sprintf(" (%ds)", g.CountdownSeconds)
		}
		if _, err := fmt.Fprintf(w, "%-18s %-14s %-9s %s%s\n", g.ID, g.Subject, g.Kind, g.Title, timed); err != nil {
			return err
		}
	}
	for _, subject := range lib.Subjects() {
		var ids []string
		for _, s := range lib.Sections(subject) {
			ids = append(ids, s.TopicID)
		}
		if _, err := fmt.Fprintf(w, "catalog/%s: %s\n", subject, strings.Join(ids, ", ")); err != nil {
			return err
		}
	}
	return nil
}
