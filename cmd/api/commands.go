package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/net/netutil"

	httpadapter "github.com/kirillkom/command-router/internal/adapters/http"
	"github.com/kirillkom/command-router/internal/bootstrap"
	"github.com/kirillkom/command-router/internal/config"
	"github.com/kirillkom/command-router/internal/core/usecase"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP gateway",
		Action: func(ctx context.Context, _ *cli.Command) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg config.Config) error {
	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer app.Close()

	if err := app.SelfCheck(ctx); err != nil {
		return err
	}

	router, err := httpadapter.NewRouter(ctx, app.Dispatcher, app.Limiter, app.Metrics, httpadapter.RouterOptions{
		AuthHeader:        cfg.AuthHeader,
		SharedSecret:      cfg.SharedSecret,
		TrustProxyHeaders: cfg.TrustProxyHeaders,
		MaxInFlight:       cfg.MaxInFlight,
		BackpressureWait:  cfg.BackpressureWait,
		CommandMaxChars:   cfg.CommandMaxChars,
		BatchMaxCommands:  cfg.BatchMaxCommands,
		BatchConcurrency:  cfg.BatchConcurrency,
		BatchTimeout:      cfg.RequestTimeout,
		CacheEnabled:      app.Dispatcher.CacheEnabled(),
	})
	if err != nil {
		return fmt.Errorf("build router: %w", err)
	}

	ln, err := net.Listen("tcp", ":"+cfg.APIPort)
	if err != nil {
		return fmt.Errorf("listen on :%s: %w", cfg.APIPort, err)
	}
	if cfg.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, cfg.MaxConnections)
	}

	server := &http.Server{
		Handler:           router.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 10*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("api_listening", "port", cfg.APIPort, "max_connections", cfg.MaxConnections)
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("api_shutdown_failed", "error", err)
	}
	if err := app.Shutdown(shutdownCtx); err != nil {
		slog.Warn("side_effects_not_drained", "error", err)
	}
	slog.Info("api_stopped")
	return nil
}

func selfCheckCommand() *cli.Command {
	return &cli.Command{
		Name:  "selfcheck",
		Usage: "Validate configuration and collaborators, then exit",
		Action: func(ctx context.Context, _ *cli.Command) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			app, err := bootstrap.New(ctx, cfg)
			if err != nil {
				return fmt.Errorf("bootstrap: %w", err)
			}
			defer app.Close()

			if err := app.SelfCheck(ctx); err != nil {
				return err
			}
			fmt.Println("self-check passed")
			return nil
		},
	}
}

func classifyCommand() *cli.Command {
	return &cli.Command{
		Name:      "classify",
		Usage:     "Show how a command would be routed, without running it",
		ArgsUsage: "<text>",
		Action: func(_ context.Context, c *cli.Command) error {
			text := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
			if text == "" {
				return errors.New("classify: text is required")
			}
			classifier := usecase.NewClassifier()
			parsed := classifier.Classify(text)
			fmt.Printf("rule: %s\nkind: %s\nparsed: %+v\n", classifier.MatchRule(text), parsed.Kind(), parsed)
			return nil
		},
	}
}

func indexCommand() *cli.Command {
	var corpus string
	return &cli.Command{
		Name:  "index",
		Usage: "Build the JSONL index snapshot from a directory of text documents",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "corpus",
				Usage:       "Corpus directory (defaults to CORPUS_PATH)",
				Destination: &corpus,
			},
		},
		Action: func(ctx context.Context, _ *cli.Command) error {
			cfg, err := loadOfflineConfig()
			if err != nil {
				return err
			}
			if corpus != "" {
				cfg.CorpusPath = corpus
			}
			indexer, err := bootstrap.NewIndexer(cfg)
			if err != nil {
				return err
			}
			report, err := indexer.Run(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("indexed %d files (%d skipped), %d chunks -> %s\n",
				report.Files, report.Skipped, report.Chunks, cfg.IndexPath)
			return nil
		},
	}
}

func historyCommand() *cli.Command {
	var limit int64
	return &cli.Command{
		Name:  "history",
		Usage: "List recently handled commands from the journal",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:        "limit",
				Aliases:     []string{"n"},
				Value:       20,
				Usage:       "Number of records to show",
				Destination: &limit,
			},
		},
		Action: func(ctx context.Context, _ *cli.Command) error {
			cfg, err := loadOfflineConfig()
			if err != nil {
				return err
			}
			journal, closeFn, err := bootstrap.OpenJournal(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			records, err := journal.ListRecent(ctx, int(limit))
			if err != nil {
				return err
			}
			for _, rec := range records {
				cache := ""
				if rec.CacheHit {
					cache = " (cache)"
				}
				fmt.Printf("%s  %-28s %3d %8.1fms  %s%s\n",
					rec.ReceivedAt.Format(time.RFC3339), rec.Kind, rec.Code,
					float64(rec.Duration.Microseconds())/1000.0, rec.Text, cache)
			}
			return nil
		},
	}
}
