// Command parleyd serves the chat API.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/OnslaughtSnail/parley/internal/envload"
	"github.com/OnslaughtSnail/parley/internal/version"
	"github.com/OnslaughtSnail/parley/kernel/generative"
	"github.com/OnslaughtSnail/parley/kernel/history"
	"github.com/OnslaughtSnail/parley/kernel/history/inmemory"
	"github.com/OnslaughtSnail/parley/kernel/history/sqlitestore"
	"github.com/OnslaughtSnail/parley/kernel/override"
	"github.com/OnslaughtSnail/parley/kernel/pattern"
	"github.com/OnslaughtSnail/parley/kernel/pattern/aiml"
	"github.com/OnslaughtSnail/parley/kernel/router"
	"github.com/OnslaughtSnail/parley/kernel/spell"
	"github.com/OnslaughtSnail/parley/server"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "parleyd:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("parleyd", flag.ContinueOnError)
	var (
		addr        = fs.String("addr", ":3011", "Listen address")
		dataDir     = fs.String("data", "./data", "Directory with .aiml pattern files")
		wordsFile   = fs.String("words", "", "Spell-correction corpus file (optional)")
		historyDB   = fs.String("history-db", "", "Sqlite file for persistent history (default in-memory)")
		maxSessions = fs.Int("max-sessions", 0, "In-memory session cap (0 = default)")
		maxTurns    = fs.Int("max-turns", 0, "Per-session turn cap (0 = default)")
		baseURL     = fs.String("base-url", "https://api.openai.com/v1", "OpenAI-compatible API base URL")
		model       = fs.String("model", "gpt-4o-mini", "Model name for generative replies")
		timeout     = fs.Duration("timeout", 30*time.Second, "Generative request timeout")
		showVersion = fs.Bool("version", false, "Print version and exit")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *showVersion {
		fmt.Println("parleyd", version.String())
		return nil
	}

	if path, err := envload.LoadNearest(); err != nil {
		return fmt.Errorf("load .env: %w", err)
	} else if path != "" {
		fmt.Fprintln(os.Stderr, "parleyd: loaded env from", path)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	engine, err := aiml.Load(*dataDir)
	if err != nil {
		return fmt.Errorf("load patterns: %w", err)
	}
	adapter, err := pattern.NewAdapter(engine)
	if err != nil {
		return err
	}

	var store history.Store
	if *historyDB != "" {
		sqlStore, err := sqlitestore.NewWithOptions(*historyDB, sqlitestore.Options{MaxTurns: *maxTurns})
		if err != nil {
			return fmt.Errorf("open history db: %w", err)
		}
		defer sqlStore.Close()
		store = sqlStore
	} else {
		memStore, err := inmemory.NewWithOptions(inmemory.Options{
			MaxSessions: *maxSessions,
			MaxTurns:    *maxTurns,
		})
		if err != nil {
			return fmt.Errorf("init history store: %w", err)
		}
		store = memStore
	}

	var gen router.GenerativeResponder
	if token := os.Getenv("OPENAI_API_KEY"); token != "" {
		client, err := generative.New(generative.Config{
			BaseURL: *baseURL,
			Model:   *model,
			Token:   token,
			Timeout: *timeout,
		})
		if err != nil {
			return fmt.Errorf("init generative client: %w", err)
		}
		gen = client
	} else {
		logger.Warn("OPENAI_API_KEY not set, generative replies disabled")
	}

	var corrector *spell.Corrector
	if *wordsFile != "" {
		corrector, err = spell.NewFromFile(*wordsFile)
		if err != nil {
			return err
		}
	}

	r, err := router.New(router.Config{
		History:    store,
		Pattern:    adapter,
		Generative: gen,
		Overrides:  override.Default(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	srv, err := server.New(r, corrector, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting", zap.String("version", version.Version), zap.String("addr", *addr))
	return srv.ListenAndServe(ctx, *addr)
}
