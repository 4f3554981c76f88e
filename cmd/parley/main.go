// Command parley is the console client: the same routing stack as the
// server, run in-process against stdin.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/fatih/color"
	"go.uber.org/zap"

	"github.com/OnslaughtSnail/parley/internal/envload"
	"github.com/OnslaughtSnail/parley/internal/version"
	"github.com/OnslaughtSnail/parley/kernel/dialog"
	"github.com/OnslaughtSnail/parley/kernel/generative"
	"github.com/OnslaughtSnail/parley/kernel/history/inmemory"
	"github.com/OnslaughtSnail/parley/kernel/override"
	"github.com/OnslaughtSnail/parley/kernel/pattern"
	"github.com/OnslaughtSnail/parley/kernel/pattern/aiml"
	"github.com/OnslaughtSnail/parley/kernel/router"
	"github.com/OnslaughtSnail/parley/kernel/spell"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "parley:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("parley", flag.ContinueOnError)
	var (
		dataDir     = fs.String("data", "./data", "Directory with .aiml pattern files")
		wordsFile   = fs.String("words", "", "Spell-correction corpus file (optional)")
		baseURL     = fs.String("base-url", "https://api.openai.com/v1", "OpenAI-compatible API base URL")
		model       = fs.String("model", "gpt-4o-mini", "Model name for generative replies")
		timeout     = fs.Duration("timeout", 30*time.Second, "Generative request timeout")
		modeName    = fs.String("mode", "", "Routing mode: AIML, LLM or hybrid (default hybrid)")
		showVersion = fs.Bool("version", false, "Print version and exit")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *showVersion {
		fmt.Println("parley", version.String())
		return nil
	}

	if _, err := envload.LoadNearest(); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}

	r, err := buildRouter(*dataDir, *baseURL, *model, *timeout)
	if err != nil {
		return err
	}

	var corrector *spell.Corrector
	if *wordsFile != "" {
		corrector, err = spell.NewFromFile(*wordsFile)
		if err != nil {
			return err
		}
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "User > ",
		InterruptPrompt: "^C",
		EOFPrompt:       "bye",
	})
	if err != nil {
		return fmt.Errorf("init readline: %w", err)
	}
	defer rl.Close()

	return repl(rl, r, corrector, dialog.ParseMode(*modeName))
}

func buildRouter(dataDir, baseURL, model string, timeout time.Duration) (*router.Router, error) {
	engine, err := aiml.Load(dataDir)
	if err != nil {
		return nil, fmt.Errorf("load patterns: %w", err)
	}
	adapter, err := pattern.NewAdapter(engine)
	if err != nil {
		return nil, err
	}

	var gen router.GenerativeResponder
	if token := os.Getenv("OPENAI_API_KEY"); token != "" {
		client, err := generative.New(generative.Config{
			BaseURL: baseURL,
			Model:   model,
			Token:   token,
			Timeout: timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("init generative client: %w", err)
		}
		gen = client
	}

	return router.New(router.Config{
		History:    inmemory.New(),
		Pattern:    adapter,
		Generative: gen,
		Overrides:  override.Default(),
		Logger:     zap.NewNop(),
	})
}

func repl(rl *readline.Instance, r *router.Router, corrector *spell.Corrector, mode dialog.Mode) error {
	botPrefix := color.New(color.FgCyan, color.Bold).Sprint("bot > ")
	sessionID := ""

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			fmt.Println("Goodbye!")
			return nil
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		switch strings.ToLower(line) {
		case "quit", "exit", "bye":
			fmt.Println("Goodbye!")
			return nil
		}

		if corrector != nil {
			line = corrector.CorrectAll(line)
		}
		res, err := r.Route(context.Background(), line, sessionID, mode)
		if err != nil {
			fmt.Fprintln(os.Stderr, "parley:", err)
			continue
		}
		sessionID = res.SessionID
		fmt.Println(botPrefix + res.Text)
	}
}
