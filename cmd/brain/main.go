package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ashita-ai/brain"
	"github.com/ashita-ai/brain/internal/auth"
	"github.com/ashita-ai/brain/internal/config"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	// UnmarshalText leaves the level at info for empty or unknown values.
	var level slog.Level
	_ = level.UnmarshalText([]byte(os.Getenv("BRAIN_LOG_LEVEL")))
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	if len(os.Args) > 1 && os.Args[1] == "token" {
		if err := issueToken(os.Args[2:], logger); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			return 1
		}
		return 0
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	app, err := brain.New(
		brain.WithVersion(version),
		brain.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	return app.Run(ctx)
}

// issueToken prints an admin token for the actor named in args. It needs
// BRAIN_JWT_SECRET so the running server accepts the token.
func issueToken(args []string, logger *slog.Logger) error {
	if len(args) != 1 || args[0] == "" {
		return errors.New("usage: brain token <actor>")
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.JWTSecret == "" {
		return errors.New("BRAIN_JWT_SECRET is not set; a token signed with an ephemeral secret would be useless")
	}
	mgr, err := auth.NewJWTManager(cfg.JWTSecret, 24*time.Hour, logger)
	if err != nil {
		return err
	}
	token, exp, err := mgr.IssueToken(args[0], auth.RoleAdmin)
	if err != nil {
		return err
	}
	fmt.Println(token)
	fmt.Fprintln(os.Stderr, "expires:", exp.Format(time.RFC3339))
	return nil
}
