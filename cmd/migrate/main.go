package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"flowtale/internal/config"
	"flowtale/internal/database"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.uber.org/zap"
)

const usage = `Usage: migrate [flags] <command> [arg]

Commands:
  up            apply all pending migrations
  down          roll back all migrations
  steps <n>     apply (n > 0) or roll back (n < 0) n migrations
  force <v>     set schema version without running migrations
  version       print current schema version
`

func main() {
	timeout := flag.Duration("timeout", 2*time.Minute, "Overall timeout for the command")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	initLogger()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pool, err := database.ConnectPostgres(ctx, database.PostgresOptions{
		DSN:   cfg.GetDSN(),
		Retry: database.Retry{Attempts: cfg.ConnectRetries, Delay: cfg.ConnectInterval},
	}, zap.NewNop())
	if err != nil {
		log.Fatal().Err(err).Str("dsn", cfg.MaskedDSN()).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	if err := run(ctx, database.NewMigrator(pool), flag.Args()); err != nil {
		log.Fatal().Err(err).Str("command", flag.Arg(0)).Msg("Migration command failed")
	}
}

// migrator - операции, которые умеет выполнять CLI.
type migrator interface {
	Up(ctx context.Context) error
	Down(ctx context.Context) error
	Steps(ctx context.Context, n int) error
	ForceVersion(ctx context.Context, version int) error
	Version(ctx context.Context) (uint, bool, error)
}

func run(ctx context.Context, m migrator, args []string) error {
	switch args[0] {
	case "up":
		return m.Up(ctx)
	case "down":
		return m.Down(ctx)
	case "steps":
		n, err := intArg(args)
		if err != nil {
			return err
		}
		return m.Steps(ctx, n)
	case "force":
		v, err := intArg(args)
		if err != nil {
			return err
		}
		return m.ForceVersion(ctx, v)
	case "version":
		version, dirty, err := m.Version(ctx)
		if err != nil {
			return err
		}
		log.Info().Uint("version", version).Bool("dirty", dirty).Msg("Current schema version")
		return nil
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func intArg(args []string) (int, error) {
	if len(args) < 2 {
		return 0, fmt.Errorf("command %q requires an integer argument", args[0])
	}
	n, err := strconv.Atoi(args[1])
	if err != nil {
		return 0, fmt.Errorf("invalid argument %q: %w", args[1], err)
	}
	return n, nil
}

// initLogger настраивает глобальный zerolog логгер
func initLogger() {
	zerolog.TimeFieldFormat = time.RFC3339
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		log.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	logLevel := zerolog.InfoLevel
	if lvl, err := zerolog.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil && lvl != zerolog.NoLevel {
		logLevel = lvl
	}
	zerolog.SetGlobalLevel(logLevel)
}
