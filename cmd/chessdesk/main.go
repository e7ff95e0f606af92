// chessdesk is the local backend of the desktop chess application. The UI
// process connects to ws://<host>:<port>/ws and issues commands over it.
//
// Configuration comes from CHESSDESK_* environment variables; flags given
// on the command line take precedence.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/sethfduke/chessdesk/auth"
	"github.com/sethfduke/chessdesk/config"
	"github.com/sethfduke/chessdesk/dispatch"
	"github.com/sethfduke/chessdesk/logging"
	"github.com/sethfduke/chessdesk/server"
	"github.com/sethfduke/chessdesk/storage"
	"github.com/sethfduke/chessdesk/tasks"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	flagSet := pflag.NewFlagSet("chessdesk", pflag.ContinueOnError)
	flagSet.StringVar(&cfg.Host, "host", cfg.Host, "address to bind")
	flagSet.IntVarP(&cfg.Port, "port", "p", cfg.Port, "port to listen on")
	flagSet.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	flagSet.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "root of the logs, settings and dbs directories")
	flagSet.IntVar(&cfg.Workers, "workers", cfg.Workers, "maximum concurrently running commands (0: one per CPU)")
	flagSet.DurationVar(&cfg.CloseGrace, "close-grace", cfg.CloseGrace, "how long a closing connection waits for its commands")
	printToken := flagSet.Duration("print-token", 0, "print a session token valid for this long and exit")
	showVersion := flagSet.Bool("version", false, "print the version and exit")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}

	if *showVersion {
		fmt.Println("chessdesk", tasks.Version)
		return nil
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if *printToken > 0 {
		tok, err := auth.CreateToken([]byte(cfg.TokenSecret), "desktop", config.AppName, *printToken)
		if err != nil {
			return fmt.Errorf("%s_TOKEN_SECRET: %w", config.Prefix, err)
		}
		fmt.Println(tok)
		return nil
	}

	paths, err := config.ResolvePaths(cfg)
	if err != nil {
		return err
	}
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	log, logFile, err := logging.Setup(level, paths.LogDir)
	if err != nil {
		return err
	}
	defer logFile.Close()

	log.Info("starting chessdesk",
		"version", tasks.Version,
		"log_dir", paths.LogDir,
		"settings_dir", paths.SettingsDir,
		"database", paths.DatabasePath,
	)

	table, err := dispatch.NewTable(tasks.Commands()...)
	if err != nil {
		return err
	}
	opts := append(server.FromConfig(cfg, paths),
		server.WithLogger(log),
		server.WithStorage(storage.Default),
		server.WithVersion(tasks.Version),
	)
	srv, err := server.NewServer(table, opts...)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve() }()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.CloseGrace+5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown incomplete", "err", err)
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
