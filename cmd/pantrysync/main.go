package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dmitrijs2005/pantrysync/internal/client/app"
	"github.com/dmitrijs2005/pantrysync/internal/client/cli"
	"github.com/dmitrijs2005/pantrysync/internal/client/config"
	"github.com/dmitrijs2005/pantrysync/internal/filex"
	"github.com/dmitrijs2005/pantrysync/internal/logging"
)

func main() {
	cfg := config.LoadConfig()

	logDir, err := filex.EnsureSubDir(cfg.DataDir, "logs")
	if err != nil {
		log.Fatalf("%v", err)
	}
	logFile, err := os.OpenFile(filepath.Join(logDir, "pantrysync.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer logFile.Close()
	logger := logging.NewJSONLogger(logFile, cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	initSignalHandler(cancel)

	engine := app.New(cfg, app.Deps{Log: logger})
	if err := engine.Init(ctx); err != nil {
		log.Fatalf("%v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := engine.Run(ctx); err != nil {
			logger.Error(ctx, "engine stopped", "error", err)
		}
	}()

	// Root blocks on stdin, so a signal ends the process without waiting for it.
	repl := make(chan struct{})
	go func() {
		defer close(repl)
		cli.NewApp(engine, os.Stdin, os.Stdout).Root(ctx)
	}()
	select {
	case <-repl:
	case <-ctx.Done():
	}
	cancel()
	<-done

	dctx, dcancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer dcancel()
	if err := engine.Dispose(dctx); err != nil {
		logger.Error(dctx, "shutdown failed", "error", err)
	}
}

func initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}
