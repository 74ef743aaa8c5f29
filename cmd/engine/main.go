package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/meetscribe/session-engine/cmd/engine/config"
	"github.com/meetscribe/session-engine/cmd/engine/session"
)

const (
	startTimeout = 30 * time.Second
)

func slogReplaceAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.SourceKey {
		source := a.Value.Any().(*slog.Source)
		if source.File == "" {
			// Log from a dependency (e.g. websocket transport).
			if pc, file, line, ok := runtime.Caller(7); ok {
				if f := runtime.FuncForPC(pc); f != nil {
					source.File = filepath.Base(filepath.Dir(file)) + "/" + filepath.Base(file)
					source.Line = line
				}
			}
		} else {
			source.File = filepath.Base(source.File)
		}
	}
	return a
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		AddSource:   true,
		Level:       slog.LevelDebug,
		ReplaceAttr: slogReplaceAttr,
	}))
	slog.SetDefault(logger)

	// Local development keeps credentials in a .env file; absence is fine.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to load .env file", slog.String("err", err.Error()))
	}

	cfg, secrets, err := config.FromEnv()
	if err != nil {
		slog.Error("failed to load config", slog.String("err", err.Error()))
		os.Exit(1)
	}
	cfg.SetDefaults()
	if err := cfg.IsValid(); err != nil {
		slog.Error("invalid config", slog.String("err", err.Error()))
		os.Exit(1)
	}

	sink := session.NewStitchSink(session.LogSink{}, nil)
	engine := session.NewEngine(sink)

	slog.Info("starting session",
		slog.String("provider", string(cfg.ASRProvider)),
		slog.String("audioSource", string(cfg.AudioSourceMode)))

	ctx, cancel := context.WithTimeout(context.Background(), startTimeout)
	defer cancel()
	if err := engine.Start(ctx, cfg, secrets); err != nil {
		slog.Error("failed to start session", slog.String("err", err.Error()))
		os.Exit(1)
	}

	slog.Info("session has started")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	slog.Info("received signal, stopping session")
	engine.Stop()

	for _, line := range sink.TranscriptLines() {
		slog.Info("transcript line", slog.String("text", line.Text))
	}
	for _, line := range sink.TranslationLines() {
		slog.Info("translation line", slog.String("text", line.Text))
	}

	slog.Info("session has finished, exiting")
}
