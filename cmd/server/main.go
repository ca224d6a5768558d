package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"paklaw.com/paklaw-assist/internal/api"
	"paklaw.com/paklaw-assist/internal/app"
	"paklaw.com/paklaw-assist/internal/auth"
	"paklaw.com/paklaw-assist/internal/config"
	"paklaw.com/paklaw-assist/internal/logging"
)

func main() {
	cfg := config.LoadConfig()

	corpusPath := flag.String("corpus", cfg.CorpusPath, "Offline corpus file (.csv, .yaml or .yml)")
	flag.Parse()
	cfg.CorpusPath = *corpusPath

	logger := logging.Init(cfg.LogLevel, cfg.LogFormat)
	if cfg.JWTSecret == "" {
		logger.Error("JWT_SECRET must be set to run the server")
		os.Exit(1)
	}

	ctx := context.Background()
	application, err := app.New(ctx, cfg)
	if err != nil {
		logger.Error("Failed to start", "error", err)
		os.Exit(1)
	}
	defer application.Close()

	apiHandler := api.NewAPIHandler(application.Chat, auth.NewTokenIssuer(cfg.JWTSecret, cfg.SessionTTL))
	router := api.NewRouter(apiHandler)

	serverAddr := fmt.Sprintf(":%s", cfg.HTTPPort)
	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.LLMTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("Starting server", "addr", serverAddr, "online", cfg.OnlineEnabled(), "chat_store", cfg.ChatStore)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Could not listen", "addr", serverAddr, "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}

	// open chats are flushed by application.Close
	slog.Info("Server exiting gracefully")
}
