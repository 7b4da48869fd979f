package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"linguaflow/voice/internal/analysis"
	"linguaflow/voice/internal/api"
	"linguaflow/voice/internal/config"
	"linguaflow/voice/internal/corrections"
	"linguaflow/voice/internal/llm"
	"linguaflow/voice/internal/session"
	"linguaflow/voice/internal/speech"
	"linguaflow/voice/internal/store"
	"linguaflow/voice/internal/types"
)

func main() {
	// Load .env file if present (ignored if missing)
	_ = godotenv.Load()

	cfg := config.Load()

	repo := store.New()
	llmClient := llm.New(cfg.LLM.APIKey, cfg.LLM.Model)
	pipeline := analysis.New(repo, llmClient)
	aggregator := corrections.New(repo, llmClient)

	speechCfg := speech.Config{
		APIKey:      cfg.Speech.APIKey,
		URL:         cfg.Speech.WSURL,
		Model:       cfg.Speech.Model,
		Voice:       cfg.Speech.Voice,
		MaxAttempts: cfg.Speech.ReconnectMax,
		BackoffBase: time.Duration(cfg.Speech.ReconnectBaseMs) * time.Millisecond,
	}
	dial := func(ctx context.Context, sessionID string, sctx types.Context) (session.Upstream, error) {
		return speech.Dial(ctx, speechCfg, sessionID, sctx)
	}

	sessions := session.NewStore(session.Options{
		IdleTTL:             time.Duration(cfg.Session.IdleTTLSeconds) * time.Second,
		EventCap:            cfg.Session.EventCap,
		AnalysisJoinTimeout: time.Duration(cfg.Session.AnalysisJoinTimeoutSec) * time.Second,
	}, dial, repo, pipeline)
	defer sessions.Close()

	h := api.NewHandlers(sessions, aggregator, repo)
	mux := http.NewServeMux()
	mux.Handle("/", api.NewRouter(h))
	mux.Handle("/metrics", promhttp.Handler())

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.WithRequestLog(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Graceful shutdown on SIGINT/SIGTERM
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigc
		log.Printf("shutdown signal received; stopping server...")
		// End live sessions so upstream connections close and in-flight
		// analysis gets its bounded flush before HTTP drains.
		endCtx, endCancel := context.WithTimeout(context.Background(), 15*time.Second)
		for _, id := range sessions.LiveSessionIDs() {
			if err := sessions.End(endCtx, id); err != nil {
				log.Printf("end session %s on shutdown: %v", id, err)
			}
		}
		endCancel()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}()

	log.Printf("server starting on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Println("server error:", err)
		os.Exit(1)
	}
}
