package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/zhouzirui/ragbot/backend/internal/config"
	"github.com/zhouzirui/ragbot/backend/internal/handler"
	"github.com/zhouzirui/ragbot/backend/internal/service/ai"
	"github.com/zhouzirui/ragbot/backend/internal/service/chat"
	"github.com/zhouzirui/ragbot/backend/internal/service/conversation"
	"github.com/zhouzirui/ragbot/backend/internal/service/events"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	// Optional append-event feed
	var storeOpts []chat.Option
	if cfg.Events.Enabled() {
		sink, err := events.NewRedisSink(cfg.Events)
		if err != nil {
			log.Printf("warning: failed to connect to redis: %v", err)
			log.Println("continuing without session events")
		} else {
			publisher := events.NewPublisher(sink, cfg.Events.Buffer)
			defer publisher.Close()
			storeOpts = append(storeOpts, chat.WithObserver(publisher))
			log.Printf("session events published to redis %s", cfg.Events.RedisAddr)
		}
	}
	store := chat.NewStore(storeOpts...)

	inference := newInferenceClient(ctx, cfg.AI)

	orchestrator, err := conversation.New(store, inference, cfg.AI.SystemPrompt)
	if err != nil {
		log.Fatalf("failed to create orchestrator: %v", err)
	}

	router := handler.NewRouter(orchestrator, cfg.Server.SessionKey)

	startServer(ctx, cfg.Server, router)
}

// newInferenceClient falls back to echo replies when no model is usable.
func newInferenceClient(ctx context.Context, aiCfg config.AIConfig) conversation.InferenceClient {
	if !aiCfg.Enabled() {
		log.Printf("AI provider %q not configured, replying with echo", aiCfg.Provider)
		return ai.EchoClient{}
	}

	chatModel, err := aiCfg.NewChatModel(ctx)
	if err != nil {
		log.Printf("warning: failed to initialize chat model: %v", err)
		log.Println("continuing with echo replies")
		return ai.EchoClient{}
	}

	client, err := ai.NewClient(chatModel, aiCfg.InferenceTimeout)
	if err != nil {
		log.Printf("warning: failed to initialize AI client: %v", err)
		return ai.EchoClient{}
	}

	log.Printf("AI service initialized, provider=%s model=%s", aiCfg.Provider, aiCfg.Model)
	return client
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("chat backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
