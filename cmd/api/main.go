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
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/peer-essay/backend/internal/config"
	"github.com/zhouzirui/peer-essay/backend/internal/handler"
	"github.com/zhouzirui/peer-essay/backend/internal/model/persona"
	roundmodel "github.com/zhouzirui/peer-essay/backend/internal/model/round"
	"github.com/zhouzirui/peer-essay/backend/internal/service/ai"
	"github.com/zhouzirui/peer-essay/backend/internal/service/round"
	"github.com/zhouzirui/peer-essay/backend/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 加载 .env 文件
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	catalog := persona.NewMemoryCatalog(persona.Seed())
	questions := roundmodel.NewQuestionBank(roundmodel.SeedQuestions())

	var generator ai.Generator = ai.OfflineGenerator{}
	if cfg.AI.Enabled() {
		aiService, err := ai.NewService(ctx, cfg.AI)
		if err != nil {
			log.Printf("warning: failed to initialize AI service: %v", err)
			log.Println("continuing with offline replies - 请检查 Ark 模型相关环境变量")
		} else {
			generator = aiService
			log.Printf("AI service initialized with model %s", cfg.AI.Model)
		}
	} else {
		log.Println("Ark 凭证未配置，使用离线回复")
	}

	var results store.Repository
	if cfg.Store.Enabled {
		sqliteStore, err := store.NewSQLite(cfg.Store.Path)
		if err != nil {
			log.Fatalf("failed to open result store: %v", err)
		}
		defer sqliteStore.Close()
		results = sqliteStore
		log.Printf("result store opened at %s", cfg.Store.Path)
	} else {
		log.Println("result store disabled by configuration")
	}

	deps := round.Deps{
		Catalog:   catalog,
		Questions: questions,
		Generator: generator,
		Prompts:   ai.NewPersonaPromptManager(cfg.AI.HistoryLimit),
		Sink:      results,
	}
	rounds := round.NewManager(ctx, deps, cfg.Round, cfg.Typing)

	router := handler.NewRouter(handler.Options{
		Catalog:        catalog,
		Rounds:         rounds,
		Results:        results,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return rounds.Run(gctx) })
	g.Go(func() error { return startServer(gctx, cfg.Server, router) })

	if err := g.Wait(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) error {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("peer essay backend listening on %s", addr)
	return runServer(ctx, srv)
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
