package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/mikeboe/research-chat/pkg/app"
	"github.com/mikeboe/research-chat/pkg/chat"
	"github.com/mikeboe/research-chat/pkg/config"
	"github.com/mikeboe/research-chat/pkg/server"
)

const version = "0.1.0"

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "optional YAML config file")
	flag.Parse()

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	kb, err := app.OpenKnowledge(ctx, cfg)
	if err != nil {
		slog.Error("Failed to open knowledge base", "error", err)
		os.Exit(1)
	}
	if kb != nil {
		defer kb.Close()
	}

	chatSvc, err := app.NewChatService(ctx, cfg, kb)
	if err != nil {
		slog.Error("Failed to init chat service", "error", err)
		os.Exit(1)
	}

	sessions := chat.NewSessions(cfg.SessionTTL)
	go sessions.Run(ctx)

	tools := &server.Tools{
		Searcher:         chatSvc.Searcher,
		Planner:          chatSvc.Planner,
		SearchMaxResults: cfg.SearchMaxResults,
		DeepMaxResults:   cfg.DeepMaxResults,
	}
	var jobs *server.Service
	if kb != nil {
		tools.Knowledge = kb.Retriever()
		jobs = server.NewService(kb.DB, kb.Pipeline, cfg.CollectionName)
	}

	handler := server.NewHandler(chatSvc, sessions, jobs, server.NewMCPHandler(server.NewMCPServer(tools, version)))

	r := gin.Default()

	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Mcp-Session-Id"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition", "Mcp-Session-Id"},
		AllowCredentials: true,
	}))

	handler.RegisterRoutes(r)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("Server starting", "port", cfg.Port, "knowledge", kb != nil)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Failed to start server", "error", err)
		os.Exit(1)
	}
}
