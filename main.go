package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"chatroom-service/internal/config"
	"chatroom-service/internal/db"
	grpchealth "chatroom-service/internal/grpc"
	"chatroom-service/internal/handlers"
	"chatroom-service/internal/middleware"
	"chatroom-service/internal/observability"
	"chatroom-service/internal/rabbitmq"
	"chatroom-service/internal/repositories"
	"chatroom-service/internal/retention"
	"chatroom-service/internal/telemetry"
	"chatroom-service/internal/ws"
)

const auditRoutingKey = "audit.chat"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.ServiceName, cfg.Environment, cfg.OTLPEndpoint)
	if err != nil {
		log.Fatalf("failed to init tracing: %v", err)
	}

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	log.Printf("amqp publisher mode=%s reason=%s", rabbitmq.PublisherMode(publisher), rabbitmq.PublisherNoopReason(publisher))
	observability.SetPublisher(publisher)
	auditEmitter := telemetry.NewAuditEmitter(publisher, auditRoutingKey, cfg.ServiceName, cfg.Environment)

	database, err := db.Connect(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}

	sessionRepo := repositories.NewSessionRepo(database, cfg.SessionTTL)
	messageRepo := repositories.NewMessageRepo(database)

	codes, err := sessionRepo.EnsureAccessCodes(ctx, cfg.AccessCodePoolSize)
	if err != nil {
		log.Fatalf("failed to seed access codes: %v", err)
	}
	if len(codes) > 0 {
		log.Printf("generated %d access codes: %v", len(codes), codes)
	}

	sweeper := retention.NewSweeper(
		retention.MessageRetentionJob(messageRepo, cfg.RetentionMonths, cfg.RetentionInterval, time.Now),
		retention.SessionExpiryJob(sessionRepo, cfg.SessionSweepInterval),
	)
	sweeper.Start(ctx)

	hub := ws.NewHub()
	gateway := ws.NewGateway(hub, sessionRepo, messageRepo, auditEmitter, ws.OptionsFromConfig(cfg))

	authHandler := handlers.NewAuthHandler(sessionRepo, auditEmitter, handlers.CookieSettings{
		Name:   cfg.SessionCookieName,
		MaxAge: cfg.SessionTTL,
		Secure: cfg.CookieSecure,
	})
	chatHandler := handlers.NewChatHandler(sessionRepo, messageRepo, gateway, cfg.HistoryQueryLimit)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	// middlewares
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(observability.RequestIDMiddleware())
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", handlers.Healthz(database))

	router.POST("/api/register", authHandler.Register)
	router.POST("/api/login", authHandler.Login)
	router.POST("/api/logout", authHandler.Logout)
	router.GET("/api/check-session", authHandler.CheckSession)

	authMiddleware := middleware.SessionAuth(sessionRepo, cfg.SessionCookieName)
	api := router.Group("/api", authMiddleware)
	api.GET("/users", chatHandler.ListUsers)
	api.GET("/messages", chatHandler.GetMessages)
	api.GET("/unread-counts", chatHandler.GetUnreadCounts)
	api.POST("/mark-read", chatHandler.MarkRead)

	router.GET("/ws", gateway.Handle)

	handlers.RegisterDebugRoutes(router, auditEmitter, gateway.Presence(), cfg.DebugRoutes)

	var healthServer *grpchealth.HealthServer
	if cfg.GRPCHealthAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCHealthAddr)
		if err != nil {
			log.Fatalf("failed to listen grpc health: %v", err)
		}
		healthServer = grpchealth.NewHealthServer(cfg.ServiceName)
		go func() {
			if err := healthServer.Serve(lis); err != nil {
				log.Printf("grpc health server stopped: %v", err)
			}
		}()
	}

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("http listening addr=%s env=%s db=%s", cfg.Addr(), cfg.Environment, cfg.DBDriver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if healthServer != nil {
		healthServer.SetServing(false)
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	if err := gateway.Shutdown(shutdownCtx); err != nil {
		log.Printf("ws shutdown: %v", err)
	}
	sweeper.Wait()
	if healthServer != nil {
		healthServer.Stop()
	}
	if err := publisher.Close(); err != nil {
		log.Printf("amqp close: %v", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Printf("tracing shutdown: %v", err)
	}
	if err := database.Close(); err != nil {
		log.Printf("db close: %v", err)
	}
}
