package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "docuflow/api/swagger" // swagger docs
	"docuflow/internal/config"
	"docuflow/internal/database"
	"docuflow/internal/handler"
	"docuflow/internal/middleware"
	"docuflow/internal/repository"
	"docuflow/internal/service"
	"docuflow/internal/storage"
	"docuflow/internal/websocket"
	"docuflow/pkg/logger"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// @title           Docuflow API
// @version         1.0
// @description     Controlled document lifecycle: drafting, review, approval, versioning and notifications.
// @host            localhost:8080
// @BasePath        /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log, err := logger.New(cfg.GinMode)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewConnection(cfg)
	if err != nil {
		log.Fatal("database connection failed", "driver", cfg.DBDriver, "error", err)
	}
	log.Info("database connected", "driver", cfg.DBDriver)

	store, err := storage.New(ctx, cfg)
	if err != nil {
		log.Fatal("file storage unavailable", "driver", cfg.StorageDriver, "error", err)
	}

	// Set up WebSocket Hub
	wsHub := websocket.NewHub(log, cfg.CORSOrigins)
	go wsHub.Run(ctx)

	var pusher service.Pusher = wsHub
	if cfg.RedisAddr != "" {
		relay, err := websocket.NewRelay(wsHub, cfg.RedisAddr, cfg.RedisChannel, log)
		if err != nil {
			log.Fatal("redis relay unavailable", "addr", cfg.RedisAddr, "error", err)
		}
		defer relay.Close()
		if err := relay.Start(ctx); err != nil {
			log.Fatal("redis relay subscribe failed", "error", err)
		}
		pusher = relay
		log.Info("notification relay enabled", "channel", cfg.RedisChannel)
	}

	// Repository -> Service -> Handler
	txManager := repository.NewTransactionManager(db)
	userRepo := repository.NewUserRepository(db)
	documentRepo := repository.NewDocumentRepository(db)
	historyRepo := repository.NewHistoryRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

	tokens := service.NewTokenIssuer(cfg.JWTSecret, cfg.AccessTokenTTL)
	userService := service.NewUserService(userRepo, tokens, cfg.RefreshTokenTTL, log)
	historyService := service.NewHistoryService(historyRepo)
	notificationService := service.NewNotificationService(notificationRepo, userRepo, pusher, service.DefaultNotifierOptions(), log)
	documentService := service.NewDocumentService(txManager, documentRepo, historyService, store, log)
	workflowService := service.NewWorkflowService(txManager, documentRepo, historyService, notificationService, store, log)

	if cfg.AdminUsername != "" && cfg.AdminPassword != "" {
		created, err := userService.EnsureAdmin(ctx, service.CreateUserRequest{
			Username: cfg.AdminUsername,
			Email:    cfg.AdminEmail,
			Password: cfg.AdminPassword,
			FullName: cfg.AdminFullName,
		})
		if err != nil {
			log.Fatal("failed to seed admin user", "error", err)
		}
		if created {
			log.Info("admin user created", "username", cfg.AdminUsername)
		}
	}

	auth := middleware.NewAuth(tokens, userRepo, cfg.RefreshTokenTTL, cfg.GinMode == gin.ReleaseMode)

	router := gin.New()
	router.Use(middleware.Recovery(log), middleware.RequestLogger(log))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.CORSOrigins
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", "Accept", "X-Request-ID"}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.ExposeHeaders = []string{"Content-Disposition", "X-Request-ID"}
	router.Use(cors.New(corsConfig))

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "OK"})
	})

	router.GET("/ws", func(c *gin.Context) {
		websocket.ServeWs(wsHub, c, func(ctx context.Context, token string) (uuid.UUID, error) {
			user, err := auth.Verify(ctx, token)
			if err != nil {
				return uuid.Nil, err
			}
			return user.ID, nil
		})
	})

	api := &router.RouterGroup
	handler.NewAuthHandler(userService, auth).RegisterRoutes(api)
	handler.NewUserHandler(userService, auth).RegisterRoutes(api)
	handler.NewDocumentHandler(documentService, workflowService, historyService, auth).RegisterRoutes(api)
	handler.NewNotificationHandler(notificationService, auth).RegisterRoutes(api)
	handler.NewHistoryHandler(historyService, auth).RegisterRoutes(api)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("server listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
	notificationService.Wait()
}
