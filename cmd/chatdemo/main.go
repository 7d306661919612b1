// Command chatdemo is a small chat application built on the chansock
// library: gin routing, JWT identity, Redis-backed rate limiting,
// Postgres chat history, and Kafka cross-instance push replication
// wired around the core channel-socket server and router. Bootstraps
// with viper config, slog logging, and graceful shutdown on
// SIGINT/SIGTERM.
package main

// @title           chatdemo API
// @version         1.0
// @description     Demo application built on the chansock channel-socket library
// @host            localhost:8080
// @BasePath        /
// @schemes         http https

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "chansock/cmd/chatdemo/docs"
	"chansock/event"
	"chansock/internal/demo/auth"
	"chansock/internal/demo/config"
	"chansock/internal/demo/database"
	"chansock/internal/demo/history"
	demokafka "chansock/internal/demo/kafka"
	"chansock/internal/demo/ratelimit"
	"chansock/registry"
	"chansock/router"
	"chansock/server"
)

func main() {
	log := slog.Default()

	cfg, err := config.Load()
	if err != nil {
		log.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	redisClient, err := database.NewRedis(cfg.Redis)
	if err != nil {
		log.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	db, err := database.NewPostgres(cfg.Postgres)
	if err != nil {
		log.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	historyStore := database.NewHistoryStore(db)

	issuer := auth.NewIssuer(cfg.JWT)
	limiter := ratelimit.New(redisClient)

	origin := fmt.Sprintf("chatdemo-%d", os.Getpid())
	producer, err := demokafka.NewProducer(cfg.Kafka, origin, log)
	if err != nil {
		log.Warn("kafka producer unavailable, cross-instance replication disabled", "error", err)
	} else {
		defer producer.Close()
	}

	chsk := server.New(server.Config{
		UserIDFn:    issuer.UserIDFn,
		CSRFTokenFn: auth.TokenFn,
		Logger:      log,
	})

	if producer != nil {
		consumer, err := demokafka.NewConsumer(cfg.Kafka, origin, log)
		if err != nil {
			log.Warn("kafka consumer unavailable, cross-instance replication disabled", "error", err)
		} else {
			defer consumer.Close()
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go func() {
				err := consumer.Run(ctx, func(pm demokafka.PushMessage) {
					ev := event.Event{ID: pm.EventID, Payload: pm.Payload, HasPay: pm.HasPay}
					chsk.Push(registry.UID(pm.UID), ev)
				})
				if err != nil {
					log.Error("kafka consumer stopped", "error", err)
				}
			}()
		}
	}

	stopRouter := router.Start(chsk.Receive(), func(msg server.EventMsg) {
		handleEvent(chsk, historyStore, producer, msg, log)
	}, router.Options{Logger: log})
	defer stopRouter()

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), auth.CSRFMiddleware)

	api := r.Group("/api/v1")
	api.POST("/auth/login", issuer.LoginHandler)
	history.NewHandler(historyStore).Register(api)

	chskGroup := r.Group(cfg.Server.Path)
	chskGroup.Use(ratelimit.GinByIP(limiter, 30, time.Minute))
	chskGroup.GET("", gin.WrapF(chsk.HandshakeOrPoll))
	chskGroup.POST("", gin.WrapF(chsk.AjaxPost))

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("chatdemo starting", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("chatdemo shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error("server forced to shutdown", "error", err)
	}
}

// handleEvent is the application's router.Start handler: the only place
// chatdemo-specific logic lives, everything upstream of it is the
// reusable channel-socket library.
func handleEvent(chsk *server.Server, historyStore *database.HistoryStore, producer *demokafka.Producer, msg server.EventMsg, log *slog.Logger) {
	switch msg.Event.ID {
	case event.UIDPortOpen:
		log.Info("uid connected", "uid", msg.UID)
	case event.UIDPortClose:
		log.Info("uid disconnected", "uid", msg.UID)
	case event.BadEventID, event.BadPackage:
		log.Warn("protocol violation", "uid", msg.UID, "event", msg.Event.AsSlice())
	case "app/ping":
		if msg.Reply != nil {
			msg.Reply("pong")
		}
	case "app/dm":
		dm, ok := msg.Event.Payload.(map[string]any)
		if !ok {
			if msg.Reply != nil {
				msg.Reply("bad dm payload")
			}
			return
		}
		to, _ := dm["to"].(string)
		body, _ := dm["body"].(string)
		if to == "" || body == "" {
			if msg.Reply != nil {
				msg.Reply("dm requires to and body")
			}
			return
		}
		if err := historyStore.Record(string(msg.UID), to, body); err != nil {
			log.Warn("failed to persist chat message", "error", err)
		}
		deliverEv := event.New("app/dm", map[string]any{"from": string(msg.UID), "body": body})
		chsk.Push(registry.UID(to), deliverEv)
		if producer != nil {
			if err := producer.Publish(to, deliverEv.ID, deliverEv.Payload, true); err != nil {
				log.Warn("failed to replicate push", "error", err)
			}
		}
		if msg.Reply != nil {
			msg.Reply("sent")
		}
	default:
		log.Debug("unhandled event", "id", msg.Event.ID, "uid", msg.UID)
	}
}
