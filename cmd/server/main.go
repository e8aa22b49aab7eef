package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"track-and-trace/internal/config"
	"track-and-trace/internal/middlewares"
	"track-and-trace/internal/modules/delivery"
	"track-and-trace/internal/modules/order"
	"track-and-trace/internal/modules/realtime"
	"track-and-trace/internal/notify"
	"track-and-trace/internal/queue"
	"track-and-trace/pkg/payment"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	ctx := context.Background()

	dbpool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("unable to create connection pool: %v", err)
	}
	defer dbpool.Close()
	if err := dbpool.Ping(ctx); err != nil {
		log.Fatalf("unable to reach database: %v", err)
	}

	// Repositories
	orderRepo := order.NewRepository(dbpool)
	productRepo := order.NewProductRepository(dbpool)
	agentRepo := delivery.NewAgentRepository(dbpool)

	// Realtime hub
	hub := realtime.NewHub()

	// Delivery flow
	assignment := delivery.NewAssignmentService(agentRepo)
	sm := delivery.NewStateMachine(orderRepo, assignment, hub, delivery.Timing{
		PreparingDelay:      cfg.PreparingDelay,
		OutForDeliveryDelay: cfg.OutForDeliveryDelay,
		SLAPrepaid:          cfg.DeliverySLAPrepaid,
		SLACOD:              cfg.DeliverySLACOD,
	})

	if cfg.AWSRegion != "" && cfg.NotifyFromEmail != "" {
		mailer, err := notify.NewEmailService(ctx, cfg.AWSRegion, cfg.NotifyFromEmail)
		if err != nil {
			log.Printf("delivered emails disabled: %v", err)
		} else {
			sm.WithMailer(mailer)
		}
	}

	gateway := payment.NewStripeGateway(cfg.StripeAPIKey, cfg.StripeWebhookSecret)
	orderService := order.NewService(orderRepo, productRepo, sm, hub, gateway)

	// Message queue is optional: without a broker the service still runs,
	// it just skips lifecycle events and the unpaid-order check.
	var rabbit *queue.RabbitMQ
	if cfg.RabbitMQURL != "" {
		rabbit, err = queue.NewRabbitMQ(cfg)
		if err != nil {
			log.Printf("rabbitmq disabled: %v", err)
		} else {
			defer rabbit.Close()
			if err := rabbit.SetupQueues(); err != nil {
				log.Fatalf("failed to declare queues: %v", err)
			}
			sm.WithEvents(rabbit)
			orderService.WithEvents(rabbit, cfg.PaymentCheckDelay)
			if err := queue.StartOrderConsumer(rabbit, orderService); err != nil {
				log.Fatalf("failed to start order consumer: %v", err)
			}
		}
	}

	// Re-arm delivery timers that were pending when the last process died.
	if err := sm.Recover(ctx); err != nil {
		log.Fatalf("failed to recover delivery timers: %v", err)
	}

	orderHandler := order.NewHandler(orderService)
	wsHandler := realtime.NewHandler(hub, cfg.JWTSecret, cfg.ClientOrigin)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middlewares.Prometheus())
	origins := []string{"*"}
	if cfg.ClientOrigin != "" {
		origins = []string{cfg.ClientOrigin}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/ws", wsHandler.Serve)
	e.POST("/webhooks/payment", orderHandler.HandlePaymentWebhook)

	api := e.Group("/api", middlewares.Auth(cfg.JWTSecret))
	orderHandler.RegisterRoutes(api)

	go func() {
		if err := e.Start(":" + cfg.ServerPort); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("server shutdown failed: %v", err)
	}
	log.Println("server shutdown complete")
}
