package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"storefront/backend/internal/cache"
	"storefront/backend/internal/config"
	"storefront/backend/internal/httpapi"
	"storefront/backend/internal/notify"
	"storefront/backend/internal/payment"
	"storefront/backend/internal/receipt"
	"storefront/backend/internal/service"
	"storefront/backend/internal/store"
	"storefront/backend/internal/store/memory"
	pgstore "storefront/backend/internal/store/postgres"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatalf("invalid security configuration: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 3)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start with in-memory fallback", err)
		}
		if err := pg.Migrate(ctx); err != nil {
			log.Fatalf("postgres migration failed: %v", err)
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Println("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		log.Println("repository: in-memory")
	}

	var cacheStore cache.Store = cache.NewMemory()
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			log.Printf("redis unavailable (%v), using in-process cache", err)
		} else {
			cacheStore = redisCache
			closers = append(closers, redisCache.Close)
			log.Println("cache: redis")
		}
	} else {
		log.Println("cache: in-process")
	}

	gateway, err := payment.NewHMACGateway(cfg.GatewaySecret)
	if err != nil {
		log.Fatalf("payment gateway: %v", err)
	}

	receiptOpts := receipt.Options{StoreName: cfg.StoreName, Currency: cfg.Currency}
	dispatchers := []notify.Dispatcher{
		notify.LogDispatcher{},
		notify.NewAuditDispatcher(repo),
		notify.NewReceiptDispatcher(cacheStore, cfg.ReceiptSpoolKey, receiptOpts),
	}
	if len(cfg.KafkaBrokers) > 0 {
		kafka := notify.NewKafkaDispatcher(cfg.KafkaBrokers, cfg.NotificationTopic)
		dispatchers = append(dispatchers, kafka)
		closers = append(closers, kafka.Close)
		log.Printf("notifications: kafka topic=%s", cfg.NotificationTopic)
	}
	queue := notify.NewQueue(cfg.NotifyBufferSize, dispatchers...)
	queue.Start(context.Background())

	svc := service.New(repo, cacheStore, gateway, notify.NewNotifier(queue, cfg.ServiceName), service.Options{
		StoreName:     cfg.StoreName,
		Currency:      cfg.Currency,
		PaymentWindow: cfg.PaymentWindow(),
		CartTTL:       cfg.CartTTL(),
		SnapshotTTL:   cfg.SnapshotTTL(),
		DeliveryDays:  cfg.DeliveryDays,
	})
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      20 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("%s listening on %s", cfg.ServiceName, cfg.Address())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}

	queue.Close()
	queue.WaitClosed()

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Printf("close error: %v", err)
		}
	}

	log.Println("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if len(cfg.GatewaySecret) < 32 {
		return fmt.Errorf("PAYMENT_GATEWAY_SECRET must be set and at least 32 characters")
	}
	if cfg.GatewaySecret == cfg.AuthSecret {
		return fmt.Errorf("PAYMENT_GATEWAY_SECRET must differ from AUTH_SECRET")
	}
	return nil
}
