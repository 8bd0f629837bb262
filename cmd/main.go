package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/nvthai0611/doan-build-sub011/internal/clients"
	"github.com/nvthai0611/doan-build-sub011/internal/config"
	"github.com/nvthai0611/doan-build-sub011/internal/repository"
	"github.com/nvthai0611/doan-build-sub011/internal/service"
	"github.com/nvthai0611/doan-build-sub011/internal/transport/auth"
	"github.com/nvthai0611/doan-build-sub011/internal/transport/rest"
	"github.com/nvthai0611/doan-build-sub011/internal/transport/websocket"
	"github.com/nvthai0611/doan-build-sub011/pkg/database/postgres"

	"github.com/go-chi/chi/v5"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using system env or defaults")
	}

	// top-level context which we can cancel on shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cfg := config.Load()

	db := mustInitPostgres(cfg.Postgres)
	defer postgres.Close(db)

	redisClient := mustInitRedis(cfg.Redis)
	defer redisClient.Close()

	// QR images and discrepancy reports go to local disk by default;
	// multi-instance deployments switch to object storage.
	var mediaStorage service.QRStorage
	var localStorage *clients.StorageClient
	if cfg.S3.Enabled {
		s3Client, err := clients.NewS3Client(ctx, clients.S3Config{
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			Bucket:          cfg.S3.Bucket,
			UseSSL:          cfg.S3.UseSSL,
			Region:          cfg.S3.Region,
			Prefix:          cfg.S3.Prefix,
			URLTTL:          24 * time.Hour,
		})
		if err != nil {
			log.Fatalf("s3 init error: %v", err)
		}
		mediaStorage = s3Client
	} else {
		ls, err := clients.NewLocalStorage(cfg.MediaDir, cfg.FilesPublicPrefix, cfg.ExternalURL)
		if err != nil {
			log.Fatalf("storage init error: %v", err)
		}
		localStorage = ls
		mediaStorage = ls
	}

	wsHub := websocket.NewHub()
	go wsHub.Run(ctx)
	notifier := clients.NewPaymentNotifier(wsHub)
	receipts := clients.NewReceiptLogClient()

	gatewayClient := clients.NewQRGatewayClient(clients.GatewayConfig{
		BaseURL:       cfg.Gateway.BaseURL,
		ClientID:      cfg.Gateway.ClientID,
		APIKey:        cfg.Gateway.APIKey,
		BankAccount:   cfg.Gateway.BankAccount,
		BankName:      cfg.Gateway.BankName,
		AccountHolder: cfg.Gateway.AccountHolder,
		Timeout:       time.Duration(cfg.Gateway.Timeout) * time.Second,
	})

	feeRepo := repository.NewFeeRecordRepository(db)
	intentRepo := repository.NewPaymentIntentRepository(db)
	reconRepo := repository.NewReconciliationRepository(db)
	discrepancyRepo := repository.NewDiscrepancyRepository(db)
	tokenRepo := repository.NewPersonalAccessTokenRepository(db)

	reconciler := service.NewReconciler(intentRepo, reconRepo, feeRepo, discrepancyRepo, notifier, receipts, redisClient)

	scheduler := service.NewExpiryScheduler(reconciler, intentRepo, time.Duration(cfg.Payment.SweepSeconds)*time.Second)
	go scheduler.Run(ctx)

	intentSvc := service.NewIntentService(
		feeRepo, intentRepo, gatewayClient, mediaStorage, scheduler, redisClient,
		time.Duration(cfg.Payment.ExpiryMinutes)*time.Minute,
	)
	discrepancySvc := service.NewDiscrepancyService(discrepancyRepo, mediaStorage, notifier)

	tokenMiddleware := auth.TokenMiddleware(tokenRepo)
	requireStaff := auth.RequireAbility(auth.StaffAbility)

	handler := rest.NewHandler(intentSvc, reconciler, discrepancySvc,
		time.Duration(cfg.Payment.WebhookTimeoutSeconds)*time.Second)
	router := handler.InitRouterWithAuth(tokenMiddleware, requireStaff)

	// public root router; auth-protected routes are mounted underneath so
	// the gateway callback, file serving and health stay reachable
	// without a token
	root := chi.NewRouter()

	root.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// bank gateway posts transfer callbacks here; the gateway does not
	// carry our tokens, authenticity comes from the shared order codes
	root.Post("/gateway-callback", handler.GatewayCallback)

	// public: serve stored QR images and generated reports
	root.Get("/files/{file}", func(w http.ResponseWriter, r *http.Request) {
		if localStorage == nil {
			// object storage serves its own presigned URLs
			http.NotFound(w, r)
			return
		}
		file := chi.URLParam(r, "file")
		path := filepath.Join(localStorage.BaseDir, filepath.Base(file))
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				http.NotFound(w, r)
				return
			}
			http.Error(w, "failed to access file", http.StatusInternalServerError)
			return
		}
		http.ServeFile(w, r, path)
	})

	// websocket endpoint: payers subscribe to their order's topic with
	// ?order_code=; staff connect with a token and get their own topic
	// for report notifications
	root.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
		if orderStr := r.URL.Query().Get("order_code"); orderStr != "" {
			orderCode, err := strconv.ParseInt(orderStr, 10, 64)
			if err != nil || orderCode <= 0 {
				http.Error(w, "invalid order_code", http.StatusBadRequest)
				return
			}
			wsHub.HandleWebSocket(w, r, clients.OrderTopic(orderCode))
			return
		}

		token := r.URL.Query().Get("token")
		if token == "" {
			http.Error(w, "order_code or token required", http.StatusBadRequest)
			return
		}
		pat, err := tokenRepo.FindTokenByPlainToken(r.Context(), token)
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		if pat.ExpiresAt != nil && pat.ExpiresAt.Before(time.Now()) {
			http.Error(w, "Token expired", http.StatusUnauthorized)
			return
		}

		log.Printf("WS connected: user_id=%d", pat.UserID)
		wsHub.HandleWebSocket(w, r, clients.StaffTopic(pat.UserID))
	})

	// mount protected router on root
	root.Mount("/", router)

	corsHandler := withCORS(root)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      corsHandler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Run HTTP server in goroutine so we can listen for shutdown signals
	srvErr := make(chan error, 1)
	go func() {
		log.Printf("HTTP server listening on :%s\n", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			srvErr <- err
			return
		}
		srvErr <- nil
	}()

	// expired QR images have no further use once the intent is terminal;
	// delete anything older than the intent lifetime plus slack
	if localStorage != nil {
		maxAge := time.Duration(cfg.Payment.ExpiryMinutes)*time.Minute + 24*time.Hour
		go func() {
			ticker := time.NewTicker(time.Hour)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if err := localStorage.CleanupOlderThan(maxAge); err != nil {
						log.Printf("storage cleanup error: %v", err)
					}
				}
			}
		}()
	}

	// Listen for OS shutdown signals
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-srvErr:
		if err != nil {
			log.Fatalf("HTTP server error: %v", err)
		}
	case sig := <-stop:
		log.Printf("Shutdown signal received: %v", sig)

		// Give server up to 10 seconds to finish ongoing requests
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server Shutdown error: %v", err)
		}

		// Cancel top-level context so background services (websocket hub,
		// expiry sweep) stop
		cancel()

		postgres.Close(db)
		redisClient.Close()

		log.Println("Shutdown complete")
	}
}

func mustInitPostgres(cfg config.PostgresConfig) *sql.DB {
	db, err := postgres.NewPostgresConnection(postgres.ConnectionInfo{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Username: cfg.User,
		DBName:   cfg.DBName,
		SSLMode:  cfg.SSLMode,
		Password: cfg.Password,
	})
	if err != nil {
		log.Fatalf("postgres init error: %v", err)
	}
	return db
}

func mustInitRedis(cfg config.RedisConfig) *clients.RedisClient {
	client, err := clients.NewRedisClient(clients.RedisConfig{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		MaxRetries:  cfg.MaxRetries,
		DialTimeout: time.Duration(cfg.DialTimeout) * time.Second,
		Timeout:     time.Duration(cfg.Timeout) * time.Second,
		Prefix:      cfg.Prefix,
	})
	if err != nil {
		log.Fatalf("redis init error: %v", err)
	}
	return client
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")

			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
