//	@title			Gallery API
//	@version		1.0
//	@description	Browse, upload and delete images kept in an object-storage bucket, one at a time.
//
//	@host		localhost:8080
//	@BasePath	/api/v1
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				Session JWT from POST /sessions. Format: **Bearer {token}**

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/logger"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/radif/gallery/internal/config"
	"github.com/radif/gallery/internal/db"
	"github.com/radif/gallery/internal/gallery"
	appMiddleware "github.com/radif/gallery/internal/middleware"
	"github.com/radif/gallery/internal/session"
	"github.com/radif/gallery/internal/storage"

	_ "github.com/radif/gallery/docs/swagger"
)

func main() {
	defer logger.Init("gallery", true, false, io.Discard).Close()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("config: %v", err)
	}
	if cfg.IsProduction() && cfg.JWTSecret == config.DefaultJWTSecret {
		logger.Fatal("JWT_SECRET must be set in production")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("database connection failed: %v", err)
	}
	defer pool.Close()

	if err := db.Migrate(cfg.DatabaseURL); err != nil {
		logger.Fatalf("database migration failed: %v", err)
	}

	store, err := openStorage(ctx, cfg)
	if err != nil {
		logger.Fatalf("object storage init failed: %v", err)
	}

	// Wire dependencies: repository → service → handler
	sessionRepo := session.NewRepository(pool)
	sessionSvc := session.NewService(sessionRepo, cfg.JWTSecret, cfg.SessionTTL)
	sessionHandler := session.NewHandler(sessionSvc)

	uploadRepo := gallery.NewRepository(pool)
	gallerySvc := gallery.NewService(store, uploadRepo, gallery.Options{
		Prefix:       cfg.StoragePrefix,
		Concurrency:  cfg.RefreshConcurrency,
		RequireImage: cfg.UploadRequireImage,
	})
	galleryHandler := gallery.NewHandler(gallerySvc, cfg.UploadMaxBytes)

	go gallerySvc.RunSweeper(ctx, time.Minute, cfg.SessionIdle)
	go expireSessions(ctx, sessionSvc, cfg.SessionTTL)

	// Router
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(appMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Swagger UI at /swagger/
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/sessions", sessionHandler.Open)

		r.Route("/gallery", func(r chi.Router) {
			r.Use(appMiddleware.RequireSession(cfg.JWTSecret))
			r.Use(sessionHandler.Track)
			r.Get("/", galleryHandler.State)
			r.Post("/refresh", galleryHandler.Refresh)
			r.Post("/images", galleryHandler.Upload)
			r.Post("/next", galleryHandler.Next)
			r.Post("/previous", galleryHandler.Previous)
			r.Delete("/current", galleryHandler.DeleteCurrent)
			r.Get("/uploads", galleryHandler.Uploads)
		})
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Infof("server listening on :%s (env=%s, storage=%s)", cfg.Port, cfg.AppEnv, cfg.StorageDriver)
		logger.Infof("swagger UI at http://localhost:%s/swagger/", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("forced shutdown: %v", err)
	}

	logger.Info("server stopped")
}

func openStorage(ctx context.Context, cfg *config.Config) (storage.Storage, error) {
	switch cfg.StorageDriver {
	case config.DriverMinio:
		return storage.NewMinioStorage(ctx, storage.MinioOptions{
			Endpoint:   cfg.StorageEndpoint,
			AccessKey:  cfg.StorageAccessKey,
			SecretKey:  cfg.StorageSecretKey,
			Bucket:     cfg.StorageBucket,
			PublicBase: cfg.StoragePublicBase,
			UseSSL:     cfg.StorageUseSSL,
			URLTTL:     cfg.StorageURLTTL,
		})
	case config.DriverGCS:
		return storage.NewGCSStorage(ctx, cfg.StorageBucket, cfg.GCSCredentials, cfg.StorageURLTTL)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
}

// expireSessions drops session rows whose tokens can no longer be valid.
func expireSessions(ctx context.Context, svc *session.Service, ttl time.Duration) {
	t := time.NewTicker(time.Hour)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := svc.Expire(ctx, ttl)
			if err != nil {
				logger.Warningf("expire sessions: %v", err)
				continue
			}
			if n > 0 {
				logger.Infof("expired %d sessions", n)
			}
		}
	}
}
