package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"room-reserve/internal/config"
	apphttp "room-reserve/internal/http"
	"room-reserve/internal/receipt"
	"room-reserve/internal/repository/sqlite"
	"room-reserve/internal/service"
	"room-reserve/internal/storage"
	"room-reserve/internal/sweeper"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	if strings.TrimSpace(cfg.Auth.SessionSecret) == "" {
		logger.Fatalf("auth session secret is required")
	}
	if strings.TrimSpace(cfg.Auth.AdminPassword) == "" {
		logger.Fatalf("auth admin password is required")
	}

	location, err := time.LoadLocation(cfg.Sweep.Timezone)
	if err != nil {
		logger.Fatalf("load timezone %q: %v", cfg.Sweep.Timezone, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		logger.Fatalf("open database: %v", err)
	}
	defer db.Close()

	userRepo := sqlite.NewUserRepository(db)
	reservationRepo := sqlite.NewReservationRepository(db)

	if err := userRepo.Init(ctx); err != nil {
		logger.Fatalf("init user repository: %v", err)
	}
	if err := reservationRepo.Init(ctx); err != nil {
		logger.Fatalf("init reservation repository: %v", err)
	}

	userService := service.NewUserService(userRepo)
	created, err := userService.SeedAdmin(ctx, cfg.Auth.AdminUsername, cfg.Auth.AdminPassword)
	if err != nil {
		logger.Fatalf("seed admin: %v", err)
	}
	if created {
		logger.Infof("default admin user %q created", cfg.Auth.AdminUsername)
	}

	var storageSvc storage.Service
	receiptOpts := []receipt.Option{}
	if cfg.Storage.Bucket != "" {
		storageSvc, err = buildStorage(ctx, cfg, logger)
		if err != nil {
			logger.Fatalf("setup storage: %v", err)
		}
		receiptOpts = append(receiptOpts, receipt.WithMirror(storageSvc, storage.UploadOptions{
			Bucket:    cfg.Storage.Bucket,
			KeyPrefix: cfg.Storage.KeyPrefix,
		}))
	}
	receipts := receipt.NewGenerator(cfg.Receipts.Dir, logger, receiptOpts...)

	reservationService := service.NewReservationService(reservationRepo, receipts, location)

	sweep := sweeper.New(
		reservationService,
		time.Duration(cfg.Sweep.IntervalSeconds)*time.Second,
		location,
		logger,
	)
	sweep.Start(ctx)
	logger.Infof("expiry sweeper started (every %ds, zone %s)", cfg.Sweep.IntervalSeconds, cfg.Sweep.Timezone)

	sessions := apphttp.NewSessionManager(
		cfg.Auth.SessionSecret,
		time.Duration(cfg.Auth.SessionTTLMinutes)*time.Minute,
	)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	handler := apphttp.NewHandler(
		userService,
		reservationService,
		sessions,
		storageSvc,
		cfg.Storage.Bucket,
		cfg.Receipts.Dir,
		cfg.Receipts.BaseURL,
		"web/static",
	)
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
	}

	go func() {
		logger.Infof("listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}
	sweep.Stop()

	logger.Info("bye")
}

func buildStorage(ctx context.Context, cfg config.Config, logger *logrus.Logger) (storage.Service, error) {
	loadOpts := []func(*awscfg.LoadOptions) error{
		awscfg.WithRegion(cfg.Storage.Region),
	}
	if cfg.AWS.Profile != "" {
		loadOpts = append(loadOpts, awscfg.WithSharedConfigProfile(cfg.AWS.Profile))
	}

	awsCfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Storage.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.Endpoint)
			o.UsePathStyle = true
		}
	})
	logger.Infof("mirroring receipts to s3 bucket %s (region %s)", cfg.Storage.Bucket, cfg.Storage.Region)
	return storage.NewS3Service(client), nil
}
