package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/adscope-lab/adscope/internal/cache"
	"github.com/adscope-lab/adscope/internal/config"
	"github.com/adscope-lab/adscope/internal/dashboard"
	"github.com/adscope-lab/adscope/internal/server"
	"github.com/adscope-lab/adscope/internal/store"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

func main() {
	configPath := flag.String("config", "adscope.yaml", "Path to configuration file")
	flag.Parse()

	// 0. Initialize Logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// 1. Load Configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	slog.Info("Loaded config",
		"table", cfg.Store.Table,
		"bucket", cfg.Bucket.Name,
		"addr", fmtAddr(cfg.Server.Host, cfg.Server.Port),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Initialize the key-value store client
	storeClient, err := newStoreClient(ctx, cfg.Store)
	if err != nil {
		slog.Error("Failed to initialize store client", "error", err)
		os.Exit(1)
	}

	// 3. Initialize the object store bucket
	bucket, err := store.NewBucket(store.BucketOptions{
		Endpoint:        cfg.Bucket.Endpoint,
		AccessKeyID:     cfg.Bucket.AccessKeyID,
		SecretAccessKey: cfg.Bucket.SecretAccessKey,
		UseSSL:          cfg.Bucket.UseSSL,
		Region:          cfg.Bucket.Region,
		Name:            cfg.Bucket.Name,
	})
	if err != nil {
		slog.Error("Failed to initialize object store", "error", err)
		os.Exit(1)
	}

	// 4. Initialize the dashboard service
	pager := store.NewPager(storeClient, cfg.Store.MaxPages)
	svc := dashboard.NewService(pager, storeClient, bucket, cache.New(), dashboard.Options{
		Table:            cfg.Store.Table,
		DeviceTimeIndex:  cfg.Store.DeviceTimeIndex,
		AdFilenameIndex:  cfg.Store.AdFilenameIndex,
		ReservedPrefix:   cfg.Bucket.ReservedPrefix,
		ScreenshotPrefix: cfg.Bucket.ScreenshotPrefix,
		PresignTTL:       cfg.Bucket.PresignTTLDuration(),
		DeviceTTL:        cfg.Cache.DeviceTTLDuration(),
		AggregateTTL:     cfg.Cache.AggregateTTLDuration(),
	})

	// 5. Initialize Server
	srv := server.New(fmtAddr(cfg.Server.Host, cfg.Server.Port), cfg.Server.Mode, map[string]server.HealthChecker{
		"store":  storeClient,
		"bucket": bucket,
	})
	svc.RegisterRoutes(srv.Engine)

	// Signal handler → triggers the shutdown sequence below.
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		slog.Info("Signal received, shutting down...")
		cancel()
	}()

	// HTTP server blocks until ctx is cancelled.
	if err := srv.Run(ctx); err != nil {
		slog.Error("Server stopped with error", "error", err)
	}

	slog.Info("Shutdown complete")
}

func newStoreClient(ctx context.Context, cfg config.StoreConfig) (*store.Client, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	api := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return store.NewClient(api, store.ClientOptions{
		QueryTimeout:  cfg.QueryTimeoutDuration(),
		RetryAttempts: cfg.RetryAttempts,
		RetryBackoff:  cfg.RetryBackoffDuration(),
	}), nil
}

func fmtAddr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
