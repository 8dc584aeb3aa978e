package main

import (
	"context"
	"fmt"

	"reelsmith/internal/artifact"
	"reelsmith/internal/assembly"
	"reelsmith/internal/codec"
	"reelsmith/internal/config"
	"reelsmith/internal/fetch"
	"reelsmith/internal/ledger"
	"reelsmith/internal/upload"
	"reelsmith/internal/workspace"
)

type components struct {
	workspaces *workspace.Manager
	fetcher    *fetch.Fetcher
	assembler  *assembly.Assembler
	publisher  *upload.Publisher
	ledger     ledger.Store
}

func buildComponents(ctx context.Context, cfg config.Config) (*components, error) {
	workspaces, err := workspace.New(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	fetcher := fetch.New(cfg.DownloadTimeout)

	opts := assembly.Options{
		Workspaces: workspaces,
		Fetcher:    fetcher,
		Encoder: codec.New(codec.Options{
			FFmpegPath:    cfg.FFmpegPath,
			MaxConcurrent: cfg.MaxConcurrentEncodes,
			Timeout:       cfg.EncodeTimeout,
		}),
		Parallelism: cfg.ItemParallelism,
	}
	mirror, err := artifact.NewS3Mirror(ctx, cfg.Mirror)
	if err != nil {
		return nil, fmt.Errorf("mirror: %w", err)
	}
	if mirror != nil {
		opts.Mirror = mirror
	}

	return &components{
		workspaces: workspaces,
		fetcher:    fetcher,
		assembler:  assembly.New(opts),
		publisher:  newPublisher(cfg, workspaces, fetcher),
		ledger:     newLedger(cfg.Ledger),
	}, nil
}

func newPublisher(cfg config.Config, workspaces *workspace.Manager, fetcher *fetch.Fetcher) *upload.Publisher {
	client := upload.NewClient(upload.ClientOptions{
		Endpoint:        cfg.Upload.Endpoint,
		InitTimeout:     cfg.Upload.InitTimeout,
		TransferTimeout: cfg.Upload.TransferTimeout,
	})
	return upload.NewPublisher(workspaces, fetcher, client, cfg.Upload.PrivacyStatus)
}

func newLedger(cfg config.LedgerConfig) ledger.Store {
	if cfg.Backend == config.LedgerBackendRedis {
		return ledger.NewRedisStore(ledger.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
		})
	}
	return ledger.NewFileStore(cfg.Path)
}
