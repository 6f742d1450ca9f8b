package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/embedding"
	"github.com/kozaktomas/face-attendance/internal/media"
	"github.com/kozaktomas/face-attendance/internal/storage"
)

// app holds the services every command builds on.
type app struct {
	holder   *config.Holder
	storage  *storage.Manager
	store    database.VectorStore
	client   *embedding.Client
	resolver *attendance.Resolver
	registry *attendance.Registry
}

// openApp loads the configuration and opens the vector store. adjust, when
// set, may override settings for this process before anything is built.
func openApp(ctx context.Context, adjust func(*config.Config)) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if adjust != nil {
		adjust(cfg)
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid settings: %w", err)
		}
	}

	paths, err := storage.New(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("prepare storage: %w", err)
	}

	dbCfg := cfg.Database
	if dbCfg.Path == "" {
		if dbCfg.Path, err = paths.Dir(storage.CategoryVectorDB); err != nil {
			return nil, err
		}
	}
	store, err := database.Open(ctx, dbCfg)
	if err != nil {
		return nil, err
	}
	slog.Debug("vector store opened", "driver", dbCfg.Driver)

	holder := config.NewHolder(cfg, configPath)
	client := embedding.NewClient(cfg.Embedding.URL, cfg.Embedding.Timeout)
	extractor := embedding.NewFailSoft(client)
	extractor.Dim = cfg.Embedding.Dim

	return &app{
		holder:  holder,
		storage: paths,
		store:   store,
		client:  client,
		resolver: &attendance.Resolver{
			Store:         store,
			Extractor:     extractor,
			Frames:        media.NewFFmpeg(cfg.Video.FFmpegPath, cfg.Video.FFprobePath, cfg.Embedding.MaxFrameWidth),
			Paths:         paths,
			Config:        holder,
			MaxFrameWidth: cfg.Embedding.MaxFrameWidth,
		},
		registry: &attendance.Registry{
			Store:     store,
			Extractor: extractor,
			Paths:     paths,
			Config:    holder,
			BatchSize: cfg.Database.BatchSize,
		},
	}, nil
}

// Close persists on-disk indexes and closes the store.
func (a *app) Close() error {
	var errs []error
	if saver, ok := a.store.(database.Saver); ok {
		if err := saver.Save(); err != nil {
			errs = append(errs, fmt.Errorf("save index: %w", err))
		}
	}
	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	return errors.Join(errs...)
}
