package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/diewoo/doctor-capybara-sub000/internal/config"
	"github.com/diewoo/doctor-capybara-sub000/internal/db/postgres"
	"github.com/diewoo/doctor-capybara-sub000/internal/domain"
	"github.com/diewoo/doctor-capybara-sub000/internal/embedding"
	"github.com/diewoo/doctor-capybara-sub000/internal/ingest"
	logpkg "github.com/diewoo/doctor-capybara-sub000/internal/logger"
	docsrepo "github.com/diewoo/doctor-capybara-sub000/internal/repository/docs"
	openaiTransport "github.com/diewoo/doctor-capybara-sub000/internal/transport/openai"
)

func main() {
	var (
		file      = flag.String("file", "", "path to NDJSON file with documents")
		batchSize = flag.Int("batch-size", 50, "documents per upsert batch")
		dryRun    = flag.Bool("dry-run", false, "parse and embed without writing to the database")
	)
	flag.Parse()

	_ = godotenv.Load()

	env := config.GetEnv()
	cfg := config.MustLoad(env)

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	if *file == "" {
		logger.Fatal("missing -file flag")
	}
	if cfg.Database.URL == "" {
		logger.Fatal("database.url is required for ingest")
	}

	f, err := os.Open(*file)
	if err != nil {
		logger.Fatal("open input file", zap.Error(err))
	}
	defer f.Close()

	docs, stats, err := ingest.ReadAll(f, logger)
	if err != nil {
		logger.Fatal("read input file", zap.Error(err))
	}
	logger.Info("Parsed input",
		zap.Int("records", stats.Read),
		zap.Int("skipped", stats.Skipped),
		zap.Int("documents", len(docs)),
	)
	if len(docs) == 0 {
		logger.Warn("Nothing to ingest")
		return
	}

	ctx := context.Background()

	pool, err := postgres.New(ctx, postgres.Config{
		URL:      cfg.Database.URL,
		MaxConns: cfg.Database.MaxConns,
	})
	if err != nil {
		logger.Fatal("create database pool", zap.Error(err))
	}
	defer pool.Close()

	readiness := time.Duration(cfg.Database.ReadinessTimeout) * time.Second
	if err := pool.WaitForReady(ctx, readiness); err != nil {
		logger.Fatal("database not ready", zap.Error(err))
	}

	if err := pool.EnsureSchema(ctx, cfg.Embedding.Dimensions); err != nil {
		logger.Fatal("ensure schema", zap.Error(err))
	}

	embedder := embedding.NewProvider(func() (domain.Embedder, error) {
		return openaiTransport.NewEmbedder(&openaiTransport.EmbedderConfig{
			APIKey:     cfg.Embedding.APIKey,
			BaseURL:    cfg.Embedding.BaseURL,
			Model:      cfg.Embedding.Model,
			Dimensions: cfg.Embedding.Dimensions,
			Provider:   "gemini",
			Logger:     logger,
		}), nil
	}, cfg.Embedding.Dimensions, logger)
	defer embedder.Close()

	repo := docsrepo.New(pool)

	embedded, failed := 0, 0
	for start := 0; start < len(docs); start += *batchSize {
		end := start + *batchSize
		if end > len(docs) {
			end = len(docs)
		}
		batch := docs[start:end]

		out := batch[:0]
		for i := range batch {
			res, err := embedder.Embed(ctx, batch[i].Text)
			if err != nil {
				failed++
				logger.Warn("embed failed, skipping document",
					zap.String("id", batch[i].ID), zap.Error(err))
				continue
			}
			batch[i].Embedding = res.Embedding
			out = append(out, batch[i])
			embedded++
		}

		if *dryRun || len(out) == 0 {
			logger.Info("Batch processed",
				zap.Int("from", start), zap.Int("to", end), zap.Bool("dry_run", *dryRun))
			continue
		}

		if err := repo.UpsertBatch(ctx, out); err != nil {
			logger.Fatal("upsert batch", zap.Error(err))
		}
		logger.Info("Batch upserted", zap.Int("from", start), zap.Int("to", end))
	}

	total, err := repo.Count(ctx)
	if err != nil {
		logger.Warn("count documents", zap.Error(err))
	}

	logger.Info("Ingest finished",
		zap.Int("embedded", embedded),
		zap.Int("failed", failed),
		zap.Bool("dry_run", *dryRun),
		zap.Int64("total_in_store", total),
	)
}
