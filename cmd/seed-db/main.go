package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"

	"github.com/xenking/boutique-orders/internal/domain/auth"
	"github.com/xenking/boutique-orders/internal/storage/postgres"
)

func main() {
	var (
		databaseURL  string
		catalogFile  string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&catalogFile, "catalog-file", "db/seed/catalog.yaml", "path to the catalog YAML file")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or BOUTIQUE_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("BOUTIQUE_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, catalogFile, apiKeyPepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, catalogFile, pepper string) error {
	slog.Info("reading catalog file", slog.String("path", catalogFile))

	c, err := loadCatalog(catalogFile)
	if err != nil {
		return err
	}

	slog.Info("running migrations")

	if err := postgres.RunMigrations(databaseURL); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("upserting catalog",
		slog.Int("products", len(c.Products)),
		slog.Int("variants", len(c.Variants)),
	)
	if err := postgres.NewProductRepository(pool).UpsertCatalog(ctx, c.Products, c.Variants); err != nil {
		return errors.Wrap(err, "seed catalog")
	}

	slog.Info("upserting discounts", slog.Int("count", len(c.Discounts)))
	if err := postgres.NewDiscountRepository(pool).UpsertBatch(ctx, c.Discounts); err != nil {
		return errors.Wrap(err, "seed discounts")
	}

	if err := seedAPIKeys(ctx, postgres.NewAPIKeyRepository(pool), c.APIKeys, pepper); err != nil {
		return errors.Wrap(err, "seed api keys")
	}

	return nil
}

func seedAPIKeys(ctx context.Context, repo *postgres.APIKeyRepository, keys []seedKey, pepper string) error {
	if len(keys) > 0 && pepper == "" {
		return errors.New("API key pepper is required: set --api-key-pepper or BOUTIQUE_API_KEY_PEPPER")
	}

	for _, k := range keys {
		raw := os.Getenv(k.KeyEnv)
		if raw == "" {
			slog.Warn("skipping API key without a value", slog.String("id", k.Info.ID), slog.String("env", k.KeyEnv))
			continue
		}

		info := k.Info
		info.KeyHash = auth.HashKey([]byte(pepper), raw)
		if err := repo.Upsert(ctx, &info); err != nil {
			return errors.Wrapf(err, "upsert API key %s", info.ID)
		}

		slog.Info("upserted API key", slog.String("id", info.ID), slog.Any("scopes", info.Scopes))
	}

	return nil
}
