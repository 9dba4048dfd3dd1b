package main

import (
	"context"
	"flag"
	"math/rand"
	"time"

	"github.com/dustin/go-humanize"

	chclient "costtrend/internal/adapters/clickhouse"
	"costtrend/internal/adapters/config"
	pgclient "costtrend/internal/adapters/postgres"
	chrepo "costtrend/internal/repository/clickhouse"
	pgrepo "costtrend/internal/repository/postgres"
	"costtrend/pkg/logger"
)

func main() {
	months := flag.Int("months", 6, "Months of daily consumption history to generate")
	growth := flag.Float64("growth", 5, "Monthly spend growth in percent")
	jitter := flag.Float64("jitter", 10, "Daily cost noise in percent")
	seed := flag.Int64("seed", 42, "Random seed for reproducible datasets")
	dryRun := flag.Bool("dry-run", false, "Build the dataset without writing it")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	if err := logger.Init(cfg.App.LogLevel, cfg.App.Env); err != nil {
		panic("failed to init logger: " + err.Error())
	}
	defer logger.Sync()

	log := logger.Get()

	ds := buildDataset(time.Now().UTC(), *months, *growth, *jitter, rand.New(rand.NewSource(*seed)))

	total := 0.0
	for _, r := range ds.records {
		total += r.Cost()
	}
	log.Infow("Dataset generated",
		"months", *months,
		"budgets", len(ds.budgets),
		"resources", len(fleet),
		"records", humanize.Comma(int64(len(ds.records))),
		"total_cost", "$"+humanize.CommafWithDigits(total, 2),
	)

	if *dryRun {
		log.Info("✅ Dry-run mode: nothing written")
		return
	}

	ctx := context.Background()

	pg, err := pgclient.NewClient(ctx, cfg.Postgres)
	if err != nil {
		log.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}
	defer pg.Close()

	ch, err := chclient.NewClient(ctx, cfg.ClickHouse)
	if err != nil {
		log.Fatalf("Failed to connect to ClickHouse: %v", err)
	}
	defer ch.Close()

	if err := seedPostgres(ctx, pg, ds); err != nil {
		log.Fatalf("Failed to seed PostgreSQL: %v", err)
	}
	log.Info("✅ Budgets and inventory seeded")

	if err := seedClickHouse(ctx, ch, cfg.Upstream.PageSize, ds, log); err != nil {
		log.Fatalf("Failed to seed ClickHouse: %v", err)
	}
	log.Infow("✅ Consumption seeded", "records", humanize.Comma(int64(len(ds.records))))
}

func seedPostgres(ctx context.Context, pg *pgclient.Client, ds *dataset) error {
	if err := pgrepo.EnsureSchema(ctx, pg.DB()); err != nil {
		return err
	}

	budgets := pgrepo.NewBudgetRepository(pg.DB())
	for _, b := range ds.budgets {
		if err := budgets.Create(ctx, b); err != nil {
			return err
		}
	}

	inventory := pgrepo.NewEstimateRepository(pg.DB())
	for _, p := range ds.prices {
		if err := inventory.UpsertCatalogPrice(ctx, p); err != nil {
			return err
		}
	}
	for i := range fleet {
		if err := inventory.UpsertResource(ctx, &fleet[i].resource); err != nil {
			return err
		}
	}
	return nil
}

func seedClickHouse(ctx context.Context, ch *chclient.Client, pageSize int, ds *dataset, log *logger.Logger) error {
	repo := chrepo.NewConsumptionRepository(ch.Conn(), pageSize, log)
	if err := repo.EnsureSchema(ctx); err != nil {
		return err
	}

	repo.Start(ctx)
	if err := repo.Store(ctx, ds.records...); err != nil {
		return err
	}
	return repo.Stop(ctx)
}
