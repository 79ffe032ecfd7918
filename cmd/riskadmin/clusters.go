package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fieldsafe/riskreactor/clustering"
)

const clusterOpTimeout = 5 * time.Minute

type clusterFlags struct {
	postgresURL string
	tenant      string
}

func (f *clusterFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.postgresURL, "postgres-url",
		os.Getenv("RISKREACTOR_POSTGRES_URL"), "Postgres URL (env: RISKREACTOR_POSTGRES_URL)")
	fs.StringVar(&f.tenant, "tenant", "", "Tenant id (required)")
}

func (f *clusterFlags) engine(ctx context.Context, log *slog.Logger) (*clustering.Engine, uuid.UUID, func(), error) {
	if f.postgresURL == "" {
		return nil, uuid.Nil, nil, fmt.Errorf("postgres-url is required")
	}
	tenant, err := uuid.Parse(f.tenant)
	if err != nil || tenant == uuid.Nil {
		return nil, uuid.Nil, nil, fmt.Errorf("invalid tenant %q", f.tenant)
	}
	pool, err := pgxpool.New(ctx, f.postgresURL)
	if err != nil {
		return nil, uuid.Nil, nil, fmt.Errorf("open postgres pool: %w", err)
	}
	engine := clustering.NewEngine(clustering.NewPostgres(pool), log)
	return engine, tenant, pool.Close, nil
}

func cmdRecreateClusters(args []string, log *slog.Logger) (int, error) {
	fs := flag.NewFlagSet("recreate-clusters", flag.ContinueOnError)
	var cf clusterFlags
	cf.register(fs)
	if err := fs.Parse(args); err != nil {
		return exitValidation, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), clusterOpTimeout)
	defer cancel()
	engine, tenant, cleanup, err := cf.engine(ctx, log)
	if err != nil {
		return exitValidation, err
	}
	defer cleanup()

	if err := engine.Recreate(ctx, tenant); err != nil {
		return exitValidation, err
	}
	log.Info("pyramid recreated", "tenant", tenant)
	return exitOK, nil
}

func cmdCheckClusters(args []string, log *slog.Logger) (int, error) {
	fs := flag.NewFlagSet("check-clusters", flag.ContinueOnError)
	var cf clusterFlags
	emptyOnly := fs.Bool("empty-only", false, "Only scan for empty clusters")
	upToZoom := fs.Int("up-to-zoom", clustering.ZMax, "Deepest zoom level the empty-cluster scan covers")
	cf.register(fs)
	if err := fs.Parse(args); err != nil {
		return exitValidation, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), clusterOpTimeout)
	defer cancel()
	engine, tenant, cleanup, err := cf.engine(ctx, log)
	if err != nil {
		return exitValidation, err
	}
	defer cleanup()

	var report clustering.Report
	if *emptyOnly {
		report, err = engine.CheckEmpty(ctx, tenant, *upToZoom)
	} else {
		report, err = engine.CheckClusters(ctx, tenant)
	}
	if err != nil {
		return exitValidation, err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return exitValidation, err
	}
	if !report.Clean() {
		return exitValidation, nil
	}
	return exitOK, nil
}

func cmdUpdateCentroids(args []string, log *slog.Logger) (int, error) {
	fs := flag.NewFlagSet("update-centroids", flag.ContinueOnError)
	var cf clusterFlags
	cf.register(fs)
	if err := fs.Parse(args); err != nil {
		return exitValidation, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), clusterOpTimeout)
	defer cancel()
	engine, tenant, cleanup, err := cf.engine(ctx, log)
	if err != nil {
		return exitValidation, err
	}
	defer cleanup()

	if err := engine.UpdateCentroids(ctx, tenant); err != nil {
		return exitValidation, err
	}
	log.Info("centroids updated", "tenant", tenant)
	return exitOK, nil
}
