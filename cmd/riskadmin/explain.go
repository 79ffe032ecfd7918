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

	"github.com/fieldsafe/riskreactor/catalog"
	"github.com/fieldsafe/riskreactor/configstore"
	"github.com/fieldsafe/riskreactor/metricstore"
	"github.com/fieldsafe/riskreactor/riskmodel"
	"github.com/fieldsafe/riskreactor/sitecondition"
)

const explainTimeout = time.Minute

// cmdExplain prints the latest stored value for one metric together
// with the dependency points that fed it, as indented JSON on stdout.
func cmdExplain(args []string, log *slog.Logger) (int, error) {
	fs := flag.NewFlagSet("explain", flag.ContinueOnError)
	postgresURL := fs.String("postgres-url",
		os.Getenv("RISKREACTOR_POSTGRES_URL"), "Postgres URL (env: RISKREACTOR_POSTGRES_URL)")
	typeName := fs.String("type", "", "Metric type name (required)")
	tenantStr := fs.String("tenant", "", "Tenant id")
	entityStr := fs.String("entity", "", "Entity id")
	dateStr := fs.String("date", "", "Date YYYY-MM-DD")
	if err := fs.Parse(args); err != nil {
		return exitValidation, err
	}

	m, err := riskmodel.ParseMetricType(*typeName)
	if err != nil {
		return exitValidation, err
	}
	key, err := parseKey(*tenantStr, *entityStr, *dateStr)
	if err != nil {
		return exitValidation, err
	}
	if *postgresURL == "" {
		return exitValidation, fmt.Errorf("postgres-url is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), explainTimeout)
	defer cancel()

	pool, err := pgxpool.New(ctx, *postgresURL)
	if err != nil {
		return exitValidation, fmt.Errorf("open postgres pool: %w", err)
	}
	defer pool.Close()

	store := metricstore.NewPostgres(pool)
	env := &catalog.Env{
		Metrics:    store,
		Source:     catalog.NewPostgresSource(pool),
		Configs:    configstore.NewLoader(configstore.NewPostgres(pool)),
		Conditions: sitecondition.NewEvaluator(),
	}
	cat, err := catalog.New()
	if err != nil {
		return exitValidation, err
	}

	deps, err := cat.DependencyRequests(ctx, env, m, key)
	if err != nil {
		return exitValidation, err
	}
	expl, err := metricstore.Explain(ctx, store, metricstore.Request{Type: m, Key: key}, deps)
	if err != nil {
		return exitValidation, err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(expl); err != nil {
		return exitValidation, err
	}
	if expl.Value == nil {
		log.Warn("metric has no stored value", "type", m, "key", key)
	}
	return exitOK, nil
}

func parseKey(tenant, entity, date string) (riskmodel.MetricKey, error) {
	var key riskmodel.MetricKey
	var err error
	if tenant != "" {
		if key.Tenant, err = uuid.Parse(tenant); err != nil {
			return riskmodel.MetricKey{}, fmt.Errorf("invalid tenant %q", tenant)
		}
	}
	if entity != "" {
		if key.Entity, err = uuid.Parse(entity); err != nil {
			return riskmodel.MetricKey{}, fmt.Errorf("invalid entity %q", entity)
		}
	}
	if date != "" {
		if key.Date, err = riskmodel.ParseDate(date); err != nil {
			return riskmodel.MetricKey{}, err
		}
	}
	return key, nil
}
