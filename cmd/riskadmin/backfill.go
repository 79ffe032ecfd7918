package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/fieldsafe/riskreactor/catalog"
	"github.com/fieldsafe/riskreactor/configstore"
	"github.com/fieldsafe/riskreactor/metricstore"
	"github.com/fieldsafe/riskreactor/reactor"
	"github.com/fieldsafe/riskreactor/reactorqueue"
	"github.com/fieldsafe/riskreactor/riskmodel"
	"github.com/fieldsafe/riskreactor/sitecondition"
	"github.com/fieldsafe/riskreactor/trigger"
)

const backfillTimeout = 30 * time.Minute

// cmdBackfillMetrics expands one synthetic trigger into recompute jobs.
// With -drain the jobs are processed in this process; otherwise they
// land on the shared Redis queue for the running reactor to pick up.
func cmdBackfillMetrics(args []string, log *slog.Logger) (int, error) {
	fs := flag.NewFlagSet("backfill-metrics", flag.ContinueOnError)
	postgresURL := fs.String("postgres-url",
		os.Getenv("RISKREACTOR_POSTGRES_URL"), "Postgres URL (env: RISKREACTOR_POSTGRES_URL)")
	redisURL := fs.String("redis-url",
		os.Getenv("RISKREACTOR_REDIS_URL"), "Redis URL (env: RISKREACTOR_REDIS_URL)")
	trgType := fs.String("type", "", "Trigger type, e.g. PROJECT_CHANGED (required)")
	tenantStr := fs.String("tenant", "", "Tenant id (empty for library-scoped triggers)")
	entityStr := fs.String("entity", "", "Entity id (required)")
	dateStr := fs.String("date", "", "Single date YYYY-MM-DD")
	fromStr := fs.String("from", "", "Range start YYYY-MM-DD (with -to, one trigger per day)")
	toStr := fs.String("to", "", "Range end YYYY-MM-DD inclusive")
	horizonDays := fs.Int("horizon-days", 14, "Recompute horizon for location metrics")
	drain := fs.Bool("drain", false, "Process the expanded jobs here instead of leaving them queued")
	workers := fs.Int("workers", 4, "Worker count when draining")
	if err := fs.Parse(args); err != nil {
		return exitValidation, err
	}

	trg, err := parseTrigger(*trgType, *tenantStr, *entityStr, *dateStr)
	if err != nil {
		return exitValidation, err
	}
	dates, err := backfillDates(trg.Date, *fromStr, *toStr)
	if err != nil {
		return exitValidation, err
	}
	if *postgresURL == "" {
		return exitValidation, fmt.Errorf("postgres-url is required")
	}
	if *redisURL == "" && !*drain {
		return exitValidation, fmt.Errorf("redis-url is required unless -drain is set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), backfillTimeout)
	defer cancel()

	pool, err := pgxpool.New(ctx, *postgresURL)
	if err != nil {
		return exitValidation, fmt.Errorf("open postgres pool: %w", err)
	}
	defer pool.Close()

	var queue reactorqueue.Queue = reactorqueue.NewMemory()
	if *redisURL != "" {
		opt, err := redis.ParseURL(*redisURL)
		if err != nil {
			return exitValidation, fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(opt)
		defer client.Close()
		queue = reactorqueue.NewRedis(client)
	}

	env := &catalog.Env{
		Metrics:    metricstore.NewPostgres(pool),
		Source:     catalog.NewPostgresSource(pool),
		Configs:    configstore.NewLoader(configstore.NewPostgres(pool)),
		Conditions: sitecondition.NewEvaluator(),
	}

	expander := trigger.NewExpander(env, *horizonDays)
	notifier := trigger.NewNotifier(expander, queue, log)
	if len(dates) == 0 {
		if err := notifier.Notify(ctx, trg); err != nil {
			return exitValidation, err
		}
	}
	for _, d := range dates {
		trg.Date = d
		if err := notifier.Notify(ctx, trg); err != nil {
			return exitValidation, err
		}
	}
	queued, err := queue.Len(ctx)
	if err != nil {
		return exitValidation, err
	}
	log.Info("trigger expanded", "type", trg.Type, "pending", queued)

	if !*drain {
		return exitOK, nil
	}

	cat, err := catalog.New()
	if err != nil {
		return exitValidation, err
	}
	rx := reactor.New(queue, cat, env, reactor.Config{Workers: *workers}, log)
	if err := rx.Drain(ctx); err != nil {
		return exitValidation, err
	}
	for _, d := range rx.Drops().Recent() {
		log.Warn("job dropped during drain", "type", d.Job.Type, "key", d.Job.Key, "detail", d.Detail)
	}
	log.Info("backfill drained", "processed", queued)
	return exitOK, nil
}

// backfillDates resolves the optional -from/-to range. A single -date
// already rides on the trigger itself, so both forms together are
// rejected.
func backfillDates(single riskmodel.Date, from, to string) ([]riskmodel.Date, error) {
	if from == "" && to == "" {
		return nil, nil
	}
	if from == "" || to == "" {
		return nil, fmt.Errorf("from and to must be set together")
	}
	if !single.IsZero() {
		return nil, fmt.Errorf("date cannot be combined with from/to")
	}
	start, err := riskmodel.ParseDate(from)
	if err != nil {
		return nil, err
	}
	end, err := riskmodel.ParseDate(to)
	if err != nil {
		return nil, err
	}
	dates := riskmodel.DateRange(start, end)
	if len(dates) == 0 {
		return nil, fmt.Errorf("empty date range %s..%s", from, to)
	}
	return dates, nil
}

func parseTrigger(typ, tenant, entity, date string) (trigger.Trigger, error) {
	trg := trigger.Trigger{Type: trigger.Type(typ)}
	if entity == "" {
		return trigger.Trigger{}, fmt.Errorf("entity is required")
	}
	id, err := uuid.Parse(entity)
	if err != nil {
		return trigger.Trigger{}, fmt.Errorf("invalid entity %q", entity)
	}
	trg.Entity = id
	if tenant != "" {
		if trg.Tenant, err = uuid.Parse(tenant); err != nil {
			return trigger.Trigger{}, fmt.Errorf("invalid tenant %q", tenant)
		}
	}
	if date != "" {
		if trg.Date, err = riskmodel.ParseDate(date); err != nil {
			return trigger.Trigger{}, err
		}
	}
	if err := trg.Validate(); err != nil {
		return trigger.Trigger{}, err
	}
	return trg, nil
}
