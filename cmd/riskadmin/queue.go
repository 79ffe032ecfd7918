package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fieldsafe/riskreactor/reactorqueue"
)

func cmdRebuildQueue(args []string, log *slog.Logger) (int, error) {
	fs := flag.NewFlagSet("rebuild-queue", flag.ContinueOnError)
	redisURL := fs.String("redis-url",
		os.Getenv("RISKREACTOR_REDIS_URL"), "Redis URL (env: RISKREACTOR_REDIS_URL)")
	olderThan := fs.Duration("older-than", 5*time.Minute,
		"Requeue in-flight jobs fetched longer ago than this")
	if err := fs.Parse(args); err != nil {
		return exitValidation, err
	}
	if *redisURL == "" {
		return exitValidation, fmt.Errorf("redis-url is required")
	}

	opt, err := redis.ParseURL(*redisURL)
	if err != nil {
		return exitValidation, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	queue := reactorqueue.NewRedis(client)
	moved, err := queue.RequeueInFlight(ctx, *olderThan)
	if err != nil {
		return exitValidation, err
	}
	depth, err := queue.Len(ctx)
	if err != nil {
		return exitValidation, err
	}
	log.Info("queue rebuilt", "requeued", moved, "pending", depth)
	return exitOK, nil
}
