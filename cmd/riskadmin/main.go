// Package main implements riskadmin, the operational CLI for the risk
// reactor: cluster pyramid repair and diagnostics, queue recovery,
// metric backfill, and metric explanation.
//
// Exit codes: 0 on success, 1 on a validation failure (bad flags,
// unknown command, invariant violations found), 2 on a transient
// infrastructure error.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/fieldsafe/riskreactor/errors"
)

const appName = "riskadmin"

// Exit codes.
const (
	exitOK         = 0
	exitValidation = 1
	exitInfra      = 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		usage()
		return exitValidation
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cmd, rest := args[0], args[1:]
	var (
		code int
		err  error
	)
	switch cmd {
	case "recreate-clusters":
		code, err = cmdRecreateClusters(rest, logger)
	case "check-clusters":
		code, err = cmdCheckClusters(rest, logger)
	case "update-centroids":
		code, err = cmdUpdateCentroids(rest, logger)
	case "rebuild-queue":
		code, err = cmdRebuildQueue(rest, logger)
	case "backfill-metrics":
		code, err = cmdBackfillMetrics(rest, logger)
	case "explain":
		code, err = cmdExplain(rest, logger)
	case "help", "-h", "--help":
		usage()
		return exitOK
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		usage()
		return exitValidation
	}
	if err != nil {
		logger.Error("command failed", "command", cmd, "error", err)
		if errors.IsTransient(err) {
			return exitInfra
		}
		return exitValidation
	}
	return code
}

func usage() {
	fmt.Fprintf(os.Stderr, `%s - risk reactor operations

Usage: %s <command> [options]

Commands:
  recreate-clusters  Rebuild a tenant's cluster pyramid from live locations
  check-clusters     Verify pyramid invariants and report violations
  update-centroids   Recompute every cluster centroid for a tenant
  rebuild-queue      Return stuck in-flight jobs to the pending queue
  backfill-metrics   Expand a trigger into jobs and optionally drain them
  explain            Show a metric's latest value and dependency state

Run '%s <command> -h' for command options.
`, appName, os.Args[0], os.Args[0])
}
