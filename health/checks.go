package health

import (
	"context"
	"fmt"

	"github.com/fieldsafe/riskreactor/natsclient"
	"github.com/fieldsafe/riskreactor/reactorqueue"
)

// queueDegradedDepth is the pending-job count past which the queue is
// reported degraded rather than healthy.
const queueDegradedDepth = 10_000

// QueueCheck probes the reactor queue's depth.
func QueueCheck(queue reactorqueue.Queue) Check {
	return func(ctx context.Context) Status {
		depth, err := queue.Len(ctx)
		if err != nil {
			return NewUnhealthy("queue", err.Error())
		}
		metrics := &Metrics{QueueDepth: depth}
		if depth > queueDegradedDepth {
			return NewDegraded("queue", fmt.Sprintf("backlog of %d jobs", depth)).WithMetrics(metrics)
		}
		return NewHealthy("queue", "ok").WithMetrics(metrics)
	}
}

// BusCheck reports the NATS connection state. A reconnecting client is
// degraded, not unhealthy, since the bus library recovers on its own.
func BusCheck(client *natsclient.Client) Check {
	return func(context.Context) Status {
		s := client.GetStatus()
		switch s.Status {
		case natsclient.StatusConnected:
			return NewHealthy("bus", "connected")
		case natsclient.StatusConnecting:
			return NewDegraded("bus", "connecting")
		default:
			return NewUnhealthy("bus", fmt.Sprintf("bus %s after %d failures", s.Status, s.Failures))
		}
	}
}

// PingCheck wraps any ping-style probe, such as pgxpool.Pool.Ping or
// redis.Client.Ping.
func PingCheck(name string, ping func(ctx context.Context) error) Check {
	return func(ctx context.Context) Status {
		return FromError(name, ping(ctx))
	}
}
