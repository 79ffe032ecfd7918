// Package opsfeed streams reactor alerts to operator dashboards over
// WebSocket. The feed is an alert sink: the reactor publishes into it
// and every connected client receives the alert as a typed envelope.
// Delivery is at-most-once; a client that cannot keep up is dropped
// rather than allowed to stall the broadcast loop.
package opsfeed
