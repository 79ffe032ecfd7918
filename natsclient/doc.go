// Package natsclient wraps a core NATS connection with a circuit
// breaker, health monitoring, and graceful drain. Repeated connection
// failures open the circuit and back off exponentially instead of
// hammering the server; a successful connection resets it.
package natsclient
